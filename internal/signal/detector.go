// Package signal combines the individual manipulation detectors into a single
// weighted composite signal with an action and risk grade per symbol.
package signal

import (
	"time"

	"futures-sentinel/internal/models"
)

// DetectorFunc evaluates one pattern over the cycle inputs.
type DetectorFunc func(Inputs) Result

type registeredDetector struct {
	kind models.SignalType
	fn   DetectorFunc
}

// DefaultWeights is the production weighting of the detector set.
func DefaultWeights() map[models.SignalType]float64 {
	return map[models.SignalType]float64{
		models.SignalVolumeExplosion:     0.20,
		models.SignalRSIDivergence:       0.15,
		models.SignalMomentumShift:       0.15,
		models.SignalLiquidityTrap:       0.10,
		models.SignalAccumulation:        0.10,
		models.SignalLiquidationSqueeze:  0.15,
		models.SignalFundingArbitrage:    0.10,
		models.SignalHiddenAccumulation:  0.05,
		models.SignalTimeframeDivergence: 0.10,
	}
}

// fallbackWeight applies to any detector missing from the weights table.
const fallbackWeight = 0.1

// Detector runs the registered detector set and combines the results.
type Detector struct {
	weights   map[models.SignalType]float64
	detectors []registeredDetector
}

// NewDetector builds a detector with the given weights table, falling back to
// DefaultWeights when nil.
func NewDetector(weights map[models.SignalType]float64) *Detector {
	if weights == nil {
		weights = DefaultWeights()
	}
	return &Detector{
		weights: weights,
		detectors: []registeredDetector{
			{models.SignalVolumeExplosion, DetectVolumeExplosion},
			{models.SignalRSIDivergence, DetectRSIDivergence},
			{models.SignalMomentumShift, DetectMomentumShift},
			{models.SignalLiquidityTrap, DetectLiquidityTrap},
			{models.SignalAccumulation, DetectAccumulation},
			{models.SignalLiquidationSqueeze, DetectLiquidationSqueeze},
			{models.SignalFundingArbitrage, DetectFundingArbitrage},
			{models.SignalHiddenAccumulation, DetectHiddenAccumulation},
			{models.SignalTimeframeDivergence, DetectTimeframeDivergence},
		},
	}
}

// Evaluate runs every detector and folds the triggered ones into a composite
// signal: the weighted confidence drives the action ladder, the statistical
// verdict scales it, and a triggered funding detector redirects strong
// signals toward the funding side.
func (d *Detector) Evaluate(in Inputs) models.CompositeSignal {
	sig := models.CompositeSignal{
		Symbol:    in.Snapshot.Symbol,
		Timestamp: time.Now().UTC(),
		Action:    models.ActionNeutral,
		RiskLevel: models.RiskLow,
	}

	var weighted, total float64
	fundingTriggered := false
	for _, det := range d.detectors {
		res := det.fn(in)
		if !res.Triggered || res.Confidence <= 0 {
			continue
		}
		weight, ok := d.weights[det.kind]
		if !ok {
			weight = fallbackWeight
		}
		sig.Components = append(sig.Components, models.SignalComponent{
			Type:        det.kind,
			Confidence:  res.Confidence,
			Weight:      weight,
			Description: res.Description,
		})
		weighted += res.Confidence * weight
		total += res.Confidence
		if det.kind == models.SignalFundingArbitrage {
			fundingTriggered = true
		}
	}

	n := len(sig.Components)
	avg := 0.0
	if n > 0 {
		avg = total / float64(n)
	}

	if in.Stats != nil && in.Stats.Warm {
		if in.Stats.Significant {
			weighted *= 1.3
		}
		if !in.Stats.ShouldAlert && weighted < 0.8 {
			weighted *= 0.7
		}
	}

	sig.Confidence = weighted
	sig.AvgConfidence = avg

	bullish := in.Snapshot.Price.Change5m >= 0
	switch {
	case weighted > 0.7 || (n >= 3 && avg > 0.6):
		sig.RiskLevel = models.RiskExtreme
		if fundingTriggered && in.Funding != nil && in.Funding.FavorableSide != models.PositionNone {
			if in.Funding.FavorableSide == models.PositionLong {
				sig.Action = models.ActionFundingLong
			} else {
				sig.Action = models.ActionFundingShort
			}
		} else if bullish {
			sig.Action = models.ActionStrongBuy
		} else {
			sig.Action = models.ActionStrongSell
		}
	case weighted > 0.5 || (n >= 2 && avg > 0.5):
		sig.RiskLevel = models.RiskHigh
		if bullish {
			sig.Action = models.ActionBuy
		} else {
			sig.Action = models.ActionSell
		}
	case n > 0:
		sig.RiskLevel = models.RiskMedium
		sig.Action = models.ActionWatch
	}
	return sig
}
