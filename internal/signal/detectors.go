package signal

import (
	"fmt"
	"math"

	"futures-sentinel/internal/models"
	"futures-sentinel/internal/stats"
)

// Inputs carries everything one detection pass may look at. Snapshot is
// required; the rest is nil when the corresponding feature is disabled or the
// data was unavailable this cycle.
type Inputs struct {
	Snapshot    *models.MarketSnapshot
	OrderBook   *models.OrderBookSnapshot
	Funding     *models.FundingState
	Liquidation *models.LiquidationState
	Stats       *stats.Analysis
	Divergence  *models.TimeframeDivergence
}

func (in Inputs) rsi() (float64, bool) {
	if in.Snapshot == nil || in.Snapshot.RSI14 == nil {
		return 0, false
	}
	return *in.Snapshot.RSI14, true
}

// Result is a single detector verdict. Confidence is meaningful only when
// Triggered is true and always lies in [0, 1].
type Result struct {
	Triggered   bool
	Confidence  float64
	Description string
}

func hit(confidence float64, format string, args ...interface{}) Result {
	return Result{
		Triggered:   true,
		Confidence:  math.Min(math.Max(confidence, 0), 1),
		Description: fmt.Sprintf(format, args...),
	}
}

// DetectVolumeExplosion fires on an extreme volume surge paired with a real
// price move, or on a surge sustained across both baselines.
func DetectVolumeExplosion(in Inputs) Result {
	vol := in.Snapshot.Volume
	change5m := in.Snapshot.Price.Change5m

	if vol.SpikeMagnitude > 5 && math.Abs(change5m) > 3 {
		return hit(math.Min(0.9, vol.SpikeMagnitude/10),
			"volume %.1fx baseline with %.1f%% move", vol.SpikeMagnitude, change5m)
	}
	if vol.Ratio5m > 3 && vol.Ratio60m > 1.5 {
		return hit(0.7, "sustained volume surge %.1fx short / %.1fx hourly", vol.Ratio5m, vol.Ratio60m)
	}
	return Result{}
}

// DetectRSIDivergence fires when RSI disagrees with the 5m move: oversold
// into weakness, overbought into strength, or mid-range RSI lagging a surge.
// Undefined RSI never triggers.
func DetectRSIDivergence(in Inputs) Result {
	rsi, ok := in.rsi()
	if !ok {
		return Result{}
	}
	change5m := in.Snapshot.Price.Change5m

	if rsi < 30 && change5m < -1 {
		return hit((30-rsi)/30, "oversold RSI %.1f into %.1f%% drop", rsi, change5m)
	}
	if rsi > 70 && change5m > 1 {
		return hit((rsi-70)/30, "overbought RSI %.1f into %.1f%% rally", rsi, change5m)
	}
	if rsi > 30 && rsi < 50 && change5m > 2 {
		return hit(0.6, "price surging %.1f%% while RSI lags at %.1f", change5m, rsi)
	}
	return Result{}
}

// DetectMomentumShift fires on fast accelerating moves backed by volume, or
// on a sharp V-reversal against the 5m direction.
func DetectMomentumShift(in Inputs) Result {
	change1m := in.Snapshot.Price.Change1m
	change5m := in.Snapshot.Price.Change5m
	volRatio := in.Snapshot.Volume.Ratio5m

	if math.Abs(change1m) > 1 && math.Abs(change5m) > 2 && change1m*change5m > 0 {
		accel := math.Abs(change1m) / math.Max(0.1, math.Abs(change5m-change1m))
		if accel > 2 && volRatio > 2 {
			return hit(math.Min(0.85, accel/5),
				"accelerating %.1f%%/min move on %.1fx volume", change1m, volRatio)
		}
	}
	if change1m*change5m < 0 && math.Abs(change1m) > 1 {
		return hit(0.7, "V-reversal: %.1f%% 1m against %.1f%% 5m", change1m, change5m)
	}
	return Result{}
}

// DetectLiquidityTrap fires on a wide empty book or on spoofing walls around
// a moving price. Requires order book data.
func DetectLiquidityTrap(in Inputs) Result {
	ob := in.OrderBook
	if ob == nil {
		return Result{}
	}

	if ob.SpreadBps > 50 && ob.LiquidityScore < 0.3 {
		return hit(0.8, "thin book: %.0f bps spread, liquidity %.2f", ob.SpreadBps, ob.LiquidityScore)
	}
	if ob.SpoofingScore > 0.6 && math.Abs(in.Snapshot.Price.Change5m) > 1 {
		return hit(ob.SpoofingScore, "spoofing walls (score %.2f) around a %.1f%% move",
			ob.SpoofingScore, in.Snapshot.Price.Change5m)
	}
	return Result{}
}

// DetectAccumulation fires on heavy volume without a matching price move at a
// stretched RSI, or on a one-sided book under a weak RSI. Undefined RSI never
// triggers.
func DetectAccumulation(in Inputs) Result {
	rsi, ok := in.rsi()
	if !ok {
		return Result{}
	}
	vol := in.Snapshot.Volume.SpikeMagnitude
	change5m := in.Snapshot.Price.Change5m

	if rsi < 40 && vol > 2 && math.Abs(change5m) < 1 {
		return hit(0.7, "quiet accumulation: %.1fx volume, RSI %.1f, flat price", vol, rsi)
	}
	if rsi > 70 && vol > 2 && change5m < 0 {
		return hit(0.75, "distribution: %.1fx volume into weakness at RSI %.1f", vol, rsi)
	}
	if in.OrderBook != nil && in.OrderBook.ImbalanceRatio > 1.5 && rsi < 45 {
		return hit(0.65, "bid-heavy book (%.1fx) at RSI %.1f", in.OrderBook.ImbalanceRatio, rsi)
	}
	return Result{}
}

// DetectLiquidationSqueeze fires on crowded-side funding plus stretched RSI
// plus one-sided liquidations, or on a probable cascade during a volume spike.
// Requires funding and liquidation data.
func DetectLiquidationSqueeze(in Inputs) Result {
	fund := in.Funding
	liq := in.Liquidation
	if fund == nil || liq == nil {
		return Result{}
	}
	rsi, hasRSI := in.rsi()
	spike := in.Snapshot.Volume.SpikeMagnitude

	if hasRSI {
		if fund.Rate > 0.001 && liq.LongVolume1h > liq.ShortVolume1h*5 && rsi > 75 && spike > 4 {
			return hit(math.Min(0.9, fund.Rate/0.002*(rsi-70)/30),
				"long squeeze: rate %.4f, long-heavy liquidations, RSI %.1f", fund.Rate, rsi)
		}
		if fund.Rate < -0.0005 && liq.ShortVolume1h > liq.LongVolume1h*3 && rsi < 25 && spike > 3 {
			return hit(math.Min(0.85, math.Abs(fund.Rate)/0.001*(30-rsi)/30),
				"short squeeze: rate %.4f, short-heavy liquidations, RSI %.1f", fund.Rate, rsi)
		}
	}
	if liq.CascadeProbability > 0.7 && spike > 2 {
		return hit(liq.CascadeProbability*0.8,
			"cascade risk %.2f %s during %.1fx volume", liq.CascadeProbability, liq.CascadeDirection, spike)
	}
	return Result{}
}

// DetectFundingArbitrage fires near a funding settlement when the rate is
// extreme and either RSI or book imbalance confirms the crowded side.
// Requires funding data.
func DetectFundingArbitrage(in Inputs) Result {
	fund := in.Funding
	if fund == nil || math.Abs(fund.Rate) < 0.0015 {
		return Result{}
	}
	rsi, hasRSI := in.rsi()

	if fund.Rate > 0.002 && fund.HoursToFunding < 2 {
		if hasRSI && rsi > 65 {
			return hit(math.Min(0.8, fund.Rate/0.003*(rsi-60)/40),
				"funding short setup: rate %.4f, %.1fh to settlement, RSI %.1f",
				fund.Rate, fund.HoursToFunding, rsi)
		}
		if in.OrderBook != nil && in.OrderBook.ImbalanceRatio < 0.7 {
			return hit(0.6, "funding short setup: rate %.4f with ask-heavy book", fund.Rate)
		}
	}
	if fund.Rate < -0.001 && fund.HoursToFunding < 2 && hasRSI && rsi < 40 {
		return hit(math.Min(0.8, math.Abs(fund.Rate)/0.002*(40-rsi)/40),
			"funding long setup: rate %.4f, %.1fh to settlement, RSI %.1f",
			fund.Rate, fund.HoursToFunding, rsi)
	}
	return Result{}
}

// DetectHiddenAccumulation fires on statistically abnormal volume absorbed
// without a price move at depressed RSI, with a funding kicker, or on
// outlier-volume distribution at elevated RSI. Requires warm statistics.
func DetectHiddenAccumulation(in Inputs) Result {
	if in.Stats == nil || !in.Stats.Warm {
		return Result{}
	}
	rsi, hasRSI := in.rsi()
	if !hasRSI {
		return Result{}
	}
	vol := in.Snapshot.Volume.SpikeMagnitude
	change5m := in.Snapshot.Price.Change5m
	volZ := in.Stats.ZScore.Volume

	if rsi < 35 && vol > 2 && math.Abs(change5m) < 1 && volZ > 2 {
		conf := math.Min(0.85, (35-rsi)/35*volZ/3)
		if in.Funding != nil && in.Funding.Rate < -0.0005 {
			conf *= 1.2
		}
		return hit(conf, "hidden accumulation: volume z %.1f absorbed at RSI %.1f", volZ, rsi)
	}
	if rsi > 70 && vol > 2 && change5m < 0.5 && in.Stats.ZScore.IsOutlier {
		return hit(math.Min(0.8, (rsi-70)/30),
			"hidden distribution: outlier volume at RSI %.1f", rsi)
	}
	return Result{}
}

// DetectTimeframeDivergence fires when short and long timeframe trends
// disagree during a volume spike.
func DetectTimeframeDivergence(in Inputs) Result {
	div := in.Divergence
	if div == nil || !div.Detected {
		return Result{}
	}
	if in.Snapshot.Volume.SpikeMagnitude < 2 {
		return Result{}
	}
	kind := "bearish"
	if div.Bullish {
		kind = "bullish"
	}
	return hit(math.Min(0.7, div.Strength*0.3),
		"%s timeframe divergence, strength %.1f", kind, div.Strength)
}
