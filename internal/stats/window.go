package stats

import "math"

// ring is a fixed-capacity float64 ring buffer.
type ring struct {
	buf  []float64
	head int
	full bool
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]float64, 0, capacity)}
}

func (r *ring) push(v float64) {
	if !r.full {
		r.buf = append(r.buf, v)
		if len(r.buf) == cap(r.buf) {
			r.full = true
			r.head = 0
		}
		return
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
}

func (r *ring) len() int {
	return len(r.buf)
}

// values returns the buffered samples oldest-first.
func (r *ring) values() []float64 {
	out := make([]float64, 0, len(r.buf))
	if !r.full {
		return append(out, r.buf...)
	}
	out = append(out, r.buf[r.head:]...)
	return append(out, r.buf[:r.head]...)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sq float64
	for _, v := range values {
		d := v - m
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)-1))
}
