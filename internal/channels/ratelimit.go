package channels

import "golang.org/x/time/rate"

// Rate is a token-bucket setting: PerSecond tokens refill each second and at
// most Burst accumulate.
type Rate struct {
	PerSecond float64
	Burst     int
}

// DefaultRates stay under each platform's documented posting limits.
var DefaultRates = map[string]Rate{
	"slack":    {PerSecond: 1, Burst: 3},
	"telegram": {PerSecond: 1, Burst: 5},
	"discord":  {PerSecond: 1, Burst: 5},
}

// Enabled reports whether the rate throttles at all.
func (r Rate) Enabled() bool {
	return r.PerSecond > 0
}

// newLimiter builds a full bucket for r; the burst is at least one.
func newLimiter(r Rate) *rate.Limiter {
	burst := r.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(r.PerSecond), burst)
}
