// Package lgamma provides log-gamma function values, optionally
// memoized.
package lgamma

import (
	"math"
	"sync"
)

// droppedBits is the number of low mantissa bits cleared by the
// memoized provider. Arguments keep 52-droppedBits mantissa bits
// (relative precision about 1e-9) before evaluation, so cached and
// non-cached values are identical.
const droppedBits = 22

// round returns x rounded to the nearest value with the low mantissa
// bits cleared, and the bit pattern of the result used as a key.
func round(x float64) (float64, uint64) {
	bits := math.Float64bits(x)
	bits = (bits + 1<<(droppedBits-1)) >> droppedBits << droppedBits
	return math.Float64frombits(bits), bits
}

// Func supplies logGamma(x) for x > 0.
type Func interface {
	LogGamma(x float64) float64
}

// Exact computes log-gamma directly.
type Exact struct{}

// LogGamma returns log|Γ(x)|.
func (Exact) LogGamma(x float64) float64 {
	r, _ := math.Lgamma(x)
	return r
}

// Cached memoizes log-gamma values by rounding the argument. At most
// size values are stored; after that new values are computed but not
// stored. Cached is safe for concurrent use.
type Cached struct {
	sync.RWMutex
	size   int
	values map[uint64]float64
}

// New returns a provider. If cacheSize is zero or negative, Exact is
// returned.
func New(cacheSize int) Func {
	if cacheSize <= 0 {
		return Exact{}
	}
	return &Cached{
		size:   cacheSize,
		values: make(map[uint64]float64, minInt(cacheSize, 1<<16)),
	}
}

// LogGamma returns log|Γ(x)| with x rounded to a relative
// precision of about 1e-9.
func (c *Cached) LogGamma(x float64) float64 {
	r, key := round(x)
	c.RLock()
	v, ok := c.values[key]
	c.RUnlock()
	if ok {
		return v
	}
	v, _ = math.Lgamma(r)
	c.Lock()
	if len(c.values) < c.size {
		c.values[key] = v
	}
	c.Unlock()
	return v
}

// Len returns the number of stored values.
func (c *Cached) Len() int {
	c.RLock()
	defer c.RUnlock()
	return len(c.values)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
