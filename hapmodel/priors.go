package hapmodel

import (
	"fmt"
	"math"
	"strconv"

	"bitbucket.org/Davydov/hapdyn/bio"
)

// Priors holds the log prior probability of a single assignment with
// k distinct bases at index k. Element 0 is unused.
type Priors [bio.NBases + 1]float64

// initialFractions is the starting prior mass of assignments with
// 1, 2, 3 and 4 distinct bases.
var initialFractions = [bio.NBases + 1]float64{0, 0.9, 0.07, 0.02, 0.01}

const (
	// priorEpsilon is added to the estimated cardinality fraction.
	priorEpsilon = 1e-10
	// countEpsilon protects against empty cardinality classes.
	countEpsilon = 1e-20
)

// InitialPriors distributes the initial fractions evenly among the
// assignments of each cardinality.
func InitialPriors(cat *Catalog) (pr Priors) {
	for k := 1; k < len(pr); k++ {
		pr[k] = math.Log(initialFractions[k] / (float64(cat.NByCardinality[k]) + countEpsilon))
	}
	return
}

// Refresh re-estimates the priors from the posterior weights of the
// active sites. A conserved site counts as a single assignment with
// one base.
func (pr *Priors) Refresh(cat *Catalog, sites []*Site) {
	var count [bio.NBases + 1]float64
	n := 0
	for _, s := range sites {
		if !s.Active() {
			continue
		}
		n++
		if s.Conserved() {
			count[1]++
			continue
		}
		est := s.EstDiffBases()
		for k := 1; k < len(count); k++ {
			count[k] += est[k]
		}
	}
	if n == 0 {
		return
	}
	for k := 1; k < len(pr); k++ {
		pr[k] = math.Log((count[k]/float64(n) + priorEpsilon) / (float64(cat.NByCardinality[k]) + countEpsilon))
	}
}

// Fractions returns the total prior mass of each cardinality class.
func (pr Priors) Fractions(cat *Catalog) (f [bio.NBases + 1]float64) {
	for k := 1; k < len(pr); k++ {
		f[k] = float64(cat.NByCardinality[k]) * math.Exp(pr[k])
	}
	return
}

// Map returns the priors keyed by a parameter name.
func (pr Priors) Map() map[string]float64 {
	m := make(map[string]float64, bio.NBases)
	for k := 1; k < len(pr); k++ {
		m[priorName(k)] = pr[k]
	}
	return m
}

// SetFromMap sets the priors from a map produced by Map.
func (pr *Priors) SetFromMap(m map[string]float64) error {
	for k := 1; k < len(pr); k++ {
		v, ok := m[priorName(k)]
		if !ok {
			return fmt.Errorf("prior %s not found", priorName(k))
		}
		pr[k] = v
	}
	return nil
}

func priorName(k int) string {
	return "prior" + strconv.Itoa(k)
}
