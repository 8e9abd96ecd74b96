package optimize

import (
	"math"
)

const (
	// TINY is the default relative tolerance for the simplex.
	TINY = 1e-10
	// SMALL is the absolute likelihood change considered
	// negligible after restarting the simplex.
	SMALL = 1e-6
	// maxShrink is the number of times a simplex step is halved
	// trying to stay within the boundaries.
	maxShrink = 30
)

// DS is the downhill simplex (Nelder-Mead) optimizer. It does not
// require derivatives.
type DS struct {
	BaseOptimizer
	// delta is the initial simplex size relative to the
	// parameter values.
	delta  float64
	ftol   float64
	repeat bool
	oldL   float64
	points [][]float64
	l      []float64
	psum   []float64
	trial  []float64
}

// NewDS creates a new downhill simplex optimizer.
func NewDS() (ds *DS) {
	ds = &DS{
		delta: 0.1,
		ftol:  TINY,
	}
	ds.repPeriod = 10
	return
}

// SetTolerance changes the relative tolerance used as a convergence
// criterion.
func (ds *DS) SetTolerance(ftol float64) {
	ds.ftol = ftol
}

// likelihoodAt sets parameters to x and computes the likelihood;
// points out of the boundaries have zero likelihood.
func (ds *DS) likelihoodAt(x []float64) float64 {
	if !ds.parameters.ValuesInRange(x) {
		return math.Inf(-1)
	}
	ds.parameters.SetValues(x)
	return ds.evaluate()
}

// step returns a displacement for parameter i at value x which stays
// within the boundaries.
func (ds *DS) step(i int, x float64) float64 {
	par := ds.parameters[i]
	h := ds.delta * math.Max(math.Abs(x), 0.5)
	for j := 0; j < maxShrink; j++ {
		if par.ValueInRange(x + h) {
			return h
		}
		if par.ValueInRange(x - h) {
			return -h
		}
		h /= 2
	}
	return 0
}

// createSimplex creates a simplex around x0.
func (ds *DS) createSimplex(x0 []float64) {
	n := len(x0)
	ds.points = make([][]float64, n+1)
	ds.l = make([]float64, n+1)
	for i := range ds.points {
		ds.points[i] = make([]float64, n)
		copy(ds.points[i], x0)
	}
	for i := 0; i < n; i++ {
		ds.points[i+1][i] += ds.step(i, x0[i])
	}
	for i, x := range ds.points {
		ds.l[i] = ds.likelihoodAt(x)
	}
}

func (ds *DS) calcPsum() {
	for j := range ds.psum {
		ds.psum[j] = 0
		for _, x := range ds.points {
			ds.psum[j] += x[j]
		}
	}
}

// amotry extrapolates by factor fac throught the face of the simplex accros from
// the low point, tries it, and replaces the low point if the new point is better.
func (ds *DS) amotry(ilo int, fac float64) float64 {
	ds.calcPsum()
	ndim := len(ds.trial)
	fac1 := (1 - fac) / float64(ndim)
	fac2 := fac1 - fac
	for j := 0; j < ndim; j++ {
		ds.trial[j] = ds.psum[j]*fac1 - ds.points[ilo][j]*fac2
	}
	l := ds.likelihoodAt(ds.trial)
	if l > ds.l[ilo] {
		copy(ds.points[ilo], ds.trial)
		ds.l[ilo] = l
	}
	return l
}

// Run maximizes the likelihood for at most iterations steps.
func (ds *DS) Run(iterations int) {
	ds.PrintHeader()
	n := len(ds.parameters)
	if n == 0 {
		ds.i = 0
		ds.PrintLine(ds.evaluate())
		ds.converged = true
		return
	}
	ds.psum = make([]float64, n)
	ds.trial = make([]float64, n)
	ds.repeat = false
	ds.createSimplex(ds.parameters.Values(nil))

	// Lowest (worst), next-lowest and highest points
	var ilo, inlo, ihi int
	var llo, lnlo, lhi float64
Iter:
	for ds.i = 1; ds.i <= iterations; ds.i++ {
		ilo, ihi = 0, 0
		for i := range ds.l {
			if ds.l[i] < ds.l[ilo] {
				ilo = i
			}
			if ds.l[i] > ds.l[ihi] {
				ihi = i
			}
		}
		inlo = ihi
		for i := range ds.l {
			if i != ilo && ds.l[i] < ds.l[inlo] {
				inlo = i
			}
		}
		llo, lnlo, lhi = ds.l[ilo], ds.l[inlo], ds.l[ihi]
		ds.PrintLine(lhi)

		rtol := 2 * math.Abs(lhi-llo) / (math.Abs(llo) + math.Abs(lhi) + TINY)
		if rtol < ds.ftol {
			if ds.repeat && math.Abs(ds.oldL-lhi) < SMALL {
				ds.converged = true
				break Iter
			}
			ds.repeat = true
			ds.oldL = lhi
			log.Debug("converged. retrying")
			best := make([]float64, n)
			copy(best, ds.points[ihi])
			ds.createSimplex(best)
			continue
		}
		l := ds.amotry(ilo, -1)
		switch {
		case l >= lhi:
			ds.amotry(ilo, 2)
		case l <= lnlo:
			lsave := llo
			l := ds.amotry(ilo, 0.5)
			if l <= lsave {
				for i, x := range ds.points {
					if i == ihi {
						continue
					}
					for j := range x {
						x[j] = 0.5 * (x[j] + ds.points[ihi][j])
					}
					ds.l[i] = ds.likelihoodAt(x)
				}
			}
		}
		if ds.signalled() {
			break Iter
		}
	}
	if ds.i > iterations {
		ds.i = iterations
	}
	if !ds.converged {
		log.Debugf("Iterations exceeded (%d)", iterations)
	}
	ds.restoreBest()
	ds.PrintFinal()
}

// Summary returns the optimization summary.
func (ds *DS) Summary() Summary {
	return ds.summary("simplex")
}
