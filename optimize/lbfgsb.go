package optimize

import (
	"math"

	lbfgsb "github.com/idavydov/go-lbfgsb"
)

// LBFGSB is the limited-memory BFGS optimizer with bounding
// constraints. Gradient is computed analytically if the Optimizable
// implements Gradient, otherwise by central finite differences.
type LBFGSB struct {
	BaseOptimizer
	dH   float64
	grad []float64
	stop bool
	// maxIter limits the number of iterations; zero means no limit.
	maxIter int
}

// NewLBFGSB creates a new LBFGSB optimizer.
func NewLBFGSB() (l *LBFGSB) {
	l = &LBFGSB{
		BaseOptimizer: BaseOptimizer{
			repPeriod: 10,
		},
		dH: 1e-6,
	}
	return
}

// Logger is called by the optimizer after each iteration.
func (l *LBFGSB) Logger(info *lbfgsb.OptimizationIterationInformation) {
	l.i = info.Iteration
	l.PrintLine(-info.F)
	if l.signalled() {
		l.stop = true
	}
	if l.maxIter > 0 && info.Iteration >= l.maxIter {
		log.Warningf("Iterations exceeded (%d)", l.maxIter)
		l.stop = true
	}
}

// EvaluateFunction returns the negative log-likelihood.
func (l *LBFGSB) EvaluateFunction(x []float64) float64 {
	if l.stop || !l.parameters.ValuesInRange(x) {
		return math.Inf(+1)
	}
	l.parameters.SetValues(x)
	return -l.evaluate()
}

// EvaluateGradient returns the gradient of the negative
// log-likelihood.
func (l *LBFGSB) EvaluateGradient(x []float64) []float64 {
	if l.grad == nil {
		l.grad = make([]float64, len(x))
	}
	grad := l.grad
	l.parameters.SetValues(x)
	if g, ok := l.Optimizable.(Gradient); ok && g.LikelihoodGradient(grad) {
		for i := range grad {
			grad[i] = -grad[i]
		}
		return grad
	}

	for i, par := range l.parameters {
		x1 := math.Max(x[i]-l.dH, par.GetMin())
		x2 := math.Min(x[i]+l.dH, par.GetMax())
		par.Set(x1)
		l1 := -l.Likelihood()
		par.Set(x2)
		l2 := -l.Likelihood()
		l.calls += 2
		par.Set(x[i])
		grad[i] = (l2 - l1) / (x2 - x1)
	}
	return grad
}

// Run performs the optimization. The optimization stops when the
// tolerances of the underlying implementation are reached or after
// the given number of iterations.
func (l *LBFGSB) Run(iterations int) {
	l.maxIter = iterations
	l.stop = false
	l.PrintHeader()
	if len(l.parameters) == 0 {
		l.PrintLine(l.evaluate())
		l.converged = true
		return
	}
	bounds := make([][2]float64, len(l.parameters))
	for i, par := range l.parameters {
		bounds[i][0] = par.GetMin() + 1e-5
		bounds[i][1] = par.GetMax() - 1e-5
	}

	opt := new(lbfgsb.Lbfgsb)
	opt.SetApproximationSize(10)
	opt.SetFTolerance(1e-9)
	opt.SetGTolerance(1e-9)

	opt.SetBounds(bounds)
	opt.SetLogger(l.Logger)

	_, exitStatus := opt.Minimize(l, l.parameters.Values(nil))

	log.Debug("Exit status: ", exitStatus)
	l.converged = exitStatus.Code == lbfgsb.SUCCESS && !l.stop
	l.restoreBest()
	l.PrintFinal()
}

// Summary returns the optimization summary.
func (l *LBFGSB) Summary() Summary {
	return l.summary("lbfgsb")
}
