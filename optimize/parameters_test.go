package optimize

import (
	"math"
	"testing"

	lbfgsb "github.com/idavydov/go-lbfgsb"
	"github.com/op/go-logging"
)

func init() {
	logging.SetLevel(logging.WARNING, "optimize")
}

const smallDiff = 1e-3

// quadratic is a test likelihood with maximum at (1, -2, 0.5).
type quadratic struct {
	x, y, z    float64
	parameters FloatParameters
	changes    int
}

func newQuadratic(x, y, z float64) *quadratic {
	q := &quadratic{x: x, y: y, z: z}
	for _, p := range []struct {
		v    *float64
		name string
	}{{&q.x, "x"}, {&q.y, "y"}, {&q.z, "z"}} {
		par := NewBasicFloatParameter(p.v, p.name)
		par.SetMin(-10)
		par.SetMax(10)
		par.SetOnChange(func() { q.changes++ })
		q.parameters.Append(par)
	}
	return q
}

func (q *quadratic) GetFloatParameters() FloatParameters {
	return q.parameters
}

func (q *quadratic) Likelihood() float64 {
	return -(q.x-1)*(q.x-1) - 2*(q.y+2)*(q.y+2) - 3*(q.z-0.5)*(q.z-0.5)
}

func TestParameterMap(tst *testing.T) {
	q := newQuadratic(7.2, 1.17e-22, 0)
	m := q.parameters.Map()
	if m["x"] != 7.2 || m["y"] != 1.17e-22 || m["z"] != 0 {
		tst.Error("Wrong parameter map:", m)
	}
	m["z"] = 0.999999
	if err := q.parameters.SetFromMap(m); err != nil {
		tst.Error("Error: ", err)
	}
	if q.z != 0.999999 {
		tst.Error("Expected z=0.999999, got", q.z)
	}
	delete(m, "x")
	if err := q.parameters.SetFromMap(m); err == nil {
		tst.Error("Expected an error for a missing parameter")
	}
}

func TestParameterRange(tst *testing.T) {
	q := newQuadratic(0, 0, 0)
	if !q.parameters.InRange() {
		tst.Error("Parameters should be in range")
	}
	if q.parameters.ValuesInRange([]float64{0, 11, 0}) {
		tst.Error("Value 11 should be out of range")
	}
	if err := q.parameters.SetValues([]float64{1}); err == nil {
		tst.Error("Expected an error for a wrong number of values")
	}
}

func TestOnChange(tst *testing.T) {
	q := newQuadratic(0, 0, 0)
	q.parameters.SetValues([]float64{0, 1, 0})
	if q.changes != 1 {
		tst.Error("Expected a single change, got", q.changes)
	}
}

func TestSimplex(tst *testing.T) {
	q := newQuadratic(3, 3, 3)
	ds := NewDS()
	ds.SetOptimizable(q)
	ds.Quiet = true
	ds.Run(2000)

	if math.Abs(q.x-1) > smallDiff || math.Abs(q.y+2) > smallDiff || math.Abs(q.z-0.5) > smallDiff {
		tst.Error("Simplex did not find the maximum:", q.x, q.y, q.z)
	}
	if math.Abs(ds.GetMaxL()) > smallDiff {
		tst.Error("Expected maximum likelihood 0, got", ds.GetMaxL())
	}
	s := ds.Summary()
	if s.Method != "simplex" || s.Calls == 0 || len(s.MaxLParameters) != 3 {
		tst.Error("Wrong summary:", s)
	}
}

func TestSimplexBoundary(tst *testing.T) {
	// starting at the boundary, first step has to go inwards
	q := newQuadratic(10, 10, 10)
	ds := NewDS()
	ds.SetOptimizable(q)
	ds.Quiet = true
	ds.Run(2000)
	if !q.parameters.InRange() {
		tst.Error("Parameters out of range:", q.parameters.ValuesString())
	}
	if math.Abs(q.x-1) > smallDiff {
		tst.Error("Simplex did not find the maximum:", q.x, q.y, q.z)
	}
}

func TestNone(tst *testing.T) {
	q := newQuadratic(1, -2, 0.5)
	n := NewNone()
	n.SetOptimizable(q)
	n.Run(10)
	if n.GetMaxL() != 0 || n.Summary().Calls != 1 {
		tst.Error("Wrong none optimizer result", n.GetMaxL())
	}
}

func TestStop(tst *testing.T) {
	q := newQuadratic(3, 3, 3)
	stop := make(chan struct{})
	close(stop)
	ds := NewDS()
	ds.SetOptimizable(q)
	ds.SetStop(stop)
	ds.Quiet = true
	ds.Run(2000)
	if s := ds.Summary(); s.Iterations != 1 || s.Converged {
		tst.Error("Expected the optimizer to stop after the first iteration, got", s.Iterations)
	}
}

func TestLBFGSBIterationLimit(tst *testing.T) {
	q := newQuadratic(3, 3, 3)
	l := NewLBFGSB()
	l.SetOptimizable(q)
	l.Quiet = true
	l.maxIter = 5
	l.Logger(&lbfgsb.OptimizationIterationInformation{Iteration: 4, F: 1})
	if l.stop {
		tst.Error("Stopped before the iteration limit")
	}
	l.Logger(&lbfgsb.OptimizationIterationInformation{Iteration: 5, F: 1})
	if !l.stop {
		tst.Error("Expected a stop at the iteration limit")
	}
	if f := l.EvaluateFunction([]float64{1, -2, 0.5}); !math.IsInf(f, 1) {
		tst.Error("Expected +Inf after the stop, got", f)
	}
}
