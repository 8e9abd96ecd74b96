// Package optimize provides likelihood maximizers working on a set of
// float parameters.
package optimize

import (
	"fmt"
	"io"
	"math"

	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("optimize")

// Optimizable is an object with float parameters and a likelihood
// function computed at the current parameter values.
type Optimizable interface {
	// GetFloatParameters returns the parameters to optimize.
	GetFloatParameters() FloatParameters
	// Likelihood returns the log-likelihood at the current
	// parameter values.
	Likelihood() float64
}

// Gradient is an optional interface of an Optimizable which can
// compute the log-likelihood gradient analytically.
type Gradient interface {
	// LikelihoodGradient fills grad with partial derivatives of
	// the log-likelihood at the current parameter values. It
	// returns false if the gradient is not available.
	LikelihoodGradient(grad []float64) bool
}

// Optimizer maximizes the likelihood of an Optimizable.
type Optimizer interface {
	SetOptimizable(Optimizable)
	SetTrajectoryOutput(io.Writer)
	SetStop(<-chan struct{})
	SetReportPeriod(period int)
	Run(iterations int)
	GetMaxL() float64
	GetMaxLParameters() []float64
	Summary() Summary
}

// Summary stores information about an optimization run.
type Summary struct {
	// Method is the optimizer name.
	Method string `json:"method"`
	// Iterations is the number of iterations performed.
	Iterations int `json:"iterations"`
	// Calls is the number of likelihood evaluations.
	Calls int `json:"calls"`
	// MaxLnL is the maximum log-likelihood found.
	MaxLnL float64 `json:"maxLnL"`
	// MaxLParameters are the parameter values at MaxLnL.
	MaxLParameters map[string]float64 `json:"maxLParameters"`
	// Converged is true if the convergence criteria were met
	// before the iteration limit.
	Converged bool `json:"converged"`
}

// BaseOptimizer contains the functionality shared by all the
// optimizers.
type BaseOptimizer struct {
	Optimizable
	parameters FloatParameters
	i          int
	calls      int
	maxL       float64
	maxLPar    []float64
	repPeriod  int
	stop       <-chan struct{}
	trajF      io.Writer
	converged  bool
	Quiet      bool
}

// SetOptimizable sets the object to optimize.
func (o *BaseOptimizer) SetOptimizable(opt Optimizable) {
	o.Optimizable = opt
	o.parameters = opt.GetFloatParameters()
	o.maxL = math.Inf(-1)
	o.maxLPar = nil
}

// SetTrajectoryOutput sets the writer for the optimization
// trajectory; nil disables it.
func (o *BaseOptimizer) SetTrajectoryOutput(w io.Writer) {
	o.trajF = w
}

// SetStop makes the optimizer exit early once the channel is closed,
// e.g. on an interrupt.
func (o *BaseOptimizer) SetStop(stop <-chan struct{}) {
	o.stop = stop
}

// SetReportPeriod sets how often (in iterations) the trajectory is
// reported.
func (o *BaseOptimizer) SetReportPeriod(period int) {
	if period < 1 {
		period = 1
	}
	o.repPeriod = period
}

// PrintHeader prints the trajectory header.
func (o *BaseOptimizer) PrintHeader() {
	if !o.Quiet && o.trajF != nil {
		fmt.Fprintf(o.trajF, "iteration\tlikelihood\t%s\n", o.parameters.NamesString())
	}
}

// PrintLine prints the current trajectory line if the iteration
// number is a multiple of the report period.
func (o *BaseOptimizer) PrintLine(l float64) {
	if o.repPeriod > 0 && o.i%o.repPeriod != 0 {
		return
	}
	log.Debugf("%d: L=%f (%s)", o.i, l, o.parameters.ValuesString())
	if !o.Quiet && o.trajF != nil {
		fmt.Fprintf(o.trajF, "%d\t%f\t%s\n", o.i, l, o.parameters.ValuesString())
	}
}

// PrintFinal logs the best parameter values.
func (o *BaseOptimizer) PrintFinal() {
	if o.Quiet {
		return
	}
	log.Infof("Maximum likelihood: %v", o.maxL)
	log.Infof("Likelihood function calls: %v", o.calls)
	names := o.parameters.Names(nil)
	for i, v := range o.maxLPar {
		log.Debugf("%s=%v", names[i], v)
	}
}

// evaluate computes the likelihood at the current parameter values
// and keeps track of the maximum.
func (o *BaseOptimizer) evaluate() float64 {
	l := o.Likelihood()
	o.calls++
	if math.IsNaN(l) {
		l = math.Inf(-1)
	}
	if l > o.maxL || o.maxLPar == nil {
		o.maxL = l
		o.maxLPar = o.parameters.Values(o.maxLPar)
	}
	return l
}

// restoreBest sets parameters to the maximum likelihood values.
func (o *BaseOptimizer) restoreBest() {
	if o.maxLPar != nil {
		o.parameters.SetValues(o.maxLPar)
	}
}

// signalled returns true if the stop channel is closed.
func (o *BaseOptimizer) signalled() bool {
	select {
	case <-o.stop:
		log.Warning("Optimization interrupted")
		return true
	default:
	}
	return false
}

// GetMaxL returns the maximum log-likelihood found.
func (o *BaseOptimizer) GetMaxL() float64 {
	return o.maxL
}

// GetMaxLParameters returns the parameter values at the maximum
// likelihood.
func (o *BaseOptimizer) GetMaxLParameters() []float64 {
	return o.maxLPar
}

// summary creates a Summary for a given method name.
func (o *BaseOptimizer) summary(method string) Summary {
	s := Summary{
		Method:         method,
		Iterations:     o.i,
		Calls:          o.calls,
		MaxLnL:         o.maxL,
		MaxLParameters: make(map[string]float64, len(o.maxLPar)),
		Converged:      o.converged,
	}
	names := o.parameters.Names(nil)
	for i, v := range o.maxLPar {
		s.MaxLParameters[names[i]] = v
	}
	return s
}
