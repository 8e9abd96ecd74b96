package main

import (
	"fmt"
	"io"

	"bitbucket.org/Davydov/hapdyn/optimize"
)

// optimizerSettings stores settings for creation of a new optimizer.
type optimizerSettings struct {
	method string
	report int
	trajF  io.Writer
	stop   <-chan struct{}
}

// create creates and initializes a new optimizer from optimizerSettings.
func (o *optimizerSettings) create() (optimize.Optimizer, error) {
	opt, err := o.getOptimizer()
	if err != nil {
		return nil, err
	}
	log.Debugf("Using %s optimization.", o.method)

	opt.SetTrajectoryOutput(o.trajF)
	opt.SetReportPeriod(o.report)
	opt.SetStop(o.stop)

	return opt, nil
}

// getOptimizer returns an optimizer from settings.
func (o *optimizerSettings) getOptimizer() (optimize.Optimizer, error) {
	switch o.method {
	case "lbfgsb":
		return optimize.NewLBFGSB(), nil
	case "simplex":
		return optimize.NewDS(), nil
	case "none":
		return optimize.NewNone(), nil
	}
	return nil, fmt.Errorf("unknown optimization method: %s", o.method)
}

// factory returns a function creating optimizers for every phase.
// The method is validated once.
func (o *optimizerSettings) factory() (func() optimize.Optimizer, error) {
	if _, err := o.getOptimizer(); err != nil {
		return nil, err
	}
	return func() optimize.Optimizer {
		opt, err := o.create()
		if err != nil {
			// cannot happen, the method was checked
			panic(err)
		}
		return opt
	}, nil
}
