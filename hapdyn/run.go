package main

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"bitbucket.org/Davydov/hapdyn/checkpoint"
	"bitbucket.org/Davydov/hapdyn/hapmodel"
	"bitbucket.org/Davydov/hapdyn/lgamma"
	"bitbucket.org/Davydov/hapdyn/pileup"
	"bitbucket.org/Davydov/hapdyn/report"
)

// runSettings stores everything needed for a single inference run.
type runSettings struct {
	listFileName string
	config       hapmodel.Config
	gammaCache   int
	minProb      float64
	optimizer    optimizerSettings

	outFileName        string
	trajFileName       string
	plotFileName       string
	checkpointFileName string
	checkpointSeconds  float64
}

// newRunSettings creates runSettings from the command line parameters
// (global variables).
func newRunSettings(stop <-chan struct{}) *runSettings {
	cfg := hapmodel.DefaultConfig()
	cfg.NHaplo = *nHaplo
	cfg.Alpha0 = *alpha0
	cfg.AlphaE = *alphaE
	cfg.SubsampleFrac = [2]float64{*frac0, *frac1}
	cfg.MinPosterior = *minPost
	cfg.Iterations = *iterations
	cfg.Tolerance = *tolerance
	cfg.PhaseIterations = *phaseIter
	cfg.UpdatePriors = !*noPriors
	cfg.Randomize = *randomize
	cfg.Seed = *seed

	return &runSettings{
		listFileName: *listFileName,
		config:       cfg,
		gammaCache:   *gammaCache,
		minProb:      *minProb,
		optimizer: optimizerSettings{
			method: *method,
			report: *reportPer,
			stop:   stop,
		},

		outFileName:        *outF,
		trajFileName:       *trajF,
		plotFileName:       *plotF,
		checkpointFileName: *checkpointF,
		checkpointSeconds:  *checkpointSeconds,
	}
}

// checkpointKey identifies the input and the settings affecting the
// result. The iteration limits are excluded so that a run can be
// continued with more iterations. The seed is excluded as well, a
// resumed run takes it from the checkpoint.
func (s *runSettings) checkpointKey() []byte {
	fn, err := filepath.Abs(s.listFileName)
	if err != nil {
		fn = s.listFileName
	}
	cfg := s.config
	cfg.Iterations = 0
	cfg.Tolerance = 0
	cfg.PhaseIterations = 0
	cfg.Seed = 0
	return checkpoint.Key(fn, cfg, s.optimizer.method)
}

// run reads the data, performs the inference and writes the results.
func run(s *runSettings) (summary *RunSummary, err error) {
	startTime := time.Now()
	summary = &RunSummary{RunID: uuid.New().String()}

	timepoints, err := pileup.Load(s.listFileName)
	if err != nil {
		return nil, err
	}
	log.Infof("Read %d timepoints", len(timepoints))

	var cp *checkpoint.CheckpointIO
	if s.checkpointFileName != "" {
		db, err := checkpoint.Open(s.checkpointFileName)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		cp = checkpoint.NewCheckpointIO(db, s.checkpointKey(), s.checkpointSeconds)
		data, err := cp.GetParameters()
		if err != nil {
			return nil, err
		}
		if data != nil && data.Seed != s.config.Seed {
			// the subsamples and the starting values depend
			// on the seed
			log.Noticef("Using random seed=%v from the checkpoint", data.Seed)
			s.config.Seed = data.Seed
		}
	}
	summary.Seed = s.config.Seed

	c, err := hapmodel.NewCorpus(timepoints, s.config, lgamma.New(s.gammaCache))
	if err != nil {
		return nil, err
	}
	log.Infof("Model has %d haplotypes, %d parameters", c.NHaplo(), c.NParameters())

	if s.trajFileName != "" {
		f, err := os.Create(s.trajFileName)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		s.optimizer.trajF = f
	}

	if cp != nil {
		c.SetCheckpointIO(cp, summary.RunID)
	}

	newOptimizer, err := s.optimizer.factory()
	if err != nil {
		return nil, err
	}
	log.Infof("Using %s optimization.", s.optimizer.method)

	summary.Inference = c.Run(newOptimizer)
	log.Noticef("Final lnL=%f", c.LnL())

	res := report.New(c, s.minProb)
	summary.Results = res

	var out io.Writer = os.Stdout
	if s.outFileName != "" {
		f, err := os.Create(s.outFileName)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		out = f
	}
	if err := res.Write(out); err != nil {
		return nil, err
	}

	if s.plotFileName != "" {
		if err := report.PlotFrequencies(res.Frequencies, s.plotFileName); err != nil {
			log.Error("Error plotting frequencies:", err)
		}
	}

	deltaT := time.Since(startTime)
	log.Noticef("Running time: %v", deltaT)
	summary.Time = deltaT.Seconds()
	return summary, nil
}
