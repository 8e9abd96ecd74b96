package hapmodel

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/exascience/pargo/parallel"
	"github.com/op/go-logging"
	"gonum.org/v1/gonum/floats"

	"bitbucket.org/Davydov/hapdyn/checkpoint"
	"bitbucket.org/Davydov/hapdyn/lgamma"
	"bitbucket.org/Davydov/hapdyn/optimize"
	"bitbucket.org/Davydov/hapdyn/pileup"
)

var log = logging.MustGetLogger("hapmodel")

const (
	minAlpha = 1e-4
	maxAlpha = 1e6
	// subsample fractions above fullFrac select all the sites.
	fullFrac = 0.99999
)

// ErrNoTimepoints is returned when a corpus is created without data.
var ErrNoTimepoints = errors.New("no timepoints")

// Config controls the model and the inference.
type Config struct {
	// NHaplo is the number of haplotypes.
	NHaplo int
	// Alpha0 and AlphaE are the starting concentrations.
	Alpha0, AlphaE float64
	// SubsampleFrac[0] is the fraction of the active sites used
	// to fit the error model in the first iteration,
	// SubsampleFrac[1] in the following iterations.
	SubsampleFrac [2]float64
	// MinPosterior is the posterior threshold for assignments
	// used in the site likelihood.
	MinPosterior float64
	// Iterations is the maximum number of outer iterations.
	Iterations int
	// Tolerance stops the iterations when the relative
	// log-likelihood improvement is smaller. Zero disables it.
	Tolerance float64
	// PhaseIterations is the iteration limit of a single
	// optimizer run.
	PhaseIterations int
	// UpdatePriors enables re-estimation of the priors after
	// every iteration.
	UpdatePriors bool
	// Randomize draws starting frequencies at random instead of
	// uniform ones.
	Randomize bool
	// Seed initializes the random number generator.
	Seed int64
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{
		NHaplo:          3,
		Alpha0:          100,
		AlphaE:          0.2,
		SubsampleFrac:   [2]float64{1, 1},
		MinPosterior:    0.01,
		Iterations:      10,
		PhaseIterations: 1000,
		UpdatePriors:    true,
		Seed:            1,
	}
}

// PhaseSummary describes a single optimizer run.
type PhaseSummary struct {
	Iteration int    `json:"iteration"`
	Phase     string `json:"phase"`
	optimize.Summary
}

// Summary describes the whole inference.
type Summary struct {
	Iterations    int            `json:"iterations"`
	LnL           float64        `json:"lnL"`
	Converged     bool           `json:"converged"`
	Optimizations []PhaseSummary `json:"optimizations"`
}

// Corpus is the collection of sites together with the shared model
// parameters. It implements optimize.Optimizable; the parameters
// exposed and the likelihood depend on the current phase.
type Corpus struct {
	cfg         Config
	cat         *Catalog
	lg          lgamma.Func
	nTimepoints int

	// sites are sorted by position.
	sites     []*Site
	active    []*Site
	variable  []*Site
	subsample [2][]*Site

	alpha0, alphaE float64
	// theta[tp] are stick-breaking fractions at timepoint tp.
	theta [][]float64
	freq  [][]float64
	table *Table

	alphaDirty bool
	freqDirty  []bool

	priors Priors

	allParameters optimize.FloatParameters
	alphaParams   optimize.FloatParameters
	thetaParams   []optimize.FloatParameters

	phase      Phase
	parameters optimize.FloatParameters
	phaseSites []*Site

	iter  int
	lnL   float64
	rng   *rand.Rand
	cp    *checkpoint.CheckpointIO
	runID string
}

// NewCorpus creates a corpus from the records of every timepoint.
func NewCorpus(timepoints [][]pileup.Record, cfg Config, lg lgamma.Func) (*Corpus, error) {
	if len(timepoints) == 0 {
		return nil, ErrNoTimepoints
	}
	cat, err := NewCatalog(cfg.NHaplo)
	if err != nil {
		return nil, err
	}
	if cfg.Alpha0 <= 0 || cfg.AlphaE <= 0 {
		return nil, fmt.Errorf("concentrations should be positive (alpha0=%v, alphaE=%v)", cfg.Alpha0, cfg.AlphaE)
	}
	c := &Corpus{
		cfg:         cfg,
		cat:         cat,
		lg:          lg,
		nTimepoints: len(timepoints),
		alpha0:      cfg.Alpha0,
		alphaE:      cfg.AlphaE,
		rng:         rand.New(rand.NewSource(cfg.Seed)),
		freqDirty:   make([]bool, len(timepoints)),
	}

	byPos := make(map[int]*Site)
	for tp, recs := range timepoints {
		for _, rec := range recs {
			s, ok := byPos[rec.Position]
			if !ok {
				s = NewSite(rec.Position, c.nTimepoints, cfg.MinPosterior)
				byPos[rec.Position] = s
				c.sites = append(c.sites, s)
			}
			s.AddTimepoint(tp, rec.Counts)
		}
	}
	sort.Slice(c.sites, func(i, j int) bool {
		return c.sites[i].Position < c.sites[j].Position
	})

	for _, s := range c.sites {
		if !s.Activate(cat) {
			continue
		}
		c.active = append(c.active, s)
		if !s.Conserved() {
			c.variable = append(c.variable, s)
		}
		for i := range c.subsample {
			if c.rng.Float64() < cfg.SubsampleFrac[i] {
				c.subsample[i] = append(c.subsample[i], s)
			}
		}
	}
	log.Infof("%d sites, %d active, %d variable", len(c.sites), len(c.active), len(c.variable))
	if cfg.SubsampleFrac[0] < fullFrac || cfg.SubsampleFrac[1] < fullFrac {
		log.Infof("Error model subsamples: %d sites (first iteration), %d sites (later)",
			len(c.subsample[0]), len(c.subsample[1]))
	}

	c.theta = make([][]float64, c.nTimepoints)
	c.freq = make([][]float64, c.nTimepoints)
	for tp := range c.theta {
		if cfg.Randomize {
			c.theta[tp] = make([]float64, cfg.NHaplo-1)
			for i := range c.theta[tp] {
				c.theta[tp][i] = c.rng.Float64()
			}
		} else {
			c.theta[tp] = UniformTheta(cfg.NHaplo)
		}
		c.freq[tp] = StickBreak(c.theta[tp], make([]float64, cfg.NHaplo))
	}
	c.table = NewTable(cat, c.alpha0, c.alphaE, c.freq)
	c.priors = InitialPriors(cat)
	c.setupParameters()
	c.SetPhase(ErrorModelFit{})
	return c, nil
}

func (c *Corpus) setupParameters() {
	a0 := optimize.NewBasicFloatParameter(&c.alpha0, "alpha0")
	aE := optimize.NewBasicFloatParameter(&c.alphaE, "alphaE")
	for _, p := range []*optimize.BasicFloatParameter{a0, aE} {
		p.SetMin(minAlpha)
		p.SetMax(maxAlpha)
		p.SetOnChange(func() {
			c.alphaDirty = true
		})
		c.alphaParams.Append(p)
		c.allParameters.Append(p)
	}

	c.thetaParams = make([]optimize.FloatParameters, c.nTimepoints)
	for tp := range c.theta {
		tp := tp
		for i := range c.theta[tp] {
			p := optimize.NewBasicFloatParameter(&c.theta[tp][i], fmt.Sprintf("theta%d_%d", tp, i))
			p.SetMin(0)
			p.SetMax(1)
			p.SetOnChange(func() {
				c.freqDirty[tp] = true
			})
			c.thetaParams[tp].Append(p)
			c.allParameters.Append(p)
		}
	}
}

// SetPhase selects the parameters and the likelihood to optimize.
func (c *Corpus) SetPhase(ph Phase) {
	c.phase = ph
	switch ph := ph.(type) {
	case ErrorModelFit:
		c.parameters = c.alphaParams
		c.phaseSites = c.errorModelSites()
	case FrequencyFit:
		c.parameters = c.thetaParams[ph.Timepoint]
		c.phaseSites = c.phaseSites[:0:0]
		for _, s := range c.variable {
			if s.HasData(ph.Timepoint) {
				c.phaseSites = append(c.phaseSites, s)
			}
		}
	default:
		panic(fmt.Sprintf("unknown phase %v", ph))
	}
}

// errorModelSites returns the sites used to fit the error model in
// the current iteration.
func (c *Corpus) errorModelSites() []*Site {
	i := 0
	if c.iter > 0 {
		i = 1
	}
	if c.cfg.SubsampleFrac[i] < fullFrac {
		if len(c.subsample[i]) > 0 {
			return c.subsample[i]
		}
		log.Warning("Empty error model subsample, using all the active sites")
	}
	return c.active
}

// refresh recomputes the table for the parameters changed since the
// previous call.
func (c *Corpus) refresh() {
	if c.alphaDirty {
		c.table = c.table.WithAlpha(c.alpha0, c.alphaE)
		c.alphaDirty = false
	}
	for tp, dirty := range c.freqDirty {
		if dirty {
			StickBreak(c.theta[tp], c.freq[tp])
			c.table = c.table.WithFrequencies(c.cat, tp, c.freq[tp])
			c.freqDirty[tp] = false
		}
	}
}

// GetFloatParameters returns the parameters of the current phase.
func (c *Corpus) GetFloatParameters() optimize.FloatParameters {
	return c.parameters
}

// sumSites sums f over the sites in parallel.
func sumSites(sites []*Site, f func(s *Site) float64) float64 {
	if len(sites) == 0 {
		return 0
	}
	return parallel.RangeReduceFloat64(0, len(sites), 0, func(low, high int) (res float64) {
		for _, s := range sites[low:high] {
			res += f(s)
		}
		return
	}, func(x, y float64) float64 {
		return x + y
	})
}

// Likelihood returns the log-likelihood of the current phase with
// the posterior distributions fixed.
func (c *Corpus) Likelihood() float64 {
	c.refresh()
	switch ph := c.phase.(type) {
	case ErrorModelFit:
		return sumSites(c.phaseSites, func(s *Site) float64 {
			return s.LogLikelihood(c.cat, c.table, c.lg, &c.priors)
		})
	case FrequencyFit:
		return sumSites(c.phaseSites, func(s *Site) float64 {
			return s.TimepointLogLikelihood(c.cat, c.table, c.lg, &c.priors, ph.Timepoint)
		})
	}
	panic(fmt.Sprintf("unknown phase %v", c.phase))
}

// LikelihoodGradient computes the gradient with respect to alpha0
// and alphaE. The gradient is only available for the error model
// phase.
func (c *Corpus) LikelihoodGradient(grad []float64) bool {
	if _, ok := c.phase.(ErrorModelFit); !ok {
		return false
	}
	c.refresh()
	grad[0], grad[1] = 0, 0
	if len(c.phaseSites) == 0 {
		return true
	}
	sites := c.phaseSites
	g := parallel.RangeReduce(0, len(sites), 0, func(low, high int) interface{} {
		var g [2]float64
		for _, s := range sites[low:high] {
			g0, gE := s.AlphaGradient(c.cat, c.table, c.lg, &c.priors)
			g[0] += g0
			g[1] += gE
		}
		return g
	}, func(x, y interface{}) interface{} {
		a, b := x.([2]float64), y.([2]float64)
		return [2]float64{a[0] + b[0], a[1] + b[1]}
	}).([2]float64)
	grad[0], grad[1] = g[0], g[1]
	return true
}

// AssignHaplotypes recomputes the posterior distributions of all the
// active sites and returns the total log-likelihood.
func (c *Corpus) AssignHaplotypes() float64 {
	c.refresh()
	lnL := make([]float64, len(c.active))
	if len(lnL) > 0 {
		parallel.Range(0, len(c.active), 0, func(low, high int) {
			for i := low; i < high; i++ {
				lnL[i] = c.active[i].AssignHaplotypes(c.cat, c.table, c.lg, &c.priors)
			}
		})
	}
	c.lnL = floats.Sum(lnL)
	return c.lnL
}

// RefreshPriors re-estimates the priors from the current posterior
// distributions.
func (c *Corpus) RefreshPriors() {
	c.priors.Refresh(c.cat, c.active)
	f := c.priors.Fractions(c.cat)
	log.Debugf("Priors updated, cardinality fractions: %.4g", f[1:])
}

// optimizePhase runs an optimizer for a single phase. The optimizer
// leaves the parameters at the best values found.
func (c *Corpus) optimizePhase(ph Phase, newOptimizer func() optimize.Optimizer) PhaseSummary {
	c.SetPhase(ph)
	log.Infof("Iteration %d: optimizing %v (%d sites)", c.iter, ph, len(c.phaseSites))
	opt := newOptimizer()
	opt.SetOptimizable(c)
	opt.Run(c.cfg.PhaseIterations)
	c.refresh()
	return PhaseSummary{
		Iteration: c.iter,
		Phase:     ph.String(),
		Summary:   opt.Summary(),
	}
}

// Run performs the alternating optimization. Every iteration fits
// the error model, then the frequencies at every timepoint, and then
// recomputes the posterior distributions.
func (c *Corpus) Run(newOptimizer func() optimize.Optimizer) (sum Summary) {
	final, err := c.restore()
	if err != nil {
		log.Error("Error loading checkpoint:", err)
	}
	c.AssignHaplotypes()
	log.Noticef("Initial lnL=%f", c.lnL)
	if final {
		sum.Iterations = c.iter
		sum.LnL = c.lnL
		sum.Converged = true
		return
	}

	for c.iter < c.cfg.Iterations {
		sum.Optimizations = append(sum.Optimizations, c.optimizePhase(ErrorModelFit{}, newOptimizer))
		if c.cfg.NHaplo > 1 {
			for tp := 0; tp < c.nTimepoints; tp++ {
				if !c.hasVariableData(tp) {
					continue
				}
				sum.Optimizations = append(sum.Optimizations, c.optimizePhase(FrequencyFit{tp}, newOptimizer))
			}
		}
		prev := c.lnL
		c.AssignHaplotypes()
		if c.cfg.UpdatePriors {
			c.RefreshPriors()
		}
		c.iter++
		log.Noticef("Iteration %d: lnL=%f, alpha0=%g, alphaE=%g", c.iter, c.lnL, c.alpha0, c.alphaE)
		if c.cp != nil && c.cp.Old() {
			c.saveCheckpoint(false)
		}
		if c.cfg.Tolerance > 0 && math.Abs(c.lnL-prev) <= c.cfg.Tolerance*math.Abs(prev) {
			log.Noticef("Converged after %d iterations", c.iter)
			sum.Converged = true
			break
		}
	}
	if c.cfg.UpdatePriors && c.iter > 0 {
		// posteriors consistent with the final priors
		c.AssignHaplotypes()
	}
	if c.cp != nil {
		c.saveCheckpoint(true)
	}
	sum.Iterations = c.iter
	sum.LnL = c.lnL
	return
}

// hasVariableData returns true if any variable site has reads at
// timepoint tp.
func (c *Corpus) hasVariableData(tp int) bool {
	for _, s := range c.variable {
		if s.HasData(tp) {
			return true
		}
	}
	return false
}

// SetCheckpointIO enables checkpoints.
func (c *Corpus) SetCheckpointIO(cp *checkpoint.CheckpointIO, runID string) {
	c.cp = cp
	c.runID = runID
}

func (c *Corpus) saveCheckpoint(final bool) {
	c.cp.Save(&checkpoint.CheckpointData{
		RunID:      c.runID,
		Parameters: c.ParameterMap(),
		Likelihood: c.lnL,
		Iter:       c.iter,
		Final:      final,
		Seed:       c.cfg.Seed,
	})
}

// restore loads the parameters from the checkpoint. It returns true
// if the checkpoint is final.
func (c *Corpus) restore() (bool, error) {
	if c.cp == nil {
		return false, nil
	}
	data, err := c.cp.GetParameters()
	if err != nil || data == nil {
		return false, err
	}
	if err := c.SetParameterMap(data.Parameters); err != nil {
		return false, err
	}
	c.iter = data.Iter
	return data.Final, nil
}

// ParameterMap returns all the model parameters and the priors.
func (c *Corpus) ParameterMap() map[string]float64 {
	m := c.allParameters.Map()
	for k, v := range c.priors.Map() {
		m[k] = v
	}
	return m
}

// SetParameterMap sets all the model parameters and the priors.
func (c *Corpus) SetParameterMap(m map[string]float64) error {
	if err := c.allParameters.SetFromMap(m); err != nil {
		return err
	}
	if err := c.priors.SetFromMap(m); err != nil {
		return err
	}
	for tp := range c.theta {
		StickBreak(c.theta[tp], c.freq[tp])
		c.freqDirty[tp] = false
	}
	c.alphaDirty = false
	c.table = NewTable(c.cat, c.alpha0, c.alphaE, c.freq)
	return nil
}

// SetFrequencies sets the haplotype frequencies at timepoint tp.
func (c *Corpus) SetFrequencies(tp int, freq []float64) error {
	if len(freq) != c.cfg.NHaplo {
		return fmt.Errorf("%w: expected %d frequencies, got %d", ErrInvalidHaplotypeCount, c.cfg.NHaplo, len(freq))
	}
	copy(c.theta[tp], InverseStickBreak(freq))
	c.freqDirty[tp] = true
	c.refresh()
	return nil
}

// Catalog returns the assignment catalog.
func (c *Corpus) Catalog() *Catalog {
	return c.cat
}

// NTimepoints returns the number of timepoints.
func (c *Corpus) NTimepoints() int {
	return c.nTimepoints
}

// NHaplo returns the number of haplotypes.
func (c *Corpus) NHaplo() int {
	return c.cfg.NHaplo
}

// Sites returns all the sites sorted by position.
func (c *Corpus) Sites() []*Site {
	return c.sites
}

// ActiveSites returns the sites with reads.
func (c *Corpus) ActiveSites() []*Site {
	return c.active
}

// VariableSites returns the active sites which are not conserved.
func (c *Corpus) VariableSites() []*Site {
	return c.variable
}

// LnL returns the log-likelihood computed by the last haplotype
// assignment.
func (c *Corpus) LnL() float64 {
	return c.lnL
}

// Alpha returns the Dirichlet concentrations.
func (c *Corpus) Alpha() (alpha0, alphaE float64) {
	return c.alpha0, c.alphaE
}

// ErrorRate returns the expected fraction of reads showing a
// particular wrong base.
func (c *Corpus) ErrorRate() float64 {
	return c.alphaE / (c.alpha0 + c.alphaE)
}

// NParameters returns the number of free parameters.
func (c *Corpus) NParameters() int {
	return 3 + (c.cfg.NHaplo-1)*c.nTimepoints
}

// Frequencies returns a copy of the haplotype frequencies indexed by
// timepoint.
func (c *Corpus) Frequencies() [][]float64 {
	c.refresh()
	res := make([][]float64, len(c.freq))
	for tp, f := range c.freq {
		res[tp] = append([]float64(nil), f...)
	}
	return res
}

// Priors returns the current priors.
func (c *Corpus) Priors() Priors {
	return c.priors
}

// Iterations returns the number of finished outer iterations.
func (c *Corpus) Iterations() int {
	return c.iter
}
