package hapmodel

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"bitbucket.org/Davydov/hapdyn/bio"
	"bitbucket.org/Davydov/hapdyn/checkpoint"
	"bitbucket.org/Davydov/hapdyn/lgamma"
	"bitbucket.org/Davydov/hapdyn/optimize"
	"bitbucket.org/Davydov/hapdyn/pileup"
)

// simulate creates two timepoints for two haplotypes. Every fourth
// site is variable with A in haplotype 0 and C in haplotype 1, other
// sites are conserved G. Haplotype 0 frequencies are f0 and f1.
func simulate(nSites int, f0, f1 float64) [][]pileup.Record {
	const depth = 100
	tps := make([][]pileup.Record, 2)
	for tp, f := range []float64{f0, f1} {
		for pos := 1; pos <= nSites; pos++ {
			rec := pileup.Record{Position: pos}
			for s := range rec.Counts {
				if pos%4 == 0 {
					rec.Counts[s][0] = int(math.Round(depth * f))
					rec.Counts[s][1] = depth - rec.Counts[s][0]
				} else {
					rec.Counts[s][2] = depth
				}
			}
			tps[tp] = append(tps[tp], rec)
		}
	}
	return tps
}

func newTestCorpus(tst *testing.T, tps [][]pileup.Record, nHaplo int) *Corpus {
	cfg := DefaultConfig()
	cfg.NHaplo = nHaplo
	c, err := NewCorpus(tps, cfg, lgamma.Exact{})
	if err != nil {
		tst.Fatal("Error creating corpus:", err)
	}
	return c
}

func newSimplex() optimize.Optimizer {
	ds := optimize.NewDS()
	ds.Quiet = true
	return ds
}

func TestNewCorpus(tst *testing.T) {
	tps := simulate(20, 0.8, 0.3)
	// a site without reads and a site present at a single timepoint
	tps[0] = append(tps[0], pileup.Record{Position: 30}, pileup.Record{Position: 25, Counts: [2][4]int{{0, 0, 0, 1}}})
	c := newTestCorpus(tst, tps, 2)
	if len(c.Sites()) != 22 || len(c.ActiveSites()) != 21 || len(c.VariableSites()) != 5 {
		tst.Error("Wrong number of sites", len(c.Sites()), len(c.ActiveSites()), len(c.VariableSites()))
	}
	for i := 1; i < len(c.Sites()); i++ {
		if c.Sites()[i-1].Position >= c.Sites()[i].Position {
			tst.Error("Sites are not sorted")
		}
	}
	if c.NParameters() != 5 {
		tst.Error("Expected 5 parameters, got", c.NParameters())
	}
	for _, f := range c.Frequencies() {
		if !almostEqual(f[0], 0.5, smallDiff) || !almostEqual(f[1], 0.5, smallDiff) {
			tst.Error("Expected uniform starting frequencies, got", f)
		}
	}

	if _, err := NewCorpus(nil, DefaultConfig(), lgamma.Exact{}); !errors.Is(err, ErrNoTimepoints) {
		tst.Error("Expected no timepoints error, got", err)
	}
	cfg := DefaultConfig()
	cfg.NHaplo = 0
	if _, err := NewCorpus(tps, cfg, lgamma.Exact{}); !errors.Is(err, ErrInvalidHaplotypeCount) {
		tst.Error("Expected invalid haplotype count error, got", err)
	}
}

func TestSubsample(tst *testing.T) {
	cfg := DefaultConfig()
	cfg.NHaplo = 2
	cfg.SubsampleFrac = [2]float64{0.5, 0.25}
	c, err := NewCorpus(simulate(400, 0.5, 0.5), cfg, lgamma.Exact{})
	if err != nil {
		tst.Fatal("Error:", err)
	}
	n0, n1 := len(c.subsample[0]), len(c.subsample[1])
	if n0 < 150 || n0 > 250 || n1 < 60 || n1 > 140 {
		tst.Error("Wrong subsample sizes", n0, n1)
	}
	if len(c.errorModelSites()) != n0 {
		tst.Error("First iteration should use the first subsample")
	}
	c.iter = 1
	if len(c.errorModelSites()) != n1 {
		tst.Error("Later iterations should use the second subsample")
	}
}

func TestCorpusGradient(tst *testing.T) {
	c := newTestCorpus(tst, simulate(40, 0.8, 0.3), 2)
	c.SetFrequencies(0, []float64{0.7, 0.3})
	c.SetFrequencies(1, []float64{0.4, 0.6})
	c.AssignHaplotypes()
	c.SetPhase(ErrorModelFit{})

	par := c.GetFloatParameters()
	if len(par) != 2 {
		tst.Fatal("Expected two parameters, got", len(par))
	}
	for _, x := range [][]float64{{100, 0.2}, {20, 1}} {
		par.SetValues(x)
		grad := make([]float64, 2)
		if !c.LikelihoodGradient(grad) {
			tst.Fatal("Gradient should be available")
		}
		for i := range x {
			h := 1e-4 * x[i]
			x1 := append([]float64(nil), x...)
			x2 := append([]float64(nil), x...)
			x1[i] -= h
			x2[i] += h
			par.SetValues(x1)
			l1 := c.Likelihood()
			par.SetValues(x2)
			l2 := c.Likelihood()
			num := (l2 - l1) / (2 * h)
			if !almostEqual(grad[i], num, 1e-4) {
				tst.Error("Wrong gradient", i, grad[i], "numerical", num)
			}
		}
		par.SetValues(x)
	}

	c.SetPhase(FrequencyFit{0})
	if c.LikelihoodGradient(make([]float64, 1)) {
		tst.Error("Gradient should not be available for frequencies")
	}
	if len(c.GetFloatParameters()) != 1 || len(c.phaseSites) != 10 {
		tst.Error("Wrong frequency phase", len(c.GetFloatParameters()), len(c.phaseSites))
	}
}

func TestPhaseLikelihood(tst *testing.T) {
	c := newTestCorpus(tst, simulate(40, 0.8, 0.3), 2)
	c.SetFrequencies(0, []float64{0.7, 0.3})
	c.SetFrequencies(1, []float64{0.4, 0.6})
	lnL := c.AssignHaplotypes()
	if math.IsNaN(lnL) || lnL >= 0 {
		tst.Error("Wrong log-likelihood", lnL)
	}
	c.SetPhase(ErrorModelFit{})
	l := c.Likelihood()

	// frequency likelihood does not depend on the other timepoint
	c.SetPhase(FrequencyFit{0})
	l0 := c.Likelihood()
	c.SetFrequencies(1, []float64{0.1, 0.9})
	if c.Likelihood() != l0 {
		tst.Error("Likelihood at timepoint 0 changed")
	}
	// better frequencies improve the likelihood
	c.GetFloatParameters().SetValues([]float64{0.8})
	if c.Likelihood() <= l0 {
		tst.Error("Expected a better likelihood at the true frequency")
	}
	if math.IsNaN(l) {
		tst.Error("NaN likelihood")
	}
}

func checkFrequencies(tst *testing.T, c *Corpus, exp [][]float64) {
	for tp, f := range c.Frequencies() {
		for h := range f {
			if math.Abs(f[h]-exp[tp][h]) > 0.02 {
				tst.Errorf("Timepoint %d: expected frequencies %v, got %v", tp, exp[tp], f)
				break
			}
		}
	}
}

func TestRun(tst *testing.T) {
	c := newTestCorpus(tst, simulate(40, 0.8, 0.3), 2)
	c.cfg.Iterations = 4
	c.cfg.PhaseIterations = 500
	// break the symmetry of the uniform start
	c.SetFrequencies(0, []float64{0.6, 0.4})
	c.SetFrequencies(1, []float64{0.4, 0.6})

	sum := c.Run(newSimplex)
	if sum.Iterations != 4 || len(sum.Optimizations) != 12 {
		tst.Error("Wrong summary", sum.Iterations, len(sum.Optimizations))
	}
	checkFrequencies(tst, c, [][]float64{{0.8, 0.2}, {0.3, 0.7}})

	a0, aE := c.Alpha()
	if a0 <= aE {
		tst.Error("Expected alpha0 > alphaE, got", a0, aE)
	}
	if c.ErrorRate() > 0.01 {
		tst.Error("Error rate is too high:", c.ErrorRate())
	}

	cs := c.Consensus(0.5)
	if cs.Start != 1 || len(cs.Bases[0]) != 40 {
		tst.Fatal("Wrong consensus range", cs.Start, len(cs.Bases[0]))
	}
	for i := range cs.Bases[0] {
		exp0, exp1 := byte('G'), byte('G')
		if (i+1)%4 == 0 {
			exp0, exp1 = 'A', 'C'
		}
		if cs.Bases[0][i] != exp0 || cs.Bases[1][i] != exp1 {
			tst.Errorf("Position %d: expected %c%c, got %c%c", i+1, exp0, exp1, cs.Bases[0][i], cs.Bases[1][i])
		}
	}
	seqs := cs.Sequences()
	if len(seqs) != 2 || seqs[1].Name != "Haplo_1" {
		tst.Error("Wrong sequences", seqs)
	}
	f := c.Priors().Fractions(c.Catalog())
	if !almostEqual(f[1], 0.75, 1e-3) || !almostEqual(f[2], 0.25, 1e-3) {
		tst.Error("Wrong prior fractions", f)
	}
}

func TestRunTolerance(tst *testing.T) {
	c := newTestCorpus(tst, simulate(40, 0.8, 0.3), 2)
	c.cfg.Iterations = 50
	c.cfg.Tolerance = 1e-6
	c.cfg.PhaseIterations = 500
	c.SetFrequencies(0, []float64{0.6, 0.4})
	c.SetFrequencies(1, []float64{0.4, 0.6})
	sum := c.Run(newSimplex)
	if !sum.Converged || sum.Iterations >= 50 {
		tst.Error("Expected convergence, got", sum.Iterations, "iterations")
	}
}

func TestSingleHaplotype(tst *testing.T) {
	c := newTestCorpus(tst, simulate(20, 0.8, 0.3), 1)
	c.cfg.Iterations = 1
	sum := c.Run(newSimplex)
	// no frequency fits for a single haplotype
	if len(sum.Optimizations) != 1 {
		tst.Error("Expected only the error model fit, got", len(sum.Optimizations))
	}
	for _, f := range c.Frequencies() {
		if f[0] != 1 {
			tst.Error("Expected frequency one, got", f)
		}
	}
	cs := c.Consensus(0)
	// a mixed A/C site, the only haplotype takes one of the two
	if b := cs.Bases[0][3]; b != 'A' && b != 'C' {
		tst.Error("Expected A or C, got", string(b))
	}
}

func TestConservedConsensus(tst *testing.T) {
	tps := [][]pileup.Record{{
		{Position: 1, Counts: [2][4]int{{0, 0, 0, 10}, {0, 0, 0, 3}}},
		{Position: 3, Counts: [2][4]int{{0, 0, 0, 1}, {0, 0, 0, 0}}},
	}}
	for _, alpha := range [][2]float64{{100, 0.2}, {0.5, 50}} {
		cfg := DefaultConfig()
		cfg.Alpha0, cfg.AlphaE = alpha[0], alpha[1]
		c, err := NewCorpus(tps, cfg, lgamma.Exact{})
		if err != nil {
			tst.Fatal("Error:", err)
		}
		c.AssignHaplotypes()
		cs := c.Consensus(0.5)
		for _, seq := range cs.Sequences() {
			if seq.Sequence != "T"+string(bio.Unknown)+"T" {
				tst.Error("Expected TNT, got", seq.Sequence)
			}
		}
		for h, p := range cs.Prob {
			if p[0] != 1 || p[1] != 0 || p[2] != 1 {
				tst.Error("Wrong consensus probabilities", h, p)
			}
		}
	}
}

func TestSplitSite(tst *testing.T) {
	tps := [][]pileup.Record{
		{{Position: 1, Counts: [2][4]int{{50, 0, 0, 0}, {50, 0, 0, 0}}}},
		{{Position: 1, Counts: [2][4]int{{25, 25, 0, 0}, {25, 25, 0, 0}}}},
	}
	c := newTestCorpus(tst, tps, 2)
	c.cfg.Iterations = 5
	if len(c.ActiveSites()) != 1 || len(c.VariableSites()) != 1 {
		tst.Fatal("Expected an active variable site")
	}
	s := c.ActiveSites()[0]
	if !s.Active() || s.Conserved() {
		tst.Error("Wrong site flags", s.Active(), s.Conserved())
	}
	c.SetFrequencies(0, []float64{0.9, 0.1})
	c.Run(newSimplex)

	freq := c.Frequencies()
	if !almostEqual(freq[1][0], 0.5, 0.05) {
		tst.Error("Expected equal frequencies at the second timepoint, got", freq[1])
	}
	if freq[0][0] < 0.9 {
		tst.Error("Expected haplotype 0 to dominate the first timepoint, got", freq[0])
	}

	split := 0.0
	total := 0.0
	for i, p := range s.Posterior() {
		total += p
		b := c.Catalog().Assignments[s.Local()[i]].Bases
		if (b[0] == 0 && b[1] == 1) || (b[0] == 1 && b[1] == 0) {
			split += p
		}
	}
	if !almostEqual(total, 1, smallDiff) {
		tst.Error("Posterior does not sum to one:", total)
	}
	if split < 0.95 {
		tst.Error("Expected the posterior on A/C assignments, got", split)
	}
}

func TestCheckpoint(tst *testing.T) {
	db, err := checkpoint.Open(filepath.Join(tst.TempDir(), "cp.db"))
	if err != nil {
		tst.Fatal("Error opening database:", err)
	}
	defer db.Close()
	key := checkpoint.Key("test")

	c := newTestCorpus(tst, simulate(40, 0.8, 0.3), 2)
	c.cfg.Iterations = 2
	c.SetFrequencies(0, []float64{0.6, 0.4})
	c.SetFrequencies(1, []float64{0.4, 0.6})
	c.SetCheckpointIO(checkpoint.NewCheckpointIO(db, key, 1000), "run1")
	c.Run(newSimplex)
	exp := c.ParameterMap()

	// a finished checkpoint skips the optimization
	r := newTestCorpus(tst, simulate(40, 0.8, 0.3), 2)
	r.SetCheckpointIO(checkpoint.NewCheckpointIO(db, key, 1000), "run2")
	sum := r.Run(newSimplex)
	if len(sum.Optimizations) != 0 || sum.Iterations != 2 {
		tst.Error("Expected a restored result", sum.Iterations, len(sum.Optimizations))
	}
	for k, v := range r.ParameterMap() {
		if v != exp[k] {
			tst.Error("Wrong restored parameter", k, v, exp[k])
		}
	}
	if !almostEqual(r.LnL(), c.LnL(), smallDiff) {
		tst.Error("Wrong restored likelihood", r.LnL(), c.LnL())
	}
}
