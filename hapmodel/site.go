package hapmodel

import (
	"math"

	"github.com/bits-and-blooms/bitset"
	"github.com/gonum/mathext"
	"gonum.org/v1/gonum/floats"

	"bitbucket.org/Davydov/hapdyn/bio"
	"bitbucket.org/Davydov/hapdyn/lgamma"
)

// Site holds the read counts observed at a single genome position over
// all the timepoints and the posterior distribution over the
// assignments compatible with the observed bases.
//
// A site is processed by at most one goroutine at a time.
type Site struct {
	// Position is the coordinate in the reference.
	Position int

	counts []Counts
	totals [][2]int
	// reads[tp][b] is the number of reads with base b on both
	// strands.
	reads   [][bio.NBases]int
	hasData []bool
	// tpConserved[tp] is true when all the reads at timepoint tp
	// show the same base.
	tpConserved []bool
	observed    *bitset.BitSet
	lastBase    int

	activated bool
	active    bool
	conserved bool

	minPosterior float64
	// local contains catalog indices of the compatible
	// assignments.
	local []int
	// logProb is the posterior log-probability for every element
	// of local.
	logProb []float64
	// kept are the positions in local of assignments with a
	// posterior above minPosterior.
	kept     []int
	scores   []float64
	terms    []float64
	assigned bool

	// estDiffBases[0] is the total weight, estDiffBases[k] is the
	// normalized weight of assignments with k distinct bases.
	estDiffBases [bio.NBases + 1]float64
}

// NewSite creates a site without any reads. Assignments with the
// posterior probability not exceeding minPosterior are ignored when
// computing the site likelihood.
func NewSite(position, nTimepoints int, minPosterior float64) *Site {
	return &Site{
		Position:     position,
		counts:       make([]Counts, nTimepoints),
		totals:       make([][2]int, nTimepoints),
		reads:        make([][bio.NBases]int, nTimepoints),
		hasData:      make([]bool, nTimepoints),
		tpConserved:  make([]bool, nTimepoints),
		observed:     bitset.New(bio.NBases),
		lastBase:     -1,
		minPosterior: minPosterior,
	}
}

// NTimepoints returns the number of timepoints.
func (s *Site) NTimepoints() int {
	return len(s.counts)
}

// AddTimepoint adds read counts at timepoint tp. Repeated calls for
// the same timepoint accumulate.
func (s *Site) AddTimepoint(tp int, counts Counts) {
	if s.activated {
		panic("adding reads to an activated site")
	}
	for st := range counts {
		for b, c := range counts[st] {
			s.counts[tp][st][b] += c
			s.totals[tp][st] += c
			s.reads[tp][b] += c
		}
	}
	nBases := 0
	total := 0
	for b, c := range s.reads[tp] {
		if c > 0 {
			nBases++
			total += c
			s.observed.Set(uint(b))
			s.lastBase = b
		}
	}
	s.hasData[tp] = total > 0
	s.tpConserved[tp] = nBases == 1
}

// Activate decides whether the site has any reads and whether it is
// conserved, and builds the list of the compatible assignments. It
// returns true if the site is active.
func (s *Site) Activate(cat *Catalog) bool {
	s.activated = true
	s.active = s.observed.Count() > 0
	if !s.active {
		return false
	}
	s.conserved = s.observed.Count() == 1
	if s.conserved {
		// a single assignment putting every haplotype on the
		// observed base
		s.local = []int{0}
		bases := make([]int, cat.NHaplo)
		for h := range bases {
			bases[h] = s.lastBase
		}
		s.local[0] = (&Assignment{Bases: bases}).Encode()
	} else {
		s.local = cat.Compatible(s.observed)
	}
	s.logProb = make([]float64, len(s.local))
	s.scores = make([]float64, len(s.local))
	s.terms = make([]float64, 0, len(s.local))
	return true
}

// Active returns true if at least one read was observed.
func (s *Site) Active() bool {
	return s.active
}

// Conserved returns true if the site is active and all the reads at
// all the timepoints show the same base.
func (s *Site) Conserved() bool {
	return s.conserved
}

// ConservedBase returns the base of a conserved site.
func (s *Site) ConservedBase() int {
	return s.lastBase
}

// HasData returns true if there are reads at timepoint tp.
func (s *Site) HasData(tp int) bool {
	return s.hasData[tp]
}

// TimepointConserved returns true if all the reads at timepoint tp
// show the same base.
func (s *Site) TimepointConserved(tp int) bool {
	return s.tpConserved[tp]
}

// Counts returns the read counts at timepoint tp.
func (s *Site) Counts(tp int) Counts {
	return s.counts[tp]
}

// Local returns catalog indices of the assignments considered for
// the site.
func (s *Site) Local() []int {
	return s.local
}

// Posterior returns posterior probabilities of the assignments in the
// same order as Local.
func (s *Site) Posterior() []float64 {
	p := make([]float64, len(s.logProb))
	for i, lp := range s.logProb {
		p[i] = math.Exp(lp)
	}
	return p
}

// EstDiffBases returns the normalized posterior weight of assignments
// by number of distinct bases; element 0 is the total weight.
func (s *Site) EstDiffBases() [bio.NBases + 1]float64 {
	return s.estDiffBases
}

// conservedLogLikelihood is the closed form of the likelihood of a
// conserved site summed over the timepoints in tps. The prior is
// included once.
func (s *Site) conservedLogLikelihood(tab *Table, lg lgamma.Func, pr *Priors, tps ...int) float64 {
	sum := tab.Alpha0 + (bio.NBases-1)*tab.AlphaE
	lgSum := lg.LogGamma(sum)
	lgA0 := lg.LogGamma(tab.Alpha0)
	res := pr[1]
	for _, tp := range tps {
		for _, n := range s.totals[tp] {
			if n == 0 {
				continue
			}
			fn := float64(n)
			res += lgSum - lg.LogGamma(sum+fn) + lg.LogGamma(tab.Alpha0+fn) - lgA0
		}
	}
	return res
}

// conservedAlphaGradient is the gradient of conservedLogLikelihood.
func (s *Site) conservedAlphaGradient(tab *Table, tps ...int) (g0, gE float64) {
	sum := tab.Alpha0 + (bio.NBases-1)*tab.AlphaE
	dSum := mathext.Digamma(sum)
	dA0 := mathext.Digamma(tab.Alpha0)
	for _, tp := range tps {
		for _, n := range s.totals[tp] {
			if n == 0 {
				continue
			}
			fn := float64(n)
			d := dSum - mathext.Digamma(sum+fn)
			g0 += d + mathext.Digamma(tab.Alpha0+fn) - dA0
			gE += (bio.NBases - 1) * d
		}
	}
	return
}

func (s *Site) allTimepoints() []int {
	tps := make([]int, 0, len(s.hasData))
	for tp, ok := range s.hasData {
		if ok {
			tps = append(tps, tp)
		}
	}
	return tps
}

// enumerate computes the score (prior plus the likelihood over all
// the timepoints) of every local assignment.
func (s *Site) enumerate(tab *Table, lg lgamma.Func, pr *Priors, cat *Catalog) []float64 {
	for i, a := range s.local {
		score := pr[cat.Assignments[a].NPresent]
		for tp := range s.counts {
			if !s.hasData[tp] {
				continue
			}
			score += tab.LogLikelihood(lg, tp, a, &s.counts[tp], &s.totals[tp])
		}
		s.scores[i] = score
	}
	return s.scores
}

// AssignHaplotypes computes the posterior distribution over the
// compatible assignments and returns the log-likelihood of the site
// data. For a conserved site the posterior is trivial and the closed
// form likelihood is returned.
func (s *Site) AssignHaplotypes(cat *Catalog, tab *Table, lg lgamma.Func, pr *Priors) float64 {
	if !s.active {
		return 0
	}
	s.assigned = true
	if s.conserved {
		s.logProb[0] = 0
		s.kept = []int{0}
		s.estDiffBases = [bio.NBases + 1]float64{1, 1}
		return s.conservedLogLikelihood(tab, lg, pr, s.allTimepoints()...)
	}

	scores := s.enumerate(tab, lg, pr, cat)
	iBest := floats.MaxIdx(scores)
	best := scores[iBest]
	lnL := floats.LogSumExp(scores)
	cBest := cat.Assignments[s.local[iBest]].NPresent

	s.estDiffBases = [bio.NBases + 1]float64{}
	s.kept = s.kept[:0]
	for i, a := range s.local {
		s.logProb[i] = scores[i] - lnL
		if math.Exp(s.logProb[i]) > s.minPosterior {
			s.kept = append(s.kept, i)
		}
		k := cat.Assignments[a].NPresent
		w := math.Exp(scores[i] - best - pr[k] + pr[cBest])
		s.estDiffBases[k] += w
		s.estDiffBases[0] += w
	}
	for k := 1; k < len(s.estDiffBases); k++ {
		s.estDiffBases[k] /= s.estDiffBases[0]
	}
	if len(s.kept) == 0 {
		for i, lp := range s.logProb {
			if !math.IsInf(lp, -1) {
				s.kept = append(s.kept, i)
			}
		}
	}
	return lnL
}

// timepointTerms fills s.terms with the posterior-weighted
// log-likelihoods of the kept assignments at timepoint tp.
func (s *Site) timepointTerms(cat *Catalog, tab *Table, lg lgamma.Func, pr *Priors, tp int) []float64 {
	if !s.assigned {
		panic("site likelihood requested before haplotype assignment")
	}
	s.terms = s.terms[:0]
	for _, i := range s.kept {
		a := s.local[i]
		t := s.logProb[i] + pr[cat.Assignments[a].NPresent]
		if s.hasData[tp] {
			t += tab.LogLikelihood(lg, tp, a, &s.counts[tp], &s.totals[tp])
		}
		s.terms = append(s.terms, t)
	}
	return s.terms
}

// TimepointLogLikelihood returns the site log-likelihood at a single
// timepoint with the posterior distribution fixed.
func (s *Site) TimepointLogLikelihood(cat *Catalog, tab *Table, lg lgamma.Func, pr *Priors, tp int) float64 {
	if !s.active {
		return 0
	}
	if s.conserved {
		return s.conservedLogLikelihood(tab, lg, pr, tp)
	}
	return floats.LogSumExp(s.timepointTerms(cat, tab, lg, pr, tp))
}

// LogLikelihood returns the site log-likelihood summed over the
// timepoints with the posterior distribution fixed.
func (s *Site) LogLikelihood(cat *Catalog, tab *Table, lg lgamma.Func, pr *Priors) (res float64) {
	if !s.active {
		return 0
	}
	if s.conserved {
		return s.conservedLogLikelihood(tab, lg, pr, s.allTimepoints()...)
	}
	for tp := range s.counts {
		res += floats.LogSumExp(s.timepointTerms(cat, tab, lg, pr, tp))
	}
	return
}

// AlphaGradient returns the derivatives of LogLikelihood with respect
// to Alpha0 and AlphaE.
func (s *Site) AlphaGradient(cat *Catalog, tab *Table, lg lgamma.Func, pr *Priors) (g0, gE float64) {
	if !s.active {
		return 0, 0
	}
	if s.conserved {
		return s.conservedAlphaGradient(tab, s.allTimepoints()...)
	}
	for tp := range s.counts {
		if !s.hasData[tp] {
			continue
		}
		terms := s.timepointTerms(cat, tab, lg, pr, tp)
		lse := floats.LogSumExp(terms)
		for j, i := range s.kept {
			w := math.Exp(terms[j] - lse)
			d0, dE := tab.AlphaGradient(tp, s.local[i], &s.counts[tp], &s.totals[tp])
			g0 += w * d0
			gE += w * dE
		}
	}
	return
}

// ConsensusBases returns for every haplotype the posterior probability
// of every base.
func (s *Site) ConsensusBases(cat *Catalog) [][bio.NBases]float64 {
	res := make([][bio.NBases]float64, cat.NHaplo)
	if !s.active {
		return res
	}
	if s.conserved {
		for h := range res {
			res[h][s.lastBase] = 1
		}
		return res
	}
	for i, a := range s.local {
		p := math.Exp(s.logProb[i])
		for h, b := range cat.Assignments[a].Bases {
			res[h][b] += p
		}
	}
	return res
}
