package hapmodel

import (
	"github.com/gonum/mathext"
	"github.com/gonum/matrix/mat64"

	"bitbucket.org/Davydov/hapdyn/bio"
	"bitbucket.org/Davydov/hapdyn/lgamma"
)

// Counts are the read counts at a single site and timepoint indexed
// by strand and base.
type Counts [2][bio.NBases]int

// Totals returns the number of reads per strand.
func (c *Counts) Totals() (tot [2]int) {
	for s := range c {
		for _, n := range c[s] {
			tot[s] += n
		}
	}
	return
}

// Table holds the quantities derived from the model parameters: for
// every timepoint and assignment the mixture proportion of every base
// and the corresponding Dirichlet-multinomial parameters. A Table is
// never modified after creation; updating the parameters produces a
// new one.
type Table struct {
	// Alpha0 is the concentration of a base present in the
	// mixture, AlphaE is the concentration of an error base.
	Alpha0, AlphaE float64
	nAssign        int
	// mixture[tp][4*a+b] is the proportion of base b under
	// assignment a.
	mixture [][]float64
	alpha   [][]float64
	// alphaSum[tp][a] is the sum of alpha over bases.
	alphaSum [][]float64
}

// NewTable computes the mixtures and the Dirichlet parameters for all
// the timepoints. freq[tp] is the vector of haplotype frequencies.
func NewTable(cat *Catalog, alpha0, alphaE float64, freq [][]float64) *Table {
	t := &Table{
		Alpha0:   alpha0,
		AlphaE:   alphaE,
		nAssign:  cat.Len(),
		mixture:  make([][]float64, len(freq)),
		alpha:    make([][]float64, len(freq)),
		alphaSum: make([][]float64, len(freq)),
	}
	if len(freq) == 0 {
		return t
	}
	f := mat64.NewDense(len(freq), cat.NHaplo, nil)
	for tp, row := range freq {
		f.SetRow(tp, row)
	}
	var m mat64.Dense
	m.Mul(f, cat.indicator)
	for tp := range freq {
		t.mixture[tp] = m.RawRowView(tp)
		t.fillAlpha(tp)
	}
	return t
}

// WithAlpha returns a table with new concentrations and the same
// mixtures.
func (t *Table) WithAlpha(alpha0, alphaE float64) *Table {
	n := &Table{
		Alpha0:   alpha0,
		AlphaE:   alphaE,
		nAssign:  t.nAssign,
		mixture:  t.mixture,
		alpha:    make([][]float64, len(t.mixture)),
		alphaSum: make([][]float64, len(t.mixture)),
	}
	for tp := range n.mixture {
		n.fillAlpha(tp)
	}
	return n
}

// WithFrequencies returns a table where haplotype frequencies at
// timepoint tp are replaced by freq.
func (t *Table) WithFrequencies(cat *Catalog, tp int, freq []float64) *Table {
	n := &Table{
		Alpha0:   t.Alpha0,
		AlphaE:   t.AlphaE,
		nAssign:  t.nAssign,
		mixture:  make([][]float64, len(t.mixture)),
		alpha:    make([][]float64, len(t.mixture)),
		alphaSum: make([][]float64, len(t.mixture)),
	}
	copy(n.mixture, t.mixture)
	copy(n.alpha, t.alpha)
	copy(n.alphaSum, t.alphaSum)

	f := mat64.NewDense(1, cat.NHaplo, nil)
	f.SetRow(0, freq)
	var m mat64.Dense
	m.Mul(f, cat.indicator)
	n.mixture[tp] = m.RawRowView(0)
	n.fillAlpha(tp)
	return n
}

func (t *Table) fillAlpha(tp int) {
	mix := t.mixture[tp]
	alpha := make([]float64, len(mix))
	sum := make([]float64, t.nAssign)
	for i, m := range mix {
		alpha[i] = m*t.Alpha0 + (1-m)*t.AlphaE
		sum[i/bio.NBases] += alpha[i]
	}
	t.alpha[tp] = alpha
	t.alphaSum[tp] = sum
}

// NTimepoints returns the number of timepoints.
func (t *Table) NTimepoints() int {
	return len(t.mixture)
}

// Mixture returns the base proportions of assignment a at timepoint
// tp. The slice should not be modified.
func (t *Table) Mixture(tp, a int) []float64 {
	return t.mixture[tp][bio.NBases*a : bio.NBases*(a+1)]
}

// Alpha returns the Dirichlet parameters of assignment a at timepoint
// tp. The slice should not be modified.
func (t *Table) Alpha(tp, a int) []float64 {
	return t.alpha[tp][bio.NBases*a : bio.NBases*(a+1)]
}

// LogLikelihood returns the Dirichlet-multinomial log-likelihood of
// the counts at timepoint tp under assignment a. Strands are
// independent and share the parameters.
func (t *Table) LogLikelihood(lg lgamma.Func, tp, a int, counts *Counts, totals *[2]int) (res float64) {
	alpha := t.Alpha(tp, a)
	sum := t.alphaSum[tp][a]
	for s := range counts {
		if totals[s] == 0 {
			continue
		}
		res += lg.LogGamma(sum) - lg.LogGamma(sum+float64(totals[s]))
		for b, c := range counts[s] {
			if c == 0 {
				continue
			}
			res += lg.LogGamma(alpha[b]+float64(c)) - lg.LogGamma(alpha[b])
		}
	}
	return
}

// AlphaGradient returns the derivatives of LogLikelihood with respect
// to Alpha0 and AlphaE.
func (t *Table) AlphaGradient(tp, a int, counts *Counts, totals *[2]int) (g0, gE float64) {
	mix := t.Mixture(tp, a)
	alpha := t.Alpha(tp, a)
	sum := t.alphaSum[tp][a]
	for s := range counts {
		if totals[s] == 0 {
			continue
		}
		d := mathext.Digamma(sum) - mathext.Digamma(sum+float64(totals[s]))
		g0 += d
		gE += d * (bio.NBases - 1)
		for b, c := range counts[s] {
			if c == 0 {
				continue
			}
			d := mathext.Digamma(alpha[b]+float64(c)) - mathext.Digamma(alpha[b])
			g0 += mix[b] * d
			gE += (1 - mix[b]) * d
		}
	}
	return
}
