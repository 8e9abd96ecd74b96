// Package report formats the inference results: the fitted
// parameters, the haplotype frequencies and the consensus sequences.
package report

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"bitbucket.org/Davydov/hapdyn/bio"
	"bitbucket.org/Davydov/hapdyn/hapmodel"
)

// Results stores everything reported after the inference.
type Results struct {
	LnL         float64 `json:"lnL"`
	NParameters int     `json:"nParameters"`
	Alpha0      float64 `json:"alpha0"`
	AlphaE      float64 `json:"alphaE"`
	ErrorRate   float64 `json:"errorRate"`
	// Fractions[k-1] is the prior mass of assignments with k
	// distinct bases.
	Fractions []float64 `json:"cardinalityFractions"`
	// Frequencies are indexed by timepoint, then by haplotype.
	Frequencies [][]float64   `json:"frequencies"`
	Haplotypes  bio.Sequences `json:"-"`
	// Start is the position of the first consensus base.
	Start int `json:"start"`
}

// New collects the results from a corpus. Consensus bases with the
// probability not exceeding minProb are reported as unknown.
func New(c *hapmodel.Corpus, minProb float64) *Results {
	a0, aE := c.Alpha()
	f := c.Priors().Fractions(c.Catalog())
	cs := c.Consensus(minProb)
	return &Results{
		LnL:         c.LnL(),
		NParameters: c.NParameters(),
		Alpha0:      a0,
		AlphaE:      aE,
		ErrorRate:   c.ErrorRate(),
		Fractions:   f[1:],
		Frequencies: c.Frequencies(),
		Haplotypes:  cs.Sequences(),
		Start:       cs.Start,
	}
}

// WriteText writes the fitted parameters and the frequency table.
func (r *Results) WriteText(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "lnL=%f\n", r.LnL)
	fmt.Fprintf(bw, "Number of parameters: %d\n", r.NParameters)
	fmt.Fprintf(bw, "alpha0=%g alphaE=%g\n", r.Alpha0, r.AlphaE)
	fmt.Fprintf(bw, "Error rate: %g\n", r.ErrorRate)
	fmt.Fprint(bw, "Fraction of assignments by number of bases:")
	for k, f := range r.Fractions {
		fmt.Fprintf(bw, " %d:%.4g", k+1, f)
	}
	fmt.Fprintln(bw)

	fmt.Fprintln(bw, "Haplotype frequencies:")
	names := make([]string, len(r.Haplotypes))
	for h, seq := range r.Haplotypes {
		names[h] = seq.Name
	}
	fmt.Fprintf(bw, "Timepoint\t%s\n", strings.Join(names, "\t"))
	for tp, freq := range r.Frequencies {
		fmt.Fprintf(bw, "%d", tp)
		for _, f := range freq {
			fmt.Fprintf(bw, "\t%.6f", f)
		}
		fmt.Fprintln(bw)
	}
	return bw.Flush()
}

// WriteFasta writes the consensus haplotype sequences.
func (r *Results) WriteFasta(w io.Writer) error {
	_, err := io.WriteString(w, r.Haplotypes.String())
	return err
}

// Write writes the text report followed by the sequences.
func (r *Results) Write(w io.Writer) error {
	if err := r.WriteText(w); err != nil {
		return err
	}
	return r.WriteFasta(w)
}
