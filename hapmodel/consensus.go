package hapmodel

import (
	"fmt"

	"bitbucket.org/Davydov/hapdyn/bio"
)

// Consensus holds the most probable base of every haplotype at every
// position between the first and the last site.
type Consensus struct {
	// Start is the position of the first element.
	Start int
	// Bases[h] is the sequence of haplotype h.
	Bases [][]byte
	// Prob[h][i] is the posterior probability of Bases[h][i].
	Prob [][]float64
}

// Consensus extracts the haplotype sequences. A base is reported if
// its probability exceeds minProb, otherwise the position is unknown.
// Conserved sites always report the observed base.
func (c *Corpus) Consensus(minProb float64) *Consensus {
	cs := &Consensus{
		Bases: make([][]byte, c.cfg.NHaplo),
		Prob:  make([][]float64, c.cfg.NHaplo),
	}
	length := 0
	if len(c.sites) > 0 {
		cs.Start = c.sites[0].Position
		length = c.sites[len(c.sites)-1].Position - cs.Start + 1
	}
	for h := range cs.Bases {
		cs.Bases[h] = make([]byte, length)
		for i := range cs.Bases[h] {
			cs.Bases[h][i] = bio.Unknown
		}
		cs.Prob[h] = make([]float64, length)
	}
	for _, s := range c.active {
		i := s.Position - cs.Start
		for h, p := range s.ConsensusBases(c.cat) {
			best := -1
			bestP := minProb
			for b, pb := range p {
				if pb > bestP {
					best = b
					bestP = pb
				}
			}
			if s.Conserved() {
				best = s.ConservedBase()
				bestP = 1
			}
			if best >= 0 {
				cs.Bases[h][i] = bio.BaseLetter(best)
				cs.Prob[h][i] = bestP
			}
		}
	}
	return cs
}

// Sequences returns the haplotype sequences named Haplo_0, Haplo_1...
func (cs *Consensus) Sequences() bio.Sequences {
	seqs := make(bio.Sequences, len(cs.Bases))
	for h, b := range cs.Bases {
		seqs[h] = bio.Sequence{
			Name:     fmt.Sprintf("Haplo_%d", h),
			Sequence: string(b),
		}
	}
	return seqs
}
