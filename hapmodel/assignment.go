package hapmodel

import (
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"github.com/gonum/matrix/mat64"

	"bitbucket.org/Davydov/hapdyn/bio"
)

// MaxHaplo is the maximum number of haplotypes. The catalog size
// grows as 4^nHaplo.
const MaxHaplo = 8

var (
	// ErrInvalidIndex is returned for an assignment index outside
	// of [0, 4^nHaplo).
	ErrInvalidIndex = errors.New("invalid assignment index")
	// ErrInvalidHaplotypeCount is returned for a haplotype count
	// outside of [1, MaxHaplo].
	ErrInvalidHaplotypeCount = errors.New("invalid number of haplotypes")
)

// Assignment maps every haplotype to a nucleotide at a site.
type Assignment struct {
	// Index is the position in the catalog; base-4 digit i is
	// the base of haplotype i.
	Index int
	// Bases is the base index of every haplotype.
	Bases []int
	// Present is the set of bases used by the assignment.
	Present *bitset.BitSet
	// NPresent is the number of distinct bases (1..4).
	NPresent int
}

// pow4 returns 4^n.
func pow4(n int) int {
	return 1 << (2 * uint(n))
}

// NewAssignment decodes an assignment index for nHaplo haplotypes.
func NewAssignment(index, nHaplo int) (*Assignment, error) {
	if nHaplo < 1 || nHaplo > MaxHaplo {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHaplotypeCount, nHaplo)
	}
	if index < 0 || index >= pow4(nHaplo) {
		return nil, fmt.Errorf("%w: %d (%d haplotypes)", ErrInvalidIndex, index, nHaplo)
	}
	a := &Assignment{
		Index:   index,
		Bases:   make([]int, nHaplo),
		Present: bitset.New(bio.NBases),
	}
	for h := range a.Bases {
		a.Bases[h] = index % bio.NBases
		index /= bio.NBases
		a.Present.Set(uint(a.Bases[h]))
	}
	a.NPresent = int(a.Present.Count())
	return a, nil
}

// Encode returns the catalog index of the assignment computed from
// its bases.
func (a *Assignment) Encode() (index int) {
	for h := len(a.Bases) - 1; h >= 0; h-- {
		index = index*bio.NBases + a.Bases[h]
	}
	return
}

// String returns the assignment as a string of base letters, one per
// haplotype.
func (a *Assignment) String() string {
	b := make([]byte, len(a.Bases))
	for h, base := range a.Bases {
		b[h] = bio.BaseLetter(base)
	}
	return string(b)
}

// Catalog is the immutable set of all the 4^nHaplo assignments.
type Catalog struct {
	// NHaplo is the number of haplotypes.
	NHaplo int
	// Assignments is indexed by assignment index.
	Assignments []*Assignment
	// NByCardinality[k] is the number of assignments using
	// exactly k distinct bases.
	NByCardinality [bio.NBases + 1]int
	// indicator is the nHaplo x 4N matrix, element (h, 4a+b) is
	// 1 if assignment a puts haplotype h on base b.
	indicator *mat64.Dense
}

// NewCatalog creates all the assignments for nHaplo haplotypes.
func NewCatalog(nHaplo int) (*Catalog, error) {
	if nHaplo < 1 || nHaplo > MaxHaplo {
		return nil, fmt.Errorf("%w: %d, should be between 1 and %d", ErrInvalidHaplotypeCount, nHaplo, MaxHaplo)
	}
	n := pow4(nHaplo)
	cat := &Catalog{
		NHaplo:      nHaplo,
		Assignments: make([]*Assignment, n),
		indicator:   mat64.NewDense(nHaplo, bio.NBases*n, nil),
	}
	for i := range cat.Assignments {
		a, err := NewAssignment(i, nHaplo)
		if err != nil {
			return nil, err
		}
		cat.Assignments[i] = a
		cat.NByCardinality[a.NPresent]++
		for h, base := range a.Bases {
			cat.indicator.Set(h, bio.NBases*i+base, 1)
		}
	}
	return cat, nil
}

// Len returns the number of assignments.
func (cat *Catalog) Len() int {
	return len(cat.Assignments)
}

// Compatible returns indices of assignments which use only the bases
// from the observed set.
func (cat *Catalog) Compatible(observed *bitset.BitSet) (idx []int) {
	for i, a := range cat.Assignments {
		if observed.IsSuperSet(a.Present) {
			idx = append(idx, i)
		}
	}
	return
}
