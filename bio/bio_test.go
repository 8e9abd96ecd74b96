package bio

import (
	"strings"
	"testing"
)

func TestBaseIndex(tst *testing.T) {
	for i := 0; i < NBases; i++ {
		if BaseIndex(BaseLetter(i)) != i {
			tst.Error("Base index does not round-trip for", i)
		}
	}
	if BaseIndex('u') != 3 || BaseIndex('N') != -1 {
		tst.Error("Wrong index for U or N")
	}
	if BaseLetter(5) != Unknown {
		tst.Error("Expected unknown letter for index 5")
	}
}

func TestWrap(tst *testing.T) {
	s := strings.Repeat("A", 170)
	w := Wrap(s, 80)
	lines := strings.Split(strings.TrimRight(w, "\n"), "\n")
	if len(lines) != 3 || len(lines[0]) != 80 || len(lines[2]) != 10 {
		tst.Errorf("Wrong wrapping: %q", w)
	}
}

func TestFastaRoundTrip(tst *testing.T) {
	seqs := Sequences{
		{Name: "Haplo_0", Sequence: strings.Repeat("ACGT", 30)},
		{Name: "Haplo_1", Sequence: "NNAC"},
	}
	parsed, err := ParseFasta(strings.NewReader(seqs.String()))
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if len(parsed) != 2 {
		tst.Fatal("Expected 2 sequences, got", len(parsed))
	}
	for i := range seqs {
		if parsed[i] != seqs[i] {
			tst.Errorf("Sequence %d mismatch: %v != %v", i, parsed[i], seqs[i])
		}
	}
}

func TestParseFastaNoPrefix(tst *testing.T) {
	if _, err := ParseFasta(strings.NewReader("ACGT\n")); err == nil {
		tst.Error("Expected an error for a sequence without a name")
	}
}
