// Package bio provides the nucleotide alphabet and FASTA formatting.
package bio

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// NBases is the number of nucleotides.
const NBases = 4

// Unknown is the letter used when no base can be called.
const Unknown = 'N'

// Bases is the nucleotide alphabet, the position in the string is
// the base index used everywhere in the read counts.
const Bases = "ACGT"

// BaseLetter returns the letter for a base index or Unknown if the
// index is out of range.
func BaseLetter(i int) byte {
	if i < 0 || i >= NBases {
		return Unknown
	}
	return Bases[i]
}

// BaseIndex returns the index of a nucleotide letter (case
// insensitive, U is treated as T) or -1.
func BaseIndex(b byte) int {
	switch b {
	case 'A', 'a':
		return 0
	case 'C', 'c':
		return 1
	case 'G', 'g':
		return 2
	case 'T', 't', 'U', 'u':
		return 3
	}
	return -1
}

// Sequence is a type which is intended for storing nucleotide
// sequence with it's name.
type Sequence struct {
	Name     string
	Sequence string
}

// Sequences stores multiple sequences, e.g. all the haplotypes.
type Sequences []Sequence

// ParseFasta parses FASTA sequences from a reader.
func ParseFasta(rd io.Reader) (seqs Sequences, err error) {
	seqs = make(Sequences, 0, 10)
	scanner := bufio.NewScanner(rd)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line[0] == '>' {
			seq := Sequence{Name: line[1:]}
			seqs = append(seqs, seq)
		} else {
			if len(seqs) == 0 {
				return nil, errors.New("sequence w/o prefix")
			}
			line = strings.ToUpper(strings.Replace(line, " ", "", -1))
			seqs[len(seqs)-1].Sequence += line
		}
	}
	return seqs, scanner.Err()
}

// Wrap inputs a string and wraps it so string length is n characters
// or less.
func Wrap(seq string, n int) string {
	var b strings.Builder
	for i := 0; i < len(seq); i += n {
		end := i + n
		if end > len(seq) {
			end = len(seq)
		}
		b.WriteString(seq[i:end])
		b.WriteByte('\n')
	}
	return b.String()
}

// String returns a sequence in FASTA format.
func (seq Sequence) String() string {
	return ">" + seq.Name + "\n" + Wrap(seq.Sequence, 80)
}

// String returns sequences in FASTA format.
func (seqs Sequences) String() string {
	var b strings.Builder
	for _, seq := range seqs {
		b.WriteString(seq.String())
	}
	return b.String()
}
