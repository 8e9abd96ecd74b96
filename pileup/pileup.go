// Package pileup reads strand-resolved per-site nucleotide counts.
//
// A dataset is described by a list file, one count file per line,
// each line being a timepoint. Paths are relative to the list file
// directory. Every count file line describes one site:
//
//	reference,position,refbase,A+,A-,C+,C-,G+,G-,T+,T-
//
// Commas and tabs are accepted as separators. Lines containing
// "Position" are treated as headers and skipped.
package pileup

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/op/go-logging"
	"golang.org/x/sync/errgroup"

	"bitbucket.org/Davydov/hapdyn/bio"
)

var log = logging.MustGetLogger("pileup")

const (
	// headerMarker identifies header lines.
	headerMarker = "Position"
	// positionField is the index of the site position field.
	positionField = 1
	// countsField is the index of the first count field.
	countsField = 3
	// nFields is the minimal number of fields in a data line.
	nFields = countsField + 2*bio.NBases
)

// ErrMalformedLine is returned for lines which cannot be parsed.
var ErrMalformedLine = errors.New("malformed count line")

// Record is the read counts at a single site for one timepoint.
type Record struct {
	// Position is the site index.
	Position int
	// Counts is indexed by [strand][base].
	Counts [2][bio.NBases]int
}

// Total returns the total number of reads.
func (r Record) Total() (n int) {
	for _, strand := range r.Counts {
		for _, c := range strand {
			n += c
		}
	}
	return
}

// splitFields splits a line on commas and tabs.
func splitFields(line string) []string {
	return strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == '\t'
	})
}

// ParseLine parses a single data line.
func ParseLine(line string) (rec Record, err error) {
	fields := splitFields(line)
	if len(fields) < nFields {
		return rec, fmt.Errorf("%w: %d fields, expected at least %d", ErrMalformedLine, len(fields), nFields)
	}
	rec.Position, err = strconv.Atoi(strings.TrimSpace(fields[positionField]))
	if err != nil {
		return rec, fmt.Errorf("%w: position %q", ErrMalformedLine, fields[positionField])
	}
	if rec.Position < 0 {
		return rec, fmt.Errorf("%w: negative position %d", ErrMalformedLine, rec.Position)
	}
	for base := 0; base < bio.NBases; base++ {
		for strand := 0; strand < 2; strand++ {
			f := strings.TrimSpace(fields[countsField+2*base+strand])
			c, err := strconv.Atoi(f)
			if err != nil || c < 0 {
				return rec, fmt.Errorf("%w: count %q", ErrMalformedLine, f)
			}
			rec.Counts[strand][base] = c
		}
	}
	return rec, nil
}

// ReadCounts reads all the records from a reader. The name is used
// in error messages.
func ReadCounts(rd io.Reader, name string) (recs []Record, err error) {
	scanner := bufio.NewScanner(rd)
	nLine := 0
	for scanner.Scan() {
		nLine++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.Contains(line, headerMarker) {
			continue
		}
		rec, err := ParseLine(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", name, nLine, err)
		}
		recs = append(recs, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%s: %v", name, err)
	}
	return recs, nil
}

// header is written at the beginning of every count file.
const header = "Reference,Position,Base,A+,A-,C+,C-,G+,G-,T+,T-"

// WriteCounts writes records in the count file format. The reference
// base column is set to the most frequent base.
func WriteCounts(w io.Writer, refName string, recs []Record) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, header)
	for _, rec := range recs {
		fmt.Fprintf(bw, "%s,%d,%c", refName, rec.Position, rec.majorBase())
		for base := 0; base < bio.NBases; base++ {
			fmt.Fprintf(bw, ",%d,%d", rec.Counts[0][base], rec.Counts[1][base])
		}
		fmt.Fprintln(bw)
	}
	return bw.Flush()
}

// majorBase returns the letter of the most frequent base, or N for
// a site without reads.
func (r Record) majorBase() byte {
	best, bestN := -1, 0
	for base := 0; base < bio.NBases; base++ {
		if n := r.Counts[0][base] + r.Counts[1][base]; n > bestN {
			best, bestN = base, n
		}
	}
	return bio.BaseLetter(best)
}

// ReadFile reads all the records from a count file.
func ReadFile(fn string) ([]Record, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCounts(f, fn)
}

// ReadFileList returns count file names listed in a list file.
// Relative names are resolved against the list file directory.
func ReadFileList(fn string) (files []string, err error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dir := filepath.Dir(fn)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name == "" {
			continue
		}
		if !filepath.IsAbs(name) {
			name = filepath.Join(dir, name)
		}
		files = append(files, name)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%s: no count files listed", fn)
	}
	return files, nil
}

// Load reads the list file and all the count files it references.
// The result is indexed by timepoint. Files are read concurrently.
func Load(listFn string) ([][]Record, error) {
	files, err := ReadFileList(listFn)
	if err != nil {
		return nil, err
	}
	log.Infof("Reading %d timepoint files", len(files))

	timepoints := make([][]Record, len(files))
	var g errgroup.Group
	for i, fn := range files {
		i, fn := i, fn
		g.Go(func() error {
			recs, err := ReadFile(fn)
			if err != nil {
				return err
			}
			log.Debugf("%s: %d records", fn, len(recs))
			timepoints[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return timepoints, nil
}
