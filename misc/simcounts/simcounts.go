// Simcounts simulates a dataset for hapdyn: several haplotypes
// mixed with random frequencies and sequenced at several timepoints
// with a uniform error rate. It writes one count file per timepoint,
// the list file, the true haplotypes and the true frequencies.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/op/go-logging"
	"gopkg.in/alecthomas/kingpin.v2"

	"bitbucket.org/Davydov/hapdyn/bio"
	"bitbucket.org/Davydov/hapdyn/pileup"
)

var log = logging.MustGetLogger("simcounts")

var (
	app        = kingpin.New("simcounts", "simulate strand-resolved counts of a haplotype mixture")
	outDir     = app.Arg("dir", "output directory").Required().String()
	nHaplo     = app.Flag("haplotypes", "number of haplotypes").Short('n').Default("3").Int()
	length     = app.Flag("length", "number of sites").Short('l').Default("500").Int()
	nTimepoint = app.Flag("timepoints", "number of timepoints").Short('t').Default("4").Int()
	depth      = app.Flag("depth", "reads per strand per site").Default("200").Int()
	mutRate    = app.Flag("mut", "probability of a site to differ from the first haplotype").Default("0.02").Float64()
	errRate    = app.Flag("err", "sequencing error rate").Default("0.005").Float64()
	seed       = app.Flag("seed", "random generator seed, default time based").Default("-1").Int64()
)

// simSettings are the simulation parameters.
type simSettings struct {
	nHaplo     int
	length     int
	nTimepoint int
	depth      int
	mutRate    float64
	errRate    float64
}

// dataset is a simulated dataset together with the truth.
type dataset struct {
	haplotypes  bio.Sequences
	frequencies [][]float64
	timepoints  [][]pileup.Record
}

// randomBase returns a base different from b.
func randomBase(rng *rand.Rand, b int) int {
	return (b + 1 + rng.Intn(bio.NBases-1)) % bio.NBases
}

// dirichlet draws frequencies from the flat Dirichlet distribution.
func dirichlet(rng *rand.Rand, n int) []float64 {
	f := make([]float64, n)
	sum := 0.0
	for i := range f {
		f[i] = rng.ExpFloat64()
		sum += f[i]
	}
	for i := range f {
		f[i] /= sum
	}
	return f
}

// pick samples an index from a discrete distribution.
func pick(rng *rand.Rand, p []float64) int {
	u := rng.Float64()
	for i, x := range p {
		if u < x {
			return i
		}
		u -= x
	}
	return len(p) - 1
}

// simulate generates the haplotypes, the frequencies and the counts.
func simulate(s simSettings, rng *rand.Rand) *dataset {
	seqs := make([][]int, s.nHaplo)
	for h := range seqs {
		seqs[h] = make([]int, s.length)
		for pos := range seqs[h] {
			switch {
			case h == 0:
				seqs[h][pos] = rng.Intn(bio.NBases)
			case rng.Float64() < s.mutRate:
				seqs[h][pos] = randomBase(rng, seqs[0][pos])
			default:
				seqs[h][pos] = seqs[0][pos]
			}
		}
	}

	d := &dataset{
		haplotypes:  make(bio.Sequences, s.nHaplo),
		frequencies: make([][]float64, s.nTimepoint),
		timepoints:  make([][]pileup.Record, s.nTimepoint),
	}
	for h, seq := range seqs {
		var b strings.Builder
		for _, base := range seq {
			b.WriteByte(bio.BaseLetter(base))
		}
		d.haplotypes[h] = bio.Sequence{Name: fmt.Sprintf("Haplo_%d", h), Sequence: b.String()}
	}

	for tp := range d.timepoints {
		freq := dirichlet(rng, s.nHaplo)
		d.frequencies[tp] = freq
		recs := make([]pileup.Record, s.length)
		for pos := range recs {
			recs[pos].Position = pos + 1
			for strand := 0; strand < 2; strand++ {
				for i := 0; i < s.depth; i++ {
					base := seqs[pick(rng, freq)][pos]
					if rng.Float64() < s.errRate {
						base = randomBase(rng, base)
					}
					recs[pos].Counts[strand][base]++
				}
			}
		}
		d.timepoints[tp] = recs
	}
	return d
}

// write saves the dataset to a directory and returns the list file
// name.
func (d *dataset) write(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	var list strings.Builder
	for tp, recs := range d.timepoints {
		fn := fmt.Sprintf("tp%d.csv", tp)
		f, err := os.Create(filepath.Join(dir, fn))
		if err != nil {
			return "", err
		}
		err = pileup.WriteCounts(f, "sim", recs)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return "", err
		}
		fmt.Fprintln(&list, fn)
	}
	listFn := filepath.Join(dir, "samples.list")
	if err := os.WriteFile(listFn, []byte(list.String()), 0644); err != nil {
		return "", err
	}

	if err := os.WriteFile(filepath.Join(dir, "truth.fasta"), []byte(d.haplotypes.String()), 0644); err != nil {
		return "", err
	}
	var freq strings.Builder
	for _, f := range d.frequencies {
		for h, x := range f {
			if h > 0 {
				freq.WriteByte('\t')
			}
			fmt.Fprintf(&freq, "%.6f", x)
		}
		freq.WriteByte('\n')
	}
	if err := os.WriteFile(filepath.Join(dir, "truth.txt"), []byte(freq.String()), 0644); err != nil {
		return "", err
	}
	return listFn, nil
}

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))
	logging.SetBackend(logging.NewLogBackend(os.Stderr, "", 0))

	if *nHaplo < 1 || *length < 1 || *nTimepoint < 1 || *depth < 0 {
		log.Fatal("haplotypes, length and timepoints should be positive")
	}
	if *seed == -1 {
		*seed = time.Now().UnixNano()
	}
	log.Infof("Random seed=%v", *seed)
	rng := rand.New(rand.NewSource(*seed))

	d := simulate(simSettings{
		nHaplo:     *nHaplo,
		length:     *length,
		nTimepoint: *nTimepoint,
		depth:      *depth,
		mutRate:    *mutRate,
		errRate:    *errRate,
	}, rng)
	listFn, err := d.write(*outDir)
	if err != nil {
		log.Fatal(err)
	}
	log.Noticef("Wrote %d timepoints, list file %s", *nTimepoint, listFn)
}
