package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/op/go-logging"

	"bitbucket.org/Davydov/hapdyn/bio"
	"bitbucket.org/Davydov/hapdyn/hapmodel"
	"bitbucket.org/Davydov/hapdyn/optimize"
)

func init() {
	for _, l := range loggers {
		logging.SetLevel(logging.WARNING, l)
	}
}

func TestGetOptimizer(tst *testing.T) {
	for _, m := range []string{"simplex", "lbfgsb", "none"} {
		o := optimizerSettings{method: m}
		opt, err := o.getOptimizer()
		if err != nil || opt == nil {
			tst.Error("Error creating optimizer", m, err)
		}
	}
	o := optimizerSettings{method: "mh"}
	if _, err := o.getOptimizer(); err == nil {
		tst.Error("Expected an error for an unknown method")
	}
	if _, err := o.factory(); err == nil {
		tst.Error("Expected an error for an unknown method")
	}
}

func TestFactory(tst *testing.T) {
	var traj bytes.Buffer
	o := optimizerSettings{method: "none", report: 1, trajF: &traj}
	newOptimizer, err := o.factory()
	if err != nil {
		tst.Fatal("Error:", err)
	}
	opt := newOptimizer()
	if _, ok := opt.(*optimize.None); !ok {
		tst.Errorf("Expected none optimizer, got %T", opt)
	}
}

// writeDataset writes two timepoints with a variable site every
// fifth position.
func writeDataset(tst *testing.T, dir string) string {
	var files []string
	for tp, f := range []float64{0.9, 0.2} {
		var b strings.Builder
		b.WriteString("Reference,Position,Base,A+,A-,C+,C-,G+,G-,T+,T-\n")
		for pos := 1; pos <= 50; pos++ {
			c := [4]int{0, 0, 0, 60}
			if pos%5 == 0 {
				c[0] = int(60 * f)
				c[3] = 60 - c[0]
			}
			fmt.Fprintf(&b, "ref,%d,T,%d,%d,0,0,0,0,%d,%d\n", pos, c[0], c[0], c[3], c[3])
		}
		fn := fmt.Sprintf("tp%d.csv", tp)
		if err := os.WriteFile(filepath.Join(dir, fn), []byte(b.String()), 0644); err != nil {
			tst.Fatal(err)
		}
		files = append(files, fn)
	}
	list := filepath.Join(dir, "samples.list")
	if err := os.WriteFile(list, []byte(strings.Join(files, "\n")+"\n"), 0644); err != nil {
		tst.Fatal(err)
	}
	return list
}

func TestRun(tst *testing.T) {
	if testing.Short() {
		tst.Skip("skipping the full run in short mode")
	}
	dir := tst.TempDir()
	cfg := hapmodel.DefaultConfig()
	cfg.NHaplo = 2
	cfg.Iterations = 2
	cfg.PhaseIterations = 200
	cfg.Randomize = true
	s := &runSettings{
		listFileName:       writeDataset(tst, dir),
		config:             cfg,
		gammaCache:         10000,
		minProb:            0.5,
		optimizer:          optimizerSettings{method: "simplex", report: 10},
		outFileName:        filepath.Join(dir, "out.txt"),
		trajFileName:       filepath.Join(dir, "traj.txt"),
		checkpointFileName: filepath.Join(dir, "cp.db"),
		checkpointSeconds:  1000,
	}
	summary, err := run(s)
	if err != nil {
		tst.Fatal("Error running:", err)
	}
	if summary.RunID == "" || summary.Inference.Iterations != 2 || summary.Results == nil {
		tst.Error("Wrong summary", summary)
	}

	out, err := os.ReadFile(s.outFileName)
	if err != nil {
		tst.Fatal(err)
	}
	i := bytes.IndexByte(out, '>')
	if i < 0 {
		tst.Fatal("No haplotypes in the output")
	}
	seqs, err := bio.ParseFasta(bytes.NewReader(out[i:]))
	if err != nil || len(seqs) != 2 {
		tst.Fatal("Wrong haplotypes", seqs, err)
	}
	for _, seq := range seqs {
		if len(seq.Sequence) != 50 || seq.Sequence[0] != 'T' {
			tst.Error("Wrong haplotype", seq)
		}
	}
	if st, err := os.Stat(s.trajFileName); err != nil || st.Size() == 0 {
		tst.Error("Trajectory was not written", err)
	}

	// the second run resumes from the final checkpoint even with
	// another time based seed
	firstSeed := s.config.Seed
	s.config.Seed = firstSeed + 1000
	again, err := run(s)
	if err != nil {
		tst.Fatal("Error running:", err)
	}
	if len(again.Inference.Optimizations) != 0 || again.Results.LnL != summary.Results.LnL {
		tst.Error("Expected the results from the checkpoint", again.Results.LnL, summary.Results.LnL)
	}
	if again.Seed != firstSeed || summary.Seed != firstSeed {
		tst.Error("Expected the seed from the checkpoint", again.Seed, firstSeed)
	}
}

func TestCheckpointKey(tst *testing.T) {
	cfg := hapmodel.DefaultConfig()
	s1 := &runSettings{listFileName: "samples.list", config: cfg, optimizer: optimizerSettings{method: "simplex"}}
	s2 := *s1
	s1.config.Seed = 1697000000123456789
	s2.config.Seed = 1697000042987654321
	s2.config.Iterations = 50
	if !bytes.Equal(s1.checkpointKey(), s2.checkpointKey()) {
		tst.Error("Different keys for runs differing in the seed and the iterations")
	}
	s2.config.NHaplo = 4
	if bytes.Equal(s1.checkpointKey(), s2.checkpointKey()) {
		tst.Error("Same key for different numbers of haplotypes")
	}
}
