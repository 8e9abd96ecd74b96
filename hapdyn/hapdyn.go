/*

Hapdyn infers the sequences of several haplotypes and their
frequencies over time from strand-resolved nucleotide counts of a
mixed sample sequenced at several timepoints.

The input is a list file, one count file per line, each count file
being a timepoint. The basic usage looks like this:

	hapdyn samples.list

, this will fit three haplotypes with the downhill simplex optimizer.

You can change the number of haplotypes and the optimizer:

	hapdyn -n 4 -method lbfgsb samples.list

To see all the options run:

	hapdyn -h

*/
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"time"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/op/go-logging"
)

// These three variables are set during the compilation.
var githash = ""
var gitbranch = ""
var buildstamp = ""
var version = fmt.Sprintf("branch: %s, revision: %s, build time: %s", gitbranch, githash, buildstamp)

// Logger settings.
var log = logging.MustGetLogger("hapdyn")
var formatter = logging.MustStringFormatter(`%{message}`)

// loggers lists all the package loggers.
var loggers = []string{"hapdyn", "hapmodel", "optimize", "pileup", "checkpoint"}

// command-line options
var (
	// application
	app = kingpin.New("hapdyn", "haplotype inference from time series of nucleotide counts").Version(version)

	// input
	listFileName = app.Arg("list", "file with the list of count files, one per timepoint").Required().ExistingFile()

	// model parameters
	nHaplo     = app.Flag("haplotypes", "number of haplotypes").Short('n').Default("3").Int()
	alpha0     = app.Flag("alpha0", "starting concentration of bases present in the mixture").Default("100").Float64()
	alphaE     = app.Flag("alphae", "starting concentration of error bases").Default("0.2").Float64()
	minPost    = app.Flag("minpost", "minimum posterior probability of an assignment used in the site likelihood").Default("0.01").Float64()
	noPriors   = app.Flag("nopriors", "do not re-estimate the priors of the number of distinct bases").Bool()
	gammaCache = app.Flag("gammacache", "number of cached log-gamma values (0 disables the cache)").Default("1000000").Int()

	// optimizer parameters
	randomize  = app.Flag("randomize", "use random starting frequencies instead of the uniform ones").Bool()
	iterations = app.Flag("iter", "maximum number of iterations").Default("10").Int()
	tolerance  = app.Flag("tol", "stop if the relative likelihood improvement is smaller (0 disables)").Default("0").Float64()
	phaseIter  = app.Flag("phaseiter", "number of optimizer iterations per parameter group").Default("1000").Int()
	reportPer  = app.Flag("report", "report every N optimizer iterations").Default("10").Int()
	method     = app.Flag("method", "optimization method to use "+
		"(simplex: downhill simplex, "+
		"lbfgsb: limited-memory Broyden–Fletcher–Goldfarb–Shanno with bounding constraints, "+
		"none: just compute likelihood, no optimization"+
		")").Default("simplex").Enum("simplex", "lbfgsb", "none")
	frac0 = app.Flag("frac0", "fraction of sites used to fit the error model in the first iteration").Default("1").Float64()
	frac1 = app.Flag("frac1", "fraction of sites used to fit the error model in the later iterations").Default("1").Float64()

	// technical
	nThreads   = app.Flag("nt", "number of threads to use").Int()
	seed       = app.Flag("seed", "random generator seed, default time based").Default("-1").Int64()
	cpuProfile = app.Flag("cpuprofile", "write cpu profile to file").String()

	// input/output
	minProb  = app.Flag("minprob", "minimum probability to call a consensus base").Default("0").Float64()
	outLogF  = app.Flag("log", "write log to a file").String()
	outF     = app.Flag("out", "write the report and the haplotypes to a file").String()
	trajF    = app.Flag("trajectory", "write optimization trajectory to a file").String()
	plotF    = app.Flag("plot", "plot haplotype frequencies to a file (png, svg or pdf)").String()
	logLevel = app.Flag("loglevel", "set loglevel "+
		"('critical', 'error', 'warning', 'notice', 'info', 'debug')").
		Default("notice").
		Enum("critical", "error", "warning", "notice", "info", "debug")
	verbose = app.Flag("verbose", "verbose output, same as -loglevel debug").Short('v').Bool()
	jsonF   = app.Flag("json", "write json output to a file").String()

	checkpointF       = app.Flag("checkpoint", "checkpoint database file").String()
	checkpointSeconds = app.Flag("checkpoint-seconds", "save a checkpoint at most every N seconds").Default("60").Float64()
)

// setupLogging configures the backend and the level of all the
// loggers. The returned function closes the log file.
func setupLogging() (func(), error) {
	logging.SetFormatter(formatter)

	closer := func() {}
	var backend *logging.LogBackend
	if *outLogF != "" {
		f, err := os.OpenFile(*outLogF, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return closer, fmt.Errorf("error creating log file: %w", err)
		}
		closer = func() { f.Close() }
		backend = logging.NewLogBackend(f, "", 0)
	} else {
		backend = logging.NewLogBackend(os.Stderr, "", 0)
	}
	logging.SetBackend(backend)

	if *verbose {
		*logLevel = "debug"
	}
	level, err := logging.LogLevel(*logLevel)
	if err != nil {
		return closer, err
	}
	for _, l := range loggers {
		logging.SetLevel(level, l)
	}
	return closer, nil
}

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	closeLog, err := setupLogging()
	defer closeLog()
	if err != nil {
		log.Fatal(err)
	}

	// print revision
	log.Info(version)

	// print commandline
	log.Info("Command line:", os.Args)

	if *seed == -1 {
		*seed = time.Now().UnixNano()
		log.Debug("Random seed from time")
	}
	log.Infof("Random seed=%v", *seed)

	runtime.GOMAXPROCS(*nThreads)

	effectiveNThreads := runtime.GOMAXPROCS(0)
	log.Infof("Using threads: %d.", effectiveNThreads)

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	// the first interrupt stops the optimizers, the results are
	// still written
	stop := make(chan struct{})
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	go func() {
		<-sigs
		log.Warning("Interrupted, finishing")
		close(stop)
		signal.Stop(sigs)
	}()

	startTime := time.Now()
	summary, err := run(newRunSettings(stop))
	if err != nil {
		log.Fatal(err)
	}
	summary.NThreads = effectiveNThreads
	summary.Version = version
	summary.CommandLine = os.Args
	summary.TotalTime = time.Since(startTime).Seconds()

	// output summary in json format
	if *jsonF != "" {
		j, err := json.Marshal(summary)
		if err != nil {
			log.Error(err)
		} else {
			log.Debug(string(j))
			f, err := os.Create(*jsonF)
			if err != nil {
				log.Error("Error creating json output file:", err)
			} else {
				f.Write(j)
				f.Close()
			}
		}
	}
}
