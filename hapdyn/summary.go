package main

import (
	"bitbucket.org/Davydov/hapdyn/hapmodel"
	"bitbucket.org/Davydov/hapdyn/report"
)

// RunSummary is storing hapdyn run summary information.
type RunSummary struct {
	// Version stores hapdyn version.
	Version string `json:"version"`
	// CommandLine is an array storing binary name and all command-line parameters.
	CommandLine []string `json:"commandLine"`
	// RunID identifies the run, it is also stored in checkpoints.
	RunID string `json:"runID"`
	// Seed is the seed used for random number generation initialization.
	Seed int64 `json:"seed"`
	// NThreads is the number of processes used.
	NThreads int `json:"nThreads"`
	// TotalTime is the total running time in seconds.
	TotalTime float64 `json:"time"`
	// Time is the inference time in seconds.
	Time float64 `json:"inferenceTime"`
	// Inference summarizes the iterations and all the optimizers used.
	Inference hapmodel.Summary `json:"inference"`
	// Results are the fitted parameters.
	Results *report.Results `json:"results"`
}
