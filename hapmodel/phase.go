package hapmodel

import "fmt"

// Phase selects the parameters exposed to the optimizer and the
// likelihood the optimizer maximizes.
type Phase interface {
	fmt.Stringer
	phase()
}

// ErrorModelFit optimizes the Dirichlet concentrations over the
// active sites.
type ErrorModelFit struct{}

// FrequencyFit optimizes the haplotype frequencies at a single
// timepoint over the variable sites.
type FrequencyFit struct {
	Timepoint int
}

func (ErrorModelFit) phase() {}
func (FrequencyFit) phase()  {}

func (ErrorModelFit) String() string {
	return "error model"
}

func (f FrequencyFit) String() string {
	return fmt.Sprintf("frequencies at timepoint %d", f.Timepoint)
}

// StickBreak converts the stick-breaking fractions theta (each in
// [0, 1]) to len(theta)+1 frequencies summing to one. The result is
// written to freq which should have the right length.
func StickBreak(theta, freq []float64) []float64 {
	rem := 1.0
	for i, t := range theta {
		freq[i] = rem * t
		rem -= freq[i]
	}
	freq[len(theta)] = rem
	return freq
}

// InverseStickBreak returns the stick-breaking fractions producing
// frequencies freq.
func InverseStickBreak(freq []float64) []float64 {
	theta := make([]float64, len(freq)-1)
	rem := 1.0
	for i := range theta {
		if rem > 0 {
			theta[i] = freq[i] / rem
		}
		if theta[i] > 1 {
			theta[i] = 1
		}
		rem -= freq[i]
	}
	return theta
}

// UniformTheta returns the fractions producing equal frequencies for
// nHaplo haplotypes.
func UniformTheta(nHaplo int) []float64 {
	theta := make([]float64, nHaplo-1)
	for i := range theta {
		theta[i] = 1 / float64(nHaplo-i)
	}
	return theta
}
