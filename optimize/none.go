package optimize

// None is an optimizer which computes the likelihood at the starting
// point and exits.
type None struct {
	BaseOptimizer
}

// NewNone creates an optimizer which computes initial likelihood only.
func NewNone() *None {
	return &None{}
}

// Run computes the likelihood once.
func (n *None) Run(iterations int) {
	n.PrintHeader()
	n.PrintLine(n.evaluate())
	n.converged = true
}

// Summary returns the optimization summary.
func (n *None) Summary() Summary {
	return n.summary("none")
}
