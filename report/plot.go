package report

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// PlotFrequencies saves the haplotype frequency trajectories over the
// timepoints. The image format is chosen by the file extension.
func PlotFrequencies(freq [][]float64, fn string) error {
	p := plot.New()
	p.Title.Text = "Haplotype frequencies"
	p.X.Label.Text = "Timepoint"
	p.Y.Label.Text = "Frequency"
	p.Y.Min = 0
	p.Y.Max = 1

	nHaplo := 0
	if len(freq) > 0 {
		nHaplo = len(freq[0])
	}
	lines := make([]interface{}, 0, 2*nHaplo)
	for h := 0; h < nHaplo; h++ {
		pts := make(plotter.XYs, len(freq))
		for tp := range freq {
			pts[tp].X = float64(tp)
			pts[tp].Y = freq[tp][h]
		}
		lines = append(lines, fmt.Sprintf("Haplo_%d", h), pts)
	}

	if err := plotutil.AddLinePoints(p, lines...); err != nil {
		return err
	}
	return p.Save(6*vg.Inch, 4*vg.Inch, fn)
}
