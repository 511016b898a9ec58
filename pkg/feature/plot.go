package feature

import (
	"bytes"
	"fmt"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// PlotWave renders the min/max envelope of the decoded samples as a PNG.
func PlotWave(name string, b []byte) ([]byte, error) {
	samples, rate, err := decode(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	window := 50 * time.Millisecond
	return createPlot(name, envelope(samples, rate, window), -1, 1, window.Seconds())
}

// PlotRMS renders windowed RMS energy as a PNG.
func PlotRMS(name string, b []byte) ([]byte, error) {
	samples, rate, err := decode(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	window := 50 * time.Millisecond
	return createPlot(name, windowedRMS(samples, rate, window), 0, 1, window.Seconds())
}

func envelope(samples []float64, rate int, window time.Duration) []float64 {
	length := int(float64(rate) * window.Seconds())
	var out []float64
	for i := 0; i < len(samples); i += length {
		end := i + length
		if end > len(samples) {
			end = len(samples)
		}
		var min, max float64
		for _, v := range samples[i:end] {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
		out = append(out, min, max)
	}
	return out
}

func windowedRMS(samples []float64, rate int, window time.Duration) []float64 {
	length := int(float64(rate) * window.Seconds())
	var out []float64
	for i := 0; i < len(samples); i += length {
		end := i + length
		if end > len(samples) {
			end = len(samples)
		}
		out = append(out, rootMeanSquare(samples[i:end]))
	}
	return out
}

func createPlot(name string, data []float64, min, max, window float64) ([]byte, error) {
	p := plot.New()
	p.Y.Min = min
	p.Y.Max = max
	p.Title.Text = name
	p.X.Label.Text = "time"
	p.Y.Label.Text = "amplitude"

	pts := make(plotter.XYs, len(data))
	for i, d := range data {
		pts[i].X = float64(i) * window
		pts[i].Y = d
	}
	l, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("feature: couldn't create line plotter: %w", err)
	}
	l.LineStyle.Width = vg.Points(1)
	p.Add(l)

	c, err := p.WriterTo(4*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return nil, fmt.Errorf("feature: couldn't create plot: %w", err)
	}
	var buf bytes.Buffer
	if _, err := c.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("feature: couldn't write plot: %w", err)
	}
	return buf.Bytes(), nil
}
