// Package plots renders comparison and projection figures into a results
// directory.
package plots

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"slices"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/wormbehaviour/internal/results"
)

// Formats lists the static image formats a Plotter can write.
var Formats = []string{"png", "eps", "pdf", "svg"}

// DefaultMaxGroups caps the number of groups drawn on one axis.
const DefaultMaxGroups = 20

// Options configure a Plotter.
type Options struct {
	Format    string // one of Formats, default png
	MaxGroups int
	Logger    *zap.Logger
}

// Plotter draws figures and stores them through a results.Writer.
type Plotter struct {
	out       *results.Writer
	format    string
	maxGroups int
	logger    *zap.Logger
}

// New returns a Plotter writing under out.
func New(out *results.Writer, opts Options) (*Plotter, error) {
	format := strings.ToLower(strings.TrimPrefix(opts.Format, "."))
	if format == "" {
		format = "png"
	}
	if !slices.Contains(Formats, format) {
		return nil, fmt.Errorf("unsupported plot format %q", opts.Format)
	}
	if opts.MaxGroups <= 0 {
		opts.MaxGroups = DefaultMaxGroups
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Plotter{out: out, format: format, maxGroups: opts.MaxGroups, logger: opts.Logger}, nil
}

// Format returns the file extension used for static figures.
func (p *Plotter) Format() string { return p.format }

// save renders pl at the given size to name plus the format extension.
func (p *Plotter) save(pl *plot.Plot, name string, w, h vg.Length) (string, error) {
	path, err := p.out.Write(name+"."+p.format, func(dst io.Writer) error {
		wt, err := pl.WriterTo(w, h, p.format)
		if err != nil {
			return err
		}
		_, err = wt.WriteTo(dst)
		return err
	})
	if err != nil {
		return "", err
	}
	p.logger.Debug("saved plot", zap.String("path", path))
	return path, nil
}

func newPlot(title, xLabel, yLabel string) *plot.Plot {
	pl := plot.New()
	pl.Title.Text = title
	pl.X.Label.Text = xLabel
	pl.Y.Label.Text = yLabel
	pl.Legend.Top = true
	pl.Legend.Left = false
	return pl
}

// groupValues splits column j of rows into per-label slices, dropping NaN.
func groupValues(col []float64, labels []string) map[string][]float64 {
	out := make(map[string][]float64)
	for i, v := range col {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out[labels[i]] = append(out[labels[i]], v)
	}
	return out
}

// uniqueLabels returns labels in first-seen order.
func uniqueLabels(labels []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range labels {
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	return out
}

// generateColors returns n distinct colours spread around the hue circle.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// groupColors maps every label to a colour; control is always grey.
func groupColors(groups []string, control string) map[string]color.Color {
	others := make([]string, 0, len(groups))
	for _, g := range groups {
		if g != control {
			others = append(others, g)
		}
	}
	palette := generateColors(len(others))
	out := make(map[string]color.Color, len(groups))
	for i, g := range others {
		out[g] = palette[i]
	}
	out[control] = color.RGBA{R: 128, G: 128, B: 128, A: 255}
	return out
}

func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64
	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}
	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 1.0/2.0:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
