package plots

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"path/filepath"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/wormbehaviour/internal/frame"
	"github.com/banshee-data/wormbehaviour/internal/security"
)

// StimulusSeconds is the duration of one bluelight pulse.
const StimulusSeconds = 10

// Trace is one sample's feature values over time. Time is in seconds.
type Trace struct {
	Sample string
	Group  string
	Time   []float64
	Values []float64
}

// TraceColumns name the columns of a long-format time series table.
type TraceColumns struct {
	Sample, Group, Time, Value string
}

// ReadTraces reads a long-format table with one row per sample and
// timestamp. Rows of one sample keep their file order.
func ReadTraces(r io.Reader, cols TraceColumns) ([]Trace, error) {
	m, err := frame.ReadMetadataCSV(r, "")
	if err != nil {
		return nil, err
	}
	get := func(name string) ([]string, error) {
		v, err := m.Column(name)
		if err != nil {
			return nil, fmt.Errorf("time series: %w", err)
		}
		return v, nil
	}
	samples, err := get(cols.Sample)
	if err != nil {
		return nil, err
	}
	groups, err := get(cols.Group)
	if err != nil {
		return nil, err
	}
	times, err := get(cols.Time)
	if err != nil {
		return nil, err
	}
	values, err := get(cols.Value)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int)
	var out []Trace
	for i := range samples {
		t, err := frame.ParseValue(times[i])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		v, err := frame.ParseValue(values[i])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		k, ok := index[samples[i]]
		if !ok {
			k = len(out)
			index[samples[i]] = k
			out = append(out, Trace{Sample: samples[i], Group: groups[i]})
		}
		if out[k].Group != groups[i] {
			return nil, fmt.Errorf("sample %s is in groups %s and %s", samples[i], out[k].Group, groups[i])
		}
		out[k].Time = append(out[k].Time, t)
		out[k].Values = append(out[k].Values, v)
	}
	return out, nil
}

// Band is the across-sample mean and standard error of a group per time
// bin. Time holds bin centres.
type Band struct {
	Time []float64
	Mean []float64
	SEM  []float64
	N    []int
}

// MeanSEM bins every trace into bins of binSeconds, averages each sample
// within a bin, then takes the mean and standard error across the samples
// of each group.
func MeanSEM(traces []Trace, binSeconds float64) (map[string]*Band, error) {
	if binSeconds <= 0 {
		return nil, fmt.Errorf("bin width must be positive, got %v", binSeconds)
	}
	// group -> bin -> per-sample means
	perBin := make(map[string]map[int][]float64)
	for _, tr := range traces {
		sums := make(map[int]float64)
		counts := make(map[int]int)
		for i, t := range tr.Time {
			v := tr.Values[i]
			if math.IsNaN(v) || math.IsNaN(t) {
				continue
			}
			b := int(math.Floor(t / binSeconds))
			sums[b] += v
			counts[b]++
		}
		if perBin[tr.Group] == nil {
			perBin[tr.Group] = make(map[int][]float64)
		}
		for b, s := range sums {
			perBin[tr.Group][b] = append(perBin[tr.Group][b], s/float64(counts[b]))
		}
	}

	out := make(map[string]*Band, len(perBin))
	for g, bins := range perBin {
		keys := make([]int, 0, len(bins))
		for b := range bins {
			keys = append(keys, b)
		}
		sort.Ints(keys)
		band := &Band{}
		for _, b := range keys {
			xs := bins[b]
			mean, std := stat.MeanStdDev(xs, nil)
			sem := 0.0
			if len(xs) > 1 {
				sem = std / math.Sqrt(float64(len(xs)))
			}
			band.Time = append(band.Time, (float64(b)+0.5)*binSeconds)
			band.Mean = append(band.Mean, mean)
			band.SEM = append(band.SEM, sem)
			band.N = append(band.N, len(xs))
		}
		out[g] = band
	}
	return out, nil
}

type meanSEM struct {
	plotter.XYs
	plotter.YErrors
}

// TimeSeries draws one mean line with SEM error bars per group and shades
// the bluelight stimuli, given as onset times in seconds.
func (p *Plotter) TimeSeries(feature string, bands map[string]*Band, control string, stimuli []float64) (string, error) {
	groups := make([]string, 0, len(bands))
	for g := range bands {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	colors := groupColors(groups, control)

	pl := newPlot(feature, "Time (s)", feature)
	lo, hi := math.Inf(1), math.Inf(-1)
	drawn := 0
	for _, g := range groups {
		b := bands[g]
		if len(b.Time) == 0 {
			continue
		}
		data := meanSEM{XYs: make(plotter.XYs, len(b.Time)), YErrors: make(plotter.YErrors, len(b.Time))}
		for i := range b.Time {
			data.XYs[i] = plotter.XY{X: b.Time[i], Y: b.Mean[i]}
			data.YErrors[i].Low, data.YErrors[i].High = b.SEM[i], b.SEM[i]
			lo = math.Min(lo, b.Mean[i]-b.SEM[i])
			hi = math.Max(hi, b.Mean[i]+b.SEM[i])
		}
		line, err := plotter.NewLine(data.XYs)
		if err != nil {
			return "", err
		}
		line.Color = colors[g]
		bars, err := plotter.NewYErrorBars(data)
		if err != nil {
			return "", err
		}
		bars.Color = colors[g]
		pl.Add(line, bars)
		pl.Legend.Add(g, line)
		drawn++
	}
	if drawn == 0 {
		return "", ErrNoData
	}

	for _, s := range stimuli {
		shade, err := plotter.NewPolygon(plotter.XYs{
			{X: s, Y: lo}, {X: s + StimulusSeconds, Y: lo},
			{X: s + StimulusSeconds, Y: hi}, {X: s, Y: hi},
		})
		if err != nil {
			return "", err
		}
		shade.Color = color.RGBA{R: 120, G: 160, B: 255, A: 60}
		shade.LineStyle.Width = 0
		pl.Add(shade)
	}
	name := filepath.Join(PlotsDir, "timeseries", security.SanitizeFilename(feature))
	return p.save(pl, name, 10*vg.Inch, 4*vg.Inch)
}
