package compare

import (
	"math"

	"go.uber.org/zap"

	"github.com/banshee-data/wormbehaviour/internal/frame"
	"github.com/banshee-data/wormbehaviour/internal/stats"
)

// minNormalitySamples is the smallest group a Shapiro-Wilk test runs on.
const minNormalitySamples = 3

// Normality summarises a Shapiro-Wilk check of every feature within every
// group.
type Normality struct {
	// PropNormal is the fraction of tested features judged normal, per group.
	PropNormal map[string]float64
	// Skipped lists groups with too few rows to test.
	Skipped []string
	// Overall is the mean of PropNormal across tested groups.
	Overall    float64
	Parametric bool
}

// NormalityCheck runs a Shapiro-Wilk test per feature and group. A feature
// counts as normal when p >= alpha. Parametric tests are chosen when the mean
// proportion of normal features exceeds 1-alpha.
func NormalityCheck(features *frame.Features, labels []string, alpha float64, logger *zap.Logger) *Normality {
	if logger == nil {
		logger = zap.NewNop()
	}
	order, members := groupRows(labels)
	res := &Normality{PropNormal: make(map[string]float64)}

	var sum float64
	for _, g := range order {
		rows := members[g]
		if len(rows) < minNormalitySamples {
			logger.Warn("not enough data for normality test", zap.String("group", g), zap.Int("n", len(rows)))
			res.Skipped = append(res.Skipped, g)
			continue
		}
		tested, normal := 0, 0
		for j := 0; j < features.Width(); j++ {
			vals := pick(features, j, rows)
			if allNaN(vals) {
				continue
			}
			tested++
			_, p, err := stats.ShapiroWilkTest(vals)
			if err != nil {
				logger.Debug("shapiro-wilk failed",
					zap.String("group", g),
					zap.String("feature", features.Names[j]),
					zap.Error(err))
				continue
			}
			if p >= alpha {
				normal++
			}
		}
		prop := 0.0
		if tested > 0 {
			prop = float64(normal) / float64(tested)
		}
		res.PropNormal[g] = prop
		sum += prop
		logger.Info("normality per group",
			zap.String("group", g),
			zap.Int("n", len(rows)),
			zap.Float64("pct_normal", prop*100))
	}

	if n := len(res.PropNormal); n > 0 {
		res.Overall = sum / float64(n)
	}
	res.Parametric = res.Overall > 1-alpha
	logger.Info("normality decision",
		zap.Float64("pct_normal", res.Overall*100),
		zap.Bool("parametric", res.Parametric))
	return res
}

// groupRows returns labels in first-seen order and the row indices of each.
func groupRows(labels []string) ([]string, map[string][]int) {
	var order []string
	members := make(map[string][]int)
	for i, l := range labels {
		if _, ok := members[l]; !ok {
			order = append(order, l)
		}
		members[l] = append(members[l], i)
	}
	return order, members
}

func pick(f *frame.Features, j int, rows []int) []float64 {
	out := make([]float64, len(rows))
	for k, i := range rows {
		out[k] = f.At(i, j)
	}
	return out
}

func allNaN(xs []float64) bool {
	for _, v := range xs {
		if !math.IsNaN(v) {
			return false
		}
	}
	return true
}
