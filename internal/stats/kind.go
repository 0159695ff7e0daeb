// Package stats provides the univariate hypothesis tests, multiple-testing
// corrections and effect sizes used to compare behavioural feature
// distributions between bacterial food groups.
package stats

import (
	"fmt"
	"strings"
)

// TestKind identifies a statistical test. Use String for the display label
// written into result files and logs.
type TestKind int

const (
	TTest TestKind = iota + 1
	RankSum
	ANOVA
	KruskalWallis
	ShapiroWilk
)

var kindNames = map[TestKind]string{
	TTest:         "t-test",
	RankSum:       "ranksum",
	ANOVA:         "ANOVA",
	KruskalWallis: "Kruskal-Wallis",
	ShapiroWilk:   "Shapiro-Wilk",
}

// String returns the display name of the test.
func (k TestKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("TestKind(%d)", int(k))
}

// IsOmnibus reports whether the test compares more than two groups at once.
func (k TestKind) IsOmnibus() bool {
	return k == ANOVA || k == KruskalWallis
}

// ParseTestKind maps a display name (case-insensitive, with a few common
// aliases) back to a TestKind.
func ParseTestKind(s string) (TestKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "t-test", "ttest", "ttest_ind":
		return TTest, nil
	case "ranksum", "ranksums", "rank-sum", "mann-whitney", "mwu":
		return RankSum, nil
	case "anova", "f_oneway":
		return ANOVA, nil
	case "kruskal-wallis", "kruskal":
		return KruskalWallis, nil
	case "shapiro-wilk", "shapiro":
		return ShapiroWilk, nil
	}
	return 0, fmt.Errorf("unknown test kind %q", s)
}

// PairwiseFor returns the two-sample test matching an omnibus test's
// distributional assumption.
func PairwiseFor(parametric bool) TestKind {
	if parametric {
		return TTest
	}
	return RankSum
}

// OmnibusFor returns the multi-group test matching a distributional assumption.
func OmnibusFor(parametric bool) TestKind {
	if parametric {
		return ANOVA
	}
	return KruskalWallis
}
