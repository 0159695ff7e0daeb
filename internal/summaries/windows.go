package summaries

import "fmt"

// Windows are feature summary window specifications, in seconds, for a set
// of bluelight stimulus timepoints.
type Windows struct {
	// Optimal has three windows per stimulus: 10 s before it, 5-15 s after
	// its onset and 15-25 s after its onset.
	Optimal []string
	// ThirtySecond has one window per stimulus, 30-60 s after its onset.
	ThirtySecond []string
}

// BluelightWindows returns the window strings for stimuli delivered at the
// given times, in minutes from the start of the recording.
func BluelightWindows(minutes []float64) Windows {
	var w Windows
	for _, m := range minutes {
		s := int(m * 60)
		w.Optimal = append(w.Optimal, fmt.Sprintf("%d:%d, %d:%d, %d:%d", s-10, s, s+5, s+15, s+15, s+25))
		w.ThirtySecond = append(w.ThirtySecond, fmt.Sprintf("%d:%d", s+30, s+60))
	}
	return w
}
