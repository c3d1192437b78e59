package metric

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Accumulator collects per-step metric samples during a validation pass and
// reduces them to per-metric means.
type Accumulator struct {
	samples map[string][]float64
}

func NewAccumulator() *Accumulator {
	return &Accumulator{samples: make(map[string][]float64)}
}

// Add records one sample for each named metric.
func (a *Accumulator) Add(values map[string]float64) {
	for name, v := range values {
		a.samples[name] = append(a.samples[name], v)
	}
}

// Count returns the number of samples recorded for a metric.
func (a *Accumulator) Count(name string) int {
	return len(a.samples[name])
}

// Names returns the recorded metric names in sorted order.
func (a *Accumulator) Names() []string {
	names := make([]string, 0, len(a.samples))
	for name := range a.samples {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Average returns the mean of every recorded metric. An accumulator that
// saw no samples is a usage error, not an empty result.
func (a *Accumulator) Average() (map[string]float64, error) {
	if len(a.samples) == 0 {
		return nil, fmt.Errorf("no samples recorded")
	}

	means := make(map[string]float64, len(a.samples))
	for name, vals := range a.samples {
		means[name] = stat.Mean(vals, nil)
	}
	return means, nil
}

// Reset discards all recorded samples.
func (a *Accumulator) Reset() {
	a.samples = make(map[string][]float64)
}
