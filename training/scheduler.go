package training

import (
	"math"
	"sort"
)

// LRScheduler maps the global step to a learning rate. Schedules are pure
// functions of the step, so resuming from a checkpoint lands on the same
// rate without replaying history.
type LRScheduler interface {
	GetLR(step int, baseLR float64) float64
	GetName() string
}

// MultiStepLR decays the rate by Gamma at each milestone step.
type MultiStepLR struct {
	Milestones []int
	Gamma      float64
}

func NewMultiStepLR(milestones []int, gamma float64) *MultiStepLR {
	sorted := make([]int, len(milestones))
	copy(sorted, milestones)
	sort.Ints(sorted)
	return &MultiStepLR{Milestones: sorted, Gamma: gamma}
}

func (s *MultiStepLR) GetLR(step int, baseLR float64) float64 {
	passed := 0
	for _, m := range s.Milestones {
		if step >= m {
			passed++
		}
	}
	return baseLR * math.Pow(s.Gamma, float64(passed))
}

func (s *MultiStepLR) GetName() string {
	return "MultiStepLR"
}

// NoOpScheduler keeps the learning rate constant.
type NoOpScheduler struct{}

func (s *NoOpScheduler) GetLR(step int, baseLR float64) float64 {
	return baseLR
}

func (s *NoOpScheduler) GetName() string {
	return "NoOp"
}
