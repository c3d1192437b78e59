package training

import (
	"math"
	"testing"
)

func TestMultiStepLR(t *testing.T) {
	sched := NewMultiStepLR([]int{100, 200}, 0.1)
	base := 0.0005

	tests := []struct {
		name string
		step int
		want float64
	}{
		{"before first milestone", 0, 0.0005},
		{"just before first milestone", 99, 0.0005},
		{"at first milestone", 100, 0.00005},
		{"between milestones", 150, 0.00005},
		{"at second milestone", 200, 0.000005},
		{"after all milestones", 10000, 0.000005},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sched.GetLR(tt.step, base)
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("GetLR(%d) = %g, want %g", tt.step, got, tt.want)
			}
		})
	}

	if sched.GetName() != "MultiStepLR" {
		t.Errorf("GetName = %s, want MultiStepLR", sched.GetName())
	}
}

func TestMultiStepLRSortsMilestones(t *testing.T) {
	sched := NewMultiStepLR([]int{200, 100}, 0.1)

	if got := sched.GetLR(150, 1); math.Abs(got-0.1) > 1e-12 {
		t.Errorf("GetLR(150) = %g, want 0.1", got)
	}
}

func TestMultiStepLRIsPureFunctionOfStep(t *testing.T) {
	// Resuming at a step must see the same rate as training through it.
	sched := NewMultiStepLR([]int{50}, 0.1)

	through := sched.GetLR(75, 1)
	resumed := NewMultiStepLR([]int{50}, 0.1).GetLR(75, 1)
	if through != resumed {
		t.Errorf("rate differs after resume: %g vs %g", through, resumed)
	}
}

func TestNoOpScheduler(t *testing.T) {
	sched := &NoOpScheduler{}
	for _, step := range []int{0, 100, 100000} {
		if got := sched.GetLR(step, 0.001); got != 0.001 {
			t.Errorf("GetLR(%d) = %g, want 0.001", step, got)
		}
	}
}
