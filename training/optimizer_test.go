package training

import (
	"testing"

	"github.com/tsawler/go-derain/nn"
	"github.com/tsawler/go-derain/tensor"
)

// quadParam builds one parameter holding the given values.
func quadParam(t *testing.T, values []float32) nn.NamedParameter {
	t.Helper()

	w, err := tensor.NewTensor([]int{len(values)}, tensor.Float32, tensor.CPU, values)
	if err != nil {
		t.Fatalf("failed to build parameter: %v", err)
	}
	w.SetRequiresGrad(true)
	return nn.NamedParameter{Name: "w", Tensor: w}
}

// quadStep runs one optimization step on the loss mean(w*w).
func quadStep(t *testing.T, opt Optimizer, p nn.NamedParameter) float32 {
	t.Helper()

	opt.ZeroGrad()
	loss := tensor.MeanAutograd(tensor.MulAutograd(p.Tensor, p.Tensor))
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	if err := opt.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	v, _ := loss.Item()
	return v
}

func TestAdamMinimizesQuadratic(t *testing.T) {
	p := quadParam(t, []float32{1, -2, 0.5})
	opt, err := NewAdam([]nn.NamedParameter{p}, 0.1)
	if err != nil {
		t.Fatalf("NewAdam failed: %v", err)
	}

	first := quadStep(t, opt, p)
	var last float32
	for i := 0; i < 50; i++ {
		last = quadStep(t, opt, p)
	}

	if last >= first {
		t.Errorf("loss did not decrease: first %f, last %f", first, last)
	}
}

func TestAdamValidation(t *testing.T) {
	p := quadParam(t, []float32{1})

	if _, err := NewAdam(nil, 0.1); err == nil {
		t.Errorf("expected error for empty parameters, got nil")
	}
	if _, err := NewAdam([]nn.NamedParameter{p}, 0); err == nil {
		t.Errorf("expected error for zero learning rate, got nil")
	}
	if _, err := NewAdam([]nn.NamedParameter{p, p}, 0.1); err == nil {
		t.Errorf("expected error for duplicate names, got nil")
	}
}

func TestAdamSetLR(t *testing.T) {
	p := quadParam(t, []float32{1})
	opt, err := NewAdam([]nn.NamedParameter{p}, 0.1)
	if err != nil {
		t.Fatalf("NewAdam failed: %v", err)
	}

	opt.SetLR(0.01)
	if got := opt.GetLR(); got != 0.01 {
		t.Errorf("GetLR = %g, want 0.01", got)
	}
}

func TestAdamStateRoundTrip(t *testing.T) {
	// Two optimizers over identical parameters: run A, copy its state into
	// B, then both must produce bit-identical trajectories.
	pa := quadParam(t, []float32{1, -2, 0.5})
	pb := quadParam(t, []float32{9, 9, 9})

	a, err := NewAdam([]nn.NamedParameter{pa}, 0.05)
	if err != nil {
		t.Fatalf("NewAdam failed: %v", err)
	}
	b, err := NewAdam([]nn.NamedParameter{pb}, 0.05)
	if err != nil {
		t.Fatalf("NewAdam failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		quadStep(t, a, pa)
	}

	state, err := a.State()
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if err := b.LoadState(state); err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	da, _ := pa.Tensor.GetFloat32Data()
	if err := pb.Tensor.SetData(da); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		quadStep(t, a, pa)
		quadStep(t, b, pb)
	}

	if !tensor.Equal(pa.Tensor, pb.Tensor) {
		t.Errorf("trajectories diverged after state transfer")
	}
}

func TestAdamLoadStateValidation(t *testing.T) {
	p := quadParam(t, []float32{1, 2})
	opt, err := NewAdam([]nn.NamedParameter{p}, 0.1)
	if err != nil {
		t.Fatalf("NewAdam failed: %v", err)
	}

	if err := opt.LoadState(nil); err == nil {
		t.Errorf("expected error for nil state, got nil")
	}

	state, err := opt.State()
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}

	state.Type = "SGD"
	if err := opt.LoadState(state); err == nil {
		t.Errorf("expected error for wrong optimizer type, got nil")
	}
}

func TestAdamSkipsParamsWithoutGrad(t *testing.T) {
	p := quadParam(t, []float32{1, 2})
	opt, err := NewAdam([]nn.NamedParameter{p}, 0.1)
	if err != nil {
		t.Fatalf("NewAdam failed: %v", err)
	}

	before, _ := p.Tensor.Clone()
	opt.ZeroGrad()
	if err := opt.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	if !tensor.Equal(p.Tensor, before) {
		t.Errorf("parameter without gradient was modified")
	}
}
