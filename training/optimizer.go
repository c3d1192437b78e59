package training

import (
	"fmt"
	"math"

	"github.com/tsawler/go-derain/checkpoints"
	"github.com/tsawler/go-derain/nn"
	"github.com/tsawler/go-derain/tensor"
)

// Optimizer applies accumulated gradients to model parameters.
type Optimizer interface {
	Step() error
	ZeroGrad()
	GetLR() float64
	SetLR(lr float64)
	State() (*checkpoints.OptimizerState, error)
	LoadState(state *checkpoints.OptimizerState) error
}

// Adam implements the Adam update with bias correction. Moment buffers are
// kept per parameter name so they survive a checkpoint round trip.
type Adam struct {
	params    []nn.NamedParameter
	lr        float64
	beta1     float64
	beta2     float64
	epsilon   float64
	stepCount int

	m map[string][]float32
	v map[string][]float32
}

// NewAdam creates an Adam optimizer with the standard moment coefficients.
func NewAdam(params []nn.NamedParameter, lr float64) (*Adam, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("optimizer needs at least one parameter")
	}
	if lr <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", lr)
	}

	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate parameter name %s", p.Name)
		}
		seen[p.Name] = true
	}

	return &Adam{
		params:  params,
		lr:      lr,
		beta1:   0.9,
		beta2:   0.999,
		epsilon: 1e-8,
		m:       make(map[string][]float32),
		v:       make(map[string][]float32),
	}, nil
}

func (a *Adam) Step() error {
	a.stepCount++
	bc1 := 1 - math.Pow(a.beta1, float64(a.stepCount))
	bc2 := 1 - math.Pow(a.beta2, float64(a.stepCount))

	for _, p := range a.params {
		grad := p.Tensor.Grad()
		if grad == nil {
			continue
		}
		g, err := grad.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("parameter %s: %v", p.Name, err)
		}
		w, err := p.Tensor.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("parameter %s: %v", p.Name, err)
		}
		if len(g) != len(w) {
			return fmt.Errorf("parameter %s: gradient size %d does not match weight size %d", p.Name, len(g), len(w))
		}

		m := a.m[p.Name]
		if m == nil {
			m = make([]float32, len(w))
			a.m[p.Name] = m
		}
		v := a.v[p.Name]
		if v == nil {
			v = make([]float32, len(w))
			a.v[p.Name] = v
		}

		b1, b2 := float32(a.beta1), float32(a.beta2)
		for i := range w {
			m[i] = b1*m[i] + (1-b1)*g[i]
			v[i] = b2*v[i] + (1-b2)*g[i]*g[i]

			mHat := float64(m[i]) / bc1
			vHat := float64(v[i]) / bc2
			w[i] -= float32(a.lr * mHat / (math.Sqrt(vHat) + a.epsilon))
		}
	}

	return nil
}

func (a *Adam) ZeroGrad() {
	tensors := make([]*tensor.Tensor, len(a.params))
	for i, p := range a.params {
		tensors[i] = p.Tensor
	}
	tensor.ZeroGrad(tensors)
}

func (a *Adam) GetLR() float64 {
	return a.lr
}

func (a *Adam) SetLR(lr float64) {
	a.lr = lr
}

// State exports the optimizer for checkpointing.
func (a *Adam) State() (*checkpoints.OptimizerState, error) {
	state := &checkpoints.OptimizerState{
		Type: "Adam",
		Parameters: map[string]float64{
			"lr":         a.lr,
			"beta1":      a.beta1,
			"beta2":      a.beta2,
			"epsilon":    a.epsilon,
			"step_count": float64(a.stepCount),
		},
	}

	for _, p := range a.params {
		for _, stateType := range []string{"m", "v"} {
			buffers := a.m
			if stateType == "v" {
				buffers = a.v
			}
			buf, ok := buffers[p.Name]
			if !ok {
				continue
			}
			cp := make([]float32, len(buf))
			copy(cp, buf)
			shape := make([]int, len(p.Tensor.Shape))
			copy(shape, p.Tensor.Shape)
			state.StateData = append(state.StateData, checkpoints.OptimizerTensor{
				Name:      p.Name,
				Shape:     shape,
				Data:      cp,
				StateType: stateType,
			})
		}
	}

	return state, nil
}

// LoadState restores the optimizer from a checkpoint.
func (a *Adam) LoadState(state *checkpoints.OptimizerState) error {
	if state == nil {
		return fmt.Errorf("optimizer state is nil")
	}
	if state.Type != "Adam" {
		return fmt.Errorf("checkpoint optimizer is %s, not Adam", state.Type)
	}

	if lr, ok := state.Parameters["lr"]; ok {
		a.lr = lr
	}
	if b, ok := state.Parameters["beta1"]; ok {
		a.beta1 = b
	}
	if b, ok := state.Parameters["beta2"]; ok {
		a.beta2 = b
	}
	if e, ok := state.Parameters["epsilon"]; ok {
		a.epsilon = e
	}
	if s, ok := state.Parameters["step_count"]; ok {
		a.stepCount = int(s)
	}

	known := make(map[string]int, len(a.params))
	for _, p := range a.params {
		known[p.Name] = p.Tensor.NumElems
	}

	a.m = make(map[string][]float32)
	a.v = make(map[string][]float32)
	for _, st := range state.StateData {
		size, ok := known[st.Name]
		if !ok {
			return fmt.Errorf("optimizer state references unknown parameter %s", st.Name)
		}
		if len(st.Data) != size {
			return fmt.Errorf("optimizer state for %s has %d values, parameter has %d", st.Name, len(st.Data), size)
		}

		cp := make([]float32, len(st.Data))
		copy(cp, st.Data)
		switch st.StateType {
		case "m":
			a.m[st.Name] = cp
		case "v":
			a.v[st.Name] = cp
		default:
			return fmt.Errorf("unknown optimizer state type %s for %s", st.StateType, st.Name)
		}
	}

	return nil
}
