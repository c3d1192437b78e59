package nn

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/tsawler/go-derain/tensor"
)

// Module is the base behavior shared by all network components.
type Module interface {
	NamedParameters() []NamedParameter
	Train()
	Eval()
	IsTraining() bool
}

// NamedParameter pairs a learnable tensor with a stable name used for
// checkpointing and optimizer state.
type NamedParameter struct {
	Name   string
	Tensor *tensor.Tensor
}

var (
	globalRng   = rand.New(rand.NewSource(time.Now().UnixNano()))
	globalRngMu sync.Mutex
)

// SetRandomSeed makes weight initialization deterministic.
func SetRandomSeed(seed int64) {
	globalRngMu.Lock()
	defer globalRngMu.Unlock()
	globalRng = rand.New(rand.NewSource(seed))
}

// Conv2D is a learnable 2D convolution over NCHW tensors. In training mode
// the forward pass records the autograd graph; in eval mode it computes the
// plain result.
type Conv2D struct {
	InChannels  int
	OutChannels int
	KernelSize  int
	Stride      int
	Pad         int

	Weight *tensor.Tensor
	Bias   *tensor.Tensor

	name     string
	training bool
}

// NewConv2D creates a convolution layer with He-initialized weights and
// zero bias.
func NewConv2D(name string, inChannels, outChannels, kernelSize, stride, pad int) (*Conv2D, error) {
	if inChannels < 1 || outChannels < 1 {
		return nil, fmt.Errorf("conv %s: channel counts must be positive, got %d -> %d", name, inChannels, outChannels)
	}
	if kernelSize < 1 {
		return nil, fmt.Errorf("conv %s: kernel size must be positive, got %d", name, kernelSize)
	}

	fanIn := inChannels * kernelSize * kernelSize
	std := float32(math.Sqrt(2.0 / float64(fanIn)))

	globalRngMu.Lock()
	weight, err := tensor.RandomNormal([]int{outChannels, inChannels, kernelSize, kernelSize}, 0, std, globalRng, tensor.CPU)
	globalRngMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("conv %s: failed to initialize weight: %v", name, err)
	}
	weight.SetRequiresGrad(true)

	bias, err := tensor.Zeros([]int{outChannels}, tensor.Float32, tensor.CPU)
	if err != nil {
		return nil, fmt.Errorf("conv %s: failed to initialize bias: %v", name, err)
	}
	bias.SetRequiresGrad(true)

	return &Conv2D{
		InChannels:  inChannels,
		OutChannels: outChannels,
		KernelSize:  kernelSize,
		Stride:      stride,
		Pad:         pad,
		Weight:      weight,
		Bias:        bias,
		name:        name,
		training:    true,
	}, nil
}

func (c *Conv2D) Forward(x *tensor.Tensor) (result *tensor.Tensor, err error) {
	if c.training {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("conv %s: %v", c.name, r)
			}
		}()
		result = tensor.Conv2DAutograd(x, c.Weight, c.Bias, c.Stride, c.Pad)
		return result, nil
	}
	result, err = tensor.Conv2D(x, c.Weight, c.Bias, c.Stride, c.Pad)
	if err != nil {
		return nil, fmt.Errorf("conv %s: %v", c.name, err)
	}
	return result, nil
}

func (c *Conv2D) NamedParameters() []NamedParameter {
	return []NamedParameter{
		{Name: c.name + ".weight", Tensor: c.Weight},
		{Name: c.name + ".bias", Tensor: c.Bias},
	}
}

func (c *Conv2D) Train() {
	c.training = true
}

func (c *Conv2D) Eval() {
	c.training = false
}

func (c *Conv2D) IsTraining() bool {
	return c.training
}
