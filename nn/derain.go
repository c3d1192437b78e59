package nn

import (
	"fmt"

	"github.com/tsawler/go-derain/tensor"
)

// Outputs holds the five predictions of a forward pass: three full-scale
// derained images and one early exit at each of the half and quarter
// scales.
type Outputs struct {
	Out1  *tensor.Tensor
	Out2  *tensor.Tensor
	Out3  *tensor.Tensor
	Exit2 *tensor.Tensor
	Exit4 *tensor.Tensor
}

// DerainNet removes rain streaks from an image pyramid. Each scale gets its
// own feature branch; the half and quarter branches produce early exits and
// are fused into the full-scale branch, which feeds three prediction heads.
// Every head predicts a residual that is subtracted from its rainy input.
type DerainNet struct {
	Channels int

	convIn1 *Conv2D
	convIn2 *Conv2D
	convIn4 *Conv2D

	exit2Head *Conv2D
	exit4Head *Conv2D

	fuse    *Conv2D
	head1   *Conv2D
	refine2 *Conv2D
	head2   *Conv2D
	refine3 *Conv2D
	head3   *Conv2D

	training bool
}

// NewDerainNet builds the network with the given feature width.
func NewDerainNet(channels int) (*DerainNet, error) {
	if channels < 1 {
		return nil, fmt.Errorf("channels must be positive, got %d", channels)
	}

	n := &DerainNet{Channels: channels, training: true}

	layers := []struct {
		dst     **Conv2D
		name    string
		in, out int
	}{
		{&n.convIn1, "conv_in1", 3, channels},
		{&n.convIn2, "conv_in2", 3, channels},
		{&n.convIn4, "conv_in4", 3, channels},
		{&n.exit2Head, "exit2_head", channels, 3},
		{&n.exit4Head, "exit4_head", channels, 3},
		{&n.fuse, "fuse", channels, channels},
		{&n.head1, "head1", channels, 3},
		{&n.refine2, "refine2", channels, channels},
		{&n.head2, "head2", channels, 3},
		{&n.refine3, "refine3", channels, channels},
		{&n.head3, "head3", channels, 3},
	}
	for _, l := range layers {
		conv, err := NewConv2D(l.name, l.in, l.out, 3, 1, 1)
		if err != nil {
			return nil, err
		}
		*l.dst = conv
	}

	return n, nil
}

// layers lists every sublayer in a stable order.
func (n *DerainNet) layers() []*Conv2D {
	return []*Conv2D{
		n.convIn1, n.convIn2, n.convIn4,
		n.exit2Head, n.exit4Head,
		n.fuse, n.head1, n.refine2, n.head2, n.refine3, n.head3,
	}
}

func (n *DerainNet) relu(x *tensor.Tensor) (*tensor.Tensor, error) {
	if n.training {
		return tensor.ReLUAutograd(x), nil
	}
	return tensor.ReLU(x)
}

func (n *DerainNet) add(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	if n.training {
		return tensor.AddAutograd(a, b), nil
	}
	return tensor.Add(a, b)
}

func (n *DerainNet) sub(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	if n.training {
		return tensor.SubAutograd(a, b), nil
	}
	return tensor.Sub(a, b)
}

func (n *DerainNet) up2(x *tensor.Tensor) (*tensor.Tensor, error) {
	if n.training {
		return tensor.UpsampleNearest2Autograd(x), nil
	}
	return tensor.UpsampleNearest2(x)
}

// Forward runs the network on a rainy pyramid: the full-scale image o, its
// half-scale o2 and quarter-scale o4. All three must share batch size and
// have 3 channels.
func (n *DerainNet) Forward(o, o2, o4 *tensor.Tensor) (outputs *Outputs, err error) {
	if n.training {
		defer func() {
			if r := recover(); r != nil {
				outputs = nil
				err = fmt.Errorf("forward pass failed: %v", r)
			}
		}()
	}

	conv := func(c *Conv2D, x *tensor.Tensor) *tensor.Tensor {
		if err != nil {
			return nil
		}
		var y *tensor.Tensor
		y, err = c.Forward(x)
		return y
	}
	apply := func(f func(*tensor.Tensor) (*tensor.Tensor, error), x *tensor.Tensor) *tensor.Tensor {
		if err != nil {
			return nil
		}
		var y *tensor.Tensor
		y, err = f(x)
		return y
	}
	combine := func(f func(a, b *tensor.Tensor) (*tensor.Tensor, error), a, b *tensor.Tensor) *tensor.Tensor {
		if err != nil {
			return nil
		}
		var y *tensor.Tensor
		y, err = f(a, b)
		return y
	}

	b1 := apply(n.relu, conv(n.convIn1, o))
	b2 := apply(n.relu, conv(n.convIn2, o2))
	b4 := apply(n.relu, conv(n.convIn4, o4))

	exit2 := combine(n.sub, o2, conv(n.exit2Head, b2))
	exit4 := combine(n.sub, o4, conv(n.exit4Head, b4))

	merged := combine(n.add, b1, apply(n.up2, b2))
	merged = combine(n.add, merged, apply(n.up2, apply(n.up2, b4)))
	fused := apply(n.relu, conv(n.fuse, merged))

	out1 := combine(n.sub, o, conv(n.head1, fused))
	out2 := combine(n.sub, o, conv(n.head2, apply(n.relu, conv(n.refine2, fused))))
	out3 := combine(n.sub, o, conv(n.head3, apply(n.relu, conv(n.refine3, fused))))

	if err != nil {
		return nil, err
	}

	return &Outputs{Out1: out1, Out2: out2, Out3: out3, Exit2: exit2, Exit4: exit4}, nil
}

func (n *DerainNet) NamedParameters() []NamedParameter {
	var params []NamedParameter
	for _, l := range n.layers() {
		params = append(params, l.NamedParameters()...)
	}
	return params
}

// ParameterCount returns the total number of learnable values.
func (n *DerainNet) ParameterCount() int {
	total := 0
	for _, p := range n.NamedParameters() {
		total += p.Tensor.NumElems
	}
	return total
}

func (n *DerainNet) Train() {
	n.training = true
	for _, l := range n.layers() {
		l.Train()
	}
}

func (n *DerainNet) Eval() {
	n.training = false
	for _, l := range n.layers() {
		l.Eval()
	}
}

func (n *DerainNet) IsTraining() bool {
	return n.training
}
