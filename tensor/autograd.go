package tensor

import (
	"fmt"
)

// AddOp implements the Operation interface for tensor addition
type AddOp struct {
	inputs []*Tensor
}

func (op *AddOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("AddOp requires exactly 2 inputs")
	}

	a, b := inputs[0], inputs[1]
	op.inputs = inputs

	result, err := Add(a, b)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad || b.requiresGrad

	return result
}

func (op *AddOp) Backward(gradOut *Tensor) []*Tensor {
	// ∂(a + b)/∂a = 1, ∂(a + b)/∂b = 1
	gradA, err := gradOut.Clone()
	if err != nil {
		panic(fmt.Sprintf("Failed to clone gradient for input A: %v", err))
	}
	gradB, err := gradOut.Clone()
	if err != nil {
		panic(fmt.Sprintf("Failed to clone gradient for input B: %v", err))
	}

	return []*Tensor{gradA, gradB}
}

func (op *AddOp) Inputs() []*Tensor {
	return op.inputs
}

// SubOp implements the Operation interface for tensor subtraction
type SubOp struct {
	inputs []*Tensor
}

func (op *SubOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("SubOp requires exactly 2 inputs")
	}

	a, b := inputs[0], inputs[1]
	op.inputs = inputs

	result, err := Sub(a, b)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad || b.requiresGrad

	return result
}

func (op *SubOp) Backward(gradOut *Tensor) []*Tensor {
	// ∂(a - b)/∂a = 1, ∂(a - b)/∂b = -1
	gradA, err := gradOut.Clone()
	if err != nil {
		panic(fmt.Sprintf("Failed to clone gradient for input A: %v", err))
	}

	gradB, err := Scale(gradOut, -1)
	if err != nil {
		panic(fmt.Sprintf("Failed to negate gradient for input B: %v", err))
	}

	return []*Tensor{gradA, gradB}
}

func (op *SubOp) Inputs() []*Tensor {
	return op.inputs
}

// MulOp implements the Operation interface for elementwise multiplication
type MulOp struct {
	inputs []*Tensor
}

func (op *MulOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("MulOp requires exactly 2 inputs")
	}

	a, b := inputs[0], inputs[1]
	op.inputs = inputs

	result, err := Mul(a, b)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad || b.requiresGrad

	return result
}

func (op *MulOp) Backward(gradOut *Tensor) []*Tensor {
	a, b := op.inputs[0], op.inputs[1]

	// ∂(a * b)/∂a = b, ∂(a * b)/∂b = a
	gradA, err := Mul(gradOut, b)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed for gradA: %v", err))
	}

	gradB, err := Mul(gradOut, a)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed for gradB: %v", err))
	}

	return []*Tensor{gradA, gradB}
}

func (op *MulOp) Inputs() []*Tensor {
	return op.inputs
}

// DivOp implements the Operation interface for elementwise division
type DivOp struct {
	inputs []*Tensor
	output *Tensor
}

func (op *DivOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("DivOp requires exactly 2 inputs")
	}

	a, b := inputs[0], inputs[1]
	op.inputs = inputs

	result, err := Div(a, b)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	op.output = result
	result.creator = op
	result.requiresGrad = a.requiresGrad || b.requiresGrad

	return result
}

func (op *DivOp) Backward(gradOut *Tensor) []*Tensor {
	b := op.inputs[1]

	// ∂(a / b)/∂a = 1/b
	gradA, err := Div(gradOut, b)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed for gradA: %v", err))
	}

	// ∂(a / b)/∂b = -(a/b) / b
	quotGrad, err := Mul(gradOut, op.output)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed for gradB: %v", err))
	}
	quotGrad, err = Div(quotGrad, b)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed for gradB: %v", err))
	}
	gradB, err := Scale(quotGrad, -1)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed for gradB: %v", err))
	}

	return []*Tensor{gradA, gradB}
}

func (op *DivOp) Inputs() []*Tensor {
	return op.inputs
}

// ScaleOp multiplies a tensor by a constant
type ScaleOp struct {
	inputs []*Tensor
	factor float64
}

func (op *ScaleOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("ScaleOp requires exactly 1 input")
	}

	a := inputs[0]
	op.inputs = inputs

	result, err := Scale(a, op.factor)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad

	return result
}

func (op *ScaleOp) Backward(gradOut *Tensor) []*Tensor {
	grad, err := Scale(gradOut, op.factor)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}

	return []*Tensor{grad}
}

func (op *ScaleOp) Inputs() []*Tensor {
	return op.inputs
}

// AddScalarOp shifts a tensor by a constant
type AddScalarOp struct {
	inputs []*Tensor
	value  float64
}

func (op *AddScalarOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("AddScalarOp requires exactly 1 input")
	}

	a := inputs[0]
	op.inputs = inputs

	result, err := AddScalar(a, op.value)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad

	return result
}

func (op *AddScalarOp) Backward(gradOut *Tensor) []*Tensor {
	grad, err := gradOut.Clone()
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}

	return []*Tensor{grad}
}

func (op *AddScalarOp) Inputs() []*Tensor {
	return op.inputs
}

// ReLUOp implements the Operation interface for ReLU activation
type ReLUOp struct {
	inputs []*Tensor
}

func (op *ReLUOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("ReLUOp requires exactly 1 input")
	}

	a := inputs[0]
	op.inputs = inputs

	result, err := ReLU(a)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad

	return result
}

func (op *ReLUOp) Backward(gradOut *Tensor) []*Tensor {
	a := op.inputs[0]

	// ∂ReLU(x)/∂x = 1 if x > 0, else 0
	grad, err := gradOut.Clone()
	if err != nil {
		panic(fmt.Sprintf("Failed to clone gradient: %v", err))
	}

	inputData := a.Data.([]float32)
	gradData := grad.Data.([]float32)
	for i := range gradData {
		if inputData[i] <= 0 {
			gradData[i] = 0
		}
	}

	return []*Tensor{grad}
}

func (op *ReLUOp) Inputs() []*Tensor {
	return op.inputs
}

// MeanOp reduces a tensor to its scalar mean
type MeanOp struct {
	inputs []*Tensor
}

func (op *MeanOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("MeanOp requires exactly 1 input")
	}

	a := inputs[0]
	op.inputs = inputs

	result, err := Mean(a)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad

	return result
}

func (op *MeanOp) Backward(gradOut *Tensor) []*Tensor {
	a := op.inputs[0]

	// Every element receives gradOut / N.
	gv := gradOut.Data.([]float32)[0] / float32(a.NumElems)
	grad, err := Full(a.Shape, gv, Float32, a.Device)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}

	return []*Tensor{grad}
}

func (op *MeanOp) Inputs() []*Tensor {
	return op.inputs
}

// Conv2DOp implements the Operation interface for 2D convolution. Inputs
// are (input, weight) or (input, weight, bias).
type Conv2DOp struct {
	inputs []*Tensor
	stride int
	pad    int
}

func (op *Conv2DOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 && len(inputs) != 3 {
		panic("Conv2DOp requires 2 or 3 inputs")
	}

	input, weight := inputs[0], inputs[1]
	var bias *Tensor
	if len(inputs) == 3 {
		bias = inputs[2]
	}
	op.inputs = inputs

	result, err := Conv2D(input, weight, bias, op.stride, op.pad)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = input.requiresGrad || weight.requiresGrad || (bias != nil && bias.requiresGrad)

	return result
}

func (op *Conv2DOp) Backward(gradOut *Tensor) []*Tensor {
	input, weight := op.inputs[0], op.inputs[1]

	gradInput, err := conv2DInputGrad(gradOut, weight, input.Shape, op.stride, op.pad)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed for conv input: %v", err))
	}

	gradWeight, err := conv2DWeightGrad(gradOut, input, weight.Shape, op.stride, op.pad)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed for conv weight: %v", err))
	}

	grads := []*Tensor{gradInput, gradWeight}
	if len(op.inputs) == 3 {
		gradBias, err := conv2DBiasGrad(gradOut)
		if err != nil {
			panic(fmt.Sprintf("Backward pass failed for conv bias: %v", err))
		}
		grads = append(grads, gradBias)
	}

	return grads
}

func (op *Conv2DOp) Inputs() []*Tensor {
	return op.inputs
}

// DepthwiseConv2DOp filters every channel with a fixed [kh,kw] kernel.
// The kernel never receives a gradient.
type DepthwiseConv2DOp struct {
	inputs []*Tensor
	pad    int
}

func (op *DepthwiseConv2DOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("DepthwiseConv2DOp requires exactly 2 inputs")
	}

	input, kernel := inputs[0], inputs[1]
	op.inputs = inputs

	result, err := DepthwiseConv2D(input, kernel, op.pad)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = input.requiresGrad

	return result
}

func (op *DepthwiseConv2DOp) Backward(gradOut *Tensor) []*Tensor {
	input, kernel := op.inputs[0], op.inputs[1]

	gradInput, err := depthwiseInputGrad(gradOut, kernel, input.Shape, op.pad)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed for depthwise input: %v", err))
	}

	return []*Tensor{gradInput, nil}
}

func (op *DepthwiseConv2DOp) Inputs() []*Tensor {
	return op.inputs
}

// AvgPool2DOp implements the Operation interface for average pooling
type AvgPool2DOp struct {
	inputs []*Tensor
	k      int
}

func (op *AvgPool2DOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("AvgPool2DOp requires exactly 1 input")
	}

	a := inputs[0]
	op.inputs = inputs

	result, err := AvgPool2D(a, op.k)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad

	return result
}

func (op *AvgPool2DOp) Backward(gradOut *Tensor) []*Tensor {
	a := op.inputs[0]

	grad, err := avgPool2DGrad(gradOut, a.Shape, op.k)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}

	return []*Tensor{grad}
}

func (op *AvgPool2DOp) Inputs() []*Tensor {
	return op.inputs
}

// UpsampleNearest2Op implements the Operation interface for 2x nearest
// upsampling
type UpsampleNearest2Op struct {
	inputs []*Tensor
}

func (op *UpsampleNearest2Op) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("UpsampleNearest2Op requires exactly 1 input")
	}

	a := inputs[0]
	op.inputs = inputs

	result, err := UpsampleNearest2(a)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad

	return result
}

func (op *UpsampleNearest2Op) Backward(gradOut *Tensor) []*Tensor {
	a := op.inputs[0]

	grad, err := upsampleNearest2Grad(gradOut, a.Shape)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}

	return []*Tensor{grad}
}

func (op *UpsampleNearest2Op) Inputs() []*Tensor {
	return op.inputs
}

// High-level autograd functions that create and execute operations

// AddAutograd performs addition with automatic differentiation
func AddAutograd(a, b *Tensor) *Tensor {
	op := &AddOp{}
	return op.Forward(a, b)
}

// SubAutograd performs subtraction with automatic differentiation
func SubAutograd(a, b *Tensor) *Tensor {
	op := &SubOp{}
	return op.Forward(a, b)
}

// MulAutograd performs elementwise multiplication with automatic
// differentiation
func MulAutograd(a, b *Tensor) *Tensor {
	op := &MulOp{}
	return op.Forward(a, b)
}

// DivAutograd performs elementwise division with automatic differentiation
func DivAutograd(a, b *Tensor) *Tensor {
	op := &DivOp{}
	return op.Forward(a, b)
}

// ScaleAutograd multiplies by a constant with automatic differentiation
func ScaleAutograd(a *Tensor, factor float64) *Tensor {
	op := &ScaleOp{factor: factor}
	return op.Forward(a)
}

// AddScalarAutograd shifts by a constant with automatic differentiation
func AddScalarAutograd(a *Tensor, value float64) *Tensor {
	op := &AddScalarOp{value: value}
	return op.Forward(a)
}

// ReLUAutograd performs ReLU activation with automatic differentiation
func ReLUAutograd(a *Tensor) *Tensor {
	op := &ReLUOp{}
	return op.Forward(a)
}

// MeanAutograd reduces to the scalar mean with automatic differentiation
func MeanAutograd(a *Tensor) *Tensor {
	op := &MeanOp{}
	return op.Forward(a)
}

// Conv2DAutograd performs 2D convolution with automatic differentiation
func Conv2DAutograd(input, weight, bias *Tensor, stride, pad int) *Tensor {
	op := &Conv2DOp{stride: stride, pad: pad}
	if bias == nil {
		return op.Forward(input, weight)
	}
	return op.Forward(input, weight, bias)
}

// DepthwiseConv2DAutograd filters with a fixed kernel, tracking gradients
// for the input only
func DepthwiseConv2DAutograd(input, kernel *Tensor, pad int) *Tensor {
	op := &DepthwiseConv2DOp{pad: pad}
	return op.Forward(input, kernel)
}

// AvgPool2DAutograd performs average pooling with automatic differentiation
func AvgPool2DAutograd(a *Tensor, k int) *Tensor {
	op := &AvgPool2DOp{k: k}
	return op.Forward(a)
}

// UpsampleNearest2Autograd performs 2x nearest upsampling with automatic
// differentiation
func UpsampleNearest2Autograd(a *Tensor) *Tensor {
	op := &UpsampleNearest2Op{}
	return op.Forward(a)
}

// Backward runs reverse-mode differentiation from a scalar tensor,
// accumulating gradients into every reachable leaf that requires them.
func (t *Tensor) Backward() error {
	if t.DType != Float32 {
		return fmt.Errorf("Backward only supports Float32 tensors")
	}
	if t.NumElems != 1 {
		return fmt.Errorf("Backward can only start from a scalar tensor, got %d elements", t.NumElems)
	}

	// Topological order over the creator graph.
	var topo []*Tensor
	visited := make(map[*Tensor]bool)
	var visit func(n *Tensor)
	visit = func(n *Tensor) {
		if n == nil || visited[n] {
			return
		}
		visited[n] = true
		if n.creator != nil {
			for _, in := range n.creator.Inputs() {
				visit(in)
			}
		}
		topo = append(topo, n)
	}
	visit(t)

	seed, err := Ones(t.Shape, Float32, t.Device)
	if err != nil {
		return fmt.Errorf("failed to seed gradient: %v", err)
	}

	grads := make(map[*Tensor]*Tensor)
	grads[t] = seed

	for i := len(topo) - 1; i >= 0; i-- {
		n := topo[i]
		g := grads[n]
		if g == nil {
			continue
		}

		// Leaves accumulate into .grad across steps until ZeroGrad.
		if n.requiresGrad && n.creator == nil {
			if n.grad == nil {
				n.grad = g
			} else {
				acc, err := Add(n.grad, g)
				if err != nil {
					return fmt.Errorf("failed to accumulate gradient: %v", err)
				}
				n.grad = acc
			}
		}

		if n.creator == nil {
			continue
		}

		inGrads := n.creator.Backward(g)
		ins := n.creator.Inputs()
		if len(inGrads) != len(ins) {
			return fmt.Errorf("operation returned %d gradients for %d inputs", len(inGrads), len(ins))
		}
		for j, in := range ins {
			ig := inGrads[j]
			if ig == nil {
				continue
			}
			if prev := grads[in]; prev != nil {
				acc, err := Add(prev, ig)
				if err != nil {
					return fmt.Errorf("failed to accumulate gradient: %v", err)
				}
				grads[in] = acc
			} else {
				grads[in] = ig
			}
		}
	}

	return nil
}
