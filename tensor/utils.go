package tensor

import (
	"fmt"
)

// Clone returns a deep copy of the tensor. The copy is detached from the
// autograd graph.
func (t *Tensor) Clone() (*Tensor, error) {
	var data interface{}
	switch t.DType {
	case Float32:
		src := t.Data.([]float32)
		dst := make([]float32, len(src))
		copy(dst, src)
		data = dst
	case Int32:
		src := t.Data.([]int32)
		dst := make([]int32, len(src))
		copy(dst, src)
		data = dst
	default:
		return nil, fmt.Errorf("unsupported dtype for Clone: %s", t.DType)
	}

	shape := make([]int, len(t.Shape))
	copy(shape, t.Shape)

	clone, err := NewTensor(shape, t.DType, t.Device, data)
	if err != nil {
		return nil, err
	}
	clone.requiresGrad = t.requiresGrad

	return clone, nil
}

// GetFloat32Data returns the backing slice of a Float32 tensor. The slice is
// shared, not copied.
func (t *Tensor) GetFloat32Data() ([]float32, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("tensor dtype is %s, not Float32", t.DType)
	}
	data, ok := t.Data.([]float32)
	if !ok {
		return nil, fmt.Errorf("tensor has no allocated data")
	}
	return data, nil
}

// SetData replaces the contents of a Float32 tensor in place.
func (t *Tensor) SetData(values []float32) error {
	if t.DType != Float32 {
		return fmt.Errorf("tensor dtype is %s, not Float32", t.DType)
	}
	if len(values) != t.NumElems {
		return fmt.Errorf("data length %d does not match tensor size %d", len(values), t.NumElems)
	}
	data, ok := t.Data.([]float32)
	if !ok {
		return fmt.Errorf("tensor has no allocated data")
	}
	copy(data, values)
	return nil
}

// Item extracts the value of a single-element Float32 tensor.
func (t *Tensor) Item() (float32, error) {
	if t.DType != Float32 {
		return 0, fmt.Errorf("Item only supports Float32 dtype")
	}
	if t.NumElems != 1 {
		return 0, fmt.Errorf("Item requires a single-element tensor, got %d elements", t.NumElems)
	}
	return t.Data.([]float32)[0], nil
}

// FromScalar wraps a single float32 in a [1] tensor.
func FromScalar(v float32, device DeviceType) (*Tensor, error) {
	return NewTensor([]int{1}, Float32, device, []float32{v})
}

// Equal reports whether two tensors have identical shape, dtype and data.
func Equal(t1, t2 *Tensor) bool {
	if t1.DType != t2.DType || len(t1.Shape) != len(t2.Shape) {
		return false
	}
	for i := range t1.Shape {
		if t1.Shape[i] != t2.Shape[i] {
			return false
		}
	}

	switch t1.DType {
	case Float32:
		d1 := t1.Data.([]float32)
		d2 := t2.Data.([]float32)
		for i := range d1 {
			if d1[i] != d2[i] {
				return false
			}
		}
	case Int32:
		d1 := t1.Data.([]int32)
		d2 := t2.Data.([]int32)
		for i := range d1 {
			if d1[i] != d2[i] {
				return false
			}
		}
	default:
		return false
	}

	return true
}

// ZeroGrad clears accumulated gradients on the given tensors.
func ZeroGrad(tensors []*Tensor) {
	for _, t := range tensors {
		t.grad = nil
	}
}
