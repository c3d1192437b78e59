package training

import (
	"fmt"

	"github.com/tsawler/go-derain/tensor"
)

// Batch is one training sample group: rainy/clean image pairs at full,
// half, quarter and eighth scale. O tensors are rainy inputs, B tensors
// the clean ground truth.
type Batch struct {
	// Name identifies the first sample in the batch, used to label image
	// snapshots. Optional.
	Name string

	O  *tensor.Tensor
	B  *tensor.Tensor
	O2 *tensor.Tensor
	B2 *tensor.Tensor
	O4 *tensor.Tensor
	B4 *tensor.Tensor
	O8 *tensor.Tensor
	B8 *tensor.Tensor
}

// Validate checks that every pair is present, rainy and clean shapes match
// at each scale, and each scale halves the previous one.
func (b *Batch) Validate() error {
	pairs := []struct {
		name    string
		o, gt   *tensor.Tensor
		divisor int
	}{
		{"full", b.O, b.B, 1},
		{"half", b.O2, b.B2, 2},
		{"quarter", b.O4, b.B4, 4},
		{"eighth", b.O8, b.B8, 8},
	}

	for _, p := range pairs {
		if p.o == nil || p.gt == nil {
			return fmt.Errorf("batch is missing the %s scale pair", p.name)
		}
		if len(p.o.Shape) != 4 || len(p.gt.Shape) != 4 {
			return fmt.Errorf("%s scale tensors must be 4D, got %v and %v", p.name, p.o.Shape, p.gt.Shape)
		}
		for i := range p.o.Shape {
			if p.o.Shape[i] != p.gt.Shape[i] {
				return fmt.Errorf("%s scale rainy/clean shapes differ: %v vs %v", p.name, p.o.Shape, p.gt.Shape)
			}
		}
		if p.o.Shape[0] != b.O.Shape[0] {
			return fmt.Errorf("%s scale batch size %d differs from full scale %d", p.name, p.o.Shape[0], b.O.Shape[0])
		}
		if p.o.Shape[2] != b.O.Shape[2]/p.divisor || p.o.Shape[3] != b.O.Shape[3]/p.divisor {
			return fmt.Errorf("%s scale is %dx%d, want %dx%d",
				p.name, p.o.Shape[2], p.o.Shape[3], b.O.Shape[2]/p.divisor, b.O.Shape[3]/p.divisor)
		}
	}

	return nil
}
