package training

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/tsawler/go-derain/tensor"
)

// makeSample builds one valid single-image batch of the given patch size
// with a full pyramid.
func makeSample(t *testing.T, seed int64, size int, name string) *Batch {
	t.Helper()

	rng := rand.New(rand.NewSource(seed))
	o, err := tensor.RandomUniform([]int{1, 3, size, size}, 0, 1, rng, tensor.CPU)
	if err != nil {
		t.Fatalf("failed to build rainy image: %v", err)
	}
	b, err := tensor.RandomUniform([]int{1, 3, size, size}, 0, 1, rng, tensor.CPU)
	if err != nil {
		t.Fatalf("failed to build clean image: %v", err)
	}
	return pyramidBatch(t, name, o, b)
}

// makeCleanSample builds a batch whose rainy and clean images are the same.
func makeCleanSample(t *testing.T, seed int64, size int, name string) *Batch {
	t.Helper()

	rng := rand.New(rand.NewSource(seed))
	img, err := tensor.RandomUniform([]int{1, 3, size, size}, 0, 1, rng, tensor.CPU)
	if err != nil {
		t.Fatalf("failed to build image: %v", err)
	}
	clone, err := img.Clone()
	if err != nil {
		t.Fatalf("failed to clone image: %v", err)
	}
	return pyramidBatch(t, name, img, clone)
}

func pyramidBatch(t *testing.T, name string, o, b *tensor.Tensor) *Batch {
	t.Helper()

	pool := func(x *tensor.Tensor, k int) *tensor.Tensor {
		y, err := tensor.AvgPool2D(x, k)
		if err != nil {
			t.Fatalf("failed to build pyramid: %v", err)
		}
		return y
	}

	return &Batch{
		Name: name,
		O:    o, B: b,
		O2: pool(o, 2), B2: pool(b, 2),
		O4: pool(o, 4), B4: pool(b, 4),
		O8: pool(o, 8), B8: pool(b, 8),
	}
}

// synthDataset serves pre-built samples.
type synthDataset struct {
	samples []*Batch
}

func newSynthDataset(t *testing.T, n, size int) *synthDataset {
	t.Helper()

	d := &synthDataset{}
	for i := 0; i < n; i++ {
		d.samples = append(d.samples, makeSample(t, int64(i+1), size, fmt.Sprintf("sample%03d", i)))
	}
	return d
}

func (d *synthDataset) Len() int {
	return len(d.samples)
}

func (d *synthDataset) Get(index int) (*Batch, error) {
	if index < 0 || index >= len(d.samples) {
		return nil, fmt.Errorf("index %d out of range", index)
	}
	return d.samples[index], nil
}

// recordingSink captures every scalar write.
type recordingSink struct {
	steps  []int
	values []map[string]float64
}

func (r *recordingSink) WriteScalars(step int, values map[string]float64) error {
	r.steps = append(r.steps, step)
	r.values = append(r.values, values)
	return nil
}
