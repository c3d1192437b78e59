package training

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/tsawler/go-derain/tensor"
)

// ErrExhausted is returned by Next when every sample has been served once.
var ErrExhausted = errors.New("dataset exhausted")

// Dataset serves single samples as one-image batches. Get must be safe for
// concurrent calls.
type Dataset interface {
	Len() int
	Get(index int) (*Batch, error)
}

// DataLoader assembles dataset samples into batches. Sample loads within a
// batch run on worker goroutines; batch order and the order of samples
// inside a batch stay deterministic.
type DataLoader struct {
	dataset    Dataset
	batchSize  int
	shuffle    bool
	workers    int
	queueDepth int

	rng   *rand.Rand
	order []int
	pos   int
}

// NewDataLoader creates a loader over the dataset. The seed drives the
// shuffle order so runs are reproducible.
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool, workers, queueDepth int, seed int64) (*DataLoader, error) {
	if dataset.Len() == 0 {
		return nil, fmt.Errorf("dataset is empty")
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = 1
	}

	d := &DataLoader{
		dataset:    dataset,
		batchSize:  batchSize,
		shuffle:    shuffle,
		workers:    workers,
		queueDepth: queueDepth,
		rng:        rand.New(rand.NewSource(seed)),
	}
	d.Reset()
	return d, nil
}

// Reset rewinds the loader and reshuffles if shuffling is enabled.
func (d *DataLoader) Reset() {
	n := d.dataset.Len()
	if d.order == nil {
		d.order = make([]int, n)
		for i := range d.order {
			d.order[i] = i
		}
	}
	if d.shuffle {
		d.rng.Shuffle(n, func(i, j int) {
			d.order[i], d.order[j] = d.order[j], d.order[i]
		})
	}
	d.pos = 0
}

// BatchesPerEpoch returns how many batches one full pass yields, counting a
// trailing partial batch.
func (d *DataLoader) BatchesPerEpoch() int {
	return (d.dataset.Len() + d.batchSize - 1) / d.batchSize
}

// Next returns the next batch, or ErrExhausted at the end of the pass.
func (d *DataLoader) Next() (*Batch, error) {
	if d.pos >= len(d.order) {
		return nil, ErrExhausted
	}

	end := d.pos + d.batchSize
	if end > len(d.order) {
		end = len(d.order)
	}
	indices := d.order[d.pos:end]
	d.pos = end

	samples := make([]*Batch, len(indices))
	errs := make([]error, len(indices))

	var wg sync.WaitGroup
	sem := make(chan struct{}, d.workers)
	for i, idx := range indices {
		wg.Add(1)
		go func(slot, index int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			samples[slot], errs[slot] = d.dataset.Get(index)
		}(i, idx)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %v", indices[i], err)
		}
	}

	return stackSamples(samples)
}

// BatchResult carries either a batch or the error that ended iteration.
type BatchResult struct {
	Batch *Batch
	Err   error
}

// Iterator streams batches through a bounded channel so the next batch
// loads while the current one trains. The channel closes after ErrExhausted
// or when stop is closed.
func (d *DataLoader) Iterator(stop <-chan struct{}) <-chan BatchResult {
	out := make(chan BatchResult, d.queueDepth)
	go func() {
		defer close(out)
		for {
			batch, err := d.Next()
			if err == ErrExhausted {
				return
			}
			select {
			case out <- BatchResult{Batch: batch, Err: err}:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return out
}

// stackSamples concatenates one-image batches along the batch dimension.
func stackSamples(samples []*Batch) (*Batch, error) {
	if len(samples) == 1 {
		return samples[0], nil
	}

	stack := func(pick func(*Batch) *tensor.Tensor) (*tensor.Tensor, error) {
		first := pick(samples[0])
		if first == nil {
			return nil, fmt.Errorf("sample is missing a scale")
		}
		c, h, w := first.Shape[1], first.Shape[2], first.Shape[3]

		total := 0
		for _, s := range samples {
			t := pick(s)
			if t == nil {
				return nil, fmt.Errorf("sample is missing a scale")
			}
			if len(t.Shape) != 4 || t.Shape[1] != c || t.Shape[2] != h || t.Shape[3] != w {
				return nil, fmt.Errorf("sample shape %v does not match %v", t.Shape, first.Shape)
			}
			total += t.Shape[0]
		}

		data := make([]float32, 0, total*c*h*w)
		for _, s := range samples {
			src, err := pick(s).GetFloat32Data()
			if err != nil {
				return nil, err
			}
			data = append(data, src...)
		}

		return tensor.NewTensor([]int{total, c, h, w}, tensor.Float32, first.Device, data)
	}

	out := Batch{Name: samples[0].Name}
	var err error
	fields := []struct {
		dst  **tensor.Tensor
		pick func(*Batch) *tensor.Tensor
	}{
		{&out.O, func(b *Batch) *tensor.Tensor { return b.O }},
		{&out.B, func(b *Batch) *tensor.Tensor { return b.B }},
		{&out.O2, func(b *Batch) *tensor.Tensor { return b.O2 }},
		{&out.B2, func(b *Batch) *tensor.Tensor { return b.B2 }},
		{&out.O4, func(b *Batch) *tensor.Tensor { return b.O4 }},
		{&out.B4, func(b *Batch) *tensor.Tensor { return b.B4 }},
		{&out.O8, func(b *Batch) *tensor.Tensor { return b.O8 }},
		{&out.B8, func(b *Batch) *tensor.Tensor { return b.B8 }},
	}
	for _, f := range fields {
		*f.dst, err = stack(f.pick)
		if err != nil {
			return nil, err
		}
	}

	return &out, nil
}

// CyclingLoader wraps a DataLoader into an endless stream: batches are
// prefetched through the loader's bounded iterator channel, and when one
// pass ends the loader rewinds and a fresh iterator starts, so the
// training loop never sees ErrExhausted.
type CyclingLoader struct {
	loader *DataLoader
	stop   chan struct{}
	ch     <-chan BatchResult
}

func NewCyclingLoader(loader *DataLoader) *CyclingLoader {
	c := &CyclingLoader{loader: loader, stop: make(chan struct{})}
	c.ch = loader.Iterator(c.stop)
	return c
}

func (c *CyclingLoader) Next() (*Batch, error) {
	res, ok := <-c.ch
	if !ok {
		// The iterator goroutine has exited, so the loader is safe to
		// rewind here.
		c.loader.Reset()
		c.ch = c.loader.Iterator(c.stop)
		res, ok = <-c.ch
		if !ok {
			return nil, ErrExhausted
		}
	}
	return res.Batch, res.Err
}

// Close stops the prefetch goroutine and drains any batches it already
// queued.
func (c *CyclingLoader) Close() {
	close(c.stop)
	for range c.ch {
	}
}
