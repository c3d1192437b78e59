// Package dataset loads rainy/clean training pairs. Each file on disk is a
// single image holding the rainy version on the left half and the clean
// ground truth on the right half.
package dataset

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/tsawler/go-derain/tensor"
	"github.com/tsawler/go-derain/training"
)

// RainPairDataset serves pyramid batches cropped from side-by-side image
// pairs. In training mode crops are random; otherwise they are centered so
// evaluation is deterministic.
type RainPairDataset struct {
	dir       string
	files     []string
	patchSize int
	train     bool
	device    tensor.DeviceType

	mu  sync.Mutex
	rng *rand.Rand
}

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// NewRainPairDataset scans dir for image files. The patch size must be a
// multiple of 8 so every pyramid level has whole pixels. Tensors are
// placed on the given device.
func NewRainPairDataset(dir string, patchSize int, train bool, seed int64, device tensor.DeviceType) (*RainPairDataset, error) {
	if patchSize < 8 || patchSize%8 != 0 {
		return nil, fmt.Errorf("patch size must be a positive multiple of 8, got %d", patchSize)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset directory: %v", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("no image files in %s", dir)
	}

	return &RainPairDataset{
		dir:       dir,
		files:     files,
		patchSize: patchSize,
		train:     train,
		device:    device,
		rng:       rand.New(rand.NewSource(seed)),
	}, nil
}

func (d *RainPairDataset) Len() int {
	return len(d.files)
}

// Get loads one pair, crops a patch from both halves at the same position,
// and builds the four-scale pyramid.
func (d *RainPairDataset) Get(index int) (*training.Batch, error) {
	if index < 0 || index >= len(d.files) {
		return nil, fmt.Errorf("index %d out of range [0, %d)", index, len(d.files))
	}
	name := d.files[index]

	f, err := os.Open(filepath.Join(d.dir, name))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %v", name, err)
	}
	img, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %v", name, err)
	}

	bounds := img.Bounds()
	fullW, fullH := bounds.Dx(), bounds.Dy()
	if fullW%2 != 0 {
		return nil, fmt.Errorf("%s width %d is odd, cannot split into rainy and clean halves", name, fullW)
	}
	halfW := fullW / 2
	if halfW < d.patchSize || fullH < d.patchSize {
		return nil, fmt.Errorf("%s halves are %dx%d, smaller than patch %d", name, halfW, fullH, d.patchSize)
	}

	var cropX, cropY int
	if d.train {
		d.mu.Lock()
		cropX = d.rng.Intn(halfW - d.patchSize + 1)
		cropY = d.rng.Intn(fullH - d.patchSize + 1)
		d.mu.Unlock()
	} else {
		cropX = (halfW - d.patchSize) / 2
		cropY = (fullH - d.patchSize) / 2
	}

	rainy, err := cropToTensor(img, bounds.Min.X+cropX, bounds.Min.Y+cropY, d.patchSize, d.device)
	if err != nil {
		return nil, fmt.Errorf("failed to extract rainy patch from %s: %v", name, err)
	}
	clean, err := cropToTensor(img, bounds.Min.X+halfW+cropX, bounds.Min.Y+cropY, d.patchSize, d.device)
	if err != nil {
		return nil, fmt.Errorf("failed to extract clean patch from %s: %v", name, err)
	}

	batch := &training.Batch{
		Name: strings.TrimSuffix(name, filepath.Ext(name)),
		O:    rainy,
		B:    clean,
	}
	if batch.O2, err = tensor.AvgPool2D(rainy, 2); err != nil {
		return nil, fmt.Errorf("failed to build pyramid for %s: %v", name, err)
	}
	if batch.B2, err = tensor.AvgPool2D(clean, 2); err != nil {
		return nil, fmt.Errorf("failed to build pyramid for %s: %v", name, err)
	}
	if batch.O4, err = tensor.AvgPool2D(rainy, 4); err != nil {
		return nil, fmt.Errorf("failed to build pyramid for %s: %v", name, err)
	}
	if batch.B4, err = tensor.AvgPool2D(clean, 4); err != nil {
		return nil, fmt.Errorf("failed to build pyramid for %s: %v", name, err)
	}
	if batch.O8, err = tensor.AvgPool2D(rainy, 8); err != nil {
		return nil, fmt.Errorf("failed to build pyramid for %s: %v", name, err)
	}
	if batch.B8, err = tensor.AvgPool2D(clean, 8); err != nil {
		return nil, fmt.Errorf("failed to build pyramid for %s: %v", name, err)
	}

	return batch, nil
}

// cropToTensor converts a square crop to a [1,3,size,size] CHW tensor with
// values in [0, 1].
func cropToTensor(img image.Image, x0, y0, size int, device tensor.DeviceType) (*tensor.Tensor, error) {
	data := make([]float32, 3*size*size)
	plane := size * size
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := img.At(x0+x, y0+y).RGBA()
			data[0*plane+y*size+x] = float32(r>>8) / 255
			data[1*plane+y*size+x] = float32(g>>8) / 255
			data[2*plane+y*size+x] = float32(b>>8) / 255
		}
	}
	return tensor.NewTensor([]int{1, 3, size, size}, tensor.Float32, device, data)
}
