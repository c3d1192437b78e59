package training

import (
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/tsawler/go-derain/tensor"
)

// SnapshotImage writes a side-by-side [rainy | derained | clean] JPEG of
// the first image in the batch. Values are mapped from [0, 1] back to 8-bit
// with clipping.
func SnapshotImage(path string, batch *Batch, derained *tensor.Tensor) error {
	panels := []*tensor.Tensor{batch.O, derained, batch.B}
	for i, p := range panels {
		if p == nil || len(p.Shape) != 4 || p.Shape[1] != 3 {
			return fmt.Errorf("snapshot panel %d must be a [N,3,H,W] tensor", i)
		}
	}
	h, w := batch.O.Shape[2], batch.O.Shape[3]
	for i, p := range panels {
		if p.Shape[2] != h || p.Shape[3] != w {
			return fmt.Errorf("snapshot panel %d is %dx%d, want %dx%d", i, p.Shape[2], p.Shape[3], h, w)
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, w*len(panels), h))
	for pi, p := range panels {
		data, err := p.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("snapshot panel %d: %v", pi, err)
		}
		// First image of the batch only.
		plane := h * w
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				off := img.PixOffset(pi*w+x, y)
				img.Pix[off+0] = toByte(data[0*plane+y*w+x])
				img.Pix[off+1] = toByte(data[1*plane+y*w+x])
				img.Pix[off+2] = toByte(data[2*plane+y*w+x])
				img.Pix[off+3] = 255
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %v", err)
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 95}); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode snapshot: %v", err)
	}
	return f.Close()
}

func toByte(v float32) uint8 {
	x := v * 255
	if x < 0 {
		x = 0
	} else if x > 255 {
		x = 255
	}
	return uint8(x + 0.5)
}
