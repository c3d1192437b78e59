package metric

import (
	"fmt"
	"math"

	"github.com/tsawler/go-derain/tensor"
)

// psnrCap is reported when two images are identical and the mean squared
// error vanishes.
const psnrCap = 100.0

// PSNR returns the peak signal-to-noise ratio in decibels between two
// images with values in [0, 1]. Out-of-range values are clipped to the
// displayable range before comparison; there is no quantization.
func PSNR(a, b *tensor.Tensor) (float64, error) {
	da, err := a.GetFloat32Data()
	if err != nil {
		return 0, fmt.Errorf("PSNR: %v", err)
	}
	db, err := b.GetFloat32Data()
	if err != nil {
		return 0, fmt.Errorf("PSNR: %v", err)
	}
	if len(da) != len(db) {
		return 0, fmt.Errorf("PSNR inputs must have matching sizes, got %d and %d", len(da), len(db))
	}
	if len(da) == 0 {
		return 0, fmt.Errorf("PSNR inputs are empty")
	}

	var mse float64
	for i := range da {
		d := clip(da[i]) - clip(db[i])
		mse += d * d
	}
	mse /= float64(len(da))

	if mse == 0 {
		return psnrCap, nil
	}
	return 20 * math.Log10(1/math.Sqrt(mse)), nil
}

// clip clamps a value into the unit range.
func clip(v float32) float64 {
	x := float64(v)
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
