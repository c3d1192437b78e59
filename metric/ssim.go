package metric

import (
	"fmt"
	"math"

	"github.com/tsawler/go-derain/tensor"
)

const (
	defaultWindowSize = 11
	defaultSigma      = 1.5
)

// SSIM computes the structural similarity index over gaussian-windowed
// local statistics. The computation goes through autograd ops so a score
// can serve directly as a differentiable training signal.
type SSIM struct {
	WindowSize int
	Sigma      float64

	window *tensor.Tensor
	c1     float64
	c2     float64
}

// NewSSIM builds the standard 11x11 gaussian-window variant with the usual
// stability constants for a unit dynamic range.
func NewSSIM() (*SSIM, error) {
	return NewSSIMWindow(defaultWindowSize, defaultSigma)
}

// NewSSIMWindow builds an SSIM scorer with a custom gaussian window.
func NewSSIMWindow(windowSize int, sigma float64) (*SSIM, error) {
	if windowSize < 1 || windowSize%2 == 0 {
		return nil, fmt.Errorf("window size must be a positive odd number, got %d", windowSize)
	}
	if sigma <= 0 {
		return nil, fmt.Errorf("sigma must be positive, got %g", sigma)
	}

	window, err := gaussianWindow(windowSize, sigma)
	if err != nil {
		return nil, fmt.Errorf("failed to build gaussian window: %v", err)
	}

	return &SSIM{
		WindowSize: windowSize,
		Sigma:      sigma,
		window:     window,
		c1:         0.01 * 0.01,
		c2:         0.03 * 0.03,
	}, nil
}

// gaussianWindow returns a normalized [k,k] separable gaussian kernel.
func gaussianWindow(k int, sigma float64) (*tensor.Tensor, error) {
	g := make([]float64, k)
	center := float64(k / 2)
	var sum float64
	for i := range g {
		d := float64(i) - center
		g[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += g[i]
	}
	for i := range g {
		g[i] /= sum
	}

	data := make([]float32, k*k)
	for y := 0; y < k; y++ {
		for x := 0; x < k; x++ {
			data[y*k+x] = float32(g[y] * g[x])
		}
	}

	return tensor.NewTensor([]int{k, k}, tensor.Float32, tensor.CPU, data)
}

// Score returns the mean SSIM between two NCHW images with values in
// [0, 1] as a single-element tensor. Gradients flow to both inputs; the
// window itself is fixed.
func (s *SSIM) Score(x, y *tensor.Tensor) (result *tensor.Tensor, err error) {
	if len(x.Shape) != 4 || len(y.Shape) != 4 {
		return nil, fmt.Errorf("SSIM inputs must be 4D [N,C,H,W], got %v and %v", x.Shape, y.Shape)
	}
	for i := range x.Shape {
		if x.Shape[i] != y.Shape[i] {
			return nil, fmt.Errorf("SSIM inputs must have matching shapes, got %v and %v", x.Shape, y.Shape)
		}
	}
	if x.Shape[2] < s.WindowSize || x.Shape[3] < s.WindowSize {
		return nil, fmt.Errorf("SSIM input %dx%d smaller than window %d", x.Shape[2], x.Shape[3], s.WindowSize)
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("SSIM failed: %v", r)
		}
	}()

	pad := s.WindowSize / 2
	win := func(t *tensor.Tensor) *tensor.Tensor {
		return tensor.DepthwiseConv2DAutograd(t, s.window, pad)
	}

	muX := win(x)
	muY := win(y)

	muXX := tensor.MulAutograd(muX, muX)
	muYY := tensor.MulAutograd(muY, muY)
	muXY := tensor.MulAutograd(muX, muY)

	sigmaX := tensor.SubAutograd(win(tensor.MulAutograd(x, x)), muXX)
	sigmaY := tensor.SubAutograd(win(tensor.MulAutograd(y, y)), muYY)
	sigmaXY := tensor.SubAutograd(win(tensor.MulAutograd(x, y)), muXY)

	num := tensor.MulAutograd(
		tensor.AddScalarAutograd(tensor.ScaleAutograd(muXY, 2), s.c1),
		tensor.AddScalarAutograd(tensor.ScaleAutograd(sigmaXY, 2), s.c2),
	)
	den := tensor.MulAutograd(
		tensor.AddScalarAutograd(tensor.AddAutograd(muXX, muYY), s.c1),
		tensor.AddScalarAutograd(tensor.AddAutograd(sigmaX, sigmaY), s.c2),
	)

	return tensor.MeanAutograd(tensor.DivAutograd(num, den)), nil
}
