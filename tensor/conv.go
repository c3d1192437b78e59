package tensor

import (
	"fmt"
)

// checkNCHW validates a 4D image tensor.
func checkNCHW(t *Tensor, what string) error {
	if t.DType != Float32 {
		return fmt.Errorf("%s must be Float32, got %s", what, t.DType)
	}
	if len(t.Shape) != 4 {
		return fmt.Errorf("%s must be 4D [N,C,H,W], got shape %v", what, t.Shape)
	}
	return nil
}

// Conv2D performs 2D cross-correlation over an NCHW input with a
// [F,C,kh,kw] weight tensor and optional [F] bias.
func Conv2D(input, weight, bias *Tensor, stride, pad int) (*Tensor, error) {
	if err := checkNCHW(input, "conv input"); err != nil {
		return nil, err
	}
	if err := checkNCHW(weight, "conv weight"); err != nil {
		return nil, err
	}
	if stride < 1 {
		return nil, fmt.Errorf("stride must be >= 1, got %d", stride)
	}
	if pad < 0 {
		return nil, fmt.Errorf("pad must be >= 0, got %d", pad)
	}

	n, c, h, w := input.Shape[0], input.Shape[1], input.Shape[2], input.Shape[3]
	f, wc, kh, kw := weight.Shape[0], weight.Shape[1], weight.Shape[2], weight.Shape[3]
	if wc != c {
		return nil, fmt.Errorf("conv channel mismatch: input has %d, weight expects %d", c, wc)
	}
	if bias != nil && (len(bias.Shape) != 1 || bias.Shape[0] != f) {
		return nil, fmt.Errorf("conv bias must have shape [%d], got %v", f, bias.Shape)
	}

	ho := (h+2*pad-kh)/stride + 1
	wo := (w+2*pad-kw)/stride + 1
	if ho < 1 || wo < 1 {
		return nil, fmt.Errorf("conv output would be empty for input %dx%d, kernel %dx%d, pad %d", h, w, kh, kw, pad)
	}

	result, err := Zeros([]int{n, f, ho, wo}, Float32, input.Device)
	if err != nil {
		return nil, err
	}

	in := input.Data.([]float32)
	wt := weight.Data.([]float32)
	out := result.Data.([]float32)
	var bs []float32
	if bias != nil {
		bs = bias.Data.([]float32)
	}

	for ni := 0; ni < n; ni++ {
		for fi := 0; fi < f; fi++ {
			for oy := 0; oy < ho; oy++ {
				for ox := 0; ox < wo; ox++ {
					var acc float32
					for ci := 0; ci < c; ci++ {
						for ky := 0; ky < kh; ky++ {
							iy := oy*stride + ky - pad
							if iy < 0 || iy >= h {
								continue
							}
							for kx := 0; kx < kw; kx++ {
								ix := ox*stride + kx - pad
								if ix < 0 || ix >= w {
									continue
								}
								acc += in[((ni*c+ci)*h+iy)*w+ix] * wt[((fi*c+ci)*kh+ky)*kw+kx]
							}
						}
					}
					if bs != nil {
						acc += bs[fi]
					}
					out[((ni*f+fi)*ho+oy)*wo+ox] = acc
				}
			}
		}
	}

	return result, nil
}

// conv2DInputGrad scatters the output gradient back onto the input.
func conv2DInputGrad(gradOut, weight *Tensor, inputShape []int, stride, pad int) (*Tensor, error) {
	grad, err := Zeros(inputShape, Float32, gradOut.Device)
	if err != nil {
		return nil, err
	}

	n, c, h, w := inputShape[0], inputShape[1], inputShape[2], inputShape[3]
	f, kh, kw := weight.Shape[0], weight.Shape[2], weight.Shape[3]
	ho, wo := gradOut.Shape[2], gradOut.Shape[3]

	g := gradOut.Data.([]float32)
	wt := weight.Data.([]float32)
	out := grad.Data.([]float32)

	for ni := 0; ni < n; ni++ {
		for fi := 0; fi < f; fi++ {
			for oy := 0; oy < ho; oy++ {
				for ox := 0; ox < wo; ox++ {
					gv := g[((ni*f+fi)*ho+oy)*wo+ox]
					if gv == 0 {
						continue
					}
					for ci := 0; ci < c; ci++ {
						for ky := 0; ky < kh; ky++ {
							iy := oy*stride + ky - pad
							if iy < 0 || iy >= h {
								continue
							}
							for kx := 0; kx < kw; kx++ {
								ix := ox*stride + kx - pad
								if ix < 0 || ix >= w {
									continue
								}
								out[((ni*c+ci)*h+iy)*w+ix] += gv * wt[((fi*c+ci)*kh+ky)*kw+kx]
							}
						}
					}
				}
			}
		}
	}

	return grad, nil
}

// conv2DWeightGrad accumulates the output gradient into the weight shape.
func conv2DWeightGrad(gradOut, input *Tensor, weightShape []int, stride, pad int) (*Tensor, error) {
	grad, err := Zeros(weightShape, Float32, gradOut.Device)
	if err != nil {
		return nil, err
	}

	n, c, h, w := input.Shape[0], input.Shape[1], input.Shape[2], input.Shape[3]
	f, kh, kw := weightShape[0], weightShape[2], weightShape[3]
	ho, wo := gradOut.Shape[2], gradOut.Shape[3]

	g := gradOut.Data.([]float32)
	in := input.Data.([]float32)
	out := grad.Data.([]float32)

	for ni := 0; ni < n; ni++ {
		for fi := 0; fi < f; fi++ {
			for oy := 0; oy < ho; oy++ {
				for ox := 0; ox < wo; ox++ {
					gv := g[((ni*f+fi)*ho+oy)*wo+ox]
					if gv == 0 {
						continue
					}
					for ci := 0; ci < c; ci++ {
						for ky := 0; ky < kh; ky++ {
							iy := oy*stride + ky - pad
							if iy < 0 || iy >= h {
								continue
							}
							for kx := 0; kx < kw; kx++ {
								ix := ox*stride + kx - pad
								if ix < 0 || ix >= w {
									continue
								}
								out[((fi*c+ci)*kh+ky)*kw+kx] += gv * in[((ni*c+ci)*h+iy)*w+ix]
							}
						}
					}
				}
			}
		}
	}

	return grad, nil
}

// conv2DBiasGrad sums the output gradient over batch and spatial dims.
func conv2DBiasGrad(gradOut *Tensor) (*Tensor, error) {
	n, f, ho, wo := gradOut.Shape[0], gradOut.Shape[1], gradOut.Shape[2], gradOut.Shape[3]

	grad, err := Zeros([]int{f}, Float32, gradOut.Device)
	if err != nil {
		return nil, err
	}

	g := gradOut.Data.([]float32)
	out := grad.Data.([]float32)
	for ni := 0; ni < n; ni++ {
		for fi := 0; fi < f; fi++ {
			for oy := 0; oy < ho; oy++ {
				for ox := 0; ox < wo; ox++ {
					out[fi] += g[((ni*f+fi)*ho+oy)*wo+ox]
				}
			}
		}
	}

	return grad, nil
}

// DepthwiseConv2D applies a single [kh,kw] kernel to every channel of an
// NCHW input independently, stride 1, with the given zero padding. Used by
// the windowed statistics in SSIM.
func DepthwiseConv2D(input, kernel *Tensor, pad int) (*Tensor, error) {
	if err := checkNCHW(input, "depthwise input"); err != nil {
		return nil, err
	}
	if kernel.DType != Float32 || len(kernel.Shape) != 2 {
		return nil, fmt.Errorf("depthwise kernel must be a Float32 [kh,kw] tensor, got %v", kernel.Shape)
	}
	if pad < 0 {
		return nil, fmt.Errorf("pad must be >= 0, got %d", pad)
	}

	n, c, h, w := input.Shape[0], input.Shape[1], input.Shape[2], input.Shape[3]
	kh, kw := kernel.Shape[0], kernel.Shape[1]
	ho := h + 2*pad - kh + 1
	wo := w + 2*pad - kw + 1
	if ho < 1 || wo < 1 {
		return nil, fmt.Errorf("depthwise output would be empty for input %dx%d, kernel %dx%d, pad %d", h, w, kh, kw, pad)
	}

	result, err := Zeros([]int{n, c, ho, wo}, Float32, input.Device)
	if err != nil {
		return nil, err
	}

	in := input.Data.([]float32)
	k := kernel.Data.([]float32)
	out := result.Data.([]float32)

	for ni := 0; ni < n; ni++ {
		for ci := 0; ci < c; ci++ {
			for oy := 0; oy < ho; oy++ {
				for ox := 0; ox < wo; ox++ {
					var acc float32
					for ky := 0; ky < kh; ky++ {
						iy := oy + ky - pad
						if iy < 0 || iy >= h {
							continue
						}
						for kx := 0; kx < kw; kx++ {
							ix := ox + kx - pad
							if ix < 0 || ix >= w {
								continue
							}
							acc += in[((ni*c+ci)*h+iy)*w+ix] * k[ky*kw+kx]
						}
					}
					out[((ni*c+ci)*ho+oy)*wo+ox] = acc
				}
			}
		}
	}

	return result, nil
}

// depthwiseInputGrad scatters the output gradient back through a fixed
// depthwise kernel.
func depthwiseInputGrad(gradOut, kernel *Tensor, inputShape []int, pad int) (*Tensor, error) {
	grad, err := Zeros(inputShape, Float32, gradOut.Device)
	if err != nil {
		return nil, err
	}

	n, c, h, w := inputShape[0], inputShape[1], inputShape[2], inputShape[3]
	kh, kw := kernel.Shape[0], kernel.Shape[1]
	ho, wo := gradOut.Shape[2], gradOut.Shape[3]

	g := gradOut.Data.([]float32)
	k := kernel.Data.([]float32)
	out := grad.Data.([]float32)

	for ni := 0; ni < n; ni++ {
		for ci := 0; ci < c; ci++ {
			for oy := 0; oy < ho; oy++ {
				for ox := 0; ox < wo; ox++ {
					gv := g[((ni*c+ci)*ho+oy)*wo+ox]
					if gv == 0 {
						continue
					}
					for ky := 0; ky < kh; ky++ {
						iy := oy + ky - pad
						if iy < 0 || iy >= h {
							continue
						}
						for kx := 0; kx < kw; kx++ {
							ix := ox + kx - pad
							if ix < 0 || ix >= w {
								continue
							}
							out[((ni*c+ci)*h+iy)*w+ix] += gv * k[ky*kw+kx]
						}
					}
				}
			}
		}
	}

	return grad, nil
}

// AvgPool2D averages non-overlapping k x k blocks of an NCHW tensor. The
// spatial dims must be divisible by k; this is also the box filter used to
// build the scale pyramid.
func AvgPool2D(input *Tensor, k int) (*Tensor, error) {
	if err := checkNCHW(input, "pool input"); err != nil {
		return nil, err
	}
	if k < 1 {
		return nil, fmt.Errorf("pool size must be >= 1, got %d", k)
	}

	n, c, h, w := input.Shape[0], input.Shape[1], input.Shape[2], input.Shape[3]
	if h%k != 0 || w%k != 0 {
		return nil, fmt.Errorf("pool size %d does not divide spatial dims %dx%d", k, h, w)
	}
	ho, wo := h/k, w/k

	result, err := Zeros([]int{n, c, ho, wo}, Float32, input.Device)
	if err != nil {
		return nil, err
	}

	in := input.Data.([]float32)
	out := result.Data.([]float32)
	inv := 1.0 / float32(k*k)

	for ni := 0; ni < n; ni++ {
		for ci := 0; ci < c; ci++ {
			for oy := 0; oy < ho; oy++ {
				for ox := 0; ox < wo; ox++ {
					var acc float32
					for ky := 0; ky < k; ky++ {
						for kx := 0; kx < k; kx++ {
							acc += in[((ni*c+ci)*h+oy*k+ky)*w+ox*k+kx]
						}
					}
					out[((ni*c+ci)*ho+oy)*wo+ox] = acc * inv
				}
			}
		}
	}

	return result, nil
}

// avgPool2DGrad spreads each output gradient evenly over its k x k block.
func avgPool2DGrad(gradOut *Tensor, inputShape []int, k int) (*Tensor, error) {
	grad, err := Zeros(inputShape, Float32, gradOut.Device)
	if err != nil {
		return nil, err
	}

	n, c, h, w := inputShape[0], inputShape[1], inputShape[2], inputShape[3]
	ho, wo := gradOut.Shape[2], gradOut.Shape[3]

	g := gradOut.Data.([]float32)
	out := grad.Data.([]float32)
	inv := 1.0 / float32(k*k)

	for ni := 0; ni < n; ni++ {
		for ci := 0; ci < c; ci++ {
			for oy := 0; oy < ho; oy++ {
				for ox := 0; ox < wo; ox++ {
					gv := g[((ni*c+ci)*ho+oy)*wo+ox] * inv
					for ky := 0; ky < k; ky++ {
						for kx := 0; kx < k; kx++ {
							out[((ni*c+ci)*h+oy*k+ky)*w+ox*k+kx] += gv
						}
					}
				}
			}
		}
	}

	return grad, nil
}

// UpsampleNearest2 doubles the spatial dims of an NCHW tensor by pixel
// duplication.
func UpsampleNearest2(input *Tensor) (*Tensor, error) {
	if err := checkNCHW(input, "upsample input"); err != nil {
		return nil, err
	}

	n, c, h, w := input.Shape[0], input.Shape[1], input.Shape[2], input.Shape[3]
	ho, wo := h*2, w*2

	result, err := Zeros([]int{n, c, ho, wo}, Float32, input.Device)
	if err != nil {
		return nil, err
	}

	in := input.Data.([]float32)
	out := result.Data.([]float32)

	for ni := 0; ni < n; ni++ {
		for ci := 0; ci < c; ci++ {
			for oy := 0; oy < ho; oy++ {
				for ox := 0; ox < wo; ox++ {
					out[((ni*c+ci)*ho+oy)*wo+ox] = in[((ni*c+ci)*h+oy/2)*w+ox/2]
				}
			}
		}
	}

	return result, nil
}

// upsampleNearest2Grad sums each 2x2 output block back into its source
// pixel.
func upsampleNearest2Grad(gradOut *Tensor, inputShape []int) (*Tensor, error) {
	grad, err := Zeros(inputShape, Float32, gradOut.Device)
	if err != nil {
		return nil, err
	}

	n, c, h, w := inputShape[0], inputShape[1], inputShape[2], inputShape[3]
	ho, wo := gradOut.Shape[2], gradOut.Shape[3]

	g := gradOut.Data.([]float32)
	out := grad.Data.([]float32)

	for ni := 0; ni < n; ni++ {
		for ci := 0; ci < c; ci++ {
			for oy := 0; oy < ho; oy++ {
				for ox := 0; ox < wo; ox++ {
					out[((ni*c+ci)*h+oy/2)*w+ox/2] += g[((ni*c+ci)*ho+oy)*wo+ox]
				}
			}
		}
	}

	return grad, nil
}
