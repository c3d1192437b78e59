package tensor

import (
	"math"
	"math/rand"
	"testing"
)

func TestNewTensor(t *testing.T) {
	tests := []struct {
		name      string
		shape     []int
		dtype     DType
		data      interface{}
		wantElems int
		wantErr   bool
	}{
		{
			name:      "float32 vector",
			shape:     []int{4},
			dtype:     Float32,
			data:      []float32{1, 2, 3, 4},
			wantElems: 4,
		},
		{
			name:      "int32 matrix",
			shape:     []int{2, 3},
			dtype:     Int32,
			data:      []int32{1, 2, 3, 4, 5, 6},
			wantElems: 6,
		},
		{
			name:      "scalar fill",
			shape:     []int{2, 2},
			dtype:     Float32,
			data:      float32(0.5),
			wantElems: 4,
		},
		{
			name:    "length mismatch",
			shape:   []int{3},
			dtype:   Float32,
			data:    []float32{1, 2},
			wantErr: true,
		},
		{
			name:    "zero dimension",
			shape:   []int{2, 0},
			dtype:   Float32,
			data:    nil,
			wantErr: true,
		},
		{
			name:    "negative dimension",
			shape:   []int{-1, 4},
			dtype:   Float32,
			data:    nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tensor, err := NewTensor(tt.shape, tt.dtype, CPU, tt.data)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tensor.NumElems != tt.wantElems {
				t.Errorf("NumElems = %d, want %d", tensor.NumElems, tt.wantElems)
			}
		})
	}
}

func TestStrides(t *testing.T) {
	tensor, err := Zeros([]int{2, 3, 4}, Float32, CPU)
	if err != nil {
		t.Fatalf("Zeros failed: %v", err)
	}

	want := []int{12, 4, 1}
	for i, s := range want {
		if tensor.Strides[i] != s {
			t.Errorf("Strides[%d] = %d, want %d", i, tensor.Strides[i], s)
		}
	}
}

func TestElementwiseOps(t *testing.T) {
	a, _ := NewTensor([]int{4}, Float32, CPU, []float32{1, -2, 3, -4})
	b, _ := NewTensor([]int{4}, Float32, CPU, []float32{2, 2, 2, 2})

	tests := []struct {
		name string
		op   func(x, y *Tensor) (*Tensor, error)
		want []float32
	}{
		{"add", Add, []float32{3, 0, 5, -2}},
		{"sub", Sub, []float32{-1, -4, 1, -6}},
		{"mul", Mul, []float32{2, -4, 6, -8}},
		{"div", Div, []float32{0.5, -1, 1.5, -2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.op(a, b)
			if err != nil {
				t.Fatalf("%s failed: %v", tt.name, err)
			}
			data := result.Data.([]float32)
			for i, w := range tt.want {
				if math.Abs(float64(data[i]-w)) > 1e-6 {
					t.Errorf("%s[%d] = %f, want %f", tt.name, i, data[i], w)
				}
			}
		})
	}
}

func TestDivByZero(t *testing.T) {
	a, _ := NewTensor([]int{2}, Float32, CPU, []float32{1, 2})
	b, _ := NewTensor([]int{2}, Float32, CPU, []float32{1, 0})

	if _, err := Div(a, b); err == nil {
		t.Errorf("expected division-by-zero error, got nil")
	}
}

func TestShapeMismatch(t *testing.T) {
	a, _ := Zeros([]int{2, 3}, Float32, CPU)
	b, _ := Zeros([]int{3, 2}, Float32, CPU)

	if _, err := Add(a, b); err == nil {
		t.Errorf("expected shape mismatch error, got nil")
	}
}

func TestScalarOps(t *testing.T) {
	a, _ := NewTensor([]int{3}, Float32, CPU, []float32{-1, 0, 2})

	scaled, err := Scale(a, 3)
	if err != nil {
		t.Fatalf("Scale failed: %v", err)
	}
	wantScaled := []float32{-3, 0, 6}
	for i, w := range wantScaled {
		if got := scaled.Data.([]float32)[i]; got != w {
			t.Errorf("Scale[%d] = %f, want %f", i, got, w)
		}
	}

	shifted, err := AddScalar(a, 1.5)
	if err != nil {
		t.Fatalf("AddScalar failed: %v", err)
	}
	wantShifted := []float32{0.5, 1.5, 3.5}
	for i, w := range wantShifted {
		if got := shifted.Data.([]float32)[i]; got != w {
			t.Errorf("AddScalar[%d] = %f, want %f", i, got, w)
		}
	}
}

func TestReLUAndClamp(t *testing.T) {
	a, _ := NewTensor([]int{4}, Float32, CPU, []float32{-2, -0.5, 0.5, 2})

	relu, err := ReLU(a)
	if err != nil {
		t.Fatalf("ReLU failed: %v", err)
	}
	wantRelu := []float32{0, 0, 0.5, 2}
	for i, w := range wantRelu {
		if got := relu.Data.([]float32)[i]; got != w {
			t.Errorf("ReLU[%d] = %f, want %f", i, got, w)
		}
	}

	clamped, err := Clamp(a, -1, 1)
	if err != nil {
		t.Fatalf("Clamp failed: %v", err)
	}
	wantClamp := []float32{-1, -0.5, 0.5, 1}
	for i, w := range wantClamp {
		if got := clamped.Data.([]float32)[i]; got != w {
			t.Errorf("Clamp[%d] = %f, want %f", i, got, w)
		}
	}
}

func TestMeanAndSum(t *testing.T) {
	a, _ := NewTensor([]int{2, 2}, Float32, CPU, []float32{1, 2, 3, 4})

	mean, err := Mean(a)
	if err != nil {
		t.Fatalf("Mean failed: %v", err)
	}
	if got, _ := mean.Item(); math.Abs(float64(got)-2.5) > 1e-6 {
		t.Errorf("Mean = %f, want 2.5", got)
	}

	sum, err := Sum(a)
	if err != nil {
		t.Fatalf("Sum failed: %v", err)
	}
	if got, _ := sum.Item(); math.Abs(float64(got)-10) > 1e-6 {
		t.Errorf("Sum = %f, want 10", got)
	}
}

func TestConv2DIdentityKernel(t *testing.T) {
	input, _ := NewTensor([]int{1, 1, 3, 3}, Float32, CPU, []float32{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	})
	// 3x3 kernel with a single center 1 and "same" padding reproduces the
	// input.
	weight, _ := NewTensor([]int{1, 1, 3, 3}, Float32, CPU, []float32{
		0, 0, 0,
		0, 1, 0,
		0, 0, 0,
	})

	result, err := Conv2D(input, weight, nil, 1, 1)
	if err != nil {
		t.Fatalf("Conv2D failed: %v", err)
	}
	if !Equal(result, input.Detach()) {
		t.Errorf("identity conv changed the input: got %v", result.Data)
	}
}

func TestConv2DBias(t *testing.T) {
	input, _ := Zeros([]int{1, 1, 2, 2}, Float32, CPU)
	weight, _ := Zeros([]int{2, 1, 1, 1}, Float32, CPU)
	bias, _ := NewTensor([]int{2}, Float32, CPU, []float32{0.5, -1})

	result, err := Conv2D(input, weight, bias, 1, 0)
	if err != nil {
		t.Fatalf("Conv2D failed: %v", err)
	}

	data := result.Data.([]float32)
	for i := 0; i < 4; i++ {
		if data[i] != 0.5 {
			t.Errorf("filter 0 output[%d] = %f, want 0.5", i, data[i])
		}
		if data[4+i] != -1 {
			t.Errorf("filter 1 output[%d] = %f, want -1", i, data[4+i])
		}
	}
}

func TestAvgPool2D(t *testing.T) {
	input, _ := NewTensor([]int{1, 1, 2, 2}, Float32, CPU, []float32{1, 2, 3, 4})

	result, err := AvgPool2D(input, 2)
	if err != nil {
		t.Fatalf("AvgPool2D failed: %v", err)
	}
	if got := result.Data.([]float32)[0]; math.Abs(float64(got)-2.5) > 1e-6 {
		t.Errorf("AvgPool2D = %f, want 2.5", got)
	}

	odd, _ := Zeros([]int{1, 1, 3, 3}, Float32, CPU)
	if _, err := AvgPool2D(odd, 2); err == nil {
		t.Errorf("expected divisibility error, got nil")
	}
}

func TestUpsampleNearest2(t *testing.T) {
	input, _ := NewTensor([]int{1, 1, 1, 2}, Float32, CPU, []float32{3, 7})

	result, err := UpsampleNearest2(input)
	if err != nil {
		t.Fatalf("UpsampleNearest2 failed: %v", err)
	}

	want := []float32{3, 3, 7, 7, 3, 3, 7, 7}
	data := result.Data.([]float32)
	for i, w := range want {
		if data[i] != w {
			t.Errorf("upsample[%d] = %f, want %f", i, data[i], w)
		}
	}
}

func TestUpsampleInvertsPool(t *testing.T) {
	// Pooling a nearest-upsampled image recovers the original exactly.
	rng := rand.New(rand.NewSource(7))
	input, err := RandomUniform([]int{2, 3, 4, 4}, 0, 1, rng, CPU)
	if err != nil {
		t.Fatalf("RandomUniform failed: %v", err)
	}

	up, err := UpsampleNearest2(input)
	if err != nil {
		t.Fatalf("UpsampleNearest2 failed: %v", err)
	}
	down, err := AvgPool2D(up, 2)
	if err != nil {
		t.Fatalf("AvgPool2D failed: %v", err)
	}

	a := input.Data.([]float32)
	b := down.Data.([]float32)
	for i := range a {
		if math.Abs(float64(a[i]-b[i])) > 1e-6 {
			t.Errorf("pool(upsample(x))[%d] = %f, want %f", i, b[i], a[i])
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	a, _ := NewTensor([]int{2}, Float32, CPU, []float32{1, 2})

	b, err := a.Clone()
	if err != nil {
		t.Fatalf("Clone failed: %v", err)
	}

	b.Data.([]float32)[0] = 99
	if a.Data.([]float32)[0] != 1 {
		t.Errorf("mutating clone changed original")
	}
}

func TestItem(t *testing.T) {
	scalar, _ := FromScalar(3.5, CPU)
	v, err := scalar.Item()
	if err != nil {
		t.Fatalf("Item failed: %v", err)
	}
	if v != 3.5 {
		t.Errorf("Item = %f, want 3.5", v)
	}

	vec, _ := Zeros([]int{2}, Float32, CPU)
	if _, err := vec.Item(); err == nil {
		t.Errorf("expected error for multi-element Item, got nil")
	}
}

func TestRandomNormalReproducible(t *testing.T) {
	a, err := RandomNormal([]int{8}, 0, 1, rand.New(rand.NewSource(42)), CPU)
	if err != nil {
		t.Fatalf("RandomNormal failed: %v", err)
	}
	b, err := RandomNormal([]int{8}, 0, 1, rand.New(rand.NewSource(42)), CPU)
	if err != nil {
		t.Fatalf("RandomNormal failed: %v", err)
	}

	if !Equal(a, b) {
		t.Errorf("same seed produced different tensors")
	}

	if _, err := RandomNormal([]int{8}, 0, 1, nil, CPU); err == nil {
		t.Errorf("expected error for nil random source, got nil")
	}
}
