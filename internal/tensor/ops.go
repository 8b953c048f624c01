package tensor

import (
	"math"
)

// Add adds src to dst element-wise. Shapes must match.
func Add(dst, src *Tensor) {
	if !SameShape(dst, src) {
		panic("tensor: shape mismatch in Add")
	}
	for i := range dst.Data {
		dst.Data[i] += src.Data[i]
	}
}

// Sub subtracts src from dst element-wise. Shapes must match.
func Sub(dst, src *Tensor) {
	if !SameShape(dst, src) {
		panic("tensor: shape mismatch in Sub")
	}
	for i := range dst.Data {
		dst.Data[i] -= src.Data[i]
	}
}

// Scale multiplies every element of t by alpha.
func Scale(t *Tensor, alpha float64) {
	for i := range t.Data {
		t.Data[i] = float32(float64(t.Data[i]) * alpha)
	}
}

// Shift adds the constant c to every element of t.
func Shift(t *Tensor, c float64) {
	for i := range t.Data {
		t.Data[i] = float32(float64(t.Data[i]) + c)
	}
}

// AddScaled accumulates alpha*src into dst element-wise. The accumulation
// runs in float64 so small step sizes do not lose bits against large state
// values.
func AddScaled(dst, src *Tensor, alpha float64) {
	if !SameShape(dst, src) {
		panic("tensor: shape mismatch in AddScaled")
	}
	for i := range dst.Data {
		dst.Data[i] = float32(float64(dst.Data[i]) + alpha*float64(src.Data[i]))
	}
}

// RMS returns the root-mean-square of all elements, accumulated in float64.
// It returns 0 for an empty tensor.
func RMS(t *Tensor) float64 {
	if len(t.Data) == 0 {
		return 0
	}
	var sum float64
	for _, v := range t.Data {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(t.Data)))
}
