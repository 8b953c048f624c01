package tensor

import (
	"math/rand"
)

// Device identifies the compute placement of a tensor. Pure-Go adapters run
// on DeviceCPU; adapters that offload to an accelerator expose their own
// identity so callers allocate new tensors consistently with the adapter's
// state. The sampler treats the value as opaque.
type Device string

// DeviceCPU is the default placement for tensors allocated in-process.
const DeviceCPU Device = "cpu"

// Tensor is a dense batch of float32 samples.
//
// Batch is the number of samples and Shape the per-sample dimensions (batch
// excluded), so Data holds Batch*SampleSize() values in sample-major order:
// sample i occupies Data[i*SampleSize() : (i+1)*SampleSize()].
//
// Tensor does not perform any memory safety beyond the checks performed by
// Go's slice types; out-of-range indices panic.
type Tensor struct {
	Batch  int
	Shape  []int
	Device Device
	Data   []float32
}

// New allocates a zero-initialised tensor with the given batch size and
// per-sample shape. It panics on a non-positive batch or shape dimension.
func New(batch int, shape []int, device Device) *Tensor {
	if batch <= 0 {
		panic("tensor: non-positive batch size")
	}
	n := 1
	for _, d := range shape {
		if d <= 0 {
			panic("tensor: non-positive shape dimension")
		}
		n *= d
	}
	return &Tensor{
		Batch:  batch,
		Shape:  append([]int(nil), shape...),
		Device: device,
		Data:   make([]float32, batch*n),
	}
}

// FromData wraps existing data as a tensor. The data length must equal
// batch times the product of shape.
func FromData(batch int, shape []int, device Device, data []float32) (*Tensor, error) {
	if batch <= 0 {
		return nil, errBadBatch
	}
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return nil, errBadShape
		}
		n *= d
	}
	if len(data) != batch*n {
		return nil, errSizeMismatch
	}
	return &Tensor{
		Batch:  batch,
		Shape:  append([]int(nil), shape...),
		Device: device,
		Data:   data,
	}, nil
}

// SampleSize returns the number of elements in one sample.
func (t *Tensor) SampleSize() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Numel returns the total element count across the batch.
func (t *Tensor) Numel() int {
	return t.Batch * t.SampleSize()
}

// Sample returns a view of the i-th sample. Modifications to the returned
// slice update the underlying tensor values.
func (t *Tensor) Sample(i int) []float32 {
	if i < 0 || i >= t.Batch {
		panic("tensor: sample index out of range")
	}
	n := t.SampleSize()
	return t.Data[i*n : (i+1)*n]
}

// Clone returns a deep copy of t on the same device.
func (t *Tensor) Clone() *Tensor {
	out := &Tensor{
		Batch:  t.Batch,
		Shape:  append([]int(nil), t.Shape...),
		Device: t.Device,
		Data:   make([]float32, len(t.Data)),
	}
	copy(out.Data, t.Data)
	return out
}

// To returns a copy of t placed on device. A same-device copy is still a
// fresh allocation, so callers may mutate the result freely.
func (t *Tensor) To(device Device) *Tensor {
	out := t.Clone()
	out.Device = device
	return out
}

// SameShape reports whether a and b agree in batch size and per-sample shape.
func SameShape(a, b *Tensor) bool {
	if a.Batch != b.Batch || len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	return true
}

// ShapeEq reports whether two per-sample shapes are identical.
func ShapeEq(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// FillRandn fills t with standard normal draws from rng. The draw order is
// fixed (sample-major), so a given seed always produces the same tensor.
func FillRandn(t *Tensor, rng *rand.Rand) {
	for i := range t.Data {
		t.Data[i] = float32(rng.NormFloat64())
	}
}

// Randn allocates a tensor of standard normal noise on the given device.
func Randn(batch int, shape []int, device Device, rng *rand.Rand) *Tensor {
	t := New(batch, shape, device)
	FillRandn(t, rng)
	return t
}

var (
	errBadBatch     = tensorError("non-positive batch size")
	errBadShape     = tensorError("non-positive shape dimension")
	errSizeMismatch = tensorError("data length mismatch")
)

type tensorError string

func (e tensorError) Error() string { return string(e) }
