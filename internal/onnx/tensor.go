package onnx

import (
	"fmt"
	"math"
)

// Tensor is a dense row-major tensor exchanged with a GraphRunner. Encoder
// graphs take int64 token ids and return float32 hidden states, so a Tensor
// carries exactly one of the two.
type Tensor struct {
	shape  []int64
	ints   []int64
	floats []float32
}

// Int64Tensor copies data into a tensor of the given shape.
func Int64Tensor(data []int64, shape []int64) (*Tensor, error) {
	if err := checkShape(shape, len(data)); err != nil {
		return nil, err
	}
	return &Tensor{shape: clone(shape), ints: clone(data)}, nil
}

// Float32Tensor copies data into a tensor of the given shape.
func Float32Tensor(data []float32, shape []int64) (*Tensor, error) {
	if err := checkShape(shape, len(data)); err != nil {
		return nil, err
	}
	return &Tensor{shape: clone(shape), floats: clone(data)}, nil
}

func (t *Tensor) Shape() []int64 { return clone(t.shape) }

// Int64s returns a copy of the token data.
func (t *Tensor) Int64s() ([]int64, error) {
	if t == nil || t.ints == nil {
		return nil, fmt.Errorf("tensor: want int64 data, have %s", t.kind())
	}
	return clone(t.ints), nil
}

// Float32s returns a copy of the activation data.
func (t *Tensor) Float32s() ([]float32, error) {
	if t == nil || t.floats == nil {
		return nil, fmt.Errorf("tensor: want float32 data, have %s", t.kind())
	}
	return clone(t.floats), nil
}

func (t *Tensor) kind() string {
	switch {
	case t == nil:
		return "nil tensor"
	case t.ints != nil:
		return "int64"
	default:
		return "float32"
	}
}

func clone[T int64 | float32](s []T) []T {
	return append(make([]T, 0, len(s)), s...)
}

// checkShape requires every dimension to be positive and their product to
// match n. A scalar (empty shape) holds one element.
func checkShape(shape []int64, n int) error {
	count := int64(1)
	for i, dim := range shape {
		if dim < 1 {
			return fmt.Errorf("tensor: dimension %d of %v is %d", i, shape, dim)
		}
		if count > math.MaxInt/dim {
			return fmt.Errorf("tensor: shape %v is too large", shape)
		}
		count *= dim
	}
	if count != int64(n) {
		return fmt.Errorf("tensor: shape %v holds %d elements, got %d", shape, count, n)
	}
	return nil
}
