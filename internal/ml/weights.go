package ml

import (
	"fmt"
)

// Tensor is a named weight array with its shape. Data is row-major.
type Tensor struct {
	Shape []int64
	Data  []float64
}

func NewTensor(shape ...int64) *Tensor {
	size := int64(1)
	for _, d := range shape {
		size *= d
	}
	return &Tensor{Shape: shape, Data: make([]float64, size)}
}

func (t *Tensor) Clone() *Tensor {
	clone := &Tensor{
		Shape: append([]int64{}, t.Shape...),
		Data:  append([]float64{}, t.Data...),
	}
	return clone
}

// StateDict is a full set of model weights keyed by layer parameter
// name, the unit exchanged with the aggregation server.
type StateDict map[string]*Tensor

func (sd StateDict) Clone() StateDict {
	clone := make(StateDict, len(sd))
	for name, tensor := range sd {
		clone[name] = tensor.Clone()
	}
	return clone
}

// ZeroLike builds a state dict of zeros with the same layout, used as a
// gradient accumulator.
func (sd StateDict) ZeroLike() StateDict {
	zero := make(StateDict, len(sd))
	for name, tensor := range sd {
		zero[name] = NewTensor(tensor.Shape...)
	}
	return zero
}

// Scale multiplies every element in place.
func (sd StateDict) Scale(factor float64) {
	for _, tensor := range sd {
		for i := range tensor.Data {
			tensor.Data[i] *= factor
		}
	}
}

// Delta computes local - global elementwise, the unit uploaded after a
// training round.
func (sd StateDict) Delta(global StateDict) (StateDict, error) {
	delta := make(StateDict, len(sd))
	for name, local := range sd {
		globalTensor, ok := global[name]
		if !ok {
			return nil, fmt.Errorf("global weights missing tensor %q", name)
		}
		if len(globalTensor.Data) != len(local.Data) {
			return nil, fmt.Errorf("tensor %q size mismatch: local %d, global %d",
				name, len(local.Data), len(globalTensor.Data))
		}
		deltaTensor := NewTensor(local.Shape...)
		for i := range local.Data {
			deltaTensor.Data[i] = local.Data[i] - globalTensor.Data[i]
		}
		delta[name] = deltaTensor
	}
	return delta, nil
}

// Apply computes global + delta elementwise.
func (sd StateDict) Apply(delta StateDict) (StateDict, error) {
	applied := make(StateDict, len(sd))
	for name, global := range sd {
		deltaTensor, ok := delta[name]
		if !ok {
			return nil, fmt.Errorf("delta missing tensor %q", name)
		}
		if len(deltaTensor.Data) != len(global.Data) {
			return nil, fmt.Errorf("tensor %q size mismatch: global %d, delta %d",
				name, len(global.Data), len(deltaTensor.Data))
		}
		appliedTensor := NewTensor(global.Shape...)
		for i := range global.Data {
			appliedTensor.Data[i] = global.Data[i] + deltaTensor.Data[i]
		}
		applied[name] = appliedTensor
	}
	return applied, nil
}
