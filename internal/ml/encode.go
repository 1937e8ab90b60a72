package ml

import (
	"fmt"
	"math"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

func fixed64FromFloat(v float64) uint64 {
	return math.Float64bits(v)
}

func floatFromFixed64(bits uint64) float64 {
	return math.Float64frombits(bits)
}

// Wire format: the serverside.TensorState message from
// api/proto/serverside.proto. Tensors are emitted in name order so the
// encoding is deterministic.
//
//	TensorState { repeated Tensor tensors = 1; }
//	Tensor { string name = 1; repeated int64 shape = 2; repeated double values = 3; }

const (
	tensorStateTensorsField = 1

	tensorNameField   = 1
	tensorShapeField  = 2
	tensorValuesField = 3
)

// MarshalState encodes a state dict as a TensorState blob.
func MarshalState(sd StateDict) []byte {
	names := make([]string, 0, len(sd))
	for name := range sd {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf []byte
	for _, name := range names {
		tensorBytes := marshalTensor(name, sd[name])
		buf = protowire.AppendTag(buf, tensorStateTensorsField, protowire.BytesType)
		buf = protowire.AppendBytes(buf, tensorBytes)
	}
	return buf
}

func marshalTensor(name string, tensor *Tensor) []byte {
	var buf []byte

	buf = protowire.AppendTag(buf, tensorNameField, protowire.BytesType)
	buf = protowire.AppendString(buf, name)

	var shapeBuf []byte
	for _, d := range tensor.Shape {
		shapeBuf = protowire.AppendVarint(shapeBuf, uint64(d))
	}
	buf = protowire.AppendTag(buf, tensorShapeField, protowire.BytesType)
	buf = protowire.AppendBytes(buf, shapeBuf)

	var valuesBuf []byte
	for _, v := range tensor.Data {
		valuesBuf = protowire.AppendFixed64(valuesBuf, fixed64FromFloat(v))
	}
	buf = protowire.AppendTag(buf, tensorValuesField, protowire.BytesType)
	buf = protowire.AppendBytes(buf, valuesBuf)

	return buf
}

// UnmarshalState decodes a TensorState blob.
func UnmarshalState(data []byte) (StateDict, error) {
	sd := StateDict{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("decoding tensor state tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		if num != tensorStateTensorsField || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("skipping field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}

		tensorBytes, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, fmt.Errorf("decoding tensor bytes: %w", protowire.ParseError(n))
		}
		data = data[n:]

		name, tensor, err := unmarshalTensor(tensorBytes)
		if err != nil {
			return nil, err
		}
		sd[name] = tensor
	}

	if len(sd) == 0 {
		return nil, fmt.Errorf("empty tensor state")
	}
	return sd, nil
}

func unmarshalTensor(data []byte) (string, *Tensor, error) {
	name := ""
	tensor := &Tensor{}

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return "", nil, fmt.Errorf("decoding tensor tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == tensorNameField && typ == protowire.BytesType:
			value, n := protowire.ConsumeString(data)
			if n < 0 {
				return "", nil, fmt.Errorf("decoding tensor name: %w", protowire.ParseError(n))
			}
			name = value
			data = data[n:]

		case num == tensorShapeField && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return "", nil, fmt.Errorf("decoding tensor shape: %w", protowire.ParseError(n))
			}
			data = data[n:]
			for len(packed) > 0 {
				value, n := protowire.ConsumeVarint(packed)
				if n < 0 {
					return "", nil, fmt.Errorf("decoding shape element: %w", protowire.ParseError(n))
				}
				tensor.Shape = append(tensor.Shape, int64(value))
				packed = packed[n:]
			}

		case num == tensorValuesField && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return "", nil, fmt.Errorf("decoding tensor values: %w", protowire.ParseError(n))
			}
			data = data[n:]
			tensor.Data = make([]float64, 0, len(packed)/8)
			for len(packed) > 0 {
				value, n := protowire.ConsumeFixed64(packed)
				if n < 0 {
					return "", nil, fmt.Errorf("decoding value: %w", protowire.ParseError(n))
				}
				tensor.Data = append(tensor.Data, floatFromFixed64(value))
				packed = packed[n:]
			}

		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return "", nil, fmt.Errorf("skipping tensor field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	if name == "" {
		return "", nil, fmt.Errorf("tensor without a name")
	}
	size := int64(1)
	for _, d := range tensor.Shape {
		size *= d
	}
	if size != int64(len(tensor.Data)) {
		return "", nil, fmt.Errorf("tensor %q shape %v does not match %d values",
			name, tensor.Shape, len(tensor.Data))
	}

	return name, tensor, nil
}
