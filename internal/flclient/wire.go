package flclient

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Hand-encoded messages for the serverside.AvgWeights service (see
// api/proto/serverside.proto). The service surface is two small
// messages, encoded here directly with protowire instead of shipping
// generated code.

type AddMyWeightsRequest struct {
	ClientId    string
	Weights     []byte
	NumExamples int64
}

type AddMyWeightsResponse struct {
	Ok      bool
	Message string
}

type GetReleaseWeightsRequest struct{}

type GetReleaseWeightsResponse struct {
	LinkToMinio string
}

// wireMessage is what the codec can carry over the channel.
type wireMessage interface {
	marshalWire() []byte
	unmarshalWire(data []byte) error
}

func (m *AddMyWeightsRequest) marshalWire() []byte {
	var buf []byte
	if m.ClientId != "" {
		buf = protowire.AppendTag(buf, 1, protowire.BytesType)
		buf = protowire.AppendString(buf, m.ClientId)
	}
	if len(m.Weights) > 0 {
		buf = protowire.AppendTag(buf, 2, protowire.BytesType)
		buf = protowire.AppendBytes(buf, m.Weights)
	}
	if m.NumExamples != 0 {
		buf = protowire.AppendTag(buf, 3, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(m.NumExamples))
	}
	return buf
}

func (m *AddMyWeightsRequest) unmarshalWire(data []byte) error {
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, field []byte) error {
		switch num {
		case 1:
			value, n := protowire.ConsumeString(field)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.ClientId = value
		case 2:
			value, n := protowire.ConsumeBytes(field)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.Weights = append([]byte{}, value...)
		case 3:
			value, n := protowire.ConsumeVarint(field)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.NumExamples = int64(value)
		}
		return nil
	})
}

func (m *AddMyWeightsResponse) marshalWire() []byte {
	var buf []byte
	if m.Ok {
		buf = protowire.AppendTag(buf, 1, protowire.VarintType)
		buf = protowire.AppendVarint(buf, 1)
	}
	if m.Message != "" {
		buf = protowire.AppendTag(buf, 2, protowire.BytesType)
		buf = protowire.AppendString(buf, m.Message)
	}
	return buf
}

func (m *AddMyWeightsResponse) unmarshalWire(data []byte) error {
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, field []byte) error {
		switch num {
		case 1:
			value, n := protowire.ConsumeVarint(field)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.Ok = value != 0
		case 2:
			value, n := protowire.ConsumeString(field)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.Message = value
		}
		return nil
	})
}

func (m *GetReleaseWeightsRequest) marshalWire() []byte {
	return []byte{}
}

func (m *GetReleaseWeightsRequest) unmarshalWire(data []byte) error {
	return nil
}

func (m *GetReleaseWeightsResponse) marshalWire() []byte {
	var buf []byte
	if m.LinkToMinio != "" {
		buf = protowire.AppendTag(buf, 1, protowire.BytesType)
		buf = protowire.AppendString(buf, m.LinkToMinio)
	}
	return buf
}

func (m *GetReleaseWeightsResponse) unmarshalWire(data []byte) error {
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, field []byte) error {
		if num == 1 {
			value, n := protowire.ConsumeString(field)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.LinkToMinio = value
		}
		return nil
	})
}

// consumeFields walks top-level fields, handing each value slice to
// visit and skipping unknown fields.
func consumeFields(data []byte, visit func(num protowire.Number, typ protowire.Type, field []byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("decoding tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		size := protowire.ConsumeFieldValue(num, typ, data)
		if size < 0 {
			return fmt.Errorf("decoding field %d: %w", num, protowire.ParseError(size))
		}
		if err := visit(num, typ, data[:size]); err != nil {
			return fmt.Errorf("decoding field %d: %w", num, err)
		}
		data = data[size:]
	}
	return nil
}

// wireCodec lets grpc carry the hand-encoded messages; the name keeps
// the standard proto content subtype on the wire.
type wireCodec struct{}

func (wireCodec) Marshal(v interface{}) ([]byte, error) {
	message, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("cannot marshal %T", v)
	}
	return message.marshalWire(), nil
}

func (wireCodec) Unmarshal(data []byte, v interface{}) error {
	message, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("cannot unmarshal into %T", v)
	}
	return message.unmarshalWire(data)
}

func (wireCodec) Name() string {
	return "proto"
}
