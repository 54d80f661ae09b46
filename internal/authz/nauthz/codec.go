package nauthz

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// WireMessage is implemented by the hand-encoded nauthz messages.
type WireMessage interface {
	MarshalWire() ([]byte, error)
	UnmarshalWire([]byte) error
}

// Codec replaces the default gRPC "proto" codec. nauthz messages use their
// own wire methods; generated messages such as health checks go through
// the protobuf runtime.
type Codec struct{}

func (Codec) Name() string { return "proto" }

func (Codec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case WireMessage:
		return m.MarshalWire()
	case proto.Message:
		return proto.Marshal(m)
	default:
		return nil, fmt.Errorf("nauthz codec: cannot marshal %T", v)
	}
}

func (Codec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case WireMessage:
		return m.UnmarshalWire(data)
	case proto.Message:
		return proto.Unmarshal(data, m)
	default:
		return fmt.Errorf("nauthz codec: cannot unmarshal into %T", v)
	}
}
