// Package nauthz implements the nostr-rs-relay event admission protocol
// (api/proto/nauthz.proto) on top of protowire, so the service needs no
// generated code. Decoding follows the protobuf runtime: proto3 strings
// must be valid UTF-8 and a repeated singular message field is merged
// into the earlier occurrence.
package nauthz

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/nbd-wtf/go-nostr"
	"google.golang.org/protobuf/encoding/protowire"
)

type Decision int32

const (
	DecisionUnspecified Decision = 0
	DecisionPermit      Decision = 1
	DecisionDeny        Decision = 2
)

func (d Decision) String() string {
	switch d {
	case DecisionPermit:
		return "DECISION_PERMIT"
	case DecisionDeny:
		return "DECISION_DENY"
	case DecisionUnspecified:
		return "DECISION_UNSPECIFIED"
	default:
		return fmt.Sprintf("Decision(%d)", int32(d))
	}
}

type TagEntry struct {
	Values []string
}

type Event struct {
	Id        []byte
	Pubkey    []byte
	CreatedAt uint64
	Kind      uint64
	Content   string
	Tags      []*TagEntry
	Sig       []byte
}

// NostrTags returns the tags in go-nostr form.
func (m *Event) NostrTags() nostr.Tags {
	if m == nil || len(m.Tags) == 0 {
		return nil
	}
	tags := make(nostr.Tags, 0, len(m.Tags))
	for _, t := range m.Tags {
		tag := nostr.Tag{}
		if t != nil {
			tag = append(tag, t.Values...)
		}
		tags = append(tags, tag)
	}
	return tags
}

// TagsFromNostr is the inverse of NostrTags.
func TagsFromNostr(tags nostr.Tags) []*TagEntry {
	out := make([]*TagEntry, 0, len(tags))
	for _, t := range tags {
		out = append(out, &TagEntry{Values: []string(t)})
	}
	return out
}

type Nip05Name struct {
	Local  string
	Domain string
}

func (m *Nip05Name) GetDomain() string {
	if m == nil {
		return ""
	}
	return m.Domain
}

// EventRequest carries one event and what the relay knows about its
// submitter. Optional fields are nil when absent.
type EventRequest struct {
	Event      *Event
	IpAddr     *string
	Origin     *string
	UserAgent  *string
	AuthPubkey []byte
	Nip05      *Nip05Name
}

func (m *EventRequest) GetEvent() *Event {
	if m == nil {
		return nil
	}
	return m.Event
}

func (m *EventRequest) GetIpAddr() string {
	if m == nil {
		return ""
	}
	return stringValue(m.IpAddr)
}

func (m *EventRequest) GetOrigin() string {
	if m == nil {
		return ""
	}
	return stringValue(m.Origin)
}

func (m *EventRequest) GetUserAgent() string {
	if m == nil {
		return ""
	}
	return stringValue(m.UserAgent)
}

func (m *EventRequest) GetNip05() *Nip05Name {
	if m == nil {
		return nil
	}
	return m.Nip05
}

type EventReply struct {
	Decision Decision
	Message  *string
}

func (m *EventReply) GetDecision() Decision {
	if m == nil {
		return DecisionUnspecified
	}
	return m.Decision
}

func (m *EventReply) GetMessage() string {
	if m == nil {
		return ""
	}
	return stringValue(m.Message)
}

// String returns a pointer to s, for the optional fields.
func String(s string) *string { return &s }

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// --- encoding ---

func (m *TagEntry) appendWire(b []byte) []byte {
	for _, v := range m.Values {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, v)
	}
	return b
}

func (m *Event) appendWire(b []byte) []byte {
	b = appendBytesField(b, 1, m.Id)
	b = appendBytesField(b, 2, m.Pubkey)
	if m.CreatedAt != 0 {
		b = protowire.AppendTag(b, 3, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, m.CreatedAt)
	}
	if m.Kind != 0 {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, m.Kind)
	}
	if m.Content != "" {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendString(b, m.Content)
	}
	for _, t := range m.Tags {
		if t == nil {
			t = &TagEntry{}
		}
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendBytes(b, t.appendWire(nil))
	}
	return appendBytesField(b, 7, m.Sig)
}

func (m *Nip05Name) appendWire(b []byte) []byte {
	if m.Local != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, m.Local)
	}
	if m.Domain != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, m.Domain)
	}
	return b
}

func (m *EventRequest) MarshalWire() ([]byte, error) {
	var b []byte
	if m.Event != nil {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Event.appendWire(nil))
	}
	b = appendOptionalString(b, 2, m.IpAddr)
	b = appendOptionalString(b, 3, m.Origin)
	b = appendOptionalString(b, 4, m.UserAgent)
	if m.AuthPubkey != nil {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendBytes(b, m.AuthPubkey)
	}
	if m.Nip05 != nil {
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Nip05.appendWire(nil))
	}
	return b, nil
}

func (m *EventReply) MarshalWire() ([]byte, error) {
	var b []byte
	if m.Decision != DecisionUnspecified {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Decision))
	}
	return appendOptionalString(b, 2, m.Message), nil
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendOptionalString(b []byte, num protowire.Number, v *string) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, *v)
}

// --- decoding ---

// errInvalidUTF8 matches the protobuf runtime, which refuses proto3 string
// fields that are not valid UTF-8.
var errInvalidUTF8 = errors.New("string field contains invalid UTF-8")

// fieldFunc consumes the value of one field and returns the number of bytes
// read, 0 to skip the field as unknown, or a negative protowire error code.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) int

func consumeMessage(b []byte, field fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m := field(num, typ, b)
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m == invalidUTF8 {
			return fmt.Errorf("field %d: %w", num, errInvalidUTF8)
		}
		if m < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

func consumeBytes(typ protowire.Type, b []byte, dst *[]byte) int {
	if typ != protowire.BytesType {
		return 0
	}
	v, n := protowire.ConsumeBytes(b)
	if n >= 0 {
		*dst = append([]byte{}, v...)
	}
	return n
}

// invalidUTF8 is returned by a fieldFunc in place of a byte count. It is
// below every protowire error code.
const invalidUTF8 = -1 << 16

func consumeString(typ protowire.Type, b []byte, dst *string) int {
	if typ != protowire.BytesType {
		return 0
	}
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return n
	}
	if !utf8.ValidString(v) {
		return invalidUTF8
	}
	*dst = v
	return n
}

func consumeOptionalString(typ protowire.Type, b []byte, dst **string) int {
	var s string
	n := consumeString(typ, b, &s)
	if n > 0 {
		*dst = &s
	}
	return n
}

func consumeVarint(typ protowire.Type, b []byte, dst *uint64) int {
	if typ != protowire.VarintType {
		return 0
	}
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		*dst = v
	}
	return n
}

func consumeEmbedded(typ protowire.Type, b []byte, decode func([]byte) error) int {
	if typ != protowire.BytesType {
		return 0
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n
	}
	if err := decode(v); err != nil {
		if errors.Is(err, errInvalidUTF8) {
			return invalidUTF8
		}
		return -1
	}
	return n
}

func (m *TagEntry) unmarshalWire(b []byte) error {
	return consumeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num != 1 {
			return 0
		}
		var v string
		n := consumeString(typ, b, &v)
		if n > 0 {
			m.Values = append(m.Values, v)
		}
		return n
	})
}

func (m *Event) unmarshalWire(b []byte) error {
	return consumeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumeBytes(typ, b, &m.Id)
		case 2:
			return consumeBytes(typ, b, &m.Pubkey)
		case 3:
			if typ != protowire.Fixed64Type {
				return 0
			}
			v, n := protowire.ConsumeFixed64(b)
			if n >= 0 {
				m.CreatedAt = v
			}
			return n
		case 4:
			return consumeVarint(typ, b, &m.Kind)
		case 5:
			return consumeString(typ, b, &m.Content)
		case 6:
			t := &TagEntry{}
			n := consumeEmbedded(typ, b, t.unmarshalWire)
			if n > 0 {
				m.Tags = append(m.Tags, t)
			}
			return n
		case 7:
			return consumeBytes(typ, b, &m.Sig)
		}
		return 0
	})
}

func (m *Nip05Name) unmarshalWire(b []byte) error {
	return consumeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumeString(typ, b, &m.Local)
		case 2:
			return consumeString(typ, b, &m.Domain)
		}
		return 0
	})
}

func (m *EventRequest) UnmarshalWire(b []byte) error {
	*m = EventRequest{}
	return consumeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			// A repeated singular message merges into the one already read.
			ev := m.Event
			if ev == nil {
				ev = &Event{}
			}
			n := consumeEmbedded(typ, b, ev.unmarshalWire)
			if n > 0 {
				m.Event = ev
			}
			return n
		case 2:
			return consumeOptionalString(typ, b, &m.IpAddr)
		case 3:
			return consumeOptionalString(typ, b, &m.Origin)
		case 4:
			return consumeOptionalString(typ, b, &m.UserAgent)
		case 5:
			return consumeBytes(typ, b, &m.AuthPubkey)
		case 6:
			nip05 := m.Nip05
			if nip05 == nil {
				nip05 = &Nip05Name{}
			}
			n := consumeEmbedded(typ, b, nip05.unmarshalWire)
			if n > 0 {
				m.Nip05 = nip05
			}
			return n
		}
		return 0
	})
}

func (m *EventReply) UnmarshalWire(b []byte) error {
	*m = EventReply{}
	return consumeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			var v uint64
			n := consumeVarint(typ, b, &v)
			if n > 0 {
				m.Decision = Decision(int32(v))
			}
			return n
		case 2:
			return consumeOptionalString(typ, b, &m.Message)
		}
		return 0
	})
}
