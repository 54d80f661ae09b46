package policy

import (
	"encoding/hex"
	"math"

	"github.com/nbd-wtf/go-nostr"
)

// Event is the event proposed for admission, with binary fields as the relay sends them.
type Event struct {
	ID        []byte
	PubKey    []byte
	CreatedAt uint64
	Kind      uint64
	Content   string
	Tags      nostr.Tags
	Sig       []byte
}

// Nostr converts the event into the hex-encoded form used by filters. Kinds
// and timestamps beyond the signed range saturate instead of wrapping.
func (e *Event) Nostr() *nostr.Event {
	return &nostr.Event{
		ID:        hex.EncodeToString(e.ID),
		PubKey:    hex.EncodeToString(e.PubKey),
		CreatedAt: nostr.Timestamp(min(e.CreatedAt, math.MaxInt64)),
		Kind:      int(min(e.Kind, math.MaxInt)),
		Content:   e.Content,
		Tags:      e.Tags,
		Sig:       hex.EncodeToString(e.Sig),
	}
}
