// testutils/event.go
package testutils

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/lessucettes/adresu-authz/pkg/adresu-kit/policy"
)

// Key pair from the NIP-19 test vectors.
const (
	TestPubKeyHex  = "7e7e9c42a91bfef19fa929e5fda1b72e0ebc1a4c1141673e2794234d86addf4e"
	TestPubKeyNpub = "npub10elfcs4fr0l0r8af98jlmgdh9c8tcxjvz9qkw038js35mp4dma8qzvjptg"
)

// TestPubKey returns the raw bytes of TestPubKeyHex.
func TestPubKey() []byte {
	raw, _ := hex.DecodeString(TestPubKeyHex)
	return raw
}

// GenerateKey returns a fresh raw public key and its hex form.
func GenerateKey() ([]byte, string) {
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		panic(err)
	}
	raw, _ := hex.DecodeString(pk)
	return raw, pk
}

// MakeEvent is a shared helper to create a policy.Event for tests. The ID is
// derived from the kind, author and content so it is stable across runs.
func MakeEvent(kind uint64, content string, pubkey []byte, tags ...nostr.Tag) *policy.Event {
	h := sha256.New()
	_ = binary.Write(h, binary.BigEndian, kind)
	h.Write(pubkey)
	h.Write([]byte(content))

	return &policy.Event{
		ID:        h.Sum(nil),
		PubKey:    pubkey,
		CreatedAt: uint64(time.Now().Unix()),
		Kind:      kind,
		Content:   content,
		Tags:      tags,
	}
}

// MakeTextNote is a helper to create a kind 1 text-note event for tests.
func MakeTextNote(pubkey []byte, content string) *policy.Event {
	return MakeEvent(1, content, pubkey)
}
