package nip

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// PubKeyLength is the size of a raw x-only public key.
const PubKeyLength = schnorr.PubKeyBytesLen

var ErrInvalidPublicKey = errors.New("invalid public key")

// EncodePublicKey validates a raw x-only public key and returns its NIP-19
// npub encoding.
func EncodePublicKey(raw []byte) (string, error) {
	if len(raw) != PubKeyLength {
		return "", fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPublicKey, len(raw), PubKeyLength)
	}
	if _, err := schnorr.ParsePubKey(raw); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}

	npub, err := nip19.EncodePublicKey(hex.EncodeToString(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return npub, nil
}

// DecodePublicKey accepts an npub or a 64-char hex key and returns the raw bytes.
func DecodePublicKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)

	var keyHex string
	if strings.HasPrefix(s, "npub1") {
		prefix, value, err := nip19.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
		}
		decoded, ok := value.(string)
		if prefix != "npub" || !ok {
			return nil, fmt.Errorf("%w: unexpected bech32 prefix %q", ErrInvalidPublicKey, prefix)
		}
		keyHex = decoded
	} else {
		keyHex = strings.ToLower(s)
	}

	raw, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(raw) != PubKeyLength {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPublicKey, len(raw), PubKeyLength)
	}
	return raw, nil
}

// NormalizePublicKey returns the canonical npub form of an npub or hex key.
func NormalizePublicKey(s string) (string, error) {
	raw, err := DecodePublicKey(s)
	if err != nil {
		return "", err
	}
	return EncodePublicKey(raw)
}
