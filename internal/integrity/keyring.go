package integrity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Key is a named HMAC secret.
type Key struct {
	ID     string
	Secret []byte
}

// Keyring holds the active signing key and the legacy keys that are still
// accepted during verification. Keys are tried in order: active first, then
// legacy keys as configured.
type Keyring struct {
	keys  map[string][]byte
	order []string
}

// NewKeyring constructs a keyring signing with active.
func NewKeyring(active Key, legacy ...Key) (*Keyring, error) {
	ring := &Keyring{keys: make(map[string][]byte)}
	for i, k := range append([]Key{active}, legacy...) {
		id := strings.TrimSpace(k.ID)
		if id == "" {
			if i == 0 {
				return nil, fmt.Errorf("active hmac key id is required")
			}
			return nil, fmt.Errorf("hmac key id is required")
		}
		if len(k.Secret) == 0 {
			return nil, fmt.Errorf("hmac key %q is empty", id)
		}
		if _, dup := ring.keys[id]; dup {
			return nil, fmt.Errorf("hmac key %q configured twice", id)
		}
		secret := make([]byte, len(k.Secret))
		copy(secret, k.Secret)
		ring.keys[id] = secret
		ring.order = append(ring.order, id)
	}
	return ring, nil
}

// ActiveKeyID returns the id of the signing key.
func (k *Keyring) ActiveKeyID() string {
	if k == nil || len(k.order) == 0 {
		return ""
	}
	return k.order[0]
}

// KeyIDs returns every configured key id in verification order.
func (k *Keyring) KeyIDs() []string {
	if k == nil {
		return nil
	}
	out := make([]string, len(k.order))
	copy(out, k.order)
	return out
}

// Sign computes the signature of a chain link with the active key.
func (k *Keyring) Sign(contentHash, previousHash string, seq int64) (string, string, error) {
	if k == nil || len(k.order) == 0 {
		return "", "", fmt.Errorf("hmac keyring is not configured")
	}
	keyID := k.order[0]
	return hmacSHA256Hex(k.keys[keyID], SignatureInput(contentHash, previousHash, seq)), keyID, nil
}

// Verify checks a link signature against every key in order and returns the id
// of the first key that produces it.
func (k *Keyring) Verify(contentHash, previousHash string, seq int64, signature string) (string, bool) {
	if k == nil {
		return "", false
	}
	msg := SignatureInput(contentHash, previousHash, seq)
	for _, id := range k.order {
		expected := hmacSHA256Hex(k.keys[id], msg)
		if hmac.Equal([]byte(expected), []byte(signature)) {
			return id, true
		}
	}
	return "", false
}

func hmacSHA256Hex(key []byte, value string) string {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}
