package integrity

import (
	"fmt"
	"strings"
)

const DefaultKeyID = "v1"

// LoadKeyring builds a keyring from configuration values.
//
// keySpec lists keys as "id=secret,id=secret"; activeKeyID picks the signing
// key and every other entry becomes a legacy key in listed order. When keySpec
// is blank, singleKey is used alone under activeKeyID (default "v1").
func LoadKeyring(keySpec, singleKey, activeKeyID string) (*Keyring, error) {
	activeKeyID = strings.TrimSpace(activeKeyID)
	if activeKeyID == "" {
		activeKeyID = DefaultKeyID
	}

	keySpec = strings.TrimSpace(keySpec)
	if keySpec == "" {
		raw := strings.TrimSpace(singleKey)
		if raw == "" {
			return nil, fmt.Errorf("an hmac key is required")
		}
		return NewKeyring(Key{ID: activeKeyID, Secret: []byte(raw)})
	}

	keys, err := ParseKeySpec(keySpec)
	if err != nil {
		return nil, err
	}

	var active *Key
	legacy := make([]Key, 0, len(keys))
	for i := range keys {
		if keys[i].ID == activeKeyID {
			active = &keys[i]
			continue
		}
		legacy = append(legacy, keys[i])
	}
	if active == nil {
		return nil, fmt.Errorf("active hmac key id %q is not configured", activeKeyID)
	}
	return NewKeyring(*active, legacy...)
}

// ParseKeySpec parses "id=secret" entries separated by commas. Blank entries
// are skipped.
func ParseKeySpec(spec string) ([]Key, error) {
	var keys []Key
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, secret, ok := strings.Cut(entry, "=")
		id = strings.TrimSpace(id)
		secret = strings.TrimSpace(secret)
		if !ok || id == "" || secret == "" {
			return nil, fmt.Errorf("invalid hmac key entry %q", id)
		}
		keys = append(keys, Key{ID: id, Secret: []byte(secret)})
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("hmac key spec has no entries")
	}
	return keys, nil
}
