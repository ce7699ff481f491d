package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// generateKey writes a fresh key as environment assignments. reader defaults
// to crypto/rand.
func generateKey(out io.Writer, reader io.Reader, size int, id string) error {
	if size < 16 {
		return errors.New("bytes must be at least 16")
	}
	id = strings.TrimSpace(id)
	if id == "" || strings.ContainsAny(id, "=,") {
		return fmt.Errorf("invalid key id %q", id)
	}
	if reader == nil {
		reader = rand.Reader
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return fmt.Errorf("generate random bytes: %w", err)
	}
	secret := hex.EncodeToString(buf)

	_, err := fmt.Fprintf(out,
		"LEDGER_HMAC_KEY_ID=%s\nLEDGER_HMAC_KEY=%s\n# when rotating, prepend to LEDGER_HMAC_KEYS: %s=%s\n",
		id, secret, id, secret)
	return err
}
