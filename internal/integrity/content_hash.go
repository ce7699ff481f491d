package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/CaioWing/Ledger/internal/domain"
)

// CanonicalContent encodes the hashed fields of a record as the JSON array
//
//	[action, resource, resourceId, details, sessionInfo, createdAt]
//
// resourceId and sessionInfo are null when absent, details keeps its insertion
// order and createdAt is RFC 3339 (nanosecond layout) in UTC. Actor, sequence
// and hashes are deliberately outside the content: the sequence and previous
// hash are bound by the signature instead.
func CanonicalContent(rec *domain.ActivityRecord) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("record is required")
	}
	content := []any{
		rec.Action,
		rec.Resource,
		rec.ResourceID,
		rec.Details,
		rec.SessionInfo,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("encode canonical content: %w", err)
	}
	return data, nil
}

// ContentHash returns the hex SHA-256 digest of the record's canonical content.
func ContentHash(rec *domain.ActivityRecord) (string, error) {
	data, err := CanonicalContent(rec)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// SignatureInput is the message authenticated by a record's signature.
func SignatureInput(contentHash, previousHash string, seq int64) string {
	return contentHash + "|" + previousHash + "|" + strconv.FormatInt(seq, 10)
}
