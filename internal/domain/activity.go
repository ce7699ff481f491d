package domain

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenesisHash is the previous-hash sentinel carried by the first record of the chain.
const GenesisHash = "genesis"

// ActivityRecord is one immutable entry of the tamper-evident activity log.
type ActivityRecord struct {
	ID             uuid.UUID    `json:"id"`
	SequenceNumber int64        `json:"sequence_number"`
	ActorID        *string      `json:"actor_id"`
	Action         string       `json:"action"`   // e.g. create, update, login_failed
	Resource       string       `json:"resource"` // e.g. users, settings, sessions
	ResourceID     *string      `json:"resource_id"`
	Details        Details      `json:"details"`
	SessionInfo    *SessionInfo `json:"session_info"`
	CreatedAt      time.Time    `json:"created_at"`
	ContentHash    string       `json:"content_hash"`
	PreviousHash   string       `json:"previous_hash"`
	Signature      string       `json:"signature"`
}

// SessionInfo is a frozen snapshot of the client that performed an action.
type SessionInfo struct {
	Device      string       `json:"device,omitempty"`
	Browser     string       `json:"browser,omitempty"`
	OS          string       `json:"os,omitempty"`
	IPAddress   string       `json:"ip_address,omitempty"`
	Geolocation *Geolocation `json:"geolocation,omitempty"`
}

type Geolocation struct {
	Country   string  `json:"country,omitempty"`
	Region    string  `json:"region,omitempty"`
	City      string  `json:"city,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// Clone returns a deep copy so later changes to the source session never
// reach a stored record.
func (s *SessionInfo) Clone() *SessionInfo {
	if s == nil {
		return nil
	}
	out := *s
	if s.Geolocation != nil {
		geo := *s.Geolocation
		out.Geolocation = &geo
	}
	return &out
}

// Sanitized returns a deep copy whose strings hold valid UTF-8 only. Invalid
// bytes become U+FFFD, which is what every store hands back for them.
func (s *SessionInfo) Sanitized() *SessionInfo {
	out := s.Clone()
	if out == nil {
		return nil
	}
	out.Device = ValidUTF8(out.Device)
	out.Browser = ValidUTF8(out.Browser)
	out.OS = ValidUTF8(out.OS)
	out.IPAddress = ValidUTF8(out.IPAddress)
	if g := out.Geolocation; g != nil {
		g.Country = ValidUTF8(g.Country)
		g.Region = ValidUTF8(g.Region)
		g.City = ValidUTF8(g.City)
	}
	return out
}

// ValidUTF8 replaces each run of invalid UTF-8 bytes in s with U+FFFD.
func ValidUTF8(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

// Actor identifies who triggered an action. EffectiveID is set when an
// administrator acts as another user.
type Actor struct {
	ID          string
	EffectiveID string
}

// Impersonating reports whether the effective identity differs from the real one.
func (a Actor) Impersonating() bool {
	return a.EffectiveID != "" && a.EffectiveID != a.ID
}

// SealFunc finalises a record once the repository has assigned its sequence
// number and previous hash, inside the repository's critical section. after
// is the predecessor's CreatedAt, zero for the first record; seal stamps
// CreatedAt strictly later and computes the content hash and signature.
type SealFunc func(rec *ActivityRecord, after time.Time) error

type ActivityFilter struct {
	ActorID   *string
	Action    *string
	Resource  *string
	Page      int
	PerPage   int
	SortOrder string
}

// ActivityRepository persists the activity chain. Implementations never update
// or delete rows.
type ActivityRepository interface {
	// InsertNext atomically assigns the next sequence number and the previous
	// hash (the latest record by sequence, or GenesisHash), calls seal with the
	// latest record's CreatedAt and inserts the record. A lost race is reported as ErrSequenceConflict.
	InsertNext(ctx context.Context, rec *ActivityRecord, seal SealFunc) error
	// GetLatest returns the record with the highest sequence number, or nil
	// when the log is empty.
	GetLatest(ctx context.Context) (*ActivityRecord, error)
	// StreamRange calls fn for each record with start <= sequence <= end in
	// ascending order. An end of zero means no upper bound.
	StreamRange(ctx context.Context, start, end int64, fn func(*ActivityRecord) error) error
	GetBySequence(ctx context.Context, seq int64) (*ActivityRecord, error)
	List(ctx context.Context, filter ActivityFilter) ([]*ActivityRecord, int, error)
}
