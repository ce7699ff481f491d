// Package ledger appends records to the hash-chained activity log and verifies
// the persisted chain.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/CaioWing/Ledger/internal/domain"
	"github.com/CaioWing/Ledger/internal/integrity"
)

const tracerName = "github.com/CaioWing/Ledger/internal/ledger"

// Event describes a security-relevant action to record.
type Event struct {
	ActorID     *string
	Action      string
	Resource    string
	ResourceID  *string
	Details     domain.Details
	SessionInfo *domain.SessionInfo
}

// Options bounds the retry loop around sequence conflicts.
type Options struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 5
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 10 * time.Millisecond
	}
	if o.MaxBackoff < o.BaseBackoff {
		o.MaxBackoff = 500 * time.Millisecond
		if o.MaxBackoff < o.BaseBackoff {
			o.MaxBackoff = o.BaseBackoff
		}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Ledger is the only writer of the activity store.
type Ledger struct {
	repo   domain.ActivityRepository
	keys   *integrity.Keyring
	log    *slog.Logger
	opts   Options
	tracer trace.Tracer
}

func New(repo domain.ActivityRepository, keys *integrity.Keyring, log *slog.Logger, opts Options) *Ledger {
	return &Ledger{
		repo:   repo,
		keys:   keys,
		log:    log,
		opts:   opts.withDefaults(),
		tracer: otel.Tracer(tracerName),
	}
}

// Append hashes the event, links it to the latest record and persists it.
// Validation failures wrap domain.ErrValidation; store failures and an
// exhausted retry budget wrap domain.ErrPersistence.
func (l *Ledger) Append(ctx context.Context, evt Event) (*domain.ActivityRecord, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.Append", trace.WithAttributes(
		attribute.String("activity.action", evt.Action),
		attribute.String("activity.resource", evt.Resource),
	))
	defer span.End()

	rec, err := l.prepare(evt)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	seal := func(r *domain.ActivityRecord, after time.Time) error {
		// Stores keep microseconds; truncating keeps the hash reproducible.
		at := l.opts.Now().UTC().Truncate(time.Microsecond)
		if !at.After(after) {
			at = after.UTC().Add(time.Microsecond)
		}
		r.CreatedAt = at
		hash, err := integrity.ContentHash(r)
		if err != nil {
			return fmt.Errorf("hash activity: %w", err)
		}
		r.ContentHash = hash
		sig, _, err := l.keys.Sign(r.ContentHash, r.PreviousHash, r.SequenceNumber)
		if err != nil {
			return fmt.Errorf("sign activity: %w", err)
		}
		r.Signature = sig
		return nil
	}

	backoff := l.opts.BaseBackoff
	for attempt := 1; ; attempt++ {
		err := l.repo.InsertNext(ctx, rec, seal)
		if err == nil {
			span.SetAttributes(
				attribute.Int64("activity.sequence", rec.SequenceNumber),
				attribute.Int("activity.attempts", attempt),
			)
			return rec, nil
		}

		if !errors.Is(err, domain.ErrSequenceConflict) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "insert failed")
			return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
		}
		if attempt >= l.opts.MaxAttempts {
			span.SetStatus(codes.Error, "retry budget exhausted")
			return nil, fmt.Errorf("%w: sequence conflict after %d attempts", domain.ErrPersistence, attempt)
		}

		l.log.Debug("activity sequence conflict, retrying", "attempt", attempt, "backoff", backoff)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, ctx.Err())
		case <-timer.C:
		}
		backoff *= 2
		if backoff > l.opts.MaxBackoff {
			backoff = l.opts.MaxBackoff
		}
	}
}

// prepare validates evt and copies it into a record holding exactly what a
// store will hand back: strings are valid UTF-8 and details are normalized.
// The timestamp, hash and signature are left to seal.
func (l *Ledger) prepare(evt Event) (*domain.ActivityRecord, error) {
	action := domain.ValidUTF8(strings.TrimSpace(evt.Action))
	if action == "" {
		return nil, fmt.Errorf("%w: action is required", domain.ErrValidation)
	}
	resource := domain.ValidUTF8(strings.TrimSpace(evt.Resource))
	if resource == "" {
		return nil, fmt.Errorf("%w: resource is required", domain.ErrValidation)
	}
	details, err := evt.Details.Normalize()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	rec := &domain.ActivityRecord{
		ID:          uuid.New(),
		ActorID:     copyString(evt.ActorID),
		Action:      action,
		Resource:    resource,
		ResourceID:  copyString(evt.ResourceID),
		Details:     details,
		SessionInfo: evt.SessionInfo.Sanitized(),
	}
	if _, err := integrity.CanonicalContent(rec); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	return rec, nil
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := domain.ValidUTF8(*s)
	return &v
}
