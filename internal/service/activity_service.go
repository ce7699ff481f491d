package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"

	"github.com/CaioWing/Ledger/internal/domain"
	"github.com/CaioWing/Ledger/internal/ledger"
	"github.com/CaioWing/Ledger/internal/storage"
)

// Archived report names sort chronologically: the timestamp is fixed width.
const (
	reportPrefix     = "verify-"
	reportTimeFormat = "20060102T150405.000000000Z"
)

// Monitor receives ledger outcomes for alerting.
type Monitor interface {
	AppendSucceeded(action string)
	AppendFailed(action string)
	VerificationFinished(valid bool, findings int)
}

type ActivityService struct {
	ledger   *ledger.Ledger
	verifier *ledger.Verifier
	repo     domain.ActivityRepository
	reports  storage.FileStore
	monitor  Monitor
	log      *slog.Logger

	mu         sync.Mutex
	lastReport string
}

// NewActivityService wires the ledger to its readers. reports and monitor may
// be nil.
func NewActivityService(
	l *ledger.Ledger,
	verifier *ledger.Verifier,
	repo domain.ActivityRepository,
	reports storage.FileStore,
	monitor Monitor,
	log *slog.Logger,
) *ActivityService {
	return &ActivityService{
		ledger:   l,
		verifier: verifier,
		repo:     repo,
		reports:  reports,
		monitor:  monitor,
		log:      log,
	}
}

// Record appends an activity event. It is best-effort: a failure is logged at
// error level and reported to the monitor, never returned to the caller, and
// nil is returned in place of the record.
func (s *ActivityService) Record(ctx context.Context, actor *domain.Actor, evt ledger.Event) *domain.ActivityRecord {
	if actor != nil {
		if actor.ID != "" {
			id := actor.ID
			evt.ActorID = &id
		}
		if actor.Impersonating() {
			evt.Details = evt.Details.Clone()
			evt.Details.Set("impersonation", domain.NewDetails(
				domain.Field{Key: "realActorId", Value: actor.ID},
				domain.Field{Key: "effectiveActorId", Value: actor.EffectiveID},
			))
		}
	}

	rec, err := s.ledger.Append(ctx, evt)
	if err != nil {
		s.log.Error("failed to record activity",
			"action", evt.Action, "resource", evt.Resource, "err", err)
		if s.monitor != nil {
			s.monitor.AppendFailed(evt.Action)
		}
		return nil
	}
	if s.monitor != nil {
		s.monitor.AppendSucceeded(rec.Action)
	}
	return rec
}

func (s *ActivityService) List(ctx context.Context, filter domain.ActivityFilter) ([]*domain.ActivityRecord, int, error) {
	return s.repo.List(ctx, filter)
}

func (s *ActivityService) Get(ctx context.Context, seq int64) (*domain.ActivityRecord, error) {
	if seq < 1 {
		return nil, fmt.Errorf("%w: sequence number must be positive", domain.ErrInvalidInput)
	}
	return s.repo.GetBySequence(ctx, seq)
}

// Head returns the latest record, or nil when nothing has been recorded yet.
func (s *ActivityService) Head(ctx context.Context) (*domain.ActivityRecord, error) {
	return s.repo.GetLatest(ctx)
}

// Verify checks the chain and archives the report. Archive failures are
// logged only.
func (s *ActivityService) Verify(ctx context.Context, opts ledger.VerifyOptions) (*domain.VerificationReport, error) {
	report, err := s.verifier.Verify(ctx, opts)
	if err != nil {
		return nil, err
	}
	if s.monitor != nil {
		s.monitor.VerificationFinished(report.Valid, len(report.Findings))
	}
	s.archive(report)
	return report, nil
}

// LastVerification loads the most recently archived report. Reports archived
// before a restart are found by scanning the report store.
func (s *ActivityService) LastVerification(_ context.Context) (*domain.VerificationReport, error) {
	if s.reports == nil {
		return nil, domain.ErrNotFound
	}
	s.mu.Lock()
	path := s.lastReport
	s.mu.Unlock()
	if path == "" {
		latest, err := s.reports.Latest(reportPrefix)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("find verification report: %w", err)
		}
		path = latest
		s.mu.Lock()
		if s.lastReport == "" {
			s.lastReport = path
		}
		s.mu.Unlock()
	}

	rc, err := s.reports.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open verification report: %w", err)
	}
	defer rc.Close()

	var report domain.VerificationReport
	if err := json.NewDecoder(rc).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode verification report: %w", err)
	}
	return &report, nil
}

func (s *ActivityService) archive(report *domain.VerificationReport) {
	if s.reports == nil {
		return
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		s.log.Warn("failed to encode verification report", "err", err)
		return
	}

	name := fmt.Sprintf("%s%s-%d-%d.json", reportPrefix,
		report.VerifiedAt.UTC().Format(reportTimeFormat), report.Start, report.End)
	path, _, err := s.reports.Save(name, bytes.NewReader(data))
	if err != nil {
		s.log.Warn("failed to archive verification report", "err", err)
		return
	}

	s.mu.Lock()
	s.lastReport = path
	s.mu.Unlock()
}
