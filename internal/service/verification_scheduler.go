package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/CaioWing/Ledger/internal/ledger"
)

// VerificationScheduler periodically replays the whole chain so tampering is
// noticed without waiting for an administrator to ask.
type VerificationScheduler struct {
	activity *ActivityService
	log      *slog.Logger
}

func NewVerificationScheduler(activity *ActivityService, log *slog.Logger) *VerificationScheduler {
	return &VerificationScheduler{activity: activity, log: log}
}

// Start runs a verification at the given interval until ctx is done. Call in
// a goroutine.
func (s *VerificationScheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("verification scheduler started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("verification scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce verifies the full chain, collecting every finding.
func (s *VerificationScheduler) RunOnce(ctx context.Context) {
	report, err := s.activity.Verify(ctx, ledger.VerifyOptions{CollectAll: true})
	if err != nil {
		s.log.Error("scheduled verification could not read the chain", "err", err)
		return
	}
	if !report.Valid {
		first := report.Findings[0]
		s.log.Error("activity chain failed scheduled verification",
			"findings", len(report.Findings),
			"first_sequence", first.SequenceNumber,
			"first_kind", first.Kind,
		)
		return
	}
	s.log.Info("scheduled verification passed", "checked", report.Checked, "end", report.End)
}
