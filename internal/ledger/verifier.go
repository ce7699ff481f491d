package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/CaioWing/Ledger/internal/domain"
	"github.com/CaioWing/Ledger/internal/integrity"
)

// VerifyOptions selects the sequence range to check. Zero Start means the
// first record; zero End means the latest record at the time the scan starts.
type VerifyOptions struct {
	Start      int64
	End        int64
	CollectAll bool
}

// Verifier replays the stored chain. It never writes to the store.
type Verifier struct {
	repo   domain.ActivityRepository
	keys   *integrity.Keyring
	log    *slog.Logger
	now    func() time.Time
	tracer trace.Tracer
}

func NewVerifier(repo domain.ActivityRepository, keys *integrity.Keyring, log *slog.Logger) *Verifier {
	return &Verifier{
		repo:   repo,
		keys:   keys,
		log:    log,
		now:    time.Now,
		tracer: otel.Tracer(tracerName),
	}
}

var errStopScan = errors.New("stop scan")

// Verify recomputes hashes and signatures over the requested range. Tamper
// evidence is returned in the report; only store failures produce an error.
func (v *Verifier) Verify(ctx context.Context, opts VerifyOptions) (*domain.VerificationReport, error) {
	if opts.Start < 0 || opts.End < 0 || (opts.End > 0 && opts.End < opts.Start) {
		return nil, fmt.Errorf("%w: invalid verification range %d..%d", domain.ErrInvalidInput, opts.Start, opts.End)
	}

	ctx, span := v.tracer.Start(ctx, "ledger.Verify")
	defer span.End()

	start := opts.Start
	if start == 0 {
		start = 1
	}

	report := &domain.VerificationReport{
		Valid:      true,
		Start:      start,
		End:        opts.End,
		Findings:   []domain.Finding{},
		KeyUsage:   map[string]int{},
		VerifiedAt: v.now().UTC(),
	}

	if report.End == 0 {
		latest, err := v.repo.GetLatest(ctx)
		if err != nil {
			span.SetStatus(codes.Error, "load latest")
			return nil, fmt.Errorf("load latest activity: %w", err)
		}
		if latest == nil {
			return report, nil
		}
		report.End = latest.SequenceNumber
	}

	scan := chainScan{keys: v.keys, start: start}
	err := v.repo.StreamRange(ctx, start, report.End, func(rec *domain.ActivityRecord) error {
		report.Checked++
		findings, keyID := scan.check(rec)
		if keyID != "" {
			report.KeyUsage[keyID]++
		}
		if len(findings) == 0 {
			return nil
		}
		report.Findings = append(report.Findings, findings...)
		if !opts.CollectAll {
			return errStopScan
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopScan) {
		span.SetStatus(codes.Error, "stream activity")
		return nil, fmt.Errorf("stream activity: %w", err)
	}

	report.Valid = len(report.Findings) == 0
	span.SetAttributes(
		attribute.Int("ledger.checked", report.Checked),
		attribute.Int("ledger.findings", len(report.Findings)),
	)
	if !report.Valid {
		first := report.Findings[0]
		v.log.Warn("activity chain verification failed",
			"start", report.Start, "end", report.End,
			"findings", len(report.Findings),
			"first_sequence", first.SequenceNumber, "first_kind", first.Kind,
		)
	}
	return report, nil
}

// chainScan carries the expected link state between consecutive records.
type chainScan struct {
	keys         *integrity.Keyring
	start        int64
	started      bool
	expectedPrev string
	expectedSeq  int64
}

func (s *chainScan) check(rec *domain.ActivityRecord) ([]domain.Finding, string) {
	if !s.started {
		s.started = true
		s.expectedSeq = s.start
		if s.start <= 1 {
			s.expectedPrev = domain.GenesisHash
		} else {
			// Mid-chain scans trust the first record's link.
			s.expectedPrev = rec.PreviousHash
		}
	}

	seq := rec.SequenceNumber
	var findings []domain.Finding

	recomputed, err := integrity.ContentHash(rec)
	switch {
	case err != nil:
		findings = append(findings, domain.Finding{
			SequenceNumber: seq,
			Kind:           domain.FindingContentMismatch,
			Actual:         rec.ContentHash,
			Message:        "content cannot be re-encoded: " + err.Error(),
		})
		recomputed = rec.ContentHash
	case recomputed != rec.ContentHash:
		findings = append(findings, domain.Finding{
			SequenceNumber: seq,
			Kind:           domain.FindingContentMismatch,
			Expected:       recomputed,
			Actual:         rec.ContentHash,
			Message:        "stored content hash does not match record fields",
		})
	}

	keyID, ok := s.keys.Verify(rec.ContentHash, rec.PreviousHash, seq, rec.Signature)
	if !ok {
		findings = append(findings, domain.Finding{
			SequenceNumber: seq,
			Kind:           domain.FindingSignatureInvalid,
			Actual:         rec.Signature,
			Message:        "signature does not match any configured key",
		})
	}

	forgedGenesis := seq != 1 && rec.PreviousHash == domain.GenesisHash
	if rec.PreviousHash != s.expectedPrev || forgedGenesis {
		findings = append(findings, domain.Finding{
			SequenceNumber: seq,
			Kind:           domain.FindingChainBroken,
			Expected:       s.expectedPrev,
			Actual:         rec.PreviousHash,
			Message:        "previous hash does not link to the preceding record",
		})
	}

	if seq != s.expectedSeq {
		findings = append(findings, domain.Finding{
			SequenceNumber: seq,
			Kind:           domain.FindingSequenceGap,
			Expected:       strconv.FormatInt(s.expectedSeq, 10),
			Actual:         strconv.FormatInt(seq, 10),
			Message:        "sequence number does not follow the preceding record",
		})
	}

	s.expectedPrev = recomputed
	s.expectedSeq = seq + 1
	return findings, keyID
}
