package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/CaioWing/Ledger/internal/domain"
	"github.com/CaioWing/Ledger/internal/integrity"
	"github.com/CaioWing/Ledger/internal/ledger"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := MigrateUp(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newRecord(action string) *domain.ActivityRecord {
	actor := "admin-1"
	return &domain.ActivityRecord{
		ID:       uuid.New(),
		ActorID:  &actor,
		Action:   action,
		Resource: "settings",
		Details: domain.NewDetails(
			domain.Field{Key: "zeta", Value: 1.5},
			domain.Field{Key: "alpha", Value: []any{"x", nil}},
		),
		CreatedAt:   time.Date(2026, 5, 4, 10, 30, 0, 123456000, time.UTC),
		ContentHash: uuid.NewString(),
	}
}

func seal(rec *domain.ActivityRecord, _ time.Time) error {
	rec.Signature = "sig-" + rec.ContentHash
	return nil
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateUp(db); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	version, dirty, err := MigrationVersion(db)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if version != 1 || dirty {
		t.Fatalf("expected clean version 1, got %d dirty=%v", version, dirty)
	}
}

func TestActivityRepo_EmptyStore(t *testing.T) {
	repo := NewActivityRepo(openTestDB(t))

	latest, err := repo.GetLatest(context.Background())
	if err != nil || latest != nil {
		t.Fatalf("expected nil latest, got %v %v", latest, err)
	}
	if _, err := repo.GetBySequence(context.Background(), 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestActivityRepo_InsertNextLinksChain(t *testing.T) {
	repo := NewActivityRepo(openTestDB(t))
	ctx := context.Background()

	first := newRecord("create")
	second := newRecord("update")
	for _, rec := range []*domain.ActivityRecord{first, second} {
		if err := repo.InsertNext(ctx, rec, seal); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	if first.SequenceNumber != 1 || first.PreviousHash != domain.GenesisHash {
		t.Fatalf("unexpected first link %d %s", first.SequenceNumber, first.PreviousHash)
	}
	if second.SequenceNumber != 2 || second.PreviousHash != first.ContentHash {
		t.Fatalf("unexpected second link %d %s", second.SequenceNumber, second.PreviousHash)
	}

	got, err := repo.GetBySequence(ctx, 2)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != second.ID || got.Signature != "sig-"+second.ContentHash {
		t.Fatalf("unexpected stored record %+v", got)
	}
	if !got.CreatedAt.Equal(second.CreatedAt) {
		t.Fatalf("created_at changed: %v", got.CreatedAt)
	}
	if got.ActorID == nil || *got.ActorID != "admin-1" || got.ResourceID != nil || got.SessionInfo != nil {
		t.Fatalf("optional fields not preserved: %+v", got)
	}

	want, _ := second.Details.MarshalJSON()
	have, _ := got.Details.MarshalJSON()
	if string(want) != string(have) {
		t.Fatalf("details changed:\n got:  %s\n want: %s", have, want)
	}
}

func TestActivityRepo_DuplicateSequenceIsConflict(t *testing.T) {
	db := openTestDB(t)
	repo := NewActivityRepo(db)
	ctx := context.Background()

	if err := repo.InsertNext(ctx, newRecord("create"), seal); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// A seal that rewinds the link collides with the stored record.
	rewind := func(rec *domain.ActivityRecord, after time.Time) error {
		rec.SequenceNumber = 1
		rec.PreviousHash = domain.GenesisHash
		return seal(rec, after)
	}
	err := repo.InsertNext(ctx, newRecord("update"), rewind)
	if !errors.Is(err, domain.ErrSequenceConflict) {
		t.Fatalf("expected ErrSequenceConflict, got %v", err)
	}
}

func TestActivityRepo_RejectsUpdates(t *testing.T) {
	db := openTestDB(t)
	repo := NewActivityRepo(db)
	if err := repo.InsertNext(context.Background(), newRecord("create"), seal); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if _, err := db.Exec("UPDATE activity_logs SET action = 'delete'"); err == nil {
		t.Fatal("expected update to be rejected")
	}
	if _, err := db.Exec("DELETE FROM activity_logs"); err == nil {
		t.Fatal("expected delete to be rejected")
	}
}

func TestActivityRepo_StreamRangeAcrossPages(t *testing.T) {
	repo := NewActivityRepo(openTestDB(t))
	ctx := context.Background()
	const n = streamBatchSize + 7

	for i := 0; i < n; i++ {
		if err := repo.InsertNext(ctx, newRecord("update"), seal); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	var seen []int64
	err := repo.StreamRange(ctx, 3, n-2, func(rec *domain.ActivityRecord) error {
		seen = append(seen, rec.SequenceNumber)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(seen) != n-4 || seen[0] != 3 || seen[len(seen)-1] != n-2 {
		t.Fatalf("unexpected range: %d records from %d to %d", len(seen), seen[0], seen[len(seen)-1])
	}

	count := 0
	repo.StreamRange(ctx, 1, 0, func(*domain.ActivityRecord) error {
		count++
		return nil
	})
	if count != n {
		t.Fatalf("expected unbounded stream of %d, got %d", n, count)
	}
}

func TestActivityRepo_List(t *testing.T) {
	repo := NewActivityRepo(openTestDB(t))
	ctx := context.Background()
	for _, action := range []string{"create", "update", "update", "delete"} {
		if err := repo.InsertNext(ctx, newRecord(action), seal); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	action := "update"
	records, total, err := repo.List(ctx, domain.ActivityFilter{Action: &action})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(records) != 2 {
		t.Fatalf("expected 2 updates, got %d/%d", len(records), total)
	}
	if records[0].SequenceNumber != 3 {
		t.Fatalf("expected newest first, got %d", records[0].SequenceNumber)
	}

	records, total, err = repo.List(ctx, domain.ActivityFilter{Page: 2, PerPage: 3, SortOrder: "asc"})
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if total != 4 || len(records) != 1 || records[0].SequenceNumber != 4 {
		t.Fatalf("unexpected second page: total=%d len=%d", total, len(records))
	}
}

func newSQLiteLedger(t *testing.T, opts ledger.Options) (*ledger.Ledger, *ledger.Verifier, *ActivityRepo) {
	t.Helper()
	repo := NewActivityRepo(openTestDB(t))
	keys, _ := integrity.NewKeyring(integrity.Key{ID: "v1", Secret: []byte("sqlite-secret")})
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return ledger.New(repo, keys, log, opts), ledger.NewVerifier(repo, keys, log), repo
}

func TestActivityRepo_IdenticalEventsUnderFixedClock(t *testing.T) {
	fixed := time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)
	l, verifier, repo := newSQLiteLedger(t, ledger.Options{Now: func() time.Time { return fixed }})
	ctx := context.Background()

	failed := ledger.Event{
		Action:      "login_failed",
		Resource:    "auth",
		Details:     domain.NewDetails(domain.Field{Key: "email", Value: "admin@example.com"}),
		SessionInfo: &domain.SessionInfo{Browser: "Firefox 128.0", IPAddress: "203.0.113.9"},
	}
	var records []*domain.ActivityRecord
	for i := 0; i < 3; i++ {
		rec, err := l.Append(ctx, failed)
		if err != nil {
			t.Fatalf("append identical event %d: %v", i+1, err)
		}
		records = append(records, rec)
	}
	rec, err := l.Append(ctx, ledger.Event{Action: "create", Resource: "users"})
	if err != nil {
		t.Fatalf("append after identical events: %v", err)
	}
	records = append(records, rec)

	hashes := make(map[string]bool)
	for i, rec := range records {
		if hashes[rec.ContentHash] {
			t.Fatalf("seq %d repeats an earlier content hash", rec.SequenceNumber)
		}
		hashes[rec.ContentHash] = true
		if i > 0 && !rec.CreatedAt.After(records[i-1].CreatedAt) {
			t.Fatalf("seq %d created_at %v not after %v", rec.SequenceNumber, rec.CreatedAt, records[i-1].CreatedAt)
		}
	}

	stored, err := repo.GetBySequence(ctx, 3)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if want := fixed.Add(2 * time.Microsecond); !stored.CreatedAt.Equal(want) {
		t.Fatalf("expected created_at %v, got %v", want, stored.CreatedAt)
	}

	report, err := verifier.Verify(ctx, ledger.VerifyOptions{CollectAll: true})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !report.Valid || report.Checked != 4 {
		t.Fatalf("expected 4 valid records, got %+v", report)
	}
}

func TestActivityRepo_InvalidUTF8VerifiesAfterRoundTrip(t *testing.T) {
	l, verifier, repo := newSQLiteLedger(t, ledger.Options{})
	ctx := context.Background()

	rec, err := l.Append(ctx, ledger.Event{
		Action:      "login",
		Resource:    "auth",
		ResourceID:  strPtr("u-\xfe1"),
		Details:     domain.NewDetails(domain.Field{Key: "note\xff", Value: []any{"bad\xc3"}}),
		SessionInfo: &domain.SessionInfo{Browser: "Evil\xff", OS: "Linux", IPAddress: "192.0.2.1"},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if rec.SessionInfo.Browser != "Evil\uFFFD" {
		t.Fatalf("expected browser to be normalized, got %q", rec.SessionInfo.Browser)
	}

	stored, err := repo.GetBySequence(ctx, rec.SequenceNumber)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	hash, err := integrity.ContentHash(stored)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash != rec.ContentHash {
		t.Fatalf("stored record hashes to %s, sealed as %s", hash, rec.ContentHash)
	}

	report, err := verifier.Verify(ctx, ledger.VerifyOptions{CollectAll: true})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !report.Valid {
		t.Fatalf("expected valid chain, got %+v", report.Findings)
	}
}

func strPtr(s string) *string { return &s }

func TestActivityRepo_LedgerDetectsOutOfBandEdit(t *testing.T) {
	db := openTestDB(t)
	repo := NewActivityRepo(db)
	keys, _ := integrity.NewKeyring(integrity.Key{ID: "v1", Secret: []byte("sqlite-secret")})
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := ledger.New(repo, keys, log, ledger.Options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Append(ctx, ledger.Event{
				Action:      "update",
				Resource:    "settings",
				Details:     domain.NewDetails(domain.Field{Key: "after", Value: "New"}, domain.Field{Key: "before", Value: "Old"}),
				SessionInfo: &domain.SessionInfo{Browser: "Safari", OS: "macOS", IPAddress: "198.51.100.4"},
			})
			if err != nil {
				t.Errorf("append: %v", err)
			}
		}()
	}
	wg.Wait()

	verifier := ledger.NewVerifier(repo, keys, log)
	report, err := verifier.Verify(ctx, ledger.VerifyOptions{})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !report.Valid || report.Checked != 10 {
		t.Fatalf("expected 10 valid records, got %+v", report)
	}

	if _, err := db.Exec("DROP TRIGGER activity_logs_no_update"); err != nil {
		t.Fatalf("drop trigger: %v", err)
	}
	if _, err := db.Exec(`UPDATE activity_logs SET details = '{"after":"Hacked","before":"Old"}' WHERE sequence_number = 4`); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	report, err = verifier.Verify(ctx, ledger.VerifyOptions{CollectAll: true})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(report.Findings) != 2 ||
		report.Findings[0].SequenceNumber != 4 || report.Findings[0].Kind != domain.FindingContentMismatch ||
		report.Findings[1].SequenceNumber != 5 || report.Findings[1].Kind != domain.FindingChainBroken {
		t.Fatalf("unexpected findings %+v", report.Findings)
	}
}
