package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CaioWing/Ledger/internal/domain"
)

const streamBatchSize = 500

const activityColumns = `id, sequence_number, actor_id, action, resource, resource_id,
	details, session_info, created_at, content_hash, previous_hash, signature`

type ActivityRepo struct {
	db *sql.DB
	mu sync.Mutex
}

func NewActivityRepo(db *sql.DB) *ActivityRepo {
	return &ActivityRepo{db: db}
}

func (r *ActivityRepo) InsertNext(ctx context.Context, rec *domain.ActivityRecord, seal domain.SealFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin activity tx: %w", err)
	}
	defer tx.Rollback()

	next, prev := int64(1), domain.GenesisHash
	var (
		lastSeq  int64
		lastHash string
		lastAt   string
		after    time.Time
	)
	err = tx.QueryRowContext(ctx, `
		SELECT sequence_number, content_hash, created_at FROM activity_logs
		ORDER BY sequence_number DESC LIMIT 1
	`).Scan(&lastSeq, &lastHash, &lastAt)
	switch {
	case err == nil:
		next, prev = lastSeq+1, lastHash
		if after, err = time.Parse(time.RFC3339Nano, lastAt); err != nil {
			return fmt.Errorf("parse latest created_at: %w", err)
		}
	case errors.Is(err, sql.ErrNoRows):
	default:
		return fmt.Errorf("read latest activity: %w", err)
	}

	rec.SequenceNumber = next
	rec.PreviousHash = prev
	if seal != nil {
		if err := seal(rec, after); err != nil {
			return err
		}
	}

	details, session, err := encodePayload(rec)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO activity_logs (`+activityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID.String(), rec.SequenceNumber, nullString(rec.ActorID), rec.Action, rec.Resource,
		nullString(rec.ResourceID), details, session, rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.ContentHash, rec.PreviousHash, rec.Signature)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("insert activity: %w", domain.ErrSequenceConflict)
		}
		return fmt.Errorf("insert activity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit activity: %w", err)
	}
	return nil
}

func (r *ActivityRepo) GetLatest(ctx context.Context) (*domain.ActivityRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+activityColumns+` FROM activity_logs
		ORDER BY sequence_number DESC LIMIT 1
	`)
	rec, err := scanActivity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest activity: %w", err)
	}
	return rec, nil
}

func (r *ActivityRepo) GetBySequence(ctx context.Context, seq int64) (*domain.ActivityRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+activityColumns+` FROM activity_logs WHERE sequence_number = ?
	`, seq)
	rec, err := scanActivity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get activity: %w", err)
	}
	return rec, nil
}

// StreamRange reads the range in pages; the single connection is released
// before fn runs.
func (r *ActivityRepo) StreamRange(ctx context.Context, start, end int64, fn func(*domain.ActivityRecord) error) error {
	from := start
	for {
		batch, err := r.readBatch(ctx, from, end)
		if err != nil {
			return err
		}
		for _, rec := range batch {
			if err := fn(rec); err != nil {
				return err
			}
		}
		if len(batch) < streamBatchSize {
			return nil
		}
		from = batch[len(batch)-1].SequenceNumber + 1
	}
}

func (r *ActivityRepo) readBatch(ctx context.Context, from, end int64) ([]*domain.ActivityRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+activityColumns+` FROM activity_logs
		WHERE sequence_number >= ? AND (? = 0 OR sequence_number <= ?)
		ORDER BY sequence_number ASC
		LIMIT ?
	`, from, end, end, streamBatchSize)
	if err != nil {
		return nil, fmt.Errorf("stream activity: %w", err)
	}
	defer rows.Close()

	var batch []*domain.ActivityRecord
	for rows.Next() {
		rec, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		batch = append(batch, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stream activity: %w", err)
	}
	return batch, nil
}

func (r *ActivityRepo) List(ctx context.Context, f domain.ActivityFilter) ([]*domain.ActivityRecord, int, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 || f.PerPage > 100 {
		f.PerPage = 20
	}

	where := "WHERE 1=1"
	args := []interface{}{}
	if f.ActorID != nil {
		where += " AND actor_id = ?"
		args = append(args, *f.ActorID)
	}
	if f.Action != nil {
		where += " AND action = ?"
		args = append(args, *f.Action)
	}
	if f.Resource != nil {
		where += " AND resource = ?"
		args = append(args, *f.Resource)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM activity_logs "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count activity: %w", err)
	}

	orderDir := "DESC"
	if f.SortOrder == "asc" {
		orderDir = "ASC"
	}

	query := fmt.Sprintf(`
		SELECT %s FROM activity_logs %s
		ORDER BY sequence_number %s
		LIMIT ? OFFSET ?
	`, activityColumns, where, orderDir)
	args = append(args, f.PerPage, (f.Page-1)*f.PerPage)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	records := []*domain.ActivityRecord{}
	for rows.Next() {
		rec, err := scanActivity(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan activity: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list activity: %w", err)
	}
	return records, total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActivity(row rowScanner) (*domain.ActivityRecord, error) {
	rec := &domain.ActivityRecord{}
	var (
		id, details, createdAt        string
		actorID, resourceID, sessions sql.NullString
	)
	err := row.Scan(
		&id, &rec.SequenceNumber, &actorID, &rec.Action, &rec.Resource, &resourceID,
		&details, &sessions, &createdAt, &rec.ContentHash, &rec.PreviousHash, &rec.Signature,
	)
	if err != nil {
		return nil, err
	}

	if rec.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse id: %w", err)
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if actorID.Valid {
		rec.ActorID = &actorID.String
	}
	if resourceID.Valid {
		rec.ResourceID = &resourceID.String
	}
	if err := json.Unmarshal([]byte(details), &rec.Details); err != nil {
		return nil, fmt.Errorf("unmarshal details: %w", err)
	}
	if sessions.Valid {
		rec.SessionInfo = &domain.SessionInfo{}
		if err := json.Unmarshal([]byte(sessions.String), rec.SessionInfo); err != nil {
			return nil, fmt.Errorf("unmarshal session info: %w", err)
		}
	}
	return rec, nil
}

func encodePayload(rec *domain.ActivityRecord) (string, sql.NullString, error) {
	details, err := json.Marshal(rec.Details)
	if err != nil {
		return "", sql.NullString{}, fmt.Errorf("marshal details: %w", err)
	}
	if rec.SessionInfo == nil {
		return string(details), sql.NullString{}, nil
	}
	session, err := json.Marshal(rec.SessionInfo)
	if err != nil {
		return "", sql.NullString{}, fmt.Errorf("marshal session info: %w", err)
	}
	return string(details), sql.NullString{String: string(session), Valid: true}, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
