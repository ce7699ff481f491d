package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CaioWing/Ledger/internal/domain"
)

// activityLockKey serialises writers of the chain across every connection.
const activityLockKey int64 = 0x4c454447

const streamBatchSize = 500

const activityColumns = `id, sequence_number, actor_id, action, resource, resource_id,
	details, session_info, created_at, content_hash, previous_hash, signature`

type ActivityRepo struct {
	pool *pgxpool.Pool
}

func NewActivityRepo(pool *pgxpool.Pool) *ActivityRepo {
	return &ActivityRepo{pool: pool}
}

func (r *ActivityRepo) InsertNext(ctx context.Context, rec *domain.ActivityRecord, seal domain.SealFunc) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin activity tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, activityLockKey); err != nil {
		return classify("lock activity chain", err)
	}

	next, prev := int64(1), domain.GenesisHash
	var (
		lastSeq  int64
		lastHash string
		lastAt   time.Time
		after    time.Time
	)
	err = tx.QueryRow(ctx, `
		SELECT sequence_number, content_hash, created_at FROM activity_logs
		ORDER BY sequence_number DESC LIMIT 1
	`).Scan(&lastSeq, &lastHash, &lastAt)
	switch {
	case err == nil:
		next, prev, after = lastSeq+1, lastHash, lastAt
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return classify("read latest activity", err)
	}

	rec.SequenceNumber = next
	rec.PreviousHash = prev
	if seal != nil {
		if err := seal(rec, after); err != nil {
			return err
		}
	}

	detailsJSON, sessionJSON, err := encodePayload(rec)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO activity_logs (`+activityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, rec.ID, rec.SequenceNumber, rec.ActorID, rec.Action, rec.Resource, rec.ResourceID,
		detailsJSON, sessionJSON, rec.CreatedAt, rec.ContentHash, rec.PreviousHash, rec.Signature)
	if err != nil {
		return classify("insert activity", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classify("commit activity", err)
	}
	return nil
}

func (r *ActivityRepo) GetLatest(ctx context.Context) (*domain.ActivityRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+activityColumns+` FROM activity_logs
		ORDER BY sequence_number DESC LIMIT 1
	`)
	rec, err := scanActivity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest activity: %w", err)
	}
	return rec, nil
}

func (r *ActivityRepo) GetBySequence(ctx context.Context, seq int64) (*domain.ActivityRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+activityColumns+` FROM activity_logs WHERE sequence_number = $1
	`, seq)
	rec, err := scanActivity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get activity: %w", err)
	}
	return rec, nil
}

// StreamRange pages through the range by sequence number. Each page is read
// fully before fn runs so no connection is held while the caller works.
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
	rows, err := r.pool.Query(ctx, `
		SELECT `+activityColumns+` FROM activity_logs
		WHERE sequence_number >= $1 AND ($2 = 0 OR sequence_number <= $2)
		ORDER BY sequence_number ASC
		LIMIT $3
	`, from, end, streamBatchSize)
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
	argIdx := 1

	if f.ActorID != nil {
		where += fmt.Sprintf(" AND actor_id = $%d", argIdx)
		args = append(args, *f.ActorID)
		argIdx++
	}
	if f.Action != nil {
		where += fmt.Sprintf(" AND action = $%d", argIdx)
		args = append(args, *f.Action)
		argIdx++
	}
	if f.Resource != nil {
		where += fmt.Sprintf(" AND resource = $%d", argIdx)
		args = append(args, *f.Resource)
		argIdx++
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM activity_logs "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count activity: %w", err)
	}

	orderDir := "DESC"
	if f.SortOrder == "asc" {
		orderDir = "ASC"
	}

	offset := (f.Page - 1) * f.PerPage
	query := fmt.Sprintf(`
		SELECT %s FROM activity_logs %s
		ORDER BY sequence_number %s
		LIMIT $%d OFFSET $%d
	`, activityColumns, where, orderDir, argIdx, argIdx+1)
	args = append(args, f.PerPage, offset)

	rows, err := r.pool.Query(ctx, query, args...)
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

func scanActivity(row pgx.Row) (*domain.ActivityRecord, error) {
	rec := &domain.ActivityRecord{}
	var detailsJSON, sessionJSON []byte
	err := row.Scan(
		&rec.ID, &rec.SequenceNumber, &rec.ActorID, &rec.Action, &rec.Resource, &rec.ResourceID,
		&detailsJSON, &sessionJSON, &rec.CreatedAt, &rec.ContentHash, &rec.PreviousHash, &rec.Signature,
	)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	if err := decodePayload(rec, detailsJSON, sessionJSON); err != nil {
		return nil, err
	}
	return rec, nil
}

func encodePayload(rec *domain.ActivityRecord) ([]byte, []byte, error) {
	detailsJSON, err := json.Marshal(rec.Details)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal details: %w", err)
	}
	if rec.SessionInfo == nil {
		return detailsJSON, nil, nil
	}
	sessionJSON, err := json.Marshal(rec.SessionInfo)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal session info: %w", err)
	}
	return detailsJSON, sessionJSON, nil
}

func decodePayload(rec *domain.ActivityRecord, detailsJSON, sessionJSON []byte) error {
	if err := json.Unmarshal(detailsJSON, &rec.Details); err != nil {
		return fmt.Errorf("unmarshal details: %w", err)
	}
	if sessionJSON == nil {
		return nil
	}
	rec.SessionInfo = &domain.SessionInfo{}
	if err := json.Unmarshal(sessionJSON, rec.SessionInfo); err != nil {
		return fmt.Errorf("unmarshal session info: %w", err)
	}
	return nil
}

func classify(op string, err error) error {
	if isSequenceConflict(err) {
		return fmt.Errorf("%s: %w", op, domain.ErrSequenceConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}
