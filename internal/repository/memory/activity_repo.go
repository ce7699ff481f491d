// Package memory implements the activity repository as an ordered in-memory
// list. It backs tests and single-process demos.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/CaioWing/Ledger/internal/domain"
)

type ActivityRepo struct {
	mu      sync.RWMutex
	records []*domain.ActivityRecord
}

func NewActivityRepo() *ActivityRepo {
	return &ActivityRepo{}
}

func (r *ActivityRepo) InsertNext(_ context.Context, rec *domain.ActivityRecord, seal domain.SealFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next, prev := int64(1), domain.GenesisHash
	var after time.Time
	if n := len(r.records); n > 0 {
		last := r.records[n-1]
		next, prev, after = last.SequenceNumber+1, last.ContentHash, last.CreatedAt
	}
	rec.SequenceNumber = next
	rec.PreviousHash = prev

	if seal != nil {
		if err := seal(rec, after); err != nil {
			return err
		}
	}
	if rec.SequenceNumber != next || rec.PreviousHash != prev {
		return domain.ErrSequenceConflict
	}

	r.records = append(r.records, cloneRecord(rec))
	return nil
}

func (r *ActivityRepo) GetLatest(_ context.Context) (*domain.ActivityRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.records) == 0 {
		return nil, nil
	}
	return cloneRecord(r.records[len(r.records)-1]), nil
}

func (r *ActivityRepo) StreamRange(ctx context.Context, start, end int64, fn func(*domain.ActivityRecord) error) error {
	r.mu.RLock()
	var batch []*domain.ActivityRecord
	for _, rec := range r.records {
		if rec.SequenceNumber < start || (end > 0 && rec.SequenceNumber > end) {
			continue
		}
		batch = append(batch, cloneRecord(rec))
	}
	r.mu.RUnlock()

	for _, rec := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (r *ActivityRepo) GetBySequence(_ context.Context, seq int64) (*domain.ActivityRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i, ok := r.indexOf(seq); ok {
		return cloneRecord(r.records[i]), nil
	}
	return nil, domain.ErrNotFound
}

func (r *ActivityRepo) List(_ context.Context, f domain.ActivityFilter) ([]*domain.ActivityRecord, int, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 || f.PerPage > 100 {
		f.PerPage = 20
	}

	r.mu.RLock()
	var matched []*domain.ActivityRecord
	for _, rec := range r.records {
		if f.ActorID != nil && (rec.ActorID == nil || *rec.ActorID != *f.ActorID) {
			continue
		}
		if f.Action != nil && rec.Action != *f.Action {
			continue
		}
		if f.Resource != nil && rec.Resource != *f.Resource {
			continue
		}
		matched = append(matched, cloneRecord(rec))
	}
	r.mu.RUnlock()

	if f.SortOrder != "asc" {
		sort.Slice(matched, func(i, j int) bool {
			return matched[i].SequenceNumber > matched[j].SequenceNumber
		})
	}

	total := len(matched)
	from := (f.Page - 1) * f.PerPage
	if from > total {
		from = total
	}
	to := from + f.PerPage
	if to > total {
		to = total
	}

	page := matched[from:to]
	if page == nil {
		page = []*domain.ActivityRecord{}
	}
	return page, total, nil
}

// Len returns the number of stored records.
func (r *ActivityRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Tamper edits a stored record in place, bypassing the ledger. It exists to
// simulate out-of-band modification of the store.
func (r *ActivityRepo) Tamper(seq int64, edit func(rec *domain.ActivityRecord)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.indexOf(seq)
	if !ok {
		return domain.ErrNotFound
	}
	edit(r.records[i])
	return nil
}

// Remove deletes a stored record, bypassing the ledger. It exists to simulate
// out-of-band deletion.
func (r *ActivityRepo) Remove(seq int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.indexOf(seq)
	if !ok {
		return domain.ErrNotFound
	}
	r.records = append(r.records[:i], r.records[i+1:]...)
	return nil
}

func (r *ActivityRepo) indexOf(seq int64) (int, bool) {
	i := sort.Search(len(r.records), func(i int) bool {
		return r.records[i].SequenceNumber >= seq
	})
	if i < len(r.records) && r.records[i].SequenceNumber == seq {
		return i, true
	}
	return 0, false
}

func cloneRecord(rec *domain.ActivityRecord) *domain.ActivityRecord {
	out := *rec
	if rec.ActorID != nil {
		v := *rec.ActorID
		out.ActorID = &v
	}
	if rec.ResourceID != nil {
		v := *rec.ResourceID
		out.ResourceID = &v
	}
	out.Details = rec.Details.Clone()
	out.SessionInfo = rec.SessionInfo.Clone()
	return &out
}
