package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"strings"
	"sync"

	"github.com/CaioWing/Ledger/internal/domain"
	"github.com/CaioWing/Ledger/internal/repository/memory"
)

// --- Unavailable Activity Repository ---

// downRepo behaves like an unreachable store for writes and optionally reads.
type downRepo struct {
	*memory.ActivityRepo
	failReads bool
}

var errStoreDown = errors.New("store unreachable")

func (r *downRepo) InsertNext(context.Context, *domain.ActivityRecord, domain.SealFunc) error {
	return errStoreDown
}

func (r *downRepo) GetLatest(ctx context.Context) (*domain.ActivityRecord, error) {
	if r.failReads {
		return nil, errStoreDown
	}
	return r.ActivityRepo.GetLatest(ctx)
}

// --- Mock Monitor ---

type mockMonitor struct {
	mu            sync.Mutex
	succeeded     []string
	failed        []string
	verifications []bool
	findings      int
}

func (m *mockMonitor) AppendSucceeded(action string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.succeeded = append(m.succeeded, action)
}

func (m *mockMonitor) AppendFailed(action string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = append(m.failed, action)
}

func (m *mockMonitor) VerificationFinished(valid bool, findings int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifications = append(m.verifications, valid)
	m.findings += findings
}

// --- Mock File Store ---

type mockFileStore struct {
	mu      sync.RWMutex
	files   map[string][]byte
	failErr error
}

func newMockFileStore() *mockFileStore {
	return &mockFileStore{files: make(map[string][]byte)}
}

func (m *mockFileStore) Save(name string, reader io.Reader) (string, int64, error) {
	if m.failErr != nil {
		return "", 0, m.failErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", 0, err
	}
	path := "/mock/storage/" + name
	m.mu.Lock()
	m.files[path] = data
	m.mu.Unlock()
	return path, int64(len(data)), nil
}

func (m *mockFileStore) Open(path string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *mockFileStore) Latest(prefix string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best string
	for path := range m.files {
		if strings.HasPrefix(path, "/mock/storage/"+prefix) && path > best {
			best = path
		}
	}
	if best == "" {
		return "", fs.ErrNotExist
	}
	return best, nil
}

func (m *mockFileStore) count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}
