package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"fileconvert/models"
)

var (
	ErrNotFound      = errors.New("conversion record not found")
	ErrAlreadyExists = errors.New("conversion record already exists")
)

// RecordStore persists conversion records. Transition is a single
// conditional update: it commits only when the stored status equals from.
type RecordStore interface {
	Create(ctx context.Context, rec *models.ConversionRecord) error
	Get(ctx context.Context, id string) (*models.ConversionRecord, error)
	Transition(ctx context.Context, id string, from, to models.Status, upd models.RecordUpdate) (bool, error)
	ListStale(ctx context.Context, status models.Status, olderThan time.Time, limit int) ([]*models.ConversionRecord, error)
	Delete(ctx context.Context, id string) error
}

func checkTransition(from, to models.Status) error {
	if !models.CanTransition(from, to) {
		return fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	return nil
}

type MemoryStore struct {
	// Now stamps UpdatedAt. Defaults to time.Now.
	Now func() time.Time

	mu      sync.Mutex
	records map[string]*models.ConversionRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*models.ConversionRecord)}
}

func (m *MemoryStore) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *MemoryStore) Create(_ context.Context, rec *models.ConversionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.ConversionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) Transition(_ context.Context, id string, from, to models.Status, upd models.RecordUpdate) (bool, error) {
	if err := checkTransition(from, to); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok || rec.Status != from {
		return false, nil
	}
	rec.Status = to
	rec.UpdatedAt = m.now()
	upd.Apply(rec)
	return true, nil
}

func (m *MemoryStore) ListStale(_ context.Context, status models.Status, olderThan time.Time, limit int) ([]*models.ConversionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ConversionRecord
	for _, rec := range m.records {
		if rec.Status == status && rec.UpdatedAt.Before(olderThan) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return ErrNotFound
	}
	delete(m.records, id)
	return nil
}
