package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"docedit/internal/model"
	"docedit/internal/repository"
)

// DocumentMemory keeps document records in process memory. Each method holds
// the store mutex for its whole read-modify-write, which gives the same
// atomicity as the single-statement SQL backend.
type DocumentMemory struct {
	mu    sync.RWMutex
	byID  map[string]*model.Document
	byKey map[string]string
	now   func() time.Time
}

// NewDocumentMemory creates an empty in-memory repository.
func NewDocumentMemory() *DocumentMemory {
	return &DocumentMemory{
		byID:  make(map[string]*model.Document),
		byKey: make(map[string]string),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

var _ repository.DocumentRepository = (*DocumentMemory)(nil)

func clone(d *model.Document) *model.Document {
	out := *d
	out.ActiveEditors = append([]string{}, d.ActiveEditors...)
	return &out
}

func (m *DocumentMemory) Create(_ context.Context, doc *model.Document) (*model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[doc.ID]; ok {
		return nil, repository.ErrDuplicateKey
	}
	if _, ok := m.byKey[doc.Key]; ok {
		return nil, repository.ErrDuplicateKey
	}
	stored := clone(doc)
	m.byID[doc.ID] = stored
	m.byKey[doc.Key] = doc.ID
	return clone(stored), nil
}

func (m *DocumentMemory) FindByID(_ context.Context, id string) (*model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clone(d), nil
}

func (m *DocumentMemory) FindByKey(_ context.Context, key string) (*model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byKey[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clone(m.byID[id]), nil
}

func (m *DocumentMemory) List(_ context.Context, ownerID string, pq repository.PageQuery) (*repository.PageResult[model.Document], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	owned := make([]model.Document, 0)
	for _, d := range m.byID {
		if d.OwnerID == ownerID {
			owned = append(owned, *clone(d))
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		if owned[i].UpdatedAt.Equal(owned[j].UpdatedAt) {
			return owned[i].ID > owned[j].ID
		}
		return owned[i].UpdatedAt.After(owned[j].UpdatedAt)
	})

	total := len(owned)
	start := min(max(pq.Offset, 0), total)
	end := total
	if pq.Limit > 0 {
		end = min(start+pq.Limit, total)
	}
	return &repository.PageResult[model.Document]{Items: owned[start:end], Total: total}, nil
}

func (m *DocumentMemory) Update(_ context.Context, id string, patch model.DocumentPatch) (*model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !patch.Empty() {
		patch.Apply(d)
		if d.ActiveEditors == nil {
			d.ActiveEditors = []string{}
		}
		d.UpdatedAt = m.now()
	}
	return clone(d), nil
}

func (m *DocumentMemory) ClaimSave(_ context.Context, id string) (*model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if d.Status == model.StatusSaving {
		return nil, repository.ErrSaveInFlight
	}
	d.Status = model.StatusSaving
	d.UpdatedAt = m.now()
	return clone(d), nil
}

func (m *DocumentMemory) CommitSave(_ context.Context, id string, size int64) (*model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	d.Version++
	d.Status = model.StatusReady
	d.ActiveEditors = []string{}
	d.Size = size
	d.UpdatedAt = m.now()
	return clone(d), nil
}

func (m *DocumentMemory) ResetStaleSaves(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, d := range m.byID {
		if d.Status == model.StatusSaving && d.UpdatedAt.Before(before) {
			d.Status = model.StatusReady
			d.UpdatedAt = m.now()
			n++
		}
	}
	return n, nil
}

func (m *DocumentMemory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.byID[id]; ok {
		delete(m.byKey, d.Key)
		delete(m.byID, id)
	}
	return nil
}
