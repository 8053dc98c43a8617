package docstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/intakecalc/platform/promotion-engine/internal/models"
)

type docKey struct {
	kind       models.DocumentKind
	prospectID string
}

// MemoryStore provides an in-memory implementation useful for tests and
// local runs without a database file.
type MemoryStore struct {
	mu        sync.RWMutex
	prospects map[string]models.Prospect
	documents map[docKey]json.RawMessage

	// ReadErr, when set, is returned by GetDocument for the given kind.
	ReadErr map[models.DocumentKind]error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		prospects: map[string]models.Prospect{},
		documents: map[docKey]json.RawMessage{},
		ReadErr:   map[models.DocumentKind]error{},
	}
}

func (m *MemoryStore) GetDocument(ctx context.Context, kind models.DocumentKind, prospectID string) (json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.ReadErr[kind]; err != nil {
		return nil, err
	}
	body, ok := m.documents[docKey{kind, prospectID}]
	if !ok {
		return nil, ErrNotFound
	}
	return append(json.RawMessage(nil), body...), nil
}

func (m *MemoryStore) PutDocument(ctx context.Context, kind models.DocumentKind, prospectID string, body json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[docKey{kind, prospectID}] = append(json.RawMessage(nil), body...)
	return nil
}

func (m *MemoryStore) GetProspect(ctx context.Context, prospectID string) (models.Prospect, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prospects[prospectID]
	if !ok {
		return models.Prospect{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryStore) PutProspect(ctx context.Context, p models.Prospect) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prospects[p.ProspectID] = p
	return nil
}

func (m *MemoryStore) ClaimForPromotion(ctx context.Context, prospectID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prospects[prospectID]
	if !ok {
		return false, ErrNotFound
	}
	if p.Status != models.ProspectStatusClient || p.ClientID != "" {
		return false, nil
	}
	p.Status = models.ProspectStatusPromoting
	p.UpdatedAt = time.Now().UTC()
	m.prospects[prospectID] = p
	return true, nil
}

func (m *MemoryStore) UpdateProspect(ctx context.Context, in ProspectUpdate) (models.Prospect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prospects[in.ProspectID]
	if !ok {
		return models.Prospect{}, ErrNotFound
	}
	if in.ExpectedStatus != "" && p.Status != in.ExpectedStatus {
		return models.Prospect{}, ErrConflict
	}
	p.Status = in.Status
	if in.ClientID != nil {
		p.ClientID = *in.ClientID
	}
	p.ValidationErrors = append([]string(nil), in.ValidationErrors...)
	p.UpdatedAt = time.Now().UTC()
	m.prospects[in.ProspectID] = p
	return p, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
