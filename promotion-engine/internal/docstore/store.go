// Package docstore is the per-prospect document store holding the prospect
// record and the five source documents produced by the calculation engines.
package docstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/intakecalc/platform/promotion-engine/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional status change loses a race
	// or the persisted record does not match the expected prior state.
	ErrConflict = errors.New("conflict")
)

type Store interface {
	GetDocument(ctx context.Context, kind models.DocumentKind, prospectID string) (json.RawMessage, error)
	PutDocument(ctx context.Context, kind models.DocumentKind, prospectID string, body json.RawMessage) error
	GetProspect(ctx context.Context, prospectID string) (models.Prospect, error)
	PutProspect(ctx context.Context, p models.Prospect) error
	// ClaimForPromotion atomically moves a prospect from client to promoting.
	// It returns false when the persisted record is not in client state or
	// already carries a client id.
	ClaimForPromotion(ctx context.Context, prospectID string) (bool, error)
	UpdateProspect(ctx context.Context, in ProspectUpdate) (models.Prospect, error)
	Ping(ctx context.Context) error
}

// ProspectUpdate changes status and, optionally, the linked client id and
// validation errors. ExpectedStatus, when set, makes the update conditional.
type ProspectUpdate struct {
	ProspectID       string
	Status           models.ProspectStatus
	ExpectedStatus   models.ProspectStatus
	ClientID         *string
	ValidationErrors []string
}
