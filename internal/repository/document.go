package repository

import (
	"context"
	"errors"
	"time"

	"docedit/internal/model"
)

var (
	// ErrNotFound is returned when no document matches the lookup.
	ErrNotFound = errors.New("document not found")
	// ErrSaveInFlight is returned by ClaimSave when another save already holds the document.
	ErrSaveInFlight = errors.New("save already in flight")
	// ErrDuplicateKey is returned by Create when the id or key is taken.
	ErrDuplicateKey = errors.New("duplicate document key")
)

// DocumentRepository defines data access for document records.
// Persistence only, no business rules. Every method that
// mutates a record does so in a single atomic statement.
type DocumentRepository interface {
	// Create inserts a new document record and returns the stored row.
	Create(ctx context.Context, doc *model.Document) (*model.Document, error)

	// FindByID returns a document by its ID.
	FindByID(ctx context.Context, id string) (*model.Document, error)

	// FindByKey returns a document by its external correlation key.
	FindByKey(ctx context.Context, key string) (*model.Document, error)

	// List returns a page of documents owned by ownerID, newest first.
	List(ctx context.Context, ownerID string, pq PageQuery) (*PageResult[model.Document], error)

	// Update merges the non-nil fields of patch into the record.
	Update(ctx context.Context, id string, patch model.DocumentPatch) (*model.Document, error)

	// ClaimSave moves the record to saving unless it is already saving.
	ClaimSave(ctx context.Context, id string) (*model.Document, error)

	// CommitSave increments the version, records the new size and returns the
	// record to ready with no active editors.
	CommitSave(ctx context.Context, id string, size int64) (*model.Document, error)

	// ResetStaleSaves returns saving records last touched before the cutoff to ready.
	ResetStaleSaves(ctx context.Context, before time.Time) (int64, error)

	// Delete removes a document by ID. It returns nil if the row was deleted or did not exist.
	Delete(ctx context.Context, id string) error
}

// PageQuery holds limit/offset pagination parameters.
type PageQuery struct {
	Limit  int
	Offset int
}

// PageResult is a generic pagination result wrapper.
// T is typically a model type.
type PageResult[T any] struct {
	Items []T
	Total int
}
