package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"docedit/internal/filestore"
	"docedit/internal/model"
	"docedit/internal/repository"
	"docedit/internal/storage"
)

// DocumentListResult is the service-level DTO for paginated documents.
type DocumentListResult struct {
	Items []model.Document `json:"data"`
	Total int              `json:"total"`
}

// Download is an open committed file ready to be streamed.
type Download struct {
	Document *model.Document
	Body     io.ReadCloser
	Size     int64
}

// DocumentService defines the use cases for handling documents.
type DocumentService interface {
	// Upload stores the first version on disk and creates the record, removing
	// the file again if the record cannot be saved.
	Upload(ctx context.Context, owner model.User, r io.Reader, originalFilename, title string) (*model.Document, error)

	// List returns the owner's documents using limit/offset and a total count.
	List(ctx context.Context, ownerID string, limit, offset int) (*DocumentListResult, error)

	// Get returns a single document owned by ownerID.
	Get(ctx context.Context, ownerID, id string) (*model.Document, error)

	// GetByKey returns a single document by its editor key.
	GetByKey(ctx context.Context, key string) (*model.Document, error)

	// Open returns the committed bytes of a document for download.
	Open(ctx context.Context, key string) (*Download, error)

	// HistoryURL returns a short-lived link to an archived version.
	HistoryURL(ctx context.Context, key string, version int64) (string, error)

	// Delete removes a document owned by ownerID together with its file and archive.
	Delete(ctx context.Context, ownerID, id string) error
}

// documentService is a concrete implementation of DocumentService.
type documentService struct {
	files    *filestore.Layout
	repo     repository.DocumentRepository
	archive  *archiver
	locks    *KeyLocks
	maxBytes int64
	log      zerolog.Logger
	now      func() time.Time
}

// NewDocumentService constructs a new DocumentService. archive may be nil.
// locks is the per-key table shared with the CallbackService; nil gets a
// private one.
func NewDocumentService(files *filestore.Layout, repo repository.DocumentRepository, archive storage.Storage, maxBytes int64, log zerolog.Logger, locks *KeyLocks) DocumentService {
	if locks == nil {
		locks = NewKeyLocks()
	}
	return &documentService{
		files:    files,
		repo:     repo,
		archive:  &archiver{store: archive, log: log},
		locks:    locks,
		maxBytes: maxBytes,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func mapRepoErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *documentService) Upload(ctx context.Context, owner model.User, r io.Reader, originalFilename, title string) (*model.Document, error) {
	if r == nil {
		return nil, ErrReaderNil
	}
	ft, ok := model.ParseFileType(originalFilename)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, filepath.Ext(originalFilename))
	}
	if title = strings.TrimSpace(title); title == "" {
		title = strings.TrimSuffix(filepath.Base(originalFilename), filepath.Ext(originalFilename))
	}

	key := uuid.NewString()
	path := s.files.PathFor(key, ft)
	size, err := s.files.WriteNew(path, r, s.maxBytes)
	if err != nil {
		if errors.Is(err, filestore.ErrTooLarge) {
			return nil, ErrTooLarge
		}
		return nil, fmt.Errorf("write file: %w", err)
	}

	now := s.now()
	doc := &model.Document{
		ID:            uuid.NewString(),
		Key:           key,
		Title:         title,
		Filename:      filepath.Base(originalFilename),
		FileType:      ft,
		StoragePath:   path,
		Version:       1,
		Status:        model.StatusReady,
		ActiveEditors: []string{},
		OwnerID:       owner.ID,
		Size:          size,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	stored, err := s.repo.Create(ctx, doc)
	if err != nil {
		// Rollback: remove the file written above
		if delErr := s.files.Remove(path); delErr != nil {
			return nil, fmt.Errorf("db save failed: %v; rollback delete failed: %v", err, delErr)
		}
		return nil, fmt.Errorf("db save failed: %w", err)
	}

	if s.archive.enabled() {
		if data, err := s.files.ReadFile(path); err == nil {
			s.archive.put(ctx, stored, data)
		}
	}
	s.log.Info().Str("id", stored.ID).Str("key", stored.Key).Int64("size", stored.Size).Msg("document_uploaded")
	return stored, nil
}

// List returns paginated documents without exposing repository types.
func (s *documentService) List(ctx context.Context, ownerID string, limit, offset int) (*DocumentListResult, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	res, err := s.repo.List(ctx, ownerID, repository.PageQuery{Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}
	return &DocumentListResult{Items: res.Items, Total: res.Total}, nil
}

// Get returns a document by ID. Other owners get ErrAccessDenied.
func (s *documentService) Get(ctx context.Context, ownerID, id string) (*model.Document, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	doc, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	if doc.OwnerID != ownerID {
		return nil, ErrAccessDenied
	}
	return doc, nil
}

// GetByKey returns a document by editor key.
func (s *documentService) GetByKey(ctx context.Context, key string) (*model.Document, error) {
	if key == "" {
		return nil, ErrIDRequired
	}
	doc, err := s.repo.FindByKey(ctx, key)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return doc, nil
}

// Open resolves the key and opens the committed file. A record whose file is
// gone reports ErrNotFound.
func (s *documentService) Open(ctx context.Context, key string) (*Download, error) {
	doc, err := s.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	f, size, err := s.files.Open(doc.StoragePath)
	if err != nil {
		if errors.Is(err, filestore.ErrNotFound) {
			return nil, fmt.Errorf("%w: file missing", ErrNotFound)
		}
		return nil, err
	}
	return &Download{Document: doc, Body: f, Size: size}, nil
}

// HistoryURL presigns the archived copy of one version.
func (s *documentService) HistoryURL(ctx context.Context, key string, version int64) (string, error) {
	if !s.archive.enabled() {
		return "", ErrArchiveDisabled
	}
	doc, err := s.GetByKey(ctx, key)
	if err != nil {
		return "", err
	}
	if version < 1 || version > doc.Version {
		return "", fmt.Errorf("%w: version %d", ErrNotFound, version)
	}
	objKey := storage.HistoryKey(doc.Key, version, string(doc.FileType))
	if _, err := s.archive.store.Stat(ctx, objKey); err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return "", fmt.Errorf("%w: version %d not archived", ErrNotFound, version)
		}
		return "", fmt.Errorf("stat archive: %w", err)
	}
	return s.archive.store.PresignGet(ctx, objKey, historyLinkTTL)
}

// Delete removes the record, then the committed file, then the archive. It
// holds the document's key lock so no save can replace the file in between.
func (s *documentService) Delete(ctx context.Context, ownerID, id string) error {
	if id == "" {
		return ErrIDRequired
	}
	doc, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return mapRepoErr(err)
	}
	if doc.OwnerID != ownerID {
		return ErrAccessDenied
	}

	release, err := s.locks.acquire(ctx, doc.Key, false)
	if err != nil {
		return err
	}
	defer release()

	// Row first: a save on another instance then fails its commit and removes
	// whatever it wrote.
	if err := s.repo.Delete(ctx, id); err != nil {
		return mapRepoErr(err)
	}
	if err := s.files.Remove(doc.StoragePath); err != nil {
		s.log.Error().Err(err).Str("id", doc.ID).Str("path", doc.StoragePath).Msg("document_file_remove_failed")
	}
	s.archive.drop(ctx, doc.Key)
	s.log.Info().Str("id", doc.ID).Str("key", doc.Key).Msg("document_deleted")
	return nil
}
