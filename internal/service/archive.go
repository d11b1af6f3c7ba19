package service

import (
	"bytes"
	"context"
	"time"

	"github.com/rs/zerolog"

	"docedit/internal/model"
	"docedit/internal/storage"
)

const historyLinkTTL = 15 * time.Minute

// archiver copies committed versions to object storage. A nil store turns
// every call into a no-op.
type archiver struct {
	store storage.Storage
	log   zerolog.Logger
}

func (a *archiver) enabled() bool { return a != nil && a.store != nil }

// put stores data as the archived copy of doc's current version. Errors are
// logged and swallowed.
func (a *archiver) put(ctx context.Context, doc *model.Document, data []byte) {
	if !a.enabled() {
		return
	}
	key := storage.HistoryKey(doc.Key, doc.Version, string(doc.FileType))
	_, err := a.store.Put(ctx, key, bytes.NewReader(data), storage.PutObjectOptions{
		Size:        int64(len(data)),
		ContentType: doc.FileType.ContentType(),
		Metadata: map[string]string{
			"document-id": doc.ID,
			"filename":    doc.Filename,
		},
	})
	if err != nil {
		a.log.Warn().Err(err).Str("key", doc.Key).Int64("version", doc.Version).Msg("archive_version_failed")
		return
	}
	a.log.Debug().Str("key", doc.Key).Int64("version", doc.Version).Msg("version_archived")
}

// drop removes every archived version of a document. Errors are logged.
func (a *archiver) drop(ctx context.Context, docKey string) {
	if !a.enabled() {
		return
	}
	n, err := a.store.DeletePrefix(ctx, storage.HistoryPrefix(docKey))
	if err != nil {
		a.log.Warn().Err(err).Str("key", docKey).Msg("archive_delete_failed")
		return
	}
	a.log.Debug().Str("key", docKey).Int("objects", n).Msg("archive_deleted")
}
