package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"docedit/internal/callback"
	"docedit/internal/fetcher"
	"docedit/internal/filestore"
	"docedit/internal/metrics"
	"docedit/internal/model"
	"docedit/internal/repository"
	"docedit/internal/storage"
)

// ContentFetcher retrieves new document bytes from the document server.
type ContentFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// CallbackService applies document server notifications to stored documents.
type CallbackService interface {
	// Handle processes one callback. It returns ErrNotFound for unknown keys,
	// callback.ErrInvalidPayload for a save without url, ErrConflict when
	// another save holds the document and an error matching ErrSaveFailed when
	// fetching or committing the new version failed.
	Handle(ctx context.Context, p callback.Payload) (*model.Document, error)
}

// CallbackDeps wires a CallbackService. Archive and Metrics may be nil.
// Locks should be the table shared with the DocumentService; nil gets a
// private one.
type CallbackDeps struct {
	Repo    repository.DocumentRepository
	Files   *filestore.Layout
	Fetcher ContentFetcher
	Archive storage.Storage
	Metrics *metrics.SaveMetrics
	Locks   *KeyLocks
	Logger  zerolog.Logger
}

type callbackService struct {
	repo    repository.DocumentRepository
	files   *filestore.Layout
	fetch   ContentFetcher
	archive *archiver
	metrics *metrics.SaveMetrics
	locks   *KeyLocks
	log     zerolog.Logger
	tracer  trace.Tracer
}

// NewCallbackService constructs the save coordinator.
func NewCallbackService(d CallbackDeps) CallbackService {
	locks := d.Locks
	if locks == nil {
		locks = NewKeyLocks()
	}
	return &callbackService{
		repo:    d.Repo,
		files:   d.Files,
		fetch:   d.Fetcher,
		archive: &archiver{store: d.Archive, log: d.Logger},
		metrics: d.Metrics,
		locks:   locks,
		log:     d.Logger,
		tracer:  otel.Tracer("docedit/internal/service"),
	}
}

// saveRun is the working state of one decision while its effects execute.
type saveRun struct {
	doc     *model.Document
	data    []byte
	size    int64
	claimed bool
	started time.Time
	outcome string
}

func (s *callbackService) Handle(ctx context.Context, p callback.Payload) (*model.Document, error) {
	ev := callback.Parse(p)
	s.metrics.Event(ev.Kind())

	ctx, span := s.tracer.Start(ctx, "callback."+ev.Kind(), trace.WithAttributes(
		attribute.String("document.key", p.Key),
		attribute.Int("callback.status", p.Status),
	))
	defer span.End()

	log := s.log.With().Str("key", p.Key).Str("event", ev.Kind()).Int("status", p.Status).Logger()

	if _, err := s.repo.FindByKey(ctx, p.Key); err != nil {
		err = mapRepoErr(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn().Err(err).Msg("callback_rejected")
		return nil, err
	}
	if err := callback.Validate(ev); err != nil {
		span.SetStatus(codes.Error, err.Error())
		log.Warn().Err(err).Msg("callback_rejected")
		return nil, err
	}

	release, err := s.locks.acquire(ctx, p.Key, callback.IsSave(ev))
	if err != nil {
		if errors.Is(err, errKeyBusy) {
			s.metrics.Conflict()
			log.Warn().Msg("save_conflict")
			span.SetStatus(codes.Error, ErrConflict.Error())
			return nil, ErrConflict
		}
		return nil, err
	}
	defer release()

	// Reload under the lock; the record may have moved since the first read.
	doc, err := s.repo.FindByKey(ctx, p.Key)
	if err != nil {
		return nil, mapRepoErr(err)
	}

	dec := callback.Transition(callback.State{Status: doc.Status, Editors: doc.ActiveEditors}, ev)
	if dec.Reject != nil {
		s.metrics.Conflict()
		log.Warn().Err(dec.Reject).Msg("save_conflict")
		span.SetStatus(codes.Error, dec.Reject.Error())
		return nil, fmt.Errorf("%w: %v", ErrConflict, dec.Reject)
	}

	run := &saveRun{doc: doc}
	for _, eff := range dec.Effects {
		if err := s.apply(ctx, log, run, eff); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if !run.claimed {
				return nil, err
			}
			s.metrics.ObserveSave(run.outcome, time.Since(run.started))
			log.Error().Err(err).Str("outcome", run.outcome).Int64("version", run.doc.Version).Msg("save_failed")
			s.compensate(ctx, log, run, dec.OnFailure)
			return nil, err
		}
	}

	if run.claimed {
		s.metrics.ObserveSave(metrics.OutcomeCommitted, time.Since(run.started))
	}
	span.SetAttributes(attribute.Int64("document.version", run.doc.Version), attribute.String("document.status", string(run.doc.Status)))
	return run.doc, nil
}

func (s *callbackService) apply(ctx context.Context, log zerolog.Logger, run *saveRun, eff callback.Effect) error {
	switch e := eff.(type) {
	case callback.SetState:
		editors := e.Editors
		doc, err := s.repo.Update(ctx, run.doc.ID, model.DocumentPatch{Status: &e.Status, ActiveEditors: &editors})
		if err != nil {
			return fmt.Errorf("persist state: %w", mapRepoErr(err))
		}
		run.doc = doc
		log.Info().Str("state", string(doc.Status)).Strs("editors", doc.ActiveEditors).Msg("state_changed")

	case callback.ClaimSave:
		doc, err := s.repo.ClaimSave(ctx, run.doc.ID)
		if err != nil {
			if errors.Is(err, repository.ErrSaveInFlight) {
				s.metrics.Conflict()
				return fmt.Errorf("%w: %v", ErrConflict, err)
			}
			return fmt.Errorf("claim save: %w", mapRepoErr(err))
		}
		run.doc = doc
		run.claimed = true
		run.started = time.Now()
		log.Info().Int64("version", doc.Version).Msg("save_started")

	case callback.FetchContent:
		fctx, span := s.tracer.Start(ctx, "fetch_content")
		data, err := s.fetch.Fetch(fctx, e.URL)
		span.End()
		if err != nil {
			run.outcome = metrics.OutcomeFetchFailed
			return fmt.Errorf("%w: %w", ErrSaveFailed, err)
		}
		run.data = data

	case callback.ReplaceContent:
		_, span := s.tracer.Start(ctx, "replace_content")
		size, err := s.files.Replace(run.doc.StoragePath, run.data)
		span.End()
		if err != nil {
			run.outcome = metrics.OutcomeReplaceFailed
			return fmt.Errorf("%w: %w", ErrSaveFailed, err)
		}
		run.size = size

	case callback.CommitVersion:
		doc, err := s.repo.CommitSave(ctx, run.doc.ID, run.size)
		if err != nil {
			run.outcome = metrics.OutcomeCommitFailed
			if errors.Is(err, repository.ErrNotFound) {
				// Deleted mid-save; the replace recreated the file.
				if rmErr := s.files.Remove(run.doc.StoragePath); rmErr != nil {
					log.Error().Err(rmErr).Msg("orphan_remove_failed")
				}
				return fmt.Errorf("%w: commit version: %w", ErrSaveFailed, ErrNotFound)
			}
			// The new bytes are already in place; only the bookkeeping is stale.
			return fmt.Errorf("%w: commit version: %w", ErrSaveFailed, err)
		}
		run.doc = doc
		log.Info().Int64("version", doc.Version).Int64("size", doc.Size).Msg("save_committed")

	case callback.ArchiveVersion:
		s.archive.put(ctx, run.doc, run.data)

	case callback.Log:
		log.Info().Int64("version", run.doc.Version).Str("state", string(run.doc.Status)).Msg(e.Message)

	default:
		return fmt.Errorf("unknown effect %T", eff)
	}
	return nil
}

// compensate runs the failure effects on a context that outlives the request
// so a cancelled callback does not leave the document in saving.
func (s *callbackService) compensate(ctx context.Context, log zerolog.Logger, run *saveRun, effects []callback.Effect) {
	ctx = context.WithoutCancel(ctx)
	for _, eff := range effects {
		if err := s.apply(ctx, log, run, eff); err != nil {
			log.Error().Err(err).Msg("save_rollback_failed")
			return
		}
	}
}

// FailureReason is a short caller-safe description of a Handle error.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, fetcher.ErrFetchFailed):
		return "failed to fetch document"
	case errors.Is(err, filestore.ErrReplaceFailed):
		return "failed to store document"
	case errors.Is(err, ErrSaveFailed):
		return "failed to save document"
	case errors.Is(err, ErrConflict):
		return "save already in progress"
	case errors.Is(err, ErrNotFound):
		return "document not found"
	case errors.Is(err, callback.ErrInvalidPayload):
		return "invalid callback payload"
	}
	return "internal error"
}
