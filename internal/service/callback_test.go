package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docedit/internal/callback"
	"docedit/internal/fetcher"
	"docedit/internal/filestore"
	"docedit/internal/logger"
	"docedit/internal/metrics"
	"docedit/internal/model"
	"docedit/internal/repository/memory"
	"docedit/internal/storage"
	storeMocks "docedit/internal/storage/mocks"
)

const docKey = "doc-key-1"

type saveHarness struct {
	repo  *memory.DocumentMemory
	files *filestore.Layout
	reg   *prometheus.Registry
	locks *KeyLocks
	svc   CallbackService
	doc   *model.Document
}

func newSaveHarness(t *testing.T, archive storage.Storage) *saveHarness {
	t.Helper()
	files := newFiles(t)
	repo := memory.NewDocumentMemory()
	reg := prometheus.NewRegistry()
	m, err := metrics.NewSaveMetrics(reg)
	require.NoError(t, err)

	path := files.PathFor(docKey, model.FileTypeDocx)
	require.NoError(t, os.WriteFile(path, []byte("version one"), 0o644))
	doc, err := repo.Create(context.Background(), &model.Document{
		ID:            "doc-1",
		Key:           docKey,
		Title:         "Report",
		Filename:      "report.docx",
		FileType:      model.FileTypeDocx,
		StoragePath:   path,
		Version:       1,
		Status:        model.StatusReady,
		ActiveEditors: []string{},
		OwnerID:       "owner-1",
		Size:          11,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	})
	require.NoError(t, err)

	locks := NewKeyLocks()
	svc := NewCallbackService(CallbackDeps{
		Repo:    repo,
		Files:   files,
		Fetcher: fetcher.New(5*time.Second, 1<<20),
		Archive: archive,
		Metrics: m,
		Locks:   locks,
		Logger:  logger.Nop(),
	})
	return &saveHarness{repo: repo, files: files, reg: reg, locks: locks, svc: svc, doc: doc}
}

func (h *saveHarness) current(t *testing.T) *model.Document {
	t.Helper()
	doc, err := h.repo.FindByKey(context.Background(), docKey)
	require.NoError(t, err)
	return doc
}

func (h *saveHarness) content(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(h.doc.StoragePath)
	require.NoError(t, err)
	return string(data)
}

func users(ids ...string) []callback.EditorRef {
	out := make([]callback.EditorRef, 0, len(ids))
	for _, id := range ids {
		out = append(out, callback.EditorRef{ID: id})
	}
	return out
}

// contentServer serves body with 200, or status with an error text when status is not 200.
func contentServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			http.Error(w, "boom", status)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCallbackService_EditFailRetry(t *testing.T) {
	ctx := context.Background()
	h := newSaveHarness(t, nil)

	doc, err := h.svc.Handle(ctx, callback.Payload{Key: docKey, Status: callback.StatusEditing, Users: users("u1")})
	require.NoError(t, err)
	assert.Equal(t, model.StatusEditing, doc.Status)
	assert.Equal(t, []string{"u1"}, doc.ActiveEditors)

	failing := contentServer(t, http.StatusInternalServerError, "")
	_, err = h.svc.Handle(ctx, callback.Payload{Key: docKey, Status: callback.StatusMustSave, URL: failing.URL, Users: users("u1")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSaveFailed)
	assert.ErrorIs(t, err, fetcher.ErrFetchFailed)
	assert.Equal(t, "failed to fetch document", FailureReason(err))

	cur := h.current(t)
	assert.Equal(t, model.StatusReady, cur.Status)
	assert.Empty(t, cur.ActiveEditors)
	assert.Equal(t, int64(1), cur.Version)
	assert.Equal(t, "version one", h.content(t))

	body := strings.Repeat("b", 500)
	ok := contentServer(t, http.StatusOK, body)
	doc, err = h.svc.Handle(ctx, callback.Payload{Key: docKey, Status: callback.StatusMustSave, URL: ok.URL})
	require.NoError(t, err)
	assert.Equal(t, int64(2), doc.Version)
	assert.Equal(t, int64(500), doc.Size)
	assert.Equal(t, model.StatusReady, doc.Status)
	assert.Empty(t, doc.ActiveEditors)
	assert.Equal(t, body, h.content(t))

	n, err := testutil.GatherAndCount(h.reg, "docedit_saves_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "fetch_failed and committed series")
}

func TestCallbackService_ConcurrentSaveConflicts(t *testing.T) {
	ctx := context.Background()
	h := newSaveHarness(t, nil)

	arrived := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(arrived) })
		<-unblock
		_, _ = w.Write([]byte("first writer"))
	}))
	defer srv.Close()

	type result struct {
		doc *model.Document
		err error
	}
	first := make(chan result, 1)
	go func() {
		doc, err := h.svc.Handle(ctx, callback.Payload{Key: docKey, Status: callback.StatusMustSave, URL: srv.URL})
		first <- result{doc, err}
	}()

	select {
	case <-arrived:
	case <-time.After(5 * time.Second):
		t.Fatal("first save never reached the document server")
	}

	_, err := h.svc.Handle(ctx, callback.Payload{Key: docKey, Status: callback.StatusMustSave, URL: srv.URL + "/second"})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, "save already in progress", FailureReason(err))
	assert.Equal(t, "version one", h.content(t))
	assert.Equal(t, model.StatusSaving, h.current(t).Status)

	close(unblock)
	res := <-first
	require.NoError(t, res.err)
	assert.Equal(t, int64(2), res.doc.Version)
	assert.Equal(t, "first writer", h.content(t))
}

func TestCallbackService_SaveWhilePersistedSaving(t *testing.T) {
	ctx := context.Background()
	h := newSaveHarness(t, nil)

	// Another instance holds the claim.
	_, err := h.repo.ClaimSave(ctx, h.doc.ID)
	require.NoError(t, err)

	srv := contentServer(t, http.StatusOK, "should not be written")
	_, err = h.svc.Handle(ctx, callback.Payload{Key: docKey, Status: callback.StatusMustSave, URL: srv.URL})
	assert.ErrorIs(t, err, ErrConflict)

	cur := h.current(t)
	assert.Equal(t, model.StatusSaving, cur.Status, "the other writer keeps its claim")
	assert.Equal(t, int64(1), cur.Version)
	assert.Equal(t, "version one", h.content(t))
}

func TestCallbackService_ResetEvents(t *testing.T) {
	statuses := []int{callback.StatusSaveError, callback.StatusEditorsIdle, callback.StatusSessionExpired}
	for _, status := range statuses {
		t.Run(fmt.Sprintf("status %d", status), func(t *testing.T) {
			ctx := context.Background()
			h := newSaveHarness(t, nil)
			_, err := h.svc.Handle(ctx, callback.Payload{Key: docKey, Status: callback.StatusEditing, Users: users("u1", "u2")})
			require.NoError(t, err)
			_, err = h.repo.ClaimSave(ctx, h.doc.ID)
			require.NoError(t, err)

			doc, err := h.svc.Handle(ctx, callback.Payload{Key: docKey, Status: status})
			require.NoError(t, err)
			assert.Equal(t, model.StatusReady, doc.Status)
			assert.Empty(t, doc.ActiveEditors)
			assert.Equal(t, int64(1), doc.Version)
		})
	}
}

func TestCallbackService_NoStateChange(t *testing.T) {
	ctx := context.Background()
	h := newSaveHarness(t, nil)
	_, err := h.svc.Handle(ctx, callback.Payload{Key: docKey, Status: callback.StatusEditing, Users: users("u1")})
	require.NoError(t, err)
	before := h.current(t)

	for _, status := range []int{callback.StatusReadyForSaving, 0, 5, 42} {
		doc, err := h.svc.Handle(ctx, callback.Payload{Key: docKey, Status: status})
		require.NoError(t, err)
		assert.Equal(t, before.Status, doc.Status)
		assert.Equal(t, before.ActiveEditors, doc.ActiveEditors)
	}

	doc, err := h.svc.Handle(ctx, callback.Payload{Key: docKey, Status: callback.StatusMustSave})
	require.NoError(t, err, "a save without url only logs")
	assert.Equal(t, int64(1), doc.Version)
}

func TestCallbackService_UnknownKey(t *testing.T) {
	ctx := context.Background()
	h := newSaveHarness(t, nil)
	srv := contentServer(t, http.StatusOK, "x")

	for _, status := range []int{callback.StatusEditing, callback.StatusMustSave, callback.StatusSaveError} {
		_, err := h.svc.Handle(ctx, callback.Payload{Key: "missing", Status: status, URL: srv.URL, Users: users("u1")})
		assert.ErrorIs(t, err, ErrNotFound)
	}
	cur := h.current(t)
	assert.Equal(t, model.StatusReady, cur.Status)
	assert.Equal(t, int64(1), cur.Version)
	assert.Equal(t, "version one", h.content(t))
}

func TestCallbackService_SaveWithoutURL(t *testing.T) {
	ctx := context.Background()
	h := newSaveHarness(t, nil)

	_, err := h.svc.Handle(ctx, callback.Payload{Key: "missing", Status: callback.StatusMustSave})
	assert.ErrorIs(t, err, ErrNotFound, "unknown key wins over a missing url")

	_, err = h.svc.Handle(ctx, callback.Payload{Key: docKey, Status: callback.StatusMustSave})
	assert.ErrorIs(t, err, callback.ErrInvalidPayload)
	assert.Equal(t, "invalid callback payload", FailureReason(err))

	cur := h.current(t)
	assert.Equal(t, model.StatusReady, cur.Status)
	assert.Equal(t, int64(1), cur.Version)
}

func TestCallbackService_VersionCountsSaves(t *testing.T) {
	ctx := context.Background()
	h := newSaveHarness(t, nil)

	const saves = 5
	for i := range saves {
		body := strings.Repeat("v", i+1)
		srv := contentServer(t, http.StatusOK, body)
		doc, err := h.svc.Handle(ctx, callback.Payload{Key: docKey, Status: callback.StatusMustSave, URL: srv.URL})
		require.NoError(t, err)
		assert.Equal(t, int64(i+2), doc.Version)
		assert.Equal(t, body, h.content(t))
	}
	assert.Equal(t, int64(1+saves), h.current(t).Version)
}

func TestCallbackService_ReplaceFailure(t *testing.T) {
	ctx := context.Background()
	h := newSaveHarness(t, nil)

	// A target whose directory does not exist cannot be staged.
	ghost := filepath.Join(h.files.Root(), "gone", "ghost.docx")
	_, err := h.repo.Create(ctx, &model.Document{
		ID: "doc-2", Key: "ghost", FileType: model.FileTypeDocx, StoragePath: ghost,
		Version: 1, Status: model.StatusReady, ActiveEditors: []string{}, OwnerID: "owner-1",
	})
	require.NoError(t, err)

	srv := contentServer(t, http.StatusOK, "new bytes")
	_, err = h.svc.Handle(ctx, callback.Payload{Key: "ghost", Status: callback.StatusMustSave, URL: srv.URL})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSaveFailed)
	assert.ErrorIs(t, err, filestore.ErrReplaceFailed)
	assert.Equal(t, "failed to store document", FailureReason(err))

	doc, err := h.repo.FindByKey(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Version)
	assert.Equal(t, model.StatusReady, doc.Status)
}

func TestCallbackService_DeletedDuringSave(t *testing.T) {
	ctx := context.Background()
	h := newSaveHarness(t, nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, h.repo.Delete(context.Background(), h.doc.ID))
		assert.NoError(t, os.Remove(h.doc.StoragePath))
		_, _ = w.Write([]byte("late bytes"))
	}))
	defer srv.Close()

	_, err := h.svc.Handle(ctx, callback.Payload{Key: docKey, Status: callback.StatusMustSave, URL: srv.URL})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSaveFailed)
	assert.ErrorIs(t, err, ErrNotFound)

	_, statErr := os.Stat(h.doc.StoragePath)
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

// stallingDelete holds Delete until resume is closed.
type stallingDelete struct {
	*memory.DocumentMemory
	entered chan struct{}
	resume  chan struct{}
}

func (r *stallingDelete) Delete(ctx context.Context, id string) error {
	close(r.entered)
	<-r.resume
	return r.DocumentMemory.Delete(ctx, id)
}

func TestCallbackService_SaveWaitsForDelete(t *testing.T) {
	ctx := context.Background()
	h := newSaveHarness(t, nil)
	repo := &stallingDelete{DocumentMemory: h.repo, entered: make(chan struct{}), resume: make(chan struct{})}
	docs := NewDocumentService(h.files, repo, nil, 0, logger.Nop(), h.locks)

	deleted := make(chan error, 1)
	go func() { deleted <- docs.Delete(ctx, "owner-1", h.doc.ID) }()

	select {
	case <-repo.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("delete never reached the repository")
	}

	// The record still exists, so the save gets past its first lookup and
	// queues behind the delete.
	srv := contentServer(t, http.StatusOK, "late bytes")
	saved := make(chan error, 1)
	go func() {
		_, err := h.svc.Handle(ctx, callback.Payload{Key: docKey, Status: callback.StatusMustSave, URL: srv.URL})
		saved <- err
	}()
	time.Sleep(50 * time.Millisecond)
	close(repo.resume)

	require.NoError(t, <-deleted)
	assert.ErrorIs(t, <-saved, ErrNotFound)

	_, err := h.repo.FindByKey(ctx, docKey)
	assert.Error(t, err)
	_, statErr := os.Stat(h.doc.StoragePath)
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "file outlived its deleted record")
}

func TestCallbackService_CancelledSaveIsReleased(t *testing.T) {
	h := newSaveHarness(t, nil)

	arrived := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(arrived)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-arrived
		cancel()
	}()

	_, err := h.svc.Handle(ctx, callback.Payload{Key: docKey, Status: callback.StatusMustSave, URL: srv.URL})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSaveFailed)

	cur := h.current(t)
	assert.Equal(t, model.StatusReady, cur.Status)
	assert.Equal(t, int64(1), cur.Version)
	assert.Equal(t, "version one", h.content(t))
}

func TestCallbackService_ArchivesCommittedVersion(t *testing.T) {
	ctx := context.Background()
	mStore := new(storeMocks.MockStorage)
	mStore.On("Put", mock.Anything, "history/"+docKey+"/2.docx", mock.Anything, mock.MatchedBy(func(opt storage.PutObjectOptions) bool {
		return opt.Size == 3 && opt.Metadata["document-id"] == "doc-1"
	})).Return(storage.ObjectInfo{}, nil).Once()
	mStore.On("Put", mock.Anything, "history/"+docKey+"/3.docx", mock.Anything, mock.Anything).
		Return(storage.ObjectInfo{}, errors.New("bucket unavailable")).Once()

	h := newSaveHarness(t, mStore)

	srv := contentServer(t, http.StatusOK, "two")
	doc, err := h.svc.Handle(ctx, callback.Payload{Key: docKey, Status: callback.StatusMustSave, URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, int64(2), doc.Version)

	doc, err = h.svc.Handle(ctx, callback.Payload{Key: docKey, Status: callback.StatusMustSave, URL: srv.URL})
	require.NoError(t, err, "archive failures do not fail the save")
	assert.Equal(t, int64(3), doc.Version)

	mStore.AssertExpectations(t)
}
