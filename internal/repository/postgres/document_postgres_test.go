package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"docedit/internal/model"
	"docedit/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var columns = []string{"id", "key", "title", "filename", "file_type", "storage_path", "version", "status", "active_editors", "owner_id", "size", "created_at", "updated_at"}

func documentRow(id, status string, version int64, editors string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(columns).AddRow(
		id, "key-"+id, "Report", "report.docx", "docx", "/data/key-"+id+".docx",
		version, status, []byte(editors), "owner-1", int64(500), now, now,
	)
}

func newRepo(t *testing.T) (*DocumentPostgres, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewDocumentPostgres(db), mock
}

func TestDocumentPostgres_Create(t *testing.T) {
	repo, mock := newRepo(t)
	ctx := context.Background()

	now := time.Now().UTC()
	doc := &model.Document{
		ID:          "doc-1",
		Key:         "key-doc-1",
		Title:       "Report",
		Filename:    "report.docx",
		FileType:    model.FileTypeDocx,
		StoragePath: "/data/key-doc-1.docx",
		Version:     1,
		Status:      model.StatusReady,
		OwnerID:     "owner-1",
		Size:        500,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	t.Run("success", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO documents").
			WithArgs(doc.ID, doc.Key, doc.Title, doc.Filename, "docx", doc.StoragePath, int64(1), "ready",
				sqlmock.AnyArg(), doc.OwnerID, doc.Size, doc.CreatedAt, doc.UpdatedAt).
			WillReturnRows(documentRow("doc-1", "ready", 1, "{}"))

		result, err := repo.Create(ctx, doc)

		require.NoError(t, err)
		assert.Equal(t, "doc-1", result.ID)
		assert.Equal(t, model.FileTypeDocx, result.FileType)
		assert.Empty(t, result.ActiveEditors)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate key", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO documents").
			WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})

		result, err := repo.Create(ctx, doc)

		assert.ErrorIs(t, err, repository.ErrDuplicateKey)
		assert.Nil(t, result)
	})

	t.Run("other driver error", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO documents").
			WillReturnError(errors.New("ERROR: duplicate key value violates unique constraint (SQLSTATE 23505)"))

		result, err := repo.Create(ctx, doc)

		assert.Error(t, err)
		assert.NotErrorIs(t, err, repository.ErrDuplicateKey)
		assert.Nil(t, result)
	})
}

func TestDocumentPostgres_Find(t *testing.T) {
	repo, mock := newRepo(t)
	ctx := context.Background()

	t.Run("by id", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM documents WHERE id = ?").
			WithArgs("doc-1").
			WillReturnRows(documentRow("doc-1", "editing", 3, "{u1,u2}"))

		doc, err := repo.FindByID(ctx, "doc-1")

		require.NoError(t, err)
		assert.Equal(t, int64(3), doc.Version)
		assert.Equal(t, model.StatusEditing, doc.Status)
		assert.Equal(t, []string{"u1", "u2"}, doc.ActiveEditors)
	})

	t.Run("by key", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM documents WHERE key = ?").
			WithArgs("key-doc-1").
			WillReturnRows(documentRow("doc-1", "ready", 1, "{}"))

		doc, err := repo.FindByKey(ctx, "key-doc-1")

		require.NoError(t, err)
		assert.Equal(t, "key-doc-1", doc.Key)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM documents WHERE key = ?").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		doc, err := repo.FindByKey(ctx, "missing")

		assert.ErrorIs(t, err, repository.ErrNotFound)
		assert.Nil(t, doc)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentPostgres_List(t *testing.T) {
	repo, mock := newRepo(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM documents WHERE owner_id = ?").
		WithArgs("owner-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT (.+) FROM documents WHERE owner_id = (.+) ORDER BY").
		WithArgs("owner-1", 10, 0).
		WillReturnRows(documentRow("doc-1", "ready", 1, "{}"))

	res, err := repo.List(ctx, "owner-1", repository.PageQuery{Limit: 10, Offset: 0})

	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	assert.Len(t, res.Items, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentPostgres_Update(t *testing.T) {
	repo, mock := newRepo(t)
	ctx := context.Background()

	t.Run("writes only patched fields", func(t *testing.T) {
		status := model.StatusEditing
		editors := []string{"u1"}

		mock.ExpectQuery(`UPDATE documents SET status = \$1, active_editors = \$2, updated_at = \$3 WHERE id = \$4 RETURNING`).
			WithArgs("editing", sqlmock.AnyArg(), sqlmock.AnyArg(), "doc-1").
			WillReturnRows(documentRow("doc-1", "editing", 1, "{u1}"))

		doc, err := repo.Update(ctx, "doc-1", model.DocumentPatch{Status: &status, ActiveEditors: &editors})

		require.NoError(t, err)
		assert.Equal(t, model.StatusEditing, doc.Status)
		assert.Equal(t, []string{"u1"}, doc.ActiveEditors)
	})

	t.Run("empty patch reads current row", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM documents WHERE id = ?").
			WithArgs("doc-1").
			WillReturnRows(documentRow("doc-1", "ready", 1, "{}"))

		_, err := repo.Update(ctx, "doc-1", model.DocumentPatch{})
		require.NoError(t, err)
	})

	t.Run("unknown id", func(t *testing.T) {
		title := "x"
		mock.ExpectQuery("UPDATE documents SET title").
			WillReturnError(sql.ErrNoRows)

		_, err := repo.Update(ctx, "nope", model.DocumentPatch{Title: &title})
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentPostgres_ClaimSave(t *testing.T) {
	repo, mock := newRepo(t)
	ctx := context.Background()

	t.Run("claimed", func(t *testing.T) {
		mock.ExpectQuery(`UPDATE documents SET status = \$1, updated_at = \$2 WHERE id = \$3 AND status <> \$1`).
			WithArgs("saving", sqlmock.AnyArg(), "doc-1").
			WillReturnRows(documentRow("doc-1", "saving", 1, "{u1}"))

		doc, err := repo.ClaimSave(ctx, "doc-1")

		require.NoError(t, err)
		assert.Equal(t, model.StatusSaving, doc.Status)
	})

	t.Run("already saving", func(t *testing.T) {
		mock.ExpectQuery("UPDATE documents").
			WithArgs("saving", sqlmock.AnyArg(), "doc-1").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("SELECT (.+) FROM documents WHERE id = ?").
			WithArgs("doc-1").
			WillReturnRows(documentRow("doc-1", "saving", 1, "{}"))

		doc, err := repo.ClaimSave(ctx, "doc-1")

		assert.ErrorIs(t, err, repository.ErrSaveInFlight)
		assert.Nil(t, doc)
	})

	t.Run("unknown id", func(t *testing.T) {
		mock.ExpectQuery("UPDATE documents").
			WithArgs("saving", sqlmock.AnyArg(), "nope").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("SELECT (.+) FROM documents WHERE id = ?").
			WithArgs("nope").
			WillReturnError(sql.ErrNoRows)

		_, err := repo.ClaimSave(ctx, "nope")

		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentPostgres_CommitSave(t *testing.T) {
	repo, mock := newRepo(t)
	ctx := context.Background()

	mock.ExpectQuery(`UPDATE documents SET version = version \+ 1`).
		WithArgs("ready", int64(500), sqlmock.AnyArg(), "doc-1").
		WillReturnRows(documentRow("doc-1", "ready", 2, "{}"))

	doc, err := repo.CommitSave(ctx, "doc-1", 500)

	require.NoError(t, err)
	assert.Equal(t, int64(2), doc.Version)
	assert.Equal(t, model.StatusReady, doc.Status)
	assert.Empty(t, doc.ActiveEditors)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentPostgres_ResetStaleSaves(t *testing.T) {
	repo, mock := newRepo(t)
	cutoff := time.Now().Add(-10 * time.Minute)

	mock.ExpectExec("UPDATE documents SET status = (.+) WHERE status = (.+) AND updated_at <").
		WithArgs("ready", sqlmock.AnyArg(), "saving", cutoff).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.ResetStaleSaves(context.Background(), cutoff)

	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentPostgres_Delete(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectExec("DELETE FROM documents WHERE id = ?").
		WithArgs("doc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM documents WHERE id = ?").
		WithArgs("gone").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM documents WHERE id = ?").
		WithArgs("doc-2").
		WillReturnError(errors.New("conn reset"))

	assert.NoError(t, repo.Delete(context.Background(), "doc-1"))
	assert.NoError(t, repo.Delete(context.Background(), "gone"), "delete is idempotent")
	assert.ErrorContains(t, repo.Delete(context.Background(), "doc-2"), "conn reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}
