package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"docedit/internal/model"
	"docedit/internal/repository"
)

const documentColumns = `id, key, title, filename, file_type, storage_path, version, status, active_editors, owner_id, size, created_at, updated_at`

// DocumentPostgres is a PostgreSQL implementation of repository.DocumentRepository.
// It uses database/sql with parameterized queries and contains no business logic.
type DocumentPostgres struct {
	db  *sql.DB
	now func() time.Time
}

// NewDocumentPostgres creates a new DocumentPostgres repository.
func NewDocumentPostgres(db *sql.DB) *DocumentPostgres {
	return &DocumentPostgres{db: db, now: func() time.Time { return time.Now().UTC() }}
}

var _ repository.DocumentRepository = (*DocumentPostgres)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*model.Document, error) {
	var (
		d        model.Document
		fileType string
		status   string
		editors  []string
	)
	if err := row.Scan(
		&d.ID,
		&d.Key,
		&d.Title,
		&d.Filename,
		&fileType,
		&d.StoragePath,
		&d.Version,
		&status,
		pq.Array(&editors),
		&d.OwnerID,
		&d.Size,
		&d.CreatedAt,
		&d.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	d.FileType = model.FileType(fileType)
	d.Status = model.Status(status)
	if editors == nil {
		editors = []string{}
	}
	d.ActiveEditors = editors
	return &d, nil
}

// Create inserts a new document row and returns the stored record.
func (r *DocumentPostgres) Create(ctx context.Context, doc *model.Document) (*model.Document, error) {
	q := `
		INSERT INTO documents (` + documentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING ` + documentColumns
	editors := doc.ActiveEditors
	if editors == nil {
		editors = []string{}
	}
	row := r.db.QueryRowContext(ctx, q,
		doc.ID,
		doc.Key,
		doc.Title,
		doc.Filename,
		string(doc.FileType),
		doc.StoragePath,
		doc.Version,
		string(doc.Status),
		pq.Array(editors),
		doc.OwnerID,
		doc.Size,
		doc.CreatedAt,
		doc.UpdatedAt,
	)
	out, err := scanDocument(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %v", repository.ErrDuplicateKey, err)
		}
		return nil, err
	}
	return out, nil
}

// FindByID fetches a single document by its ID.
func (r *DocumentPostgres) FindByID(ctx context.Context, id string) (*model.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	return scanDocument(r.db.QueryRowContext(ctx, q, id))
}

// FindByKey fetches a single document by its external key.
func (r *DocumentPostgres) FindByKey(ctx context.Context, key string) (*model.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE key = $1`
	return scanDocument(r.db.QueryRowContext(ctx, q, key))
}

// List returns an owner's documents using LIMIT/OFFSET pagination and a total count.
func (r *DocumentPostgres) List(ctx context.Context, ownerID string, page repository.PageQuery) (*repository.PageResult[model.Document], error) {
	const qCount = `SELECT COUNT(*) FROM documents WHERE owner_id = $1`
	var total int
	if err := r.db.QueryRowContext(ctx, qCount, ownerID).Scan(&total); err != nil {
		return nil, err
	}

	qList := `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE owner_id = $1
		ORDER BY updated_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, qList, ownerID, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &repository.PageResult[model.Document]{
		Items: items,
		Total: total,
	}, nil
}

// Update writes only the fields present in patch in one UPDATE statement.
func (r *DocumentPostgres) Update(ctx context.Context, id string, patch model.DocumentPatch) (*model.Document, error) {
	if patch.Empty() {
		return r.FindByID(ctx, id)
	}

	sets := make([]string, 0, 5)
	args := make([]any, 0, 6)
	add := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.ActiveEditors != nil {
		editors := *patch.ActiveEditors
		if editors == nil {
			editors = []string{}
		}
		add("active_editors", pq.Array(editors))
	}
	if patch.Size != nil {
		add("size", *patch.Size)
	}
	add("updated_at", r.now())
	args = append(args, id)

	q := fmt.Sprintf(`UPDATE documents SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), documentColumns)
	return scanDocument(r.db.QueryRowContext(ctx, q, args...))
}

// ClaimSave flips the record to saving only if no other save holds it.
func (r *DocumentPostgres) ClaimSave(ctx context.Context, id string) (*model.Document, error) {
	q := `
		UPDATE documents
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status <> $1
		RETURNING ` + documentColumns
	doc, err := scanDocument(r.db.QueryRowContext(ctx, q, string(model.StatusSaving), r.now(), id))
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	// Zero rows: either the id is unknown or the guard rejected the claim.
	if _, ferr := r.FindByID(ctx, id); ferr != nil {
		return nil, ferr
	}
	return nil, repository.ErrSaveInFlight
}

// CommitSave increments version in place so concurrent writers cannot lose an update.
func (r *DocumentPostgres) CommitSave(ctx context.Context, id string, size int64) (*model.Document, error) {
	q := `
		UPDATE documents
		SET version = version + 1, status = $1, active_editors = '{}', size = $2, updated_at = $3
		WHERE id = $4
		RETURNING ` + documentColumns
	return scanDocument(r.db.QueryRowContext(ctx, q, string(model.StatusReady), size, r.now(), id))
}

// ResetStaleSaves releases saving claims abandoned by a crashed process.
func (r *DocumentPostgres) ResetStaleSaves(ctx context.Context, before time.Time) (int64, error) {
	const q = `UPDATE documents SET status = $1, updated_at = $2 WHERE status = $3 AND updated_at < $4`
	res, err := r.db.ExecContext(ctx, q, string(model.StatusReady), r.now(), string(model.StatusSaving), before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Delete removes a document by ID. It does not return an error if the row does not exist.
func (r *DocumentPostgres) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM documents WHERE id = $1`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}

const uniqueViolation = "23505"

// isUniqueViolation matches a unique_violation reported by the pgx driver.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
