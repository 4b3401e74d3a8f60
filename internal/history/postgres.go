package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the documents table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
    id          TEXT PRIMARY KEY,
    filename    TEXT NOT NULL,
    text        TEXT NOT NULL DEFAULT '',
    language    TEXT NOT NULL DEFAULT '',
    position    DOUBLE PRECISION NOT NULL DEFAULT 0,
    bookmarks   JSONB NOT NULL DEFAULT '[]',
    uploaded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_documents_uploaded_at ON documents(uploaded_at DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database. Bookmarks are
// serialised as a JSONB array on the document row: they are always read and
// written together with their document and stay small.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] that uses the given connection
// or pool. Call [PostgresStore.Migrate] once before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating the
// documents table and index if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// Put implements [Store.Put].
func (s *PostgresStore) Put(ctx context.Context, doc Document) (Document, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}

	bmJSON, err := json.Marshal(emptyBookmarks(doc.Bookmarks))
	if err != nil {
		return Document{}, fmt.Errorf("history: marshal bookmarks: %w", err)
	}

	const query = `
		INSERT INTO documents (id, filename, text, language, position, bookmarks)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING uploaded_at`

	err = s.db.QueryRow(ctx, query,
		doc.ID, doc.Filename, doc.Text, doc.Language, doc.Position, bmJSON,
	).Scan(&doc.UploadedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return Document{}, fmt.Errorf("history: put %q: %w", doc.ID, ErrDuplicateID)
		}
		return Document{}, fmt.Errorf("history: put: %w", err)
	}
	return doc, nil
}

// Get implements [Store.Get].
func (s *PostgresStore) Get(ctx context.Context, id string) (Document, error) {
	const query = `
		SELECT id, filename, text, language, position, bookmarks, uploaded_at
		FROM documents
		WHERE id = $1`

	doc, err := scanDocument(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("history: get %q: %w", id, err)
	}
	return doc, nil
}

// List implements [Store.List].
func (s *PostgresStore) List(ctx context.Context) ([]Document, error) {
	const query = `
		SELECT id, filename, text, language, position, bookmarks, uploaded_at
		FROM documents
		ORDER BY uploaded_at DESC`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("history: list scan: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	return docs, nil
}

// Delete implements [Store.Delete].
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM documents WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("history: delete %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddBookmark implements [Store.AddBookmark]. The bookmark is appended to the
// JSONB array; ordering by position is applied on read paths by the callers
// that need it.
func (s *PostgresStore) AddBookmark(ctx context.Context, docID string, bm Bookmark) (Bookmark, error) {
	if bm.ID == "" {
		bm.ID = uuid.NewString()
	}

	bmJSON, err := json.Marshal(bm)
	if err != nil {
		return Bookmark{}, fmt.Errorf("history: marshal bookmark: %w", err)
	}

	const query = `
		UPDATE documents
		SET bookmarks = bookmarks || $2::jsonb
		WHERE id = $1
		RETURNING id`

	var id string
	if err := s.db.QueryRow(ctx, query, docID, bmJSON).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bookmark{}, ErrNotFound
		}
		return Bookmark{}, fmt.Errorf("history: add bookmark: %w", err)
	}
	return bm, nil
}

// RemoveBookmark implements [Store.RemoveBookmark].
func (s *PostgresStore) RemoveBookmark(ctx context.Context, docID, bookmarkID string) error {
	// Filter the JSONB array server-side and only report success when the
	// array actually shrank, so a missing bookmark surfaces as ErrNotFound.
	const query = `
		UPDATE documents
		SET bookmarks = (
			SELECT COALESCE(jsonb_agg(b), '[]'::jsonb)
			FROM jsonb_array_elements(bookmarks) AS b
			WHERE b->>'id' <> $2
		)
		WHERE id = $1
		  AND bookmarks @> jsonb_build_array(jsonb_build_object('id', $2::text))
		RETURNING id`

	var id string
	if err := s.db.QueryRow(ctx, query, docID, bookmarkID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("history: remove bookmark: %w", err)
	}
	return nil
}

// SetPosition implements [Store.SetPosition].
func (s *PostgresStore) SetPosition(ctx context.Context, docID string, seconds float64) error {
	const query = `UPDATE documents SET position = $2 WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, docID, seconds)
	if err != nil {
		return fmt.Errorf("history: set position %q: %w", docID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanDocument reads one document row, deserialising the bookmarks column.
func scanDocument(row pgx.Row) (Document, error) {
	var doc Document
	var bmJSON []byte

	if err := row.Scan(
		&doc.ID, &doc.Filename, &doc.Text, &doc.Language,
		&doc.Position, &bmJSON, &doc.UploadedAt,
	); err != nil {
		return Document{}, err
	}
	if err := json.Unmarshal(bmJSON, &doc.Bookmarks); err != nil {
		return Document{}, fmt.Errorf("unmarshal bookmarks: %w", err)
	}
	return doc, nil
}

// emptyBookmarks returns b if non-nil, otherwise an empty non-nil slice. This
// ensures JSON marshalling produces "[]" instead of "null".
func emptyBookmarks(b []Bookmark) []Bookmark {
	if b == nil {
		return []Bookmark{}
	}
	return b
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
