// Package docstore implements the document and watermark stores on SQLite.
//
// Documents are listed in (updated_at, id) order with keyset pagination so
// that the sync coordinator's cursor semantics hold even when many documents
// share a timestamp. Timestamps are stored as Unix nanoseconds to preserve
// tie-break precision.
package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/corpusd/internal/corpus"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	scope      TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL,
	is_folder  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_documents_scope_updated ON documents(scope, updated_at, id);

CREATE TABLE IF NOT EXISTS watermarks (
	user_id             TEXT PRIMARY KEY,
	last_indexed_at     INTEGER NOT NULL,
	last_indexed_doc_id TEXT NOT NULL
);
`

// Store provides document and watermark persistence on a single SQLite file.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (creating if necessary) the SQLite database at path and applies
// the schema. Use ":memory:" for an ephemeral store.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: database path required", corpus.ErrStore)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", corpus.ErrStore, err)
	}

	// modernc.org/sqlite serializes writes per connection; a single
	// connection avoids SQLITE_BUSY under concurrent syncs.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: applying schema: %v", corpus.ErrStore, err)
	}

	logger.Info("document store opened", zap.String("path", path))
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// cursor encodes the keyset position (updated_at, id) as an opaque string.
func encodeCursor(updatedAt int64, id string) string {
	return strconv.FormatInt(updatedAt, 10) + ":" + id
}

func decodeCursor(cursor string) (int64, string, error) {
	ts, id, found := strings.Cut(cursor, ":")
	if !found {
		return 0, "", fmt.Errorf("%w: malformed cursor %q", corpus.ErrStore, cursor)
	}
	n, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("%w: malformed cursor %q", corpus.ErrStore, cursor)
	}
	return n, id, nil
}

// List returns one page of documents in the given scopes ordered by
// (updated_at, id), restricted to updated_at >= updatedAfter when set. The
// returned cursor is empty once the listing is exhausted.
func (s *Store) List(ctx context.Context, scopes []corpus.Scope, updatedAfter *time.Time, pageSize int, cursor string) ([]corpus.Document, string, error) {
	if len(scopes) == 0 {
		return nil, "", nil
	}
	if pageSize <= 0 {
		pageSize = 200
	}

	var (
		conds []string
		args  []any
	)

	placeholders := make([]string, len(scopes))
	for i, sc := range scopes {
		placeholders[i] = "?"
		args = append(args, string(sc))
	}
	conds = append(conds, "scope IN ("+strings.Join(placeholders, ",")+")")

	if updatedAfter != nil {
		conds = append(conds, "updated_at >= ?")
		args = append(args, updatedAfter.UnixNano())
	}

	if cursor != "" {
		ts, id, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		conds = append(conds, "(updated_at > ? OR (updated_at = ? AND id > ?))")
		args = append(args, ts, ts, id)
	}

	query := "SELECT id, scope, title, content, updated_at, is_folder FROM documents WHERE " +
		strings.Join(conds, " AND ") + " ORDER BY updated_at, id LIMIT ?"
	args = append(args, pageSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("%w: listing documents: %v", corpus.ErrStore, err)
	}
	defer rows.Close()

	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, "", err
	}

	next := ""
	if len(docs) == pageSize {
		last := docs[len(docs)-1]
		next = encodeCursor(last.UpdatedAt.UnixNano(), last.ID)
	}
	return docs, next, nil
}

// GetByIDs fetches full rows for the given ids. Missing ids are omitted.
func (s *Store) GetByIDs(ctx context.Context, ids []string) ([]corpus.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := "SELECT id, scope, title, content, updated_at, is_folder FROM documents WHERE id IN (" +
		strings.Join(placeholders, ",") + ")"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching documents: %v", corpus.ErrStore, err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

func scanDocuments(rows *sql.Rows) ([]corpus.Document, error) {
	var docs []corpus.Document
	for rows.Next() {
		var (
			d        corpus.Document
			scope    string
			updated  int64
			isFolder int
		)
		if err := rows.Scan(&d.ID, &scope, &d.Title, &d.Content, &updated, &isFolder); err != nil {
			return nil, fmt.Errorf("%w: scanning document row: %v", corpus.ErrStore, err)
		}
		d.Scope = corpus.Scope(scope)
		d.UpdatedAt = time.Unix(0, updated).UTC()
		d.IsFolder = isFolder != 0

		// Malformed rows are rejected at the boundary, not deep inside
		// the indexing algorithm.
		if err := d.Validate(); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading document rows: %v", corpus.ErrStore, err)
	}
	return docs, nil
}

// Upsert inserts or replaces a document row.
func (s *Store) Upsert(ctx context.Context, d corpus.Document) error {
	if err := d.Validate(); err != nil {
		return err
	}

	isFolder := 0
	if d.IsFolder {
		isFolder = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, scope, title, content, updated_at, is_folder)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			scope = excluded.scope,
			title = excluded.title,
			content = excluded.content,
			updated_at = excluded.updated_at,
			is_folder = excluded.is_folder`,
		d.ID, string(d.Scope), d.Title, d.Content, d.UpdatedAt.UnixNano(), isFolder)
	if err != nil {
		return fmt.Errorf("%w: upserting document %s: %v", corpus.ErrStore, d.ID, err)
	}
	return nil
}

// Delete removes a document row. Deleting an absent id returns ErrNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("%w: deleting document %s: %v", corpus.ErrStore, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: deleting document %s: %v", corpus.ErrStore, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: document %s", corpus.ErrNotFound, id)
	}
	return nil
}

// GetWatermark returns the user's watermark, or (nil, nil) when the user has
// never completed a sync.
func (s *Store) GetWatermark(ctx context.Context, userID string) (*corpus.Watermark, error) {
	var (
		at    int64
		docID string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT last_indexed_at, last_indexed_doc_id FROM watermarks WHERE user_id = ?", userID).
		Scan(&at, &docID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading watermark for %s: %v", corpus.ErrStore, userID, err)
	}
	return &corpus.Watermark{
		LastIndexedAt:    time.Unix(0, at).UTC(),
		LastIndexedDocID: docID,
	}, nil
}

// SetWatermark persists the watermark for a user, replacing any previous value.
func (s *Store) SetWatermark(ctx context.Context, userID string, wm corpus.Watermark) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watermarks (user_id, last_indexed_at, last_indexed_doc_id)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			last_indexed_at = excluded.last_indexed_at,
			last_indexed_doc_id = excluded.last_indexed_doc_id`,
		userID, wm.LastIndexedAt.UnixNano(), wm.LastIndexedDocID)
	if err != nil {
		return fmt.Errorf("%w: writing watermark for %s: %v", corpus.ErrStore, userID, err)
	}
	return nil
}

// Watermarks adapts the store to the corpus.WatermarkStore interface.
func (s *Store) Watermarks() corpus.WatermarkStore {
	return watermarkAdapter{s}
}

type watermarkAdapter struct{ s *Store }

func (w watermarkAdapter) Get(ctx context.Context, userID string) (*corpus.Watermark, error) {
	return w.s.GetWatermark(ctx, userID)
}

func (w watermarkAdapter) Set(ctx context.Context, userID string, wm corpus.Watermark) error {
	return w.s.SetWatermark(ctx, userID, wm)
}

var _ corpus.DocumentStore = (*Store)(nil)
