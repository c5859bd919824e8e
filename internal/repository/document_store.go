package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"CalibrationMonitorAPI/internal/database"
	"CalibrationMonitorAPI/internal/models"

	"github.com/jmoiron/sqlx"
)

// Collections of the document table.
const (
	CollectionMeasurements = "measurements"
	CollectionAlerts       = "alerts"
	CollectionModels       = "models"
	CollectionForecasts    = "forecasts"
)

// Document is one JSON body addressed by (collection, key). Partition groups keys for listing;
// every collection partitions by device.
type Document struct {
	Collection string
	Partition  string
	Key        string
	Body       json.RawMessage
	Version    int64
	UpdatedAt  time.Time
}

// DocumentStore is the generic persistence boundary. Get returns models.ErrNotFound for a missing
// key, CompareAndSwap returns models.ErrVersionConflict when the stored version moved.
type DocumentStore interface {
	Get(ctx context.Context, collection, key string) (*Document, error)
	Put(ctx context.Context, doc *Document) error
	Merge(ctx context.Context, doc *Document) (*Document, error)
	CompareAndSwap(ctx context.Context, doc *Document, expectedVersion int64) error
	List(ctx context.Context, collection, partition string) ([]Document, error)
	Partitions(ctx context.Context, collection string) ([]string, error)
}

// DocKey joins escaped segments with "/".
func DocKey(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return strings.Join(escaped, "/")
}

// SplitDocKey reverses DocKey.
func SplitDocKey(key string) ([]string, error) {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		u, err := url.PathUnescape(p)
		if err != nil {
			return nil, fmt.Errorf("failed to decode key %q: %w", key, err)
		}
		parts[i] = u
	}
	return parts, nil
}

// mergeBodies overlays the top-level fields of patch onto base.
func mergeBodies(base, patch json.RawMessage) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(base) > 0 {
		if err := json.Unmarshal(base, &fields); err != nil {
			return nil, fmt.Errorf("failed to decode stored document: %w", err)
		}
	}
	var overlay map[string]json.RawMessage
	if err := json.Unmarshal(patch, &overlay); err != nil {
		return nil, fmt.Errorf("failed to decode merge patch: %w", err)
	}
	for k, v := range overlay {
		fields[k] = v
	}
	return json.Marshal(fields)
}

type documentRow struct {
	Collection string `db:"collection"`
	Partition  string `db:"partition_key"`
	Key        string `db:"doc_key"`
	Body       string `db:"body"`
	Version    int64  `db:"version"`
	UpdatedAt  int64  `db:"updated_at"`
}

func (r documentRow) document() Document {
	return Document{
		Collection: r.Collection,
		Partition:  r.Partition,
		Key:        r.Key,
		Body:       json.RawMessage(r.Body),
		Version:    r.Version,
		UpdatedAt:  time.UnixMilli(r.UpdatedAt).UTC(),
	}
}

const selectDocument = `
	SELECT collection, partition_key, doc_key, body, version, updated_at
	FROM documents
`

// SQLDocumentStore keeps documents in one table on Postgres or SQLite.
type SQLDocumentStore struct {
	db *database.Database
}

func NewSQLDocumentStore(db *database.Database) *SQLDocumentStore {
	return &SQLDocumentStore{db: db}
}

func (s *SQLDocumentStore) q(query string) string {
	return s.db.DB.Rebind(query)
}

func (s *SQLDocumentStore) Get(ctx context.Context, collection, key string) (*Document, error) {
	return s.get(ctx, s.db.DB, collection, key, false)
}

func (s *SQLDocumentStore) get(ctx context.Context, ext sqlx.QueryerContext, collection, key string, lock bool) (*Document, error) {
	query := selectDocument + ` WHERE collection = ? AND doc_key = ?`
	if lock && s.db.IsPostgres() {
		query += ` FOR UPDATE`
	}

	var row documentRow
	err := sqlx.GetContext(ctx, ext, &row, s.q(query), collection, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", collection, key, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	doc := row.document()
	return &doc, nil
}

// Put replaces the whole body, creating the document if needed.
func (s *SQLDocumentStore) Put(ctx context.Context, doc *Document) error {
	return s.upsert(ctx, s.db.DB, doc)
}

func (s *SQLDocumentStore) upsert(ctx context.Context, ext sqlx.QueryerContext, doc *Document) error {
	query := `
		INSERT INTO documents (collection, partition_key, doc_key, body, version, updated_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT (collection, doc_key) DO UPDATE SET
			partition_key = excluded.partition_key,
			body = excluded.body,
			version = documents.version + 1,
			updated_at = excluded.updated_at
		RETURNING version
	`

	now := time.Now().UTC()
	err := ext.QueryRowxContext(ctx, s.q(query),
		doc.Collection, doc.Partition, doc.Key, string(doc.Body), now.UnixMilli(),
	).Scan(&doc.Version)
	if err != nil {
		return fmt.Errorf("failed to put document: %w", err)
	}

	doc.UpdatedAt = now
	return nil
}

// Merge overlays the top-level fields of doc.Body onto the stored body inside one transaction.
func (s *SQLDocumentStore) Merge(ctx context.Context, doc *Document) (*Document, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Ensure the row exists so concurrent first writers serialize on the row lock.
	ensure := `
		INSERT INTO documents (collection, partition_key, doc_key, body, version, updated_at)
		VALUES (?, ?, ?, '{}', 0, ?)
		ON CONFLICT (collection, doc_key) DO NOTHING
	`
	if _, err := tx.ExecContext(ctx, s.q(ensure),
		doc.Collection, doc.Partition, doc.Key, time.Now().UTC().UnixMilli(),
	); err != nil {
		return nil, fmt.Errorf("failed to prepare merge: %w", err)
	}

	stored, err := s.get(ctx, tx, doc.Collection, doc.Key, true)
	if err != nil {
		return nil, err
	}

	body, err := mergeBodies(stored.Body, doc.Body)
	if err != nil {
		return nil, err
	}

	merged := &Document{
		Collection: doc.Collection,
		Partition:  doc.Partition,
		Key:        doc.Key,
		Body:       body,
	}
	if err := s.upsert(ctx, tx, merged); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit merge: %w", err)
	}

	return merged, nil
}

// CompareAndSwap writes doc only if the stored version equals expectedVersion. Version 0 means
// the document must not exist yet.
func (s *SQLDocumentStore) CompareAndSwap(ctx context.Context, doc *Document, expectedVersion int64) error {
	now := time.Now().UTC()

	var (
		result sql.Result
		err    error
	)
	if expectedVersion == 0 {
		query := `
			INSERT INTO documents (collection, partition_key, doc_key, body, version, updated_at)
			VALUES (?, ?, ?, ?, 1, ?)
			ON CONFLICT (collection, doc_key) DO NOTHING
		`
		result, err = s.db.DB.ExecContext(ctx, s.q(query),
			doc.Collection, doc.Partition, doc.Key, string(doc.Body), now.UnixMilli())
	} else {
		query := `
			UPDATE documents
			SET body = ?, partition_key = ?, version = version + 1, updated_at = ?
			WHERE collection = ? AND doc_key = ? AND version = ?
		`
		result, err = s.db.DB.ExecContext(ctx, s.q(query),
			string(doc.Body), doc.Partition, now.UnixMilli(), doc.Collection, doc.Key, expectedVersion)
	}
	if err != nil {
		return fmt.Errorf("failed to swap document: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to swap document: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%s %s at version %d: %w", doc.Collection, doc.Key, expectedVersion, models.ErrVersionConflict)
	}

	doc.Version = expectedVersion + 1
	doc.UpdatedAt = now
	return nil
}

func (s *SQLDocumentStore) List(ctx context.Context, collection, partition string) ([]Document, error) {
	query := selectDocument + ` WHERE collection = ? AND partition_key = ? ORDER BY doc_key`

	var rows []documentRow
	if err := s.db.DB.SelectContext(ctx, &rows, s.q(query), collection, partition); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	docs := make([]Document, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, r.document())
	}
	return docs, nil
}

func (s *SQLDocumentStore) Partitions(ctx context.Context, collection string) ([]string, error) {
	query := `SELECT DISTINCT partition_key FROM documents WHERE collection = ? ORDER BY partition_key`

	var partitions []string
	if err := s.db.DB.SelectContext(ctx, &partitions, s.q(query), collection); err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}
	return partitions, nil
}
