package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"

	"CommunityScanner/internal/domain"
	"CommunityScanner/internal/ports"
)

const itemsTable = "content_items"

const schemaDDL = `CREATE TABLE IF NOT EXISTS content_items (
    id               BIGSERIAL PRIMARY KEY,
    community_handle TEXT        NOT NULL,
    item_id          TEXT        NOT NULL,
    entity_name      TEXT        NOT NULL,
    author           TEXT        NOT NULL DEFAULT '',
    body             TEXT        NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL,
    permalink        TEXT        NOT NULL DEFAULT '',
    score            INTEGER     NOT NULL DEFAULT 0,
    fetched_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (community_handle, item_id)
)`

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresStore persists the raw corpus into Postgres.
type PostgresStore struct {
	db *sql.DB
}

var _ ports.CursorStore = (*PostgresStore)(nil)
var _ ports.CorpusReader = (*PostgresStore)(nil)

// OpenPostgres opens a lib/pq connection pool and checks it.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewPostgresStore wires a sql.DB implementation.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the items table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Load rebuilds the cursor from stored item ids.
func (s *PostgresStore) Load(ctx context.Context, community string) (domain.RetrievalCursor, error) {
	cursor := domain.NewCursor(community)

	query, args, err := psql.Select("item_id").
		From(itemsTable).
		Where(sq.Eq{"community_handle": handleKey(community)}).
		ToSql()
	if err != nil {
		return cursor, fmt.Errorf("build cursor query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return cursor, fmt.Errorf("query cursor: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return cursor, fmt.Errorf("scan id: %w", err)
		}
		cursor.SeenIDs[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return cursor, fmt.Errorf("rows iteration: %w", err)
	}
	cursor.ItemCount = len(cursor.SeenIDs)
	return cursor, nil
}

// Commit inserts items in one transaction; ids already stored are ignored.
func (s *PostgresStore) Commit(ctx context.Context, community string, items []domain.ContentItem) (err error) {
	if len(items) == 0 {
		return nil
	}

	insert := psql.Insert(itemsTable).
		Columns("community_handle", "item_id", "entity_name", "author", "body", "created_at", "permalink", "score").
		Suffix("ON CONFLICT (community_handle, item_id) DO NOTHING")
	for _, item := range items {
		insert = insert.Values(handleKey(community), item.ID, item.EntityName, item.Author, item.Text, item.CreatedAt.UTC(), item.Permalink, item.Score)
	}
	query, args, err := insert.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert items: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit items: %w", err)
	}
	return nil
}

// Communities lists handles with stored items, in their lower-case stored form.
func (s *PostgresStore) Communities(ctx context.Context) ([]string, error) {
	query, args, err := psql.Select("DISTINCT community_handle").
		From(itemsTable).
		OrderBy("community_handle").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build communities query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query communities: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan handle: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// Items returns the stored items of community in insertion order.
func (s *PostgresStore) Items(ctx context.Context, community string) ([]domain.ContentItem, error) {
	query, args, err := psql.Select("item_id", "entity_name", "author", "body", "created_at", "permalink", "score").
		From(itemsTable).
		Where(sq.Eq{"community_handle": handleKey(community)}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build items query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var out []domain.ContentItem
	for rows.Next() {
		item := domain.ContentItem{CommunityHandle: community}
		if err := rows.Scan(&item.ID, &item.EntityName, &item.Author, &item.Text, &item.CreatedAt, &item.Permalink, &item.Score); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		item.CreatedAt = item.CreatedAt.UTC()
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// handleKey is the stored form of a handle; community names are case-insensitive.
func handleKey(community string) string {
	return strings.ToLower(community)
}
