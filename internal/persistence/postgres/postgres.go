package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/storefront-cart/internal/persistence"
	"github.com/utafrali/storefront-cart/pkg/database"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	getQuery = `SELECT value FROM cart_state WHERE client_id = $1 AND key = $2`

	upsertQuery = `INSERT INTO cart_state (client_id, key, value, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (client_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`

	deleteQuery = `DELETE FROM cart_state WHERE client_id = $1 AND key = $2`
)

// Migrate creates the cart_state table if it does not exist.
func Migrate(ctx context.Context, db database.DBTX, logger *slog.Logger) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}
	return database.RunMigrations(ctx, db, sub, logger)
}

// Backend implements persistence.Backend on a cart_state table keyed by
// (client_id, key).
type Backend struct {
	db database.DBTX
}

// New creates a Postgres-backed backend. Close closes db when it has a
// Close method, as *pgxpool.Pool does.
func New(db database.DBTX) *Backend {
	return &Backend{db: db}
}

func (b *Backend) Scope(clientID string) persistence.Store {
	return &store{db: b.db, clientID: clientID}
}

func (b *Backend) Ping(ctx context.Context) error {
	if _, err := b.db.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

func (b *Backend) Close() error {
	if c, ok := b.db.(interface{ Close() }); ok {
		c.Close()
	}
	return nil
}

type store struct {
	db       database.DBTX
	clientID string
}

func (s *store) Get(ctx context.Context, key string) (_ []byte, err error) {
	ctx, end := database.TraceQuery(ctx, database.SystemPostgres, "GetCartKey", getQuery)
	defer func() { end(err) }()

	var value []byte
	if err = s.db.QueryRow(ctx, getQuery, s.clientID, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, persistence.ErrKeyNotFound
		}
		return nil, fmt.Errorf("select cart key %s: %w", key, err)
	}
	return value, nil
}

func (s *store) Set(ctx context.Context, key string, value []byte) (err error) {
	ctx, end := database.TraceQuery(ctx, database.SystemPostgres, "SetCartKey", upsertQuery)
	defer func() { end(err) }()

	if _, err = s.db.Exec(ctx, upsertQuery, s.clientID, key, value); err != nil {
		return fmt.Errorf("upsert cart key %s: %w", key, err)
	}
	return nil
}

func (s *store) Delete(ctx context.Context, key string) (err error) {
	ctx, end := database.TraceQuery(ctx, database.SystemPostgres, "DeleteCartKey", deleteQuery)
	defer func() { end(err) }()

	if _, err = s.db.Exec(ctx, deleteQuery, s.clientID, key); err != nil {
		return fmt.Errorf("delete cart key %s: %w", key, err)
	}
	return nil
}
