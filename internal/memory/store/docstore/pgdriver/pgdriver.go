// Package pgdriver registers a Postgres-backed docstore.Driver under the
// module name "postgres", storing every collection's documents as JSONB
// rows in a single table. Importing this package for side effect is
// what "loads the module" — the docstore package itself never imports
// github.com/jackc/pgx/v5.
package pgdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"memoryengine/internal/memory/store/docstore"
)

func init() {
	docstore.Register("postgres", New)
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS docstore_documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	payload    JSONB NOT NULL,
	PRIMARY KEY (collection, id)
)`

type driver struct {
	pool *pgxpool.Pool
}

// New opens a pool against cfg.ConnectionString, grounded on the
// teacher's pool-construction conventions (bounded MaxConns, idle/lifetime
// limits, a startup Ping) and ensures the backing table exists.
func New(ctx context.Context, cfg docstore.Config) (docstore.Driver, error) {
	if cfg.ConnectionString == "" {
		return nil, fmt.Errorf("postgres driver: connectionString is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("postgres driver: parse config: %w", err)
	}
	poolCfg.MaxConns = 8
	poolCfg.MinConns = 0
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres driver: connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres driver: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres driver: ensure schema: %w", err)
	}
	return &driver{pool: pool}, nil
}

func (d *driver) Upsert(ctx context.Context, collection, id string, doc any) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("postgres driver: marshal %s/%s: %w", collection, id, err)
	}
	_, err = d.pool.Exec(ctx, `
		INSERT INTO docstore_documents (collection, id, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection, id) DO UPDATE SET payload = EXCLUDED.payload
	`, collection, id, payload)
	if err != nil {
		return fmt.Errorf("postgres driver: upsert %s/%s: %w", collection, id, err)
	}
	return nil
}

func (d *driver) LoadAll(ctx context.Context, collection string) (map[string]json.RawMessage, error) {
	rows, err := d.pool.Query(ctx, `SELECT id, payload FROM docstore_documents WHERE collection = $1`, collection)
	if err != nil {
		return nil, fmt.Errorf("postgres driver: select %s: %w", collection, err)
	}
	defer rows.Close()

	out := map[string]json.RawMessage{}
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			continue
		}
		out[id] = json.RawMessage(payload)
	}
	return out, rows.Err()
}

func (d *driver) Delete(ctx context.Context, collection, id string) error {
	_, err := d.pool.Exec(ctx, `DELETE FROM docstore_documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return fmt.Errorf("postgres driver: delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func (d *driver) Close(ctx context.Context) error {
	d.pool.Close()
	return nil
}
