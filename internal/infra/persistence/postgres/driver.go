// Package postgres provides a Postgres-backed document driver storing
// payloads as jsonb, keyed by collection and id.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"dataspace/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion.
var _ domain.Driver = (*Driver)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/dataspace?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Driver persists documents to a Postgres table.
type Driver struct {
	db *sql.DB
}

// NewDriver opens a Postgres-backed driver using the provided DSN (falls
// back to defaultDSN), pings the server, and ensures the documents table.
func NewDriver(dsn string) (*Driver, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		doc JSONB NOT NULL,
		PRIMARY KEY (collection, id)
	)`); err != nil {
		return nil, fmt.Errorf("create documents table: %w", err)
	}
	return &Driver{db: db}, nil
}

// NewDriverWithDB wraps an existing database handle, for testing hooks.
func NewDriverWithDB(db *sql.DB) *Driver { return &Driver{db: db} }

// BulkWrite applies the batched operations inside one SQL transaction.
func (d *Driver) BulkWrite(ctx context.Context, collection string, ops []domain.WriteOp) (summary domain.WriteSummary, retErr error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return summary, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	for _, op := range ops {
		switch op.Kind {
		case domain.WriteInsertOne:
			payload, err := json.Marshal(op.Document)
			if err != nil {
				retErr = fmt.Errorf("encode %s/%s: %w", collection, op.ID, err)
				return summary, retErr
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO documents(collection,id,doc) VALUES($1,$2,$3)`,
				collection, op.ID, payload); err != nil {
				retErr = fmt.Errorf("insert %s/%s: %w", collection, op.ID, err)
				return summary, retErr
			}
			summary.Inserted++
		case domain.WriteReplaceOne:
			payload, err := json.Marshal(op.Document)
			if err != nil {
				retErr = fmt.Errorf("encode %s/%s: %w", collection, op.ID, err)
				return summary, retErr
			}
			if op.Upsert {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO documents(collection,id,doc) VALUES($1,$2,$3)
					 ON CONFLICT (collection,id) DO UPDATE SET doc=excluded.doc`,
					collection, op.ID, payload); err != nil {
					retErr = fmt.Errorf("upsert %s/%s: %w", collection, op.ID, err)
					return summary, retErr
				}
				summary.Modified++
			} else {
				res, err := tx.ExecContext(ctx,
					`UPDATE documents SET doc=$1 WHERE collection=$2 AND id=$3`,
					payload, collection, op.ID)
				if err != nil {
					retErr = fmt.Errorf("replace %s/%s: %w", collection, op.ID, err)
					return summary, retErr
				}
				if n, err := res.RowsAffected(); err == nil {
					summary.Modified += n
				}
			}
		case domain.WriteDeleteOne:
			res, err := tx.ExecContext(ctx,
				`DELETE FROM documents WHERE collection=$1 AND id=$2`,
				collection, op.ID)
			if err != nil {
				retErr = fmt.Errorf("delete %s/%s: %w", collection, op.ID, err)
				return summary, retErr
			}
			if n, err := res.RowsAffected(); err == nil {
				summary.Deleted += n
			}
		default:
			retErr = fmt.Errorf("unsupported write kind %s", op.Kind)
			return summary, retErr
		}
	}
	if err := tx.Commit(); err != nil {
		retErr = fmt.Errorf("commit: %w", err)
		return summary, retErr
	}
	return summary, nil
}

// FindOne loads and decodes the document with the given id.
func (d *Driver) FindOne(ctx context.Context, collection, id string) (map[string]any, bool, error) {
	var payload []byte
	err := d.db.QueryRowContext(ctx,
		`SELECT doc FROM documents WHERE collection=$1 AND id=$2`,
		collection, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select %s/%s: %w", collection, id, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, false, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return doc, true, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (d *Driver) DB() *sql.DB { return d.db }

// Close closes the database handle.
func (d *Driver) Close() error { return d.db.Close() }
