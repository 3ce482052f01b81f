// Package sqlite provides a SQLite-backed document driver. Documents are
// stored as JSON payloads keyed by collection and id.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"dataspace/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Compile-time contract assertion.
var _ domain.Driver = (*Driver)(nil)

// Driver persists documents to a single SQLite table.
type Driver struct {
	db   *sql.DB
	path string
}

// NewDriver opens (creating when absent) the SQLite database at path.
func NewDriver(path string) (*Driver, error) {
	if path == "" {
		path = "dataspace.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		doc BLOB NOT NULL,
		PRIMARY KEY (collection, id)
	)`); err != nil {
		return nil, fmt.Errorf("create documents table: %w", err)
	}
	return &Driver{db: db, path: path}, nil
}

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
				`INSERT INTO documents(collection,id,doc) VALUES(?,?,?)`,
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
				var exists bool
				if err := tx.QueryRowContext(ctx,
					`SELECT EXISTS(SELECT 1 FROM documents WHERE collection=? AND id=?)`,
					collection, op.ID).Scan(&exists); err != nil {
					retErr = fmt.Errorf("probe %s/%s: %w", collection, op.ID, err)
					return summary, retErr
				}
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO documents(collection,id,doc) VALUES(?,?,?)
					 ON CONFLICT(collection,id) DO UPDATE SET doc=excluded.doc`,
					collection, op.ID, payload); err != nil {
					retErr = fmt.Errorf("upsert %s/%s: %w", collection, op.ID, err)
					return summary, retErr
				}
				if exists {
					summary.Modified++
				} else {
					summary.Inserted++
				}
			} else {
				res, err := tx.ExecContext(ctx,
					`UPDATE documents SET doc=? WHERE collection=? AND id=?`,
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
				`DELETE FROM documents WHERE collection=? AND id=?`,
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
		`SELECT doc FROM documents WHERE collection=? AND id=?`,
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

// Path returns the configured database path.
func (d *Driver) Path() string { return d.path }

// Close closes the database handle.
func (d *Driver) Close() error { return d.db.Close() }
