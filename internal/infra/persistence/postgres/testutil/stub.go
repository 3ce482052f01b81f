// Package testutil provides a stub database/sql driver for postgres driver
// tests, recording statements and emulating the documents table in memory.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"time"
)

// StubConn records normalized statements and keeps documents in memory,
// keyed collection then id.
type StubConn struct {
	Execs      []string
	Docs       map[string]map[string][]byte
	FailExec   bool
	FailBegin  bool
	FailCommit bool
	FailQuery  bool
}

// NewStubDB registers a sql.DB backed by an in-memory stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Docs: make(map[string]map[string][]byte)}
	name := fmt.Sprintf("stubpg%d", time.Now().UnixNano())
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// Doc returns the stored payload for collection/id, if present.
func (c *StubConn) Doc(collection, id string) ([]byte, bool) {
	byID, ok := c.Docs[collection]
	if !ok {
		return nil, false
	}
	doc, ok := byID[id]
	return doc, ok
}

// Seed stores a payload directly, bypassing SQL.
func (c *StubConn) Seed(collection, id string, doc []byte) {
	if c.Docs[collection] == nil {
		c.Docs[collection] = make(map[string][]byte)
	}
	c.Docs[collection][id] = doc
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return d.conn, nil
}

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *StubConn) Ping(_ context.Context) error {
	if c.FailExec {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(_ context.Context, _ driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, fmt.Errorf("begin fail")
	}
	return &stubTx{conn: c}, nil
}

// ExecContext implements driver.ExecerContext. Argument order follows the
// statements the driver issues: inserts and upserts carry (collection, id,
// doc), updates (doc, collection, id), deletes (collection, id).
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	normalized := strings.Join(strings.Fields(query), " ")
	c.Execs = append(c.Execs, normalized)
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	upper := strings.ToUpper(normalized)
	switch {
	case strings.HasPrefix(upper, "CREATE TABLE"):
		return driver.RowsAffected(0), nil
	case strings.HasPrefix(upper, "INSERT INTO"):
		collection, id, doc, err := stringArgs3(args)
		if err != nil {
			return nil, err
		}
		_, exists := c.Doc(collection, id)
		if exists && !strings.Contains(upper, "ON CONFLICT") {
			return nil, fmt.Errorf("duplicate key value violates unique constraint")
		}
		c.Seed(collection, id, doc)
		return driver.RowsAffected(1), nil
	case strings.HasPrefix(upper, "UPDATE"):
		if len(args) != 3 {
			return nil, fmt.Errorf("unexpected update args: %d", len(args))
		}
		doc, err := byteArg(args[0])
		if err != nil {
			return nil, err
		}
		collection, err := stringArg(args[1])
		if err != nil {
			return nil, err
		}
		id, err := stringArg(args[2])
		if err != nil {
			return nil, err
		}
		if _, exists := c.Doc(collection, id); !exists {
			return driver.RowsAffected(0), nil
		}
		c.Seed(collection, id, doc)
		return driver.RowsAffected(1), nil
	case strings.HasPrefix(upper, "DELETE FROM"):
		if len(args) != 2 {
			return nil, fmt.Errorf("unexpected delete args: %d", len(args))
		}
		collection, err := stringArg(args[0])
		if err != nil {
			return nil, err
		}
		id, err := stringArg(args[1])
		if err != nil {
			return nil, err
		}
		if _, exists := c.Doc(collection, id); !exists {
			return driver.RowsAffected(0), nil
		}
		delete(c.Docs[collection], id)
		return driver.RowsAffected(1), nil
	}
	return driver.RowsAffected(0), nil
}

// QueryContext implements driver.QueryerContext for the single-row doc
// lookup the driver issues.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if c.FailQuery {
		return nil, fmt.Errorf("query fail")
	}
	if len(args) != 2 {
		return nil, fmt.Errorf("unexpected query args: %d", len(args))
	}
	collection, err := stringArg(args[0])
	if err != nil {
		return nil, err
	}
	id, err := stringArg(args[1])
	if err != nil {
		return nil, err
	}
	rows := &stubRows{cols: []string{"doc"}}
	if doc, ok := c.Doc(collection, id); ok {
		rows.rows = [][]driver.Value{{doc}}
	}
	return rows, nil
}

type stubTx struct {
	conn *StubConn
}

func (t *stubTx) Commit() error {
	if t.conn.FailCommit {
		return fmt.Errorf("commit fail")
	}
	return nil
}
func (t *stubTx) Rollback() error { return nil }

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

func stringArg(v driver.NamedValue) (string, error) {
	s, ok := v.Value.(string)
	if !ok {
		return "", fmt.Errorf("expected string arg, got %T", v.Value)
	}
	return s, nil
}

func byteArg(v driver.NamedValue) ([]byte, error) {
	switch val := v.Value.(type) {
	case []byte:
		return val, nil
	case string:
		return []byte(val), nil
	default:
		return nil, fmt.Errorf("expected bytes arg, got %T", v.Value)
	}
}

func stringArgs3(args []driver.NamedValue) (string, string, []byte, error) {
	if len(args) != 3 {
		return "", "", nil, fmt.Errorf("unexpected insert args: %d", len(args))
	}
	collection, err := stringArg(args[0])
	if err != nil {
		return "", "", nil, err
	}
	id, err := stringArg(args[1])
	if err != nil {
		return "", "", nil, err
	}
	doc, err := byteArg(args[2])
	if err != nil {
		return "", "", nil, err
	}
	return collection, id, doc, nil
}
