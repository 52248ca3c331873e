// Package litestore provides a single-file SQLite implementation of
// analysis.Store for development and small deployments.
package litestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/linnemanlabs/warden/internal/analysis"
	"github.com/linnemanlabs/warden/internal/object"
)

const schema = `
CREATE TABLE IF NOT EXISTS objects (
    type       TEXT NOT NULL,
    id         TEXT NOT NULL,
    md5        TEXT,
    doc        TEXT NOT NULL,
    created_at TEXT NOT NULL,
    PRIMARY KEY (type, id)
);
CREATE INDEX IF NOT EXISTS objects_md5_idx ON objects (type, md5);

CREATE TABLE IF NOT EXISTS object_sources (
    type   TEXT NOT NULL,
    id     TEXT NOT NULL,
    source TEXT NOT NULL,
    PRIMARY KEY (type, id, source),
    FOREIGN KEY (type, id) REFERENCES objects (type, id) ON DELETE CASCADE
);
`

// createdLayout keeps created_at fixed width so text order is time order.
const createdLayout = "2006-01-02T15:04:05.000000000Z"

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Store persists objects in SQLite. All access goes through one connection,
// so transactions are serialized.
type Store struct {
	db *sql.DB
}

var _ analysis.Store = (*Store)(nil)

// Open creates or opens the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get retrieves an object by type and id if it carries one of sources.
func (s *Store) Get(ctx context.Context, typ object.Type, id string, sources []string) (*object.Object, bool, error) {
	if len(sources) == 0 {
		return nil, false, nil
	}
	filter, args := sourceFilter(sources)
	args = append([]any{string(typ), id}, args...)
	obj, err := scanDoc(s.db.QueryRowContext(ctx,
		`SELECT doc FROM objects o WHERE o.type = ? AND o.id = ? AND `+filter, args...))
	if err != nil {
		return nil, false, err
	}
	return obj, obj != nil, nil
}

// GetByMD5 retrieves the oldest object of typ with the given checksum that
// carries one of sources.
func (s *Store) GetByMD5(ctx context.Context, typ object.Type, md5 string, sources []string) (*object.Object, bool, error) {
	if len(sources) == 0 {
		return nil, false, nil
	}
	filter, args := sourceFilter(sources)
	args = append([]any{string(typ), md5}, args...)
	obj, err := scanDoc(s.db.QueryRowContext(ctx,
		`SELECT doc FROM objects o WHERE o.type = ? AND o.md5 = ? AND `+filter+
			` ORDER BY o.created_at LIMIT 1`, args...))
	if err != nil {
		return nil, false, err
	}
	return obj, obj != nil, nil
}

// List returns the objects matching q, newest first.
func (s *Store) List(ctx context.Context, q analysis.ListQuery) ([]*object.Object, error) {
	out := []*object.Object{}
	if len(q.Sources) == 0 {
		return out, nil
	}
	filter, args := sourceFilter(q.Sources)
	query := `SELECT doc FROM objects o WHERE o.type = ? AND ` + filter
	args = append([]any{string(q.Type)}, args...)
	if q.Search != "" {
		terms := make([]string, len(analysis.SearchFields))
		pattern := likePattern(q.Search)
		for i, f := range analysis.SearchFields {
			terms[i] = `json_extract(o.doc, '$.` + f + `') LIKE ? ESCAPE '\'`
			args = append(args, pattern)
		}
		query += ` AND (` + strings.Join(terms, " OR ") + `)`
	}
	limit := -1
	if q.Limit > 0 {
		limit = q.Limit
	}
	query += ` ORDER BY o.created_at DESC, o.id LIMIT ? OFFSET ?`
	args = append(args, limit, max(q.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		obj, err := scanDoc(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	return out, nil
}

// likePattern wraps search in wildcards, escaping LIKE metacharacters.
// SQLite LIKE already ignores ASCII case.
func likePattern(search string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(search) + "%"
}

// Put inserts or replaces an object document and its source labels.
func (s *Store) Put(ctx context.Context, obj *object.Object) error {
	doc, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("marshal object %s: %w", obj.ID, err)
	}
	var md5 sql.NullString
	if obj.MD5 != "" {
		md5 = sql.NullString{String: obj.MD5, Valid: true}
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO objects (type, id, md5, doc, created_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (type, id) DO UPDATE SET md5 = excluded.md5, doc = excluded.doc`,
			string(obj.Type), obj.ID, md5, string(doc), obj.Created.UTC().Format(createdLayout),
		); err != nil {
			return fmt.Errorf("upsert object %s: %w", obj.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM object_sources WHERE type = ? AND id = ?`, string(obj.Type), obj.ID,
		); err != nil {
			return fmt.Errorf("clear sources %s: %w", obj.ID, err)
		}
		for _, src := range obj.Sources {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO object_sources (type, id, source) VALUES (?, ?, ?)`,
				string(obj.Type), obj.ID, src,
			); err != nil {
				return fmt.Errorf("insert source %s: %w", obj.ID, err)
			}
		}
		return nil
	})
}

// UpdateObject applies u to an object carrying one of sources.
func (s *Store) UpdateObject(ctx context.Context, typ object.Type, id string, sources []string, u analysis.ObjectUpdate) (bool, error) {
	return s.modify(ctx, typ, id, func(obj *object.Object) bool {
		if !obj.VisibleTo(sources) {
			return false
		}
		u.Apply(obj)
		return true
	})
}

// Delete removes an object carrying one of sources, together with its
// source rows.
func (s *Store) Delete(ctx context.Context, typ object.Type, id string, sources []string) (bool, error) {
	if len(sources) == 0 {
		return false, nil
	}
	filter, args := sourceFilter(sources)
	args = append([]any{string(typ), id}, args...)
	var deleted bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM objects WHERE rowid IN (
				SELECT o.rowid FROM objects o WHERE o.type = ? AND o.id = ? AND `+filter+`)`, args...)
		if err != nil {
			return fmt.Errorf("delete object %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete object %s: %w", id, err)
		}
		deleted = n > 0
		if !deleted {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM object_sources WHERE type = ? AND id = ?`, string(typ), id,
		); err != nil {
			return fmt.Errorf("delete sources %s: %w", id, err)
		}
		return nil
	})
	return deleted, err
}

// AppendTask adds task to the end of the object's analysis list.
func (s *Store) AppendTask(ctx context.Context, typ object.Type, id string, task *object.Task) (bool, error) {
	return s.modify(ctx, typ, id, func(obj *object.Object) bool {
		obj.Analysis = append(obj.Analysis, task.Clone())
		return true
	})
}

// UpdateTask applies u to the task with analysisID.
func (s *Store) UpdateTask(ctx context.Context, typ object.Type, id, analysisID string, u analysis.TaskUpdate) (bool, error) {
	return s.modify(ctx, typ, id, func(obj *object.Object) bool {
		return u.ApplyTo(obj, analysisID)
	})
}

func (s *Store) modify(ctx context.Context, typ object.Type, id string, fn func(*object.Object) bool) (bool, error) {
	var changed bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		changed = false
		obj, err := scanDoc(tx.QueryRowContext(ctx,
			`SELECT doc FROM objects WHERE type = ? AND id = ?`, string(typ), id))
		if err != nil {
			return err
		}
		if obj == nil || !fn(obj) {
			return nil
		}
		doc, err := json.Marshal(obj)
		if err != nil {
			return fmt.Errorf("marshal object %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE objects SET doc = ? WHERE type = ? AND id = ?`, string(doc), string(typ), id,
		); err != nil {
			return fmt.Errorf("update object %s: %w", id, err)
		}
		changed = true
		return nil
	})
	return changed, err
}

// inTx runs fn in a transaction, retrying the whole unit while SQLite
// reports the database as busy.
func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is harmless

		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func sourceFilter(sources []string) (string, []any) {
	args := make([]any, len(sources))
	for i, src := range sources {
		args[i] = src
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(sources)), ",")
	return `EXISTS (SELECT 1 FROM object_sources s WHERE s.type = o.type AND s.id = o.id AND s.source IN (` +
		placeholders + `))`, args
}

func scanDoc(row interface{ Scan(...any) error }) (*object.Object, error) {
	var doc string
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}
	var obj object.Object
	if err := json.Unmarshal([]byte(doc), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal doc: %w", err)
	}
	return &obj, nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := range busyRetryAttempts {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
