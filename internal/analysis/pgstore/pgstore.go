// Package pgstore provides a PostgreSQL implementation of analysis.Store.
//
// Each object is one row whose doc column holds the full JSON document,
// embedded analysis tasks included. Task mutations lock the row, apply the
// change in Go and write the document back inside one transaction.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/warden/internal/analysis"
	"github.com/linnemanlabs/warden/internal/object"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/analysis/pgstore")

//go:embed schema.sql
var schema string

// Store persists objects in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ analysis.Store = (*Store)(nil)

// New applies the schema on pool and returns a ready Store. The pool stays
// owned by the caller.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Get retrieves an object by type and id if it carries one of sources.
func (s *Store) Get(ctx context.Context, typ object.Type, id string, sources []string) (*object.Object, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	obj, err := scanDoc(s.pool.QueryRow(ctx,
		`SELECT doc FROM objects WHERE type = $1 AND id = $2 AND sources && $3`,
		string(typ), id, sources,
	))
	if err != nil {
		return nil, false, fail(span, err)
	}
	return obj, obj != nil, nil
}

// GetByMD5 retrieves the oldest object of typ with the given checksum that
// carries one of sources.
func (s *Store) GetByMD5(ctx context.Context, typ object.Type, md5 string, sources []string) (*object.Object, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetByMD5", "SELECT")
	defer span.End()

	obj, err := scanDoc(s.pool.QueryRow(ctx,
		`SELECT doc FROM objects WHERE type = $1 AND md5 = $2 AND sources && $3
		 ORDER BY created_at LIMIT 1`,
		string(typ), md5, sources,
	))
	if err != nil {
		return nil, false, fail(span, err)
	}
	return obj, obj != nil, nil
}

// List returns the objects matching q, newest first.
func (s *Store) List(ctx context.Context, q analysis.ListQuery) ([]*object.Object, error) {
	ctx, span := startSpan(ctx, "pgstore.List", "SELECT")
	defer span.End()

	var limit any
	if q.Limit > 0 {
		limit = q.Limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM objects WHERE type = $1 AND sources && $2
		 AND ($3 = '' OR `+searchPredicate("$4")+`)
		 ORDER BY created_at DESC, id LIMIT $5 OFFSET $6`,
		string(q.Type), q.Sources, q.Search, likePattern(q.Search), limit, max(q.Offset, 0),
	)
	if err != nil {
		return nil, fail(span, fmt.Errorf("list objects: %w", err))
	}
	defer rows.Close()

	out := []*object.Object{}
	for rows.Next() {
		obj, err := scanDoc(rows)
		if err != nil {
			return nil, fail(span, err)
		}
		out = append(out, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("list objects: %w", err))
	}
	span.SetAttributes(attribute.Int("db.rows", len(out)))
	return out, nil
}

// searchPredicate ORs a case-insensitive match of param against every
// search field of the document.
func searchPredicate(param string) string {
	terms := make([]string, len(analysis.SearchFields))
	for i, f := range analysis.SearchFields {
		terms[i] = "doc->>'" + f + "' ILIKE " + param
	}
	return strings.Join(terms, " OR ")
}

// likePattern wraps search in wildcards, escaping LIKE metacharacters.
func likePattern(search string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(search) + "%"
}

// Put inserts or replaces an object document.
func (s *Store) Put(ctx context.Context, obj *object.Object) error {
	ctx, span := startSpan(ctx, "pgstore.Put", "UPSERT")
	defer span.End()

	doc, err := json.Marshal(obj)
	if err != nil {
		return fail(span, fmt.Errorf("marshal object %s: %w", obj.ID, err))
	}

	var md5 *string
	if obj.MD5 != "" {
		md5 = &obj.MD5
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO objects (type, id, md5, sources, doc, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (type, id) DO UPDATE SET
			md5        = EXCLUDED.md5,
			sources    = EXCLUDED.sources,
			doc        = EXCLUDED.doc,
			updated_at = now()`,
		string(obj.Type), obj.ID, md5, obj.Sources, doc, obj.Created,
	)
	if err != nil {
		return fail(span, fmt.Errorf("upsert object %s: %w", obj.ID, err))
	}
	return nil
}

// UpdateObject applies u to an object carrying one of sources.
func (s *Store) UpdateObject(ctx context.Context, typ object.Type, id string, sources []string, u analysis.ObjectUpdate) (bool, error) {
	ctx, span := startSpan(ctx, "pgstore.UpdateObject", "UPDATE")
	defer span.End()

	ok, err := s.modify(ctx, typ, id, func(obj *object.Object) bool {
		if !obj.VisibleTo(sources) {
			return false
		}
		u.Apply(obj)
		return true
	})
	if err != nil {
		return false, fail(span, err)
	}
	return ok, nil
}

// Delete removes an object carrying one of sources.
func (s *Store) Delete(ctx context.Context, typ object.Type, id string, sources []string) (bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Delete", "DELETE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM objects WHERE type = $1 AND id = $2 AND sources && $3`,
		string(typ), id, sources,
	)
	if err != nil {
		return false, fail(span, fmt.Errorf("delete object %s: %w", id, err))
	}
	return tag.RowsAffected() > 0, nil
}

// AppendTask adds task to the end of the object's analysis list.
func (s *Store) AppendTask(ctx context.Context, typ object.Type, id string, task *object.Task) (bool, error) {
	ctx, span := startSpan(ctx, "pgstore.AppendTask", "UPDATE")
	defer span.End()

	ok, err := s.modify(ctx, typ, id, func(obj *object.Object) bool {
		obj.Analysis = append(obj.Analysis, task.Clone())
		return true
	})
	if err != nil {
		return false, fail(span, err)
	}
	return ok, nil
}

// UpdateTask applies u to the task with analysisID. It reports false when the
// object or the task does not exist.
func (s *Store) UpdateTask(ctx context.Context, typ object.Type, id, analysisID string, u analysis.TaskUpdate) (bool, error) {
	ctx, span := startSpan(ctx, "pgstore.UpdateTask", "UPDATE")
	defer span.End()
	span.SetAttributes(attribute.String("warden.analysis.id", analysisID))

	ok, err := s.modify(ctx, typ, id, func(obj *object.Object) bool {
		return u.ApplyTo(obj, analysisID)
	})
	if err != nil {
		return false, fail(span, err)
	}
	return ok, nil
}

// modify locks the object row, runs fn on the decoded document and writes it
// back if fn reports a change.
func (s *Store) modify(ctx context.Context, typ object.Type, id string, fn func(*object.Object) bool) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	obj, err := scanDoc(tx.QueryRow(ctx,
		`SELECT doc FROM objects WHERE type = $1 AND id = $2 FOR UPDATE`,
		string(typ), id,
	))
	if err != nil {
		return false, err
	}
	if obj == nil || !fn(obj) {
		return false, nil
	}

	doc, err := json.Marshal(obj)
	if err != nil {
		return false, fmt.Errorf("marshal object %s: %w", id, err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE objects SET doc = $3, updated_at = now() WHERE type = $1 AND id = $2`,
		string(typ), id, doc,
	); err != nil {
		return false, fmt.Errorf("update object %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// scanDoc decodes a single doc column. Returns (nil, nil) when no row is found.
func scanDoc(row pgx.Row) (*object.Object, error) {
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}
	var obj object.Object
	if err := json.Unmarshal(doc, &obj); err != nil {
		return nil, fmt.Errorf("unmarshal doc: %w", err)
	}
	return &obj, nil
}
