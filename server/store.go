package server

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andrew-d/easel/protocol"
)

//go:embed schema.sql
var schema string

// Object is a drawable stored under an id so that it can later be removed.
type Object struct {
	ID         string
	Descriptor string
}

// store persists batches and the objects they drew. Batch indexes start at
// 1 and only grow; a compacted batch keeps its index but loses its body.
type store struct {
	db  *sql.DB
	now func() time.Time
}

func newStore(db *sql.DB) (*store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &store{db: db, now: time.Now}, nil
}

func insertBatch(ctx context.Context, tx *sql.Tx, body string, now time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO batches (body, created) VALUES (?, ?)`,
		body, now.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert batch: %w", err)
	}
	return res.LastInsertId()
}

// appendBatch stores body as the next batch and returns its index.
func (s *store) appendBatch(ctx context.Context, body string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	idx, err := insertBatch(ctx, tx, body, s.now())
	if err != nil {
		return 0, err
	}
	return idx, tx.Commit()
}

// addObjects records objs and appends one batch drawing all of them.
func (s *store) addObjects(ctx context.Context, objs []Object) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	descriptors := make([]string, len(objs))
	for i, o := range objs {
		descriptors[i] = o.Descriptor
	}
	idx, err := insertBatch(ctx, tx, strings.Join(descriptors, " "+protocol.MessageSep+" "), s.now())
	if err != nil {
		return 0, err
	}
	for _, o := range objs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO objects (id, descriptor, batch) VALUES (?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET descriptor = excluded.descriptor, batch = excluded.batch`,
			o.ID, o.Descriptor, idx,
		)
		if err != nil {
			return 0, fmt.Errorf("insert object %s: %w", o.ID, err)
		}
	}
	return idx, tx.Commit()
}

// removeObjects deletes the objects with the given ids and appends one batch
// erasing them. Ids that are not stored are returned in missing. If nothing
// was removed no batch is appended and idx is zero.
func (s *store) removeObjects(ctx context.Context, ids []string) (idx int64, missing []string, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, err
	}
	defer tx.Rollback()

	var deletes []string
	for _, id := range ids {
		var descriptor string
		err := tx.QueryRowContext(ctx, `SELECT descriptor FROM objects WHERE id = ?`, id).Scan(&descriptor)
		if errors.Is(err, sql.ErrNoRows) {
			missing = append(missing, id)
			continue
		}
		if err != nil {
			return 0, nil, fmt.Errorf("look up object %s: %w", id, err)
		}

		del, err := protocol.ToDelete(descriptor)
		if err != nil {
			return 0, nil, fmt.Errorf("object %s: %w", id, err)
		}
		deletes = append(deletes, del)
		if _, err := tx.ExecContext(ctx, `DELETE FROM objects WHERE id = ?`, id); err != nil {
			return 0, nil, fmt.Errorf("delete object %s: %w", id, err)
		}
	}
	if len(deletes) == 0 {
		return 0, missing, nil
	}

	idx, err = insertBatch(ctx, tx, strings.Join(deletes, " "+protocol.MessageSep+" "), s.now())
	if err != nil {
		return 0, nil, err
	}
	return idx, missing, tx.Commit()
}

// batch returns the body of batch idx. ok is false when the batch does not
// exist yet; compacted batches are returned with an empty body.
func (s *store) batch(ctx context.Context, idx int64) (body string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT body FROM batches WHERE idx = ?`, idx).Scan(&body)
	if err == nil {
		return body, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", false, err
	}
	latest, err := s.latest(ctx)
	if err != nil {
		return "", false, err
	}
	return "", idx >= 1 && idx <= latest, nil
}

// latest returns the index of the newest batch, or zero if there is none.
func (s *store) latest(ctx context.Context) (int64, error) {
	var idx sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(idx) FROM batches`).Scan(&idx); err != nil {
		return 0, err
	}
	return idx.Int64, nil
}

// objects returns every stored object ordered by the batch that drew it.
func (s *store) objects(ctx context.Context) ([]Object, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, descriptor FROM objects ORDER BY batch, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Object
	for rows.Next() {
		var o Object
		if err := rows.Scan(&o.ID, &o.Descriptor); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// compact drops the bodies of all but the newest retain batches.
func (s *store) compact(ctx context.Context, retain int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM batches WHERE idx <= (SELECT MAX(idx) FROM batches) - ?`,
		retain,
	)
	if err != nil {
		return 0, fmt.Errorf("compact batches: %w", err)
	}
	return res.RowsAffected()
}
