package mvarload_api

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Job names, used as staging queue owners and metric labels.
const (
	JobInsert      = "insert"
	JobTranscripts = "transcripts"
	JobStrains     = "strains"
	JobCanon       = "canon"
)

// StagingQueue is a table used as a durable work queue between the insert
// phase, which enqueues rows, and the job that owns it, which drains them
// in id windows.
type StagingQueue struct {
	Table   string
	Columns []string
	Owner   string
}

// Staging groups the queues written by the insert phase.
type Staging struct {
	Transcripts  *StagingQueue
	Genotypes    *StagingQueue
	AssemblyXref *StagingQueue
}

func NewStaging(cfg StagingConfig) *Staging {
	return &Staging{
		Transcripts: &StagingQueue{
			Table:   cfg.Transcripts,
			Columns: []string{"variant_id", "variant_ref_txt", "transcript_ids", "transcript_feature_ids"},
			Owner:   JobTranscripts,
		},
		Genotypes: &StagingQueue{
			Table:   cfg.Genotypes,
			Columns: []string{"variant_id", "format", "genotype_data"},
			Owner:   JobStrains,
		},
		AssemblyXref: &StagingQueue{
			Table:   cfg.AssemblyXref,
			Columns: []string{"lifted_ref_txt", "origin_ref_txt"},
			Owner:   JobCanon,
		},
	}
}

// Enqueue prepares an insert into the queue inside tx.
func (q *StagingQueue) Enqueue(ctx context.Context, tx *sqlx.Tx) (*RowWriter, error) {
	return prepareInsert(ctx, tx, q.Table, q.Columns)
}

// Ceiling is the highest id currently in the queue.
func (q *StagingQueue) Ceiling(ctx context.Context, s *Session) (int64, error) {
	return s.MaxID(ctx, q.Table)
}

// Window loads the rows with start <= id <= stop in id order into dest,
// a pointer to a slice of structs tagged with id and the queue columns.
func (q *StagingQueue) Window(ctx context.Context, r sqlRunner, dest any, start, stop int64) error {
	query := fmt.Sprintf("SELECT id, %s FROM %s WHERE id BETWEEN ? AND ? ORDER BY id",
		strings.Join(q.Columns, ", "), q.Table)
	if err := r.SelectContext(ctx, dest, r.Rebind(query), start, stop); err != nil {
		return fmt.Errorf("read %s window [%d, %d]: %w", q.Table, start, stop, err)
	}
	return nil
}

// firstRow loads the lowest row of q with id >= start.
func firstRow[T any](ctx context.Context, q *StagingQueue, r sqlRunner, start int64) (T, bool, error) {
	var zero T
	var rows []T
	query := fmt.Sprintf("SELECT id, %s FROM %s WHERE id >= ? ORDER BY id LIMIT 1",
		strings.Join(q.Columns, ", "), q.Table)
	if err := r.SelectContext(ctx, &rows, r.Rebind(query), start); err != nil {
		return zero, false, fmt.Errorf("read first row of %s: %w", q.Table, err)
	}
	if len(rows) == 0 {
		return zero, false, nil
	}
	return rows[0], true, nil
}

// RowWriter inserts rows through one prepared statement.
type RowWriter struct {
	stmt  *sqlx.Stmt
	table string
	rows  int
}

func prepareInsert(ctx context.Context, tx *sqlx.Tx, table string, columns []string) (*RowWriter, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), placeholders)
	stmt, err := tx.PreparexContext(ctx, tx.Rebind(query))
	if err != nil {
		return nil, fmt.Errorf("prepare insert into %s: %w", table, err)
	}
	return &RowWriter{stmt: stmt, table: table}, nil
}

func (w *RowWriter) Put(ctx context.Context, values ...any) error {
	if _, err := w.stmt.ExecContext(ctx, values...); err != nil {
		return fmt.Errorf("insert into %s: %w", w.table, err)
	}
	w.rows++
	return nil
}

// Rows counts the rows written so far.
func (w *RowWriter) Rows() int { return w.rows }

func (w *RowWriter) Close() error { return w.stmt.Close() }
