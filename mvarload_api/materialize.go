package mvarload_api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jmoiron/sqlx"
)

// ErrUnknownSource is returned when the import source name is not in the source table.
var ErrUnknownSource = errors.New("unknown source")

// StrainMismatchError reports a genotype row whose column count differs from the strain list.
// The first staged row is checked before anything is written. Every later row
// is checked when its window is read, so a mismatch past the first window
// arrives wrapped in a WindowError after the earlier windows were committed.
type StrainMismatchError struct {
	StagingID int64
	VariantID int64
	Expected  int
	Actual    int
}

func (e *StrainMismatchError) Error() string {
	return fmt.Sprintf("genotype row %d of variant %d has %d genotype columns, the strain list has %d strains",
		e.StagingID, e.VariantID, e.Actual, e.Expected)
}

// WindowError reports a failed id window. Windows before Start are already
// committed and stay in the database; the failed window was rolled back. Once
// the cause is fixed the job can be resumed with Start as start id.
type WindowError struct {
	Job   string
	Start int64
	Stop  int64
	Err   error
}

func (e *WindowError) Error() string {
	return fmt.Sprintf("%s window [%d, %d]: %v", e.Job, e.Start, e.Stop, e.Err)
}

func (e *WindowError) Unwrap() error { return e.Err }

// JobWindow bounds a resumable job. A zero StopID runs up to the highest id
// present when the job starts.
type JobWindow struct {
	BatchSize int
	StartID   int64
	StopID    int64
}

func (w JobWindow) normalize() JobWindow {
	if w.BatchSize <= 0 {
		w.BatchSize = 10000
	}
	if w.StartID < 1 {
		w.StartID = 1
	}
	return w
}

type JobResult struct {
	Windows int
	// Staging or canonical rows read
	Rows int64
	// Rows inserted or updated
	Written int64
	Skipped int64
	// The last id covered; a resumed run starts after it
	LastID int64
}

// forWindows calls fn for every window [start, stop] of w up to ceiling.
func forWindows(ctx context.Context, job string, w JobWindow, ceiling int64, result *JobResult, logger *Logger, fn func(start, stop int64) error) error {
	began := time.Now()
	for start := w.StartID; start <= ceiling; start += int64(w.BatchSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		stop := min(start+int64(w.BatchSize)-1, ceiling)
		if err := fn(start, stop); err != nil {
			return &WindowError{Job: job, Start: start, Stop: stop, Err: err}
		}
		result.Windows++
		result.LastID = stop
		logger.Info("window committed", "job", job, "start", start, "stop", stop,
			"rows", humanize.Comma(result.Rows), "written", humanize.Comma(result.Written),
			"elapsed", time.Since(began).Round(time.Millisecond).String())
	}
	return nil
}

func jobCeiling(ctx context.Context, s *Session, w JobWindow, table string) (int64, error) {
	if w.StopID > 0 {
		return w.StopID, nil
	}
	return s.MaxID(ctx, table)
}

type stagedTranscripts struct {
	ID                   int64          `db:"id"`
	VariantID            int64          `db:"variant_id"`
	VariantRefTxt        string         `db:"variant_ref_txt"`
	TranscriptIDs        sql.NullString `db:"transcript_ids"`
	TranscriptFeatureIDs sql.NullString `db:"transcript_feature_ids"`
}

// TranscriptJob turns transcript staging rows into variant_transcript and variant_source rows.
type TranscriptJob struct {
	Session *Session
	Queue   *StagingQueue
	Source  string
	Window  JobWindow
	Logger  *Logger
	Metrics *Metrics
}

func (j *TranscriptJob) Run(ctx context.Context) (JobResult, error) {
	var result JobResult
	w := j.Window.normalize()

	sourceID, err := lookupSource(ctx, j.Session, j.Source)
	if err != nil {
		return result, err
	}
	ceiling, err := jobCeiling(ctx, j.Session, w, j.Queue.Table)
	if err != nil {
		return result, err
	}
	j.Logger.Info("materializing transcripts", "source", j.Source, "start_id", w.StartID, "ceiling", ceiling)

	err = forWindows(ctx, JobTranscripts, w, ceiling, &result, j.Logger, func(start, stop int64) error {
		var rows []stagedTranscripts
		if err := j.Queue.Window(ctx, j.Session.conn, &rows, start, stop); err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		started := time.Now()
		written := 0
		err := j.Session.InTx(ctx, func(tx *sqlx.Tx) error {
			links, err := prepareInsert(ctx, tx, "variant_transcript", []string{"variant_transcripts_id", "transcript_id", "most_pathogenic"})
			if err != nil {
				return err
			}
			defer links.Close()
			sources, err := prepareInsert(ctx, tx, "variant_source", []string{"variant_sources_id", "source_id"})
			if err != nil {
				return err
			}
			defer sources.Close()

			for _, row := range rows {
				ids, err := parseTranscriptIDs(row.TranscriptIDs.String)
				if err != nil {
					return fmt.Errorf("staging row %d: %w", row.ID, err)
				}
				for i, id := range ids {
					if err := links.Put(ctx, row.VariantID, id, i == 0); err != nil {
						return err
					}
				}
				if err := sources.Put(ctx, row.VariantID, sourceID); err != nil {
					return err
				}
			}
			written = links.Rows() + sources.Rows()
			return nil
		})
		if err != nil {
			return err
		}
		result.Rows += int64(len(rows))
		result.Written += int64(written)
		if j.Metrics != nil {
			j.Metrics.RelationshipRows.WithLabelValues(JobTranscripts).Add(float64(written))
			j.Metrics.observeBatch(JobTranscripts, started)
		}
		return nil
	})
	return result, err
}

func lookupSource(ctx context.Context, s *Session, name string) (int64, error) {
	var ids []int64
	if err := s.conn.SelectContext(ctx, &ids, s.conn.Rebind("SELECT id FROM source WHERE name = ? ORDER BY id"), name); err != nil {
		return 0, fmt.Errorf("look up source %q: %w", name, err)
	}
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownSource, name)
	}
	return ids[0], nil
}

// parseTranscriptIDs splits staged transcript ids into an order preserving
// set. Unresolved entries ("0", "null", empty) are dropped.
func parseTranscriptIDs(joined string) ([]int64, error) {
	var ids []int64
	seen := map[int64]bool{}
	for _, value := range strings.Split(joined, ",") {
		value = strings.TrimSpace(value)
		if value == "" || value == "0" || strings.EqualFold(value, "null") {
			continue
		}
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse transcript id %q: %w", value, err)
		}
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

type stagedGenotypes struct {
	ID           int64          `db:"id"`
	VariantID    int64          `db:"variant_id"`
	Format       sql.NullString `db:"format"`
	GenotypeData string         `db:"genotype_data"`
}

func (row stagedGenotypes) cells() []string {
	return strings.Split(row.GenotypeData, "\t")
}

// StrainJob turns genotype staging rows into variant_strain rows, one per strain with a non reference call.
type StrainJob struct {
	Session    *Session
	Queue      *StagingQueue
	Strains    *StrainMap
	Imputation Imputation
	Window     JobWindow
	Logger     *Logger
	Metrics    *Metrics
}

// Run writes one window per transaction. A StrainMismatchError in a later
// window leaves the earlier windows written.
func (j *StrainJob) Run(ctx context.Context) (JobResult, error) {
	var result JobResult
	w := j.Window.normalize()

	first, found, err := firstRow[stagedGenotypes](ctx, j.Queue, j.Session.conn, w.StartID)
	if err != nil {
		return result, err
	}
	if found {
		if err := j.checkColumns(first); err != nil {
			return result, err
		}
	}

	ceiling, err := jobCeiling(ctx, j.Session, w, j.Queue.Table)
	if err != nil {
		return result, err
	}
	registered, err := j.Strains.Register(ctx, j.Session, j.Imputation)
	if err != nil {
		return result, err
	}
	j.Logger.Info("materializing strains", "strains", j.Strains.Len(), "registered", registered,
		"imputed", int(j.Imputation), "start_id", w.StartID, "ceiling", ceiling)

	err = forWindows(ctx, JobStrains, w, ceiling, &result, j.Logger, func(start, stop int64) error {
		var rows []stagedGenotypes
		if err := j.Queue.Window(ctx, j.Session.conn, &rows, start, stop); err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		for _, row := range rows {
			if err := j.checkColumns(row); err != nil {
				return err
			}
		}

		direct, err := j.directCalls(ctx, rows)
		if err != nil {
			return err
		}

		started := time.Now()
		var written, skipped int64
		err = j.Session.InTx(ctx, func(tx *sqlx.Tx) error {
			links, err := prepareInsert(ctx, tx, "variant_strain", []string{"variant_id", "strain_id", "genotype", "imputed"})
			if err != nil {
				return err
			}
			defer links.Close()

			for _, row := range rows {
				for i, cell := range row.cells() {
					genotype, _, _ := strings.Cut(cell, ":")
					if isReferenceCall(genotype) {
						continue
					}
					strain := j.Strains.At(i)
					if direct[strainCall{variantID: row.VariantID, strainID: strain.ID}] {
						skipped++
						continue
					}
					if err := links.Put(ctx, row.VariantID, strain.ID, genotype, int64(j.Imputation)); err != nil {
						return err
					}
				}
			}
			written = int64(links.Rows())
			return nil
		})
		if err != nil {
			return err
		}
		result.Rows += int64(len(rows))
		result.Written += written
		result.Skipped += skipped
		if j.Metrics != nil {
			j.Metrics.RelationshipRows.WithLabelValues(JobStrains).Add(float64(written))
			j.Metrics.observeBatch(JobStrains, started)
		}
		return nil
	})
	return result, err
}

func (j *StrainJob) checkColumns(row stagedGenotypes) error {
	if actual := len(row.cells()); actual != j.Strains.Len() {
		return &StrainMismatchError{StagingID: row.ID, VariantID: row.VariantID, Expected: j.Strains.Len(), Actual: actual}
	}
	return nil
}

type strainCall struct {
	variantID int64
	strainID  int64
}

type strainCallRow struct {
	VariantID int64 `db:"variant_id"`
	StrainID  int64 `db:"strain_id"`
}

// directCalls finds the observed calls already stored for the variants of
// rows. Imputed genotypes are not written over them. Staging ids and variant
// ids are separate sequences, so every variant of the window is checked.
func (j *StrainJob) directCalls(ctx context.Context, rows []stagedGenotypes) (map[strainCall]bool, error) {
	calls := map[strainCall]bool{}
	if j.Imputation == Direct {
		return calls, nil
	}
	var variantIDs []int64
	seen := map[int64]bool{}
	for _, row := range rows {
		if !seen[row.VariantID] {
			seen[row.VariantID] = true
			variantIDs = append(variantIDs, row.VariantID)
		}
	}
	err := inChunks(variantIDs, j.Session.maxInParams, func(chunk []int64) error {
		query, args, err := sqlx.In("SELECT variant_id, strain_id FROM variant_strain WHERE imputed = 0 AND variant_id IN (?)", chunk)
		if err != nil {
			return err
		}
		var found []strainCallRow
		if err := j.Session.conn.SelectContext(ctx, &found, j.Session.conn.Rebind(query), args...); err != nil {
			return err
		}
		for _, call := range found {
			calls[strainCall{variantID: call.VariantID, strainID: call.StrainID}] = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read direct calls: %w", err)
	}
	return calls, nil
}

// isReferenceCall reports homozygous reference and missing genotypes.
func isReferenceCall(genotype string) bool {
	switch genotype {
	case "0/0", "0|0", "./.", ".|.", ".", "":
		return true
	}
	return false
}
