package mvarload_api

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// Run is the state of one command invocation. Everything a phase needs is
// reached from here; nothing is kept in package variables.
type Run struct {
	ID      string
	Config  *Config
	Logger  *Logger
	Metrics *Metrics
	Store   *Store
	Session *Session
	Staging *Staging
	Opener  *Opener

	counter     CanonicalCounter
	genes       *GeneResolver
	transcripts *TranscriptResolver
}

// NewRun connects to the configured database and pins the run's session.
func NewRun(ctx context.Context, config *Config, logger *Logger) (*Run, error) {
	store, err := OpenStore(ctx, config.Database)
	if err != nil {
		return nil, err
	}
	run, err := NewRunWithStore(ctx, config, logger, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return run, nil
}

// NewRunWithStore creates a run on an already opened store.
func NewRunWithStore(ctx context.Context, config *Config, logger *Logger, store *Store) (*Run, error) {
	session, err := store.Session(ctx)
	if err != nil {
		return nil, err
	}
	genes, err := NewGeneResolver(config.Import.CacheSize, config.Database.MaxInParams)
	if err != nil {
		_ = session.Close()
		return nil, err
	}
	transcripts, err := NewTranscriptResolver(config.Import.CacheSize, config.Database.MaxInParams)
	if err != nil {
		_ = session.Close()
		return nil, err
	}
	id := uuid.NewString()
	return &Run{
		ID:          id,
		Config:      config,
		Logger:      logger.With("run_id", id),
		Metrics:     NewMetrics(),
		Store:       store,
		Session:     session,
		Staging:     NewStaging(config.Staging),
		Opener:      &Opener{},
		genes:       genes,
		transcripts: transcripts,
	}, nil
}

// Close releases the session and the store and writes the metrics file.
func (r *Run) Close() error {
	errs := []error{r.Session.Close(), r.Store.Close()}
	if err := r.Metrics.WriteFile(r.Config.Metrics.File); err != nil {
		errs = append(errs, fmt.Errorf("write metrics: %w", err))
	}
	r.Logger.Sync()
	return errors.Join(errs...)
}

// InitSchema creates the tables of the configured schema.
func (r *Run) InitSchema(ctx context.Context) error {
	if err := r.Session.ApplySchema(ctx, r.Config.Staging); err != nil {
		return err
	}
	r.Logger.Info("schema ready", "driver", r.Session.Dialect())
	return nil
}

type InsertOptions struct {
	// A VCF file or a directory of VCF files, local or s3://
	Input string
	// Separate header file for headerless data files
	HeaderFile    string
	BatchSize     int
	Assembly      Assembly
	Lifted        bool
	CheckExisting bool
}

type InsertResult struct {
	Files       int
	Parsed      int
	Overwritten int
	Existing    int
	Inserted    int
	Backfilled  int64
}

// Insert parses every input file and persists its variants. Constraints are
// off for the whole import; the CAID backfill runs once at the end unless
// the import is lifted.
func (r *Run) Insert(ctx context.Context, opts InsertOptions) (result InsertResult, err error) {
	files, err := ListInputs(opts.Input)
	if err != nil {
		return result, err
	}
	if len(files) == 0 {
		return result, fmt.Errorf("no VCF files found in %s", opts.Input)
	}

	var header *Header
	if opts.HeaderFile != "" {
		if header, err = r.readHeader(ctx, opts.HeaderFile); err != nil {
			return result, err
		}
	}

	if err := r.Session.DisableConstraints(ctx); err != nil {
		return result, err
	}
	defer func() {
		if restoreErr := r.Session.RestoreConstraints(ctx); restoreErr != nil && err == nil {
			err = restoreErr
		}
	}()

	persistor := &BatchPersistor{
		Session:     r.Session,
		Staging:     r.Staging,
		Genes:       r.genes,
		Transcripts: r.transcripts,
		Counter:     &r.counter,
		Options: PersistOptions{
			BatchSize: opts.BatchSize,
			Assembly:  opts.Assembly,
			Lifted:    opts.Lifted,
		},
		Logger:  r.Logger,
		Metrics: r.Metrics,
	}

	for _, file := range files {
		fileResult, err := r.insertFile(ctx, file, header, persistor, opts)
		if err != nil {
			return result, fmt.Errorf("insert %s: %w", file, err)
		}
		result.Files++
		result.Parsed += fileResult.Parsed
		result.Overwritten += fileResult.Overwritten
		result.Existing += fileResult.Existing
		result.Inserted += fileResult.Inserted
	}

	if !opts.Lifted {
		if result.Backfilled, err = r.Session.BackfillCAID(ctx); err != nil {
			return result, err
		}
	}
	r.Logger.Info("insert finished", "files", result.Files, "parsed", humanize.Comma(int64(result.Parsed)),
		"inserted", humanize.Comma(int64(result.Inserted)), "existing", humanize.Comma(int64(result.Existing)),
		"caid_backfilled", humanize.Comma(result.Backfilled))
	return result, nil
}

func (r *Run) insertFile(ctx context.Context, file string, header *Header, persistor *BatchPersistor, opts InsertOptions) (InsertResult, error) {
	var result InsertResult
	started := time.Now()

	reader, err := r.Opener.Open(ctx, file)
	if err != nil {
		return result, err
	}
	defer reader.Close()

	if header != nil {
		header = header.Clone()
	}
	parser := NewVcfStreamParser(header, ParserOptions{
		Lifted:       opts.Lifted,
		MaxLineBytes: r.Config.Import.MaxLineBytes,
	}, r.Logger.With("file", file))
	set, err := parser.Parse(ctx, reader)
	if err != nil {
		return result, err
	}
	result.Parsed = set.Len()
	result.Overwritten = set.Overwritten()
	r.Metrics.VariantsParsed.Add(float64(set.Len()))
	r.Logger.Info("file parsed", "file", file, "variants", humanize.Comma(int64(set.Len())),
		"overwritten", set.Overwritten(), "elapsed", time.Since(started).Round(time.Millisecond).String())

	if opts.CheckExisting {
		if result.Existing, err = MarkExisting(ctx, r.Session, set, opts.Assembly); err != nil {
			return result, err
		}
	}

	persisted, err := persistor.Persist(ctx, set)
	if err != nil {
		return result, err
	}
	result.Inserted = persisted.Inserted
	r.Logger.Info("file persisted", "file", file, "inserted", humanize.Comma(int64(persisted.Inserted)),
		"linked", humanize.Comma(int64(persisted.Linked)), "batches", persisted.Batches,
		"first_canonical_index", persisted.FirstIndex, "last_canonical_index", persisted.LastIndex,
		"elapsed", time.Since(started).Round(time.Millisecond).String())
	return result, nil
}

func (r *Run) readHeader(ctx context.Context, location string) (*Header, error) {
	reader, err := r.Opener.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	header, err := ReadHeader(ctx, reader, r.Config.Import.MaxLineBytes)
	if err != nil {
		return nil, fmt.Errorf("read header %s: %w", location, err)
	}
	return header, nil
}

// MaterializeTranscripts runs the transcript relationship job.
func (r *Run) MaterializeTranscripts(ctx context.Context, source string, window JobWindow) (JobResult, error) {
	job := &TranscriptJob{
		Session: r.Session,
		Queue:   r.Staging.Transcripts,
		Source:  source,
		Window:  window,
		Logger:  r.Logger,
		Metrics: r.Metrics,
	}
	result, err := job.Run(ctx)
	if err != nil {
		return result, err
	}
	r.Logger.Info("transcripts materialized", "windows", result.Windows, "rows", humanize.Comma(result.Rows),
		"written", humanize.Comma(result.Written), "last_id", result.LastID)
	return result, nil
}

// MaterializeStrains runs the strain relationship job with the strain list found at strainsFile.
func (r *Run) MaterializeStrains(ctx context.Context, strainsFile string, imputation Imputation, window JobWindow) (JobResult, error) {
	reader, err := r.Opener.Open(ctx, strainsFile)
	if err != nil {
		return JobResult{}, err
	}
	names, err := ReadStrainNames(ctx, reader)
	reader.Close()
	if err != nil {
		return JobResult{}, err
	}
	strains, err := ResolveStrains(ctx, r.Session, names)
	if err != nil {
		return JobResult{}, err
	}

	job := &StrainJob{
		Session:    r.Session,
		Queue:      r.Staging.Genotypes,
		Strains:    strains,
		Imputation: imputation,
		Window:     window,
		Logger:     r.Logger,
		Metrics:    r.Metrics,
	}
	result, err := job.Run(ctx)
	if err != nil {
		return result, err
	}
	r.Logger.Info("strains materialized", "windows", result.Windows, "rows", humanize.Comma(result.Rows),
		"written", humanize.Comma(result.Written), "skipped_direct", humanize.Comma(result.Skipped),
		"last_id", result.LastID)
	return result, nil
}

// ReconcileCanonical copies CAIDs onto the canonical rows of a lifted import.
func (r *Run) ReconcileCanonical(ctx context.Context, window JobWindow) (JobResult, error) {
	reconciler := &AssemblyReconciler{
		Session: r.Session,
		Xref:    r.Staging.AssemblyXref,
		Window:  window,
		Logger:  r.Logger,
		Metrics: r.Metrics,
	}
	result, err := reconciler.Run(ctx)
	if err != nil {
		return result, err
	}
	r.Logger.Info("canonical identifiers reconciled", "windows", result.Windows,
		"updated", humanize.Comma(result.Written), "unmatched", humanize.Comma(result.Skipped))
	return result, nil
}

// ListInputs expands a directory into its .vcf and .vcf.gz files in lexical
// order. Files and s3:// locations are returned as is.
func ListInputs(input string) ([]string, error) {
	if strings.HasPrefix(input, "s3://") {
		return []string{input}, nil
	}
	info, err := os.Stat(input)
	if err != nil {
		return nil, fmt.Errorf("stat input: %w", err)
	}
	if !info.IsDir() {
		return []string{input}, nil
	}
	entries, err := os.ReadDir(input)
	if err != nil {
		return nil, fmt.Errorf("list input directory: %w", err)
	}
	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !(strings.HasSuffix(name, ".vcf") || strings.HasSuffix(name, ".vcf.gz")) {
			continue
		}
		files = append(files, filepath.Join(input, name))
	}
	sort.Strings(files)
	return files, nil
}
