package mvarload_api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

const canonTable = "variant_canon_identifier"

// ErrMissingOrigin is returned when a lifted import meets a record without its pre-liftover key.
var ErrMissingOrigin = errors.New("missing origin reference text")

var variantColumns = []string{
	"id", "accession", "chr", "position", "alt", "ref", "type", "functional_class_code", "assembly",
	"parent_ref_ind", "variant_ref_txt", "variant_hgvs_notation", "dna_hgvs_notation",
	"protein_hgvs_notation", "impact", "canon_var_identifier_id", "gene_id", "protein_position",
	"amino_acid_change",
}

// CanonicalCounter hands out canonical indices for one run. It only moves
// forward once a batch is committed, so indices stay gapless.
type CanonicalCounter struct {
	next   int64
	seeded bool
}

func (c *CanonicalCounter) Seed(next int64) {
	c.next = next
	c.seeded = true
}

func (c *CanonicalCounter) Seeded() bool { return c.seeded }

// Next is the index the next new record receives.
func (c *CanonicalCounter) Next() int64 { return c.next }

func (c *CanonicalCounter) Advance(n int) { c.next += int64(n) }

// BatchError reports a failed batch. Earlier batches stay committed; an
// import can be resumed from Line with FirstIndex as the next canonical index.
type BatchError struct {
	Batch      int
	Line       int
	Size       int
	FirstIndex int64
	Err        error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d (%d records from line %d, first canonical index %d): %v",
		e.Batch, e.Size, e.Line, e.FirstIndex, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

type PersistOptions struct {
	BatchSize int
	Assembly  Assembly
	Lifted    bool
}

type PersistResult struct {
	Inserted int
	Linked   int
	Batches  int
	// Range of canonical indices assigned, both 0 when nothing was inserted
	FirstIndex int64
	LastIndex  int64
}

// BatchPersistor writes parsed variants and their staging rows in fixed size transactions.
type BatchPersistor struct {
	Session     *Session
	Staging     *Staging
	Genes       *GeneResolver
	Transcripts *TranscriptResolver
	Counter     *CanonicalCounter
	Options     PersistOptions
	Logger      *Logger
	Metrics     *Metrics
}

// Persist writes every record of set in input order. The counter is seeded
// from the highest stored canonical id on first use.
func (p *BatchPersistor) Persist(ctx context.Context, set *VariantSet) (PersistResult, error) {
	var result PersistResult
	if !p.Counter.Seeded() {
		maxID, err := p.Session.MaxID(ctx, canonTable)
		if err != nil {
			return result, err
		}
		p.Counter.Seed(maxID + 1)
	}

	batchSize := p.Options.BatchSize
	if batchSize <= 0 {
		batchSize = 10000
	}
	records := set.Records()
	for start := 0; start < len(records); start += batchSize {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		batch := records[start:min(start+batchSize, len(records))]
		first := p.Counter.Next()
		inserted, err := p.persistBatch(ctx, batch)
		if err != nil {
			return result, &BatchError{
				Batch:      result.Batches + 1,
				Line:       batch[0].Line,
				Size:       len(batch),
				FirstIndex: first,
				Err:        err,
			}
		}
		result.Batches++
		result.Inserted += inserted
		result.Linked += len(batch) - inserted
		if inserted > 0 {
			if result.FirstIndex == 0 {
				result.FirstIndex = first
			}
			result.LastIndex = p.Counter.Next() - 1
		}
		p.Logger.Debug("batch committed", "batch", result.Batches, "records", len(batch),
			"inserted", inserted, "next_canonical_index", p.Counter.Next())
	}
	return result, nil
}

func (p *BatchPersistor) persistBatch(ctx context.Context, batch []*VariantRecord) (int, error) {
	started := time.Now()

	var symbols, accessions []string
	for _, record := range batch {
		if _, ok := record.Status.(Existing); ok {
			continue
		}
		symbols = append(symbols, geneSymbol(record))
		for _, feature := range transcriptFeatures(record) {
			accessions = append(accessions, StripTranscriptVersion(feature))
		}
	}
	genes, err := p.Genes.Resolve(ctx, p.Session.conn, symbols)
	if err != nil {
		return 0, err
	}
	transcripts, err := p.Transcripts.Resolve(ctx, p.Session.conn, accessions)
	if err != nil {
		return 0, err
	}

	assigned := make([]int64, len(batch))
	next := p.Counter.Next()
	err = p.Session.InTx(ctx, func(tx *sqlx.Tx) error {
		writers, err := p.openWriters(ctx, tx)
		if err != nil {
			return err
		}
		defer writers.Close()

		for i, record := range batch {
			if existing, ok := record.Status.(Existing); ok {
				if record.HasSamples() {
					if err := writers.genotypes.Put(ctx, existing.ID, nullString(record.Format), record.Genotypes); err != nil {
						return err
					}
				}
				continue
			}

			index := next
			next++
			assigned[i] = index
			if err := writers.write(ctx, index, record, genes, transcripts, p.Options); err != nil {
				return fmt.Errorf("variant %s at line %d: %w", record.RefTxt, record.Line, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	inserted := 0
	for i, record := range batch {
		if assigned[i] != 0 {
			record.Status = New{Index: assigned[i]}
			inserted++
		}
	}
	p.Counter.Advance(inserted)

	if p.Metrics != nil {
		p.Metrics.VariantsInserted.Add(float64(inserted))
		p.Metrics.VariantsLinked.Add(float64(len(batch) - inserted))
		p.Metrics.observeBatch(JobInsert, started)
	}
	return inserted, nil
}

type batchWriters struct {
	canon       *RowWriter
	variants    *RowWriter
	transcripts *RowWriter
	genotypes   *RowWriter
	xref        *RowWriter
}

func (p *BatchPersistor) openWriters(ctx context.Context, tx *sqlx.Tx) (*batchWriters, error) {
	w := &batchWriters{}
	var err error
	if w.canon, err = prepareInsert(ctx, tx, canonTable, []string{"id", "variant_ref_txt"}); err != nil {
		return nil, err
	}
	if w.variants, err = prepareInsert(ctx, tx, "variant", variantColumns); err != nil {
		w.Close()
		return nil, err
	}
	if w.transcripts, err = p.Staging.Transcripts.Enqueue(ctx, tx); err != nil {
		w.Close()
		return nil, err
	}
	if w.genotypes, err = p.Staging.Genotypes.Enqueue(ctx, tx); err != nil {
		w.Close()
		return nil, err
	}
	if p.Options.Lifted {
		if w.xref, err = p.Staging.AssemblyXref.Enqueue(ctx, tx); err != nil {
			w.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *batchWriters) write(ctx context.Context, index int64, record *VariantRecord, genes, transcripts map[string]int64, options PersistOptions) error {
	if err := w.canon.Put(ctx, index, record.RefTxt); err != nil {
		return err
	}

	var geneID sql.NullInt64
	if id, ok := genes[geneSymbol(record)]; ok {
		geneID = sql.NullInt64{Int64: id, Valid: true}
	}
	accession := record.Id
	if accession == "." {
		accession = ""
	}
	err := w.variants.Put(ctx,
		index,
		nullString(accession),
		record.Chromosome,
		record.Pos,
		record.Alt,
		record.Ref,
		string(record.Type),
		nullString(joinField(record.Annotations, "Annotation")),
		options.Assembly.Label(),
		true,
		record.RefTxt,
		nullString(record.Hgvsg),
		nullString(joinField(record.Annotations, "HGVS.c")),
		nullString(joinField(record.Annotations, "HGVS.p")),
		nullString(joinField(record.Annotations, "Annotation_Impact")),
		index,
		geneID,
		nullString(record.ProteinPosition),
		nullString(record.AminoAcidChange),
	)
	if err != nil {
		return err
	}

	features := transcriptFeatures(record)
	ids := make([]string, len(features))
	for i, feature := range features {
		ids[i] = strconv.FormatInt(transcripts[StripTranscriptVersion(feature)], 10)
	}
	if err := w.transcripts.Put(ctx, index, record.RefTxt,
		nullString(strings.Join(ids, ",")), nullString(strings.Join(features, ","))); err != nil {
		return err
	}

	if record.HasSamples() {
		if err := w.genotypes.Put(ctx, index, nullString(record.Format), record.Genotypes); err != nil {
			return err
		}
	}

	if options.Lifted {
		if record.OriginRefTxt == "" {
			return ErrMissingOrigin
		}
		if err := w.xref.Put(ctx, record.RefTxt, record.OriginRefTxt); err != nil {
			return err
		}
	}
	return nil
}

func (w *batchWriters) Close() error {
	var errs []error
	for _, writer := range []*RowWriter{w.canon, w.variants, w.transcripts, w.genotypes, w.xref} {
		if writer != nil {
			errs = append(errs, writer.Close())
		}
	}
	return errors.Join(errs...)
}

// geneSymbol is the gene of the first functional annotation.
func geneSymbol(record *VariantRecord) string {
	return firstField(record.Annotations, "Gene_Name")
}

// transcriptFeatures lists the transcript Feature_ID of every functional annotation.
func transcriptFeatures(record *VariantRecord) []string {
	features := make([]string, 0, len(record.Annotations))
	for _, annotation := range record.Annotations {
		features = append(features, annotation.Get("Feature_ID"))
	}
	return features
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
