package mvarload_api

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestRun(t *testing.T) *Run {
	t.Helper()
	config := testConfig()
	config.Database.DSN = filepath.Join(t.TempDir(), "mvar.db")
	config.Metrics.File = filepath.Join(t.TempDir(), "mvarload.prom")

	run, err := NewRun(context.Background(), config, NewNopLogger())
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}
	t.Cleanup(func() { _ = run.Close() })
	if err := run.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
	return run
}

func writeVCF(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunInsertAndMaterialize(t *testing.T) {
	run := newTestRun(t)
	ctx := context.Background()
	dir := t.TempDir()

	mustExec(t, run.Session, "INSERT INTO transcript (id, primary_identifier) VALUES (7, 'ENSMUST00000070533')")
	mustExec(t, run.Session, "INSERT INTO source (id, name) VALUES (1, 'Sanger_v7')")
	mustExec(t, run.Session, "INSERT INTO strain (id, name) VALUES (1, 'C57BL/6NJ'), (2, '129S1/SvImJ')")

	header := "#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\tC57BL_6NJ\t129S1_SvImJ"
	writeVCF(t, dir, "a.vcf", header,
		annLine(100, "Xkr4", "ENSMUST00000070533.4", "0/1:9,3", "0/0:10,0"),
		annLine(200, "Xkr4", "ENSMUST00000070533.4", "1/1:0,8", "1/1:0,9"),
	)
	writeVCF(t, dir, "b.vcf", header,
		annLine(200, "Xkr4", "ENSMUST00000070533.4", "1/1:0,8", "1/1:0,9"),
		annLine(300, "Xkr4", "ENSMUST00000070533.4", "0/0:8,0", "0/1:4,4"),
	)
	writeVCF(t, dir, "notes.txt", "ignored")

	result, err := run.Insert(ctx, InsertOptions{Input: dir, BatchSize: 1, Assembly: MM10, CheckExisting: true})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if result.Files != 2 || result.Parsed != 4 || result.Existing != 1 || result.Inserted != 3 || result.Backfilled != 3 {
		t.Fatalf("unexpected result %+v", result)
	}
	if run.Session.constraintsOff {
		t.Fatal("constraints should be restored after the import")
	}
	if n := countRows(t, run.Session, "SELECT COUNT(*) FROM variant_canon_identifier WHERE caid = 'MCA_' || id"); n != 3 {
		t.Fatalf("expected 3 backfilled CAIDs, got %d", n)
	}

	transcripts, err := run.MaterializeTranscripts(ctx, "Sanger_v7", JobWindow{})
	if err != nil {
		t.Fatalf("MaterializeTranscripts: %v", err)
	}
	if transcripts.Rows != 3 || countRows(t, run.Session, "SELECT COUNT(*) FROM variant_transcript WHERE transcript_id = 7") != 3 {
		t.Fatalf("unexpected transcript result %+v", transcripts)
	}

	strainsFile := writeVCF(t, t.TempDir(), "strains.txt", "C57BL/6NJ", "129S1/SvImJ")
	strains, err := run.MaterializeStrains(ctx, strainsFile, Direct, JobWindow{})
	if err != nil {
		t.Fatalf("MaterializeStrains: %v", err)
	}
	// 200 is genotyped twice, once per file
	if strains.Rows != 4 || strains.Written != 6 {
		t.Fatalf("unexpected strain result %+v", strains)
	}
	if n := countRows(t, run.Session, "SELECT COUNT(*) FROM variant_strain vs JOIN variant v ON v.id = vs.variant_id WHERE v.position = 300 AND vs.strain_id = 2"); n != 1 {
		t.Fatal("genotype of the third variant not linked")
	}
}

func TestRunInsertLiftedThenReconcile(t *testing.T) {
	run := newTestRun(t)
	ctx := context.Background()
	dir := t.TempDir()

	mm10 := writeVCF(t, dir, "mm10.vcf", annLine(3421849, "Xkr4", "ENSMUST1.1"))
	if _, err := run.Insert(ctx, InsertOptions{Input: mm10, BatchSize: 10, Assembly: MM10}); err != nil {
		t.Fatalf("Insert mm10: %v", err)
	}

	ann := "ANN=" + annBlock("T", "missense_variant", "MODERATE", "Xkr4", "ENSMUST1.1", "", "")
	mm39 := writeVCF(t, dir, "mm39.vcf",
		vcfLine("1", 3491849, ".", "C", "T", ann+";OriginalContig=chr1;OriginalStart=3421849"))
	result, err := run.Insert(ctx, InsertOptions{Input: mm39, BatchSize: 10, Assembly: MM39, Lifted: true, CheckExisting: true})
	if err != nil {
		t.Fatalf("Insert mm39: %v", err)
	}
	if result.Inserted != 1 || result.Backfilled != 0 {
		t.Fatalf("unexpected lifted result %+v", result)
	}

	reconciled, err := run.ReconcileCanonical(ctx, JobWindow{})
	if err != nil {
		t.Fatalf("ReconcileCanonical: %v", err)
	}
	if reconciled.Written != 1 || reconciled.Skipped != 0 {
		t.Fatalf("unexpected reconcile result %+v", reconciled)
	}
	if n := countRows(t, run.Session, "SELECT COUNT(*) FROM variant_canon_identifier WHERE caid = 'MCA_1'"); n != 2 {
		t.Fatal("lifted variant should share the CAID of its origin")
	}
}

func TestRunInsertParseError(t *testing.T) {
	run := newTestRun(t)
	path := writeVCF(t, t.TempDir(), "bad.vcf", vcfLine("1", 100, ".", "C", "T", "DP=3"))
	_, err := run.Insert(context.Background(), InsertOptions{Input: path, BatchSize: 10, Assembly: MM10})
	if err == nil || !strings.Contains(err.Error(), "line 1") {
		t.Fatalf("expected a located parse error, got %v", err)
	}
	if n := countRows(t, run.Session, "SELECT COUNT(*) FROM variant"); n != 0 {
		t.Fatal("nothing should be written when parsing fails")
	}
}

func TestListInputs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.vcf.gz", "a.vcf", "c.txt", "d.vcf.tbi"} {
		writeVCF(t, dir, name, "")
	}
	if err := os.Mkdir(filepath.Join(dir, "nested.vcf"), 0o755); err != nil {
		t.Fatal(err)
	}

	files, err := ListInputs(dir)
	if err != nil {
		t.Fatalf("ListInputs: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "a.vcf" || filepath.Base(files[1]) != "b.vcf.gz" {
		t.Fatalf("files = %v", files)
	}

	single := filepath.Join(dir, "c.txt")
	if files, err := ListInputs(single); err != nil || len(files) != 1 || files[0] != single {
		t.Fatalf("single file = %v, %v", files, err)
	}
	if files, err := ListInputs("s3://bucket/key.vcf.gz"); err != nil || len(files) != 1 {
		t.Fatalf("s3 location = %v, %v", files, err)
	}
	if _, err := ListInputs(filepath.Join(dir, "missing")); err == nil {
		t.Fatal("expected an error for a missing input")
	}
}

func TestRunCloseWritesMetrics(t *testing.T) {
	config := testConfig()
	config.Database.DSN = filepath.Join(t.TempDir(), "mvar.db")
	config.Metrics.File = filepath.Join(t.TempDir(), "mvarload.prom")
	run, err := NewRun(context.Background(), config, NewNopLogger())
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}
	run.Metrics.VariantsParsed.Add(3)
	if err := run.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	content, err := os.ReadFile(config.Metrics.File)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(content), "mvarload_variants_parsed_total 3") {
		t.Fatalf("metrics file missing counter:\n%s", content)
	}
}
