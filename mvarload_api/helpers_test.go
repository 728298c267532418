package mvarload_api

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// annBlock builds one 16 field snpEff ANN record.
func annBlock(allele, effect, impact, gene, feature, hgvsc, hgvsp string) string {
	return strings.Join([]string{
		allele, effect, impact, gene, "ENSMUSG00000051951", "transcript", feature, "protein_coding",
		"1/3", hgvsc, hgvsp, "", "", "", "", "",
	}, "|")
}

// vcfLine joins the columns of a data line. Sample columns are optional.
func vcfLine(chr string, pos int, id, ref, alt, info string, genotypes ...string) string {
	columns := []string{chr, strconv.Itoa(pos), id, ref, alt, "50", "PASS", info}
	if len(genotypes) > 0 {
		columns = append(columns, "GT:AD")
		columns = append(columns, genotypes...)
	}
	return strings.Join(columns, "\t")
}

func testConfig() *Config {
	config := &Config{}
	config.defineMissing()
	return config
}

// newTestStore opens a SQLite file database with the full schema.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	store, err := OpenStore(ctx, DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "mvar.db")})
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	session, err := store.Session(ctx)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	defer session.Close()
	if err := session.ApplySchema(ctx, testConfig().Staging); err != nil {
		t.Fatalf("ApplySchema: %v", err)
	}
	return store
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	store := newTestStore(t)
	session, err := store.Session(context.Background())
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func mustExec(t *testing.T, s *Session, query string, args ...any) {
	t.Helper()
	if _, err := s.conn.ExecContext(context.Background(), s.conn.Rebind(query), args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

func countRows(t *testing.T, s *Session, query string, args ...any) int {
	t.Helper()
	var n int
	if err := s.conn.GetContext(context.Background(), &n, s.conn.Rebind(query), args...); err != nil {
		t.Fatalf("count %q: %v", query, err)
	}
	return n
}

func parseLines(t *testing.T, options ParserOptions, lines ...string) *VariantSet {
	t.Helper()
	parser := NewVcfStreamParser(nil, options, NewNopLogger())
	set, err := parser.Parse(context.Background(), strings.NewReader(strings.Join(lines, "\n")+"\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return set
}
