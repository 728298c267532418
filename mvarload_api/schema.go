package mvarload_api

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// schemaDDL is the relational schema the loader writes to. The tokens
// {{id}}, {{text}} and the staging table names are filled in per dialect.
const schemaDDL = `
-- reference data
CREATE TABLE IF NOT EXISTS gene (
	id {{id}},
	symbol VARCHAR(255) NOT NULL
);
CREATE TABLE IF NOT EXISTS synonym (
	id {{id}},
	name VARCHAR(255) NOT NULL
);
CREATE TABLE IF NOT EXISTS gene_synonym (
	gene_synonyms_id BIGINT NOT NULL,
	synonym_id BIGINT NOT NULL,
	FOREIGN KEY (gene_synonyms_id) REFERENCES gene (id),
	FOREIGN KEY (synonym_id) REFERENCES synonym (id)
);
CREATE TABLE IF NOT EXISTS transcript (
	id {{id}},
	primary_identifier VARCHAR(255) NOT NULL
);
CREATE TABLE IF NOT EXISTS source (
	id {{id}},
	name VARCHAR(255) NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS strain (
	id {{id}},
	name VARCHAR(255) NOT NULL
);
CREATE TABLE IF NOT EXISTS mvar_strain (
	id {{id}},
	name VARCHAR(255) NOT NULL,
	strain_id BIGINT NOT NULL UNIQUE,
	FOREIGN KEY (strain_id) REFERENCES strain (id)
);
CREATE TABLE IF NOT EXISTS imputed (
	id {{id}},
	imputed SMALLINT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS mvar_strain_imputed (
	mvar_strain_imputeds_id BIGINT NOT NULL,
	imputed_id BIGINT NOT NULL,
	FOREIGN KEY (mvar_strain_imputeds_id) REFERENCES mvar_strain (id),
	FOREIGN KEY (imputed_id) REFERENCES imputed (id)
);

-- variants
CREATE TABLE IF NOT EXISTS variant_canon_identifier (
	id {{id}},
	version BIGINT NOT NULL DEFAULT 0,
	variant_ref_txt VARCHAR(255) NOT NULL,
	caid VARCHAR(64)
);
CREATE TABLE IF NOT EXISTS variant (
	id {{id}},
	accession VARCHAR(255),
	chr VARCHAR(32) NOT NULL,
	position BIGINT NOT NULL,
	alt {{text}} NOT NULL,
	ref {{text}} NOT NULL,
	type VARCHAR(8) NOT NULL,
	functional_class_code {{text}},
	assembly VARCHAR(16) NOT NULL,
	parent_ref_ind BOOLEAN NOT NULL,
	variant_ref_txt VARCHAR(255) NOT NULL,
	variant_hgvs_notation {{text}},
	dna_hgvs_notation {{text}},
	protein_hgvs_notation {{text}},
	impact {{text}},
	canon_var_identifier_id BIGINT NOT NULL,
	gene_id BIGINT,
	protein_position VARCHAR(64),
	amino_acid_change VARCHAR(64),
	UNIQUE (variant_ref_txt, assembly),
	FOREIGN KEY (canon_var_identifier_id) REFERENCES variant_canon_identifier (id),
	FOREIGN KEY (gene_id) REFERENCES gene (id)
);

-- relationships
CREATE TABLE IF NOT EXISTS variant_transcript (
	variant_transcripts_id BIGINT NOT NULL,
	transcript_id BIGINT NOT NULL,
	most_pathogenic BOOLEAN NOT NULL,
	FOREIGN KEY (variant_transcripts_id) REFERENCES variant (id),
	FOREIGN KEY (transcript_id) REFERENCES transcript (id)
);
CREATE TABLE IF NOT EXISTS variant_source (
	variant_sources_id BIGINT NOT NULL,
	source_id BIGINT NOT NULL,
	FOREIGN KEY (variant_sources_id) REFERENCES variant (id),
	FOREIGN KEY (source_id) REFERENCES source (id)
);
CREATE TABLE IF NOT EXISTS variant_strain (
	variant_id BIGINT NOT NULL,
	strain_id BIGINT NOT NULL,
	genotype VARCHAR(32) NOT NULL,
	imputed SMALLINT NOT NULL DEFAULT 0,
	FOREIGN KEY (variant_id) REFERENCES variant (id),
	FOREIGN KEY (strain_id) REFERENCES strain (id)
);

-- staging queues
CREATE TABLE IF NOT EXISTS {{transcripts}} (
	id {{id}},
	variant_id BIGINT NOT NULL,
	variant_ref_txt VARCHAR(255) NOT NULL,
	transcript_ids {{text}},
	transcript_feature_ids {{text}}
);
CREATE TABLE IF NOT EXISTS {{genotypes}} (
	id {{id}},
	variant_id BIGINT NOT NULL,
	format VARCHAR(255),
	genotype_data {{text}} NOT NULL
);
CREATE TABLE IF NOT EXISTS {{assembly_xref}} (
	id {{id}},
	lifted_ref_txt VARCHAR(255) NOT NULL,
	origin_ref_txt VARCHAR(255) NOT NULL
);
`

// SchemaDDL renders the schema for dialect and the configured staging tables.
func SchemaDDL(dialect Dialect, staging StagingConfig) string {
	idType := "INTEGER PRIMARY KEY"
	textType := "TEXT"
	switch dialect {
	case DialectPostgres:
		idType = "BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY"
	case DialectMySQL:
		idType = "BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY"
		textType = "LONGTEXT"
	}
	return strings.NewReplacer(
		"{{id}}", idType,
		"{{text}}", textType,
		"{{transcripts}}", staging.Transcripts,
		"{{genotypes}}", staging.Genotypes,
		"{{assembly_xref}}", staging.AssemblyXref,
	).Replace(schemaDDL)
}

// ApplySchema creates the missing tables.
func (s *Session) ApplySchema(ctx context.Context, staging StagingConfig) error {
	for _, stmt := range SplitStatements(SchemaDDL(s.dialect, staging)) {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// SplitStatements splits a semicolon-terminated DDL script into executable statements.
// It drops blank lines and single-line comments that start with "--".
func SplitStatements(ddl string) []string {
	scanner := bufio.NewScanner(strings.NewReader(ddl))
	var stmts []string
	var current strings.Builder

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
		current.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}
	flush()

	return stmts
}

func firstLine(stmt string) string {
	line, _, _ := strings.Cut(stmt, "\n")
	return line
}
