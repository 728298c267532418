package mvarload_api

import (
	"errors"
	"strings"
	"testing"
)

func TestDecodeRepeatedRecords(t *testing.T) {
	decoder := NewAnnotationSet(nil).Decoder(InfoANN)
	blocks := []string{
		annBlock("T", "missense_variant", "MODERATE", "Xkr4", "ENSMUST00000070533.4", "c.850G>A", "p.(G284S)"),
		annBlock("T", "upstream_gene_variant", "MODIFIER", "Gm1992", "ENSMUST00000161581.1", "", ""),
		annBlock("T", "intron_variant", "MODIFIER", "Gm37381", "ENSMUST00000193812.1", "", ""),
	}
	info := "AC=2;ANN=" + strings.Join(blocks, ",") + ";DP=31"

	records, err := decoder.Decode(info)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i, record := range records {
		if record.Len() != 16 {
			t.Fatalf("record %d: expected 16 values, got %d", i, record.Len())
		}
		fields := record.Fields()
		for j, field := range defaultSchemas[InfoANN] {
			if fields[j] != field {
				t.Fatalf("record %d: field %d is %q, want %q", i, j, fields[j], field)
			}
		}
	}
	if got := records[0].Get("HGVS.p"); got != "p.(G284S)" {
		t.Fatalf("HGVS.p = %q", got)
	}
	if got := records[1].Get("Gene_Name"); got != "Gm1992" {
		t.Fatalf("second record gene = %q", got)
	}
	if got := records[2].Get("Feature_ID"); got != "ENSMUST00000193812.1" {
		t.Fatalf("third record feature = %q", got)
	}
	if got := records[0].Get("no such field"); got != "" {
		t.Fatalf("unknown field = %q", got)
	}
}

func TestDecodeArityMismatch(t *testing.T) {
	decoder := NewAnnotationSet(nil).Decoder(InfoANN)
	good := annBlock("T", "missense_variant", "MODERATE", "Xkr4", "ENSMUST00000070533.4", "", "")
	cases := map[string]string{
		"short":  "ANN=T|missense_variant|MODERATE",
		"long":   "ANN=" + good + "|extra",
		"second": "ANN=" + good + ",T|intron_variant",
	}
	for name, info := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := decoder.Decode(info)
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("expected DecodeError, got %v", err)
			}
			if decodeErr.Expected != 16 || decodeErr.Actual == 16 {
				t.Fatalf("unexpected counts: %+v", decodeErr)
			}
			if !strings.Contains(err.Error(), "expecting ANN identifier to have 16 blocks") {
				t.Fatalf("unexpected message %q", err.Error())
			}
		})
	}
}

func TestDecodeMissingInfoID(t *testing.T) {
	decoder := NewAnnotationSet(nil).Decoder(InfoCSQ)
	_, err := decoder.Decode("AC=2;DP=12")
	if !errors.Is(err, ErrMissingInfoID) {
		t.Fatalf("expected ErrMissingInfoID, got %v", err)
	}
}

func TestDecodeKeepsEmptyFields(t *testing.T) {
	decoder := NewAnnotationSet(nil).Decoder(InfoSVANN)
	records, err := decoder.Decode("SVANN=|||||||")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(records) != 1 || records[0].Len() != 8 {
		t.Fatalf("unexpected records %+v", records)
	}
	for _, value := range records[0].Values() {
		if value != "" {
			t.Fatalf("expected empty values, got %q", value)
		}
	}
}

func TestDecodeDepth(t *testing.T) {
	set := NewAnnotationSet(nil)

	depth, err := set.Decoder(InfoDP).Decode("DP4=1,2,3,4;DP=31")
	if err != nil {
		t.Fatalf("Decode DP: %v", err)
	}
	if got := depth[0].Get("Raw read depth"); got != "31" {
		t.Fatalf("DP = %q, DP must not match DP4", got)
	}

	counts, err := set.Decoder(InfoDP4).Decode("DP=31;DP4=1,2,3,4")
	if err != nil {
		t.Fatalf("Decode DP4: %v", err)
	}
	if len(counts) != 1 || counts[0].Get("alt-reverse") != "4" || counts[0].Get("ref-fwd") != "1" {
		t.Fatalf("unexpected DP4 record %+v", counts)
	}

	if _, err := set.Decoder(InfoDP4).Decode("DP4=1,2,3"); err == nil {
		t.Fatal("expected DP4 arity error")
	}
}

func TestAnnotationSetUsesHeaderSchema(t *testing.T) {
	header := NewHeader()
	if err := header.parse(`##INFO=<ID=CSQ,Number=.,Type=String,Description="Consequence annotations from Ensembl VEP. Format: Allele|Consequence|SYMBOL|Feature|HGVSg">`); err != nil {
		t.Fatalf("parse: %v", err)
	}
	set := NewAnnotationSet(header)

	if fields := set.Decoder(InfoCSQ).Fields(); len(fields) != 5 || fields[4] != "HGVSg" {
		t.Fatalf("unexpected CSQ schema %v", fields)
	}
	if fields := set.Decoder(InfoANN).Fields(); len(fields) != 16 {
		t.Fatalf("ANN should keep the default schema, got %v", fields)
	}
	records, err := set.Decoder(InfoCSQ).Decode("CSQ=T|missense_variant|Xkr4|ENSMUST00000070533|1:g.3421849C>T")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := records[0].Get("HGVSg"); got != "1:g.3421849C>T" {
		t.Fatalf("HGVSg = %q", got)
	}
}
