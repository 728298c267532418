package mvarload_api

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingInfoID is returned when an INFO string lacks the decoded id.
var ErrMissingInfoID = errors.New("info id not found")

const (
	InfoANN   = "ANN"
	InfoCSQ   = "CSQ"
	InfoSVANN = "SVANN"
	InfoDP    = "DP"
	InfoDP4   = "DP4"
)

var defaultSchemas = map[string][]string{
	InfoANN: {
		"Allele", "Annotation", "Annotation_Impact", "Gene_Name", "Gene_ID", "Feature_Type", "Feature_ID",
		"Transcript_BioType", "Rank", "HGVS.c", "HGVS.p", "cDNA.pos / cDNA.length", "CDS.pos / CDS.length",
		"AA.pos / AA.length", "Distance", "ERRORS / WARNINGS / INFO",
	},
	InfoCSQ: {
		"Allele", "Gene", "Feature", "Feature_type", "Consequence", "cDNA_position", "CDS_position",
		"Protein_position", "Amino_acids", "Codons", "Existing_variation", "DISTANCE", "STRAND",
	},
	InfoSVANN: {
		"Annotation", "Annotation_Impact", "Gene_Name", "Gene_ID", "Feature_Type", "Feature_ID",
		"Transcript_BioType", "ERRORS / WARNINGS / INFO",
	},
	InfoDP:  {"Raw read depth"},
	InfoDP4: {"ref-fwd", "ref-reverse", "alt-fwd", "alt-reverse"},
}

// DecodeError reports an INFO value that does not match its schema.
type DecodeError struct {
	InfoID   string
	Expected int
	Actual   int
	Missing  bool
}

func (e *DecodeError) Error() string {
	if e.Missing {
		return fmt.Sprintf("info string has no %s identifier", e.InfoID)
	}
	return fmt.Sprintf("expecting %s identifier to have %d blocks, had %d instead", e.InfoID, e.Expected, e.Actual)
}

func (e *DecodeError) Unwrap() error {
	if e.Missing {
		return ErrMissingInfoID
	}
	return nil
}

// AnnotationSchema is the ordered field list of one INFO id.
type AnnotationSchema struct {
	ID     string
	Fields []string
	index  map[string]int
}

func NewAnnotationSchema(id string, fields []string) *AnnotationSchema {
	index := make(map[string]int, len(fields))
	for i, field := range fields {
		if _, ok := index[field]; !ok {
			index[field] = i
		}
	}
	return &AnnotationSchema{ID: id, Fields: fields, index: index}
}

// AnnotationRecord maps the fields of a schema to one decoded value block.
type AnnotationRecord struct {
	schema *AnnotationSchema
	values []string
}

// Get returns the value of field, or "" when the schema has no such field.
func (r AnnotationRecord) Get(field string) string {
	if r.schema == nil {
		return ""
	}
	i, ok := r.schema.index[field]
	if !ok {
		return ""
	}
	return r.values[i]
}

func (r AnnotationRecord) Fields() []string {
	if r.schema == nil {
		return nil
	}
	return r.schema.Fields
}

func (r AnnotationRecord) Values() []string { return r.values }

func (r AnnotationRecord) Len() int { return len(r.values) }

type decoderKind int

const (
	// comma separated records of pipe separated values
	kindRepeated decoderKind = iota
	// one value
	kindSingle
	// one record of comma separated values
	kindFixed
)

// AnnotationDecoder decodes the value of one INFO id into records.
type AnnotationDecoder struct {
	schema *AnnotationSchema
	kind   decoderKind
}

func (d *AnnotationDecoder) InfoID() string { return d.schema.ID }

func (d *AnnotationDecoder) Fields() []string { return d.schema.Fields }

// Decode locates the decoder's id in a full INFO string and decodes its value.
func (d *AnnotationDecoder) Decode(info string) ([]AnnotationRecord, error) {
	value, ok := infoValue(info, d.schema.ID)
	if !ok {
		return nil, &DecodeError{InfoID: d.schema.ID, Missing: true}
	}
	return d.DecodeValue(value)
}

// DecodeValue decodes an already extracted INFO value.
func (d *AnnotationDecoder) DecodeValue(value string) ([]AnnotationRecord, error) {
	expected := len(d.schema.Fields)
	switch d.kind {
	case kindSingle:
		return []AnnotationRecord{{schema: d.schema, values: []string{value}}}, nil
	case kindFixed:
		values := strings.Split(value, ",")
		if len(values) != expected {
			return nil, &DecodeError{InfoID: d.schema.ID, Expected: expected, Actual: len(values)}
		}
		return []AnnotationRecord{{schema: d.schema, values: values}}, nil
	}

	blocks := strings.Split(value, ",")
	records := make([]AnnotationRecord, 0, len(blocks))
	for _, block := range blocks {
		values := strings.Split(block, "|")
		if len(values) != expected {
			return nil, &DecodeError{InfoID: d.schema.ID, Expected: expected, Actual: len(values)}
		}
		records = append(records, AnnotationRecord{schema: d.schema, values: values})
	}
	return records, nil
}

// AnnotationSet holds one decoder per known INFO id.
type AnnotationSet struct {
	decoders map[string]*AnnotationDecoder
}

// NewAnnotationSet builds decoders from the schemas declared in header,
// falling back to the built-in schema for ids the header does not describe.
func NewAnnotationSet(header *Header) *AnnotationSet {
	set := &AnnotationSet{decoders: map[string]*AnnotationDecoder{}}
	for id, fields := range defaultSchemas {
		kind := kindRepeated
		switch id {
		case InfoDP:
			kind = kindSingle
		case InfoDP4:
			kind = kindFixed
		default:
			if declared, ok := header.AnnotationFields(id); ok {
				fields = declared
			}
		}
		set.decoders[id] = &AnnotationDecoder{schema: NewAnnotationSchema(id, fields), kind: kind}
	}
	return set
}

// Decoder returns the decoder for id, or nil if id is unknown.
func (s *AnnotationSet) Decoder(id string) *AnnotationDecoder {
	return s.decoders[id]
}

// infoValue finds key in a semicolon separated INFO string.
// Keys match exactly, so DP never matches DP4.
func infoValue(info, key string) (string, bool) {
	for _, entry := range strings.Split(info, ";") {
		name, value, _ := strings.Cut(entry, "=")
		if name == key {
			return value, true
		}
	}
	return "", false
}
