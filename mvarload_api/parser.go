package mvarload_api

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// VariantSet is an insertion ordered set of records keyed by RefTxt.
// Putting an existing key replaces the record and keeps the original position.
type VariantSet struct {
	keys        []string
	records     map[string]*VariantRecord
	overwritten int
}

func NewVariantSet() *VariantSet {
	return &VariantSet{records: map[string]*VariantRecord{}}
}

// Put stores record and returns the record it replaced, if any.
func (s *VariantSet) Put(record *VariantRecord) (*VariantRecord, bool) {
	previous, ok := s.records[record.RefTxt]
	if ok {
		s.overwritten++
	} else {
		s.keys = append(s.keys, record.RefTxt)
	}
	s.records[record.RefTxt] = record
	return previous, ok
}

func (s *VariantSet) Get(refTxt string) (*VariantRecord, bool) {
	record, ok := s.records[refTxt]
	return record, ok
}

func (s *VariantSet) Len() int { return len(s.keys) }

// Overwritten counts the lines that replaced an earlier line with the same key.
func (s *VariantSet) Overwritten() int { return s.overwritten }

func (s *VariantSet) Keys() []string {
	return append([]string(nil), s.keys...)
}

func (s *VariantSet) Records() []*VariantRecord {
	out := make([]*VariantRecord, len(s.keys))
	for i, key := range s.keys {
		out[i] = s.records[key]
	}
	return out
}

type ParserOptions struct {
	// Lifted enables the origin reference text of liftover imports
	Lifted       bool
	MaxLineBytes int
}

// VcfStreamParser turns VCF lines into a VariantSet.
type VcfStreamParser struct {
	header      *Header
	annotations *AnnotationSet
	options     ParserOptions
	logger      *Logger
}

// NewVcfStreamParser creates a parser. header may be nil, or hold the meta
// lines of a separate header file; meta lines found in the stream are added to it.
func NewVcfStreamParser(header *Header, options ParserOptions, logger *Logger) *VcfStreamParser {
	if header == nil {
		header = NewHeader()
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	return &VcfStreamParser{header: header, options: options, logger: logger}
}

func (p *VcfStreamParser) Header() *Header { return p.header }

// Parse reads every line of r. Any malformed data line aborts the parse.
func (p *VcfStreamParser) Parse(ctx context.Context, r io.Reader) (*VariantSet, error) {
	set := NewVariantSet()
	err := ScanLines(ctx, r, p.options.MaxLineBytes, func(line string, lineNo int) error {
		if strings.HasPrefix(line, "#") {
			return p.header.parse(line)
		}
		record, err := p.ParseLine(line, lineNo)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if previous, replaced := set.Put(record); replaced {
			p.logger.Warn("duplicate variant, keeping the later line",
				"ref_txt", record.RefTxt, "line", lineNo, "previous_line", previous.Line)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

// ParseLine builds a record from one data line.
func (p *VcfStreamParser) ParseLine(line string, lineNo int) (*VariantRecord, error) {
	data := strings.Split(line, "\t")
	if len(data) < 8 {
		return nil, fmt.Errorf("expected at least 8 columns, found %d", len(data))
	}
	pos, err := strconv.ParseInt(data[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse position %q: %w", data[1], err)
	}

	record := NewVariantRecord(data[0], pos, data[3], data[4])
	record.Id = data[2]
	record.Qual = data[5]
	record.Filter = data[6]
	record.Line = lineNo
	if len(data) > 8 {
		record.Format = data[8]
	}
	if len(data) > 9 {
		record.Genotypes = strings.Join(data[9:], "\t")
	}
	if samples := len(p.header.Samples); samples > 0 && len(data)-9 != samples {
		return nil, fmt.Errorf("expected %d sample columns, found %d", samples, max(len(data)-9, 0))
	}

	if err := p.annotate(record, data[7]); err != nil {
		return nil, err
	}
	return record, nil
}

func (p *VcfStreamParser) annotate(record *VariantRecord, info string) error {
	if p.annotations == nil {
		p.annotations = NewAnnotationSet(p.header)
	}

	functional := InfoANN
	value, ok := infoValue(info, InfoANN)
	if !ok {
		functional = InfoSVANN
		value, ok = infoValue(info, InfoSVANN)
	}
	if !ok {
		return &DecodeError{InfoID: InfoANN, Missing: true}
	}
	annotations, err := p.annotations.Decoder(functional).DecodeValue(value)
	if err != nil {
		return err
	}
	record.Annotation = value
	record.Annotations = annotations

	if value, ok := infoValue(info, InfoCSQ); ok {
		consequences, err := p.annotations.Decoder(InfoCSQ).DecodeValue(value)
		if err != nil {
			return err
		}
		record.Consequences = consequences
	}

	if value, ok := infoValue(info, InfoDP); ok {
		record.Depth = value
	}

	if record.Id == "" || record.Id == "." {
		record.Id = firstField(record.Consequences, "Existing_variation")
	}

	if hgvsg := firstField(record.Consequences, "HGVSg"); hgvsg != "" {
		if _, after, found := strings.Cut(hgvsg, ":"); found {
			hgvsg = after
		}
		record.Hgvsg = hgvsg
	}

	position := firstField(record.Consequences, "Protein_position")
	change := firstField(record.Consequences, "Amino_acids")
	if position == "" && change == "" {
		position, change = ParseProteinChange(firstField(record.Annotations, "HGVS.p"))
	}
	record.ProteinPosition = position
	record.AminoAcidChange = change

	if p.options.Lifted {
		return setOrigin(record, info)
	}
	return nil
}

// setOrigin derives the pre-liftover key from the LiftoverVcf INFO tags.
func setOrigin(record *VariantRecord, info string) error {
	start, ok := infoValue(info, "OriginalStart")
	if !ok || start == "" {
		return &DecodeError{InfoID: "OriginalStart", Missing: true}
	}
	pos, err := strconv.ParseInt(start, 10, 64)
	if err != nil {
		return fmt.Errorf("parse OriginalStart %q: %w", start, err)
	}
	contig := record.Chromosome
	if original, ok := infoValue(info, "OriginalContig"); ok && original != "" {
		contig = NormalizeChromosome(original)
	}
	record.OriginRefTxt = RefTxt(contig, pos, record.Ref, record.Alt)
	return nil
}

// ExistenceLookup finds the persisted ids of variant keys for one assembly.
type ExistenceLookup interface {
	ExistingVariantIDs(ctx context.Context, refTxts []string, assembly Assembly) (map[string]int64, error)
}

// MarkExisting flags every record of set that is already stored and returns how many were found.
func MarkExisting(ctx context.Context, lookup ExistenceLookup, set *VariantSet, assembly Assembly) (int, error) {
	if set.Len() == 0 {
		return 0, nil
	}
	ids, err := lookup.ExistingVariantIDs(ctx, set.Keys(), assembly)
	if err != nil {
		return 0, fmt.Errorf("check existing variants: %w", err)
	}
	found := 0
	for key, id := range ids {
		if record, ok := set.Get(key); ok {
			record.Status = Existing{ID: id}
			found++
		}
	}
	return found, nil
}
