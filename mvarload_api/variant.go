package mvarload_api

import (
	"regexp"
	"strconv"
	"strings"
)

var proteinChangeRegex = regexp.MustCompile(`^([A-Z][a-z]{2}|[A-Z*])(\d+)([A-Z][a-z]{2}|[A-Z*])?`)

var threeLetterResidues = map[string]string{
	"Ala": "A", "Arg": "R", "Asn": "N", "Asp": "D", "Cys": "C", "Gln": "Q", "Glu": "E",
	"Gly": "G", "His": "H", "Ile": "I", "Leu": "L", "Lys": "K", "Met": "M", "Phe": "F",
	"Pro": "P", "Ser": "S", "Thr": "T", "Trp": "W", "Tyr": "Y", "Val": "V", "Sec": "U",
	"Pyl": "O", "Ter": "*", "Xaa": "X",
}

// NormalizeChromosome removes every "ch" and "r" from chr, so "chr1" and "chrX" become "1" and "X".
func NormalizeChromosome(chr string) string {
	return strings.ReplaceAll(strings.ReplaceAll(chr, "ch", ""), "r", "")
}

// InferType classifies a variant from its alleles. Symbolic alleles win over length comparisons.
func InferType(ref, alt string) VariantType {
	switch alt {
	case "DUP", "<DUP>":
		return TypeGain
	case "DEL", "<DEL>":
		return TypeLoss
	case "INV", "<INV>":
		return TypeInv
	}
	switch {
	case len(ref) < len(alt):
		return TypeIns
	case len(ref) > len(alt):
		return TypeDel
	}
	return TypeSNP
}

// RefTxt builds the chr_pos_ref_alt key of a variant.
func RefTxt(chr string, pos int64, ref, alt string) string {
	var b strings.Builder
	b.Grow(len(chr) + len(ref) + len(alt) + 24)
	b.WriteString(chr)
	b.WriteByte('_')
	b.WriteString(strconv.FormatInt(pos, 10))
	b.WriteByte('_')
	b.WriteString(ref)
	b.WriteByte('_')
	b.WriteString(alt)
	return b.String()
}

// NewVariantRecord creates a pending record with the derived fields set.
func NewVariantRecord(chr string, pos int64, ref, alt string) *VariantRecord {
	chromosome := NormalizeChromosome(chr)
	return &VariantRecord{
		Chromosome: chromosome,
		Pos:        pos,
		Ref:        ref,
		Alt:        alt,
		Type:       InferType(ref, alt),
		RefTxt:     RefTxt(chromosome, pos, ref, alt),
		Status:     Pending{},
	}
}

// ParseProteinChange reads the residue position and change out of an HGVS.p
// notation such as "p.(G284S)" or "p.Gly284Ser". Synonymous and unparseable
// notations yield empty strings.
func ParseProteinChange(hgvsp string) (position string, change string) {
	notation := strings.TrimPrefix(hgvsp, "p.")
	notation = strings.TrimSuffix(strings.TrimPrefix(notation, "("), ")")
	if notation == "" || strings.Contains(notation, "%3D") || strings.Contains(notation, "=") {
		return "", ""
	}
	matches := proteinChangeRegex.FindStringSubmatch(notation)
	if matches == nil {
		return "", ""
	}
	position = matches[2]
	if matches[3] == "" {
		return position, ""
	}
	return position, foldResidue(matches[1]) + "/" + foldResidue(matches[3])
}

func foldResidue(residue string) string {
	if one, ok := threeLetterResidues[residue]; ok {
		return one
	}
	return residue
}

// StripTranscriptVersion drops the ".N" version suffix of a transcript accession.
func StripTranscriptVersion(id string) string {
	if i := strings.LastIndexByte(id, '.'); i > 0 {
		return id[:i]
	}
	return id
}

// joinField comma-joins field over records. All-empty values yield "", stored as NULL.
func joinField(records []AnnotationRecord, field string) string {
	values := make([]string, len(records))
	empty := true
	for i, record := range records {
		values[i] = record.Get(field)
		if values[i] != "" {
			empty = false
		}
	}
	if empty {
		return ""
	}
	return strings.Join(values, ",")
}

func firstField(records []AnnotationRecord, field string) string {
	if len(records) == 0 {
		return ""
	}
	return records[0].Get(field)
}
