package mvarload_api

import (
	"context"
	"io"
	"regexp"
	"strings"
)

var headerLineRegex = regexp.MustCompile(`^##(?P<headerType>[^=]*)=<(?P<content>.*)>$`)

func NewHeader() *Header {
	return &Header{
		Info: map[string]HeaderLineIdNumberTypeDescription{},
	}
}

// ReadHeader reads the meta lines of a VCF (or of a header-only file) and
// stops at the first data line.
func ReadHeader(ctx context.Context, r io.Reader, maxLineBytes int) (*Header, error) {
	header := NewHeader()
	err := ScanLines(ctx, r, maxLineBytes, func(line string, _ int) error {
		if !strings.HasPrefix(line, "#") {
			return errStopScan
		}
		return header.parse(line)
	})
	if err != nil {
		return nil, err
	}
	return header, nil
}

// Clone returns a copy that can be extended without touching header.
func (header *Header) Clone() *Header {
	clone := NewHeader()
	for id, line := range header.Info {
		clone.Info[id] = line
	}
	clone.Other = append([]string(nil), header.Other...)
	clone.Samples = append([]string(nil), header.Samples...)
	return clone
}

func (header *Header) parse(line string) error {
	if strings.HasPrefix(line, "#CHROM") {
		columns := strings.Split(line, "\t")
		header.Samples = nil
		if len(columns) > 9 {
			header.Samples = columns[9:]
		}
		return nil
	}

	matches := headerLineRegex.FindStringSubmatch(line)

	if len(matches) == 0 {
		header.Other = append(header.Other, line)
		return nil
	}

	if matches[1] != "INFO" {
		header.Other = append(header.Other, line)
		return nil
	}
	contentMap := convertLineToMap(matches[2])
	header.Info[contentMap["id"]] = HeaderLineIdNumberTypeDescription{
		Id:          contentMap["id"],
		Number:      contentMap["number"],
		Type:        contentMap["type"],
		Description: contentMap["description"],
	}
	return nil
}

// AnnotationFields returns the field schema declared in the description of
// an INFO line, e.g. Description="Functional annotations: 'Allele | Annotation'".
// The schema is the text after the first ':' split on '|'.
func (header *Header) AnnotationFields(id string) ([]string, bool) {
	if header == nil {
		return nil, false
	}
	line, ok := header.Info[id]
	if !ok {
		return nil, false
	}
	description := strings.Trim(line.Description, "\"")
	_, schema, found := strings.Cut(description, ":")
	if !found {
		return nil, false
	}
	schema = strings.TrimSpace(strings.ReplaceAll(schema, "'", ""))
	if schema == "" || !strings.Contains(schema, "|") {
		return nil, false
	}
	fields := strings.Split(schema, "|")
	for i, field := range fields {
		fields[i] = strings.TrimSpace(field)
	}
	return fields, true
}

// convertLineToMap converts the header line contents to a map suitable to transform to a struct.
// Separators inside a quoted value are kept as part of the value.
func convertLineToMap(line string) map[string]string {
	data := map[string]string{}
	var word strings.Builder
	key := ""
	var quote rune
	for _, letter := range line {
		if quote == 0 {
			if letter == '=' && key == "" {
				key = strings.ToLower(word.String())
				word.Reset()
				continue
			} else if letter == ',' {
				data[key] = word.String()
				key = ""
				word.Reset()
				continue
			}
		}

		word.WriteRune(letter)

		if quote != 0 && letter == quote {
			quote = 0
		} else if quote == 0 && (letter == '"' || letter == '\'') {
			quote = letter
		}
	}
	data[key] = word.String()

	return data
}
