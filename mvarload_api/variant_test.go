package mvarload_api

import "testing"

func TestInferType(t *testing.T) {
	cases := []struct {
		ref, alt string
		want     VariantType
	}{
		{"C", "T", TypeSNP},
		{"CA", "GT", TypeSNP},
		{"C", "CTT", TypeIns},
		{"CTT", "C", TypeDel},
		{"C", "<DUP>", TypeGain},
		{"C", "DUP", TypeGain},
		{"N", "<DEL>", TypeLoss},
		{"ACGTACGT", "<DEL>", TypeLoss},
		{"C", "DEL", TypeLoss},
		{"C", "<INV>", TypeInv},
		{"C", "INV", TypeInv},
	}
	for _, tc := range cases {
		if got := InferType(tc.ref, tc.alt); got != tc.want {
			t.Errorf("InferType(%q, %q) = %s, want %s", tc.ref, tc.alt, got, tc.want)
		}
	}
}

func TestNormalizeChromosome(t *testing.T) {
	cases := map[string]string{
		"chr1":  "1",
		"chrX":  "X",
		"1":     "1",
		"MT":    "MT",
		"chrUn": "Un",
		// the removal is not anchored to a prefix
		"scaffold_r2": "scaffold_2",
	}
	for in, want := range cases {
		if got := NormalizeChromosome(in); got != want {
			t.Errorf("NormalizeChromosome(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRefTxtIdentity(t *testing.T) {
	a := NewVariantRecord("chr1", 3421849, "C", "T")
	b := NewVariantRecord("1", 3421849, "C", "T")
	if a.RefTxt != "1_3421849_C_T" || a.RefTxt != b.RefTxt {
		t.Fatalf("unexpected keys %q %q", a.RefTxt, b.RefTxt)
	}
	for _, other := range []*VariantRecord{
		NewVariantRecord("2", 3421849, "C", "T"),
		NewVariantRecord("1", 3421850, "C", "T"),
		NewVariantRecord("1", 3421849, "G", "T"),
		NewVariantRecord("1", 3421849, "C", "A"),
	} {
		if other.RefTxt == a.RefTxt {
			t.Fatalf("%q should differ from %q", other.RefTxt, a.RefTxt)
		}
	}
	if _, ok := a.Status.(Pending); !ok {
		t.Fatalf("new record should be pending, got %T", a.Status)
	}
}

func TestParseProteinChange(t *testing.T) {
	cases := []struct {
		in, position, change string
	}{
		{"p.(G284S)", "284", "G/S"},
		{"p.Gly284Ser", "284", "G/S"},
		{"p.(Gln12*)", "12", "Q/*"},
		{"p.Gln12Ter", "12", "Q/*"},
		{"p.Gly284fs", "284", ""},
		{"p.(%3D)", "", ""},
		{"p.Leu5=", "", ""},
		{"", "", ""},
		{"c.850G>A", "", ""},
	}
	for _, tc := range cases {
		position, change := ParseProteinChange(tc.in)
		if position != tc.position || change != tc.change {
			t.Errorf("ParseProteinChange(%q) = %q, %q; want %q, %q", tc.in, position, change, tc.position, tc.change)
		}
	}
}

func TestStripTranscriptVersion(t *testing.T) {
	cases := map[string]string{
		"ENSMUST00000070533.4": "ENSMUST00000070533",
		"ENSMUST00000070533":   "ENSMUST00000070533",
		"":                     "",
	}
	for in, want := range cases {
		if got := StripTranscriptVersion(in); got != want {
			t.Errorf("StripTranscriptVersion(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestJoinField(t *testing.T) {
	decoder := NewAnnotationSet(nil).Decoder(InfoANN)
	records, err := decoder.DecodeValue(
		annBlock("T", "missense_variant", "MODERATE", "Xkr4", "ENSMUST00000070533.4", "c.850G>A", "") + "," +
			annBlock("T", "intron_variant", "MODIFIER", "Xkr4", "ENSMUST00000193812.1", "", ""))
	if err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	if got := joinField(records, "Annotation"); got != "missense_variant,intron_variant" {
		t.Fatalf("Annotation = %q", got)
	}
	if got := joinField(records, "HGVS.c"); got != "c.850G>A," {
		t.Fatalf("HGVS.c = %q", got)
	}
	if got := joinField(records, "HGVS.p"); got != "" {
		t.Fatalf("all empty HGVS.p should be empty, got %q", got)
	}
}
