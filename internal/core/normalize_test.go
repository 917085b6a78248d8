package core

import (
	"strings"
	"testing"
)

func TestNormalizeSex(t *testing.T) {
	tests := []struct {
		input *string
		want  *string
	}{
		{strPtr("M"), strPtr(SexMale)},
		{strPtr("male"), strPtr(SexMale)},
		{strPtr(" Female "), strPtr(SexFemale)},
		{strPtr("f"), strPtr(SexFemale)},
		{strPtr("nonbinary"), strPtr(SexOther)},
		{strPtr("other"), strPtr(SexOther)},
		{strPtr(""), nil},
		{strPtr("NaN"), nil},
		{nil, nil},
	}

	for _, tt := range tests {
		got := NormalizeSex(tt.input)
		if (got == nil) != (tt.want == nil) || (got != nil && *got != *tt.want) {
			t.Errorf("NormalizeSex(%v) = %v, want %v", deref(tt.input), deref(got), deref(tt.want))
		}
	}
}

func TestNormalizeSubjectInput_AgeBounds(t *testing.T) {
	tests := []struct {
		age     int
		wantErr bool
	}{
		{-1, true},
		{0, false},
		{150, false},
		{151, true},
	}

	for _, tt := range tests {
		_, errs := NormalizeSubjectInput(SubjectInput{Age: intPtr(tt.age)}, true)
		if (len(errs) > 0) != tt.wantErr {
			t.Errorf("age %d: errors = %v, wantErr %v", tt.age, errs, tt.wantErr)
		}
	}
}

func TestNormalizeSubjectInput_ConditionLength(t *testing.T) {
	tests := []struct {
		name      string
		condition string
		wantErr   bool
	}{
		{"ascii at limit", strings.Repeat("a", 100), false},
		{"ascii over limit", strings.Repeat("a", 101), true},
		{"multi-byte under limit", strings.Repeat("é", 60), false},
		{"multi-byte at limit", strings.Repeat("é", 100), false},
		{"multi-byte over limit", strings.Repeat("é", 101), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errs := NormalizeSubjectInput(SubjectInput{Condition: strPtr(tt.condition)}, true)
			if (len(errs) > 0) != tt.wantErr {
				t.Errorf("errors = %v, wantErr %v", errs, tt.wantErr)
			}
		})
	}
}

func TestNormalizeSubjectInput_Strictness(t *testing.T) {
	in := SubjectInput{Sex: strPtr("unknown"), Condition: strPtr("  ")}

	if _, errs := NormalizeSubjectInput(in, true); len(errs) != 1 || errs[0].Field != ColSex {
		t.Errorf("strict errors = %v, want one sex error", errs)
	}

	out, errs := NormalizeSubjectInput(in, false)
	if len(errs) != 0 {
		t.Fatalf("lenient errors = %v, want none", errs)
	}
	if out.Sex == nil || *out.Sex != SexOther {
		t.Errorf("lenient sex = %v, want Other", deref(out.Sex))
	}
	if out.Condition != nil {
		t.Errorf("blank condition = %q, want nil", *out.Condition)
	}
}

func TestNormalizeRow(t *testing.T) {
	fields := map[string]string{
		ColProject:    "prj1",
		ColSubject:    "sbj1",
		ColCondition:  "melanoma",
		ColAge:        "57.0",
		ColSex:        "Male",
		ColTreatment:  "tr1",
		ColResponse:   "yes",
		ColSample:     "s1",
		ColSampleType: "PBMC",
		ColTimeOffset: "0",
		ColBCell:      "36000",
		ColCD8TCell:   "nan",
	}

	row, errs := NormalizeRow(fields)
	if len(errs) != 0 {
		t.Fatalf("NormalizeRow() errors = %v", errs)
	}
	if row.Project != "prj1" || *row.Subject.ExternalID != "sbj1" {
		t.Errorf("identifiers = %q/%q", row.Project, *row.Subject.ExternalID)
	}
	if *row.Subject.Age != 57 || *row.Subject.Sex != SexMale {
		t.Errorf("subject = age %d sex %s, want 57 M", *row.Subject.Age, *row.Subject.Sex)
	}
	if *row.Sample.Treatment != 1 || *row.Sample.SampleType != 1 || !*row.Sample.Response {
		t.Errorf("sample codes = %d/%d/%v, want 1/1/true",
			*row.Sample.Treatment, *row.Sample.SampleType, *row.Sample.Response)
	}
	if row.Sample.CD8TCell != nil {
		t.Errorf("cd8_t_cell = %d, want nil", *row.Sample.CD8TCell)
	}
}

func TestNormalizeRow_CollectsEveryError(t *testing.T) {
	fields := map[string]string{
		ColProject: "",
		ColSubject: "sbj1",
		ColAge:     "200",
		ColBCell:   "-5",
		ColNKCell:  "many",
	}

	_, errs := NormalizeRow(fields)
	got := map[string]bool{}
	for _, e := range errs {
		got[e.Field] = true
	}
	for _, field := range []string{ColProject, ColAge, ColBCell, ColNKCell} {
		if !got[field] {
			t.Errorf("missing error for %s in %v", field, errs)
		}
	}
}

func TestValidateColumns(t *testing.T) {
	if _, err := ValidateColumns([]string{"age", "sex"}); err == nil ||
		!strings.Contains(err.Error(), "project, subject") {
		t.Errorf("ValidateColumns() error = %v, want both required columns named", err)
	}

	report, err := ValidateColumns([]string{"Project", "subject", "age", "notes"})
	if err != nil {
		t.Fatalf("ValidateColumns() error = %v", err)
	}
	if len(report.Extra) != 1 || report.Extra[0] != "notes" {
		t.Errorf("Extra = %v, want [notes]", report.Extra)
	}
	if len(report.Missing) != len(OptionalColumns)-1 {
		t.Errorf("Missing = %d columns, want %d", len(report.Missing), len(OptionalColumns)-1)
	}
}

func TestAttributeKey_NilAndEmptyDiffer(t *testing.T) {
	a := attributeKey(SubjectInput{})
	b := attributeKey(SubjectInput{Condition: strPtr("")})
	c := attributeKey(SubjectInput{Condition: strPtr("-")})
	if a == b || a == c || b == c {
		t.Errorf("attribute keys collide: %q %q %q", a, b, c)
	}
}

func TestParseFailurePolicyAndIdentityMode(t *testing.T) {
	if p, err := ParseFailurePolicy(""); err != nil || p != PolicyWindow {
		t.Errorf("ParseFailurePolicy(\"\") = %q, %v, want window", p, err)
	}
	if _, err := ParseFailurePolicy("session"); err == nil {
		t.Error("ParseFailurePolicy(session) error = nil, want error")
	}
	if m, err := ParseIdentityMode("attributes"); err != nil || m != IdentityAttributes {
		t.Errorf("ParseIdentityMode(attributes) = %q, %v", m, err)
	}
	if _, err := ParseIdentityMode("fuzzy"); err == nil {
		t.Error("ParseIdentityMode(fuzzy) error = nil, want error")
	}
}

func deref(p *string) string {
	if p == nil {
		return "<nil>"
	}
	return *p
}
