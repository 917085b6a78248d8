package core

import (
	"testing"
)

// ----------------------------------------------------------------------------
// CleanCell Tests
// ----------------------------------------------------------------------------

func TestCleanCell(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "simple string unchanged", input: "hello", want: "hello"},
		{name: "empty string", input: "", want: ""},
		{name: "surrounded by whitespace", input: "  hello  ", want: "hello"},
		{name: "Excel formula with quotes", input: `="12345"`, want: "12345"},
		{name: "excel formula with whitespace", input: `  ="test"  `, want: "test"},
		{name: "bare formula kept", input: "=SUM(A1)", want: "=SUM(A1)"},
		{name: "double quotes removed", input: `"hello"`, want: "hello"},
		{name: "leading single quote (Excel text prefix)", input: "'12345", want: "12345"},
		{name: "only quotes", input: `""`, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanCell(tt.input); got != tt.want {
				t.Errorf("CleanCell(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsNullToken(t *testing.T) {
	for _, s := range []string{"", "  ", "nan", "NaN", "None", "NULL"} {
		if !IsNullToken(s) {
			t.Errorf("IsNullToken(%q) = false, want true", s)
		}
	}
	for _, s := range []string{"0", "n/a", "nancy"} {
		if IsNullToken(s) {
			t.Errorf("IsNullToken(%q) = true, want false", s)
		}
	}
}

// ----------------------------------------------------------------------------
// MakeHeaderIndex Tests
// ----------------------------------------------------------------------------

func TestMakeHeaderIndex(t *testing.T) {
	idx := MakeHeaderIndex([]string{" Project ", `"Subject"`, "AGE", "project"})

	checks := map[string]int{"project": 0, "subject": 1, "age": 2}
	for key, want := range checks {
		if got, ok := idx[key]; !ok || got != want {
			t.Errorf("MakeHeaderIndex()[%q] = %d (present %v), want %d", key, got, ok, want)
		}
	}

	record := []string{"p1", " s1 "}
	if got := idx.Cell(record, "subject"); got != "s1" {
		t.Errorf("Cell(subject) = %q, want s1", got)
	}
	if got := idx.Cell(record, "age"); got != "" {
		t.Errorf("Cell(age) on short record = %q, want empty", got)
	}
	if got := idx.Cell(record, "missing"); got != "" {
		t.Errorf("Cell(missing) = %q, want empty", got)
	}
}

// ----------------------------------------------------------------------------
// Value Parser Tests
// ----------------------------------------------------------------------------

func TestParseWhole(t *testing.T) {
	tests := []struct {
		input   string
		want    *int
		wantErr bool
	}{
		{input: "35", want: intPtr(35)},
		{input: "35.0", want: intPtr(35)},
		{input: " 1e3 ", want: intPtr(1000)},
		{input: "-4", want: intPtr(-4)},
		{input: "", want: nil},
		{input: "nan", want: nil},
		{input: "inf", want: nil},
		{input: "1e400", want: nil},
		{input: "-1e400", want: nil},
		{input: "35.5", wantErr: true},
		{input: "abc", wantErr: true},
		{input: "1e12", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseWhole(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseWhole(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !equalIntPtr(got, tt.want) {
				t.Errorf("ParseWhole(%q) = %v, want %v", tt.input, fmtIntPtr(got), fmtIntPtr(tt.want))
			}
		})
	}
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		input string
		want  *bool
	}{
		{"true", boolPtr(true)},
		{"Yes", boolPtr(true)},
		{"1.0", boolPtr(true)},
		{"F", boolPtr(false)},
		{"no", boolPtr(false)},
		{"0", boolPtr(false)},
		{"maybe", nil},
		{"", nil},
	}

	for _, tt := range tests {
		got := ParseResponse(tt.input)
		if (got == nil) != (tt.want == nil) || (got != nil && *got != *tt.want) {
			t.Errorf("ParseResponse(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestMapTreatment(t *testing.T) {
	tests := []struct {
		input   string
		want    *int
		wantErr bool
	}{
		{input: "tr1", want: intPtr(1)},
		{input: "TR 2", want: intPtr(2)},
		{input: "1", want: intPtr(1)},
		{input: "3", want: intPtr(3)},
		{input: "placebo", want: nil},
		{input: "", want: nil},
		{input: "1.5", wantErr: true},
	}

	for _, tt := range tests {
		got, err := MapTreatment(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("MapTreatment(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if !equalIntPtr(got, tt.want) {
			t.Errorf("MapTreatment(%q) = %v, want %v", tt.input, fmtIntPtr(got), fmtIntPtr(tt.want))
		}
	}
}

func TestMapSampleType(t *testing.T) {
	tests := []struct {
		input string
		want  *int
	}{
		{"PBMC", intPtr(1)},
		{"tumor", intPtr(2)},
		{"2", intPtr(2)},
		{"blood", nil},
		{"None", nil},
	}

	for _, tt := range tests {
		got, err := MapSampleType(tt.input)
		if err != nil {
			t.Errorf("MapSampleType(%q) error = %v", tt.input, err)
			continue
		}
		if !equalIntPtr(got, tt.want) {
			t.Errorf("MapSampleType(%q) = %v, want %v", tt.input, fmtIntPtr(got), fmtIntPtr(tt.want))
		}
	}
}

func equalIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func fmtIntPtr(p *int) any {
	if p == nil {
		return "<nil>"
	}
	return *p
}

func boolPtr(b bool) *bool { return &b }
