package core

// validation.go checks ingestion headers and field values.
//
// Validation happens at two levels:
//  1. Header validation: project and subject columns must be present
//  2. Field validation: ranges and formats for subject and sample values
//
// Field validation never stops at the first problem; callers receive every
// FieldError for the record so an API client can fix them in one pass.

import (
	"fmt"
	"sort"
	"strings"
)

// Ingestion column names.
const (
	ColProject    = "project"
	ColSubject    = "subject"
	ColCondition  = "condition"
	ColAge        = "age"
	ColSex        = "sex"
	ColTreatment  = "treatment"
	ColResponse   = "response"
	ColSample     = "sample"
	ColSampleType = "sample_type"
	ColTimeOffset = "time_from_treatment_start"
	ColBCell      = "b_cell"
	ColCD8TCell   = "cd8_t_cell"
	ColCD4TCell   = "cd4_t_cell"
	ColNKCell     = "nk_cell"
	ColMonocyte   = "monocyte"
)

// RequiredColumns must be present in every ingestion input.
var RequiredColumns = []string{ColProject, ColSubject}

// OptionalColumns are read when present and treated as all-null otherwise.
var OptionalColumns = []string{
	ColCondition, ColAge, ColSex, ColTreatment, ColResponse, ColSample,
	ColSampleType, ColTimeOffset, ColBCell, ColCD8TCell, ColCD4TCell,
	ColNKCell, ColMonocyte,
}

// Limits on subject attributes.
const (
	MaxConditionLength = 100
	MinAge             = 0
	MaxAge             = 150
)

// FieldError is a single field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// ColumnReport describes how an input header lines up with the known columns.
type ColumnReport struct {
	Index   HeaderIndex
	Missing []string // optional columns not present
	Extra   []string // columns that will be ignored
}

// ValidateColumns checks that the required columns exist in header.
// It returns a validation error naming every missing required column.
func ValidateColumns(header []string) (*ColumnReport, error) {
	idx := MakeHeaderIndex(header)

	var missing []string
	for _, col := range RequiredColumns {
		if !idx.Has(col) {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, NewValidationError("missing required columns: " + strings.Join(missing, ", "))
	}

	report := &ColumnReport{Index: idx}
	known := make(map[string]bool, len(RequiredColumns)+len(OptionalColumns))
	for _, col := range RequiredColumns {
		known[col] = true
	}
	for _, col := range OptionalColumns {
		known[col] = true
		if !idx.Has(col) {
			report.Missing = append(report.Missing, col)
		}
	}
	for col := range idx {
		if col != "" && !known[col] {
			report.Extra = append(report.Extra, col)
		}
	}
	sort.Strings(report.Extra)
	return report, nil
}

// fieldErrors accumulates FieldErrors for one record.
type fieldErrors []FieldError

func (fe *fieldErrors) add(field, value, format string, args ...any) {
	*fe = append(*fe, FieldError{Field: field, Value: value, Message: fmt.Sprintf(format, args...)})
}

// checkAge enforces the inclusive age range.
func (fe *fieldErrors) checkAge(age *int) {
	if age != nil && (*age < MinAge || *age > MaxAge) {
		fe.add(ColAge, fmt.Sprint(*age), "must be between %d and %d", MinAge, MaxAge)
	}
}

func (fe *fieldErrors) checkMin(field string, v *int, lo int) {
	if v != nil && *v < lo {
		fe.add(field, fmt.Sprint(*v), "must be at least %d", lo)
	}
}

// ValidateSampleInput checks the ranges of a typed sample.
func ValidateSampleInput(in SampleInput) []FieldError {
	var fe fieldErrors
	if in.ProjectID <= 0 {
		fe.add("project_id", fmt.Sprint(in.ProjectID), "must be a positive id")
	}
	if in.SubjectID <= 0 {
		fe.add("subject_id", fmt.Sprint(in.SubjectID), "must be a positive id")
	}
	fe.checkSampleValues(in.Treatment, in.SampleType, in.TimeFromTreatmentStart, in.CellCounts)
	return fe
}

func (fe *fieldErrors) checkSampleValues(treatment, sampleType, offset *int, cc CellCounts) {
	fe.checkMin(ColTreatment, treatment, 0)
	fe.checkMin(ColSampleType, sampleType, 1)
	fe.checkMin(ColTimeOffset, offset, 0)
	fe.checkMin(ColBCell, cc.BCell, 0)
	fe.checkMin(ColCD8TCell, cc.CD8TCell, 0)
	fe.checkMin(ColCD4TCell, cc.CD4TCell, 0)
	fe.checkMin(ColNKCell, cc.NKCell, 0)
	fe.checkMin(ColMonocyte, cc.Monocyte, 0)
}
