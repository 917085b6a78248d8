package core

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// NormalizeSex maps free-text sex values to a canonical code.
// M and MALE map to "M", F and FEMALE map to "F" (case-insensitive);
// any other non-blank value maps to "Other" and nil stays nil.
func NormalizeSex(sex *string) *string {
	if sex == nil {
		return nil
	}
	s := strings.ToUpper(strings.TrimSpace(*sex))
	if IsNullToken(s) {
		return nil
	}
	switch s {
	case "M", "MALE":
		return strPtr(SexMale)
	case "F", "FEMALE":
		return strPtr(SexFemale)
	}
	return strPtr(SexOther)
}

// validSexToken reports whether s is accepted under strict validation.
func validSexToken(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "M", "F", "MALE", "FEMALE", "OTHER":
		return true
	}
	return false
}

// NormalizeCondition trims a condition; blank becomes nil.
func NormalizeCondition(condition *string) *string {
	return trimOrNil(condition)
}

// trimOrNil trims s and maps blank and null tokens to nil.
func trimOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if IsNullToken(t) {
		return nil
	}
	return &t
}

// NormalizeSubjectInput validates and normalizes a typed subject.
// In strict mode an unrecognized sex token is rejected rather than
// mapped to "Other".
func NormalizeSubjectInput(in SubjectInput, strict bool) (SubjectInput, []FieldError) {
	var fe fieldErrors

	out := SubjectInput{CreatedAt: in.CreatedAt}
	out.ExternalID = trimOrNil(in.ExternalID)
	out.Condition = NormalizeCondition(in.Condition)
	if out.Condition != nil && utf8.RuneCountInString(*out.Condition) > MaxConditionLength {
		fe.add(ColCondition, "", "must be at most %d characters", MaxConditionLength)
	}

	out.Age = in.Age
	fe.checkAge(out.Age)

	if in.Sex != nil && strict && !IsNullToken(*in.Sex) && !validSexToken(*in.Sex) {
		fe.add(ColSex, *in.Sex, "must be one of M, F, Male, Female, Other")
	}
	out.Sex = NormalizeSex(in.Sex)

	return out, fe
}

// NormalizeSubject builds a subject from raw column values.
func NormalizeSubject(fields map[string]string, strict bool) (SubjectInput, []FieldError) {
	var fe fieldErrors
	in := SubjectInput{}

	if v, ok := fields[ColCondition]; ok {
		in.Condition = &v
	}
	if v, ok := fields[ColSex]; ok {
		in.Sex = &v
	}
	if v, ok := fields[ColSubject]; ok {
		in.ExternalID = &v
	}
	age, err := ParseWhole(fields[ColAge])
	if err != nil {
		fe.add(ColAge, fields[ColAge], "%v", err)
	}
	in.Age = age

	out, more := NormalizeSubjectInput(in, strict)
	return out, append(fe, more...)
}

// NormalizeSample builds sample values from raw column values. The parent
// ids are left zero for the caller to fill in.
func NormalizeSample(fields map[string]string) (SampleInput, []FieldError) {
	var fe fieldErrors
	var in SampleInput

	whole := func(col string) *int {
		v, err := ParseWhole(fields[col])
		if err != nil {
			fe.add(col, fields[col], "%v", err)
		}
		return v
	}
	coded := func(col string, mapper func(string) (*int, error)) *int {
		v, err := mapper(fields[col])
		if err != nil {
			fe.add(col, fields[col], "%v", err)
		}
		return v
	}

	if v := strings.TrimSpace(fields[ColSample]); !IsNullToken(v) {
		in.ExternalID = &v
	}
	in.Treatment = coded(ColTreatment, MapTreatment)
	in.SampleType = coded(ColSampleType, MapSampleType)
	in.Response = ParseResponse(fields[ColResponse])
	in.TimeFromTreatmentStart = whole(ColTimeOffset)
	in.BCell = whole(ColBCell)
	in.CD8TCell = whole(ColCD8TCell)
	in.CD4TCell = whole(ColCD4TCell)
	in.NKCell = whole(ColNKCell)
	in.Monocyte = whole(ColMonocyte)

	fe.checkSampleValues(in.Treatment, in.SampleType, in.TimeFromTreatmentStart, in.CellCounts)
	return in, fe
}

// IngestRow is one normalized ingestion record.
type IngestRow struct {
	Project string
	Subject SubjectInput
	Sample  SampleInput
}

// NormalizeRow turns a raw record into an IngestRow. Sex is normalized
// leniently; unknown tokens become "Other".
func NormalizeRow(fields map[string]string) (IngestRow, []FieldError) {
	var fe fieldErrors
	row := IngestRow{Project: strings.TrimSpace(fields[ColProject])}

	if IsNullToken(row.Project) {
		fe.add(ColProject, "", "required field is empty")
	}
	if IsNullToken(fields[ColSubject]) {
		fe.add(ColSubject, "", "required field is empty")
	}

	subject, subjErrs := NormalizeSubject(fields, false)
	sample, sampleErrs := NormalizeSample(fields)
	row.Subject = subject
	row.Sample = sample

	fe = append(fe, subjErrs...)
	fe = append(fe, sampleErrs...)
	return row, fe
}

// describeSubject renders a subject key for logs.
func describeSubject(in SubjectInput) string {
	str := func(p *string) string {
		if p == nil {
			return "<nil>"
		}
		return *p
	}
	age := "<nil>"
	if in.Age != nil {
		age = fmt.Sprint(*in.Age)
	}
	return fmt.Sprintf("condition=%s age=%s sex=%s", str(in.Condition), age, str(in.Sex))
}
