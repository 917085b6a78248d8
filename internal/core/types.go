package core

import "time"

// EntityKind names one of the three stored entity types.
type EntityKind string

const (
	KindProject EntityKind = "project"
	KindSubject EntityKind = "subject"
	KindSample  EntityKind = "sample"
)

// ParseEntityKind accepts singular or plural entity names.
func ParseEntityKind(s string) (EntityKind, bool) {
	switch s {
	case "project", "projects":
		return KindProject, true
	case "subject", "subjects":
		return KindSubject, true
	case "sample", "samples":
		return KindSample, true
	}
	return "", false
}

// Canonical sex codes stored on a Subject.
const (
	SexMale   = "M"
	SexFemale = "F"
	SexOther  = "Other"
)

// Project is a study or ingestion batch grouping.
type Project struct {
	ID         int64     `json:"project_id"`
	ExternalID *string   `json:"external_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Subject is an individual participant record.
type Subject struct {
	ID         int64     `json:"subject_id"`
	ExternalID *string   `json:"external_id,omitempty"`
	Condition  *string   `json:"condition"`
	Age        *int      `json:"age"`
	Sex        *string   `json:"sex"`
	CreatedAt  time.Time `json:"created_at"`
}

// Sample is one measurement drawn from a Subject within a Project.
type Sample struct {
	ID                     int64   `json:"sample_id"`
	ProjectID              int64   `json:"project_id"`
	SubjectID              int64   `json:"subject_id"`
	ExternalID             *string `json:"external_id,omitempty"`
	Treatment              *int    `json:"treatment"`
	Response               *bool   `json:"response"`
	SampleType             *int    `json:"sample_type"`
	TimeFromTreatmentStart *int    `json:"time_from_treatment_start"`
	CellCounts
}

// CellCounts holds the five immune cell population counts of a sample.
type CellCounts struct {
	BCell    *int `json:"b_cell"`
	CD8TCell *int `json:"cd8_t_cell"`
	CD4TCell *int `json:"cd4_t_cell"`
	NKCell   *int `json:"nk_cell"`
	Monocyte *int `json:"monocyte"`
}

// SubjectInput carries normalized subject attributes for creation.
type SubjectInput struct {
	ExternalID *string    `json:"external_id,omitempty"`
	Condition  *string    `json:"condition"`
	Age        *int       `json:"age"`
	Sex        *string    `json:"sex"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
}

// SampleInput carries normalized sample values for creation.
type SampleInput struct {
	ProjectID              int64   `json:"project_id"`
	SubjectID              int64   `json:"subject_id"`
	ExternalID             *string `json:"external_id,omitempty"`
	Treatment              *int    `json:"treatment"`
	Response               *bool   `json:"response"`
	SampleType             *int    `json:"sample_type"`
	TimeFromTreatmentStart *int    `json:"time_from_treatment_start"`
	CellCounts
}

// ListParams bounds a list query.
type ListParams struct {
	Limit  int
	Offset int
}

// Normalize applies default and maximum page sizes.
func (p ListParams) Normalize() ListParams {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Limit > 1000 {
		p.Limit = 1000
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// SampleFilter narrows a sample listing. Zero values are ignored.
type SampleFilter struct {
	ListParams
	ProjectID  int64
	SubjectID  int64
	Treatment  *int
	SampleType *int
	Response   *bool
}

// CountBy is one bucket of a grouped count.
type CountBy struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// Summary is the analytics overview of the store.
type Summary struct {
	Projects            int64     `json:"projects"`
	Subjects            int64     `json:"subjects"`
	Samples             int64     `json:"samples"`
	SubjectsByCondition []CountBy `json:"subjects_by_condition"`
	SubjectsBySex       []CountBy `json:"subjects_by_sex"`
	SamplesByTreatment  []CountBy `json:"samples_by_treatment"`
	SamplesByType       []CountBy `json:"samples_by_type"`
	Responders          int64     `json:"responders"`
	NonResponders       int64     `json:"non_responders"`
	AverageAge          *float64  `json:"average_age"`
}

// ResponseRate returns responders over samples with a known response.
func (s *Summary) ResponseRate() float64 {
	known := s.Responders + s.NonResponders
	if known == 0 {
		return 0
	}
	return float64(s.Responders) / float64(known)
}

// RecordReader yields tabular records after a header row.
// Next returns io.EOF once the input is exhausted.
type RecordReader interface {
	Header() []string
	Next() ([]string, error)
}

// Recorder receives ingestion and deletion events for metrics.
type Recorder interface {
	RowsIngested(outcome string, n int)
	WindowFinished(outcome string)
	RunFinished(success bool, elapsed time.Duration)
	EntitiesDeleted(kind EntityKind, n int64)
}

type nopRecorder struct{}

func (nopRecorder) RowsIngested(string, int)          {}
func (nopRecorder) WindowFinished(string)             {}
func (nopRecorder) RunFinished(bool, time.Duration)   {}
func (nopRecorder) EntitiesDeleted(EntityKind, int64) {}

// Row and window outcomes reported to a Recorder.
const (
	OutcomeCommitted  = "committed"
	OutcomeFailed     = "failed"
	OutcomeLost       = "lost"
	OutcomeRolledBack = "rolled_back"
	OutcomeDryRun     = "dry_run"
)
