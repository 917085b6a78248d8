package core

import (
	"context"
	"fmt"
	"log/slog"
)

// Batch limits for the create endpoints.
const (
	MaxSubjectBatch = 50
	MaxSampleBatch  = 100
)

// SubjectCreated is the outcome of a subject create. Similar lists stored
// subjects that resemble the new one, as an advisory.
type SubjectCreated struct {
	Subject Subject   `json:"subject"`
	Similar []Subject `json:"similar_subjects,omitempty"`
	Warning string    `json:"warning,omitempty"`
}

// CreateProject creates a project with an optional business identifier.
func (s *Service) CreateProject(ctx context.Context, externalID *string) (*Project, error) {
	var project Project
	err := withTx(ctx, s.store, func(tx Tx) error {
		var err error
		project, err = tx.CreateProject(ctx, trimOrNil(externalID))
		return AsStorage("create project", err)
	})
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// GetProject returns a project or a not-found error.
func (s *Service) GetProject(ctx context.Context, id int64) (*Project, error) {
	var project *Project
	err := readTx(ctx, s.store, func(tx Tx) error {
		var err error
		project, err = tx.GetProject(ctx, id)
		return AsStorage("get project", err)
	})
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, NotFound(KindProject, id)
	}
	return project, nil
}

// ListProjects returns a page of projects ordered by id.
func (s *Service) ListProjects(ctx context.Context, p ListParams) ([]Project, error) {
	var projects []Project
	err := readTx(ctx, s.store, func(tx Tx) error {
		var err error
		projects, err = tx.ListProjects(ctx, p.Normalize())
		return AsStorage("list projects", err)
	})
	if projects == nil {
		projects = []Project{}
	}
	return projects, err
}

// CreateSubject validates and creates a subject. Unless allowDuplicates is
// set, an existing subject with the same (condition, age, sex) is a
// conflict that carries the existing subject and similar ones.
func (s *Service) CreateSubject(ctx context.Context, in SubjectInput, allowDuplicates bool) (*SubjectCreated, error) {
	in, fieldErrs := NormalizeSubjectInput(in, true)
	if len(fieldErrs) > 0 {
		return nil, NewValidationError("invalid subject", fieldErrs...)
	}

	out := &SubjectCreated{}
	err := withTx(ctx, s.store, func(tx Tx) error {
		dup, err := IsExactDuplicate(ctx, tx, in.Condition, in.Age, in.Sex)
		if err != nil {
			return err
		}
		similar, err := FindSimilar(ctx, tx, in.Condition, in.Age, in.Sex, DefaultSimilarLimit)
		if err != nil {
			return err
		}

		if dup != nil {
			if !allowDuplicates {
				e := Conflict(fmt.Sprintf("duplicate subject: same condition, age and sex as subject %d", dup.ID))
				e.Existing = dup
				e.Similar = similar
				return e
			}
			out.Warning = fmt.Sprintf("subject %d has the same condition, age and sex", dup.ID)
		}

		created, err := tx.CreateSubject(ctx, in)
		if err != nil {
			return AsStorage("create subject", err)
		}
		out.Subject = created
		for _, sim := range similar {
			if sim.ID != created.ID {
				out.Similar = append(out.Similar, sim)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("subject created", "subject_id", out.Subject.ID, "similar", len(out.Similar))
	return out, nil
}

// CheckDuplicate reports the exact duplicate and similar subjects for a
// prospective subject without creating anything.
func (s *Service) CheckDuplicate(ctx context.Context, in SubjectInput) (*DuplicateCheck, error) {
	in, fieldErrs := NormalizeSubjectInput(in, true)
	if len(fieldErrs) > 0 {
		return nil, NewValidationError("invalid subject", fieldErrs...)
	}

	var check *DuplicateCheck
	err := readTx(ctx, s.store, func(tx Tx) error {
		var err error
		check, err = CheckDuplicate(ctx, tx, in, DefaultSimilarLimit)
		return err
	})
	return check, err
}

// CreateSubjectsBatch creates up to MaxSubjectBatch subjects in one
// transaction. Any invalid element, or any duplicate when allowDuplicates
// is false, fails the whole batch with per-index details.
func (s *Service) CreateSubjectsBatch(ctx context.Context, ins []SubjectInput, allowDuplicates bool) ([]Subject, error) {
	if len(ins) == 0 {
		return nil, NewValidationError("at least one subject must be provided")
	}
	if len(ins) > MaxSubjectBatch {
		return nil, NewValidationError(fmt.Sprintf("batch too large: %d subjects, max %d", len(ins), MaxSubjectBatch))
	}

	normalized := make([]SubjectInput, len(ins))
	var invalid []ItemError
	for i, in := range ins {
		out, fieldErrs := NormalizeSubjectInput(in, true)
		if len(fieldErrs) > 0 {
			invalid = append(invalid, ItemError{Index: i, Message: "invalid subject", Fields: fieldErrs})
		}
		normalized[i] = out
	}
	if len(invalid) > 0 {
		e := NewValidationError(fmt.Sprintf("validation failed for %d of %d subjects", len(invalid), len(ins)))
		e.Items = invalid
		return nil, e
	}

	created := make([]Subject, 0, len(normalized))
	err := withTx(ctx, s.store, func(tx Tx) error {
		if !allowDuplicates {
			var dups []ItemError
			for i, in := range normalized {
				dup, err := IsExactDuplicate(ctx, tx, in.Condition, in.Age, in.Sex)
				if err != nil {
					return err
				}
				if dup != nil {
					dups = append(dups, ItemError{
						Index:      i,
						Message:    "subject with same characteristics already exists",
						ExistingID: dup.ID,
					})
				}
			}
			if len(dups) > 0 {
				e := Conflict(fmt.Sprintf("duplicate subject found for %d of %d entries; set allow_duplicates to create anyway", len(dups), len(normalized)))
				e.Items = dups
				return e
			}
		}

		for _, in := range normalized {
			subject, err := tx.CreateSubject(ctx, in)
			if err != nil {
				return AsStorage("create subject", err)
			}
			created = append(created, subject)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("subjects created", "count", len(created))
	return created, nil
}

// GetSubject returns a subject or a not-found error.
func (s *Service) GetSubject(ctx context.Context, id int64) (*Subject, error) {
	var subject *Subject
	err := readTx(ctx, s.store, func(tx Tx) error {
		var err error
		subject, err = tx.GetSubject(ctx, id)
		return AsStorage("get subject", err)
	})
	if err != nil {
		return nil, err
	}
	if subject == nil {
		return nil, NotFound(KindSubject, id)
	}
	return subject, nil
}

// ListSubjects returns a page of subjects ordered by id.
func (s *Service) ListSubjects(ctx context.Context, p ListParams) ([]Subject, error) {
	var subjects []Subject
	err := readTx(ctx, s.store, func(tx Tx) error {
		var err error
		subjects, err = tx.ListSubjects(ctx, p.Normalize())
		return AsStorage("list subjects", err)
	})
	if subjects == nil {
		subjects = []Subject{}
	}
	return subjects, err
}
