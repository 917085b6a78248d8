package core

import (
	"context"
	"fmt"
	"log/slog"
)

// CreateSample validates a sample and inserts it after checking that its
// project and subject exist.
func (s *Service) CreateSample(ctx context.Context, in SampleInput) (*Sample, error) {
	if fieldErrs := ValidateSampleInput(in); len(fieldErrs) > 0 {
		return nil, NewValidationError("invalid sample", fieldErrs...)
	}
	in.ExternalID = trimOrNil(in.ExternalID)

	var sample Sample
	err := withTx(ctx, s.store, func(tx Tx) error {
		if err := checkParents(ctx, tx, in); err != nil {
			return err
		}
		var err error
		sample, err = tx.CreateSample(ctx, in)
		return AsStorage("create sample", err)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("sample created", "sample_id", sample.ID, "project_id", sample.ProjectID, "subject_id", sample.SubjectID)
	return &sample, nil
}

// CreateSamplesBatch inserts up to MaxSampleBatch samples in one
// transaction. Validation and parent checks run for every element before
// anything is written; any failure fails the whole batch.
func (s *Service) CreateSamplesBatch(ctx context.Context, ins []SampleInput) ([]Sample, error) {
	if len(ins) == 0 {
		return nil, NewValidationError("at least one sample must be provided")
	}
	if len(ins) > MaxSampleBatch {
		return nil, NewValidationError(fmt.Sprintf("batch too large: %d samples, max %d", len(ins), MaxSampleBatch))
	}

	var invalid []ItemError
	for i := range ins {
		if fieldErrs := ValidateSampleInput(ins[i]); len(fieldErrs) > 0 {
			invalid = append(invalid, ItemError{Index: i, Message: "invalid sample", Fields: fieldErrs})
		}
		ins[i].ExternalID = trimOrNil(ins[i].ExternalID)
	}
	if len(invalid) > 0 {
		e := NewValidationError(fmt.Sprintf("validation failed for %d of %d samples", len(invalid), len(ins)))
		e.Items = invalid
		return nil, e
	}

	created := make([]Sample, 0, len(ins))
	err := withTx(ctx, s.store, func(tx Tx) error {
		var missing []ItemError
		for i, in := range ins {
			if err := checkParents(ctx, tx, in); err != nil {
				if !IsKind(err, ErrNotFound) {
					return err
				}
				missing = append(missing, ItemError{Index: i, Message: AsError(err).Message})
			}
		}
		if len(missing) > 0 {
			e := &Error{
				Kind:    ErrNotFound,
				Message: fmt.Sprintf("missing project or subject for %d of %d samples", len(missing), len(ins)),
				Items:   missing,
			}
			return e
		}

		for _, in := range ins {
			sample, err := tx.CreateSample(ctx, in)
			if err != nil {
				return AsStorage("create sample", err)
			}
			created = append(created, sample)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("samples created", "count", len(created))
	return created, nil
}

// checkParents returns a not-found error naming the first missing parent.
func checkParents(ctx context.Context, tx Tx, in SampleInput) error {
	project, err := tx.GetProject(ctx, in.ProjectID)
	if err != nil {
		return AsStorage("get project", err)
	}
	if project == nil {
		return NotFound(KindProject, in.ProjectID)
	}
	subject, err := tx.GetSubject(ctx, in.SubjectID)
	if err != nil {
		return AsStorage("get subject", err)
	}
	if subject == nil {
		return NotFound(KindSubject, in.SubjectID)
	}
	return nil
}

// GetSample returns a sample or a not-found error.
func (s *Service) GetSample(ctx context.Context, id int64) (*Sample, error) {
	var sample *Sample
	err := readTx(ctx, s.store, func(tx Tx) error {
		var err error
		sample, err = tx.GetSample(ctx, id)
		return AsStorage("get sample", err)
	})
	if err != nil {
		return nil, err
	}
	if sample == nil {
		return nil, NotFound(KindSample, id)
	}
	return sample, nil
}

// ListSamples returns a filtered page of samples ordered by id.
func (s *Service) ListSamples(ctx context.Context, f SampleFilter) ([]Sample, error) {
	f.ListParams = f.ListParams.Normalize()
	var samples []Sample
	err := readTx(ctx, s.store, func(tx Tx) error {
		var err error
		samples, err = tx.ListSamples(ctx, f)
		return AsStorage("list samples", err)
	})
	if samples == nil {
		samples = []Sample{}
	}
	return samples, err
}

// Summary returns the analytics overview.
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	var summary *Summary
	err := readTx(ctx, s.store, func(tx Tx) error {
		var err error
		summary, err = tx.Summary(ctx)
		return AsStorage("summary", err)
	})
	return summary, err
}
