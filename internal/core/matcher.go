package core

import "context"

// DefaultSimilarLimit caps FindSimilar when no limit is given.
const DefaultSimilarLimit = 5

// SimilarAgeWindow is the inclusive age distance treated as similar.
const SimilarAgeWindow = 5

// SubjectFinder is the read side the matcher needs.
type SubjectFinder interface {
	FindSubjectExact(ctx context.Context, m SubjectMatch) (*Subject, error)
	FindSimilarSubjects(ctx context.Context, q SimilarQuery) ([]Subject, error)
}

// IsExactDuplicate returns the first subject whose condition, age and
// normalized sex all equal the given values, or nil.
func IsExactDuplicate(ctx context.Context, q SubjectFinder, condition *string, age *int, sex *string) (*Subject, error) {
	s, err := q.FindSubjectExact(ctx, SubjectMatch{
		Condition: NormalizeCondition(condition),
		Age:       age,
		Sex:       NormalizeSex(sex),
	})
	if err != nil {
		return nil, AsStorage("find duplicate subject", err)
	}
	return s, nil
}

// FindSimilar returns up to limit subjects sharing the condition, the sex,
// or an age within five years. Only non-nil inputs contribute; with none
// the result is empty.
func FindSimilar(ctx context.Context, q SubjectFinder, condition *string, age *int, sex *string, limit int) ([]Subject, error) {
	if limit <= 0 {
		limit = DefaultSimilarLimit
	}

	query := SimilarQuery{
		Condition: NormalizeCondition(condition),
		Sex:       NormalizeSex(sex),
		Limit:     limit,
	}
	if age != nil {
		lo, hi := *age-SimilarAgeWindow, *age+SimilarAgeWindow
		query.AgeMin, query.AgeMax = &lo, &hi
	}
	if query.Empty() {
		return []Subject{}, nil
	}

	subjects, err := q.FindSimilarSubjects(ctx, query)
	if err != nil {
		return nil, AsStorage("find similar subjects", err)
	}
	if subjects == nil {
		subjects = []Subject{}
	}
	return subjects, nil
}

// DuplicateCheck is the advisory result for a prospective subject.
type DuplicateCheck struct {
	HasDuplicate bool      `json:"has_duplicate"`
	Duplicate    *Subject  `json:"duplicate_subject"`
	Similar      []Subject `json:"similar_subjects"`
	SimilarCount int       `json:"similar_count"`
}

// CheckDuplicate runs both the exact and the similarity match.
func CheckDuplicate(ctx context.Context, q SubjectFinder, in SubjectInput, limit int) (*DuplicateCheck, error) {
	dup, err := IsExactDuplicate(ctx, q, in.Condition, in.Age, in.Sex)
	if err != nil {
		return nil, err
	}
	similar, err := FindSimilar(ctx, q, in.Condition, in.Age, in.Sex, limit)
	if err != nil {
		return nil, err
	}
	return &DuplicateCheck{
		HasDuplicate: dup != nil,
		Duplicate:    dup,
		Similar:      similar,
		SimilarCount: len(similar),
	}, nil
}
