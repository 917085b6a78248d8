package core

import "context"

// Store opens units of work against a relational backend.
// Implementations live under internal/database.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Tx is a single unit of work. Every mutation is visible only after Commit.
// Rollback after Commit is a no-op, so callers may always defer it.
// Getters return (nil, nil) when the row does not exist.
type Tx interface {
	ProjectQueries
	SubjectQueries
	SampleQueries

	// Savepoint, RollbackTo and Release scope a nested unit of work.
	Savepoint(ctx context.Context, name string) error
	RollbackTo(ctx context.Context, name string) error
	Release(ctx context.Context, name string) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ProjectQueries reads and writes projects.
type ProjectQueries interface {
	CreateProject(ctx context.Context, externalID *string) (Project, error)
	GetProject(ctx context.Context, id int64) (*Project, error)
	ListProjects(ctx context.Context, p ListParams) ([]Project, error)
	CountProjectSamples(ctx context.Context, id int64) (int64, error)
	DeleteProject(ctx context.Context, id int64) (bool, error)
}

// SubjectMatch is an exact attribute tuple; nil fields match NULL.
type SubjectMatch struct {
	Condition *string
	Age       *int
	Sex       *string
}

// SimilarQuery selects subjects matching any of the non-nil predicates.
type SimilarQuery struct {
	Condition *string
	AgeMin    *int
	AgeMax    *int
	Sex       *string
	Limit     int
}

// Empty reports whether the query carries no predicate.
func (q SimilarQuery) Empty() bool {
	return q.Condition == nil && q.AgeMin == nil && q.Sex == nil
}

// SubjectQueries reads and writes subjects.
type SubjectQueries interface {
	CreateSubject(ctx context.Context, in SubjectInput) (Subject, error)
	GetSubject(ctx context.Context, id int64) (*Subject, error)
	GetSubjectByExternalID(ctx context.Context, externalID string) (*Subject, error)
	FindSubjectExact(ctx context.Context, m SubjectMatch) (*Subject, error)
	FindSimilarSubjects(ctx context.Context, q SimilarQuery) ([]Subject, error)
	ListSubjects(ctx context.Context, p ListParams) ([]Subject, error)
	CountSubjectSamples(ctx context.Context, id int64) (int64, error)
	DeleteSubject(ctx context.Context, id int64) (bool, error)

	// LockSubjectKey serializes concurrent resolution of the same subject
	// key until the transaction ends.
	LockSubjectKey(ctx context.Context, key string) error
}

// SampleQueries reads and writes samples.
type SampleQueries interface {
	CreateSample(ctx context.Context, in SampleInput) (Sample, error)
	GetSample(ctx context.Context, id int64) (*Sample, error)
	ListSamples(ctx context.Context, f SampleFilter) ([]Sample, error)
	DeleteSample(ctx context.Context, id int64) (bool, error)

	// FindOrphanSamples returns samples whose project or subject is missing.
	FindOrphanSamples(ctx context.Context) ([]Sample, error)
	DeleteSamples(ctx context.Context, ids []int64) (int64, error)

	Summary(ctx context.Context) (*Summary, error)
}

// withTx runs fn inside a transaction, committing on success.
func withTx(ctx context.Context, store Store, fn func(Tx) error) error {
	tx, err := store.Begin(ctx)
	if err != nil {
		return AsStorage("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return AsStorage("commit", err)
	}
	return nil
}

// readTx runs fn inside a transaction that is always rolled back.
func readTx(ctx context.Context, store Store, fn func(Tx) error) error {
	tx, err := store.Begin(ctx)
	if err != nil {
		return AsStorage("begin transaction", err)
	}
	defer tx.Rollback(ctx)
	return fn(tx)
}

// AsStorage keeps core errors returned by a backend and wraps anything else
// as a storage failure.
func AsStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != ErrInternal {
		return err
	}
	return Storage(op, err)
}
