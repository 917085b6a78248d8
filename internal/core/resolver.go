package core

// resolver.go maps business identifiers to surrogate ids for one run.
//
// Projects are keyed by their business identifier within the run: the first
// occurrence creates a row and later occurrences reuse the cached id.
//
// Subjects are keyed by the external subject identifier when the input has
// one and the resolver runs in IdentityExternal mode. Without an identifier
// (or in IdentityAttributes mode) the resolver falls back to an exact match
// on (condition, age, sex), which merges distinct subjects that share all
// three attributes.
//
// Cache entries added since the last Commit are journaled so a rolled back
// window or row can forget ids that no longer exist.

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
)

// IdentityMode selects how subjects are identified during ingestion.
type IdentityMode string

const (
	// IdentityExternal keys subjects by their external identifier and
	// falls back to attribute match when a row has none.
	IdentityExternal IdentityMode = "external"
	// IdentityAttributes always keys subjects by (condition, age, sex).
	IdentityAttributes IdentityMode = "attributes"
)

// ParseIdentityMode validates a configured identity mode.
func ParseIdentityMode(s string) (IdentityMode, error) {
	switch IdentityMode(s) {
	case IdentityExternal, IdentityAttributes:
		return IdentityMode(s), nil
	case "":
		return IdentityExternal, nil
	}
	return "", fmt.Errorf("unknown identity mode %q (want external or attributes)", s)
}

// Resolution is the outcome of resolving one identity.
type Resolution struct {
	ID int64
	// Created is true when a new row was inserted.
	Created bool
	// Matched is true when an existing stored row was found by lookup
	// rather than by the run cache.
	Matched bool
}

type journalEntry struct {
	project bool
	key     string
}

// Resolver is a run-scoped identity cache backed by exact storage lookups.
// It is not safe for concurrent use.
type Resolver struct {
	tx       Tx
	mode     IdentityMode
	projects map[string]int64
	subjects map[string]int64
	journal  []journalEntry
	logger   *slog.Logger

	fallbackLogged bool
}

// NewResolver creates a resolver writing through tx.
func NewResolver(tx Tx, mode IdentityMode, logger *slog.Logger) *Resolver {
	if mode == "" {
		mode = IdentityExternal
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		tx:       tx,
		mode:     mode,
		projects: make(map[string]int64),
		subjects: make(map[string]int64),
		logger:   logger,
	}
}

// Bind switches the resolver to a new transaction.
func (r *Resolver) Bind(tx Tx) {
	r.tx = tx
}

// ResolveProject returns the id for a project business identifier,
// creating the project on first use within the run.
func (r *Resolver) ResolveProject(ctx context.Context, businessID string) (Resolution, error) {
	if id, ok := r.projects[businessID]; ok {
		return Resolution{ID: id}, nil
	}

	p, err := r.tx.CreateProject(ctx, &businessID)
	if err != nil {
		return Resolution{}, AsStorage("create project", err)
	}
	r.remember(true, businessID, p.ID)
	return Resolution{ID: p.ID, Created: true}, nil
}

// ResolveSubject returns the id for a subject, reusing a stored subject
// when one matches and creating it otherwise.
func (r *Resolver) ResolveSubject(ctx context.Context, in SubjectInput) (Resolution, error) {
	in.Condition = NormalizeCondition(in.Condition)
	in.Sex = NormalizeSex(in.Sex)

	byExternal := r.mode == IdentityExternal && in.ExternalID != nil && *in.ExternalID != ""
	key := attributeKey(in)
	if byExternal {
		key = "ext:" + *in.ExternalID
	} else if r.mode == IdentityExternal && !r.fallbackLogged {
		r.fallbackLogged = true
		r.logger.Debug("subject has no external id, matching by attributes", "subject", describeSubject(in))
	}

	if id, ok := r.subjects[key]; ok {
		return Resolution{ID: id}, nil
	}

	if err := r.tx.LockSubjectKey(ctx, key); err != nil {
		return Resolution{}, AsStorage("lock subject key", err)
	}

	var (
		existing *Subject
		err      error
	)
	if byExternal {
		existing, err = r.tx.GetSubjectByExternalID(ctx, *in.ExternalID)
	} else {
		existing, err = r.tx.FindSubjectExact(ctx, SubjectMatch{Condition: in.Condition, Age: in.Age, Sex: in.Sex})
	}
	if err != nil {
		return Resolution{}, AsStorage("find subject", err)
	}
	if existing != nil {
		r.remember(false, key, existing.ID)
		return Resolution{ID: existing.ID, Matched: true}, nil
	}

	s, err := r.tx.CreateSubject(ctx, in)
	if err != nil {
		return Resolution{}, AsStorage("create subject", err)
	}
	r.remember(false, key, s.ID)
	return Resolution{ID: s.ID, Created: true}, nil
}

func (r *Resolver) remember(project bool, key string, id int64) {
	if project {
		r.projects[key] = id
	} else {
		r.subjects[key] = id
	}
	r.journal = append(r.journal, journalEntry{project: project, key: key})
}

// Mark returns a position in the journal for a later Revert.
func (r *Resolver) Mark() int {
	return len(r.journal)
}

// Revert forgets every cache entry added after mark.
func (r *Resolver) Revert(mark int) {
	if mark < 0 {
		mark = 0
	}
	for _, e := range r.journal[min(mark, len(r.journal)):] {
		if e.project {
			delete(r.projects, e.key)
		} else {
			delete(r.subjects, e.key)
		}
	}
	if mark < len(r.journal) {
		r.journal = r.journal[:mark]
	}
}

// Commit marks every cached id as durable.
func (r *Resolver) Commit() {
	r.journal = r.journal[:0]
}

// Len returns the number of cached projects and subjects.
func (r *Resolver) Len() (projects, subjects int) {
	return len(r.projects), len(r.subjects)
}

// attributeKey builds the cache key for an attribute match. nil and the
// empty string must not collide.
func attributeKey(in SubjectInput) string {
	key := "attr:"
	if in.Condition != nil {
		key += strconv.Quote(*in.Condition)
	} else {
		key += "-"
	}
	key += "|"
	if in.Age != nil {
		key += strconv.Itoa(*in.Age)
	} else {
		key += "-"
	}
	key += "|"
	if in.Sex != nil {
		key += *in.Sex
	} else {
		key += "-"
	}
	return key
}
