package core

// deletion.go plans and performs impact-aware deletes.
//
// Deleting a project or subject cascades to its samples through the
// storage layer's foreign keys, inside the same transaction. Deletions whose
// dependent sample count exceeds a threshold are refused unless forced, and
// the refusal carries the computed Impact so the caller can confirm.

import (
	"context"
	"fmt"
	"sort"
)

// Default confirmation thresholds, in dependent samples.
const (
	DefaultDeleteThreshold      = 10
	DefaultBatchDeleteThreshold = 50
)

// Impact describes what deleting an entity would remove.
type Impact struct {
	EntityType           EntityKind `json:"entity_type"`
	EntityID             int64      `json:"entity_id"`
	Project              *Project   `json:"project,omitempty"`
	Subject              *Subject   `json:"subject,omitempty"`
	Sample               *Sample    `json:"sample,omitempty"`
	DependentSampleCount int64      `json:"dependent_sample_count"`
	TotalAffected        int64      `json:"total_affected"`
}

// DeleteResult reports a completed delete.
type DeleteResult struct {
	Impact
	Deleted bool `json:"deleted"`
}

// BatchImpact aggregates the impact of deleting several entities.
type BatchImpact struct {
	EntityType           EntityKind `json:"entity_type"`
	Impacts              []Impact   `json:"impacts"`
	DependentSampleCount int64      `json:"dependent_sample_count"`
	TotalAffected        int64      `json:"total_affected"`
}

// PlannerConfig sets the confirmation thresholds.
type PlannerConfig struct {
	Threshold      int
	BatchThreshold int
}

// Planner computes deletion impact and enforces confirmation thresholds.
type Planner struct {
	store          Store
	threshold      int64
	batchThreshold int64
	rec            Recorder
}

// NewPlanner creates a deletion planner. rec may be nil.
func NewPlanner(store Store, cfg PlannerConfig, rec Recorder) *Planner {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultDeleteThreshold
	}
	if cfg.BatchThreshold <= 0 {
		cfg.BatchThreshold = DefaultBatchDeleteThreshold
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Planner{
		store:          store,
		threshold:      int64(cfg.Threshold),
		batchThreshold: int64(cfg.BatchThreshold),
		rec:            rec,
	}
}

// ComputeImpact returns the impact of deleting an entity, or nil when the
// entity does not exist.
func (p *Planner) ComputeImpact(ctx context.Context, kind EntityKind, id int64) (*Impact, error) {
	var impact *Impact
	err := readTx(ctx, p.store, func(tx Tx) error {
		var err error
		impact, err = computeImpact(ctx, tx, kind, id)
		return err
	})
	return impact, err
}

func computeImpact(ctx context.Context, tx Tx, kind EntityKind, id int64) (*Impact, error) {
	impact := &Impact{EntityType: kind, EntityID: id}

	switch kind {
	case KindProject:
		project, err := tx.GetProject(ctx, id)
		if err != nil || project == nil {
			return nil, AsStorage("get project", err)
		}
		impact.Project = project
		n, err := tx.CountProjectSamples(ctx, id)
		if err != nil {
			return nil, AsStorage("count project samples", err)
		}
		impact.DependentSampleCount = n

	case KindSubject:
		subject, err := tx.GetSubject(ctx, id)
		if err != nil || subject == nil {
			return nil, AsStorage("get subject", err)
		}
		impact.Subject = subject
		n, err := tx.CountSubjectSamples(ctx, id)
		if err != nil {
			return nil, AsStorage("count subject samples", err)
		}
		impact.DependentSampleCount = n

	case KindSample:
		sample, err := tx.GetSample(ctx, id)
		if err != nil || sample == nil {
			return nil, AsStorage("get sample", err)
		}
		impact.Sample = sample

	default:
		return nil, NewValidationError(fmt.Sprintf("unknown entity type %q", kind))
	}

	impact.TotalAffected = impact.DependentSampleCount + 1
	return impact, nil
}

// Delete removes an entity and, through the storage cascade, its samples.
// Without force, a delete whose dependent count exceeds the threshold is
// refused with a conflict error carrying the impact.
func (p *Planner) Delete(ctx context.Context, kind EntityKind, id int64, force bool) (*DeleteResult, error) {
	var result *DeleteResult
	err := withTx(ctx, p.store, func(tx Tx) error {
		impact, err := computeImpact(ctx, tx, kind, id)
		if err != nil {
			return err
		}
		if impact == nil {
			return NotFound(kind, id)
		}
		if !force && impact.DependentSampleCount > p.threshold {
			return confirmationRequired(impact, p.threshold)
		}

		deleted, err := deleteEntity(ctx, tx, kind, id)
		if err != nil {
			return err
		}
		if !deleted {
			return NotFound(kind, id)
		}
		result = &DeleteResult{Impact: *impact, Deleted: true}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.recordDeleted(kind, result.Impact)
	return result, nil
}

// DeleteBatch removes several entities of one kind in a single transaction.
// Missing ids fail the whole batch. The batch threshold applies to the sum
// of dependent samples.
func (p *Planner) DeleteBatch(ctx context.Context, kind EntityKind, ids []int64, force bool) (*BatchImpact, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil, NewValidationError("at least one id is required")
	}

	batch := &BatchImpact{EntityType: kind}
	err := withTx(ctx, p.store, func(tx Tx) error {
		var missing []int64
		for _, id := range ids {
			impact, err := computeImpact(ctx, tx, kind, id)
			if err != nil {
				return err
			}
			if impact == nil {
				missing = append(missing, id)
				continue
			}
			batch.Impacts = append(batch.Impacts, *impact)
			batch.DependentSampleCount += impact.DependentSampleCount
			batch.TotalAffected += impact.TotalAffected
		}
		if len(missing) > 0 {
			return &Error{Kind: ErrNotFound, Message: fmt.Sprintf("%s ids not found: %v", kind, missing)}
		}
		if !force && batch.DependentSampleCount > p.batchThreshold {
			e := Conflict(fmt.Sprintf(
				"deletion would remove %d records (%d %ss + %d samples); confirm with force",
				batch.TotalAffected, len(batch.Impacts), kind, batch.DependentSampleCount))
			e.Batch = batch
			return e
		}

		for _, id := range ids {
			if _, err := deleteEntity(ctx, tx, kind, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, impact := range batch.Impacts {
		p.recordDeleted(kind, impact)
	}
	return batch, nil
}

// SweepOrphans deletes samples whose project or subject no longer exists and
// returns them. Under normal cascading deletes it finds nothing.
func (p *Planner) SweepOrphans(ctx context.Context) ([]Sample, error) {
	var orphans []Sample
	err := withTx(ctx, p.store, func(tx Tx) error {
		var err error
		orphans, err = tx.FindOrphanSamples(ctx)
		if err != nil {
			return AsStorage("find orphan samples", err)
		}
		if len(orphans) == 0 {
			return nil
		}
		ids := make([]int64, len(orphans))
		for i, s := range orphans {
			ids[i] = s.ID
		}
		if _, err := tx.DeleteSamples(ctx, ids); err != nil {
			return AsStorage("delete orphan samples", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if orphans == nil {
		orphans = []Sample{}
	}
	if len(orphans) > 0 {
		p.rec.EntitiesDeleted(KindSample, int64(len(orphans)))
	}
	return orphans, nil
}

func deleteEntity(ctx context.Context, tx Tx, kind EntityKind, id int64) (bool, error) {
	var (
		deleted bool
		err     error
	)
	switch kind {
	case KindProject:
		deleted, err = tx.DeleteProject(ctx, id)
	case KindSubject:
		deleted, err = tx.DeleteSubject(ctx, id)
	case KindSample:
		deleted, err = tx.DeleteSample(ctx, id)
	default:
		return false, NewValidationError(fmt.Sprintf("unknown entity type %q", kind))
	}
	if err != nil {
		return false, AsStorage("delete "+string(kind), err)
	}
	return deleted, nil
}

func confirmationRequired(impact *Impact, threshold int64) *Error {
	e := Conflict(fmt.Sprintf(
		"deletion would remove %d records (1 %s + %d samples), more than %d dependents; confirm with force",
		impact.TotalAffected, impact.EntityType, impact.DependentSampleCount, threshold))
	e.Impact = impact
	return e
}

func (p *Planner) recordDeleted(kind EntityKind, impact Impact) {
	p.rec.EntitiesDeleted(kind, 1)
	if impact.DependentSampleCount > 0 {
		p.rec.EntitiesDeleted(KindSample, impact.DependentSampleCount)
	}
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
