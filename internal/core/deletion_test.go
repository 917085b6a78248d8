package core_test

import (
	"context"
	"errors"
	"testing"

	"github.com/JonMunkholm/immunoload/internal/core"
)

func TestDelete_CascadesToSamples(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	projectID, subjectID := seed(t, store, 3)
	planner := core.NewPlanner(store, core.PlannerConfig{}, nil)

	impact, err := planner.ComputeImpact(ctx, core.KindProject, projectID)
	if err != nil {
		t.Fatalf("ComputeImpact() error = %v", err)
	}
	if impact.DependentSampleCount != 3 || impact.TotalAffected != 4 {
		t.Errorf("impact = %d dependents / %d total, want 3/4", impact.DependentSampleCount, impact.TotalAffected)
	}

	result, err := planner.Delete(ctx, core.KindProject, projectID, false)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if !result.Deleted || result.TotalAffected != 4 {
		t.Errorf("result = %+v, want deleted with 4 affected", result)
	}

	sum := summary(t, store)
	if sum.Projects != 0 || sum.Samples != 0 || sum.Subjects != 1 {
		t.Errorf("stored = %d/%d/%d, want 0/1/0", sum.Projects, sum.Subjects, sum.Samples)
	}

	if _, err := planner.Delete(ctx, core.KindSubject, subjectID, false); err != nil {
		t.Errorf("Delete(subject) error = %v", err)
	}
}

func TestDelete_ThresholdRequiresForce(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	projectID, _ := seed(t, store, 11)
	planner := core.NewPlanner(store, core.PlannerConfig{}, nil)

	_, err := planner.Delete(ctx, core.KindProject, projectID, false)
	if !core.IsKind(err, core.ErrConflict) {
		t.Fatalf("Delete(force=false) error kind = %q, want conflict", core.KindOf(err))
	}
	var ce *core.Error
	if !errors.As(err, &ce) || ce.Impact == nil {
		t.Fatalf("conflict carries no impact: %v", err)
	}
	if ce.Impact.TotalAffected != 12 {
		t.Errorf("TotalAffected = %d, want 12", ce.Impact.TotalAffected)
	}
	if got := summary(t, store).Samples; got != 11 {
		t.Errorf("samples after refused delete = %d, want 11", got)
	}

	result, err := planner.Delete(ctx, core.KindProject, projectID, true)
	if err != nil {
		t.Fatalf("Delete(force=true) error = %v", err)
	}
	if result.TotalAffected != 12 {
		t.Errorf("TotalAffected = %d, want 12", result.TotalAffected)
	}
	sum := summary(t, store)
	if sum.Projects != 0 || sum.Samples != 0 {
		t.Errorf("stored projects/samples = %d/%d, want 0/0", sum.Projects, sum.Samples)
	}
}

func TestDelete_AtThresholdProceeds(t *testing.T) {
	store := newStore(t)
	projectID, _ := seed(t, store, 10)
	planner := core.NewPlanner(store, core.PlannerConfig{}, nil)

	if _, err := planner.Delete(context.Background(), core.KindProject, projectID, false); err != nil {
		t.Errorf("Delete() with 10 dependents error = %v, want nil", err)
	}
}

func TestDelete_Errors(t *testing.T) {
	store := newStore(t)
	planner := core.NewPlanner(store, core.PlannerConfig{}, nil)

	tests := []struct {
		name string
		kind core.EntityKind
		want core.ErrorKind
	}{
		{"missing project", core.KindProject, core.ErrNotFound},
		{"missing sample", core.KindSample, core.ErrNotFound},
		{"unknown kind", core.EntityKind("widget"), core.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := planner.Delete(context.Background(), tt.kind, 42, false)
			if got := core.KindOf(err); got != tt.want {
				t.Errorf("Delete() kind = %q, want %q (%v)", got, tt.want, err)
			}
		})
	}
}

func TestDeleteBatch(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	p1, _ := seed(t, store, 30)
	p2, _ := seed(t, store, 30)
	planner := core.NewPlanner(store, core.PlannerConfig{}, nil)

	_, err := planner.DeleteBatch(ctx, core.KindProject, []int64{p1, p2}, false)
	var ce *core.Error
	if !errors.As(err, &ce) || ce.Kind != core.ErrConflict || ce.Batch == nil {
		t.Fatalf("DeleteBatch(force=false) error = %v, want conflict with batch impact", err)
	}
	if ce.Batch.DependentSampleCount != 60 || ce.Batch.TotalAffected != 62 {
		t.Errorf("batch = %d dependents / %d total, want 60/62", ce.Batch.DependentSampleCount, ce.Batch.TotalAffected)
	}

	_, err = planner.DeleteBatch(ctx, core.KindProject, []int64{p1, 999}, true)
	if !core.IsKind(err, core.ErrNotFound) {
		t.Errorf("DeleteBatch(missing id) kind = %q, want not_found", core.KindOf(err))
	}
	if got := summary(t, store).Projects; got != 2 {
		t.Errorf("projects after failed batch = %d, want 2", got)
	}

	batch, err := planner.DeleteBatch(ctx, core.KindProject, []int64{p2, p1, p1}, true)
	if err != nil {
		t.Fatalf("DeleteBatch(force=true) error = %v", err)
	}
	if len(batch.Impacts) != 2 {
		t.Errorf("impacts = %d, want 2 (duplicates collapsed)", len(batch.Impacts))
	}
	if got := summary(t, store).Samples; got != 0 {
		t.Errorf("samples after batch delete = %d, want 0", got)
	}

	if _, err := planner.DeleteBatch(ctx, core.KindProject, nil, true); !core.IsKind(err, core.ErrValidation) {
		t.Errorf("DeleteBatch(empty) kind = %q, want validation", core.KindOf(err))
	}
}

func TestSweepOrphans(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	seed(t, store, 2)
	planner := core.NewPlanner(store, core.PlannerConfig{}, nil)

	orphans, err := planner.SweepOrphans(ctx)
	if err != nil || len(orphans) != 0 {
		t.Fatalf("SweepOrphans() on clean store = %d, %v, want 0, nil", len(orphans), err)
	}

	db := store.DB()
	for _, stmt := range []string{
		"PRAGMA foreign_keys = OFF",
		"INSERT INTO samples (project_id, subject_id) VALUES (500, 501)",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}

	orphans, err = planner.SweepOrphans(ctx)
	if err != nil {
		t.Fatalf("SweepOrphans() error = %v", err)
	}
	if len(orphans) != 1 || orphans[0].ProjectID != 500 {
		t.Errorf("orphans = %+v, want the sample of project 500", orphans)
	}
	if got := summary(t, store).Samples; got != 2 {
		t.Errorf("samples after sweep = %d, want 2", got)
	}
}
