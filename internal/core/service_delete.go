package core

import "context"

// Impact returns what deleting an entity would remove, or a not-found error.
func (s *Service) Impact(ctx context.Context, kind EntityKind, id int64) (*Impact, error) {
	impact, err := s.planner.ComputeImpact(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if impact == nil {
		return nil, NotFound(kind, id)
	}
	return impact, nil
}

// Delete removes an entity and its dependent samples. See Planner.Delete.
func (s *Service) Delete(ctx context.Context, kind EntityKind, id int64, force bool) (*DeleteResult, error) {
	return s.planner.Delete(ctx, kind, id, force)
}

// DeleteBatch removes several entities of one kind. See Planner.DeleteBatch.
func (s *Service) DeleteBatch(ctx context.Context, kind EntityKind, ids []int64, force bool) (*BatchImpact, error) {
	return s.planner.DeleteBatch(ctx, kind, ids, force)
}

// SweepOrphans removes samples whose project or subject is missing.
func (s *Service) SweepOrphans(ctx context.Context) ([]Sample, error) {
	return s.planner.SweepOrphans(ctx)
}
