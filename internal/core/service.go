package core

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultRunTimeout is the maximum duration of one ingestion run.
const DefaultRunTimeout = 10 * time.Minute

// runRetention is how long a finished run stays queryable.
const runRetention = 5 * time.Minute

// ServiceConfig holds the service-level settings. Zero values use defaults.
type ServiceConfig struct {
	// Ingest are the defaults for every run; per-run options override them.
	Ingest IngestOptions

	MaxConcurrentRuns int
	MaxWait           time.Duration
	RunTimeout        time.Duration

	Deletion PlannerConfig
}

// Service is the entry point for ingestion, CRUD, deletion and analytics.
// It is safe for concurrent use.
type Service struct {
	store   Store
	cfg     ServiceConfig
	limiter *IngestLimiter
	planner *Planner
	rec     Recorder

	mu   sync.RWMutex
	runs map[string]*activeRun
}

// Option customizes a Service.
type Option func(*Service)

// WithRecorder reports ingestion and deletion events to rec.
func WithRecorder(rec Recorder) Option {
	return func(s *Service) {
		if rec != nil {
			s.rec = rec
		}
	}
}

// NewService creates a Service over store.
func NewService(store Store, cfg ServiceConfig, opts ...Option) *Service {
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}
	s := &Service{
		store: store,
		cfg:   cfg,
		rec:   nopRecorder{},
		runs:  make(map[string]*activeRun),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.limiter = NewIngestLimiter(cfg.MaxConcurrentRuns, cfg.MaxWait)
	s.planner = NewPlanner(store, cfg.Deletion, s.rec)
	return s
}

// Ping checks storage connectivity.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return AsStorage("ping", err)
	}
	return nil
}

// LimiterStatus reports ingestion slot usage.
func (s *Service) LimiterStatus() IngestLimiterStatus {
	return s.limiter.Status()
}

// WaitForRuns blocks until every ingestion run has finished or ctx is done.
func (s *Service) WaitForRuns(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// ingestOptions layers per-run options over the configured defaults.
func (s *Service) ingestOptions(o IngestOptions) IngestOptions {
	d := s.cfg.Ingest
	if o.CommitFrequency <= 0 {
		o.CommitFrequency = d.CommitFrequency
	}
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.FailurePolicy == "" {
		o.FailurePolicy = d.FailurePolicy
	}
	if o.IdentityMode == "" {
		o.IdentityMode = d.IdentityMode
	}
	if o.MaxFailedRows <= 0 {
		o.MaxFailedRows = d.MaxFailedRows
	}
	if o.Logger == nil {
		o.Logger = d.Logger
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
