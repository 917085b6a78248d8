package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunPhase is the lifecycle state of an asynchronous ingestion run.
type RunPhase string

const (
	PhaseStarting  RunPhase = "starting"
	PhaseRunning   RunPhase = "running"
	PhaseComplete  RunPhase = "complete"
	PhaseFailed    RunPhase = "failed"
	PhaseCancelled RunPhase = "cancelled"
)

// Finished reports whether the phase is terminal.
func (p RunPhase) Finished() bool {
	return p == PhaseComplete || p == PhaseFailed || p == PhaseCancelled
}

// RunProgress is broadcast to subscribers of an asynchronous run.
type RunProgress struct {
	RunID  string   `json:"run_id"`
	Source string   `json:"source"`
	Phase  RunPhase `json:"phase"`
	IngestProgress
	Error string `json:"error,omitempty"`
}

// RecordSource is a RecordReader that owns an underlying file or stream.
type RecordSource interface {
	RecordReader
	io.Closer
}

type activeRun struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	progress  RunProgress
	result    *IngestResult
	listeners []chan RunProgress
}

// Ingest runs a synchronous ingestion of in. The returned result carries
// the statistics gathered so far even when the run aborts.
func (s *Service) Ingest(ctx context.Context, in RecordReader, opts IngestOptions) (*IngestResult, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()
	if RunIDFromContext(ctx) == "" {
		ctx = WithRunID(ctx, uuid.NewString())
	}

	return NewEngine(s.store, s.ingestOptions(opts), s.rec).Run(ctx, in)
}

// StartIngest begins an asynchronous ingestion and returns its run id.
// The service takes ownership of src and closes it when the run ends.
// Use SubscribeProgress or GetRunResult to follow the run.
//
// Returns ErrTooManyRuns if no run slot frees up within the wait period.
func (s *Service) StartIngest(ctx context.Context, src RecordSource, name string, opts IngestOptions) (string, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		src.Close()
		return "", err
	}

	runID := uuid.NewString()
	runCtx, cancel := context.WithTimeout(context.Background(), s.cfg.RunTimeout)
	runCtx = WithRunID(runCtx, runID)

	run := &activeRun{
		id:     runID,
		cancel: cancel,
		done:   make(chan struct{}),
		progress: RunProgress{
			RunID:  runID,
			Source: name,
			Phase:  PhaseStarting,
		},
	}

	s.mu.Lock()
	s.runs[runID] = run
	s.mu.Unlock()

	opts = s.ingestOptions(opts)
	opts.Logger = opts.Logger.With("run_id", runID, "source", name)
	opts.Progress = func(p IngestProgress) {
		run.update(func(rp *RunProgress) {
			rp.Phase = PhaseRunning
			rp.IngestProgress = p
		})
	}

	go func() {
		defer s.limiter.Release()
		defer cancel()
		defer src.Close()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in ingestion run", "run_id", runID, "source", name, "panic", r)
				run.finish(&IngestResult{
					Error:     fmt.Sprintf("internal error: %v", r),
					ErrorKind: ErrInternal,
				}, PhaseFailed)
				s.cleanup(runID, runRetention)
			}
		}()

		run.update(func(rp *RunProgress) { rp.Phase = PhaseRunning })
		result, err := NewEngine(s.store, opts, s.rec).Run(runCtx, src)

		phase := PhaseComplete
		switch {
		case errors.Is(runCtx.Err(), context.Canceled):
			phase = PhaseCancelled
		case err != nil:
			phase = PhaseFailed
		}
		run.finish(result, phase)
		s.cleanup(runID, runRetention)
	}()

	return runID, nil
}

func (s *Service) getRun(runID string) (*activeRun, error) {
	s.mu.RLock()
	run, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, &Error{Kind: ErrNotFound, Message: "run not found: " + runID}
	}
	return run, nil
}

// SubscribeProgress returns a channel of progress updates. The current
// progress is sent immediately and the channel is closed when the run ends.
func (s *Service) SubscribeProgress(runID string) (<-chan RunProgress, error) {
	run, err := s.getRun(runID)
	if err != nil {
		return nil, err
	}

	ch := make(chan RunProgress, 10)

	run.mu.Lock()
	defer run.mu.Unlock()
	ch <- run.progress
	if run.progress.Phase.Finished() {
		close(ch)
		return ch, nil
	}
	run.listeners = append(run.listeners, ch)
	return ch, nil
}

// GetRunProgress returns the current progress without blocking.
func (s *Service) GetRunProgress(runID string) (RunProgress, error) {
	run, err := s.getRun(runID)
	if err != nil {
		return RunProgress{}, err
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.progress, nil
}

// GetRunResult waits for a run to finish and returns its result.
func (s *Service) GetRunResult(ctx context.Context, runID string) (*IngestResult, error) {
	run, err := s.getRun(runID)
	if err != nil {
		return nil, err
	}

	select {
	case <-run.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	run.mu.Lock()
	defer run.mu.Unlock()
	return run.result, nil
}

// CancelRun cancels an in-progress run. Windows already committed stay.
func (s *Service) CancelRun(runID string) error {
	run, err := s.getRun(runID)
	if err != nil {
		return err
	}
	run.cancel()
	return nil
}

// cleanup removes the run from tracking after a delay.
func (s *Service) cleanup(runID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.runs, runID)
		s.mu.Unlock()
	})
}

// update applies fn to the progress and notifies listeners.
func (r *activeRun) update(fn func(*RunProgress)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.progress)
	r.notifyLocked()
}

// finish records the result, sends the final progress and closes every
// listener.
func (r *activeRun) finish(result *IngestResult, phase RunPhase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.progress.Phase.Finished() {
		return
	}

	r.result = result
	r.progress.Phase = phase
	if result != nil {
		r.progress.Error = result.Error
		r.progress.RowsProcessed = result.RowsProcessed
		r.progress.RowsLost = result.RowsLost
		r.progress.WindowsCommitted = result.WindowsCommitted
		r.progress.WindowsRolledBack = result.WindowsRolledBack
		r.progress.Stats = result.Stats
	}
	r.notifyLocked()

	for _, ch := range r.listeners {
		close(ch)
	}
	r.listeners = nil
	close(r.done)
}

func (r *activeRun) notifyLocked() {
	for _, ch := range r.listeners {
		select {
		case ch <- r.progress:
		default:
			// slow listener, skip this update
		}
	}
}
