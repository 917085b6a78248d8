package core

// ingest.go drives row-wise identity resolution and sample insertion.
//
// Rows are grouped into commit windows of CommitFrequency consecutive input
// rows. Each window is one transaction. How a failing row affects its window
// depends on the FailurePolicy:
//
//   - PolicyWindow: the whole window is rolled back. A fresh transaction is
//     opened and the remaining rows of the window are still processed, so
//     their errors are reported, but the window is rolled back again at its
//     boundary. Processing resumes normally with the next window.
//   - PolicyRow: every row runs under a savepoint and only the failing row is
//     rolled back.
//
// Statistics for a window are merged into the run totals only when the
// window commits. Rows discarded by a window rollback are counted in
// RowsLost.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// FailurePolicy selects the rollback granularity for a failing row.
type FailurePolicy string

const (
	PolicyWindow FailurePolicy = "window"
	PolicyRow    FailurePolicy = "row"
)

// ParseFailurePolicy validates a configured failure policy.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case PolicyWindow, PolicyRow:
		return FailurePolicy(s), nil
	case "":
		return PolicyWindow, nil
	}
	return "", fmt.Errorf("unknown failure policy %q (want window or row)", s)
}

const (
	// DefaultCommitFrequency is the number of input rows per commit window.
	DefaultCommitFrequency = 100

	// DefaultBatchSize is the number of rows between progress log lines.
	DefaultBatchSize = 1000

	// DefaultMaxFailedRows caps the failed rows kept in a result.
	DefaultMaxFailedRows = 1000

	// contextCheckInterval is how often (in rows) cancellation is checked.
	contextCheckInterval = 100

	rowSavepoint = "ingest_row"
)

// IngestOptions configures one ingestion run.
type IngestOptions struct {
	CommitFrequency int
	FailurePolicy   FailurePolicy
	IdentityMode    IdentityMode

	// BatchSize is the number of processed rows between progress log lines.
	BatchSize int

	// DryRun processes every row in a single transaction that is rolled
	// back at the end. Failures are isolated per row.
	DryRun bool

	MaxFailedRows int

	// Progress, if set, is called after every window.
	Progress func(IngestProgress)

	Logger *slog.Logger
}

func (o IngestOptions) withDefaults() IngestOptions {
	if o.CommitFrequency <= 0 {
		o.CommitFrequency = DefaultCommitFrequency
	}
	if o.FailurePolicy == "" {
		o.FailurePolicy = PolicyWindow
	}
	if o.IdentityMode == "" {
		o.IdentityMode = IdentityExternal
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.MaxFailedRows <= 0 {
		o.MaxFailedRows = DefaultMaxFailedRows
	}
	if o.DryRun {
		o.FailurePolicy = PolicyRow
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// IngestStats are the running counters of a run.
type IngestStats struct {
	ProjectsCreated   int `json:"projects_created"`
	SubjectsCreated   int `json:"subjects_created"`
	SamplesCreated    int `json:"samples_created"`
	Errors            int `json:"errors"`
	DuplicatesSkipped int `json:"duplicates_skipped"`
}

func (s *IngestStats) add(o IngestStats) {
	s.ProjectsCreated += o.ProjectsCreated
	s.SubjectsCreated += o.SubjectsCreated
	s.SamplesCreated += o.SamplesCreated
	s.Errors += o.Errors
	s.DuplicatesSkipped += o.DuplicatesSkipped
}

// FailedRow records why a data row was rejected.
type FailedRow struct {
	Row     int          `json:"row"`
	Kind    ErrorKind    `json:"kind"`
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields,omitempty"`
}

// IngestResult is the outcome of a run. Success is false only when the run
// aborted; per-row failures are reported in Stats.Errors and FailedRows.
// RowsProcessed counts every non-blank data row read, failed ones included.
type IngestResult struct {
	Success           bool        `json:"success"`
	Stats             IngestStats `json:"stats"`
	RowsProcessed     int         `json:"rows_processed"`
	RowsLost          int         `json:"rows_lost"`
	WindowsCommitted  int         `json:"windows_committed"`
	WindowsRolledBack int         `json:"windows_rolled_back"`
	FailedRows        []FailedRow `json:"failed_rows,omitempty"`
	DryRun            bool        `json:"dry_run,omitempty"`
	Error             string      `json:"error,omitempty"`
	ErrorKind         ErrorKind   `json:"error_kind,omitempty"`
}

// IngestProgress is reported after each commit window.
type IngestProgress struct {
	RowsProcessed     int         `json:"rows_processed"`
	RowsLost          int         `json:"rows_lost"`
	WindowsCommitted  int         `json:"windows_committed"`
	WindowsRolledBack int         `json:"windows_rolled_back"`
	Stats             IngestStats `json:"stats"`
}

// Engine ingests records into a Store.
type Engine struct {
	store Store
	opts  IngestOptions
	rec   Recorder
}

// NewEngine creates an ingestion engine. rec may be nil.
func NewEngine(store Store, opts IngestOptions, rec Recorder) *Engine {
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Engine{store: store, opts: opts.withDefaults(), rec: rec}
}

// ingestRun holds the mutable state of one Run call.
type ingestRun struct {
	*Engine
	logger   *slog.Logger
	header   HeaderIndex
	tx       Tx
	resolver *Resolver
	result   *IngestResult

	pending    IngestStats // stats of rows staged in the current window
	staged     int         // rows staged in the current window
	windowRows int         // input rows consumed in the current window
	poisoned   bool        // current window must be rolled back
	lost       bool        // rows of the current window were rolled back
}

// Run ingests every record from in. The returned result always carries the
// statistics gathered so far; a non-nil error means the run aborted.
func (e *Engine) Run(ctx context.Context, in RecordReader) (*IngestResult, error) {
	start := time.Now()
	logger := e.opts.Logger
	if id := RunIDFromContext(ctx); id != "" {
		logger = logger.With("run_id", id)
	}

	r := &ingestRun{
		Engine: e,
		logger: logger,
		result: &IngestResult{DryRun: e.opts.DryRun},
	}

	defer func() {
		if r.tx != nil {
			r.tx.Rollback(context.WithoutCancel(ctx))
			r.tx = nil
		}
	}()

	err := r.run(ctx, in)

	r.result.Success = err == nil
	if err != nil {
		ce := AsError(err)
		r.result.Error = ce.Error()
		r.result.ErrorKind = ce.Kind
		logger.Error("ingestion aborted",
			"error", err,
			"rows_processed", r.result.RowsProcessed,
			"rows_lost", r.result.RowsLost,
		)
	} else {
		logger.Info("ingestion complete",
			"rows_processed", r.result.RowsProcessed,
			"projects_created", r.result.Stats.ProjectsCreated,
			"subjects_created", r.result.Stats.SubjectsCreated,
			"samples_created", r.result.Stats.SamplesCreated,
			"errors", r.result.Stats.Errors,
			"rows_lost", r.result.RowsLost,
			"dry_run", e.opts.DryRun,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	e.rec.RunFinished(err == nil, time.Since(start))
	return r.result, err
}

func (r *ingestRun) run(ctx context.Context, in RecordReader) error {
	report, err := ValidateColumns(in.Header())
	if err != nil {
		return err
	}
	r.header = report.Index
	if len(report.Missing) > 0 {
		r.logger.Warn("optional columns missing, values treated as null", "columns", report.Missing)
	}
	if len(report.Extra) > 0 {
		r.logger.Debug("ignoring extra columns", "columns", report.Extra)
	}

	if err := r.begin(ctx); err != nil {
		return err
	}
	r.resolver = NewResolver(r.tx, r.opts.IdentityMode, r.logger)

	rowNum := 0
	for {
		record, err := in.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			r.rollbackTx(ctx)
			return NewValidationError(fmt.Sprintf("read row %d: %v", rowNum+1, err))
		}
		rowNum++

		if rowNum%contextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				r.rollbackTx(ctx)
				return &Error{Kind: ErrInternal, Message: "ingestion cancelled", Err: err}
			}
		}

		if isEmptyRecord(record) {
			continue
		}

		r.result.RowsProcessed++
		r.windowRows++
		if err := r.processRow(ctx, rowNum, record); err != nil {
			return err
		}
		if r.result.RowsProcessed%r.opts.BatchSize == 0 {
			r.logger.Info("ingestion progress",
				"rows_processed", r.result.RowsProcessed,
				"windows_committed", r.result.WindowsCommitted,
				"errors", r.result.Stats.Errors,
			)
		}

		if r.windowRows >= r.opts.CommitFrequency {
			if err := r.finishWindow(ctx, true); err != nil {
				return err
			}
		}
	}

	return r.finishWindow(ctx, false)
}

// processRow stages one row. Only run-fatal failures are returned.
func (r *ingestRun) processRow(ctx context.Context, rowNum int, record []string) error {
	if r.opts.FailurePolicy == PolicyRow {
		return r.processRowIsolated(ctx, rowNum, record)
	}

	delta, err := r.stageRow(ctx, record)
	if err == nil {
		r.pending.add(delta)
		r.staged++
		return nil
	}

	r.recordFailure(rowNum, err)
	r.logger.Warn("row failed, rolling back window",
		"row", rowNum,
		"error", err,
		"rows_lost", r.staged,
	)
	r.rollbackTx(ctx)
	r.poisoned = true
	return r.begin(ctx)
}

// processRowIsolated stages one row under a savepoint.
func (r *ingestRun) processRowIsolated(ctx context.Context, rowNum int, record []string) error {
	if err := r.tx.Savepoint(ctx, rowSavepoint); err != nil {
		r.recordFailure(rowNum, AsStorage("savepoint", err))
		r.rollbackTx(ctx)
		return r.begin(ctx)
	}
	mark := r.resolver.Mark()

	delta, err := r.stageRow(ctx, record)
	if err == nil {
		if err := r.tx.Release(ctx, rowSavepoint); err != nil {
			r.recordFailure(rowNum, AsStorage("release savepoint", err))
			r.rollbackTx(ctx)
			return r.begin(ctx)
		}
		r.pending.add(delta)
		r.staged++
		return nil
	}

	r.recordFailure(rowNum, err)
	r.logger.Debug("row failed, rolled back to savepoint", "row", rowNum, "error", err)
	r.resolver.Revert(mark)
	if rbErr := r.tx.RollbackTo(ctx, rowSavepoint); rbErr != nil {
		r.logger.Warn("savepoint rollback failed, rolling back window", "row", rowNum, "error", rbErr)
		r.rollbackTx(ctx)
		return r.begin(ctx)
	}
	return nil
}

// stageRow normalizes, resolves and inserts one row in the current
// transaction and returns the statistics it would contribute.
func (r *ingestRun) stageRow(ctx context.Context, record []string) (IngestStats, error) {
	var delta IngestStats

	row, fieldErrs := NormalizeRow(r.header.Fields(record))
	if len(fieldErrs) > 0 {
		return delta, NewValidationError("invalid row", fieldErrs...)
	}

	project, err := r.resolver.ResolveProject(ctx, row.Project)
	if err != nil {
		return delta, err
	}
	subject, err := r.resolver.ResolveSubject(ctx, row.Subject)
	if err != nil {
		return delta, err
	}

	row.Sample.ProjectID = project.ID
	row.Sample.SubjectID = subject.ID
	if _, err := r.tx.CreateSample(ctx, row.Sample); err != nil {
		return delta, AsStorage("create sample", err)
	}

	if project.Created {
		delta.ProjectsCreated++
	}
	if subject.Created {
		delta.SubjectsCreated++
	}
	if subject.Matched {
		delta.DuplicatesSkipped++
	}
	delta.SamplesCreated++
	return delta, nil
}

func (r *ingestRun) recordFailure(rowNum int, err error) {
	r.result.Stats.Errors++
	r.rec.RowsIngested(OutcomeFailed, 1)
	if len(r.result.FailedRows) >= r.opts.MaxFailedRows {
		return
	}
	ce := AsError(err)
	msg := ce.Message
	if ce.Err != nil {
		msg += ": " + ce.Err.Error()
	}
	r.result.FailedRows = append(r.result.FailedRows, FailedRow{
		Row:     rowNum,
		Kind:    ce.Kind,
		Message: msg,
		Fields:  ce.Fields,
	})
}

// finishWindow commits or rolls back the current window. When more input
// follows, the next window is opened.
func (r *ingestRun) finishWindow(ctx context.Context, more bool) error {
	switch {
	case r.poisoned:
		r.logger.Warn("discarding window after row failure", "rows_lost", r.staged)
		r.rollbackTx(ctx)

	case r.opts.DryRun:
		// a dry run keeps its single transaction open until Run returns
		r.result.Stats.add(r.pending)
		r.rec.RowsIngested(OutcomeDryRun, r.staged)
		r.resolver.Commit()

	default:
		if err := r.tx.Commit(ctx); err != nil {
			r.logger.Error("window commit failed", "error", err, "rows_lost", r.staged)
			r.rollbackTx(ctx)
			break
		}
		r.tx = nil
		r.result.Stats.add(r.pending)
		r.result.WindowsCommitted++
		r.rec.WindowFinished(OutcomeCommitted)
		r.rec.RowsIngested(OutcomeCommitted, r.staged)
		r.resolver.Commit()
		r.logger.Debug("window committed",
			"rows", r.windowRows,
			"staged", r.staged,
			"rows_processed", r.result.RowsProcessed,
		)
	}

	if r.lost {
		r.result.WindowsRolledBack++
		r.rec.WindowFinished(OutcomeRolledBack)
	}
	r.pending = IngestStats{}
	r.staged = 0
	r.windowRows = 0
	r.poisoned = false
	r.lost = false

	r.notify()
	if !more {
		return nil
	}
	return r.begin(ctx)
}

// rollbackTx rolls back the current transaction and forgets every row
// staged in it.
func (r *ingestRun) rollbackTx(ctx context.Context) {
	if r.tx != nil {
		if err := r.tx.Rollback(context.WithoutCancel(ctx)); err != nil {
			r.logger.Debug("rollback failed", "error", err)
		}
		r.tx = nil
	}
	r.result.RowsLost += r.staged
	r.rec.RowsIngested(OutcomeLost, r.staged)
	if r.resolver != nil {
		r.resolver.Revert(0)
	}
	r.pending = IngestStats{}
	r.staged = 0
	r.lost = true
}

// begin opens the transaction for the next window. A failure here is fatal.
func (r *ingestRun) begin(ctx context.Context) error {
	if r.tx != nil {
		return nil
	}
	tx, err := r.store.Begin(ctx)
	if err != nil {
		return AsStorage("begin transaction", err)
	}
	r.tx = tx
	if r.resolver != nil {
		r.resolver.Bind(tx)
	}
	return nil
}

func (r *ingestRun) notify() {
	if r.opts.Progress == nil {
		return
	}
	r.opts.Progress(IngestProgress{
		RowsProcessed:     r.result.RowsProcessed,
		RowsLost:          r.result.RowsLost,
		WindowsCommitted:  r.result.WindowsCommitted,
		WindowsRolledBack: r.result.WindowsRolledBack,
		Stats:             r.result.Stats,
	})
}

// isEmptyRecord reports whether every cell in the record is blank.
func isEmptyRecord(record []string) bool {
	for _, cell := range record {
		if CleanCell(cell) != "" {
			return false
		}
	}
	return true
}
