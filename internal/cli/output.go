package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/JonMunkholm/immunoload/internal/core"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The operation ran and failed (aborted run, refused delete)
	ExitCommandError = 2 // Command error (bad flags, unreachable database, missing file)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter writes command results as text or JSON.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// JSON reports whether results are written as JSON.
func (f *OutputFormatter) JSON() bool {
	return f.Format == "json"
}

// Write encodes v as indented JSON in json mode, or calls text otherwise.
func (f *OutputFormatter) Write(v any, text func(w io.Writer)) error {
	if f.JSON() {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(f.Writer)
	return nil
}

func printResult(w io.Writer, r *core.IngestResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	status := "completed"
	switch {
	case !r.Success:
		status = "failed"
	case r.DryRun:
		status = "dry run completed, nothing stored"
	}
	fmt.Fprintf(tw, "status\t%s\n", status)
	if r.Error != "" {
		fmt.Fprintf(tw, "error\t%s\n", r.Error)
	}
	fmt.Fprintf(tw, "rows processed\t%d\n", r.RowsProcessed)
	fmt.Fprintf(tw, "projects created\t%d\n", r.Stats.ProjectsCreated)
	fmt.Fprintf(tw, "subjects created\t%d\n", r.Stats.SubjectsCreated)
	fmt.Fprintf(tw, "samples created\t%d\n", r.Stats.SamplesCreated)
	fmt.Fprintf(tw, "duplicates skipped\t%d\n", r.Stats.DuplicatesSkipped)
	fmt.Fprintf(tw, "errors\t%d\n", r.Stats.Errors)
	fmt.Fprintf(tw, "windows committed\t%d\n", r.WindowsCommitted)
	if r.WindowsRolledBack > 0 || r.RowsLost > 0 {
		fmt.Fprintf(tw, "windows rolled back\t%d\n", r.WindowsRolledBack)
		fmt.Fprintf(tw, "rows lost\t%d\n", r.RowsLost)
	}
	tw.Flush()

	for _, fr := range r.FailedRows {
		fmt.Fprintf(w, "  row %d: %s\n", fr.Row, fr.Message)
	}
}

func printImpact(w io.Writer, im *core.Impact) {
	fmt.Fprintf(w, "%s %d: %d dependent samples, %d rows affected\n",
		im.EntityType, im.EntityID, im.DependentSampleCount, im.TotalAffected)
}
