package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/JonMunkholm/immunoload/internal/core"
	"github.com/JonMunkholm/immunoload/internal/source"
	"github.com/spf13/cobra"
)

// LoadOptions holds flags for the load command.
type LoadOptions struct {
	*RootOptions
	CommitFrequency int
	BatchSize       int
	DryRun          bool
	FailurePolicy   string
	Identity        string
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "load <file>",
		Short: "Ingest a cell count file",
		Long: `Ingest a CSV or XLSX cell count file into the database.

The file may be a local path or an s3://bucket/key location. Rows are
committed in windows of --commit-frequency rows; with --failure-policy
row a failing row is skipped, with window the whole window is rolled
back. --dry-run validates every row and stores nothing.

Example:
  immunoload load cell-count.csv
  immunoload load --dry-run --format json s3://lab-data/cell-count.xlsx`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd, opts, args[0])
		},
	}

	cmd.Flags().IntVar(&opts.CommitFrequency, "commit-frequency", 0, "rows per commit window (default from INGEST_COMMIT_FREQUENCY)")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "rows between progress log lines (default from INGEST_BATCH_SIZE)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "validate without storing anything")
	cmd.Flags().StringVar(&opts.FailurePolicy, "failure-policy", "", "window or row (default from INGEST_FAILURE_POLICY)")
	cmd.Flags().StringVar(&opts.Identity, "identity", "", "subject identity: external or attributes (default from INGEST_IDENTITY_MODE)")

	return cmd
}

// ingestOptions validates the flags. Unset flags fall back to the service
// defaults.
func (o *LoadOptions) ingestOptions() (core.IngestOptions, error) {
	policy := core.FailurePolicy("")
	if o.FailurePolicy != "" {
		p, err := core.ParseFailurePolicy(o.FailurePolicy)
		if err != nil {
			return core.IngestOptions{}, err
		}
		policy = p
	}
	mode := core.IdentityMode("")
	if o.Identity != "" {
		m, err := core.ParseIdentityMode(o.Identity)
		if err != nil {
			return core.IngestOptions{}, err
		}
		mode = m
	}
	if o.CommitFrequency < 0 || o.BatchSize < 0 {
		return core.IngestOptions{}, fmt.Errorf("--commit-frequency and --batch-size must not be negative")
	}
	return core.IngestOptions{
		CommitFrequency: o.CommitFrequency,
		BatchSize:       o.BatchSize,
		DryRun:          o.DryRun,
		FailurePolicy:   policy,
		IdentityMode:    mode,
	}, nil
}

func runLoad(cmd *cobra.Command, opts *LoadOptions, location string) error {
	ingestOpts, err := opts.ingestOptions()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid flags", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, closeDB, err := opts.openService(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	src, err := opts.open(ctx, location)
	if err != nil {
		return WrapExitError(ExitCommandError, "open input", err)
	}
	defer src.Close()

	slog.Info("loading file", "location", location, "dry_run", ingestOpts.DryRun)
	result, err := svc.Ingest(ctx, src, ingestOpts)
	if result == nil {
		return WrapExitError(ExitFailure, "ingest", err)
	}

	out := opts.output(cmd)
	if werr := out.Write(result, func(w io.Writer) { printResult(w, result) }); werr != nil {
		return werr
	}
	if err != nil || !result.Success {
		msg := result.Error
		if msg == "" && err != nil {
			msg = err.Error()
		}
		return NewExitError(ExitFailure, "ingest failed: "+msg)
	}
	return nil
}

// open resolves location, building an S3 client only for s3:// inputs.
func (o *RootOptions) open(ctx context.Context, location string) (core.RecordSource, error) {
	opener := &source.Opener{MaxSize: o.cfg.Ingest.MaxFileSize}
	if strings.HasPrefix(location, "s3://") {
		client, err := source.NewS3Client(ctx, source.S3Config{
			Region:       o.cfg.S3.Region,
			Endpoint:     o.cfg.S3.Endpoint,
			UsePathStyle: o.cfg.S3.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		opener.S3 = client
	}
	return opener.Open(ctx, location)
}
