package cli

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// exampleRows is a small dataset covering two projects, two subjects with
// repeated visits and both treatment arms.
var exampleRows = [][]string{
	{"project", "subject", "condition", "age", "sex", "treatment", "response", "sample", "sample_type",
		"time_from_treatment_start", "b_cell", "cd8_t_cell", "cd4_t_cell", "nk_cell", "monocyte"},
	{"proj_1", "subj_001", "Control", "35", "F", "1", "True", "sample_001", "1", "7", "150", "200", "300", "50", "100"},
	{"proj_1", "subj_001", "Control", "35", "F", "2", "False", "sample_002", "1", "14", "160", "210", "310", "55", "105"},
	{"proj_2", "subj_002", "Treatment", "42", "M", "1", "True", "sample_003", "2", "7", "140", "190", "290", "45", "95"},
	{"proj_2", "subj_002", "Treatment", "42", "M", "2", "True", "sample_004", "2", "14", "155", "205", "305", "52", "102"},
}

// ExampleOptions holds flags for the example command.
type ExampleOptions struct {
	*RootOptions
	Out       string
	WriteOnly bool
}

// NewExampleCommand creates the example command.
func NewExampleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExampleOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "example",
		Short: "Write the example dataset and load it",
		Long: `Write a four-row example cell count CSV and ingest it with the
configured defaults.

Example:
  immunoload example --db ./example.db --driver sqlite
  immunoload example --out ./example.csv --write-only`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExample(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "where to write the CSV (default: a temporary file)")
	cmd.Flags().BoolVar(&opts.WriteOnly, "write-only", false, "write the CSV without loading it")

	return cmd
}

func runExample(cmd *cobra.Command, opts *ExampleOptions) error {
	path := opts.Out
	if path == "" {
		dir, err := os.MkdirTemp("", "immunoload-example-")
		if err != nil {
			return WrapExitError(ExitCommandError, "create temp dir", err)
		}
		defer os.RemoveAll(dir)
		path = filepath.Join(dir, "cell-count.csv")
	}

	if err := writeExample(path); err != nil {
		return WrapExitError(ExitCommandError, "write example", err)
	}
	slog.Info("example dataset written", "path", path, "rows", len(exampleRows)-1)

	if opts.WriteOnly {
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	}
	return runLoad(cmd, &LoadOptions{RootOptions: opts.RootOptions}, path)
}

func writeExample(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := writeExampleTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeExampleTo(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(exampleRows); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}
