// Package cli implements the immunoload command line: loading cell count
// files, the bundled example dataset, impact and delete with confirmation,
// the orphan sweep and the summary report.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/JonMunkholm/immunoload/internal/config"
	"github.com/JonMunkholm/immunoload/internal/core"
	"github.com/JonMunkholm/immunoload/internal/database"
	"github.com/JonMunkholm/immunoload/internal/logging"
	"github.com/spf13/cobra"
)

// LoadFunc returns the configuration for a command run.
type LoadFunc func() (*config.Config, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Driver  string
	DB      string

	load LoadFunc
	cfg  *config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command. load is called once per
// invocation, after the --db and --driver flags are applied to the
// environment.
func NewRootCommand(load LoadFunc) *cobra.Command {
	opts := &RootOptions{load: load}

	cmd := &cobra.Command{
		Use:   "immunoload",
		Short: "Load and manage immune cell count data",
		Long: `immunoload ingests cell count spreadsheets (CSV or XLSX, local or s3://)
into the research database and manages the stored projects, subjects
and samples.

Settings come from the environment (DATABASE_URL, DB_DRIVER, INGEST_*);
a .env file in the working directory is read first.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return opts.setup(cmd)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "database URL or sqlite path (overrides DATABASE_URL)")
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "", "database driver: postgres or sqlite (overrides DB_DRIVER)")

	cmd.AddCommand(NewLoadCommand(opts))
	cmd.AddCommand(NewExampleCommand(opts))
	cmd.AddCommand(NewImpactCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewSummaryCommand(opts))

	return cmd
}

// setup loads the configuration and installs the command logger.
func (o *RootOptions) setup(cmd *cobra.Command) error {
	if o.DB != "" {
		os.Setenv("DATABASE_URL", o.DB)
	}
	if o.Driver != "" {
		os.Setenv("DB_DRIVER", o.Driver)
	}

	cfg, err := o.load()
	if err != nil {
		return WrapExitError(ExitCommandError, "load configuration", err)
	}
	if o.DB != "" {
		cfg.Database.URL = o.DB
	}
	if o.Driver != "" {
		cfg.Database.Driver = o.Driver
	}
	o.cfg = cfg

	level := cfg.Logging.Level
	if o.Verbose {
		level = "debug"
	}
	slog.SetDefault(logging.New(cmd.ErrOrStderr(), level, cfg.Logging.Format))
	return nil
}

// openService connects to the configured database. The returned func
// closes it.
func (o *RootOptions) openService(ctx context.Context) (*core.Service, func(), error) {
	store, err := database.Open(ctx, o.cfg.Database)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "open database", err)
	}
	return core.NewService(store, o.cfg.ServiceConfig()), store.Close, nil
}

func (o *RootOptions) output(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}
