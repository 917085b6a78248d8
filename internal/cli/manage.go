package cli

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/JonMunkholm/immunoload/internal/core"
	"github.com/spf13/cobra"
)

// parseTarget parses the <kind> <id> arguments shared by impact and delete.
func parseTarget(args []string) (core.EntityKind, int64, error) {
	kind, ok := core.ParseEntityKind(args[0])
	if !ok {
		return "", 0, NewExitError(ExitCommandError,
			fmt.Sprintf("unknown entity type %q: must be project, subject or sample", args[0]))
	}
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || id <= 0 {
		return "", 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid id %q", args[1]))
	}
	return kind, id, nil
}

// NewImpactCommand creates the impact command.
func NewImpactCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "impact <project|subject|sample> <id>",
		Short: "Show what deleting an entity would remove",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, id, err := parseTarget(args)
			if err != nil {
				return err
			}
			svc, closeDB, err := rootOpts.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB()

			impact, err := svc.Impact(cmd.Context(), kind, id)
			if err != nil {
				return WrapExitError(ExitFailure, "impact", err)
			}
			return rootOpts.output(cmd).Write(impact, func(w io.Writer) { printImpact(w, impact) })
		},
	}
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <project|subject|sample> <id>",
		Short: "Delete an entity and its dependent samples",
		Long: `Delete a project, subject or sample. Deleting a project or subject also
removes its samples. Deletes that would remove more than DELETE_THRESHOLD
dependent samples are refused unless --force is given.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, id, err := parseTarget(args)
			if err != nil {
				return err
			}
			svc, closeDB, err := rootOpts.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB()

			result, err := svc.Delete(cmd.Context(), kind, id, force)
			if err != nil {
				if ce := core.AsError(err); ce != nil && ce.Kind == core.ErrConflict && ce.Impact != nil {
					printImpact(cmd.ErrOrStderr(), ce.Impact)
					return NewExitError(ExitFailure, "delete refused: rerun with --force to confirm")
				}
				return WrapExitError(ExitFailure, "delete", err)
			}
			return rootOpts.output(cmd).Write(result, func(w io.Writer) {
				fmt.Fprint(w, "deleted ")
				printImpact(w, &result.Impact)
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "delete even when the impact exceeds the threshold")
	return cmd
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove samples whose project or subject no longer exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeDB, err := rootOpts.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB()

			orphans, err := svc.SweepOrphans(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "sweep", err)
			}
			if orphans == nil {
				orphans = []core.Sample{}
			}
			return rootOpts.output(cmd).Write(orphans, func(w io.Writer) {
				fmt.Fprintf(w, "removed %d orphaned samples\n", len(orphans))
				for _, s := range orphans {
					fmt.Fprintf(w, "  sample %d (project %d, subject %d)\n", s.ID, s.ProjectID, s.SubjectID)
				}
			})
		},
	}
}

// NewSummaryCommand creates the summary command.
func NewSummaryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Print dataset counts and response rate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeDB, err := rootOpts.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB()

			sum, err := svc.Summary(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "summary", err)
			}
			return rootOpts.output(cmd).Write(sum, func(w io.Writer) { printSummary(w, sum) })
		},
	}
}

func printSummary(w io.Writer, s *core.Summary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "projects\t%d\n", s.Projects)
	fmt.Fprintf(tw, "subjects\t%d\n", s.Subjects)
	fmt.Fprintf(tw, "samples\t%d\n", s.Samples)
	fmt.Fprintf(tw, "responders\t%d\n", s.Responders)
	fmt.Fprintf(tw, "non-responders\t%d\n", s.NonResponders)
	fmt.Fprintf(tw, "response rate\t%.1f%%\n", s.ResponseRate()*100)
	for _, c := range s.SubjectsByCondition {
		fmt.Fprintf(tw, "condition %s\t%d\n", c.Key, c.Count)
	}
	tw.Flush()
}
