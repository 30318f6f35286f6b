package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"marinaops/internal/rules"
	"marinaops/internal/types"
)

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect rescheduling rules",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Load and validate a rule file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := rules.NewFileSource(args[0]).LoadActiveRules(cmd.Context())
			if err != nil {
				return err
			}
			set, err := rules.NewSet(loaded)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "#\tNAME\tACTION\tDAYS\tREASON")
			for i, r := range set.Rules() {
				rec := rules.RecordOf(r)
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", i+1, rec.Name, rec.Action, rec.AdjustmentDays, rec.Reason)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d rules OK\n", set.Len())
			return nil
		},
	})
	return cmd
}

func newWeekCmd(app *App) *cobra.Command {
	var siteID, start string

	cmd := &cobra.Command{
		Use:   "week",
		Short: "Print the aggregated week for a site",
		RunE: func(cmd *cobra.Command, args []string) error {
			weekStart, err := parseDateFlag("start", start)
			if err != nil {
				return err
			}
			return withServices(cmd.Context(), app, func(s *Services) error {
				view, err := s.Planner.Week(cmd.Context(), siteID, weekStart)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), view)
			})
		},
	}

	cmd.Flags().StringVar(&siteID, "site", "", "Site ID")
	cmd.Flags().StringVar(&start, "start", "", "Week start (Monday, YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("site")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

func newRescheduleCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "reschedule <task-id> <YYYY-MM-DD>",
		Short: "Move a task to a new date",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			newDate, err := types.ParseDate(args[1])
			if err != nil {
				return fmt.Errorf("new date: %w", err)
			}
			return withServices(cmd.Context(), app, func(s *Services) error {
				res, err := s.Mover.Reschedule(cmd.Context(), args[0], newDate)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func newSweepCmd(app *App) *cobra.Command {
	var siteID, start string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Apply every recommended adjustment in a week",
		RunE: func(cmd *cobra.Command, args []string) error {
			weekStart, err := parseDateFlag("start", start)
			if err != nil {
				return err
			}
			return withServices(cmd.Context(), app, func(s *Services) error {
				report, err := s.Sweeper.Sweep(cmd.Context(), siteID, weekStart)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}

	cmd.Flags().StringVar(&siteID, "site", "", "Site ID")
	cmd.Flags().StringVar(&start, "start", "", "Week start (Monday, YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("site")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}
