package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"flowdeck/backend/internal/api"
	"flowdeck/backend/internal/app"
	"flowdeck/backend/internal/schedule"
	"flowdeck/backend/internal/services"
	"flowdeck/backend/internal/session"
)

func newWorkflowsCmd(opts *options) *cobra.Command {
	var f services.Filter
	cmd := &cobra.Command{
		Use:   "workflows",
		Short: "List visible workflows with their schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App, sess *session.Session) error {
				workflows, err := a.Workflows.List(ctx, sess, f)
				if err != nil {
					return err
				}
				if opts.asJSON {
					return printJSON(cmd.OutOrStdout(), workflows)
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tACTIVE\tTAGS\tSCHEDULE\tNEXT RUN")
				for _, wf := range workflows {
					fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\t%s\n",
						wf.ID, wf.Name, wf.Active, strings.Join(wf.Tags, ","),
						describeAll(wf.Schedules), formatTime(wf.NextRun))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&f.Tag, "tag", "", "Exact tag name")
	cmd.Flags().StringVar(&f.Category, "category", "", "Category (tag substring)")
	return cmd
}

func newScheduleCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Read or replace a workflow schedule",
	}

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Print the schedule entries of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App, sess *session.Session) error {
				entries, err := a.Workflows.Schedule(ctx, sess, args[0])
				if err != nil {
					return err
				}
				return printEntries(cmd, opts, entries)
			})
		},
	}

	var specs []string
	set := &cobra.Command{
		Use:     "set <id> --entry DAY@HH:MM ...",
		Short:   "Replace the schedule of a workflow",
		Example: "  flowctl schedule set wf1 --entry 1@09:30 --entry 4@18:00",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := parseEntries(specs)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App, sess *session.Session) error {
				updated, err := a.Workflows.UpdateSchedule(ctx, sess, args[0], entries)
				if err != nil {
					return err
				}
				return printEntries(cmd, opts, updated)
			})
		},
	}
	set.Flags().StringArrayVar(&specs, "entry", nil, "Schedule entry as DAY@HH:MM, DAY is 0-6 (0 is Sunday), a weekday name or * for daily")

	cmd.AddCommand(get, set)
	return cmd
}

func newActiveCmd(opts *options, use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App, sess *session.Session) error {
				if err := a.Workflows.SetActive(ctx, sess, args[0], active); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: active=%t\n", args[0], active)
				return nil
			})
		},
	}
}

func newExecuteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "execute <id>",
		Short: "Start a manual run of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App, sess *session.Session) error {
				exec, err := a.Workflows.Execute(ctx, sess, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), exec)
			})
		},
	}
}

func newAuditCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Print the audit trail of the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App, _ *session.Session) error {
				entries, err := a.Workflows.RecentAudit(ctx)
				if err != nil {
					return err
				}
				if opts.asJSON {
					return printJSON(cmd.OutOrStdout(), entries)
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TIME\tUSER\tACTION\tWORKFLOW\tBEFORE\tAFTER")
				for _, e := range entries {
					workflow := e.WorkflowName
					if workflow == "" {
						workflow = e.WorkflowID
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
						e.Timestamp.Local().Format("2006-01-02 15:04"), e.UserName,
						api.ActionLabel(e.Action), workflow,
						api.ValueLabel(e.Action, e.OldValue), api.ValueLabel(e.Action, e.NewValue))
				}
				return tw.Flush()
			})
		},
	}
}

func printEntries(cmd *cobra.Command, opts *options, entries []schedule.Entry) error {
	if opts.asJSON {
		return printJSON(cmd.OutOrStdout(), entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no schedule")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", e.Mode, schedule.Describe(e))
	}
	return nil
}

func describeAll(entries []schedule.Entry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, schedule.Describe(e))
	}
	return strings.Join(parts, "; ")
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
