package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/dsmacro/internal/engine"
	"github.com/rendis/dsmacro/internal/scheduler"
	"github.com/rendis/dsmacro/internal/store"
	"github.com/rendis/dsmacro/internal/streaming"
	"github.com/rendis/dsmacro/pkg/mcp"
	"github.com/rendis/dsmacro/pkg/schema"
)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// --- run ---

func newRunCmd() *cobra.Command {
	var (
		categories []string
		delay      time.Duration
		follow     bool
	)
	cmd := &cobra.Command{
		Use:   "run <name>",
		Short: "Run a catalogue routine or stored record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			if !cmd.Flags().Changed("delay") {
				delay = a.cfg.StartDelay
			}
			if err := countdown(ctx, cmd.ErrOrStderr(), delay); err != nil {
				return nil
			}
			if follow {
				defer a.follow(ctx, cmd.ErrOrStderr(), args[0])()
			}

			release := a.guard(ctx)
			defer release()
			res, err := a.runner.Run(ctx, args[0], categories...)
			return a.finish(cmd.OutOrStdout(), res, err)
		},
	}
	cmd.Flags().StringSliceVarP(&categories, "category", "c", nil, "extra categories for the run")
	cmd.Flags().DurationVar(&delay, "delay", 0, "wait before starting (default: start_delay setting)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "print lifecycle events while running")
	return cmd
}

// --- play ---

func newPlayCmd() *cobra.Command {
	var (
		categories []string
		delay      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "play <file.json>",
		Short: "Validate and run a routine record file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			rec, err := a.readRecord(args[0], cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("delay") {
				delay = a.cfg.StartDelay
			}
			if err := countdown(ctx, cmd.ErrOrStderr(), delay); err != nil {
				return nil
			}

			release := a.guard(ctx)
			defer release()
			res, err := a.ctl.ExecuteRecord(ctx, rec, categories...)
			return a.finish(cmd.OutOrStdout(), res, err)
		},
	}
	cmd.Flags().StringSliceVarP(&categories, "category", "c", nil, "categories for the run")
	cmd.Flags().DurationVar(&delay, "delay", 0, "wait before starting (default: start_delay setting)")
	return cmd
}

// --- import ---

func newImportCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "import <file.json>",
		Short: "Validate a routine record file and store it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.close()

			rec, err := a.readRecord(args[0], cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if name != "" {
				rec.Name = name
			}
			stored := &store.Record{Name: rec.Name, Description: rec.Description, Actions: rec.Actions}
			if err := a.store.SaveRecord(cmd.Context(), stored); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %q (%d actions) as %s\n", stored.Name, len(stored.Actions), stored.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "store under this name instead of the record's own")
	return cmd
}

// --- list ---

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List catalogue routines and stored records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tSOURCE\tCATEGORIES\tDESCRIPTION")
			for _, e := range a.catalogue.List() {
				source := "catalogue"
				if e.Legacy {
					source = "legacy"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Key, source, strings.Join(e.Categories, ","), e.Description)
			}
			recs, err := a.store.ListRecords(cmd.Context())
			if err != nil {
				return err
			}
			for _, r := range recs {
				fmt.Fprintf(w, "%s\tstored\t\t%s\n", r.Name, r.Description)
			}
			return w.Flush()
		},
	}
}

// --- schedule ---

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage cron-triggered routine runs",
	}

	var categories []string
	add := &cobra.Command{
		Use:   "add <name> <cron>",
		Short: "Schedule a routine with a 5-field cron expression",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.close()

			if _, err := a.runner.Build(cmd.Context(), args[0]); err != nil {
				return err
			}
			sched := scheduler.NewScheduler(a.store, a.runner, a.cfg.Scheduler.Interval, a.logger)
			job, err := sched.Schedule(cmd.Context(), args[0], args[1], categories...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Scheduled %s as %s, next run %s\n",
				job.RoutineName, job.ID, job.NextRunAt.Local().Format(time.RFC3339))
			return nil
		},
	}
	add.Flags().StringSliceVarP(&categories, "category", "c", nil, "extra categories for each run")

	list := &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.close()

			jobs, err := a.store.ListScheduledJobs(cmd.Context(), store.ScheduledJobFilter{})
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tROUTINE\tCRON\tENABLED\tNEXT RUN\tLAST STATUS")
			for _, j := range jobs {
				next := "-"
				if j.NextRunAt != nil {
					next = j.NextRunAt.Local().Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n", j.ID, j.RoutineName, j.CronExpression, j.Enabled, next, j.LastRunStatus)
			}
			return w.Flush()
		},
	}

	remove := &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.close()
			return a.store.DeleteScheduledJob(cmd.Context(), args[0])
		},
	}

	cmd.AddCommand(add, list, remove)
	return cmd
}

// --- history ---

func newHistoryCmd() *cobra.Command {
	var (
		routine string
		outcome string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.close()

			runs, err := a.store.ListRuns(cmd.Context(), store.RunFilter{
				RoutineName: routine,
				Outcome:     schema.Outcome(outcome),
				Limit:       limit,
			})
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tROUTINE\tOUTCOME\tSEQUENCES\tSTARTED")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n", r.ID, r.RoutineName, r.Outcome,
					r.SequencesExecuted, r.SequencesTotal, r.StartedAt.Local().Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&routine, "routine", "", "only runs of this routine")
	cmd.Flags().StringVar(&outcome, "outcome", "", "only runs with this outcome: completed, cancelled, failed")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")

	events := &cobra.Command{
		Use:   "events <run-id>",
		Short: "Print the event log of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.close()

			evs, err := a.store.GetEvents(cmd.Context(), args[0], 0)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), evs)
		},
	}

	replay := &cobra.Command{
		Use:   "replay <run-id>",
		Short: "Rebuild the state of one run from its event log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.close()

			state, err := store.NewEventLog(a.store).ReplayRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), state)
		},
	}

	cmd.AddCommand(events, replay)
	return cmd
}

// --- serve ---

func newServeCmd() *cobra.Command {
	var noScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the MCP control tools on stdio and run scheduled jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()
			defer a.emergencyStop("server stopped")

			if !noScheduler {
				sched := scheduler.NewScheduler(a.store, a.runner, a.cfg.Scheduler.Interval, a.logger)
				if err := sched.RecoverMissed(ctx); err != nil {
					a.logger.Warn("recover missed jobs", "error", err)
				}
				if err := sched.Start(ctx); err != nil {
					return err
				}
				defer sched.Stop()
			}
			defer a.logEvents(ctx)()

			srv := mcp.NewMacroServer(mcp.MacroServerDeps{
				Controller: a.ctl,
				Catalogue:  a.catalogue,
				Store:      a.store,
				Validator:  a.validator,
				Logger:     a.logger,
			})
			a.logger.Info("mcp server listening on stdio")
			if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "do not run scheduled jobs")
	return cmd
}

// --- helpers ---

// readRecord loads and validates a routine record file. Warnings go to warn.
func (a *app) readRecord(path string, warn io.Writer) (*schema.RoutineRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "read %s: %s", path, err.Error()).WithCause(err)
	}
	rec, result, err := a.validator.Check(data)
	if err != nil {
		return nil, err
	}
	for _, w := range result.Warnings() {
		fmt.Fprintf(warn, "%s: %s\n", path, w)
	}
	if err := result.ToError(); err != nil {
		return nil, err
	}
	return rec, nil
}

// finish prints the run result. An action failure triggers an emergency
// stop before the error is returned.
func (a *app) finish(w io.Writer, res *engine.RunResult, err error) error {
	if err != nil {
		if schema.IsActionError(err) {
			a.emergencyStop("routine failed")
		}
		if res != nil {
			_ = printJSON(w, res)
		}
		return err
	}
	return printJSON(w, res)
}

// follow prints live lifecycle events of the named routine until the
// returned function is called.
func (a *app) follow(ctx context.Context, w io.Writer, name string) func() {
	ch, cancel, err := a.hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			fmt.Fprintf(w, "%s  %-20s %s#%d\n", time.Now().Format("15:04:05.000"), ev.EventType, ev.RoutineName, ev.RoutineID)
		}
	}()
	a.logger.Debug("following routine events", "routine", name)
	return func() {
		cancel()
		<-done
	}
}

// logEvents mirrors hub events to the debug log until the returned
// function is called.
func (a *app) logEvents(ctx context.Context) func() {
	ch, cancel, err := a.hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return func() {}
	}
	go func() {
		for ev := range ch {
			a.logger.Debug("routine event",
				"event_type", ev.EventType,
				"routine_id", ev.RoutineID,
				"routine_name", ev.RoutineName,
				"run_id", ev.RunID,
			)
		}
	}()
	return cancel
}

// countdown waits d, printing the remaining whole seconds. It returns
// ctx's error when interrupted.
func countdown(ctx context.Context, w io.Writer, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	deadline := time.Now().Add(d)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	timer := time.NewTimer(d)
	defer timer.Stop()

	fmt.Fprintf(w, "Starting in %s...\n", d.Round(time.Second))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case <-ticker.C:
			if left := time.Until(deadline).Round(time.Second); left > 0 {
				fmt.Fprintf(w, "%s...\n", left)
			}
		}
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
