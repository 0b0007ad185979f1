package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/maplink/internal/events"
	"github.com/sells-group/maplink/internal/model"
)

var runCmd = &cobra.Command{
	Use:   "run <workbook>",
	Short: "Enrich the in-scope rows of a workbook in the foreground",
	Long:  "Runs one job to completion. Interrupt (Ctrl-C) stops after the current row; the ledger keeps every finished row for --resume.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		doc, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "run: read workbook")
		}
		opts, err := jobOptionsFromFlags(cmd)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			// Job history is optional for a foreground run.
			zap.L().Warn("job history disabled", zap.Error(err))
			st = nil
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
		}

		ctl, err := initController(st, nil)
		if err != nil {
			return err
		}
		defer ctl.Close() //nolint:errcheck

		evs, unsubscribe := ctl.Bus().Subscribe(0)
		defer unsubscribe()
		printed := make(chan struct{})
		go func() {
			defer close(printed)
			for ev := range evs {
				printEvent(cmd.ErrOrStderr(), ev)
			}
		}()

		id, err := ctl.Start(ctx, doc, filepath.Base(args[0]), opts)
		if err != nil {
			return err
		}

		sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		go func() {
			<-sigCtx.Done()
			_ = ctl.Stop(id)
		}()

		final, err := ctl.Wait(context.WithoutCancel(ctx), id)
		if err != nil {
			return err
		}
		unsubscribe()
		<-printed

		fmt.Fprintf(cmd.OutOrStdout(), "job %s %s: %d/%d rows processed, %d resumed\n",
			final.ID, final.State, final.Processed, final.TotalInScope, final.Skipped)
		if final.OutputPath != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "output: %s\n", final.OutputPath)
		}
		if final.State == model.JobStateFailed {
			return eris.Errorf("job failed: %s", final.Error)
		}
		return nil
	},
}

func init() {
	addJobFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

func addJobFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("project", "", "project code filter (substring, case-insensitive)")
	f.String("province", "", "province filter")
	f.String("district", "", "district filter")
	f.String("survey", "", `survey filter; "(Empty)" selects rows with no survey`)
	f.Bool("headless", false, "run the browser without a window (default from config)")
	f.String("resume", "", "job key whose backup ledger should be resumed")
}

func jobOptionsFromFlags(cmd *cobra.Command) (model.JobOptions, error) {
	f := cmd.Flags()
	var opts model.JobOptions
	var err error
	if opts.Project, err = f.GetString("project"); err != nil {
		return opts, err
	}
	if opts.Province, err = f.GetString("province"); err != nil {
		return opts, err
	}
	if opts.District, err = f.GetString("district"); err != nil {
		return opts, err
	}
	if opts.Survey, err = f.GetString("survey"); err != nil {
		return opts, err
	}
	if opts.ResumeKey, err = f.GetString("resume"); err != nil {
		return opts, err
	}
	opts.Headless = cfg.Browser.Headless
	if f.Changed("headless") {
		if opts.Headless, err = f.GetBool("headless"); err != nil {
			return opts, err
		}
	}
	return opts, nil
}

// printEvent renders one bus event as a console line.
func printEvent(w io.Writer, ev events.Event) {
	switch data := ev.Data.(type) {
	case events.Progress:
		fmt.Fprintf(w, "[%d/%d %3d%%] %s\n", data.Current, data.Total, data.Percent, data.Message)
	case events.Complete:
		suffix := ""
		if data.Stopped {
			suffix = " (stopped)"
		}
		fmt.Fprintf(w, "done: %d rows -> %s%s\n", data.Processed, data.OutputPath, suffix)
	case string:
		if ev.Kind == events.KindError {
			fmt.Fprintf(w, "error: %s\n", data)
			return
		}
		fmt.Fprintln(w, data)
	}
}
