package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/mirrorboard/ticketmirror/internal/orchestrator"
	"github.com/mirrorboard/ticketmirror/internal/schema"
	"github.com/mirrorboard/ticketmirror/internal/ui"
)

var (
	syncFull     bool
	syncSince    string
	syncProjects []string
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Sync tickets from the remote tracker",
	Long: `Sync tickets from the remote tracker into the local mirror.

By default this runs an incremental sync: each project is probed for
changes since the last completed incremental run, and unchanged projects
are skipped entirely. Use --full to pull every matching ticket in every
project.

The --since value accepts RFC 3339 timestamps and natural language.
Combined with --full it bounds the full sync to tickets updated after
that time, overriding the configured window:

  ticketmirror sync --since "2 days ago"
  ticketmirror sync --full --since 2026-08-01T00:00:00Z`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cfg, nil, nil)
		if err != nil {
			return err
		}
		defer e.close()

		syncOpts := orchestrator.SyncOptions{Projects: syncProjects}
		if syncSince != "" {
			t, err := parseSince(syncSince)
			if err != nil {
				return err
			}
			syncOpts.Since = &t
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// Ctrl-C cancels the session cooperatively instead of tearing
		// down mid-transaction.
		go func() {
			<-ctx.Done()
			for _, s := range e.orch.ActiveSessions() {
				_ = e.orch.CancelSync(context.Background(), s.ID)
			}
		}()

		start := time.Now()
		var sess *schema.SyncSession
		if syncFull {
			fmt.Printf("%s Starting full sync...\n", ui.RenderAccent("→"))
			sess, err = e.orch.StartFullSync(context.Background(), syncOpts)
		} else {
			fmt.Printf("%s Starting incremental sync...\n", ui.RenderAccent("→"))
			sess, err = e.orch.StartIncrementalSync(context.Background(), syncOpts)
		}
		if err != nil {
			return err
		}

		printSessionSummary(sess, time.Since(start))
		if sess.Status == schema.StatusFailed {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncFull, "full", false, "run a full sync of all projects")
	syncCmd.Flags().StringVar(&syncSince, "since", "", "sync tickets updated since this time (RFC 3339 or natural language)")
	syncCmd.Flags().StringSliceVar(&syncProjects, "project", nil, "restrict the sync to these project keys")
	rootCmd.AddCommand(syncCmd)
}

// parseSince accepts RFC 3339 first, then natural-language phrases.
func parseSince(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(s, time.Now())
	if err != nil || r == nil {
		return time.Time{}, fmt.Errorf("cannot parse --since value %q", s)
	}
	return r.Time, nil
}

func printSessionSummary(sess *schema.SyncSession, elapsed time.Duration) {
	switch sess.Status {
	case schema.StatusCompleted:
		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), elapsed.Round(time.Millisecond))
	case schema.StatusCancelled:
		fmt.Printf("%s Sync cancelled after %v\n", ui.RenderWarn("⚠"), elapsed.Round(time.Millisecond))
	case schema.StatusFailed:
		fmt.Printf("%s Sync failed after %v\n", ui.RenderFail("✗"), elapsed.Round(time.Millisecond))
	}
	fmt.Printf("   Session:  %s\n", sess.ID)
	fmt.Printf("   Projects: %d/%d\n", sess.Progress.ProcessedEntities, sess.Progress.TotalEntities)
	fmt.Printf("   Tickets:  %d\n", sess.Progress.ProcessedItems)
	if n := len(sess.Progress.Errors); n > 0 {
		fmt.Printf("   Errors:   %s\n", ui.RenderWarn(fmt.Sprintf("%d", n)))
		for i, se := range sess.Progress.Errors {
			if i == 5 {
				fmt.Printf("     ... and %d more (see 'ticketmirror status %s')\n", n-5, sess.ID)
				break
			}
			fmt.Printf("     %s: %s\n", se.Entity, se.Message)
		}
	}
}
