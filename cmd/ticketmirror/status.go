package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mirrorboard/ticketmirror/internal/schema"
	"github.com/mirrorboard/ticketmirror/internal/ui"
)

var statusOutput string

var statusCmd = &cobra.Command{
	Use:     "status [session-id]",
	GroupID: "query",
	Short:   "Show sync session status",
	Long: `Show the status of sync sessions.

Without arguments, lists the most recent sessions. With a session id,
shows that session in full, including its recorded errors.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		if len(args) == 1 {
			sess, err := db.GetSession(ctx, args[0])
			if err != nil {
				return err
			}
			return printSession(sess)
		}

		sessions, err := db.ListSessions(ctx, 10)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No sync sessions recorded yet. Run 'ticketmirror sync' first.")
			return nil
		}

		if statusOutput != "" {
			return printStructured(statusOutput, sessions)
		}

		fmt.Println(ui.RenderHeader("Recent sync sessions"))
		for _, s := range sessions {
			ended := "-"
			if s.EndedAt != nil {
				ended = s.EndedAt.Sub(s.StartedAt).Round(time.Millisecond).String()
			}
			fmt.Printf("  %s  %-11s  %-9s  %4d tickets  %2d errors  %s\n",
				s.StartedAt.Format("2006-01-02 15:04"),
				s.Kind, ui.StatusBadge(string(s.Status)),
				s.Progress.ProcessedItems, len(s.Progress.Errors), ended)
			fmt.Printf("    %s\n", ui.RenderDim(s.ID))
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "", "output format: json or yaml")
	rootCmd.AddCommand(statusCmd)
}

func printSession(sess *schema.SyncSession) error {
	if statusOutput != "" {
		return printStructured(statusOutput, sess)
	}

	fmt.Printf("Session:  %s\n", sess.ID)
	fmt.Printf("Kind:     %s\n", sess.Kind)
	fmt.Printf("Status:   %s\n", ui.StatusBadge(string(sess.Status)))
	fmt.Printf("Started:  %s\n", sess.StartedAt.Format("2006-01-02 15:04:05"))
	if sess.EndedAt != nil {
		fmt.Printf("Ended:    %s (%s)\n", sess.EndedAt.Format("2006-01-02 15:04:05"),
			sess.EndedAt.Sub(sess.StartedAt).Round(time.Millisecond))
	}
	fmt.Printf("Projects: %d/%d\n", sess.Progress.ProcessedEntities, sess.Progress.TotalEntities)
	fmt.Printf("Tickets:  %d\n", sess.Progress.ProcessedItems)
	if len(sess.Progress.Errors) > 0 {
		fmt.Printf("\n%s\n", ui.RenderHeader("Errors"))
		for _, se := range sess.Progress.Errors {
			fmt.Printf("  %s  %s: %s\n", se.Timestamp.Format("15:04:05"), se.Entity, se.Message)
		}
	}
	return nil
}

func printStructured(format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q (want json or yaml)", format)
	}
}
