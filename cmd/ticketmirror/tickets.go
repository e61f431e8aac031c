package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mirrorboard/ticketmirror/internal/store"
	"github.com/mirrorboard/ticketmirror/internal/ui"
)

var (
	ticketsProject  string
	ticketsStatus   string
	ticketsAssignee string
	ticketsLimit    int
	ticketsOutput   string
)

var ticketsCmd = &cobra.Command{
	Use:     "tickets",
	GroupID: "query",
	Short:   "Query the local ticket mirror",
	Long: `Query tickets from the local mirror without touching the remote tracker.

Filters combine with AND. Results are ordered by ticket key.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		tickets, err := db.GetTickets(context.Background(), store.TicketFilter{
			ProjectKey: ticketsProject,
			Status:     ticketsStatus,
			Assignee:   ticketsAssignee,
			Limit:      ticketsLimit,
		})
		if err != nil {
			return err
		}

		if ticketsOutput != "" {
			return printStructured(ticketsOutput, tickets)
		}

		if len(tickets) == 0 {
			fmt.Println("No tickets matched. Is the mirror synced?")
			return nil
		}
		for _, t := range tickets {
			fmt.Printf("%s  %-12s  %-10s  %s\n",
				ui.RenderAccent(fmt.Sprintf("%-10s", t.Key)),
				t.Status, t.Assignee, t.Summary)
		}
		fmt.Printf("\n%d ticket(s)\n", len(tickets))
		return nil
	},
}

func init() {
	ticketsCmd.Flags().StringVar(&ticketsProject, "project", "", "filter by project key")
	ticketsCmd.Flags().StringVar(&ticketsStatus, "status", "", "filter by status")
	ticketsCmd.Flags().StringVar(&ticketsAssignee, "assignee", "", "filter by assignee")
	ticketsCmd.Flags().IntVar(&ticketsLimit, "limit", 0, "maximum results (default 1000, cap 10000)")
	ticketsCmd.Flags().StringVarP(&ticketsOutput, "output", "o", "", "output format: json or yaml")
	rootCmd.AddCommand(ticketsCmd)
}
