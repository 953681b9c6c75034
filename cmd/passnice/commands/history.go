package commands

import (
	"os"
	"time"

	"passnice/internal/attempts"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	historySession string
	historyLimit   int
)

func init() {
	historyCmd.Flags().StringVar(&historySession, "session", "", "Only show attempts of this session.")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum amount of attempts to show, 0 shows all of them.")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Prints the logged verification attempts, newest first.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, db, err := env.openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		list, err := store.List(ctx, attempts.Filter{
			SessionId: historySession,
			Limit:     historyLimit,
		})
		if err != nil {
			return err
		}

		t := newTable(os.Stdout)
		t.AppendHeader(table.Row{"Time", "Session", "Carrier", "Operation", "State", "Ok", "Reason", "Message"})
		for _, a := range list {
			message := a.Message
			if a.Error != "" {
				message = a.Error
			}
			t.AppendRow(table.Row{
				a.Time.In(env.Time.Location()).Format(time.DateTime),
				shortId(a.SessionId),
				a.Carrier,
				a.Operation,
				a.State,
				a.Success,
				a.Reason,
				message,
			})
		}
		t.Render()
		return nil
	},
}

func shortId(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
