package commands

import (
	"os"

	"passnice/internal/scrapers/checkplus"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(carriersCmd)
}

var carriersCmd = &cobra.Command{
	Use:   "carriers",
	Short: "Prints the supported carriers.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		t := newTable(os.Stdout)
		t.AppendHeader(table.Row{"Carrier", "ISP"})
		for _, c := range checkplus.Carriers {
			t.AppendRow(table.Row{c.String(), c.ISPHost()})
		}
		t.Render()
	},
}
