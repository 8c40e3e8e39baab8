package cmd

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var entriesCmd = &cobra.Command{
	Use:     "entries",
	Aliases: []string{"ls"},
	Short:   "List every entry in the routing table",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		initializeGlobalState()

		baseURL, token, err := resolveAPIConnection(cmd)
		exitOnError(err)

		var entries []EntryView
		exitOnError(getJSON(http.MethodGet, baseURL, token, "/entries", &entries))
		printEntries(os.Stdout, entries)
	},
}

func printEntries(out io.Writer, entries []EntryView) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "Routing table is empty.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BUCKET\tID\tADDRESS\tLAST SEEN\tFAILS")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n", e.Bucket, e.ID.Hex(), e.Addr, humanize.Time(e.LastSeen), e.FailedCount)
	}
	_ = w.Flush()
	fmt.Fprintf(out, "%d entries\n", len(entries))
}

func init() {
	rootCmd.AddCommand(entriesCmd)
}
