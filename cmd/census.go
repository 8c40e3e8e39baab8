package cmd

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/surge-downloader/kadtable/internal/state"
)

var censusCmd = &cobra.Command{
	Use:   "census",
	Short: "Show how many entries each bucket holds",
	Long: `Show the number of entries in every non-empty bucket of the running node.
With --history N, show the last N samples recorded by serve instead.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		initializeGlobalState()

		baseURL, token, err := resolveAPIConnection(cmd)
		exitOnError(err)

		history, _ := cmd.Flags().GetInt("history")
		if history > 0 {
			var samples []state.Sample
			exitOnError(getJSON(http.MethodGet, baseURL, token, "/history?limit="+strconv.Itoa(history), &samples))
			printHistory(os.Stdout, samples)
			return
		}

		var resp CensusResponse
		exitOnError(getJSON(http.MethodGet, baseURL, token, "/census", &resp))
		fmt.Print(formatCensus(resp))
	},
}

func printHistory(out io.Writer, samples []state.Sample) {
	if len(samples) == 0 {
		fmt.Fprintln(out, "No census samples recorded yet.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TAKEN\tENTRIES\tBUCKETS\tFARTHEST")
	for _, s := range samples {
		idx := make([]int, 0, len(s.Buckets))
		for i := range s.Buckets {
			idx = append(idx, i)
		}
		sort.Ints(idx)
		farthest := "-"
		if len(idx) > 0 {
			top := idx[len(idx)-1]
			farthest = fmt.Sprintf("%d (%d)", top, s.Buckets[top])
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", humanize.Time(s.TakenAt), s.Size, len(s.Buckets), farthest)
	}
	_ = w.Flush()
}

func init() {
	rootCmd.AddCommand(censusCmd)
	censusCmd.Flags().Int("history", 0, "Show the last N recorded samples")
}
