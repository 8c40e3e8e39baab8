package cmd

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/surge-downloader/kadtable/internal/clipboard"
	"github.com/surge-downloader/kadtable/internal/target"
)

var closestCmd = &cobra.Command{
	Use:   "closest [target]",
	Short: "List the table entries closest to a target",
	Long: `List the entries of the running node's routing table closest to target
by XOR distance, nearest first.

target may be a 40-digit hex id, a base-58 id, a magnet URI or the path of a
.torrent file (its infohash is used). With no argument the clipboard is read.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		initializeGlobalState()

		raw := ""
		if len(args) > 0 {
			raw = args[0]
		} else if raw = clipboard.ReadTarget(); raw == "" {
			fmt.Fprintln(os.Stderr, "Error: no target given and none found on the clipboard")
			os.Exit(1)
		}

		t, err := target.Parse(raw)
		exitOnError(err)

		baseURL, token, err := resolveAPIConnection(cmd)
		exitOnError(err)

		path := "/closest?target=" + url.QueryEscape(t.ID.Hex())
		if cmd.Flags().Changed("count") {
			k, _ := cmd.Flags().GetInt("count")
			path += "&k=" + strconv.Itoa(k)
		}

		var resp ClosestResponse
		exitOnError(getJSON(http.MethodGet, baseURL, token, path, &resp))

		if t.Name != "" {
			fmt.Printf("Target %s (%s, %s)\n", resp.Target, t.Kind, t.Name)
		} else {
			fmt.Printf("Target %s (%s)\n", resp.Target, t.Kind)
		}
		printClosest(os.Stdout, resp.Entries)
	},
}

func printClosest(out io.Writer, entries []EntryView) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No entries.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tID\tADDRESS\tBUCKET\tDISTANCE")
	for i, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", i+1, e.ID.Hex(), e.Addr, e.Bucket, e.Distance)
	}
	_ = w.Flush()
}

func init() {
	rootCmd.AddCommand(closestCmd)
	closestCmd.Flags().IntP("count", "k", 0, "Number of entries (default from settings)")
}
