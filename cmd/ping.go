package cmd

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping <host:port>",
	Short: "Have the running node ping an address",
	Long: `Ask the running node to send a KRPC ping to host:port. A node that answers
is added to the routing table if its bucket has room.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		initializeGlobalState()

		baseURL, token, err := resolveAPIConnection(cmd)
		exitOnError(err)

		var resp struct {
			ID    string `json:"id"`
			Addr  string `json:"addr"`
			RTT   int64  `json:"rtt_ms"`
			Added bool   `json:"added"`
		}
		exitOnError(getJSON(http.MethodPost, baseURL, token, "/ping?addr="+url.QueryEscape(args[0]), &resp))

		fmt.Printf("%s answered from %s in %dms\n", resp.ID, resp.Addr, resp.RTT)
		if !resp.Added {
			fmt.Println("Bucket is full; entry not added.")
		}
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
