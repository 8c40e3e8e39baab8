package cmd

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/surge-downloader/kadtable/internal/target"
)

var rmCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"remove"},
	Short:   "Remove an entry from the routing table",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		initializeGlobalState()

		t, err := target.Parse(args[0])
		exitOnError(err)
		if t.Kind != target.KindHex && t.Kind != target.KindBase58 {
			exitOnError(fmt.Errorf("%q is a %s, not a node id", args[0], t.Kind))
		}

		baseURL, token, err := resolveAPIConnection(cmd)
		exitOnError(err)

		exitOnError(getJSON(http.MethodPost, baseURL, token, "/remove?id="+url.QueryEscape(t.ID.Hex()), nil))
		fmt.Printf("Removed %s\n", t.ID.Short())
	},
}

func init() {
	rootCmd.AddCommand(rmCmd)
}
