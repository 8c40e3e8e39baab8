package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/surge-downloader/kadtable/internal/clipboard"
	"github.com/surge-downloader/kadtable/internal/kad"
	"github.com/surge-downloader/kadtable/internal/target"
)

var idCmd = &cobra.Command{
	Use:   "id",
	Short: "Generate, convert and compare node ids",
}

var idNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Generate a random node id",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		id, err := kad.Random()
		exitOnError(err)
		fmt.Println(id.Hex())

		if copyID, _ := cmd.Flags().GetBool("copy"); copyID {
			if err := clipboard.Write(id.Hex()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: could not copy to clipboard: %v\n", err)
			}
		}
	},
}

var idConvertCmd = &cobra.Command{
	Use:   "convert <id>",
	Short: "Show an id (hex, base-58, magnet or .torrent) in every encoding",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		t, err := target.Parse(args[0])
		exitOnError(err)
		printID(os.Stdout, t)
	},
}

var idDistanceCmd = &cobra.Command{
	Use:   "distance <a> <b>",
	Short: "Show the XOR distance between two ids",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := target.Parse(args[0])
		exitOnError(err)
		b, err := target.Parse(args[1])
		exitOnError(err)
		printDistance(os.Stdout, a.ID, b.ID)
	},
}

func printID(out io.Writer, t target.Target) {
	fmt.Fprintf(out, "kind:    %s\n", t.Kind)
	if t.Name != "" {
		fmt.Fprintf(out, "name:    %s\n", t.Name)
	}
	fmt.Fprintf(out, "hex:     %s\n", t.ID.Hex())
	fmt.Fprintf(out, "base58:  %s\n", t.ID.Base58())
	fmt.Fprintf(out, "integer: %s\n", t.ID.Int().String())
}

// printDistance also shows which bucket b falls in for a table owned by a.
func printDistance(out io.Writer, a, b kad.NodeID) {
	d := a.Distance(b)
	fmt.Fprintf(out, "distance: %s\n", d.Hex())
	fmt.Fprintf(out, "integer:  %s\n", d.Int().String())
	fmt.Fprintf(out, "bits:     %d\n", d.BitLen())
	fmt.Fprintf(out, "bucket:   %d\n", kad.NewRoutingTable(a, kad.DefaultK).BucketIndex(b))
}

func init() {
	rootCmd.AddCommand(idCmd)
	idCmd.AddCommand(idNewCmd, idConvertCmd, idDistanceCmd)
	idNewCmd.Flags().Bool("copy", false, "Copy the new id to the clipboard")
}
