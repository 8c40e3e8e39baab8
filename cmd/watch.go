package cmd

import (
	"fmt"
	"net/http"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/surge-downloader/kadtable/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard of the running node's buckets",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		settings := initializeGlobalState()

		baseURL, token, err := resolveAPIConnection(cmd)
		exitOnError(err)

		noColor, _ := cmd.Flags().GetBool("no-color")
		if noColor || settings.General.NoColor {
			lipgloss.SetColorProfile(termenv.Ascii)
		}

		interval, _ := cmd.Flags().GetDuration("interval")
		m := tui.New(censusSource(baseURL, token), interval)

		p := tea.NewProgram(m, tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Error running TUI: %v\n", err)
			os.Exit(1)
		}
	},
}

// censusSource polls /census for the dashboard.
func censusSource(baseURL, token string) tui.Source {
	return func() (tui.Snapshot, error) {
		var resp CensusResponse
		if err := getJSON(http.MethodGet, baseURL, token, "/census", &resp); err != nil {
			return tui.Snapshot{}, err
		}
		local := resp.NodeID
		if len(local) > 16 {
			local = local[:16]
		}
		return tui.Snapshot{
			Local:  local,
			K:      resp.K,
			Size:   resp.Size,
			Census: resp.Buckets,
		}, nil
	}
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().Duration("interval", 0, "Refresh interval (default 1s)")
	watchCmd.Flags().Bool("no-color", false, "Disable colours")
}
