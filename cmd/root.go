package cmd

import (
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/surge-downloader/kadtable/internal/config"
	"github.com/surge-downloader/kadtable/internal/state"
	"github.com/surge-downloader/kadtable/internal/utils"
)

// Version information - set via ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kadtable",
	Short: "A Kademlia routing table node with a local control API",
	Long: `kadtable runs a DHT node that keeps a 160-bit XOR-distance routing table
(k-buckets) and exposes it over a loopback HTTP API for inspection.

Start a node with 'kadtable serve', then query it with 'closest', 'census',
'entries', 'ping' and 'rm', or watch it live with 'kadtable watch'.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("host", "", "API address of a running node (default: discovered from the port file)")
	rootCmd.PersistentFlags().String("token", "", "API bearer token (or set KADTABLE_TOKEN)")
	rootCmd.SetVersionTemplate("kadtable version {{.Version}}\n")
}

// initializeGlobalState sets up directories, the census database and logging.
// It returns the loaded settings with KADTABLE_* overrides applied, falling
// back to defaults on a bad file.
func initializeGlobalState() *config.Settings {
	if err := config.EnsureDirs(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: could not create data directories: %v\n", err)
		os.Exit(1)
	}

	state.Configure(config.GetDBPath())

	logsDir := config.GetLogsDir()
	utils.ConfigureDebug(logsDir)

	config.LoadEnv()
	settings, err := config.LoadSettings()
	if err != nil {
		utils.Debug("Error loading settings, using defaults: %v", err)
		settings = config.DefaultSettings()
	}
	if err := config.ApplyEnv(settings); err != nil {
		utils.Debug("Ignoring environment override: %v", err)
	}
	if _, err := utils.CleanupLogs(logsDir, settings.General.LogRetentionCount); err != nil {
		utils.Debug("Error cleaning logs: %v", err)
	}
	return settings
}

// findAvailablePort tries ports starting from 'start' until one is available
func findAvailablePort(start int) (int, net.Listener) {
	for port := start; port < start+100; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			return port, ln
		}
	}
	return 0, nil
}
