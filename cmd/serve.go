package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/surge-downloader/kadtable/internal/config"
	"github.com/surge-downloader/kadtable/internal/kad"
	"github.com/surge-downloader/kadtable/internal/krpc"
	"github.com/surge-downloader/kadtable/internal/state"
	"github.com/surge-downloader/kadtable/internal/utils"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a DHT node and its local API",
	Long: `Run a DHT node on UDP. Nodes that contact it, or answer its pings, are
added to its routing table. A loopback HTTP API is started for the other
commands; its port is written to the data directory.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		settings := initializeGlobalState()
		id, err := applyServeFlags(cmd, settings)
		exitOnError(err)
		exitOnError(settings.Validate())

		isMaster, err := AcquireLock()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error acquiring lock: %v\n", err)
			os.Exit(1)
		}
		if !isMaster {
			fmt.Fprintln(os.Stderr, "Error: a kadtable node is already running.")
			fmt.Fprintln(os.Stderr, "Use 'kadtable census' or 'kadtable watch' to inspect it.")
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		err = runServe(ctx, settings, id, func(node *krpc.Node, port int) {
			fmt.Printf("Node %s listening on udp %s\n", node.ID().Hex(), node.LocalAddr())
			fmt.Printf("API on http://127.0.0.1:%d\n", port)
		})
		stop()
		if rerr := ReleaseLock(); rerr != nil {
			utils.Debug("Error releasing lock: %v", rerr)
		}
		exitOnError(err)
	},
}

// applyServeFlags overrides settings with explicitly set flags and returns
// the requested local id, zero when none was given.
func applyServeFlags(cmd *cobra.Command, s *config.Settings) (kad.NodeID, error) {
	flags := cmd.Flags()
	if flags.Changed("listen") {
		s.Network.ListenAddr, _ = flags.GetString("listen")
	}
	if flags.Changed("api-port") {
		s.API.Port, _ = flags.GetInt("api-port")
	}
	if flags.Changed("bootstrap") {
		s.Network.Bootstrap, _ = flags.GetStringSlice("bootstrap")
	}
	if flags.Changed("k") {
		s.Table.K, _ = flags.GetInt("k")
	}
	if flags.Changed("no-probe") {
		noProbe, _ := flags.GetBool("no-probe")
		s.Network.ProbeOldest = !noProbe
	}
	var id kad.NodeID
	if raw, _ := flags.GetString("id"); raw != "" {
		parsed, err := kad.ParseHex(raw)
		if err != nil {
			return id, fmt.Errorf("--id: %w", err)
		}
		id = parsed
	}
	return id, nil
}

func listenAPI(port int) (int, net.Listener, error) {
	if port > 0 {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			return 0, nil, fmt.Errorf("could not bind to port %d: %w", port, err)
		}
		return port, ln, nil
	}
	port, ln := findAvailablePort(config.DefaultAPIPort)
	if ln == nil {
		return 0, nil, fmt.Errorf("could not find available port")
	}
	return port, ln, nil
}

// runServe runs the node, API server, census recorder and stale checker
// until ctx is cancelled or one of them fails.
func runServe(ctx context.Context, settings *config.Settings, id kad.NodeID, ready func(*krpc.Node, int)) error {
	node, err := krpc.New(krpc.Config{
		ID:           id,
		ListenAddr:   settings.Network.ListenAddr,
		Bootstrap:    settings.Network.Bootstrap,
		K:            settings.Table.K,
		ReadTimeout:  settings.Network.ReadTimeout,
		WriteTimeout: settings.Network.WriteTimeout,
		MaxFailures:  settings.Network.MaxFailures,
		ProbeOldest:  settings.Network.ProbeOldest,
	})
	if err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	defer func() {
		if err := node.Close(); err != nil {
			utils.Debug("Error closing node: %v", err)
		}
	}()

	port, ln, err := listenAPI(settings.API.Port)
	if err != nil {
		return err
	}
	saveActivePort(port)
	defer removeActivePort()

	if ready != nil {
		ready(node, port)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return startHTTPServer(gctx, ln, NewAPIHandler(node, port, settings.Table.ClosestCount))
	})
	g.Go(func() error {
		if len(settings.Network.Bootstrap) == 0 {
			return nil
		}
		reached := node.Bootstrap(gctx)
		utils.Debug("bootstrap: %d/%d answered", reached, len(settings.Network.Bootstrap))
		return nil
	})
	g.Go(func() error {
		return runCensusRecorder(gctx, node, settings.Table.CensusInterval, settings.Table.HistoryLimit)
	})
	g.Go(func() error {
		return runStaleChecker(gctx, node, settings.Table.StaleAfter)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runCensusRecorder stores a census sample every interval. Storage errors are
// logged; the node keeps running without history.
func runCensusRecorder(ctx context.Context, node *krpc.Node, interval time.Duration, keep int) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			recordCensus(node, now, keep)
		}
	}
}

func recordCensus(node *krpc.Node, now time.Time, keep int) {
	id, err := state.RecordCensus(node.ID(), node.Table().Census(), now)
	if err != nil {
		utils.Debug("census: %v", err)
		return
	}
	utils.Debug("census: recorded sample %s", id)
	if keep > 0 {
		if n, err := state.PruneCensus(keep); err != nil {
			utils.Debug("census: prune: %v", err)
		} else if n > 0 {
			utils.Debug("census: pruned %d samples", n)
		}
	}
}

// runStaleChecker pings entries silent for longer than staleAfter.
func runStaleChecker(ctx context.Context, node *krpc.Node, staleAfter time.Duration) error {
	if staleAfter <= 0 {
		return nil
	}
	ticker := time.NewTicker(staleAfter / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if removed := node.CheckStale(ctx, staleAfter); removed > 0 {
				utils.Debug("stale check: removed %d entries", removed)
			}
		}
	}
}

func addServeFlags(c *cobra.Command) {
	c.Flags().String("listen", "", "UDP listen address (default from settings, 0.0.0.0:6881)")
	c.Flags().Int("api-port", 0, "Loopback API port (default: first free port from 1750)")
	c.Flags().StringSlice("bootstrap", nil, "host:port of nodes to ping at startup")
	c.Flags().Int("k", 0, "Bucket capacity")
	c.Flags().Bool("no-probe", false, "Do not ping the oldest entry of a full bucket")
	c.Flags().String("id", "", "Local node id in hex (default: random)")
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addServeFlags(serveCmd)
}
