package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/surge-downloader/kadtable/internal/config"
	"github.com/surge-downloader/kadtable/internal/utils"
)

var apiClient = &http.Client{Timeout: 30 * time.Second}

// saveActivePort writes the API port so other commands can find the node
func saveActivePort(port int) {
	portFile := filepath.Join(config.GetKadtableDir(), "port")
	if err := os.WriteFile(portFile, []byte(fmt.Sprintf("%d", port)), 0o644); err != nil {
		utils.Debug("Error writing port file: %v", err)
	}
	utils.Debug("HTTP server listening on port %d", port)
}

// removeActivePort cleans up the port file on exit
func removeActivePort() {
	portFile := filepath.Join(config.GetKadtableDir(), "port")
	if err := os.Remove(portFile); err != nil && !os.IsNotExist(err) {
		utils.Debug("Error removing port file: %v", err)
	}
}

// readActivePort reads the port from the port file
func readActivePort() int {
	portFile := filepath.Join(config.GetKadtableDir(), "port")
	data, err := os.ReadFile(portFile)
	if err != nil {
		return 0
	}
	var port int
	if _, err := fmt.Sscanf(strings.TrimSpace(string(data)), "%d", &port); err != nil {
		return 0
	}
	return port
}

// resolveAPIConnection works out where the running node's API is and which
// token to present. The local token is only reused for loopback hosts.
func resolveAPIConnection(cmd *cobra.Command) (string, string, error) {
	host, _ := cmd.Flags().GetString("host")
	host = strings.TrimSpace(host)
	if host == "" {
		port := readActivePort()
		if port == 0 {
			return "", "", fmt.Errorf("no running node found; start one with 'kadtable serve'")
		}
		host = fmt.Sprintf("127.0.0.1:%d", port)
	}

	tokenFlag, _ := cmd.Flags().GetString("token")
	token := strings.TrimSpace(tokenFlag)
	if token == "" {
		token = strings.TrimSpace(os.Getenv(config.EnvToken))
	}
	if token == "" {
		h, _, err := net.SplitHostPort(host)
		if err != nil {
			h = host
		}
		if h != "127.0.0.1" && h != "localhost" && h != "::1" {
			return "", "", fmt.Errorf("no token provided; use --token or set KADTABLE_TOKEN")
		}
		token = readAuthToken()
	}

	return "http://" + host, token, nil
}

func doAPIRequest(method, baseURL, token, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return apiClient.Do(req)
}

// getJSON performs a request and decodes a 200 JSON reply into out.
func getJSON(method, baseURL, token, path string, out any) error {
	resp, err := doAPIRequest(method, baseURL, token, path, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to node: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			utils.Debug("Error closing response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("node returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// exitOnError prints err the way every command reports failures and exits.
func exitOnError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
