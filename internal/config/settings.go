package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"
)

// Settings holds all user-configurable application settings organized by category.
type Settings struct {
	General GeneralSettings `json:"general"`
	Table   TableSettings   `json:"table"`
	Network NetworkSettings `json:"network"`
	API     APISettings     `json:"api"`
}

// GeneralSettings contains application behavior settings.
type GeneralSettings struct {
	LogRetentionCount int  `json:"log_retention_count"`
	NoColor           bool `json:"no_color"`
}

// TableSettings shapes the routing table and its housekeeping.
type TableSettings struct {
	K              int           `json:"k"`
	ClosestCount   int           `json:"closest_count"`
	CensusInterval time.Duration `json:"census_interval"`
	StaleAfter     time.Duration `json:"stale_after"`
	HistoryLimit   int           `json:"history_limit"`
}

// NetworkSettings contains UDP node parameters.
type NetworkSettings struct {
	ListenAddr   string        `json:"listen_addr"`
	Bootstrap    []string      `json:"bootstrap"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	MaxFailures  int           `json:"max_failures"`
	ProbeOldest  bool          `json:"probe_oldest"`
}

// APISettings controls the local control server.
type APISettings struct {
	// Port 0 picks the first free port from DefaultAPIPort.
	Port int `json:"port"`
}

const DefaultAPIPort = 1750

// SettingMeta provides metadata for a single setting (for help output).
type SettingMeta struct {
	Key         string
	Label       string
	Description string
	Type        string // "string", "int", "bool", "duration", "list"
}

// GetSettingsMetadata returns metadata for all settings organized by category.
func GetSettingsMetadata() map[string][]SettingMeta {
	return map[string][]SettingMeta{
		"General": {
			{Key: "log_retention_count", Label: "Log Retention Count", Description: "Number of recent log files to keep.", Type: "int"},
			{Key: "no_color", Label: "No Color", Description: "Disable colours in the watch dashboard.", Type: "bool"},
		},
		"Table": {
			{Key: "k", Label: "Bucket Capacity", Description: "Maximum entries per bucket (k).", Type: "int"},
			{Key: "closest_count", Label: "Closest Count", Description: "Default number of entries returned by closest lookups.", Type: "int"},
			{Key: "census_interval", Label: "Census Interval", Description: "How often serve records a census sample (e.g., 1m).", Type: "duration"},
			{Key: "stale_after", Label: "Stale After", Description: "Entries not heard from for this long are pinged (e.g., 15m).", Type: "duration"},
			{Key: "history_limit", Label: "History Limit", Description: "Census samples kept in the history database.", Type: "int"},
		},
		"Network": {
			{Key: "listen_addr", Label: "Listen Address", Description: "UDP address the node binds (host:port).", Type: "string"},
			{Key: "bootstrap", Label: "Bootstrap Nodes", Description: "host:port addresses pinged at startup.", Type: "list"},
			{Key: "read_timeout", Label: "Read Timeout", Description: "Time to wait for a KRPC reply (e.g., 5s).", Type: "duration"},
			{Key: "write_timeout", Label: "Write Timeout", Description: "Deadline for sending a KRPC message.", Type: "duration"},
			{Key: "max_failures", Label: "Max Failures", Description: "Consecutive timeouts before an entry is removed.", Type: "int"},
			{Key: "probe_oldest", Label: "Probe Oldest", Description: "Ping the oldest entry of a full bucket when a newcomer is refused.", Type: "bool"},
		},
		"API": {
			{Key: "port", Label: "API Port", Description: "Loopback control port. 0 picks a free port from 1750.", Type: "int"},
		},
	}
}

// CategoryOrder returns the order of categories for help output.
func CategoryOrder() []string {
	return []string{"General", "Table", "Network", "API"}
}

// DefaultSettings returns a new Settings instance with sensible defaults.
func DefaultSettings() *Settings {
	return &Settings{
		General: GeneralSettings{
			LogRetentionCount: 5,
		},
		Table: TableSettings{
			K:              8,
			ClosestCount:   8,
			CensusInterval: time.Minute,
			StaleAfter:     15 * time.Minute,
			HistoryLimit:   1000,
		},
		Network: NetworkSettings{
			ListenAddr:   "0.0.0.0:6881",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			MaxFailures:  3,
			ProbeOldest:  true,
		},
	}
}

// Validate reports the first setting that cannot be used.
func (s *Settings) Validate() error {
	if s.Table.K <= 0 {
		return fmt.Errorf("table.k must be positive, got %d", s.Table.K)
	}
	if s.Table.ClosestCount <= 0 {
		return fmt.Errorf("table.closest_count must be positive, got %d", s.Table.ClosestCount)
	}
	if s.Table.CensusInterval < 0 || s.Table.StaleAfter < 0 {
		return fmt.Errorf("table intervals must not be negative")
	}
	if _, _, err := net.SplitHostPort(s.Network.ListenAddr); err != nil {
		return fmt.Errorf("network.listen_addr: %w", err)
	}
	for _, b := range s.Network.Bootstrap {
		if _, _, err := net.SplitHostPort(b); err != nil {
			return fmt.Errorf("network.bootstrap %q: %w", b, err)
		}
	}
	if s.Network.ReadTimeout <= 0 || s.Network.WriteTimeout <= 0 {
		return fmt.Errorf("network timeouts must be positive")
	}
	if s.Network.MaxFailures <= 0 {
		return fmt.Errorf("network.max_failures must be positive, got %d", s.Network.MaxFailures)
	}
	if s.API.Port < 0 || s.API.Port > 65535 {
		return fmt.Errorf("api.port out of range: %d", s.API.Port)
	}
	return nil
}

// GetSettingsPath returns the path to the settings JSON file.
func GetSettingsPath() string {
	return filepath.Join(GetKadtableDir(), "settings.json")
}

// LoadSettings loads settings from disk. Returns defaults if file doesn't exist.
func LoadSettings() (*Settings, error) {
	path := GetSettingsPath()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return nil, err
	}

	settings := DefaultSettings() // Start with defaults to fill any missing fields
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, err
	}

	return settings, nil
}

// SaveSettings saves settings to disk atomically.
func SaveSettings(s *Settings) error {
	path := GetSettingsPath()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write: write to temp file, then rename
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return err
	}

	return os.Rename(tempPath, path)
}
