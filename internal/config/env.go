package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override settings.json.
const (
	EnvListen    = "KADTABLE_LISTEN"
	EnvBootstrap = "KADTABLE_BOOTSTRAP"
	EnvK         = "KADTABLE_K"
	EnvAPIPort   = "KADTABLE_API_PORT"
	EnvToken     = "KADTABLE_TOKEN"
)

// LoadEnv loads .env files from the working directory and the kadtable
// directory. Variables already set in the process environment win, and
// missing files are ignored.
func LoadEnv() {
	for _, path := range []string{".env", filepath.Join(GetKadtableDir(), ".env")} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		_ = godotenv.Load(path)
	}
}

// ApplyEnv overlays KADTABLE_* variables onto s.
func ApplyEnv(s *Settings) error {
	if v := os.Getenv(EnvListen); v != "" {
		s.Network.ListenAddr = v
	}
	if v := os.Getenv(EnvBootstrap); v != "" {
		var hosts []string
		for _, h := range strings.Split(v, ",") {
			if h = strings.TrimSpace(h); h != "" {
				hosts = append(hosts, h)
			}
		}
		s.Network.Bootstrap = hosts
	}
	if v := os.Getenv(EnvK); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvK, err)
		}
		s.Table.K = k
	}
	if v := os.Getenv(EnvAPIPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvAPIPort, err)
		}
		s.API.Port = port
	}
	return nil
}
