package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	projectConfigName = "strata.yaml"
	homeConfigName    = "config.yaml"
)

// Config is the shape of strata.yaml. Command-line flags take precedence
// over every field.
type Config struct {
	// EventsDB is the SQLite database that keeps run events.
	EventsDB string `yaml:"events_db,omitempty"`

	// OTLPEndpoint is the OTLP/HTTP traces URL.
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level,omitempty"`

	Schedule ScheduleConfig `yaml:"schedule,omitempty"`
}

// ScheduleConfig holds defaults for the schedule command.
type ScheduleConfig struct {
	Cron string `yaml:"cron,omitempty"`
}

// DiscoverConfigPath resolves the config location with first-match
// semantics: an explicit path, then ./strata.yaml, then
// ~/.strata/config.yaml.
func DiscoverConfigPath(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// No home directory is not fatal; only the project file is searched.
		homeDir = ""
	}
	return DiscoverConfigPathFrom(explicitPath, cwd, homeDir)
}

// DiscoverConfigPathFrom is a testable variant of DiscoverConfigPath.
func DiscoverConfigPathFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	explicit := strings.TrimSpace(explicitPath)
	candidates := make([]string, 0, 2)
	if explicit != "" {
		candidates = append(candidates, filepath.Clean(explicit))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		if homeDir != "" {
			candidates = append(candidates, filepath.Join(homeDir, ".strata", homeConfigName))
		}
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			if explicit != "" {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// LoadConfig reads a strata.yaml file. Relative database paths are
// resolved against the file's directory and environment variables are
// expanded.
func LoadConfig(path string) (Config, error) {
	// #nosec G304 -- path resolved from explicit local config discovery.
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %q: %w", path, err)
	}

	cfg.EventsDB = strings.TrimSpace(os.ExpandEnv(cfg.EventsDB))
	if cfg.EventsDB != "" && !filepath.IsAbs(cfg.EventsDB) && !strings.HasPrefix(strings.ToLower(cfg.EventsDB), "file:") {
		cfg.EventsDB = filepath.Join(filepath.Dir(path), cfg.EventsDB)
	}
	cfg.OTLPEndpoint = strings.TrimSpace(os.ExpandEnv(cfg.OTLPEndpoint))
	cfg.LogLevel = strings.TrimSpace(cfg.LogLevel)
	cfg.Schedule.Cron = strings.TrimSpace(cfg.Schedule.Cron)
	return cfg, nil
}

// loadCommandConfig finds and loads the config for cmd. A missing config
// file yields the zero Config.
func loadCommandConfig(cmd *cobra.Command) (Config, error) {
	explicit, _ := cmd.Flags().GetString("config")
	path, found, err := DiscoverConfigPath(explicit)
	if err != nil {
		return Config{}, exitError(exitConfig, "%v", err)
	}
	if !found {
		return Config{}, nil
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		return Config{}, exitError(exitConfig, "%v", err)
	}
	return cfg, nil
}

// stringSetting returns the flag value when it was set explicitly and the
// config fallback otherwise.
func stringSetting(cmd *cobra.Command, flag, fallback string) string {
	if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
		return strings.TrimSpace(f.Value.String())
	}
	if v, _ := cmd.Flags().GetString(flag); strings.TrimSpace(v) != "" && fallback == "" {
		return strings.TrimSpace(v)
	}
	return fallback
}
