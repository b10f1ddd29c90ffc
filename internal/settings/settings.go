// Package settings loads the transport server's runtime configuration:
// timing, production mode, and logging, from an optional YAML file
// overlaid with environment variables — the same file-plus-env
// pattern the teacher's gateway config loader uses (internal/vif
// /gateway_config.go), adapted from per-instance tunnel settings to
// process-wide server settings.
package settings

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings configures one transport.Server plus its logger.
type Settings struct {
	// InitTimeout bounds how long a connection may sit in AwaitingInit
	// before the server closes it with 4408. Zero disables the timer.
	InitTimeout time.Duration `yaml:"init_timeout"`

	// KeepAliveInterval is the transport-level ping period. Zero
	// disables keep-alive entirely.
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval"`

	// Production enables close-reason redaction for internal errors.
	Production bool `yaml:"production"`

	// ListenAddr is the address cmd/wsdemo binds to.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel feeds logger.Config.Level ("debug", "info", "warn", "error").
	LogLevel string `yaml:"log_level"`
}

// Default returns the package defaults: a 3s init timeout, a 12s
// keep-alive interval, development logging, listening on :8080.
func Default() Settings {
	return Settings{
		InitTimeout:       3 * time.Second,
		KeepAliveInterval: 12 * time.Second,
		Production:        false,
		ListenAddr:        ":8080",
		LogLevel:          "info",
	}
}

// Load starts from Default, overlays path (if non-empty and present on
// disk) as YAML, then overlays any of the SUBWIRE_* environment
// variables that are set. Environment variables always win.
func Load(path string) (Settings, error) {
	s := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return s, fmt.Errorf("settings: reading %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &s); err != nil {
			return s, fmt.Errorf("settings: parsing %s: %w", path, err)
		}
	}

	if v, ok := os.LookupEnv("SUBWIRE_INIT_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return s, fmt.Errorf("settings: SUBWIRE_INIT_TIMEOUT: %w", err)
		}
		s.InitTimeout = d
	}
	if v, ok := os.LookupEnv("SUBWIRE_KEEP_ALIVE_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return s, fmt.Errorf("settings: SUBWIRE_KEEP_ALIVE_INTERVAL: %w", err)
		}
		s.KeepAliveInterval = d
	}
	if v, ok := os.LookupEnv("SUBWIRE_PRODUCTION"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return s, fmt.Errorf("settings: SUBWIRE_PRODUCTION: %w", err)
		}
		s.Production = b
	}
	if v, ok := os.LookupEnv("SUBWIRE_LISTEN_ADDR"); ok {
		s.ListenAddr = v
	}
	if v, ok := os.LookupEnv("SUBWIRE_LOG_LEVEL"); ok {
		s.LogLevel = v
	}

	return s, nil
}
