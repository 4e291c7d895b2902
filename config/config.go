// Package config resolves paperup settings from defaults, optional .env
// files and PAPERUP_* environment variables. Command-line flags are applied
// on top by the CLI.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "PAPERUP_"

// Config holds the runtime settings.
type Config struct {
	// DeviceURL is the base URL of the e-paper file manager.
	DeviceURL string
	// Interface binds device traffic to a network interface; empty uses the
	// default route.
	Interface string
	// StateDir holds the task database.
	StateDir string
	// Workers is the number of concurrent uploads.
	Workers int
	// ProgressInterval is the progress publishing cadence.
	ProgressInterval time.Duration
	// WakeCeiling bounds a single wake lock acquisition.
	WakeCeiling time.Duration
	// WakeCommand is held running while an upload is active.
	WakeCommand []string
	// WiFiAcquireCommand and WiFiReleaseCommand toggle Wi-Fi power saving.
	WiFiAcquireCommand []string
	WiFiReleaseCommand []string
	// ListenAddr is the control API address for "serve".
	ListenAddr string
	Verbose    bool
}

// Default returns the built-in settings.
func Default() Config {
	stateDir := ".paperup"
	if dir, err := os.UserConfigDir(); err == nil {
		stateDir = filepath.Join(dir, "paperup")
	}
	return Config{
		DeviceURL:        "http://192.168.4.1",
		StateDir:         stateDir,
		Workers:          1,
		ProgressInterval: 250 * time.Millisecond,
		WakeCeiling:      10 * time.Minute,
		ListenAddr:       "127.0.0.1:8080",
	}
}

// Load returns the defaults overridden by the given .env files and then by
// the process environment. Missing .env files are skipped.
func Load(envFiles ...string) (Config, error) {
	fileEnv := map[string]string{}
	for _, f := range envFiles {
		vals, err := godotenv.Read(f)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Config{}, fmt.Errorf("failed to read %s: %w", f, err)
		}
		for k, v := range vals {
			if _, ok := fileEnv[k]; !ok {
				fileEnv[k] = v
			}
		}
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	}

	cfg := Default()
	if err := cfg.apply(lookup); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) apply(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	fields := func(name string, dst *[]string) {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = strings.Fields(v)
		}
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(envPrefix + name)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", envPrefix, name, err)
		}
		*dst = d
		return nil
	}

	str("DEVICE", &c.DeviceURL)
	str("IFACE", &c.Interface)
	str("STATE_DIR", &c.StateDir)
	str("LISTEN", &c.ListenAddr)
	fields("WAKE_CMD", &c.WakeCommand)
	fields("WIFI_ACQUIRE_CMD", &c.WiFiAcquireCommand)
	fields("WIFI_RELEASE_CMD", &c.WiFiReleaseCommand)

	if v, ok := lookup(envPrefix + "WORKERS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sWORKERS: %w", envPrefix, err)
		}
		c.Workers = n
	}
	if v, ok := lookup(envPrefix + "VERBOSE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sVERBOSE: %w", envPrefix, err)
		}
		c.Verbose = b
	}
	if err := dur("PROGRESS_INTERVAL", &c.ProgressInterval); err != nil {
		return err
	}
	return dur("WAKE_CEILING", &c.WakeCeiling)
}

// Validate checks the settings for values the upload path cannot work with.
func (c Config) Validate() error {
	u, err := url.Parse(c.DeviceURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid device url %q", c.DeviceURL)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.ProgressInterval <= 0 {
		return fmt.Errorf("progress interval must be positive, got %s", c.ProgressInterval)
	}
	if c.WakeCeiling <= 0 {
		return fmt.Errorf("wake ceiling must be positive, got %s", c.WakeCeiling)
	}
	if c.StateDir == "" {
		return errors.New("state dir must be set")
	}
	return nil
}

// DBPath is the task database location.
func (c Config) DBPath() string {
	return filepath.Join(c.StateDir, "tasks.db")
}
