package commands

import (
	"errors"
	"log/slog"
	"os"
	"time"

	"autoquote-backend/internal/batch"
	"autoquote-backend/internal/netcheck"
	"autoquote-backend/lib/configutil"
)

type CacheConfig struct {
	// DSN selects the backend, see migrations.OpenDSN. Empty runs without a
	// cache.
	DSN       string `json:"dsn"`
	Freshness string `json:"freshness"`
	TTLHours  int    `json:"ttl_hours"`
}

type BrowserConfig struct {
	Headless   *bool  `json:"headless"`
	ExecPath   string `json:"exec_path"`
	UserAgent  string `json:"user_agent"`
	KeepOpenMs int    `json:"keep_open_ms"`
	// DebugDir receives a screenshot and the page source of failed sessions.
	DebugDir string `json:"debug_dir"`
}

func (c BrowserConfig) headless() bool {
	return c.Headless == nil || *c.Headless
}

type BatchConfig struct {
	GroupSize    int              `json:"group_size"`
	PauseMs      int              `json:"pause_ms"`
	IntraPauseMs int              `json:"intra_pause_ms"`
	ReportDir    string           `json:"report_dir"`
	Mail         batch.MailConfig `json:"mail"`
}

func (c BatchConfig) options() batch.Options {
	opts := batch.DefaultOptions()
	if c.GroupSize > 0 {
		opts.GroupSize = c.GroupSize
	}
	if c.PauseMs > 0 {
		opts.Pause = time.Duration(c.PauseMs) * time.Millisecond
	}
	if c.IntraPauseMs > 0 {
		opts.IntraPause = time.Duration(c.IntraPauseMs) * time.Millisecond
	}
	return opts
}

type Config struct {
	Cache CacheConfig `json:"cache"`
	// Catalog is a json5 catalog replacing the embedded one.
	Catalog  string          `json:"catalog"`
	Browser  BrowserConfig   `json:"browser"`
	Batch    BatchConfig     `json:"batch"`
	Netcheck netcheck.Config `json:"netcheck"`
}

// loadConfig reads path, a missing file yields the zero config. Environment
// variables win over the file.
func loadConfig(path string) (Config, error) {
	cfg, err := configutil.ReadConfig[Config](path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("no config file, using defaults", "path", path)
		err = nil
	}
	if err != nil {
		return Config{}, err
	}

	configutil.EnvString(&cfg.Cache.DSN, "AUTOQUOTE_CACHE_DSN")
	configutil.EnvString(&cfg.Catalog, "AUTOQUOTE_CATALOG")
	if _, ok := os.LookupEnv("AUTOQUOTE_HEADLESS"); ok {
		headless := cfg.Browser.headless()
		configutil.EnvBool(&headless, "AUTOQUOTE_HEADLESS")
		cfg.Browser.Headless = &headless
	}
	return cfg, nil
}
