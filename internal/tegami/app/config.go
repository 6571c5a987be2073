package app

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bdobrica/Tegami/internal/tegami/dispatch"
	"github.com/bdobrica/Tegami/internal/tegami/kv"
	"github.com/bdobrica/Tegami/internal/tegami/llm"
	"github.com/bdobrica/Tegami/internal/tegami/matrix"
)

// DefaultLocalQuota mirrors the few megabytes a browser grants local storage.
const DefaultLocalQuota = 5 << 20

// Config holds application configuration.
type Config struct {
	// DatabasePath is the local SQLite file. ":memory:" keeps everything in
	// process.
	DatabasePath string
	// LocalQuotaBytes caps the local tier; writes beyond it fail with
	// kv.ErrQuotaExceeded.
	LocalQuotaBytes int64
	// Namespace prefixes scoped keys.
	Namespace string
	// Location is the zone narrative times are rendered in.
	Location *time.Location

	// Matrix enables the synchronized primary tier when non-nil.
	Matrix *matrix.Config

	LLM llm.Config
	// LLMRateLimit is the number of generations allowed per scope per
	// minute; zero selects llm.DefaultRateLimit.
	LLMRateLimit int
	// Generator overrides the HTTP client built from LLM, mainly for tests.
	Generator llm.Generator

	StalePolicy dispatch.StalePolicy

	// HTTPAddr is the API listen address, e.g. ":8080". Empty disables the
	// listener; the handler is still usable in process.
	HTTPAddr string

	// SnapshotPath, when set, is bound at startup.
	SnapshotPath string
}

// fileConfig is the YAML shape of a config file. Only fields present in the
// file override the environment.
type fileConfig struct {
	Database *struct {
		Path       string `yaml:"path"`
		QuotaBytes int64  `yaml:"quotaBytes"`
	} `yaml:"database"`
	Namespace string `yaml:"namespace"`
	Timezone  string `yaml:"timezone"`
	HTTPAddr  string `yaml:"httpAddr"`
	Snapshot  string `yaml:"snapshot"`
	Stale     string `yaml:"stalePolicy"`
	Matrix    *struct {
		Homeserver  string `yaml:"homeserver"`
		UserID      string `yaml:"userId"`
		AccessToken string `yaml:"accessToken"`
		EventPrefix string `yaml:"eventPrefix"`
	} `yaml:"matrix"`
	LLM *struct {
		BaseURL     string        `yaml:"baseUrl"`
		Model       string        `yaml:"model"`
		APIKey      string        `yaml:"apiKey"`
		Timeout     time.Duration `yaml:"timeout"`
		Temperature *float64      `yaml:"temperature"`
		RateLimit   int           `yaml:"rateLimit"`
	} `yaml:"llm"`
}

// ApplyFile overlays the YAML file at path onto cfg.
func ApplyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("app: read config %s: %w", path, err)
	}
	return ApplyYAML(cfg, data)
}

// ApplyYAML overlays a YAML document onto cfg.
func ApplyYAML(cfg *Config, data []byte) error {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("app: parse config: %w", err)
	}
	if fc.Database != nil {
		cfg.DatabasePath = orDefault(fc.Database.Path, cfg.DatabasePath)
		if fc.Database.QuotaBytes > 0 {
			cfg.LocalQuotaBytes = fc.Database.QuotaBytes
		}
	}
	cfg.Namespace = orDefault(fc.Namespace, cfg.Namespace)
	cfg.HTTPAddr = orDefault(fc.HTTPAddr, cfg.HTTPAddr)
	cfg.SnapshotPath = orDefault(fc.Snapshot, cfg.SnapshotPath)
	if fc.Stale != "" {
		cfg.StalePolicy = dispatch.ParseStalePolicy(fc.Stale)
	}
	if fc.Timezone != "" {
		loc, err := time.LoadLocation(fc.Timezone)
		if err != nil {
			return fmt.Errorf("app: timezone %q: %w", fc.Timezone, err)
		}
		cfg.Location = loc
	}
	if m := fc.Matrix; m != nil && m.Homeserver != "" {
		if cfg.Matrix == nil {
			cfg.Matrix = &matrix.Config{}
		}
		cfg.Matrix.Homeserver = m.Homeserver
		cfg.Matrix.UserID = orDefault(m.UserID, cfg.Matrix.UserID)
		cfg.Matrix.AccessToken = orDefault(m.AccessToken, cfg.Matrix.AccessToken)
		cfg.Matrix.EventPrefix = orDefault(m.EventPrefix, cfg.Matrix.EventPrefix)
	}
	if l := fc.LLM; l != nil {
		cfg.LLM.BaseURL = orDefault(l.BaseURL, cfg.LLM.BaseURL)
		cfg.LLM.Model = orDefault(l.Model, cfg.LLM.Model)
		cfg.LLM.APIKey = orDefault(l.APIKey, cfg.LLM.APIKey)
		if l.Timeout > 0 {
			cfg.LLM.Timeout = l.Timeout
		}
		if l.Temperature != nil {
			cfg.LLM.Temperature = l.Temperature
		}
		if l.RateLimit > 0 {
			cfg.LLMRateLimit = l.RateLimit
		}
	}
	return nil
}

func (c *Config) withDefaults() {
	if c.DatabasePath == "" {
		c.DatabasePath = "./tegami.db"
	}
	if c.LocalQuotaBytes <= 0 {
		c.LocalQuotaBytes = DefaultLocalQuota
	}
	if c.Namespace == "" {
		c.Namespace = kv.DefaultNamespace
	}
	if c.Location == nil {
		c.Location = time.Local
	}
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
