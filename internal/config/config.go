package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// LocalConfigName is the per-repository config file searched for from the working directory upwards
const LocalConfigName = ".sprint-orch.toml"

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Sprint        SprintConfig        `toml:"sprint"`
	Retry         RetryConfig         `toml:"retry"`
	Hosting       HostingConfig       `toml:"hosting"`
	Report        ReportConfig        `toml:"report"`
	Notifications NotificationsConfig `toml:"notifications"`
	Logging       LoggingConfig       `toml:"logging"`
	Telemetry     TelemetryConfig     `toml:"telemetry"`
	Schedules     []ScheduleConfig    `toml:"schedule"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	ProjectRoot  string `toml:"project_root"`
	DatabasePath string `toml:"database_path"`
}

// SprintConfig controls how items are driven through a run
type SprintConfig struct {
	Parallel        bool     `toml:"parallel"`
	MaxParallel     int      `toml:"max_parallel"`
	MaxItemDuration Duration `toml:"max_item_duration"`
	PrimaryTrunk    string   `toml:"primary_trunk"`
	FallbackTrunk   string   `toml:"fallback_trunk"`
}

// RetryConfig bounds re-attempts of workspace steps
type RetryConfig struct {
	MaxRetries     int      `toml:"max_retries"`
	InitialBackoff Duration `toml:"initial_backoff"`
	MaxBackoff     Duration `toml:"max_backoff"`
}

// Hosting backends
const (
	BackendGH  = "gh"
	BackendAPI = "api"
)

// HostingConfig selects and configures the hosting-service client
type HostingConfig struct {
	Backend    string `toml:"backend"`
	Repo       string `toml:"repo"`
	Token      Secret `toml:"token"`
	APIBaseURL string `toml:"api_base_url"`
}

// Report formats
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// ReportConfig controls where run reports go
type ReportConfig struct {
	Dir         string            `toml:"dir"`
	Format      string            `toml:"format"`
	ObjectStore ObjectStoreConfig `toml:"object_store"`
}

// ObjectStoreConfig configures the optional S3-compatible report mirror
type ObjectStoreConfig struct {
	Endpoint  string `toml:"endpoint"`
	Bucket    string `toml:"bucket"`
	Prefix    string `toml:"prefix"`
	Region    string `toml:"region"`
	AccessKey string `toml:"access_key"`
	SecretKey Secret `toml:"secret_key"`
	UseSSL    bool   `toml:"use_ssl"`
}

// Enabled reports whether a mirror target is configured
func (o ObjectStoreConfig) Enabled() bool {
	return o.Endpoint != "" && o.Bucket != ""
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// TelemetryConfig toggles OpenTelemetry export
type TelemetryConfig struct {
	Enabled bool `toml:"enabled"`
	Stdout  bool `toml:"stdout"`
}

// ScheduleConfig is one cron-triggered sprint
type ScheduleConfig struct {
	Name      string `toml:"name"`
	Cron      string `toml:"cron"`
	Selection string `toml:"selection"`
	Repo      string `toml:"repo"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			ProjectRoot:  "",
			DatabasePath: filepath.Join(home, ".sprint-orch", "runs.db"),
		},
		Sprint: SprintConfig{
			Parallel:        false,
			MaxParallel:     3,
			MaxItemDuration: Duration(30 * time.Minute),
			PrimaryTrunk:    "main",
			FallbackTrunk:   "master",
		},
		Retry: RetryConfig{
			MaxRetries:     3,
			InitialBackoff: Duration(time.Second),
			MaxBackoff:     Duration(30 * time.Second),
		},
		Hosting: HostingConfig{
			Backend: BackendGH,
		},
		Report: ReportConfig{
			Dir:    filepath.Join("app_reviews", "resolutions"),
			Format: FormatJSON,
			ObjectStore: ObjectStoreConfig{
				Prefix: "sprints",
				Region: "us-east-1",
				UseSSL: true,
			},
		},
		Notifications: NotificationsConfig{
			Desktop: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	// Expand paths
	cfg.General.ProjectRoot = ExpandPath(cfg.General.ProjectRoot)
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.Report.Dir = ExpandPath(cfg.Report.Dir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// LoadWithLocalFallback loads an explicit path when given, otherwise the
// nearest LocalConfigName above the working directory, otherwise the user config.
func LoadWithLocalFallback(explicit string) (*Config, error) {
	if explicit != "" {
		return Load(explicit)
	}
	if local := FindLocalConfig(); local != "" {
		return Load(local)
	}
	return Load(DefaultConfigPath())
}

// FindLocalConfig walks from the working directory to the filesystem root
// looking for LocalConfigName. Returns "" if none exists.
func FindLocalConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, LocalConfigName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Validate rejects invalid values and fills defaults for unset numeric fields
func (c *Config) Validate() error {
	if c.Sprint.MaxParallel <= 0 {
		c.Sprint.MaxParallel = 1
	}
	if c.Sprint.PrimaryTrunk == "" {
		return fmt.Errorf("sprint.primary_trunk is required")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.MaxBackoff.Duration() < c.Retry.InitialBackoff.Duration() {
		c.Retry.MaxBackoff = c.Retry.InitialBackoff
	}

	switch c.Hosting.Backend {
	case BackendGH, BackendAPI:
	case "":
		c.Hosting.Backend = BackendGH
	default:
		return fmt.Errorf("hosting.backend must be %q or %q, got %q", BackendGH, BackendAPI, c.Hosting.Backend)
	}

	switch c.Report.Format {
	case FormatJSON, FormatYAML:
	case "":
		c.Report.Format = FormatJSON
	default:
		return fmt.Errorf("report.format must be %q or %q, got %q", FormatJSON, FormatYAML, c.Report.Format)
	}

	if c.Logging.Format != "" && c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	for i, s := range c.Schedules {
		if s.Name == "" {
			return fmt.Errorf("schedule %d: name is required", i)
		}
		if s.Selection == "" {
			return fmt.Errorf("schedule %s: selection is required", s.Name)
		}
		if _, err := parser.Parse(s.Cron); err != nil {
			return fmt.Errorf("schedule %s: invalid cron expression: %w", s.Name, err)
		}
	}

	return nil
}

// ResolveToken returns the configured API token, falling back to GITHUB_TOKEN / GH_TOKEN
func (h HostingConfig) ResolveToken() Secret {
	if h.Token.IsSet() {
		return h.Token
	}
	for _, env := range []string{"GITHUB_TOKEN", "GH_TOKEN"} {
		if v := os.Getenv(env); v != "" {
			return Secret(v)
		}
	}
	return ""
}

// ReportDir returns the report directory, resolved against the project root when relative
func (c *Config) ReportDir() string {
	if filepath.IsAbs(c.Report.Dir) || c.General.ProjectRoot == "" {
		return c.Report.Dir
	}
	return filepath.Join(c.General.ProjectRoot, c.Report.Dir)
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "sprint-orch", "config.toml")
}
