package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for RAGShield
type Config struct {
	Listen      string            `yaml:"listen"`
	Data        DataConfig        `yaml:"data"`
	Ollama      OllamaConfig      `yaml:"ollama"`
	Integrity   IntegrityConfig   `yaml:"integrity"`
	BlastRadius BlastRadiusConfig `yaml:"blast_radius"`
	Events      EventsConfig      `yaml:"events"`
	TLS         TLSConfig         `yaml:"tls"` // TLS/HTTPS configuration
	Logging     LoggingConfig     `yaml:"logging"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// DataConfig holds the filesystem layout for runtime state
type DataConfig struct {
	Dir       string `yaml:"dir"`        // Base directory for database, logs, and vault
	CorpusDir string `yaml:"corpus_dir"` // Corpus root with clean/poisoned/golden subdirectories
}

// OllamaConfig holds the generation and embedding backend configuration
type OllamaConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Model        string        `yaml:"model"`         // Generation model
	EmbedModel   string        `yaml:"embed_model"`   // Embedding model
	Timeout      time.Duration `yaml:"timeout"`       // Per-generation timeout (default 180s)
	EmbedTimeout time.Duration `yaml:"embed_timeout"` // Per-embedding timeout (default 30s)
}

// IntegrityConfig holds detection thresholds and tables
type IntegrityConfig struct {
	Threshold        float64           `yaml:"threshold"`         // Per-signal quarantine trigger
	WarningThreshold float64           `yaml:"warning_threshold"` // Combined scores below this flag the document
	Weights          WeightsConfig     `yaml:"weights"`
	TrustSources     []TrustSource     `yaml:"trust_sources"` // Scan order matters: first match wins
	RedFlags         []RedFlagCategory `yaml:"red_flags"`
}

// WeightsConfig holds the four signal weights. They must sum to 1.0.
type WeightsConfig struct {
	Trust         float64 `yaml:"trust"`
	RedFlag       float64 `yaml:"red_flag"`
	Anomaly       float64 `yaml:"anomaly"`
	SemanticDrift float64 `yaml:"semantic_drift"`
}

// TrustSource maps a source domain to its base trust score
type TrustSource struct {
	Source string  `yaml:"source"`
	Score  float64 `yaml:"score"`
}

// RedFlagCategory is one keyword category of the red-flag table
type RedFlagCategory struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// BlastRadiusConfig holds impact-analysis severity thresholds.
// CRITICAL and HIGH trigger on either count; MEDIUM requires both.
type BlastRadiusConfig struct {
	LookbackHours   int `yaml:"lookback_hours"`
	CriticalQueries int `yaml:"critical_queries"`
	CriticalUsers   int `yaml:"critical_users"`
	HighQueries     int `yaml:"high_queries"`
	HighUsers       int `yaml:"high_users"`
	MediumQueries   int `yaml:"medium_queries"`
	MediumUsers     int `yaml:"medium_users"`
}

// EventsConfig holds event broadcast configuration
type EventsConfig struct {
	Broadcast string      `yaml:"broadcast"` // "memory" or "redis"
	Redis     RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"` // Path to TLS certificate
	KeyFile  string `yaml:"key_file"`  // Path to TLS private key
	// Auto-generate self-signed cert for development
	AutoCert bool `yaml:"auto_cert"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"` // "otlp", "stdout", or "none"
	Endpoint    string `yaml:"endpoint"` // OTLP endpoint (e.g., "localhost:4317")
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"` // Use insecure connection for OTLP
}

// Load reads and parses the configuration file. A missing file is not
// an error; defaults plus environment overrides apply.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path) // #nosec G304 -- config path from trusted CLI flag
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config with sensible default values
func defaults() *Config {
	return &Config{
		Listen: ":8000",
		Data: DataConfig{
			Dir:       "data",
			CorpusDir: "corpus",
		},
		Ollama: OllamaConfig{
			BaseURL:      "http://localhost:11434",
			Model:        "mistral",
			EmbedModel:   "all-minilm",
			Timeout:      180 * time.Second,
			EmbedTimeout: 30 * time.Second,
		},
		Integrity: IntegrityConfig{
			Threshold:        0.5,
			WarningThreshold: 0.7,
			Weights: WeightsConfig{
				Trust:         0.25,
				RedFlag:       0.35,
				Anomaly:       0.15,
				SemanticDrift: 0.25,
			},
			TrustSources: defaultTrustSources(),
			RedFlags:     defaultRedFlags(),
		},
		BlastRadius: BlastRadiusConfig{
			LookbackHours:   24,
			CriticalQueries: 20,
			CriticalUsers:   10,
			HighQueries:     5,
			HighUsers:       3,
			MediumQueries:   1,
			MediumUsers:     1,
		},
		Events: EventsConfig{
			Broadcast: "memory",
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				Password:  "",
				DB:        0,
				KeyPrefix: "ragshield:",
			},
		},
		TLS: TLSConfig{
			Enabled:  false,
			CertFile: "",
			KeyFile:  "",
			AutoCert: false,
		},
		Logging: LoggingConfig{
			Format: "json",
			Level:  "info",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Exporter:    "none",
			ServiceName: "ragshield",
			Endpoint:    "localhost:4317",
			Insecure:    true,
		},
	}
}

// defaultTrustSources returns the stock source trust table. Exact
// matches are checked before substring matches, in this order.
func defaultTrustSources() []TrustSource {
	return []TrustSource{
		{Source: "nvd.nist.gov", Score: 1.0},
		{Source: "cve.mitre.org", Score: 1.0},
		{Source: "ubuntu.com/security", Score: 0.9},
		{Source: "redhat.com/security", Score: 0.9},
		{Source: "debian.org/security", Score: 0.9},
		{Source: "microsoft.com/security", Score: 0.85},
		{Source: "github.com/advisories", Score: 0.8},
		{Source: "internal_kb", Score: 0.9},
		{Source: "golden", Score: 0.95},
		{Source: "clean", Score: 0.85},
		{Source: "unknown", Score: 0.3},
		{Source: "poisoned", Score: 0.1}, // For demo purposes
	}
}

// defaultRedFlags returns the stock keyword table. Matching is
// case-insensitive, so each phrase appears once.
func defaultRedFlags() []RedFlagCategory {
	return []RedFlagCategory{
		{
			Name: "security_downgrade",
			Keywords: []string{
				"disable firewall",
				"turn off waf",
				"skip security scan",
				"stop firewalld",
				"systemctl stop",
				"ufw disable",
				"temporarily disable security",
				"bypass security",
				"disable antivirus",
			},
		},
		{
			Name: "dangerous_permissions",
			Keywords: []string{
				"chmod 777",
				"chmod -r 777",
				"permissive permissions",
				"world-writable",
				"grant full access",
				"0777",
			},
		},
		{
			Name: "severity_downplay",
			Keywords: []string{
				"low priority",
				"not urgent",
				"ignore this cve",
				"can be deferred",
				"no immediate action",
				"largely mitigated",
				"low-medium severity",
				"adequate protection",
				"next maintenance window",
			},
		},
		{
			Name: "unsafe_operations",
			Keywords: []string{
				"skip verification",
				"bypass check",
				"disable validation",
				"without security modules",
				"run as root",
				"disable selinux",
				"disable apparmor",
				"ignore warning",
			},
		},
		{
			Name: "social_engineering",
			Keywords: []string{
				"trust this source",
				"urgent action required",
				"verify later",
				"verified by community",
				"everyone uses this",
				"no need to check",
				"pre-approved",
				"already validated",
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RAGSHIELD_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("RAGSHIELD_DATA_DIR"); v != "" {
		c.Data.Dir = v
	}
	if v := os.Getenv("RAGSHIELD_CORPUS_DIR"); v != "" {
		c.Data.CorpusDir = v
	}
	if v := os.Getenv("RAGSHIELD_OLLAMA_URL"); v != "" {
		c.Ollama.BaseURL = v
	}
	if v := os.Getenv("RAGSHIELD_OLLAMA_MODEL"); v != "" {
		c.Ollama.Model = v
	}
	if v := os.Getenv("RAGSHIELD_EMBED_MODEL"); v != "" {
		c.Ollama.EmbedModel = v
	}
	if v := os.Getenv("RAGSHIELD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("RAGSHIELD_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("RAGSHIELD_EVENTS_BROADCAST"); v != "" {
		c.Events.Broadcast = v
	}
	if v := os.Getenv("RAGSHIELD_REDIS_ADDR"); v != "" {
		c.Events.Redis.Addr = v
	}
	if v := os.Getenv("RAGSHIELD_REDIS_PASSWORD"); v != "" {
		c.Events.Redis.Password = v
	}

	// Telemetry overrides
	if os.Getenv("RAGSHIELD_TELEMETRY_ENABLED") == "true" {
		c.Telemetry.Enabled = true
	}
	if v := os.Getenv("RAGSHIELD_TELEMETRY_EXPORTER"); v != "" {
		c.Telemetry.Exporter = v
	}
	if v := os.Getenv("RAGSHIELD_TELEMETRY_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
	}
	if v := os.Getenv("RAGSHIELD_TELEMETRY_SERVICE_NAME"); v != "" {
		c.Telemetry.ServiceName = v
	}
	// Also support standard OTEL env vars
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Enabled = true
		c.Telemetry.Exporter = "otlp"
		c.Telemetry.Endpoint = v
	}
	if os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true" {
		c.Telemetry.Insecure = true
	}

	// TLS overrides
	if os.Getenv("RAGSHIELD_TLS_ENABLED") == "true" {
		c.TLS.Enabled = true
	}
	if v := os.Getenv("RAGSHIELD_TLS_CERT_FILE"); v != "" {
		c.TLS.CertFile = v
	}
	if v := os.Getenv("RAGSHIELD_TLS_KEY_FILE"); v != "" {
		c.TLS.KeyFile = v
	}
	if os.Getenv("RAGSHIELD_TLS_AUTO_CERT") == "true" {
		c.TLS.AutoCert = true
	}
}

// validate checks that the configuration is valid
func (c *Config) validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.Ollama.BaseURL == "" {
		return fmt.Errorf("ollama base_url is required")
	}
	if c.Integrity.Threshold <= 0 || c.Integrity.Threshold >= 1 {
		return fmt.Errorf("integrity threshold must be in (0, 1), got %v", c.Integrity.Threshold)
	}
	if c.Integrity.WarningThreshold <= 0 || c.Integrity.WarningThreshold >= 1 {
		return fmt.Errorf("integrity warning_threshold must be in (0, 1), got %v", c.Integrity.WarningThreshold)
	}

	w := c.Integrity.Weights
	if w.Trust < 0 || w.RedFlag < 0 || w.Anomaly < 0 || w.SemanticDrift < 0 {
		return fmt.Errorf("signal weights must be non-negative")
	}
	if sum := w.Trust + w.RedFlag + w.Anomaly + w.SemanticDrift; math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("signal weights must sum to 1.0, got %v", sum)
	}

	for _, ts := range c.Integrity.TrustSources {
		if ts.Score < 0 || ts.Score > 1 {
			return fmt.Errorf("trust score for %q must be in [0, 1], got %v", ts.Source, ts.Score)
		}
	}

	if c.BlastRadius.LookbackHours < 1 {
		return fmt.Errorf("blast radius lookback_hours must be positive")
	}
	if c.Events.Broadcast != "memory" && c.Events.Broadcast != "redis" {
		return fmt.Errorf("events broadcast must be \"memory\" or \"redis\", got %q", c.Events.Broadcast)
	}
	return nil
}

// LogsDir returns the directory holding the JSONL logs.
func (c *Config) LogsDir() string {
	return filepath.Join(c.Data.Dir, "logs")
}

// EventLogPath returns the event log file path.
func (c *Config) EventLogPath() string {
	return filepath.Join(c.LogsDir(), "events.jsonl")
}

// LineageLogPath returns the query lineage journal path.
func (c *Config) LineageLogPath() string {
	return filepath.Join(c.LogsDir(), "query_lineage.jsonl")
}

// VaultDir returns the quarantine vault directory.
func (c *Config) VaultDir() string {
	return filepath.Join(c.Data.Dir, "quarantine_vault")
}

// DatabasePath returns the vector store database path.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Data.Dir, "ragshield.db")
}

// Lookback returns the blast radius window as a duration.
func (c *Config) Lookback() time.Duration {
	return time.Duration(c.BlastRadius.LookbackHours) * time.Hour
}
