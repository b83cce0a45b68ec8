package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes YAML values like "30s" or "10m" via time.ParseDuration.
// Bare integers are taken as nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	*d = Duration(n)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config captures the settings required to boot the remediation daemon.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Agent       AgentConfig       `yaml:"agent"`
	Advisor     AdvisorConfig     `yaml:"advisor"`
	Policy      PolicyConfig      `yaml:"policy"`
	Executor    ExecutorConfig    `yaml:"executor"`
	Detector    DetectorConfig    `yaml:"detector"`
	Remediation RemediationConfig `yaml:"remediation"`
	Loop        LoopConfig        `yaml:"loop"`
	Storage     StorageConfig     `yaml:"storage"`
	Cache       CacheConfig       `yaml:"cache"`
}

// ServerConfig controls the admin gRPC and metrics listeners.
type ServerConfig struct {
	AdminAddress    string   `yaml:"adminAddress"`
	MetricsAddress  string   `yaml:"metricsAddress"`
	GracefulTimeout Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// AgentConfig configures access to the node agent telemetry APIs.
type AgentConfig struct {
	BaseURL    string   `yaml:"baseURL"`
	HealthPath string   `yaml:"healthPath"`
	LogsPath   string   `yaml:"logsPath"`
	Timeout    Duration `yaml:"timeout"`
}

// AdvisorConfig configures the LLM diagnosis/planning backend.
type AdvisorConfig struct {
	Model   string   `yaml:"model"`
	BaseURL string   `yaml:"baseURL"`
	Timeout Duration `yaml:"timeout"`
}

// PolicyConfig controls command policy pack loading.
type PolicyConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// ExecutorConfig controls safe command execution.
type ExecutorConfig struct {
	DryRun                 bool     `yaml:"dryRun"`
	MaxExecutionsPerMinute int      `yaml:"maxExecutionsPerMinute"`
	DefaultTimeout         Duration `yaml:"defaultTimeout"`
	ApprovalThreshold      string   `yaml:"approvalThreshold"`
	AuditPath              string   `yaml:"auditPath"`
	WorkDir                string   `yaml:"workDir"`
}

// DetectorConfig controls baseline statistics.
type DetectorConfig struct {
	Sensitivity float64 `yaml:"sensitivity"`
	WindowHours int     `yaml:"windowHours"`
}

// RemediationConfig controls the orchestrator state machine.
type RemediationConfig struct {
	CooldownWindow  Duration `yaml:"cooldownWindow"`
	ActionThreshold string   `yaml:"actionThreshold"`
	WaitDuration    Duration `yaml:"waitDuration"`
	Workers         int      `yaml:"workers"`
}

// LoopConfig controls the self-heal tick driver.
type LoopConfig struct {
	Interval Duration `yaml:"interval"`
	Services []string `yaml:"services"`
}

// StorageConfig controls the embedded Badger store.
type StorageConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"inMemory"`
}

// CacheConfig controls the optional Valkey-backed cooldown/lease cache.
type CacheConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Addr         string   `yaml:"addr"`
	Username     string   `yaml:"username"`
	Password     string   `yaml:"password"`
	DB           int      `yaml:"db"`
	DialTimeout  Duration `yaml:"dialTimeout"`
	ReadTimeout  Duration `yaml:"readTimeout"`
	WriteTimeout Duration `yaml:"writeTimeout"`
	TLS          bool     `yaml:"tls"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("REMEDYD_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			AdminAddress:    ":50061",
			MetricsAddress:  ":2113",
			GracefulTimeout: Duration(10 * time.Second),
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Agent: AgentConfig{
			HealthPath: "/api/v1/agent/health",
			LogsPath:   "/api/v1/agent/logs",
			Timeout:    Duration(5 * time.Second),
		},
		Advisor: AdvisorConfig{
			Model:   "gpt-4o-mini",
			Timeout: Duration(30 * time.Second),
		},
		Policy: PolicyConfig{
			Path:  "configs/policy/default.yaml",
			Watch: true,
		},
		Executor: ExecutorConfig{
			MaxExecutionsPerMinute: 10,
			DefaultTimeout:         Duration(30 * time.Second),
			ApprovalThreshold:      "high",
			AuditPath:              "data/audit.jsonl",
		},
		Detector: DetectorConfig{
			Sensitivity: 2.0,
			WindowHours: 24,
		},
		Remediation: RemediationConfig{
			CooldownWindow:  Duration(30 * time.Minute),
			ActionThreshold: "high",
			WaitDuration:    Duration(10 * time.Second),
			Workers:         2,
		},
		Loop:    LoopConfig{Interval: Duration(10 * time.Minute)},
		Storage: StorageConfig{Path: "data/remedyd"},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  Duration(2 * time.Second),
			ReadTimeout:  Duration(500 * time.Millisecond),
			WriteTimeout: Duration(500 * time.Millisecond),
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REMEDYD_ADMIN_ADDRESS"); v != "" {
		cfg.Server.AdminAddress = v
	}
	if v := os.Getenv("REMEDYD_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("REMEDYD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("REMEDYD_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("REMEDYD_AGENT_BASE_URL"); v != "" {
		cfg.Agent.BaseURL = v
	}
	if v := os.Getenv("REMEDYD_AGENT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Agent.Timeout = Duration(d)
		}
	}
	if v := os.Getenv("REMEDYD_ADVISOR_MODEL"); v != "" {
		cfg.Advisor.Model = v
	}
	if v := os.Getenv("REMEDYD_ADVISOR_BASE_URL"); v != "" {
		cfg.Advisor.BaseURL = v
	}
	if v := os.Getenv("REMEDYD_POLICY_PATH"); v != "" {
		cfg.Policy.Path = v
	}
	if v := os.Getenv("REMEDYD_POLICY_WATCH"); v != "" {
		cfg.Policy.Watch = parseBool(v)
	}
	if v := os.Getenv("REMEDYD_EXECUTOR_DRY_RUN"); v != "" {
		cfg.Executor.DryRun = parseBool(v)
	}
	if v := os.Getenv("REMEDYD_EXECUTOR_MAX_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Executor.MaxExecutionsPerMinute = n
		}
	}
	if v := os.Getenv("REMEDYD_EXECUTOR_DEFAULT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Executor.DefaultTimeout = Duration(d)
		}
	}
	if v := os.Getenv("REMEDYD_EXECUTOR_AUDIT_PATH"); v != "" {
		cfg.Executor.AuditPath = v
	}
	if v := os.Getenv("REMEDYD_COOLDOWN_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Remediation.CooldownWindow = Duration(d)
		}
	}
	if v := os.Getenv("REMEDYD_ACTION_THRESHOLD"); v != "" {
		cfg.Remediation.ActionThreshold = v
	}
	if v := os.Getenv("REMEDYD_LOOP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Loop.Interval = Duration(d)
		}
	}
	if v := os.Getenv("REMEDYD_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("REMEDYD_STORAGE_IN_MEMORY"); v != "" {
		cfg.Storage.InMemory = parseBool(v)
	}
	if v := os.Getenv("REMEDYD_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = parseBool(v)
	}
	if v := os.Getenv("REMEDYD_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("REMEDYD_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("REMEDYD_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("REMEDYD_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("REMEDYD_CACHE_TLS"); v != "" {
		cfg.Cache.TLS = parseBool(v)
	}
}

func parseBool(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}
