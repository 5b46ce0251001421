// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"ai-request-queue/internal/domain/model"
	"ai-request-queue/internal/domain/policy"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type QueueConfig struct {
	Root           string        `yaml:"root"` // queue lives at <root>/queue/...
	ScanInterval   time.Duration `yaml:"scan_interval"`
	ScanOnStart    *bool         `yaml:"scan_on_start"`
	Watch          bool          `yaml:"watch"` // fsnotify-triggered gauge refresh
	HealthInterval time.Duration `yaml:"health_interval"`
}

// ThresholdsConfig mirrors the workload categories.
type ThresholdsConfig struct {
	Simple     time.Duration `yaml:"simple"`
	Memory     time.Duration `yaml:"memory"`
	FileSystem time.Duration `yaml:"file_system"`
	Complex    time.Duration `yaml:"complex"`
	Default    time.Duration `yaml:"default"`
}

type PolicyConfig struct {
	MaxProcessingTime  time.Duration    `yaml:"max_processing_time"`
	RecoveryMultiplier float64          `yaml:"recovery_multiplier"`
	Thresholds         ThresholdsConfig `yaml:"thresholds"`
	AgeSource          string           `yaml:"age_source"` // mtime | record
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type AdminConfig struct {
	Port      int           `yaml:"port"`
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`

	// Unhealthy503 makes /health answer 503 while unhealthy, for load balancers.
	Unhealthy503 bool `yaml:"unhealthy_503"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"` // empty disables the scan lock
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockKey  string        `yaml:"lock_key"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

// AuditConfig enables the SQLite transition history.
type AuditConfig struct {
	Path string `yaml:"path"` // empty disables
}

type NATSConfig struct {
	URL           string `yaml:"url"` // empty disables event publishing
	SubjectPrefix string `yaml:"subject_prefix"`
	Heartbeat     bool   `yaml:"heartbeat"` // publish health snapshots on refresh
}

type Config struct {
	Queue  QueueConfig  `yaml:"queue"`
	Policy PolicyConfig `yaml:"policy"`
	Log    LogConfig    `yaml:"log"`
	Admin  AdminConfig  `yaml:"admin"`
	Redis  RedisConfig  `yaml:"redis"`
	Audit  AuditConfig  `yaml:"audit"`
	NATS   NATSConfig   `yaml:"nats"`

	Runtime RuntimeConfig `yaml:"-"`
}

// ScanOnStartEnabled defaults to true when unset.
func (q QueueConfig) ScanOnStartEnabled() bool {
	return q.ScanOnStart == nil || *q.ScanOnStart
}

func LoadConfig(configPath string, dev bool) (*Config, error) {
	b, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return cfg, nil
}

// Parse decodes YAML, applies defaults and validates.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Queue.ScanInterval <= 0 {
		cfg.Queue.ScanInterval = 30 * time.Second
	}
	if cfg.Queue.HealthInterval <= 0 {
		cfg.Queue.HealthInterval = 15 * time.Second
	}
	if cfg.Policy.MaxProcessingTime <= 0 {
		cfg.Policy.MaxProcessingTime = 2 * time.Hour
	}
	if cfg.Policy.RecoveryMultiplier == 0 {
		cfg.Policy.RecoveryMultiplier = 1.5
	}
	t := &cfg.Policy.Thresholds
	t.Simple = orDefault(t.Simple, 2*time.Minute)
	t.Memory = orDefault(t.Memory, 3*time.Minute)
	t.FileSystem = orDefault(t.FileSystem, 5*time.Minute)
	t.Complex = orDefault(t.Complex, 4*time.Minute)
	t.Default = orDefault(t.Default, 2*time.Minute)
	if cfg.Policy.AgeSource == "" {
		cfg.Policy.AgeSource = "mtime"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Admin.Port == 0 {
		cfg.Admin.Port = 8090
	}
	if cfg.Admin.TokenTTL <= 0 {
		cfg.Admin.TokenTTL = 30 * time.Minute
	}
	if cfg.Redis.LockKey == "" {
		cfg.Redis.LockKey = "request-queue:scan"
	}
	if cfg.Redis.LockTTL <= 0 {
		cfg.Redis.LockTTL = time.Minute
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "request-queue"
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return d
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Queue.Root) == "" {
		return errors.New("queue.root is required")
	}
	if cfg.Policy.RecoveryMultiplier < 1 {
		return fmt.Errorf("policy.recovery_multiplier must be >= 1, got %v", cfg.Policy.RecoveryMultiplier)
	}
	t := cfg.Policy.Thresholds
	for name, d := range map[string]time.Duration{
		"simple": t.Simple, "memory": t.Memory, "file_system": t.FileSystem,
		"complex": t.Complex, "default": t.Default,
	} {
		if d <= 0 {
			return fmt.Errorf("policy.thresholds.%s must be positive", name)
		}
		if d >= cfg.Policy.MaxProcessingTime {
			return fmt.Errorf("policy.thresholds.%s must be below policy.max_processing_time", name)
		}
	}
	switch cfg.Policy.AgeSource {
	case "mtime", "record":
	default:
		return fmt.Errorf("policy.age_source must be mtime or record, got %q", cfg.Policy.AgeSource)
	}
	return nil
}

// TimeoutPolicy builds the immutable policy table from this section.
func (p PolicyConfig) TimeoutPolicy() (*policy.TimeoutPolicy, error) {
	t := p.Thresholds
	return policy.NewTimeoutPolicy(map[model.Category]time.Duration{
		model.CategorySimple:     t.Simple,
		model.CategoryMemory:     t.Memory,
		model.CategoryFileSystem: t.FileSystem,
		model.CategoryComplex:    t.Complex,
		model.CategoryDefault:    t.Default,
	}, p.MaxProcessingTime, p.RecoveryMultiplier)
}
