package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/phishcheck/phishcheck/internal/classifier"
	"github.com/phishcheck/phishcheck/internal/features"
	"github.com/phishcheck/phishcheck/internal/scoring"
)

// Config holds PhishCheck configuration.
type Config struct {
	Models     ModelsConfig     `yaml:"models"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Validation ValidationConfig `yaml:"validation"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

type ModelsConfig struct {
	Dir       string `yaml:"dir"`        // models root or a single bundle dir
	ModelFile string `yaml:"model_file"` // file name inside the bundle
}

type ClassifierConfig struct {
	SharedLibraryPath string `yaml:"shared_library_path"`
	InputName         string `yaml:"input_name"`
	LabelOutput       string `yaml:"label_output"`
	ProbabilityOutput string `yaml:"probability_output"`
	OutputKind        string `yaml:"output_kind"` // probabilities | logits
	Sessions          int    `yaml:"sessions"`
	IntraThreads      int    `yaml:"intra_threads"`
	InterThreads      int    `yaml:"inter_threads"`
}

type ValidationConfig struct {
	Strict       bool `yaml:"strict"`
	MaxURLLength int  `yaml:"max_url_length"`
}

type ScoringConfig struct {
	Bands map[string]scoring.Band `yaml:"bands"`
}

type ServerConfig struct {
	Addr                string          `yaml:"addr"`
	MaxInFlight         int             `yaml:"max_in_flight"`
	MaxRequestBodyBytes int64           `yaml:"max_request_body_bytes"`
	ReadTimeout         time.Duration   `yaml:"read_timeout"`
	WriteTimeout        time.Duration   `yaml:"write_timeout"`
	ShutdownTimeout     time.Duration   `yaml:"shutdown_timeout"`
	AllowedOrigins      []string        `yaml:"allowed_origins"` // browser origins allowed to call the API
	RateLimit           RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig limits requests per client IP on the API routes. A negative
// Requests value turns the limit off.
type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

type AuthConfig struct {
	Enabled bool     `yaml:"enabled"`
	APIKeys []string `yaml:"api_keys"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Protocol    string `yaml:"protocol"` // grpc | http | prometheus
	ServiceName string `yaml:"service_name"`
}

// Environment overrides.
const (
	EnvModelsDir   = "PHISHCHECK_MODELS_DIR"
	EnvAddr        = "PHISHCHECK_ADDR"
	EnvLogLevel    = "PHISHCHECK_LOG_LEVEL"
	EnvAPIKeys     = "PHISHCHECK_API_KEYS"
	EnvFrontendURL = "PHISHCHECK_FRONTEND_URL" // comma separated origins
)

const (
	defaultAddr                = ":3000"
	defaultModelsDir           = "models"
	defaultMaxInFlight         = 64
	defaultMaxRequestBodyBytes = 1 << 20
	defaultReadTimeout         = 10 * time.Second
	defaultWriteTimeout        = 10 * time.Second
	defaultShutdownTimeout     = 10 * time.Second
	defaultServiceName         = "phishcheck"
	defaultFrontendURL         = "http://localhost:3001"
	defaultRateLimitRequests   = 100
	defaultRateLimitWindow     = 15 * time.Minute
)

// LoadEnvFiles loads .env style files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env file %s: %w", p, err)
		}
	}
	return nil
}

// Load reads configuration from a YAML file and applies defaults and
// environment overrides. A missing file yields the default config.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			cfg = &Config{}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyDefaults(cfg)
	applyEnv(cfg, os.LookupEnv)
	return cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Models.Dir == "" {
		cfg.Models.Dir = defaultModelsDir
	}
	if cfg.Models.ModelFile == "" {
		cfg.Models.ModelFile = classifier.ModelFile
	}

	if cfg.Classifier.OutputKind == "" {
		cfg.Classifier.OutputKind = classifier.OutputProbabilities
	}
	if cfg.Classifier.Sessions == 0 {
		cfg.Classifier.Sessions = 1
	}
	if cfg.Classifier.IntraThreads == 0 {
		cfg.Classifier.IntraThreads = 1
	}
	if cfg.Classifier.InterThreads == 0 {
		cfg.Classifier.InterThreads = 1
	}

	if cfg.Validation.MaxURLLength == 0 {
		cfg.Validation.MaxURLLength = features.DefaultMaxURLLength
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultAddr
	}
	if cfg.Server.MaxInFlight == 0 {
		cfg.Server.MaxInFlight = defaultMaxInFlight
	}
	if cfg.Server.MaxRequestBodyBytes == 0 {
		cfg.Server.MaxRequestBodyBytes = defaultMaxRequestBodyBytes
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = defaultShutdownTimeout
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{defaultFrontendURL}
	}
	if cfg.Server.RateLimit.Requests == 0 {
		cfg.Server.RateLimit.Requests = defaultRateLimitRequests
	}
	if cfg.Server.RateLimit.Window == 0 {
		cfg.Server.RateLimit.Window = defaultRateLimitWindow
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = defaultServiceName
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvModelsDir); ok && strings.TrimSpace(v) != "" {
		cfg.Models.Dir = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvAddr); ok && strings.TrimSpace(v) != "" {
		cfg.Server.Addr = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvLogLevel); ok && strings.TrimSpace(v) != "" {
		cfg.Logging.Level = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvFrontendURL); ok {
		if origins := splitList(v); len(origins) > 0 {
			cfg.Server.AllowedOrigins = origins
		}
	}
	if v, ok := lookup(EnvAPIKeys); ok {
		if keys := splitList(v); len(keys) > 0 {
			cfg.Auth.APIKeys = keys
			cfg.Auth.Enabled = true
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ClassifierOptions maps the classifier and models sections onto model
// loading options.
func (c *Config) ClassifierOptions() classifier.Options {
	return classifier.Options{
		ModelFile:         c.Models.ModelFile,
		SharedLibraryPath: c.Classifier.SharedLibraryPath,
		InputName:         c.Classifier.InputName,
		LabelOutput:       c.Classifier.LabelOutput,
		ProbabilityOutput: c.Classifier.ProbabilityOutput,
		OutputKind:        c.Classifier.OutputKind,
		Sessions:          c.Classifier.Sessions,
		IntraThreads:      c.Classifier.IntraThreads,
		InterThreads:      c.Classifier.InterThreads,
	}
}

// ValidationOptions returns the feature validation settings.
func (c *Config) ValidationOptions() features.Options {
	return features.Options{
		Strict:       c.Validation.Strict,
		MaxURLLength: c.Validation.MaxURLLength,
	}
}

// Policy builds the risk scoring policy with configured band overrides.
func (c *Config) Policy() (*scoring.Policy, error) {
	return scoring.NewPolicy(c.Scoring.Bands)
}
