package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/phishcheck/phishcheck/internal/classifier"
	"github.com/phishcheck/phishcheck/internal/scoring"
)

// Validate checks the loaded config for required fields and safe values.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if strings.TrimSpace(cfg.Models.Dir) == "" {
		return errors.New("models.dir must be set")
	}
	if strings.TrimSpace(cfg.Models.ModelFile) == "" {
		return errors.New("models.model_file must be set")
	}

	if err := validateClassifierConfig(cfg.Classifier); err != nil {
		return err
	}

	if cfg.Validation.MaxURLLength < 0 {
		return errors.New("validation.max_url_length must be >= 0")
	}

	if _, err := scoring.NewPolicy(cfg.Scoring.Bands); err != nil {
		return fmt.Errorf("scoring.bands: %w", err)
	}

	if err := validateServerConfig(cfg.Server); err != nil {
		return err
	}

	if err := validateAuthConfig(cfg.Auth); err != nil {
		return err
	}

	if err := validateLoggingConfig(cfg.Logging); err != nil {
		return err
	}

	if err := validateTelemetryConfig(cfg.Telemetry); err != nil {
		return err
	}

	return nil
}

func validateClassifierConfig(c ClassifierConfig) error {
	switch strings.ToLower(strings.TrimSpace(c.OutputKind)) {
	case "", classifier.OutputProbabilities, classifier.OutputLogits:
	default:
		return fmt.Errorf("classifier.output_kind must be %s or %s, got %q", classifier.OutputProbabilities, classifier.OutputLogits, c.OutputKind)
	}
	if c.Sessions < 0 {
		return errors.New("classifier.sessions must be >= 0")
	}
	if c.IntraThreads < 0 || c.InterThreads < 0 {
		return errors.New("classifier.intra_threads and classifier.inter_threads must be >= 0")
	}
	return nil
}

func validateServerConfig(s ServerConfig) error {
	if strings.TrimSpace(s.Addr) == "" {
		return errors.New("server.addr must be set")
	}
	if s.MaxInFlight < 0 {
		return errors.New("server.max_in_flight must be >= 0")
	}
	if s.MaxRequestBodyBytes < 0 {
		return errors.New("server.max_request_body_bytes must be >= 0")
	}
	if s.ReadTimeout < 0 || s.WriteTimeout < 0 || s.ShutdownTimeout < 0 {
		return errors.New("server timeouts must be >= 0")
	}
	for i, o := range s.AllowedOrigins {
		if strings.TrimSpace(o) == "" {
			return fmt.Errorf("server.allowed_origins[%d] is empty", i)
		}
	}
	if s.RateLimit.Requests > 0 && s.RateLimit.Window <= 0 {
		return errors.New("server.rate_limit.window must be > 0 when rate limiting is on")
	}
	return nil
}

func validateAuthConfig(a AuthConfig) error {
	if !a.Enabled {
		return nil
	}
	if len(a.APIKeys) == 0 {
		return errors.New("auth enabled but auth.api_keys is empty")
	}
	for i, k := range a.APIKeys {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("auth.api_keys[%d] is empty", i)
		}
	}
	return nil
}

func validateLoggingConfig(l LoggingConfig) error {
	switch strings.ToLower(strings.TrimSpace(l.Level)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", l.Level)
	}
	switch strings.ToLower(strings.TrimSpace(l.Format)) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", l.Format)
	}
	return nil
}

func validateTelemetryConfig(t TelemetryConfig) error {
	if !t.Enabled {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(t.Protocol)) {
	case "", "grpc", "http":
		if strings.TrimSpace(t.Endpoint) == "" {
			return errors.New("telemetry enabled but endpoint is empty")
		}
	case "prometheus":
	default:
		return fmt.Errorf("telemetry.protocol must be grpc, http or prometheus, got %q", t.Protocol)
	}
	return nil
}
