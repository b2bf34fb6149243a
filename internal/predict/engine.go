// Package predict orchestrates one prediction: feature validation,
// classification, risk scoring and translation of failures into the uniform
// error response.
package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/phishcheck/phishcheck/internal/classifier"
	"github.com/phishcheck/phishcheck/internal/features"
	"github.com/phishcheck/phishcheck/internal/scoring"
	"github.com/phishcheck/phishcheck/internal/telemetry"
)

// Classifier is what the engine needs from a loaded model.
type Classifier interface {
	Classify(ctx context.Context, vec features.Vector) (classifier.Outcome, error)
}

// Options tunes an Engine.
type Options struct {
	Validation features.Options
	Telemetry  *telemetry.Provider
	Logger     *slog.Logger
	// Version identifies the active model bundle in logs and health output.
	Version string
	// DecoderKind is reported by health output.
	DecoderKind classifier.DecoderKind
}

// Engine is the immutable inference context. It is safe for concurrent use.
type Engine struct {
	schema     *features.Schema
	classifier Classifier
	policy     *scoring.Policy
	validation features.Options
	telemetry  *telemetry.Provider
	logger     *slog.Logger
	version    string
	decoder    classifier.DecoderKind
	closer     io.Closer
}

// New builds an engine from already loaded parts.
func New(schema *features.Schema, c Classifier, policy *scoring.Policy, opts Options) *Engine {
	if schema == nil {
		schema = features.Default()
	}
	if policy == nil {
		policy = scoring.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tel := opts.Telemetry
	if tel == nil {
		tel = telemetry.Noop()
	}
	return &Engine{
		schema:     schema,
		classifier: c,
		policy:     policy,
		validation: opts.Validation,
		telemetry:  tel,
		logger:     logger,
		version:    opts.Version,
		decoder:    opts.DecoderKind,
	}
}

// Load resolves and loads the active model bundle under modelsDir and builds
// an engine around it. Every failure is a KindStartup error.
func Load(modelsDir string, modelOpts classifier.Options, policy *scoring.Policy, opts Options) (*Engine, error) {
	loaded, err := classifier.Load(modelsDir, modelOpts)
	if err != nil {
		return nil, startupError(err)
	}
	opts.Version = loaded.Bundle.Version
	opts.DecoderKind = loaded.Bundle.Decoder.Kind()

	e := New(loaded.Bundle.Schema, loaded.Classifier, policy, opts)
	e.closer = loaded
	e.logger.Info("model bundle loaded",
		"dir", loaded.Bundle.Dir,
		"version", e.version,
		"features", e.schema.Len(),
		"decoder", string(e.decoder),
	)
	return e, nil
}

// Close releases model resources.
func (e *Engine) Close() error {
	if e == nil || e.closer == nil {
		return nil
	}
	return e.closer.Close()
}

// Schema returns the feature schema the engine validates against.
func (e *Engine) Schema() *features.Schema { return e.schema }

// Version returns the active bundle version, possibly empty.
func (e *Engine) Version() string { return e.version }

// DecoderKind reports how class ids are decoded.
func (e *Engine) DecoderKind() classifier.DecoderKind { return e.decoder }

// Predict scores one feature mapping. On failure the returned Result is the
// uniform error response and err is a *Error.
func (e *Engine) Predict(ctx context.Context, raw map[string]any) (Result, error) {
	if e == nil {
		err := &Error{Kind: KindInference, Err: errors.New("engine not initialized")}
		return ErrorResult(err), err
	}
	ctx = ctxOrBackground(ctx)
	start := time.Now()

	ctx, span := e.telemetry.StartSpan(ctx, "phishcheck.predict", map[string]interface{}{
		"phishcheck.features":      e.schema.Len(),
		"phishcheck.strict":        e.validation.Strict,
		"phishcheck.model_version": e.version,
	})
	defer span.End()

	res, label, err := e.predict(ctx, raw)
	durMs := float64(time.Since(start).Microseconds()) / 1000.0

	if err != nil {
		perr := classify(err)
		span.RecordError(perr)
		span.SetStatus(codes.Error, string(perr.Kind))
		e.telemetry.RecordPrediction(ctx, string(perr.Kind), "", durMs, 1.0)
		e.logger.Debug("prediction failed",
			"kind", string(perr.Kind),
			"feature", perr.Feature,
			"error", perr.Error(),
			"duration_ms", durMs,
		)
		return ErrorResult(perr), perr
	}

	span.SetStatus(codes.Ok, "")
	e.telemetry.RecordPrediction(ctx, "ok", label, durMs, res.RiskScore)
	e.logger.Debug("prediction",
		"status", res.Status,
		"risk_score", res.RiskScore,
		"confidence", res.Confidence,
		"duration_ms", durMs,
	)
	return res, nil
}

func (e *Engine) predict(ctx context.Context, raw map[string]any) (Result, string, error) {
	if e.classifier == nil {
		return Result{}, "", &Error{Kind: KindInference, Err: errors.New("engine not initialized")}
	}
	if raw == nil {
		return Result{}, "", malformed(errors.New("input must be a JSON object"))
	}

	vec, err := e.schema.VectorWithOptions(raw, e.validation)
	if err != nil {
		return Result{}, "", err
	}

	outcome, err := e.classifier.Classify(ctx, vec)
	if err != nil {
		return Result{}, "", err
	}

	assessment := e.policy.Assess(outcome.Label, outcome.Confidence)
	return resultFrom(assessment), assessment.Label, nil
}

// PredictPayload decodes a JSON object and scores it. Empty, unparseable and
// non-object payloads are KindMalformedInput.
func (e *Engine) PredictPayload(ctx context.Context, payload []byte) (Result, error) {
	raw, err := DecodePayload(payload)
	if err != nil {
		if e == nil {
			return ErrorResult(err), err
		}
		e.telemetry.RecordPrediction(ctxOrBackground(ctx), string(KindMalformedInput), "", 0, 1.0)
		return ErrorResult(err), err
	}
	return e.Predict(ctx, raw)
}

// DecodePayload parses a feature mapping. Numbers are decoded as json.Number.
func DecodePayload(payload []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, malformed(errors.New("empty input"))
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, malformed(fmt.Errorf("invalid JSON: %w", err))
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, malformed(errors.New("invalid JSON: unexpected data after top-level value"))
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, malformed(fmt.Errorf("input must be a JSON object, got %s", jsonKind(v)))
	}
	return obj, nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func ctxOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
