package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phishcheck/phishcheck/internal/classifier"
	"github.com/phishcheck/phishcheck/internal/features"
	"github.com/phishcheck/phishcheck/internal/scoring"
)

type stubModel struct {
	label int64
	probs []float64
	err   error
	seen  []features.Vector
}

func (m *stubModel) Predict(ctx context.Context, vec features.Vector) (int64, error) {
	m.seen = append(m.seen, append(features.Vector(nil), vec...))
	return m.label, m.err
}

func (m *stubModel) PredictProbabilities(ctx context.Context, vec features.Vector) ([]float64, error) {
	return m.probs, m.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine(m *stubModel, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	return New(features.Default(), classifier.New(m, classifier.FallbackDecoder()), scoring.Default(), opts)
}

func sampleFeatures() map[string]any {
	return map[string]any{
		"url_length":             45,
		"number_of_dots":         2,
		"number_of_hyphens":      0,
		"number_of_underscores":  1,
		"number_of_slashes":      3,
		"number_of_digits":       4,
		"number_of_parameters":   0,
		"has_ip_address":         false,
		"has_https":              true,
		"has_shortening_service": false,
		"has_suspicious_words":   false,
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func TestPredictReferenceExamples(t *testing.T) {
	cases := []struct {
		name  string
		label int64
		probs []float64
		want  string
	}{
		{
			name:  "safe",
			label: 0,
			probs: []float64{0.92, 0.05, 0.03},
			want:  `{"status":"safe","risk_score":0.080,"message":"URL appears to be safe based on analyzed features","confidence":0.920}`,
		},
		{
			name:  "suspicious",
			label: 1,
			probs: []float64{0.1, 0.8, 0.1},
			want:  `{"status":"suspicious","risk_score":0.740,"message":"URL shows suspicious characteristics - proceed with caution","confidence":0.800}`,
		},
		{
			name:  "malicious",
			label: 2,
			probs: []float64{0.02, 0.03, 0.95},
			want:  `{"status":"malicious","risk_score":0.985,"message":"URL appears to be malicious - high risk detected","confidence":0.950}`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEngine(&stubModel{label: tc.label, probs: tc.probs}, Options{})
			res, err := e.Predict(context.Background(), sampleFeatures())
			require.NoError(t, err)
			assert.True(t, res.OK())
			assert.Equal(t, tc.want, mustJSON(t, res))
		})
	}
}

func TestPredictUnknownLabelUsesExplicitTier(t *testing.T) {
	e := newEngine(&stubModel{label: 9, probs: []float64{0.1, 0.1, 0.8}}, Options{})
	res, err := e.Predict(context.Background(), sampleFeatures())
	require.NoError(t, err)
	assert.Equal(t, "unknown", res.Status)
	assert.InDelta(t, 0.94, res.RiskScore, 1e-9)
	assert.Equal(t, "URL could not be classified - treat as high risk", res.Message)
}

func TestPredictBooleanAndIntegerFlagsAgree(t *testing.T) {
	m := &stubModel{label: 0, probs: []float64{0.7, 0.2, 0.1}}
	e := newEngine(m, Options{})

	withBools := sampleFeatures()
	withInts := sampleFeatures()
	withInts["has_https"] = 1
	withInts["has_ip_address"] = 0

	a, err := e.Predict(context.Background(), withBools)
	require.NoError(t, err)
	b, err := e.Predict(context.Background(), withInts)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	require.Len(t, m.seen, 2)
	assert.Equal(t, m.seen[0], m.seen[1])
}

func TestPredictIsDeterministic(t *testing.T) {
	e := newEngine(&stubModel{label: 2, probs: []float64{0.1, 0.2, 0.7}}, Options{})
	first, err := e.Predict(context.Background(), sampleFeatures())
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := e.Predict(context.Background(), sampleFeatures())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestPredictMissingEachFeature(t *testing.T) {
	e := newEngine(&stubModel{label: 0, probs: []float64{1, 0, 0}}, Options{})
	for _, name := range features.DefaultNames {
		t.Run(name, func(t *testing.T) {
			raw := sampleFeatures()
			delete(raw, name)

			res, err := e.Predict(context.Background(), raw)
			require.Error(t, err)
			assert.Equal(t, KindMissingFeature, KindOf(err))

			var perr *Error
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, name, perr.Feature)

			assert.Equal(t, "error", res.Status)
			assert.Equal(t, 1.0, res.RiskScore)
			assert.Equal(t, 0.0, res.Confidence)
			assert.Equal(t, "Prediction error: missing required feature: "+name, res.Message)
		})
	}
}

func TestPredictNonNumericValueIsInferenceFailure(t *testing.T) {
	e := newEngine(&stubModel{label: 0, probs: []float64{1, 0, 0}}, Options{})
	raw := sampleFeatures()
	raw["number_of_dots"] = "two"

	res, err := e.Predict(context.Background(), raw)
	assert.Equal(t, KindInference, KindOf(err))
	assert.Equal(t, "error", res.Status)
}

func TestPredictStrictValidation(t *testing.T) {
	e := newEngine(&stubModel{label: 0, probs: []float64{1, 0, 0}}, Options{
		Validation: features.Options{Strict: true},
	})
	raw := sampleFeatures()
	raw["number_of_dots"] = -1

	_, err := e.Predict(context.Background(), raw)
	assert.Equal(t, KindInvalidFeature, KindOf(err))

	_, err = e.Predict(context.Background(), sampleFeatures())
	assert.NoError(t, err)
}

func TestPredictModelFailure(t *testing.T) {
	e := newEngine(&stubModel{err: errors.New("shape mismatch")}, Options{})
	res, err := e.Predict(context.Background(), sampleFeatures())
	require.Error(t, err)
	assert.Equal(t, KindInference, KindOf(err))
	assert.ErrorIs(t, err, classifier.ErrInference)
	assert.Contains(t, res.Message, "Prediction error: ")
	assert.Contains(t, res.Message, "shape mismatch")
	assert.Equal(t, `{"status":"error","risk_score":1.000,"message":"`+res.Message+`","confidence":0.000}`, mustJSON(t, res))
}

func TestPredictNilInput(t *testing.T) {
	e := newEngine(&stubModel{label: 0, probs: []float64{1}}, Options{})
	_, err := e.Predict(context.Background(), nil)
	assert.Equal(t, KindMalformedInput, KindOf(err))
}

func TestPredictScoresStayInBounds(t *testing.T) {
	for label := int64(0); label < 4; label++ {
		for _, c := range []float64{0, 0.0004, 0.3333, 0.5, 0.9995, 1} {
			rest := (1 - c) / 2
			e := newEngine(&stubModel{label: label, probs: []float64{c, rest, rest}}, Options{})
			res, err := e.Predict(context.Background(), sampleFeatures())
			require.NoError(t, err)
			assert.GreaterOrEqual(t, res.RiskScore, 0.0)
			assert.LessOrEqual(t, res.RiskScore, 1.0)
			assert.GreaterOrEqual(t, res.Confidence, 0.0)
			assert.LessOrEqual(t, res.Confidence, 1.0)
			assert.Equal(t, scoring.Round3(res.RiskScore), res.RiskScore)
			assert.Equal(t, scoring.Round3(res.Confidence), res.Confidence)
		}
	}
}

func TestPredictPayload(t *testing.T) {
	e := newEngine(&stubModel{label: 2, probs: []float64{0.02, 0.03, 0.95}}, Options{})

	payload := mustJSON(t, sampleFeatures())
	res, err := e.PredictPayload(context.Background(), []byte(payload))
	require.NoError(t, err)
	assert.Equal(t, "malicious", res.Status)
	assert.Equal(t, 0.985, res.RiskScore)
}

func TestPredictPayloadMalformed(t *testing.T) {
	e := newEngine(&stubModel{label: 0, probs: []float64{1}}, Options{})
	cases := map[string]string{
		"empty":          "",
		"whitespace":     "  \n\t ",
		"garbage":        "not json",
		"truncated":      `{"url_length": 4`,
		"array":          `[1,2,3]`,
		"string":         `"hello"`,
		"null":           `null`,
		"trailing value": `{} {}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			res, err := e.PredictPayload(context.Background(), []byte(payload))
			require.Error(t, err)
			assert.Equal(t, KindMalformedInput, KindOf(err))
			assert.Equal(t, ErrorResult(err), res)
			assert.Equal(t, 1.0, res.RiskScore)
			assert.Equal(t, 0.0, res.Confidence)
		})
	}
}

func TestDecodePayloadKeepsNumbers(t *testing.T) {
	raw, err := DecodePayload([]byte(`{"url_length": 45, "has_https": true}`))
	require.NoError(t, err)
	assert.Equal(t, json.Number("45"), raw["url_length"])
	assert.Equal(t, true, raw["has_https"])
}

func TestErrorResultShape(t *testing.T) {
	res := ErrorResult(errors.New("boom"))
	assert.Equal(t, `{"status":"error","risk_score":1.000,"message":"Prediction error: boom","confidence":0.000}`, mustJSON(t, res))
	assert.False(t, res.OK())

	assert.Equal(t, "Prediction error: unknown error", ErrorResult(nil).Message)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindInference, KindOf(errors.New("other")))
	wrapped := &Error{Kind: KindStartup, Err: errors.New("no model")}
	assert.Equal(t, KindStartup, KindOf(wrapped))
	assert.Equal(t, "no model", wrapped.Error())
	assert.Equal(t, "startup_failure", (&Error{Kind: KindStartup}).Error())
}

func TestLoadMissingModelIsStartupFailure(t *testing.T) {
	_, err := Load(t.TempDir(), classifier.Options{}, nil, Options{Logger: quietLogger()})
	require.Error(t, err)
	assert.Equal(t, KindStartup, KindOf(err))
	assert.Contains(t, ErrorResult(err).Message, "model file missing")
}

func TestLoadBadStateIsStartupFailure(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "state.json"), []byte(`{"current_version":"v1"}`), 0o644))

	_, err := Load(root, classifier.Options{}, nil, Options{Logger: quietLogger()})
	assert.Equal(t, KindStartup, KindOf(err))
}

func TestDebugLogOmitsFeatureValues(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	e := newEngine(&stubModel{label: 0, probs: []float64{0.9, 0.05, 0.05}}, Options{Logger: logger})

	_, err := e.Predict(context.Background(), sampleFeatures())
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"msg":"prediction"`)
	assert.NotContains(t, buf.String(), "number_of_dots")
}

func TestEngineAccessors(t *testing.T) {
	e := New(nil, nil, nil, Options{Version: "v3", DecoderKind: classifier.DecoderFallback, Logger: quietLogger()})
	assert.Equal(t, 11, e.Schema().Len())
	assert.Equal(t, "v3", e.Version())
	assert.Equal(t, classifier.DecoderFallback, e.DecoderKind())
	assert.NoError(t, e.Close())

	_, err := e.Predict(context.Background(), sampleFeatures())
	assert.Equal(t, KindInference, KindOf(err))
}
