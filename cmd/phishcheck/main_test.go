package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phishcheck/phishcheck/internal/classifier"
	"github.com/phishcheck/phishcheck/internal/features"
	"github.com/phishcheck/phishcheck/internal/predict"
	"github.com/phishcheck/phishcheck/internal/scoring"
)

type fixedModel struct {
	label int64
	probs []float64
}

func (m fixedModel) Predict(context.Context, features.Vector) (int64, error) {
	return m.label, nil
}

func (m fixedModel) PredictProbabilities(context.Context, features.Vector) ([]float64, error) {
	return m.probs, nil
}

// stubEngine returns an opener that ignores the models dir and builds an
// engine over a fixed model.
func stubEngine(m fixedModel, gotDir *string) engineOpener {
	return func(dir string, _ classifier.Options, policy *scoring.Policy, opts predict.Options) (*predict.Engine, error) {
		if gotDir != nil {
			*gotDir = dir
		}
		return predict.New(features.Default(), classifier.New(m, classifier.FallbackDecoder()), policy, opts), nil
	}
}

const maliciousInput = `{
	"url_length": 72, "number_of_dots": 4, "number_of_hyphens": 2,
	"number_of_underscores": 0, "number_of_slashes": 5, "number_of_digits": 9,
	"number_of_parameters": 2, "has_ip_address": true, "has_https": false,
	"has_shortening_service": false, "has_suspicious_words": true
}`

type runResult struct {
	code   int
	stdout string
	stderr string
}

type engineOpener func(string, classifier.Options, *scoring.Policy, predict.Options) (*predict.Engine, error)

func run(t *testing.T, stdin string, args ...string) runResult {
	t.Helper()
	return runWith(t, nil, stdin, args...)
}

func runWith(t *testing.T, open engineOpener, stdin string, args ...string) runResult {
	t.Helper()
	t.Setenv("PHISHCHECK_API_KEYS", "")
	t.Setenv("PHISHCHECK_MODELS_DIR", "")

	var stdout, stderr bytes.Buffer
	a := newApp(strings.NewReader(stdin), &stdout, &stderr)
	if open != nil {
		a.openEngine = open
	}
	full := append([]string{name, "--config", filepath.Join(t.TempDir(), "none.yaml"), "--env-file", filepath.Join(t.TempDir(), "none.env")}, args...)
	err := a.command().Run(context.Background(), full)
	return runResult{
		code:   exitCode(err, &stderr),
		stdout: stdout.String(),
		stderr: stderr.String(),
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestPredictWithoutModelIsStartupFailure(t *testing.T) {
	res := run(t, `{"url_length": 10}`, "--models-dir", t.TempDir(), "predict")
	require.Equal(t, exitStartupFailed, res.code)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	assert.Equal(t, "error", out["status"])
	assert.Equal(t, 1.0, out["risk_score"])
	assert.Equal(t, 0.0, out["confidence"])
	assert.Contains(t, out["message"], "Prediction error: ")
	assert.Contains(t, res.stdout, `"risk_score":1.000`)
	assert.Contains(t, res.stderr, "STARTUP FAILURE")
}

func TestPredictInvalidConfigIsStartupFailure(t *testing.T) {
	res := run(t, `{}`, "--log-format", "xml", "predict")
	require.Equal(t, exitStartupFailed, res.code)
	assert.Contains(t, res.stdout, "logging.format")
}

func TestPredictSuccessExitsZero(t *testing.T) {
	var dir string
	open := stubEngine(fixedModel{label: 2, probs: []float64{0.02, 0.03, 0.95}}, &dir)

	res := runWith(t, open, maliciousInput, "--models-dir", "/srv/bundles", "predict")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Equal(t, "/srv/bundles", dir)
	assert.Equal(t,
		`{"status":"malicious","risk_score":0.985,"message":"URL appears to be malicious - high risk detected","confidence":0.950}`+"\n",
		res.stdout)
}

func TestPredictInputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.json")
	writeFile(t, path, maliciousInput)
	open := stubEngine(fixedModel{label: 0, probs: []float64{0.92, 0.05, 0.03}}, nil)

	res := runWith(t, open, "", "predict", "--input", path)
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, `"status":"safe","risk_score":0.080`)
}

func TestPredictRequestErrorsExitOne(t *testing.T) {
	open := stubEngine(fixedModel{label: 0, probs: []float64{1, 0, 0}}, nil)

	cases := []struct {
		name  string
		stdin string
		msg   string
	}{
		{"missing slot", strings.Replace(maliciousInput, `"number_of_dots": 4,`, "", 1), "Prediction error: missing required feature: number_of_dots"},
		{"empty stdin", "", "Prediction error: empty input"},
		{"whitespace stdin", " \n\t", "Prediction error: empty input"},
		{"invalid json", `{"url_length": `, "Prediction error: invalid JSON"},
		{"not an object", `[1, 2, 3]`, "Prediction error: input must be a JSON object"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := runWith(t, open, tc.stdin, "predict")
			require.Equal(t, exitRequestFailed, res.code)

			var out map[string]any
			require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
			assert.Equal(t, "error", out["status"])
			assert.Equal(t, 1.0, out["risk_score"])
			assert.Equal(t, 0.0, out["confidence"])
			assert.Contains(t, out["message"], tc.msg)
			assert.Contains(t, res.stdout, `"risk_score":1.000,`)
			assert.NotContains(t, res.stderr, "STARTUP FAILURE")
		})
	}
}

func TestPredictStrictFlag(t *testing.T) {
	open := stubEngine(fixedModel{label: 0, probs: []float64{1, 0, 0}}, nil)
	input := strings.Replace(maliciousInput, `"number_of_dots": 4`, `"number_of_dots": -4`, 1)

	res := runWith(t, open, input, "predict")
	assert.Equal(t, exitOK, res.code, res.stderr)

	res = runWith(t, open, input, "predict", "--strict")
	assert.Equal(t, exitRequestFailed, res.code)
	assert.Contains(t, res.stdout, "number_of_dots")
}

func TestBundleLifecycle(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "v1", "model.onnx"), "one")
	writeFile(t, filepath.Join(root, "v2", "model.onnx"), "two")

	res := run(t, "", "--models-dir", root, "bundle", "status")
	assert.Equal(t, exitRequestFailed, res.code)
	assert.Contains(t, res.stderr, "no state.json")

	res = run(t, "", "--models-dir", root, "bundle", "activate", "v1")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.JSONEq(t, `{"current_version":"v1"}`, res.stdout)

	res = run(t, "", "--models-dir", root, "bundle", "activate", "v2")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.JSONEq(t, `{"current_version":"v2","previous_version":"v1"}`, res.stdout)

	res = run(t, "", "--models-dir", root, "bundle", "status")
	require.Equal(t, exitOK, res.code)
	assert.JSONEq(t, `{"current_version":"v2","previous_version":"v1"}`, res.stdout)

	res = run(t, "", "--models-dir", root, "bundle", "rollback")
	require.Equal(t, exitOK, res.code)
	assert.JSONEq(t, `{"current_version":"v1","previous_version":"v2"}`, res.stdout)
}

func TestBundleActivateRejectsBadInput(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "v1", "model.onnx"), "one")
	writeFile(t, filepath.Join(root, "v1", "manifest.json"), `{"version":"v1","files":[{"path":"model.onnx","sha256":"deadbeef"}]}`)
	writeFile(t, filepath.Join(root, "v3", "model.onnx"), "three")
	writeFile(t, filepath.Join(root, "v3", "manifest.json"), `{"version":"v9"}`)

	cases := map[string][]string{
		"missing arg":      {"bundle", "activate"},
		"traversal":        {"bundle", "activate", "../v1"},
		"unknown version":  {"bundle", "activate", "v2"},
		"hash mismatch":    {"bundle", "activate", "v1"},
		"version mismatch": {"bundle", "activate", "v3"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			res := run(t, "", append([]string{"--models-dir", root}, args...)...)
			assert.Equal(t, exitRequestFailed, res.code)
			assert.NoFileExists(t, filepath.Join(root, "state.json"))
		})
	}
}

func TestVerifyWithoutModel(t *testing.T) {
	res := run(t, "", "--models-dir", t.TempDir(), "verify")
	assert.Equal(t, exitStartupFailed, res.code)
	assert.Contains(t, res.stderr, "bundle verification failed")
}

func TestServeWithoutModelRefusesToStart(t *testing.T) {
	res := run(t, "", "--models-dir", t.TempDir(), "serve", "--addr", "127.0.0.1:0")
	assert.Equal(t, exitStartupFailed, res.code)
	assert.Contains(t, res.stderr, "refusing to serve")
}

func TestExitCode(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, exitOK, exitCode(nil, &stderr))
	assert.Equal(t, exitStartupFailed, exitCode(withExit(exitStartupFailed, nil), &stderr))
	assert.Equal(t, exitRequestFailed, exitCode(assert.AnError, &stderr))
	assert.Contains(t, stderr.String(), "phishcheck:")
}
