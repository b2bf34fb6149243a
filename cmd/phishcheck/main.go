package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/phishcheck/phishcheck/internal/classifier"
	"github.com/phishcheck/phishcheck/internal/config"
	"github.com/phishcheck/phishcheck/internal/logging"
	"github.com/phishcheck/phishcheck/internal/predict"
	"github.com/phishcheck/phishcheck/internal/scoring"
)

var (
	name    = "phishcheck"
	version = "v0.0.1-default"
)

// Process exit codes.
const (
	exitOK            = 0
	exitRequestFailed = 1
	exitStartupFailed = 2
)

func main() {
	a := newApp(os.Stdin, os.Stdout, os.Stderr)
	err := a.command().Run(context.Background(), os.Args)
	os.Exit(exitCode(err, os.Stderr))
}

// exitError carries a process exit code through urfave/cli.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func (e *exitError) ExitCode() int { return e.code }

func withExit(code int, err error) error {
	return &exitError{code: code, err: err}
}

func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return exitOK
	}
	code := exitRequestFailed
	var ee *exitError
	if errors.As(err, &ee) {
		code = ee.code
		if ee.err == nil {
			return code
		}
	}
	fmt.Fprintf(stderr, "%s: %v\n", name, err)
	return code
}

// app holds the process wiring shared by all subcommands.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	cfg    *config.Config
	cfgErr error
	logger *slog.Logger

	// openEngine builds the prediction engine from the resolved models dir.
	openEngine func(modelsDir string, modelOpts classifier.Options, policy *scoring.Policy, opts predict.Options) (*predict.Engine, error)
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{stdin: stdin, stdout: stdout, stderr: stderr, openEngine: predict.Load}
}

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to the YAML config file",
		Value:   "phishcheck.yaml",
		Sources: cli.EnvVars("PHISHCHECK_CONFIG"),
	}
	envFileFlag = &cli.StringSliceFlag{
		Name:  "env-file",
		Usage: "Dotenv files to load before reading config",
		Value: []string{".env"},
	}
	modelsDirFlag = &cli.StringFlag{
		Name:  "models-dir",
		Usage: "Models root or bundle directory (overrides config)",
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "Log level [debug, info, warn, error] (overrides config)",
	}
	logFormatFlag = &cli.StringFlag{
		Name:  "log-format",
		Usage: "Log format [text, json] (overrides config)",
	}
)

func (a *app) command() *cli.Command {
	return &cli.Command{
		Name:      name,
		Version:   version,
		Usage:     "Score URL feature vectors with a pre-trained phishing classifier",
		Reader:    a.stdin,
		Writer:    a.stdout,
		ErrWriter: a.stderr,
		Flags: []cli.Flag{
			configFlag,
			envFileFlag,
			modelsDirFlag,
			logLevelFlag,
			logFormatFlag,
		},
		Before: a.before,
		// exit codes are mapped in main so tests can observe them
		ExitErrHandler: func(context.Context, *cli.Command, error) {},
		Commands: []*cli.Command{
			a.predictCommand(),
			a.serveCommand(),
			a.verifyCommand(),
			a.bundleCommand(),
		},
	}
}

// before loads env files and config. Config errors are kept for the
// subcommand so predict can still emit the uniform error payload.
func (a *app) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if err := config.LoadEnvFiles(cmd.StringSlice(envFileFlag.Name)...); err != nil {
		a.cfgErr = err
	}

	cfg, err := config.Load(cmd.String(configFlag.Name))
	if err != nil && a.cfgErr == nil {
		a.cfgErr = err
	}
	if cfg == nil {
		cfg, _ = config.Load("")
	}
	if v := strings.TrimSpace(cmd.String(modelsDirFlag.Name)); v != "" {
		cfg.Models.Dir = v
	}
	if v := strings.TrimSpace(cmd.String(logLevelFlag.Name)); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(cmd.String(logFormatFlag.Name)); v != "" {
		cfg.Logging.Format = v
	}
	a.cfg = cfg
	a.logger = logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}, a.stderr)
	return ctx, nil
}

// config returns the validated config or the load error.
func (a *app) config() (*config.Config, error) {
	if a.cfgErr != nil {
		return nil, a.cfgErr
	}
	if err := config.Validate(a.cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return a.cfg, nil
}
