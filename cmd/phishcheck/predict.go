package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/phishcheck/phishcheck/internal/predict"
	"github.com/phishcheck/phishcheck/internal/telemetry"
)

func (a *app) predictCommand() *cli.Command {
	return &cli.Command{
		Name:  "predict",
		Usage: "Read one JSON feature object from stdin and print the risk assessment",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "input",
				Aliases: []string{"i"},
				Usage:   "Read the feature object from this file instead of stdin",
			},
			&cli.BoolFlag{
				Name:  "strict",
				Usage: "Reject negative, fractional or out-of-range feature values",
			},
		},
		Action: a.runPredict,
	}
}

func (a *app) runPredict(ctx context.Context, cmd *cli.Command) error {
	engine, err := a.loadEngine(nil, cmd.Bool("strict"))
	if err != nil {
		a.logger.Error("STARTUP FAILURE: model could not be loaded, no prediction was made",
			"models_dir", a.cfg.Models.Dir,
			"error", err.Error(),
		)
		a.writeResult(predict.ErrorResult(err))
		return withExit(exitStartupFailed, err)
	}
	defer engine.Close()

	payload, err := a.readInput(cmd.String("input"))
	if err != nil {
		perr := &predict.Error{Kind: predict.KindMalformedInput, Err: err}
		a.writeResult(predict.ErrorResult(perr))
		return withExit(exitRequestFailed, perr)
	}

	res, err := engine.PredictPayload(ctx, payload)
	a.writeResult(res)
	if err != nil {
		a.logger.Warn("prediction failed", "kind", string(predict.KindOf(err)), "error", err.Error())
		return withExit(exitRequestFailed, err)
	}
	return nil
}

// loadEngine validates config and loads the active bundle. Every failure is
// a startup failure.
func (a *app) loadEngine(tel *telemetry.Provider, strict bool) (*predict.Engine, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, &predict.Error{Kind: predict.KindStartup, Err: err}
	}
	policy, err := cfg.Policy()
	if err != nil {
		return nil, &predict.Error{Kind: predict.KindStartup, Err: err}
	}
	validation := cfg.ValidationOptions()
	if strict {
		validation.Strict = true
	}
	return a.openEngine(cfg.Models.Dir, cfg.ClassifierOptions(), policy, predict.Options{
		Validation: validation,
		Telemetry:  tel,
		Logger:     a.logger,
	})
}

func (a *app) readInput(path string) ([]byte, error) {
	if p := strings.TrimSpace(path); p != "" && p != "-" {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
		return data, nil
	}
	data, err := io.ReadAll(a.stdin)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return data, nil
}

func (a *app) writeResult(res predict.Result) {
	a.writeJSON(res)
}

func (a *app) writeJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		a.logger.Error("encode output", "error", err.Error())
		return
	}
	fmt.Fprintln(a.stdout, string(data))
}

