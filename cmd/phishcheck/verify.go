package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/phishcheck/phishcheck/internal/classifier"
)

type verifyReport struct {
	Status        string   `json:"status"`
	BundleDir     string   `json:"bundle_dir"`
	Version       string   `json:"version,omitempty"`
	Features      []string `json:"features"`
	Decoder       string   `json:"decoder"`
	ManifestFiles int      `json:"manifest_files"`
}

func (a *app) verifyCommand() *cli.Command {
	return &cli.Command{
		Name:   "verify",
		Usage:  "Load the active model bundle end to end and report what was loaded",
		Action: a.runVerify,
	}
}

func (a *app) runVerify(ctx context.Context, cmd *cli.Command) error {
	cfg, err := a.config()
	if err != nil {
		a.logger.Error("STARTUP FAILURE: invalid configuration", "error", err.Error())
		return withExit(exitStartupFailed, err)
	}

	loaded, err := classifier.Load(cfg.Models.Dir, cfg.ClassifierOptions())
	if err != nil {
		a.logger.Error("STARTUP FAILURE: bundle verification failed", "models_dir", cfg.Models.Dir, "error", err.Error())
		return withExit(exitStartupFailed, err)
	}
	defer loaded.Close()

	report := verifyReport{
		Status:    "ok",
		BundleDir: loaded.Bundle.Dir,
		Version:   loaded.Bundle.Version,
		Features:  loaded.Bundle.Schema.Names(),
		Decoder:   string(loaded.Bundle.Decoder.Kind()),
	}
	if loaded.Bundle.Manifest != nil {
		report.ManifestFiles = len(loaded.Bundle.Manifest.Files)
	}
	a.writeJSON(report)
	return nil
}
