package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/phishcheck/phishcheck/internal/classifier"
)

func (a *app) bundleCommand() *cli.Command {
	return &cli.Command{
		Name:  "bundle",
		Usage: "Inspect and switch model bundle versions under the models root",
		Commands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "Print the active and previous bundle versions",
				Action: a.runBundleStatus,
			},
			{
				Name:      "activate",
				Usage:     "Verify a bundle version and make it current",
				ArgsUsage: "<version>",
				Action:    a.runBundleActivate,
			},
			{
				Name:   "rollback",
				Usage:  "Swap the current and previous bundle versions",
				Action: a.runBundleRollback,
			},
		},
	}
}

func (a *app) runBundleStatus(ctx context.Context, cmd *cli.Command) error {
	root := a.cfg.Models.Dir
	state, err := classifier.LoadBundleState(root)
	if err != nil {
		if errors.Is(err, classifier.ErrBundleStateNotFound) {
			return withExit(exitRequestFailed, fmt.Errorf("no state.json under %s; the directory is used as a single bundle", root))
		}
		return withExit(exitRequestFailed, err)
	}
	a.writeJSON(state)
	return nil
}

func (a *app) runBundleActivate(ctx context.Context, cmd *cli.Command) error {
	version := strings.TrimSpace(cmd.Args().First())
	if version == "" {
		return withExit(exitRequestFailed, errors.New("bundle activate requires a version argument"))
	}
	if filepath.Base(version) != version || version == "." || version == ".." {
		return withExit(exitRequestFailed, fmt.Errorf("invalid bundle version %q", version))
	}
	root := a.cfg.Models.Dir

	bundle, err := classifier.OpenBundle(filepath.Join(root, version), a.cfg.Models.ModelFile)
	if err != nil {
		return withExit(exitRequestFailed, fmt.Errorf("bundle %s failed verification: %w", version, err))
	}
	if bundle.Version != "" && bundle.Version != version {
		return withExit(exitRequestFailed, fmt.Errorf("bundle dir %s declares version %q", version, bundle.Version))
	}

	state, err := classifier.ActivateVersion(root, version, a.cfg.Models.ModelFile)
	if err != nil {
		return withExit(exitRequestFailed, err)
	}
	a.logger.Info("bundle activated", "current", state.CurrentVersion, "previous", state.PreviousVersion)
	a.writeJSON(state)
	return nil
}

func (a *app) runBundleRollback(ctx context.Context, cmd *cli.Command) error {
	state, err := classifier.RollbackVersion(a.cfg.Models.Dir)
	if err != nil {
		return withExit(exitRequestFailed, err)
	}
	a.logger.Info("bundle rolled back", "current", state.CurrentVersion, "previous", state.PreviousVersion)
	a.writeJSON(state)
	return nil
}
