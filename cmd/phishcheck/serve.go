package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/phishcheck/phishcheck/internal/auth"
	"github.com/phishcheck/phishcheck/internal/server"
	"github.com/phishcheck/phishcheck/internal/telemetry"
)

func (a *app) serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve predictions over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "HTTP listen address (overrides config)",
			},
		},
		Action: a.runServe,
	}
}

func (a *app) runServe(ctx context.Context, cmd *cli.Command) error {
	if addr := strings.TrimSpace(cmd.String("addr")); addr != "" {
		a.cfg.Server.Addr = addr
	}
	cfg, err := a.config()
	if err != nil {
		a.logger.Error("STARTUP FAILURE: invalid configuration", "error", err.Error())
		return withExit(exitStartupFailed, err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:  cfg.Telemetry.Enabled,
		Endpoint: cfg.Telemetry.Endpoint,
		Protocol: cfg.Telemetry.Protocol,
		Service:  cfg.Telemetry.ServiceName,
		Version:  version,
	}, a.logger)
	if err != nil {
		a.logger.Error("STARTUP FAILURE: telemetry setup failed", "error", err.Error())
		return withExit(exitStartupFailed, err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("telemetry shutdown", "error", err.Error())
		}
	}()

	authz, err := auth.NewFromConfig(cfg)
	if err != nil {
		a.logger.Error("STARTUP FAILURE: invalid auth configuration", "error", err.Error())
		return withExit(exitStartupFailed, err)
	}

	engine, err := a.loadEngine(tel, false)
	if err != nil {
		a.logger.Error("STARTUP FAILURE: model could not be loaded, refusing to serve",
			"models_dir", cfg.Models.Dir,
			"error", err.Error(),
		)
		return withExit(exitStartupFailed, err)
	}
	defer engine.Close()

	srv := server.New(cfg.Server, engine, server.Options{
		Auth:      authz,
		Telemetry: tel,
		Logger:    a.logger,
		Version:   version,
	})
	if err := srv.Run(ctx); err != nil {
		return withExit(exitRequestFailed, err)
	}
	return nil
}
