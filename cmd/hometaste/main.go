// README: Entry point; selects the serve, migrate or notifier command.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"hometaste/internal/config"
	"hometaste/internal/infra"
)

func main() {
	app := &cli.App{
		Name:  "hometaste",
		Usage: "home kitchen meal ordering and delivery backend",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP API, event dispatcher and delivery dispatch scheduler",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "migrate", Usage: "apply pending migrations before serving"},
				},
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "apply pending database migrations and exit",
				Action: migrateUp,
			},
			{
				Name:  "notifier",
				Usage: "consume notification jobs and push them to devices",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "prefetch", Value: 16, Usage: "unacked deliveries per consumer"},
					&cli.BoolFlag{Name: "dry-run", Usage: "log notifications instead of sending them"},
				},
				Action: notifier,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads config, builds the logger and a context cancelled on SIGINT/SIGTERM.
func setup(c *cli.Context) (config.Config, *logrus.Logger, context.Context, context.CancelFunc, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	log := infra.NewLogger(cfg.Log.Level, cfg.Log.Path)
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	return cfg, log, ctx, stop, nil
}

func migrateUp(c *cli.Context) error {
	cfg, log, _, stop, err := setup(c)
	if err != nil {
		return err
	}
	defer stop()
	if err := infra.Migrate(cfg.DB.DSN); err != nil {
		return err
	}
	log.Info("migrations applied")
	return nil
}
