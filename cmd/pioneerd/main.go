package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"

	"github.com/roman-kulish/pioneer-control/cmd/pioneerd/app"
)

func main() {
	var logLevel slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &logLevel}))

	cliApp := cli.NewApp()
	cliApp.Name = "pioneerd"
	cliApp.Usage = "HTTP control service for a MAVLink quadcopter"
	cliApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "path to the configuration file",
		},
		cli.StringFlag{
			Name:  "http",
			Usage: "http server listening address, overrides the configuration file",
		},
		cli.StringFlag{
			Name:  "link",
			Usage: "flight controller UDP address, overrides the configuration file",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "log level (debug, info, warn, error), overrides the configuration file",
		},
	}
	cliApp.Action = func(c *cli.Context) error {
		configPath := c.GlobalString("config")

		config, err := app.LoadConfig(configPath)
		if err != nil {
			logger.Error(fmt.Sprintf("failed to load configuration file: %s", err.Error()), slog.String("path", configPath))
			return cli.NewExitError("", 1)
		}

		if v := c.GlobalString("http"); v != "" {
			config.HTTP.Address = v
		}
		if v := c.GlobalString("link"); v != "" {
			config.Link.Address = v
		}
		if v := c.GlobalString("log-level"); v != "" {
			config.Settings.LogLevel = v
		}

		if err = config.Validate(); err != nil {
			logger.Error(fmt.Sprintf("invalid configuration: %s", err.Error()))
			return cli.NewExitError("", 1)
		}

		logLevel.Set(config.LogLevel())

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		if err = app.Run(ctx, config, logger); err != nil {
			logger.Error(err.Error())
			return cli.NewExitError("", 1)
		}
		return nil
	}

	if err := cliApp.Run(os.Args); err != nil {
		os.Exit(1)
	}
}
