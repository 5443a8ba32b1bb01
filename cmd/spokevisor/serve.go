package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/loykin/spokevisor"
)

func runServe(flags ServeFlags, args []string) error {
	configPath := flags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}
	if configPath == "" {
		return fmt.Errorf("config file required for serve command. Use --config=spokevisor.toml or provide as argument")
	}

	cfg, err := spokevisor.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if flags.Listen != "" {
		cfg.Server.Listen = flags.Listen
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := spokevisor.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	fmt.Printf("Starting spokevisor on %s%s with %d service(s)\n", cfg.Server.Listen, cfg.Server.BasePath, len(cfg.Services))
	if err := app.Run(ctx); err != nil {
		return err
	}
	fmt.Println("Shut down")
	return nil
}
