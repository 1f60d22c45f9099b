package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/nholik/gameserver-sentinel/internal/config"
	"github.com/nholik/gameserver-sentinel/internal/logging"
	"github.com/nholik/gameserver-sentinel/internal/stack"
	"github.com/spf13/pflag"
)

const usage = `gameserver-sentinel manages an on-demand game server.

Usage:
  gameserver-sentinel [flags] <command>

Commands:
  serve    run the HTTP API and the periodic idle watchdog
  on       set the desired state to Running
  off      set the desired state to Stopped
  status   print the current status snapshot as JSON
  tick     run one idle watchdog tick and print the outcome

Flags:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	var configFile, logLevel string

	flagSet := pflag.NewFlagSet("gameserver-sentinel", pflag.ContinueOnError)
	flagSet.SetOutput(stdout)
	flagSet.StringVarP(&configFile, "config", "c", "", "path to a YAML config file (overrides GS_CONFIG_FILE)")
	flagSet.StringVar(&logLevel, "log-level", "", "log level (overrides GS_LOG_LEVEL)")
	flagSet.Usage = func() {
		fmt.Fprint(stdout, usage)
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	rest := flagSet.Args()
	if len(rest) != 1 {
		flagSet.Usage()
		return errors.New("expected exactly one command")
	}
	command := rest[0]
	if !knownCommand(command) {
		return fmt.Errorf("unknown command %q", command)
	}

	if configFile != "" {
		if err := os.Setenv("GS_CONFIG_FILE", configFile); err != nil {
			return err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	logger := logging.NewWithLevel(cfg.LogLevel)

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.flush()

	switch command {
	case "serve":
		return app.serve(ctx)
	case "on":
		return app.setState(ctx, stack.Running)
	case "off":
		return app.setState(ctx, stack.Stopped)
	case "status":
		snapshot, err := app.status.Status(ctx)
		if err != nil {
			return err
		}
		return printJSON(stdout, snapshot)
	default:
		outcome, err := app.watchdog.Tick(ctx)
		if err != nil {
			return err
		}
		return printJSON(stdout, map[string]string{"outcome": string(outcome)})
	}
}

func knownCommand(command string) bool {
	switch command {
	case "serve", "on", "off", "status", "tick":
		return true
	}
	return false
}

func printJSON(w io.Writer, payload any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}
