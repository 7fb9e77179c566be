package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mcdev12/devmate/go/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const usage = `Device Management CLI: a tool for managing, reserving and monitoring devices.

Usage:
  devmate configure --protocol <http|https> --address <host> --port <port>
  devmate list
  devmate reserve <device> [--user <name>]
  devmate release <device>
  devmate add <device> --model <model>
  devmate offline <device>
  devmate online <device>
  devmate delete <device>
  devmate watch [--gateway-addr <addr>]
`

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	// One-shot commands print their own outcome; watch raises the level from config.
	zerolog.SetGlobalLevel(zerolog.ErrorLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout))
}

// run executes one CLI invocation and returns the process exit code.
func run(ctx context.Context, args []string, out io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return 1
	}

	path := os.Getenv("DEVMATE_CONFIG")
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			fmt.Fprintf(out, "%v\n", err)
			return 1
		}
	}

	a := &app{configPath: path, out: out}
	return a.dispatch(ctx, args[0], args[1:])
}
