package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/user"

	"github.com/jonboulle/clockwork"
	client "github.com/mcdev12/devmate/go/clients/devmate_client"
	"github.com/mcdev12/devmate/go/internal/config"
	"github.com/mcdev12/devmate/go/internal/reservation"
)

const (
	notConfiguredMessage = "Server protocol, address, and port are not configured. Please run 'devmate configure' first."
	inaccessibleMessage  = "Server is not accessible. Please check your connection and try again."
)

type app struct {
	configPath string
	out        io.Writer
	clock      clockwork.Clock

	cfg    config.Config
	client *client.DevmateClient
}

func (a *app) dispatch(ctx context.Context, command string, args []string) int {
	if command == "configure" {
		return a.configure(args)
	}

	if code, ok := a.connect(ctx); !ok {
		return code
	}

	switch command {
	case "list":
		return a.list(ctx)
	case "watch":
		return a.watch(ctx, args)
	case "reserve", "release", "add", "offline", "online", "delete":
		return a.command(ctx, command, args)
	case "help", "-h", "--help":
		fmt.Fprint(a.out, usage)
		return 0
	}
	fmt.Fprintf(a.out, "Unknown command %q.\n\n%s", command, usage)
	return 1
}

// connect loads the configuration and probes the authority once.
func (a *app) connect(ctx context.Context) (int, bool) {
	if _, err := os.Stat(a.configPath); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(a.out, notConfiguredMessage)
		return 1, false
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		fmt.Fprintf(a.out, "%v\n", err)
		return 1, false
	}
	a.cfg = cfg

	a.client = client.NewDevmateClient(cfg.BaseURL())
	a.client.SetTimeout(cfg.Sync.RequestTimeout)

	if res := a.client.Health(ctx); !res.OK() {
		fmt.Fprintln(a.out, inaccessibleMessage)
		return 1, false
	}
	return 0, true
}

func (a *app) configure(args []string) int {
	fs := flag.NewFlagSet("configure", flag.ContinueOnError)
	fs.SetOutput(a.out)
	protocol := fs.String("protocol", "", "authority protocol (http or https)")
	address := fs.String("address", "", "authority host")
	port := fs.String("port", "", "authority port")
	if _, err := parseInterspersed(fs, args); err != nil {
		return 1
	}
	if *protocol == "" || *address == "" || *port == "" {
		fmt.Fprintln(a.out, "configure requires --protocol, --address and --port")
		return 1
	}

	cfg := config.Default()
	if existing, err := config.Load(a.configPath); err == nil {
		cfg = existing
	}
	cfg.Server = config.ServerConfig{Protocol: *protocol, Address: *address, Port: *port}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(a.out, "%v\n", err)
		return 1
	}
	if err := cfg.Save(a.configPath); err != nil {
		fmt.Fprintf(a.out, "%v\n", err)
		return 1
	}
	fmt.Fprintf(a.out, "Configuration saved. Protocol: %s, Address: %s, Port: %s\n", *protocol, *address, *port)
	return 0
}

func (a *app) newSession() *reservation.Session {
	cfg := reservation.DefaultSessionConfig()
	cfg.PollInterval = a.cfg.Sync.PollInterval
	cfg.TickInterval = a.cfg.Sync.TickInterval
	cfg.Policy = reservation.Policy{AllowOfflineWhileReserved: a.cfg.Policy.AllowOfflineWhileReserved}
	if a.clock != nil {
		cfg.Clock = a.clock
	}
	return reservation.NewSession(a.client, cfg)
}

func (a *app) command(ctx context.Context, command string, args []string) int {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.SetOutput(a.out)
	var username, model *string
	switch command {
	case "reserve":
		username = fs.String("user", defaultUser(), "reserve on behalf of this user")
	case "add":
		model = fs.String("model", "", "device model")
	}
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return 1
	}
	if len(positional) != 1 {
		fmt.Fprintf(a.out, "usage: devmate %s <device>\n", command)
		return 1
	}
	device := positional[0]

	d := a.newSession().Dispatcher
	var msg string
	switch command {
	case "reserve":
		msg, err = d.Reserve(ctx, device, *username)
	case "release":
		msg, err = d.Release(ctx, device)
	case "add":
		msg, err = d.Add(ctx, device, *model)
	case "offline":
		msg, err = d.SetOffline(ctx, device)
	case "online":
		msg, err = d.SetOnline(ctx, device)
	case "delete":
		msg, err = d.Delete(ctx, device)
	}

	var cmdErr *reservation.CommandError
	if errors.As(err, &cmdErr) {
		fmt.Fprintln(a.out, cmdErr.Message)
		return 1
	}
	if err != nil {
		fmt.Fprintf(a.out, "%v\n", err)
		return 1
	}
	fmt.Fprintln(a.out, msg)
	return 0
}

// parseInterspersed parses flags that may appear before or after positional arguments.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func defaultUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}
