package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/infodancer/relayd/internal/config"
	"github.com/infodancer/relayd/internal/identity"
	"github.com/infodancer/relayd/internal/logging"
	"github.com/infodancer/relayd/internal/registry"
)

var errUsersUsage = errors.New("usage: relayd users list|approve <id>|remove <id> [flags] (offline only: stop relayd serve first)")

func runUsers() {
	action := shiftArg()
	flags := config.ParseFlags()

	cfg, err := config.LoadWithFlags(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel)
	if err := users(context.Background(), cfg.Registry, action, flag.Args(), os.Stdout, logger); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// users manages the registry while the server is stopped. A running server
// holds the registry in memory and its next write replaces whatever users
// changed, so approve and remove are offline operations. Approvals made here
// send no welcome message.
func users(ctx context.Context, cfg config.RegistryConfig, action string, args []string, out io.Writer, logger *slog.Logger) (err error) {
	var id identity.Identity
	switch action {
	case "list":
	case "approve", "remove":
		if len(args) != 1 {
			return errUsersUsage
		}
		if id, err = identity.Parse(args[0]); err != nil {
			return fmt.Errorf("%w: %v", errUsersUsage, err)
		}
	default:
		return errUsersUsage
	}

	store, err := registry.OpenStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	defer func() { err = errors.Join(err, store.Close()) }()

	reg := registry.New(registry.Config{Store: store, Logger: logger})
	if err := reg.Load(ctx); err != nil {
		// Refuse to overwrite stored state we could not read.
		if action != "list" {
			return fmt.Errorf("load registry: %w", err)
		}
		logger.Warn("registry load failed", slog.String("error", err.Error()))
	}

	switch action {
	case "approve":
		added, err := reg.Approve(ctx, id)
		if err != nil {
			return err
		}
		if added {
			fmt.Fprintf(out, "approved %s\n", id)
		} else {
			fmt.Fprintf(out, "%s already approved\n", id)
		}
	case "remove":
		removed, err := reg.Remove(ctx, id)
		if err != nil {
			return err
		}
		if removed {
			fmt.Fprintf(out, "removed %s\n", id)
		} else {
			fmt.Fprintf(out, "%s was not approved\n", id)
		}
	default:
		for _, m := range reg.Members() {
			fmt.Fprintln(out, m)
		}
	}
	return nil
}
