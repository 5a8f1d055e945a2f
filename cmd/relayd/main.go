package main

import (
	"fmt"
	"os"
	"strings"
)

const usageText = "usage: relayd [serve] [flags]\n" +
	"       relayd users list|approve <id>|remove <id> [flags]\n" +
	"\n" +
	"users is for offline use only: stop relayd serve first. A running server\n" +
	"keeps its own copy of the registry and overwrites changes made meanwhile.\n"

func main() {
	// Dispatch to a subcommand before flag.Parse() so the chosen function
	// owns flag parsing. Strip the subcommand from os.Args so flag.Parse
	// sees only flags.
	subcommand := shiftArg()

	switch subcommand {
	case "", "serve":
		runServe()
	case "users":
		runUsers()
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n%s", subcommand, usageText)
		os.Exit(1)
	}
}

// shiftArg removes and returns os.Args[1] when it is not a flag.
func shiftArg() string {
	if len(os.Args) > 1 && !strings.HasPrefix(os.Args[1], "-") {
		arg := os.Args[1]
		os.Args = append(os.Args[:1], os.Args[2:]...)
		return arg
	}
	return ""
}
