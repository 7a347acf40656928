package main

import (
	"fmt"
	"os"
	"strings"
)

func main() {
	// Dispatch to a subcommand before flag.Parse() so the chosen function
	// owns flag parsing.
	var subcommand string
	if len(os.Args) > 1 && !strings.HasPrefix(os.Args[1], "-") {
		subcommand = os.Args[1]
		os.Args = append(os.Args[:1], os.Args[2:]...)
	}

	switch subcommand {
	case "", "serve":
		runServe()
	case "check-config":
		runCheckConfig()
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\nusage: groupmaild [serve|check-config] [flags]\n", subcommand)
		os.Exit(1)
	}
}
