package app

import (
	"fmt"
	"io"
	"os"
)

var (
	version   = "0.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func Main(args []string) int {
	if len(args) < 2 {
		printHelp(os.Stderr)
		return 2
	}

	switch args[1] {
	case "run":
		return run(args[2:])
	case "config":
		return configCmd(args[2:])
	case "version":
		return versionCmd(args[2:])
	case "help", "-h", "--help":
		printHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[1])
		printHelp(os.Stderr)
		return 2
	}
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, "brokeradmin")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  brokeradmin run --config ./Brokerfile [--pid-file ./brokeradmin.pid] [--watch] [--log-level info] [--dotenv ./.env]")
	fmt.Fprintln(w, "  brokeradmin config fmt --config ./Brokerfile [--write | --check]")
	fmt.Fprintln(w, "  brokeradmin config validate --config ./Brokerfile --format json|text [--strict-secrets]")
	fmt.Fprintln(w, "  brokeradmin version [--long] [--json]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Flags fall back to BROKERADMIN_<FLAG> environment variables (e.g. BROKERADMIN_CONFIG).")
}
