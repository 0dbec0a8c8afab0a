package app

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/namsral/flag"
)

type buildMetadata struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// currentBuild reports the linker-stamped metadata. Builds without ldflags
// fall back to the VCS stamp embedded by the go tool.
func currentBuild() buildMetadata {
	m := buildMetadata{
		Version:   strings.TrimSpace(version),
		Commit:    strings.TrimSpace(commit),
		BuildDate: strings.TrimSpace(buildDate),
		GoVersion: runtime.Version(),
	}
	if m.Commit != "unknown" && m.BuildDate != "unknown" {
		return m
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return m
	}
	for _, s := range info.Settings {
		switch {
		case s.Key == "vcs.revision" && m.Commit == "unknown" && s.Value != "":
			m.Commit = s.Value
		case s.Key == "vcs.time" && m.BuildDate == "unknown" && s.Value != "":
			m.BuildDate = s.Value
		}
	}
	return m
}

func versionCmd(args []string) int {
	return runVersionCmd(args, os.Stdout, os.Stderr)
}

func runVersionCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	long := fs.Bool("long", false, "print commit, build date and Go version")
	asJSON := fs.Bool("json", false, "print build metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(stderr, "version: %v\n", err)
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(stderr, "version: unexpected positional arguments")
		return 2
	}

	m := currentBuild()
	switch {
	case *asJSON:
		if err := json.NewEncoder(stdout).Encode(m); err != nil {
			fmt.Fprintf(stderr, "version: %v\n", err)
			return 1
		}
	case *long:
		fmt.Fprintf(stdout, "brokeradmin %s (commit=%s, build_date=%s, %s)\n", m.Version, m.Commit, m.BuildDate, m.GoVersion)
	default:
		fmt.Fprintln(stdout, m.Version)
	}
	return 0
}
