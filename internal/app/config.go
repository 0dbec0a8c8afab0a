package app

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/namsral/flag"

	"github.com/nuetzliches/brokeradmin/internal/config"
)

func configCmd(args []string) int {
	return runConfigCmd(args, os.Stdout, os.Stderr)
}

func runConfigCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "missing subcommand: fmt | validate")
		return 2
	}

	switch args[0] {
	case "fmt":
		return configFormat(args[1:], stdout, stderr)
	case "validate":
		return configValidate(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown config subcommand: %s\n", args[0])
		return 2
	}
}

func configFormat(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSetWithEnvPrefix("config fmt", envPrefix, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "./Brokerfile", "path to config file")
	write := fs.Bool("write", false, "rewrite the config file in place instead of printing")
	check := fs.Bool("check", false, "exit 1 and print the path if the file is not formatted")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *write && *check {
		fmt.Fprintln(stderr, "config fmt: -write and -check are mutually exclusive")
		return 2
	}

	data, err := os.ReadFile(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}

	cfg, err := config.Parse(data)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}

	out, err := config.Format(cfg)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}

	unchanged := bytes.Equal(out, data)
	switch {
	case *check:
		if unchanged {
			return 0
		}
		fmt.Fprintln(stdout, *configPath)
		return 1
	case !*write:
		_, _ = stdout.Write(out)
		return 0
	case unchanged:
		return 0
	}
	info, err := os.Stat(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	if err := os.WriteFile(*configPath, out, info.Mode().Perm()); err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	return 0
}

func configValidate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSetWithEnvPrefix("config validate", envPrefix, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "./Brokerfile", "path to config file")
	format := fs.String("format", "json", "output format: json|text")
	strictSecrets := fs.Bool("strict-secrets", false, "load and verify all configured secret refs during validation")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	data, err := os.ReadFile(*configPath)
	if err != nil {
		return configValidateError(stderr, *format, err.Error())
	}

	cfg, err := config.Parse(data)
	if err != nil {
		return configValidateError(stderr, *format, err.Error())
	}

	res := config.ValidateWithResultOptions(cfg, config.ValidationOptions{
		SecretPreflight: *strictSecrets,
	})
	if *format == "text" {
		msg := config.FormatValidationText(res)
		if res.OK {
			fmt.Fprintln(stdout, msg)
			return 0
		}
		fmt.Fprintln(stderr, msg)
		return 1
	}

	out, err := config.FormatValidationJSON(res)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}

	if res.OK {
		fmt.Fprintln(stdout, out)
		return 0
	}
	fmt.Fprintln(stderr, out)
	return 1
}

// configValidateError emits a read or parse failure in the requested format.
func configValidateError(stderr io.Writer, format, msg string) int {
	res := config.ValidationResult{
		OK:     false,
		Errors: []string{msg},
	}
	if format == "text" {
		fmt.Fprintln(stderr, config.FormatValidationText(res))
		return 1
	}
	out, err := config.FormatValidationJSON(res)
	if err != nil {
		fmt.Fprintln(stderr, msg)
		return 1
	}
	fmt.Fprintln(stderr, out)
	return 1
}
