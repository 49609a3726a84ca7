package main

import (
	"fmt"
	"io"
	"os"
	"runtime"
)

// Version information - set via ldflags during build
var (
	version   = "0.1.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServeCommand(args, stderr)
	case "check-config":
		err = runCheckConfigCommand(args, stdout)
	case "version", "--version", "-v":
		printVersion(stdout)
	case "help", "--help", "-h":
		printHelp(stdout)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", cmd)
		printHelp(stderr)
		return 2
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCodeForError(err)
	}
	return 0
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, "visitbridge - host visit sessions for remote renderers")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  visitbridge [command] [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  serve          Run the host (default)")
	fmt.Fprintln(w, "  check-config   Load, validate and print the effective configuration")
	fmt.Fprintln(w, "  version        Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Configuration is read from ~/.visitbridge/config.yaml and ./visitbridge.yaml,")
	fmt.Fprintln(w, "then VISITBRIDGE_* environment variables. Use --config to read a single file.")
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "visitbridge %s\n", version)
	if commit != "unknown" {
		fmt.Fprintf(w, "  Commit:     %s\n", commit)
	}
	if buildDate != "unknown" {
		fmt.Fprintf(w, "  Built:      %s\n", buildDate)
	}
	fmt.Fprintf(w, "  Go version: %s\n", runtime.Version())
}
