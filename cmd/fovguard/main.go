package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/fovguard/internal/version"
)

func main() {
	flag.Usage = func() { printUsage(os.Stdout) }
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	if err := run(flag.Arg(0), flag.Args()[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// run dispatches one subcommand.
func run(command string, args []string, out io.Writer) error {
	switch command {
	case "check":
		return handleCheck(args, out)
	case "validate":
		return handleValidate(args, out)
	case "groups":
		return handleGroups(args, out)
	case "migrate":
		return handleMigrate(args, out)
	case "serve":
		return handleServe(args, out)
	case "version":
		fmt.Fprintln(out, version.String())
		return nil
	case "help":
		printUsage(out)
		return nil
	default:
		printUsage(out)
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, `fovguard - field-of-view clogging checks for robot cells

Usage: fovguard <command> [options]

Commands:
  check      Check whether the robot clogs the sensor in one configuration
  validate   Check every sample of a joint path, report the first clogged one
  groups     Manage stored feature groups (import, list, delete)
  migrate    Manage database schema migrations
  serve      Serve the check API and debug routes over HTTP
  version    Show version information
  help       Show this help message

Common Flags:
  -scene <file>    Scene description (.yaml, .yml or .json)
  -config <file>   Tuning configuration (.json)
  -db <file>       SQLite database for stored groups and check history

Exit status is 2 when a check or validation finds the view clogged.

Examples:
  fovguard check -scene cell.yaml -set shoulder=-0.55,0,0
  fovguard validate -scene cell.yaml -path sweep.yaml -step 0.02 -workers 4 -plot sweep.png
  fovguard groups import -db fovguard.db -scene cell.yaml
  fovguard serve -db fovguard.db -scene cell.yaml -listen :8080`)
}
