package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/owlet-data/gaze.report/internal/store"
	"github.com/owlet-data/gaze.report/internal/version"
)

// runCommand dispatches a subcommand. The migrate handlers manage their own
// exit; anything reaching the end returns cleanly.
func runCommand(args []string) int {
	switch args[0] {
	case "migrate":
		store.RunMigrateCommand(args[1:], *dbFile)
		return exitOK

	case "version":
		fmt.Printf("gaze-report %s\n", version.String())
		return exitOK

	case "help":
		printUsage()
		return exitOK

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printUsage()
		return exitConfig
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage:
  gaze-report [flags]              run the telemetry service
  gaze-report migrate <action>     manage the database schema
  gaze-report version              print build information
  gaze-report help                 show this message

Flags:
`)
	flag.PrintDefaults()
	fmt.Fprintln(os.Stderr)
	store.PrintMigrateHelp()
}
