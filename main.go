// Command gaze-report runs the eye-tracking telemetry service: it ingests
// gaze samples from a device source or the websocket push bridge, runs them
// through calibration, AOI hit testing, fixation detection and the feedback
// engines, and serves the session API over HTTP.
//
// Usage:
//
//	gaze-report [flags]
//	gaze-report migrate {up|down|status|version|force|baseline} [args]
//	gaze-report version
//
// Exit codes: 0 after a graceful shutdown, 1 on configuration errors,
// 2 when startup fails.
package main

import (
	"flag"
	"os"

	_ "modernc.org/sqlite"
)

var (
	host        = flag.String("host", "localhost", "HTTP listen host")
	port        = flag.Int("port", 8080, "HTTP listen port")
	logLevel    = flag.String("log-level", "info", "Log level: quiet, info, debug or trace")
	configPath  = flag.String("config", "", "Tuning config JSON (default: built-in defaults)")
	sourceName  = flag.String("source", "mock", "Gaze source: mock, serial or push")
	serialPort  = flag.String("serial-port", "/dev/ttyUSB0", "Serial port for -source serial")
	dbFile      = flag.String("db", "gaze_data.db", "Path to the SQLite database file")
	exportDir   = flag.String("export-dir", "data", "Directory for session export documents")
	exportTrail = flag.Bool("export-trail", false, "Include the full gaze trail in export documents")
	debugMode   = flag.Bool("debug", false, "Mount /debug routes: tsweb index, sql console, chart dashboards")
)

func main() {
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		os.Exit(runCommand(args))
	}
	os.Exit(runServer())
}
