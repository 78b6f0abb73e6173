// Package monitoring carries the service-level diagnostic log shared by the
// session, ingest and persistence layers: source fallbacks, calibration
// swaps, export results, dropped batches. The per-sample gaze pipeline keeps
// its own tiered streams and never logs here.
package monitoring

import "log"

// Logf writes one diagnostic line. It defaults to log.Printf; SetLogger
// redirects it and Mute silences it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil mutes it.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Mute()
		return
	}
	Logf = f
}

// Mute swaps in a no-op logger.
func Mute() {
	Logf = func(string, ...interface{}) {}
}
