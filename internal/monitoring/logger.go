// Package monitoring carries the redirectable diagnostic logger shared by
// the scan packages.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but
// may be replaced by SetLogger. Tests or production code can redirect or
// mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Phase logs a scan phase transition in a consistent format so the scan
// timeline can be reconstructed from the log alone.
func Phase(scan, from, to string) {
	Logf("scan %s: %s -> %s", scan, from, to)
}
