// Package monitoring holds the process-wide diagnostic loggers.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf and
// may be swapped with SetLogger so tests can capture or mute output.
var Logf func(format string, v ...any) = log.Printf

// Debugf logs per-sample classification detail. It is a no-op unless enabled
// with SetDebug; the pipeline emits one line per classified sample, which is
// far too chatty for normal operation.
var Debugf func(format string, v ...any) = func(string, ...any) {}

// SetLogger replaces the package logger. A nil value installs a no-op logger.
func SetLogger(f func(format string, v ...any)) {
	if f == nil {
		Logf = func(string, ...any) {}
		return
	}
	Logf = f
}

// SetDebug enables or disables the per-sample debug logger. When enabled the
// debug output goes through the current Logf.
func SetDebug(enabled bool) {
	if enabled {
		Debugf = func(format string, v ...any) { Logf(format, v...) }
		return
	}
	Debugf = func(string, ...any) {}
}
