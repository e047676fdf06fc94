package core

import "log"

// Config carries the process-wide settings that the pipeline threads through
// every stage. It is built once from the command line and never mutated.
type Config struct {
	Verbosity   int
	NoTerminate bool

	// CalcDoc enables the retention-time model features appended after the
	// ordinary features; Klammer selects the alternative feature dialect.
	CalcDoc bool
	Klammer bool

	// NumFeatures counts the ordinary input features; NumDocFeatures the
	// appended retention-time features (0 when CalcDoc is off).
	NumFeatures    int
	NumDocFeatures int
}

// TotalFeatures returns the full feature row width.
func (c Config) TotalFeatures() int { return c.NumFeatures + c.NumDocFeatures }

// LogAt reports whether messages at the given verbosity level should be
// printed. Level 0 messages are always printed.
func (c Config) LogAt(level int) bool { return c.Verbosity >= level }

// Logf prints to the standard logger when the verbosity admits the level.
func (c Config) Logf(level int, format string, args ...interface{}) {
	if c.LogAt(level) {
		log.Printf(format, args...)
	}
}
