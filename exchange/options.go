package exchange

import "log/slog"

// DefaultTag is the message tag communicators use unless overridden.
// Two communicators sharing one group concurrently need distinct tags.
const DefaultTag = 234

// Options configure a communicator.
type Options struct {
	// Tag is the fixed message tag of this communicator instance.
	Tag int

	// Checks enables runtime contract checks: buffer bounds during
	// gather/scatter, layout totals and in-place list overlap. Violations
	// surface as errors wrapping ErrContract instead of silent
	// corruption.
	Checks bool

	// Logger receives exchange failure diagnostics. Defaults to a
	// discarding logger.
	Logger *slog.Logger
}

// DefaultOptions returns the defaults documented on Options.
func DefaultOptions() Options {
	return Options{
		Tag:    DefaultTag,
		Logger: slog.New(slog.DiscardHandler),
	}
}
