package mio

import "github.com/thomasdezeeuw/mio/log"

// config collects the settings an Option may change, applied before the
// OsQueue's backend is created. In the style of the teacher's options.go:
// small, functional, settable only at construction time.
type config struct {
	eventCap int
	logger   log.Logger
}

func defaultConfig() config {
	return config{
		eventCap: defaultEventCap,
		logger:   log.Default,
	}
}

// Option configures an OsQueue at construction time.
type Option func(*config)

// WithEventCap overrides the maximum number of OS-sourced events requested
// per Select call (default 256, spec.md's "≤256 per call" / the original
// crate's EVENTS_CAP). A value below 1 is ignored; a value above 256 has
// the same effect as 256.
func WithEventCap(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.eventCap = n
		}
	}
}

// WithLogger overrides the logger used for two cases: an error from closing
// the kernel handles on Close, which is logged and swallowed, and an error
// from waking the queue on Notify, which is logged and also returned.
func WithLogger(l log.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}
