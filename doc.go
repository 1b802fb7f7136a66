// Package mio provides a non-blocking, readiness-based event queue: a thin
// wrapper around the operating system's scalable I/O event notification
// facility (kqueue on BSD/macOS, epoll on Linux).
//
// The core type is OsQueue. It multiplexes readiness events from registered
// file descriptors, synthetic events pushed by a Notifier, and expired
// Deadlines into a single stream delivered through Poll.
package mio
