package mio

import "time"

// Poll combines one or more Sources under a single effective timeout, per
// spec.md §6's composite poll: timeout_eff = min(caller timeout, min over
// sources of NextEventAvailable). OsQueue already performs this merge
// internally across its own three sources (user-space queue, deadline
// heap, backend select); this free function exists for composing further
// external Sources a caller defines on top of one or more OsQueues.
func Poll(sink Sink, timeout time.Duration, sources ...Source) error {
	effTimeout := timeout
	for _, src := range sources {
		if d, ok := src.NextEventAvailable(); ok {
			if effTimeout < 0 || d < effTimeout {
				effTimeout = d
			}
		}
	}

	for _, src := range sources {
		if remaining(sink) == 0 {
			break
		}
		if err := src.Poll(sink, effTimeout); err != nil {
			return err
		}
	}
	return nil
}
