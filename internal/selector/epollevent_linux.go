//go:build linux
// +build linux

package selector

// epollEvent mirrors the kernel's struct epoll_event, with its trailing
// union widened to a plain uint64 so an Id can be stored and read back
// without per-architecture padding games (adapted from the generated
// per-arch defs kept around by the Go runtime's own epoll bindings; amd64,
// arm64 and most other archs agree on this 12-byte layout once the union
// is flattened this way).
type epollEvent struct {
	Events uint32
	_      uint32
	Data   uint64
}
