//go:build !linux

package perf

import "errors"

// Kind distinguishes the two independent sample streams.
type Kind int

const (
	Loads Kind = iota
	Stores
)

// ErrUnsupported is returned on platforms with no performance-sampling
// facility. spec.md §4.3 treats this as non-fatal: the sampler reports
// itself inactive and the fault path alone continues to drive statistics.
var ErrUnsupported = errors.New("perf: hardware sampling is not supported on this platform")

// Record type values, mirrored from the linux build so pkg/sampler can
// switch on them without a build tag of its own.
const (
	RecordSample     = uint32(9)
	RecordThrottle   = uint32(5)
	RecordUnthrottle = uint32(6)
)

// Record mirrors the linux build's decoded record shape.
type Record struct {
	Type    uint32
	Address uintptr
	Weight  uint64
}

// Stream is a no-op placeholder satisfying the same shape as the linux
// Stream.
type Stream struct{}

func Open(kind Kind, period uint64) (*Stream, error) { return nil, ErrUnsupported }
func (s *Stream) Enable() error                      { return ErrUnsupported }
func (s *Stream) Disable() error                     { return ErrUnsupported }
func (s *Stream) Close() error                       { return nil }
func (s *Stream) Drain(dst []Record) []Record         { return dst }
