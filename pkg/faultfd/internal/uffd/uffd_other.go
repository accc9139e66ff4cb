//go:build !linux

package uffd

import "errors"

// PageSize mirrors the linux build's constant so callers can share code.
const PageSize = 4096

// EventPagefault has no meaning off Linux; kept so callers compile
// unconditionally.
const EventPagefault = uint8(0x12)

// ErrUnsupported is returned by every operation on a platform without the
// userfault mechanism. spec.md §8's "environment unavailable" case is
// fatal for the fault path, so callers surface this at Init.
var ErrUnsupported = errors.New("uffd: userfaultfd is not supported on this platform")

func Open() (int, error)                                         { return -1, ErrUnsupported }
func Negotiate(fd int) error                                     { return ErrUnsupported }
func RegisterMissing(fd int, addr uintptr, length uint64) error  { return ErrUnsupported }
func Unregister(fd int, addr uintptr, length uint64) error       { return ErrUnsupported }
func CopyZeroPage(fd int, addr uintptr, src uintptr) error       { return ErrUnsupported }
func ReadMessage(fd int) (event uint8, address uintptr, err error) {
	return 0, 0, ErrUnsupported
}
