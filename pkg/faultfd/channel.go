// Package faultfd implements the fault interception core: creating the
// kernel fault channel, negotiating its API, registering managed regions
// against it, and running the fault-handler loop that resolves faults by
// installing zeroed pages (spec.md §4.2).
package faultfd

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/jihwankim/tierd/pkg/faultfd/internal/uffd"
)

// Channel is a single userfaultfd-backed fault channel.
type Channel struct {
	fd int
}

// Open creates a non-blocking, close-on-exec fault channel and performs
// the API-version negotiation with an empty feature request, per spec.md
// §4.2. On a platform without the kernel mechanism this returns
// uffd.ErrUnsupported.
func Open() (*Channel, error) {
	fd, err := uffd.Open()
	if err != nil {
		return nil, fmt.Errorf("faultfd: create channel: %w", err)
	}
	if err := uffd.Negotiate(fd); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("faultfd: api negotiation: %w", err)
	}
	return &Channel{fd: fd}, nil
}

// Register installs [base, base+length) in missing-page-fault mode.
func (c *Channel) Register(base uintptr, length uint64) error {
	if err := uffd.RegisterMissing(c.fd, base, length); err != nil {
		return fmt.Errorf("faultfd: register [%#x,%#x): %w", base, base+uintptr(length), err)
	}
	return nil
}

// Unregister removes [base, base+length) from tracking. Errors are not
// fatal — spec.md §4.5 unregisters regions unconditionally at shutdown.
func (c *Channel) Unregister(base uintptr, length uint64) error {
	return uffd.Unregister(c.fd, base, length)
}

// Close releases the channel file descriptor.
func (c *Channel) Close() error {
	return unix.Close(c.fd)
}

// FD returns the raw file descriptor backing this channel. There is only
// ever one fault channel per manager (spec.md §4.2 stores it globally), so
// callers use this as the region table's opaque FaultChannelID rather than
// minting a separate handle scheme.
func (c *Channel) FD() int { return c.fd }

// Poll waits up to timeout for a fault event, returning false on timeout.
// An EINTR is treated as "nothing ready yet" so the caller's loop simply
// re-checks its running flag, per spec.md §5's cancellation model.
func (c *Channel) Poll(timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, err
	}
	return n > 0 && fds[0].Revents&unix.POLLIN != 0, nil
}

// ReadFault reads one pending message and returns the faulting address if
// it was a page-fault event. Non-pagefault events and short reads yield
// ok == false with a nil error, matching spec.md §7's "transient read:
// ignored, loop continues".
func (c *Channel) ReadFault() (addr uintptr, ok bool, err error) {
	event, address, err := uffd.ReadMessage(c.fd)
	if err != nil {
		return 0, false, err
	}
	if event != uffd.EventPagefault {
		return 0, false, nil
	}
	return address, true, nil
}

// zeroPagePool hands out page-aligned, zero-filled buffers for the
// install ioctl. spec.md §9 requires the buffer live for the duration of
// the ioctl and be page-aligned; pooling keeps an allocation off the fault
// hot path while still giving every caller its own buffer for the call.
var zeroPagePool = sync.Pool{
	New: func() any {
		raw := make([]byte, uffd.PageSize*2)
		off := alignOffset(raw)
		return raw[off : off+uffd.PageSize : off+uffd.PageSize]
	},
}

func alignOffset(buf []byte) int {
	addr := uintptr(unsafe.Pointer(&buf[0]))
	if addr%uffd.PageSize == 0 {
		return 0
	}
	return int(uffd.PageSize - addr%uffd.PageSize)
}

// InstallZeroPage resolves the fault at addr by copying a zeroed page
// through UFFDIO_COPY. addr is rounded down to the page boundary by the
// caller (Resolve), not here.
func (c *Channel) InstallZeroPage(addr uintptr) error {
	buf := zeroPagePool.Get().([]byte)
	defer zeroPagePool.Put(buf)
	for i := range buf {
		buf[i] = 0
	}
	src := uintptr(unsafe.Pointer(&buf[0]))
	return uffd.CopyZeroPage(c.fd, addr, src)
}
