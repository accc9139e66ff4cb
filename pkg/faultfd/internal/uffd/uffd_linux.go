//go:build linux

// Package uffd wraps the Linux userfaultfd(2) mechanism: channel
// creation, API negotiation, range registration, and zero-page install,
// exactly the five kernel interfaces spec.md §7 names. golang.org/x/sys/unix
// does not expose userfaultfd directly, so the channel-creation syscall is
// issued through unix.Syscall and the UFFDIO ioctl request numbers are
// computed here with the same _IOC bit-packing <asm-generic/ioctl.h> uses,
// rather than hardcoded, so the numbers stay internally consistent with
// the struct layouts defined alongside them.
package uffd

import (
	"encoding/binary"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNone  = uintptr(0)
	iocWrite = uintptr(1)
	iocRead  = uintptr(2)

	iocNRShift   = uintptr(0)
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return (dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift)
}

func iowr(typ, nr, size uintptr) uintptr { return ioc(iocWrite|iocRead, typ, nr, size) }
func ior(typ, nr, size uintptr) uintptr  { return ioc(iocRead, typ, nr, size) }

// uffdioMagic is UFFDIO from linux/userfaultfd.h.
const uffdioMagic = uintptr(0xAA)

// uffdAPI is UFFD_API: the feature-negotiation protocol version.
const uffdAPI = uint64(0xAA)

const registerModeMissing = uint64(1 << 0)

// PageSize mirrors clock.PageSize without importing it, to keep this
// package dependency-free of the rest of the module.
const PageSize = 4096

type uffdioAPI struct {
	API           uint64
	Features      uint64
	IoctlsBitmask uint64
}

type uffdioRange struct {
	Start uint64
	Len   uint64
}

type uffdioRegister struct {
	Range         uffdioRange
	Mode          uint64
	IoctlsBitmask uint64
}

type uffdioCopy struct {
	Dst  uint64
	Src  uint64
	Len  uint64
	Mode uint64
	Copy int64
}

var (
	reqAPI        = iowr(uffdioMagic, 0x3F, unsafe.Sizeof(uffdioAPI{}))
	reqRegister   = iowr(uffdioMagic, 0x00, unsafe.Sizeof(uffdioRegister{}))
	reqUnregister = ior(uffdioMagic, 0x01, unsafe.Sizeof(uffdioRange{}))
	reqCopy       = iowr(uffdioMagic, 0x03, unsafe.Sizeof(uffdioCopy{}))
)

func ioctl(fd int, req uintptr, arg unsafe.Pointer) unix.Errno {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	return errno
}

// Open creates a non-blocking, close-on-exec userfaultfd channel.
func Open() (int, error) {
	fd, _, errno := unix.Syscall(unix.SYS_USERFAULTFD, uintptr(unix.O_CLOEXEC|unix.O_NONBLOCK), 0, 0)
	if errno != 0 {
		return -1, errno
	}
	return int(fd), nil
}

// Negotiate performs the API-version handshake with an empty feature
// request, per spec.md §4.2 ("for portability").
func Negotiate(fd int) error {
	api := uffdioAPI{API: uffdAPI}
	if errno := ioctl(fd, reqAPI, unsafe.Pointer(&api)); errno != 0 {
		return errno
	}
	return nil
}

// RegisterMissing registers [addr, addr+length) in missing-page-fault
// mode.
func RegisterMissing(fd int, addr uintptr, length uint64) error {
	reg := uffdioRegister{
		Range: uffdioRange{Start: uint64(addr), Len: length},
		Mode:  registerModeMissing,
	}
	if errno := ioctl(fd, reqRegister, unsafe.Pointer(&reg)); errno != 0 {
		return errno
	}
	return nil
}

// Unregister removes [addr, addr+length) from tracking.
func Unregister(fd int, addr uintptr, length uint64) error {
	r := uffdioRange{Start: uint64(addr), Len: length}
	if errno := ioctl(fd, reqUnregister, unsafe.Pointer(&r)); errno != 0 {
		return errno
	}
	return nil
}

// CopyZeroPage installs a page at addr by copying PageSize bytes from
// src, a page-aligned zero buffer, through UFFDIO_COPY.
// EEXIST means a racing fault already installed the page for the same
// address; spec.md §4.2 treats that as success.
func CopyZeroPage(fd int, addr uintptr, src uintptr) error {
	c := uffdioCopy{
		Dst: uint64(addr),
		Src: uint64(src),
		Len: PageSize,
	}
	errno := ioctl(fd, reqCopy, unsafe.Pointer(&c))
	if errno == 0 || errno == unix.EEXIST {
		return nil
	}
	return errno
}

// messageSize is sizeof(struct uffd_msg): an 8-byte header followed by a
// 24-byte union whose pagefault arm starts with an 8-byte flags word and
// then the 8-byte faulting address.
const messageSize = 32

// ReadMessage reads and decodes one pending fault message. event 0x12 is
// UFFD_EVENT_PAGEFAULT; any other value is returned as-is for the caller
// to ignore.
func ReadMessage(fd int) (event uint8, address uintptr, err error) {
	var buf [messageSize]byte
	n, rerr := unix.Read(fd, buf[:])
	if rerr != nil {
		return 0, 0, rerr
	}
	if n < 24 {
		return 0, 0, nil // short/interrupted read, spec.md §7 says ignore and continue
	}
	event = buf[0]
	address = uintptr(binary.LittleEndian.Uint64(buf[16:24]))
	return event, address, nil
}

// EventPagefault is UFFD_EVENT_PAGEFAULT.
const EventPagefault = uint8(0x12)
