//go:build linux

// Package perf wraps perf_event_open(2) and its mmap ring buffer for the
// two load/store sampling streams spec.md §4.3 describes. golang.org/x/sys/unix
// already exposes PerfEventOpen/PerfEventAttr, so this package only adds
// the ring-buffer header layout and record walk that x/sys does not cover.
package perf

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Kind distinguishes the two independent sample streams.
type Kind int

const (
	Loads Kind = iota
	Stores
)

// rawConfig picks the hardware-raw event code for each stream. These are
// the Intel "MEM_TRANS_RETIRED" precise-load/store-latency event codes;
// a real deployment on other microarchitectures would substitute the
// platform-correct raw codes here.
var rawConfig = map[Kind]uint64{
	Loads:  0x1cd,
	Stores: 0x2cd,
}

// dataPages is 2^k data pages behind the ring buffer header page, per
// spec.md §4.3.
const dataPages = 16

const pageSize = 4096
const mmapLen = (1 + dataPages) * pageSize // header page + data pages

// RecordHeader mirrors struct perf_event_header.
type RecordHeader struct {
	Type uint32
	Misc uint16
	Size uint16
}

const (
	RecordSample     = uint32(9)
	RecordThrottle   = uint32(5)
	RecordUnthrottle = uint32(6)
)

// mmapPage mirrors the fixed-offset fields of struct perf_event_mmap_page
// that the collector loop needs: data_head/data_tail/data_offset/
// data_size all begin at byte offset 1024 in the real kernel struct, with
// everything before that reserved for timekeeping fields this sampler
// does not use.
type mmapPage struct {
	_         [1024]byte
	DataHead  uint64
	DataTail  uint64
	DataOffset uint64
	DataSize  uint64
}

// Stream is one opened, memory-mapped perf event sample stream.
type Stream struct {
	fd   int
	data []byte
	hdr  *mmapPage
}

// Open creates and maps a sampling stream for kind, in precise mode,
// user-mode-only, sampling every period occurrences (spec.md §4.3:
// "every ~100k events"). Streams begin disabled; call Enable to start
// counting.
// perf_event_attr's configuration flags are a C bitfield with no
// individually named Go constants in x/sys/unix, so the bits this
// sampler needs are packed here at their documented positions from the
// kernel's perf_event.h: disabled (bit 0), exclude_kernel (bit 5),
// exclude_hv (bit 6), and the two-bit precise_ip field (bits 15-16,
// value 2 requesting zero skid).
const (
	attrBitDisabled      = uint64(1) << 0
	attrBitExcludeKernel = uint64(1) << 5
	attrBitExcludeHv     = uint64(1) << 6
	attrPreciseIPShift   = 15
	attrPreciseIPValue   = uint64(2) << attrPreciseIPShift
)

func Open(kind Kind, period uint64) (*Stream, error) {
	attr := unix.PerfEventAttr{
		Type:        unix.PERF_TYPE_RAW,
		Config:      rawConfig[kind],
		Size:        uint32(unsafe.Sizeof(unix.PerfEventAttr{})),
		Sample_type: unix.PERF_SAMPLE_IP | unix.PERF_SAMPLE_ADDR | unix.PERF_SAMPLE_TID | unix.PERF_SAMPLE_WEIGHT,
		Bits:        attrBitDisabled | attrBitExcludeKernel | attrBitExcludeHv | attrPreciseIPValue,
		Sample:      period,
	}

	fd, err := unix.PerfEventOpen(&attr, -1, 0, -1, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("perf: open stream: %w", err)
	}

	data, err := unix.Mmap(fd, 0, mmapLen, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("perf: mmap ring buffer: %w", err)
	}

	return &Stream{
		fd:   fd,
		data: data,
		hdr:  (*mmapPage)(unsafe.Pointer(&data[0])),
	}, nil
}

// Enable starts counting, per spec.md §4.3's Start step.
func (s *Stream) Enable() error {
	return unix.IoctlSetInt(s.fd, unix.PERF_EVENT_IOC_ENABLE, 0)
}

// Disable stops counting without closing the stream.
func (s *Stream) Disable() error {
	return unix.IoctlSetInt(s.fd, unix.PERF_EVENT_IOC_DISABLE, 0)
}

// Close unmaps the ring buffer and closes the descriptor.
func (s *Stream) Close() error {
	if err := unix.Munmap(s.data); err != nil {
		return err
	}
	return unix.Close(s.fd)
}

// Record is one decoded ring-buffer record the collector cares about.
type Record struct {
	Type    uint32
	Address uintptr
	Weight  uint64
}

// Drain walks every record currently available from data_tail to
// data_head, appends it to dst, and advances data_tail, per spec.md
// §4.3's poll-iteration description. A read-barrier between reading
// data_head and consuming the payload is required by the kernel ABI;
// the atomic.LoadUint64 of DataHead stands in for it.
func (s *Stream) Drain(dst []Record) []Record {
	head := atomic.LoadUint64(&s.hdr.DataHead)
	tail := s.hdr.DataTail
	base := int(s.hdr.DataOffset)
	size := s.hdr.DataSize

	for tail < head {
		off := base + int(tail%size)
		if off+8 > len(s.data) {
			break
		}
		var rh RecordHeader
		rh.Type = binary.LittleEndian.Uint32(s.data[off : off+4])
		rh.Misc = binary.LittleEndian.Uint16(s.data[off+4 : off+6])
		rh.Size = binary.LittleEndian.Uint16(s.data[off+6 : off+8])
		if rh.Size == 0 {
			break
		}

		rec := Record{Type: rh.Type}
		if rh.Type == RecordSample {
			// PERF_SAMPLE_IP (8) precedes PERF_SAMPLE_TID (8) precedes
			// PERF_SAMPLE_ADDR (8) precedes PERF_SAMPLE_WEIGHT (8) in
			// ascending sample_type bit order.
			addrOff := off + 8 + 8 + 8
			if addrOff+8 <= len(s.data) {
				rec.Address = uintptr(binary.LittleEndian.Uint64(s.data[addrOff : addrOff+8]))
			}
			weightOff := addrOff + 8
			if weightOff+8 <= len(s.data) {
				rec.Weight = binary.LittleEndian.Uint64(s.data[weightOff : weightOff+8])
			}
		}
		dst = append(dst, rec)

		tail += uint64(rh.Size)
	}
	s.hdr.DataTail = tail
	return dst
}
