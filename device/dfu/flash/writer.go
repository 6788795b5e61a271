// Package flash implements dfu.FlashWriter over an in-memory byte region,
// standing in for the real flash controller the original firmware drives
// directly. The write/verify contract (duplicate rejection, running image
// hash) is grounded in moffa90-go-cyacd's bootloader/programmer.go, which
// drives a real flash-program protocol with the same start/row-write/verify
// shape.
package flash

import (
	"crypto/sha256"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/kabili207/meshdfu-go/core/dfu"
)

var _ dfu.FlashWriter = (*Writer)(nil)

// ErrAlreadyStarted reports a Start call while a prior transfer is still open.
var ErrAlreadyStarted = errors.New("flash: transfer already in progress")

// ErrDuplicateSegment reports a Data call for an address already written
// in the current transfer. The segment engine treats this as "already
// applied" and does not decrement its remaining count (§4.6, P2).
var ErrDuplicateSegment = errors.New("flash: segment already written")

// Config configures a Writer's backing region.
type Config struct {
	// Logger defaults to slog.Default() if nil.
	Logger *slog.Logger
}

// Writer is an in-memory flash region keyed by absolute address, sized in
// dfu.SegmentLength chunks, with the image hash computed over [startAddr,
// startAddr+length) in address order rather than arrival order — mesh
// relay means segments can and do arrive out of sequence.
type Writer struct {
	log *slog.Logger

	mu        sync.Mutex
	started   bool
	startAddr uint32
	bankAddr  uint32
	length    uint32
	last      bool
	entries   map[uint32][]byte
}

// New creates an empty Writer.
func New(cfg Config) *Writer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{log: logger.WithGroup("dfu-flash"), entries: map[uint32][]byte{}}
}

// Start opens a new transfer, discarding any previously written segments.
func (w *Writer) Start(startAddr, bankAddr, length uint32, last bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return ErrAlreadyStarted
	}
	w.started = true
	w.startAddr = startAddr
	w.bankAddr = bankAddr
	w.length = length
	w.last = last
	w.entries = make(map[uint32][]byte)
	w.log.Debug("flash transfer started", "start_addr", startAddr, "bank_addr", bankAddr, "length", length)
	return nil
}

// Data writes one segment's bytes at addr. A repeat write to an
// already-written address is rejected rather than silently overwritten,
// so the caller's progress accounting stays correct under relay/retry
// duplicates.
func (w *Writer) Data(addr uint32, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.entries[addr]; exists {
		return ErrDuplicateSegment
	}
	w.entries[addr] = append([]byte(nil), data...)
	return nil
}

// End closes the writer at the end of a transfer.
func (w *Writer) End() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.started = false
}

// HasEntry reports whether the bytes at addr have been written, copying
// them into out on success. Used both to serve DATA_REQ (§4.7) and to
// read the trailing signature out of the bank at finalize time; a read
// longer than one segment is assembled from consecutive written segments.
func (w *Writer) HasEntry(addr uint32, out []byte) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for n < len(out) {
		a := addr + uint32(n)
		base := w.segmentAddrContaining(a)
		data, ok := w.entries[base]
		if !ok {
			return false
		}
		offset := a - base
		if int(offset) >= len(data) {
			return false
		}
		n += copy(out[n:], data[offset:])
	}
	return true
}

// segmentAddrContaining rounds addr down to the segment boundary it was
// written at, so HasEntry can serve reads at addresses that don't fall on
// a dfu.SegmentLength boundary (e.g. a signature tail read).
func (w *Writer) segmentAddrContaining(addr uint32) uint32 {
	if _, ok := w.entries[addr]; ok {
		return addr
	}
	for a := range w.entries {
		if addr >= a && addr < a+dfu.SegmentLength {
			return a
		}
	}
	return addr
}

// SHA256 computes the running hash of the written image, read in address
// order over [startAddr, startAddr+length). Gaps (segments never
// received) hash as zero bytes; a short final chunk is padded the same
// way, matching how the signer hashes the padded bank region.
func (w *Writer) SHA256() [32]byte {
	w.mu.Lock()
	defer w.mu.Unlock()

	addrs := make([]uint32, 0, len(w.entries))
	for a := range w.entries {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	h := sha256.New()
	next := w.startAddr
	end := w.startAddr + w.length
	for _, a := range addrs {
		if a < w.startAddr || a >= end {
			continue
		}
		if a > next {
			h.Write(make([]byte, a-next))
		}
		data := w.entries[a]
		h.Write(data)
		next = a + uint32(len(data))
	}
	if next < end {
		h.Write(make([]byte, end-next))
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
