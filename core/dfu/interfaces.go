package dfu

import "time"

// Transport acquires and sends beacons over the mesh advertising medium.
// It is an external collaborator (§1, §6): packet acquisition, tx
// scheduling, and tx abort live outside the core.
type Transport interface {
	// Acquire obtains a fresh outbound Beacon buffer. Returns false on
	// exhaustion (the caller must fatal-abort with AbortOutOfMemory — §4.2).
	Acquire() (Beacon, bool)

	// GetStartPointer returns the in-flight Beacon backing an inbound
	// relay candidate, if the transport still holds one, so a relay can
	// bump its refcount instead of building a fresh copy (§4.6 relay rule).
	GetStartPointer(frame []byte) (Beacon, bool)
}

// Beacon is a single reference-counted outbound advertising buffer.
type Beacon interface {
	// SetPayload installs the DFU frame bytes (kind byte included) and
	// the local source address into the advertising envelope.
	SetPayload(frame []byte)

	// Tx queues the beacon for transmission with the given repeat count
	// (RepeatsInfinite for "until superseded") and interval class.
	Tx(repeats int, interval IntervalClass)

	// TxAbort cancels any in-flight transmission of this beacon.
	TxAbort()

	RefCountInc()
	RefCountDec()
}

// FlashWriter persists received segments and tracks the running image
// hash. External collaborator (§1, §6).
type FlashWriter interface {
	// Start begins a new transfer. Returns an error if a concurrent
	// erase or prior transfer prevents starting now (§4.6 supplemental
	// behavior: start_target falls back to a fresh request on failure).
	Start(startAddr, bankAddr, length uint32, segmentValidAfterTransfer bool) error

	// Data writes one segment's payload at addr. Returns an error on a
	// duplicate or invalid write; the segment engine does not decrement
	// progress on error (§4.6, P2).
	Data(addr uint32, data []byte) error

	// End closes the writer at the end of a transfer.
	End()

	// HasEntry reports whether the writer already holds the bytes for
	// the segment at addr, copying them into out on success (§4.7).
	HasEntry(addr uint32, out []byte) bool

	// SHA256 returns the running hash of the image written so far.
	SHA256() [32]byte
}

// InfoType discriminates persistent bootloader info entries (§3, §4.8).
type InfoType uint8

const (
	InfoTypeFlags InfoType = iota
	InfoTypeVersion
	InfoTypeSegmentApp
	InfoTypeSegmentBL
	InfoTypeSegmentRuntime
	InfoTypeECDSAPublicKey
	InfoTypeJournal
)

// InfoStore is the read-only (to the core) persistent store of firmware
// identity, segment descriptors, integrity flags, and the optional
// public key. External collaborator (§1, §6).
//
// Implementations must return pointers/views into persistent storage from
// EntryGet, not copies, so the core's borrowed references share the
// store's lifetime (see DESIGN.md's note on pointer aliasing).
type InfoStore interface {
	EntryGet(kind InfoType) (InfoEntry, bool)
	EntryPut(kind InfoType, data []byte) (InfoEntry, bool)
}

// InfoEntry is a borrowed view into one persistent info record.
type InfoEntry struct {
	Bytes []byte
}

// Flags holds the integrity bits checked at init (§4.8).
type Flags struct {
	RuntimeIntact bool
	AppIntact     bool
}

// Timer arms and disarms the single state-timeout channel (§4.1, §9's
// "timer as explicit state" design note). External collaborator.
type Timer interface {
	Arm(d time.Duration)
	Disarm()
}

// SignatureVerifier checks a signature over a hash using a provisioned
// public key. External collaborator (§1, §6); the core never performs
// curve arithmetic itself.
type SignatureVerifier interface {
	Verify(pubKey, hash, signature []byte) bool
}

// SegmentKind names a boot target for the chain-load decision (§6, §7).
type SegmentKind uint8

const (
	SegmentApplication SegmentKind = iota
	SegmentBootloader
)

// ChainLoader performs the terminal jump to the application or the
// previous bootloader. External collaborator (§1, §6).
type ChainLoader interface {
	JumpTo(segment SegmentKind)
}
