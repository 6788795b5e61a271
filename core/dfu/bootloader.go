package dfu

import (
	"log/slog"
)

// info holds the pointer-aliased view into persistent bootloader info
// fetched once at Init and held read-only for the rest of the core's
// lifetime, mirroring bl_info_pointers_t in the original and the
// borrowed-reference design note in §9.
type info struct {
	fwid          FWID
	segmentApp    SegmentDescriptor
	segmentBL     SegmentDescriptor
	segmentRuntime SegmentDescriptor
	flags         Flags
	publicKey     []byte // nil means unsigned fleet: accept any image
}

func (i *info) segmentFor(t DfuType) SegmentDescriptor {
	switch t {
	case DfuTypeApp:
		return i.segmentApp
	case DfuTypeBootloader:
		return i.segmentBL
	default:
		return i.segmentRuntime
	}
}

// Config wires the six external collaborators and lets callers override
// the log destination. Transport, FlashWriter, InfoStore, Timer,
// Verifier, and ChainLoader are required; Logger has a documented
// default, following the device/router.Config / transport/serial.Config
// pattern. Protocol timeouts and cache sizes are fixed package constants,
// not Config fields.
type Config struct {
	Transport   Transport
	FlashWriter FlashWriter
	InfoStore   InfoStore
	Timer       Timer
	Verifier    SignatureVerifier
	ChainLoader ChainLoader

	// Logger defaults to slog.Default() if nil.
	Logger *slog.Logger
}

// Bootloader is the single-threaded DFU core. All mutable state — the
// current Transaction, state value, duplicate caches, and outstanding
// beacon — lives here, addressed through the two entry points
// HandlePacket and HandleTimeout. This plays the role that bootloader_mesh.c's
// module-level globals play in the original, per the §9 design note on
// module-level mutable state: one context instance spans init to first reboot.
type Bootloader struct {
	transport   Transport
	flashWriter FlashWriter
	infoStore   InfoStore
	timer       Timer
	verifier    SignatureVerifier
	chainLoader ChainLoader
	log         *slog.Logger

	state State
	txn   Transaction
	info  info

	reqCache reqCache
	tidCache tidCache

	beacon Beacon
}

// New constructs a Bootloader wired to its collaborators. Call Init
// before delivering any packets or timeouts.
func New(cfg Config) *Bootloader {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bootloader{
		transport:   cfg.Transport,
		flashWriter: cfg.FlashWriter,
		infoStore:   cfg.InfoStore,
		timer:       cfg.Timer,
		verifier:    cfg.Verifier,
		chainLoader: cfg.ChainLoader,
		log:         logger.WithGroup("dfu"),
	}
}

// State returns the bootloader's current lifecycle state.
func (b *Bootloader) State() State {
	return b.state
}

// Transaction returns a copy of the current transaction record, for
// diagnostics and tests.
func (b *Bootloader) Transaction() Transaction {
	return b.txn
}

// Init reads the persistent info entries, seeds the journal if absent,
// and enters the correct initial state per §4.8. Any missing/malformed
// required entry is fatal (fatalAbort with AbortInvalidPersistentStorage).
func (b *Bootloader) Init() {
	flagsEntry, ok := b.infoStore.EntryGet(InfoTypeFlags)
	if !ok || len(flagsEntry.Bytes) < 2 {
		b.fatalAbort(AbortInvalidPersistentStorage)
		return
	}
	b.info.flags = Flags{
		RuntimeIntact: flagsEntry.Bytes[0] != 0,
		AppIntact:     flagsEntry.Bytes[1] != 0,
	}

	versionEntry, ok := b.infoStore.EntryGet(InfoTypeVersion)
	if !ok || len(versionEntry.Bytes) < 12 {
		b.fatalAbort(AbortInvalidPersistentStorage)
		return
	}
	b.info.fwid = decodeFWID(versionEntry.Bytes)

	segApp, ok := b.readSegment(InfoTypeSegmentApp)
	if !ok {
		b.fatalAbort(AbortInvalidPersistentStorage)
		return
	}
	b.info.segmentApp = segApp

	segBL, ok := b.readSegment(InfoTypeSegmentBL)
	if !ok {
		b.fatalAbort(AbortInvalidPersistentStorage)
		return
	}
	b.info.segmentBL = segBL

	segRuntime, ok := b.readSegment(InfoTypeSegmentRuntime)
	if !ok {
		b.fatalAbort(AbortInvalidPersistentStorage)
		return
	}
	b.info.segmentRuntime = segRuntime

	if keyEntry, ok := b.infoStore.EntryGet(InfoTypeECDSAPublicKey); ok && len(keyEntry.Bytes) > 0 {
		b.info.publicKey = keyEntry.Bytes
	}

	if _, ok := b.infoStore.EntryGet(InfoTypeJournal); !ok {
		journal := make([]byte, 64)
		for i := range journal {
			journal[i] = 0xFF
		}
		if _, ok := b.infoStore.EntryPut(InfoTypeJournal, journal); !ok {
			b.fatalAbort(AbortInvalidPersistentStorage)
			return
		}
	}

	switch {
	case !b.info.flags.RuntimeIntact || b.info.fwid.Runtime == RuntimeVersionInvalid:
		b.startReq(DfuTypeRuntime)
	case !b.info.flags.AppIntact || b.info.fwid.App.Version == AppVersionInvalid:
		b.startReq(DfuTypeApp)
	default:
		b.startFindFWID()
	}
}

func (b *Bootloader) readSegment(kind InfoType) (SegmentDescriptor, bool) {
	entry, ok := b.infoStore.EntryGet(kind)
	if !ok || len(entry.Bytes) < 8 {
		return SegmentDescriptor{}, false
	}
	return SegmentDescriptor{
		Start:  leUint32(entry.Bytes[0:4]),
		Length: leUint32(entry.Bytes[4:8]),
	}, true
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// fatalAbort funnels the two init-time/runtime fatal conditions (out of
// memory, invalid persistent storage) through the same terminal-exit path
// as every other abort reason (§7: "all terminations funnel through abort(reason)").
func (b *Bootloader) fatalAbort(reason AbortReason) {
	b.Abort(reason)
}

// Abort is the single terminal-exit funnel (§6, §7). It logs the reason
// and chain-loads into the bootloader (on AbortUnauthorized, so the node
// can retry) or the application (every other reason).
func (b *Bootloader) Abort(reason AbortReason) {
	b.log.Warn("abort", "reason", reason.String(), "state", b.state.String())
	if reason == AbortUnauthorized {
		b.chainLoader.JumpTo(SegmentBootloader)
		return
	}
	b.chainLoader.JumpTo(SegmentApplication)
}
