package dfu

import (
	"encoding/binary"
	"testing"
	"time"
)

// --- fakes, hand-written the way device/router/router_test.go and
// core/dedupe/dedupe_test.go build their own fixtures instead of a
// mocking framework. ---

type fakeBeacon struct {
	payload  []byte
	txCount  int
	repeats  int
	aborted  bool
	refcount int
}

func (b *fakeBeacon) SetPayload(frame []byte) { b.payload = frame }
func (b *fakeBeacon) Tx(repeats int, interval IntervalClass) {
	b.txCount++
	b.repeats = repeats
}
func (b *fakeBeacon) TxAbort()    { b.aborted = true }
func (b *fakeBeacon) RefCountInc() { b.refcount++ }
func (b *fakeBeacon) RefCountDec() { b.refcount-- }

type fakeTransport struct {
	oom       bool
	acquired  []*fakeBeacon
	relayOf   []byte // raw frame bytes to answer GetStartPointer for
	relayHit  *fakeBeacon
}

func (t *fakeTransport) Acquire() (Beacon, bool) {
	if t.oom {
		return nil, false
	}
	b := &fakeBeacon{}
	t.acquired = append(t.acquired, b)
	return b, true
}

func (t *fakeTransport) GetStartPointer(frame []byte) (Beacon, bool) {
	if t.relayHit != nil {
		return t.relayHit, true
	}
	return nil, false
}

func (t *fakeTransport) lastBeacon() *fakeBeacon {
	if len(t.acquired) == 0 {
		return nil
	}
	return t.acquired[len(t.acquired)-1]
}

type writeCall struct {
	addr uint32
	data []byte
}

type fakeFlashWriter struct {
	startErr   error
	writes     []writeCall
	rejectAddr map[uint32]bool // addresses that fail Data (duplicate segment)
	ended      bool
	hash       [32]byte
	entries    map[uint32][]byte
}

func (f *fakeFlashWriter) Start(startAddr, bankAddr, length uint32, last bool) error {
	return f.startErr
}

func (f *fakeFlashWriter) Data(addr uint32, data []byte) error {
	if f.rejectAddr != nil && f.rejectAddr[addr] {
		return errDuplicateSegment
	}
	cp := append([]byte(nil), data...)
	f.writes = append(f.writes, writeCall{addr: addr, data: cp})
	if f.entries == nil {
		f.entries = map[uint32][]byte{}
	}
	f.entries[addr] = cp
	return nil
}

func (f *fakeFlashWriter) End() { f.ended = true }

func (f *fakeFlashWriter) HasEntry(addr uint32, out []byte) bool {
	data, ok := f.entries[addr]
	if !ok {
		return false
	}
	copy(out, data)
	return true
}

func (f *fakeFlashWriter) SHA256() [32]byte { return f.hash }

type errString string

func (e errString) Error() string { return string(e) }

const errDuplicateSegment = errString("duplicate segment")

type fakeInfoStore struct {
	entries map[InfoType][]byte
	missing map[InfoType]bool
}

func newFakeInfoStore() *fakeInfoStore {
	return &fakeInfoStore{entries: map[InfoType][]byte{}}
}

func (s *fakeInfoStore) EntryGet(kind InfoType) (InfoEntry, bool) {
	if s.missing != nil && s.missing[kind] {
		return InfoEntry{}, false
	}
	b, ok := s.entries[kind]
	return InfoEntry{Bytes: b}, ok
}

func (s *fakeInfoStore) EntryPut(kind InfoType, data []byte) (InfoEntry, bool) {
	s.entries[kind] = data
	return InfoEntry{Bytes: data}, true
}

type fakeTimer struct {
	armedFor time.Duration
	armed    bool
}

func (t *fakeTimer) Arm(d time.Duration) { t.armedFor = d; t.armed = true }
func (t *fakeTimer) Disarm()             { t.armed = false }

type fakeVerifier struct {
	result bool
}

func (v *fakeVerifier) Verify(pubKey, hash, signature []byte) bool { return v.result }

type fakeChainLoader struct {
	jumped  bool
	segment SegmentKind
}

func (c *fakeChainLoader) JumpTo(segment SegmentKind) {
	c.jumped = true
	c.segment = segment
}

// --- test scaffolding ---

func segBytes(start, length uint32) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b[0:4], start)
	binary.LittleEndian.PutUint32(b[4:8], length)
	return b
}

func fwidBytes(f FWID) []byte {
	b := make([]byte, 12)
	encodeFWIDInto(b, f)
	return b
}

type harness struct {
	b           *Bootloader
	transport   *fakeTransport
	flashWriter *fakeFlashWriter
	infoStore   *fakeInfoStore
	timer       *fakeTimer
	verifier    *fakeVerifier
	chainLoader *fakeChainLoader
}

// newHarness builds a Bootloader over fully-intact persistent info with
// the given app/bl/runtime versions and no public key (unsigned fleet).
func newHarness(t *testing.T, fwid FWID, appSeg, blSeg, rtSeg SegmentDescriptor) *harness {
	t.Helper()
	store := newFakeInfoStore()
	store.entries[InfoTypeFlags] = []byte{1, 1} // runtime intact, app intact
	store.entries[InfoTypeVersion] = fwidBytes(fwid)
	store.entries[InfoTypeSegmentApp] = segBytes(appSeg.Start, appSeg.Length)
	store.entries[InfoTypeSegmentBL] = segBytes(blSeg.Start, blSeg.Length)
	store.entries[InfoTypeSegmentRuntime] = segBytes(rtSeg.Start, rtSeg.Length)

	transport := &fakeTransport{}
	flashWriter := &fakeFlashWriter{}
	timer := &fakeTimer{}
	verifier := &fakeVerifier{result: true}
	chainLoader := &fakeChainLoader{}

	bl := New(Config{
		Transport:   transport,
		FlashWriter: flashWriter,
		InfoStore:   store,
		Timer:       timer,
		Verifier:    verifier,
		ChainLoader: chainLoader,
	})
	bl.Init()

	return &harness{
		b: bl, transport: transport, flashWriter: flashWriter,
		infoStore: store, timer: timer, verifier: verifier, chainLoader: chainLoader,
	}
}

var defaultAppSeg = SegmentDescriptor{Start: 0x1C000, Length: 0x20000}
var defaultBLSeg = SegmentDescriptor{Start: 0x3C000, Length: 0x4000}
var defaultRTSeg = SegmentDescriptor{Start: 0x1000, Length: 0x1B000}

func defaultFWID(appVersion uint16) FWID {
	return FWID{
		App:        AppID{CompanyID: 1, AppID: 2, Version: appVersion},
		Bootloader: 1,
		Runtime:    1,
	}
}

// driveToReqApp moves a fresh harness from FIND_FWID into DFU_REQ(APP) by
// feeding it an FWID beacon advertising a newer app.
func driveToReqApp(t *testing.T, h *harness, newAppVersion uint16) {
	t.Helper()
	offered := defaultFWID(newAppVersion)
	h.b.HandlePacket(EncodeFWID(offered))
	if h.b.State() != StateDfuReq {
		t.Fatalf("expected DFU_REQ, got %s", h.b.State())
	}
}

func startFrame(tid uint32, startAddr, lengthWords uint32, sigLen uint16, last bool) []byte {
	body := make([]byte, 1+4+2+4+4+2+1)
	body[0] = byte(PacketData)
	binary.LittleEndian.PutUint32(body[1:5], tid)
	binary.LittleEndian.PutUint16(body[5:7], 0)
	binary.LittleEndian.PutUint32(body[7:11], startAddr)
	binary.LittleEndian.PutUint32(body[11:15], lengthWords)
	binary.LittleEndian.PutUint16(body[15:17], sigLen)
	if last {
		body[17] = 1
	}
	return body
}

func dataFrame(tid uint32, segment uint16, payload []byte) []byte {
	body := make([]byte, 1+4+2+len(payload))
	body[0] = byte(PacketData)
	binary.LittleEndian.PutUint32(body[1:5], tid)
	binary.LittleEndian.PutUint16(body[5:7], segment)
	copy(body[7:], payload)
	return body
}

// --- scenario 1: clean app upgrade (§8 end-to-end scenario 1) ---

func TestCleanAppUpgrade(t *testing.T) {
	h := newHarness(t, defaultFWID(5), defaultAppSeg, defaultBLSeg, defaultRTSeg)
	driveToReqApp(t, h, 6)

	ready := StatePayload{DfuType: DfuTypeApp, Authority: 1, TransactionID: 0x100}
	h.b.HandlePacket(EncodeReady(DfuTypeApp, 1, 0x100, 0, h.b.Transaction().TargetFWID))
	_ = ready
	if h.b.State() != StateDfuReady {
		t.Fatalf("expected DFU_READY, got %s", h.b.State())
	}

	start := startFrame(0x100, 0x1C000, 0x800, 64, true)
	h.flashWriter.entries = map[uint32][]byte{}
	h.b.HandlePacket(start)
	if h.b.State() != StateDfuTarget {
		t.Fatalf("expected DFU_TARGET, got %s", h.b.State())
	}

	txn := h.b.Transaction()
	if txn.SegmentCount != 512 {
		t.Fatalf("expected 512 segments, got %d", txn.SegmentCount)
	}

	payload := make([]byte, 16)
	for seg := uint16(1); seg <= txn.SegmentCount; seg++ {
		h.b.HandlePacket(dataFrame(0x100, seg, payload))
	}

	if !h.flashWriter.ended {
		t.Fatal("expected flash writer to be ended")
	}
	if h.b.State() != StateRampdown {
		t.Fatalf("expected RAMPDOWN, got %s", h.b.State())
	}
	if len(h.flashWriter.writes) != 512 {
		t.Fatalf("expected 512 writes, got %d", len(h.flashWriter.writes))
	}

	h.b.HandleTimeout()
	if !h.chainLoader.jumped || h.chainLoader.segment != SegmentApplication {
		t.Fatal("expected chain-load into application on SUCCESS")
	}
}

// --- scenario 2: competing sources (§8 end-to-end scenario 2, P3) ---

func TestCompetingSourcesAdoptLexMax(t *testing.T) {
	h := newHarness(t, defaultFWID(5), defaultAppSeg, defaultBLSeg, defaultRTSeg)
	driveToReqApp(t, h, 6)
	target := h.b.Transaction().TargetFWID

	h.b.HandlePacket(EncodeReady(DfuTypeApp, 2, 0x10, 0, target))
	if got := h.b.Transaction(); got.Authority != 2 || got.TransactionID != 0x10 {
		t.Fatalf("unexpected adopted offer: %+v", got)
	}

	h.b.HandlePacket(EncodeReady(DfuTypeApp, 3, 0x1, 0, target))
	if got := h.b.Transaction(); got.Authority != 3 || got.TransactionID != 0x1 {
		t.Fatalf("expected (3,1) adopted, got %+v", got)
	}

	h.b.HandlePacket(EncodeReady(DfuTypeApp, 3, 0x2, 0, target))
	if got := h.b.Transaction(); got.Authority != 3 || got.TransactionID != 0x2 {
		t.Fatalf("expected (3,2) adopted, got %+v", got)
	}

	h.b.HandlePacket(EncodeReady(DfuTypeApp, 2, 0xFF, 0, target))
	if got := h.b.Transaction(); got.Authority != 3 || got.TransactionID != 0x2 {
		t.Fatalf("expected (3,2) to remain, got %+v", got)
	}
}

// --- scenario 3: missed start (§8 end-to-end scenario 3) ---

func TestMissedStartRestartsRequest(t *testing.T) {
	h := newHarness(t, defaultFWID(5), defaultAppSeg, defaultBLSeg, defaultRTSeg)
	driveToReqApp(t, h, 6)
	target := h.b.Transaction().TargetFWID

	h.b.HandlePacket(EncodeReady(DfuTypeApp, 1, 0x200, 0, target))
	if h.b.State() != StateDfuReady {
		t.Fatalf("expected DFU_READY, got %s", h.b.State())
	}

	h.b.HandlePacket(dataFrame(0x200, 5, make([]byte, 16)))
	if h.b.State() != StateDfuReq {
		t.Fatalf("expected DFU_REQ after missed start, got %s", h.b.State())
	}

	// The abandoned tid is cached; a repeat offer for it is ignored.
	h.b.HandlePacket(EncodeReady(DfuTypeApp, 1, 0x200, 0, target))
	if h.b.State() != StateDfuReq {
		t.Fatalf("expected DFU_REQ (0x200 should be ignored), got %s", h.b.State())
	}

	// A fresh tid is adopted normally.
	h.b.HandlePacket(EncodeReady(DfuTypeApp, 1, 0x201, 0, target))
	if h.b.State() != StateDfuReady || h.b.Transaction().TransactionID != 0x201 {
		t.Fatalf("expected DFU_READY with tid 0x201, got state=%s txn=%+v", h.b.State(), h.b.Transaction())
	}
}

// --- scenario 4: unsigned image, key present (§8 end-to-end scenario 4, P4) ---

func TestUnsignedImageWithKeyIsUnauthorized(t *testing.T) {
	h := newHarness(t, defaultFWID(5), defaultAppSeg, defaultBLSeg, defaultRTSeg)
	h.infoStore.entries[InfoTypeECDSAPublicKey] = []byte{1, 2, 3, 4}
	// Re-init so the key is picked up.
	h.b = New(Config{
		Transport: h.transport, FlashWriter: h.flashWriter, InfoStore: h.infoStore,
		Timer: h.timer, Verifier: h.verifier, ChainLoader: h.chainLoader,
	})
	h.b.Init()

	driveToReqApp(t, h, 6)
	target := h.b.Transaction().TargetFWID
	h.b.HandlePacket(EncodeReady(DfuTypeApp, 1, 0x100, 0, target))

	start := startFrame(0x100, 0x1C000, 4, 0, true) // signature_length = 0
	h.b.HandlePacket(start)

	txn := h.b.Transaction()
	payload := make([]byte, 16)
	for seg := uint16(1); seg <= txn.SegmentCount; seg++ {
		h.b.HandlePacket(dataFrame(0x100, seg, payload))
	}

	if !h.chainLoader.jumped || h.chainLoader.segment != SegmentBootloader {
		t.Fatalf("expected chain-load into bootloader on UNAUTHORIZED, got jumped=%v segment=%v",
			h.chainLoader.jumped, h.chainLoader.segment)
	}
}

// --- scenario 5: bootloader upgrade bank address (§8 end-to-end scenario 5) ---

func TestBootloaderUpgradeBankAddress(t *testing.T) {
	appSeg := SegmentDescriptor{Start: 0x1C000, Length: 0x20000}
	got := bankAddrFor(DfuTypeBootloader, 0x3C000, 0x4000, appSeg)
	want := uint32(0x1C000 + 0x20000 - 0x4000 - PageSize)
	if got != want {
		t.Fatalf("bank addr = 0x%X, want 0x%X", got, want)
	}
}

// --- scenario 6 / P2: relay idempotence, duplicate writes don't decrement ---

func TestDuplicateWriteDoesNotDecrementOrRelay(t *testing.T) {
	h := newHarness(t, defaultFWID(5), defaultAppSeg, defaultBLSeg, defaultRTSeg)
	driveToReqApp(t, h, 6)
	target := h.b.Transaction().TargetFWID
	h.b.HandlePacket(EncodeReady(DfuTypeApp, 1, 0x100, 0, target))
	h.b.HandlePacket(startFrame(0x100, 0x1C000, 8, 0, true))

	before := h.b.Transaction().SegmentsRemaining
	h.b.HandlePacket(dataFrame(0x100, 1, make([]byte, 16)))
	afterFirst := h.b.Transaction().SegmentsRemaining
	if afterFirst != before-1 {
		t.Fatalf("expected decrement on first write: before=%d after=%d", before, afterFirst)
	}

	h.flashWriter.rejectAddr = map[uint32]bool{0x1C000: true}
	acquiredBefore := len(h.transport.acquired)
	h.b.HandlePacket(dataFrame(0x100, 1, make([]byte, 16)))
	h.b.HandlePacket(dataFrame(0x100, 1, make([]byte, 16)))
	afterRepeats := h.b.Transaction().SegmentsRemaining
	if afterRepeats != afterFirst {
		t.Fatalf("expected no further decrement on rejected duplicates: got %d, want %d", afterRepeats, afterFirst)
	}
	if len(h.transport.acquired) != acquiredBefore {
		t.Fatalf("expected rejected duplicates not to be relayed")
	}
}

// --- P6: segment count formula ---

func TestSegmentCountFormula(t *testing.T) {
	cases := []struct {
		startAddr, lengthWords uint32
		want                   uint16
	}{
		{0x1C000, 0x800, 512},
		{0x1C000, 1, 1},
		{0x1C004, 1, 1}, // misaligned start that still fits in the first 16-byte slot
	}
	for _, c := range cases {
		got := segmentCountFor(c.startAddr, c.lengthWords)
		if got != c.want {
			t.Errorf("segmentCountFor(0x%X, %d) = %d, want %d", c.startAddr, c.lengthWords, got, c.want)
		}
	}
}

// --- P7: a DATA frame that did not advance state is not relayed ---

func TestDataFrameNotAdvancingStateIsNotRelayed(t *testing.T) {
	h := newHarness(t, defaultFWID(5), defaultAppSeg, defaultBLSeg, defaultRTSeg)
	driveToReqApp(t, h, 6)
	target := h.b.Transaction().TargetFWID
	h.b.HandlePacket(EncodeReady(DfuTypeApp, 1, 0x100, 0, target))
	h.b.HandlePacket(startFrame(0x100, 0x1C000, 4, 0, true))

	acquiredBefore := len(h.transport.acquired)
	// Segment number beyond segment_count: not written, not relayed.
	h.b.HandlePacket(dataFrame(0x100, 9999, make([]byte, 16)))
	if len(h.transport.acquired) != acquiredBefore {
		t.Fatalf("expected no beacon acquired for a non-advancing frame")
	}
}

// --- P5: req_cache suppresses repeated service ---

func TestReqCacheSuppressesRepeatService(t *testing.T) {
	h := newHarness(t, defaultFWID(5), defaultAppSeg, defaultBLSeg, defaultRTSeg)
	driveToReqApp(t, h, 6)
	target := h.b.Transaction().TargetFWID
	h.b.HandlePacket(EncodeReady(DfuTypeApp, 1, 0x100, 0, target))
	h.b.HandlePacket(startFrame(0x100, 0x1C000, 4, 0, true))
	h.b.HandlePacket(dataFrame(0x100, 1, make([]byte, 16))) // seeds flash entry at addr

	reqBody := func(tid uint32, seg uint16) []byte {
		b := make([]byte, 1+6)
		b[0] = byte(PacketDataReq)
		binary.LittleEndian.PutUint32(b[1:5], tid)
		binary.LittleEndian.PutUint16(b[5:7], seg)
		return b
	}

	before := len(h.transport.acquired)
	h.b.HandlePacket(reqBody(0x100, 1))
	afterFirst := len(h.transport.acquired)
	if afterFirst != before+1 {
		t.Fatalf("expected first DATA_REQ to be served: before=%d after=%d", before, afterFirst)
	}

	h.b.HandlePacket(reqBody(0x100, 1))
	afterSecond := len(h.transport.acquired)
	if afterSecond != afterFirst {
		t.Fatalf("expected second DATA_REQ to be suppressed by reqCache: after=%d", afterSecond)
	}
}

// --- init sequencing (§4.8) ---

func TestInitEntersDfuReqWhenAppNotIntact(t *testing.T) {
	store := newFakeInfoStore()
	store.entries[InfoTypeFlags] = []byte{1, 0} // runtime intact, app NOT intact
	store.entries[InfoTypeVersion] = fwidBytes(defaultFWID(5))
	store.entries[InfoTypeSegmentApp] = segBytes(defaultAppSeg.Start, defaultAppSeg.Length)
	store.entries[InfoTypeSegmentBL] = segBytes(defaultBLSeg.Start, defaultBLSeg.Length)
	store.entries[InfoTypeSegmentRuntime] = segBytes(defaultRTSeg.Start, defaultRTSeg.Length)

	bl := New(Config{
		Transport: &fakeTransport{}, FlashWriter: &fakeFlashWriter{}, InfoStore: store,
		Timer: &fakeTimer{}, Verifier: &fakeVerifier{}, ChainLoader: &fakeChainLoader{},
	})
	bl.Init()

	if bl.State() != StateDfuReq {
		t.Fatalf("expected DFU_REQ, got %s", bl.State())
	}
	if bl.Transaction().Type != DfuTypeApp {
		t.Fatalf("expected app transaction, got %s", bl.Transaction().Type)
	}
}

func TestInitAbortsOnMissingPersistentStorage(t *testing.T) {
	store := newFakeInfoStore()
	store.missing = map[InfoType]bool{InfoTypeFlags: true}

	chainLoader := &fakeChainLoader{}
	bl := New(Config{
		Transport: &fakeTransport{}, FlashWriter: &fakeFlashWriter{}, InfoStore: store,
		Timer: &fakeTimer{}, Verifier: &fakeVerifier{}, ChainLoader: chainLoader,
	})
	bl.Init()

	if !chainLoader.jumped {
		t.Fatal("expected fatal abort on missing persistent storage")
	}
}

// --- timeout behavior (§4.1) ---

func TestFindFwidTimeoutIsFwidValid(t *testing.T) {
	h := newHarness(t, defaultFWID(5), defaultAppSeg, defaultBLSeg, defaultRTSeg)
	h.b.HandleTimeout()
	if !h.chainLoader.jumped || h.chainLoader.segment != SegmentApplication {
		t.Fatal("expected FIND_FWID timeout to boot into application")
	}
}

func TestTargetTimeoutRestartsRequest(t *testing.T) {
	h := newHarness(t, defaultFWID(5), defaultAppSeg, defaultBLSeg, defaultRTSeg)
	driveToReqApp(t, h, 6)
	target := h.b.Transaction().TargetFWID
	h.b.HandlePacket(EncodeReady(DfuTypeApp, 1, 0x100, 0, target))
	h.b.HandlePacket(startFrame(0x100, 0x1C000, 4, 0, true))
	if h.b.State() != StateDfuTarget {
		t.Fatalf("expected DFU_TARGET, got %s", h.b.State())
	}

	h.b.HandleTimeout()
	if h.b.State() != StateDfuReq {
		t.Fatalf("expected DFU_REQ after TARGET silence timeout, got %s", h.b.State())
	}
}
