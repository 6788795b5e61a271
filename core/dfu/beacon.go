package dfu

// beaconKind selects one of the seven advertisement payload shapes (§4.2).
type beaconKind uint8

const (
	beaconFWID beaconKind = iota
	beaconReqApp
	beaconReqRuntime
	beaconReqBL
	beaconReadyApp
	beaconReadyRuntime
	beaconReadyBL
)

// beaconSet replaces the single outstanding outbound beacon (§4.2, §9's
// reference-counted-beacon design note): the old beacon's transmission is
// aborted and its ref dropped, a fresh transport buffer is acquired
// (fatal on exhaustion), the payload is formatted, and it is handed to
// the transport with the kind's repeat/interval policy.
func (b *Bootloader) beaconSet(kind beaconKind) {
	if b.beacon != nil {
		b.beacon.TxAbort()
		b.beacon.RefCountDec()
		b.beacon = nil
	}

	beacon, ok := b.transport.Acquire()
	if !ok {
		b.fatalAbort(AbortOutOfMemory)
		return
	}

	payload, repeats := b.buildBeaconPayload(kind)
	beacon.SetPayload(payload)
	beacon.Tx(repeats, IntervalRegular)
	b.beacon = beacon
}

// beaconStop aborts and releases the current beacon without replacing it,
// used when entering DFU_TARGET (§4.1: "stops the beacon").
func (b *Bootloader) beaconStop() {
	if b.beacon == nil {
		return
	}
	b.beacon.TxAbort()
	b.beacon.RefCountDec()
	b.beacon = nil
}

func (b *Bootloader) buildBeaconPayload(kind beaconKind) ([]byte, int) {
	switch kind {
	case beaconFWID:
		return EncodeFWID(b.info.fwid), RepeatsInfinite

	case beaconReqApp:
		return EncodeReq(DfuTypeApp, b.txn.TargetFWID), RepeatsInfinite
	case beaconReqRuntime:
		return EncodeReq(DfuTypeRuntime, b.txn.TargetFWID), RepeatsInfinite
	case beaconReqBL:
		return EncodeReq(DfuTypeBootloader, b.txn.TargetFWID), RepeatsInfinite

	case beaconReadyApp:
		return EncodeReady(DfuTypeApp, b.txn.Authority, b.txn.TransactionID, b.txn.ReadyMIC, b.txn.TargetFWID), RepeatsInfinite
	case beaconReadyRuntime:
		return EncodeReady(DfuTypeRuntime, b.txn.Authority, b.txn.TransactionID, b.txn.ReadyMIC, b.txn.TargetFWID), RepeatsInfinite
	case beaconReadyBL:
		return EncodeReady(DfuTypeBootloader, b.txn.Authority, b.txn.TransactionID, b.txn.ReadyMIC, b.txn.TargetFWID), RepeatsInfinite

	default:
		return nil, 0
	}
}

func reqBeaconFor(t DfuType) beaconKind {
	switch t {
	case DfuTypeApp:
		return beaconReqApp
	case DfuTypeRuntime:
		return beaconReqRuntime
	default:
		return beaconReqBL
	}
}

func readyBeaconFor(t DfuType) beaconKind {
	switch t {
	case DfuTypeApp:
		return beaconReadyApp
	case DfuTypeRuntime:
		return beaconReadyRuntime
	default:
		return beaconReadyBL
	}
}
