package dfu

// startFindFWID enters FIND_FWID: beacon our own identity, arm the
// 0.5s timer, and clear the transaction (§4.1).
func (b *Bootloader) startFindFWID() {
	b.txn.reset(DfuTypeApp)
	b.state = StateFindFWID
	b.beaconSet(beaconFWID)
	b.timer.Arm(TimeoutFindFWID)
	b.log.Debug("entered FIND_FWID")
}

// startReq enters DFU_REQ for the given type: reset the transaction with
// authority=0, arm the 1.0s timer, and beacon a REQ frame (§4.1, §4.4).
// TargetFWID must already be set by the caller before this is invoked,
// except for the initial boot-time calls where it is the zero value.
func (b *Bootloader) startReq(t DfuType) {
	target := b.txn.TargetFWID
	b.txn.reset(t)
	b.txn.TargetFWID = target
	b.txn.SegmentsRemaining = 0xFFFF
	b.state = StateDfuReq
	b.beaconSet(reqBeaconFor(t))
	b.timer.Arm(TimeoutDfuReq)
	b.log.Debug("entered DFU_REQ", "type", t.String())
}

// startReady enters DFU_READY after the first matching READY with
// authority>0 (§4.1, §4.5): adopt the offer's authority/transaction
// id/MIC, arm the 3.0s timer, and re-beacon as READY so the chosen
// source sees us converge on its offer.
func (b *Bootloader) startReady(sp StatePayload) {
	b.txn.Authority = sp.Authority
	b.txn.TransactionID = sp.TransactionID
	b.txn.ReadyMIC = sp.MIC
	b.state = StateDfuReady
	b.beaconSet(readyBeaconFor(b.txn.Type))
	b.timer.Arm(TimeoutDfuReady)
	b.log.Debug("entered DFU_READY", "authority", sp.Authority, "tid", sp.TransactionID)
}

// startTarget enters DFU_TARGET (§4.1, §4.6): arm the 5.0s silence
// timer, stop beaconing, and open the flash writer. If the flash writer
// itself cannot start (a concurrent erase, say), fall back to a fresh
// request for the same type rather than wedging in TARGET with a broken
// writer — this is the supplemental behavior recovered from
// start_target() in the original and recorded in SPEC_FULL.md §4.
func (b *Bootloader) startTarget() {
	b.state = StateDfuTarget
	b.timer.Arm(TimeoutDfuTarget)
	b.beaconStop()

	if err := b.flashWriter.Start(b.txn.StartAddr, b.txn.BankAddr, b.txn.Length, b.txn.SegmentValidAfterTransfer); err != nil {
		b.log.Warn("flash writer refused to start, restarting request", "error", err)
		b.startReq(b.txn.Type)
	}
}

// startRampdown enters RAMPDOWN (§4.1): a short wait lets in-flight
// relays drain before the terminal SUCCESS abort.
func (b *Bootloader) startRampdown() {
	b.state = StateRampdown
	b.timer.Arm(TimeoutRampdown)
	b.log.Debug("entered RAMPDOWN")
}

// HandleTimeout is the second of the core's two event-source entry
// points (§5): the timer fired for the current state. Behavior is fully
// determined by the state at the moment of expiry (§4.1).
func (b *Bootloader) HandleTimeout() {
	switch b.state {
	case StateFindFWID:
		b.Abort(AbortFWIDValid)
	case StateDfuReq, StateDfuReady:
		b.Abort(AbortNoStart)
	case StateDfuTarget:
		b.startReq(b.txn.Type)
	case StateRampdown:
		b.Abort(AbortSuccess)
	}
}
