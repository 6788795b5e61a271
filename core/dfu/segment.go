package dfu

// handleDataPacket implements §4.6. A DATA frame is ignored unless its
// transaction_id matches the current transaction's.
func (b *Bootloader) handleDataPacket(f *Frame) {
	dp := f.Data
	if dp.TransactionID != b.txn.TransactionID {
		return
	}

	var relay bool
	switch b.state {
	case StateDfuReady:
		relay = b.handleDataInReady(dp)
	case StateDfuTarget:
		relay = b.handleDataInTarget(dp)
	}

	if relay {
		b.relayData(f)
	}
}

// handleDataInReady implements the READY→TARGET and READY→REQ branches
// of §4.6.
func (b *Bootloader) handleDataInReady(dp DataPayload) bool {
	if dp.Segment != 0 {
		// Missed segment 0: record the transaction id so we don't
		// re-latch this offer, then restart the request for the same type.
		b.tidCache.record(b.txn.TransactionID)
		b.startReq(b.txn.Type)
		return false
	}

	segment := b.info.segmentFor(b.txn.Type)
	count := segmentCountFor(dp.StartAddress, dp.LengthWords)
	lengthBytes := dp.LengthWords * 4

	if !segment.Contains(dp.StartAddress, lengthBytes) {
		// P1: out-of-bounds start packet. Stay in READY.
		b.log.Warn("start packet out of segment bounds", "type", b.txn.Type.String())
		return false
	}

	b.txn.SegmentsRemaining = count
	b.txn.SegmentCount = count
	b.txn.StartAddr = dp.StartAddress
	b.txn.Length = lengthBytes
	b.txn.SignatureLength = dp.SignatureLength
	b.txn.SegmentValidAfterTransfer = dp.Last
	b.txn.BankAddr = bankAddrFor(b.txn.Type, dp.StartAddress, lengthBytes, b.info.segmentApp)

	b.startTarget()
	return true
}

// handleDataInTarget implements the TARGET-state branch of §4.6:
// segment 0 is an idempotent re-receive of start (ignored); segment>0
// writes via the flash writer and decrements progress only on success.
// Each successful write re-arms the TARGET silence timer. Reaching
// segments_remaining==0 triggers finalization.
func (b *Bootloader) handleDataInTarget(dp DataPayload) bool {
	relay := false

	if dp.Segment != 0 && dp.Segment <= b.txn.SegmentCount {
		addr := addrFromSegment(b.txn.StartAddr, dp.Segment)
		if err := b.flashWriter.Data(addr, dp.Bytes); err == nil {
			b.txn.SegmentsRemaining--
			b.timer.Arm(TimeoutDfuTarget)
			relay = true
		}
	}

	if b.txn.SegmentsRemaining == 0 {
		b.finalize()
	}

	return relay
}

// finalize implements the Finalizer (C8, §4.6): close the flash writer,
// then check the signature per P4 — no public key means accept
// unconditionally; a key with no signature means reject; otherwise the
// signature over the running image hash is verified via the curve.
func (b *Bootloader) finalize() {
	b.flashWriter.End()

	if b.signatureCheck() {
		b.startRampdown()
		return
	}
	// Someone offered an unauthorized image; reboot and retry (§7).
	b.Abort(AbortUnauthorized)
}

func (b *Bootloader) signatureCheck() bool {
	if len(b.info.publicKey) == 0 {
		return true
	}
	if b.txn.SignatureLength == 0 {
		return false
	}

	hash := b.flashWriter.SHA256()

	// The signature is read from the tail of the bank, per the §9 open
	// question: the verifier assumes the signature is included in length.
	sigBuf := make([]byte, b.txn.SignatureLength)
	sigAddr := b.txn.BankAddr + b.txn.Length - uint32(b.txn.SignatureLength)
	if !b.flashWriter.HasEntry(sigAddr, sigBuf) {
		return false
	}

	return b.verifier.Verify(b.info.publicKey, hash[:], sigBuf)
}

// relayData implements §4.6's relay rule: a DATA frame that advanced our
// state is relayed to the rest of the mesh, acquiring the transport's
// in-flight buffer if one still exists for this frame (avoiding a
// redundant copy) or building a fresh one otherwise.
func (b *Bootloader) relayData(f *Frame) {
	relayFrame := EncodeDataRelay(f)

	if beacon, ok := b.transport.GetStartPointer(f.raw); ok {
		beacon.RefCountInc()
		beacon.Tx(RepeatsDefault, IntervalRegular)
		beacon.RefCountDec()
		return
	}

	beacon, ok := b.transport.Acquire()
	if !ok {
		b.fatalAbort(AbortOutOfMemory)
		return
	}
	beacon.SetPayload(relayFrame)
	beacon.Tx(RepeatsDefault, IntervalRegular)
	beacon.RefCountDec()
}
