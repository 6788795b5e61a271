package dfu

// handleDataReqPacket implements §4.7: a peer is asking us to retransmit
// a segment. Only acted on while we hold a matching transaction; served
// at most once per reqCache window (P5).
func (b *Bootloader) handleDataReqPacket(f *Frame) {
	req := f.DataReq
	if req.TransactionID != b.txn.TransactionID {
		return
	}
	if b.reqCache.has(req.Segment) {
		return
	}

	addr := addrFromSegment(b.txn.StartAddr, req.Segment)
	buf := make([]byte, SegmentLength)
	if !b.flashWriter.HasEntry(addr, buf) {
		return
	}

	beacon, ok := b.transport.Acquire()
	if !ok {
		b.fatalAbort(AbortOutOfMemory)
		return
	}
	beacon.SetPayload(EncodeDataRsp(b.txn.TransactionID, req.Segment, buf))
	beacon.Tx(RepeatsDefault, IntervalRegular)
	beacon.RefCountDec()

	b.reqCache.record(req.Segment)
}

// handleDataRspPacket implements §4.7: a peer supplying a segment to us.
// This is fire-and-forget — the segment engine's accounting is driven by
// the DATA path, not here, per the §9 open question on RSP accounting.
func (b *Bootloader) handleDataRspPacket(f *Frame) {
	rsp := f.DataRsp
	if rsp.TransactionID != b.txn.TransactionID {
		return
	}
	addr := addrFromSegment(b.txn.StartAddr, rsp.Segment)
	_ = b.flashWriter.Data(addr, rsp.Data[:])
}
