package dfu

// readyMatchesRequest implements §4.5's matching rule: the dfu_type must
// match our transaction, the transaction id must not have been recently
// abandoned (tidCache), and the target FWID component must match ours.
func (b *Bootloader) readyMatchesRequest(sp StatePayload) bool {
	if sp.DfuType != b.txn.Type {
		return false
	}
	if b.tidCache.has(sp.TransactionID) {
		return false
	}
	return b.txn.matchesTarget(sp.Target)
}

// handleStatePacket implements §4.5: REQ beacons aren't acted on (only
// authority>0 READY frames matter here); everything else depends on
// the current state.
func (b *Bootloader) handleStatePacket(f *Frame) {
	sp := f.State
	if sp.Authority == 0 {
		return
	}

	switch b.state {
	case StateDfuReq:
		if b.readyMatchesRequest(sp) {
			b.startReady(sp)
		}

	case StateDfuReady:
		if !b.readyMatchesRequest(sp) {
			return
		}
		// Competing offers only replace the current choice if
		// (authority, transaction_id) is lexicographically greater (I5, P3).
		if sp.Authority > b.txn.Authority ||
			(sp.Authority == b.txn.Authority && sp.TransactionID > b.txn.TransactionID) {
			b.txn.Authority = sp.Authority
			b.txn.TransactionID = sp.TransactionID
			b.txn.ReadyMIC = sp.MIC
			// No new beacon here: the next start-DATA frame resolves the race (§4.5).
		}
	}
}
