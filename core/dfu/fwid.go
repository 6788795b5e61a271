package dfu

// handleFWIDPacket implements §4.4: only meaningful in FIND_FWID. The
// bootloader is always upgraded first; else a newer application that
// mandates a different runtime triggers a runtime upgrade first; else a
// newer application alone is requested directly.
func (b *Bootloader) handleFWIDPacket(f *Frame) {
	if b.state != StateFindFWID {
		return
	}
	offered := f.FWID.FWID

	switch {
	case offered.BootloaderIsNewer(b.info.fwid):
		b.timer.Disarm()
		b.txn.TargetFWID = FWID{Bootloader: offered.Bootloader}
		b.startReq(DfuTypeBootloader)

	case offered.App.IsNewerThan(b.info.fwid.App):
		b.timer.Disarm()
		if offered.Runtime != b.info.fwid.Runtime {
			b.txn.TargetFWID = FWID{Runtime: offered.Runtime}
			b.startReq(DfuTypeRuntime)
		} else {
			b.txn.TargetFWID = FWID{App: offered.App}
			b.startReq(DfuTypeApp)
		}
	}
}
