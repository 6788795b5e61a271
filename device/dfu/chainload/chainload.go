// Package chainload implements dfu.ChainLoader. The real firmware's
// chain-load is a hardware reset vector rewrite followed by a jump; a
// Go process instead runs a caller-supplied callback, letting a
// simulated node model "rebooted into the application" or "rebooted
// into the bootloader" without actually restarting the process.
package chainload

import (
	"log/slog"

	"github.com/kabili207/meshdfu-go/core/dfu"
)

var _ dfu.ChainLoader = (*Loader)(nil)

// Loader invokes OnJump for every chain-load request. A nil OnJump is a
// no-op, useful in tests that only want to observe dfu.Bootloader.Abort.
type Loader struct {
	log    *slog.Logger
	OnJump func(segment dfu.SegmentKind)
}

// New creates a Loader. logger defaults to slog.Default() if nil.
func New(onJump func(segment dfu.SegmentKind), logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{log: logger.WithGroup("dfu-chainload"), OnJump: onJump}
}

// JumpTo implements dfu.ChainLoader.
func (l *Loader) JumpTo(segment dfu.SegmentKind) {
	l.log.Info("chain-loading", "segment", segmentName(segment))
	if l.OnJump != nil {
		l.OnJump(segment)
	}
}

func segmentName(s dfu.SegmentKind) string {
	if s == dfu.SegmentBootloader {
		return "bootloader"
	}
	return "application"
}
