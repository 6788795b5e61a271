package dfu

import "errors"

// AbortReason is the terminal-exit code passed to Bootloader.Abort,
// matching the error kinds enumerated in §7.
type AbortReason uint8

const (
	// AbortOutOfMemory: a transport buffer was unavailable when one was
	// required to progress.
	AbortOutOfMemory AbortReason = iota
	// AbortInvalidPersistentStorage: a required info entry is missing or malformed.
	AbortInvalidPersistentStorage
	// AbortUnauthorized: a completed transfer failed its signature check.
	AbortUnauthorized
	// AbortNoStart: a REQ or READY state timed out without completing.
	AbortNoStart
	// AbortFWIDValid: normal FIND_FWID expiry — not an error, the boot-through path.
	AbortFWIDValid
	// AbortSuccess: rampdown completed; reboot into the new image.
	AbortSuccess
)

func (r AbortReason) String() string {
	switch r {
	case AbortOutOfMemory:
		return "OUT_OF_MEMORY"
	case AbortInvalidPersistentStorage:
		return "INVALID_PERSISTENT_STORAGE"
	case AbortUnauthorized:
		return "UNAUTHORIZED"
	case AbortNoStart:
		return "NO_START"
	case AbortFWIDValid:
		return "FWID_VALID"
	case AbortSuccess:
		return "SUCCESS"
	default:
		return "UNKNOWN"
	}
}

// Sentinel errors for the two fatal conditions: transport buffer
// exhaustion at run time and bad persistent storage at init (§7). The
// core itself reports these through AbortOutOfMemory and
// AbortInvalidPersistentStorage.
var (
	ErrOutOfMemory               = errors.New("dfu: transport out of buffers")
	ErrInvalidPersistentStorage  = errors.New("dfu: required info entry missing or malformed")
)
