// Package dfu implements the core of a mesh-networked device firmware
// update bootloader: the state machine, packet dispatch, and transaction
// bookkeeping that move a node from advertising its firmware identity,
// through negotiating and receiving a transfer, to verifying and booting
// a new image.
//
// The package is single-threaded by design: Bootloader.HandlePacket and
// Bootloader.HandleTimeout are the only entry points, neither blocks, and
// callers are responsible for serializing calls into a single Bootloader
// the way the original firmware serializes its two interrupt handlers at
// the same priority.
package dfu

import "time"

// DfuType identifies which part of the firmware image a transaction targets.
type DfuType uint8

const (
	DfuTypeApp DfuType = iota
	DfuTypeBootloader
	DfuTypeRuntime
)

func (t DfuType) String() string {
	switch t {
	case DfuTypeApp:
		return "APP"
	case DfuTypeBootloader:
		return "BOOTLOADER"
	case DfuTypeRuntime:
		return "RUNTIME"
	default:
		return "UNKNOWN"
	}
}

// Sentinel version values marking an entry as never-installed/invalid.
const (
	AppVersionInvalid uint16 = 0xFFFF
	RuntimeVersionInvalid uint32 = 0xFFFFFFFF
)

// AppID names the vendor/product/version triplet for the application image.
type AppID struct {
	CompanyID uint16
	AppID     uint16
	Version   uint16
}

// Equal reports whether the 6-byte vendor+product+version triplet matches.
func (a AppID) Equal(b AppID) bool {
	return a == b
}

// SameProduct reports whether a and b name the same vendor+product, ignoring version.
func (a AppID) SameProduct(b AppID) bool {
	return a.CompanyID == b.CompanyID && a.AppID == b.AppID
}

// IsNewerThan implements the §3 ordering rule for applications: "newer"
// iff vendor+product match and version is strictly greater.
func (a AppID) IsNewerThan(current AppID) bool {
	return a.SameProduct(current) && a.Version > current.Version
}

// FWID is the composite firmware identity of a node: application id,
// bootloader version, and runtime (soft-device) version.
type FWID struct {
	App        AppID
	Bootloader uint16
	Runtime    uint32
}

// BootloaderIsNewer implements the §3 bootloader ordering rule.
func (f FWID) BootloaderIsNewer(current FWID) bool {
	return f.Bootloader > current.Bootloader
}

// SegmentDescriptor bounds the legal flash region for one firmware kind.
type SegmentDescriptor struct {
	Start  uint32
	Length uint32
}

// Contains reports whether [addr, addr+length) lies entirely inside the segment.
func (s SegmentDescriptor) Contains(addr, length uint32) bool {
	return addr >= s.Start && addr+length <= s.Start+s.Length
}

// End returns the address one past the end of the segment.
func (s SegmentDescriptor) End() uint32 {
	return s.Start + s.Length
}

// PageSize is the flash erase granularity used when staging a bootloader
// upgrade in the tail of the application region (see bankAddrFor).
const PageSize = 0x1000

// SegmentLength is the fixed on-flash size of one DATA segment, in bytes.
const SegmentLength = 16

// Wire-format size constants.
const (
	dfuPacketAdvOverhead = 4 // adv_data_type + mesh UUID (2 bytes)
	dfuPacketOverhead    = 1 // the one-byte packet_type discriminant
)

// MeshUUID is the two-byte mesh protocol identifier placed in the
// advertising envelope's manufacturer-data field, per §6.
var MeshUUID = [2]byte{0xFE, 0xE0}

// State is one of the five lifecycle states of the bootloader core.
type State uint8

const (
	StateFindFWID State = iota
	StateDfuReq
	StateDfuReady
	StateDfuTarget
	StateRampdown
)

func (s State) String() string {
	switch s {
	case StateFindFWID:
		return "FIND_FWID"
	case StateDfuReq:
		return "DFU_REQ"
	case StateDfuReady:
		return "DFU_READY"
	case StateDfuTarget:
		return "DFU_TARGET"
	case StateRampdown:
		return "RAMPDOWN"
	default:
		return "UNKNOWN"
	}
}

// State timeouts, matching §4.1.
const (
	TimeoutFindFWID  = 500 * time.Millisecond
	TimeoutDfuReq    = 1000 * time.Millisecond
	TimeoutDfuReady  = 3000 * time.Millisecond
	TimeoutDfuTarget = 5000 * time.Millisecond
	TimeoutRampdown  = 1000 * time.Millisecond
)

// Beacon repeat counts and interval classes, matching §4.2.
const (
	RepeatsInfinite = -1
	RepeatsDefault  = 5
	RepeatsStart    = 2 * RepeatsDefault
)

// IntervalClass selects the advertising interval bucket a beacon is sent at.
type IntervalClass uint8

const IntervalRegular IntervalClass = 0

// Duplicate cache sizes, matching §3.
const (
	ReqCacheSize = 4
	TidCacheSize = 8
)
