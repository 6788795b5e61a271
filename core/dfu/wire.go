package dfu

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// PacketType is the one-byte discriminant prefixing every inbound DFU frame.
type PacketType uint8

const (
	PacketFWID PacketType = iota + 1
	PacketState
	PacketData
	PacketDataReq
	PacketDataRsp
)

func (k PacketType) String() string {
	switch k {
	case PacketFWID:
		return "FWID"
	case PacketState:
		return "STATE"
	case PacketData:
		return "DATA"
	case PacketDataReq:
		return "DATA_REQ"
	case PacketDataRsp:
		return "DATA_RSP"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(k))
	}
}

var (
	ErrFrameTooShort  = errors.New("dfu: frame too short")
	ErrUnknownKind    = errors.New("dfu: unknown packet kind")
	ErrUnknownDfuType = errors.New("dfu: unknown dfu_type")
)

// wireSizes in bytes, excluding the one-byte packet_type discriminant.
const (
	lenFWID        = 6 + 2 + 4 // app(6) + bl_version(2) + sd_version(4)
	lenReqApp      = 1 + 1 + 6
	lenReqBL       = 1 + 1 + 2
	lenReqRuntime  = 1 + 1 + 4
	lenReadyApp    = 1 + 1 + 4 + 8 + 6
	lenReadyBL     = 1 + 1 + 4 + 8 + 2
	lenReadyRT     = 1 + 1 + 4 + 8 + 4
	dataHeaderLen  = 4 + 2 // transaction_id + segment
	startFieldsLen = 4 + 4 + 2 + 1
	lenDataReq     = 4 + 2
	lenDataRsp     = 4 + 2 + SegmentLength
)

// Frame is a decoded inbound DFU packet. Exactly one of the typed payload
// fields is meaningful, selected by Kind — mirroring the original
// firmware's tagged union, without Go union types.
type Frame struct {
	Kind    PacketType
	FWID    FWIDPayload
	State   StatePayload
	Data    DataPayload
	DataReq DataReqPayload
	DataRsp DataRspPayload

	// raw retains the whole frame (kind byte included) for relay: building
	// a relay packet needs the original bytes after the transaction id.
	raw []byte
}

// FWIDPayload is the payload of a PacketFWID frame: the sender's own identity.
type FWIDPayload struct {
	FWID FWID
}

// StatePayload is the payload of a PacketState frame (REQ or READY).
type StatePayload struct {
	DfuType       DfuType
	Authority     uint8
	TransactionID uint32 // meaningful only when Authority > 0 (READY)
	MIC           uint64 // meaningful only when Authority > 0 (READY)
	Target        FWID   // only the component matching DfuType is populated
}

// DataPayload is the payload of a PacketData frame.
type DataPayload struct {
	TransactionID uint32
	Segment       uint16
	Bytes         []byte // payload bytes when Segment != 0

	// Start fields, meaningful only when Segment == 0.
	StartAddress    uint32
	LengthWords     uint32
	SignatureLength uint16
	Last            bool
}

// DataReqPayload is the payload of a PacketDataReq frame.
type DataReqPayload struct {
	TransactionID uint32
	Segment       uint16
}

// DataRspPayload is the payload of a PacketDataRsp frame.
type DataRspPayload struct {
	TransactionID uint32
	Segment       uint16
	Data          [SegmentLength]byte
}

// DecodeFrame parses an inbound DFU frame. Unknown kinds are reported as
// ErrUnknownKind; §4.3 says dispatch must drop these silently, which the
// caller (Bootloader.HandlePacket) does by treating the error as a no-op.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < 1 {
		return nil, ErrFrameTooShort
	}
	f := &Frame{Kind: PacketType(data[0]), raw: data}
	body := data[1:]

	switch f.Kind {
	case PacketFWID:
		if len(body) < lenFWID {
			return nil, ErrFrameTooShort
		}
		f.FWID.FWID = decodeFWID(body)
	case PacketState:
		if len(body) < 2 {
			return nil, ErrFrameTooShort
		}
		sp, err := decodeState(body)
		if err != nil {
			return nil, err
		}
		f.State = sp
	case PacketData:
		if len(body) < dataHeaderLen {
			return nil, ErrFrameTooShort
		}
		f.Data = decodeData(body)
	case PacketDataReq:
		if len(body) < lenDataReq {
			return nil, ErrFrameTooShort
		}
		f.DataReq = DataReqPayload{
			TransactionID: binary.LittleEndian.Uint32(body[0:4]),
			Segment:       binary.LittleEndian.Uint16(body[4:6]),
		}
	case PacketDataRsp:
		if len(body) < lenDataRsp {
			return nil, ErrFrameTooShort
		}
		var rsp DataRspPayload
		rsp.TransactionID = binary.LittleEndian.Uint32(body[0:4])
		rsp.Segment = binary.LittleEndian.Uint16(body[4:6])
		copy(rsp.Data[:], body[6:6+SegmentLength])
		f.DataRsp = rsp
	default:
		return nil, ErrUnknownKind
	}
	return f, nil
}

func decodeFWID(body []byte) FWID {
	return FWID{
		App: AppID{
			CompanyID: binary.LittleEndian.Uint16(body[0:2]),
			AppID:     binary.LittleEndian.Uint16(body[2:4]),
			Version:   binary.LittleEndian.Uint16(body[4:6]),
		},
		Bootloader: binary.LittleEndian.Uint16(body[6:8]),
		Runtime:    binary.LittleEndian.Uint32(body[8:12]),
	}
}

func decodeState(body []byte) (StatePayload, error) {
	var sp StatePayload
	sp.DfuType = DfuType(body[0])
	sp.Authority = body[1]
	rest := body[2:]

	if sp.Authority == 0 {
		// REQ: just the target id, sized per dfu_type.
		switch sp.DfuType {
		case DfuTypeApp:
			if len(rest) < 6 {
				return sp, ErrFrameTooShort
			}
			sp.Target.App = AppID{
				CompanyID: binary.LittleEndian.Uint16(rest[0:2]),
				AppID:     binary.LittleEndian.Uint16(rest[2:4]),
				Version:   binary.LittleEndian.Uint16(rest[4:6]),
			}
		case DfuTypeBootloader:
			if len(rest) < 2 {
				return sp, ErrFrameTooShort
			}
			sp.Target.Bootloader = binary.LittleEndian.Uint16(rest[0:2])
		case DfuTypeRuntime:
			if len(rest) < 4 {
				return sp, ErrFrameTooShort
			}
			sp.Target.Runtime = binary.LittleEndian.Uint32(rest[0:4])
		default:
			return sp, ErrUnknownDfuType
		}
		return sp, nil
	}

	// READY: transaction_id(4) + MIC(8) + id.
	if len(rest) < 12 {
		return sp, ErrFrameTooShort
	}
	sp.TransactionID = binary.LittleEndian.Uint32(rest[0:4])
	sp.MIC = binary.LittleEndian.Uint64(rest[4:12])
	idBytes := rest[12:]
	switch sp.DfuType {
	case DfuTypeApp:
		if len(idBytes) < 6 {
			return sp, ErrFrameTooShort
		}
		sp.Target.App = AppID{
			CompanyID: binary.LittleEndian.Uint16(idBytes[0:2]),
			AppID:     binary.LittleEndian.Uint16(idBytes[2:4]),
			Version:   binary.LittleEndian.Uint16(idBytes[4:6]),
		}
	case DfuTypeBootloader:
		if len(idBytes) < 2 {
			return sp, ErrFrameTooShort
		}
		sp.Target.Bootloader = binary.LittleEndian.Uint16(idBytes[0:2])
	case DfuTypeRuntime:
		if len(idBytes) < 4 {
			return sp, ErrFrameTooShort
		}
		sp.Target.Runtime = binary.LittleEndian.Uint32(idBytes[0:4])
	default:
		return sp, ErrUnknownDfuType
	}
	return sp, nil
}

func decodeData(body []byte) DataPayload {
	var dp DataPayload
	dp.TransactionID = binary.LittleEndian.Uint32(body[0:4])
	dp.Segment = binary.LittleEndian.Uint16(body[4:6])
	rest := body[6:]

	if dp.Segment == 0 && len(rest) >= startFieldsLen {
		dp.StartAddress = binary.LittleEndian.Uint32(rest[0:4])
		dp.LengthWords = binary.LittleEndian.Uint32(rest[4:8])
		dp.SignatureLength = binary.LittleEndian.Uint16(rest[8:10])
		dp.Last = rest[10] != 0
	} else {
		dp.Bytes = rest
	}
	return dp
}

// EncodeFWID builds the payload bytes (kind byte included) for a FWID beacon.
func EncodeFWID(fwid FWID) []byte {
	out := make([]byte, 1+lenFWID)
	out[0] = byte(PacketFWID)
	encodeFWIDInto(out[1:], fwid)
	return out
}

func encodeFWIDInto(body []byte, fwid FWID) {
	binary.LittleEndian.PutUint16(body[0:2], fwid.App.CompanyID)
	binary.LittleEndian.PutUint16(body[2:4], fwid.App.AppID)
	binary.LittleEndian.PutUint16(body[4:6], fwid.App.Version)
	binary.LittleEndian.PutUint16(body[6:8], fwid.Bootloader)
	binary.LittleEndian.PutUint32(body[8:12], fwid.Runtime)
}

// EncodeReq builds the payload bytes for a REQ (authority=0) state beacon.
func EncodeReq(dfuType DfuType, target FWID) []byte {
	switch dfuType {
	case DfuTypeApp:
		out := make([]byte, 1+lenReqApp)
		out[0] = byte(PacketState)
		out[1] = byte(dfuType)
		out[2] = 0
		binary.LittleEndian.PutUint16(out[3:5], target.App.CompanyID)
		binary.LittleEndian.PutUint16(out[5:7], target.App.AppID)
		binary.LittleEndian.PutUint16(out[7:9], target.App.Version)
		return out
	case DfuTypeBootloader:
		out := make([]byte, 1+lenReqBL)
		out[0] = byte(PacketState)
		out[1] = byte(dfuType)
		out[2] = 0
		binary.LittleEndian.PutUint16(out[3:5], target.Bootloader)
		return out
	default: // DfuTypeRuntime
		out := make([]byte, 1+lenReqRuntime)
		out[0] = byte(PacketState)
		out[1] = byte(dfuType)
		out[2] = 0
		binary.LittleEndian.PutUint32(out[3:7], target.Runtime)
		return out
	}
}

// EncodeReady builds the payload bytes for a READY (authority>0) state beacon.
func EncodeReady(dfuType DfuType, authority uint8, tid uint32, mic uint64, target FWID) []byte {
	header := func(size int) []byte {
		out := make([]byte, 1+size)
		out[0] = byte(PacketState)
		out[1] = byte(dfuType)
		out[2] = authority
		binary.LittleEndian.PutUint32(out[3:7], tid)
		binary.LittleEndian.PutUint64(out[7:15], mic)
		return out
	}

	switch dfuType {
	case DfuTypeApp:
		out := header(lenReadyApp)
		binary.LittleEndian.PutUint16(out[15:17], target.App.CompanyID)
		binary.LittleEndian.PutUint16(out[17:19], target.App.AppID)
		binary.LittleEndian.PutUint16(out[19:21], target.App.Version)
		return out
	case DfuTypeBootloader:
		out := header(lenReadyBL)
		binary.LittleEndian.PutUint16(out[15:17], target.Bootloader)
		return out
	default: // DfuTypeRuntime
		out := header(lenReadyRT)
		binary.LittleEndian.PutUint32(out[15:19], target.Runtime)
		return out
	}
}

// EncodeDataRsp builds the payload bytes for a DATA_RSP beacon.
func EncodeDataRsp(tid uint32, segment uint16, data []byte) []byte {
	out := make([]byte, 1+lenDataRsp)
	out[0] = byte(PacketDataRsp)
	binary.LittleEndian.PutUint32(out[1:5], tid)
	binary.LittleEndian.PutUint16(out[5:7], segment)
	copy(out[7:7+SegmentLength], data)
	return out
}

// EncodeDataRelay rebuilds the DATA frame bytes for relay, preserving the
// transaction id, segment, and payload of the original frame.
func EncodeDataRelay(f *Frame) []byte {
	body := f.raw[1+dataHeaderLen:]
	out := make([]byte, 1+dataHeaderLen+len(body))
	out[0] = byte(PacketData)
	binary.LittleEndian.PutUint32(out[1:5], f.Data.TransactionID)
	binary.LittleEndian.PutUint16(out[5:7], f.Data.Segment)
	copy(out[7:], body)
	return out
}
