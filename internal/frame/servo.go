// Package frame implements the wire codecs for the three protocols the
// core speaks: the RS485 servo protocol, the IMU binary frame, and GNSS
// UBX binary frames (GNSS NMEA text is handled in internal/sensor/gnss via
// a third-party parser; see SPEC_FULL.md §4). Every function here is a
// pure transform over bytes — no I/O, following the teacher's
// hardware/topgnss/top708/parser.go shape (NMEAParser.Parse,
// UBXParser.Parse: deterministic functions returning a Valid flag).
package frame

import (
	"fmt"

	"github.com/aetherlink/groundstation/internal/model"
)

// Servo opcodes (spec §6, "must be supported exactly").
const (
	CmdCarryEncoder      byte = 0x30
	CmdAdditionEncoder   byte = 0x31
	CmdRPM               byte = 0x32
	CmdPulses            byte = 0x33
	CmdIORead            byte = 0x34
	CmdRawEncoder        byte = 0x35
	CmdIOWrite           byte = 0x36
	CmdAngleError        byte = 0x39
	CmdEnableStatus      byte = 0x3A
	CmdHomeStatus        byte = 0x3B
	CmdReleaseLockedRotor byte = 0x3D
	CmdStallFlag         byte = 0x3E
	CmdVersion           byte = 0x40
	CmdAllParameters     byte = 0x47
	CmdStatusBundle      byte = 0x48
	// 0x80-0x9E: configuration opcodes (working current, holding
	// current, microstep, mode, EN polarity, direction, key lock, stall
	// protect, microstep interpolation, baud rate, bus address, PID,
	// start/stop acceleration, homing parameters). Individual commands
	// are named below for the ones this core issues directly.
	CmdConfigWorkingCurrent byte = 0x80
	CmdConfigHoldingCurrent byte = 0x81
	CmdConfigMicrostep      byte = 0x82
	CmdConfigMode           byte = 0x83
	CmdConfigLimitHomeParams byte = 0x90
	CmdConfigStallHomeParams byte = 0x91
	CmdExecuteHome          byte = 0x92
	CmdSetZero              byte = 0x93
	CmdRestoreFactory       byte = 0x9E

	CmdEnableDisable  byte = 0xF3
	CmdRelativeAxis   byte = 0xF4
	CmdAbsoluteAxis   byte = 0xF5
	CmdSpeedMode      byte = 0xF6
	CmdEmergencyStop  byte = 0xF7
	CmdRelativePulse  byte = 0xFD
	CmdAbsolutePulse  byte = 0xFE
	CmdSaveOnPower    byte = 0xFF
)

// RequestHeader and ReplyHeader are the frame markers. The spec treats
// the header as configurable per direction (older docs used 0xFB for
// replies); this core defaults both directions to 0xFA, matching modern
// firmware, but Decode accepts any header the caller configures via
// Codec.ReplyHeader.
const (
	DefaultRequestHeader byte = 0xFA
	DefaultReplyHeader   byte = 0xFA
)

// Codec encodes requests and decodes responses for one bus direction.
// It never performs I/O.
type Codec struct {
	RequestHeader byte
	ReplyHeader   byte
}

// NewCodec returns a Codec configured with the protocol's default
// headers.
func NewCodec() Codec {
	return Codec{RequestHeader: DefaultRequestHeader, ReplyHeader: DefaultReplyHeader}
}

// checksum is the low byte of the sum of all preceding bytes (spec I2).
func checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}

// Encode builds a request frame: header, address, command, payload,
// checksum.
func (c Codec) Encode(addr, cmd byte, payload []byte) []byte {
	buf := make([]byte, 0, 4+len(payload))
	buf = append(buf, c.RequestHeader, addr, cmd)
	buf = append(buf, payload...)
	buf = append(buf, checksum(buf))
	return buf
}

// Response is the decoded logical content of a reply frame.
type Response struct {
	Addr    byte
	Cmd     byte
	Payload []byte
}

// Decode validates header, checksum and address, and extracts the
// logical {addr, cmd, payload} from a response frame. expectedAddr is the
// destination address the request was sent to; a reply claiming a
// different address is a protocol error (spec: "unsolicited bus traffic
// is a protocol error").
func (c Codec) Decode(b []byte, expectedAddr byte) (Response, error) {
	if len(b) < 4 {
		return Response{}, fmt.Errorf("decode: %w", model.ErrTruncated)
	}
	if b[0] != c.ReplyHeader {
		return Response{}, fmt.Errorf("decode: header 0x%02X want 0x%02X: %w", b[0], c.ReplyHeader, model.ErrBadHeader)
	}
	got := checksum(b[:len(b)-1])
	want := b[len(b)-1]
	if got != want {
		return Response{}, fmt.Errorf("decode: checksum 0x%02X want 0x%02X: %w", got, want, model.ErrBadChecksum)
	}
	if b[1] != expectedAddr {
		return Response{}, fmt.Errorf("decode: addr 0x%02X want 0x%02X: %w", b[1], expectedAddr, model.ErrDecodeAddrMismatch)
	}

	return Response{
		Addr:    b[1],
		Cmd:     b[2],
		Payload: append([]byte(nil), b[3:len(b)-1]...),
	}, nil
}
