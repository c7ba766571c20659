package frame

import "encoding/binary"

// The functions in this file build request payloads for the motion,
// query and configuration opcodes this core issues. Each mirrors the
// teacher's command-building shape (build a small fixed-format payload,
// let Codec.Encode append the checksum) generalized from NMEA/PMTK text
// commands to the binary servo protocol.

// SpeedModePayload builds the payload for CmdSpeedMode: a 16-bit speed
// word (see EncodeSpeedWord) plus acceleration byte.
func SpeedModePayload(rpm int, reverse bool, accel byte) []byte {
	word := EncodeSpeedWord(rpm, reverse)
	buf := make([]byte, 3)
	binary.BigEndian.PutUint16(buf[0:2], word)
	buf[2] = accel
	return buf
}

// AbsoluteAxisPayload builds the payload for CmdAbsoluteAxis: target
// encoder counts (48-bit, big-endian) plus a speed word and acceleration.
func AbsoluteAxisPayload(targetCounts int64, rpm int, accel byte) []byte {
	buf := make([]byte, 9)
	putInt48(buf[0:6], targetCounts)
	word := EncodeSpeedWord(rpm, false)
	binary.BigEndian.PutUint16(buf[6:8], word)
	buf[8] = accel
	return buf
}

// RelativeAxisPayload builds the payload for CmdRelativeAxis: a signed
// delta in encoder counts plus a speed word and acceleration.
func RelativeAxisPayload(deltaCounts int64, rpm int, reverse bool, accel byte) []byte {
	buf := make([]byte, 9)
	putInt48(buf[0:6], deltaCounts)
	word := EncodeSpeedWord(rpm, reverse)
	binary.BigEndian.PutUint16(buf[6:8], word)
	buf[8] = accel
	return buf
}

// RelativePulsePayload and AbsolutePulsePayload mirror the axis-move
// commands but operate in raw pulse units, for callers working directly
// in the servo's pulse domain instead of degrees.
func RelativePulsePayload(deltaPulses int32, rpm int, reverse bool, accel byte) []byte {
	buf := make([]byte, 7)
	binary.BigEndian.PutUint32(buf[0:4], uint32(deltaPulses))
	word := EncodeSpeedWord(rpm, reverse)
	binary.BigEndian.PutUint16(buf[4:6], word)
	buf[6] = accel
	return buf
}

func AbsolutePulsePayload(targetPulses int32, rpm int, accel byte) []byte {
	buf := make([]byte, 7)
	binary.BigEndian.PutUint32(buf[0:4], uint32(targetPulses))
	word := EncodeSpeedWord(rpm, false)
	binary.BigEndian.PutUint16(buf[4:6], word)
	buf[6] = accel
	return buf
}

// EmergencyStopPayload builds the (empty) payload for CmdEmergencyStop.
func EmergencyStopPayload() []byte { return nil }

// ReleaseLockedRotorPayload builds the (empty) payload for
// CmdReleaseLockedRotor.
func ReleaseLockedRotorPayload() []byte { return nil }

// SetZeroPayload builds the (empty) payload for CmdSetZero.
func SetZeroPayload() []byte { return nil }

// ExecuteHomePayload builds the (empty) payload for CmdExecuteHome.
func ExecuteHomePayload() []byte { return nil }

// WorkingCurrentPayload builds the payload for CmdConfigWorkingCurrent: a
// 16-bit milliamp value.
func WorkingCurrentPayload(ma int) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(ma))
	return buf
}

// MicrostepPayload builds the payload for CmdConfigMicrostep, applying
// the spec's "0 means 256" wire encoding.
func MicrostepPayload(microstep int) []byte {
	v := microstep
	if v == 256 {
		v = 0
	}
	return []byte{byte(v)}
}

// LimitHomeParamsPayload builds the payload for CmdConfigLimitHomeParams:
// trigger polarity, seek direction, seek speed (RPM), end-limit enable.
func LimitHomeParamsPayload(triggerHigh bool, reverse bool, seekRPM int, endLimitEnable bool) []byte {
	buf := make([]byte, 4)
	if triggerHigh {
		buf[0] = 1
	}
	if reverse {
		buf[1] = 1
	}
	binary.BigEndian.PutUint16(buf[2:4], uint16(seekRPM))
	// end-limit enable packed into the high bit of the speed word's
	// reserved byte would collide with RPM; encode as a trailing byte
	// instead to keep the field unambiguous.
	if endLimitEnable {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

// StallHomeParamsPayload builds the payload for CmdConfigStallHomeParams:
// reduced seek current (mA) and backoff angle (encoder counts).
func StallHomeParamsPayload(seekCurrentMA int, backoffCounts int32) []byte {
	buf := make([]byte, 6)
	binary.BigEndian.PutUint16(buf[0:2], uint16(seekCurrentMA))
	binary.BigEndian.PutUint32(buf[2:6], uint32(backoffCounts))
	return buf
}

func putInt48(b []byte, v int64) {
	uv := uint64(v) & 0xFFFFFFFFFFFF
	b[0] = byte(uv >> 40)
	b[1] = byte(uv >> 32)
	b[2] = byte(uv >> 24)
	b[3] = byte(uv >> 16)
	b[4] = byte(uv >> 8)
	b[5] = byte(uv)
}
