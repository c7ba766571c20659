package frame

import "fmt"

// ParseEncoder48 decodes a 48-bit signed encoder value (carry-encoder or
// addition-encoder response payload), sign-extending when the top byte is
// >= 0x80 (spec boundary behavior: 80 00 00 00 00 00 decodes to the
// minimum negative value).
func ParseEncoder48(payload []byte) (int64, error) {
	if len(payload) < 6 {
		return 0, fmt.Errorf("parse encoder48: %w", errShortPayload(6, len(payload)))
	}
	var v int64
	for i := 0; i < 6; i++ {
		v = v<<8 | int64(payload[i])
	}
	return sext48(v), nil
}

// ParsePulses decodes a 32-bit signed pulse count.
func ParsePulses(payload []byte) (int32, error) {
	if len(payload) < 4 {
		return 0, fmt.Errorf("parse pulses: %w", errShortPayload(4, len(payload)))
	}
	v := uint32(payload[0])<<24 | uint32(payload[1])<<16 | uint32(payload[2])<<8 | uint32(payload[3])
	return int32(v), nil
}

// ParseRPM decodes a 16-bit signed RPM value.
func ParseRPM(payload []byte) (int16, error) {
	if len(payload) < 2 {
		return 0, fmt.Errorf("parse rpm: %w", errShortPayload(2, len(payload)))
	}
	v := uint16(payload[0])<<8 | uint16(payload[1])
	return int16(v), nil
}

// ParseAngleError decodes a 16-bit signed angle-error count. The servo
// reports this in the same encoder-count domain as CmdCarryEncoder; the
// caller converts to degrees with CountsToAngle.
func ParseAngleError(payload []byte) (int64, error) {
	rpm, err := ParseRPM(payload)
	if err != nil {
		return 0, fmt.Errorf("parse angle error: %w", err)
	}
	return int64(rpm), nil
}

// IOBitmap is the decoded I/O state: bit 0=IN1, 1=IN2, 2=OUT1, 3=OUT2.
type IOBitmap byte

func (b IOBitmap) IN1() bool  { return b&0x01 != 0 }
func (b IOBitmap) IN2() bool  { return b&0x02 != 0 }
func (b IOBitmap) OUT1() bool { return b&0x04 != 0 }
func (b IOBitmap) OUT2() bool { return b&0x08 != 0 }

// ParseIOBitmap decodes the I/O bitmap response.
func ParseIOBitmap(payload []byte) (IOBitmap, error) {
	if len(payload) < 1 {
		return 0, fmt.Errorf("parse io bitmap: %w", errShortPayload(1, len(payload)))
	}
	return IOBitmap(payload[0]), nil
}

// StatusBundle is the parsed response to CmdStatusBundle (0x48): the
// preferred single-query telemetry source, a fixed 31-byte layout.
type StatusBundle struct {
	CarryEncoder int64
	RPM          int16
	Pulses       int32
	IO           IOBitmap
	AngleError   int64
	Enabled      bool
	Homed        bool
	Stalled      bool
}

// StatusBundleLen is the fixed wire length of the status bundle payload.
const StatusBundleLen = 31

// ParseStatusBundle decodes the 31-byte packed status record: encoder (6
// bytes), RPM (2 bytes), pulses (4 bytes), I/O (1 byte), angle error (2
// bytes), enable/home/stall flags (1 byte each), with the remainder
// reserved/padding to fill the fixed 31-byte layout.
func ParseStatusBundle(payload []byte) (StatusBundle, error) {
	if len(payload) < StatusBundleLen {
		return StatusBundle{}, fmt.Errorf("parse status bundle: %w", errShortPayload(StatusBundleLen, len(payload)))
	}

	enc, err := ParseEncoder48(payload[0:6])
	if err != nil {
		return StatusBundle{}, err
	}
	rpm, err := ParseRPM(payload[6:8])
	if err != nil {
		return StatusBundle{}, err
	}
	pulses, err := ParsePulses(payload[8:12])
	if err != nil {
		return StatusBundle{}, err
	}
	io, err := ParseIOBitmap(payload[12:13])
	if err != nil {
		return StatusBundle{}, err
	}
	angleErr, err := ParseAngleError(payload[13:15])
	if err != nil {
		return StatusBundle{}, err
	}

	return StatusBundle{
		CarryEncoder: enc,
		RPM:          rpm,
		Pulses:       pulses,
		IO:           io,
		AngleError:   angleErr,
		Enabled:      payload[15] != 0,
		Homed:        payload[16] != 0,
		Stalled:      payload[17] != 0,
	}, nil
}

// AllParameters is the parsed response to CmdAllParameters (0x47), a
// fixed 38-byte layout covering the configuration surface a caller can
// query in one transaction.
type AllParameters struct {
	WorkingCurrentMA int
	HoldingCurrentMA int
	Microstep        int
	Mode             byte
	EnablePolarity   byte
	Direction        byte
	KeyLocked        bool
	StallProtect     bool
	MicrostepInterp  bool
	BaudRate         int
	BusAddress       byte
	Kp, Ki, Kd       float64
}

// AllParametersLen is the fixed wire length of the all-parameters
// payload.
const AllParametersLen = 38

// baudTable maps the wire-encoded baud index to an actual baud rate,
// following the configurable catalog in spec §6.
var baudTable = []int{9600, 19200, 25000, 38400, 57600, 115200, 256000}

// ParseAllParameters decodes the 38-byte all-parameters bundle.
func ParseAllParameters(payload []byte) (AllParameters, error) {
	if len(payload) < AllParametersLen {
		return AllParameters{}, fmt.Errorf("parse all parameters: %w", errShortPayload(AllParametersLen, len(payload)))
	}

	baudIdx := int(payload[11])
	baud := 0
	if baudIdx >= 0 && baudIdx < len(baudTable) {
		baud = baudTable[baudIdx]
	}

	microstep := int(payload[4])
	if microstep == 0 {
		microstep = 256
	}

	return AllParameters{
		WorkingCurrentMA: int(payload[0])<<8 | int(payload[1]),
		HoldingCurrentMA: int(payload[2])<<8 | int(payload[3]),
		Microstep:        microstep,
		Mode:             payload[5],
		EnablePolarity:   payload[6],
		Direction:        payload[7],
		KeyLocked:        payload[8] != 0,
		StallProtect:     payload[9] != 0,
		MicrostepInterp:  payload[10] != 0,
		BaudRate:         baud,
		BusAddress:       payload[12],
		Kp:               float64(int16(uint16(payload[13])<<8|uint16(payload[14]))) / 100.0,
		Ki:               float64(int16(uint16(payload[15])<<8|uint16(payload[16]))) / 100.0,
		Kd:               float64(int16(uint16(payload[17])<<8|uint16(payload[18]))) / 100.0,
	}, nil
}

func errShortPayload(want, got int) error {
	return fmt.Errorf("payload too short: want >= %d bytes, got %d", want, got)
}
