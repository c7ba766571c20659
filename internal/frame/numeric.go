package frame

// Numeric conversions (spec §4.1 "Numeric semantics"). All arithmetic is
// done in int64/float64 to avoid overflow on 48-bit accumulated encoder
// values, per spec.

const (
	// CountsPerRev is the encoder counts in one revolution.
	CountsPerRev int64 = 16384
	// stepsPerRevBase is the pulse count for microstep=1 (i.e. "200 full
	// steps per revolution" before multiplying by microstep).
	stepsPerRevBase = 200
)

// CountsToAngle converts an accumulated encoder count to degrees.
func CountsToAngle(counts int64) float64 {
	return float64(counts) * 360.0 / float64(CountsPerRev)
}

// AngleToCounts converts degrees to an encoder count, rounding to the
// nearest count.
func AngleToCounts(angleDeg float64) int64 {
	return int64(angleDeg*float64(CountsPerRev)/360.0 + signCopy(angleDeg, 0.5))
}

func signCopy(x, mag float64) float64 {
	if x < 0 {
		return -mag
	}
	return mag
}

// PulsesPerRev returns pulses-per-revolution for a given microstep
// setting, applying the spec's "0 means 256" encoding.
func PulsesPerRev(microstep int) int64 {
	ms := microstep
	if ms == 0 {
		ms = 256
	}
	return int64(ms) * stepsPerRevBase
}

// AngleToPulses converts degrees to pulses given the current microstep
// setting.
func AngleToPulses(angleDeg float64, microstep int) int32 {
	pulsesPerRev := PulsesPerRev(microstep)
	return int32(angleDeg * float64(pulsesPerRev) / 360.0)
}

// PulsesToAngle converts pulses to degrees given the current microstep
// setting.
func PulsesToAngle(pulses int32, microstep int) float64 {
	pulsesPerRev := PulsesPerRev(microstep)
	return float64(pulses) * 360.0 / float64(pulsesPerRev)
}

// RPMToDegPerSec converts a commanded/observed RPM to degrees/second.
func RPMToDegPerSec(rpm int) float64 {
	return float64(rpm) * 6.0
}

// DegPerSecToRPM converts degrees/second to RPM.
func DegPerSecToRPM(degPerSec float64) float64 {
	return degPerSec / 6.0
}

// EncodeSpeedWord packs an RPM magnitude and direction into the 16-bit
// speed word used by motion commands: low 15 bits = RPM magnitude
// (1..3000), top bit = direction (0=forward, 1=reverse).
func EncodeSpeedWord(rpm int, reverse bool) uint16 {
	word := uint16(rpm) & 0x7FFF
	if reverse {
		word |= 0x8000
	}
	return word
}

// DecodeSpeedWord unpacks a speed word into RPM magnitude and direction.
func DecodeSpeedWord(word uint16) (rpm int, reverse bool) {
	return int(word & 0x7FFF), word&0x8000 != 0
}

// sext48 sign-extends a 48-bit two's-complement value (top byte of the
// 6-byte big-endian encoding >= 0x80 means negative) held in an int64.
func sext48(v int64) int64 {
	const bit = int64(1) << 47
	if v&bit != 0 {
		return v - (int64(1) << 48)
	}
	return v
}
