package frame

import "fmt"

// IMU packet IDs (spec §4.4 / §6): 0x50..0x5A cover accelerometer, gyro,
// Euler angles, magnetometer, quaternion, pressure/altitude and GPS
// auxiliary data.
const (
	IMUHeader byte = 0x55

	PacketAccel     byte = 0x51
	PacketGyro      byte = 0x52
	PacketEuler     byte = 0x53
	PacketMag       byte = 0x54
	PacketPressure  byte = 0x56
	PacketGPSAux    byte = 0x57
	PacketQuaternion byte = 0x59
)

// IMUFrameLen is the fixed length of one IMU frame: header + packet-id +
// 8 data bytes + checksum.
const IMUFrameLen = 11

// IMUFrame is the decoded IMU wire frame.
type IMUFrame struct {
	PacketID byte
	Data     [8]byte
}

// DecodeIMUFrame validates and decodes one 11-byte IMU frame. Checksum is
// the low byte of the sum of the first 10 bytes (spec §6).
func DecodeIMUFrame(b []byte) (IMUFrame, error) {
	if len(b) < IMUFrameLen {
		return IMUFrame{}, fmt.Errorf("imu frame: %w", errShortPayload(IMUFrameLen, len(b)))
	}
	if b[0] != IMUHeader {
		return IMUFrame{}, fmt.Errorf("imu frame: header 0x%02X: %w", b[0], errBadIMUHeader)
	}
	got := checksum(b[:10])
	if got != b[10] {
		return IMUFrame{}, fmt.Errorf("imu frame: checksum 0x%02X want 0x%02X: %w", got, b[10], errBadIMUChecksum)
	}
	var f IMUFrame
	f.PacketID = b[1]
	copy(f.Data[:], b[2:10])
	return f, nil
}

var (
	errBadIMUHeader   = fmt.Errorf("bad imu header")
	errBadIMUChecksum = fmt.Errorf("bad imu checksum")
)

// IMU configuration bracket sequences (spec §4.4 / §6). Every
// configuration command sent to the IMU must be wrapped between Unlock
// and Lock.
var (
	IMUUnlock = []byte{0xFF, 0xAA, 0x69, 0x88, 0xB5}
	IMULock   = []byte{0xFF, 0xAA, 0x6A, 0xB5, 0x88}
)

// int16At reads a little-endian signed 16-bit value from the IMU data
// payload at the given offset — the wire layout used by packets carrying
// two or more 16-bit channels (accel, gyro, mag: x,y,z + reserved).
func int16At(data [8]byte, offset int) int16 {
	return int16(uint16(data[offset]) | uint16(data[offset+1])<<8)
}

// Accel decodes an accelerometer packet (0x51): x,y,z in units of g/32768
// scaled by 16g, matching the common proprietary IMU convention.
func (f IMUFrame) Accel() (x, y, z float64) {
	const scale = 16.0 / 32768.0
	return float64(int16At(f.Data, 0)) * scale,
		float64(int16At(f.Data, 2)) * scale,
		float64(int16At(f.Data, 4)) * scale
}

// Gyro decodes a gyroscope packet (0x52): x,y,z in deg/s, scaled by
// 2000 deg/s full scale.
func (f IMUFrame) Gyro() (x, y, z float64) {
	const scale = 2000.0 / 32768.0
	return float64(int16At(f.Data, 0)) * scale,
		float64(int16At(f.Data, 2)) * scale,
		float64(int16At(f.Data, 4)) * scale
}

// Euler decodes an Euler-angle packet (0x53): roll,pitch,yaw in degrees,
// scaled by 180 deg full scale.
func (f IMUFrame) Euler() (roll, pitch, yaw float64) {
	const scale = 180.0 / 32768.0
	return float64(int16At(f.Data, 0)) * scale,
		float64(int16At(f.Data, 2)) * scale,
		float64(int16At(f.Data, 4)) * scale
}

// Mag decodes a magnetometer packet (0x54): raw x,y,z counts.
func (f IMUFrame) Mag() (x, y, z int16) {
	return int16At(f.Data, 0), int16At(f.Data, 2), int16At(f.Data, 4)
}

// Pressure decodes a pressure/altitude packet (0x56): pressure in Pa
// (32-bit) and altitude in meters (derived by the caller, not carried on
// the wire).
func (f IMUFrame) Pressure() uint32 {
	return uint32(f.Data[0]) | uint32(f.Data[1])<<8 | uint32(f.Data[2])<<16 | uint32(f.Data[3])<<24
}
