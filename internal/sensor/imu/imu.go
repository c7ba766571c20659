// Package imu drives the attitude/heading IMU (spec §4.4): frame demux,
// baud auto-detection, compass fusion with tilt compensation, and the
// unlock/lock-bracketed configuration path. Grounded on the teacher's
// TOP708Device connection/verification shape
// (hardware/topgnss/top708/top708.go Connect/VerifyConnection,
// ConnectWithContext racing a result channel against ctx.Done()),
// adapted from NMEA text framing to the IMU's fixed 11-byte binary frame
// in internal/frame.
package imu

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/aetherlink/groundstation/internal/frame"
	"github.com/aetherlink/groundstation/internal/obslog"
	"github.com/aetherlink/groundstation/internal/serialport"
)

// candidateBauds is the auto-detection order (spec §4.4 "attempt 9600,
// then 115200").
var candidateBauds = []int{9600, 115200}

// settleWindow is how long a baud candidate is given to produce a valid
// frame before moving to the next candidate.
const settleWindow = 1 * time.Second

// Reading is the latest decoded state the Reader exposes to callers.
type Reading struct {
	AccelX, AccelY, AccelZ float64
	GyroX, GyroY, GyroZ    float64
	Roll, Pitch, Yaw       float64
	MagX, MagY, MagZ       int16
	UpdatedAt              time.Time
}

// Reader owns one IMU serial connection and continuously demuxes
// incoming frames into the latest per-packet reading.
type Reader struct {
	port serialport.Port
	log  obslog.Logger

	declinationDeg float64

	mu        sync.Mutex
	reading   Reading
	connected bool
	baudRate  int

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs an IMU Reader. declinationDeg is the local magnetic
// declination applied by Heading (spec §4.4 "compass fusion ... with
// declination").
func New(port serialport.Port, declinationDeg float64, log obslog.Logger) *Reader {
	if log == nil {
		log = obslog.Noop{}
	}
	return &Reader{
		port:           port,
		log:            log.WithField("component", "imu"),
		declinationDeg: declinationDeg,
	}
}

// Open auto-detects the IMU's baud rate by trying each candidate in turn
// and watching for up to settleWindow for one valid frame, then starts the
// background demux loop (spec §4.4 baud auto-detection).
func (r *Reader) Open(ctx context.Context, portName string) error {
	for _, baud := range candidateBauds {
		if err := r.port.Open(portName, baud); err != nil {
			r.log.Warnf("open %s at %d: %v", portName, baud, err)
			continue
		}
		if r.probe(ctx) {
			r.mu.Lock()
			r.connected = true
			r.baudRate = baud
			r.mu.Unlock()
			r.log.Infof("imu connected on %s at %d baud", portName, baud)
			r.stopCh = make(chan struct{})
			r.doneCh = make(chan struct{})
			go r.run()
			return nil
		}
		_ = r.port.Close()
	}
	return fmt.Errorf("imu: no candidate baud rate produced a valid frame on %s", portName)
}

// probe reads for up to settleWindow watching for one complete, valid
// frame, racing the deadline against ctx the way the teacher's
// VerifyConnectionWithContext races a result channel against ctx.Done().
func (r *Reader) probe(ctx context.Context) bool {
	resultCh := make(chan bool, 1)
	go func() {
		_ = r.port.SetReadTimeout(100 * time.Millisecond)
		buf := make([]byte, 256)
		var acc []byte
		deadline := time.Now().Add(settleWindow)
		for time.Now().Before(deadline) {
			n, err := r.port.Read(buf)
			if err != nil || n == 0 {
				continue
			}
			acc = append(acc, buf[:n]...)
			for len(acc) >= frame.IMUFrameLen {
				idx := indexOf(acc, frame.IMUHeader)
				if idx < 0 {
					acc = acc[:0]
					break
				}
				acc = acc[idx:]
				if len(acc) < frame.IMUFrameLen {
					break
				}
				if _, err := frame.DecodeIMUFrame(acc[:frame.IMUFrameLen]); err == nil {
					resultCh <- true
					return
				}
				acc = acc[1:]
			}
		}
		resultCh <- false
	}()

	select {
	case <-ctx.Done():
		return false
	case ok := <-resultCh:
		return ok
	}
}

func indexOf(b []byte, v byte) int {
	for i, c := range b {
		if c == v {
			return i
		}
	}
	return -1
}

// run is the background demux loop: it accumulates bytes, extracts
// complete frames and updates the cached reading per packet ID.
func (r *Reader) run() {
	defer close(r.doneCh)
	_ = r.port.SetReadTimeout(200 * time.Millisecond)
	buf := make([]byte, 256)
	var acc []byte

	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		n, err := r.port.Read(buf)
		if err != nil {
			continue
		}
		if n == 0 {
			continue
		}
		acc = append(acc, buf[:n]...)

		for len(acc) >= frame.IMUFrameLen {
			idx := indexOf(acc, frame.IMUHeader)
			if idx < 0 {
				acc = acc[:0]
				break
			}
			if idx > 0 {
				acc = acc[idx:]
			}
			if len(acc) < frame.IMUFrameLen {
				break
			}
			f, err := frame.DecodeIMUFrame(acc[:frame.IMUFrameLen])
			if err != nil {
				acc = acc[1:]
				continue
			}
			acc = acc[frame.IMUFrameLen:]
			r.apply(f)
		}
	}
}

func (r *Reader) apply(f frame.IMUFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	switch f.PacketID {
	case frame.PacketAccel:
		r.reading.AccelX, r.reading.AccelY, r.reading.AccelZ = f.Accel()
	case frame.PacketGyro:
		r.reading.GyroX, r.reading.GyroY, r.reading.GyroZ = f.Gyro()
	case frame.PacketEuler:
		r.reading.Roll, r.reading.Pitch, r.reading.Yaw = f.Euler()
	case frame.PacketMag:
		r.reading.MagX, r.reading.MagY, r.reading.MagZ = f.Mag()
	default:
		return
	}
	r.reading.UpdatedAt = now
}

// Reading returns the most recently assembled state across all packet
// types.
func (r *Reader) Reading() Reading {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reading
}

// Heading computes a tilt-compensated compass heading in [0,360) degrees
// from the latest magnetometer and Euler readings, applying local
// declination (spec §4.4 "heading = atan2(-my_cal, mx_cal) normalized to
// [0,360), then corrected by declination").
func (r *Reader) Heading() float64 {
	r.mu.Lock()
	mx, my, mz := float64(r.reading.MagX), float64(r.reading.MagY), float64(r.reading.MagZ)
	rollDeg, pitchDeg := r.reading.Roll, r.reading.Pitch
	r.mu.Unlock()

	roll := rollDeg * math.Pi / 180.0
	pitch := pitchDeg * math.Pi / 180.0

	mxCal := mx*math.Cos(pitch) + mz*math.Sin(pitch)
	myCal := mx*math.Sin(roll)*math.Sin(pitch) + my*math.Cos(roll) - mz*math.Sin(roll)*math.Cos(pitch)

	headingRad := math.Atan2(-myCal, mxCal)
	headingDeg := headingRad*180.0/math.Pi + r.declinationDeg
	headingDeg = math.Mod(headingDeg, 360.0)
	if headingDeg < 0 {
		headingDeg += 360.0
	}
	return headingDeg
}

// Configure sends a list of configuration command payloads wrapped in
// the IMU's unlock/lock bracket. It is only ever invoked on an explicit
// operator request, never automatically after Open, since re-locking the
// unit mid-stream would otherwise race the demux loop (spec decision,
// SPEC_FULL.md §12).
func (r *Reader) Configure(cmds [][]byte) error {
	if _, err := r.port.Write(frame.IMUUnlock); err != nil {
		return fmt.Errorf("imu: unlock: %w", err)
	}
	for _, c := range cmds {
		if _, err := r.port.Write(c); err != nil {
			return fmt.Errorf("imu: configure: %w", err)
		}
	}
	if _, err := r.port.Write(frame.IMULock); err != nil {
		return fmt.Errorf("imu: lock: %w", err)
	}
	return nil
}

// Connected reports whether Open succeeded and the demux loop is
// running.
func (r *Reader) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// Close stops the demux loop and closes the serial port.
func (r *Reader) Close() error {
	r.mu.Lock()
	connected := r.connected
	r.connected = false
	r.mu.Unlock()
	if !connected {
		return nil
	}
	close(r.stopCh)
	select {
	case <-r.doneCh:
	case <-time.After(time.Second):
	}
	return r.port.Close()
}
