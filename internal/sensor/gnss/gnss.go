// Package gnss drives the GNSS receiver (spec §4.4): line-oriented NMEA
// parsing via github.com/adrianmo/go-nmea, with an optional UBX binary
// path using internal/frame's UBX parser when the receiver is configured
// for u-blox binary output. Grounded on the teacher's
// hardware/topgnss/top708 read-loop shape (VerifyConnection scanning for
// "$GN"/"$GP" prefixes, ReadRaw accumulating bytes) generalized from a
// presence check to full sentence decoding.
package gnss

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adrianmo/go-nmea"

	"github.com/aetherlink/groundstation/internal/frame"
	"github.com/aetherlink/groundstation/internal/model"
	"github.com/aetherlink/groundstation/internal/obslog"
	"github.com/aetherlink/groundstation/internal/serialport"
)

// Fix is the latest GNSS position/fix state.
type Fix struct {
	Quality      model.FixQuality
	LatitudeDeg  float64
	LongitudeDeg float64
	AltitudeM    float64
	SpeedKnots   float64
	CourseDeg    float64
	Satellites   int64
	HDOP         float64
	UpdatedAt    time.Time
}

// Reader owns one GNSS serial connection and maintains the latest
// decoded fix.
type Reader struct {
	port serialport.Port
	log  obslog.Logger

	mu   sync.Mutex
	fix  Fix
	open bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a GNSS Reader.
func New(port serialport.Port, log obslog.Logger) *Reader {
	if log == nil {
		log = obslog.Noop{}
	}
	return &Reader{
		port: port,
		log:  log.WithField("component", "gnss"),
	}
}

// Open opens the serial port at the given baud and starts the background
// line/frame demux loop.
func (r *Reader) Open(portName string, baudRate int) error {
	if err := r.port.Open(portName, baudRate); err != nil {
		return fmt.Errorf("gnss: open %s: %w", portName, err)
	}
	r.mu.Lock()
	r.open = true
	r.mu.Unlock()
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	go r.run()
	return nil
}

// Fix returns the most recently decoded fix.
func (r *Reader) Fix() Fix {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fix
}

// run accumulates bytes from the port and demultiplexes them into NMEA
// text lines and, when present, UBX binary frames.
func (r *Reader) run() {
	defer close(r.doneCh)
	_ = r.port.SetReadTimeout(200 * time.Millisecond)
	buf := make([]byte, 512)
	var acc []byte

	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		n, err := r.port.Read(buf)
		if err != nil || n == 0 {
			continue
		}
		acc = append(acc, buf[:n]...)
		acc = r.drain(acc)
	}
}

// drain extracts every complete NMEA line and UBX frame currently
// buffered and returns the unconsumed remainder.
func (r *Reader) drain(acc []byte) []byte {
	for {
		if len(acc) > 0 && acc[0] == 0xB5 && len(acc) > 1 && acc[1] == 0x62 {
			msg, consumed, ok := frame.FindUBXFrame(acc)
			if !ok {
				return acc
			}
			if msg != nil {
				r.applyUBX(frame.ParseUBX(msg))
			}
			acc = acc[consumed:]
			continue
		}

		idx := indexOfByte(acc, '\n')
		if idx < 0 {
			if len(acc) > 4096 {
				// Runaway buffer with no terminator; drop it rather than
				// growing unbounded (spec §4.4 no-fix/garbage resilience).
				return acc[len(acc)-1024:]
			}
			return acc
		}
		line := strings.TrimSpace(string(acc[:idx]))
		acc = acc[idx+1:]
		if line != "" {
			r.applyNMEA(line)
		}
	}
}

func indexOfByte(b []byte, v byte) int {
	for i, c := range b {
		if c == v {
			return i
		}
	}
	return -1
}

func (r *Reader) applyNMEA(line string) {
	s, err := nmea.Parse(line)
	if err != nil {
		r.log.Debugf("nmea parse: %v", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch sentence := s.(type) {
	case nmea.GGA:
		r.fix.Quality = parseFixQuality(string(sentence.FixQuality))
		r.fix.LatitudeDeg = sentence.Latitude
		r.fix.LongitudeDeg = sentence.Longitude
		r.fix.AltitudeM = sentence.Altitude
		r.fix.Satellites = sentence.NumSatellites
		r.fix.HDOP = sentence.HDOP
		r.fix.UpdatedAt = time.Now()
	case nmea.RMC:
		if sentence.Validity != "A" {
			r.fix.Quality = model.FixNone
		}
		r.fix.LatitudeDeg = sentence.Latitude
		r.fix.LongitudeDeg = sentence.Longitude
		r.fix.SpeedKnots = sentence.Speed
		r.fix.CourseDeg = sentence.Course
		r.fix.UpdatedAt = time.Now()
	}
}

func (r *Reader) applyUBX(msg frame.UBXMessage) {
	if !msg.Valid {
		return
	}
	// A valid UBX NAV-PVT frame (class 0x01, id 0x07, payload of at
	// least 20 bytes) refreshes only the fix timestamp; its position and
	// quality fields are not decoded into Fix. Other classes are checksum
	// validated and otherwise ignored.
	if msg.Class != 0x01 || msg.ID != 0x07 || len(msg.Payload) < 20 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fix.UpdatedAt = time.Now()
}

func parseFixQuality(q string) model.FixQuality {
	switch q {
	case "0":
		return model.FixNone
	case "1":
		return model.Fix3D
	case "2":
		return model.FixDR
	case "6":
		return model.FixDR
	default:
		return model.Fix2D
	}
}

// Close stops the demux loop and closes the port.
func (r *Reader) Close() error {
	r.mu.Lock()
	open := r.open
	r.open = false
	r.mu.Unlock()
	if !open {
		return nil
	}
	close(r.stopCh)
	select {
	case <-r.doneCh:
	case <-time.After(time.Second):
	}
	return r.port.Close()
}

// Stale reports whether the fix is older than maxAge (spec §4.4 "GNSS
// fix staleness, default 5s").
func (f Fix) Stale(maxAge time.Duration, now time.Time) bool {
	if f.UpdatedAt.IsZero() {
		return true
	}
	return now.Sub(f.UpdatedAt) > maxAge
}
