// Package serialport defines the Port abstraction every exclusive
// serial-handle owner in this core (the Bus Arbiter, each Sensor Reader)
// is built against, grounded on the teacher's SerialPort interface
// referenced throughout hardware/topgnss/top708 (Connect/Disconnect/
// Read/Write/SetReadTimeout/ListPorts/GetPortDetails), generalized to a
// single real implementation backed by go.bug.st/serial instead of the
// teacher's per-device GNSSSerialPort.
package serialport

import (
	"fmt"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Port is the minimal operation set a serial transport must provide. The
// Bus Arbiter and each Sensor Reader depend on this interface, never on
// go.bug.st/serial directly, so tests substitute a fake.
type Port interface {
	Open(portName string, baudRate int) error
	Close() error
	Read(buffer []byte) (int, error)
	Write(data []byte) (int, error)
	SetReadTimeout(timeout time.Duration) error
	ListPorts() ([]string, error)
	GetPortDetails() ([]*enumerator.PortDetails, error)
}

// BugStPort implements Port using go.bug.st/serial, the real transport
// used outside of tests.
type BugStPort struct {
	port serial.Port
}

// NewBugStPort returns an unopened BugStPort.
func NewBugStPort() *BugStPort {
	return &BugStPort{}
}

// Open opens the named port at 8N1 with the given baud rate (spec §6:
// "Physical: 8N1, half-duplex").
func (p *BugStPort) Open(portName string, baudRate int) error {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return fmt.Errorf("serialport: open %s: %w", portName, err)
	}
	p.port = port
	return nil
}

// Close closes the underlying port.
func (p *BugStPort) Close() error {
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	return err
}

// Read reads from the underlying port.
func (p *BugStPort) Read(buffer []byte) (int, error) {
	if p.port == nil {
		return 0, fmt.Errorf("serialport: not open")
	}
	return p.port.Read(buffer)
}

// Write writes to the underlying port.
func (p *BugStPort) Write(data []byte) (int, error) {
	if p.port == nil {
		return 0, fmt.Errorf("serialport: not open")
	}
	return p.port.Write(data)
}

// SetReadTimeout sets the read deadline on the underlying port.
func (p *BugStPort) SetReadTimeout(timeout time.Duration) error {
	if p.port == nil {
		return fmt.Errorf("serialport: not open")
	}
	return p.port.SetReadTimeout(timeout)
}

// ListPorts returns the names of all serial ports visible to the OS.
func (p *BugStPort) ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

// GetPortDetails returns detailed (USB VID/PID/product) information about
// every visible serial port.
func (p *BugStPort) GetPortDetails() ([]*enumerator.PortDetails, error) {
	return enumerator.GetDetailedPortsList()
}
