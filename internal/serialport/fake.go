package serialport

import (
	"errors"
	"sync"
	"time"

	"go.bug.st/serial/enumerator"
)

// FakePort is an in-memory Port used by tests throughout this module's
// packages (bus, operator, sensor) to script device behavior without a real
// serial cable, in the spirit of the teacher's MockSerialPort
// (hardware/topgnss/top708/top708_test.go) but implemented as a small
// scriptable fake rather than a testify mock.Mock, since it is exported
// for reuse across package boundaries rather than local to one test file.
type FakePort struct {
	mu       sync.Mutex
	open     bool
	writes   [][]byte
	inbox    [][]byte // queued byte slices to hand back from Read, one per call
	timeout  time.Duration
	openErr  error
	readErr  error
	writeErr error
}

// NewFakePort returns a closed FakePort.
func NewFakePort() *FakePort {
	return &FakePort{}
}

// SetOpenError makes every Open call fail until cleared with nil.
func (f *FakePort) SetOpenError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErr = err
}

// SetReadError makes every Read call fail until cleared.
func (f *FakePort) SetReadError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErr = err
}

// QueueRead appends a byte slice to be returned by a future Read call.
func (f *FakePort) QueueRead(b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), b...)
	f.inbox = append(f.inbox, cp)
}

// Writes returns every byte slice passed to Write so far.
func (f *FakePort) Writes() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.writes))
	copy(out, f.writes)
	return out
}

// IsOpen reports whether Open has succeeded and Close has not since run.
func (f *FakePort) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *FakePort) Open(string, int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.open = true
	return nil
}

func (f *FakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	return nil
}

func (f *FakePort) Read(buffer []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return 0, errors.New("serialport: fake port not open")
	}
	if f.readErr != nil {
		return 0, f.readErr
	}
	if len(f.inbox) == 0 {
		return 0, errors.New("serialport: fake read timeout")
	}
	next := f.inbox[0]
	f.inbox = f.inbox[1:]
	n := copy(buffer, next)
	return n, nil
}

func (f *FakePort) Write(data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return 0, errors.New("serialport: fake port not open")
	}
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	cp := append([]byte(nil), data...)
	f.writes = append(f.writes, cp)
	return len(data), nil
}

func (f *FakePort) SetReadTimeout(timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeout = timeout
	return nil
}

func (f *FakePort) ListPorts() ([]string, error) {
	return []string{"fake0"}, nil
}

func (f *FakePort) GetPortDetails() ([]*enumerator.PortDetails, error) {
	return nil, nil
}

var _ Port = (*FakePort)(nil)
