// Package bus implements the Bus Arbiter (spec §4.2): the single
// serializer for all RS485 traffic to the three servo controllers. It
// turns request/response pairs into a reliable, ordered operation on the
// shared half-duplex link, generalized from the teacher's single-device
// connection/retry machinery (hardware/topgnss/top708.TOP708Device) to a
// multi-drop bus with a FIFO transaction queue and a priority lane for
// emergency stop.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/aetherlink/groundstation/internal/config"
	"github.com/aetherlink/groundstation/internal/frame"
	"github.com/aetherlink/groundstation/internal/model"
	"github.com/aetherlink/groundstation/internal/obslog"
	"github.com/aetherlink/groundstation/internal/serialport"
)

// transaction is one queued request/response exchange.
type transaction struct {
	id          xid.ID
	ctx         context.Context
	addr        byte
	cmd         byte
	payload     []byte
	expectedLen int // exact length, or an upper bound for variable-length replies
	timeout     time.Duration
	resultCh    chan transactResult
}

type transactResult struct {
	resp frame.Response
	err  error
}

// Arbiter is the single owner of the RS485 serial handle (spec §3
// Ownership, §5 Shared-resource policy). All bus access goes through
// Transact/PriorityTransact/RawTransact.
type Arbiter struct {
	port  serialport.Port
	codec frame.Codec
	cfg   config.BusConfig
	log   obslog.Logger

	reqCh      chan transaction
	priorityCh chan transaction
	stopCh     chan struct{}
	doneCh     chan struct{}

	mu       sync.Mutex
	running  bool
	linkDown bool
	lastEnd  time.Time // wall-clock end of the previous transaction, for inter-frame gap
}

// New constructs an Arbiter. The caller must call Start before issuing
// transactions.
func New(port serialport.Port, codec frame.Codec, cfg config.BusConfig, log obslog.Logger) *Arbiter {
	if log == nil {
		log = obslog.Noop{}
	}
	return &Arbiter{
		port:       port,
		codec:      codec,
		cfg:        cfg,
		log:        log.WithField("component", "bus"),
		reqCh:      make(chan transaction),
		priorityCh: make(chan transaction, 4),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start opens the serial port and launches the single worker goroutine
// that processes transactions strictly sequentially (spec §4.2
// Concurrency model).
func (a *Arbiter) Start(context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("bus: already started")
	}
	if err := a.port.Open(a.cfg.Device, a.cfg.BaudRate); err != nil {
		a.mu.Unlock()
		return fmt.Errorf("bus: open %s: %w", a.cfg.Device, err)
	}
	a.running = true
	a.mu.Unlock()

	go a.run()
	a.log.Infof("arbiter started on %s at %d baud", a.cfg.Device, a.cfg.BaudRate)
	return nil
}

// Stop signals the worker to finish its in-flight transaction (or time
// out) and then closes the port, waiting up to grace for a clean exit
// (spec §5 "shutdown grace window, default 2s").
func (a *Arbiter) Stop(grace time.Duration) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	close(a.stopCh)

	select {
	case <-a.doneCh:
	case <-time.After(grace):
		a.log.Warnf("shutdown grace window elapsed, forcing serial handle closed")
	}
	return a.port.Close()
}

// interFrameGap is the minimum silence enforced between the end of one
// response and the start of the next request: >= 3.5 character times at
// the current baud, or 2ms, whichever is larger (spec §4.2). A configured
// InterFrameGapMS above that floor lengthens the gap; a smaller one is
// ignored.
func (a *Arbiter) interFrameGap() time.Duration {
	gap := 2 * time.Millisecond
	if a.cfg.BaudRate > 0 {
		charTime := time.Duration(float64(time.Second) * 10.0 / float64(a.cfg.BaudRate))
		if byChar := time.Duration(float64(charTime) * 3.5); byChar > gap {
			gap = byChar
		}
	}
	if configured := time.Duration(a.cfg.InterFrameGapMS) * time.Millisecond; configured > gap {
		gap = configured
	}
	return gap
}

// run is the single worker loop. It never interleaves two transactions
// and never lets a slow caller block another caller's submission: the
// select below drains the priority lane first (emergency stop jumps the
// FIFO, spec §4.2) but still waits for any in-flight transaction to
// finish or time out before starting the next one, since both lanes are
// only read between transactions.
func (a *Arbiter) run() {
	defer close(a.doneCh)

	for {
		select {
		case <-a.stopCh:
			return
		case tx := <-a.priorityCh:
			a.process(tx)
		default:
			select {
			case <-a.stopCh:
				return
			case tx := <-a.priorityCh:
				a.process(tx)
			case tx := <-a.reqCh:
				a.process(tx)
			}
		}
	}
}

func (a *Arbiter) process(tx transaction) {
	a.waitInterFrameGap()

	resp, err := a.transactOnWire(tx)

	a.mu.Lock()
	a.lastEnd = time.Now()
	a.mu.Unlock()

	if err != nil {
		a.log.Warnf("tx %s addr=0x%02X cmd=0x%02X failed: %v", tx.id, tx.addr, tx.cmd, err)
	} else {
		a.log.Debugf("tx %s addr=0x%02X cmd=0x%02X ok", tx.id, tx.addr, tx.cmd)
	}

	select {
	case tx.resultCh <- transactResult{resp: resp, err: err}:
	default:
		// Caller already gave up (context canceled); drop the result.
	}
}

func (a *Arbiter) waitInterFrameGap() {
	a.mu.Lock()
	last := a.lastEnd
	a.mu.Unlock()
	if last.IsZero() {
		return
	}
	elapsed := time.Since(last)
	gap := a.interFrameGap()
	if elapsed < gap {
		time.Sleep(gap - elapsed)
	}
}

// transactOnWire performs exactly one request/response exchange: I1 (for
// every request, exactly one response or exactly one error, never both,
// never neither).
func (a *Arbiter) transactOnWire(tx transaction) (frame.Response, error) {
	req := a.codec.Encode(tx.addr, tx.cmd, tx.payload)

	if _, err := a.port.Write(req); err != nil {
		a.markLinkDown()
		return frame.Response{}, fmt.Errorf("bus: write: %w: %v", model.ErrLinkDown, err)
	}

	if err := a.port.SetReadTimeout(tx.timeout); err != nil {
		a.markLinkDown()
		return frame.Response{}, fmt.Errorf("bus: set read timeout: %w: %v", model.ErrLinkDown, err)
	}

	readLen := tx.expectedLen
	if readLen <= 0 {
		readLen = 64
	}
	buf := make([]byte, readLen)
	deadline := time.Now().Add(tx.timeout)
	n := 0
	for n < readLen {
		if time.Now().After(deadline) {
			break
		}
		m, err := a.port.Read(buf[n:])
		if err != nil {
			break
		}
		n += m
		if m == 0 {
			break
		}
		if n >= 4 && tx.expectedLen > 0 && n >= tx.expectedLen {
			break
		}
	}

	if n == 0 {
		a.drainBus()
		return frame.Response{}, fmt.Errorf("bus: addr=0x%02X cmd=0x%02X: %w", tx.addr, tx.cmd, model.ErrTimeout)
	}

	resp, err := a.codec.Decode(buf[:n], tx.addr)
	if err != nil {
		a.drainBus()
		if errors.Is(err, model.ErrDecodeAddrMismatch) {
			return frame.Response{}, fmt.Errorf("bus: %w: %w", model.ErrAddressMismatch, err)
		}
		return frame.Response{}, fmt.Errorf("bus: %w: %w", model.ErrFrameError, err)
	}
	return resp, nil
}

// drainBus discards any late bytes until a silence period is observed,
// guaranteeing a timed-out or malformed transaction is fully torn down
// before the next one begins (spec §4.2).
func (a *Arbiter) drainBus() {
	_ = a.port.SetReadTimeout(20 * time.Millisecond)
	scratch := make([]byte, 256)
	for i := 0; i < 8; i++ {
		n, err := a.port.Read(scratch)
		if err != nil || n == 0 {
			return
		}
	}
}

func (a *Arbiter) markLinkDown() {
	a.mu.Lock()
	a.linkDown = true
	a.mu.Unlock()
}

// LinkDown reports whether the last transaction failed due to a
// transport-level I/O error, meaning the caller should reopen the bus.
func (a *Arbiter) LinkDown() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.linkDown
}

// Transact submits a normal-priority transaction and blocks for its
// result or for ctx cancellation.
func (a *Arbiter) Transact(ctx context.Context, addr, cmd byte, payload []byte, expectedLen int, timeout time.Duration) (frame.Response, error) {
	return a.submit(ctx, a.reqCh, xid.New(), addr, cmd, payload, expectedLen, timeout)
}

// PriorityTransact submits a transaction on the priority lane, which
// jumps the FIFO ahead of normal-priority requests but still waits for
// any transaction already on the wire to complete or time out (spec
// §4.2, §5 "Emergency stop ... overtakes the bus FIFO but not a currently
// transmitting frame").
func (a *Arbiter) PriorityTransact(ctx context.Context, addr, cmd byte, payload []byte, expectedLen int, timeout time.Duration) (frame.Response, error) {
	return a.submit(ctx, a.priorityCh, xid.New(), addr, cmd, payload, expectedLen, timeout)
}

// RawTransact is the diagnostic escape hatch (spec §6 operator surface).
// raw is read as a caller-built frame without a checksum: raw[2] is the
// command and raw[3:] the payload, while raw[0] and raw[1] are not sent
// (the codec's request header and addr are used instead). The frame is
// re-encoded with a fresh checksum, serialized through the same FIFO
// discipline as every other transaction, and the reply is returned
// decoded, not as the raw bytes read back. The correlation id
// is logged up front so an operator can grep the log for this specific
// diagnostic call, since raw_transact is otherwise indistinguishable from
// any other transaction on the wire.
func (a *Arbiter) RawTransact(ctx context.Context, addr byte, raw []byte, expectedLen int, timeout time.Duration) (frame.Response, error) {
	// RawTransact reuses the normal transaction path; callers that need
	// truly unframed bytes should use Transact with a pre-built payload
	// and cmd=raw[2] since the codec always appends a checksum. This
	// core keeps a single wire discipline rather than a second one for
	// diagnostics.
	if len(raw) < 3 {
		return frame.Response{}, fmt.Errorf("bus: raw_transact: frame too short")
	}
	id := xid.New()
	a.log.Infof("raw_transact %s addr=0x%02X cmd=0x%02X", id, addr, raw[2])
	return a.submit(ctx, a.reqCh, id, addr, raw[2], raw[3:], expectedLen, timeout)
}

func (a *Arbiter) submit(ctx context.Context, ch chan transaction, id xid.ID, addr, cmd byte, payload []byte, expectedLen int, timeout time.Duration) (frame.Response, error) {
	a.mu.Lock()
	running := a.running
	a.mu.Unlock()
	if !running {
		return frame.Response{}, fmt.Errorf("bus: %w: arbiter not started", model.ErrBusBusy)
	}

	tx := transaction{
		id:          id,
		ctx:         ctx,
		addr:        addr,
		cmd:         cmd,
		payload:     payload,
		expectedLen: expectedLen,
		timeout:     timeout,
		resultCh:    make(chan transactResult, 1),
	}

	select {
	case ch <- tx:
	case <-ctx.Done():
		return frame.Response{}, ctx.Err()
	case <-a.stopCh:
		return frame.Response{}, fmt.Errorf("bus: %w: shutting down", model.ErrBusBusy)
	}

	select {
	case res := <-tx.resultCh:
		return res.resp, res.err
	case <-ctx.Done():
		return frame.Response{}, ctx.Err()
	}
}
