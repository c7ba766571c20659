package axis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aetherlink/groundstation/internal/config"
	"github.com/aetherlink/groundstation/internal/frame"
	"github.com/aetherlink/groundstation/internal/model"
)

// fakeTransactor is a scripted Transactor: each call pops the next queued
// response or error, in the teacher's table-driven fake style rather than
// a full mock.Mock, since only return values (never call assertions)
// matter to these tests.
type fakeTransactor struct {
	responses []frame.Response
	errs      []error
	calls     []byte   // cmd byte of each call, in order
	payloads  [][]byte // payload of each call, in order
}

func (f *fakeTransactor) Transact(ctx context.Context, addr, cmd byte, payload []byte, expectedLen int, timeout time.Duration) (frame.Response, error) {
	f.calls = append(f.calls, cmd)
	f.payloads = append(f.payloads, payload)
	if len(f.responses) == 0 {
		return frame.Response{}, model.ErrTimeout
	}
	r := f.responses[0]
	f.responses = f.responses[1:]
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	return r, err
}

func (f *fakeTransactor) PriorityTransact(ctx context.Context, addr, cmd byte, payload []byte, expectedLen int, timeout time.Duration) (frame.Response, error) {
	return f.Transact(ctx, addr, cmd, payload, expectedLen, timeout)
}

func testAxisConfig() config.AxisConfig {
	return config.AxisConfig{
		Tag:              model.AxisAZ,
		Address:          0x01,
		HasLimitSwitches: true,
		HomeMethod:       model.HomeLimitSwitch,
		MinAngleDeg:      -170,
		MaxAngleDeg:      170,
		WarningMarginDeg: 5,
		Microstep:        16,
		HomeTimeoutS:     1,
	}
}

func testTrackingConfig() config.TrackingConfig {
	return config.TrackingConfig{
		ControlRateHz:  50,
		Kp:             1.0,
		TrackThreshold: 2.0,
		HoldThreshold:  0.5,
		Hysteresis:     0.1,
		MaxRPM:         100,
	}
}

func statusBundleResponse(addr byte, angleDeg float64, rpm int16, enabled, homed, stalled bool) frame.Response {
	codec := frame.NewCodec()
	counts := frame.AngleToCounts(angleDeg)
	buf := make([]byte, frame.StatusBundleLen)
	for i := 0; i < 6; i++ {
		buf[5-i] = byte(counts)
		counts >>= 8
	}
	buf[6] = byte(uint16(rpm) >> 8)
	buf[7] = byte(uint16(rpm))
	if enabled {
		buf[15] = 1
	}
	if homed {
		buf[16] = 1
	}
	if stalled {
		buf[17] = 1
	}
	raw := codec.Encode(addr, frame.CmdStatusBundle, buf)
	resp, _ := codec.Decode(raw, addr)
	return resp
}

func TestAxisMoveToRejectsOutOfRange(t *testing.T) {
	ft := &fakeTransactor{}
	a := New(testAxisConfig(), testTrackingConfig(), ft, nil)

	err := a.MoveTo(context.Background(), 999, 10)
	assert.ErrorIs(t, err, model.ErrOutOfRange)
}

func TestAxisMoveToSendsAbsoluteAxisCommand(t *testing.T) {
	ft := &fakeTransactor{responses: []frame.Response{{Addr: 0x01, Cmd: frame.CmdAbsoluteAxis}}}
	a := New(testAxisConfig(), testTrackingConfig(), ft, nil)

	err := a.MoveTo(context.Background(), 45, 20)
	assert.NoError(t, err)
	assert.Equal(t, frame.CmdAbsoluteAxis, ft.calls[0])
	assert.Equal(t, model.ModePosition, a.Status().Mode)
}

func TestAxisFaultedRejectsMotion(t *testing.T) {
	ft := &fakeTransactor{}
	a := New(testAxisConfig(), testTrackingConfig(), ft, nil)
	a.latchFault(model.FaultStall)

	err := a.MoveTo(context.Background(), 10, 10)
	assert.ErrorIs(t, err, model.ErrFaultLatched)
}

func TestAxisReleaseFaultClearsLatch(t *testing.T) {
	ft := &fakeTransactor{responses: []frame.Response{{Addr: 0x01, Cmd: frame.CmdReleaseLockedRotor}}}
	a := New(testAxisConfig(), testTrackingConfig(), ft, nil)
	a.latchFault(model.FaultStall)

	assert.True(t, a.Faulted())
	err := a.ReleaseFault(context.Background())
	assert.NoError(t, err)
	assert.False(t, a.Faulted())
}

func TestAxisEmergencyStopBypassesFaultLatch(t *testing.T) {
	ft := &fakeTransactor{responses: []frame.Response{{Addr: 0x01, Cmd: frame.CmdEmergencyStop}}}
	a := New(testAxisConfig(), testTrackingConfig(), ft, nil)
	a.latchFault(model.FaultOutOfRange)

	err := a.EmergencyStop(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, model.StateIdle, a.Status().TrackingState)
}

func TestAxisHomeLimitSwitchSequence(t *testing.T) {
	ft := &fakeTransactor{responses: []frame.Response{
		{Addr: 0x01, Cmd: frame.CmdConfigLimitHomeParams},
		{Addr: 0x01, Cmd: frame.CmdExecuteHome},
		{Addr: 0x01, Cmd: frame.CmdHomeStatus, Payload: []byte{1}},
		{Addr: 0x01, Cmd: frame.CmdSetZero},
	}}
	a := New(testAxisConfig(), testTrackingConfig(), ft, nil)

	err := a.Home(context.Background())
	assert.NoError(t, err)
	assert.True(t, a.Status().Homed)
	assert.Equal(t, frame.CmdSetZero, ft.calls[len(ft.calls)-1])
}

func TestAxisHomeStallRequiresNoLimitSwitchCheck(t *testing.T) {
	cfg := testAxisConfig()
	cfg.HomeMethod = model.HomeStall
	cfg.HasLimitSwitches = false
	ft := &fakeTransactor{responses: []frame.Response{
		{Addr: 0x01, Cmd: frame.CmdConfigStallHomeParams},
		{Addr: 0x01, Cmd: frame.CmdExecuteHome},
		statusBundleResponse(0x01, 5.0, 0, true, false, true),
		{Addr: 0x01, Cmd: frame.CmdReleaseLockedRotor},
		{Addr: 0x01, Cmd: frame.CmdRelativeAxis},
		{Addr: 0x01, Cmd: frame.CmdSetZero},
	}}
	a := New(cfg, testTrackingConfig(), ft, nil)

	err := a.Home(context.Background())
	assert.NoError(t, err)
	assert.True(t, a.Status().Homed)
	assert.Equal(t, []byte{
		frame.CmdConfigStallHomeParams,
		frame.CmdExecuteHome,
		frame.CmdStatusBundle,
		frame.CmdReleaseLockedRotor,
		frame.CmdRelativeAxis,
		frame.CmdSetZero,
	}, ft.calls)
}

func TestAxisTickHoldsWithinThreshold(t *testing.T) {
	ft := &fakeTransactor{responses: []frame.Response{
		statusBundleResponse(0x01, 10.0, 0, true, true, false),
	}}
	a := New(testAxisConfig(), testTrackingConfig(), ft, nil)
	a.SetMovementMode(model.ModeHybrid)
	a.SetTrackTarget(10.1, 0)

	err := a.Tick(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, model.StateHold, a.Status().TrackingState)
	assert.Len(t, ft.calls, 1) // only the status query, no speed command
}

func TestAxisTickTracksLargeError(t *testing.T) {
	ft := &fakeTransactor{responses: []frame.Response{
		statusBundleResponse(0x01, 0.0, 0, true, true, false),
		{Addr: 0x01, Cmd: frame.CmdSpeedMode},
	}}
	a := New(testAxisConfig(), testTrackingConfig(), ft, nil)
	a.SetMovementMode(model.ModeHybrid)
	a.SetTrackTarget(20.0, 1.0)

	err := a.Tick(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, model.StateTrackSpeed, a.Status().TrackingState)
	assert.Equal(t, frame.CmdSpeedMode, ft.calls[1])
}

func TestAxisTickIgnoredOutsideHybridMode(t *testing.T) {
	ft := &fakeTransactor{}
	a := New(testAxisConfig(), testTrackingConfig(), ft, nil)

	err := a.Tick(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, ft.calls)
}

func TestAxisRefreshStatusLatchesStallFault(t *testing.T) {
	ft := &fakeTransactor{responses: []frame.Response{
		statusBundleResponse(0x01, 5.0, 0, true, true, true),
	}}
	a := New(testAxisConfig(), testTrackingConfig(), ft, nil)

	_, err := a.refreshStatus(context.Background())
	assert.ErrorIs(t, err, model.ErrStall)
	assert.True(t, a.Faulted())
}

func TestAxisTickCorrectingSendsAbsoluteAxisCommand(t *testing.T) {
	ft := &fakeTransactor{responses: []frame.Response{
		statusBundleResponse(0x01, 9.0, 0, true, true, false),
		{Addr: 0x01, Cmd: frame.CmdAbsoluteAxis},
	}}
	a := New(testAxisConfig(), testTrackingConfig(), ft, nil)
	a.SetMovementMode(model.ModeHybrid)
	a.SetTrackTarget(10.0, 0)

	err := a.Tick(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, model.StateCorrecting, a.Status().TrackingState)
	assert.Equal(t, frame.CmdAbsoluteAxis, ft.calls[1])
}

func TestAxisTickHoldStopsOnEntryFromTrackSpeed(t *testing.T) {
	ft := &fakeTransactor{responses: []frame.Response{
		statusBundleResponse(0x01, 0.0, 0, true, true, false),
		{Addr: 0x01, Cmd: frame.CmdSpeedMode},
		statusBundleResponse(0x01, 10.0, 0, true, true, false),
		{Addr: 0x01, Cmd: frame.CmdSpeedMode},
	}}
	a := New(testAxisConfig(), testTrackingConfig(), ft, nil)
	a.SetMovementMode(model.ModeHybrid)

	// First tick: large error with feedforward -> TRACK_SPEED, emits a
	// speed-mode command.
	a.SetTrackTarget(20.0, 1.0)
	err := a.Tick(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, model.StateTrackSpeed, a.Status().TrackingState)
	assert.Equal(t, frame.CmdSpeedMode, ft.calls[1])

	// Second tick: error closes to within hold threshold and feedforward
	// drops to zero -> HOLD, which must issue an RPM=0 stop since the
	// previous state was TRACK_SPEED.
	a.SetTrackTarget(10.1, 0)
	err = a.Tick(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, model.StateHold, a.Status().TrackingState)
	assert.Equal(t, frame.CmdSpeedMode, ft.calls[3])
}

func TestAxisTickStaysInTrackSpeedWithNonzeroFeedforward(t *testing.T) {
	ft := &fakeTransactor{responses: []frame.Response{
		statusBundleResponse(0x01, 9.95, 0, true, true, false),
		{Addr: 0x01, Cmd: frame.CmdSpeedMode},
	}}
	a := New(testAxisConfig(), testTrackingConfig(), ft, nil)
	a.SetMovementMode(model.ModeHybrid)
	a.SetTrackTarget(10.0, 0.1) // tiny error, but nonzero target velocity

	err := a.Tick(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, model.StateTrackSpeed, a.Status().TrackingState)
}

func TestAxisTickSuppressesRedundantResend(t *testing.T) {
	ft := &fakeTransactor{responses: []frame.Response{
		statusBundleResponse(0x01, 0.0, 0, true, true, false),
		{Addr: 0x01, Cmd: frame.CmdSpeedMode},
		statusBundleResponse(0x01, 0.0, 0, true, true, false),
	}}
	a := New(testAxisConfig(), testTrackingConfig(), ft, nil)
	a.SetMovementMode(model.ModeHybrid)
	a.SetTrackTarget(20.0, 1.0)

	err := a.Tick(context.Background())
	assert.NoError(t, err)
	assert.Len(t, ft.calls, 2)

	// Same state, same speed, immediately again: the command must not be
	// re-sent since neither the state nor the speed (by >5 RPM) changed
	// and no control tick has elapsed.
	err = a.Tick(context.Background())
	assert.NoError(t, err)
	assert.Len(t, ft.calls, 3) // only the second status query, no resend
}

func TestAxisMoveToCapsRPMInWarningMargin(t *testing.T) {
	cfg := testAxisConfig()
	cfg.WarningSafeRPM = 3
	ft := &fakeTransactor{responses: []frame.Response{{Addr: 0x01, Cmd: frame.CmdAbsoluteAxis}}}
	a := New(cfg, testTrackingConfig(), ft, nil)
	a.SetTrackTarget(0, 0)
	// Seed the cached angle inside the warning margin near MaxAngleDeg
	// (170, margin 5 deg).
	a.mu.Lock()
	a.angleDeg = 167.0
	a.mu.Unlock()

	err := a.MoveTo(context.Background(), 10, 50)
	assert.NoError(t, err)
	// The speed word sits at bytes 6..7 of the absolute-axis payload.
	rpm, _ := frame.DecodeSpeedWord(uint16(ft.payloads[0][6])<<8 | uint16(ft.payloads[0][7]))
	assert.Equal(t, 3, rpm)
}

func TestAxisRefreshStatusLatchesFollowingErrorFault(t *testing.T) {
	cfg := testAxisConfig()
	cfg.FollowingTolDeg = 1.0
	ft := &fakeTransactor{responses: []frame.Response{
		statusBundleResponse(0x01, 0.0, 0, true, true, false),
	}}
	a := New(cfg, testTrackingConfig(), ft, nil)
	a.SetTrackTarget(5.0, 0)

	_, err := a.refreshStatus(context.Background())
	assert.ErrorIs(t, err, model.ErrFollowingError)
	assert.True(t, a.Faulted())
}

func TestAxisRefreshStatusLatchesLimitTrippedAndEmergencyStops(t *testing.T) {
	resp := statusBundleResponse(0x01, 5.0, 0, true, true, false)
	// Set IN1 (bit 0 of the I/O byte, offset 12) to simulate a limit
	// switch tripping during motion.
	resp.Payload[12] |= 0x01
	ft := &fakeTransactor{responses: []frame.Response{
		resp,
		{Addr: 0x01, Cmd: frame.CmdEmergencyStop},
	}}
	a := New(testAxisConfig(), testTrackingConfig(), ft, nil)

	_, err := a.refreshStatus(context.Background())
	assert.ErrorIs(t, err, model.ErrLimitTripped)
	assert.True(t, a.Faulted())
	assert.Contains(t, ft.calls, frame.CmdEmergencyStop)
}
