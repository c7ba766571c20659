// Package axis implements the per-axis motion controller (spec §4.3):
// movement-mode dispatch, the hybrid tracking state machine, homing,
// fault latching and safety envelope enforcement. Each Axis owns no
// transport of its own — every command goes through an
// internal/bus.Arbiter, generalized from the teacher's TOP708Device
// method shape (one small method per logical operation, each building a
// request and decoding its response) to the position/speed servo
// protocol in internal/frame.
package axis

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/aetherlink/groundstation/internal/config"
	"github.com/aetherlink/groundstation/internal/frame"
	"github.com/aetherlink/groundstation/internal/model"
	"github.com/aetherlink/groundstation/internal/obslog"
)

// Transactor is the subset of *bus.Arbiter an Axis depends on, so tests
// can substitute a fake without touching the real bus package.
type Transactor interface {
	Transact(ctx context.Context, addr, cmd byte, payload []byte, expectedLen int, timeout time.Duration) (frame.Response, error)
	PriorityTransact(ctx context.Context, addr, cmd byte, payload []byte, expectedLen int, timeout time.Duration) (frame.Response, error)
}

// Status is a point-in-time snapshot of one axis, the shape consumed by
// internal/telemetry.
type Status struct {
	Tag           model.AxisTag
	AngleDeg      float64
	VelocityDegS  float64
	TargetDeg     float64
	Mode          model.MovementMode
	TrackingState model.TrackingState
	Enabled       bool
	Homed         bool
	Fault         model.FaultKind
	UpdatedAt     time.Time
}

// Axis is the motion controller for one servo. All exported methods are
// safe for concurrent use; a single mutex serializes state transitions
// (bus access itself is already serialized by the Arbiter).
type Axis struct {
	cfg     config.AxisConfig
	trkCfg  config.TrackingConfig
	bus     Transactor
	codec   frame.Codec
	log     obslog.Logger
	timeout time.Duration

	mu            sync.Mutex
	mode          model.MovementMode
	state         model.TrackingState
	angleDeg      float64
	velocityDegS  float64
	targetDeg     float64
	feedforwardDS float64
	enabled       bool
	homed         bool
	fault         model.FaultKind
	updatedAt     time.Time

	// Bus-traffic minimization memory for Tick (spec §4.3.2): a command is
	// only re-issued when the state changed, the commanded speed moved by
	// more than 5 RPM, or the last command is older than one control tick.
	lastCmdState model.TrackingState
	lastCmdRPM   int // signed: positive forward, negative reverse
	lastCmdAt    time.Time
}

// Conservative vs. cruise acceleration bytes for the position/speed
// command families (spec §4.3.2 CORRECTING: "low acceleration and
// conservative speed").
const (
	cruiseAccel      byte = 10
	conservativeAccel byte = 2
)

// New constructs an Axis controller bound to one bus address.
func New(cfg config.AxisConfig, trkCfg config.TrackingConfig, bus Transactor, log obslog.Logger) *Axis {
	if log == nil {
		log = obslog.Noop{}
	}
	return &Axis{
		cfg:     cfg,
		trkCfg:  trkCfg,
		bus:     bus,
		codec:   frame.NewCodec(),
		log:     log.WithField("axis", string(cfg.Tag)),
		timeout: 200 * time.Millisecond,
		mode:    model.ModePosition,
		state:   model.StateIdle,
	}
}

// Status returns a snapshot of the axis's last-known state. It does not
// touch the bus.
func (a *Axis) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{
		Tag:           a.cfg.Tag,
		AngleDeg:      a.angleDeg,
		VelocityDegS:  a.velocityDegS,
		TargetDeg:     a.targetDeg,
		Mode:          a.mode,
		TrackingState: a.state,
		Enabled:       a.enabled,
		Homed:         a.homed,
		Fault:         a.fault,
		UpdatedAt:     a.updatedAt,
	}
}

// inSafetyEnvelope reports whether angleDeg is within [min,max], and
// whether it is inside the warning margin of either bound (spec §4.3.4
// "Safety envelope").
func (a *Axis) inSafetyEnvelope(angleDeg float64) (ok bool, warning bool) {
	if angleDeg < a.cfg.MinAngleDeg || angleDeg > a.cfg.MaxAngleDeg {
		return false, false
	}
	margin := a.cfg.WarningMarginDeg
	if angleDeg-a.cfg.MinAngleDeg < margin || a.cfg.MaxAngleDeg-angleDeg < margin {
		return true, true
	}
	return true, false
}

// safeRPM clamps a commanded RPM to the tracking config's maximum and to
// a positive minimum, since the servo speed word always carries at least
// 1 RPM of magnitude.
func (a *Axis) safeRPM(rpm int) int {
	if rpm > a.trkCfg.MaxRPM {
		rpm = a.trkCfg.MaxRPM
	}
	if rpm < 1 {
		rpm = 1
	}
	return rpm
}

// capForWarning applies the warning-margin RPM cap (spec §4.3.5: "If an
// observed angle crosses the warning margin during motion, the controller
// caps commanded RPM to a configured safe value"). angleDeg is the angle
// to test; an unconfigured WarningSafeRPM (0) leaves rpm unchanged.
func (a *Axis) capForWarning(rpm int, angleDeg float64) int {
	if a.cfg.WarningSafeRPM <= 0 {
		return rpm
	}
	if _, warning := a.inSafetyEnvelope(angleDeg); warning && rpm > a.cfg.WarningSafeRPM {
		return a.cfg.WarningSafeRPM
	}
	return rpm
}

func (a *Axis) latchFault(kind model.FaultKind) {
	a.mu.Lock()
	a.fault = kind
	a.state = model.StateIdle
	a.mu.Unlock()
	a.log.Warnf("fault latched: %s", kind)
}

// Faulted reports whether this axis currently has a latched fault. A
// faulted axis rejects all motion commands until ReleaseFault is called
// (spec §4.3.4 "faults are latching").
func (a *Axis) Faulted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fault != model.FaultNone
}

// ReleaseFault clears a latched fault after an explicit operator request
// (spec §6 release_fault). It does not re-enable or re-home the axis.
func (a *Axis) ReleaseFault(ctx context.Context) error {
	a.mu.Lock()
	prior := a.fault
	a.fault = model.FaultNone
	a.mu.Unlock()

	if prior == model.FaultStall {
		if _, err := a.bus.Transact(ctx, a.cfg.Address, frame.CmdReleaseLockedRotor, frame.ReleaseLockedRotorPayload(), 4, a.timeout); err != nil {
			return fmt.Errorf("axis %s: release locked rotor: %w", a.cfg.Tag, err)
		}
	}
	a.log.Infof("fault released (was %s)", prior)
	return nil
}

// SetMovementMode switches the command family used for future motion
// requests (spec §4.3.1). Switching modes does not itself issue a bus
// command; the next MoveTo/Jog/Tick call takes effect in the new mode.
func (a *Axis) SetMovementMode(mode model.MovementMode) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mode = mode
	if mode != model.ModeHybrid {
		a.state = model.StateIdle
	}
}

// refreshStatus queries CmdStatusBundle and updates the cached angle,
// velocity, enabled/homed/stalled fields. Every public operation that
// needs a fresh angle calls this first, mirroring the teacher's pattern
// of a small per-concern query method (GetFixStatus, GetAltitude) backing
// higher-level operations.
func (a *Axis) refreshStatus(ctx context.Context) (frame.StatusBundle, error) {
	resp, err := a.bus.Transact(ctx, a.cfg.Address, frame.CmdStatusBundle, nil, frame.StatusBundleLen+4, a.timeout)
	if err != nil {
		a.latchFault(model.FaultTimeout)
		return frame.StatusBundle{}, fmt.Errorf("axis %s: status bundle: %w", a.cfg.Tag, err)
	}
	sb, err := frame.ParseStatusBundle(resp.Payload)
	if err != nil {
		return frame.StatusBundle{}, fmt.Errorf("axis %s: decode status bundle: %w", a.cfg.Tag, err)
	}

	angle := frame.CountsToAngle(sb.CarryEncoder)
	velocity := frame.RPMToDegPerSec(int(sb.RPM))

	a.mu.Lock()
	a.angleDeg = angle
	a.velocityDegS = velocity
	a.enabled = sb.Enabled
	a.homed = sb.Homed
	a.updatedAt = time.Now()
	target := a.targetDeg
	a.mu.Unlock()

	if sb.IO.IN1() {
		a.latchFault(model.FaultLimitTripped)
		// Best-effort: the axis is already faulted and idle regardless of
		// whether this reaches the servo.
		_, _ = a.bus.PriorityTransact(ctx, a.cfg.Address, frame.CmdEmergencyStop, frame.EmergencyStopPayload(), 4, a.timeout)
		return sb, fmt.Errorf("axis %s: %w", a.cfg.Tag, model.ErrLimitTripped)
	}
	if sb.Stalled {
		a.latchFault(model.FaultStall)
		return sb, fmt.Errorf("axis %s: %w", a.cfg.Tag, model.ErrStall)
	}
	if ok, _ := a.inSafetyEnvelope(angle); !ok {
		a.latchFault(model.FaultOutOfRange)
		return sb, fmt.Errorf("axis %s: angle %.3f: %w", a.cfg.Tag, angle, model.ErrOutOfRange)
	}
	if a.cfg.FollowingTolDeg > 0 {
		if followErr := math.Abs(target - angle); followErr > a.cfg.FollowingTolDeg {
			a.latchFault(model.FaultFollowingError)
			return sb, fmt.Errorf("axis %s: following error %.3f > %.3f: %w", a.cfg.Tag, followErr, a.cfg.FollowingTolDeg, model.ErrFollowingError)
		}
	}
	return sb, nil
}

// MoveTo commands an absolute position move (spec §6 move_to). rpm is
// the cruise speed; it is clamped to the tracking config's max.
func (a *Axis) MoveTo(ctx context.Context, targetDeg float64, rpm int) error {
	if a.Faulted() {
		return fmt.Errorf("axis %s: %w", a.cfg.Tag, model.ErrFaultLatched)
	}
	if ok, _ := a.inSafetyEnvelope(targetDeg); !ok {
		return fmt.Errorf("axis %s: target %.3f: %w", a.cfg.Tag, targetDeg, model.ErrOutOfRange)
	}

	a.mu.Lock()
	currentAngle := a.angleDeg
	a.mu.Unlock()

	counts := frame.AngleToCounts(targetDeg)
	rpm = a.capForWarning(a.safeRPM(rpm), currentAngle)
	payload := frame.AbsoluteAxisPayload(counts, rpm, cruiseAccel)
	if _, err := a.bus.Transact(ctx, a.cfg.Address, frame.CmdAbsoluteAxis, payload, 4, a.timeout); err != nil {
		a.latchFault(model.FaultTimeout)
		return fmt.Errorf("axis %s: move_to: %w", a.cfg.Tag, err)
	}

	a.mu.Lock()
	a.targetDeg = targetDeg
	a.mode = model.ModePosition
	a.mu.Unlock()
	return nil
}

// Jog commands a continuous speed-mode move (spec §6 jog). A zero RPM
// stops the axis in place.
func (a *Axis) Jog(ctx context.Context, degPerSec float64) error {
	if a.Faulted() {
		return fmt.Errorf("axis %s: %w", a.cfg.Tag, model.ErrFaultLatched)
	}

	a.mu.Lock()
	currentAngle := a.angleDeg
	a.mu.Unlock()

	rpm := int(math.Round(frame.DegPerSecToRPM(math.Abs(degPerSec))))
	rpm = a.capForWarning(a.safeRPM(rpm), currentAngle)
	reverse := degPerSec < 0
	payload := frame.SpeedModePayload(rpm, reverse, cruiseAccel)
	if degPerSec == 0 {
		payload = frame.SpeedModePayload(0, false, cruiseAccel)
	}
	if _, err := a.bus.Transact(ctx, a.cfg.Address, frame.CmdSpeedMode, payload, 4, a.timeout); err != nil {
		a.latchFault(model.FaultTimeout)
		return fmt.Errorf("axis %s: jog: %w", a.cfg.Tag, err)
	}

	a.mu.Lock()
	a.mode = model.ModeSpeed
	a.mu.Unlock()
	return nil
}

// Stop commands the axis to a controlled halt: speed-mode zero, not the
// emergency-stop opcode (spec §6 stop vs emergency_stop_all).
func (a *Axis) Stop(ctx context.Context) error {
	payload := frame.SpeedModePayload(0, false, cruiseAccel)
	if _, err := a.bus.Transact(ctx, a.cfg.Address, frame.CmdSpeedMode, payload, 4, a.timeout); err != nil {
		return fmt.Errorf("axis %s: stop: %w", a.cfg.Tag, err)
	}
	a.mu.Lock()
	a.state = model.StateIdle
	a.mu.Unlock()
	return nil
}

// EmergencyStop issues CmdEmergencyStop on the Arbiter's priority lane
// (spec §5, §6 emergency_stop_all): it bypasses the fault-latch check,
// since a faulted axis must still be stoppable.
func (a *Axis) EmergencyStop(ctx context.Context) error {
	_, err := a.bus.PriorityTransact(ctx, a.cfg.Address, frame.CmdEmergencyStop, frame.EmergencyStopPayload(), 4, a.timeout)
	a.mu.Lock()
	a.state = model.StateIdle
	a.mu.Unlock()
	if err != nil {
		return fmt.Errorf("axis %s: emergency_stop: %w", a.cfg.Tag, err)
	}
	return nil
}

// SetZero commands the servo to redefine its current position as zero
// (spec §6 set_zero). It does not move the axis.
func (a *Axis) SetZero(ctx context.Context) error {
	if _, err := a.bus.Transact(ctx, a.cfg.Address, frame.CmdSetZero, frame.SetZeroPayload(), 4, a.timeout); err != nil {
		return fmt.Errorf("axis %s: set_zero: %w", a.cfg.Tag, err)
	}
	a.mu.Lock()
	a.targetDeg = 0
	a.mu.Unlock()
	return nil
}

// Home drives the axis through its configured homing sequence (spec
// §4.3.3): limit-switch homing issues CmdConfigLimitHomeParams then
// CmdExecuteHome and polls CmdHomeStatus until homed or timeout;
// stall-based homing issues CmdConfigStallHomeParams then CmdExecuteHome,
// waits for the stall flag to assert in the status bundle, releases the
// locked rotor and backs off by BackoffDeg. After either variant
// succeeds, the controller issues set_zero so the axis's encoder origin
// aligns with the physical home position.
func (a *Axis) Home(ctx context.Context) error {
	if a.Faulted() {
		return fmt.Errorf("axis %s: %w", a.cfg.Tag, model.ErrFaultLatched)
	}

	switch a.cfg.HomeMethod {
	case model.HomeLimitSwitch:
		if !a.cfg.HasLimitSwitches {
			return fmt.Errorf("axis %s: %w: limit homing configured without limit switches", a.cfg.Tag, model.ErrInvalidHomeMethod)
		}
		payload := frame.LimitHomeParamsPayload(true, false, a.safeRPM(30), true)
		if _, err := a.bus.Transact(ctx, a.cfg.Address, frame.CmdConfigLimitHomeParams, payload, 4, a.timeout); err != nil {
			return fmt.Errorf("axis %s: home config: %w", a.cfg.Tag, err)
		}
		if _, err := a.bus.Transact(ctx, a.cfg.Address, frame.CmdExecuteHome, frame.ExecuteHomePayload(), 4, a.timeout); err != nil {
			a.latchFault(model.FaultTimeout)
			return fmt.Errorf("axis %s: execute_home: %w", a.cfg.Tag, err)
		}
		if err := a.pollLimitHomeStatus(ctx); err != nil {
			return err
		}
	case model.HomeStall:
		payload := frame.StallHomeParamsPayload(a.cfg.HomeCurrentMA, int32(frame.AngleToCounts(a.cfg.BackoffDeg)))
		if _, err := a.bus.Transact(ctx, a.cfg.Address, frame.CmdConfigStallHomeParams, payload, 4, a.timeout); err != nil {
			return fmt.Errorf("axis %s: home config: %w", a.cfg.Tag, err)
		}
		if _, err := a.bus.Transact(ctx, a.cfg.Address, frame.CmdExecuteHome, frame.ExecuteHomePayload(), 4, a.timeout); err != nil {
			a.latchFault(model.FaultTimeout)
			return fmt.Errorf("axis %s: execute_home: %w", a.cfg.Tag, err)
		}
		if err := a.runStallHoming(ctx); err != nil {
			return err
		}
	default:
		return fmt.Errorf("axis %s: %w", a.cfg.Tag, model.ErrInvalidHomeMethod)
	}

	if _, err := a.bus.Transact(ctx, a.cfg.Address, frame.CmdSetZero, frame.SetZeroPayload(), 4, a.timeout); err != nil {
		return fmt.Errorf("axis %s: home set_zero: %w", a.cfg.Tag, err)
	}
	a.mu.Lock()
	a.homed = true
	a.targetDeg = 0
	a.mu.Unlock()
	a.log.Infof("homed")
	return nil
}

// pollLimitHomeStatus polls CmdHomeStatus until the servo reports homed
// or HomeTimeoutS elapses.
func (a *Axis) pollLimitHomeStatus(ctx context.Context) error {
	deadline := time.Now().Add(time.Duration(a.cfg.HomeTimeoutS) * time.Second)
	for time.Now().Before(deadline) {
		resp, err := a.bus.Transact(ctx, a.cfg.Address, frame.CmdHomeStatus, nil, 5, a.timeout)
		if err != nil {
			a.latchFault(model.FaultTimeout)
			return fmt.Errorf("axis %s: home_status: %w", a.cfg.Tag, err)
		}
		if len(resp.Payload) > 0 && resp.Payload[0] != 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	a.latchFault(model.FaultTimeout)
	return fmt.Errorf("axis %s: home: timed out after %ds: %w", a.cfg.Tag, a.cfg.HomeTimeoutS, model.ErrTimeout)
}

// runStallHoming polls the status bundle for the stall flag, then
// releases the locked rotor and backs the axis off by BackoffDeg in the
// direction opposite the stall seek.
func (a *Axis) runStallHoming(ctx context.Context) error {
	deadline := time.Now().Add(time.Duration(a.cfg.HomeTimeoutS) * time.Second)
	stalled := false
	for time.Now().Before(deadline) {
		resp, err := a.bus.Transact(ctx, a.cfg.Address, frame.CmdStatusBundle, nil, frame.StatusBundleLen+4, a.timeout)
		if err != nil {
			a.latchFault(model.FaultTimeout)
			return fmt.Errorf("axis %s: home status bundle: %w", a.cfg.Tag, err)
		}
		sb, err := frame.ParseStatusBundle(resp.Payload)
		if err != nil {
			return fmt.Errorf("axis %s: decode home status bundle: %w", a.cfg.Tag, err)
		}
		if sb.Stalled {
			stalled = true
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	if !stalled {
		a.latchFault(model.FaultTimeout)
		return fmt.Errorf("axis %s: home: stall not detected after %ds: %w", a.cfg.Tag, a.cfg.HomeTimeoutS, model.ErrTimeout)
	}

	if _, err := a.bus.Transact(ctx, a.cfg.Address, frame.CmdReleaseLockedRotor, frame.ReleaseLockedRotorPayload(), 4, a.timeout); err != nil {
		return fmt.Errorf("axis %s: home release locked rotor: %w", a.cfg.Tag, err)
	}

	backoffCounts := frame.AngleToCounts(a.cfg.BackoffDeg)
	payload := frame.RelativeAxisPayload(backoffCounts, a.safeRPM(10), true, conservativeAccel)
	if _, err := a.bus.Transact(ctx, a.cfg.Address, frame.CmdRelativeAxis, payload, 4, a.timeout); err != nil {
		a.latchFault(model.FaultTimeout)
		return fmt.Errorf("axis %s: home backoff: %w", a.cfg.Tag, err)
	}
	return nil
}

// SetTrackTarget sets the target angle and feedforward velocity the
// hybrid state machine should converge on (spec §6 move_to in hybrid
// mode feeds the tracking loop instead of issuing one absolute move).
func (a *Axis) SetTrackTarget(targetDeg, feedforwardDegS float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.targetDeg = targetDeg
	a.feedforwardDS = feedforwardDegS
}

// Tick advances the hybrid tracking state machine by one control-loop
// period (spec §4.3.2). It is driven externally at trkCfg.ControlRateHz
// by the owning supervisor, not by an internal ticker, so tests can step
// it deterministically.
func (a *Axis) Tick(ctx context.Context) error {
	a.mu.Lock()
	mode := a.mode
	a.mu.Unlock()
	if mode != model.ModeHybrid {
		return nil
	}
	if a.Faulted() {
		return fmt.Errorf("axis %s: %w", a.cfg.Tag, model.ErrFaultLatched)
	}

	if _, err := a.refreshStatus(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	errDeg := a.targetDeg - a.angleDeg
	feedforward := a.feedforwardDS
	prevState := a.state
	a.mu.Unlock()

	absErr := math.Abs(errDeg)
	hasFeedforward := math.Abs(feedforward) > 0
	nextState := prevState

	// TRACK_SPEED entry (spec §4.3.2): "|error| > 2.0 deg OR |target
	// velocity| > 0" — a nonzero feedforward alone is enough to stay in
	// TRACK_SPEED even once the position error closes, since the axis is
	// still expected to be moving.
	switch prevState {
	case model.StateIdle, model.StateHold:
		if absErr > a.trkCfg.HoldThreshold+a.trkCfg.Hysteresis || hasFeedforward {
			if absErr > a.trkCfg.TrackThreshold || hasFeedforward {
				nextState = model.StateTrackSpeed
			} else {
				nextState = model.StateCorrecting
			}
		} else {
			nextState = model.StateHold
		}
	case model.StateTrackSpeed:
		if !hasFeedforward {
			if absErr <= a.trkCfg.HoldThreshold-a.trkCfg.Hysteresis {
				nextState = model.StateHold
			} else if absErr <= a.trkCfg.TrackThreshold-a.trkCfg.Hysteresis {
				nextState = model.StateCorrecting
			}
		}
	case model.StateCorrecting:
		if absErr <= a.trkCfg.HoldThreshold-a.trkCfg.Hysteresis && !hasFeedforward {
			nextState = model.StateHold
		} else if absErr > a.trkCfg.TrackThreshold+a.trkCfg.Hysteresis || hasFeedforward {
			nextState = model.StateTrackSpeed
		}
	}

	a.mu.Lock()
	a.state = nextState
	a.mu.Unlock()

	tickPeriod := time.Duration(float64(time.Second) / a.trkCfg.ControlRateHz)

	switch nextState {
	case model.StateHold:
		// HOLD commands a speed-mode stop (spec §4.3.2) only on entry from
		// a moving state; a HOLD that was already idle has nothing
		// spinning to stop.
		if prevState != model.StateTrackSpeed && prevState != model.StateCorrecting {
			return nil
		}
		if !a.shouldEmit(tickPeriod, nextState, 0) {
			return nil
		}
		payload := frame.SpeedModePayload(0, false, cruiseAccel)
		if _, err := a.bus.Transact(ctx, a.cfg.Address, frame.CmdSpeedMode, payload, 4, a.timeout); err != nil {
			a.latchFault(model.FaultTimeout)
			return fmt.Errorf("axis %s: tick: %w", a.cfg.Tag, err)
		}
		a.recordCmd(nextState, 0)
		return nil

	case model.StateTrackSpeed:
		correction := errDeg * a.trkCfg.Kp
		cmdDegS := feedforward + correction
		rpm := int(math.Round(frame.DegPerSecToRPM(math.Abs(cmdDegS))))
		reverse := cmdDegS < 0
		signedRPM := rpm
		if reverse {
			signedRPM = -rpm
		}
		a.mu.Lock()
		currentAngle := a.angleDeg
		a.mu.Unlock()
		cappedRPM := a.capForWarning(a.safeRPM(rpm), currentAngle)
		if !a.shouldEmit(tickPeriod, nextState, signedRPM) {
			return nil
		}
		payload := frame.SpeedModePayload(cappedRPM, reverse, cruiseAccel)
		if _, err := a.bus.Transact(ctx, a.cfg.Address, frame.CmdSpeedMode, payload, 4, a.timeout); err != nil {
			a.latchFault(model.FaultTimeout)
			return fmt.Errorf("axis %s: tick: %w", a.cfg.Tag, err)
		}
		a.recordCmd(nextState, signedRPM)
		return nil

	case model.StateCorrecting:
		// CORRECTING drives an absolute-position command at low
		// acceleration and conservative speed (spec §4.3.2) rather than
		// the open-loop speed command TRACK_SPEED uses.
		a.mu.Lock()
		currentAngle := a.angleDeg
		target := a.targetDeg
		a.mu.Unlock()
		rpm := a.capForWarning(a.safeRPM(int(math.Round(frame.DegPerSecToRPM(math.Abs(errDeg)*a.trkCfg.Kp)))), currentAngle)
		signedRPM := rpm
		if errDeg < 0 {
			signedRPM = -rpm
		}
		if !a.shouldEmit(tickPeriod, nextState, signedRPM) {
			return nil
		}
		counts := frame.AngleToCounts(target)
		payload := frame.AbsoluteAxisPayload(counts, rpm, conservativeAccel)
		if _, err := a.bus.Transact(ctx, a.cfg.Address, frame.CmdAbsoluteAxis, payload, 4, a.timeout); err != nil {
			a.latchFault(model.FaultTimeout)
			return fmt.Errorf("axis %s: tick: %w", a.cfg.Tag, err)
		}
		a.recordCmd(nextState, signedRPM)
		return nil

	default:
		return nil
	}
}

// shouldEmit implements the bus-traffic-minimization gate (spec §4.3.2):
// a command is only issued when the target state changed, the computed
// speed differs from the last commanded speed by more than 5 RPM, or the
// last command is older than one control-loop tick.
func (a *Axis) shouldEmit(tickPeriod time.Duration, state model.TrackingState, signedRPM int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if state != a.lastCmdState {
		return true
	}
	delta := signedRPM - a.lastCmdRPM
	if delta < 0 {
		delta = -delta
	}
	if delta > 5 {
		return true
	}
	if a.lastCmdAt.IsZero() || time.Since(a.lastCmdAt) >= tickPeriod {
		return true
	}
	return false
}

// recordCmd remembers the last state/speed actually sent to the servo, so
// the next Tick's shouldEmit can compare against it.
func (a *Axis) recordCmd(state model.TrackingState, signedRPM int) {
	a.mu.Lock()
	a.lastCmdState = state
	a.lastCmdRPM = signedRPM
	a.lastCmdAt = time.Now()
	a.mu.Unlock()
}
