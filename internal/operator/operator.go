// Package operator wires the Bus Arbiter, axis controllers, sensor
// readers and the telemetry broadcaster into the single operator-facing
// surface described in spec §6: move_to, jog, stop, emergency_stop_all,
// home, set_zero, release_fault, set_movement_mode, subscribe_telemetry
// and raw_transact. It is the one place that knows about every other
// package in this module, mirrored on the way the teacher's
// cmd/top708reader wires a device, a monitor config and a handler
// together, generalized from a single GNSS device to a whole ground
// station core.
package operator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aetherlink/groundstation/internal/axis"
	"github.com/aetherlink/groundstation/internal/bus"
	"github.com/aetherlink/groundstation/internal/config"
	"github.com/aetherlink/groundstation/internal/frame"
	"github.com/aetherlink/groundstation/internal/model"
	"github.com/aetherlink/groundstation/internal/obslog"
	"github.com/aetherlink/groundstation/internal/sensor/gnss"
	"github.com/aetherlink/groundstation/internal/sensor/imu"
	"github.com/aetherlink/groundstation/internal/serialport"
	"github.com/aetherlink/groundstation/internal/telemetry"
)

// Endpoint describes one optional sensor's serial connection: the
// transport to use and how to open it. Port is left unopened; Open*
// calls during Start perform the actual connect.
type Endpoint struct {
	Port     serialport.Port
	Name     string
	BaudRate int // unused for the IMU, which auto-detects its baud
}

// Supervisor is the top-level runtime object: one per ground station
// process.
type Supervisor struct {
	cfg      *config.Config
	log      obslog.Logger
	arb      *bus.Arbiter
	axes     map[model.AxisTag]*axis.Axis
	imuR     *imu.Reader
	imuEP    *Endpoint
	gnssR    *gnss.Reader
	gnssEP   *Endpoint
	tel      *telemetry.Broadcaster

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Supervisor from configuration. It does not open any
// transport; call Start for that. imuEP/gnssEP may be nil when that
// sensor is not wired for this deployment.
func New(cfg *config.Config, busPort serialport.Port, imuEP *Endpoint, gnssEP *Endpoint, log obslog.Logger) *Supervisor {
	if log == nil {
		log = obslog.NewDefault()
	}

	arb := bus.New(busPort, frame.NewCodec(), cfg.Bus, log)

	axes := make(map[model.AxisTag]*axis.Axis, len(cfg.Axes))
	for _, axCfg := range cfg.Axes {
		axes[axCfg.Tag] = axis.New(axCfg, cfg.Tracking, arb, log)
	}

	var imuR *imu.Reader
	if imuEP != nil {
		imuR = imu.New(imuEP.Port, 0, log)
	}
	var gnssR *gnss.Reader
	if gnssEP != nil {
		gnssR = gnss.New(gnssEP.Port, log)
	}

	tel := telemetry.New(cfg.Telemetry, nil, log)
	for tag, a := range axes {
		axisRef := a
		tel.AddAxis(tag, func() telemetry.AxisSnapshot {
			s := axisRef.Status()
			return telemetry.AxisSnapshot{
				Tag:           s.Tag,
				AngleDeg:      s.AngleDeg,
				VelocityDegS:  s.VelocityDegS,
				TargetDeg:     s.TargetDeg,
				Mode:          s.Mode,
				TrackingState: s.TrackingState,
				Enabled:       s.Enabled,
				Homed:         s.Homed,
				Fault:         s.Fault,
				UpdatedAt:     s.UpdatedAt,
			}
		})
	}
	if imuR != nil {
		tel.WithIMU(imuR)
	}
	if gnssR != nil {
		tel.WithGNSS(gnssR)
	}

	return &Supervisor{
		cfg:    cfg,
		log:    log.WithField("component", "operator"),
		arb:    arb,
		axes:   axes,
		imuR:   imuR,
		imuEP:  imuEP,
		gnssR:  gnssR,
		gnssEP: gnssEP,
		tel:    tel,
	}
}

// Start opens the bus and any configured sensors, starts the telemetry
// broadcaster, and launches the hybrid tracking control loop at
// cfg.Tracking.ControlRateHz (spec §4.3.2 drives Axis.Tick externally at
// a fixed rate). A sensor connection failure is logged but does not
// prevent the core from starting: axis motion does not depend on either
// sensor being present.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := s.arb.Start(ctx); err != nil {
		return fmt.Errorf("operator: start bus: %w", err)
	}

	if s.imuR != nil {
		if err := s.imuR.Open(ctx, s.imuEP.Name); err != nil {
			s.log.Warnf("imu: %v", err)
		}
	}
	if s.gnssR != nil {
		if err := s.gnssR.Open(s.gnssEP.Name, s.gnssEP.BaudRate); err != nil {
			s.log.Warnf("gnss: %v", err)
		}
	}

	s.tel.Start(ctx)

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	period := time.Duration(float64(time.Second) / s.cfg.Tracking.ControlRateHz)

	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				for _, a := range s.axes {
					tickCtx, cancel := context.WithTimeout(ctx, period)
					if err := a.Tick(tickCtx); err != nil {
						s.log.Debugf("axis tick: %v", err)
					}
					cancel()
				}
			}
		}
	}()

	s.log.Infof("operator started: %d axes, imu=%v, gnss=%v", len(s.axes), s.imuR != nil, s.gnssR != nil)
	return nil
}

// Stop halts the control loop, the telemetry broadcaster and the bus,
// waiting up to grace for a clean shutdown.
func (s *Supervisor) Stop(grace time.Duration) error {
	if s.stopCh != nil {
		close(s.stopCh)
		select {
		case <-s.doneCh:
		case <-time.After(grace):
		}
	}
	s.tel.Stop()
	if s.imuR != nil {
		_ = s.imuR.Close()
	}
	if s.gnssR != nil {
		_ = s.gnssR.Close()
	}
	return s.arb.Stop(grace)
}

func (s *Supervisor) axisOrErr(tag model.AxisTag) (*axis.Axis, error) {
	a, ok := s.axes[tag]
	if !ok {
		return nil, fmt.Errorf("operator: %w: %s", model.ErrUnknownAxis, tag)
	}
	return a, nil
}

// MoveTo implements the move_to operator command for one axis.
func (s *Supervisor) MoveTo(ctx context.Context, tag model.AxisTag, targetDeg float64, rpm int) error {
	a, err := s.axisOrErr(tag)
	if err != nil {
		return err
	}
	if a.Status().Mode == model.ModeHybrid {
		a.SetTrackTarget(targetDeg, 0)
		return nil
	}
	return a.MoveTo(ctx, targetDeg, rpm)
}

// Jog implements the jog operator command.
func (s *Supervisor) Jog(ctx context.Context, tag model.AxisTag, degPerSec float64) error {
	a, err := s.axisOrErr(tag)
	if err != nil {
		return err
	}
	return a.Jog(ctx, degPerSec)
}

// StopAxis implements the stop operator command for one axis.
func (s *Supervisor) StopAxis(ctx context.Context, tag model.AxisTag) error {
	a, err := s.axisOrErr(tag)
	if err != nil {
		return err
	}
	return a.Stop(ctx)
}

// EmergencyStopAll implements emergency_stop_all: every axis is sent
// CmdEmergencyStop on the bus's priority lane (spec §5, §6). The call
// attempts every axis regardless of earlier failures and returns the
// first error encountered.
func (s *Supervisor) EmergencyStopAll(ctx context.Context) error {
	var firstErr error
	for tag, a := range s.axes {
		if err := a.EmergencyStop(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("axis %s: %w", tag, err)
		}
	}
	return firstErr
}

// Home implements the home operator command.
func (s *Supervisor) Home(ctx context.Context, tag model.AxisTag) error {
	a, err := s.axisOrErr(tag)
	if err != nil {
		return err
	}
	return a.Home(ctx)
}

// SetZero implements the set_zero operator command.
func (s *Supervisor) SetZero(ctx context.Context, tag model.AxisTag) error {
	a, err := s.axisOrErr(tag)
	if err != nil {
		return err
	}
	return a.SetZero(ctx)
}

// ReleaseFault implements the release_fault operator command.
func (s *Supervisor) ReleaseFault(ctx context.Context, tag model.AxisTag) error {
	a, err := s.axisOrErr(tag)
	if err != nil {
		return err
	}
	return a.ReleaseFault(ctx)
}

// SetMovementMode implements the set_movement_mode operator command.
func (s *Supervisor) SetMovementMode(tag model.AxisTag, mode model.MovementMode) error {
	a, err := s.axisOrErr(tag)
	if err != nil {
		return err
	}
	a.SetMovementMode(mode)
	return nil
}

// SubscribeTelemetry implements subscribe_telemetry: it registers a new
// telemetry subscriber and returns its handle and channel.
func (s *Supervisor) SubscribeTelemetry() (uuid.UUID, <-chan telemetry.Snapshot) {
	return s.tel.Subscribe()
}

// UnsubscribeTelemetry removes a telemetry subscriber.
func (s *Supervisor) UnsubscribeTelemetry(id uuid.UUID) {
	s.tel.Unsubscribe(id)
}

// RawTransact implements the raw_transact diagnostic command: it issues
// exactly the given bus address/command/payload through the Arbiter,
// bypassing axis-level semantics, and returns the decoded response.
func (s *Supervisor) RawTransact(ctx context.Context, addr, cmd byte, payload []byte, expectedLen int, timeout time.Duration) (frame.Response, error) {
	return s.arb.Transact(ctx, addr, cmd, payload, expectedLen, timeout)
}

// AxisStatus returns the current status of one axis.
func (s *Supervisor) AxisStatus(tag model.AxisTag) (axis.Status, error) {
	a, err := s.axisOrErr(tag)
	if err != nil {
		return axis.Status{}, err
	}
	return a.Status(), nil
}

// Metrics returns the telemetry broadcaster's prometheus.Collector.
func (s *Supervisor) Metrics() *telemetry.Metrics {
	return s.tel.Metrics()
}
