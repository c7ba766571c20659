// Package model holds the value types shared by every component of the
// ground station control core: axis identity, tracking modes, fault and
// health enumerations. Nothing in this package performs I/O.
package model

import "fmt"

// AxisTag identifies one of the three controlled rotational axes. The
// tag<->bus-address mapping is fixed at construction and immutable for the
// process lifetime (spec invariant).
type AxisTag string

// The three supported axes.
const (
	AxisAZ AxisTag = "AZ"
	AxisEL AxisTag = "EL"
	AxisCL AxisTag = "CL"
)

// MovementMode selects the command family used by all axes.
type MovementMode int

const (
	// ModePosition issues only absolute/relative position commands.
	ModePosition MovementMode = iota
	// ModeSpeed issues only speed-mode commands.
	ModeSpeed
	// ModeHybrid is the non-trivial hybrid speed/position tracking mode.
	ModeHybrid
)

func (m MovementMode) String() string {
	switch m {
	case ModePosition:
		return "position"
	case ModeSpeed:
		return "speed"
	case ModeHybrid:
		return "hybrid"
	default:
		return fmt.Sprintf("MovementMode(%d)", int(m))
	}
}

// TrackingState is one of the four states of the hybrid tracking state
// machine (spec §4.3.2).
type TrackingState int

const (
	StateIdle TrackingState = iota
	StateTrackSpeed
	StateCorrecting
	StateHold
)

func (s TrackingState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateTrackSpeed:
		return "TRACK_SPEED"
	case StateCorrecting:
		return "CORRECTING"
	case StateHold:
		return "HOLD"
	default:
		return fmt.Sprintf("TrackingState(%d)", int(s))
	}
}

// HomeMethod selects how an axis establishes its zero reference.
type HomeMethod int

const (
	HomeLimitSwitch HomeMethod = iota
	HomeStall
)

// FaultKind enumerates the latching faults an axis can report.
type FaultKind int

const (
	FaultNone FaultKind = iota
	FaultTimeout
	FaultStall
	FaultFollowingError
	FaultLimitTripped
	FaultOutOfRange
)

func (f FaultKind) String() string {
	switch f {
	case FaultNone:
		return "none"
	case FaultTimeout:
		return "Timeout"
	case FaultStall:
		return "Stall"
	case FaultFollowingError:
		return "FollowingError"
	case FaultLimitTripped:
		return "LimitTripped"
	case FaultOutOfRange:
		return "OutOfRange"
	default:
		return fmt.Sprintf("FaultKind(%d)", int(f))
	}
}

// HealthStatus is the coarse health value reported per component in every
// telemetry snapshot.
type HealthStatus int

const (
	HealthOK HealthStatus = iota
	HealthDegraded
	HealthFault
)

func (h HealthStatus) String() string {
	switch h {
	case HealthOK:
		return "ok"
	case HealthDegraded:
		return "degraded"
	case HealthFault:
		return "fault"
	default:
		return fmt.Sprintf("HealthStatus(%d)", int(h))
	}
}

// FixQuality enumerates the GNSS fix quality values tracked in spec §3.
type FixQuality int

const (
	FixNone FixQuality = iota
	Fix2D
	Fix3D
	FixDR
	FixTime
)

func (q FixQuality) String() string {
	switch q {
	case FixNone:
		return "none"
	case Fix2D:
		return "2D"
	case Fix3D:
		return "3D"
	case FixDR:
		return "DR"
	case FixTime:
		return "time"
	default:
		return fmt.Sprintf("FixQuality(%d)", int(q))
	}
}
