// Package telemetry implements the Telemetry Broadcaster (spec §4.5):
// fixed-rate snapshot assembly across all axes and sensors, with
// per-subscriber bounded fan-out and independent backpressure. Metric
// shape (a prometheus.Collector exposing Describe/Collect over
// internally tracked state) is grounded on
// runZeroInc-sockstats/pkg/exporter.TCPInfoCollector.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aetherlink/groundstation/internal/clock"
	"github.com/aetherlink/groundstation/internal/config"
	"github.com/aetherlink/groundstation/internal/model"
	"github.com/aetherlink/groundstation/internal/obslog"
	"github.com/aetherlink/groundstation/internal/sensor/gnss"
	"github.com/aetherlink/groundstation/internal/sensor/imu"
)

// AxisSnapshot is one axis's contribution to a telemetry Snapshot,
// mirroring internal/axis.Status field-for-field. The broadcaster
// depends on a fetch function (see AddAxis) rather than on
// internal/axis.Axis directly, keeping the dependency one-way.
type AxisSnapshot struct {
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

// IMUSource is implemented by internal/sensor/imu.Reader.
type IMUSource interface {
	Reading() imu.Reading
	Heading() float64
	Connected() bool
}

// GNSSSource is implemented by internal/sensor/gnss.Reader.
type GNSSSource interface {
	Fix() gnss.Fix
}

// Snapshot is one fixed-rate assembly of the whole ground station's
// state, the unit every subscriber receives (spec §4.5).
type Snapshot struct {
	Seq       uint64
	Timestamp time.Time
	Axes      map[model.AxisTag]AxisSnapshot
	IMU       imu.Reading
	Heading   float64
	GNSS      gnss.Fix
	Health    map[string]model.HealthStatus
	Overall   model.HealthStatus
}

// axisEntry pairs an axis tag with a function returning its current
// snapshot, letting the broadcaster depend on internal/axis.Axis without
// a direct type reference (axis.Axis.Status returns axis.Status, which
// this package mirrors field-for-field as AxisSnapshot).
type axisEntry struct {
	tag   model.AxisTag
	fetch func() AxisSnapshot
}

// Broadcaster assembles and fans out Snapshots at a fixed rate.
type Broadcaster struct {
	cfg config.TelemetryConfig
	clk clock.Clock
	log obslog.Logger

	axes []axisEntry
	imuR IMUSource
	gnss GNSSSource

	mu   sync.Mutex
	subs map[uuid.UUID]chan Snapshot
	seq  uint64

	metrics *Metrics

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Broadcaster. Use AddAxis/WithIMU/WithGNSS to register
// sources before calling Start.
func New(cfg config.TelemetryConfig, clk clock.Clock, log obslog.Logger) *Broadcaster {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if log == nil {
		log = obslog.Noop{}
	}
	return &Broadcaster{
		cfg:     cfg,
		clk:     clk,
		log:     log.WithField("component", "telemetry"),
		subs:    make(map[uuid.UUID]chan Snapshot),
		metrics: NewMetrics(),
	}
}

// AddAxis registers a source function for one axis's snapshot.
func (b *Broadcaster) AddAxis(tag model.AxisTag, fetch func() AxisSnapshot) {
	b.axes = append(b.axes, axisEntry{tag: tag, fetch: fetch})
}

// WithIMU registers the IMU source.
func (b *Broadcaster) WithIMU(src IMUSource) { b.imuR = src }

// WithGNSS registers the GNSS source.
func (b *Broadcaster) WithGNSS(src GNSSSource) { b.gnss = src }

// Metrics returns the prometheus.Collector for this broadcaster.
func (b *Broadcaster) Metrics() *Metrics { return b.metrics }

// Subscribe registers a new subscriber and returns its handle and
// receive channel (spec §6 subscribe_telemetry). The channel is bounded
// at cfg.SubscriberBufferLen; a slow subscriber's oldest unread snapshot
// is dropped rather than blocking the broadcast tick (spec §4.5
// "independent backpressure, drop-oldest").
func (b *Broadcaster) Subscribe() (uuid.UUID, <-chan Snapshot) {
	id := uuid.New()
	ch := make(chan Snapshot, b.cfg.SubscriberBufferLen)
	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()
	b.metrics.setSubscriberCount(len(b.subs))
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(id uuid.UUID) {
	b.mu.Lock()
	ch, ok := b.subs[id]
	delete(b.subs, id)
	count := len(b.subs)
	b.mu.Unlock()
	if ok {
		close(ch)
	}
	b.metrics.setSubscriberCount(count)
}

// Start launches the fixed-rate tick loop.
func (b *Broadcaster) Start(ctx context.Context) {
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	period := time.Duration(float64(time.Second) / b.cfg.RateHz)

	go func() {
		defer close(b.doneCh)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		last := time.Now()
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.stopCh:
				return
			case now := <-ticker.C:
				b.metrics.observeTickJitter(now.Sub(last) - period)
				last = now
				b.tick()
			}
		}
	}()
}

// Stop halts the tick loop.
func (b *Broadcaster) Stop() {
	if b.stopCh == nil {
		return
	}
	close(b.stopCh)
	<-b.doneCh
}

// tick assembles one Snapshot and fans it out, incrementing Seq. Exposed
// indirectly through Start's ticker for production use, and directly via
// Tick for deterministic tests.
func (b *Broadcaster) tick() {
	b.Tick()
}

// Tick assembles exactly one Snapshot and publishes it to every
// subscriber. It is safe to call directly in tests instead of driving
// Start's ticker (spec §4.5, I7 "sequence numbers strictly increase").
func (b *Broadcaster) Tick() Snapshot {
	now := b.clk.Now()

	axesSnap := make(map[model.AxisTag]AxisSnapshot, len(b.axes))
	worstAxis := model.HealthOK
	for _, e := range b.axes {
		snap := e.fetch()
		axesSnap[e.tag] = snap
		h := b.axisHealth(snap, now)
		if h > worstAxis {
			worstAxis = h
		}
	}

	var imuReading imu.Reading
	var heading float64
	imuHealth := model.HealthFault
	if b.imuR != nil {
		imuReading = b.imuR.Reading()
		heading = b.imuR.Heading()
		imuHealth = b.staleHealth(imuReading.UpdatedAt, now, b.cfg.IMUStaleS, b.imuR.Connected())
	}

	var fix gnss.Fix
	gnssHealth := model.HealthFault
	if b.gnss != nil {
		fix = b.gnss.Fix()
		gnssHealth = b.staleHealth(fix.UpdatedAt, now, b.cfg.GNSSStaleS, true)
	}

	overall := worstAxis
	if imuHealth > overall {
		overall = imuHealth
	}
	if gnssHealth > overall {
		overall = gnssHealth
	}

	b.mu.Lock()
	b.seq++
	seq := b.seq
	b.mu.Unlock()

	snap := Snapshot{
		Seq:       seq,
		Timestamp: now,
		Axes:      axesSnap,
		IMU:       imuReading,
		Heading:   heading,
		GNSS:      fix,
		Health: map[string]model.HealthStatus{
			"imu":  imuHealth,
			"gnss": gnssHealth,
		},
		Overall: overall,
	}
	for _, e := range b.axes {
		snap.Health[string(e.tag)] = b.axisHealth(axesSnap[e.tag], now)
	}

	b.publish(snap)
	b.metrics.observeTick()
	return snap
}

func (b *Broadcaster) axisHealth(s AxisSnapshot, now time.Time) model.HealthStatus {
	if s.Fault != model.FaultNone {
		return model.HealthFault
	}
	if s.UpdatedAt.IsZero() || now.Sub(s.UpdatedAt) > time.Duration(b.cfg.AxisStaleS*float64(time.Second)) {
		return model.HealthFault
	}
	return model.HealthOK
}

func (b *Broadcaster) staleHealth(updatedAt, now time.Time, maxAgeS float64, connected bool) model.HealthStatus {
	if !connected {
		return model.HealthFault
	}
	if updatedAt.IsZero() || now.Sub(updatedAt) > time.Duration(maxAgeS*float64(time.Second)) {
		return model.HealthDegraded
	}
	return model.HealthOK
}

// publish fans snap out to every subscriber without blocking: a full
// channel has its oldest entry discarded to make room (spec §4.5).
func (b *Broadcaster) publish(snap Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
				b.metrics.incDropped(id)
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
