package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aetherlink/groundstation/internal/clock"
	"github.com/aetherlink/groundstation/internal/config"
	"github.com/aetherlink/groundstation/internal/model"
	"github.com/aetherlink/groundstation/internal/sensor/gnss"
	"github.com/aetherlink/groundstation/internal/sensor/imu"
)

type fakeIMU struct {
	reading   imu.Reading
	heading   float64
	connected bool
}

func (f fakeIMU) Reading() imu.Reading { return f.reading }
func (f fakeIMU) Heading() float64     { return f.heading }
func (f fakeIMU) Connected() bool      { return f.connected }

type fakeGNSS struct {
	fix gnss.Fix
}

func (f fakeGNSS) Fix() gnss.Fix { return f.fix }

func testTelemetryConfig() config.TelemetryConfig {
	return config.TelemetryConfig{
		RateHz:              10,
		SubscriberBufferLen: 2,
		IMUStaleS:           1.0,
		AxisStaleS:          2.0,
		GNSSStaleS:          5.0,
	}
}

func TestBroadcasterTickSequenceIncreases(t *testing.T) {
	now := time.Now()
	clk := clock.NewSteppingClock([]time.Time{now, now.Add(100 * time.Millisecond)})
	b := New(testTelemetryConfig(), clk, nil)

	b.AddAxis(model.AxisAZ, func() AxisSnapshot {
		return AxisSnapshot{Tag: model.AxisAZ, AngleDeg: 1.0, UpdatedAt: now}
	})
	b.WithIMU(fakeIMU{reading: imu.Reading{UpdatedAt: now}, connected: true})
	b.WithGNSS(fakeGNSS{fix: gnss.Fix{UpdatedAt: now}})

	s1 := b.Tick()
	s2 := b.Tick()

	assert.Equal(t, uint64(1), s1.Seq)
	assert.Equal(t, uint64(2), s2.Seq)
}

func TestBroadcasterHealthDegradedWhenStale(t *testing.T) {
	now := time.Now()
	clk := clock.NewSteppingClock([]time.Time{now})
	b := New(testTelemetryConfig(), clk, nil)

	staleTime := now.Add(-10 * time.Second)
	b.AddAxis(model.AxisAZ, func() AxisSnapshot {
		return AxisSnapshot{Tag: model.AxisAZ, UpdatedAt: staleTime}
	})
	b.WithIMU(fakeIMU{reading: imu.Reading{UpdatedAt: staleTime}, connected: true})
	b.WithGNSS(fakeGNSS{fix: gnss.Fix{UpdatedAt: staleTime}})

	snap := b.Tick()
	assert.Equal(t, model.HealthFault, snap.Health["AZ"])
	assert.Equal(t, model.HealthDegraded, snap.Health["imu"])
	assert.Equal(t, model.HealthDegraded, snap.Health["gnss"])
	assert.Equal(t, model.HealthFault, snap.Overall)
}

func TestBroadcasterFaultedAxisReportsFaultHealth(t *testing.T) {
	now := time.Now()
	clk := clock.NewSteppingClock([]time.Time{now})
	b := New(testTelemetryConfig(), clk, nil)
	b.AddAxis(model.AxisEL, func() AxisSnapshot {
		return AxisSnapshot{Tag: model.AxisEL, UpdatedAt: now, Fault: model.FaultStall}
	})

	snap := b.Tick()
	assert.Equal(t, model.HealthFault, snap.Health["EL"])
	assert.Equal(t, model.HealthFault, snap.Overall)
}

func TestBroadcasterSubscribeReceivesSnapshot(t *testing.T) {
	now := time.Now()
	clk := clock.NewSteppingClock([]time.Time{now})
	b := New(testTelemetryConfig(), clk, nil)

	_, ch := b.Subscribe()
	b.Tick()

	select {
	case snap := <-ch:
		assert.Equal(t, uint64(1), snap.Seq)
	default:
		t.Fatal("expected a snapshot to be delivered")
	}
}

func TestBroadcasterDropsOldestOnSlowSubscriber(t *testing.T) {
	now := time.Now()
	clk := clock.NewSteppingClock([]time.Time{now, now, now})
	b := New(testTelemetryConfig(), clk, nil) // buffer depth 2

	_, ch := b.Subscribe()
	b.Tick()
	b.Tick()
	b.Tick() // channel full after 2, oldest dropped

	var seqs []uint64
	for {
		select {
		case snap := <-ch:
			seqs = append(seqs, snap.Seq)
			continue
		default:
		}
		break
	}
	assert.Len(t, seqs, 2)
	assert.Equal(t, uint64(2), seqs[0])
	assert.Equal(t, uint64(3), seqs[1])
}

func TestBroadcasterUnsubscribeClosesChannel(t *testing.T) {
	b := New(testTelemetryConfig(), nil, nil)
	id, ch := b.Subscribe()
	b.Unsubscribe(id)

	_, ok := <-ch
	assert.False(t, ok)
}
