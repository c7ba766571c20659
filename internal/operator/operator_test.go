package operator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aetherlink/groundstation/internal/config"
	"github.com/aetherlink/groundstation/internal/frame"
	"github.com/aetherlink/groundstation/internal/model"
	"github.com/aetherlink/groundstation/internal/serialport"
)

func testConfig() *config.Config {
	return &config.Config{
		Bus: config.BusConfig{
			Device:           "fake0",
			BaudRate:         38400,
			InterFrameGapMS:  1,
			DefaultTimeoutMS: 200,
		},
		Axes: []config.AxisConfig{
			{
				Tag:              model.AxisAZ,
				Address:          0x01,
				HasLimitSwitches: true,
				HomeMethod:       model.HomeLimitSwitch,
				MinAngleDeg:      -170,
				MaxAngleDeg:      170,
				WarningMarginDeg: 5,
				Microstep:        16,
				HomeTimeoutS:     1,
			},
		},
		Tracking: config.TrackingConfig{
			ControlRateHz:  50,
			Kp:             1.0,
			TrackThreshold: 2.0,
			HoldThreshold:  0.5,
			Hysteresis:     0.1,
			MaxRPM:         100,
		},
		Telemetry: config.TelemetryConfig{
			RateHz:              10,
			SubscriberBufferLen: 4,
			IMUStaleS:           1.0,
			AxisStaleS:          2.0,
			GNSSStaleS:          5.0,
		},
	}
}

func TestSupervisorMoveToUnknownAxis(t *testing.T) {
	port := serialport.NewFakePort()
	sup := New(testConfig(), port, nil, nil, nil)
	ctx := context.Background()
	assert.NoError(t, sup.Start(ctx))
	defer sup.Stop(time.Second)

	err := sup.MoveTo(ctx, model.AxisEL, 10, 10)
	assert.ErrorIs(t, err, model.ErrUnknownAxis)
}

func TestSupervisorMoveToIssuesBusCommand(t *testing.T) {
	port := serialport.NewFakePort()
	codec := frame.NewCodec()
	sup := New(testConfig(), port, nil, nil, nil)
	ctx := context.Background()
	assert.NoError(t, sup.Start(ctx))
	defer sup.Stop(time.Second)

	port.QueueRead(codec.Encode(0x01, frame.CmdAbsoluteAxis, nil))
	err := sup.MoveTo(ctx, model.AxisAZ, 45, 20)
	assert.NoError(t, err)
}

func TestSupervisorEmergencyStopAll(t *testing.T) {
	port := serialport.NewFakePort()
	codec := frame.NewCodec()
	sup := New(testConfig(), port, nil, nil, nil)
	ctx := context.Background()
	assert.NoError(t, sup.Start(ctx))
	defer sup.Stop(time.Second)

	port.QueueRead(codec.Encode(0x01, frame.CmdEmergencyStop, nil))
	err := sup.EmergencyStopAll(ctx)
	assert.NoError(t, err)
}

func TestSupervisorSubscribeTelemetry(t *testing.T) {
	port := serialport.NewFakePort()
	sup := New(testConfig(), port, nil, nil, nil)
	ctx := context.Background()
	assert.NoError(t, sup.Start(ctx))
	defer sup.Stop(time.Second)

	id, ch := sup.SubscribeTelemetry()
	assert.NotEqual(t, id.String(), "")
	sup.UnsubscribeTelemetry(id)
	_, ok := <-ch
	assert.False(t, ok)
}
