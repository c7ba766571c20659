package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aetherlink/groundstation/internal/config"
	"github.com/aetherlink/groundstation/internal/frame"
	"github.com/aetherlink/groundstation/internal/model"
	"github.com/aetherlink/groundstation/internal/serialport"
)

func testBusConfig() config.BusConfig {
	return config.BusConfig{
		Device:           "fake0",
		BaudRate:         38400,
		InterFrameGapMS:  1,
		DefaultTimeoutMS: 200,
	}
}

func TestArbiterTransactRoundTrip(t *testing.T) {
	port := serialport.NewFakePort()
	codec := frame.NewCodec()
	a := New(port, codec, testBusConfig(), nil)

	resp := codec.Encode(0x01, 0xA1, []byte{0x01, 0x02})
	port.QueueRead(resp)

	assert.NoError(t, a.Start(context.Background()))
	defer a.Stop(time.Second)

	got, err := a.Transact(context.Background(), 0x01, 0xA1, []byte{0x10}, len(resp), 100*time.Millisecond)
	assert.NoError(t, err)
	assert.Equal(t, byte(0x01), got.Addr)
	assert.Equal(t, byte(0xA1), got.Cmd)
	assert.Equal(t, []byte{0x01, 0x02}, got.Payload)

	writes := port.Writes()
	assert.Len(t, writes, 1)
	assert.Equal(t, byte(0xFA), writes[0][0])
	assert.Equal(t, byte(0x01), writes[0][1])
	assert.Equal(t, byte(0xA1), writes[0][2])
}

func TestArbiterTransactTimeout(t *testing.T) {
	port := serialport.NewFakePort()
	codec := frame.NewCodec()
	a := New(port, codec, testBusConfig(), nil)

	assert.NoError(t, a.Start(context.Background()))
	defer a.Stop(time.Second)

	_, err := a.Transact(context.Background(), 0x01, 0xA1, nil, 5, 30*time.Millisecond)
	assert.ErrorIs(t, err, model.ErrTimeout)
}

func TestArbiterTransactNotStarted(t *testing.T) {
	port := serialport.NewFakePort()
	codec := frame.NewCodec()
	a := New(port, codec, testBusConfig(), nil)

	_, err := a.Transact(context.Background(), 0x01, 0xA1, nil, 5, 30*time.Millisecond)
	assert.ErrorIs(t, err, model.ErrBusBusy)
}

func TestArbiterPriorityJumpsQueue(t *testing.T) {
	port := serialport.NewFakePort()
	codec := frame.NewCodec()
	cfg := testBusConfig()
	a := New(port, codec, cfg, nil)

	normalResp := codec.Encode(0x02, 0xB0, []byte{0x00})
	priorityResp := codec.Encode(0x00, 0xEE, nil)
	port.QueueRead(priorityResp)
	port.QueueRead(normalResp)

	// Mark the arbiter running without its worker, so a normal and a
	// priority request are both waiting before the worker picks either.
	assert.NoError(t, port.Open(cfg.Device, cfg.BaudRate))
	a.mu.Lock()
	a.running = true
	a.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := a.Transact(context.Background(), 0x02, 0xB0, []byte{0x00}, len(normalResp), 200*time.Millisecond)
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := a.PriorityTransact(context.Background(), 0x00, 0xEE, nil, len(priorityResp), 200*time.Millisecond)
		assert.NoError(t, err)
	}()
	time.Sleep(20 * time.Millisecond)
	go a.run()
	defer a.Stop(time.Second)
	wg.Wait()

	// Writes are recorded in wire order: the priority request goes first.
	writes := port.Writes()
	assert.Len(t, writes, 2)
	assert.Equal(t, byte(0xEE), writes[0][2])
	assert.Equal(t, byte(0xB0), writes[1][2])
}

func TestArbiterContextCancel(t *testing.T) {
	port := serialport.NewFakePort()
	codec := frame.NewCodec()
	a := New(port, codec, testBusConfig(), nil)
	assert.NoError(t, a.Start(context.Background()))
	defer a.Stop(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Transact(ctx, 0x01, 0xA1, nil, 5, 200*time.Millisecond)
	assert.Error(t, err)
}

func TestArbiterRawTransact(t *testing.T) {
	port := serialport.NewFakePort()
	codec := frame.NewCodec()
	a := New(port, codec, testBusConfig(), nil)
	assert.NoError(t, a.Start(context.Background()))
	defer a.Stop(time.Second)

	resp := codec.Encode(0x03, 0x50, []byte{0x09})
	port.QueueRead(resp)

	raw := []byte{0xFA, 0x03, 0x50, 0x01}
	got, err := a.RawTransact(context.Background(), 0x03, raw, len(resp), 100*time.Millisecond)
	assert.NoError(t, err)
	assert.Equal(t, byte(0x50), got.Cmd)
}
