package serialport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBugStPortNotOpenErrors(t *testing.T) {
	p := NewBugStPort()

	_, err := p.Read(make([]byte, 8))
	assert.Error(t, err)

	_, err = p.Write([]byte{0x01})
	assert.Error(t, err)

	err = p.SetReadTimeout(0)
	assert.Error(t, err)

	assert.NoError(t, p.Close())
}

func TestFakePortReadWriteRoundTrip(t *testing.T) {
	f := NewFakePort()
	assert.NoError(t, f.Open("fake0", 38400))
	assert.True(t, f.IsOpen())

	n, err := f.Write([]byte{0x01, 0x02})
	assert.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, [][]byte{{0x01, 0x02}}, f.Writes())

	f.QueueRead([]byte{0xAA, 0xBB})
	buf := make([]byte, 8)
	n, err = f.Read(buf)
	assert.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, buf[:n])

	assert.NoError(t, f.Close())
	assert.False(t, f.IsOpen())
}

func TestFakePortReadBeforeOpen(t *testing.T) {
	f := NewFakePort()
	_, err := f.Read(make([]byte, 4))
	assert.Error(t, err)
}
