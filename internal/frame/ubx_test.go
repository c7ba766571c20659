package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func buildUBXFrame(class, id byte, payload []byte) []byte {
	buf := []byte{0xB5, 0x62, class, id, byte(len(payload)), byte(len(payload) >> 8)}
	buf = append(buf, payload...)
	ck := ubxChecksum(buf[2:])
	buf = append(buf, byte(ck), byte(ck>>8))
	return buf
}

func TestParseUBXValid(t *testing.T) {
	raw := buildUBXFrame(0x01, 0x02, []byte{0xAA, 0xBB, 0xCC})
	msg := ParseUBX(raw)
	assert.True(t, msg.Valid)
	assert.Equal(t, byte(0x01), msg.Class)
	assert.Equal(t, byte(0x02), msg.ID)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, msg.Payload)
}

func TestParseUBXBadChecksum(t *testing.T) {
	raw := buildUBXFrame(0x01, 0x02, []byte{0xAA})
	raw[len(raw)-1] ^= 0xFF
	msg := ParseUBX(raw)
	assert.False(t, msg.Valid)
}

func TestFindUBXFrame(t *testing.T) {
	raw := buildUBXFrame(0x01, 0x02, []byte{0x01, 0x02})
	buf := append([]byte{0x00, 0x01, 0x02}, raw...)
	buf = append(buf, 0xDE, 0xAD)

	frame, consumed, ok := FindUBXFrame(buf)
	assert.True(t, ok)
	assert.Equal(t, raw, frame)
	assert.Equal(t, 3+len(raw), consumed)
}

func TestFindUBXFrameIncomplete(t *testing.T) {
	raw := buildUBXFrame(0x01, 0x02, []byte{0x01, 0x02, 0x03})
	_, _, ok := FindUBXFrame(raw[:len(raw)-2])
	assert.False(t, ok)
}
