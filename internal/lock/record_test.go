//go:build linux

package lock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_MarshalUnmarshalRoundTrip(t *testing.T) {
	r := Record{
		Magic:       recordMagic,
		OwnerUID:    1000,
		CgEnabled:   true,
		Initialized: true,
		HolderPID:   4242,
		AcquiredAt:  1700000000,
	}
	buf := r.MarshalBinary()
	assert.Len(t, buf, recordSize)

	got, err := UnmarshalRecord(buf)
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestRecord_FreshRecord(t *testing.T) {
	r := freshRecord(1000, true)
	assert.Equal(t, recordMagic, r.Magic)
	assert.Equal(t, uint32(1000), r.OwnerUID)
	assert.True(t, r.CgEnabled)
	assert.False(t, r.Initialized)
}

func TestRecord_FalseBooleansEncodeAsZero(t *testing.T) {
	r := Record{Magic: recordMagic, CgEnabled: false, Initialized: false}
	buf := r.MarshalBinary()
	assert.Equal(t, byte(0), buf[8])
	assert.Equal(t, byte(0), buf[9])
}

func TestUnmarshalRecord_ShortBufferIsError(t *testing.T) {
	_, err := UnmarshalRecord(make([]byte, recordSize-1))
	assert.ErrorIs(t, err, errShortRecord)
}

func TestUnmarshalRecord_ReservedBytesIgnored(t *testing.T) {
	r := Record{Magic: recordMagic, OwnerUID: 7}
	buf := r.MarshalBinary()
	buf[10], buf[11] = 0xff, 0xff

	got, err := UnmarshalRecord(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), got.OwnerUID)
}
