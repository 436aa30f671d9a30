//go:build linux

package ipc

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadMessage_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, []byte("hello")))

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestWriteReadMessage_EmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, nil))

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestWriteMessage_RejectsOversized(t *testing.T) {
	var buf bytes.Buffer
	err := WriteMessage(&buf, make([]byte, maxMessageSize+1))
	assert.Error(t, err)
}

func TestReadMessage_EOFBeforeAnyByteIsUnwrapped(t *testing.T) {
	var buf bytes.Buffer
	_, err := ReadMessage(&buf)
	assert.Equal(t, io.EOF, err)
}

func TestReadMessage_RejectsDeclaredLengthOverLimit(t *testing.T) {
	var corrupt bytes.Buffer
	corrupt.Write([]byte{0xff, 0xff, 0xff, 0x7f}) // declares a ~2GiB payload
	_, err := ReadMessage(&corrupt)
	assert.Error(t, err)
}

func TestReadMessage_TruncatedPayloadIsError(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, []byte("hello world")))
	truncated := buf.Bytes()[:6] // full header + partial payload
	_, err := ReadMessage(bytes.NewReader(truncated))
	assert.Error(t, err)
}

func TestSyncPipe_SignalAndWait(t *testing.T) {
	r, w, err := MakeSyncPipe()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- WaitForParent(r) }()

	require.NoError(t, SignalChild(w))
	require.NoError(t, <-done)
}

func TestClosePipe_DoesNotPanicOnAlreadyClosed(t *testing.T) {
	r, w, err := MakeSyncPipe()
	require.NoError(t, err)
	ClosePipe(r, w)
	assert.NotPanics(t, func() { ClosePipe(r, w) })
}
