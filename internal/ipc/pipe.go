//go:build linux

// Package ipc implements the pipe protocols the keeper, proxy, and inside
// processes use to hand off control and report setup failures. Two kinds
// of pipe are used: a one-byte sync pipe that gates a child past a
// barrier, and a length-prefixed message pipe that carries a status or
// error payload of arbitrary size.
package ipc

import (
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

// maxMessageSize bounds a single length-prefixed read; a length outside
// this range means a corrupted pipe, not a legitimate oversized payload.
const maxMessageSize = 1 << 20 // 1 MiB

// MakeSyncPipe creates an O_CLOEXEC pipe used once to release a waiting
// child past a barrier (namespace setup complete, cgroup attach complete).
func MakeSyncPipe() (readFD, writeFD int, err error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		return -1, -1, fmt.Errorf("ipc: pipe2: %w", err)
	}
	return p[0], p[1], nil
}

// WaitForParent blocks until a byte arrives on rfd, then closes it. Used by
// a child waiting for its parent to finish a setup step it depends on.
func WaitForParent(rfd int) error {
	var one [1]byte
	_, err := unix.Read(rfd, one[:])
	_ = unix.Close(rfd)
	if err != nil {
		return fmt.Errorf("ipc: wait for parent: %w", err)
	}
	return nil
}

// SignalChild writes one byte to wfd and closes it, releasing a child
// blocked in WaitForParent.
func SignalChild(wfd int) error {
	_, err := unix.Write(wfd, []byte{1})
	cerr := unix.Close(wfd)
	if err != nil {
		return fmt.Errorf("ipc: signal child: %w", err)
	}
	if cerr != nil {
		return fmt.Errorf("ipc: close after signal: %w", cerr)
	}
	return nil
}

// ClosePipe closes both ends of a pipe, ignoring errors; used on abort
// paths where the pipe may already be half-closed.
func ClosePipe(rfd, wfd int) {
	_ = unix.Close(rfd)
	_ = unix.Close(wfd)
}

// WriteMessage writes a u32 little-endian length prefix followed by
// payload to w. Used on the status and error pipes, where the reader
// doesn't know the message size in advance.
func WriteMessage(w io.Writer, payload []byte) error {
	if len(payload) > maxMessageSize {
		return fmt.Errorf("ipc: message too large: %d bytes", len(payload))
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("ipc: write length prefix: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("ipc: write payload: %w", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed message from r. io.EOF before any
// byte is read is returned unwrapped so callers can distinguish "pipe
// closed with nothing sent" (the common, non-error case: the writer ran
// to completion without reporting a setup error) from a real failure.
func ReadMessage(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("ipc: read length prefix: %w", err)
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > maxMessageSize {
		return nil, fmt.Errorf("ipc: declared message length %d exceeds limit", n)
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("ipc: read payload: %w", err)
	}
	return buf, nil
}
