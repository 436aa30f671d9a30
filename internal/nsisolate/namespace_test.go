//go:build linux

package nsisolate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestCloneFlags_NoneSet(t *testing.T) {
	assert.Equal(t, uintptr(0), Toggles{}.CloneFlags())
}

func TestCloneFlags_AllSet(t *testing.T) {
	want := uintptr(unix.CLONE_NEWPID | unix.CLONE_NEWNS | unix.CLONE_NEWNET | unix.CLONE_NEWUSER | unix.CLONE_NEWUTS)
	got := Toggles{PID: true, Mount: true, Net: true, User: true, UTS: true}.CloneFlags()
	assert.Equal(t, want, got)
}

func TestCloneFlags_IndependentToggles(t *testing.T) {
	got := Toggles{Net: false, Mount: true}.CloneFlags()
	assert.Equal(t, uintptr(unix.CLONE_NEWNS), got)
}

func TestCloneFlags_UTSOnly(t *testing.T) {
	got := Toggles{UTS: true}.CloneFlags()
	assert.Equal(t, uintptr(unix.CLONE_NEWUTS), got)
}
