package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_NoCause(t *testing.T) {
	err := New(KindConfig, "bad value %d", 42)
	assert.Equal(t, "config: bad value 42", err.Error())
	assert.Nil(t, err.Unwrap())
}

func TestWrap_IncludesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindIO, cause, "write workdir")
	assert.Equal(t, "io: write workdir: disk full", err.Error())
	assert.Equal(t, cause, err.Unwrap())
}

func TestLock_CarriesReason(t *testing.T) {
	err := Lock(LockReasonBusy, "box %s is currently in use", "N")
	assert.Equal(t, KindLock, err.Kind)
	assert.Equal(t, LockReasonBusy, err.LockReason)
	assert.Contains(t, err.Error(), "currently in use")
}

func TestAs_UnwrapsThroughFmtWrap(t *testing.T) {
	inner := Lock(LockReasonTimeout, "timed out acquiring box lock")
	wrapped := fmt.Errorf("run: %w", inner)

	se, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, LockReasonTimeout, se.LockReason)
}

func TestAs_FalseForUnrelatedError(t *testing.T) {
	_, ok := As(errors.New("plain error"))
	assert.False(t, ok)
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindIO:            "io",
		KindCgroup:        "cgroup",
		KindConfig:        "config",
		KindProcess:       "process",
		KindLock:          "lock",
		KindNamespace:     "namespace",
		KindResourceLimit: "resource_limit",
		KindSecurity:      "security",
	}
	for k, want := range cases {
		assert.Equal(t, want, k.String())
	}
}

func TestLockReasonString(t *testing.T) {
	assert.Equal(t, "busy", LockReasonBusy.String())
	assert.Equal(t, "not_initialized", LockReasonNotInitialized.String())
	assert.Equal(t, "none", LockReasonNone.String())
}
