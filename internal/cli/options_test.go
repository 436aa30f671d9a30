//go:build linux

package cli

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustbox/rustbox-go/internal/errs"
	"github.com/rustbox/rustbox-go/internal/result"
)

func TestBoolFlag(t *testing.T) {
	assert.True(t, boolFlag("on"))
	assert.True(t, boolFlag("true"))
	assert.True(t, boolFlag("1"))
	assert.False(t, boolFlag("off"))
	assert.False(t, boolFlag("false"))
	assert.False(t, boolFlag(""))
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "a", firstNonEmpty("a", "b"))
	assert.Equal(t, "b", firstNonEmpty("", "b"))
	assert.Equal(t, "", firstNonEmpty("", ""))
}

func TestExitCodeForStatus(t *testing.T) {
	cases := map[result.Status]int{
		result.Success:           0,
		result.TimeLimit:         2,
		result.MemoryLimit:       3,
		result.SecurityViolation: 4,
		result.InternalError:     5,
		result.RuntimeError:      1,
		result.Signaled:          1,
	}
	for status, want := range cases {
		got := exitCodeForStatus(&result.ExecutionResult{Status: status})
		assert.Equal(t, want, got, "status %v", status)
	}
}

func TestLanguageExtension(t *testing.T) {
	assert.Equal(t, ".py", languageExtension("python"))
	assert.Equal(t, ".js", languageExtension("javascript"))
	assert.Equal(t, ".java", languageExtension("java"))
	assert.Equal(t, ".txt", languageExtension("cobol"))
}

func TestWithExitCode_NilErrorStaysNil(t *testing.T) {
	assert.NoError(t, withExitCode(5, nil))
}

func TestWithExitCode_CarriesCode(t *testing.T) {
	err := withExitCode(5, errors.New("boom"))
	require.Error(t, err)
	ec, ok := err.(ExitCoder)
	require.True(t, ok)
	assert.Equal(t, 5, ec.ExitCode())
}

func TestWithStatusExitCode_ZeroIsNil(t *testing.T) {
	assert.NoError(t, withStatusExitCode(0))
}

func TestWithStatusExitCode_NonZeroIsSilent(t *testing.T) {
	err := withStatusExitCode(3)
	require.Error(t, err)
	ec, ok := err.(ExitCoder)
	require.True(t, ok)
	assert.Equal(t, 3, ec.ExitCode())

	s, ok := err.(interface{ Silent() bool })
	require.True(t, ok)
	assert.True(t, s.Silent())
}

func TestIsLockBusy_BusyAndTimeoutAreLockBusy(t *testing.T) {
	_, ok := isLockBusy(errs.Lock(errs.LockReasonBusy, "busy"))
	assert.True(t, ok)

	_, ok = isLockBusy(errs.Lock(errs.LockReasonTimeout, "timed out"))
	assert.True(t, ok)
}

func TestIsLockBusy_OtherLockReasonsAreNot(t *testing.T) {
	_, ok := isLockBusy(errs.Lock(errs.LockReasonCorrupted, "corrupt"))
	assert.False(t, ok)
}

func TestIsLockBusy_NonSandboxErrorIsNot(t *testing.T) {
	_, ok := isLockBusy(errors.New("plain"))
	assert.False(t, ok)
}
