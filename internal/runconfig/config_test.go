package runconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustbox/rustbox-go/internal/fsisolate"
)

func TestNormalize_WallTimeDefaultsToDoubleCPU(t *testing.T) {
	c := Config{CPUTimeLimit: 5}
	c.Normalize()
	assert.Equal(t, float64(10), c.WallTimeLimit)
}

func TestNormalize_ExplicitWallTimeKept(t *testing.T) {
	c := Config{CPUTimeLimit: 5, WallTimeLimit: 7}
	c.Normalize()
	assert.Equal(t, float64(7), c.WallTimeLimit)
}

func TestNormalize_ProcessLimitDefaultsToOne(t *testing.T) {
	c := Config{}
	c.Normalize()
	assert.Equal(t, 1, c.ProcessLimit)
}

func TestValidate_NormalizedZeroProcessLimitAcceptedNegativeRejected(t *testing.T) {
	c := Config{ProcessLimit: 0}
	c.Normalize()
	assert.NoError(t, c.Validate())

	c2 := Config{ProcessLimit: -1}
	assert.Error(t, c2.Validate())
}

func TestValidate_RejectsNegativeTimeLimits(t *testing.T) {
	c := Config{ProcessLimit: 1, CPUTimeLimit: -1}
	assert.Error(t, c.Validate())
}

func TestValidate_RejectsUnknownSeccompProfile(t *testing.T) {
	c := Config{ProcessLimit: 1, SeccompProfile: "rust"}
	assert.Error(t, c.Validate())
}

func TestValidate_AcceptsKnownProfiles(t *testing.T) {
	for _, p := range []string{"", "anonymous", "python", "javascript", "java"} {
		c := Config{ProcessLimit: 1, SeccompProfile: p}
		assert.NoError(t, c.Validate())
	}
}

func TestParseBinding_SourceOnly(t *testing.T) {
	b, err := ParseBinding("/tmp/work")
	require.NoError(t, err)
	assert.Equal(t, fsisolate.Binding{Source: "/tmp/work", Target: "/tmp/work", Permissions: fsisolate.ReadOnly}, b)
}

func TestParseBinding_SourceAndTarget(t *testing.T) {
	b, err := ParseBinding("/host/src=/box/dst")
	require.NoError(t, err)
	assert.Equal(t, "/host/src", b.Source)
	assert.Equal(t, "/box/dst", b.Target)
}

func TestParseBinding_WithOptions(t *testing.T) {
	b, err := ParseBinding("/host/src=/box/dst:rw,maybe")
	require.NoError(t, err)
	assert.Equal(t, fsisolate.ReadWrite, b.Permissions)
	assert.True(t, b.Maybe)
}

func TestParseBinding_UnknownOption(t *testing.T) {
	_, err := ParseBinding("/src:bogus")
	assert.Error(t, err)
}

func TestParseBinding_EmptySource(t *testing.T) {
	_, err := ParseBinding("")
	assert.Error(t, err)

	_, err = ParseBinding("=dst")
	assert.Error(t, err)
}

func TestFormatBinding_RoundTrip(t *testing.T) {
	cases := []string{
		"/tmp/work",
		"/host/src=/box/dst",
		"/host/src=/box/dst:rw",
		"/host/src:noexec,tmp",
	}
	for _, s := range cases {
		b, err := ParseBinding(s)
		require.NoError(t, err)
		reparsed, err := ParseBinding(FormatBinding(b))
		require.NoError(t, err)
		assert.Equal(t, b, reparsed)
	}
}

func TestNamespaceToggles_ToNsisolate(t *testing.T) {
	t2 := NamespaceToggles{PID: true, Mount: true, Net: false, User: true, UTS: true}
	ns := t2.ToNsisolate()
	assert.True(t, ns.PID)
	assert.True(t, ns.Mount)
	assert.False(t, ns.Net)
	assert.True(t, ns.User)
	assert.True(t, ns.UTS)
}
