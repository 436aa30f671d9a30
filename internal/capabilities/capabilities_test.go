//go:build linux

package capabilities

import (
	"testing"

	"github.com/moby/sys/capability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCap(t *testing.T) {
	assert.Equal(t, "sys_chroot", NormalizeCap("CAP_SYS_CHROOT"))
	assert.Equal(t, "sys_chroot", NormalizeCap("sys_chroot"))
	assert.Equal(t, "net_raw", NormalizeCap("  Cap_Net_Raw  "))
}

func TestFromCapability_Known(t *testing.T) {
	id, err := FromCapability("CAP_CHOWN")
	require.NoError(t, err)
	assert.Equal(t, capability.CAP_CHOWN, id)
}

func TestFromCapability_Unknown(t *testing.T) {
	_, err := FromCapability("CAP_NOT_A_THING")
	assert.Error(t, err)
}

func TestFromCapabilities_StopsAtFirstError(t *testing.T) {
	_, err := FromCapabilities([]string{"CAP_CHOWN", "CAP_BOGUS"})
	assert.Error(t, err)
}

func TestFromCapabilities_AllKnown(t *testing.T) {
	ids, err := FromCapabilities([]string{"CAP_CHOWN", "CAP_SYS_CHROOT"})
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestCapSet_AddAndSlice(t *testing.T) {
	cs := NewCapSet(capability.CAP_CHOWN)
	cs.Add(capability.CAP_SYS_CHROOT)
	assert.ElementsMatch(t, []capability.Cap{capability.CAP_CHOWN, capability.CAP_SYS_CHROOT}, cs.Slice())
}

func TestCapSet_Empty(t *testing.T) {
	cs := NewCapSet()
	assert.Empty(t, cs.Slice())
}
