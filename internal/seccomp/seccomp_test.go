//go:build linux

package seccomp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_AnonymousIsBaselineOnly(t *testing.T) {
	names, err := resolve(ProfileAnonymous)
	require.NoError(t, err)
	assert.Equal(t, len(baselineSyscalls), len(names))
	assert.Contains(t, names, "execve")
}

func TestResolve_LanguageProfilesExtendBaseline(t *testing.T) {
	for profile, extras := range languageExtras {
		names, err := resolve(profile)
		require.NoError(t, err)
		assert.Equal(t, len(baselineSyscalls)+len(extras), len(names))
		for _, s := range baselineSyscalls {
			assert.Contains(t, names, s)
		}
		for _, s := range extras {
			assert.Contains(t, names, s)
		}
	}
}

func TestResolve_UnknownProfileFallsBackToBaseline(t *testing.T) {
	names, err := resolve(Profile("nonexistent"))
	require.NoError(t, err)
	assert.Equal(t, len(baselineSyscalls), len(names))
}

func TestResolve_RejectsForbiddenSyscallInExtension(t *testing.T) {
	languageExtras[Profile("malicious")] = []string{"socket"}
	defer delete(languageExtras, Profile("malicious"))

	_, err := resolve(Profile("malicious"))
	assert.Error(t, err)
}

func TestForbiddenSyscalls_NeverAppearInAnyProfile(t *testing.T) {
	for profile := range languageExtras {
		names, err := resolve(profile)
		require.NoError(t, err)
		for _, n := range names {
			_, bad := forbiddenSyscalls[n]
			assert.False(t, bad, "profile %q allows forbidden syscall %q", profile, n)
		}
	}
}
