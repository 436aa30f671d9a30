package depcheck

import "testing"

import "github.com/stretchr/testify/assert"

func TestAllOK_AllPresent(t *testing.T) {
	checks := []Check{
		{Name: "cgroup:memory", OK: true},
		{Name: "seccomp", OK: true},
	}
	assert.True(t, AllOK(checks))
}

func TestAllOK_OneMissing(t *testing.T) {
	checks := []Check{
		{Name: "cgroup:memory", OK: true},
		{Name: "seccomp", Missing: true, Detail: "kernel too old"},
	}
	assert.False(t, AllOK(checks))
}

func TestAllOK_EmptyIsOK(t *testing.T) {
	assert.True(t, AllOK(nil))
}

func TestRun_ReturnsOneCheckPerPrimitive(t *testing.T) {
	checks := Run()
	names := make(map[string]bool, len(checks))
	for _, c := range checks {
		names[c.Name] = true
	}
	for _, want := range []string{"cgroup:memory", "cgroup:cpu", "cgroup:cpuacct", "cgroup:pids", "seccomp", "pid_namespaces", "user_namespaces", "net_namespaces"} {
		assert.True(t, names[want], "missing check %q", want)
	}
}
