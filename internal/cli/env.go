//go:build linux

package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rustbox/rustbox-go/internal/runconfig"
)

// defaultEnvironment is the baseline environment every box starts from,
// overridable per key by --env.
var defaultEnvironment = map[string]string{
	"PATH": "/usr/bin:/bin:/usr/sbin:/sbin:/usr/local/bin",
	"HOME": "/root",
	"TERM": "xterm",
	"LANG": "C.UTF-8",
}

// MergeEnv overlays user onto defaults, keeping the default keys' order
// first (with any overridden values) and appending extra user keys
// sorted, so the resulting argv is deterministic across runs.
func MergeEnv(defaults map[string]string, user []runconfig.EnvVar) runconfig.EnvVars {
	merged := make(map[string]string, len(defaults)+len(user))
	for k, v := range defaults {
		merged[k] = v
	}
	for _, e := range user {
		merged[e.Key] = e.Val
	}

	out := make(runconfig.EnvVars, 0, len(merged))
	seen := make(map[string]struct{}, len(merged))
	for _, k := range []string{"PATH", "HOME", "TERM", "LANG"} {
		if v, ok := merged[k]; ok {
			out = append(out, runconfig.EnvVar{Key: k, Val: v})
			seen[k] = struct{}{}
		}
	}
	extras := make([]string, 0, len(merged))
	for k := range merged {
		if _, ok := seen[k]; !ok {
			extras = append(extras, k)
		}
	}
	sort.Strings(extras)
	for _, k := range extras {
		out = append(out, runconfig.EnvVar{Key: k, Val: merged[k]})
	}
	return out
}

// ParseEnv parses one --env KEY=VALUE argument.
func ParseEnv(kv string) (runconfig.EnvVar, error) {
	k, v, ok := strings.Cut(kv, "=")
	if !ok || k == "" {
		return runconfig.EnvVar{}, fmt.Errorf("bad --env %q (KEY=VALUE)", kv)
	}
	return runconfig.EnvVar{Key: k, Val: v}, nil
}
