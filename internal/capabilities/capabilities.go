//go:build linux

// Package capabilities drops privileges for the Inside process: it sets
// uid/gid to an unprivileged identity and clears every Linux capability
// set except an optional, explicitly named retain-list. Untrusted payloads
// default to holding zero capabilities — the opposite of a container
// runtime's Docker-compatible defaults, since there is no legitimate
// reason for judged code to hold CAP_SETUID, CAP_NET_RAW, or any other
// capability rustbox's seccomp profile already forbids exercising.
package capabilities

import (
	"fmt"
	"strings"

	"github.com/moby/sys/capability"
	"golang.org/x/sys/unix"
)

// CapSet is a small set type over moby/sys/capability's Cap identifiers.
type CapSet map[capability.Cap]struct{}

func NewCapSet(ids ...capability.Cap) CapSet {
	cs := make(CapSet, len(ids))
	cs.Add(ids...)
	return cs
}

func (cs CapSet) Add(ids ...capability.Cap) {
	for _, id := range ids {
		cs[id] = struct{}{}
	}
}

func (cs CapSet) Slice() []capability.Cap {
	out := make([]capability.Cap, 0, len(cs))
	for id := range cs {
		out = append(out, id)
	}
	return out
}

// NormalizeCap strips the optional "CAP_" prefix and lowercases, so
// "CAP_SYS_CHROOT" and "sys_chroot" both resolve.
func NormalizeCap(cap string) string {
	s := strings.TrimSpace(strings.ToLower(cap))
	return strings.TrimPrefix(s, "cap_")
}

var capNameToID = func() map[string]capability.Cap {
	m := make(map[string]capability.Cap)
	for _, c := range capability.ListKnown() {
		m[c.String()] = c
	}
	return m
}()

func FromCapability(cap string) (capability.Cap, error) {
	if id, ok := capNameToID[NormalizeCap(cap)]; ok {
		return id, nil
	}
	return 0, fmt.Errorf("capabilities: unknown capability: %q", cap)
}

func FromCapabilities(caps []string) ([]capability.Cap, error) {
	out := make([]capability.Cap, 0, len(caps))
	for _, c := range caps {
		id, err := FromCapability(c)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// Opts configures the privilege-drop step applied to the Inside process.
type Opts struct {
	// UID/GID the Inside process switches to before exec. Both are
	// required: dropping only one leaves the other's privilege intact.
	UID, GID uint32

	// Retain lists capabilities that survive the drop, in addition to the
	// default empty set. Judge workloads normally leave this empty.
	Retain CapSet
}

// Apply drops every capability not in Retain across bounding, permitted,
// effective, and inheritable sets, clears the ambient set, then switches
// to the configured uid/gid. Capability drop happens before the uid/gid
// switch so a dropped CAP_SETUID can't be regained by changing identity
// first.
func (o *Opts) Apply() error {
	caps, err := capability.NewPid2(0)
	if err != nil {
		return fmt.Errorf("capabilities: get process capabilities: %w", err)
	}

	retain := o.Retain.Slice()
	caps.Clear(capability.BOUNDS)
	caps.Set(capability.BOUNDING, retain...)
	caps.Clear(capability.CAPS)
	caps.Set(capability.PERMITTED, retain...)
	caps.Set(capability.EFFECTIVE, retain...)
	caps.Set(capability.INHERITABLE, retain...)
	caps.Clear(capability.AMBIENT)

	if err := caps.Apply(capability.CAPS | capability.BOUNDS | capability.AMBIENT); err != nil {
		return fmt.Errorf("capabilities: apply: %w", err)
	}

	if o.GID != 0 {
		if err := unix.Setresgid(int(o.GID), int(o.GID), int(o.GID)); err != nil {
			return fmt.Errorf("capabilities: setresgid(%d): %w", o.GID, err)
		}
	}
	if o.UID != 0 {
		if err := unix.Setresuid(int(o.UID), int(o.UID), int(o.UID)); err != nil {
			return fmt.Errorf("capabilities: setresuid(%d): %w", o.UID, err)
		}
	}

	return nil
}
