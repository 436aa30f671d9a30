//go:build linux

package nsisolate

import (
	"fmt"
	stdnet "net"
	"time"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// BringUpLoopback assigns 127.0.0.1/8 to "lo" and brings it up inside the
// current network namespace. Called from the Proxy process (via Apply)
// once it runs in its new namespaces, before chroot. Best-effort unless
// strict is set.
func BringUpLoopback(strict bool) error {
	link, err := netlink.LinkByName("lo")
	if err != nil {
		if strict {
			return fmt.Errorf("namespace: loopback interface not found: %w", err)
		}
		return nil
	}

	if err := assignLoopbackAddr(link); err != nil && strict {
		return fmt.Errorf("namespace: assign loopback address: %w", err)
	}

	if err := netlink.LinkSetUp(link); err != nil {
		if strict {
			return fmt.Errorf("namespace: bring up loopback: %w", err)
		}
		return nil
	}

	return waitLinkUp(link.Attrs().Name, 500*time.Millisecond)
}

func assignLoopbackAddr(link netlink.Link) error {
	ip, ipnet, err := stdnet.ParseCIDR("127.0.0.1/8")
	if err != nil {
		return err
	}
	addr := &netlink.Addr{IPNet: &stdnet.IPNet{IP: ip, Mask: ipnet.Mask}}

	addrs, _ := netlink.AddrList(link, unix.AF_INET)
	for _, a := range addrs {
		if a.IPNet.String() == addr.IPNet.String() {
			return nil
		}
	}
	if err := netlink.AddrAdd(link, addr); err != nil && err != unix.EEXIST {
		return err
	}
	return nil
}

func waitLinkUp(name string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		link, err := netlink.LinkByName(name)
		if err == nil && link.Attrs().Flags&stdnet.FlagUp != 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
}
