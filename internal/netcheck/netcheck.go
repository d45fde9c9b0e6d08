// Package netcheck guesses whether direct peer-to-peer media is likely to
// fail from this host. Calls carry no TURN fallback, so callers only warn.
package netcheck

import (
	"net"
	"strings"
)

var cgnatBlock = &net.IPNet{
	IP:   net.IPv4(100, 64, 0, 0),
	Mask: net.CIDRMask(10, 32),
}

// tunnelNames are interface name fragments used by VPNs and virtual adapters.
var tunnelNames = []string{"tun", "tap", "wg", "ppp", "warp"}

// Interface is the part of a network interface the check looks at.
type Interface struct {
	Name     string
	Up       bool
	Loopback bool
	Addrs    []net.IP
}

// Restricted reports the first interface that suggests a VPN tunnel or
// carrier-grade NAT (100.64.0.0/10), and whether one was found.
func Restricted() (string, bool) {
	return restricted(systemInterfaces())
}

func restricted(ifaces []Interface) (string, bool) {
	for _, iface := range ifaces {
		if !iface.Up || iface.Loopback {
			continue
		}

		name := strings.ToLower(iface.Name)
		for _, frag := range tunnelNames {
			if strings.Contains(name, frag) {
				return iface.Name, true
			}
		}

		for _, ip := range iface.Addrs {
			if cgnatBlock.Contains(ip) {
				return iface.Name, true
			}
		}
	}
	return "", false
}

func systemInterfaces() []Interface {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	out := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		it := Interface{
			Name:     iface.Name,
			Up:       iface.Flags&net.FlagUp != 0,
			Loopback: iface.Flags&net.FlagLoopback != 0,
		}
		addrs, err := iface.Addrs()
		if err == nil {
			for _, addr := range addrs {
				switch v := addr.(type) {
				case *net.IPNet:
					it.Addrs = append(it.Addrs, v.IP)
				case *net.IPAddr:
					it.Addrs = append(it.Addrs, v.IP)
				}
			}
		}
		out = append(out, it)
	}
	return out
}
