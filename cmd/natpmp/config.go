package main

import (
	"errors"
	"fmt"
	"math"
	"net"
	"net/netip"
	"strings"

	"github.com/jackpal/gateway"
	"github.com/urfave/cli"
	"inet.af/portmap/natpmp"
)

// Discovery of the default route, replaced in tests.
var (
	discoverGateway   = gateway.DiscoverGateway
	discoverInterface = gateway.DiscoverInterface
)

// parseConfig builds a Client from the global flags, discovering the gateway
// and local address when they are not set.
func parseConfig(c *cli.Context) (*natpmp.Client, error) {
	gw, err := parseIPv4("gateway", c.GlobalString("gateway"), discoverGateway)
	if err != nil {
		return nil, err
	}

	local, err := parseIPv4("local-ip", c.GlobalString("local-ip"), discoverInterface)
	if err != nil {
		return nil, err
	}

	port, err := parsePort("gateway-port", c.GlobalUint("gateway-port"))
	if err != nil {
		return nil, err
	}
	if port == 0 {
		return nil, errors.New("gateway-port: must be non-zero")
	}

	return &natpmp.Client{
		LocalIP: local,
		Gateway: gw,
		Port:    port,
		Timeout: c.GlobalDuration("timeout"),
	}, nil
}

// parseIPv4 parses the value of flag name, or calls discover when it is empty.
func parseIPv4(name, s string, discover func() (net.IP, error)) (netip.Addr, error) {
	if s == "" {
		ip, err := discover()
		if err != nil {
			return netip.Addr{}, fmt.Errorf("%s: discovery failed: %w", name, err)
		}

		addr, ok := netip.AddrFromSlice(ip)
		if !ok {
			return netip.Addr{}, fmt.Errorf("%s: discovered invalid address %v", name, ip)
		}
		s = addr.Unmap().String()
	}

	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%s: %w", name, err)
	}
	if addr = addr.Unmap(); !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("%s: %s is not an IPv4 address", name, addr)
	}

	return addr, nil
}

func parsePort(name string, v uint) (uint16, error) {
	if v > math.MaxUint16 {
		return 0, fmt.Errorf("%s: port out of range: %d", name, v)
	}

	return uint16(v), nil
}

// parseProtocols parses the map command's -proto flag.
func parseProtocols(s string) ([]natpmp.MapProtocol, error) {
	switch strings.ToLower(s) {
	case "udp":
		return []natpmp.MapProtocol{natpmp.UDP}, nil
	case "tcp":
		return []natpmp.MapProtocol{natpmp.TCP}, nil
	case "both":
		return []natpmp.MapProtocol{natpmp.UDP, natpmp.TCP}, nil
	default:
		return nil, fmt.Errorf("proto: unknown protocol %q", s)
	}
}
