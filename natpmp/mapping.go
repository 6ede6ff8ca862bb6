package natpmp

import (
	"fmt"
	"net/netip"
	"time"

	"inet.af/portmap/portmapper"
)

var _ portmapper.PortMapped = (*Mapping)(nil)

// A Mapping is an external port mapping granted by a NAT gateway. A Mapping
// is created by Client.Map and is immutable. Renewing the mapping before it
// expires is the caller's responsibility.
type Mapping struct {
	externalAddr    netip.Addr
	externalPort    uint16
	lifetimeSeconds uint32
}

// External returns the address and port on which the mapped service can be
// reached from outside the NAT.
func (m *Mapping) External() netip.AddrPort {
	return netip.AddrPortFrom(m.externalAddr, m.externalPort)
}

// Lifetime returns the lifetime granted by the gateway.
func (m *Mapping) Lifetime() time.Duration {
	return seconds(m.lifetimeSeconds)
}

// HalfLifetime returns half of the granted lifetime, rounded down to whole
// seconds.
func (m *Mapping) HalfLifetime() time.Duration {
	return seconds(m.lifetimeSeconds / 2)
}

func (m *Mapping) String() string {
	return fmt.Sprintf("natpmp mapping %s (lifetime %s)", m.External(), m.Lifetime())
}
