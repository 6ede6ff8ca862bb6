// Package portmapper defines the capability shared by port mappings acquired
// through any mapping protocol, so that a manager can schedule renewals
// without knowing which protocol produced a mapping.
package portmapper // import "inet.af/portmap/portmapper"

import (
	"net/netip"
	"time"
)

// PortMapped is an established port mapping.
type PortMapped interface {
	// External returns the externally reachable address and port.
	External() netip.AddrPort

	// HalfLifetime returns half of the lifetime granted for the mapping.
	HalfLifetime() time.Duration
}

// RenewAt returns the time at which a mapping granted at granted should be
// renewed: halfway through its lifetime.
func RenewAt(m PortMapped, granted time.Time) time.Time {
	return granted.Add(m.HalfLifetime())
}
