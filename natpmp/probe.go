package natpmp

import (
	"context"
	"net/netip"

	"go.uber.org/zap"
)

// ProbeAvailable reports whether gateway answers NAT-PMP external address
// requests, using the default Client settings. See Client.Probe.
func ProbeAvailable(ctx context.Context, localIP, gateway netip.Addr) bool {
	c := &Client{LocalIP: localIP, Gateway: gateway}
	return c.Probe(ctx)
}

// Probe performs a single external address exchange with the gateway and
// reports whether it produced a valid external address response. All failures,
// including a well-formed response of the wrong type, are reported as false;
// use ExternalAddress to learn why.
func (c *Client) Probe(ctx context.Context) bool {
	log := c.logger().With(zap.Stringer("gateway", c.Gateway))
	log.Debug("starting probe")

	conn, err := c.dial(ctx)
	if err != nil {
		log.Debug("probe failed", zap.Error(err))
		return false
	}
	defer conn.Close()

	res, err := c.roundTrip(ctx, conn, ExternalAddressRequest{})
	if err != nil {
		log.Debug("probe failed", zap.Error(err))
		return false
	}

	pa, ok := res.(*PublicAddress)
	if !ok {
		// A misbehaving gateway is not useful.
		log.Debug("gateway returned an unexpected response type for probe", zap.Any("response", res))
		return false
	}

	log.Debug("probe succeeded", zap.Stringer("public_ip", pa.IP), zap.Uint32("epoch", pa.Epoch))
	return true
}
