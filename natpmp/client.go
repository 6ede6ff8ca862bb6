package natpmp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// ServerPort is the UDP port on which a NAT gateway listens for NAT-PMP
	// requests.
	ServerPort = 5351

	// DefaultTimeout is the receive deadline applied to each request/response
	// exchange when Client.Timeout is unset.
	DefaultTimeout = 3 * time.Second

	// MappingLifetimeSeconds is the lifetime requested for every mapping: one
	// hour, half of the two hours recommended by RFC 6886, section 3.3.
	MappingLifetimeSeconds = 60 * 60
)

var (
	// ErrBadRequest indicates an invalid parameter in a Client's request.
	ErrBadRequest = errors.New("natpmp: bad request")

	// ErrUnexpectedResponse indicates that a gateway returned a well-formed
	// response which does not answer the request that was sent.
	ErrUnexpectedResponse = errors.New("natpmp: unexpected response")

	// ErrZeroExternalPort indicates that a gateway granted a mapping with an
	// external port of zero.
	ErrZeroExternalPort = errors.New("natpmp: gateway returned external port 0")
)

// A TransportError is returned when a NAT gateway could not be reached: a
// socket could not be opened, a request could not be sent, or no response
// arrived before the receive deadline.
type TransportError struct {
	// Op is the failed operation, such as "dial", "write" or "read".
	Op  string
	Err error
}

// Error implements error.
func (e *TransportError) Error() string {
	return fmt.Sprintf("natpmp: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the error was caused by the receive deadline
// expiring.
func (e *TransportError) Timeout() bool {
	var nerr net.Error
	return errors.As(e.Err, &nerr) && nerr.Timeout()
}

// A Client is a NAT-PMP client which can communicate with a NAT gateway.
//
// A Client holds no connection state: every method call binds its own UDP
// socket, closes it before returning, and never retries. A Client is safe for
// concurrent use.
type Client struct {
	// LocalIP is the local address to bind. If unset, the socket is bound to
	// the unspecified address.
	LocalIP netip.Addr

	// Gateway is the IPv4 address of the NAT gateway.
	Gateway netip.Addr

	// Port is the gateway's NAT-PMP port. If zero, ServerPort is used.
	Port uint16

	// Timeout bounds each request/response exchange. If zero, DefaultTimeout
	// is used.
	Timeout time.Duration

	// Logger receives debug output. If nil, nothing is logged.
	Logger *zap.Logger
}

// NewMapping requests a UDP port mapping for localPort from gateway using the
// default Client settings. See Client.Map.
func NewMapping(ctx context.Context, localIP netip.Addr, localPort uint16, gateway netip.Addr, preferred netip.AddrPort) (*Mapping, error) {
	c := &Client{LocalIP: localIP, Gateway: gateway}
	return c.Map(ctx, UDP, localPort, preferred)
}

// Map creates an external port mapping for localPort with the NAT gateway
// and then determines the gateway's external address.
//
// If preferred is valid, its port is suggested to the gateway as the external
// port. NAT-PMP cannot request a specific external address, so the address of
// preferred is ignored.
//
// Map fails with ErrUnexpectedResponse if the gateway answers for a different
// local port or protocol and with ErrZeroExternalPort if it grants port 0.
// Errors reported by the gateway are returned as a ResultCode and network
// failures as a *TransportError.
func (c *Client) Map(ctx context.Context, proto MapProtocol, localPort uint16, preferred netip.AddrPort) (*Mapping, error) {
	switch proto {
	case UDP, TCP:
	default:
		return nil, fmt.Errorf("%w: invalid protocol: %s", ErrBadRequest, proto)
	}
	if localPort == 0 {
		return nil, fmt.Errorf("%w: local port must be non-zero", ErrBadRequest)
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	req := MappingRequest{
		Protocol:        proto,
		LocalPort:       localPort,
		ExternalPort:    preferred.Port(),
		LifetimeSeconds: MappingLifetimeSeconds,
	}

	res, err := c.roundTrip(ctx, conn, req)
	if err != nil {
		return nil, err
	}

	pm, ok := res.(*PortMap)
	if !ok {
		return nil, fmt.Errorf("%w: %T for %s mapping request", ErrUnexpectedResponse, res, proto)
	}
	if pm.Protocol != proto || pm.PrivatePort != localPort {
		return nil, fmt.Errorf("%w: mapping for %s port %d, requested %s port %d",
			ErrUnexpectedResponse, pm.Protocol, pm.PrivatePort, proto, localPort)
	}
	if pm.ExternalPort == 0 {
		return nil, ErrZeroExternalPort
	}

	// Ask for the external address on the same socket now that the mapping
	// exists.
	res, err = c.roundTrip(ctx, conn, ExternalAddressRequest{})
	if err != nil {
		return nil, err
	}

	pa, ok := res.(*PublicAddress)
	if !ok {
		return nil, fmt.Errorf("%w: %T for external address request", ErrUnexpectedResponse, res)
	}

	m := &Mapping{
		externalAddr:    pa.IP,
		externalPort:    pm.ExternalPort,
		lifetimeSeconds: pm.LifetimeSeconds,
	}

	c.logger().Debug("mapping created",
		zap.Stringer("proto", proto),
		zap.Uint16("local_port", localPort),
		zap.Stringer("external", m.External()),
		zap.Uint32("lifetime_seconds", pm.LifetimeSeconds),
		zap.Uint32("epoch", pm.Epoch))

	return m, nil
}

// ExternalAddress returns external IP address information from the NAT
// gateway, as described in RFC 6886, section 3.2.
func (c *Client) ExternalAddress(ctx context.Context) (*PublicAddress, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	res, err := c.roundTrip(ctx, conn, ExternalAddressRequest{})
	if err != nil {
		return nil, err
	}

	pa, ok := res.(*PublicAddress)
	if !ok {
		return nil, fmt.Errorf("%w: %T for external address request", ErrUnexpectedResponse, res)
	}

	return pa, nil
}

// dial binds a UDP socket to an ephemeral port on c.LocalIP and connects it
// to the gateway.
func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	if !c.Gateway.Is4() {
		return nil, fmt.Errorf("%w: gateway %q is not an IPv4 address", ErrBadRequest, c.Gateway)
	}

	var d net.Dialer
	if c.LocalIP.IsValid() {
		d.LocalAddr = net.UDPAddrFromAddrPort(netip.AddrPortFrom(c.LocalIP, 0))
	}

	gw := netip.AddrPortFrom(c.Gateway, c.port())
	conn, err := d.DialContext(ctx, "udp4", gw.String())
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}

	return conn, nil
}

// roundTrip sends req on conn and decodes the single datagram received in
// response before the deadline.
func (c *Client) roundTrip(ctx context.Context, conn net.Conn, req Request) (Response, error) {
	if err := conn.SetReadDeadline(time.Now().Add(c.timeout())); err != nil {
		return nil, &TransportError{Op: "read", Err: err}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	defer wg.Wait()

	// Either wait for the parent context to be canceled or for this function
	// to complete, and then unblock any outstanding reads and return control
	// to the caller.
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		defer wg.Done()
		<-rctx.Done()
		_ = conn.SetReadDeadline(time.Unix(0, 1))
	}()

	if _, err := conn.Write(req.Encode()); err != nil {
		return nil, &TransportError{Op: "write", Err: err}
	}

	// Leave room past the largest response so that oversized datagrams are
	// reported as malformed rather than silently truncated.
	b := make([]byte, maxResponseSize+1)
	n, err := conn.Read(b)
	if err != nil {
		// Was this failure produced by context cancelation? If so, report
		// the cancelation rather than the forced deadline.
		if cerr := ctx.Err(); cerr != nil {
			err = cerr
		}

		return nil, &TransportError{Op: "read", Err: err}
	}

	return DecodeResponse(b[:n])
}

func (c *Client) port() uint16 {
	if c.Port == 0 {
		return ServerPort
	}

	return c.Port
}

func (c *Client) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}

	return c.Timeout
}

func (c *Client) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}

	return c.Logger
}
