package natpmp

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
)

// AnnouncePort is the UDP port to which a NAT gateway multicasts external
// address changes, as described in RFC 6886, section 3.2.1.
const AnnouncePort = 5350

// announceGroup is the all-hosts multicast group used for announcements.
var announceGroup = netip.AddrFrom4([4]byte{224, 0, 0, 1})

// An AnnouncementListener receives the external address announcements a NAT
// gateway multicasts when it reboots or its external address changes.
type AnnouncementListener struct {
	pc      net.PacketConn
	gateway netip.Addr
	log     *zap.Logger

	// Set when the listener has joined the multicast group.
	group *ipv4.PacketConn
	ifi   *net.Interface
}

// ListenAnnouncements joins the NAT-PMP announcement group on ifi and returns
// a listener for announcements sent by c.Gateway. If ifi is nil, the system
// selects the interface.
func (c *Client) ListenAnnouncements(ifi *net.Interface) (*AnnouncementListener, error) {
	pc, err := net.ListenPacket("udp4", netip.AddrPortFrom(netip.IPv4Unspecified(), AnnouncePort).String())
	if err != nil {
		return nil, &TransportError{Op: "listen", Err: err}
	}

	p := ipv4.NewPacketConn(pc)
	if err := p.JoinGroup(ifi, net.UDPAddrFromAddrPort(netip.AddrPortFrom(announceGroup, 0))); err != nil {
		_ = pc.Close()
		return nil, &TransportError{Op: "join", Err: err}
	}

	l := c.newAnnouncementListener(pc)
	l.group = p
	l.ifi = ifi

	return l, nil
}

func (c *Client) newAnnouncementListener(pc net.PacketConn) *AnnouncementListener {
	return &AnnouncementListener{
		pc:      pc,
		gateway: c.Gateway,
		log:     c.logger().With(zap.Stringer("gateway", c.Gateway)),
	}
}

// Next blocks until the gateway announces its external address or ctx is
// canceled. Datagrams from other sources and datagrams which are not valid
// external address responses are discarded.
func (l *AnnouncementListener) Next(ctx context.Context) (*PublicAddress, error) {
	// Clear any deadline forced by a previously canceled call.
	if err := l.pc.SetReadDeadline(time.Time{}); err != nil {
		return nil, &TransportError{Op: "read", Err: err}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	defer wg.Wait()

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		defer wg.Done()
		<-rctx.Done()
		_ = l.pc.SetReadDeadline(time.Unix(0, 1))
	}()

	b := make([]byte, maxResponseSize+1)
	for {
		n, addr, err := l.pc.ReadFrom(b)
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				err = cerr
			}

			return nil, &TransportError{Op: "read", Err: err}
		}

		if pa, ok := l.accept(addr, b[:n]); ok {
			return pa, nil
		}
	}
}

// accept decodes b if it was sent by the gateway and is an external address
// announcement.
func (l *AnnouncementListener) accept(addr net.Addr, b []byte) (*PublicAddress, bool) {
	ua, ok := addr.(*net.UDPAddr)
	if !ok {
		return nil, false
	}
	if src := ua.AddrPort().Addr().Unmap(); src != l.gateway {
		l.log.Debug("ignoring announcement from non-gateway source", zap.Stringer("source", src))
		return nil, false
	}

	res, err := DecodeResponse(b)
	if err != nil {
		l.log.Debug("ignoring undecodable announcement", zap.Error(err))
		return nil, false
	}

	pa, ok := res.(*PublicAddress)
	if !ok {
		l.log.Debug("ignoring announcement of unexpected type", zap.Any("response", res))
		return nil, false
	}

	return pa, true
}

// Close leaves the announcement group and closes the underlying socket.
func (l *AnnouncementListener) Close() error {
	if l.group != nil {
		_ = l.group.LeaveGroup(l.ifi, net.UDPAddrFromAddrPort(netip.AddrPortFrom(announceGroup, 0)))
	}

	return l.pc.Close()
}
