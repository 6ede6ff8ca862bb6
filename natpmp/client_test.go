package natpmp_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"
	"inet.af/portmap/natpmp"
)

var (
	publicIP    = [4]byte{192, 0, 2, 1}
	resAddrOK   = addrResponse(natpmp.Success, publicIP)
	reqAddr     = []byte{0x00, 0x00}
	cmpAddrPort = cmp.Comparer(func(x, y netip.AddrPort) bool { return x == y })
)

// gatewayFunc answers mapping requests for port with external and address
// requests with resAddrOK.
func gatewayFunc(op uint8, port, external uint16) serverFunc {
	return func(req []byte) []byte {
		if len(req) == len(reqAddr) {
			return resAddrOK
		}

		return mapResponse(op, natpmp.Success, port, external)
	}
}

func TestClientMap(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		fn        serverFunc
		proto     natpmp.MapProtocol
		port      uint16
		preferred netip.AddrPort
		external  netip.AddrPort
		half      time.Duration
		err       error
		timeout   bool
	}{
		{
			name:  "bad local port",
			proto: natpmp.UDP,
			err:   natpmp.ErrBadRequest,
		},
		{
			name:  "bad protocol",
			proto: natpmp.TCP + 1,
			port:  80,
			err:   natpmp.ErrBadRequest,
		},
		{
			name:    "no response",
			proto:   natpmp.UDP,
			port:    80,
			timeout: true,
		},
		{
			name:  "gateway refused",
			fn:    func(_ []byte) []byte { return mapResponse(opUDPReply, natpmp.NotAuthorizedOrRefused, 80, 0) },
			proto: natpmp.UDP,
			port:  80,
			err:   natpmp.NotAuthorizedOrRefused,
		},
		{
			name:  "malformed",
			fn:    func(_ []byte) []byte { return []byte{0, opUDPReply, 0x00, 0x00} },
			proto: natpmp.UDP,
			port:  80,
			err:   natpmp.ErrMalformed,
		},
		{
			name:  "private port mismatch",
			fn:    gatewayFunc(opUDPReply, 81, 40000),
			proto: natpmp.UDP,
			port:  80,
			err:   natpmp.ErrUnexpectedResponse,
		},
		{
			name:  "protocol mismatch",
			fn:    gatewayFunc(opTCPReply, 80, 40000),
			proto: natpmp.UDP,
			port:  80,
			err:   natpmp.ErrUnexpectedResponse,
		},
		{
			name:  "address instead of mapping",
			fn:    func(_ []byte) []byte { return resAddrOK },
			proto: natpmp.UDP,
			port:  80,
			err:   natpmp.ErrUnexpectedResponse,
		},
		{
			name:  "zero external port",
			fn:    gatewayFunc(opUDPReply, 80, 0),
			proto: natpmp.UDP,
			port:  80,
			err:   natpmp.ErrZeroExternalPort,
		},
		{
			name:  "mapping instead of address",
			fn:    func(_ []byte) []byte { return mapResponse(opUDPReply, natpmp.Success, 80, 40000) },
			proto: natpmp.UDP,
			port:  80,
			err:   natpmp.ErrUnexpectedResponse,
		},
		{
			name: "address refused",
			fn: func(req []byte) []byte {
				if len(req) == len(reqAddr) {
					return addrResponse(natpmp.NetworkFailure, [4]byte{})
				}

				return mapResponse(opUDPReply, natpmp.Success, 80, 40000)
			},
			proto: natpmp.UDP,
			port:  80,
			err:   natpmp.NetworkFailure,
		},
		{
			name: "success UDP",
			fn: func(req []byte) []byte {
				if len(req) == len(reqAddr) {
					if diff := cmp.Diff(reqAddr, req); diff != "" {
						panicf("unexpected request (-want +got):\n%s", diff)
					}

					return resAddrOK
				}

				want := []byte{
					// Header.
					0, uint8(natpmp.UDP), 0x00, 0x00,
					// Ports.
					0x00, 80, 0x00, 0x00,
					// Lifetime.
					0x00, 0x00, 0x0e, 0x10,
				}
				if diff := cmp.Diff(want, req); diff != "" {
					panicf("unexpected request (-want +got):\n%s", diff)
				}

				return mapResponse(opUDPReply, natpmp.Success, 80, 40000)
			},
			proto:    natpmp.UDP,
			port:     80,
			external: netip.AddrPortFrom(netip.AddrFrom4(publicIP), 40000),
			half:     30 * time.Minute,
		},
		{
			name: "success TCP preferred port",
			fn: func(req []byte) []byte {
				if len(req) == len(reqAddr) {
					return resAddrOK
				}

				want := []byte{
					0, uint8(natpmp.TCP), 0x00, 0x00,
					0x00, 22, 0x08, 0xae,
					0x00, 0x00, 0x0e, 0x10,
				}
				if diff := cmp.Diff(want, req); diff != "" {
					panicf("unexpected request (-want +got):\n%s", diff)
				}

				return mapResponse(opTCPReply, natpmp.Success, 22, 2222)
			},
			proto: natpmp.TCP,
			port:  22,
			// Only the port of the preferred address reaches the gateway.
			preferred: netip.MustParseAddrPort("198.51.100.7:2222"),
			external:  netip.AddrPortFrom(netip.AddrFrom4(publicIP), 2222),
			half:      30 * time.Minute,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, done := testServer(t, tt.fn)
			defer done()

			if tt.timeout {
				c.Timeout = 100 * time.Millisecond
			}

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			m, err := c.Map(ctx, tt.proto, tt.port, tt.preferred)
			if tt.timeout {
				var terr *natpmp.TransportError
				if !errors.As(err, &terr) || !terr.Timeout() {
					t.Fatalf("expected timeout TransportError, got: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.err) {
				t.Fatalf("unexpected error: %v, want: %v", err, tt.err)
			}
			if err != nil {
				if m != nil {
					t.Fatalf("unexpected mapping on error: %v", m)
				}
				return
			}

			if diff := cmp.Diff(tt.external, m.External(), cmpAddrPort); diff != "" {
				t.Fatalf("unexpected external address (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.half, m.HalfLifetime()); diff != "" {
				t.Fatalf("unexpected half lifetime (-want +got):\n%s", diff)
			}
		})
	}
}

func TestClientMapConcurrent(t *testing.T) {
	t.Parallel()

	c, done := testServer(t, func(req []byte) []byte {
		if len(req) == len(reqAddr) {
			return resAddrOK
		}

		// Echo the requested protocol and port back.
		return mapResponse(128+req[1], natpmp.Success, uint16(req[4])<<8|uint16(req[5]), 50000)
	})
	defer done()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errC := make(chan error, 2)
	for _, proto := range []natpmp.MapProtocol{natpmp.UDP, natpmp.TCP} {
		proto := proto
		wg.Add(1)
		go func() {
			defer wg.Done()

			m, err := c.Map(ctx, proto, 4001, netip.AddrPort{})
			if err != nil {
				errC <- fmt.Errorf("%s: %w", proto, err)
				return
			}
			if got := m.External().Port(); got != 50000 {
				errC <- fmt.Errorf("%s: unexpected external port: %d", proto, got)
			}
		}()
	}

	wg.Wait()
	close(errC)
	for err := range errC {
		t.Error(err)
	}
}

func TestClientExternalAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fn   serverFunc
		ext  *natpmp.PublicAddress
		err  error
	}{
		{
			name: "context deadline",
			err:  context.DeadlineExceeded,
		},
		{
			name: "short message",
			fn: func(_ []byte) []byte {
				return []byte{0, opAddrReply, 0x00, 0x00, 0x00}
			},
			err: natpmp.ErrMalformed,
		},
		{
			name: "bad version",
			fn: func(_ []byte) []byte {
				b := addrResponse(natpmp.Success, publicIP)
				b[0] = 1
				return b
			},
			err: natpmp.ErrProtocol,
		},
		{
			name: "bad op",
			fn:   func(_ []byte) []byte { return mapResponse(opUDPReply, natpmp.Success, 80, 80) },
			err:  natpmp.ErrUnexpectedResponse,
		},
		{
			name: "network failure",
			fn:   func(_ []byte) []byte { return addrResponse(natpmp.NetworkFailure, [4]byte{}) },
			err:  natpmp.NetworkFailure,
		},
		{
			name: "success",
			fn:   func(_ []byte) []byte { return resAddrOK },
			ext: &natpmp.PublicAddress{
				Epoch: 0x1ff,
				IP:    netip.AddrFrom4(publicIP),
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var fn serverFunc
			if tt.fn != nil {
				fn = func(req []byte) []byte {
					// Each request is fixed.
					if diff := cmp.Diff(reqAddr, req); diff != "" {
						panicf("unexpected request (-want +got):\n%s", diff)
					}

					return tt.fn(req)
				}
			}

			c, done := testServer(t, fn)
			defer done()

			// The context expires well before the receive deadline.
			c.Timeout = 5 * time.Second
			ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
			defer cancel()

			ext, err := c.ExternalAddress(ctx)
			if !errors.Is(err, tt.err) {
				t.Fatalf("unexpected error: %v, want: %v", err, tt.err)
			}

			if diff := cmp.Diff(tt.ext, ext, cmpAddr); diff != "" {
				t.Fatalf("unexpected external address (-want +got):\n%s", diff)
			}
		})
	}
}

func TestClientProbe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fn   serverFunc
		ok   bool
	}{
		{
			name: "timeout",
		},
		{
			name: "malformed",
			fn:   func(_ []byte) []byte { return resAddrOK[:8] },
		},
		{
			name: "port map",
			fn:   func(_ []byte) []byte { return mapResponse(opUDPReply, natpmp.Success, 80, 80) },
		},
		{
			name: "refused",
			fn:   func(_ []byte) []byte { return addrResponse(natpmp.NotAuthorizedOrRefused, [4]byte{}) },
		},
		{
			name: "public address",
			fn:   func(_ []byte) []byte { return resAddrOK },
			ok:   true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, done := testServer(t, tt.fn)
			defer done()

			c.Timeout = 100 * time.Millisecond
			c.Logger = zaptest.NewLogger(t)

			if diff := cmp.Diff(tt.ok, c.Probe(context.Background())); diff != "" {
				t.Fatalf("unexpected probe result (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPackageFunctionsBadRequest(t *testing.T) {
	t.Parallel()

	// IPv6 gateways fail before any packet is sent.
	gw := netip.MustParseAddr("::1")
	if natpmp.ProbeAvailable(context.Background(), netip.Addr{}, gw) {
		t.Fatal("probe of IPv6 gateway succeeded")
	}

	_, err := natpmp.NewMapping(context.Background(), netip.Addr{}, 0, netip.MustParseAddr("192.0.2.254"), netip.AddrPort{})
	if !errors.Is(err, natpmp.ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got: %v", err)
	}

	_, err = natpmp.NewMapping(context.Background(), netip.Addr{}, 80, gw, netip.AddrPort{})
	if !errors.Is(err, natpmp.ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got: %v", err)
	}
}

// A serverFunc is a function which can simulate a server's request/response
// lifecycle. A nil return value indicates that no response will be sent.
type serverFunc func(req []byte) (res []byte)

func testServer(t *testing.T, fn serverFunc) (*natpmp.Client, func()) {
	t.Helper()

	// Create a local UDP server listener which will invoke fn for each request
	// to generate responses until the returned done function is invoked and
	// the context is canceled.
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to bind local UDP server listener: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()

		// Read client input and continue to send responses until the context
		// is canceled. With no fn, requests are read and dropped.
		b := make([]byte, 256)
		for {
			n, addr, err := pc.ReadFrom(b)
			if err != nil {
				if ctx.Err() != nil {
					// Halted via context.
					return
				}

				panicf("failed to read from client: %v", err)
			}

			if fn == nil {
				continue
			}

			if res := fn(b[:n]); res != nil {
				if _, err := pc.WriteTo(res, addr); err != nil {
					panicf("failed to write to client: %v", err)
				}
			}
		}
	}()

	// Point the test client at our server.
	port := pc.LocalAddr().(*net.UDPAddr).AddrPort().Port()
	c := &natpmp.Client{
		LocalIP: netip.MustParseAddr("127.0.0.1"),
		Gateway: netip.MustParseAddr("127.0.0.1"),
		Port:    port,
	}

	return c, func() {
		// Unblock and halt the goroutine.
		cancel()
		_ = pc.SetReadDeadline(time.Unix(0, 1))

		wg.Wait()
		_ = pc.Close()
	}
}

func panicf(format string, a ...interface{}) {
	panic(fmt.Sprintf(format, a...))
}
