package natpmp

import (
	"encoding/binary"
	"net/netip"
	"time"
)

// Sizes of the fixed-length NAT-PMP messages handled by this package. See:
// https://tools.ietf.org/html/rfc6886#section-3.
const (
	externalAddressRequestSize  = 2
	mappingRequestSize          = 12
	externalAddressResponseSize = 12
	mappingResponseSize         = 16

	minResponseSize = externalAddressResponseSize
	maxResponseSize = mappingResponseSize
)

var (
	// ErrMalformed indicates that a response is too short, too long, or
	// otherwise does not have the size its opcode requires.
	ErrMalformed = &protocolError{"response is malformed"}

	// ErrNotAResponse indicates that a packet does not have the response
	// indicator bit set in its opcode.
	ErrNotAResponse = &protocolError{"packet does not appear to be a response"}
)

// A Request is a NAT-PMP request which can be sent to a NAT gateway.
type Request interface {
	// Encode returns the binary format of the request.
	Encode() []byte
}

// An ExternalAddressRequest asks a NAT gateway for its external IPv4 address,
// as described in RFC 6886, section 3.2.
type ExternalAddressRequest struct{}

// Encode implements Request.
func (ExternalAddressRequest) Encode() []byte {
	return []byte{uint8(Version0), uint8(OpExternalAddress)}
}

// A MappingRequest is used to create an external port mapping using a NAT
// gateway, as described in RFC 6886, section 3.3.
type MappingRequest struct {
	// Protocol specifies whether a TCP or UDP port mapping should be created.
	Protocol MapProtocol

	// LocalPort specifies the port of a service running on this host which
	// requires an external mapping via a NAT gateway.
	LocalPort uint16

	// ExternalPort optionally suggests an external port for the gateway to
	// map to LocalPort. If zero, the gateway allocates a port of its choosing.
	ExternalPort uint16

	// LifetimeSeconds specifies the requested duration of the mapping. Zero
	// requests deletion of the mapping.
	LifetimeSeconds uint32
}

// Encode implements Request. No validation is performed: the zero port is a
// valid value on the wire.
func (mr MappingRequest) Encode() []byte {
	// Version 0 and the reserved bytes 2 and 3 are implicit when allocating
	// the slice.
	b := make([]byte, mappingRequestSize)
	b[1] = uint8(mr.Protocol.opcode())
	binary.BigEndian.PutUint16(b[4:6], mr.LocalPort)
	binary.BigEndian.PutUint16(b[6:8], mr.ExternalPort)
	binary.BigEndian.PutUint32(b[8:12], mr.LifetimeSeconds)

	return b
}

// A Response is a successfully decoded NAT-PMP response: either a
// *PublicAddress or a *PortMap.
type Response interface {
	isResponse()
}

// A PublicAddress is the response to an ExternalAddressRequest.
type PublicAddress struct {
	// Epoch is the number of seconds since the gateway started, reset, or
	// lost its mapping state.
	Epoch uint32

	// IP is the gateway's external IPv4 address.
	IP netip.Addr
}

// SinceStartOfEpoch returns Epoch as a time.Duration.
func (pa *PublicAddress) SinceStartOfEpoch() time.Duration { return seconds(pa.Epoch) }

func (*PublicAddress) isResponse() {}

// A PortMap is the response to a MappingRequest.
type PortMap struct {
	// Protocol is the protocol of the mapping, as derived from the response
	// opcode.
	Protocol MapProtocol

	// Epoch is the number of seconds since the gateway started, reset, or
	// lost its mapping state.
	Epoch uint32

	// PrivatePort is the port of the service on this host which has received
	// a mapping.
	PrivatePort uint16

	// ExternalPort is the port chosen by the gateway which forwards traffic
	// to PrivatePort.
	ExternalPort uint16

	// LifetimeSeconds is the lifetime granted by the gateway, which may
	// differ from the requested lifetime.
	LifetimeSeconds uint32
}

// SinceStartOfEpoch returns Epoch as a time.Duration.
func (pm *PortMap) SinceStartOfEpoch() time.Duration { return seconds(pm.Epoch) }

// Lifetime returns LifetimeSeconds as a time.Duration.
func (pm *PortMap) Lifetime() time.Duration { return seconds(pm.LifetimeSeconds) }

func (*PortMap) isResponse() {}

// DecodeResponse decodes a NAT-PMP response from a gateway.
//
// Framing errors (ErrMalformed, ErrNotAResponse) and enumerant errors
// (ErrInvalidVersion, ErrInvalidOpcode, ErrInvalidResultCode) are returned
// without further context. If the gateway reported a failure, the
// corresponding ResultCode is returned as the error.
func DecodeResponse(b []byte) (Response, error) {
	if len(b) < minResponseSize || len(b) > maxResponseSize {
		return nil, ErrMalformed
	}

	if _, err := ParseVersion(b[0]); err != nil {
		return nil, err
	}

	if b[1]&responseIndicator == 0 {
		return nil, ErrNotAResponse
	}
	op, err := ParseOpcode(b[1] &^ responseIndicator)
	if err != nil {
		return nil, err
	}

	rc, err := ParseResultCode(binary.BigEndian.Uint16(b[2:4]))
	if err != nil {
		return nil, err
	}
	if rc != Success {
		return nil, rc
	}

	// The coarse range check above admits both message sizes, so each
	// opcode must be checked against its exact size before reading fields.
	epoch := binary.BigEndian.Uint32(b[4:8])
	switch op {
	case OpExternalAddress:
		if len(b) != externalAddressResponseSize {
			return nil, ErrMalformed
		}

		return &PublicAddress{
			Epoch: epoch,
			IP:    netip.AddrFrom4([4]byte(b[8:12])),
		}, nil
	default:
		if len(b) != mappingResponseSize {
			return nil, ErrMalformed
		}

		return &PortMap{
			Protocol:        MapProtocol(op),
			Epoch:           epoch,
			PrivatePort:     binary.BigEndian.Uint16(b[8:10]),
			ExternalPort:    binary.BigEndian.Uint16(b[10:12]),
			LifetimeSeconds: binary.BigEndian.Uint32(b[12:16]),
		}, nil
	}
}

func seconds(s uint32) time.Duration {
	return time.Duration(s) * time.Second
}
