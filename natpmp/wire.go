package natpmp

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocol indicates that a NAT gateway returned a response that violates
	// the NAT-PMP protocol. All framing and enumerant errors match ErrProtocol
	// with errors.Is.
	ErrProtocol = errors.New("natpmp: protocol error")

	// ErrInvalidVersion indicates that a response carried a protocol version
	// other than 0.
	ErrInvalidVersion = &protocolError{"invalid version received"}

	// ErrInvalidOpcode indicates that a response opcode, with the response bit
	// cleared, is not a known NAT-PMP opcode.
	ErrInvalidOpcode = &protocolError{"invalid opcode received"}

	// ErrInvalidResultCode indicates that a response carried a result code
	// outside of those defined in RFC 6886, section 3.5.
	ErrInvalidResultCode = &protocolError{"invalid result code received"}
)

// A protocolError is a sentinel error which also matches ErrProtocol.
type protocolError struct {
	msg string
}

func (e *protocolError) Error() string { return "natpmp: " + e.msg }

// Is reports whether target is ErrProtocol.
func (e *protocolError) Is(target error) bool { return target == ErrProtocol }

// A Version is a NAT-PMP protocol version. Only version 0 exists.
type Version uint8

// Version0 is the only supported protocol version.
const Version0 Version = 0

// ParseVersion converts a raw version byte to a Version.
func ParseVersion(b byte) (Version, error) {
	if b != uint8(Version0) {
		return 0, ErrInvalidVersion
	}

	return Version0, nil
}

// An Opcode identifies a NAT-PMP operation.
type Opcode uint8

// Possible Opcode values, as defined in RFC 6886, sections 3.2 and 3.3.
const (
	OpExternalAddress Opcode = 0
	OpMapUDP          Opcode = 1
	OpMapTCP          Opcode = 2
)

// responseIndicator is OR'd into the request opcode by the gateway.
const responseIndicator = 0x80

// ParseOpcode converts a raw opcode byte, with any response indicator already
// removed, to an Opcode.
func ParseOpcode(b byte) (Opcode, error) {
	switch op := Opcode(b); op {
	case OpExternalAddress, OpMapUDP, OpMapTCP:
		return op, nil
	default:
		return 0, ErrInvalidOpcode
	}
}

// A ResultCode is a NAT-PMP result code. Every ResultCode other than Success
// is returned as an error when a gateway refuses a request, so callers can
// check for a specific reason with errors.Is.
type ResultCode uint16

// Possible ResultCodes as defined in RFC 6886, section 3.5.
const (
	// Success indicates a successful request. It is never returned as an
	// error.
	Success ResultCode = 0

	// UnsupportedVersion indicates an unexpected NAT-PMP/PCP protocol version
	// was used to contact a NAT gateway.
	UnsupportedVersion ResultCode = 1

	// NotAuthorizedOrRefused indicates that the NAT gateway supports mapping
	// but the mapping functionality is administratively disabled.
	NotAuthorizedOrRefused ResultCode = 2

	// NetworkFailure indicates that the NAT gateway has not obtained a DHCP
	// lease and thus cannot provide an external IPv4 address.
	NetworkFailure ResultCode = 3

	// OutOfResources indicates that the NAT gateway cannot create any more
	// mappings at this time.
	OutOfResources ResultCode = 4

	// UnsupportedOpcode indicates that the NAT gateway does not recognize the
	// requested operation.
	UnsupportedOpcode ResultCode = 5
)

// ParseResultCode converts a raw 16-bit result code to a ResultCode.
func ParseResultCode(v uint16) (ResultCode, error) {
	if v > uint16(UnsupportedOpcode) {
		return 0, ErrInvalidResultCode
	}

	return ResultCode(v), nil
}

// Error implements error.
func (c ResultCode) Error() string {
	return fmt.Sprintf("natpmp: result %d: %s", uint16(c), c.String())
}

// A MapProtocol determines if a TCP or UDP port mapping should be created
// with a NAT gateway. Its value is the opcode of the mapping request.
type MapProtocol uint8

// Possible MapProtocol values.
const (
	UDP MapProtocol = MapProtocol(OpMapUDP)
	TCP MapProtocol = MapProtocol(OpMapTCP)
)

func (p MapProtocol) opcode() Opcode { return Opcode(p) }
