// Package natpmp implements a client for the NAT Port Mapping Protocol
// (NAT-PMP) as described in RFC 6886.
//
// The package provides the protocol codec (Request.Encode and DecodeResponse)
// and the request/response workflows built on top of it: Client.Map acquires
// an external port mapping and the gateway's public address, and Client.Probe
// reports whether a gateway speaks NAT-PMP at all. Every operation opens its
// own UDP socket, performs its exchanges with a fixed receive deadline and
// never retries.
package natpmp // import "inet.af/portmap/natpmp"

//go:generate stringer -type=Opcode,ResultCode,MapProtocol -output=strings.go
