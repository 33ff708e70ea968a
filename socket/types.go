// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package socket implements the socket device state machine:
// connection progress states, TLS handshake interleaved with the
// reactor (via a thread-device style goroutine offload, see tls.go),
// stream/datagram/raw method dispatch, half-close semantics, and the
// raw-accept hand-off primitive used for multi-reactor load
// distribution. Grounded on `transport/tcp/listener.go` (accept-loop
// shape) and `transport/netconn.go` (pool-backed Read/Write),
// generalized from a WebSocket-only transport to a full socket-type
// table covering TCP, UDP, SCTP, and UNIX.
package socket

import "golang.org/x/sys/unix"

// Type enumerates the supported socket types.
type Type int

const (
	TCP4 Type = iota
	TCP6
	UDP4
	UDP6
	SCTP4
	SCTP6
	SCTP4SP // SCTP one-to-many, seqpacket
	SCTP6SP
	ICMP4
	ICMP6
	ARP
	ARPDgram
	Packet
	BPF
	Unix
	QX // in-process socketpair side channel; never built via New; see NewQXPair
)

// Local protocol constants not exposed by golang.org/x/sys/unix on
// every platform.
const (
	ethPARP      = 0x0806
	ipprotoICMP  = unix.IPPROTO_ICMP
	ipprotoICMP6 = unix.IPPROTO_ICMPV6
)

// typeInfo describes the (family, socket type, protocol, connectable,
// listenable, stream) tuple each Type maps to.
type typeInfo struct {
	family      int
	sockType    int
	protocol    int
	connectable bool
	listenable  bool
	stream      bool
}

var typeTable = map[Type]typeInfo{
	TCP4:     {unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP, true, true, true},
	TCP6:     {unix.AF_INET6, unix.SOCK_STREAM, unix.IPPROTO_TCP, true, true, true},
	UDP4:     {unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_UDP, true, false, false},
	UDP6:     {unix.AF_INET6, unix.SOCK_DGRAM, unix.IPPROTO_UDP, true, false, false},
	SCTP4:    {unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_SCTP, true, true, true},
	SCTP6:    {unix.AF_INET6, unix.SOCK_STREAM, unix.IPPROTO_SCTP, true, true, true},
	SCTP4SP:  {unix.AF_INET, unix.SOCK_SEQPACKET, unix.IPPROTO_SCTP, true, true, false},
	SCTP6SP:  {unix.AF_INET6, unix.SOCK_SEQPACKET, unix.IPPROTO_SCTP, true, true, false},
	ICMP4:    {unix.AF_INET, unix.SOCK_RAW, ipprotoICMP, true, false, false},
	ICMP6:    {unix.AF_INET6, unix.SOCK_RAW, ipprotoICMP6, true, false, false},
	ARP:      {unix.AF_PACKET, unix.SOCK_RAW, ethPARP, false, false, false},
	ARPDgram: {unix.AF_PACKET, unix.SOCK_DGRAM, ethPARP, false, false, false},
	Packet:   {unix.AF_PACKET, unix.SOCK_RAW, 0, false, false, false},
	Unix:     {unix.AF_UNIX, unix.SOCK_STREAM, 0, true, true, true},
}

// Progress is the connection-progress state machine for a socket. The
// original C source ORs single bits for historical reasons; this port
// uses a proper tagged enum instead.
type Progress int

const (
	ProgressNone Progress = iota
	ProgressListening
	ProgressConnecting
	ProgressConnectingSSL
	ProgressConnected
	ProgressAcceptingSSL
	ProgressAccepted
	ProgressHalted
)

func (p Progress) String() string {
	switch p {
	case ProgressListening:
		return "LISTENING"
	case ProgressConnecting:
		return "CONNECTING"
	case ProgressConnectingSSL:
		return "CONNECTING_SSL"
	case ProgressConnected:
		return "CONNECTED"
	case ProgressAcceptingSSL:
		return "ACCEPTING_SSL"
	case ProgressAccepted:
		return "ACCEPTED"
	case ProgressHalted:
		return "HALTED"
	default:
		return "NONE"
	}
}
