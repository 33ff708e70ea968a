// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package wire is the DNS wire-format codec: a thin façade over
// github.com/miekg/dns that adds the one encode-time invariant the
// library itself does not enforce — rejecting an extended rcode
// (>0xF) on a message with no EDNS0 OPT record to carry the high
// bits, since RFC 6891 has no wire representation for that case.
package wire

import (
	"encoding/binary"
	"io"

	"github.com/hyung-hwan/hio-go/hioerr"
	"github.com/miekg/dns"
)

// Message is the parsed representation of a DNS packet: header
// fields, EDNS block, and the three RR sections, all resolved
// (no dangling compression pointers) by miekg/dns's Unpack.
type Message = dns.Msg

// Encode packs m to wire format. A single rcode above 0xF without an
// OPT (EDNS0) record is rejected, since there is nowhere to carry the
// extended-rcode bits.
func Encode(m *Message) ([]byte, error) {
	if m.Rcode > 0xF && m.IsEdns0() == nil {
		return nil, hioerr.New(hioerr.CodeInval, "rcode > 0xF requires an EDNS0 OPT record")
	}
	return m.Pack()
}

// Decode unpacks buf into a Message. Compression pointers are resolved
// in-place by the library; a pointer whose target has a length octet
// >= 64 (not a valid compression target) surfaces as a decode error.
func Decode(buf []byte) (*Message, error) {
	m := new(Message)
	if err := m.Unpack(buf); err != nil {
		return nil, hioerr.Newf(hioerr.CodeECErr, "dns: unpack: %v", err)
	}
	return m, nil
}

// EncodeTCP frames m with the 2-byte big-endian length prefix DNS over
// TCP requires.
func EncodeTCP(m *Message) ([]byte, error) {
	body, err := Encode(m)
	if err != nil {
		return nil, err
	}
	if len(body) > 0xFFFF {
		return nil, hioerr.New(hioerr.CodeBufFull, "dns: message too large for TCP framing")
	}
	out := make([]byte, 2+len(body))
	binary.BigEndian.PutUint16(out, uint16(len(body)))
	copy(out[2:], body)
	return out, nil
}

// ReadTCP reads one length-prefixed DNS message from r.
func ReadTCP(r io.Reader) (*Message, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return Decode(body)
}

// SetEDNS0 attaches an OPT pseudo-RR with the given UDP payload size
// and DNSSEC-OK bit, matching RFC 6891's EDNS0 TTL-field packing
// (extended-rcode/version/DO/Z), which miekg/dns's SetEdns0 already
// implements internally.
func SetEDNS0(m *Message, udpSize uint16, dnssecOK bool) *dns.OPT {
	m.SetEdns0(udpSize, dnssecOK)
	return m.IsEdns0()
}
