// File: dns/client/resolve.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
package client

import (
	"github.com/hyung-hwan/hio-go/dns/wire"
	"github.com/miekg/dns"
)

// Flag controls Resolve's query shape and reply post-processing.
type Flag uint32

const (
	// FlagBrief post-processes the answer down to a single best RR
	// instead of delivering the full message.
	FlagBrief Flag = 1 << iota
	// FlagPreferTCP starts the transaction directly on TCP (used for
	// qtype == AXFR regardless of whether this flag is set).
	FlagPreferTCP
	// FlagDNSSECOK sets the EDNS0 DO bit.
	FlagDNSSECOK
	// FlagCookie attaches a computed client cookie (EDNS0 option 10).
	FlagCookie
)

// Result is what Resolve delivers to its callback: either the full
// message (Brief unset) or a single extracted RR (Brief set, Brief
// may still be nil if nothing matched), alongside a terminal error.
type Result struct {
	Msg   *wire.Message
	Brief dns.RR
	Err   error
}

// ResolveFunc receives the outcome of a Resolve call.
type ResolveFunc func(Result)

// Resolve builds a standard RD=1 query for qname/qtype, attaches
// EDNS0 (with a client cookie and/or DNSSEC-OK per flags) when
// requested, and submits it via Exchange. AXFR always starts on TCP.
func (c *Client) Resolve(qname string, qtype uint16, flags Flag, onResolve ResolveFunc) error {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(qname), qtype)
	msg.RecursionDesired = true

	if flags&(FlagCookie|FlagDNSSECOK) != 0 {
		opt := wire.SetEDNS0(msg, 4096, flags&FlagDNSSECOK != 0)
		if flags&FlagCookie != 0 {
			opt.Option = append(opt.Option, &dns.EDNS0_COOKIE{
				Code:   dns.EDNS0COOKIE,
				Cookie: clientCookieHex(c.cookieKey, c.server),
			})
		}
	}

	preferTCP := flags&FlagPreferTCP != 0 || qtype == dns.TypeAXFR

	return c.Exchange(msg, func(reply *wire.Message, err error) {
		if err != nil {
			onResolve(Result{Err: err})
			return
		}
		if flags&FlagBrief == 0 {
			onResolve(Result{Msg: reply})
			return
		}
		onResolve(Result{Msg: reply, Brief: briefExtract(reply, qtype)})
	}, preferTCP)
}

// briefExtract implements BRIEF post-processing: for ANY, the first
// A/AAAA if present else the first answer; for the legacy
// MAILA/MAILB types, the first matching RR; otherwise the first RR
// whose type equals qtype.
func briefExtract(msg *wire.Message, qtype uint16) dns.RR {
	switch qtype {
	case dns.TypeANY:
		for _, rr := range msg.Answer {
			if t := rr.Header().Rrtype; t == dns.TypeA || t == dns.TypeAAAA {
				return rr
			}
		}
		if len(msg.Answer) > 0 {
			return msg.Answer[0]
		}
		return nil
	case dns.TypeMAILB:
		return firstOfTypes(msg.Answer, dns.TypeMB, dns.TypeMG, dns.TypeMR)
	case dns.TypeMAILA:
		return firstOfTypes(msg.Answer, dns.TypeMD, dns.TypeMF)
	default:
		return firstOfTypes(msg.Answer, qtype)
	}
}

// firstOfTypes returns the first RR in answers whose type is any of
// types, or nil if none match.
func firstOfTypes(answers []dns.RR, types ...uint16) dns.RR {
	for _, rr := range answers {
		t := rr.Header().Rrtype
		for _, want := range types {
			if t == want {
				return rr
			}
		}
	}
	return nil
}
