// File: dns/client/cookie.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
package client

import (
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/hyung-hwan/hio-go/dns/wire"
	"github.com/hyung-hwan/hio-go/sockaddr"
	"github.com/miekg/dns"
)

// seedCookieKey fills key from the current time, seeding a fresh
// 16-byte cookie key each time a client starts.
func seedCookieKey(key *[16]byte) {
	now := uint64(time.Now().UnixNano())
	binary.LittleEndian.PutUint64(key[0:8], now)
	binary.LittleEndian.PutUint64(key[8:16], now^0x9e3779b97f4a7c15)
}

// ClientCookie computes the EDNS0 client cookie: SipHash-2-4(key,
// server-address), a 16-byte key producing an 8-byte output. No pack
// example or ecosystem dependency in the retrieval set offers
// SipHash, so the reference algorithm is implemented directly here
// (see DESIGN.md).
func ClientCookie(key [16]byte, addr sockaddr.Addr) [8]byte {
	k0 := binary.LittleEndian.Uint64(key[0:8])
	k1 := binary.LittleEndian.Uint64(key[8:16])
	h := sipHash24(k0, k1, addrBytes(addr))
	var out [8]byte
	binary.LittleEndian.PutUint64(out[:], h)
	return out
}

func clientCookieHex(key [16]byte, addr sockaddr.Addr) string {
	c := ClientCookie(key, addr)
	return hex.EncodeToString(c[:])
}

func addrBytes(addr sockaddr.Addr) []byte {
	if addr.IP != nil {
		return []byte(addr.IP)
	}
	return []byte(addr.Path)
}

// CheckClientCookie mirrors check_client_cookie: 1 if the request had
// a client cookie and the response echoes it, -1 if
// the request had one but the response carried none, 0 on mismatch, 2
// if the request had no cookie at all.
func CheckClientCookie(req, resp *wire.Message) int {
	reqCookie := findCookie(req)
	if reqCookie == "" {
		return 2
	}
	respCookie := findCookie(resp)
	if respCookie == "" {
		return -1
	}
	reqClient, respClient := reqCookie, respCookie
	if len(reqClient) > 16 {
		reqClient = reqClient[:16]
	}
	if len(respClient) > 16 {
		respClient = respClient[:16]
	}
	if reqClient == respClient {
		return 1
	}
	return 0
}

func findCookie(msg *wire.Message) string {
	opt := msg.IsEdns0()
	if opt == nil {
		return ""
	}
	for _, o := range opt.Option {
		if c, ok := o.(*dns.EDNS0_COOKIE); ok {
			return c.Cookie
		}
	}
	return ""
}

// sipHash24 is the SipHash-2-4 reference algorithm (2 compression
// rounds per 8-byte block, 4 finalization rounds).
func sipHash24(k0, k1 uint64, data []byte) uint64 {
	v0 := uint64(0x736f6d6570736575) ^ k0
	v1 := uint64(0x646f72616e646f6d) ^ k1
	v2 := uint64(0x6c7967656e657261) ^ k0
	v3 := uint64(0x7465646279746573) ^ k1

	round := func() {
		v0 += v1
		v1 = rotl64(v1, 13)
		v1 ^= v0
		v0 = rotl64(v0, 32)
		v2 += v3
		v3 = rotl64(v3, 16)
		v3 ^= v2
		v0 += v3
		v3 = rotl64(v3, 21)
		v3 ^= v0
		v2 += v1
		v1 = rotl64(v1, 17)
		v1 ^= v2
		v2 = rotl64(v2, 32)
	}

	n := len(data)
	end := n - n%8
	for i := 0; i < end; i += 8 {
		m := binary.LittleEndian.Uint64(data[i : i+8])
		v3 ^= m
		round()
		round()
		v0 ^= m
	}

	var last = uint64(n&0xff) << 56
	tail := data[end:]
	for i := len(tail) - 1; i >= 0; i-- {
		last |= uint64(tail[i]) << (8 * uint(i))
	}
	v3 ^= last
	round()
	round()
	v0 ^= last

	v2 ^= 0xff
	round()
	round()
	round()
	round()

	return v0 ^ v1 ^ v2 ^ v3
}

func rotl64(x uint64, b uint) uint64 { return (x << b) | (x >> (64 - b)) }
