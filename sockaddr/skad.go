// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package sockaddr implements a family-agnostic socket address
// container ("skad"), transliterated from the parsing/formatting
// logic in hio/lib/skad.c. It recognizes the in-process QX
// pseudo-address, UNIX paths, bracketed IPv6 with an optional scope
// id, and plain IPv4/IPv6 host[:port] forms.
package sockaddr

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/hyung-hwan/hio-go/hioerr"
)

// Family identifies which union member of Addr is live.
type Family int

const (
	FamilyUnspec Family = iota
	FamilyInet4
	FamilyInet6
	FamilyUnix
	FamilyQX // in-process signaling, socketpair side channel
)

// FormatFlags selects which parts Format renders.
type FormatFlags int

const (
	FlagAddr FormatFlags = 1 << iota
	FlagPort
)

// Addr is a tagged union over the supported address families.
// Chan is an out-of-band 16-bit extension (the SCTP stream number,
// hio_skad_chan in the original) that is never part of the wire
// address — see DESIGN.md for the fragility this extension carries.
type Addr struct {
	Family  Family
	IP      net.IP // 4-byte or 16-byte form for Inet4/Inet6
	Port    uint16
	ScopeID uint32 // IPv6 zone/scope id, numeric
	Path    string // UNIX socket path (without leading '@')
	Chan    uint16
}

// Parse recognizes the following text forms:
// "<qx>", "@<unix-path>", "[ipv6]:port", "[ipv6%scope]:port",
// "ipv4:port", bare ipv4, and bare ipv6.
func Parse(text string) (Addr, error) {
	if len(text) == 0 {
		return Addr{}, hioerr.New(hioerr.CodeInval, "blank address")
	}

	if text == "<qx>" {
		return Addr{Family: FamilyQX}, nil
	}

	if text[0] == '@' {
		return Addr{Family: FamilyUnix, Path: text[1:]}, nil
	}

	if text[0] == '[' {
		return parseBracketedV6(text)
	}

	return parseHostPort(text)
}

func parseBracketedV6(text string) (Addr, error) {
	end := strings.IndexAny(text[1:], "%]")
	if end < 0 {
		return Addr{}, hioerr.New(hioerr.CodeInval, "missing right bracket")
	}
	end++ // index relative to text

	hostPart := text[1:end]
	rest := text[end:]

	var scope uint32
	if len(rest) > 0 && rest[0] == '%' {
		closeIdx := strings.IndexByte(rest, ']')
		if closeIdx < 0 {
			return Addr{}, hioerr.New(hioerr.CodeInval, "missing right bracket")
		}
		scopeText := rest[1:closeIdx]
		if scopeText == "" {
			return Addr{}, hioerr.New(hioerr.CodeInval, "scope id blank")
		}
		id, err := parseScopeID(scopeText)
		if err != nil {
			return Addr{}, err
		}
		scope = id
		rest = rest[closeIdx:]
	}

	if len(rest) == 0 || rest[0] != ']' {
		return Addr{}, hioerr.New(hioerr.CodeInval, "missing right bracket")
	}
	rest = rest[1:] // skip ]

	ip := net.ParseIP(hostPart)
	if ip == nil {
		return Addr{}, hioerr.New(hioerr.CodeInval, "unrecognized address")
	}

	addr := Addr{Family: FamilyInet6, IP: ip.To16(), ScopeID: scope}

	if len(rest) > 0 {
		if rest[0] != ':' {
			return Addr{}, hioerr.New(hioerr.CodeInval, "unrecognized address")
		}
		port, err := parsePort(rest[1:])
		if err != nil {
			return Addr{}, err
		}
		addr.Port = port
	}
	return addr, nil
}

func parseScopeID(text string) (uint32, error) {
	if text[0] >= '0' && text[0] <= '9' {
		v, err := strconv.ParseUint(text, 10, 32)
		if err != nil {
			return 0, hioerr.New(hioerr.CodeInval, "scope id too large")
		}
		return uint32(v), nil
	}
	iface, err := net.InterfaceByName(text)
	if err != nil {
		return 0, hioerr.Newf(hioerr.CodeInval, "unknown interface %q", text)
	}
	return uint32(iface.Index), nil
}

func parsePort(text string) (uint16, error) {
	if len(text) == 0 || len(text) >= 6 {
		return 0, hioerr.New(hioerr.CodeInval, "port number blank or too large")
	}
	v, err := strconv.ParseUint(text, 10, 32)
	if err != nil || v > 65535 {
		return 0, hioerr.New(hioerr.CodeInval, "port number blank or too large")
	}
	return uint16(v), nil
}

func parseHostPort(text string) (Addr, error) {
	colon := strings.IndexByte(text, ':')
	hostPart := text
	var portPart string
	hasPort := false
	if colon >= 0 {
		hostPart = text[:colon]
		portPart = text[colon+1:]
		hasPort = true
	}

	ip := net.ParseIP(hostPart)
	if ip == nil {
		// Might be a bare IPv6 literal containing multiple colons
		// with no brackets and no port, e.g. "::1".
		if ip2 := net.ParseIP(text); ip2 != nil && ip2.To4() == nil {
			return Addr{Family: FamilyInet6, IP: ip2.To16()}, nil
		}
		return Addr{}, hioerr.New(hioerr.CodeInval, "unrecognized address")
	}

	addr := Addr{IP: ip}
	if v4 := ip.To4(); v4 != nil {
		addr.Family = FamilyInet4
		addr.IP = v4
	} else {
		addr.Family = FamilyInet6
		addr.IP = ip.To16()
	}

	if hasPort {
		port, err := parsePort(portPart)
		if err != nil {
			return Addr{}, err
		}
		addr.Port = port
	}
	return addr, nil
}

// Format renders Addr back to text; flags selects address-only,
// port-only, or both. IPv6 rendering relies on net.IP.String, which
// already implements the RFC 5952 longest-zero-run compression rule;
// an IPv4-mapped IPv6 address keeps its "::ffff:" prefix.
func (a Addr) Format(flags FormatFlags) string {
	switch a.Family {
	case FamilyQX:
		return "<qx>"
	case FamilyUnix:
		return "@" + a.Path
	case FamilyInet4:
		var b strings.Builder
		if flags&FlagAddr != 0 {
			b.WriteString(a.IP.String())
		}
		if flags&FlagPort != 0 && a.Port != 0 {
			if b.Len() > 0 {
				b.WriteByte(':')
			}
			fmt.Fprintf(&b, "%d", a.Port)
		}
		return b.String()
	case FamilyInet6:
		var b strings.Builder
		host := a.IP.String()
		if v4 := a.IP.To4(); v4 != nil {
			host = "::ffff:" + v4.String()
		}
		showAddr := flags&FlagAddr != 0
		showPort := flags&FlagPort != 0 && a.Port != 0
		if showAddr && showPort {
			b.WriteByte('[')
			b.WriteString(host)
			if a.ScopeID != 0 {
				fmt.Fprintf(&b, "%%%d", a.ScopeID)
			}
			b.WriteByte(']')
			fmt.Fprintf(&b, ":%d", a.Port)
		} else if showAddr {
			b.WriteString(host)
			if a.ScopeID != 0 {
				fmt.Fprintf(&b, "%%%d", a.ScopeID)
			}
		} else if showPort {
			fmt.Fprintf(&b, "%d", a.Port)
		}
		return b.String()
	default:
		return ""
	}
}

// String renders the address with both address and port, the most
// common logging form.
func (a Addr) String() string {
	return a.Format(FlagAddr | FlagPort)
}

// Equal compares two addresses the way hio_equal_skads does: by
// family, address bytes and port; Chan is never part of equality
// since it is a wire-external extension.
func (a Addr) Equal(b Addr) bool {
	if a.Family != b.Family {
		return false
	}
	switch a.Family {
	case FamilyQX:
		return true
	case FamilyUnix:
		return a.Path == b.Path
	case FamilyInet4, FamilyInet6:
		return a.IP.Equal(b.IP) && a.Port == b.Port
	default:
		return false
	}
}

// NetAddr converts to a standard library net.Addr-compatible
// *net.TCPAddr/*net.UDPAddr/*net.UnixAddr for use with golang.org/x/sys
// and net.FileConn-based devices. network selects "tcp"/"udp"/"unix".
func (a Addr) NetAddr(network string) (net.Addr, error) {
	switch a.Family {
	case FamilyInet4, FamilyInet6:
		switch {
		case strings.HasPrefix(network, "tcp"):
			return &net.TCPAddr{IP: a.IP, Port: int(a.Port), Zone: zoneOf(a.ScopeID)}, nil
		case strings.HasPrefix(network, "udp"):
			return &net.UDPAddr{IP: a.IP, Port: int(a.Port), Zone: zoneOf(a.ScopeID)}, nil
		default:
			return nil, hioerr.Newf(hioerr.CodeInval, "unsupported network %q", network)
		}
	case FamilyUnix:
		return &net.UnixAddr{Name: a.Path, Net: "unix"}, nil
	default:
		return nil, hioerr.New(hioerr.CodeInval, "address has no network representation")
	}
}

func zoneOf(scope uint32) string {
	if scope == 0 {
		return ""
	}
	iface, err := net.InterfaceByIndex(int(scope))
	if err != nil {
		return strconv.FormatUint(uint64(scope), 10)
	}
	return iface.Name
}

// FromNetAddr builds an Addr from a standard library net.Addr, used
// when the device core records localaddr/remoteaddr after accept/connect.
func FromNetAddr(na net.Addr) (Addr, error) {
	switch t := na.(type) {
	case *net.TCPAddr:
		return fromIPPort(t.IP, t.Port, t.Zone), nil
	case *net.UDPAddr:
		return fromIPPort(t.IP, t.Port, t.Zone), nil
	case *net.UnixAddr:
		return Addr{Family: FamilyUnix, Path: t.Name}, nil
	default:
		return Addr{}, hioerr.Newf(hioerr.CodeInval, "unsupported net.Addr %T", na)
	}
}

func fromIPPort(ip net.IP, port int, zone string) Addr {
	a := Addr{Port: uint16(port)}
	if v4 := ip.To4(); v4 != nil {
		a.Family = FamilyInet4
		a.IP = v4
	} else {
		a.Family = FamilyInet6
		a.IP = ip.To16()
		if zone != "" {
			if idx, err := strconv.ParseUint(zone, 10, 32); err == nil {
				a.ScopeID = uint32(idx)
			} else if iface, err := net.InterfaceByName(zone); err == nil {
				a.ScopeID = uint32(iface.Index)
			}
		}
	}
	return a
}
