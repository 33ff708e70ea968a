// File: socket/conv.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
package socket

import (
	"github.com/hyung-hwan/hio-go/hioerr"
	"github.com/hyung-hwan/hio-go/sockaddr"
	"golang.org/x/sys/unix"
)

func unixSockaddrOf(a sockaddr.Addr) (unix.Sockaddr, error) {
	switch a.Family {
	case sockaddr.FamilyInet4:
		var sa unix.SockaddrInet4
		copy(sa.Addr[:], a.IP.To4())
		sa.Port = int(a.Port)
		return &sa, nil
	case sockaddr.FamilyInet6:
		var sa unix.SockaddrInet6
		copy(sa.Addr[:], a.IP.To16())
		sa.Port = int(a.Port)
		sa.ZoneId = a.ScopeID
		return &sa, nil
	case sockaddr.FamilyUnix:
		return &unix.SockaddrUnix{Name: a.Path}, nil
	default:
		return nil, hioerr.New(hioerr.CodeInval, "address has no socket representation")
	}
}

func sockaddrFromUnix(sa unix.Sockaddr) (sockaddr.Addr, error) {
	switch t := sa.(type) {
	case *unix.SockaddrInet4:
		return sockaddr.Addr{Family: sockaddr.FamilyInet4, IP: append([]byte(nil), t.Addr[:]...), Port: uint16(t.Port)}, nil
	case *unix.SockaddrInet6:
		return sockaddr.Addr{Family: sockaddr.FamilyInet6, IP: append([]byte(nil), t.Addr[:]...), Port: uint16(t.Port), ScopeID: t.ZoneId}, nil
	case *unix.SockaddrUnix:
		return sockaddr.Addr{Family: sockaddr.FamilyUnix, Path: t.Name}, nil
	default:
		return sockaddr.Addr{}, hioerr.Newf(hioerr.CodeInval, "unsupported unix.Sockaddr %T", sa)
	}
}
