// File: socket/intercept.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
package socket

import (
	"unsafe"

	"github.com/hyung-hwan/hio-go/sockaddr"
	"golang.org/x/sys/unix"
)

// soOriginalDst is not exposed by golang.org/x/sys/unix; it matches
// <linux/netfilter_ipv4.h>'s SO_ORIGINAL_DST, used by the original C
// source (lib/sck.c) to recover the pre-NAT destination of a
// REDIRECT/DNAT-intercepted connection.
const soOriginalDst = 80

// rawSockaddrIn mirrors struct sockaddr_in, the shape SO_ORIGINAL_DST
// fills in.
type rawSockaddrIn struct {
	Family uint16
	Port   [2]byte
	Addr   [4]byte
	Zero   [8]byte
}

// lookupOriginalDst reports the pre-NAT destination address of an
// accepted connection, when the listening socket sits behind an
// iptables REDIRECT/DNAT rule. ok is false (and addr is the zero
// value) for ordinary, non-intercepted connections.
func lookupOriginalDst(fd int) (addr sockaddr.Addr, ok bool) {
	var raw rawSockaddrIn
	size := uint32(unsafe.Sizeof(raw))
	_, _, errno := unix.Syscall6(unix.SYS_GETSOCKOPT,
		uintptr(fd), uintptr(unix.SOL_IP), uintptr(soOriginalDst),
		uintptr(unsafe.Pointer(&raw)), uintptr(unsafe.Pointer(&size)), 0)
	if errno != 0 {
		return sockaddr.Addr{}, false
	}
	port := uint16(raw.Port[0])<<8 | uint16(raw.Port[1])
	ip := append([]byte(nil), raw.Addr[:]...)
	orig := sockaddr.Addr{Family: sockaddr.FamilyInet4, IP: ip, Port: port}
	if lsa, err := unix.Getsockname(fd); err == nil {
		if local, cerr := sockaddrFromUnix(lsa); cerr == nil && local.Equal(orig) {
			return sockaddr.Addr{}, false
		}
	}
	return orig, true
}
