// File: socket/ioctl.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
package socket

import (
	"time"

	"github.com/hyung-hwan/hio-go/hio"
	"github.com/hyung-hwan/hio-go/hioerr"
	"github.com/hyung-hwan/hio-go/sockaddr"
	"github.com/hyung-hwan/hio-go/timer"
	"golang.org/x/sys/unix"
)

// BindOptions mirrors the sockopt sets a socket's "Bind" ioctl names.
type BindOptions struct {
	ReuseAddr    bool
	ReusePort    bool
	V6Only       bool
	Broadcast    bool
	Transparent  bool
	IgnoreSetErr bool // IGNERR: downgrade setsockopt failures to warnings
	ServerTLS    *TLSConfig
}

// Bind sets the requested socket options and binds to addr. A second
// bind fails with CodePerm ("operation in progress").
func (s *Socket) Bind(addr sockaddr.Addr, opts BindOptions) error {
	if s.progress != ProgressNone || s.localAddr.Family != sockaddr.FamilyUnspec {
		return hioerr.New(hioerr.CodePerm, "operation in progress")
	}

	setOpt := func(level, name, val int) error {
		err := unix.SetsockoptInt(s.fd, level, name, val)
		if err != nil && !opts.IgnoreSetErr {
			return err
		}
		if err != nil {
			s.reactor.Logf("socket: setsockopt warning (ignored): %v", err)
		}
		return nil
	}

	if opts.ReuseAddr {
		if err := setOpt(unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			return err
		}
	}
	if opts.ReusePort {
		if err := setOpt(unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			return err
		}
	}
	if opts.V6Only && (s.typ == TCP6 || s.typ == UDP6 || s.typ == SCTP6 || s.typ == SCTP6SP) {
		if err := setOpt(unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1); err != nil {
			return err
		}
	}
	if opts.Broadcast {
		if err := setOpt(unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
			return err
		}
	}
	if opts.Transparent {
		if err := setOpt(unix.SOL_SOCKET, unix.IP_TRANSPARENT, 1); err != nil {
			return err
		}
	}

	sa, err := unixSockaddrOf(addr)
	if err != nil {
		return err
	}
	if err := unix.Bind(s.fd, sa); err != nil {
		return err
	}
	s.localAddr = addr
	if opts.ServerTLS != nil {
		s.serverTLS = opts.ServerTLS
	}
	return nil
}

// Listen marks the socket as a listener with the given backlog and
// per-accept timeout.
func (s *Socket) Listen(backlog int, acceptTimeout time.Duration) error {
	info, ok := typeTable[s.typ]
	if !ok || !info.listenable {
		return hioerr.Newf(hioerr.CodeNoCapa, "socket type %d is not listenable", s.typ)
	}
	if s.progress != ProgressNone {
		return hioerr.New(hioerr.CodePerm, "operation in progress")
	}
	if err := unix.Listen(s.fd, backlog); err != nil {
		return err
	}
	s.backlog = backlog
	s.acceptTimeout = acceptTimeout
	s.progress = ProgressListening
	return nil
}

// Connect starts a (possibly asynchronous) connect. On immediate
// success the transition to Connected still defers OnConnect to the
// next loop iteration — it must never fire from within Connect itself
//. On EINPROGRESS, OUT interest is enabled and, if
// requested, a connect-timeout job is armed.
func (s *Socket) Connect(addr sockaddr.Addr, timeout time.Duration, tlsCfg *TLSConfig) error {
	if s.progress != ProgressNone {
		return hioerr.New(hioerr.CodePerm, "operation in progress")
	}
	sa, err := unixSockaddrOf(addr)
	if err != nil {
		return err
	}
	s.remoteAddr = addr
	s.connectTimeout = timeout
	s.clientTLS = tlsCfg

	err = unix.Connect(s.fd, sa)
	if err == nil {
		// Deferred by one loop tick: on_connect must never fire from
		// within Connect itself. progress stays Connecting
		// in the interim so a spurious Ready() call before the deferred
		// tick fires does not route into the generic read path.
		s.progress = ProgressConnecting
		s.reactor.SchedAfter(0, func(time.Time, *timer.Job) {
			s.finishConnectOK()
		}, nil)
		return nil
	}
	if err != unix.EINPROGRESS {
		return err
	}

	s.progress = ProgressConnecting
	if err := s.dev.EnableOut(); err != nil {
		return err
	}
	if timeout > 0 {
		s.connectTimer = s.reactor.SchedAfter(timeout, func(time.Time, *timer.Job) {
			s.connectTimer = nil
			s.reactor.SetLastError(hioerr.CodeTmout, hioerr.New(hioerr.CodeTmout, "connect timed out"))
			s.dev.Halt()
		}, nil)
	}
	return nil
}

// Ioctl is presently unused by the socket device; command dispatch is
// exposed through typed methods (Bind/Listen/Connect) instead.
func (s *Socket) Ioctl(dev *hio.Device, cmd int, arg any) error {
	return hioerr.ErrNotSupported
}

// SyncLocalAddr refreshes LocalAddr from the kernel via getsockname,
// needed after binding to an ephemeral port (":0").
func (s *Socket) SyncLocalAddr() error {
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return err
	}
	addr, err := sockaddrFromUnix(sa)
	if err != nil {
		return err
	}
	s.localAddr = addr
	return nil
}
