// File: socket/accept.go
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

// maxAcceptsPerReady bounds how many connections a single Ready() call
// drains from the listen backlog, so one busy listener cannot starve
// every other device registered with the reactor.
const maxAcceptsPerReady = 64

// acceptLoop drains the accept backlog. Each accepted fd either
// becomes a full child Socket (progress Accepted, or AcceptingSSL when
// the listener carries a TLS config) or, when OnRawAccept is set, is
// handed off raw with no child device — the multi-reactor dispatch
// primitive.
func (s *Socket) acceptLoop() {
	for i := 0; i < maxAcceptsPerReady; i++ {
		fd, sa, err := unix.Accept4(s.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if err == unix.ECONNABORTED || err == unix.EINTR {
				continue
			}
			s.reactor.SetLastError(hioerr.FromErrno(err), err)
			return
		}

		peer, cerr := sockaddrFromUnix(sa)
		if cerr != nil {
			_ = unix.Close(fd)
			continue
		}

		if s.cb.OnRawAccept != nil {
			s.cb.OnRawAccept(fd, peer)
			continue
		}

		s.acceptOne(fd, peer)
	}
}

func (s *Socket) acceptOne(fd int, peer sockaddr.Addr) {
	child := &Socket{
		reactor:    s.reactor,
		typ:        s.typ,
		fd:         fd,
		remoteAddr: peer,
		parent:     s,
		cb:         s.cb,
	}
	child.orgDstAddr, child.intercepted = lookupOriginalDst(fd)

	caps := capsFor(s.typ)
	dev, err := s.reactor.Make(&acceptedMethods{s: child}, child, caps, nil)
	if err != nil {
		_ = unix.Close(fd)
		return
	}
	child.dev = dev

	if s.serverTLS != nil {
		child.progress = ProgressAcceptingSSL
		child.serverTLS = s.serverTLS
		child.startServerHandshake()
		if s.acceptTimeout > 0 {
			child.connectTimer = s.reactor.SchedAfter(s.acceptTimeout, func(time.Time, *timer.Job) {
				child.connectTimer = nil
				if child.progress == ProgressAcceptingSSL {
					s.reactor.SetLastError(hioerr.CodeTmout, hioerr.New(hioerr.CodeTmout, "accept handshake timed out"))
					child.dev.Halt()
				}
			}, nil)
		}
		return
	}
	child.progress = ProgressAccepted
	if child.cb.OnConnect != nil {
		child.cb.OnConnect(child)
	}
}

// acceptedMethods adapts an already-open fd (produced by accept4) to
// hio.Methods: Make is a no-op since the kernel already created the
// socket, splitting "allocate" from "adopt an existing handle".
type acceptedMethods struct {
	s *Socket
}

func (m *acceptedMethods) Make(dev *hio.Device, ctx any) error { return nil }
func (m *acceptedMethods) FailBeforeMake(ctx any) {
	if m.s.fd >= 0 {
		_ = unix.Close(m.s.fd)
	}
}
func (m *acceptedMethods) GetSyshnd(dev *hio.Device) int { return m.s.fd }
func (m *acceptedMethods) Kill(dev *hio.Device, force bool) error {
	return m.s.Kill(dev, force)
}
func (m *acceptedMethods) Ioctl(dev *hio.Device, cmd int, arg any) error {
	return m.s.Ioctl(dev, cmd, arg)
}
func (m *acceptedMethods) Read(dev *hio.Device, buf []byte) (int, *sockaddr.Addr, error) {
	return m.s.Read(dev, buf)
}
func (m *acceptedMethods) Write(dev *hio.Device, data []byte, dest *sockaddr.Addr) (int, error) {
	return m.s.Write(dev, data, dest)
}
func (m *acceptedMethods) Writev(dev *hio.Device, iov [][]byte, dest *sockaddr.Addr) (int, error) {
	return m.s.Writev(dev, iov, dest)
}
func (m *acceptedMethods) Sendfile(dev *hio.Device, fd int, offset int64) (int, error) {
	return m.s.Sendfile(dev, fd, offset)
}

// AdoptFD wraps an already-open, already-connected fd as a Socket in
// the Accepted progress state, with no parent listener and no TLS —
// the raw-handoff counterpart to a normal accept, used when a
// connection is handed to this reactor from another one (the "t06
// pattern"; see the dispatch package).
func AdoptFD(r *hio.Hio, typ Type, fd int, peer sockaddr.Addr, cb Callbacks) (*Socket, error) {
	s := &Socket{reactor: r, typ: typ, fd: fd, remoteAddr: peer, cb: cb}
	s.orgDstAddr, s.intercepted = lookupOriginalDst(fd)

	dev, err := r.Make(&acceptedMethods{s: s}, s, capsFor(typ), nil)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	s.dev = dev
	s.progress = ProgressAccepted
	if s.cb.OnConnect != nil {
		s.cb.OnConnect(s)
	}
	return s, nil
}

// finishConnect checks SO_ERROR after a non-blocking connect's OUT
// readiness fires, per the universal "check SO_ERROR, never trust
// bare writability" rule.
func (s *Socket) finishConnect() {
	if s.connectTimer != nil {
		s.reactor.DelTimer(s.connectTimer)
		s.connectTimer = nil
	}
	errno, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		s.reactor.SetLastError(hioerr.FromErrno(err), err)
		s.dev.Halt()
		return
	}
	if errno != 0 {
		cerr := unix.Errno(errno)
		s.reactor.SetLastError(hioerr.FromErrno(cerr), cerr)
		s.dev.Halt()
		return
	}
	_ = s.dev.DisableOut()
	s.finishConnectOK()
}

// finishConnectOK transitions to Connected (or ConnectingSSL) and
// fires OnConnect. Reached both from an immediate connect() success
// (deferred by one loop tick) and from a completed async connect.
func (s *Socket) finishConnectOK() {
	if s.clientTLS != nil {
		s.progress = ProgressConnectingSSL
		s.startClientHandshake()
		return
	}
	s.progress = ProgressConnected
	if s.cb.OnConnect != nil {
		s.cb.OnConnect(s)
	}
}
