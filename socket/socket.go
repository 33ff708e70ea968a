// File: socket/socket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
package socket

import (
	"crypto/tls"
	"time"

	"github.com/hyung-hwan/hio-go/hio"
	"github.com/hyung-hwan/hio-go/hioerr"
	"github.com/hyung-hwan/hio-go/sockaddr"
	"github.com/hyung-hwan/hio-go/timer"
	"golang.org/x/sys/unix"
)

// Callbacks are the application-level hooks a Socket invokes, on top
// of the lower-level hio.EventCallbacks contract.
type Callbacks struct {
	OnConnect    func(s *Socket)
	OnDisconnect func(s *Socket)
	OnData       func(s *Socket, data []byte, src *sockaddr.Addr)
	// OnRawAccept receives a raw accepted fd and peer address with no
	// child device created — the multi-reactor hand-off primitive. When
	// set, listener accept never constructs a child Socket.
	OnRawAccept func(fd int, peer sockaddr.Addr)
}

// Socket is a stream or datagram network device. It implements both
// hio.Methods and hio.EventCallbacks directly: each Socket instance is
// a fresh vtable, matching the per-device method-set the hio core expects.
type Socket struct {
	dev      *hio.Device
	reactor  *hio.Hio
	typ      Type
	progress Progress
	fd       int

	localAddr, remoteAddr, orgDstAddr sockaddr.Addr
	intercepted                       bool

	lenient bool

	backlog        int
	acceptTimeout  time.Duration
	connectTimeout time.Duration
	connectTimer   *timer.Job

	serverTLS *TLSConfig
	clientTLS *TLSConfig
	tlsConn   *tls.Conn // set once the ConnectingSSL/AcceptingSSL handshake completes

	cb Callbacks

	parent  *Socket // weak back-reference, accept-dispatch path only
	chanNum uint16
}

// New creates a socket device of the given type and registers it with
// the reactor. For QX sockets use NewQXPair instead.
func New(r *hio.Hio, typ Type, cb Callbacks) (*Socket, error) {
	if typ == QX {
		return nil, hioerr.New(hioerr.CodeInval, "QX sockets are built with NewQXPair")
	}
	s := &Socket{reactor: r, typ: typ, cb: cb}
	dev, err := r.Make(s, s, capsFor(typ), nil)
	if err != nil {
		return nil, err
	}
	s.dev = dev
	s.fd = dev.GetSyshnd()
	return s, nil
}

func capsFor(typ Type) hio.Capability {
	info, ok := typeTable[typ]
	caps := hio.Capability(0)
	if ok && info.stream {
		caps |= hio.CapStream
	}
	return caps
}

// Progress returns the socket's current connection-progress state.
func (s *Socket) Progress() Progress { return s.progress }

// LocalAddr / RemoteAddr / OrgDstAddr / Intercepted report the
// addresses recorded at bind/connect/accept time.
func (s *Socket) LocalAddr() sockaddr.Addr   { return s.localAddr }
func (s *Socket) RemoteAddr() sockaddr.Addr  { return s.remoteAddr }
func (s *Socket) OrgDstAddr() sockaddr.Addr  { return s.orgDstAddr }
func (s *Socket) Intercepted() bool          { return s.intercepted }
func (s *Socket) Device() *hio.Device        { return s.dev }
func (s *Socket) Chan() uint16               { return s.chanNum }
func (s *Socket) SetChan(c uint16)           { s.chanNum = c }

// ---- hio.Methods ----

// Make creates the underlying kernel socket.
// The QX type never reaches this path (see New).
func (s *Socket) Make(dev *hio.Device, ctx any) error {
	if s.typ == BPF {
		return hioerr.New(hioerr.CodeNoCapa, "BPF device read/write not implemented")
	}
	info, ok := typeTable[s.typ]
	if !ok {
		return hioerr.Newf(hioerr.CodeInval, "unknown socket type %d", s.typ)
	}
	fd, err := unix.Socket(info.family, info.sockType|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, info.protocol)
	if err != nil {
		return err
	}
	s.fd = fd
	return nil
}

func (s *Socket) FailBeforeMake(ctx any) {
	if s.fd >= 0 {
		_ = unix.Close(s.fd)
	}
}

func (s *Socket) GetSyshnd(dev *hio.Device) int { return s.fd }

func (s *Socket) Kill(dev *hio.Device, force bool) error {
	if s.connectTimer != nil {
		s.reactor.DelTimer(s.connectTimer)
		s.connectTimer = nil
	}
	if s.tlsConn != nil {
		_ = s.tlsConn.Close() // closes its own dup'd fd, not s.fd
		s.tlsConn = nil
	}
	if s.fd >= 0 {
		err := unix.Close(s.fd)
		s.fd = -1
		return err
	}
	return nil
}

// Read dispatches to the stream or stateless method depending on the
// socket's capability.
func (s *Socket) Read(dev *hio.Device, buf []byte) (int, *sockaddr.Addr, error) {
	if s.tlsConn != nil {
		n, err := s.tlsConn.Read(buf)
		if err != nil {
			return n, nil, translateTLSErr(err)
		}
		return n, nil, nil
	}
	if info, ok := typeTable[s.typ]; ok && info.stream {
		n, err := unix.Read(s.fd, buf)
		if err != nil {
			return 0, nil, err
		}
		return n, nil, nil
	}
	n, from, err := unix.Recvfrom(s.fd, buf, 0)
	if err != nil {
		return 0, nil, err
	}
	var src *sockaddr.Addr
	if from != nil {
		if a, cerr := sockaddrFromUnix(from); cerr == nil {
			src = &a
		}
	}
	return n, src, nil
}

// Write dispatches stream send() / datagram sendto(), with a
// zero-length stream write meaning half-close.
func (s *Socket) Write(dev *hio.Device, data []byte, dest *sockaddr.Addr) (int, error) {
	if s.tlsConn != nil {
		if len(data) == 0 {
			return 0, s.tlsConn.CloseWrite()
		}
		n, err := s.tlsConn.Write(data)
		if err != nil {
			return n, translateTLSErr(err)
		}
		return n, nil
	}
	info := typeTable[s.typ]
	if info.stream {
		if len(data) == 0 {
			return 0, unix.Shutdown(s.fd, unix.SHUT_WR)
		}
		n, err := unix.Write(s.fd, data)
		if err != nil {
			return 0, err
		}
		return n, nil
	}
	if dest == nil {
		return 0, hioerr.New(hioerr.CodeInval, "destination address required for datagram write")
	}
	sa, err := unixSockaddrOf(*dest)
	if err != nil {
		return 0, err
	}
	if err := unix.Sendto(s.fd, data, 0, sa); err != nil {
		return 0, err
	}
	return len(data), nil
}

func (s *Socket) Writev(dev *hio.Device, iov [][]byte, dest *sockaddr.Addr) (int, error) {
	total := 0
	for _, b := range iov {
		n, err := s.Write(dev, b, dest)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *Socket) Sendfile(dev *hio.Device, fd int, offset int64) (int, error) {
	return 0, hioerr.ErrNotSupported
}

// ---- hio.EventCallbacks ----

// Ready drives the progress-state machine: listeners accept,
// in-progress connects check SO_ERROR, everything else proceeds to
// the generic read path under the usual device Ready contract: -1
// fatal, 0 carry on without read, 1 proceed.
func (s *Socket) Ready(dev *hio.Device, events hio.PollEvents) int {
	switch s.progress {
	case ProgressListening:
		if events&hio.PollIn != 0 {
			s.acceptLoop()
		}
		return 0
	case ProgressConnecting:
		if events&(hio.PollOut|hio.PollErr) != 0 {
			s.finishConnect()
		}
		return 0
	case ProgressConnectingSSL, ProgressAcceptingSSL:
		// handshake completion is delivered asynchronously via the
		// notify device in tls.go; nothing to do on raw readiness.
		return 0
	default:
		if events&hio.PollErr != 0 || events&hio.PollHup != 0 {
			return -1
		}
		return 1
	}
}

func (s *Socket) OnRead(dev *hio.Device, data []byte, n int, src *sockaddr.Addr) int {
	if s.cb.OnData != nil {
		s.cb.OnData(s, data[:n], src)
	}
	return 0
}

func (s *Socket) OnWrite(dev *hio.Device, wrlen int, ctx any, dest *sockaddr.Addr) int {
	return 0
}

func (s *Socket) OnHalt(dev *hio.Device) {
	prev := s.progress
	s.progress = ProgressHalted
	if prev != ProgressNone && s.cb.OnDisconnect != nil {
		s.cb.OnDisconnect(s)
	}
}
