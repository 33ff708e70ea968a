// File: socket/tls.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
package socket

import (
	"context"
	"crypto/tls"
	"net"
	"os"
	"time"

	"github.com/hyung-hwan/hio-go/hio"
	"github.com/hyung-hwan/hio-go/hioerr"
	"github.com/hyung-hwan/hio-go/sockaddr"
	"golang.org/x/sys/unix"
)

// handshakeTimeout bounds how long a dup'd-fd TLS handshake may run
// before it is abandoned, the same role a DNS exchange's reply timer
// plays for DNS.
const handshakeTimeout = 10 * time.Second

// TLSConfig carries a *tls.Config for a socket's ConnectingSSL
// (client) or AcceptingSSL (server) transition. The standard library
// is used here deliberately: nothing in the retrieval pack offers a
// non-blocking, WANT_READ/WANT_WRITE-style TLS primitive suited to a
// raw-epoll device (see DESIGN.md).
type TLSConfig struct {
	Config *tls.Config
}

// Go's crypto/tls has no state machine a single-threaded epoll loop
// can drive incrementally, so the handshake runs on a dedicated
// goroutine against a dup'd, still-blocking-capable fd, the same way
// a thr-device offloads blocking work: the goroutine signals
// completion back through a self-pipe notify device instead of being
// joined (joining from a device's kill path is forbidden).
type handshakeResult struct {
	conn *tls.Conn
	err  error
}

type handshakeCallbacks struct {
	s      *Socket
	result chan handshakeResult
}

func (h *handshakeCallbacks) Ready(dev *hio.Device, events hio.PollEvents) int { return 1 }

func (h *handshakeCallbacks) OnRead(dev *hio.Device, data []byte, n int, src *sockaddr.Addr) int {
	select {
	case res := <-h.result:
		h.s.completeHandshake(res.conn, res.err)
	default:
	}
	dev.Halt()
	return 0
}

func (h *handshakeCallbacks) OnWrite(dev *hio.Device, wrlen int, ctx any, dest *sockaddr.Addr) int {
	return 0
}

func (h *handshakeCallbacks) OnHalt(dev *hio.Device) {}

// notifyMethods adapts a self-pipe's read end into hio.Methods. It
// carries no payload of its own, only a readiness edge, matching a
// pipe device's shape.
type notifyMethods struct {
	fd int
}

func (m *notifyMethods) Make(dev *hio.Device, ctx any) error { return nil }
func (m *notifyMethods) FailBeforeMake(ctx any)              { _ = unix.Close(m.fd) }
func (m *notifyMethods) GetSyshnd(dev *hio.Device) int       { return m.fd }
func (m *notifyMethods) Kill(dev *hio.Device, force bool) error {
	return unix.Close(m.fd)
}
func (m *notifyMethods) Ioctl(dev *hio.Device, cmd int, arg any) error {
	return hioerr.ErrNotSupported
}
func (m *notifyMethods) Read(dev *hio.Device, buf []byte) (int, *sockaddr.Addr, error) {
	n, err := unix.Read(m.fd, buf)
	return n, nil, err
}
func (m *notifyMethods) Write(dev *hio.Device, data []byte, dest *sockaddr.Addr) (int, error) {
	return 0, hioerr.ErrNotSupported
}
func (m *notifyMethods) Writev(dev *hio.Device, iov [][]byte, dest *sockaddr.Addr) (int, error) {
	return 0, hioerr.ErrNotSupported
}
func (m *notifyMethods) Sendfile(dev *hio.Device, fd int, offset int64) (int, error) {
	return 0, hioerr.ErrNotSupported
}

func (s *Socket) startClientHandshake() {
	s.runHandshake(func(raw net.Conn) *tls.Conn { return tls.Client(raw, s.clientTLS.Config) })
}

func (s *Socket) startServerHandshake() {
	s.runHandshake(func(raw net.Conn) *tls.Conn { return tls.Server(raw, s.serverTLS.Config) })
}

func (s *Socket) runHandshake(wrap func(net.Conn) *tls.Conn) {
	var pfds [2]int
	if err := unix.Pipe2(pfds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		s.reactor.SetLastError(hioerr.FromErrno(err), err)
		s.dev.Halt()
		return
	}
	readFD, writeFD := pfds[0], pfds[1]

	result := make(chan handshakeResult, 1)
	hc := &handshakeCallbacks{s: s, result: result}
	ndev, err := s.reactor.Make(&notifyMethods{fd: readFD}, hc, hio.CapIn, nil)
	if err != nil {
		_ = unix.Close(readFD)
		_ = unix.Close(writeFD)
		s.reactor.SetLastError(hioerr.FromErrno(err), err)
		s.dev.Halt()
		return
	}

	dupFD, err := unix.Dup(s.fd)
	if err != nil {
		_ = unix.Close(writeFD)
		ndev.Halt()
		s.reactor.SetLastError(hioerr.FromErrno(err), err)
		s.dev.Halt()
		return
	}

	go func() {
		defer func() {
			_, _ = unix.Write(writeFD, []byte{0})
			_ = unix.Close(writeFD)
		}()

		f := os.NewFile(uintptr(dupFD), "hio-tls-handshake")
		raw, ferr := net.FileConn(f)
		_ = f.Close() // FileConn holds its own dup of dupFD
		if ferr != nil {
			result <- handshakeResult{nil, ferr}
			return
		}

		conn := wrap(raw)
		ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
		defer cancel()
		herr := conn.HandshakeContext(ctx)
		result <- handshakeResult{conn, herr}
	}()
}

// completeHandshake runs on the reactor goroutine (invoked from the
// notify device's OnRead), so it may touch Socket state freely.
func (s *Socket) completeHandshake(conn *tls.Conn, err error) {
	if s.connectTimer != nil {
		s.reactor.DelTimer(s.connectTimer)
		s.connectTimer = nil
	}
	if err != nil {
		s.reactor.SetLastError(hioerr.CodeIO, err)
		s.dev.Halt()
		return
	}
	s.tlsConn = conn
	if s.progress == ProgressAcceptingSSL {
		s.progress = ProgressAccepted
	} else {
		s.progress = ProgressConnected
	}
	if s.cb.OnConnect != nil {
		s.cb.OnConnect(s)
	}
}

func translateTLSErr(err error) error {
	if err == nil {
		return nil
	}
	return hioerr.Newf(hioerr.CodeIO, "tls: %v", err)
}
