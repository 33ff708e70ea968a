// File: socket/qx.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
package socket

import (
	"github.com/hyung-hwan/hio-go/hio"
	"github.com/hyung-hwan/hio-go/hioerr"
	"github.com/hyung-hwan/hio-go/sockaddr"
	"golang.org/x/sys/unix"
)

// qxMethods adapts one end of an already-connected socketpair fd to
// hio.Methods. QX never goes through Socket.Make: the kernel handle
// exists before the device is registered.
type qxMethods struct {
	fd int
}

func (m *qxMethods) Make(dev *hio.Device, ctx any) error { return nil }
func (m *qxMethods) FailBeforeMake(ctx any)              { _ = unix.Close(m.fd) }
func (m *qxMethods) GetSyshnd(dev *hio.Device) int       { return m.fd }
func (m *qxMethods) Kill(dev *hio.Device, force bool) error {
	return unix.Close(m.fd)
}
func (m *qxMethods) Ioctl(dev *hio.Device, cmd int, arg any) error {
	return hioerr.ErrNotSupported
}
func (m *qxMethods) Read(dev *hio.Device, buf []byte) (int, *sockaddr.Addr, error) {
	n, err := unix.Read(m.fd, buf)
	if err != nil {
		return 0, nil, err
	}
	return n, nil, nil
}
func (m *qxMethods) Write(dev *hio.Device, data []byte, dest *sockaddr.Addr) (int, error) {
	if len(data) == 0 {
		return 0, unix.Shutdown(m.fd, unix.SHUT_WR)
	}
	n, err := unix.Write(m.fd, data)
	if err != nil {
		return 0, err
	}
	return n, nil
}
func (m *qxMethods) Writev(dev *hio.Device, iov [][]byte, dest *sockaddr.Addr) (int, error) {
	total := 0
	for _, b := range iov {
		n, err := m.Write(dev, b, dest)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
func (m *qxMethods) Sendfile(dev *hio.Device, fd int, offset int64) (int, error) {
	return 0, hioerr.ErrNotSupported
}

// NewQXPair creates an in-process socketpair side channel and wraps
// each end as a Socket already in the Accepted progress state, giving
// a byte channel between two reactors. The two Sockets may, and
// typically do, belong to two different *hio.Hio reactors. The dispatch
// package does not use it: it hands raw accepted fds to workers over
// its own in-process ring.
func NewQXPair(a, b *hio.Hio, cb Callbacks) (*Socket, *Socket, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, err
	}

	sa := &Socket{reactor: a, typ: QX, fd: fds[0], cb: cb, localAddr: sockaddr.Addr{Family: sockaddr.FamilyQX}}
	deva, err := a.Make(&qxMethods{fd: fds[0]}, sa, hio.CapStream, nil)
	if err != nil {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
		return nil, nil, err
	}
	sa.dev = deva
	sa.progress = ProgressAccepted

	sb := &Socket{reactor: b, typ: QX, fd: fds[1], cb: cb, localAddr: sockaddr.Addr{Family: sockaddr.FamilyQX}}
	devb, err := b.Make(&qxMethods{fd: fds[1]}, sb, hio.CapStream, nil)
	if err != nil {
		sa.dev.Halt()
		_ = unix.Close(fds[1])
		return nil, nil, err
	}
	sb.dev = devb
	sb.progress = ProgressAccepted

	return sa, sb, nil
}
