// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package device implements non-socket streaming devices: a plain
// full-duplex pipe pair and a worker-backed thr device built on top
// of it.
package device

import (
	"github.com/hyung-hwan/hio-go/hio"
	"github.com/hyung-hwan/hio-go/hioerr"
	"github.com/hyung-hwan/hio-go/sockaddr"
	"golang.org/x/sys/unix"
)

// Callbacks are the application hooks a Pipe (or Thread) invokes,
// mirroring socket.Callbacks' shape for a device with no addresses.
type Callbacks struct {
	OnData       func(data []byte)
	OnDisconnect func()
}

// Pipe is a device triple: one virtual master with no I/O of its own,
// and two slave devices — a readable In and a writable Out — each
// backed by its own UNIX pipe so the pair is full-duplex. The master
// exists purely so the triple has a single lifetime handle, with the
// master virtual and the slaves doing the actual read/write.
type Pipe struct {
	reactor *hio.Hio
	Master  *hio.Device
	In      *hio.Device
	Out     *hio.Device

	// workerIn/workerOut are the far-end fds of the same two pipes,
	// owned by whatever goroutine is the pipe's counterpart (a thr
	// device's worker). They are not registered with the reactor.
	workerIn, workerOut int

	cb Callbacks
}

// NewPipe creates two non-blocking pipes and wires them into one
// full-duplex device triple.
func NewPipe(r *hio.Hio, cb Callbacks) (*Pipe, error) {
	var toWorker, fromWorker [2]int // [0]=read end, [1]=write end
	if err := unix.Pipe2(toWorker[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, err
	}
	if err := unix.Pipe2(fromWorker[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		_ = unix.Close(toWorker[0])
		_ = unix.Close(toWorker[1])
		return nil, err
	}

	p := &Pipe{reactor: r, cb: cb}

	master, err := r.Make(&virtualMethods{}, &virtualCallbacks{}, hio.CapVirtual, nil)
	if err != nil {
		closeFDs(toWorker[0], toWorker[1], fromWorker[0], fromWorker[1])
		return nil, err
	}
	p.Master = master

	inDev, err := r.Make(&slaveMethods{fd: fromWorker[0]}, &slaveCallbacks{p: p}, hio.CapIn|hio.CapStream, nil)
	if err != nil {
		master.Halt()
		closeFDs(toWorker[0], toWorker[1], fromWorker[0], fromWorker[1])
		return nil, err
	}
	p.In = inDev

	outDev, err := r.Make(&slaveMethods{fd: toWorker[1]}, &slaveCallbacks{p: p}, hio.CapOut|hio.CapStream, nil)
	if err != nil {
		master.Halt()
		inDev.Halt()
		closeFDs(toWorker[0], fromWorker[1])
		return nil, err
	}
	p.Out = outDev

	p.workerIn, p.workerOut = toWorker[0], fromWorker[1]
	return p, nil
}

// WorkerFDs returns the far ends of the two pipes, for a goroutine
// acting as this pipe's counterpart. The
// caller owns these fds and must close them when done.
func (p *Pipe) WorkerFDs() (readFD, writeFD int) { return p.workerIn, p.workerOut }

// Halt tears down all three devices in the triple.
func (p *Pipe) Halt() {
	p.In.Halt()
	p.Out.Halt()
	p.Master.Halt()
}

func closeFDs(fds ...int) {
	for _, fd := range fds {
		if fd >= 0 {
			_ = unix.Close(fd)
		}
	}
}

// virtualMethods backs the master device: CapVirtual means it never
// owns a kernel handle and is never asked to Read/Write.
type virtualMethods struct{}

func (virtualMethods) Make(dev *hio.Device, ctx any) error { return nil }
func (virtualMethods) FailBeforeMake(ctx any)              {}
func (virtualMethods) GetSyshnd(dev *hio.Device) int       { return -1 }
func (virtualMethods) Kill(dev *hio.Device, force bool) error { return nil }
func (virtualMethods) Ioctl(dev *hio.Device, cmd int, arg any) error {
	return hioerr.ErrNotSupported
}
func (virtualMethods) Read(dev *hio.Device, buf []byte) (int, *sockaddr.Addr, error) {
	return 0, nil, hioerr.ErrNotSupported
}
func (virtualMethods) Write(dev *hio.Device, data []byte, dest *sockaddr.Addr) (int, error) {
	return 0, hioerr.ErrNotSupported
}
func (virtualMethods) Writev(dev *hio.Device, iov [][]byte, dest *sockaddr.Addr) (int, error) {
	return 0, hioerr.ErrNotSupported
}
func (virtualMethods) Sendfile(dev *hio.Device, fd int, offset int64) (int, error) {
	return 0, hioerr.ErrNotSupported
}

type virtualCallbacks struct{}

func (virtualCallbacks) Ready(dev *hio.Device, events hio.PollEvents) int          { return 0 }
func (virtualCallbacks) OnRead(dev *hio.Device, data []byte, n int, src *sockaddr.Addr) int { return 0 }
func (virtualCallbacks) OnWrite(dev *hio.Device, wrlen int, ctx any, dest *sockaddr.Addr) int {
	return 0
}
func (virtualCallbacks) OnHalt(dev *hio.Device) {}

// slaveMethods backs one end of a pipe: a plain fd with read-or-write
// use (never both, since each end was created for one direction).
type slaveMethods struct {
	fd int
}

func (m *slaveMethods) Make(dev *hio.Device, ctx any) error { return nil }
func (m *slaveMethods) FailBeforeMake(ctx any) {
	if m.fd >= 0 {
		_ = unix.Close(m.fd)
	}
}
func (m *slaveMethods) GetSyshnd(dev *hio.Device) int { return m.fd }
func (m *slaveMethods) Kill(dev *hio.Device, force bool) error {
	if m.fd < 0 {
		return nil
	}
	err := unix.Close(m.fd)
	m.fd = -1
	return err
}
func (m *slaveMethods) Ioctl(dev *hio.Device, cmd int, arg any) error {
	return hioerr.ErrNotSupported
}
func (m *slaveMethods) Read(dev *hio.Device, buf []byte) (int, *sockaddr.Addr, error) {
	n, err := unix.Read(m.fd, buf)
	return n, nil, err
}

// Write translates a zero-length write into shutdown-equivalent close
// of the write fd.
func (m *slaveMethods) Write(dev *hio.Device, data []byte, dest *sockaddr.Addr) (int, error) {
	if len(data) == 0 {
		return 0, m.Kill(dev, true)
	}
	n, err := unix.Write(m.fd, data)
	return n, err
}
func (m *slaveMethods) Writev(dev *hio.Device, iov [][]byte, dest *sockaddr.Addr) (int, error) {
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
func (m *slaveMethods) Sendfile(dev *hio.Device, fd int, offset int64) (int, error) {
	return 0, hioerr.ErrNotSupported
}

type slaveCallbacks struct {
	p *Pipe
}

func (c *slaveCallbacks) Ready(dev *hio.Device, events hio.PollEvents) int {
	if events&hio.PollErr != 0 || events&hio.PollHup != 0 {
		return -1
	}
	return 1
}
func (c *slaveCallbacks) OnRead(dev *hio.Device, data []byte, n int, src *sockaddr.Addr) int {
	if c.p.cb.OnData != nil {
		c.p.cb.OnData(data[:n])
	}
	return 0
}
func (c *slaveCallbacks) OnWrite(dev *hio.Device, wrlen int, ctx any, dest *sockaddr.Addr) int {
	return 0
}
func (c *slaveCallbacks) OnHalt(dev *hio.Device) {
	if c.p.cb.OnDisconnect != nil {
		c.p.cb.OnDisconnect()
	}
}
