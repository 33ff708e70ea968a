// File: hio/device.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
package hio

import (
	"time"

	"github.com/eapache/queue"
	"github.com/hyung-hwan/hio-go/hioerr"
	"github.com/hyung-hwan/hio-go/sockaddr"
	"github.com/hyung-hwan/hio-go/timer"
)

// Capability is the per-device bitmask tracking a device's direction,
// kind, and half-close state.
type Capability uint32

const (
	CapIn Capability = 1 << iota
	CapOut
	CapStream
	CapVirtual
	CapWatchReregRequired
	CapInClosed
	CapOutClosed
	CapLenient // fatal read/write errors are logged, not halted
)

// Methods is the device vtable. A device that has no real kernel
// handle (e.g. a pipe master) returns -1 from GetSyshnd and never
// receives Read/Write calls — it is CapVirtual.
type Methods interface {
	Make(dev *Device, ctx any) error
	Kill(dev *Device, force bool) error
	FailBeforeMake(ctx any)
	GetSyshnd(dev *Device) int
	Ioctl(dev *Device, cmd int, arg any) error
	Read(dev *Device, buf []byte) (n int, src *sockaddr.Addr, err error)
	Write(dev *Device, data []byte, dest *sockaddr.Addr) (n int, err error)
	Writev(dev *Device, iov [][]byte, dest *sockaddr.Addr) (n int, err error)
	Sendfile(dev *Device, fd int, offset int64) (n int, err error)
}

// EventCallbacks is the event vtable a device's owner implements to
// receive readiness and data notifications.
type EventCallbacks interface {
	Ready(dev *Device, events PollEvents) int
	OnRead(dev *Device, data []byte, n int, src *sockaddr.Addr) int
	OnWrite(dev *Device, wrlen int, ctx any, dest *sockaddr.Addr) int
	// OnHalt fires exactly once when the device is finally killed,
	// regardless of whether the halt originated from peer close,
	// timeout, or a programmatic call.
	OnHalt(dev *Device)
}

const defaultReadBufSize = 64 * 1024

type writeRequest struct {
	data     []byte
	iov      [][]byte
	dest     *sockaddr.Addr
	ctx      any
	deadline time.Time
	hasDline bool
	timerJob *timer.Job
	written  int // bytes already accepted by the kernel across retries
}

// total returns the full payload length, independent of how much of
// it has been written so far.
func (wr *writeRequest) total() int {
	if wr.iov != nil {
		n := 0
		for _, b := range wr.iov {
			n += len(b)
		}
		return n
	}
	return len(wr.data)
}

// remaining returns the unwritten tail of the payload, as a plain
// slice or a trimmed iov depending on which form the request was
// submitted with.
func (wr *writeRequest) remaining() ([]byte, [][]byte) {
	if wr.iov != nil {
		return nil, trimIov(wr.iov, wr.written)
	}
	return wr.data[wr.written:], nil
}

// trimIov drops the first skip bytes from iov, splitting the buffer
// that straddles the cut.
func trimIov(iov [][]byte, skip int) [][]byte {
	for i, b := range iov {
		if skip < len(b) {
			out := make([][]byte, 0, len(iov)-i)
			out = append(out, b[skip:])
			return append(out, iov[i+1:]...)
		}
		skip -= len(b)
	}
	return nil
}

// Device is a reactor-owned object. The application only ever sees it
// through the handle returned by Make; the reactor exclusively owns
// the struct.
type Device struct {
	reactor   *Hio
	methods   Methods
	callbacks EventCallbacks
	caps      Capability
	fd        int

	writeQ  *queue.Queue
	writing bool // OUT interest currently enabled

	halted bool
	killed bool

	Name string // for log messages only
}

// Make allocates a device, calls methods.Make, and registers it in the
// active list. On failure it invokes FailBeforeMake exactly once so
// the caller-passed handle can be closed.
func (r *Hio) Make(methods Methods, callbacks EventCallbacks, caps Capability, ctx any) (*Device, error) {
	d := &Device{
		reactor:   r,
		methods:   methods,
		callbacks: callbacks,
		caps:      caps,
		writeQ:    queue.New(),
	}

	if err := methods.Make(d, ctx); err != nil {
		methods.FailBeforeMake(ctx)
		return nil, err
	}

	d.fd = methods.GetSyshnd(d)
	r.registerActive(d)

	if d.fd >= 0 && caps&CapVirtual == 0 {
		if err := r.poller.Register(d.fd, PollIn); err != nil {
			r.unregisterActive(d)
			methods.Kill(d, true)
			return nil, err
		}
		d.caps |= CapIn
	}

	return d, nil
}

// Halt is cooperative and callback-safe: the device is moved to the
// halted list and de-registered from the kernel source; its kill runs
// after the current event dispatch completes. Halting an
// already-halted device is a no-op.
func (d *Device) Halt() {
	if d.halted {
		return
	}
	d.halted = true

	if d.fd >= 0 && d.caps&CapVirtual == 0 {
		_ = d.reactor.poller.Unregister(d.fd)
	}
	d.reactor.unregisterActive(d)
	d.failAllPendingWrites()
	d.reactor.registerHalted(d)
}

// reap runs the device's kill method exactly once and invokes OnHalt.
func (d *Device) reap() {
	if d.killed {
		return
	}
	d.killed = true
	_ = d.methods.Kill(d, false)
	if d.callbacks != nil {
		d.callbacks.OnHalt(d)
	}
}

// GetSyshnd returns the device's kernel handle, or -1 for virtual devices.
func (d *Device) GetSyshnd() int { return d.fd }

// Capabilities returns the device's current capability bitmask.
func (d *Device) Capabilities() Capability { return d.caps }

// Reactor returns the owning reactor.
func (d *Device) Reactor() *Hio { return d.reactor }

// updateWatch toggles the registered interest set for in/out.
// Platforms flagged CapWatchReregRequired get a STOP->START cycle
// instead of a plain MOD, the way BSD kqueue needs it for some socket
// transitions.
func (d *Device) updateWatch(events PollEvents) error {
	if d.fd < 0 || d.caps&CapVirtual != 0 {
		return nil
	}
	if d.caps&CapWatchReregRequired != 0 {
		_ = d.reactor.poller.Unregister(d.fd)
		return d.reactor.poller.Register(d.fd, events)
	}
	return d.reactor.poller.Modify(d.fd, events)
}

func (d *Device) enableWrite() {
	if d.writing {
		return
	}
	d.writing = true
	_ = d.updateWatch(PollIn | PollOut)
}

func (d *Device) disableWrite() {
	if !d.writing {
		return
	}
	d.writing = false
	_ = d.updateWatch(PollIn)
}

// EnableOut/DisableOut let a device's methods (e.g. a socket mid
// non-blocking connect) ask for OUT readiness outside of the write
// queue's own bookkeeping.
func (d *Device) EnableOut() error { return d.updateWatch(PollIn | PollOut) }
func (d *Device) DisableOut() error { return d.updateWatch(PollIn) }

// Write submits data for transmission. A zero-length slice is the
// half-close indicator: the method's own Write()
// implementation must translate it into shutdown(WR).
func (d *Device) Write(data []byte, ctx any, dest *sockaddr.Addr) error {
	return d.submitWrite(data, nil, ctx, dest, time.Time{}, false)
}

// Writev submits a vector write.
func (d *Device) Writev(iov [][]byte, ctx any, dest *sockaddr.Addr) error {
	return d.submitWrite(nil, iov, ctx, dest, time.Time{}, false)
}

// TimedWrite submits data with a deadline; if not fully transmitted
// before the deadline, the request is dequeued and OnWrite fires with
// length -1 and a CodeTmout error set on the reactor.
func (d *Device) TimedWrite(data []byte, ctx any, dest *sockaddr.Addr, deadline time.Time) error {
	return d.submitWrite(data, nil, ctx, dest, deadline, true)
}

func (d *Device) submitWrite(data []byte, iov [][]byte, ctx any, dest *sockaddr.Addr, deadline time.Time, hasDline bool) error {
	if d.halted {
		return hioerr.ErrHalted
	}
	if d.caps&CapOutClosed != 0 {
		return hioerr.New(hioerr.CodeNoCapa, "write after half-close")
	}

	wr := &writeRequest{data: data, iov: iov, dest: dest, ctx: ctx, deadline: deadline, hasDline: hasDline}

	// Try synchronously first when the queue is empty.
	if d.writeQ.Length() == 0 {
		done, err := d.progressWrite(wr)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		// partial write or EAGAIN: wr.written now holds whatever
		// progress was made, and the rest is enqueued below.
	}

	if hasDline {
		wr.timerJob = d.reactor.timers.SchedAt(deadline, func(time.Time, *timer.Job) {
			d.cancelWrite(wr)
		}, wr)
	}
	d.writeQ.Add(wr)
	d.enableWrite()
	return nil
}

func (d *Device) isZeroLenStreamClose(data []byte, iov [][]byte) bool {
	return d.caps&CapStream != 0 && data != nil && len(data) == 0 && iov == nil
}

func (d *Device) tryWriteOnce(data []byte, iov [][]byte, dest *sockaddr.Addr) (int, error) {
	if iov != nil {
		return d.methods.Writev(d, iov, dest)
	}
	return d.methods.Write(d, data, dest)
}

// progressWrite attempts one write syscall's worth of progress on wr,
// advancing wr.written. done is true once the full payload has been
// accepted by the kernel, at which point OnWrite has already fired
// with the full length; a non-nil err is fatal and the request is
// left for the caller to fail. A short write with err == nil, or
// EAGAIN, both leave the request queued with its progress recorded
// for the next attempt.
func (d *Device) progressWrite(wr *writeRequest) (done bool, err error) {
	remData, remIov := wr.remaining()
	n, werr := d.tryWriteOnce(remData, remIov, wr.dest)
	if werr != nil {
		if isAgain(werr) {
			return false, nil
		}
		return false, werr
	}
	wr.written += n
	if wr.written < wr.total() {
		return false, nil
	}
	if d.isZeroLenStreamClose(wr.data, wr.iov) {
		d.caps |= CapOutClosed
	}
	if d.callbacks != nil {
		d.callbacks.OnWrite(d, wr.written, wr.ctx, wr.dest)
	}
	return true, nil
}

func isAgain(err error) bool {
	return hioerr.FromErrno(err) == hioerr.CodeAgain || err == hioerr.ErrAgain
}

// cancelWrite removes a timed-out write request and delivers the
// cancellation callback with length -1, the universal signal for "this
// write was cancelled, not short".
func (d *Device) cancelWrite(wr *writeRequest) {
	if !d.removeFromQueue(wr) {
		return
	}
	d.reactor.SetLastError(hioerr.CodeTmout, hioerr.New(hioerr.CodeTmout, "write deadline exceeded"))
	if d.callbacks != nil {
		d.callbacks.OnWrite(d, -1, wr.ctx, wr.dest)
	}
}

func (d *Device) removeFromQueue(target *writeRequest) bool {
	n := d.writeQ.Length()
	found := false
	for i := 0; i < n; i++ {
		wr := d.writeQ.Remove().(*writeRequest)
		if wr == target {
			found = true
			continue
		}
		d.writeQ.Add(wr)
	}
	if d.writeQ.Length() == 0 {
		d.disableWrite()
	}
	return found
}

// drainWrites is invoked by the reactor when OUT becomes ready; it
// completes queued requests in FIFO submission order, carrying a
// partially-written request's progress forward instead of re-sending
// bytes the kernel already accepted.
func (d *Device) drainWrites() {
	for d.writeQ.Length() > 0 {
		wr := d.writeQ.Peek().(*writeRequest)
		done, err := d.progressWrite(wr)
		if err != nil {
			d.writeQ.Remove()
			if wr.timerJob != nil {
				d.reactor.timers.Del(wr.timerJob)
			}
			d.reactor.SetLastError(hioerr.FromErrno(err), err)
			if d.callbacks != nil {
				d.callbacks.OnWrite(d, -1, wr.ctx, wr.dest)
			}
			if d.caps&CapLenient == 0 {
				d.Halt()
			} else {
				d.reactor.Logf("device %s: write error (lenient): %v", d.Name, err)
			}
			continue
		}
		if !done {
			return // EAGAIN or a further short write; wait for next OUT readiness
		}
		d.writeQ.Remove()
		if wr.timerJob != nil {
			d.reactor.timers.Del(wr.timerJob)
		}
	}
	if d.writeQ.Length() == 0 {
		d.disableWrite()
	}
}

func (d *Device) failAllPendingWrites() {
	for d.writeQ.Length() > 0 {
		wr := d.writeQ.Remove().(*writeRequest)
		if wr.timerJob != nil {
			d.reactor.timers.Del(wr.timerJob)
		}
		if d.callbacks != nil {
			d.callbacks.OnWrite(d, -1, wr.ctx, wr.dest)
		}
	}
}

// handleReadable is invoked by the reactor loop when the kernel
// reports IN for this device.
func (d *Device) handleReadable(buf []byte) {
	n, src, err := d.methods.Read(d, buf)
	if err != nil {
		if isAgain(err) {
			return
		}
		d.reactor.SetLastError(hioerr.FromErrno(err), err)
		if d.caps&CapLenient != 0 {
			d.reactor.Logf("device %s: read error (lenient): %v", d.Name, err)
			return
		}
		d.Halt()
		return
	}
	if n <= 0 {
		// EOF
		d.Halt()
		return
	}
	if d.callbacks != nil {
		d.callbacks.OnRead(d, buf, n, src)
	}
}
