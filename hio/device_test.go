// File: hio/device_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
package hio

import (
	"context"
	"testing"
	"time"

	"github.com/hyung-hwan/hio-go/sockaddr"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// fdMethods is a minimal Methods implementation over a raw,
// already-connected non-blocking socketpair fd, used to exercise the
// device core's read/write queueing without involving the full
// socket-device state machine.
type fdMethods struct {
	fd int
}

func (m *fdMethods) Make(dev *Device, ctx any) error { return nil }
func (m *fdMethods) Kill(dev *Device, force bool) error {
	return unix.Close(m.fd)
}
func (m *fdMethods) FailBeforeMake(ctx any)     {}
func (m *fdMethods) GetSyshnd(dev *Device) int  { return m.fd }
func (m *fdMethods) Ioctl(dev *Device, cmd int, arg any) error { return nil }

func (m *fdMethods) Read(dev *Device, buf []byte) (int, *sockaddr.Addr, error) {
	n, err := unix.Read(m.fd, buf)
	if err != nil {
		return 0, nil, err
	}
	return n, nil, nil
}

func (m *fdMethods) Write(dev *Device, data []byte, dest *sockaddr.Addr) (int, error) {
	if len(data) == 0 {
		return 0, nil // half-close: nothing to shut down in this test double
	}
	n, err := unix.Write(m.fd, data)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (m *fdMethods) Writev(dev *Device, iov [][]byte, dest *sockaddr.Addr) (int, error) {
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

func (m *fdMethods) Sendfile(dev *Device, fd int, offset int64) (int, error) { return 0, nil }

type recordingCallbacks struct {
	reads  [][]byte
	writes []int
	halted bool
}

func (c *recordingCallbacks) Ready(dev *Device, events PollEvents) int { return 1 }
func (c *recordingCallbacks) OnRead(dev *Device, data []byte, n int, src *sockaddr.Addr) int {
	cp := make([]byte, n)
	copy(cp, data[:n])
	c.reads = append(c.reads, cp)
	return 0
}
func (c *recordingCallbacks) OnWrite(dev *Device, wrlen int, ctx any, dest *sockaddr.Addr) int {
	c.writes = append(c.writes, wrlen)
	return 0
}
func (c *recordingCallbacks) OnHalt(dev *Device) { c.halted = true }

func socketpair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	return fds[0], fds[1]
}

func TestDeviceWriteThenReadRoundTrip(t *testing.T) {
	a, b := socketpair(t)
	defer unix.Close(b)

	r, err := Open(nil)
	require.NoError(t, err)
	defer r.Close()

	cb := &recordingCallbacks{}
	dev, err := r.Make(&fdMethods{fd: a}, cb, CapIn|CapOut|CapStream, nil)
	require.NoError(t, err)

	_, err = unix.Write(b, []byte("hello"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	for len(cb.reads) == 0 {
		if !r.RunOnce() {
			select {
			case <-ctx.Done():
				t.Fatal("timed out waiting for read")
			default:
			}
		}
	}
	require.Equal(t, "hello", string(cb.reads[0]))

	require.NoError(t, dev.Write([]byte("world"), 42, nil))
	require.Equal(t, 5, cb.writes[len(cb.writes)-1])
}

func TestHaltIsIdempotentAndRunsOnHalt(t *testing.T) {
	a, b := socketpair(t)
	defer unix.Close(b)

	r, err := Open(nil)
	require.NoError(t, err)
	defer r.Close()

	cb := &recordingCallbacks{}
	dev, err := r.Make(&fdMethods{fd: a}, cb, CapIn|CapOut|CapStream, nil)
	require.NoError(t, err)

	dev.Halt()
	dev.Halt() // no-op, must not panic or double count

	r.reapHalted()
	require.True(t, cb.halted)
}

func TestTimedWriteDeadlineFiresCancellation(t *testing.T) {
	a, b := socketpair(t)
	defer unix.Close(b)

	r, err := Open(nil)
	require.NoError(t, err)
	defer r.Close()

	cb := &recordingCallbacks{}
	dev, err := r.Make(&fdMethods{fd: a}, cb, CapIn|CapOut|CapStream, nil)
	require.NoError(t, err)

	// Fill the kernel send buffer so the synchronous write blocks with
	// EAGAIN, forcing the request onto the deadline-bearing queue.
	big := make([]byte, 1<<20)
	for {
		n, werr := unix.Write(a, big)
		if werr != nil || n == 0 {
			break
		}
	}

	require.NoError(t, dev.TimedWrite(big, 7, nil, time.Now().Add(10*time.Millisecond)))

	deadline := time.Now().Add(2 * time.Second)
	for len(cb.writes) == 0 && time.Now().Before(deadline) {
		r.RunOnce()
	}
	require.NotEmpty(t, cb.writes)
	require.Equal(t, -1, cb.writes[0])
}
