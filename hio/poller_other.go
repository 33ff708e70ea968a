//go:build !linux

// File: hio/poller_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stub backend for platforms other than Linux, adapted from
// `reactor/reactor_stub.go`. Windows IOCP is out of scope outright;
// BSD kqueue would be an acceptable equivalent backend but is not
// implemented here, so this stub covers both rather than silently
// degrading to a no-op poller.
package hio

import (
	"time"

	"github.com/hyung-hwan/hio-go/hioerr"
)

type stubPoller struct{}

func newPoller() (poller, error) {
	return nil, hioerr.ErrNotSupported
}

func (stubPoller) Register(fd int, events PollEvents) error { return hioerr.ErrNotSupported }
func (stubPoller) Modify(fd int, events PollEvents) error   { return hioerr.ErrNotSupported }
func (stubPoller) Unregister(fd int) error                  { return hioerr.ErrNotSupported }
func (stubPoller) Wait(timeout time.Duration, out []readyFD) (int, error) {
	return 0, hioerr.ErrNotSupported
}
func (stubPoller) Close() error { return nil }
