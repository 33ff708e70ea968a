// File: hio/loop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
package hio

import (
	"context"
	"time"
)

// RunOnce executes exactly one reactor iteration:
//  1. compute the poll timeout from the next timer deadline
//  2. poll the kernel event source
//  3. dispatch ready/on_read/on_write for each readiness event
//  4. fire all due timer jobs
//  5. reap halted devices
//  6. drain the CFMB list
//
// Returns false when the loop has nothing left to do (no timers, no
// I/O-capable device) or a stop has been requested.
func (r *Hio) RunOnce() bool {
	if r.stopReq != StopNone {
		return false
	}

	timeout, hasTimer := r.timers.NextTimeout(time.Now())
	if !hasTimer && len(r.active) == 0 {
		return false
	}
	if !hasTimer {
		timeout = -1
	}

	ready := make([]readyFD, 64)
	n, err := r.poller.Wait(timeout, ready)
	if err != nil {
		r.SetLastError(0, err)
		r.RequestStop(StopWatcherError)
		return false
	}

	for i := 0; i < n; i++ {
		d, ok := r.active[ready[i].fd]
		if !ok {
			continue
		}
		r.dispatch(d, ready[i].events)
	}

	r.timers.FireDue(time.Now())

	r.reapHalted()
	r.drainCFMB()

	return r.stopReq == StopNone
}

func (r *Hio) dispatch(d *Device, events PollEvents) {
	rc := d.callbacks.Ready(d, events)
	if rc < 0 {
		d.Halt()
		return
	}

	if events&PollOut != 0 {
		d.drainWrites()
	}
	if events&PollIn != 0 && rc > 0 {
		d.handleReadable(r.readBuf)
	}
}

func (r *Hio) reapHalted() {
	if len(r.halted) == 0 {
		return
	}
	pending := r.halted
	r.halted = nil
	for _, d := range pending {
		d.reap()
	}
}

func (r *Hio) drainCFMB() {
	r.cfmb.Drain()
}

// Run drives RunOnce until it returns false or ctx is cancelled, in
// the single-threaded, cooperative scheduling model the whole reactor
// is built around.
func (r *Hio) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.RequestStop(StopTermination)
			return ctx.Err()
		default:
		}
		if !r.RunOnce() {
			return nil
		}
	}
}
