// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package dispatch implements multi-reactor load distribution: a
// master reactor accepts incoming connections and spreads the
// resulting raw fds across a fixed array of worker reactors for
// load-sharing, one round-robin dispatch point holding explicit state
// rather than process-wide globals.
//
// golang.org/x/sys/unix's socketpair-based fd passing (SCM_RIGHTS) is
// how a dispatcher split across OS processes would move a connection
// between them; since this implementation runs every reactor as a
// goroutine in one process, handing a raw fd value across goroutines
// over the package's lock-free ring (ring.go) plays the same role
// without needing SCM_RIGHTS — the receiving reactor still adopts the
// fd cooperatively, on its own goroutine, since hio.Hio is not safe
// for concurrent use.
package dispatch

import (
	"time"

	"github.com/hyung-hwan/hio-go/hio"
	"github.com/hyung-hwan/hio-go/sockaddr"
	"github.com/hyung-hwan/hio-go/socket"
	"github.com/hyung-hwan/hio-go/timer"
)

type inboundConn struct {
	fd   int
	peer sockaddr.Addr
}

// Worker is one target reactor a Dispatcher can hand raw accepted
// connections off to. Inbox stands in for the original's side-channel
// datagram socket: bounded, and drained only by the worker's own
// reactor goroutine via Drain/StartDraining.
type Worker struct {
	Reactor *hio.Hio
	Typ     socket.Type
	Cb      socket.Callbacks

	inbox   *ring[inboundConn]
	stopped bool
}

// NewWorker wraps a reactor as a dispatch target. inboxSize bounds how
// many handed-off connections may queue before the dispatcher starts
// retrying the hand-off instead of blocking the listener; it is
// rounded up to the next power of two (ring requirement). The worker
// registers itself on r's stop chain so Reactor.Close() ends its
// draining loop instead of leaving a self-rescheduling timer running
// forever.
func NewWorker(r *hio.Hio, typ socket.Type, cb socket.Callbacks, inboxSize int) *Worker {
	w := &Worker{Reactor: r, Typ: typ, Cb: cb, inbox: newRing[inboundConn](inboxSize)}
	r.RegisterService(w)
	return w
}

// Stop ends the worker's draining loop; any fds still queued in inbox
// at that point are abandoned along with the rest of the reactor's
// state on Close.
func (w *Worker) Stop() {
	w.stopped = true
}

// Drain adopts every connection currently queued for this worker. It
// must only ever be called from the goroutine driving w.Reactor.
func (w *Worker) Drain() {
	for {
		c, ok := w.inbox.dequeue()
		if !ok {
			return
		}
		if _, err := socket.AdoptFD(w.Reactor, w.Typ, c.fd, c.peer, w.Cb); err != nil {
			w.Reactor.Logf("dispatch: adopt failed: %v", err)
		}
	}
}

// StartDraining schedules Drain to run every interval on w.Reactor,
// rescheduling itself each time — the cooperative poll a worker uses
// to adopt handed-off connections without any other goroutine ever
// touching a reactor it doesn't own.
func (w *Worker) StartDraining(interval time.Duration) {
	var tick func(time.Time, *timer.Job)
	tick = func(time.Time, *timer.Job) {
		if w.stopped {
			return
		}
		w.Drain()
		w.Reactor.SchedAfter(interval, tick, nil)
	}
	w.Reactor.SchedAfter(interval, tick, nil)
}

// Dispatcher round-robins raw accepted connections across a fixed
// worker array.
type Dispatcher struct {
	workers       []*Worker
	next          int
	retryInterval time.Duration
	listener      *hio.Hio
	stopped       bool
}

// New creates a Dispatcher over workers. listener is the reactor
// OnRawAccept will be called from — needed to schedule hand-off
// retries on the caller's own reactor rather than a worker's. The
// dispatcher registers itself on listener's stop chain alongside every
// other service.
func New(listener *hio.Hio, workers []*Worker, retryInterval time.Duration) *Dispatcher {
	d := &Dispatcher{workers: workers, listener: listener, retryInterval: retryInterval}
	listener.RegisterService(d)
	return d
}

// Stop marks the dispatcher closed; any fd still mid-retry when the
// listener reactor shuts down is dropped rather than retried further.
func (d *Dispatcher) Stop() {
	d.stopped = true
}

// OnRawAccept is wired as a listening socket's Callbacks.OnRawAccept:
// each accepted fd goes to the next worker in round-robin order. If
// that worker's inbox is full, the fd is retried against the same
// worker on retryInterval rather than dropped or blocking the
// listener's own reactor loop.
func (d *Dispatcher) OnRawAccept(fd int, peer sockaddr.Addr) {
	w := d.workers[d.next]
	d.next = (d.next + 1) % len(d.workers)
	d.handOff(w, fd, peer)
}

func (d *Dispatcher) handOff(w *Worker, fd int, peer sockaddr.Addr) {
	if w.inbox.enqueue(inboundConn{fd: fd, peer: peer}) {
		return
	}
	if d.stopped {
		return
	}
	d.listener.SchedAfter(d.retryInterval, func(time.Time, *timer.Job) {
		d.handOff(w, fd, peer)
	}, nil)
}
