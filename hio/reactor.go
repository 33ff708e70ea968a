// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package hio implements the core reactor and device model: a
// single-threaded, non-blocking event loop with a heap-based timer
// wheel, a device lifecycle machine, and cancel-safe deferred cleanup
// (CFMB). It is grounded on `reactor/reactor_linux.go`'s kernel poller
// shape and `internal/transport/transport_linux.go`'s non-blocking fd
// idiom, generalized into a full device vtable covering socket, pipe,
// and thread devices rather than just a WebSocket transport.
package hio

import (
	"fmt"
	"os"
	"time"

	"github.com/hyung-hwan/hio-go/cfmb"
	"github.com/hyung-hwan/hio-go/config"
	"github.com/hyung-hwan/hio-go/hioerr"
	"github.com/hyung-hwan/hio-go/timer"
)

// StopReason describes why a reactor loop stopped, requested
// asynchronously from within a callback rather than unwound directly.
type StopReason int

const (
	StopNone StopReason = iota
	StopTermination
	StopWatcherError
)

// Service is the base embedded by every concrete protocol service
// (DNS client, dispatcher, …).
type Service interface {
	Stop()
}

// Logger matches `fmt.Fprintf(os.Stderr, ...)` diagnostic style
// (`control/debug.go`) rather than a structured logging library — no
// logging library appears anywhere in the dependency tree this port
// builds on, so none is introduced here either.
type Logger func(format string, args ...any)

// Hio is the reactor: a process-/goroutine-local coordinator, never
// shared across threads.
type Hio struct {
	poller poller
	timers *timer.Heap
	cfmb   *cfmb.List

	active map[int]*Device
	halted []*Device

	services []Service

	logger   Logger
	lastErr  *hioerr.Error
	stopReq  StopReason
	features config.Feature
	cfg      *config.Store

	readBuf []byte
}

// Open creates a new reactor.
func Open(cfg *config.Store) (*Hio, error) {
	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.New()
	}
	return &Hio{
		poller:   p,
		timers:   timer.New(),
		cfmb:     &cfmb.List{},
		active:   make(map[int]*Device),
		services: make([]Service, 0, 4),
		logger:   func(format string, args ...any) { fmt.Fprintf(os.Stderr, format+"\n", args...) },
		cfg:      cfg,
		features: config.FeatureLog | config.FeatureMux | config.FeatureCFMB,
		readBuf:  make([]byte, defaultReadBufSize),
	}, nil
}

// Close stops every registered service in LIFO order
// and releases the kernel poller.
func (r *Hio) Close() error {
	for i := len(r.services) - 1; i >= 0; i-- {
		r.services[i].Stop()
	}
	r.services = nil
	return r.poller.Close()
}

// RegisterService appends a service to the reactor's stop chain.
func (r *Hio) RegisterService(s Service) {
	r.services = append(r.services, s)
}

// SetLogger overrides the diagnostic sink.
func (r *Hio) SetLogger(l Logger) { r.logger = l }

// Logf emits a diagnostic message if the LOG feature is enabled.
func (r *Hio) Logf(format string, args ...any) {
	if r.features&config.FeatureLog == 0 {
		return
	}
	r.logger(format, args...)
}

// Config exposes the reactor's tunable store.
func (r *Hio) Config() *config.Store { return r.cfg }

// SetLastError records the per-reactor error slot.
func (r *Hio) SetLastError(code hioerr.ErrorCode, err error) {
	r.lastErr = hioerr.Newf(code, "%v", err)
}

// LastError returns the most recently recorded error, if any.
func (r *Hio) LastError() *hioerr.Error { return r.lastErr }

// RequestStop asynchronously requests loop termination; the loop
// checks after each step.
func (r *Hio) RequestStop(reason StopReason) {
	if r.stopReq == StopNone {
		r.stopReq = reason
	}
}

// SchedAt/SchedAfter/DelTimer expose the timer heap to devices and services.
func (r *Hio) SchedAt(deadline time.Time, handler timer.Handler, ctx any) *timer.Job {
	return r.timers.SchedAt(deadline, handler, ctx)
}

func (r *Hio) SchedAfter(delay time.Duration, handler timer.Handler, ctx any) *timer.Job {
	return r.timers.SchedAfter(delay, handler, ctx)
}

func (r *Hio) DelTimer(job *timer.Job) { r.timers.Del(job) }

// Defer registers a CFMB node for deferred, poll-driven cleanup
// — never block on it from inside a device's kill.
func (r *Hio) Defer(resource any, isReady func() bool) *cfmb.Node {
	return r.cfmb.Add(resource, isReady)
}

func (r *Hio) registerActive(d *Device) {
	if d.fd >= 0 {
		r.active[d.fd] = d
	}
}

func (r *Hio) unregisterActive(d *Device) {
	if d.fd >= 0 {
		delete(r.active, d.fd)
	}
}

func (r *Hio) registerHalted(d *Device) {
	r.halted = append(r.halted, d)
}
