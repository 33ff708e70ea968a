// File: device/thread.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
package device

import (
	"os"
	"sync/atomic"

	"github.com/hyung-hwan/hio-go/hio"
)

// Worker is the body a Thread device runs on its own goroutine. It
// gets blocking os.File handles for the pipe's far ends: in is what
// the reactor side wrote via Thread.Pipe.Out, out is what the reactor
// side reads via Thread.Pipe.In. The worker must close neither — the
// Thread closes both once the goroutine returns.
type Worker func(in *os.File, out *os.File)

// Thread is the `thr` device: identical in shape to a Pipe but with a
// goroutine, standing in for the original's POSIX-thread worker, that
// owns the far end of each pipe. On Halt, the worker is joined
// synchronously if it already marked itself done, or handed to the
// reactor's CFMB list for a deferred, non-blocking join otherwise — a
// device's Kill method must never block waiting on a goroutine.
type Thread struct {
	*Pipe
	done chan struct{}
	flag atomic.Bool
}

// NewThread starts fn on its own goroutine, wired to the reactor side
// through a fresh Pipe.
func NewThread(r *hio.Hio, cb Callbacks, fn Worker) (*Thread, error) {
	p, err := NewPipe(r, cb)
	if err != nil {
		return nil, err
	}

	t := &Thread{Pipe: p, done: make(chan struct{})}
	readFD, writeFD := p.WorkerFDs()
	inFile := os.NewFile(uintptr(readFD), "hio-thr-in")
	outFile := os.NewFile(uintptr(writeFD), "hio-thr-out")

	go func() {
		defer func() {
			_ = inFile.Close()
			_ = outFile.Close()
			t.flag.Store(true)
			close(t.done)
		}()
		fn(inFile, outFile)
	}()

	return t, nil
}

// Halt stops accepting new work and tears down the pipe triple. If
// the worker goroutine has already finished, join is immediate; if
// not, a CFMB node is registered so the reactor polls for completion
// on later iterations instead of blocking here.
func (t *Thread) Halt() {
	t.Pipe.Halt()
	if t.flag.Load() {
		return
	}
	t.reactor.Defer(t, func() bool {
		select {
		case <-t.done:
			return true
		default:
			return false
		}
	})
}

// Joined reports whether the worker goroutine has exited.
func (t *Thread) Joined() bool { return t.flag.Load() }
