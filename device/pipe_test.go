// File: device/pipe_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
package device

import (
	"bufio"
	"context"
	"os"
	"time"

	"testing"

	"github.com/hyung-hwan/hio-go/hio"
	"github.com/stretchr/testify/require"
)

func runUntil(t *testing.T, r *hio.Hio, done func() bool, timeout time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for !done() {
		r.RunOnce()
		select {
		case <-ctx.Done():
			t.Fatal("timed out waiting for condition")
		default:
		}
	}
}

func TestPipeRoundTrip(t *testing.T) {
	r, err := hio.Open(nil)
	require.NoError(t, err)
	defer r.Close()

	var got [][]byte
	p, err := NewPipe(r, Callbacks{
		OnData: func(data []byte) {
			cp := make([]byte, len(data))
			copy(cp, data)
			got = append(got, cp)
		},
	})
	require.NoError(t, err)
	defer p.Halt()

	readFD, writeFD := p.WorkerFDs()
	_ = readFD
	f := os.NewFile(uintptr(writeFD), "worker-write")
	defer f.Close()
	_, err = f.Write([]byte("from worker"))
	require.NoError(t, err)

	require.NoError(t, p.Out.Write([]byte("to worker"), nil, nil))

	runUntil(t, r, func() bool { return len(got) > 0 }, 2*time.Second)
	require.Equal(t, "from worker", string(got[0]))
}

func TestThreadWorkerEchoesAndJoinsOnHalt(t *testing.T) {
	r, err := hio.Open(nil)
	require.NoError(t, err)
	defer r.Close()

	var got [][]byte
	th, err := NewThread(r, Callbacks{
		OnData: func(data []byte) {
			cp := make([]byte, len(data))
			copy(cp, data)
			got = append(got, cp)
		},
	}, func(in, out *os.File) {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			_, _ = out.Write(append(scanner.Bytes(), '\n'))
		}
	})
	require.NoError(t, err)

	require.NoError(t, th.Out.Write([]byte("ping\n"), nil, nil))
	runUntil(t, r, func() bool { return len(got) > 0 }, 2*time.Second)
	require.Equal(t, "ping\n", string(got[0]))

	// Halt closes the Out slave's fd, which is the worker's input pipe
	// write end — the worker's scanner sees EOF and the goroutine exits,
	// letting the reactor's CFMB-deferred join complete.
	th.Halt()
	runUntil(t, r, func() bool { return th.Joined() }, 2*time.Second)
}
