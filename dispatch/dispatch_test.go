// File: dispatch/dispatch_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
package dispatch

import (
	"context"
	"sync"
	"time"

	"testing"

	"github.com/hyung-hwan/hio-go/hio"
	"github.com/hyung-hwan/hio-go/sockaddr"
	"github.com/hyung-hwan/hio-go/socket"
	"github.com/stretchr/testify/require"
)

// runReactor drives r.RunOnce on its own goroutine until stop fires.
func runReactor(stop <-chan struct{}, r *hio.Hio, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-stop:
			return
		default:
			if !r.RunOnce() {
				time.Sleep(time.Millisecond)
			}
		}
	}
}

func TestDispatcherHandsConnectionToWorker(t *testing.T) {
	listenerReactor, err := hio.Open(nil)
	require.NoError(t, err)
	defer listenerReactor.Close()

	workerReactor, err := hio.Open(nil)
	require.NoError(t, err)
	defer workerReactor.Close()

	var mu sync.Mutex
	var got []byte
	connected := make(chan struct{}, 1)

	worker := NewWorker(workerReactor, socket.TCP4, socket.Callbacks{
		OnConnect: func(s *socket.Socket) {
			select {
			case connected <- struct{}{}:
			default:
			}
		},
		OnData: func(s *socket.Socket, data []byte, src *sockaddr.Addr) {
			mu.Lock()
			got = append(got, data...)
			mu.Unlock()
		},
	}, 4)
	worker.StartDraining(5 * time.Millisecond)

	d := New(listenerReactor, []*Worker{worker}, 10*time.Millisecond)

	listener, err := socket.New(listenerReactor, socket.TCP4, socket.Callbacks{
		OnRawAccept: d.OnRawAccept,
	})
	require.NoError(t, err)
	require.NoError(t, listener.Bind(sockaddr.Addr{Family: sockaddr.FamilyInet4, IP: []byte{127, 0, 0, 1}}, socket.BindOptions{ReuseAddr: true}))
	require.NoError(t, listener.Listen(8, 0))
	require.NoError(t, listener.SyncLocalAddr())
	addr := listener.LocalAddr()

	stopL := make(chan struct{})
	stopW := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go runReactor(stopL, listenerReactor, &wg)
	go runReactor(stopW, workerReactor, &wg)
	defer func() {
		close(stopL)
		close(stopW)
		wg.Wait()
	}()

	client, err := socket.New(listenerReactor, socket.TCP4, socket.Callbacks{})
	require.NoError(t, err)
	require.NoError(t, client.Connect(addr, 2*time.Second, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	select {
	case <-connected:
	case <-ctx.Done():
		t.Fatal("worker never adopted the handed-off connection")
	}

	require.NoError(t, client.Device().Write([]byte("hello worker"), nil, nil))

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("worker never received data from the handed-off connection")
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	require.Equal(t, "hello worker", string(got))
	mu.Unlock()
}
