// File: socket/socket_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
package socket

import (
	"context"
	"time"

	"testing"

	"github.com/hyung-hwan/hio-go/hio"
	"github.com/hyung-hwan/hio-go/sockaddr"
	"github.com/stretchr/testify/require"
)

func runUntil(t *testing.T, r *hio.Hio, done func() bool, timeout time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for !done() {
		if !r.RunOnce() {
			select {
			case <-ctx.Done():
				t.Fatal("timed out waiting for condition")
			default:
			}
		}
		select {
		case <-ctx.Done():
			t.Fatal("timed out waiting for condition")
		default:
		}
	}
}

func TestTCPListenConnectAcceptRoundTrip(t *testing.T) {
	r, err := hio.Open(nil)
	require.NoError(t, err)
	defer r.Close()

	var accepted *Socket
	listener, err := New(r, TCP4, Callbacks{
		OnConnect: func(s *Socket) { accepted = s },
	})
	require.NoError(t, err)

	require.NoError(t, listener.Bind(sockaddr.Addr{Family: sockaddr.FamilyInet4, IP: []byte{127, 0, 0, 1}}, BindOptions{ReuseAddr: true}))
	require.NoError(t, listener.Listen(8, 0))
	require.NoError(t, listener.SyncLocalAddr())
	addr := listener.LocalAddr()

	var clientConnected bool
	client, err := New(r, TCP4, Callbacks{
		OnConnect: func(s *Socket) { clientConnected = true },
	})
	require.NoError(t, err)
	require.NoError(t, client.Connect(addr, 2*time.Second, nil))

	runUntil(t, r, func() bool { return clientConnected && accepted != nil }, 2*time.Second)

	require.Equal(t, ProgressConnected, client.Progress())
	require.Equal(t, ProgressAccepted, accepted.Progress())
}

func TestDatagramWriteRequiresDestination(t *testing.T) {
	r, err := hio.Open(nil)
	require.NoError(t, err)
	defer r.Close()

	s, err := New(r, UDP4, Callbacks{})
	require.NoError(t, err)

	// dev.Write submits synchronously when the queue is empty, so a
	// datagram write with no destination fails immediately rather
	// than being silently queued.
	err = s.dev.Write([]byte("hi"), nil, nil)
	require.Error(t, err)

	_, werr := s.Write(s.dev, []byte("hi"), nil)
	require.Error(t, werr)
}

func TestNewRejectsQX(t *testing.T) {
	r, err := hio.Open(nil)
	require.NoError(t, err)
	defer r.Close()

	_, err = New(r, QX, Callbacks{})
	require.Error(t, err)
}

func TestQXPairExchangesData(t *testing.T) {
	ra, err := hio.Open(nil)
	require.NoError(t, err)
	defer ra.Close()
	rb, err := hio.Open(nil)
	require.NoError(t, err)
	defer rb.Close()

	var gotB [][]byte
	sa, sb, err := NewQXPair(ra, rb, Callbacks{})
	require.NoError(t, err)
	sb.cb.OnData = func(s *Socket, data []byte, src *sockaddr.Addr) {
		cp := make([]byte, len(data))
		copy(cp, data)
		gotB = append(gotB, cp)
	}

	require.NoError(t, sa.dev.Write([]byte("hand-off"), nil, nil))

	runUntil(t, rb, func() bool { return len(gotB) > 0 }, 2*time.Second)
	require.Equal(t, "hand-off", string(gotB[0]))
}
