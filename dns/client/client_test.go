// File: dns/client/client_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
package client

import (
	"context"
	"net"
	"time"

	"testing"

	"github.com/hyung-hwan/hio-go/dns/wire"
	"github.com/hyung-hwan/hio-go/hio"
	"github.com/hyung-hwan/hio-go/sockaddr"
	"github.com/hyung-hwan/hio-go/socket"
	"github.com/miekg/dns"
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

// fakeServer answers every A query for "example.com." with 93.184.216.34.
func newFakeServer(t *testing.T, r *hio.Hio) sockaddr.Addr {
	t.Helper()
	onData := func(s *socket.Socket, data []byte, src *sockaddr.Addr) {
		q, err := wire.Decode(data)
		if err != nil || src == nil {
			return
		}
		resp := new(dns.Msg)
		resp.SetReply(q)
		if len(q.Question) > 0 && q.Question[0].Qtype == dns.TypeA {
			rr, _ := dns.NewRR(q.Question[0].Name + " 60 IN A 93.184.216.34")
			resp.Answer = append(resp.Answer, rr)
		}
		body, err := wire.Encode(resp)
		if err != nil {
			return
		}
		_ = s.Device().Write(body, nil, src)
	}
	srv, err := socket.New(r, socket.UDP4, socket.Callbacks{OnData: onData})
	require.NoError(t, err)
	require.NoError(t, srv.Bind(sockaddr.Addr{Family: sockaddr.FamilyInet4, IP: net.IPv4(127, 0, 0, 1)}, socket.BindOptions{}))
	require.NoError(t, srv.SyncLocalAddr())
	return srv.LocalAddr()
}

func TestResolveBriefA(t *testing.T) {
	r, err := hio.Open(nil)
	require.NoError(t, err)
	defer r.Close()

	serverAddr := newFakeServer(t, r)

	c, err := Start(r, serverAddr, nil, 2*time.Second, 2*time.Second, 3)
	require.NoError(t, err)
	defer c.Stop()

	var got Result
	done := false
	require.NoError(t, c.Resolve("example.com.", dns.TypeA, FlagBrief, func(res Result) {
		got = res
		done = true
	}))

	runUntil(t, r, func() bool { return done }, 2*time.Second)
	require.NoError(t, got.Err)
	require.NotNil(t, got.Brief)
	require.Equal(t, dns.TypeA, got.Brief.Header().Rrtype)
}

func TestResolveTimesOutAgainstDeadServer(t *testing.T) {
	r, err := hio.Open(nil)
	require.NoError(t, err)
	defer r.Close()

	dead, err := socket.New(r, socket.UDP4, socket.Callbacks{})
	require.NoError(t, err)
	require.NoError(t, dead.Bind(sockaddr.Addr{Family: sockaddr.FamilyInet4, IP: net.IPv4(127, 0, 0, 1)}, socket.BindOptions{}))
	require.NoError(t, dead.SyncLocalAddr())
	deadAddr := dead.LocalAddr()
	dead.Device().Halt() // nothing answers from here on

	c, err := Start(r, deadAddr, nil, 50*time.Millisecond, 50*time.Millisecond, 1)
	require.NoError(t, err)
	defer c.Stop()

	var got Result
	done := false
	require.NoError(t, c.Resolve("example.com.", dns.TypeA, 0, func(res Result) {
		got = res
		done = true
	}))

	runUntil(t, r, func() bool { return done }, 2*time.Second)
	require.Error(t, got.Err)
}
