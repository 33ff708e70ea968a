// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package client implements a DNS client service state machine:
// UDP-first queries with per-query retry and reply timeout, automatic
// fallback to TCP on a truncated (TC=1) response, and a doubly linked
// pending-request list for response correlation — grounded on the
// original `lib/dns-cli.c` state machine and, for the wire codec it
// drives, on `dns/wire` (github.com/miekg/dns).
package client

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"
	"github.com/hyung-hwan/hio-go/dns/wire"
	"github.com/hyung-hwan/hio-go/hio"
	"github.com/hyung-hwan/hio-go/hioerr"
	"github.com/hyung-hwan/hio-go/sockaddr"
	"github.com/hyung-hwan/hio-go/socket"
	"github.com/hyung-hwan/hio-go/timer"
)

// ReplyFunc delivers a raw matched reply, or an error (timeout, send
// failure, TCP disconnect) for a transaction submitted via Exchange.
type ReplyFunc func(msg *wire.Message, err error)

type pendingReq struct {
	id     uint16
	msg    *wire.Message
	tries  int
	timer  *timer.Job
	onDone ReplyFunc
	useTCP bool

	// span tags this transaction's start and completion log lines so
	// the two can be paired — distinct from id, which is the
	// wire-format 16-bit DNS transaction id (RFC 1035) and gets reused
	// once it wraps around; span never repeats for the client's
	// lifetime.
	span string

	prev, next *pendingReq
}

// Client is a reactor-integrated DNS client service.
type Client struct {
	reactor *hio.Hio
	server  sockaddr.Addr

	udp *socket.Socket
	tcp *socket.Socket

	tcpConnecting bool
	tcpBuf        []byte
	tcpWaiting    []*pendingReq

	sendTimeout, replyTimeout time.Duration
	maxTries                  int

	nextID uint16
	byID   map[uint16]*pendingReq
	head   *pendingReq
	tail   *pendingReq

	cookieKey [16]byte
}

// Start creates the client's UDP socket (of the server's address
// family), optionally binds it, and seeds the cookie key from the
// current time.
func Start(r *hio.Hio, server sockaddr.Addr, bindAddr *sockaddr.Addr, sendTimeout, replyTimeout time.Duration, maxTries int) (*Client, error) {
	typ := socket.UDP4
	if server.Family == sockaddr.FamilyInet6 {
		typ = socket.UDP6
	}

	c := &Client{
		reactor:     r,
		server:      server,
		sendTimeout: sendTimeout,
		replyTimeout: replyTimeout,
		maxTries:    maxTries,
		byID:        make(map[uint16]*pendingReq),
	}
	seedCookieKey(&c.cookieKey)

	udp, err := socket.New(r, typ, socket.Callbacks{OnData: c.onUDPData})
	if err != nil {
		return nil, err
	}
	if bindAddr != nil {
		if err := udp.Bind(*bindAddr, socket.BindOptions{}); err != nil {
			udp.Device().Halt()
			return nil, err
		}
	}
	c.udp = udp
	r.RegisterService(c)
	return c, nil
}

// Stop closes the UDP (and TCP, if open) socket and fails every pending
// request with CodeNoRsp. It does not remove the client from the
// reactor's stop chain, so closing the reactor calls Stop again; that
// second call finds nothing left to release.
func (c *Client) Stop() {
	for req := c.head; req != nil; {
		next := req.next
		c.fail(req, hioerr.New(hioerr.CodeNoRsp, "dns: client stopped"))
		req = next
	}
	if c.udp != nil {
		c.udp.Device().Halt()
		c.udp = nil
	}
	if c.tcp != nil {
		c.tcp.Device().Halt()
		c.tcp = nil
	}
}

// Exchange submits msg, assigning it the next monotonically
// increasing 16-bit id, and delivers the matched reply (or a terminal
// error) through onDone. preferTCP starts the transaction on TCP
// directly (used by Resolve for AXFR).
func (c *Client) Exchange(msg *wire.Message, onDone ReplyFunc, preferTCP bool) error {
	id := c.nextID
	c.nextID++
	msg.Id = id

	req := &pendingReq{id: id, msg: msg, onDone: onDone, span: uuid.NewString()}
	c.byID[id] = req
	c.link(req)
	c.reactor.Logf("dns: span=%s id=%d qname=%v start", req.span, id, msg.Question)

	if preferTCP {
		req.useTCP = true
		return c.tcpSend(req)
	}
	return c.udpSend(req)
}

func (c *Client) udpSend(req *pendingReq) error {
	body, err := wire.Encode(req.msg)
	if err != nil {
		c.fail(req, err)
		return err
	}
	if err := c.udp.Device().Write(body, nil, &c.server); err != nil {
		c.fail(req, err)
		return err
	}
	if c.maxTries > 0 {
		req.tries++
		req.timer = c.reactor.SchedAfter(c.replyTimeout, func(time.Time, *timer.Job) {
			c.onReplyTimeout(req)
		}, nil)
	}
	return nil
}

func (c *Client) onReplyTimeout(req *pendingReq) {
	req.timer = nil
	if req.tries < c.maxTries {
		_ = c.udpSend(req)
		return
	}
	c.fail(req, hioerr.New(hioerr.CodeTmout, "dns: reply timeout"))
}

func (c *Client) onUDPData(s *socket.Socket, data []byte, src *sockaddr.Addr) {
	if src == nil || !src.Equal(c.server) {
		return // reply from an address other than the configured server, dropped
	}
	msg, err := wire.Decode(data)
	if err != nil {
		c.reactor.Logf("dns: udp decode error: %v", err)
		return
	}
	req, ok := c.byID[msg.Id]
	if !ok {
		return
	}
	if msg.Truncated {
		c.cancelTimer(req)
		_ = c.tcpSend(req)
		return
	}
	c.complete(req, msg, nil)
}

// ---- UDP->TCP fallback ----

func (c *Client) ensureTCP() error {
	if c.tcp != nil {
		return nil
	}
	typ := socket.TCP4
	if c.server.Family == sockaddr.FamilyInet6 {
		typ = socket.TCP6
	}
	tcp, err := socket.New(c.reactor, typ, socket.Callbacks{
		OnData:       c.onTCPData,
		OnDisconnect: c.onTCPDisconnect,
		OnConnect:    c.onTCPConnect,
	})
	if err != nil {
		return err
	}
	if err := tcp.Connect(c.server, c.sendTimeout, nil); err != nil {
		tcp.Device().Halt()
		return err
	}
	c.tcpConnecting = true
	c.tcp = tcp
	return nil
}

func (c *Client) tcpSend(req *pendingReq) error {
	req.useTCP = true
	if err := c.ensureTCP(); err != nil {
		c.fail(req, err)
		return err
	}
	if c.tcpConnecting {
		c.tcpWaiting = append(c.tcpWaiting, req)
		return nil
	}
	return c.tcpSendFramed(req)
}

func (c *Client) tcpSendFramed(req *pendingReq) error {
	framed, err := wire.EncodeTCP(req.msg)
	if err != nil {
		c.fail(req, err)
		return err
	}
	if err := c.tcp.Device().Write(framed, nil, nil); err != nil {
		c.fail(req, err)
		return err
	}
	if c.maxTries > 0 {
		req.timer = c.reactor.SchedAfter(c.replyTimeout, func(time.Time, *timer.Job) {
			req.timer = nil
			c.fail(req, hioerr.New(hioerr.CodeTmout, "dns: tcp reply timeout"))
		}, nil)
	}
	return nil
}

func (c *Client) onTCPConnect(s *socket.Socket) {
	c.tcpConnecting = false
	waiting := c.tcpWaiting
	c.tcpWaiting = nil
	for _, req := range waiting {
		_ = c.tcpSendFramed(req)
	}
}

// onTCPData maintains the per-socket rolling buffer needed to
// assemble complete, 2-byte-length-prefixed messages
// across partial reads, and matches responses by id only (the socket
// is already the server, so no peer check is needed).
func (c *Client) onTCPData(s *socket.Socket, data []byte, src *sockaddr.Addr) {
	c.tcpBuf = append(c.tcpBuf, data...)
	for {
		if len(c.tcpBuf) < 2 {
			return
		}
		n := int(binary.BigEndian.Uint16(c.tcpBuf[:2]))
		if len(c.tcpBuf) < 2+n {
			return
		}
		body := c.tcpBuf[2 : 2+n]
		rest := make([]byte, len(c.tcpBuf)-(2+n))
		copy(rest, c.tcpBuf[2+n:])
		c.tcpBuf = rest

		msg, err := wire.Decode(body)
		if err != nil {
			c.reactor.Logf("dns: tcp decode error: %v", err)
			continue
		}
		req, ok := c.byID[msg.Id]
		if !ok || !req.useTCP {
			continue
		}
		c.complete(req, msg, nil)
	}
}

func (c *Client) onTCPDisconnect(s *socket.Socket) {
	c.tcp = nil
	c.tcpConnecting = false
	c.tcpBuf = nil
	for req := c.head; req != nil; {
		next := req.next
		if req.useTCP {
			c.fail(req, hioerr.New(hioerr.CodeNoRsp, "dns: tcp disconnected"))
		}
		req = next
	}
}

// ---- pending-request list bookkeeping ----

func (c *Client) link(req *pendingReq) {
	if c.tail == nil {
		c.head, c.tail = req, req
		return
	}
	req.prev = c.tail
	c.tail.next = req
	c.tail = req
}

func (c *Client) unlink(req *pendingReq) {
	if req.prev != nil {
		req.prev.next = req.next
	} else {
		c.head = req.next
	}
	if req.next != nil {
		req.next.prev = req.prev
	} else {
		c.tail = req.prev
	}
	req.prev, req.next = nil, nil
}

func (c *Client) cancelTimer(req *pendingReq) {
	if req.timer != nil {
		c.reactor.DelTimer(req.timer)
		req.timer = nil
	}
}

func (c *Client) complete(req *pendingReq, msg *wire.Message, err error) {
	c.cancelTimer(req)
	c.unlink(req)
	delete(c.byID, req.id)
	c.reactor.Logf("dns: span=%s id=%d done err=%v", req.span, req.id, err)
	if req.onDone != nil {
		req.onDone(msg, err)
	}
}

func (c *Client) fail(req *pendingReq, err error) {
	c.complete(req, nil, err)
}
