// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Command t06 is a multi-reactor runner: a master reactor binds the
// listening sockets and a Dispatcher spreads
// accepted connections across N worker reactors, each running its own
// goroutine. Grounded on bin/t06.c for the CLI surface and
// examples/reactor_echo/ for the plain net-listener-then-reactor shape
// and [prefix] log style.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hyung-hwan/hio-go/dispatch"
	"github.com/hyung-hwan/hio-go/hio"
	"github.com/hyung-hwan/hio-go/sockaddr"
	"github.com/hyung-hwan/hio-go/socket"
)

const (
	minWorkers     = 1
	maxWorkers     = 256
	defaultWorkers = 2
	listenPort     = 9987
)

func main() {
	os.Exit(run())
}

func run() int {
	sctpStream := flag.Bool("s", false, "use SCTP stream sockets instead of TCP")
	sctpSeq := flag.Bool("ss", false, "use SCTP one-to-many seqpacket sockets instead of TCP")
	workers := flag.Int("t", defaultWorkers, "number of worker reactors (1..256)")
	flag.Parse()

	if *workers < minWorkers || *workers > maxWorkers {
		fmt.Fprintf(os.Stderr, "[t06] -t must be between %d and %d\n", minWorkers, maxWorkers)
		return -1
	}

	typ4, typ6 := socket.TCP4, socket.TCP6
	if *sctpStream {
		typ4, typ6 = socket.SCTP4, socket.SCTP6
	} else if *sctpSeq {
		typ4, typ6 = socket.SCTP4SP, socket.SCTP6SP
	}

	signal.Ignore(syscall.SIGPIPE)

	masterReactor, err := hio.Open(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[t06] reactor open failed: %v\n", err)
		return -1
	}
	defer masterReactor.Close()

	pool, err := newWorkerPool(*workers, typ4)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[t06] worker pool start failed: %v\n", err)
		return -1
	}
	defer pool.stop()

	d := dispatch.New(masterReactor, pool.workers, 10*time.Millisecond)

	bound := 0
	if ln, err := bindListener(masterReactor, typ6, sockaddr.Addr{Family: sockaddr.FamilyInet6, IP: nil}, listenPort, d); err != nil {
		fmt.Fprintf(os.Stderr, "[t06] [::]:%d bind failed: %v\n", listenPort, err)
	} else {
		fmt.Printf("[t06] listening on [::]:%d\n", listenPort)
		_ = ln
		bound++
	}
	if ln, err := bindListener(masterReactor, typ4, sockaddr.Addr{Family: sockaddr.FamilyInet4, IP: []byte{0, 0, 0, 0}}, listenPort, d); err != nil {
		fmt.Fprintf(os.Stderr, "[t06] 0.0.0.0:%d bind failed: %v\n", listenPort, err)
	} else {
		fmt.Printf("[t06] listening on 0.0.0.0:%d\n", listenPort)
		_ = ln
		bound++
	}
	if bound == 0 {
		fmt.Fprintln(os.Stderr, "[t06] no TCP listener could be bound")
		return -1
	}

	if ln, err := bindUnixListener(masterReactor, "@t06.sck", d); err != nil {
		fmt.Fprintf(os.Stderr, "[t06] @t06.sck bind failed, continuing without it: %v\n", err)
	} else {
		fmt.Println("[t06] listening on @t06.sck")
		_ = ln
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	stop := make(chan struct{})
	go func() {
		<-sigCh
		fmt.Println("[t06] SIGINT received, shutting down")
		close(stop)
	}()

	for {
		select {
		case <-stop:
			return 0
		default:
			if !masterReactor.RunOnce() {
				time.Sleep(time.Millisecond)
			}
		}
	}
}

func bindListener(r *hio.Hio, typ socket.Type, addr sockaddr.Addr, port uint16, d *dispatch.Dispatcher) (*socket.Socket, error) {
	ln, err := socket.New(r, typ, socket.Callbacks{OnRawAccept: d.OnRawAccept})
	if err != nil {
		return nil, err
	}
	addr.Port = port
	if err := ln.Bind(addr, socket.BindOptions{ReuseAddr: true}); err != nil {
		ln.Device().Halt()
		return nil, err
	}
	if err := ln.Listen(128, 0); err != nil {
		ln.Device().Halt()
		return nil, err
	}
	return ln, nil
}

func bindUnixListener(r *hio.Hio, path string, d *dispatch.Dispatcher) (*socket.Socket, error) {
	ln, err := socket.New(r, socket.Unix, socket.Callbacks{OnRawAccept: d.OnRawAccept})
	if err != nil {
		return nil, err
	}
	// a leading '@' denotes a Linux abstract-namespace name, which the
	// kernel maps to a NUL-prefixed path, not an on-disk socket file.
	unixPath := path
	if len(unixPath) > 0 && unixPath[0] == '@' {
		unixPath = "\x00" + unixPath[1:]
	}
	if err := ln.Bind(sockaddr.Addr{Family: sockaddr.FamilyUnix, Path: unixPath}, socket.BindOptions{}); err != nil {
		ln.Device().Halt()
		return nil, err
	}
	if err := ln.Listen(128, 0); err != nil {
		ln.Device().Halt()
		return nil, err
	}
	return ln, nil
}

// workerPool runs N worker reactors, each on its own goroutine,
// echoing every byte received back to its sender — the reference
// runner's application logic, standing in for a real protocol service.
type workerPool struct {
	reactors []*hio.Hio
	workers  []*dispatch.Worker
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func newWorkerPool(n int, typ socket.Type) (*workerPool, error) {
	p := &workerPool{stopCh: make(chan struct{})}
	for i := 0; i < n; i++ {
		r, err := hio.Open(nil)
		if err != nil {
			p.stop()
			return nil, err
		}
		p.reactors = append(p.reactors, r)

		w := dispatch.NewWorker(r, typ, socket.Callbacks{
			OnData: echoOnData,
		}, 64)
		w.StartDraining(2 * time.Millisecond)
		p.workers = append(p.workers, w)

		p.wg.Add(1)
		go p.run(r)
	}
	return p, nil
}

func (p *workerPool) run(r *hio.Hio) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		default:
			if !r.RunOnce() {
				time.Sleep(time.Millisecond)
			}
		}
	}
}

func (p *workerPool) stop() {
	close(p.stopCh)
	p.wg.Wait()
	for _, r := range p.reactors {
		r.Close()
	}
}

func echoOnData(s *socket.Socket, data []byte, src *sockaddr.Addr) {
	cp := make([]byte, len(data))
	copy(cp, data)
	_ = s.Device().Write(cp, nil, src)
}
