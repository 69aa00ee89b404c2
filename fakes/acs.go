// Package fakes hosts an in-process SIP2 automation server for tests. It
// listens on a loopback port, splits inbound frames on the carriage
// return and answers through a pluggable Responder, which keeps protocol
// edge cases (fragmented writes, pipelined responses, bad checksums,
// swallowed requests) one option away.
package fakes

import (
	"bytes"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sip2gate/sip2gate/sip2"
)

// Request is one frame received by the fake ACS.
type Request struct {
	Frame string // without the carriage return
	Code  string
	Seq   int // -1 when the frame carried no AY
}

// Reply is one frame written back. Non-raw replies are sealed with the
// request's sequence number and a valid checksum.
type Reply struct {
	Body string
	Raw  bool
}

// Responder maps a request to the replies written for it. Returning nil
// swallows the request.
type Responder func(req Request) []Reply

type ACS struct {
	t  testing.TB
	ln net.Listener

	mu        sync.Mutex
	responder Responder
	conns     map[net.Conn]struct{}
	requests  []Request
	accepted  int
	chunk     int
	delay     time.Duration
	closed    bool
}

type ACSOption func(a *ACS)

// WithResponder replaces the default scripted responder.
func WithResponder(r Responder) ACSOption {
	return func(a *ACS) { a.responder = r }
}

// WithChunkedWrites splits every response into n-byte writes with a short
// pause between them.
func WithChunkedWrites(n int) ACSOption {
	return func(a *ACS) { a.chunk = n }
}

// WithResponseDelay pauses before answering each request.
func WithResponseDelay(d time.Duration) ACSOption {
	return func(a *ACS) { a.delay = d }
}

// NewACS starts a fake ACS on a loopback port and registers its shutdown
// with the test.
func NewACS(t testing.TB, opts ...ACSOption) *ACS {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	a := &ACS{
		t:         t,
		ln:        ln,
		conns:     map[net.Conn]struct{}{},
		responder: StandardResponder(),
	}
	for _, o := range opts {
		o(a)
	}
	go a.acceptLoop()
	t.Cleanup(a.Close)
	return a
}

func (a *ACS) Host() string {
	host, _, _ := net.SplitHostPort(a.ln.Addr().String())
	return host
}

func (a *ACS) Port() int {
	return a.ln.Addr().(*net.TCPAddr).Port
}

// SetResponder swaps the responder for frames received from now on.
func (a *ACS) SetResponder(r Responder) {
	a.mu.Lock()
	a.responder = r
	a.mu.Unlock()
}

// Requests returns a copy of every frame received so far.
func (a *ACS) Requests() []Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Request, len(a.requests))
	copy(out, a.requests)
	return out
}

// Accepted counts connections accepted since start.
func (a *ACS) Accepted() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.accepted
}

// WaitRequests blocks until n frames arrived or the timeout passes.
func (a *ACS) WaitRequests(n int, timeout time.Duration) []Request {
	deadline := time.Now().Add(timeout)
	for {
		reqs := a.Requests()
		if len(reqs) >= n {
			return reqs
		}
		if time.Now().After(deadline) {
			a.t.Fatalf("timed out waiting for %d requests, have %d", n, len(reqs))
			return nil
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// DropConns closes every live connection, simulating an LMS crash. The
// listener keeps accepting.
func (a *ACS) DropConns() {
	a.mu.Lock()
	conns := make([]net.Conn, 0, len(a.conns))
	for c := range a.conns {
		conns = append(conns, c)
	}
	a.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

// Close stops the listener and drops every connection. Safe to call twice.
func (a *ACS) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()
	a.ln.Close()
	a.DropConns()
}

func (a *ACS) acceptLoop() {
	for {
		conn, err := a.ln.Accept()
		if err != nil {
			return
		}
		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			conn.Close()
			return
		}
		a.conns[conn] = struct{}{}
		a.accepted++
		a.mu.Unlock()
		go a.serve(conn)
	}
}

func (a *ACS) serve(conn net.Conn) {
	defer func() {
		a.mu.Lock()
		delete(a.conns, conn)
		a.mu.Unlock()
		conn.Close()
	}()

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 2048)
	for {
		n, err := conn.Read(tmp)
		if err != nil {
			return
		}
		buf = append(buf, tmp[:n]...)
		for {
			i := bytes.IndexByte(buf, '\r')
			if i < 0 {
				break
			}
			frame := strings.TrimSpace(string(buf[:i]))
			buf = buf[i+1:]
			if frame == "" {
				continue
			}
			a.handle(conn, frame)
		}
	}
}

func (a *ACS) handle(conn net.Conn, frame string) {
	req := Request{Frame: frame, Seq: -1}
	if len(frame) >= 2 {
		req.Code = frame[:2]
	}
	if seq, ok := sip2.ExtractSequence(frame); ok {
		req.Seq = seq
	}

	a.mu.Lock()
	a.requests = append(a.requests, req)
	responder := a.responder
	chunk := a.chunk
	delay := a.delay
	a.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	replies := responder(req)
	if len(replies) == 0 {
		return
	}

	// All replies for one request go out together so tests can cover
	// pipelined delivery.
	var out []byte
	for _, r := range replies {
		out = append(out, sealReply(r, req.Seq)...)
	}
	if chunk <= 0 {
		conn.Write(out)
		return
	}
	for len(out) > 0 {
		n := chunk
		if n > len(out) {
			n = len(out)
		}
		conn.Write(out[:n])
		out = out[n:]
		time.Sleep(time.Millisecond)
	}
}

func sealReply(r Reply, seq int) []byte {
	if r.Raw {
		return []byte(r.Body)
	}
	s := seq
	if s < 0 {
		s = 0
	}
	sealed, err := sip2.AppendTrailer(r.Body, s)
	if err != nil {
		return []byte(r.Body + "\r")
	}
	return []byte(sealed)
}
