package core

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// testBroker is a minimal in-process server speaking the text protocol with
// exact-match subjects. It is enough to drive Conn end to end.
type testBroker struct {
	t    *testing.T
	ln   net.Listener
	info string

	mu    sync.Mutex
	subs  []brokerSub
	conns []*brokerConn
}

type brokerSub struct {
	subject string
	sid     string
	conn    *brokerConn
}

type brokerConn struct {
	net.Conn
	mu sync.Mutex
}

func (c *brokerConn) send(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	io.WriteString(c.Conn, s)
}

func newTestBroker(t *testing.T, info string) *testBroker {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	b := &testBroker{t: t, ln: ln, info: info}
	go b.acceptLoop()
	t.Cleanup(b.close)
	return b
}

func (b *testBroker) port() int {
	return b.ln.Addr().(*net.TCPAddr).Port
}

func (b *testBroker) close() {
	b.ln.Close()
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.conns {
		c.Close()
	}
}

func (b *testBroker) acceptLoop() {
	for {
		c, err := b.ln.Accept()
		if err != nil {
			return
		}
		bc := &brokerConn{Conn: c}
		b.mu.Lock()
		b.conns = append(b.conns, bc)
		b.mu.Unlock()
		go b.serve(bc)
	}
}

// waitSubs blocks until at least n subscriptions are registered.
func (b *testBroker) waitSubs(n int) {
	b.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		b.mu.Lock()
		got := len(b.subs)
		b.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	b.t.Fatalf("timed out waiting for %d subscriptions", n)
}

func (b *testBroker) serve(c *brokerConn) {
	c.send("INFO " + b.info + "\r\n")
	r := bufio.NewReader(c)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		op, args, _ := strings.Cut(line, " ")
		switch op {
		case "SUB":
			f := strings.Fields(args)
			b.mu.Lock()
			b.subs = append(b.subs, brokerSub{subject: f[0], sid: f[len(f)-1], conn: c})
			b.mu.Unlock()
		case "UNSUB":
			f := strings.Fields(args)
			b.mu.Lock()
			kept := b.subs[:0]
			for _, s := range b.subs {
				if s.conn != c || s.sid != f[0] {
					kept = append(kept, s)
				}
			}
			b.subs = kept
			b.mu.Unlock()
		case "PUB":
			f := strings.Fields(args)
			size, _ := strconv.Atoi(f[len(f)-1])
			payload := make([]byte, size+2)
			if _, err := io.ReadFull(r, payload); err != nil {
				return
			}
			reply := ""
			if len(f) == 3 {
				reply = f[1]
			}
			b.route(f[0], reply, payload[:size])
		case "PING":
			c.send("PONG\r\n")
		}
	}
}

func (b *testBroker) route(subject, reply string, payload []byte) {
	b.mu.Lock()
	var targets []brokerSub
	for _, s := range b.subs {
		if s.subject == subject {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		var hdr string
		if reply != "" {
			hdr = fmt.Sprintf("MSG %s %s %s %d\r\n", subject, s.sid, reply, len(payload))
		} else {
			hdr = fmt.Sprintf("MSG %s %s %d\r\n", subject, s.sid, len(payload))
		}
		s.conn.send(hdr + string(payload) + "\r\n")
	}
}

// scriptedServer accepts one connection and hands it to fn.
func scriptedServer(t *testing.T, fn func(c net.Conn, r *bufio.Reader)) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		fn(c, bufio.NewReader(c))
	}()
	return ln.Addr().(*net.TCPAddr).Port
}
