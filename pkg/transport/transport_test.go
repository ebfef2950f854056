package transport

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type echoHandler struct {
	justsayings chan string
}

func (h *echoHandler) OnJustsaying(conn *Conn, subject string, body json.RawMessage) {
	if h.justsayings != nil {
		h.justsayings <- subject
	}
}

func (h *echoHandler) OnRequest(ctx context.Context, conn *Conn, command string, params json.RawMessage) (any, error) {
	if command == "heartbeat" {
		return map[string]string{"status": "ok"}, nil
	}
	return map[string]string{"echo": command}, nil
}

func newTestServer(t *testing.T, handler Handler) (*httptest.Server, *Pool) {
	t.Helper()
	pool := NewPool(handler)
	srv := NewServer(pool, 0, nil)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	t.Cleanup(pool.CloseAll)
	return ts, pool
}

func dialTestServer(t *testing.T, ts *httptest.Server, pool *Pool) *Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := Dial(ctx, pool, url, 0, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestServerAcceptsInboundAndEchoesRequest(t *testing.T) {
	handler := &echoHandler{}
	ts, serverPool := newTestServer(t, handler)
	clientPool := NewPool(handler)
	conn := dialTestServer(t, ts, clientPool)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := conn.SendRequest(ctx, "version", map[string]string{"protocol_version": "4.0"})
	if err != nil {
		t.Fatalf("send request: %v", err)
	}
	var out map[string]string
	if err := json.Unmarshal(resp, &out); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if out["echo"] != "version" {
		t.Fatalf("unexpected echo response: %+v", out)
	}

	if _, err := serverPool.NextInbound(); err != nil {
		t.Fatalf("expected an inbound connection registered: %v", err)
	}
}

func TestServerDispatchesJustsaying(t *testing.T) {
	handler := &echoHandler{justsayings: make(chan string, 1)}
	ts, _ := newTestServer(t, handler)
	clientPool := NewPool(&echoHandler{})
	conn := dialTestServer(t, ts, clientPool)

	if err := conn.SendJustsaying("new_joint", map[string]string{"unit": "abc"}); err != nil {
		t.Fatalf("send justsaying: %v", err)
	}

	select {
	case subject := <-handler.justsayings:
		if subject != "new_joint" {
			t.Fatalf("unexpected subject %q", subject)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for justsaying dispatch")
	}
}

func TestPoolRoundRobin(t *testing.T) {
	pool := NewPool(&echoHandler{})
	if _, err := pool.NextOutbound(); err == nil {
		t.Fatal("expected error with no outbound connections")
	}

	c1 := &Conn{Peer: "a", closed: make(chan struct{})}
	c2 := &Conn{Peer: "b", closed: make(chan struct{})}
	pool.outbound = []*Conn{c1, c2}

	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		c, err := pool.NextOutbound()
		if err != nil {
			t.Fatalf("next outbound: %v", err)
		}
		seen[c.Peer] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Fatalf("round robin did not visit both connections: %+v", seen)
	}
}

func TestPoolRemoveOnClose(t *testing.T) {
	handler := &echoHandler{}
	ts, serverPool := newTestServer(t, handler)
	clientPool := NewPool(handler)
	conn := dialTestServer(t, ts, clientPool)

	if _, err := clientPool.NextOutbound(); err != nil {
		t.Fatalf("expected outbound registered: %v", err)
	}

	conn.Close()
	time.Sleep(100 * time.Millisecond)

	if _, err := clientPool.NextOutbound(); err == nil {
		t.Fatal("expected outbound pool to be empty after close")
	}
	_ = serverPool
}
