package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

)

// defaultHeartbeatPeriodMS mirrors config.Default()'s HeartbeatPeriodMS,
// used when a caller starts a connection without a configured period.
const defaultHeartbeatPeriodMS = 3500

// Handler reacts to inbound justsayings and requests. Implementations
// must not block the read loop for long; OnRequest's result is sent
// back as the matching response envelope.
type Handler interface {
	OnJustsaying(conn *Conn, subject string, body json.RawMessage)
	OnRequest(ctx context.Context, conn *Conn, command string, params json.RawMessage) (any, error)
}

// Conn wraps one websocket connection, handling the justsaying/request/
// response envelope dance and outstanding-request bookkeeping. Safe for
// concurrent use.
type Conn struct {
	Peer      string
	Outbound  bool
	ws        *websocket.Conn
	writeMu   sync.Mutex
	pendingMu sync.Mutex
	pending   map[string]chan *Envelope
	lastRecv  atomic.Int64 // unix nanos
	closeOnce sync.Once
	closed    chan struct{}
	log       *logrus.Entry
}

func newConn(ws *websocket.Conn, peer string, outbound bool, log *logrus.Entry) *Conn {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	c := &Conn{
		Peer:     peer,
		Outbound: outbound,
		ws:       ws,
		pending:  make(map[string]chan *Envelope),
		closed:   make(chan struct{}),
		log:      log.WithField("peer", peer),
	}
	c.lastRecv.Store(time.Now().UnixNano())
	return c
}

// Close shuts the underlying socket down; idempotent.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.ws.Close()
	})
}

func (c *Conn) write(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

// SendJustsaying fires a one-way message; body is marshaled to JSON,
// or passed through as-is if it's already a json.RawMessage.
func (c *Conn) SendJustsaying(subject string, body any) error {
	b, err := encodeJustsaying(subject, body)
	if err != nil {
		return err
	}
	return c.write(b)
}

// SendRequest sends a request and blocks for the matching response (or
// ctx's deadline), per spec §4.J's request/response correlation by tag.
func (c *Conn) SendRequest(ctx context.Context, command string, params any) (json.RawMessage, error) {
	tag := uuid.NewString()
	ch := make(chan *Envelope, 1)
	c.pendingMu.Lock()
	c.pending[tag] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, tag)
		c.pendingMu.Unlock()
	}()

	b, err := encodeRequest(command, tag, params)
	if err != nil {
		return nil, err
	}
	if err := c.write(b); err != nil {
		return nil, fmt.Errorf("transport: send request %s: %w", command, err)
	}

	select {
	case env := <-ch:
		if env.Error != "" {
			return nil, fmt.Errorf("transport: peer error for %s: %s", command, env.Error)
		}
		return env.Response, nil
	case <-c.closed:
		return nil, fmt.Errorf("transport: connection to %s closed while awaiting %s", c.Peer, command)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) sendResponse(tag string, result any, resultErr error) {
	b, err := encodeResponse(tag, result, resultErr)
	if err != nil {
		c.log.WithError(err).Error("encode response")
		return
	}
	if err := c.write(b); err != nil {
		c.log.WithError(err).Warn("send response")
	}
}

// readLoop drains incoming frames until the socket closes, dispatching
// justsayings/requests to handler and routing responses back to the
// SendRequest caller that's waiting on them. Runs on its own goroutine.
func (c *Conn) readLoop(handler Handler) {
	defer c.Close()
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.log.WithError(err).Debug("read loop exiting")
			return
		}
		c.lastRecv.Store(time.Now().UnixNano())

		env, err := decodeEnvelope(raw)
		if err != nil {
			c.log.WithError(err).Warn("bad frame")
			continue
		}
		switch env.Kind {
		case KindJustsaying:
			handler.OnJustsaying(c, env.Subject, env.Body)
		case KindRequest:
			go func(env *Envelope) {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				result, err := handler.OnRequest(ctx, c, env.Command, env.Params)
				c.sendResponse(env.Tag, result, err)
			}(env)
		case KindResponse:
			c.pendingMu.Lock()
			ch, ok := c.pending[env.Tag]
			c.pendingMu.Unlock()
			if ok {
				ch <- env
			}
		}
	}
}

// startHeartbeat runs on a jittered interval: skip if a message was
// received recently, otherwise probe with a heartbeat request and close
// the connection if it fails.
func (c *Conn) startHeartbeat(periodMS uint32) {
	if periodMS == 0 {
		periodMS = defaultHeartbeatPeriodMS
	}
	jitter := time.Duration(rand.Intn(1000)) * time.Millisecond
	go func() {
		ticker := time.NewTicker(time.Duration(periodMS)*time.Millisecond + jitter)
		defer ticker.Stop()
		for {
			select {
			case <-c.closed:
				return
			case <-ticker.C:
				if time.Since(time.Unix(0, c.lastRecv.Load())) < 5*time.Second {
					continue
				}
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_, err := c.SendRequest(ctx, "heartbeat", nil)
				cancel()
				if err != nil {
					c.log.WithError(err).Info("heartbeat failed, closing")
					c.Close()
					return
				}
			}
		}
	}()
}
