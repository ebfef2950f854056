package transport

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Pool tracks a hub's inbound and outbound connections and hands out
// the next one round-robin.
type Pool struct {
	mu           sync.RWMutex
	inbound      []*Conn
	outbound     []*Conn
	nextInbound  atomic.Uint64
	nextOutbound atomic.Uint64
	handler      Handler

	// OnConnect, if set, runs once per newly registered connection
	// (inbound or outbound) after its read loop and heartbeat start --
	// the hook a Handler uses to send the initial "version" justsaying.
	OnConnect func(*Conn)
}

func NewPool(handler Handler) *Pool {
	return &Pool{handler: handler}
}

// AddInbound registers a freshly-accepted connection and starts its
// read loop and heartbeat.
func (p *Pool) AddInbound(c *Conn, heartbeatPeriodMS uint32) {
	p.mu.Lock()
	p.inbound = append(p.inbound, c)
	p.mu.Unlock()
	go c.readLoop(p.handler)
	c.startHeartbeat(heartbeatPeriodMS)
	go p.watchClose(c)
	if p.OnConnect != nil {
		p.OnConnect(c)
	}
}

// AddOutbound registers a connection this node dialed out.
func (p *Pool) AddOutbound(c *Conn, heartbeatPeriodMS uint32) {
	p.mu.Lock()
	p.outbound = append(p.outbound, c)
	p.mu.Unlock()
	go c.readLoop(p.handler)
	c.startHeartbeat(heartbeatPeriodMS)
	go p.watchClose(c)
	if p.OnConnect != nil {
		p.OnConnect(c)
	}
}

func (p *Pool) watchClose(c *Conn) {
	<-c.closed
	p.Remove(c)
}

// Remove drops a closed connection from whichever pool holds it.
func (p *Pool) Remove(c *Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inbound = removeConn(p.inbound, c)
	p.outbound = removeConn(p.outbound, c)
}

func removeConn(conns []*Conn, target *Conn) []*Conn {
	for i, c := range conns {
		if c == target {
			return append(conns[:i], conns[i+1:]...)
		}
	}
	return conns
}

// NextInbound returns the next inbound connection round-robin.
func (p *Pool) NextInbound() (*Conn, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.inbound) == 0 {
		return nil, fmt.Errorf("transport: no inbound connections")
	}
	idx := p.nextInbound.Add(1) % uint64(len(p.inbound))
	return p.inbound[idx], nil
}

// NextOutbound returns the next outbound connection round-robin, the
// pool a hub draws from when it needs to ask a peer something (such as
// re-requesting a lost joint) without a specific target in mind.
func (p *Pool) NextOutbound() (*Conn, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.outbound) == 0 {
		return nil, fmt.Errorf("transport: no outbound connections")
	}
	idx := p.nextOutbound.Add(1) % uint64(len(p.outbound))
	return p.outbound[idx], nil
}

// Broadcast sends a justsaying to every connection in both pools, the
// joint/ball propagation path.
func (p *Pool) Broadcast(subject string, body any) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, c := range p.inbound {
		if err := c.SendJustsaying(subject, body); err != nil {
			c.log.WithError(err).Debug("broadcast to inbound peer failed")
		}
	}
	for _, c := range p.outbound {
		if err := c.SendJustsaying(subject, body); err != nil {
			c.log.WithError(err).Debug("broadcast to outbound peer failed")
		}
	}
}

// CloseAll tears down every tracked connection.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.inbound {
		c.Close()
	}
	for _, c := range p.outbound {
		c.Close()
	}
	p.inbound = nil
	p.outbound = nil
}
