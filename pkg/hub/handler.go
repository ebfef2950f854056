package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/trustweave/dag-hub/pkg/config"
	"github.com/trustweave/dag-hub/pkg/entity"
	"github.com/trustweave/dag-hub/pkg/store"
	"github.com/trustweave/dag-hub/pkg/transport"
	"github.com/trustweave/dag-hub/pkg/witnessproof"
)

// versionBody is the payload of the "version" justsaying both ends
// exchange on connect.
type versionBody struct {
	ProtocolVersion string `json:"protocol_version"`
	Alt             string `json:"alt"`
}

// subscribeParams is what a peer sends to start receiving stable-joint
// broadcasts.
type subscribeParams struct {
	LastMCI int64 `json:"last_mci"`
}

// getJointParams asks for one unit's joint by hash.
type getJointParams struct {
	Unit string `json:"unit"`
}

// Greet sends the initial version handshake to conn; wired as
// pool.OnConnect so every new connection announces itself immediately.
func (h *Hub) Greet(conn *transport.Conn) {
	if err := conn.SendJustsaying("version", versionBody{ProtocolVersion: config.ProtocolVersion, Alt: config.Alt}); err != nil {
		h.log.WithField("peer", conn.Peer).WithError(err).Debug("send version")
	}
}

// OnJustsaying implements transport.Handler.
func (h *Hub) OnJustsaying(conn *transport.Conn, subject string, body json.RawMessage) {
	switch subject {
	case "version":
		h.handleVersion(conn, body)
	case "joint":
		h.handleJointJustsaying(conn, body)
	default:
		h.log.WithField("peer", conn.Peer).WithField("subject", subject).Debug("unhandled justsaying")
	}
}

func (h *Hub) handleVersion(conn *transport.Conn, body json.RawMessage) {
	var v versionBody
	if err := json.Unmarshal(body, &v); err != nil {
		h.log.WithField("peer", conn.Peer).WithError(err).Warn("bad version justsaying")
		conn.Close()
		return
	}
	if v.ProtocolVersion != config.ProtocolVersion || v.Alt != config.Alt {
		h.log.WithField("peer", conn.Peer).WithField("protocol_version", v.ProtocolVersion).Warn("incompatible peer, disconnecting")
		conn.Close()
	}
}

func (h *Hub) handleJointJustsaying(conn *transport.Conn, body json.RawMessage) {
	var joint entity.Joint
	if err := json.Unmarshal(body, &joint); err != nil {
		h.log.WithField("peer", conn.Peer).WithError(err).Warn("bad joint justsaying")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := h.pipeline.HandleJoint(ctx, &joint, conn.Peer); err != nil {
		h.metrics.JointsRejected.Inc()
		h.log.WithField("unit", joint.Unit.Unit_).WithError(err).Debug("rejected gossiped joint")
		return
	}
	h.metrics.JointsHandled.Inc()
	h.gossipExcept(&joint, conn)
}

// gossipExcept rebroadcasts a freshly accepted joint to every
// subscriber other than the one it arrived from.
func (h *Hub) gossipExcept(j *entity.Joint, from *transport.Conn) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.subscribers {
		if conn == from {
			continue
		}
		if err := conn.SendJustsaying("joint", j); err != nil {
			h.log.WithField("peer", conn.Peer).WithError(err).Debug("gossip failed")
		}
	}
}

// OnRequest implements transport.Handler.
func (h *Hub) OnRequest(ctx context.Context, conn *transport.Conn, command string, params json.RawMessage) (any, error) {
	switch command {
	case "heartbeat":
		return map[string]string{"status": "ok"}, nil
	case "subscribe":
		return h.handleSubscribe(conn, params)
	case "get_joint":
		return h.handleGetJoint(ctx, params)
	case "catchup":
		return h.handleCatchup(ctx, params)
	default:
		return nil, fmt.Errorf("hub: unknown command %q", command)
	}
}

func (h *Hub) handleSubscribe(conn *transport.Conn, params json.RawMessage) (any, error) {
	var p subscribeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("hub: bad subscribe params: %w", err)
		}
	}
	h.mu.Lock()
	h.subscribers[conn] = true
	h.mu.Unlock()
	h.log.WithField("peer", conn.Peer).WithField("last_mci", p.LastMCI).Info("peer subscribed")
	return map[string]string{"status": "subscribed"}, nil
}

func (h *Hub) handleGetJoint(ctx context.Context, params json.RawMessage) (any, error) {
	var p getJointParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("hub: bad get_joint params: %w", err)
	}
	joint, err := h.store.GetJoint(ctx, p.Unit)
	if err != nil {
		return nil, fmt.Errorf("hub: get_joint %s: %w", p.Unit, err)
	}
	return joint, nil
}

func (h *Hub) handleCatchup(ctx context.Context, params json.RawMessage) (any, error) {
	var req witnessproof.Request
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("hub: bad catchup params: %w", err)
	}
	chain, err := witnessproof.PrepareChain(ctx, h.store, req)
	if err != nil {
		if err == store.ErrCatchupAlreadyCurrent {
			return nil, err
		}
		return nil, fmt.Errorf("hub: prepare catchup chain: %w", err)
	}
	return chain, nil
}
