package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server accepts inbound websocket connections and feeds them into a
// Pool.
type Server struct {
	Pool              *Pool
	HeartbeatPeriodMS uint32
	log               *logrus.Entry
}

func NewServer(pool *Pool, heartbeatPeriodMS uint32, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{Pool: pool, HeartbeatPeriodMS: heartbeatPeriodMS, log: log}
}

// ServeHTTP upgrades an HTTP request to a websocket and registers it as
// an inbound peer connection.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	c := newConn(ws, r.RemoteAddr, false, s.log)
	s.Pool.AddInbound(c, s.HeartbeatPeriodMS)
	s.log.WithField("peer", c.Peer).Info("inbound peer connected")
}

// Dial opens an outbound connection to a peer hub and registers it with
// pool.
func Dial(ctx context.Context, pool *Pool, url string, heartbeatPeriodMS uint32, log *logrus.Entry) (*Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c := newConn(ws, url, true, log)
	pool.AddOutbound(c, heartbeatPeriodMS)
	return c, nil
}
