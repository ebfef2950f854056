// Package hub implements the Hub Orchestrator (§4.K): it wires Joint
// Ingestion, the Ordering Engine, the Compositor and the Peer
// Transport together into one running node, answers peer requests,
// broadcasts stable-chain events, and drives the background sweeps
// that keep ingestion, peering and storage healthy for as long as the
// node runs.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trustweave/dag-hub/pkg/compose"
	"github.com/trustweave/dag-hub/pkg/config"
	"github.com/trustweave/dag-hub/pkg/entity"
	"github.com/trustweave/dag-hub/pkg/events"
	"github.com/trustweave/dag-hub/pkg/ingest"
	"github.com/trustweave/dag-hub/pkg/order"
	"github.com/trustweave/dag-hub/pkg/store"
	"github.com/trustweave/dag-hub/pkg/transport"
	"github.com/trustweave/dag-hub/pkg/witnessproof"
)

// Sweep cadences.
const (
	readySweepInterval    = 5 * time.Second
	lostJointInterval     = 8 * time.Second
	autoConnectInterval   = 30 * time.Second
	hashTreePurgeInterval = 60 * time.Second
	junkPurgeInterval     = 30 * time.Minute
	watchdogInterval      = 5 * time.Second

	// longTransactionThreshold is the watchdog's trigger point: a
	// joint-persistence lock held longer than this gets logged.
	longTransactionThreshold = 2 * time.Second
)

// Hub is one running node: the wiring point between ingestion,
// ordering, composition and the wire protocol.
type Hub struct {
	cfg       *config.Config
	store     *store.Store
	pipeline  *ingest.Pipeline
	order     *order.Engine
	composer  *compose.Composer
	bus       *events.Bus
	pool      *transport.Pool
	witnesses []string
	metrics   *Metrics
	log       *logrus.Entry

	mu          sync.RWMutex
	subscribers map[*transport.Conn]bool
}

// New builds a Hub. pool is created by the caller (so it can be handed
// to transport.NewServer/Dial before Hub exists) and then bound here
// with Hub as its Handler via Bind.
func New(cfg *config.Config, st *store.Store, pipeline *ingest.Pipeline, ord *order.Engine, composer *compose.Composer, bus *events.Bus, witnesses []string, reg MetricsRegisterer, log *logrus.Entry) *Hub {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Hub{
		cfg:         cfg,
		store:       st,
		pipeline:    pipeline,
		order:       ord,
		composer:    composer,
		bus:         bus,
		witnesses:   witnesses,
		metrics:     NewMetrics(reg),
		log:         log,
		subscribers: map[*transport.Conn]bool{},
	}
}

// Bind attaches a connection pool to the Hub; Hub implements
// transport.Handler so this pool's connections dispatch into it, and
// every newly registered connection gets an immediate version
// handshake via Greet.
func (h *Hub) Bind(pool *transport.Pool) {
	h.pool = pool
	pool.OnConnect = h.Greet
}

// Run starts the background sweeps and the stable-chain broadcaster,
// and blocks until ctx is cancelled, the way run_hub_server's
// goroutines live for the process lifetime.
func (h *Hub) Run(ctx context.Context) {
	var wg sync.WaitGroup
	sweeps := []struct {
		name     string
		interval time.Duration
		fn       func(context.Context)
	}{
		{"find_and_handle_joints_that_are_ready", readySweepInterval, h.sweepReady},
		{"re_request_lost_joints", lostJointInterval, h.reRequestLostJoints},
		{"auto_connection", autoConnectInterval, h.autoConnect},
		{"purge_handled_hash_tree_balls", hashTreePurgeInterval, h.purgeHashTreeBalls},
		{"purge_junk_unhandled_joints", junkPurgeInterval, h.purgeJunkJoints},
		{"watchdog", watchdogInterval, h.watchdog},
	}
	for _, sw := range sweeps {
		wg.Add(1)
		go func(name string, interval time.Duration, fn func(context.Context)) {
			defer wg.Done()
			h.runSweep(ctx, name, interval, fn)
		}(sw.name, sw.interval, sw.fn)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.watchStableMCI(ctx)
	}()

	<-ctx.Done()
	wg.Wait()
}

func (h *Hub) runSweep(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.log.WithField("sweep", name).Debug("running sweep")
			fn(ctx)
		}
	}
}

func (h *Hub) sweepReady(ctx context.Context) {
	if err := h.pipeline.SweepReady(ctx); err != nil {
		h.log.WithError(err).Warn("sweep ready joints")
	}
}

// reRequestLostJoints asks peers again for parents of buffered joints
// that have waited past ingest.LostJointTimeout, per §4.D.
func (h *Hub) reRequestLostJoints(ctx context.Context) {
	lost, err := h.pipeline.LostJoints(ctx, ingest.LostJointTimeout)
	if err != nil {
		h.log.WithError(err).Warn("list lost joints")
		return
	}
	for _, unit := range lost {
		conn, err := h.pool.NextOutbound()
		if err != nil {
			h.log.Debug("no outbound peers to re-request lost joint from")
			return
		}
		go h.requestJoint(ctx, conn, unit)
	}
}

func (h *Hub) requestJoint(ctx context.Context, conn *transport.Conn, unit string) {
	raw, err := conn.SendRequest(ctx, "get_joint", map[string]string{"unit": unit})
	if err != nil {
		h.log.WithField("unit", unit).WithError(err).Debug("re-request failed")
		return
	}
	var joint entity.Joint
	if err := json.Unmarshal(raw, &joint); err != nil {
		h.log.WithField("unit", unit).WithError(err).Warn("bad joint in re-request response")
		return
	}
	if err := h.pipeline.HandleJoint(ctx, &joint, conn.Peer); err != nil {
		h.log.WithField("unit", unit).WithError(err).Warn("re-requested joint rejected")
	}
}

// autoConnect dials configured peers only while the outbound pool is
// empty: once one outbound connection exists, the remaining URLs are
// skipped. It does not keep one connection per configured URL.
func (h *Hub) autoConnect(ctx context.Context) {
	for _, url := range h.cfg.RemoteHubURLs {
		if _, err := h.pool.NextOutbound(); err == nil {
			continue
		}
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := transport.Dial(dialCtx, h.pool, url, h.cfg.HeartbeatPeriodMS, h.log)
		cancel()
		if err != nil {
			h.log.WithField("peer", url).WithError(err).Warn("auto-connect failed")
			continue
		}
		h.metrics.PeersConnected.Inc()
	}
}

// purgeHashTreeBalls drops staged catch-up balls whose joints have
// since arrived normally. This store keeps no separate nonserial-joint
// table (sequence resolution happens inline in stabilizeMCI), so the
// hash-tree staging table is what actually accumulates matching junk
// here.
func (h *Hub) purgeHashTreeBalls(ctx context.Context) {
	if err := witnessproof.PurgeHandledBalls(ctx, h.store); err != nil {
		h.log.WithError(err).Warn("purge handled hash-tree balls")
	}
}

// watchdog logs, but does not act on, a joint-persistence lock held
// past longTransactionThreshold. It is a best-effort diagnostic signal
// only; it never cancels or interrupts the holder.
func (h *Hub) watchdog(ctx context.Context) {
	held := h.pipeline.WriterHeldFor()
	if held > longTransactionThreshold {
		h.log.WithField("held_for", held).Warn("joint-persistence lock held longer than expected")
	}
}

func (h *Hub) purgeJunkJoints(ctx context.Context) {
	n, err := h.store.PurgeJunkUnhandledJoints(ctx, junkPurgeInterval)
	if err != nil {
		h.log.WithError(err).Warn("purge junk unhandled joints")
		return
	}
	if n > 0 {
		h.log.WithField("count", n).Info("purged junk unhandled joints")
	}
}

// watchStableMCI broadcasts every newly stable main-chain index to
// subscribed peers, the Go analogue of
// notify_watchers_about_stable_joints.
func (h *Hub) watchStableMCI(ctx context.Context) {
	if h.bus == nil {
		return
	}
	ch := h.bus.Subscribe(events.MciStable)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			mci, ok := ev.Payload.(int64)
			if !ok {
				continue
			}
			h.metrics.StableMCI.Set(float64(mci))
			h.broadcastStableMCI(ctx, mci)
		}
	}
}

func (h *Hub) broadcastStableMCI(ctx context.Context, mci int64) {
	unit, err := h.store.MainChainUnitAt(ctx, mci)
	if err != nil {
		h.log.WithField("mci", mci).WithError(err).Debug("stable mci has no main chain unit yet")
		return
	}
	joint, err := h.store.GetJoint(ctx, unit)
	if err != nil {
		h.log.WithField("unit", unit).WithError(err).Warn("load stable joint for broadcast")
		return
	}
	h.mu.RLock()
	n := len(h.subscribers)
	h.mu.RUnlock()
	if n == 0 {
		return
	}
	h.broadcastJoint(joint)
}

func (h *Hub) broadcastJoint(j *entity.Joint) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.subscribers {
		if err := conn.SendJustsaying("joint", j); err != nil {
			h.log.WithField("peer", conn.Peer).WithError(err).Debug("broadcast to subscriber failed")
		}
	}
}

