package hub_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/lib/pq"

	"github.com/trustweave/dag-hub/pkg/canon"
	"github.com/trustweave/dag-hub/pkg/config"
	"github.com/trustweave/dag-hub/pkg/entity"
	"github.com/trustweave/dag-hub/pkg/hub"
	"github.com/trustweave/dag-hub/pkg/store"
	"github.com/trustweave/dag-hub/pkg/transport"
)

func newHarness(t *testing.T, st *store.Store) (*httptest.Server, *hub.Hub) {
	t.Helper()
	h := hub.New(config.Default(), st, nil, nil, nil, nil, nil, nil, nil)
	pool := transport.NewPool(h)
	h.Bind(pool)
	srv := transport.NewServer(pool, 0, nil)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	t.Cleanup(pool.CloseAll)
	return ts, h
}

func dial(t *testing.T, ts *httptest.Server) *transport.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	pool := transport.NewPool(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := transport.Dial(ctx, pool, url, 0, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestHeartbeatRequest(t *testing.T) {
	ts, _ := newHarness(t, nil)
	conn := dial(t, ts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	raw, err := conn.SendRequest(ctx, "heartbeat", nil)
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	var out map[string]string
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["status"] != "ok" {
		t.Fatalf("unexpected heartbeat response: %+v", out)
	}
}

func TestSubscribeRegistersConnection(t *testing.T) {
	ts, h := newHarness(t, nil)
	conn := dial(t, ts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	raw, err := conn.SendRequest(ctx, "subscribe", map[string]int64{"last_mci": 0})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	var out map[string]string
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["status"] != "subscribed" {
		t.Fatalf("unexpected subscribe response: %+v", out)
	}
	_ = h
}

func TestUnknownCommandErrors(t *testing.T) {
	ts, _ := newHarness(t, nil)
	conn := dial(t, ts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := conn.SendRequest(ctx, "not_a_real_command", nil); err == nil {
		t.Fatal("expected an error for an unknown command")
	}
}

func newTestStore(t *testing.T) *store.Store {
	connStr := os.Getenv("HUB_TEST_DB")
	if connStr == "" {
		t.Skip("test database not configured, set HUB_TEST_DB")
	}
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.NewForTest(db)
}

func TestGetJointRequestReturnsPersistedJoint(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	genesis := &entity.Unit{
		Version:               "4.0",
		Alt:                   "1",
		ParentUnits:           nil,
		WitnessListRef:        entity.WitnessListRef{Witnesses: make([]string, config.WitnessCount)},
		MainChainIndex:        0,
		LatestIncludedMCIndex: -1,
		IsOnMainChain:         true,
		IsFree:                false,
		IsStable:              true,
		Sequence:              entity.SequenceGood,
	}
	for i := range genesis.Witnesses {
		genesis.Witnesses[i] = "WITNESS"
	}
	genesis.Unit_ = canon.UnitHashString(genesis)
	if err := st.PutJoint(ctx, &entity.Joint{Unit: *genesis}); err != nil {
		t.Fatalf("put genesis joint: %v", err)
	}
	if err := st.SetBall(ctx, genesis.Unit_, entity.GenesisBall, nil); err != nil {
		t.Fatalf("set genesis ball: %v", err)
	}

	ts, _ := newHarness(t, st)
	conn := dial(t, ts)

	rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	raw, err := conn.SendRequest(rctx, "get_joint", map[string]string{"unit": genesis.Unit_})
	if err != nil {
		t.Fatalf("get_joint: %v", err)
	}
	var joint entity.Joint
	if err := json.Unmarshal(raw, &joint); err != nil {
		t.Fatalf("unmarshal joint: %v", err)
	}
	if joint.Unit.Unit_ != genesis.Unit_ {
		t.Fatalf("got unit %s, want %s", joint.Unit.Unit_, genesis.Unit_)
	}
}
