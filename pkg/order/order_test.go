package order_test

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"encoding/base64"
	"os"
	"testing"

	_ "github.com/lib/pq"

	"github.com/trustweave/dag-hub/pkg/canon"
	"github.com/trustweave/dag-hub/pkg/entity"
	"github.com/trustweave/dag-hub/pkg/order"
	"github.com/trustweave/dag-hub/pkg/store"
)

// Like pkg/ingest's tests, these exercise the ordering engine against a
// real Postgres instance (set HUB_TEST_DB) since *store.Store is not
// mockable behind an interface narrow enough for the full write path.

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

func signedUnit(t *testing.T, parents []string, witnesses []string, witnessListUnit string) *entity.Unit {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	u := &entity.Unit{
		Version:     "4.0",
		Alt:         "1",
		ParentUnits: parents,
		Authors: []entity.Author{{
			Address:    "ADDR-" + base64.StdEncoding.EncodeToString(pub)[:8],
			Definition: &entity.Definition{Op: "sig", Args: []any{base64.StdEncoding.EncodeToString(pub)}},
		}},
		Messages: []entity.Message{{
			App:             "payment",
			PayloadLocation: entity.PayloadInline,
			Payment:         &entity.Payment{Outputs: []entity.Output{{Address: "ADDR2", Amount: 100}}},
		}},
		WitnessListRef: entity.WitnessListRef{
			Witnesses:       witnesses,
			WitnessListUnit: witnessListUnit,
		},
		MainChainIndex:        -1,
		LatestIncludedMCIndex: -1,
		IsFree:                true,
		Sequence:              entity.SequenceGood,
	}
	hash := canon.SigningHash(u)
	sig := ed25519.Sign(priv, hash[:])
	u.Authors[0].Authentifiers = map[string]string{"r": base64.StdEncoding.EncodeToString(sig)}
	u.Unit_ = canon.UnitHashString(u)
	return u
}

func TestOnUnitAddedSeedsGenesis(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	e := order.New(st, nil, nil, nil, nil)

	genesis := signedUnit(t, nil, make12Witnesses(), "")
	if err := st.PutJoint(ctx, &entity.Joint{Unit: *genesis}); err != nil {
		t.Fatalf("put joint: %v", err)
	}
	if err := e.OnUnitAdded(ctx, genesis.Unit_); err != nil {
		t.Fatalf("on unit added: %v", err)
	}

	props, err := st.GetProps(ctx, genesis.Unit_)
	if err != nil {
		t.Fatalf("get props: %v", err)
	}
	if props.Level != 0 || props.MainChainIndex != 0 || !props.IsOnMainChain || !props.IsStable {
		t.Fatalf("unexpected genesis props: %+v", props)
	}
}

func TestOnUnitAddedAssignsLevelAndMainChain(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	e := order.New(st, nil, nil, nil, nil)

	witnesses := make12Witnesses()
	genesis := signedUnit(t, nil, witnesses, "")
	if err := st.PutJoint(ctx, &entity.Joint{Unit: *genesis}); err != nil {
		t.Fatalf("put genesis: %v", err)
	}
	if err := e.OnUnitAdded(ctx, genesis.Unit_); err != nil {
		t.Fatalf("on unit added genesis: %v", err)
	}

	child := signedUnit(t, []string{genesis.Unit_}, nil, genesis.Unit_)
	if err := st.PutJoint(ctx, &entity.Joint{Unit: *child}); err != nil {
		t.Fatalf("put child: %v", err)
	}
	if err := e.OnUnitAdded(ctx, child.Unit_); err != nil {
		t.Fatalf("on unit added child: %v", err)
	}

	props, err := st.GetProps(ctx, child.Unit_)
	if err != nil {
		t.Fatalf("get props: %v", err)
	}
	if props.Level != 1 {
		t.Fatalf("expected level 1, got %d", props.Level)
	}
	if props.BestParentUnit != genesis.Unit_ {
		t.Fatalf("expected best parent %s, got %s", genesis.Unit_, props.BestParentUnit)
	}
	if !props.IsOnMainChain || props.MainChainIndex != 1 {
		t.Fatalf("expected child on main chain at index 1, got on_mc=%v mci=%d", props.IsOnMainChain, props.MainChainIndex)
	}
}

func make12Witnesses() []string {
	w := make([]string, 12)
	for i := range w {
		w[i] = "WITNESS" + string(rune('A'+i))
	}
	return w
}
