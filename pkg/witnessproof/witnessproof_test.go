package witnessproof_test

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
	"github.com/trustweave/dag-hub/pkg/store"
	"github.com/trustweave/dag-hub/pkg/witnessproof"
)

// As with the other packages touching *store.Store, this runs against a
// real Postgres instance (set HUB_TEST_DB).

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

func make12Witnesses() []string {
	w := make([]string, 12)
	for i := range w {
		w[i] = "WITNESS" + string(rune('A'+i))
	}
	return w
}

// witnessAuthoredUnit builds a unit authored by a single given address
// (a witness, for these tests), parented on the given parents and
// anchored on lastBallUnit.
func witnessAuthoredUnit(t *testing.T, author string, parents []string, lastBallUnit string, witnesses []string) *entity.Unit {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	u := &entity.Unit{
		Version:     "4.0",
		Alt:         "1",
		ParentUnits: parents,
		Authors: []entity.Author{{
			Address:    author,
			Definition: &entity.Definition{Op: "sig", Args: []any{base64.StdEncoding.EncodeToString(pub)}},
		}},
		Messages: []entity.Message{{
			App:             "payment",
			PayloadLocation: entity.PayloadInline,
			Payment:         &entity.Payment{Outputs: []entity.Output{{Address: "ADDR2", Amount: 1}}},
		}},
		WitnessListRef:        entity.WitnessListRef{Witnesses: witnesses},
		LastBallUnit:          lastBallUnit,
		MainChainIndex:        -1,
		LatestIncludedMCIndex: -1,
		Sequence:              entity.SequenceGood,
	}
	hash := canon.SigningHash(u)
	sig := ed25519.Sign(priv, hash[:])
	u.Authors[0].Authentifiers = map[string]string{"r": base64.StdEncoding.EncodeToString(sig)}
	u.Unit_ = canon.UnitHashString(u)
	return u
}

// seedUnstableMainChain persists a stable genesis (with a ball) plus a
// run of unstable main-chain units, each authored by one of the first
// seven witnesses and anchored on genesis's ball, enough to cross the
// supermajority threshold a witness proof needs.
func seedUnstableMainChain(t *testing.T, st *store.Store, witnesses []string) *entity.Unit {
	ctx := context.Background()

	genesis := witnessAuthoredUnit(t, witnesses[0], nil, "", witnesses)
	if err := st.PutJoint(ctx, &entity.Joint{Unit: *genesis}); err != nil {
		t.Fatalf("put genesis: %v", err)
	}
	if err := st.SetOrderingProps(ctx, &store.UnitProps{
		Unit:            genesis.Unit_,
		WitnessListUnit: genesis.Unit_,
		MainChainIndex:  0,
		IsOnMainChain:   true,
		IsStable:        true,
		Sequence:        entity.SequenceGood,
	}); err != nil {
		t.Fatalf("set genesis props: %v", err)
	}
	if err := st.SetBall(ctx, genesis.Unit_, entity.GenesisBall, nil); err != nil {
		t.Fatalf("set genesis ball: %v", err)
	}

	parent := genesis.Unit_
	for i := 0; i < 7; i++ {
		child := witnessAuthoredUnit(t, witnesses[i], []string{parent}, genesis.Unit_, witnesses)
		if err := st.PutJoint(ctx, &entity.Joint{Unit: *child}); err != nil {
			t.Fatalf("put child %d: %v", i, err)
		}
		if err := st.SetOrderingProps(ctx, &store.UnitProps{
			Unit:            child.Unit_,
			WitnessListUnit: genesis.Unit_,
			MainChainIndex:  int64(i + 1),
			IsOnMainChain:   true,
			IsStable:        false,
			Sequence:        entity.SequenceGood,
		}); err != nil {
			t.Fatalf("set child %d props: %v", i, err)
		}
		parent = child.Unit_
	}
	return genesis
}

func TestPrepareFindsLastBallOnceWitnessesCrossSupermajority(t *testing.T) {
	st := newTestStore(t)
	witnesses := make12Witnesses()
	genesis := seedUnstableMainChain(t, st, witnesses)

	proof, err := witnessproof.Prepare(context.Background(), st, witnesses, -1)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if proof.LastBallUnit != genesis.Unit_ {
		t.Fatalf("expected last ball unit %s, got %s", genesis.Unit_, proof.LastBallUnit)
	}
	if proof.LastBallMCI != 0 {
		t.Fatalf("expected last ball mci 0, got %d", proof.LastBallMCI)
	}
	if len(proof.UnstableMCJoints) != 7 {
		t.Fatalf("expected 7 unstable mc joints, got %d", len(proof.UnstableMCJoints))
	}
}

func TestPrepareRejectsAlreadyCurrentPeer(t *testing.T) {
	st := newTestStore(t)
	witnesses := make12Witnesses()
	seedUnstableMainChain(t, st, witnesses)

	_, err := witnessproof.Prepare(context.Background(), st, witnesses, 0)
	if err != store.ErrCatchupAlreadyCurrent {
		t.Fatalf("expected ErrCatchupAlreadyCurrent, got %v", err)
	}
}

func TestPrepareChainWalksBackToGenesis(t *testing.T) {
	st := newTestStore(t)
	witnesses := make12Witnesses()
	genesis := seedUnstableMainChain(t, st, witnesses)

	chain, err := witnessproof.PrepareChain(context.Background(), st, witnessproof.Request{
		LastStableMCI: -1,
		LastKnownMCI:  -1,
		Witnesses:     witnesses,
	})
	if err != nil {
		t.Fatalf("prepare chain: %v", err)
	}
	if len(chain.StableLastBallJoints) != 1 || chain.StableLastBallJoints[0].Unit.Unit_ != genesis.Unit_ {
		t.Fatalf("expected the chain to bottom out at genesis, got %+v", chain.StableLastBallJoints)
	}
}
