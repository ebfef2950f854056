package compose_test

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"encoding/base64"
	"os"
	"testing"

	_ "github.com/lib/pq"

	"github.com/trustweave/dag-hub/pkg/canon"
	"github.com/trustweave/dag-hub/pkg/compose"
	"github.com/trustweave/dag-hub/pkg/entity"
	"github.com/trustweave/dag-hub/pkg/store"
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

type keySigner struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

func (s keySigner) Definition(ctx context.Context, address string) (*entity.Definition, error) {
	return &entity.Definition{Op: "sig", Args: []any{base64.StdEncoding.EncodeToString(s.pub)}}, nil
}

func (s keySigner) Sign(ctx context.Context, address string, hash [32]byte) ([]byte, error) {
	return ed25519.Sign(s.priv, hash[:]), nil
}

func make12Witnesses() []string {
	w := make([]string, 12)
	for i := range w {
		w[i] = "WITNESS" + string(rune('A'+i))
	}
	return w
}

func TestComposePaysFromSpendableOutput(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	witnesses := make12Witnesses()

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	genesis := &entity.Unit{
		Version: "4.0",
		Alt:     "1",
		Authors: []entity.Author{{
			Address:    "ADDR1",
			Definition: &entity.Definition{Op: "sig", Args: []any{base64.StdEncoding.EncodeToString(pub)}},
		}},
		Messages: []entity.Message{{
			App:             "payment",
			PayloadLocation: entity.PayloadInline,
			Payment:         &entity.Payment{Outputs: []entity.Output{{Address: "ADDR1", Amount: 1000}}},
		}},
		WitnessListRef:        entity.WitnessListRef{Witnesses: witnesses},
		MainChainIndex:        -1,
		LatestIncludedMCIndex: -1,
		Sequence:              entity.SequenceGood,
	}
	hash := canon.SigningHash(genesis)
	sig := ed25519.Sign(priv, hash[:])
	genesis.Authors[0].Authentifiers = map[string]string{"r": base64.StdEncoding.EncodeToString(sig)}
	genesis.Unit_ = canon.UnitHashString(genesis)

	if err := st.PutJoint(ctx, &entity.Joint{Unit: *genesis}); err != nil {
		t.Fatalf("put genesis: %v", err)
	}
	if err := st.SetOrderingProps(ctx, &store.UnitProps{
		Unit:                  genesis.Unit_,
		WitnessListUnit:       genesis.Unit_,
		LatestIncludedMCIndex: -1,
		MainChainIndex:        0,
		IsOnMainChain:         true,
		IsFree:                true,
		IsStable:              true,
		Sequence:              entity.SequenceGood,
	}); err != nil {
		t.Fatalf("set props: %v", err)
	}
	if err := st.MarkOutputsUnique(ctx, []store.OutputRef{{Unit: genesis.Unit_, MessageIndex: 0, OutputIndex: 0}}); err != nil {
		t.Fatalf("mark outputs unique: %v", err)
	}
	if err := st.SetBall(ctx, genesis.Unit_, entity.GenesisBall, nil); err != nil {
		t.Fatalf("set ball: %v", err)
	}

	c := compose.New(st, witnesses, nil)
	joint, err := c.Compose(ctx, compose.Request{
		SigningAddresses: []string{"ADDR1"},
		PayingAddresses:  []string{"ADDR1"},
		Outputs:          []entity.Output{{Address: "ADDR2", Amount: 100}},
	}, keySigner{priv: priv, pub: pub})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if joint.Unit.LastBallUnit != genesis.Unit_ {
		t.Fatalf("expected last ball unit %s, got %s", genesis.Unit_, joint.Unit.LastBallUnit)
	}
	if len(joint.Unit.ParentUnits) == 0 || joint.Unit.ParentUnits[0] != genesis.Unit_ {
		t.Fatalf("expected genesis as parent, got %v", joint.Unit.ParentUnits)
	}
	var payment *entity.Payment
	for i := range joint.Unit.Messages {
		if joint.Unit.Messages[i].Payment != nil {
			payment = joint.Unit.Messages[i].Payment
		}
	}
	if payment == nil {
		t.Fatalf("expected a payment message")
	}
	var total int64
	for _, o := range payment.Outputs {
		total += o.Amount
	}
	if total != 1000 {
		t.Fatalf("expected outputs to total 1000 (100 payout + 900 change), got %d", total)
	}
}

func TestComposeIssuesNamedAssetWithNoExistingCoins(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	witnesses := make12Witnesses()

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	genesis := &entity.Unit{
		Version: "4.0",
		Alt:     "1",
		Authors: []entity.Author{{
			Address:    "ADDR1",
			Definition: &entity.Definition{Op: "sig", Args: []any{base64.StdEncoding.EncodeToString(pub)}},
		}},
		Messages: []entity.Message{{
			App:             "payment",
			PayloadLocation: entity.PayloadInline,
			Payment:         &entity.Payment{Outputs: []entity.Output{{Address: "ADDR1", Amount: 1000}}},
		}},
		WitnessListRef:        entity.WitnessListRef{Witnesses: witnesses},
		MainChainIndex:        -1,
		LatestIncludedMCIndex: -1,
		Sequence:              entity.SequenceGood,
	}
	hash := canon.SigningHash(genesis)
	sig := ed25519.Sign(priv, hash[:])
	genesis.Authors[0].Authentifiers = map[string]string{"r": base64.StdEncoding.EncodeToString(sig)}
	genesis.Unit_ = canon.UnitHashString(genesis)

	if err := st.PutJoint(ctx, &entity.Joint{Unit: *genesis}); err != nil {
		t.Fatalf("put genesis: %v", err)
	}
	if err := st.SetOrderingProps(ctx, &store.UnitProps{
		Unit:                  genesis.Unit_,
		WitnessListUnit:       genesis.Unit_,
		LatestIncludedMCIndex: -1,
		MainChainIndex:        0,
		IsOnMainChain:         true,
		IsFree:                true,
		IsStable:              true,
		Sequence:              entity.SequenceGood,
	}); err != nil {
		t.Fatalf("set props: %v", err)
	}
	if err := st.MarkOutputsUnique(ctx, []store.OutputRef{{Unit: genesis.Unit_, MessageIndex: 0, OutputIndex: 0}}); err != nil {
		t.Fatalf("mark outputs unique: %v", err)
	}
	if err := st.SetBall(ctx, genesis.Unit_, entity.GenesisBall, nil); err != nil {
		t.Fatalf("set ball: %v", err)
	}

	c := compose.New(st, witnesses, nil)
	joint, err := c.Compose(ctx, compose.Request{
		SigningAddresses: []string{"ADDR1"},
		PayingAddresses:  []string{"ADDR1"},
		Outputs:          []entity.Output{{Address: "ADDR2", Amount: 500, Asset: "FOO"}},
		Asset:            "FOO",
	}, keySigner{priv: priv, pub: pub})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}

	var payment *entity.Payment
	for i := range joint.Unit.Messages {
		if joint.Unit.Messages[i].Payment != nil {
			payment = joint.Unit.Messages[i].Payment
		}
	}
	if payment == nil {
		t.Fatalf("expected a payment message")
	}
	if len(payment.Inputs) != 1 || payment.Inputs[0].Kind != entity.InputIssue {
		t.Fatalf("expected a single issue input, got %+v", payment.Inputs)
	}
	if payment.Inputs[0].Amount != 500 {
		t.Fatalf("expected the issue input to mint exactly the shortfall, got %d", payment.Inputs[0].Amount)
	}
}
