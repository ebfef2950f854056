package commission_test

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"encoding/base64"
	"os"
	"testing"

	_ "github.com/lib/pq"

	"github.com/trustweave/dag-hub/pkg/canon"
	"github.com/trustweave/dag-hub/pkg/commission"
	"github.com/trustweave/dag-hub/pkg/entity"
	"github.com/trustweave/dag-hub/pkg/store"
)

// As with pkg/order's tests, these run against a real Postgres instance
// (set HUB_TEST_DB): *store.Store is not mockable behind a narrow
// interface for the full ingestion+ordering+commission write path.

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

func signedUnit(t *testing.T, parents []string, witnesses []string, witnessListUnit string, headersCommission uint64) *entity.Unit {
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
	u.HeadersCommission = headersCommission
	return u
}

// A parent unit's headers commission is earned by whichever child wins
// the SHA-1 tie-break once children are persisted; the full fee amount
// must land on that child's author.
func TestDistributeHeadersCommissionPaysSingleWinner(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	comm := commission.New(st, nil)

	parent := signedUnit(t, nil, nil, "", 0)
	if err := st.PutJoint(ctx, &entity.Joint{Unit: *parent}); err != nil {
		t.Fatalf("put parent: %v", err)
	}
	if err := st.SetOrderingProps(ctx, &store.UnitProps{
		Unit:                  parent.Unit_,
		WitnessListUnit:       parent.Unit_,
		LatestIncludedMCIndex: -1,
		MainChainIndex:        3,
		IsOnMainChain:         true,
		Sequence:              entity.SequenceGood,
		HeadersCommission:     600,
	}); err != nil {
		t.Fatalf("set parent props: %v", err)
	}

	childA := signedUnit(t, []string{parent.Unit_}, nil, parent.Unit_, 0)
	if err := st.PutJoint(ctx, &entity.Joint{Unit: *childA}); err != nil {
		t.Fatalf("put child a: %v", err)
	}
	childB := signedUnit(t, []string{parent.Unit_}, nil, parent.Unit_, 0)
	if err := st.PutJoint(ctx, &entity.Joint{Unit: *childB}); err != nil {
		t.Fatalf("put child b: %v", err)
	}

	if err := comm.OnMCIStabilized(ctx, 3); err != nil {
		t.Fatalf("on mci stabilized: %v", err)
	}

	total, err := st.SumHeadersCommissionOutputs(ctx, 3)
	if err != nil {
		t.Fatalf("sum headers commission outputs: %v", err)
	}
	if total != 600 {
		t.Fatalf("expected 600 distributed, got %d", total)
	}
}
