package ingest_test

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"encoding/base64"
	"os"
	"testing"

	_ "github.com/lib/pq"

	"github.com/trustweave/dag-hub/pkg/cache"
	"github.com/trustweave/dag-hub/pkg/canon"
	"github.com/trustweave/dag-hub/pkg/entity"
	"github.com/trustweave/dag-hub/pkg/ingest"
	"github.com/trustweave/dag-hub/pkg/lock"
	"github.com/trustweave/dag-hub/pkg/store"
	"github.com/trustweave/dag-hub/pkg/validate"
)

// These tests exercise the ingestion pipeline against a real Postgres
// instance (set HUB_TEST_DB) since *store.Store is not mockable behind
// an interface narrow enough for HandleJoint's full write path.

func newTestPipeline(t *testing.T) (*ingest.Pipeline, *store.Store) {
	connStr := os.Getenv("HUB_TEST_DB")
	if connStr == "" {
		t.Skip("test database not configured, set HUB_TEST_DB")
	}
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st := store.NewForTest(db)
	known, err := cache.NewKnownUnits(cache.NewMemDB())
	if err != nil {
		t.Fatalf("known units: %v", err)
	}
	v := validate.New(st, validate.Ed25519Verifier{})
	p := ingest.New(st, known, v, lock.NewWriter(), nil, nil)
	return p, st
}

func signedGenesisChild(t *testing.T, parent string) *entity.Unit {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	u := &entity.Unit{
		Version:     "4.0",
		Alt:         "1",
		ParentUnits: []string{parent},
		Authors: []entity.Author{{
			Address:    "ADDR1",
			Definition: &entity.Definition{Op: "sig", Args: []any{base64.StdEncoding.EncodeToString(pub)}},
		}},
		Messages: []entity.Message{{
			App:             "payment",
			PayloadLocation: entity.PayloadInline,
			Payment:         &entity.Payment{Outputs: []entity.Output{{Address: "ADDR2", Amount: 0}}},
		}},
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

func TestHandleJointBuffersOnMissingParent(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	u := signedGenesisChild(t, "NONEXISTENT-PARENT-UNIT-HASH-000000000001==")
	if err := p.HandleJoint(ctx, &entity.Joint{Unit: *u}, "peer1"); err != nil {
		t.Fatalf("expected buffering, not error: %v", err)
	}

	status, err := p.CheckNew(ctx, u.Unit_)
	if err != nil {
		t.Fatalf("CheckNew: %v", err)
	}
	if status != ingest.KnownUnverified {
		t.Fatalf("expected KnownUnverified, got %s", status)
	}
}
