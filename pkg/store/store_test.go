package store

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"

	"github.com/trustweave/dag-hub/pkg/entity"
)

// Test database connection string (use test database or skip).
var testDB *sql.DB

func TestMain(m *testing.M) {
	connStr := os.Getenv("HUB_TEST_DB")
	if connStr == "" {
		os.Exit(0)
	}
	var err error
	testDB, err = sql.Open("postgres", connStr)
	if err != nil {
		panic("failed to connect to test database: " + err.Error())
	}
	code := m.Run()
	testDB.Close()
	os.Exit(code)
}

func newTestStore(t *testing.T) *Store {
	if testDB == nil {
		t.Skip("test database not configured, set HUB_TEST_DB")
	}
	client := &Client{db: testDB}
	return New(client)
}

func TestPutAndGetJoint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := entity.Unit{
		Unit_:       "TESTUNIT0000000000000000000000000000000001==",
		Version:     "4.0",
		Alt:         "1",
		ParentUnits: []string{},
		Authors:     []entity.Author{{Address: "ADDR1"}},
		Messages: []entity.Message{{
			App:             "payment",
			PayloadLocation: entity.PayloadInline,
			Payment: &entity.Payment{
				Outputs: []entity.Output{{Address: "ADDR2", Amount: 100}},
			},
		}},
		MainChainIndex:        -1,
		LatestIncludedMCIndex: -1,
		IsFree:                true,
		Sequence:              entity.SequenceGood,
	}

	if err := s.PutJoint(ctx, &entity.Joint{Unit: u}); err != nil {
		t.Fatalf("PutJoint: %v", err)
	}

	got, err := s.GetJoint(ctx, u.Unit_)
	if err != nil {
		t.Fatalf("GetJoint: %v", err)
	}
	if got.Unit.Unit_ != u.Unit_ {
		t.Fatalf("round trip mismatch: got %s want %s", got.Unit.Unit_, u.Unit_)
	}

	props, err := s.GetProps(ctx, u.Unit_)
	if err != nil {
		t.Fatalf("GetProps: %v", err)
	}
	if !props.IsFree {
		t.Fatalf("expected is_free=true")
	}
	if props.MainChainIndex != -1 {
		t.Fatalf("expected main_chain_index=-1, got %d", props.MainChainIndex)
	}
}
