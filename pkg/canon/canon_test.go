package canon

import (
	"testing"

	"github.com/trustweave/dag-hub/pkg/entity"
)

func TestEncodeSortsKeysAndOmitsNulls(t *testing.T) {
	a := Encode(map[string]any{"b": "2", "a": "1", "c": nil})
	b := Encode(map[string]any{"a": "1", "c": nil, "b": "2"})
	if string(a) != string(b) {
		t.Fatalf("encoding must be independent of map iteration order")
	}
	if string(a[:2]) != "{s" {
		t.Fatalf("expected sorted-key object to start with tagged string key, got %q", a[:4])
	}
}

func TestSizeTaggedUnits(t *testing.T) {
	if Size(true) != 1 {
		t.Fatalf("bool size should be 1")
	}
	if Size(int64(5)) != 8 {
		t.Fatalf("number size should be 8")
	}
	if Size("héllo") != 5 {
		t.Fatalf("string size should count unicode code points, got %d", Size("héllo"))
	}
}

func TestUnitHashDeterministic(t *testing.T) {
	u := &entity.Unit{
		Version: "1.0",
		Alt:     "1",
		Authors: []entity.Author{{Address: "ADDR1"}, {Address: "ADDR2"}},
		ParentUnits: []string{"P1", "P2"},
		WitnessListRef: entity.WitnessListRef{Witnesses: []string{"W1"}},
	}
	h1 := UnitHashString(u)
	h2 := UnitHashString(u)
	if h1 != h2 {
		t.Fatalf("unit hash must be stable across calls")
	}

	u2 := *u
	u2.ParentUnits = []string{"P2", "P1"} // different order => different hash
	if UnitHashString(&u2) == h1 {
		t.Fatalf("parent order must affect the unit hash (ordered set)")
	}
}

func TestSigningHashIgnoresAuthentifiersOnceSet(t *testing.T) {
	u := &entity.Unit{
		Version: "1.0",
		Alt:     "1",
		Authors: []entity.Author{{
			Address:    "ADDR1",
			Definition: &entity.Definition{Op: "sig", Args: []any{"PUBKEY"}},
		}},
		ParentUnits: []string{"P1"},
	}
	before := SigningHash(u)
	u.Authors[0].Authentifiers = map[string]string{"r": "some-signature"}
	after := SigningHash(u)
	if before != after {
		t.Fatalf("signing hash must not change once authentifiers are filled in, or a unit couldn't be verified against the hash it was signed over")
	}
}

func TestUnitHashReflectsContentHash(t *testing.T) {
	u := &entity.Unit{
		Version:     "1.0",
		Alt:         "1",
		Authors:     []entity.Author{{Address: "ADDR1"}},
		ParentUnits: []string{"P1"},
	}
	base := UnitHashString(u)

	u2 := *u
	u2.Messages = []entity.Message{{App: "text", PayloadLocation: entity.PayloadInline, PayloadHash: "H"}}
	withMessage := UnitHashString(&u2)
	if withMessage == base {
		t.Fatalf("adding a message must change the unit hash via content_hash")
	}

	// content_hash is derived, never trusted from the wire: a forged
	// ContentHash field must not change what UnitHash computes.
	u3 := u2
	u3.ContentHash = "forged"
	if UnitHashString(&u3) != withMessage {
		t.Fatalf("UnitHash must recompute content_hash itself, not trust u.ContentHash")
	}
}

func TestRoundTripSizesMatchManualCount(t *testing.T) {
	u := &entity.Unit{
		Version:     "1.0",
		Alt:         "1",
		Authors:     []entity.Author{{Address: "ADDR1"}},
		ParentUnits: []string{"P1"},
		WitnessListRef: entity.WitnessListRef{Witnesses: []string{"W1"}},
		Messages: []entity.Message{
			{App: "payment", PayloadLocation: entity.PayloadInline, PayloadHash: "H",
				Payment: &entity.Payment{Outputs: []entity.Output{{Address: "A", Amount: 100}}}},
		},
	}
	if HeadersCommissionSize(u) == 0 {
		t.Fatalf("headers commission size should be > 0")
	}
	if PayloadCommissionSize(u) == 0 {
		t.Fatalf("payload commission size should be > 0")
	}
}
