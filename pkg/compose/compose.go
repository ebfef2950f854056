// Package compose implements the Compositor of §4.H: given a
// high-level send intent (addresses, outputs, messages), build, sign,
// and hash a complete joint ready for ingestion.
package compose

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trustweave/dag-hub/pkg/canon"
	"github.com/trustweave/dag-hub/pkg/config"
	"github.com/trustweave/dag-hub/pkg/entity"
	"github.com/trustweave/dag-hub/pkg/store"
)

// Signer supplies, for a given address, the Definition to attach (nil
// once the definition is already known to peers and doesn't need
// repeating) and signatures over a unit's signing hash. Definition is
// resolved and attached to the unit before SigningHash runs, mirroring
// the original's early definition assignment, so the definition the
// peer receives is exactly the one the signature was computed over.
type Signer interface {
	Definition(ctx context.Context, address string) (*entity.Definition, error)
	Sign(ctx context.Context, address string, hash [32]byte) (signature []byte, err error)
}

// Request is the caller's intent: pay Outputs from PayingAddresses,
// signed by SigningAddresses, optionally carrying extra Messages.
type Request struct {
	SigningAddresses []string
	PayingAddresses  []string
	Outputs          []entity.Output
	Messages         []entity.Message
	Asset            string
	IsPrivate        bool
}

// Composer builds joints per §4.H.
type Composer struct {
	store     *store.Store
	witnesses []string
	log       *logrus.Entry
}

func New(st *store.Store, witnesses []string, log *logrus.Entry) *Composer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Composer{store: st, witnesses: witnesses, log: log}
}

// Compose runs the ten-step build process of §4.H and returns a
// signed, hashed joint ready for HandleJoint.
func (c *Composer) Compose(ctx context.Context, req Request, signer Signer) (*entity.Joint, error) {
	// 1. Parent selection.
	parents, err := c.pickParentUnits(ctx)
	if err != nil {
		return nil, fmt.Errorf("compose: pick parent units: %w", err)
	}

	// 2. Last stable ball.
	lastBallUnit, lastBall, lastBallMCI, err := c.findLastStableMCBall(ctx)
	if err != nil {
		return nil, fmt.Errorf("compose: find last stable mc ball: %w", err)
	}

	// 3. Witness-list-unit resolution (explicit reference to a
	// witness-declaring ancestor, not a fresh explicit list, for any
	// unit after the genesis-declaring one).
	witnessListUnit, err := c.store.FindWitnessListUnit(ctx, c.witnesses, lastBallMCI)
	if err != nil && err != store.ErrWitnessListNotFound {
		return nil, fmt.Errorf("compose: find witness list unit: %w", err)
	}

	multiAuthored := len(req.SigningAddresses) > 1

	// 4. Coin selection for the requested outputs.
	requiredAmount := int64(0)
	for _, o := range req.Outputs {
		requiredAmount += o.Amount
	}
	inputs, sources, inputTotal, err := c.pickCoins(ctx, req, requiredAmount, lastBallMCI, multiAuthored)
	if err != nil {
		return nil, err
	}

	// 5. Change output, if the picked inputs overpay.
	outputs := append([]entity.Output{}, req.Outputs...)
	if change := inputTotal - requiredAmount; change > 0 {
		outputs = append(outputs, entity.Output{Address: req.PayingAddresses[0], Amount: change, Asset: req.Asset})
	}

	// 6. Deterministic output ordering (by address then amount, the
	// canonical encoder's input to commission sizing and the wire form
	// peers re-derive the same hash from).
	sort.Slice(outputs, func(i, j int) bool {
		if outputs[i].Address != outputs[j].Address {
			return outputs[i].Address < outputs[j].Address
		}
		return outputs[i].Amount < outputs[j].Amount
	})

	authors := make([]entity.Author, 0, len(req.SigningAddresses))
	for _, addr := range req.SigningAddresses {
		authors = append(authors, entity.Author{Address: addr})
	}

	// A private message proves what each InputTransfer actually spends
	// without putting the spent unit/message/output on the public
	// record: each gets a spend proof hashed over the source output's
	// own identity plus a blinding factor known only to sender and
	// recipient (§9).
	var spendProofs []entity.SpendProof
	if req.IsPrivate && req.Asset != "" {
		spendProofs, err = c.spendProofsFor(inputs, sources, req.Asset)
		if err != nil {
			return nil, fmt.Errorf("compose: spend proofs: %w", err)
		}
	}

	messages := append([]entity.Message{}, req.Messages...)
	messages = append(messages, entity.Message{
		App:             "payment",
		PayloadLocation: entity.PayloadInline,
		Payment: &entity.Payment{
			Asset:   req.Asset,
			Inputs:  inputs,
			Outputs: outputs,
		},
		SpendProofs: spendProofs,
	})

	u := &entity.Unit{
		Version:     "4.0",
		Alt:         "1",
		Authors:     authors,
		Messages:    messages,
		ParentUnits: parents,
		WitnessListRef: entity.WitnessListRef{
			WitnessListUnit: witnessListUnit,
		},
		LastBall:              lastBall,
		LastBallUnit:          lastBallUnit,
		MainChainIndex:        -1,
		LatestIncludedMCIndex: -1,
		IsFree:                true,
		Sequence:              entity.SequenceGood,
		Timestamp:             time.Now().Unix(),
	}

	// 7. Resolve each author's definition before anything is hashed: the
	// signing hash covers the definition, so it must already be in place
	// by the time SigningHash runs, not filled in afterward.
	for i := range u.Authors {
		def, err := signer.Definition(ctx, u.Authors[i].Address)
		if err != nil {
			return nil, fmt.Errorf("compose: definition for %s: %w", u.Authors[i].Address, err)
		}
		u.Authors[i].Definition = def
	}

	// 8. Commission sizing (§4.A): what this unit will itself owe once
	// consumed as a parent / once its payload is read.
	u.HeadersCommission = canon.HeadersCommissionSize(u)
	u.PayloadCommission = canon.PayloadCommissionSize(u)

	// 9. Sign: every author's authentifier is a signature over the
	// naked-unit hash, which never includes authentifiers themselves.
	hash := canon.SigningHash(u)
	for i := range u.Authors {
		sig, err := signer.Sign(ctx, u.Authors[i].Address, hash)
		if err != nil {
			return nil, fmt.Errorf("compose: sign as %s: %w", u.Authors[i].Address, err)
		}
		u.Authors[i].Authentifiers = map[string]string{"r": base64.StdEncoding.EncodeToString(sig)}
	}

	// 10. Content-addressed identity. ContentHash is populated for the
	// wire form; UnitHashString recomputes it independently rather than
	// trusting the field back, so this assignment only affects what
	// peers see, not what Unit_ binds to.
	u.ContentHash = canon.ContentHashString(u)
	u.Unit_ = canon.UnitHashString(u)

	return &entity.Joint{Unit: *u}, nil
}

// spendProofsFor builds one entity.SpendProof per InputTransfer, in
// input order, hashing each over the source output it spends rather
// than anything about the unit being composed -- that's what lets the
// recipient later verify the proof against the public DAG.
func (c *Composer) spendProofsFor(inputs []entity.Input, sources []store.SpendableOutput, asset string) ([]entity.SpendProof, error) {
	var proofs []entity.SpendProof
	for i, in := range inputs {
		if in.Kind != entity.InputTransfer {
			continue
		}
		src := sources[i]
		blinding, err := randomBlinding()
		if err != nil {
			return nil, err
		}
		hash := canon.SpendProofHashString(asset, src.Amount, src.Address, src.Unit, src.MessageIndex, src.OutputIndex, blinding)
		proofs = append(proofs, entity.SpendProof{SpendProof: hash, Address: src.Address, Blinding: blinding})
	}
	return proofs, nil
}

func randomBlinding() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("compose: generate blinding factor: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// pickParentUnits returns up to MaxParentsPerUnit free, good-sequence
// units whose resolved witness list shares at least
// WitnessCount-MaxWitnessListMutations (11) of our own witnesses. Falls back to any single free unit when none qualify
// closely enough.
func (c *Composer) pickParentUnits(ctx context.Context) ([]string, error) {
	free, err := c.store.ListFreeUnits(ctx)
	if err != nil {
		return nil, err
	}
	required := config.WitnessCount - config.MaxWitnessListMutations
	ourWitnesses := make(map[string]bool, len(c.witnesses))
	for _, w := range c.witnesses {
		ourWitnesses[w] = true
	}

	var qualifying []string
	for _, u := range free {
		props, err := c.store.GetProps(ctx, u)
		if err != nil {
			return nil, err
		}
		if props.Sequence != entity.SequenceGood {
			continue
		}
		list, err := c.store.WitnessList(ctx, u)
		if err != nil {
			continue
		}
		matches := 0
		for _, w := range list {
			if ourWitnesses[w] {
				matches++
			}
		}
		if matches >= required {
			qualifying = append(qualifying, u)
		}
	}
	sort.Strings(qualifying)
	if len(qualifying) == 0 {
		if len(free) == 0 {
			return nil, fmt.Errorf("no free units to parent from")
		}
		sort.Strings(free)
		return free[:1], nil
	}
	if len(qualifying) > config.MaxParentsPerUnit {
		qualifying = qualifying[:config.MaxParentsPerUnit]
	}
	return qualifying, nil
}

// findLastStableMCBall returns the unit, ball hash, and mci of the
// last-stable main-chain unit, the "last ball" every new unit anchors
// to (§3).
func (c *Composer) findLastStableMCBall(ctx context.Context) (unit, ball string, mci int64, err error) {
	mci, err = c.store.LastStableMCI(ctx)
	if err != nil {
		return "", "", 0, err
	}
	unit, err = c.store.MainChainUnitAt(ctx, mci)
	if err != nil {
		return "", "", 0, err
	}
	ball, err = c.store.GetBallForUnit(ctx, unit)
	if err != nil {
		return "", "", 0, err
	}
	return unit, ball, mci, nil
}
