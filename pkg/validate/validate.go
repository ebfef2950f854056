// Package validate implements the Validator of §4.E: an ordered chain
// of structural, signature, conservation and asset checks run against a
// freshly-parsed joint before it is handed to the store.
package validate

import (
	"context"
	"fmt"

	"github.com/trustweave/dag-hub/pkg/canon"
	"github.com/trustweave/dag-hub/pkg/config"
	"github.com/trustweave/dag-hub/pkg/entity"
	"github.com/trustweave/dag-hub/pkg/store"
)

// Ledger is the slice of the Entity Store the validator reads:
// store.Reader plus output-spent, issued-serial and commission-range
// lookups. An interface rather than *store.Store so unit tests can stub
// it with an in-memory fake.
type Ledger interface {
	store.Reader
	IsOutputSpent(ctx context.Context, ref store.OutputRef) (bool, error)
	IsSerialNumberIssued(ctx context.Context, asset string, serialNumber uint64) (bool, error)
	SumHeadersCommissionForAddressRange(ctx context.Context, address string, fromMCI, toMCI uint64) (int64, error)
	SumWitnessingForAddressRange(ctx context.Context, address string, fromMCI, toMCI uint64) (int64, error)
}

// Validator runs the §4.E check chain.
type Validator struct {
	ledger   Ledger
	verifier Verifier
}

// New builds a Validator over ledger, defaulting to the ed25519
// verifier.
func New(ledger Ledger, verifier Verifier) *Validator {
	if verifier == nil {
		verifier = Ed25519Verifier{}
	}
	return &Validator{ledger: ledger, verifier: verifier}
}

// Validate runs every check in order, first failure wins, per §4.E.
func (v *Validator) Validate(ctx context.Context, j *entity.Joint) error {
	u := &j.Unit

	if err := v.checkUnitHash(u); err != nil {
		return err
	}
	if err := v.checkHashLength(u); err != nil {
		return err
	}
	missing, err := v.missingParents(ctx, u)
	if err != nil {
		return fmt.Errorf("validate: check parents: %w", err)
	}
	if len(missing) > 0 {
		return &NeedParentUnits{Units: missing}
	}
	if err := v.checkSignatures(u); err != nil {
		return err
	}
	if err := v.checkWitnessNoReferences(u); err != nil {
		return err
	}
	totalIn, err := v.checkInputsUnspent(ctx, u)
	if err != nil {
		return err
	}
	if err := v.checkConservation(u, totalIn); err != nil {
		return err
	}
	if err := v.checkAssetRules(ctx, u); err != nil {
		return err
	}
	return nil
}

func (v *Validator) checkUnitHash(u *entity.Unit) error {
	if canon.UnitHashString(u) != u.Unit_ {
		return &StructuralError{Reason: "unit hash does not match content"}
	}
	return nil
}

func (v *Validator) checkHashLength(u *entity.Unit) error {
	if len(u.Unit_) != config.HashLength {
		return &StructuralError{Reason: fmt.Sprintf("unit hash length %d != %d", len(u.Unit_), config.HashLength)}
	}
	return nil
}

// missingParents reports which of unit's declared parents aren't yet
// known to the store; the caller turns a non-empty result into
// NeedParentUnits rather than a structural failure.
func (v *Validator) missingParents(ctx context.Context, u *entity.Unit) ([]string, error) {
	var missing []string
	for _, p := range u.ParentUnits {
		if _, err := v.ledger.GetProps(ctx, p); err != nil {
			if err == store.ErrUnitNotFound {
				missing = append(missing, p)
				continue
			}
			return nil, err
		}
	}
	return missing, nil
}

// checkSignatures verifies every author's authentifiers against their
// definition, using the unit's naked signing hash (§4.A).
func (v *Validator) checkSignatures(u *entity.Unit) error {
	hash := canon.SigningHash(u)
	for _, a := range u.Authors {
		if a.Definition == nil {
			return &SignatureError{Address: a.Address}
		}
		if !evaluateDefinition(a.Definition, a.Authentifiers, hash, v.verifier, "r") {
			return &SignatureError{Address: a.Address}
		}
	}
	return nil
}

// evaluateDefinition walks the authentifier tree, resolving "sig" leaves
// against the matching authentifier path and combining "or"/"and"/"r of
// set" nodes per their usual boolean semantics.
func evaluateDefinition(d *entity.Definition, authentifiers map[string]string, hash [32]byte, verifier Verifier, path string) bool {
	if d == nil {
		return false
	}
	switch d.Op {
	case "sig":
		pubKey, ok := firstString(d.Args)
		if !ok {
			return false
		}
		sig, ok := authentifiers[path]
		if !ok {
			return false
		}
		return verifier.Verify(pubKey, hash, sig)
	case "hash":
		// A hash-locked definition is satisfied by revealing a preimage
		// matching the committed hash; not used by any teacher-grounded
		// flow in this module, so treated as never satisfied standalone.
		return false
	case "or":
		for i, s := range d.Sub {
			if evaluateDefinition(s, authentifiers, hash, verifier, fmt.Sprintf("%s.%d", path, i)) {
				return true
			}
		}
		return false
	case "and":
		for i, s := range d.Sub {
			if !evaluateDefinition(s, authentifiers, hash, verifier, fmt.Sprintf("%s.%d", path, i)) {
				return false
			}
		}
		return len(d.Sub) > 0
	case "r of set":
		satisfied := 0
		for i, s := range d.Sub {
			if evaluateDefinition(s, authentifiers, hash, verifier, fmt.Sprintf("%s.%d", path, i)) {
				satisfied++
			}
		}
		return satisfied >= d.Count
	default:
		return false
	}
}

func firstString(args []any) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	s, ok := args[0].(string)
	return s, ok
}

// checkWitnessNoReferences enforces that no witness address has a
// referencing ("address") definition on this unit, per §4.E.
func (v *Validator) checkWitnessNoReferences(u *entity.Unit) error {
	if len(u.Witnesses) == 0 {
		return nil
	}
	witnessSet := make(map[string]bool, len(u.Witnesses))
	for _, w := range u.Witnesses {
		witnessSet[w] = true
	}
	for _, a := range u.Authors {
		if !witnessSet[a.Address] {
			continue
		}
		if a.Definition.HasReferences() {
			return &WitnessChanged{Address: a.Address}
		}
	}
	return nil
}

// checkInputsUnspent resolves every transfer/commission input to an
// unspent output and returns the total amount claimed.
func (v *Validator) checkInputsUnspent(ctx context.Context, u *entity.Unit) (int64, error) {
	var total int64
	for mi := range u.Messages {
		msg := &u.Messages[mi]
		if msg.Payment == nil {
			continue
		}
		for _, in := range msg.Payment.Inputs {
			switch in.Kind {
			case entity.InputTransfer:
				ref := store.OutputRef{Unit: in.Unit, MessageIndex: in.MessageIndex, OutputIndex: in.OutputIndex}
				spent, err := v.ledger.IsOutputSpent(ctx, ref)
				if err != nil {
					return 0, fmt.Errorf("validate: resolve input %s[%d][%d]: %w", in.Unit, in.MessageIndex, in.OutputIndex, err)
				}
				if spent {
					return 0, &ConflictError{Reason: fmt.Sprintf("input %s[%d][%d] already spent", in.Unit, in.MessageIndex, in.OutputIndex)}
				}
				joint, err := v.ledger.GetJoint(ctx, in.Unit)
				if err != nil {
					return 0, fmt.Errorf("validate: load source unit %s: %w", in.Unit, err)
				}
				amount, err := outputAmount(joint, in.MessageIndex, in.OutputIndex)
				if err != nil {
					return 0, &StructuralError{Reason: err.Error()}
				}
				total += amount
			case entity.InputHeadersCommission:
				sum, err := v.ledger.SumHeadersCommissionForAddressRange(ctx, in.Address, in.FromMCI, in.ToMCI)
				if err != nil {
					return 0, fmt.Errorf("validate: headers commission input: %w", err)
				}
				total += sum
			case entity.InputWitnessing:
				sum, err := v.ledger.SumWitnessingForAddressRange(ctx, in.Address, in.FromMCI, in.ToMCI)
				if err != nil {
					return 0, fmt.Errorf("validate: witnessing input: %w", err)
				}
				total += sum
			case entity.InputIssue:
				// Issue inputs mint new value rather than resolving an
				// existing output; the no-reissue rule lives in
				// checkAssetRules, the amount they contribute is whatever
				// the unit itself claims.
				total += in.Amount
			}
		}
	}
	return total, nil
}

func outputAmount(j *entity.Joint, messageIndex, outputIndex int) (int64, error) {
	if messageIndex < 0 || messageIndex >= len(j.Unit.Messages) {
		return 0, fmt.Errorf("message index %d out of range", messageIndex)
	}
	msg := j.Unit.Messages[messageIndex]
	if msg.Payment == nil {
		return 0, fmt.Errorf("message %d is not a payment", messageIndex)
	}
	if outputIndex < 0 || outputIndex >= len(msg.Payment.Outputs) {
		return 0, fmt.Errorf("output index %d out of range", outputIndex)
	}
	return msg.Payment.Outputs[outputIndex].Amount, nil
}

// checkConservation enforces Σ inputs == Σ outputs + headers + payload
// (§4.E, §8).
func (v *Validator) checkConservation(u *entity.Unit, totalIn int64) error {
	var totalOut int64
	for _, msg := range u.Messages {
		if msg.Payment == nil {
			continue
		}
		for _, out := range msg.Payment.Outputs {
			totalOut += out.Amount
		}
	}
	want := totalOut + int64(u.HeadersCommission) + int64(u.PayloadCommission)
	if totalIn != want {
		return &StructuralError{Reason: fmt.Sprintf("conservation violated: inputs=%d outputs+fees=%d", totalIn, want)}
	}
	return nil
}

// checkAssetRules rejects an issue input whose (asset, serial number) was
// already issued and, for an asset message that carries spend proofs, a
// proof count that differs from its transfer-input count (§4.E). An
// asset message without spend proofs is not rejected here.
func (v *Validator) checkAssetRules(ctx context.Context, u *entity.Unit) error {
	for _, msg := range u.Messages {
		if msg.Payment == nil {
			continue
		}
		for _, in := range msg.Payment.Inputs {
			if in.Kind != entity.InputIssue {
				continue
			}
			issued, err := v.ledger.IsSerialNumberIssued(ctx, msg.Payment.Asset, in.SerialNumber)
			if err != nil {
				return fmt.Errorf("validate: asset rule: %w", err)
			}
			if issued {
				return &ConflictError{Reason: fmt.Sprintf("asset %s serial %d already issued", msg.Payment.Asset, in.SerialNumber)}
			}
		}
		if msg.Payment.Asset != "" && len(msg.SpendProofs) > 0 {
			transferCount := 0
			for _, in := range msg.Payment.Inputs {
				if in.Kind == entity.InputTransfer {
					transferCount++
				}
			}
			if len(msg.SpendProofs) != transferCount {
				return &StructuralError{Reason: "private asset message: spend_proofs count must match transfer input count"}
			}
		}
	}
	return nil
}
