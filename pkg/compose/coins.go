package compose

import (
	"context"
	"fmt"

	"github.com/trustweave/dag-hub/pkg/entity"
	"github.com/trustweave/dag-hub/pkg/store"
)

const transferInputSize = 20
const addressSize = 32

// pickCoins runs the coin-picker cascade of §4.H, in order: a single
// coin just bigger than the target, multiple coins accumulated
// largest-first, a freshly-issued input (named assets only), then (base
// asset only) the headers-commission/witnessing fallback. Fails with
// NOT_ENOUGH_FUNDS if none of them close the gap.
//
// sources parallels the returned inputs, one entry per input, and is
// only meaningful where the corresponding input is InputTransfer --
// private-asset spend-proof generation needs the spent output's amount
// and owning address, which an entity.Input alone doesn't carry.
func (c *Composer) pickCoins(ctx context.Context, req Request, requiredAmount int64, lastBallMCI int64, multiAuthored bool) (inputs []entity.Input, sources []store.SpendableOutput, total int64, err error) {
	var all []store.SpendableOutput
	for _, addr := range req.PayingAddresses {
		outs, err := c.store.SpendableOutputs(ctx, addr)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("compose: spendable outputs for %s: %w", addr, err)
		}
		all = append(all, outs...)
	}

	target := requiredAmount
	if req.Asset == "" {
		target += transferInputSize
		if multiAuthored {
			target += addressSize
		}
	}

	if in, ok := pickOneCoinJustBigger(all, target); ok {
		return []entity.Input{transferInput(in, multiAuthored)}, []store.SpendableOutput{in}, in.Amount, nil
	}

	inputs, sources, total = pickMultipleCoins(all, target, multiAuthored)
	if total > target {
		return inputs, sources, total, nil
	}

	if req.Asset != "" {
		issue, err := c.pickIssue(ctx, req.Asset, req.PayingAddresses[0], target-total)
		if err == nil {
			return append(inputs, issue), append(sources, store.SpendableOutput{}), target, nil
		}
	} else {
		extra, extraTotal, err := c.pickCommissionInputs(ctx, req.PayingAddresses, target-total, lastBallMCI)
		if err == nil {
			padding := make([]store.SpendableOutput, len(extra))
			return append(inputs, extra...), append(sources, padding...), total + extraTotal, nil
		}
	}

	return nil, nil, 0, fmt.Errorf("compose: not enough spendable funds from %v for %d", req.PayingAddresses, requiredAmount)
}

// pickIssue mints exactly the shortfall under a fresh serial number for
// a named asset. Unlike the coin pickers it can hit the target exactly
// rather than overshoot, since minted value isn't constrained to
// whatever denominations happen to already exist.
func (c *Composer) pickIssue(ctx context.Context, asset, issuingAddress string, needed int64) (entity.Input, error) {
	if needed <= 0 {
		return entity.Input{}, fmt.Errorf("compose: no issue needed")
	}
	serial, err := c.store.NextSerialNumber(ctx, asset)
	if err != nil {
		return entity.Input{}, err
	}
	return entity.Input{Kind: entity.InputIssue, SerialNumber: serial, Amount: needed, Address: issuingAddress}, nil
}

func transferInput(o store.SpendableOutput, multiAuthored bool) entity.Input {
	in := entity.Input{Kind: entity.InputTransfer, Unit: o.Unit, MessageIndex: o.MessageIndex, OutputIndex: o.OutputIndex}
	if multiAuthored {
		in.Address = o.Address
	}
	return in
}

// pickOneCoinJustBigger returns the smallest spendable output strictly
// bigger than target, if one exists.
func pickOneCoinJustBigger(outputs []store.SpendableOutput, target int64) (store.SpendableOutput, bool) {
	var best store.SpendableOutput
	found := false
	for _, o := range outputs {
		if o.Amount <= target {
			continue
		}
		if !found || o.Amount < best.Amount {
			best, found = o, true
		}
	}
	return best, found
}

// pickMultipleCoins accumulates outputs largest-first until the target
// is met or funds run out.
func pickMultipleCoins(outputs []store.SpendableOutput, target int64, multiAuthored bool) ([]entity.Input, []store.SpendableOutput, int64) {
	sorted := append([]store.SpendableOutput{}, outputs...)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j].Amount > sorted[i].Amount {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}
	var inputs []entity.Input
	var sources []store.SpendableOutput
	var total int64
	for _, o := range sorted {
		inputs = append(inputs, transferInput(o, multiAuthored))
		sources = append(sources, o)
		total += o.Amount
		if total > target {
			break
		}
	}
	return inputs, sources, total
}

// pickCommissionInputs claims an address's entire unclaimed headers-
// commission and witnessing earnings up to lastBallMCI as a single
// wide-range input each, a simplification of add_headers_commission_inputs'
// interval search (no store API lists individual commission-output
// ranges, only the address total).
func (c *Composer) pickCommissionInputs(ctx context.Context, addresses []string, needed int64, lastBallMCI int64) ([]entity.Input, int64, error) {
	var inputs []entity.Input
	var total int64
	for _, addr := range addresses {
		hc, err := c.store.SumHeadersCommissionForAddressRange(ctx, addr, 0, uint64(lastBallMCI))
		if err != nil {
			return nil, 0, err
		}
		if hc > 0 {
			inputs = append(inputs, entity.Input{Kind: entity.InputHeadersCommission, Address: addr, FromMCI: 0, ToMCI: uint64(lastBallMCI)})
			total += hc
		}
		if total > needed {
			return inputs, total, nil
		}
		wc, err := c.store.SumWitnessingForAddressRange(ctx, addr, 0, uint64(lastBallMCI))
		if err != nil {
			return nil, 0, err
		}
		if wc > 0 {
			inputs = append(inputs, entity.Input{Kind: entity.InputWitnessing, Address: addr, FromMCI: 0, ToMCI: uint64(lastBallMCI)})
			total += wc
		}
		if total > needed {
			return inputs, total, nil
		}
	}
	if total <= needed {
		return nil, 0, fmt.Errorf("compose: no commission earnings cover the remainder")
	}
	return inputs, total, nil
}
