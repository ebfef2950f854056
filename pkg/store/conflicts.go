package store

import (
	"context"
	"fmt"

	"github.com/trustweave/dag-hub/pkg/entity"
)

// GetRecipients returns the explicit earned_headers_commission_recipients
// override for unit, if any (§4.G); an empty slice means "defaults to the
// single author at 100%".
func (s *Store) GetRecipients(ctx context.Context, unit string) ([]entity.Recipient, error) {
	rows, err := s.db().QueryContext(ctx, `
		SELECT address, earned_headers_commission_share
		FROM earned_headers_commission_recipients WHERE unit=$1`, unit)
	if err != nil {
		return nil, fmt.Errorf("store: get recipients: %w", err)
	}
	defer rows.Close()
	var out []entity.Recipient
	for rows.Next() {
		var r entity.Recipient
		if err := rows.Scan(&r.Address, &r.Share); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FindSpendersOfOutput returns every persisted unit (other than the
// output's own owner) whose transfer input references ref, the reverse
// index §4.F's find_stable_conflicting_units walks to discover
// double-spend competitors.
func (s *Store) FindSpendersOfOutput(ctx context.Context, ref OutputRef) ([]string, error) {
	rows, err := s.db().QueryContext(ctx, `
		SELECT DISTINCT spender_unit FROM input_refs
		WHERE ref_unit=$1 AND ref_message_index=$2 AND ref_output_index=$3`,
		ref.Unit, ref.MessageIndex, ref.OutputIndex)
	if err != nil {
		return nil, fmt.Errorf("store: find spenders of output: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// InputRefsOf returns the transfer-input output references a unit's
// payment messages claim, used by the ordering engine to mark outputs
// unique and to scan for conflicts.
func InputRefsOf(u *entity.Unit) []OutputRef {
	var refs []OutputRef
	for _, msg := range u.Messages {
		if msg.Payment == nil {
			continue
		}
		for _, in := range msg.Payment.Inputs {
			if in.Kind != entity.InputTransfer {
				continue
			}
			refs = append(refs, OutputRef{Unit: in.Unit, MessageIndex: in.MessageIndex, OutputIndex: in.OutputIndex})
		}
	}
	return refs
}
