package store

import (
	"context"
	"database/sql"
	"fmt"
)

// WriteHeadersCommissionOutputs accumulates per-address headers
// commission shares for mci (§4.G).
func (s *Store) WriteHeadersCommissionOutputs(ctx context.Context, mci int64, shares map[string]int64) error {
	tx, err := s.db().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin headers commission tx: %w", err)
	}
	defer tx.Rollback()
	for addr, amount := range shares {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO headers_commission_outputs (main_chain_index, address, amount)
			VALUES ($1,$2,$3)
			ON CONFLICT (main_chain_index, address) DO UPDATE
				SET amount = headers_commission_outputs.amount + EXCLUDED.amount`,
			mci, addr, amount); err != nil {
			return fmt.Errorf("store: write headers commission output: %w", err)
		}
	}
	return tx.Commit()
}

// WriteWitnessingOutputs accumulates per-address witnessing shares for
// mci (§4.G).
func (s *Store) WriteWitnessingOutputs(ctx context.Context, mci int64, shares map[string]int64) error {
	tx, err := s.db().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin witnessing outputs tx: %w", err)
	}
	defer tx.Rollback()
	for addr, amount := range shares {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO witnessing_outputs (main_chain_index, address, amount)
			VALUES ($1,$2,$3)
			ON CONFLICT (main_chain_index, address) DO UPDATE
				SET amount = witnessing_outputs.amount + EXCLUDED.amount`,
			mci, addr, amount); err != nil {
			return fmt.Errorf("store: write witnessing output: %w", err)
		}
	}
	return tx.Commit()
}

// SumHeadersCommissionOutputs totals all headers-commission payouts for
// mci, used by the commission-conservation property test (§8).
func (s *Store) SumHeadersCommissionOutputs(ctx context.Context, mci int64) (int64, error) {
	var total int64
	err := s.db().QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount),0) FROM headers_commission_outputs WHERE main_chain_index=$1`, mci).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("store: sum headers commission outputs: %w", err)
	}
	return total, nil
}

// MarkOutputsSpent marks a set of outputs as spent within one
// transaction. The validator only reads is_spent (IsOutputSpent); it
// does not call this.
func (s *Store) MarkOutputsSpent(ctx context.Context, refs []OutputRef) error {
	tx, err := s.db().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin mark outputs spent tx: %w", err)
	}
	defer tx.Rollback()
	for _, r := range refs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE outputs SET is_spent = true WHERE unit=$1 AND message_index=$2 AND output_index=$3`,
			r.Unit, r.MessageIndex, r.OutputIndex); err != nil {
			return fmt.Errorf("store: mark output spent: %w", err)
		}
	}
	return tx.Commit()
}

// MarkOutputsUnique flags a set of outputs is_unique=1 once their owning
// unit becomes good and stable (§3 invariant).
func (s *Store) MarkOutputsUnique(ctx context.Context, refs []OutputRef) error {
	tx, err := s.db().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin mark outputs unique tx: %w", err)
	}
	defer tx.Rollback()
	for _, r := range refs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE outputs SET is_unique = true WHERE unit=$1 AND message_index=$2 AND output_index=$3`,
			r.Unit, r.MessageIndex, r.OutputIndex); err != nil {
			return fmt.Errorf("store: mark output unique: %w", err)
		}
	}
	return tx.Commit()
}

// OutputRef identifies one output for spend/uniqueness bookkeeping.
type OutputRef struct {
	Unit         string
	MessageIndex int
	OutputIndex  int
}

// IsOutputSpent reports whether the referenced output has already been
// consumed by a transfer input.
func (s *Store) IsOutputSpent(ctx context.Context, ref OutputRef) (bool, error) {
	var spent bool
	err := s.db().QueryRowContext(ctx, `
		SELECT is_spent FROM outputs WHERE unit=$1 AND message_index=$2 AND output_index=$3`,
		ref.Unit, ref.MessageIndex, ref.OutputIndex).Scan(&spent)
	if err != nil {
		return false, fmt.Errorf("store: is output spent: %w", err)
	}
	return spent, nil
}

// SpendableOutputs lists unspent outputs for address, used by the
// compositor's coin pickers.
func (s *Store) SpendableOutputs(ctx context.Context, address string) ([]SpendableOutput, error) {
	rows, err := s.db().QueryContext(ctx, `
		SELECT unit, message_index, output_index, amount FROM outputs
		WHERE address=$1 AND NOT is_spent AND is_unique
		ORDER BY amount ASC`, address)
	if err != nil {
		return nil, fmt.Errorf("store: spendable outputs: %w", err)
	}
	defer rows.Close()
	var out []SpendableOutput
	for rows.Next() {
		var so SpendableOutput
		if err := rows.Scan(&so.Unit, &so.MessageIndex, &so.OutputIndex, &so.Amount); err != nil {
			return nil, err
		}
		so.Address = address
		out = append(out, so)
	}
	return out, rows.Err()
}

// SpendableOutput is a candidate input for the compositor's coin
// pickers.
type SpendableOutput struct {
	Unit         string
	MessageIndex int
	OutputIndex  int
	Amount       int64
	Address      string
}

// SumHeadersCommissionForAddressRange totals an address's headers
// commission payouts over [fromMCI, toMCI], used by the validator to
// check a headers_commission input's claimed amount.
func (s *Store) SumHeadersCommissionForAddressRange(ctx context.Context, address string, fromMCI, toMCI uint64) (int64, error) {
	var total int64
	err := s.db().QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount),0) FROM headers_commission_outputs
		WHERE address=$1 AND main_chain_index BETWEEN $2 AND $3`, address, fromMCI, toMCI).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("store: sum headers commission for address range: %w", err)
	}
	return total, nil
}

// SumWitnessingForAddressRange totals an address's witnessing payouts
// over [fromMCI, toMCI].
func (s *Store) SumWitnessingForAddressRange(ctx context.Context, address string, fromMCI, toMCI uint64) (int64, error) {
	var total int64
	err := s.db().QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount),0) FROM witnessing_outputs
		WHERE address=$1 AND main_chain_index BETWEEN $2 AND $3`, address, fromMCI, toMCI).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("store: sum witnessing for address range: %w", err)
	}
	return total, nil
}

// IsSerialNumberIssued reports whether (asset, serialNumber) was already
// used by an issue input, enforcing the capped-asset no-reissue rule.
func (s *Store) IsSerialNumberIssued(ctx context.Context, asset string, serialNumber uint64) (bool, error) {
	var count int
	err := s.db().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM issued_serials WHERE asset=$1 AND serial_number=$2`, asset, serialNumber).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("store: is serial number issued: %w", err)
	}
	return count > 0, nil
}

// NextSerialNumber returns the lowest unused serial number for asset,
// the compositor's allocation for a fresh issue input. Allocation
// races are caught downstream by issued_serials' primary key and
// IsSerialNumberIssued at validation time, not guarded here.
func (s *Store) NextSerialNumber(ctx context.Context, asset string) (uint64, error) {
	var max sql.NullInt64
	err := s.db().QueryRowContext(ctx,
		`SELECT MAX(serial_number) FROM issued_serials WHERE asset=$1`, asset).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("store: next serial number: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return uint64(max.Int64) + 1, nil
}

// RecordIssuedSerial marks (asset, serialNumber) as consumed by unit.
func (s *Store) RecordIssuedSerial(ctx context.Context, asset string, serialNumber uint64, unit string) error {
	_, err := s.db().ExecContext(ctx, `
		INSERT INTO issued_serials (asset, serial_number, unit) VALUES ($1,$2,$3)
		ON CONFLICT DO NOTHING`, asset, serialNumber, unit)
	if err != nil {
		return fmt.Errorf("store: record issued serial: %w", err)
	}
	return nil
}
