package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/trustweave/dag-hub/pkg/entity"
)

// Reader is the read-only subset of the Entity Store contract that
// pkg/graph, pkg/order and pkg/commission depend on, so they can be
// tested against an in-memory fake instead of a live Postgres instance.
type Reader interface {
	GetJoint(ctx context.Context, unit string) (*entity.Joint, error)
	GetProps(ctx context.Context, unit string) (*UnitProps, error)
	Parents(ctx context.Context, unit string) ([]string, error)
	Children(ctx context.Context, unit string) ([]string, error)
	ListFreeUnits(ctx context.Context) ([]string, error)
	FindWitnessListUnit(ctx context.Context, witnesses []string, maxMCI int64) (string, error)
	GetBallForUnit(ctx context.Context, unit string) (string, error)
	WitnessList(ctx context.Context, unit string) ([]string, error)
	Authors(ctx context.Context, unit string) ([]string, error)
	UnitsAtMCI(ctx context.Context, mci int64) ([]string, error)
	MainChainUnitAt(ctx context.Context, mci int64) (string, error)
	LastStableMCI(ctx context.Context) (int64, error)
}

// Store implements §4.B's Entity Store over Postgres via a pooled
// *sql.DB. Methods that touch more than one table use a single *sql.Tx.
type Store struct {
	client *Client
}

// New wraps an already-connected Client.
func New(client *Client) *Store { return &Store{client: client} }

func (s *Store) db() *sql.DB { return s.client.DB() }

// PutJoint persists a validated joint atomically: the unit row, its
// author rows, parenthood edges, and outputs all land in one
// transaction, row-before-children as §4.B requires.
func (s *Store) PutJoint(ctx context.Context, j *entity.Joint) error {
	tx, err := s.db().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin PutJoint tx: %w", err)
	}
	defer tx.Rollback()

	u := &j.Unit
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("store: marshal unit payload: %w", err)
	}

	var witnesses any
	if len(u.Witnesses) > 0 {
		witnesses = pq.Array(u.Witnesses)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO units (
			unit, version, alt, content_hash, last_ball, last_ball_unit,
			witnesses, witness_list_unit, parent_units,
			headers_commission, payload_commission, timestamp,
			level, witnessed_level, best_parent_unit,
			latest_included_mc_index, main_chain_index,
			is_on_main_chain, is_free, is_stable, sequence, payload
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
		ON CONFLICT (unit) DO NOTHING`,
		u.Unit_, u.Version, u.Alt, nullable(u.ContentHash), nullable(u.LastBall), nullable(u.LastBallUnit),
		witnesses, nullable(u.WitnessListUnit), pq.Array(u.ParentUnits),
		u.HeadersCommission, u.PayloadCommission, nullableInt(u.Timestamp),
		u.Level, u.WitnessedLevel, nullable(u.BestParentUnit),
		u.LatestIncludedMCIndex, u.MainChainIndex,
		u.IsOnMainChain, u.IsFree, u.IsStable, string(orDefault(u.Sequence, entity.SequenceGood)), payload,
	)
	if err != nil {
		return fmt.Errorf("store: insert unit: %w", err)
	}

	for _, a := range u.Authors {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO unit_authors (unit, address) VALUES ($1,$2)
			ON CONFLICT DO NOTHING`, u.Unit_, a.Address); err != nil {
			return fmt.Errorf("store: insert unit_authors: %w", err)
		}
	}

	for i, p := range u.ParentUnits {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO parenthoods (child_unit, parent_unit, ord) VALUES ($1,$2,$3)
			ON CONFLICT DO NOTHING`, u.Unit_, p, i); err != nil {
			return fmt.Errorf("store: insert parenthoods: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE units SET is_free = false WHERE unit = $1`, p); err != nil {
			return fmt.Errorf("store: clear is_free on parent: %w", err)
		}
	}

	for mi, msg := range u.Messages {
		if msg.Payment == nil {
			continue
		}
		for oi, out := range msg.Payment.Outputs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO outputs (unit, message_index, output_index, address, amount, asset)
				VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT DO NOTHING`,
				u.Unit_, mi, oi, out.Address, out.Amount, nullable(out.Asset)); err != nil {
				return fmt.Errorf("store: insert outputs: %w", err)
			}
		}
	}

	if j.Ball != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO balls (unit, ball, skiplist) VALUES ($1,$2,$3)
			ON CONFLICT DO NOTHING`, u.Unit_, j.Ball, pq.Array(j.Skiplist)); err != nil {
			return fmt.Errorf("store: insert ball: %w", err)
		}
	}

	for _, r := range u.EarnedHeadersCommissionRecipients {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO earned_headers_commission_recipients (unit, address, earned_headers_commission_share)
			VALUES ($1,$2,$3) ON CONFLICT DO NOTHING`,
			u.Unit_, r.Address, r.Share); err != nil {
			return fmt.Errorf("store: insert earned headers commission recipients: %w", err)
		}
	}

	for _, msg := range u.Messages {
		if msg.Payment == nil {
			continue
		}
		for _, in := range msg.Payment.Inputs {
			if in.Kind != entity.InputTransfer {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO input_refs (spender_unit, ref_unit, ref_message_index, ref_output_index)
				VALUES ($1,$2,$3,$4)`,
				u.Unit_, in.Unit, in.MessageIndex, in.OutputIndex); err != nil {
				return fmt.Errorf("store: insert input_refs: %w", err)
			}
		}
	}

	return tx.Commit()
}

// GetJoint retrieves the full joint (unit + ball/skiplist) for unit.
func (s *Store) GetJoint(ctx context.Context, unit string) (*entity.Joint, error) {
	var payload []byte
	err := s.db().QueryRowContext(ctx, `SELECT payload FROM units WHERE unit = $1`, unit).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrUnitNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get joint: %w", err)
	}
	var u entity.Unit
	if err := json.Unmarshal(payload, &u); err != nil {
		return nil, fmt.Errorf("store: unmarshal unit payload: %w", err)
	}
	j := &entity.Joint{Unit: u}
	var ball sql.NullString
	var skiplist pq.StringArray
	err = s.db().QueryRowContext(ctx, `SELECT ball, skiplist FROM balls WHERE unit = $1`, unit).Scan(&ball, &skiplist)
	if err == nil {
		j.Ball = ball.String
		j.Skiplist = skiplist
	} else if err != sql.ErrNoRows {
		return nil, fmt.Errorf("store: get ball: %w", err)
	}
	return j, nil
}

// GetProps returns the derived per-unit properties for unit.
func (s *Store) GetProps(ctx context.Context, unit string) (*UnitProps, error) {
	p := &UnitProps{Unit: unit}
	var bestParent, witnessListUnit, contentHash sql.NullString
	var seq string
	err := s.db().QueryRowContext(ctx, `
		SELECT level, witnessed_level, best_parent_unit, witness_list_unit,
		       latest_included_mc_index, main_chain_index, is_on_main_chain,
		       is_free, is_stable, sequence, headers_commission, payload_commission, content_hash
		FROM units WHERE unit = $1`, unit).Scan(
		&p.Level, &p.WitnessedLevel, &bestParent, &witnessListUnit,
		&p.LatestIncludedMCIndex, &p.MainChainIndex, &p.IsOnMainChain,
		&p.IsFree, &p.IsStable, &seq, &p.HeadersCommission, &p.PayloadCommission, &contentHash,
	)
	if err == sql.ErrNoRows {
		return nil, ErrUnitNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get props: %w", err)
	}
	p.BestParentUnit = bestParent.String
	p.WitnessListUnit = witnessListUnit.String
	p.ContentHash = contentHash.String
	p.Sequence = entity.Sequence(seq)
	return p, nil
}

// SetOrderingProps persists the fields the ordering engine assigns on
// insertion and during stabilization.
func (s *Store) SetOrderingProps(ctx context.Context, p *UnitProps) error {
	_, err := s.db().ExecContext(ctx, `
		UPDATE units SET level=$2, witnessed_level=$3, best_parent_unit=$4,
			witness_list_unit=$5,
			latest_included_mc_index=$6, main_chain_index=$7, is_on_main_chain=$8,
			is_free=$9, is_stable=$10, sequence=$11, content_hash=$12,
			headers_commission=$13, payload_commission=$14
		WHERE unit=$1`,
		p.Unit, p.Level, p.WitnessedLevel, nullable(p.BestParentUnit),
		nullable(p.WitnessListUnit),
		p.LatestIncludedMCIndex, p.MainChainIndex, p.IsOnMainChain,
		p.IsFree, p.IsStable, string(p.Sequence), nullable(p.ContentHash),
		p.HeadersCommission, p.PayloadCommission)
	if err != nil {
		return fmt.Errorf("store: set ordering props: %w", err)
	}
	return nil
}

// Parents returns unit's parent hashes in order.
func (s *Store) Parents(ctx context.Context, unit string) ([]string, error) {
	rows, err := s.db().QueryContext(ctx, `SELECT parent_unit FROM parenthoods WHERE child_unit=$1 ORDER BY ord`, unit)
	if err != nil {
		return nil, fmt.Errorf("store: parents: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Children returns the set of units that reference unit as a parent.
func (s *Store) Children(ctx context.Context, unit string) ([]string, error) {
	rows, err := s.db().QueryContext(ctx, `SELECT child_unit FROM parenthoods WHERE parent_unit=$1`, unit)
	if err != nil {
		return nil, fmt.Errorf("store: children: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListFreeUnits returns units with no children (§4.B).
func (s *Store) ListFreeUnits(ctx context.Context) ([]string, error) {
	rows, err := s.db().QueryContext(ctx, `SELECT unit FROM units WHERE is_free`)
	if err != nil {
		return nil, fmt.Errorf("store: list free units: %w", err)
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

// FindWitnessListUnit finds a unit at or before maxMCI that declared
// exactly the given witness list, for units referencing it indirectly.
func (s *Store) FindWitnessListUnit(ctx context.Context, witnesses []string, maxMCI int64) (string, error) {
	var unit string
	err := s.db().QueryRowContext(ctx, `
		SELECT unit FROM units
		WHERE witnesses = $1 AND main_chain_index <= $2 AND main_chain_index >= 0
		ORDER BY main_chain_index DESC LIMIT 1`, pq.Array(witnesses), maxMCI).Scan(&unit)
	if err == sql.ErrNoRows {
		return "", ErrWitnessListNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: find witness list unit: %w", err)
	}
	return unit, nil
}

// GetBallForUnit returns the ball hash bound to unit, if stabilized.
func (s *Store) GetBallForUnit(ctx context.Context, unit string) (string, error) {
	var ball string
	err := s.db().QueryRowContext(ctx, `SELECT ball FROM balls WHERE unit=$1`, unit).Scan(&ball)
	if err == sql.ErrNoRows {
		return "", ErrBallNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: get ball for unit: %w", err)
	}
	return ball, nil
}

// SetBall records the ball a unit is assigned at stabilization time,
// the hash new units anchor to via last_ball/last_ball_unit.
func (s *Store) SetBall(ctx context.Context, unit, ball string, skiplist []string) error {
	_, err := s.db().ExecContext(ctx, `
		INSERT INTO balls (unit, ball, skiplist) VALUES ($1,$2,$3)
		ON CONFLICT (unit) DO NOTHING`, unit, ball, pq.Array(skiplist))
	if err != nil {
		return fmt.Errorf("store: set ball: %w", err)
	}
	return nil
}

// WitnessList returns the explicit or resolved witness list for unit.
func (s *Store) WitnessList(ctx context.Context, unit string) ([]string, error) {
	var witnesses pq.StringArray
	var witnessListUnit sql.NullString
	err := s.db().QueryRowContext(ctx, `SELECT witnesses, witness_list_unit FROM units WHERE unit=$1`, unit).Scan(&witnesses, &witnessListUnit)
	if err == sql.ErrNoRows {
		return nil, ErrUnitNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: witness list: %w", err)
	}
	if len(witnesses) > 0 {
		return witnesses, nil
	}
	if witnessListUnit.Valid && witnessListUnit.String != "" {
		return s.WitnessList(ctx, witnessListUnit.String)
	}
	return nil, nil
}

// Authors returns the signing addresses of unit.
func (s *Store) Authors(ctx context.Context, unit string) ([]string, error) {
	rows, err := s.db().QueryContext(ctx, `SELECT address FROM unit_authors WHERE unit=$1`, unit)
	if err != nil {
		return nil, fmt.Errorf("store: authors: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UnitsAtMCI returns all units whose main_chain_index equals mci.
func (s *Store) UnitsAtMCI(ctx context.Context, mci int64) ([]string, error) {
	rows, err := s.db().QueryContext(ctx, `SELECT unit FROM units WHERE main_chain_index=$1`, mci)
	if err != nil {
		return nil, fmt.Errorf("store: units at mci: %w", err)
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

// MainChainUnitAt returns the single on-main-chain unit at mci.
func (s *Store) MainChainUnitAt(ctx context.Context, mci int64) (string, error) {
	var unit string
	err := s.db().QueryRowContext(ctx, `SELECT unit FROM units WHERE main_chain_index=$1 AND is_on_main_chain LIMIT 1`, mci).Scan(&unit)
	if err == sql.ErrNoRows {
		return "", ErrUnitNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: main chain unit at: %w", err)
	}
	return unit, nil
}

// LastStableMCI returns the highest main_chain_index marked stable.
func (s *Store) LastStableMCI(ctx context.Context) (int64, error) {
	var mci sql.NullInt64
	err := s.db().QueryRowContext(ctx, `SELECT MAX(main_chain_index) FROM units WHERE is_stable`).Scan(&mci)
	if err != nil {
		return -1, fmt.Errorf("store: last stable mci: %w", err)
	}
	if !mci.Valid {
		return -1, nil
	}
	return mci.Int64, nil
}

// UnstableMainChainUnitsDesc returns on-main-chain units that are not
// yet stable, newest-mci-first, the candidate pool a witness proof
// walks per §4.I.
func (s *Store) UnstableMainChainUnitsDesc(ctx context.Context) ([]string, error) {
	rows, err := s.db().QueryContext(ctx, `
		SELECT unit FROM units
		WHERE is_on_main_chain AND NOT is_stable
		ORDER BY main_chain_index DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: unstable main chain units: %w", err)
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

// WitnessAuthoredCandidates returns stable, good units authored by one
// of witnesses with latest_included_mc_index >= sinceMCI (or every such
// unit, when sinceMCI <= 0). The caller filters this candidate set down
// to actual definition changes by inspecting each unit's payload, since
// the schema doesn't carry a separate definition_chash column.
func (s *Store) WitnessAuthoredCandidates(ctx context.Context, witnesses []string, sinceMCI int64) ([]string, error) {
	rows, err := s.db().QueryContext(ctx, `
		SELECT DISTINCT u.unit FROM unit_authors ua
		JOIN units u ON u.unit = ua.unit
		WHERE ua.address = ANY($1) AND u.is_stable AND u.sequence = 'good'
			AND ($2 <= 0 OR u.latest_included_mc_index >= $2)
		ORDER BY u.unit`, pq.Array(witnesses), sinceMCI)
	if err != nil {
		return nil, fmt.Errorf("store: witness authored candidates: %w", err)
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

// StageHashTreeBall records a ball named by a peer's catch-up chain
// whose backing joint hasn't arrived yet.
func (s *Store) StageHashTreeBall(ctx context.Context, ball, unit string) error {
	_, err := s.db().ExecContext(ctx, `
		INSERT INTO hash_tree_balls (ball, unit) VALUES ($1,$2)
		ON CONFLICT (ball) DO NOTHING`, ball, unit)
	if err != nil {
		return fmt.Errorf("store: stage hash tree ball: %w", err)
	}
	return nil
}

// PurgeHandledHashTreeBalls drops every staged ball that now has a real
// row in balls, i.e. its joint has since been validated and persisted.
func (s *Store) PurgeHandledHashTreeBalls(ctx context.Context) error {
	_, err := s.db().ExecContext(ctx, `
		DELETE FROM hash_tree_balls
		WHERE ball IN (SELECT ball FROM balls)`)
	if err != nil {
		return fmt.Errorf("store: purge handled hash tree balls: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(i int64) any {
	if i == 0 {
		return nil
	}
	return i
}

func orDefault(s entity.Sequence, d entity.Sequence) entity.Sequence {
	if s == "" {
		return d
	}
	return s
}
