package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/trustweave/dag-hub/pkg/entity"
)

// EnqueueDependency records that child is waiting on parent, with the
// originating peer (§4.D). The joint itself is stored by SavePendingJoint.
func (s *Store) EnqueueDependency(ctx context.Context, child, parent, peer string) error {
	_, err := s.db().ExecContext(ctx, `
		INSERT INTO dependencies (child_unit, depends_on_unit, peer) VALUES ($1,$2,$3)
		ON CONFLICT DO NOTHING`, child, parent, peer)
	if err != nil {
		return fmt.Errorf("store: enqueue dependency: %w", err)
	}
	return nil
}

// SavePendingJoint stores the raw joint for a buffered unit so it can be
// replayed once its dependencies clear.
func (s *Store) SavePendingJoint(ctx context.Context, j *entity.Joint, peer string) error {
	raw, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("store: marshal pending joint: %w", err)
	}
	_, err = s.db().ExecContext(ctx, `
		INSERT INTO pending_joints (unit, raw, peer) VALUES ($1,$2,$3)
		ON CONFLICT (unit) DO UPDATE SET raw=EXCLUDED.raw, peer=EXCLUDED.peer`,
		j.Unit.Unit_, raw, peer)
	if err != nil {
		return fmt.Errorf("store: save pending joint: %w", err)
	}
	return nil
}

// GetPendingJoint loads a previously buffered joint.
func (s *Store) GetPendingJoint(ctx context.Context, unit string) (*entity.Joint, string, error) {
	var raw []byte
	var peer string
	err := s.db().QueryRowContext(ctx, `SELECT raw, peer FROM pending_joints WHERE unit=$1`, unit).Scan(&raw, &peer)
	if err != nil {
		return nil, "", fmt.Errorf("store: get pending joint: %w", err)
	}
	var j entity.Joint
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, "", fmt.Errorf("store: unmarshal pending joint: %w", err)
	}
	return &j, peer, nil
}

// CountMissingDependencies returns how many not-yet-persisted parents
// child is still waiting on.
func (s *Store) CountMissingDependencies(ctx context.Context, child string) (int, error) {
	var count int
	err := s.db().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM dependencies d
		WHERE d.child_unit = $1
		AND NOT EXISTS (SELECT 1 FROM units u WHERE u.unit = d.depends_on_unit)`, child).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: count missing dependencies: %w", err)
	}
	return count, nil
}

// ListUnhandledDependingOn returns children waiting on parent.
func (s *Store) ListUnhandledDependingOn(ctx context.Context, parent string) ([]string, error) {
	rows, err := s.db().QueryContext(ctx, `SELECT DISTINCT child_unit FROM dependencies WHERE depends_on_unit=$1`, parent)
	if err != nil {
		return nil, fmt.Errorf("store: list unhandled depending on: %w", err)
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

// ClearDependencies removes all dependency rows and the pending joint
// row for unit once it has been released and persisted.
func (s *Store) ClearDependencies(ctx context.Context, unit string) error {
	tx, err := s.db().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin clear dependencies tx: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM dependencies WHERE child_unit=$1`, unit); err != nil {
		return fmt.Errorf("store: delete dependencies: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_joints WHERE unit=$1`, unit); err != nil {
		return fmt.Errorf("store: delete pending joint: %w", err)
	}
	return tx.Commit()
}

// WriteKnownBadCascade quarantines unit and every descendant still
// buffered behind it with the same error string, in a single
// transaction, per §4.D's bad-joint cascade.
func (s *Store) WriteKnownBadCascade(ctx context.Context, unit string, cascadeErr error) ([]string, error) {
	tx, err := s.db().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin bad-joint cascade tx: %w", err)
	}
	defer tx.Rollback()

	toQuarantine := []string{unit}
	seen := map[string]bool{unit: true}
	for i := 0; i < len(toQuarantine); i++ {
		rows, err := tx.QueryContext(ctx, `SELECT DISTINCT child_unit FROM dependencies WHERE depends_on_unit=$1`, toQuarantine[i])
		if err != nil {
			return nil, fmt.Errorf("store: cascade query: %w", err)
		}
		var kids []string
		for rows.Next() {
			var c string
			if err := rows.Scan(&c); err != nil {
				rows.Close()
				return nil, err
			}
			kids = append(kids, c)
		}
		rows.Close()
		for _, c := range kids {
			if !seen[c] {
				seen[c] = true
				toQuarantine = append(toQuarantine, c)
			}
		}
	}

	for _, u := range toQuarantine {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO known_bad_joints (unit, error, at) VALUES ($1,$2,$3)
			ON CONFLICT (unit) DO UPDATE SET error=EXCLUDED.error`,
			u, cascadeErr.Error(), time.Now()); err != nil {
			return nil, fmt.Errorf("store: write known bad: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM dependencies WHERE child_unit=$1`, u); err != nil {
			return nil, fmt.Errorf("store: clear cascaded dependencies: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_joints WHERE unit=$1`, u); err != nil {
			return nil, fmt.Errorf("store: clear cascaded pending joint: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit bad-joint cascade: %w", err)
	}
	return toQuarantine, nil
}

// ListPendingUnits returns every unit currently buffered behind missing
// parents, for the lost-joint timeout sweep (§4.D).
func (s *Store) ListPendingUnits(ctx context.Context) ([]string, error) {
	rows, err := s.db().QueryContext(ctx, `SELECT unit FROM pending_joints`)
	if err != nil {
		return nil, fmt.Errorf("store: list pending units: %w", err)
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

// IsKnownBad reports whether unit is already quarantined.
func (s *Store) IsKnownBad(ctx context.Context, unit string) (bool, string, error) {
	var reason string
	err := s.db().QueryRowContext(ctx, `SELECT error FROM known_bad_joints WHERE unit=$1`, unit).Scan(&reason)
	if err != nil {
		return false, "", nil
	}
	return true, reason, nil
}

// PurgeJunkUnhandledJoints drops pending joints whose every dependency
// row is older than olderThan: they have been re-requested past the
// lost-joint timeout and the node has given up hearing back (§4.D's
// 30-minute sweep).
func (s *Store) PurgeJunkUnhandledJoints(ctx context.Context, olderThan time.Duration) (int, error) {
	res, err := s.db().ExecContext(ctx, `
		DELETE FROM pending_joints
		WHERE unit IN (
			SELECT child_unit FROM dependencies
			GROUP BY child_unit
			HAVING MAX(created_at) < $1
		)`, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("store: purge junk unhandled joints: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: purge junk unhandled joints rows affected: %w", err)
	}
	if _, err := s.db().ExecContext(ctx, `
		DELETE FROM dependencies
		WHERE child_unit NOT IN (SELECT unit FROM pending_joints)`); err != nil {
		return 0, fmt.Errorf("store: purge orphaned dependency rows: %w", err)
	}
	return int(n), nil
}

// YoungestDependencyAge returns how long ago the youngest dependency row
// for unit was created (§4.D's 8-second lost-joint threshold uses this
// on the buffer's "youngest" row, i.e. the most-recently-added parent
// wait).
func (s *Store) YoungestDependencyAge(ctx context.Context, unit string) (time.Duration, bool, error) {
	var createdAt time.Time
	err := s.db().QueryRowContext(ctx, `
		SELECT created_at FROM dependencies WHERE child_unit=$1 ORDER BY created_at DESC LIMIT 1`, unit).Scan(&createdAt)
	if err != nil {
		return 0, false, nil
	}
	return time.Since(createdAt), true, nil
}
