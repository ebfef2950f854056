// Package ingest implements Joint Ingestion (§4.D): check_new, the
// missing-parent buffer, the bad-joint cascade and the lost-joint
// timeout sweep.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trustweave/dag-hub/pkg/cache"
	"github.com/trustweave/dag-hub/pkg/entity"
	"github.com/trustweave/dag-hub/pkg/lock"
	"github.com/trustweave/dag-hub/pkg/store"
	"github.com/trustweave/dag-hub/pkg/validate"
)

// LostJointTimeout is the §4.D default age: LostJoints reports a
// buffered joint once its youngest dependency row is older than this.
// It does not check whether the missing parent has since been persisted
// or buffered.
const LostJointTimeout = 8 * time.Second

// Stabilizer advances ordering/commission once a unit is durably
// persisted; the hub orchestrator supplies the real implementation so
// ingest doesn't need to import pkg/order directly.
type Stabilizer interface {
	OnUnitAdded(ctx context.Context, unit string) error
}

// Pipeline is the per-hub joint-ingestion orchestrator.
type Pipeline struct {
	store      *store.Store
	known      *cache.KnownUnits
	validator  *validate.Validator
	writer     *lock.Writer
	stabilizer Stabilizer
	log        *logrus.Entry
}

// New builds a Pipeline. stabilizer may be nil in tests that only
// exercise ingestion, not ordering.
func New(st *store.Store, known *cache.KnownUnits, validator *validate.Validator, writer *lock.Writer, stabilizer Stabilizer, log *logrus.Entry) *Pipeline {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Pipeline{store: st, known: known, validator: validator, writer: writer, stabilizer: stabilizer, log: log}
}

// WriterHeldFor reports how long the persistence lock has been
// continuously held, for the hub's watchdog sweep.
func (p *Pipeline) WriterHeldFor() time.Duration {
	if p.writer == nil {
		return 0
	}
	return p.writer.HeldFor()
}

// CheckNew implements check_new(unit) (§4.D).
func (p *Pipeline) CheckNew(ctx context.Context, unit string) (Status, error) {
	if bad, _, err := p.store.IsKnownBad(ctx, unit); err != nil {
		return New, fmt.Errorf("ingest: check_new known-bad: %w", err)
	} else if bad {
		return KnownBad, nil
	}
	known, err := p.known.IsKnown(unit)
	if err != nil {
		return New, fmt.Errorf("ingest: check_new known-units: %w", err)
	}
	if known {
		return Known, nil
	}
	if _, _, err := p.store.GetPendingJoint(ctx, unit); err == nil {
		return KnownUnverified, nil
	}
	return New, nil
}

// HandleJoint runs a freshly-received joint through validation and, on
// success, persistence and dependent release. peer identifies the
// connection it arrived on, for re-request bookkeeping.
func (p *Pipeline) HandleJoint(ctx context.Context, j *entity.Joint, peer string) error {
	unit := j.Unit.Unit_
	status, err := p.CheckNew(ctx, unit)
	if err != nil {
		return err
	}
	switch status {
	case Known:
		return nil
	case KnownUnverified:
		return nil
	case KnownBad:
		reason, _, _ := p.store.IsKnownBad(ctx, unit)
		return fmt.Errorf("ingest: %s is known-bad: %v", unit, reason)
	}

	p.writer.Lock()
	defer p.writer.Unlock()

	verr := p.validator.Validate(ctx, j)
	if verr == nil {
		if err := p.store.PutJoint(ctx, j); err != nil {
			return fmt.Errorf("ingest: persist joint %s: %w", unit, err)
		}
		if err := p.known.MarkKnown(unit); err != nil {
			return fmt.Errorf("ingest: mark known %s: %w", unit, err)
		}
		if p.stabilizer != nil {
			if err := p.stabilizer.OnUnitAdded(ctx, unit); err != nil {
				return fmt.Errorf("ingest: ordering for %s: %w", unit, err)
			}
		}
		return p.releaseReady(ctx, unit)
	}

	var needParents *validate.NeedParentUnits
	if asNeedParents(verr, &needParents) {
		if err := p.store.SavePendingJoint(ctx, j, peer); err != nil {
			return fmt.Errorf("ingest: buffer joint %s: %w", unit, err)
		}
		for _, parent := range needParents.Units {
			if err := p.store.EnqueueDependency(ctx, unit, parent, peer); err != nil {
				return fmt.Errorf("ingest: enqueue dependency %s<-%s: %w", unit, parent, err)
			}
		}
		p.log.WithField("unit", unit).WithField("missing", needParents.Units).Debug("joint buffered, awaiting parents")
		return nil
	}

	p.log.WithField("unit", unit).WithError(verr).Warn("joint rejected")
	cascaded, cerr := p.store.WriteKnownBadCascade(ctx, unit, verr)
	if cerr != nil {
		return fmt.Errorf("ingest: cascade known-bad %s: %w", unit, cerr)
	}
	for _, u := range cascaded {
		if err := p.known.MarkBad(u, verr.Error()); err != nil {
			p.log.WithField("unit", u).WithError(err).Error("failed to record known-bad in cache")
		}
	}
	return verr
}

// releaseReady finds children waiting on parent that have no more
// missing dependencies and replays them through HandleJoint, in
// dependency order (§4.D).
func (p *Pipeline) releaseReady(ctx context.Context, parent string) error {
	children, err := p.store.ListUnhandledDependingOn(ctx, parent)
	if err != nil {
		return fmt.Errorf("ingest: list dependents of %s: %w", parent, err)
	}
	for _, child := range children {
		missing, err := p.store.CountMissingDependencies(ctx, child)
		if err != nil {
			return fmt.Errorf("ingest: count missing for %s: %w", child, err)
		}
		if missing > 0 {
			continue
		}
		joint, peer, err := p.store.GetPendingJoint(ctx, child)
		if err != nil {
			return fmt.Errorf("ingest: load pending joint %s: %w", child, err)
		}
		if err := p.store.ClearDependencies(ctx, child); err != nil {
			return fmt.Errorf("ingest: clear dependencies %s: %w", child, err)
		}
		if err := p.HandleJoint(ctx, joint, peer); err != nil {
			return err
		}
	}
	return nil
}

// SweepReady re-checks every buffered unit for missing dependencies and
// replays whichever have none, a periodic safety net for
// releaseReady's reactive, parent-arrival-triggered release (§4.D).
func (p *Pipeline) SweepReady(ctx context.Context) error {
	pending, err := p.store.ListPendingUnits(ctx)
	if err != nil {
		return fmt.Errorf("ingest: list pending units: %w", err)
	}
	for _, unit := range pending {
		missing, err := p.store.CountMissingDependencies(ctx, unit)
		if err != nil {
			return fmt.Errorf("ingest: count missing for %s: %w", unit, err)
		}
		if missing > 0 {
			continue
		}
		joint, peer, err := p.store.GetPendingJoint(ctx, unit)
		if err != nil {
			// Already released by a concurrent sweep or releaseReady call.
			continue
		}
		if err := p.store.ClearDependencies(ctx, unit); err != nil {
			return fmt.Errorf("ingest: clear dependencies %s: %w", unit, err)
		}
		if err := p.HandleJoint(ctx, joint, peer); err != nil {
			return err
		}
	}
	return nil
}

// LostJoints returns the buffered units whose youngest dependency row is
// older than timeout, candidates for re-request (§4.D).
func (p *Pipeline) LostJoints(ctx context.Context, timeout time.Duration) ([]string, error) {
	pending, err := p.store.ListPendingUnits(ctx)
	if err != nil {
		return nil, fmt.Errorf("ingest: list pending units: %w", err)
	}
	var lost []string
	for _, unit := range pending {
		age, ok, err := p.store.YoungestDependencyAge(ctx, unit)
		if err != nil {
			return nil, fmt.Errorf("ingest: dependency age for %s: %w", unit, err)
		}
		if ok && age > timeout {
			lost = append(lost, unit)
		}
	}
	return lost, nil
}

func asNeedParents(err error, target **validate.NeedParentUnits) bool {
	np, ok := err.(*validate.NeedParentUnits)
	if !ok {
		return false
	}
	*target = np
	return true
}
