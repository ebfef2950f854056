// Package order implements the Ordering & Stability Engine of §4.F:
// level/witnessed-level/best-parent assignment on insertion, main-chain
// advance, the stabilization cascade, and non-serial conflict
// resolution (see DESIGN.md for how findStableConflictingUnits and
// isStableAt resolve the two open questions in this area).
package order

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/trustweave/dag-hub/pkg/canon"
	"github.com/trustweave/dag-hub/pkg/commission"
	"github.com/trustweave/dag-hub/pkg/config"
	"github.com/trustweave/dag-hub/pkg/entity"
	"github.com/trustweave/dag-hub/pkg/events"
	"github.com/trustweave/dag-hub/pkg/store"
)

// Engine is the Ordering Engine. It implements ingest.Stabilizer so the
// joint-ingestion pipeline can drive it without importing this package.
type Engine struct {
	store      *store.Store
	commission *commission.Engine
	bus        *events.Bus
	witnesses  []string // the fixed, protocol-wide witness set (spec §1 non-goal: no dynamic election)
	log        *logrus.Entry

	// minRetrievableMCI is an in-process bookkeeping value for §4.F step
	// 3; it is not persisted since no storage layout in §6 names a
	// column for it and nothing in this module reads it back across a
	// restart — a full GC/pruning subsystem would give it a home.
	minRetrievableMCI int64
}

// New builds an Engine. witnessAddresses is the fixed W-member witness
// set from Config.
func New(st *store.Store, comm *commission.Engine, bus *events.Bus, witnessAddresses []string, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{store: st, commission: comm, bus: bus, witnesses: witnessAddresses, log: log, minRetrievableMCI: -1}
}

// OnUnitAdded implements ingest.Stabilizer: it runs on every freshly
// persisted unit, in order under the ingestion pipeline's writer lock
// (§5 point 1), so no two units race through level/best-parent
// assignment.
func (e *Engine) OnUnitAdded(ctx context.Context, unit string) error {
	j, err := e.store.GetJoint(ctx, unit)
	if err != nil {
		return fmt.Errorf("order: load joint %s: %w", unit, err)
	}
	u := &j.Unit

	if len(u.ParentUnits) == 0 {
		return e.persistGenesis(ctx, u)
	}

	parentProps := make(map[string]*store.UnitProps, len(u.ParentUnits))
	var maxParentLevel uint64
	for _, p := range u.ParentUnits {
		pp, err := e.store.GetProps(ctx, p)
		if err != nil {
			return fmt.Errorf("order: parent props %s: %w", p, err)
		}
		parentProps[p] = pp
		if pp.Level > maxParentLevel {
			maxParentLevel = pp.Level
		}
	}
	level := maxParentLevel + 1

	witnessListUnit, err := e.resolveWitnessListUnit(ctx, u)
	if err != nil {
		return fmt.Errorf("order: resolve witness list unit: %w", err)
	}

	bestParent := chooseBestParent(u.ParentUnits, parentProps, witnessListUnit)
	if bestParent == "" {
		return fmt.Errorf("order: no parent of %s shares its witness list unit", unit)
	}

	unitWitnesses, err := e.unitWitnesses(ctx, u)
	if err != nil {
		return fmt.Errorf("order: resolve witnesses of %s: %w", unit, err)
	}
	witnessedLevel, err := e.computeWitnessedLevel(ctx, unitWitnesses, bestParent)
	if err != nil {
		return fmt.Errorf("order: witnessed level: %w", err)
	}

	var limci int64 = -1
	for _, pp := range parentProps {
		v := pp.LatestIncludedMCIndex
		if pp.IsOnMainChain {
			v = pp.MainChainIndex
		}
		if v > limci {
			limci = v
		}
	}

	props := &store.UnitProps{
		Unit:                  unit,
		Level:                 level,
		WitnessedLevel:        witnessedLevel,
		BestParentUnit:        bestParent,
		WitnessListUnit:       witnessListUnit,
		LatestIncludedMCIndex: limci,
		MainChainIndex:        -1,
		IsOnMainChain:         false,
		IsFree:                true,
		IsStable:              false,
		Sequence:              entity.SequenceGood,
		HeadersCommission:     u.HeadersCommission,
		PayloadCommission:     u.PayloadCommission,
	}

	if err := e.demoteConflictsAndClassify(ctx, u, props); err != nil {
		return err
	}

	if err := e.store.SetOrderingProps(ctx, props); err != nil {
		return fmt.Errorf("order: persist ordering props for %s: %w", unit, err)
	}

	return e.advanceMainChain(ctx)
}

// persistGenesis seeds the DAG's root: level 0, immediately stable and
// on the main chain at mci 0, per spec §8 scenario 1.
func (e *Engine) persistGenesis(ctx context.Context, u *entity.Unit) error {
	props := &store.UnitProps{
		Unit:                  u.Unit_,
		Level:                 0,
		WitnessedLevel:        0,
		BestParentUnit:        "",
		WitnessListUnit:       u.Unit_,
		LatestIncludedMCIndex: -1,
		MainChainIndex:        0,
		IsOnMainChain:         true,
		IsFree:                true,
		IsStable:              true,
		Sequence:              entity.SequenceGood,
		HeadersCommission:     u.HeadersCommission,
		PayloadCommission:     u.PayloadCommission,
	}
	if err := e.store.SetOrderingProps(ctx, props); err != nil {
		return fmt.Errorf("order: persist genesis props: %w", err)
	}
	if err := e.store.SetBall(ctx, u.Unit_, entity.GenesisBall, nil); err != nil {
		return fmt.Errorf("order: set genesis ball: %w", err)
	}
	e.minRetrievableMCI = 0
	if e.bus != nil {
		e.bus.Publish(events.MciStable, int64(0))
	}
	return nil
}

// resolveWitnessListUnit returns the unit whose declared witness list u
// shares: itself when u carries an explicit list not seen before,
// u.WitnessListUnit when set, or the highest-mci unit that already
// declared the same explicit list (§3 global invariants).
func (e *Engine) resolveWitnessListUnit(ctx context.Context, u *entity.Unit) (string, error) {
	if u.WitnessListUnit != "" {
		return u.WitnessListUnit, nil
	}
	if len(u.Witnesses) == 0 {
		return "", fmt.Errorf("unit %s declares neither witnesses nor witness_list_unit", u.Unit_)
	}
	existing, err := e.store.FindWitnessListUnit(ctx, u.Witnesses, math.MaxInt64)
	if err == nil {
		return existing, nil
	}
	if err == store.ErrWitnessListNotFound {
		return u.Unit_, nil
	}
	return "", err
}

func (e *Engine) unitWitnesses(ctx context.Context, u *entity.Unit) ([]string, error) {
	if len(u.Witnesses) > 0 {
		return u.Witnesses, nil
	}
	if u.WitnessListUnit != "" {
		return e.store.WitnessList(ctx, u.WitnessListUnit)
	}
	return nil, fmt.Errorf("unit %s declares neither witnesses nor witness_list_unit", u.Unit_)
}

// chooseBestParent implements the §4.F tie-break: maximize
// (witnessed_level, -(level-witnessed_level), unit-hash ascending),
// restricted to parents sharing u's witness_list_unit.
func chooseBestParent(parents []string, props map[string]*store.UnitProps, witnessListUnit string) string {
	var best string
	var bestWL uint64
	var bestDelta uint64
	for _, p := range parents {
		pp := props[p]
		if pp.WitnessListUnit != witnessListUnit {
			continue
		}
		delta := pp.Level - pp.WitnessedLevel
		switch {
		case best == "":
			best, bestWL, bestDelta = p, pp.WitnessedLevel, delta
		case pp.WitnessedLevel > bestWL:
			best, bestWL, bestDelta = p, pp.WitnessedLevel, delta
		case pp.WitnessedLevel == bestWL && delta < bestDelta:
			best, bestWL, bestDelta = p, pp.WitnessedLevel, delta
		case pp.WitnessedLevel == bestWL && delta == bestDelta && p < best:
			best, bestWL, bestDelta = p, pp.WitnessedLevel, delta
		}
	}
	return best
}

// computeWitnessedLevel walks the best-parent chain from start,
// accumulating non-witness ancestor-author addresses until W-M distinct
// entries are seen, per spec §3's definition. Falls back to 0 if the
// chain terminates (genesis) first.
func (e *Engine) computeWitnessedLevel(ctx context.Context, witnesses []string, start string) (uint64, error) {
	witnessSet := make(map[string]bool, len(witnesses))
	for _, w := range witnesses {
		witnessSet[w] = true
	}
	threshold := config.WitnessCount - config.SupermajorityThreshold
	seen := map[string]bool{}
	cur := start
	for cur != "" {
		props, err := e.store.GetProps(ctx, cur)
		if err != nil {
			return 0, err
		}
		authors, err := e.store.Authors(ctx, cur)
		if err != nil {
			return 0, err
		}
		for _, a := range authors {
			if !witnessSet[a] {
				seen[a] = true
			}
		}
		if len(seen) >= threshold {
			return props.Level, nil
		}
		if props.BestParentUnit == "" {
			return 0, nil
		}
		cur = props.BestParentUnit
	}
	return 0, nil
}

// demoteConflictsAndClassify checks whether u's transfer inputs are
// already claimed by another persisted unit; if so, both u and the
// earlier (non-stable) spender(s) become temp-bad, tolerated as
// non-serial until stabilization resolves the winner (§3's "is_unique=0
// tolerated while conflicting units are non-serial").
func (e *Engine) demoteConflictsAndClassify(ctx context.Context, u *entity.Unit, props *store.UnitProps) error {
	refs := store.InputRefsOf(u)
	conflicting := false
	for _, ref := range refs {
		others, err := e.store.FindSpendersOfOutput(ctx, ref)
		if err != nil {
			return fmt.Errorf("order: find spenders of %s[%d][%d]: %w", ref.Unit, ref.MessageIndex, ref.OutputIndex, err)
		}
		for _, other := range others {
			if other == u.Unit_ {
				continue
			}
			conflicting = true
			op, err := e.store.GetProps(ctx, other)
			if err != nil || op.IsStable {
				continue
			}
			if op.Sequence == entity.SequenceGood {
				op.Sequence = entity.SequenceTempBad
				if err := e.store.SetOrderingProps(ctx, op); err != nil {
					return fmt.Errorf("order: demote conflicting unit %s: %w", other, err)
				}
			}
		}
	}
	if conflicting {
		props.Sequence = entity.SequenceTempBad
	}
	return nil
}

// advanceMainChain picks the best free unit, walks its best-parent chain
// down to the first already-indexed ancestor, assigns main_chain_index
// to the new segment (and to every off-chain ancestor beneath it), then
// tries to stabilize (§4.F).
func (e *Engine) advanceMainChain(ctx context.Context) error {
	free, err := e.store.ListFreeUnits(ctx)
	if err != nil {
		return fmt.Errorf("order: list free units: %w", err)
	}
	if len(free) == 0 {
		return nil
	}
	best, err := e.pickBestFreeUnit(ctx, free)
	if err != nil {
		return err
	}

	var chain []string
	cur := best
	var attachProps *store.UnitProps
	for {
		props, err := e.store.GetProps(ctx, cur)
		if err != nil {
			return fmt.Errorf("order: main chain walk props %s: %w", cur, err)
		}
		if props.MainChainIndex >= 0 {
			attachProps = props
			break
		}
		chain = append(chain, cur)
		if props.BestParentUnit == "" {
			attachProps = props // genesis itself, index 0 already set in persistGenesis
			break
		}
		cur = props.BestParentUnit
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	nextIndex := int64(0)
	if attachProps != nil && attachProps.MainChainIndex >= 0 {
		nextIndex = attachProps.MainChainIndex + 1
	}
	for _, mcUnit := range chain {
		props, err := e.store.GetProps(ctx, mcUnit)
		if err != nil {
			return fmt.Errorf("order: reload mc unit %s: %w", mcUnit, err)
		}
		props.MainChainIndex = nextIndex
		props.IsOnMainChain = true
		if err := e.store.SetOrderingProps(ctx, props); err != nil {
			return fmt.Errorf("order: assign mci to %s: %w", mcUnit, err)
		}
		if err := e.assignSubtreeMCI(ctx, mcUnit, nextIndex); err != nil {
			return err
		}
		nextIndex++
	}

	return e.tryStabilize(ctx)
}

// assignSubtreeMCI gives every off-main-chain ancestor of mcUnit the
// same main_chain_index, stopping at units already indexed (an earlier
// main-chain unit, or a previously-assigned off-chain unit).
func (e *Engine) assignSubtreeMCI(ctx context.Context, unit string, mci int64) error {
	parents, err := e.store.Parents(ctx, unit)
	if err != nil {
		return fmt.Errorf("order: parents of %s: %w", unit, err)
	}
	for _, p := range parents {
		props, err := e.store.GetProps(ctx, p)
		if err != nil {
			return fmt.Errorf("order: subtree props %s: %w", p, err)
		}
		if props.MainChainIndex >= 0 {
			continue
		}
		props.MainChainIndex = mci
		props.IsOnMainChain = false
		if err := e.store.SetOrderingProps(ctx, props); err != nil {
			return fmt.Errorf("order: assign subtree mci to %s: %w", p, err)
		}
		if err := e.assignSubtreeMCI(ctx, p, mci); err != nil {
			return err
		}
	}
	return nil
}

// pickBestFreeUnit picks the free unit maximizing (witnessed_level,
// level, unit-hash ascending), the main-chain-advance starting point of
// §4.F.
func (e *Engine) pickBestFreeUnit(ctx context.Context, free []string) (string, error) {
	var best string
	var bestProps *store.UnitProps
	for _, u := range free {
		props, err := e.store.GetProps(ctx, u)
		if err != nil {
			return "", fmt.Errorf("order: free unit props %s: %w", u, err)
		}
		if bestProps == nil ||
			props.WitnessedLevel > bestProps.WitnessedLevel ||
			(props.WitnessedLevel == bestProps.WitnessedLevel && props.Level > bestProps.Level) ||
			(props.WitnessedLevel == bestProps.WitnessedLevel && props.Level == bestProps.Level && u < best) {
			best, bestProps = u, props
		}
	}
	return best, nil
}

// tryStabilize advances is_stable forward from the current last-stable
// MCI as long as M distinct witnesses have authored units strictly
// later on the main chain (§4.F; DESIGN.md's
// determin_if_stable_in_laster_units resolution).
func (e *Engine) tryStabilize(ctx context.Context) error {
	last, err := e.store.LastStableMCI(ctx)
	if err != nil {
		return fmt.Errorf("order: last stable mci: %w", err)
	}
	for mci := last + 1; ; mci++ {
		if _, err := e.store.MainChainUnitAt(ctx, mci); err == store.ErrUnitNotFound {
			return nil
		} else if err != nil {
			return fmt.Errorf("order: main chain unit at %d: %w", mci, err)
		}
		stable, err := e.isStableAt(ctx, mci)
		if err != nil {
			return err
		}
		if !stable {
			return nil
		}
		if err := e.stabilizeMCI(ctx, mci); err != nil {
			return fmt.Errorf("order: stabilize mci %d: %w", mci, err)
		}
	}
}

func (e *Engine) isStableAt(ctx context.Context, mci int64) (bool, error) {
	witnessSet := make(map[string]bool, len(e.witnesses))
	for _, w := range e.witnesses {
		witnessSet[w] = true
	}
	seen := map[string]bool{}
	for probe := mci + 1; ; probe++ {
		unit, err := e.store.MainChainUnitAt(ctx, probe)
		if err == store.ErrUnitNotFound {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		authors, err := e.store.Authors(ctx, unit)
		if err != nil {
			return false, err
		}
		for _, a := range authors {
			if witnessSet[a] {
				seen[a] = true
			}
		}
		if len(seen) >= config.SupermajorityThreshold {
			return true, nil
		}
	}
}

// stabilizeMCI runs the five-step cascade of §4.F for a newly-stable
// main-chain index.
func (e *Engine) stabilizeMCI(ctx context.Context, mci int64) error {
	units, err := e.store.UnitsAtMCI(ctx, mci)
	if err != nil {
		return fmt.Errorf("order: units at mci %d: %w", mci, err)
	}
	for _, u := range units {
		props, err := e.store.GetProps(ctx, u)
		if err != nil {
			return fmt.Errorf("order: props for stabilizing %s: %w", u, err)
		}
		if props.IsStable {
			continue
		}
		props.IsStable = true

		switch props.Sequence {
		case entity.SequenceFinalBad:
			if props.ContentHash == "" {
				if err := e.setContentHash(ctx, u, props); err != nil {
					return err
				}
			}
		case entity.SequenceTempBad:
			conflicts, err := e.findStableConflictingUnits(ctx, u)
			if err != nil {
				return fmt.Errorf("order: find stable conflicting units for %s: %w", u, err)
			}
			if len(conflicts) > 0 {
				props.Sequence = entity.SequenceFinalBad
				e.log.WithField("unit", u).WithField("competitors", conflicts).Info("non-serial unit loses, becomes final-bad")
				if err := e.setContentHash(ctx, u, props); err != nil {
					return err
				}
			} else {
				props.Sequence = entity.SequenceGood
				if err := e.markInputsUnique(ctx, u); err != nil {
					return err
				}
			}
		default: // good
			if err := e.markInputsUnique(ctx, u); err != nil {
				return err
			}
		}

		if err := e.store.SetOrderingProps(ctx, props); err != nil {
			return fmt.Errorf("order: persist stabilized props for %s: %w", u, err)
		}

		if props.IsOnMainChain {
			if err := e.assignBall(ctx, u, mci, props.Sequence != entity.SequenceGood); err != nil {
				return fmt.Errorf("order: assign ball for %s: %w", u, err)
			}
		}
	}

	e.minRetrievableMCI = mci

	if e.commission != nil {
		if err := e.commission.OnMCIStabilized(ctx, mci); err != nil {
			return fmt.Errorf("order: commission engine for mci %d: %w", mci, err)
		}
	}
	if e.bus != nil {
		e.bus.Publish(events.MciStable, mci)
	}
	return nil
}

// findStableConflictingUnits resolves spec §9's open question: scan
// every other spender of u's claimed outputs and keep those that are
// already stable and good — i.e. the competitor that actually won.
func (e *Engine) findStableConflictingUnits(ctx context.Context, u string) ([]string, error) {
	j, err := e.store.GetJoint(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("order: load joint %s: %w", u, err)
	}
	refs := store.InputRefsOf(&j.Unit)
	var conflicts []string
	seen := map[string]bool{}
	for _, ref := range refs {
		others, err := e.store.FindSpendersOfOutput(ctx, ref)
		if err != nil {
			return nil, err
		}
		for _, other := range others {
			if other == u || seen[other] {
				continue
			}
			op, err := e.store.GetProps(ctx, other)
			if err != nil {
				return nil, err
			}
			if op.IsStable && op.Sequence == entity.SequenceGood {
				seen[other] = true
				conflicts = append(conflicts, other)
			}
		}
	}
	return conflicts, nil
}

// assignBall computes and persists the ball for a newly-stable
// main-chain unit. The parent ball is the previous main-chain unit's ball
// (guaranteed to already exist: stabilization always proceeds mci-by-mci
// in increasing order); skiplist balls are omitted as a simplification
// since nothing in this codebase builds the skip-list jump table the
// original catch-up optimization relies on.
func (e *Engine) assignBall(ctx context.Context, unit string, mci int64, isNonserial bool) error {
	var parentBalls []string
	if mci > 0 {
		prevUnit, err := e.store.MainChainUnitAt(ctx, mci-1)
		if err != nil {
			return fmt.Errorf("order: previous main chain unit: %w", err)
		}
		prevBall, err := e.store.GetBallForUnit(ctx, prevUnit)
		if err != nil {
			return fmt.Errorf("order: previous ball: %w", err)
		}
		parentBalls = []string{prevBall}
	}
	ball := canon.BallHashString(unit, parentBalls, nil, isNonserial)
	return e.store.SetBall(ctx, unit, ball, nil)
}

func (e *Engine) setContentHash(ctx context.Context, unit string, props *store.UnitProps) error {
	j, err := e.store.GetJoint(ctx, unit)
	if err != nil {
		return fmt.Errorf("order: load joint for content hash %s: %w", unit, err)
	}
	props.ContentHash = canon.ContentHashString(&j.Unit)
	return nil
}

func (e *Engine) markInputsUnique(ctx context.Context, unit string) error {
	j, err := e.store.GetJoint(ctx, unit)
	if err != nil {
		return fmt.Errorf("order: load joint to mark unique %s: %w", unit, err)
	}
	refs := store.InputRefsOf(&j.Unit)
	if len(refs) == 0 {
		return nil
	}
	return e.store.MarkOutputsUnique(ctx, refs)
}

// MinRetrievableMCI returns the lowest MCI the hub should still serve
// full joint data for (§4.F step 3); advisory only, not persisted.
func (e *Engine) MinRetrievableMCI() int64 { return e.minRetrievableMCI }
