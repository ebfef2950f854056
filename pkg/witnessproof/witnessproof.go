// Package witnessproof implements the witness-proof and catch-up
// handoff of §4.I: bring a peer that already trusts a witness list, but
// is behind on the main chain, forward to a recent stable ball without
// shipping the whole DAG. The proof path is an ordered chain of ball
// steps (unit hash + skiplist predecessors) rather than a binary Merkle
// tree.
package witnessproof

import (
	"context"
	"fmt"

	"github.com/trustweave/dag-hub/pkg/config"
	"github.com/trustweave/dag-hub/pkg/entity"
	"github.com/trustweave/dag-hub/pkg/store"
)

// Proof is the bundle handed to a peer that already knows the given
// witness list: the unstable tail of the main chain (so it can verify
// the witnesses are still authoring), any address-definition changes
// those witnesses have made, and the newest ball the peer can adopt as
// a trusted anchor given that witness list.
type Proof struct {
	UnstableMCJoints           []entity.Joint
	WitnessChangeAndDefinition []entity.Joint
	LastBallUnit               string
	LastBallMCI                int64
}

// Prepare walks the unstable main chain newest-first, collecting
// witness authorships until a supermajority of the witness list has
// been seen authoring units; every unit that completes that
// supermajority contributes its last_ball_unit as a candidate handoff
// point, and the candidate with the highest main_chain_index wins.
func Prepare(ctx context.Context, st *store.Store, witnesses []string, lastStableMCI int64) (*Proof, error) {
	if len(witnesses) != config.WitnessCount {
		return nil, fmt.Errorf("witnessproof: expected %d witnesses, got %d", config.WitnessCount, len(witnesses))
	}
	isWitness := make(map[string]bool, len(witnesses))
	for _, w := range witnesses {
		isWitness[w] = true
	}

	units, err := st.UnstableMainChainUnitsDesc(ctx)
	if err != nil {
		return nil, fmt.Errorf("witnessproof: unstable main chain units: %w", err)
	}

	var unstableJoints []entity.Joint
	var candidateLastBalls []string
	found := make(map[string]bool, len(witnesses))
	for _, unit := range units {
		joint, err := st.GetJoint(ctx, unit)
		if err != nil {
			return nil, fmt.Errorf("witnessproof: get joint %s: %w", unit, err)
		}
		// The unit is unstable by construction, so it has no ball yet;
		// strip any stray ball the caller's store might still report.
		joint.Ball = ""
		for _, a := range joint.Unit.Authors {
			if isWitness[a.Address] {
				found[a.Address] = true
			}
		}
		if joint.Unit.LastBallUnit != "" && len(found) >= config.SupermajorityThreshold {
			candidateLastBalls = append(candidateLastBalls, joint.Unit.LastBallUnit)
		}
		unstableJoints = append(unstableJoints, *joint)
	}

	if len(candidateLastBalls) == 0 {
		return nil, fmt.Errorf("witnessproof: witness list too far off, too few witness-authored units")
	}

	lastBallUnit, lastBallMCI, err := newestByMCI(ctx, st, candidateLastBalls)
	if err != nil {
		return nil, err
	}
	if lastStableMCI >= lastBallMCI {
		return nil, store.ErrCatchupAlreadyCurrent
	}

	sinceMCI := int64(0)
	if lastStableMCI > 0 {
		sinceMCI = lastStableMCI
	}
	changeJoints, err := witnessChangeAndDefinition(ctx, st, witnesses, sinceMCI)
	if err != nil {
		return nil, err
	}

	return &Proof{
		UnstableMCJoints:           unstableJoints,
		WitnessChangeAndDefinition: changeJoints,
		LastBallUnit:               lastBallUnit,
		LastBallMCI:                lastBallMCI,
	}, nil
}

// witnessChangeAndDefinition collects stable, good units authored by a
// witness that also carry that witness's definition, i.e. a first
// appearance or a definition change, since sinceMCI.
func witnessChangeAndDefinition(ctx context.Context, st *store.Store, witnesses []string, sinceMCI int64) ([]entity.Joint, error) {
	candidates, err := st.WitnessAuthoredCandidates(ctx, witnesses, sinceMCI)
	if err != nil {
		return nil, fmt.Errorf("witnessproof: witness authored candidates: %w", err)
	}
	isWitness := make(map[string]bool, len(witnesses))
	for _, w := range witnesses {
		isWitness[w] = true
	}
	var joints []entity.Joint
	for _, unit := range candidates {
		joint, err := st.GetJoint(ctx, unit)
		if err != nil {
			return nil, fmt.Errorf("witnessproof: get joint %s: %w", unit, err)
		}
		carriesDefinition := false
		for _, a := range joint.Unit.Authors {
			if isWitness[a.Address] && a.Definition != nil {
				carriesDefinition = true
				break
			}
		}
		if carriesDefinition {
			joints = append(joints, *joint)
		}
	}
	return joints, nil
}

func newestByMCI(ctx context.Context, st *store.Store, units []string) (string, int64, error) {
	best, bestMCI := "", int64(-1)
	for _, u := range units {
		props, err := st.GetProps(ctx, u)
		if err != nil {
			return "", 0, fmt.Errorf("witnessproof: props for %s: %w", u, err)
		}
		if props.MainChainIndex > bestMCI {
			best, bestMCI = u, props.MainChainIndex
		}
	}
	return best, bestMCI, nil
}
