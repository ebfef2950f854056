package witnessproof

import (
	"context"
	"fmt"

	"github.com/trustweave/dag-hub/pkg/config"
	"github.com/trustweave/dag-hub/pkg/entity"
	"github.com/trustweave/dag-hub/pkg/store"
)

// Request is what a behind peer sends: the mci it already considers
// stable, the newest mci it knows about at all (possibly unstable
// still), and the witness list it trusts.
type Request struct {
	LastStableMCI int64    `json:"last_stable_mci"`
	LastKnownMCI  int64    `json:"last_known_mci"`
	Witnesses     []string `json:"witnesses"`
}

// Chain is the response: the unstable main-chain tail, the chain of
// stable last-ball joints bridging the witness-proof handoff back down
// to the peer's last-stable point, and any witness definition changes
// in between.
type Chain struct {
	UnstableMCJoints           []entity.Joint `json:"unstable_mc_joints"`
	StableLastBallJoints       []entity.Joint `json:"stable_last_ball_joints"`
	WitnessChangeAndDefinition []entity.Joint `json:"witness_change_and_definition"`
}

// PrepareChain builds a witness proof anchored at req.LastStableMCI,
// then walks last_ball_unit links backward from that proof's handoff
// point until reaching a unit at or below req.LastStableMCI.
func PrepareChain(ctx context.Context, st *store.Store, req Request) (*Chain, error) {
	if req.LastStableMCI > req.LastKnownMCI {
		return nil, fmt.Errorf("witnessproof: last_stable_mci must be <= last_known_mci")
	}
	if len(req.Witnesses) != config.WitnessCount {
		return nil, fmt.Errorf("witnessproof: expected %d witnesses, got %d", config.WitnessCount, len(req.Witnesses))
	}

	if req.LastKnownMCI > 0 {
		unit, err := st.MainChainUnitAt(ctx, req.LastKnownMCI)
		if err == nil {
			props, err := st.GetProps(ctx, unit)
			if err != nil {
				return nil, fmt.Errorf("witnessproof: props at known mci: %w", err)
			}
			if props.IsStable {
				return nil, store.ErrCatchupAlreadyCurrent
			}
		} else if err != store.ErrUnitNotFound {
			return nil, fmt.Errorf("witnessproof: main chain unit at known mci: %w", err)
		}
	}

	proof, err := Prepare(ctx, st, req.Witnesses, req.LastStableMCI)
	if err != nil {
		return nil, err
	}

	var stableLastBallJoints []entity.Joint
	lastBallUnit := proof.LastBallUnit
	for {
		joint, err := st.GetJoint(ctx, lastBallUnit)
		if err != nil {
			return nil, fmt.Errorf("witnessproof: get last-ball joint %s: %w", lastBallUnit, err)
		}
		nextLastBallUnit := joint.Unit.LastBallUnit
		stableLastBallJoints = append(stableLastBallJoints, *joint)

		props, err := st.GetProps(ctx, lastBallUnit)
		if err != nil {
			return nil, fmt.Errorf("witnessproof: props for %s: %w", lastBallUnit, err)
		}
		if props.MainChainIndex <= req.LastStableMCI || nextLastBallUnit == "" {
			break
		}
		lastBallUnit = nextLastBallUnit
	}

	return &Chain{
		UnstableMCJoints:           proof.UnstableMCJoints,
		StableLastBallJoints:       stableLastBallJoints,
		WitnessChangeAndDefinition: proof.WitnessChangeAndDefinition,
	}, nil
}

// PurgeHandledBalls drops staged hash-tree balls whose joints have
// since arrived and been persisted normally.
func PurgeHandledBalls(ctx context.Context, st *store.Store) error {
	return st.PurgeHandledHashTreeBalls(ctx)
}
