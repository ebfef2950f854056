package store

import "github.com/trustweave/dag-hub/pkg/entity"

// UnitProps is the derived per-unit property row of §3, the subset the
// ordering/graph/commission packages read and write without needing the
// full unit payload.
type UnitProps struct {
	Unit                  string
	Level                 uint64
	WitnessedLevel        uint64
	BestParentUnit        string
	WitnessListUnit       string
	LatestIncludedMCIndex int64
	MainChainIndex        int64
	IsOnMainChain         bool
	IsFree                bool
	IsStable              bool
	Sequence              entity.Sequence
	HeadersCommission     uint64
	PayloadCommission     uint64
	ContentHash           string
}

// DependencyRow is one row of the §4.D missing-parent buffer: a child
// waiting on a not-yet-persisted parent.
type DependencyRow struct {
	ChildUnit     string
	DependsOnUnit string
	Peer          string
}
