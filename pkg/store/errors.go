package store

import "errors"

// Sentinel errors for store operations: explicit error values instead
// of a bare nil, nil for "not found".
var (
	ErrUnitNotFound       = errors.New("store: unit not found")
	ErrBallNotFound       = errors.New("store: ball not found")
	ErrOutputNotFound     = errors.New("store: output not found")
	ErrWitnessListNotFound = errors.New("store: no witness_list_unit matches the given witnesses")
	ErrCatchupAlreadyCurrent = errors.New("store: peer is already caught up")
)
