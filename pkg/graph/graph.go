// Package graph implements the Graph Queries of §4.C: partial-order
// comparison between units, ancestor inclusion, and frontier expansion
// by author. Every function takes a store.Reader so callers can test
// against an in-memory fake instead of a live database.
package graph

import (
	"context"
	"fmt"

	"github.com/trustweave/dag-hub/pkg/store"
)

// Relation is the result of Compare.
type Relation int

const (
	Incomparable Relation = iota
	Less                  // a is an ancestor of b
	Equal
	Greater // a is a descendant of b
)

func (r Relation) String() string {
	switch r {
	case Less:
		return "Less"
	case Equal:
		return "Equal"
	case Greater:
		return "Greater"
	default:
		return "Incomparable"
	}
}

// Compare decides the partial-order relation between a and b, using
// properties alone when possible and falling back to a bounded
// parenthood walk otherwise (§4.C).
func Compare(ctx context.Context, r store.Reader, a, b string) (Relation, error) {
	if a == b {
		return Equal, nil
	}
	pa, err := r.GetProps(ctx, a)
	if err != nil {
		return Incomparable, fmt.Errorf("graph: compare props(%s): %w", a, err)
	}
	pb, err := r.GetProps(ctx, b)
	if err != nil {
		return Incomparable, fmt.Errorf("graph: compare props(%s): %w", b, err)
	}

	// Fast path via main-chain-index bracketing, when both are on the
	// main chain: ancestry on the MC is total order.
	if pa.MainChainIndex >= 0 && pb.MainChainIndex >= 0 && pa.IsOnMainChain && pb.IsOnMainChain {
		switch {
		case pa.MainChainIndex < pb.MainChainIndex:
			return Less, nil
		case pa.MainChainIndex > pb.MainChainIndex:
			return Greater, nil
		}
	}

	if rel, ok, err := walk(ctx, r, a, b); err != nil {
		return Incomparable, err
	} else if ok {
		return rel, nil
	}
	return Incomparable, nil
}

// walk performs the bounded ancestor search described in §4.C: every
// hop strictly shrinks the candidate frontier, and the search terminates
// once the frontier's levels drop below the target's level.
func walk(ctx context.Context, r store.Reader, a, b string) (Relation, bool, error) {
	// Is a an ancestor of b?
	if ancestor, err := isAncestor(ctx, r, a, b); err != nil {
		return Incomparable, false, err
	} else if ancestor {
		return Less, true, nil
	}
	// Is b an ancestor of a?
	if ancestor, err := isAncestor(ctx, r, b, a); err != nil {
		return Incomparable, false, err
	} else if ancestor {
		return Greater, true, nil
	}
	return Incomparable, false, nil
}

func isAncestor(ctx context.Context, r store.Reader, earlier, later string) (bool, error) {
	earlierProps, err := r.GetProps(ctx, earlier)
	if err != nil {
		return false, err
	}
	visited := map[string]bool{later: true}
	frontier := []string{later}
	for len(frontier) > 0 {
		var next []string
		for _, u := range frontier {
			if u == earlier {
				return true, nil
			}
			up, err := r.GetProps(ctx, u)
			if err != nil {
				return false, err
			}
			if up.Level < earlierProps.Level {
				continue // this branch can no longer reach earlier
			}
			parents, err := r.Parents(ctx, u)
			if err != nil {
				return false, err
			}
			for _, p := range parents {
				if !visited[p] {
					visited[p] = true
					next = append(next, p)
				}
			}
		}
		frontier = next
	}
	return false, nil
}

// IsIncluded returns true iff earlier is an ancestor of some element of
// laterSet. Short-circuits per §4.C: laterSet member whose
// latest_included_mc_index already covers earlier's MCI, or whose level
// is already below earlier's, needs no walk.
func IsIncluded(ctx context.Context, r store.Reader, earlier string, laterSet []string) (bool, error) {
	earlierProps, err := r.GetProps(ctx, earlier)
	if err != nil {
		return false, fmt.Errorf("graph: is_included props(%s): %w", earlier, err)
	}
	for _, later := range laterSet {
		laterProps, err := r.GetProps(ctx, later)
		if err != nil {
			return false, fmt.Errorf("graph: is_included props(%s): %w", later, err)
		}
		if earlierProps.MainChainIndex >= 0 && laterProps.LatestIncludedMCIndex >= earlierProps.MainChainIndex {
			return true, nil
		}
		if laterProps.Level < earlierProps.Level {
			continue
		}
		ok, err := isAncestor(ctx, r, earlier, later)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// DescendantsByAuthorsBeforeMCI expands the frontier from earlier along
// parenthood edges (in the child direction) collecting units authored by
// any of authors, stopping a branch once its main_chain_index exceeds
// toMCI or its latest_included_mc_index already covers earlier's MCI
// (§4.C).
func DescendantsByAuthorsBeforeMCI(ctx context.Context, r store.Reader, earlier string, authors map[string]bool, toMCI int64) ([]string, error) {
	earlierProps, err := r.GetProps(ctx, earlier)
	if err != nil {
		return nil, fmt.Errorf("graph: descendants props(%s): %w", earlier, err)
	}

	var found []string
	visited := map[string]bool{earlier: true}
	frontier := []string{earlier}
	for len(frontier) > 0 {
		var next []string
		for _, u := range frontier {
			children, err := r.Children(ctx, u)
			if err != nil {
				return nil, err
			}
			for _, c := range children {
				if visited[c] {
					continue
				}
				visited[c] = true
				cp, err := r.GetProps(ctx, c)
				if err != nil {
					return nil, err
				}
				if cp.MainChainIndex >= 0 && cp.MainChainIndex > toMCI {
					continue
				}
				if cp.LatestIncludedMCIndex >= earlierProps.MainChainIndex && earlierProps.MainChainIndex >= 0 {
					continue
				}
				addrs, err := r.Authors(ctx, c)
				if err != nil {
					return nil, err
				}
				for _, a := range addrs {
					if authors[a] {
						found = append(found, c)
						break
					}
				}
				next = append(next, c)
			}
		}
		frontier = next
	}
	return found, nil
}
