package graph_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trustweave/dag-hub/pkg/entity"
	"github.com/trustweave/dag-hub/pkg/graph"
	"github.com/trustweave/dag-hub/pkg/store"
)

// fakeReader is a minimal in-memory store.Reader used to exercise graph
// queries without a database, built directly over a small hand-wired DAG:
//
//	genesis -> a -> b -> d
//	            \-> c -/
type fakeReader struct {
	parents map[string][]string
	props   map[string]*store.UnitProps
	authors map[string][]string
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		parents: map[string][]string{
			"a": {"genesis"},
			"b": {"a"},
			"c": {"a"},
			"d": {"b", "c"},
		},
		props: map[string]*store.UnitProps{
			"genesis": {Unit: "genesis", Level: 0, MainChainIndex: 0, LatestIncludedMCIndex: -1, IsOnMainChain: true},
			"a":       {Unit: "a", Level: 1, MainChainIndex: 1, LatestIncludedMCIndex: -1, IsOnMainChain: true},
			"b":       {Unit: "b", Level: 2, MainChainIndex: -1, LatestIncludedMCIndex: -1},
			"c":       {Unit: "c", Level: 2, MainChainIndex: -1, LatestIncludedMCIndex: -1},
			"d":       {Unit: "d", Level: 3, MainChainIndex: 2, LatestIncludedMCIndex: -1, IsOnMainChain: true},
		},
		authors: map[string][]string{
			"a": {"ADDR1"},
			"b": {"ADDR2"},
			"c": {"ADDR1"},
			"d": {"ADDR2"},
		},
	}
}

func (f *fakeReader) GetJoint(ctx context.Context, unit string) (*entity.Joint, error) {
	return nil, store.ErrUnitNotFound
}
func (f *fakeReader) GetProps(ctx context.Context, unit string) (*store.UnitProps, error) {
	p, ok := f.props[unit]
	if !ok {
		return nil, store.ErrUnitNotFound
	}
	return p, nil
}
func (f *fakeReader) Parents(ctx context.Context, unit string) ([]string, error) {
	return f.parents[unit], nil
}
func (f *fakeReader) Children(ctx context.Context, unit string) ([]string, error) {
	var out []string
	for child, ps := range f.parents {
		for _, p := range ps {
			if p == unit {
				out = append(out, child)
			}
		}
	}
	return out, nil
}
func (f *fakeReader) ListFreeUnits(ctx context.Context) ([]string, error) { return []string{"d"}, nil }
func (f *fakeReader) FindWitnessListUnit(ctx context.Context, witnesses []string, maxMCI int64) (string, error) {
	return "", store.ErrWitnessListNotFound
}
func (f *fakeReader) GetBallForUnit(ctx context.Context, unit string) (string, error) {
	return "", store.ErrBallNotFound
}
func (f *fakeReader) WitnessList(ctx context.Context, unit string) ([]string, error) { return nil, nil }
func (f *fakeReader) Authors(ctx context.Context, unit string) ([]string, error) {
	return f.authors[unit], nil
}
func (f *fakeReader) UnitsAtMCI(ctx context.Context, mci int64) ([]string, error) {
	var out []string
	for u, p := range f.props {
		if p.MainChainIndex == mci {
			out = append(out, u)
		}
	}
	return out, nil
}
func (f *fakeReader) MainChainUnitAt(ctx context.Context, mci int64) (string, error) {
	for u, p := range f.props {
		if p.MainChainIndex == mci && p.IsOnMainChain {
			return u, nil
		}
	}
	return "", store.ErrUnitNotFound
}
func (f *fakeReader) LastStableMCI(ctx context.Context) (int64, error) { return 0, nil }

func TestCompareAncestor(t *testing.T) {
	r := newFakeReader()
	rel, err := graph.Compare(context.Background(), r, "genesis", "d")
	require.NoError(t, err)
	require.Equal(t, graph.Less, rel)
}

func TestCompareDescendant(t *testing.T) {
	r := newFakeReader()
	rel, err := graph.Compare(context.Background(), r, "d", "a")
	require.NoError(t, err)
	require.Equal(t, graph.Greater, rel)
}

func TestCompareIncomparable(t *testing.T) {
	r := newFakeReader()
	rel, err := graph.Compare(context.Background(), r, "b", "c")
	require.NoError(t, err)
	require.Equal(t, graph.Incomparable, rel)
}

func TestCompareEqual(t *testing.T) {
	r := newFakeReader()
	rel, err := graph.Compare(context.Background(), r, "b", "b")
	require.NoError(t, err)
	require.Equal(t, graph.Equal, rel)
}

func TestIsIncluded(t *testing.T) {
	r := newFakeReader()
	ok, err := graph.IsIncluded(context.Background(), r, "a", []string{"b", "c"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = graph.IsIncluded(context.Background(), r, "d", []string{"b", "c"})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDescendantsByAuthorsBeforeMCI(t *testing.T) {
	r := newFakeReader()
	found, err := graph.DescendantsByAuthorsBeforeMCI(context.Background(), r, "genesis", map[string]bool{"ADDR1": true}, 10)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "c"}, found)
}
