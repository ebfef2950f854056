// Package commission implements the Commission Engine of §4.G:
// headers-commission distribution among a stabilized unit's contending
// children (SHA-1 tie-break, round-half-up share split across
// recipients) and
// paid-witnessing distribution among the witnesses active in the
// qualifying main-chain window.
package commission

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/trustweave/dag-hub/pkg/config"
	"github.com/trustweave/dag-hub/pkg/entity"
	"github.com/trustweave/dag-hub/pkg/store"
)

// Engine distributes commission payouts as main-chain indexes stabilize.
type Engine struct {
	store *store.Store
	log   *logrus.Entry
}

func New(st *store.Store, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{store: st, log: log}
}

// OnMCIStabilized runs both distributions for a newly-stable main-chain
// index. Called by the ordering engine's stabilization cascade.
func (e *Engine) OnMCIStabilized(ctx context.Context, mci int64) error {
	if err := e.distributeHeadersCommission(ctx, mci); err != nil {
		return fmt.Errorf("commission: headers commission at mci %d: %w", mci, err)
	}
	if err := e.distributePaidWitnessing(ctx, mci); err != nil {
		return fmt.Errorf("commission: paid witnessing at mci %d: %w", mci, err)
	}
	return nil
}

// distributeHeadersCommission pays each good unit's headers_commission
// fee to the recipients of its winning child, chosen among all units
// that reference it as a parent by the lowest SHA-1(parent+child) hash.
func (e *Engine) distributeHeadersCommission(ctx context.Context, mci int64) error {
	units, err := e.store.UnitsAtMCI(ctx, mci)
	if err != nil {
		return fmt.Errorf("units at mci: %w", err)
	}
	shares := map[string]int64{}
	for _, u := range units {
		props, err := e.store.GetProps(ctx, u)
		if err != nil {
			return fmt.Errorf("props for %s: %w", u, err)
		}
		if props.Sequence != entity.SequenceGood || props.HeadersCommission == 0 {
			continue
		}
		children, err := e.store.Children(ctx, u)
		if err != nil {
			return fmt.Errorf("children of %s: %w", u, err)
		}
		if len(children) == 0 {
			continue // no child references u, so its headers commission is not paid out
		}
		winner := pickWinnerChild(u, children)
		recipients, err := e.store.GetRecipients(ctx, winner)
		if err != nil {
			return fmt.Errorf("recipients of %s: %w", winner, err)
		}
		if len(recipients) == 0 {
			authors, err := e.store.Authors(ctx, winner)
			if err != nil {
				return fmt.Errorf("authors of %s: %w", winner, err)
			}
			if len(authors) == 0 {
				continue
			}
			recipients = []entity.Recipient{{Address: authors[0], Share: 100}}
		}
		for addr, amt := range splitByShare(props.HeadersCommission, recipients) {
			shares[addr] += amt
		}
	}
	if len(shares) == 0 {
		return nil
	}
	return e.store.WriteHeadersCommissionOutputs(ctx, mci, shares)
}

// pickWinnerChild returns the child with the lowest SHA-1(parent+child)
// hex digest, the deterministic, unpredictable-in-advance tie-break
// get_winner_info uses to pick a single payee among non-serial children.
func pickWinnerChild(parent string, children []string) string {
	best := ""
	var bestHash string
	for _, c := range children {
		h := sha1.Sum([]byte(parent + c))
		hs := hex.EncodeToString(h[:])
		if best == "" || hs < bestHash {
			best, bestHash = c, hs
		}
	}
	return best
}

// splitByShare divides amount among recipients per their percentage
// share, rounding amount*share/100 to the nearest integer with exact
// halves rounded away from zero, matching the original's
// `(amount as f64 * share as f64 / 100.0).round()`.
func splitByShare(amount uint64, recipients []entity.Recipient) map[string]int64 {
	out := make(map[string]int64, len(recipients))
	for _, r := range recipients {
		out[r.Address] += roundShare(amount, r.Share)
	}
	return out
}

func roundShare(amount uint64, sharePercent int) int64 {
	num := new(big.Int).Mul(big.NewInt(int64(amount)), big.NewInt(int64(sharePercent)))
	den := big.NewInt(100)
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() == 0 {
		return q.Int64()
	}
	twice := new(big.Int).Mul(r, big.NewInt(2))
	twiceAbs := new(big.Int).Abs(twice)
	if twiceAbs.Cmp(den) >= 0 {
		// half or more: round away from zero; below half stays truncated
		q.Add(q, big.NewInt(int64(sign(r))))
	}
	return q.Int64()
}

func sign(x *big.Int) int {
	if x.Sign() < 0 {
		return -1
	}
	return 1
}

// distributePaidWitnessing pays the main-chain unit's payload_commission
// equally among the witnesses active in the preceding
// CountMCBallsForPaidWitnessing window, falling back to the full
// witness set when none authored a unit in that window.
func (e *Engine) distributePaidWitnessing(ctx context.Context, mci int64) error {
	maxSpendableMCI := mci - 1 - config.CountMCBallsForPaidWitnessing
	if maxSpendableMCI < 0 {
		return nil
	}
	unit, err := e.store.MainChainUnitAt(ctx, mci)
	if err != nil {
		return fmt.Errorf("main chain unit at %d: %w", mci, err)
	}
	props, err := e.store.GetProps(ctx, unit)
	if err != nil {
		return fmt.Errorf("props for %s: %w", unit, err)
	}
	if props.PayloadCommission == 0 {
		return nil
	}
	paid, err := e.buildPaidWitnesses(ctx, mci, unit)
	if err != nil {
		return fmt.Errorf("build paid witnesses: %w", err)
	}
	if len(paid) == 0 {
		return nil
	}
	shares := make(map[string]int64, len(paid))
	base := int64(props.PayloadCommission) / int64(len(paid))
	remainder := int64(props.PayloadCommission) % int64(len(paid))
	for i, w := range paid {
		amt := base
		if int64(i) < remainder {
			amt++
		}
		shares[w] += amt
	}
	return e.store.WriteWitnessingOutputs(ctx, mci, shares)
}

func (e *Engine) buildPaidWitnesses(ctx context.Context, mci int64, unit string) ([]string, error) {
	props, err := e.store.GetProps(ctx, unit)
	if err != nil {
		return nil, err
	}
	all, err := e.store.WitnessList(ctx, props.WitnessListUnit)
	if err != nil {
		return nil, fmt.Errorf("witness list of %s: %w", props.WitnessListUnit, err)
	}
	witnessSet := make(map[string]bool, len(all))
	for _, w := range all {
		witnessSet[w] = true
	}

	start := mci - config.CountMCBallsForPaidWitnessing
	if start < 0 {
		start = 0
	}
	seen := map[string]bool{}
	var found []string
	for probe := mci - 1; probe >= start; probe-- {
		u, err := e.store.MainChainUnitAt(ctx, probe)
		if err == store.ErrUnitNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		authors, err := e.store.Authors(ctx, u)
		if err != nil {
			return nil, err
		}
		for _, a := range authors {
			if witnessSet[a] && !seen[a] {
				seen[a] = true
				found = append(found, a)
			}
		}
	}
	if len(found) == 0 {
		return all, nil
	}
	sort.Strings(found)
	return found, nil
}
