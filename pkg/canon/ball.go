package canon

import (
	"encoding/base64"
	"sort"
)

// BallHash computes a stabilized unit's ball: its unit hash tied
// to its main-chain parent's ball and any skiplist balls, run through
// the same canonical encoding as every other protocol hash.
func BallHash(unitHash string, parentBalls []string, skiplistBalls []string, isNonserial bool) [32]byte {
	obj := map[string]any{"unit": unitHash}
	if len(parentBalls) > 0 {
		sorted := append([]string{}, parentBalls...)
		sort.Strings(sorted)
		obj["parent_balls"] = sorted
	}
	if len(skiplistBalls) > 0 {
		sorted := append([]string{}, skiplistBalls...)
		sort.Strings(sorted)
		obj["skiplist_balls"] = sorted
	}
	if isNonserial {
		obj["is_nonserial"] = true
	}
	return Hash(obj)
}

// BallHashString is BallHash base64-encoded, the store's on-disk form.
func BallHashString(unitHash string, parentBalls []string, skiplistBalls []string, isNonserial bool) string {
	h := BallHash(unitHash, parentBalls, skiplistBalls, isNonserial)
	return base64.StdEncoding.EncodeToString(h[:])
}
