// Package canon implements the deterministic canonical byte encoding of
// §4.A: sorted object keys, omitted null/absent fields, tagged scalars,
// bracketed sequences, and a zero-byte field separator. The same encoding
// drives both hashing/signing and the tagged-unit size accounting used
// for commission computation.
package canon

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strconv"
)

const sep = 0x00

// Encode renders v (built from map[string]any / []any / scalars) as the
// canonical byte string described in spec §4.A.
func Encode(v any) []byte {
	var buf []byte
	return appendValue(buf, v)
}

func appendValue(buf []byte, v any) []byte {
	switch t := v.(type) {
	case nil:
		// Null/absent fields are omitted entirely by the caller before
		// reaching here; a bare nil renders as nothing.
		return buf
	case bool:
		buf = append(buf, 'b')
		if t {
			buf = append(buf, '1')
		} else {
			buf = append(buf, '0')
		}
		return append(buf, sep)
	case string:
		buf = append(buf, 's')
		buf = append(buf, []byte(t)...)
		return append(buf, sep)
	case int:
		return appendNumber(buf, float64(t))
	case int64:
		return appendNumber(buf, float64(t))
	case uint64:
		return appendNumber(buf, float64(t))
	case float64:
		return appendNumber(buf, t)
	case map[string]any:
		return appendObject(buf, t)
	case []any:
		return appendArray(buf, t)
	case []string:
		arr := make([]any, len(t))
		for i, s := range t {
			arr[i] = s
		}
		return appendArray(buf, arr)
	default:
		panic(fmt.Sprintf("canon: unsupported value type %T", v))
	}
}

func appendNumber(buf []byte, f float64) []byte {
	buf = append(buf, 'n')
	buf = append(buf, []byte(strconv.FormatFloat(f, 'g', -1, 64))...)
	return append(buf, sep)
}

func appendObject(buf []byte, m map[string]any) []byte {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if v == nil {
			continue // null/absent fields are omitted entirely
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf = append(buf, '{')
	for _, k := range keys {
		buf = append(buf, 's')
		buf = append(buf, []byte(k)...)
		buf = append(buf, sep)
		buf = appendValue(buf, m[k])
	}
	buf = append(buf, '}')
	return append(buf, sep)
}

func appendArray(buf []byte, arr []any) []byte {
	buf = append(buf, '[')
	for _, v := range arr {
		buf = appendValue(buf, v)
	}
	buf = append(buf, ']')
	return append(buf, sep)
}

// Hash returns SHA-256 of the canonical encoding of v.
func Hash(v any) [32]byte {
	return sha256.Sum256(Encode(v))
}

// Size measures v in the tagged units spec §4.A defines for commission
// computation: bool=1, number=8, string=len(code points), containers
// contribute nothing themselves (only their contents count).
func Size(v any) uint64 {
	switch t := v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int:
		return 8
	case int64:
		return 8
	case uint64:
		return 8
	case float64:
		return 8
	case string:
		return uint64(len([]rune(t)))
	case map[string]any:
		var total uint64
		for k, v := range t {
			if v == nil {
				continue
			}
			total += uint64(len([]rune(k)))
			total += Size(v)
		}
		return total
	case []any:
		var total uint64
		for _, v := range t {
			total += Size(v)
		}
		return total
	case []string:
		var total uint64
		for _, s := range t {
			total += uint64(len([]rune(s)))
		}
		return total
	default:
		panic(fmt.Sprintf("canon: unsupported value type %T", v))
	}
}
