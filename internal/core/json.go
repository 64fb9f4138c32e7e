package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// CanonicalMarshal serializes a value to canonical JSON: object keys
// sorted, compact separators, decimals pre-rendered as strings by the
// caller. encoding/json already sorts map keys, so the contract here is
// that every composite value is a map[string]any, []any, string, bool,
// or integer produced by a ToMap method.
func CanonicalMarshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Digest returns the sha256 of the canonical JSON rendering, truncated
// to 16 hex chars. Used for replay digests and decision context hashes.
func Digest(v any) (string, error) {
	b, err := CanonicalMarshal(v)
	if err != nil {
		return "", err
	}
	return DigestBytes(b), nil
}

// DigestBytes hashes raw bytes with the same truncation rule.
func DigestBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16]
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("not an integer: %v", n)
		}
		return int64(n), nil
	case json.Number:
		return n.Int64()
	default:
		return 0, fmt.Errorf("not an integer: %T", v)
	}
}

func asDecimal(v any) (decimal.Decimal, error) {
	switch d := v.(type) {
	case string:
		return decimal.NewFromString(d)
	case decimal.Decimal:
		return d, nil
	case json.Number:
		return decimal.NewFromString(d.String())
	default:
		return decimal.Decimal{}, fmt.Errorf("not a decimal string: %T", v)
	}
}
