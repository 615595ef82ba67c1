package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// bigIntPrefix marks integers that would lose precision as plain JSON numbers
// in other consumers of the persisted documents and API responses.
const bigIntPrefix = "bigint:"

// BigInt is an arbitrary-precision integer that serializes as "bigint:<decimal>".
type BigInt struct {
	big.Int
}

// NewBigInt returns a BigInt holding x.
func NewBigInt(x int64) BigInt {
	var b BigInt
	b.SetInt64(x)
	return b
}

func (b BigInt) MarshalJSON() ([]byte, error) {
	return json.Marshal(bigIntPrefix + b.Int.String())
}

// UnmarshalJSON accepts the marker string or a bare JSON number.
func (b *BigInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if !strings.HasPrefix(s, bigIntPrefix) {
			return fmt.Errorf("bigint: missing %q marker in %q", bigIntPrefix, s)
		}
		if _, ok := b.Int.SetString(strings.TrimPrefix(s, bigIntPrefix), 10); !ok {
			return fmt.Errorf("bigint: invalid integer %q", s)
		}
		return nil
	}
	if _, ok := b.Int.SetString(string(data), 10); !ok {
		return fmt.Errorf("bigint: invalid integer %s", data)
	}
	return nil
}

// Marshal encodes v as JSON. Typed fields use BigInt; untyped trees
// (map[string]any, []any) have their *big.Int values escaped.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(escape(v))
}

// Unmarshal decodes data into v. When v is *any, marker strings anywhere in
// the decoded tree are restored to *big.Int.
func Unmarshal(data []byte, v any) error {
	if p, ok := v.(*any); ok {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		*p = revive(raw)
		return nil
	}
	return json.Unmarshal(data, v)
}

func escape(v any) any {
	switch t := v.(type) {
	case *big.Int:
		if t == nil {
			return nil
		}
		return bigIntPrefix + t.String()
	case big.Int:
		return bigIntPrefix + t.String()
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = escape(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = escape(e)
		}
		return out
	default:
		return v
	}
}

func revive(v any) any {
	switch t := v.(type) {
	case string:
		if !strings.HasPrefix(t, bigIntPrefix) {
			return t
		}
		n, ok := new(big.Int).SetString(strings.TrimPrefix(t, bigIntPrefix), 10)
		if !ok {
			return t
		}
		return n
	case json.Number:
		s := t.String()
		if !strings.ContainsAny(s, ".eE") && !fitsFloat(s) {
			if n, ok := new(big.Int).SetString(s, 10); ok {
				return n
			}
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = revive(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = revive(e)
		}
		return t
	default:
		return v
	}
}

// fitsFloat reports whether an integer literal survives a float64 round trip.
func fitsFloat(s string) bool {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return false
	}
	return n.IsInt64() && n.Int64() <= 1<<53 && n.Int64() >= -(1<<53)
}
