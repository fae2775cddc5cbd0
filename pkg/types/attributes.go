package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Well-known keys stored in payment method details and plan feature sets.
const (
	AttrMethod = "method"
	AttrID     = "id"
	AttrBank   = "bank"
	AttrWallet = "wallet"
	AttrVPA    = "vpa"
	AttrCard   = "card_network"
)

// Attributes is an open key/value mapping persisted as JSONB. Known keys have
// typed accessors; unknown keys are preserved as-is.
type Attributes map[string]any

// Value marshals the map into JSON for Postgres.
func (a Attributes) Value() (driver.Value, error) {
	if a == nil {
		return "{}", nil
	}
	buf, err := json.Marshal(map[string]any(a))
	if err != nil {
		return nil, err
	}
	return string(buf), nil
}

// Scan decodes JSONB into the map.
func (a *Attributes) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("attributes: unsupported scan type %T", value)
	}

	result := make(Attributes)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return err
		}
	}
	*a = result
	return nil
}

// String returns the value stored under key when it is a string.
func (a Attributes) String(key string) (string, bool) {
	v, ok := a[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// StringOr returns the string stored under key, or fallback.
func (a Attributes) StringOr(key, fallback string) string {
	if s, ok := a.String(key); ok && s != "" {
		return s
	}
	return fallback
}

// Bool returns the value stored under key when it is a bool.
func (a Attributes) Bool(key string) (bool, bool) {
	v, ok := a[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Int returns the value stored under key as an int. JSON numbers decode as float64.
func (a Attributes) Int(key string) (int64, bool) {
	switch v := a[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

// Method returns the payment method label, "Unknown" when absent.
func (a Attributes) Method() string {
	return a.StringOr(AttrMethod, "Unknown")
}

// Merge returns a copy of a with other's entries laid over it.
func (a Attributes) Merge(other Attributes) Attributes {
	out := make(Attributes, len(a)+len(other))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Summary renders a feature set as "Key Name: value | ..." in key order.
func (a Attributes) Summary() string {
	if len(a) == 0 {
		return ""
	}
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		label := titleWords(strings.ReplaceAll(k, "_", " "))
		switch v := a[k].(type) {
		case bool:
			if v {
				parts = append(parts, label+": Yes")
			} else {
				parts = append(parts, label+": No")
			}
		default:
			parts = append(parts, fmt.Sprintf("%s: %v", label, v))
		}
	}
	return strings.Join(parts, " | ")
}

func titleWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}
