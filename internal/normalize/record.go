// Package normalize turns loosely-shaped backend JSON into snapshot models.
//
// The marketplace backend does not keep one schema: the same logical field
// shows up under different names depending on the endpoint and its age
// ("price", "precio", "unit_price"...). Every field is therefore read through
// an ordered list of candidate keys. The first key whose value converts to
// the requested type wins; null, missing and unconvertible values fall
// through to the next key. Keys may be dotted paths into nested objects and
// arrays ("company.id", "images.0.url").
package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Record is one backend object decoded without a schema
type Record map[string]any

// Lookup returns the first present, non-null value among keys
func (r Record) Lookup(keys ...string) (any, bool) {
	for _, key := range keys {
		if v, ok := r.path(key); ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// String returns the first value among keys that is a non-empty scalar
func (r Record) String(keys ...string) string {
	for _, key := range keys {
		v, ok := r.path(key)
		if !ok {
			continue
		}
		if s, ok := scalarString(v); ok && s != "" {
			return s
		}
	}
	return ""
}

// Decimal returns the first value among keys that parses as a number
func (r Record) Decimal(keys ...string) (decimal.Decimal, bool) {
	for _, key := range keys {
		v, ok := r.path(key)
		if !ok {
			continue
		}
		if d, ok := toDecimal(v); ok {
			return d, true
		}
	}
	return decimal.Zero, false
}

// Float returns the first value among keys that parses as a number
func (r Record) Float(keys ...string) (float64, bool) {
	d, ok := r.Decimal(keys...)
	if !ok {
		return 0, false
	}
	return d.InexactFloat64(), true
}

// Int returns the first value among keys that parses as a number, truncated
func (r Record) Int(keys ...string) (int, bool) {
	d, ok := r.Decimal(keys...)
	if !ok {
		return 0, false
	}
	return int(d.IntPart()), true
}

// Bool returns the first value among keys that reads as a boolean
func (r Record) Bool(keys ...string) bool {
	for _, key := range keys {
		v, ok := r.path(key)
		if !ok {
			continue
		}
		switch b := v.(type) {
		case bool:
			return b
		case string:
			if parsed, err := strconv.ParseBool(strings.TrimSpace(b)); err == nil {
				return parsed
			}
		case float64:
			return b != 0
		case json.Number:
			return b.String() != "0"
		}
	}
	return false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Time returns the first value among keys that parses as a timestamp.
// Strings are tried against common layouts; numbers are unix milliseconds.
func (r Record) Time(keys ...string) time.Time {
	for _, key := range keys {
		v, ok := r.path(key)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			for _, layout := range timeLayouts {
				if parsed, err := time.Parse(layout, strings.TrimSpace(t)); err == nil {
					return parsed.UTC()
				}
			}
		case float64, json.Number:
			if d, ok := toDecimal(t); ok && d.IsPositive() {
				return time.UnixMilli(d.IntPart()).UTC()
			}
		}
	}
	return time.Time{}
}

func (r Record) path(key string) (any, bool) {
	var cur any = map[string]any(r)
	for _, part := range strings.Split(key, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case Record:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

func scalarString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s), true
	case json.Number:
		return s.String(), true
	case float64:
		if s == math.Trunc(s) {
			return strconv.FormatInt(int64(s), 10), true
		}
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(s), true
	}
	return "", false
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case string:
		return ParseAmount(n)
	}
	return decimal.Zero, false
}

// ParseAmount parses a human-entered amount such as "12000", " $1,250.50 ".
// Currency symbols and thousands commas are dropped.
func ParseAmount(s string) (decimal.Decimal, bool) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-':
			return r
		case r == ',' || r == '$' || r == ' ' || r == '\u00a0':
			return -1
		}
		return r
	}, strings.TrimSpace(s))
	if cleaned == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
