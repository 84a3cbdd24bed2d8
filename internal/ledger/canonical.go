package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// canonicalJSON encodes v deterministically: object keys sorted bytewise, no
// insignificant whitespace, no HTML escaping, numbers normalised.
//
// The output feeds HashChain. Changing any rule here changes the hash of
// every historical entry.
func canonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(t))
	case string:
		return writeCanonicalString(buf, t)
	case json.Number:
		return writeCanonicalNumber(buf, t)
	case float64:
		return writeCanonicalFloat(buf, t)
	case float32:
		return writeCanonicalFloat(buf, float64(t))
	case int:
		buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int8:
		buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int16:
		buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int32:
		buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(t, 10))
	case uint:
		return writeCanonicalUint(buf, uint64(t))
	case uint8:
		return writeCanonicalUint(buf, uint64(t))
	case uint16:
		return writeCanonicalUint(buf, uint64(t))
	case uint32:
		return writeCanonicalUint(buf, uint64(t))
	case uint64:
		return writeCanonicalUint(buf, t)
	case map[string]any:
		if t == nil {
			buf.WriteString("null")
			return nil
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonicalString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
		}
		buf.WriteByte('}')
	case []any:
		if t == nil {
			buf.WriteString("null")
			return nil
		}
		buf.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return fmt.Errorf("index %d: %w", i, err)
			}
		}
		buf.WriteByte(']')
	default:
		// Anything else (typed maps, slices, structs) is reduced to the generic
		// JSON tree first so it canonicalises the same way after a storage
		// round trip.
		var generic any
		if err := detachJSON(t, &generic); err != nil {
			return fmt.Errorf("canonicalise %T: %w", t, err)
		}
		return writeCanonical(buf, generic)
	}
	return nil
}

func writeCanonicalString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}

// writeCanonicalNumber writes n by its exact decimal value. Equal values
// with different spellings ("1.50", "15e-1") produce the same bytes; distinct
// values never collapse, however many digits they carry.
func writeCanonicalNumber(buf *bytes.Buffer, n json.Number) error {
	neg, digits, exp, err := parseDecimal(string(n))
	if err != nil {
		return err
	}
	writeDecimal(buf, neg, digits, exp)
	return nil
}

func writeCanonicalFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("unsupported number %v", f)
	}
	return writeCanonicalNumber(buf, json.Number(strconv.FormatFloat(f, 'g', -1, 64)))
}

func writeCanonicalUint(buf *bytes.Buffer, u uint64) error {
	buf.WriteString(strconv.FormatUint(u, 10))
	return nil
}

// maxDecimalExponent bounds exponents so position arithmetic cannot overflow.
const maxDecimalExponent = 1 << 30

// parseDecimal splits a JSON number into sign, significant digits with no
// leading or trailing zeros, and exponent, so that the value is
// digits * 10^exp. Zero is returned as empty digits.
func parseDecimal(s string) (neg bool, digits string, exp int64, err error) {
	invalid := func() (bool, string, int64, error) {
		return false, "", 0, fmt.Errorf("invalid number %q", s)
	}
	rest := s
	if strings.HasPrefix(rest, "-") {
		neg, rest = true, rest[1:]
	}
	intPart := leadingDigits(rest)
	if intPart == "" {
		return invalid()
	}
	rest = rest[len(intPart):]
	var frac string
	if strings.HasPrefix(rest, ".") {
		frac = leadingDigits(rest[1:])
		if frac == "" {
			return invalid()
		}
		rest = rest[1+len(frac):]
	}
	if rest != "" {
		if rest[0] != 'e' && rest[0] != 'E' {
			return invalid()
		}
		e, perr := strconv.ParseInt(strings.TrimPrefix(rest[1:], "+"), 10, 64)
		if perr != nil || e > maxDecimalExponent || e < -maxDecimalExponent {
			return invalid()
		}
		exp = e
	}

	digits = strings.TrimLeft(intPart+frac, "0")
	exp -= int64(len(frac))
	trimmed := strings.TrimRight(digits, "0")
	exp += int64(len(digits) - len(trimmed))
	digits = trimmed
	if digits == "" {
		return false, "", 0, nil
	}
	return neg, digits, exp, nil
}

func leadingDigits(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i]
}

// writeDecimal renders digits * 10^exp. Values whose decimal point falls
// within [-6, 21] digits are written positionally, others in
// d.ddde[+-]n form.
func writeDecimal(buf *bytes.Buffer, neg bool, digits string, exp int64) {
	if digits == "" {
		buf.WriteByte('0')
		return
	}
	if neg {
		buf.WriteByte('-')
	}
	point := int64(len(digits)) + exp
	switch {
	case point > 21 || point < -5:
		buf.WriteByte(digits[0])
		if len(digits) > 1 {
			buf.WriteByte('.')
			buf.WriteString(digits[1:])
		}
		buf.WriteByte('e')
		if point-1 >= 0 {
			buf.WriteByte('+')
		}
		buf.WriteString(strconv.FormatInt(point-1, 10))
	case exp >= 0:
		buf.WriteString(digits)
		buf.WriteString(strings.Repeat("0", int(exp)))
	case point > 0:
		buf.WriteString(digits[:point])
		buf.WriteByte('.')
		buf.WriteString(digits[point:])
	default:
		buf.WriteString("0.")
		buf.WriteString(strings.Repeat("0", int(-point)))
		buf.WriteString(digits)
	}
}
