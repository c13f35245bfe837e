// Package canonical produces a deterministic JSON form of arbitrary payloads
// and the SHA-256 digest used as the anchoring identity.
//
// Mapping keys are sorted by byte order at every depth, arrays keep their
// order, and the output carries no whitespace. Strings and numbers are
// written the way JavaScript's JSON.stringify writes them so digests agree
// with producers on other runtimes.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"unicode/utf8"
)

type undefined struct{}

// Undefined marks an absent value. Mapping entries holding it are dropped;
// inside arrays it serializes as null.
var Undefined = undefined{}

// Canonicalize returns a structurally equal value whose mappings are rebuilt
// with sorted keys. Primitives are returned unchanged.
func Canonicalize(value any) any {
	switch v := value.(type) {
	case map[string]any:
		keys := sortedKeys(v)
		out := make(map[string]any, len(keys))
		for _, k := range keys {
			if v[k] == Undefined {
				continue
			}
			out[k] = Canonicalize(v[k])
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Canonicalize(item)
		}
		return out
	default:
		return value
	}
}

// CanonicalJSON serializes value in canonical form.
func CanonicalJSON(value any) (string, error) {
	var buf bytes.Buffer
	if err := encode(&buf, value); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Hash returns the lowercase hex SHA-256 of the canonical JSON of value.
func Hash(value any) (string, error) {
	canonical, err := CanonicalJSON(value)
	if err != nil {
		return "", err
	}
	return HashCanonical(canonical), nil
}

// HashCanonical hashes an already canonical JSON string.
func HashCanonical(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Decode parses JSON into the generic tree Canonicalize understands.
// Numbers decode to float64.
func Decode(data []byte) (any, error) {
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func encode(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case nil:
		buf.WriteString("null")
	case undefined:
		buf.WriteString("null")
	case bool:
		if v {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		writeString(buf, v)
	case float64:
		writeNumber(buf, v)
	case float32:
		writeNumber(buf, float64(v))
	case int:
		writeNumber(buf, float64(v))
	case int8:
		writeNumber(buf, float64(v))
	case int16:
		writeNumber(buf, float64(v))
	case int32:
		writeNumber(buf, float64(v))
	case int64:
		writeNumber(buf, float64(v))
	case uint:
		writeNumber(buf, float64(v))
	case uint8:
		writeNumber(buf, float64(v))
	case uint16:
		writeNumber(buf, float64(v))
	case uint32:
		writeNumber(buf, float64(v))
	case uint64:
		writeNumber(buf, float64(v))
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return fmt.Errorf("canonical: invalid number %q: %w", v.String(), err)
		}
		writeNumber(buf, f)
	case map[string]any:
		buf.WriteByte('{')
		first := true
		for _, k := range sortedKeys(v) {
			if v[k] == Undefined {
				continue
			}
			if !first {
				buf.WriteByte(',')
			}
			first = false
			writeString(buf, k)
			buf.WriteByte(':')
			if err := encode(buf, v[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		normalized, err := normalize(value)
		if err != nil {
			return err
		}
		return encode(buf, normalized)
	}
	return nil
}

// normalize routes structs, typed maps, slices and pointers through
// encoding/json so they reach the encoder as generic trees.
func normalize(value any) (any, error) {
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("canonical: unsupported value of type %T: %w", value, err)
	}
	out, err := Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: normalize %T: %w", value, err)
	}
	return out, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeNumber(buf *bytes.Buffer, f float64) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		buf.WriteString("null")
		return
	}
	if f == 0 {
		buf.WriteByte('0')
		return
	}
	format := byte('f')
	if abs := math.Abs(f); abs < 1e-6 || abs >= 1e21 {
		format = 'e'
	}
	b := strconv.AppendFloat(nil, f, format, -1, 64)
	if format == 'e' {
		// e-07 -> e-7
		n := len(b)
		if n >= 4 && b[n-4] == 'e' && b[n-3] == '-' && b[n-2] == '0' {
			b[n-2] = b[n-1]
			b = b[:n-1]
		}
	}
	buf.Write(b)
}

const hexDigits = "0123456789abcdef"

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			switch c {
			case '"':
				buf.WriteString(`\"`)
			case '\\':
				buf.WriteString(`\\`)
			case '\b':
				buf.WriteString(`\b`)
			case '\f':
				buf.WriteString(`\f`)
			case '\n':
				buf.WriteString(`\n`)
			case '\r':
				buf.WriteString(`\r`)
			case '\t':
				buf.WriteString(`\t`)
			default:
				if c < 0x20 {
					buf.WriteString(`\u00`)
					buf.WriteByte(hexDigits[c>>4])
					buf.WriteByte(hexDigits[c&0xf])
				} else {
					buf.WriteByte(c)
				}
			}
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			buf.WriteString("\ufffd")
			i++
			continue
		}
		buf.WriteString(s[i : i+size])
		i += size
	}
	buf.WriteByte('"')
}
