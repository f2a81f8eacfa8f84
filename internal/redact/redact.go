// Package redact strips secrets from free-form event details before they are
// hashed and stored.
package redact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
)

const (
	// Marker replaces any value considered sensitive
	Marker = "[REDACTED]"

	// TruncatedMarker replaces values nested deeper than MaxDepth
	TruncatedMarker = "[TRUNCATED]"

	// MaxDepth is the deepest nesting level that is still walked
	MaxDepth = 8
)

// sensitiveFragments are matched case-insensitively against map keys
var sensitiveFragments = []string{
	"password",
	"secret",
	"token",
	"authorization",
	"cookie",
	"session",
	"api_key",
	"private_key",
	"access_key",
	"client_secret",
}

// secretMarkers flag a whole string value as a credential
var secretMarkers = []string{
	"bearer ",
	"sk_live_",
	"rk_live_",
	"whsec_",
	"private key-----",
}

// Redact returns a deep copy of value with sensitive fields and secret-looking
// strings replaced by Marker. The input is never modified.
func Redact(value any) any {
	return redactValue(value, 0)
}

// IsSensitiveKey reports whether a map key names a secret-bearing field.
// "apiKey", "x-api-key" and "API_KEY" all match the api_key fragment.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	compact := compactKey(lower)
	for _, fragment := range sensitiveFragments {
		if strings.Contains(lower, fragment) || strings.Contains(compact, compactKey(fragment)) {
			return true
		}
	}
	return false
}

// ContainsSecret reports whether s carries a known credential prefix
func ContainsSecret(s string) bool {
	lower := strings.ToLower(s)
	for _, m := range secretMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func compactKey(s string) string {
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(s)
}

// redactString drops NUL characters, which Postgres rejects in TEXT and
// JSONB, before checking for secrets
func redactString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	if ContainsSecret(s) {
		return Marker
	}
	return s
}

func redactValue(v any, depth int) any {
	if depth > MaxDepth {
		return TruncatedMarker
	}

	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return redactString(t)
	case bool, json.Number, float64, float32,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[strings.ReplaceAll(k, "\x00", "")] = redactEntry(k, val, depth)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = redactValue(val, depth+1)
		}
		return out
	case json.RawMessage:
		return redactValue(decodeJSON(t, v), depth)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return redactValue(rv.Elem().Interface(), depth)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key().String()
			out[strings.ReplaceAll(k, "\x00", "")] = redactEntry(k, iter.Value().Interface(), depth)
		}
		return out
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			break
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = redactValue(rv.Index(i).Interface(), depth+1)
		}
		return out
	case reflect.String:
		return redactString(rv.String())
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}

	// Structs, byte slices and anything else go through their JSON form.
	return redactValue(normalize(v), depth)
}

func redactEntry(key string, val any, depth int) any {
	if IsSensitiveKey(key) {
		return Marker
	}
	return redactValue(val, depth+1)
}

// normalize converts v to plain JSON values. Values that cannot be
// serialized are replaced by a minimal {"value": "..."} stand-in.
func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return fallback(v)
	}
	return decodeJSON(data, v)
}

func decodeJSON(data []byte, original any) any {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return fallback(original)
	}
	return out
}

func fallback(v any) map[string]any {
	return map[string]any{"value": redactString(fmt.Sprint(v))}
}
