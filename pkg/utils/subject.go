package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// NormalizeSubject turns the free-form subject field into a JSON array, or
// nil for absent values.
//
// Lists pass through. A mapping is wrapped as a one-element array. Strings
// are first decoded as JSON (scrapers sometimes serialize the list into a
// string); when that fails, or yields a scalar, the trimmed string becomes a
// one-element array. Other scalars are stringified and wrapped.
func NormalizeSubject(v interface{}) []interface{} {
	if IsSentinel(v) {
		return nil
	}
	switch t := v.(type) {
	case []interface{}:
		return t
	case map[string]interface{}:
		return []interface{}{t}
	case string:
		s := strings.TrimSpace(t)
		decoded, err := DecodeJSON([]byte(s))
		if err != nil {
			return []interface{}{s}
		}
		switch d := decoded.(type) {
		case nil:
			return nil
		case []interface{}:
			return d
		case map[string]interface{}:
			return []interface{}{d}
		default:
			return []interface{}{s}
		}
	default:
		return []interface{}{Stringify(t)}
	}
}

// SubjectJSON encodes a normalized subject for storage; nil stays nil.
func SubjectJSON(subject []interface{}) ([]byte, error) {
	if subject == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(subject); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// DecodeJSON decodes a single JSON value keeping numbers as json.Number.
// Trailing data is an error.
func DecodeJSON(b []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("invalid JSON: trailing data at offset %d", dec.InputOffset())
	}
	return v, nil
}
