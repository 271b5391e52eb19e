// Package codec serializes payload bodies and synchronized values as
// canonical JSON: object keys sorted, insignificant whitespace removed,
// numbers kept verbatim. Equal values always encode to equal bytes, which
// makes payload digests and vote tallies deterministic across processes.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var errTrailingData = errors.New("trailing data after json value")

// Encodable is an interface that must be implemented by a struct to be encoded.
type Encodable interface{}

// Decodable is an interface that must be implemented by a struct to be decoded.
type Decodable interface{}

// Encode value to a buffer of canonical JSON.
func Encode(value Encodable) ([]byte, error) {
	buf, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal json: %w", err)
	}
	return Canonical(buf)
}

// MustEncode encodes value or panics. Meant to be used in tests and for
// values that are always encodable (maps of raw messages).
func MustEncode(value Encodable) []byte {
	buf, err := Encode(value)
	if err != nil {
		panic(err.Error())
	}
	return buf
}

// Decode value from a JSON buffer.
func Decode(buf []byte, value Decodable) error {
	if err := json.Unmarshal(buf, value); err != nil {
		return fmt.Errorf("unmarshal json: %w", err)
	}
	return nil
}

// Canonical re-encodes raw JSON in canonical form. Numbers pass through
// verbatim so that canonicalization never changes their textual
// representation. Fails on anything that is not a single valid JSON value.
func Canonical(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if dec.More() {
		return nil, errTrailingData
	}
	// encoding/json writes map keys in sorted order
	buf, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal json: %w", err)
	}
	return buf, nil
}

// IsEmptyObject reports whether raw is the empty object sentinel {}.
// The sentinel is how a participant signals that it has nothing to propose.
func IsEmptyObject(raw []byte) bool {
	buf, err := Canonical(raw)
	if err != nil {
		return false
	}
	return bytes.Equal(buf, []byte("{}"))
}
