// Package types defines the identifiers shared by the agreement engine:
// participant addresses, payload digests and round names.
package types

import (
	"encoding/hex"
	"fmt"

	"go.uber.org/zap/zapcore"
)

const (
	// NodeIDSize in bytes.
	NodeIDSize = 20
	// Hash32Size in bytes.
	Hash32Size = 32
)

// NodeID is the address of a participant. The participant set is fixed per
// period and loaded from configuration; the engine never mints these.
type NodeID [NodeIDSize]byte

// EmptyNodeID is a canonical empty NodeID.
var EmptyNodeID NodeID

// BytesToNodeID sets the last NodeIDSize bytes of b as the id.
func BytesToNodeID(b []byte) NodeID {
	var id NodeID
	if len(b) > NodeIDSize {
		b = b[len(b)-NodeIDSize:]
	}
	copy(id[NodeIDSize-len(b):], b)
	return id
}

// Bytes returns the byte representation of the id.
func (id NodeID) Bytes() []byte { return id[:] }

// String returns a 0x prefixed hex representation of the id.
func (id NodeID) String() string { return "0x" + hex.EncodeToString(id[:]) }

// ShortString returns the first few characters of the hex representation,
// for logging purposes.
func (id NodeID) ShortString() string { return shorten(id.String()) }

// MarshalText implements encoding.TextMarshaler. Used when a NodeID keys a
// JSON object, e.g. the per-participant collection stored in the
// synchronized data.
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *NodeID) UnmarshalText(data []byte) error {
	s := string(data)
	if len(s) < 2 || s[:2] != "0x" {
		return fmt.Errorf("node id %q: missing 0x prefix", s)
	}
	b, err := hex.DecodeString(s[2:])
	if err != nil {
		return fmt.Errorf("node id %q: %w", s, err)
	}
	if len(b) != NodeIDSize {
		return fmt.Errorf("node id %q: expected %d bytes", s, NodeIDSize)
	}
	copy(id[:], b)
	return nil
}

// Hash32 is a 32-byte blake3 digest of arbitrary data.
type Hash32 [Hash32Size]byte

// Bytes returns the byte representation of the hash.
func (h Hash32) Bytes() []byte { return h[:] }

// Hex converts the hash to a 0x prefixed hex string.
func (h Hash32) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

// String implements the stringer interface.
func (h Hash32) String() string { return h.Hex() }

// ShortString returns the first few characters of the hash, for logging
// purposes.
func (h Hash32) ShortString() string { return shorten(h.Hex()) }

// RoundID is the stable name of a round within an application graph.
type RoundID string

func (r RoundID) String() string { return string(r) }

func shorten(s string) string {
	// drop the 0x prefix and keep 5 characters
	if len(s) <= 2 {
		return s
	}
	if len(s) > 7 {
		return s[2:7]
	}
	return s[2:]
}

// Participants is the fixed, ordered set of participants for a period.
type Participants []NodeID

// Contains reports whether id belongs to the set.
func (p Participants) Contains(id NodeID) bool {
	for _, other := range p {
		if other == id {
			return true
		}
	}
	return false
}

// MarshalLogArray implements zapcore.ArrayMarshaler.
func (p Participants) MarshalLogArray(encoder zapcore.ArrayEncoder) error {
	for _, id := range p {
		encoder.AppendString(id.ShortString())
	}
	return nil
}
