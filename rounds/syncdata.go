package rounds

import (
	"fmt"
	"slices"

	"go.uber.org/zap/zapcore"
	"golang.org/x/exp/maps"
)

// Supermajority fraction required to finalize a round's outcome. Exposed so
// callers reason about the same constant the engine enforces.
const (
	ThresholdNumerator   = 2
	ThresholdDenominator = 3
)

// Threshold returns the minimal number of identical votes required for
// agreement among n participants: ceil(2n/3).
func Threshold(n int) int {
	return (n*ThresholdNumerator + ThresholdDenominator - 1) / ThresholdDenominator
}

// SynchronizedData is a snapshot of the replicated key/value state carried
// between rounds. Snapshots are immutable: Update and Rollover return new
// instances and never touch the receiver, so any number of observers may
// hold old snapshots without locking.
type SynchronizedData struct {
	participants int
	values       map[string][]byte
}

// NewSynchronizedData returns an empty snapshot for a fixed participant set
// size.
func NewSynchronizedData(participants int) *SynchronizedData {
	return &SynchronizedData{
		participants: participants,
		values:       map[string][]byte{},
	}
}

// Participants returns the size of the participant set for the period.
func (s *SynchronizedData) Participants() int { return s.participants }

// Threshold returns the supermajority threshold for the participant set.
func (s *SynchronizedData) Threshold() int { return Threshold(s.participants) }

// Get returns the value for key if it was ever written.
func (s *SynchronizedData) Get(key string) ([]byte, bool) {
	value, exist := s.values[key]
	return value, exist
}

// GetStrict returns the value for key or ErrMissingKey. A missing key after
// the producing round completed is a programming or configuration error, so
// there is no silent default.
func (s *SynchronizedData) GetStrict(key string) ([]byte, error) {
	value, exist := s.values[key]
	if !exist {
		return nil, fmt.Errorf("%w: %q", ErrMissingKey, key)
	}
	return value, nil
}

// Update returns a new snapshot layering kv atop the receiver. Existing keys
// are overwritten in the new snapshot only.
func (s *SynchronizedData) Update(kv map[string][]byte) *SynchronizedData {
	values := make(map[string][]byte, len(s.values)+len(kv))
	maps.Copy(values, s.values)
	maps.Copy(values, kv)
	return &SynchronizedData{participants: s.participants, values: values}
}

// Rollover returns the snapshot for the next period, keeping only the
// cross-period persisted keys. All other keys reset.
func (s *SynchronizedData) Rollover(persisted []string) *SynchronizedData {
	values := make(map[string][]byte, len(persisted))
	for _, key := range persisted {
		if value, exist := s.values[key]; exist {
			values[key] = value
		}
	}
	return &SynchronizedData{participants: s.participants, values: values}
}

// Keys returns the set of written keys in sorted order.
func (s *SynchronizedData) Keys() []string {
	keys := maps.Keys(s.values)
	slices.Sort(keys)
	return keys
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (s *SynchronizedData) MarshalLogObject(encoder zapcore.ObjectEncoder) error {
	encoder.AddInt("participants", s.participants)
	encoder.AddArray("keys", zapcore.ArrayMarshalerFunc(func(encoder zapcore.ArrayEncoder) error {
		for _, key := range s.Keys() {
			encoder.AppendString(key)
		}
		return nil
	}))
	return nil
}
