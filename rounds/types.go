package rounds

import (
	"encoding/json"
	"errors"

	"go.uber.org/zap/zapcore"

	"github.com/spacemeshos/agreement/codec"
	"github.com/spacemeshos/agreement/common/types"
	"github.com/spacemeshos/agreement/hash"
)

// Event tags the outcome of a round and drives the transition lookup.
// Applications declare one closed event set per graph; the graph is checked
// for completeness when it is built.
type Event string

// Events shared by every application graph.
const (
	// EventDone is emitted when a supermajority agreed on a value.
	EventDone Event = "done"
	// EventNoAction is emitted when the agreed value is the empty sentinel
	// or carries a negative status flag. Not an error.
	EventNoAction Event = "no_action"
	// EventNoMajority is emitted when no value can reach the threshold
	// anymore. Not an error.
	EventNoMajority Event = "no_majority"
	// EventRoundTimeout is forced by the engine when a round exceeds its
	// configured duration.
	EventRoundTimeout Event = "round_timeout"
)

func (e Event) String() string { return string(e) }

var (
	// ErrMissingKey is returned by GetStrict for a key that was never
	// written. Downstream logic assumes required keys exist once a round
	// completed, so lookups fail fast instead of defaulting.
	ErrMissingKey = errors.New("synchronized data: missing key")
	// ErrAlreadySubmitted is returned when a sender submits a second,
	// conflicting payload for the same round.
	ErrAlreadySubmitted = errors.New("sender already submitted a conflicting payload")
	// ErrWrongPayloadType is returned for a payload whose type tag is not
	// the one the active round collects.
	ErrWrongPayloadType = errors.New("payload type not collected by this round")
	// ErrWrongRound is returned for a payload that does not target the
	// active round, including any payload sent to a terminal round.
	ErrWrongRound = errors.New("payload does not target the active round")
	// ErrMalformed is returned for a payload body that is not valid JSON.
	ErrMalformed = errors.New("malformed payload body")
	// ErrNoThreshold is returned by MostVoted before the threshold is
	// reached.
	ErrNoThreshold = errors.New("threshold not reached")
	// ErrUnknownTransition is returned when a round emitted an event with
	// no edge in the transition table. This is a configuration bug in the
	// application graph and fatal to the run.
	ErrUnknownTransition = errors.New("no transition registered for event")
)

// Payload is a single participant's proposed value for one round. It is
// immutable once submitted. The body is an opaque JSON blob whose meaning is
// round-specific.
type Payload struct {
	Sender types.NodeID
	Type   string
	Body   []byte
}

// Hash returns the blake3 digest of the payload type and canonical body.
// Two payloads proposing the same value always hash equal, regardless of
// key order or whitespace in the submitted body. A malformed body is hashed
// verbatim so that duplicates of it are still detected deterministically.
func (p *Payload) Hash() types.Hash32 {
	body, err := codec.Canonical(p.Body)
	if err != nil {
		body = p.Body
	}
	return types.Hash32(hash.Sum([]byte(p.Type), body))
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (p *Payload) MarshalLogObject(encoder zapcore.ObjectEncoder) error {
	encoder.AddString("sender", p.Sender.ShortString())
	encoder.AddString("type", p.Type)
	encoder.AddInt("body_len", len(p.Body))
	return nil
}

// Collection maps participants to the payload each submitted in the active
// round. At most one payload per participant.
type Collection map[types.NodeID]Payload

// Encode serializes the collection as a JSON object keyed by participant
// address. Keys of a Go map marshal in sorted order, so the encoding is
// deterministic.
func (c Collection) Encode() []byte {
	bodies := make(map[string]json.RawMessage, len(c))
	for id, p := range c {
		bodies[id.String()] = json.RawMessage(p.Body)
	}
	return codec.MustEncode(bodies)
}
