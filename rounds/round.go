package rounds

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/spacemeshos/agreement/codec"
	"github.com/spacemeshos/agreement/common/types"
	"github.com/spacemeshos/agreement/hash"
	"github.com/spacemeshos/agreement/log"
)

// Round is one state of the application graph. It collects payloads from
// participants and decides when the round is over and with which event.
// Exactly one round is active per synchronized-data lineage; the snapshot a
// round observes never changes during its lifetime.
type Round interface {
	ID() types.RoundID
	// OnPayload records a payload from a participant. Protocol violations
	// are returned to the caller and leave the round state unchanged.
	OnPayload(p Payload) error
	// EndBlock evaluates the round. decided=false means the engine keeps
	// waiting for more payloads or a timeout. When decided, data carries
	// the snapshot for the next round (possibly the unchanged input).
	EndBlock() (data *SynchronizedData, event Event, decided bool)
}

// ThresholdConfig configures a ThresholdRound. Rounds differ only by
// configuration; there is one implementation.
type ThresholdConfig struct {
	ID types.RoundID
	// PayloadType is the only payload type this round collects.
	PayloadType string
	// CollectionKey is the synchronized-data key under which the full
	// per-participant collection is stored when the round completes.
	CollectionKey string
	// SelectionKey is the synchronized-data key for the winning value.
	SelectionKey string
	// Done, None and NoMajority are the events this round emits.
	Done       Event
	None       Event
	NoMajority Event
	// StatusField optionally names a boolean field inside the winning body
	// that chooses between Done (true) and None (false).
	StatusField string
}

// Validate reports configuration mistakes before the graph is assembled.
func (cfg *ThresholdConfig) Validate() error {
	if cfg.ID == "" {
		return fmt.Errorf("threshold round: empty id")
	}
	if cfg.PayloadType == "" {
		return fmt.Errorf("threshold round %s: empty payload type", cfg.ID)
	}
	if cfg.CollectionKey == "" || cfg.SelectionKey == "" {
		return fmt.Errorf("threshold round %s: collection and selection keys are required", cfg.ID)
	}
	if cfg.Done == "" || cfg.None == "" || cfg.NoMajority == "" {
		return fmt.Errorf("threshold round %s: done, none and no-majority events are required", cfg.ID)
	}
	return nil
}

// Emits lists every event this round can emit on its own. Timeout events are
// owned by the engine, not the round.
func (cfg *ThresholdConfig) Emits() []Event {
	return []Event{cfg.Done, cfg.None, cfg.NoMajority}
}

type tally struct {
	body  []byte
	count int
}

// ThresholdRound waits until a supermajority of participants submit the
// same payload value, or until a majority becomes arithmetically
// impossible.
type ThresholdRound struct {
	mu         sync.Mutex
	cfg        ThresholdConfig
	logger     *zap.Logger
	data       *SynchronizedData
	collection Collection
	tallies    map[types.Hash32]*tally
	reached    bool
}

// NewThresholdRound instantiates the round over an input snapshot.
func NewThresholdRound(cfg ThresholdConfig, data *SynchronizedData, logger *zap.Logger) *ThresholdRound {
	return &ThresholdRound{
		cfg:        cfg,
		logger:     logger,
		data:       data,
		collection: Collection{},
		tallies:    map[types.Hash32]*tally{},
	}
}

// ID returns the stable round name.
func (r *ThresholdRound) ID() types.RoundID { return r.cfg.ID }

// OnPayload records a payload keyed by its sender. A byte-identical
// resubmission is an idempotent no-op; gossip redelivers. A conflicting
// resubmission is a protocol violation.
func (r *ThresholdRound) OnPayload(p Payload) error {
	if p.Type != r.cfg.PayloadType {
		return fmt.Errorf("%w: round %s collects %q, got %q",
			ErrWrongPayloadType, r.cfg.ID, r.cfg.PayloadType, p.Type)
	}
	body, err := codec.Canonical(p.Body)
	if err != nil {
		return fmt.Errorf("%w: sender %s: %s", ErrMalformed, p.Sender.ShortString(), err.Error())
	}
	valueHash := types.Hash32(hash.Sum(body))

	r.mu.Lock()
	defer r.mu.Unlock()
	if previous, exist := r.collection[p.Sender]; exist {
		if bytes.Equal(previous.Body, body) {
			return nil
		}
		return fmt.Errorf("%w: sender %s round %s", ErrAlreadySubmitted, p.Sender.ShortString(), r.cfg.ID)
	}
	r.collection[p.Sender] = Payload{Sender: p.Sender, Type: p.Type, Body: body}
	counted, exist := r.tallies[valueHash]
	if !exist {
		counted = &tally{body: body}
		r.tallies[valueHash] = counted
	}
	counted.count++
	if counted.count >= r.data.Threshold() {
		// monotonic: later non-matching submissions cannot revoke it
		r.reached = true
	}
	r.logger.Debug("payload recorded",
		zap.Stringer("round", r.cfg.ID),
		zap.Inline(&p),
		log.ZShortStringer("value", valueHash),
		zap.Int("votes", counted.count),
		zap.Int("threshold", r.data.Threshold()),
	)
	return nil
}

// ThresholdReached reports whether some single value gathered a
// supermajority of votes.
func (r *ThresholdRound) ThresholdReached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reached
}

// MostVoted returns the value with the highest vote count. When two values
// hold an equal maximal count the one with the lexicographically smallest
// blake3 digest of its canonical body wins; the rule is arbitrary but
// deterministic across processes. Valid only once the threshold is reached.
func (r *ThresholdRound) MostVoted() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.reached {
		return nil, fmt.Errorf("%w: round %s", ErrNoThreshold, r.cfg.ID)
	}
	return r.mostVotedLocked(), nil
}

func (r *ThresholdRound) mostVotedLocked() []byte {
	var (
		best     *tally
		bestHash types.Hash32
	)
	for valueHash, counted := range r.tallies {
		switch {
		case best == nil || counted.count > best.count:
		case counted.count == best.count && bytes.Compare(valueHash.Bytes(), bestHash.Bytes()) < 0:
		default:
			continue
		}
		best = counted
		bestHash = valueHash
	}
	if best == nil {
		return nil
	}
	return best.body
}

// MajorityPossible reports whether some value can still reach the threshold
// if every participant that has not voted yet votes for it.
func (r *ThresholdRound) MajorityPossible() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.majorityPossibleLocked()
}

func (r *ThresholdRound) majorityPossibleLocked() bool {
	leader := 0
	for _, counted := range r.tallies {
		leader = max(leader, counted.count)
	}
	remaining := r.data.Participants() - len(r.collection)
	return leader+remaining >= r.data.Threshold()
}

// EndBlock implements Round.
func (r *ThresholdRound) EndBlock() (*SynchronizedData, Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reached {
		winner := r.mostVotedLocked()
		if codec.IsEmptyObject(winner) {
			// explicit no-op sentinel, data stays unchanged
			return r.data, r.cfg.None, true
		}
		updated := r.data.Update(map[string][]byte{
			r.cfg.CollectionKey: r.collection.Encode(),
			r.cfg.SelectionKey:  winner,
		})
		if r.cfg.StatusField != "" && !r.statusFlag(winner) {
			return updated, r.cfg.None, true
		}
		return updated, r.cfg.Done, true
	}
	if !r.majorityPossibleLocked() {
		return r.data, r.cfg.NoMajority, true
	}
	return nil, "", false
}

// statusFlag reads the configured boolean field from the winning body.
// A missing or non-boolean field counts as false.
func (r *ThresholdRound) statusFlag(winner []byte) bool {
	var fields map[string]json.RawMessage
	if err := codec.Decode(winner, &fields); err != nil {
		r.logger.Warn("winning payload is not an object",
			zap.Stringer("round", r.cfg.ID),
			zap.String("field", r.cfg.StatusField),
			zap.Error(err),
		)
		return false
	}
	raw, exist := fields[r.cfg.StatusField]
	if !exist {
		return false
	}
	var status bool
	if err := codec.Decode(raw, &status); err != nil {
		return false
	}
	return status
}

// DegenerateRound is the terminal marker state of a graph. It has no
// collection logic; reaching it ends the current run.
type DegenerateRound struct {
	id types.RoundID
}

// NewDegenerateRound returns the terminal round with the given name.
func NewDegenerateRound(id types.RoundID) *DegenerateRound {
	return &DegenerateRound{id: id}
}

// ID returns the stable round name.
func (r *DegenerateRound) ID() types.RoundID { return r.id }

// OnPayload rejects everything: a terminal round collects nothing.
func (r *DegenerateRound) OnPayload(p Payload) error {
	return fmt.Errorf("%w: round %s is terminal", ErrWrongRound, r.id)
}

// EndBlock never decides; the engine stops issuing transitions once a
// terminal round is reached.
func (r *DegenerateRound) EndBlock() (*SynchronizedData, Event, bool) {
	return nil, "", false
}
