// Package broker is the inbound boundary between the consensus substrate and
// the round engine. It validates that a submission targets the active round,
// checks sender membership, drops gossip redeliveries and forwards accepted
// payloads to the session loop.
package broker

import (
	"encoding/binary"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/spacemeshos/agreement/codec"
	"github.com/spacemeshos/agreement/common/types"
	"github.com/spacemeshos/agreement/hash"
	"github.com/spacemeshos/agreement/log"
	"github.com/spacemeshos/agreement/rounds"
)

// seenCacheSize bounds the redelivery window. Old entries aging out only
// costs a duplicate reaching the round, which rejects it idempotently.
const seenCacheSize = 8192

// session is the write side of the runner the broker feeds.
type session interface {
	Submit(rounds.Payload) error
	App() *rounds.App
}

// Opt configures a Broker.
type Opt func(*Broker)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(b *Broker) {
		b.logger = logger
	}
}

// WithParticipants restricts accepted senders to the fixed participant set.
// Without it the broker trusts the substrate to have filtered membership.
func WithParticipants(participants types.Participants) Opt {
	return func(b *Broker) {
		b.participants = participants
	}
}

// Broker routes payload submissions into the active round.
type Broker struct {
	logger       *zap.Logger
	session      session
	participants types.Participants
	seen         *lru.Cache[types.Hash32, struct{}]
}

// New creates a broker over a started runner.
func New(session session, opts ...Opt) (*Broker, error) {
	seen, err := lru.New[types.Hash32, struct{}](seenCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create seen cache: %w", err)
	}
	b := &Broker{
		logger:  zap.NewNop(),
		session: session,
		seen:    seen,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Submit validates and forwards one payload submission.
// Returns rounds.ErrWrongRound when roundID is not the active round,
// rounds.ErrWrongRound for unknown senders, rounds.ErrMalformed for bodies
// that are not valid JSON. A redelivered payload is dropped silently:
// gossip duplicates are normal, not protocol violations.
func (b *Broker) Submit(roundID types.RoundID, sender types.NodeID, payloadType string, body []byte) error {
	if b.session.App().IsFinal() {
		submitErrors.WithLabelValues("final").Inc()
		return fmt.Errorf("%w: run reached a terminal round", rounds.ErrWrongRound)
	}
	if active := b.session.App().CurrentRoundID(); roundID != active {
		submitErrors.WithLabelValues("wrong_round").Inc()
		return fmt.Errorf("%w: submitted for %s, active is %s", rounds.ErrWrongRound, roundID, active)
	}
	if b.participants != nil && !b.participants.Contains(sender) {
		submitErrors.WithLabelValues("unknown_sender").Inc()
		return fmt.Errorf("%w: sender %s is not a participant", rounds.ErrWrongRound, sender.ShortString())
	}
	if _, err := codec.Canonical(body); err != nil {
		submitErrors.WithLabelValues("malformed").Inc()
		return fmt.Errorf("%w: %s", rounds.ErrMalformed, err.Error())
	}
	p := rounds.Payload{Sender: sender, Type: payloadType, Body: body}
	// scope dedup to the active round instance: a re-entered round expects
	// participants to resubmit, possibly with the same value
	if found, _ := b.seen.ContainsOrAdd(b.seenKey(&p), struct{}{}); found {
		duplicates.Inc()
		b.logger.Debug("dropped duplicate payload", zap.Inline(&p), log.ZShortStringer("hash", p.Hash()))
		return nil
	}
	submitted.Inc()
	return b.session.Submit(p)
}

func (b *Broker) seenKey(p *rounds.Payload) types.Hash32 {
	var seq [8]byte
	binary.LittleEndian.PutUint64(seq[:], b.session.App().Seq())
	digest := p.Hash()
	return types.Hash32(hash.Sum(seq[:], digest.Bytes()))
}

// CurrentRoundID answers the state query for the active round name.
func (b *Broker) CurrentRoundID() types.RoundID {
	return b.session.App().CurrentRoundID()
}

// IsFinal reports whether the current period reached a terminal round.
func (b *Broker) IsFinal() bool {
	return b.session.App().IsFinal()
}

// Get returns the synchronized value for key, failing fast when absent.
func (b *Broker) Get(key string) ([]byte, error) {
	return b.session.App().Get(key)
}
