package oracle

import (
	"encoding/json"

	"github.com/spacemeshos/agreement/codec"
	"github.com/spacemeshos/agreement/rounds"
)

// SynchronizedData wraps the generic snapshot with typed accessors for the
// keys this application writes. All accessors fail fast on missing keys.
type SynchronizedData struct {
	*rounds.SynchronizedData
}

// Wrap the generic snapshot.
func Wrap(data *rounds.SynchronizedData) SynchronizedData {
	return SynchronizedData{SynchronizedData: data}
}

// ParticipantToObservations returns each participant's observation body
// keyed by participant address.
func (s SynchronizedData) ParticipantToObservations() (map[string][]byte, error) {
	return s.collection(KeyParticipantToObservations)
}

// MostVotedObservation returns the agreed observation body.
func (s SynchronizedData) MostVotedObservation() ([]byte, error) {
	return s.GetStrict(KeyMostVotedObservation)
}

// ParticipantToEstimates returns each participant's estimate body keyed by
// participant address.
func (s SynchronizedData) ParticipantToEstimates() (map[string][]byte, error) {
	return s.collection(KeyParticipantToEstimates)
}

// MostVotedEstimates returns the agreed estimate body.
func (s SynchronizedData) MostVotedEstimates() ([]byte, error) {
	return s.GetStrict(KeyMostVotedEstimates)
}

// MostVotedOutlierStatus returns the agreed outlier verdict body.
func (s SynchronizedData) MostVotedOutlierStatus() ([]byte, error) {
	return s.GetStrict(KeyMostVotedOutlierStatus)
}

func (s SynchronizedData) collection(key string) (map[string][]byte, error) {
	raw, err := s.GetStrict(key)
	if err != nil {
		return nil, err
	}
	var bodies map[string]json.RawMessage
	if err := codec.Decode(raw, &bodies); err != nil {
		return nil, err
	}
	rst := make(map[string][]byte, len(bodies))
	for id, body := range bodies {
		rst[id] = body
	}
	return rst, nil
}
