package store

import (
	"github.com/rs/zerolog/log"

	"github.com/callrank/callrank/internal/io"
	"github.com/callrank/callrank/internal/reputation"
	"github.com/callrank/callrank/internal/tdlearn"
)

// ReputationFile persists the per-channel reputation map. Satisfies
// reputation.Store.
type ReputationFile struct {
	path string
}

// NewReputationFile creates a store writing to path.
func NewReputationFile(path string) *ReputationFile {
	return &ReputationFile{path: path}
}

func (s *ReputationFile) Load() (map[string]*reputation.ChannelReputation, error) {
	out := make(map[string]*reputation.ChannelReputation)
	ok, err := io.ReadJSON(s.path, &out)
	if err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("reputation store corrupt, resetting to empty")
		return make(map[string]*reputation.ChannelReputation), nil
	}
	if !ok {
		return out, nil
	}
	return out, nil
}

func (s *ReputationFile) Save(m map[string]*reputation.ChannelReputation) error {
	return io.WriteJSONAtomic(s.path, m)
}

// LearningFile persists the TD learning state. Satisfies tdlearn.Store.
type LearningFile struct {
	path string
}

// NewLearningFile creates a store writing to path.
func NewLearningFile(path string) *LearningFile {
	return &LearningFile{path: path}
}

func (s *LearningFile) Load() (*tdlearn.State, error) {
	var state tdlearn.State
	ok, err := io.ReadJSON(s.path, &state)
	if err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("learning store corrupt, resetting to empty")
		return nil, nil
	}
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (s *LearningFile) Save(state *tdlearn.State) error {
	return io.WriteJSONAtomic(s.path, state)
}
