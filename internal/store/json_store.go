// Package store provides file-backed keyed stores with atomic
// replace-on-write semantics. Corrupt files degrade to an empty store with a
// logged warning instead of failing the process.
package store

import (
	"github.com/rs/zerolog/log"

	"github.com/callrank/callrank/internal/io"
	"github.com/callrank/callrank/internal/outcome"
)

// OutcomeFile persists a map of signal outcomes keyed by address as a single
// JSON document. It satisfies outcome.Store.
type OutcomeFile struct {
	path string
}

// NewOutcomeFile creates a store writing to path.
func NewOutcomeFile(path string) *OutcomeFile {
	return &OutcomeFile{path: path}
}

// Path returns the backing file path.
func (s *OutcomeFile) Path() string { return s.path }

// Load reads the persisted outcome map. Missing file returns an empty map;
// corrupt content resets to empty with a warning.
func (s *OutcomeFile) Load() (map[string]*outcome.SignalOutcome, error) {
	out := make(map[string]*outcome.SignalOutcome)
	ok, err := io.ReadJSON(s.path, &out)
	if err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("outcome store corrupt, resetting to empty")
		return make(map[string]*outcome.SignalOutcome), nil
	}
	if !ok {
		return out, nil
	}
	return out, nil
}

// Save atomically replaces the persisted outcome map.
func (s *OutcomeFile) Save(m map[string]*outcome.SignalOutcome) error {
	return io.WriteJSONAtomic(s.path, m)
}
