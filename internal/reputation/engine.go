package reputation

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/callrank/callrank/internal/outcome"
	"github.com/callrank/callrank/internal/roi"
)

// Store persists the reputation map with atomic replace-on-write.
type Store interface {
	Load() (map[string]*ChannelReputation, error)
	Save(map[string]*ChannelReputation) error
}

// HistorySource supplies a channel's completed outcomes, normally the
// bootstrap coordinator's archive.
type HistorySource func(channel string) []outcome.SignalOutcome

// Engine owns the per-channel reputation map. Reputations are updated when a
// signal completes, never recomputed on read.
type Engine struct {
	mu     sync.RWMutex
	calc   *Calculator
	reps   map[string]*ChannelReputation
	store  Store
	source HistorySource
}

// NewEngine creates an engine over the given store and history source.
func NewEngine(calc *Calculator, store Store, source HistorySource) *Engine {
	if calc == nil {
		calc = NewCalculator(nil)
	}
	e := &Engine{
		calc:   calc,
		reps:   make(map[string]*ChannelReputation),
		store:  store,
		source: source,
	}
	if store != nil {
		loaded, err := store.Load()
		if err != nil {
			log.Warn().Err(err).Msg("reputation store unreadable, starting empty")
		} else if loaded != nil {
			e.reps = loaded
		}
	}
	return e
}

// HandleCompletion refreshes the channel's reputation from its completed
// history plus the newly completed signal. Wired as a tracker completion
// hook.
func (e *Engine) HandleCompletion(o *outcome.SignalOutcome) {
	if o == nil || !o.IsComplete {
		return
	}

	history := []outcome.SignalOutcome{}
	if e.source != nil {
		history = e.source(o.ChannelName)
	}
	// The completing signal may not be archived yet when the hook fires.
	seen := false
	for _, h := range history {
		if h.SignalID == o.SignalID {
			seen = true
			break
		}
	}
	if !seen {
		history = append(history, *o)
	}

	rep := e.calc.Compute(o.ChannelName, history)

	e.mu.Lock()
	e.reps[o.ChannelName] = rep
	if e.store != nil {
		if err := e.store.Save(e.reps); err != nil {
			log.Warn().Err(err).Msg("reputation persistence failed, will retry on next completion")
		}
	}
	e.mu.Unlock()

	log.Info().
		Str("channel", rep.ChannelName).
		Int("total_signals", rep.TotalSignals).
		Float64("score", rep.ReputationScore).
		Str("tier", rep.ReputationTier).
		Msg("channel reputation updated")
}

// Reputation returns a copy of the stored reputation for a channel.
func (e *Engine) Reputation(channel string) (ChannelReputation, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rep, ok := e.reps[channel]
	if !ok {
		return ChannelReputation{}, false
	}
	return rep.copy(), true
}

// All returns copies of every channel's reputation.
func (e *Engine) All() []ChannelReputation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]ChannelReputation, 0, len(e.reps))
	for _, rep := range e.reps {
		out = append(out, rep.copy())
	}
	return out
}

func (r *ChannelReputation) copy() ChannelReputation {
	cp := *r
	cp.TierPerformance = make(map[roi.MarketTier]*TierStats, len(r.TierPerformance))
	for tier, stats := range r.TierPerformance {
		s := *stats
		cp.TierPerformance[tier] = &s
	}
	return cp
}
