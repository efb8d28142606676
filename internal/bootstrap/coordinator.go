// Package bootstrap coordinates bulk-backfill bookkeeping: deduplication of
// repeated mentions, fresh-start re-entry after a completed run, the
// active/completed two-file split, and resumable batch progress.
package bootstrap

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/callrank/callrank/internal/io"
	"github.com/callrank/callrank/internal/outcome"
)

// DedupResult tells the caller how to treat a new mention of an address.
type DedupResult struct {
	IsDuplicate bool `json:"is_duplicate"`
	// FreshStart is set when the address has a completed prior run and the
	// mention should open a brand-new signal.
	FreshStart      bool     `json:"fresh_start"`
	SignalNumber    int      `json:"signal_number"`
	PreviousSignals []string `json:"previous_signals,omitempty"`
}

// Coordinator owns the completed-history collection and mediates between it
// and the tracker's active collection. The two are separate files; an archive
// move rewrites both, and load-time reconciliation repairs a crash between
// the two writes.
type Coordinator struct {
	mu      sync.Mutex
	tracker *outcome.Tracker
	history map[string]*outcome.SignalOutcome

	historyPath string
}

// NewCoordinator loads the completed history from historyPath and reconciles
// it against the tracker's active set: a stale active copy of an already
// archived signal is dropped.
func NewCoordinator(tracker *outcome.Tracker, historyPath string) *Coordinator {
	c := &Coordinator{
		tracker:     tracker,
		history:     make(map[string]*outcome.SignalOutcome),
		historyPath: historyPath,
	}

	ok, err := io.ReadJSON(historyPath, &c.history)
	if err != nil {
		log.Warn().Err(err).Str("path", historyPath).Msg("history store corrupt, resetting to empty")
		c.history = make(map[string]*outcome.SignalOutcome)
	} else if !ok {
		log.Debug().Str("path", historyPath).Msg("no history store yet")
	}

	c.reconcile()
	return c
}

// reconcile repairs the detectable inconsistency left by a crash between the
// history write and the active-store rewrite. An address in both collections
// is only a remnant when the active copy is the very signal already archived;
// after a fresh-start re-entry the address legitimately has the prior run in
// history and a newer in-progress signal active, which must survive restarts.
func (c *Coordinator) reconcile() {
	for addr, archived := range c.history {
		o, tracked := c.tracker.Get(addr)
		if !tracked || o.SignalID != archived.SignalID {
			continue
		}
		log.Warn().Str("address", addr).Str("signal_id", o.SignalID).Msg("archived signal still in active store, dropping stale copy")
		c.tracker.Remove(addr)
	}
}

// CheckForDuplicate applies the dedup/fresh-start rule for a newly observed
// mention of address.
func (c *Coordinator) CheckForDuplicate(address string) DedupResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if o, ok := c.tracker.Get(address); ok {
		if !o.IsComplete {
			return DedupResult{IsDuplicate: true}
		}
		// Completed but not yet archived: archive now, then fall through to
		// the fresh-start rule.
		if err := c.archiveLocked(address); err != nil {
			log.Warn().Err(err).Str("address", address).Msg("lazy archive during dedup failed")
		}
	}

	if prior, ok := c.history[address]; ok {
		chain := make([]string, 0, len(prior.PreviousSignals)+1)
		chain = append(chain, prior.PreviousSignals...)
		chain = append(chain, prior.SignalID)
		return DedupResult{
			FreshStart:      true,
			SignalNumber:    prior.SignalNumber + 1,
			PreviousSignals: chain,
		}
	}

	return DedupResult{SignalNumber: 1}
}

// ArchiveToHistory moves a completed signal from the active collection to the
// completed history. The history file is written first; if the process dies
// before the active store is rewritten, reconcile repairs it on next start.
func (c *Coordinator) ArchiveToHistory(address string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.archiveLocked(address)
}

func (c *Coordinator) archiveLocked(address string) error {
	o, ok := c.tracker.Get(address)
	if !ok {
		return fmt.Errorf("archive %s: not tracked", address)
	}
	if !o.IsComplete {
		return fmt.Errorf("archive %s: signal still in progress", address)
	}

	c.history[address] = &o
	if err := io.WriteJSONAtomic(c.historyPath, c.history); err != nil {
		// Roll back the in-memory move; the signal stays active and a later
		// archive attempt rewrites history.
		delete(c.history, address)
		return fmt.Errorf("archive %s: %w", address, err)
	}

	c.tracker.Remove(address)
	log.Info().Str("address", address).Str("channel", o.ChannelName).Msg("signal archived to history")
	return nil
}

// History returns a copy of the completed record for address, if any.
func (c *Coordinator) History(address string) (outcome.SignalOutcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.history[address]
	if !ok {
		return outcome.SignalOutcome{}, false
	}
	return *o, true
}

// CompletedForChannel returns copies of all archived outcomes for a channel.
func (c *Coordinator) CompletedForChannel(channel string) []outcome.SignalOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []outcome.SignalOutcome
	for _, o := range c.history {
		if o.ChannelName == channel {
			out = append(out, *o)
		}
	}
	return out
}

// SmartCheckpoints returns the checkpoint specs already elapsed for a message
// observed at messageDate, evaluated at now. Backfill uses this to skip price
// lookups for offsets still in the future.
func SmartCheckpoints(messageDate, now time.Time) []outcome.CheckpointSpec {
	var due []outcome.CheckpointSpec
	for _, spec := range outcome.CheckpointSchedule {
		if !messageDate.Add(spec.Offset).After(now) {
			due = append(due, spec)
		}
	}
	return due
}

// DetermineStatus returns the terminal status for a message old enough that
// its full observation window has elapsed. windowDays is the configured
// tracking window; a non-positive value falls back to 30 days.
func DetermineStatus(messageDate, now time.Time, windowDays int) outcome.Status {
	if windowDays <= 0 {
		windowDays = 30
	}
	if now.Sub(messageDate) >= time.Duration(windowDays)*24*time.Hour {
		return outcome.StatusCompleted
	}
	return outcome.StatusInProgress
}
