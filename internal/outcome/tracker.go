package outcome

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/callrank/callrank/internal/metrics"
	"github.com/callrank/callrank/internal/roi"
)

// Store persists the full outcome map. Implementations must replace the
// backing file atomically.
type Store interface {
	Load() (map[string]*SignalOutcome, error)
	Save(map[string]*SignalOutcome) error
}

// PriceObservation is a timestamped price point, used to replay historical
// prices during backfill through the same path live updates take.
type PriceObservation struct {
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// TrackParams are the inputs for opening a new signal.
type TrackParams struct {
	MessageID   string
	ChannelName string
	Address     string
	Symbol      string
	Chain       string

	EntryPrice     float64
	EntryTimestamp time.Time
	EntrySource    string

	SignalNumber    int
	PreviousSignals []string

	MarketTier     roi.MarketTier
	RiskLevel      string
	RiskScore      float64
	Sentiment      string
	SentimentScore float64
	HDRBScore      float64
	Confidence     float64

	// Historical observations applied on creation when the entry timestamp
	// is in the past (bulk backfill).
	BackfillObservations []PriceObservation
}

// CompletionHook runs after a signal transitions to completed, outside the
// tracker lock. Reputation and TD-learning updates hang off this.
type CompletionHook func(*SignalOutcome)

// Tracker owns the map of in-flight and completed outcomes. All mutation goes
// through its methods; the map is never handed out by reference.
type Tracker struct {
	mu       sync.RWMutex
	outcomes map[string]*SignalOutcome

	calc  *roi.Calculator
	store Store
	clock func() time.Time

	hooks []CompletionHook
}

// NewTracker creates a tracker over the given store, loading any persisted
// outcomes. A corrupt store resets to empty rather than failing.
func NewTracker(store Store, calc *roi.Calculator) *Tracker {
	if calc == nil {
		calc = roi.NewCalculator(nil)
	}
	t := &Tracker{
		outcomes: make(map[string]*SignalOutcome),
		calc:     calc,
		store:    store,
		clock:    func() time.Time { return time.Now().UTC() },
	}
	if store != nil {
		loaded, err := store.Load()
		if err != nil {
			log.Warn().Err(err).Msg("outcome store unreadable, starting empty")
		} else if loaded != nil {
			t.outcomes = loaded
		}
	}
	return t
}

// SetClock overrides the time source. Test hook.
func (t *Tracker) SetClock(clock func() time.Time) { t.clock = clock }

// OnComplete registers a hook invoked whenever a signal completes.
func (t *Tracker) OnComplete(hook CompletionHook) {
	t.hooks = append(t.hooks, hook)
}

// Track opens a new signal. If the entry timestamp is in the past the
// backfill observations are replayed in timestamp order, which may complete
// the signal immediately.
func (t *Tracker) Track(p TrackParams) (*SignalOutcome, error) {
	if p.Address == "" {
		return nil, fmt.Errorf("track: address is required")
	}
	if p.EntryPrice <= 0 {
		return nil, fmt.Errorf("track %s: entry price must be positive", p.Address)
	}

	var completed *SignalOutcome
	t.mu.Lock()
	if existing, ok := t.outcomes[p.Address]; ok && !existing.IsComplete {
		t.mu.Unlock()
		return nil, fmt.Errorf("track %s: already tracking (signal %s)", p.Address, existing.SignalID)
	}

	o := NewSignalOutcome(p)
	t.outcomes[p.Address] = o

	if len(p.BackfillObservations) > 0 {
		obs := make([]PriceObservation, len(p.BackfillObservations))
		copy(obs, p.BackfillObservations)
		sort.Slice(obs, func(i, j int) bool { return obs[i].Timestamp.Before(obs[j].Timestamp) })
		for _, ob := range obs {
			t.apply(o, ob.Price, ob.Timestamp)
		}
	}

	// A backfilled entry may already be past the stop condition even with no
	// observations at all.
	if !o.IsComplete {
		if stop, reason := t.calc.CheckStopConditions(o.EntryTimestamp, t.clock()); stop {
			t.complete(o, reason)
		}
	}

	if o.IsComplete {
		completed = o
	}
	t.persistLocked()
	t.mu.Unlock()

	log.Info().
		Str("address", o.Address).
		Str("channel", o.ChannelName).
		Str("symbol", o.Symbol).
		Int("signal_number", o.SignalNumber).
		Float64("entry_price", o.EntryPrice).
		Msg("tracking signal")

	if completed != nil {
		t.runHooks(completed)
	}
	return o, nil
}

// UpdatePrice applies a live price observation at the current time.
func (t *Tracker) UpdatePrice(address string, price float64) {
	t.UpdatePriceAt(address, price, t.clock())
}

// UpdatePriceAt applies a price observed at ts. Observations older than the
// last applied one for the address are rejected so a late-arriving stale
// price can never overwrite a checkpoint.
func (t *Tracker) UpdatePriceAt(address string, price float64, ts time.Time) {
	var completed *SignalOutcome

	t.mu.Lock()
	o, ok := t.outcomes[address]
	if !ok || o.IsComplete {
		t.mu.Unlock()
		return
	}
	if ts.Before(o.LastObservedAt) {
		t.mu.Unlock()
		log.Debug().
			Str("address", address).
			Time("observed", ts).
			Time("last", o.LastObservedAt).
			Msg("rejecting out-of-order price observation")
		return
	}
	t.apply(o, price, ts)
	if o.IsComplete {
		completed = o
	}
	t.persistLocked()
	t.mu.Unlock()

	if completed != nil {
		t.runHooks(completed)
	}
}

// Complete finalizes a signal with the given reason. Idempotent.
func (t *Tracker) Complete(address, reason string) {
	var completed *SignalOutcome

	t.mu.Lock()
	o, ok := t.outcomes[address]
	if !ok || o.IsComplete {
		t.mu.Unlock()
		return
	}
	t.complete(o, reason)
	completed = o
	t.persistLocked()
	t.mu.Unlock()

	t.runHooks(completed)
}

// Get returns a copy of the outcome for address, if tracked.
func (t *Tracker) Get(address string) (SignalOutcome, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	o, ok := t.outcomes[address]
	if !ok {
		return SignalOutcome{}, false
	}
	return o.snapshot(), true
}

// Active returns copies of all in-progress outcomes.
func (t *Tracker) Active() []SignalOutcome {
	return t.filter(func(o *SignalOutcome) bool { return !o.IsComplete })
}

// Completed returns copies of all completed outcomes.
func (t *Tracker) Completed() []SignalOutcome {
	return t.filter(func(o *SignalOutcome) bool { return o.IsComplete })
}

// Remove drops an outcome from the map, persisting the shrunken set. Used by
// the bootstrap coordinator after archival.
func (t *Tracker) Remove(address string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.outcomes, address)
	t.persistLocked()
}

func (t *Tracker) filter(keep func(*SignalOutcome) bool) []SignalOutcome {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []SignalOutcome
	for _, o := range t.outcomes {
		if keep(o) {
			out = append(out, o.snapshot())
		}
	}
	return out
}

// apply folds one price observation into the outcome: current price, ATH,
// due checkpoints, day-7/day-30 processing, stop conditions. Caller holds the
// write lock.
func (t *Tracker) apply(o *SignalOutcome, price float64, ts time.Time) {
	if price <= 0 {
		return
	}
	o.LastObservedAt = ts

	_, mult := t.calc.Compute(o.EntryPrice, price)
	o.CurrentPrice = price
	o.CurrentMultiplier = mult

	if price > o.ATHPrice {
		o.ATHPrice = price
		o.ATHTimestamp = ts
		_, o.ATHMultiplier = t.calc.Compute(o.EntryPrice, price)
		o.DaysToATH = ts.Sub(o.EntryTimestamp).Hours() / 24.0
	}

	for i := range o.Checkpoints {
		cp := &o.Checkpoints[i]
		if cp.Reached || ts.Before(cp.TargetTimestamp) {
			continue
		}
		cp.Reached = true
		cp.Price = price
		cp.ROIPercentage, cp.ROIMultiplier = t.calc.Compute(o.EntryPrice, price)
		metrics.CheckpointEvaluations.WithLabelValues(cp.Label).Inc()

		switch cp.Label {
		case "7d":
			t.processDay7(o, cp)
		case "30d":
			t.processDay30(o, cp)
		}
	}

	if !o.IsComplete {
		if stop, reason := t.calc.CheckStopConditions(o.EntryTimestamp, ts); stop {
			t.complete(o, reason)
		}
	}
}

// processDay7 records the day-7 snapshot. Classification uses the current ATH
// multiplier, not the day-7 price: a coin that already 3x'd and pulled back
// still counts against the winner threshold.
func (t *Tracker) processDay7(o *SignalOutcome, cp *Checkpoint) {
	o.Day7Price = cp.Price
	o.Day7Multiplier = cp.ROIMultiplier
	_, category := t.calc.Categorize(o.ATHMultiplier, o.MarketTier)
	o.Day7Classification = string(category)

	log.Debug().
		Str("address", o.Address).
		Float64("day7_multiplier", o.Day7Multiplier).
		Str("classification", o.Day7Classification).
		Msg("day-7 checkpoint processed")
}

// processDay30 records the day-30 snapshot, derives trajectory and peak
// timing, and completes the signal.
func (t *Tracker) processDay30(o *SignalOutcome, cp *Checkpoint) {
	o.Day30Price = cp.Price
	o.Day30Multiplier = cp.ROIMultiplier
	_, category := t.calc.Categorize(o.ATHMultiplier, o.MarketTier)
	o.Day30Classification = string(category)

	o.Trajectory, _ = t.calc.AnalyzeTrajectory(o.Day7Multiplier, o.Day30Multiplier, o.ATHMultiplier)
	if o.DaysToATH > 0 || o.ATHMultiplier > 1.0 {
		o.PeakTiming = t.calc.DeterminePeakTiming(o.DaysToATH)
	}

	t.complete(o, ReasonWindowElapsed)
}

// complete transitions the signal to terminal state. Caller holds the write
// lock. Idempotent.
func (t *Tracker) complete(o *SignalOutcome, reason string) {
	if o.IsComplete {
		return
	}

	// A signal that never saw a price update has no ATH; treat as no
	// movement so categorization cannot divide by zero.
	if o.ATHPrice <= 0 {
		o.ATHPrice = o.EntryPrice
		o.ATHMultiplier = 1.0
	}

	if reason == ReasonDeadToken {
		o.IsWinner = false
		o.OutcomeCategory = roi.CategoryDeadToken
	} else {
		o.IsWinner, o.OutcomeCategory = t.calc.Categorize(o.ATHMultiplier, o.MarketTier)
	}

	o.IsComplete = true
	o.Status = StatusCompleted
	o.CompletionReason = reason
	o.CompletedAt = t.clock()

	log.Info().
		Str("address", o.Address).
		Str("channel", o.ChannelName).
		Str("reason", reason).
		Str("category", string(o.OutcomeCategory)).
		Float64("ath_multiplier", o.ATHMultiplier).
		Msg("signal completed")
}

// persistLocked writes the full outcome map. Failures are logged and do not
// roll back the in-memory transition; the next mutation rewrites the map.
func (t *Tracker) persistLocked() {
	if t.store == nil {
		return
	}
	if err := t.store.Save(t.outcomes); err != nil {
		log.Warn().Err(err).Msg("outcome persistence failed, will retry on next mutation")
	}
}

func (t *Tracker) runHooks(o *SignalOutcome) {
	snap := o.snapshot()
	for _, hook := range t.hooks {
		hook(&snap)
	}
}

// snapshot returns a deep copy safe to hand outside the lock.
func (o *SignalOutcome) snapshot() SignalOutcome {
	cp := *o
	cp.Checkpoints = make([]Checkpoint, len(o.Checkpoints))
	copy(cp.Checkpoints, o.Checkpoints)
	if o.PreviousSignals != nil {
		cp.PreviousSignals = make([]string, len(o.PreviousSignals))
		copy(cp.PreviousSignals, o.PreviousSignals)
	}
	return cp
}
