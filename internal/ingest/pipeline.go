// Package ingest turns externally detected token mentions into tracked
// signals. Mention detection itself (NLP, sentiment, address extraction)
// happens upstream; this package handles dedup, entry pricing, and handoff
// to the tracker, serializing work per address.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/callrank/callrank/internal/bootstrap"
	"github.com/callrank/callrank/internal/metrics"
	"github.com/callrank/callrank/internal/oracle"
	"github.com/callrank/callrank/internal/outcome"
	"github.com/callrank/callrank/internal/roi"
)

// Mention is one detected token mention from a monitored channel.
type Mention struct {
	MessageID   string    `json:"message_id"`
	ChannelName string    `json:"channel_name"`
	Address     string    `json:"address"`
	Symbol      string    `json:"symbol"`
	Chain       string    `json:"chain,omitempty"`
	Timestamp   time.Time `json:"timestamp"`

	// Price is the entry price detected upstream; zero means the pipeline
	// should resolve it from the oracle.
	Price float64 `json:"price,omitempty"`

	MarketTier     roi.MarketTier `json:"market_tier,omitempty"`
	RiskLevel      string         `json:"risk_level,omitempty"`
	RiskScore      float64        `json:"risk_score,omitempty"`
	Sentiment      string         `json:"sentiment,omitempty"`
	SentimentScore float64        `json:"sentiment_score,omitempty"`
	HDRBScore      float64        `json:"hdrb_score,omitempty"`
	Confidence     float64        `json:"confidence,omitempty"`
	Source         string         `json:"source,omitempty"`
}

// Source streams mentions into out until ctx is cancelled.
type Source interface {
	Stream(ctx context.Context, out chan<- Mention) error
}

// Result classifies what the pipeline did with a mention.
type Result string

const (
	ResultTracked     Result = "tracked"
	ResultFreshStart  Result = "fresh_start"
	ResultDuplicate   Result = "duplicate"
	ResultBlacklisted Result = "blacklisted"
	ResultNoPrice     Result = "no_price"
)

// Pipeline wires mentions through dedup into the tracker.
type Pipeline struct {
	tracker  *outcome.Tracker
	coord    *bootstrap.Coordinator
	prices   oracle.PriceOracle
	detector oracle.DeadTokenDetector

	// MaxConcurrent bounds how many mentions are in flight at once across
	// distinct addresses.
	MaxConcurrent int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPipeline creates a pipeline. detector may be nil.
func NewPipeline(tracker *outcome.Tracker, coord *bootstrap.Coordinator, prices oracle.PriceOracle, detector oracle.DeadTokenDetector) *Pipeline {
	return &Pipeline{
		tracker:       tracker,
		coord:         coord,
		prices:        prices,
		detector:      detector,
		MaxConcurrent: 8,
		locks:         make(map[string]*sync.Mutex),
	}
}

// HandleMention processes one mention to completion. Calls for the same
// address are serialized; distinct addresses proceed concurrently.
func (p *Pipeline) HandleMention(ctx context.Context, m Mention) (Result, error) {
	if m.Address == "" {
		return "", fmt.Errorf("mention %s: no address", m.MessageID)
	}

	lock := p.addrLock(m.Address)
	lock.Lock()
	defer lock.Unlock()

	if p.detector != nil && p.detector.IsBlacklisted(m.Address) {
		log.Debug().Str("address", m.Address).Msg("mention skipped, address blacklisted")
		return ResultBlacklisted, nil
	}

	dedup := p.coord.CheckForDuplicate(m.Address)
	if dedup.IsDuplicate {
		metrics.MentionsDeduplicated.Inc()
		log.Debug().
			Str("address", m.Address).
			Str("channel", m.ChannelName).
			Msg("mention skipped, signal already active")
		return ResultDuplicate, nil
	}

	entryPrice := m.Price
	if entryPrice <= 0 {
		pd, err := p.prices.GetCurrentPrice(ctx, m.Address, m.Chain)
		if err != nil {
			return "", fmt.Errorf("mention %s: entry price lookup: %w", m.MessageID, err)
		}
		if pd == nil {
			log.Warn().Str("address", m.Address).Msg("mention skipped, no price data from any source")
			return ResultNoPrice, nil
		}
		entryPrice = pd.Price
	}

	entryTS := m.Timestamp
	if entryTS.IsZero() {
		entryTS = time.Now().UTC()
	}

	_, err := p.tracker.Track(outcome.TrackParams{
		MessageID:       m.MessageID,
		ChannelName:     m.ChannelName,
		Address:         m.Address,
		Symbol:          m.Symbol,
		Chain:           m.Chain,
		EntryPrice:      entryPrice,
		EntryTimestamp:  entryTS,
		EntrySource:     m.Source,
		SignalNumber:    dedup.SignalNumber,
		PreviousSignals: dedup.PreviousSignals,
		MarketTier:      m.MarketTier,
		RiskLevel:       m.RiskLevel,
		RiskScore:       m.RiskScore,
		Sentiment:       m.Sentiment,
		SentimentScore:  m.SentimentScore,
		HDRBScore:       m.HDRBScore,
		Confidence:      m.Confidence,
	})
	if err != nil {
		return "", err
	}

	metrics.SignalsTracked.WithLabelValues(m.ChannelName).Inc()
	metrics.ActiveSignals.Set(float64(len(p.tracker.Active())))

	if dedup.FreshStart {
		return ResultFreshStart, nil
	}
	return ResultTracked, nil
}

// Run consumes a source until ctx is cancelled, processing mentions with
// bounded concurrency.
func (p *Pipeline) Run(ctx context.Context, src Source) error {
	mentions := make(chan Mention, p.MaxConcurrent)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(mentions)
		if err := src.Stream(ctx, mentions); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("mention source stopped")
		}
	}()

	sem := make(chan struct{}, p.MaxConcurrent)
	for m := range mentions {
		sem <- struct{}{}
		wg.Add(1)
		go func(m Mention) {
			defer wg.Done()
			defer func() { <-sem }()
			if _, err := p.HandleMention(ctx, m); err != nil {
				log.Warn().Err(err).Str("address", m.Address).Msg("mention processing failed")
			}
		}(m)
	}

	wg.Wait()
	return ctx.Err()
}

// PollPrices fetches the latest price for every active signal and feeds it
// through the tracker. One failed lookup never blocks the other addresses.
func (p *Pipeline) PollPrices(ctx context.Context) {
	for _, o := range p.tracker.Active() {
		if ctx.Err() != nil {
			return
		}

		if p.detector != nil {
			if check, err := p.detector.CheckAndBlacklistIfDead(ctx, o.Address, o.Chain); err == nil && check.IsDead {
				p.tracker.Complete(o.Address, outcome.ReasonDeadToken)
				continue
			}
		}

		pd, err := p.prices.GetCurrentPrice(ctx, o.Address, o.Chain)
		if err != nil {
			log.Debug().Err(err).Str("address", o.Address).Msg("price poll failed, keeping last known value")
			continue
		}
		if pd == nil {
			continue
		}
		p.tracker.UpdatePrice(o.Address, pd.Price)
	}
}

func (p *Pipeline) addrLock(address string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.locks[address]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[address] = lock
	}
	return lock
}
