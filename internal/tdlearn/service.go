// Package tdlearn maintains expected-ROI predictions with a fixed-rate
// temporal-difference update at three levels: per channel, per channel×coin,
// and per coin across all channels.
package tdlearn

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/callrank/callrank/internal/outcome"
	"github.com/callrank/callrank/internal/roi"
)

// DefaultAlpha is the fixed TD learning rate.
const DefaultAlpha = 0.1

// Blend weights for multi-dimensional prediction. Coin-specific dominates
// because it is the most specific signal available.
const (
	WeightOverall      = 0.40
	WeightCoinSpecific = 0.50
	WeightCrossChannel = 0.10
)

// PredictionError is one full error record, appended on every learning
// update. History is unbounded: MAE/MSE are always recomputed over all of it.
type PredictionError struct {
	Timestamp       time.Time           `json:"timestamp"`
	SignalID        string              `json:"signal_id"`
	Address         string              `json:"address"`
	Symbol          string              `json:"symbol"`
	Predicted       float64             `json:"predicted"`
	Actual          float64             `json:"actual"`
	Error           float64             `json:"error"`
	PercentageError float64             `json:"percentage_error"`
	EntryPrice      float64             `json:"entry_price"`
	ATHPrice        float64             `json:"ath_price"`
	DaysToATH       float64             `json:"days_to_ath"`
	OutcomeCategory roi.OutcomeCategory `json:"outcome_category"`
}

// TDState is one prediction level's learning state.
type TDState struct {
	ExpectedROI            float64           `json:"expected_roi"`
	Initialized            bool              `json:"initialized"`
	PredictionErrorHistory []PredictionError `json:"prediction_error_history"`
	TotalPredictions       int               `json:"total_predictions"`
	CorrectPredictions     int               `json:"correct_predictions"`
	Overestimations        int               `json:"overestimations"`
	Underestimations       int               `json:"underestimations"`
	MeanAbsoluteError      float64           `json:"mean_absolute_error"`
	MeanSquaredError       float64           `json:"mean_squared_error"`
}

// ChannelLearning is the TD state for one channel: the overall level plus a
// coin-specific level per address the channel has mentioned.
type ChannelLearning struct {
	ChannelName  string              `json:"channel_name"`
	Overall      TDState             `json:"overall"`
	CoinSpecific map[string]*TDState `json:"coin_specific_performance"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// CoinCrossChannel aggregates a coin's outcomes across every channel that
// mentioned it. Independent of the learning rate.
type CoinCrossChannel struct {
	Address         string         `json:"address"`
	Symbol          string         `json:"symbol"`
	BestChannel     string         `json:"best_channel"`
	BestROI         float64        `json:"best_roi"`
	WorstChannel    string         `json:"worst_channel"`
	WorstROI        float64        `json:"worst_roi"`
	ChannelMentions map[string]int `json:"channel_mentions"`
	ROIHistory      []float64      `json:"roi_history"`
	AvgROI          float64        `json:"avg_roi"`
	MedianROI       float64        `json:"median_roi"`
	ExpectedROI     float64        `json:"expected_roi_cross_channel"`
	Recommendation  string         `json:"recommendation"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// State is the full persisted learning state.
type State struct {
	Channels map[string]*ChannelLearning  `json:"channels"`
	Coins    map[string]*CoinCrossChannel `json:"coins"`
}

// Store persists the learning state with atomic replace-on-write.
type Store interface {
	Load() (*State, error)
	Save(*State) error
}

// Prediction is the blended multi-dimensional expected ROI.
type Prediction struct {
	ChannelName string  `json:"channel_name"`
	Address     string  `json:"address"`
	Symbol      string  `json:"symbol"`
	Overall     float64 `json:"overall"`
	CoinLevel   float64 `json:"coin_level"`
	CrossLevel  float64 `json:"cross_level"`
	Blended     float64 `json:"blended"`
	// Which levels had real data rather than the overall fallback.
	HasCoinData  bool `json:"has_coin_data"`
	HasCrossData bool `json:"has_cross_data"`
}

// Service owns the learning state. Updates happen only when a signal
// completes.
type Service struct {
	mu    sync.Mutex
	alpha float64
	state *State
	store Store
	clock func() time.Time
}

// NewService creates a service over the given store; alpha <= 0 selects the
// default learning rate.
func NewService(store Store, alpha float64) *Service {
	if alpha <= 0 {
		alpha = DefaultAlpha
	}
	s := &Service{
		alpha: alpha,
		state: &State{
			Channels: make(map[string]*ChannelLearning),
			Coins:    make(map[string]*CoinCrossChannel),
		},
		store: store,
		clock: func() time.Time { return time.Now().UTC() },
	}
	if store != nil {
		loaded, err := store.Load()
		if err != nil {
			log.Warn().Err(err).Msg("learning store unreadable, starting empty")
		} else if loaded != nil {
			if loaded.Channels == nil {
				loaded.Channels = make(map[string]*ChannelLearning)
			}
			if loaded.Coins == nil {
				loaded.Coins = make(map[string]*CoinCrossChannel)
			}
			s.state = loaded
		}
	}
	return s
}

// SetClock overrides the time source. Test hook.
func (s *Service) SetClock(clock func() time.Time) { s.clock = clock }

// RecordOutcome applies the three-level learning update for a completed
// signal. In-progress signals are ignored.
func (s *Service) RecordOutcome(o *outcome.SignalOutcome) {
	if o == nil || !o.IsComplete {
		return
	}
	actual := o.ActualROI()

	s.mu.Lock()
	ch := s.channel(o.ChannelName)

	s.updateTD(&ch.Overall, o, actual)

	coin, ok := ch.CoinSpecific[o.Address]
	if !ok {
		coin = &TDState{}
		ch.CoinSpecific[o.Address] = coin
	}
	if !coin.Initialized {
		// First mention of this coin by this channel: seed the estimate
		// directly, no learning update.
		coin.ExpectedROI = actual
		coin.Initialized = true
	} else {
		s.updateTD(coin, o, actual)
	}

	ch.UpdatedAt = s.clock()
	s.updateCrossChannel(o, actual)
	s.persistLocked()
	s.mu.Unlock()

	log.Debug().
		Str("channel", o.ChannelName).
		Str("address", o.Address).
		Float64("actual_roi", actual).
		Float64("expected_roi", ch.Overall.ExpectedROI).
		Msg("td learning update applied")
}

// updateTD applies new = old + α(actual − old) and appends the full error
// record. Caller holds the lock.
func (s *Service) updateTD(st *TDState, o *outcome.SignalOutcome, actual float64) {
	if !st.Initialized {
		// No prior estimate: start from "no movement".
		st.ExpectedROI = 1.0
		st.Initialized = true
	}

	predicted := st.ExpectedROI
	err := actual - predicted
	st.ExpectedROI = predicted + s.alpha*err

	pctErr := 0.0
	if predicted != 0 {
		pctErr = err / predicted * 100.0
	}

	st.PredictionErrorHistory = append(st.PredictionErrorHistory, PredictionError{
		Timestamp:       s.clock(),
		SignalID:        o.SignalID,
		Address:         o.Address,
		Symbol:          o.Symbol,
		Predicted:       predicted,
		Actual:          actual,
		Error:           err,
		PercentageError: pctErr,
		EntryPrice:      o.EntryPrice,
		ATHPrice:        o.ATHPrice,
		DaysToATH:       o.DaysToATH,
		OutcomeCategory: o.OutcomeCategory,
	})

	st.TotalPredictions++
	if math.Abs(pctErr) <= 10.0 {
		st.CorrectPredictions++
	}
	if err < 0 {
		st.Overestimations++
	} else if err > 0 {
		st.Underestimations++
	}

	var sumAbs, sumSq float64
	for _, rec := range st.PredictionErrorHistory {
		sumAbs += math.Abs(rec.Error)
		sumSq += rec.Error * rec.Error
	}
	n := float64(len(st.PredictionErrorHistory))
	st.MeanAbsoluteError = sumAbs / n
	st.MeanSquaredError = sumSq / n
}

func (s *Service) updateCrossChannel(o *outcome.SignalOutcome, actual float64) {
	coin, ok := s.state.Coins[o.Address]
	if !ok {
		coin = &CoinCrossChannel{
			Address:         o.Address,
			Symbol:          o.Symbol,
			ChannelMentions: make(map[string]int),
		}
		s.state.Coins[o.Address] = coin
	}

	coin.ChannelMentions[o.ChannelName]++
	if coin.BestChannel == "" || actual > coin.BestROI {
		coin.BestChannel = o.ChannelName
		coin.BestROI = actual
	}
	if coin.WorstChannel == "" || actual < coin.WorstROI {
		coin.WorstChannel = o.ChannelName
		coin.WorstROI = actual
	}

	coin.ROIHistory = append(coin.ROIHistory, actual)
	coin.AvgROI = meanOf(coin.ROIHistory)
	coin.MedianROI = medianOf(coin.ROIHistory)
	coin.ExpectedROI = coin.AvgROI
	coin.Recommendation = recommend(coin)
	coin.UpdatedAt = s.clock()
}

// recommend produces the heuristic textual recommendation for a coin.
func recommend(coin *CoinCrossChannel) string {
	switch {
	case len(coin.ROIHistory) < 3:
		return "insufficient data"
	case coin.AvgROI >= 2.0:
		return "strong performer across channels, follow " + coin.BestChannel
	case coin.AvgROI >= 1.2:
		return "modest performer, prefer calls from " + coin.BestChannel
	case coin.AvgROI < 1.0:
		return "net loser across channels, avoid"
	default:
		return "flat performer, low conviction"
	}
}

// ExpectedROI returns a channel's overall expected ROI and whether any
// learning has occurred for it.
func (s *Service) ExpectedROI(channel string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.state.Channels[channel]
	if !ok || !ch.Overall.Initialized {
		return 1.0, false
	}
	return ch.Overall.ExpectedROI, true
}

// ChannelState returns a deep copy of a channel's learning state.
func (s *Service) ChannelState(channel string) (ChannelLearning, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.state.Channels[channel]
	if !ok {
		return ChannelLearning{}, false
	}
	return ch.copy(), true
}

// Coin returns a copy of a coin's cross-channel aggregate.
func (s *Service) Coin(address string) (CoinCrossChannel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	coin, ok := s.state.Coins[address]
	if !ok {
		return CoinCrossChannel{}, false
	}
	cp := *coin
	cp.ChannelMentions = make(map[string]int, len(coin.ChannelMentions))
	for k, v := range coin.ChannelMentions {
		cp.ChannelMentions[k] = v
	}
	cp.ROIHistory = append([]float64(nil), coin.ROIHistory...)
	return cp, true
}

// MultiDimensionalPrediction blends the three levels 40/50/10, falling back
// to the overall level wherever a more specific level has no data yet.
func (s *Service) MultiDimensionalPrediction(channel, address, symbol string) Prediction {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := Prediction{ChannelName: channel, Address: address, Symbol: symbol}

	overall := 1.0
	if ch, ok := s.state.Channels[channel]; ok && ch.Overall.Initialized {
		overall = ch.Overall.ExpectedROI
	}
	p.Overall = overall

	p.CoinLevel = overall
	if ch, ok := s.state.Channels[channel]; ok {
		if coin, ok := ch.CoinSpecific[address]; ok && coin.Initialized {
			p.CoinLevel = coin.ExpectedROI
			p.HasCoinData = true
		}
	}

	p.CrossLevel = overall
	if coin, ok := s.state.Coins[address]; ok && len(coin.ROIHistory) > 0 {
		p.CrossLevel = coin.ExpectedROI
		p.HasCrossData = true
	}

	p.Blended = WeightOverall*p.Overall + WeightCoinSpecific*p.CoinLevel + WeightCrossChannel*p.CrossLevel
	return p
}

func (s *Service) channel(name string) *ChannelLearning {
	ch, ok := s.state.Channels[name]
	if !ok {
		ch = &ChannelLearning{
			ChannelName:  name,
			CoinSpecific: make(map[string]*TDState),
		}
		s.state.Channels[name] = ch
	}
	return ch
}

func (s *Service) persistLocked() {
	if s.store == nil {
		return
	}
	if err := s.store.Save(s.state); err != nil {
		log.Warn().Err(err).Msg("learning persistence failed, will retry on next update")
	}
}

func (ch *ChannelLearning) copy() ChannelLearning {
	cp := *ch
	cp.Overall = ch.Overall.copy()
	cp.CoinSpecific = make(map[string]*TDState, len(ch.CoinSpecific))
	for addr, st := range ch.CoinSpecific {
		c := st.copy()
		cp.CoinSpecific[addr] = &c
	}
	return cp
}

func (st *TDState) copy() TDState {
	cp := *st
	cp.PredictionErrorHistory = append([]PredictionError(nil), st.PredictionErrorHistory...)
	return cp
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func medianOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
