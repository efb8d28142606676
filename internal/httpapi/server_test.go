package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callrank/callrank/internal/bootstrap"
	"github.com/callrank/callrank/internal/outcome"
	"github.com/callrank/callrank/internal/report"
	"github.com/callrank/callrank/internal/reputation"
	"github.com/callrank/callrank/internal/roi"
	"github.com/callrank/callrank/internal/store"
	"github.com/callrank/callrank/internal/tdlearn"
)

var t0 = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func newServer(t *testing.T) (*Server, *outcome.Tracker, *reputation.Engine, *tdlearn.Service) {
	t.Helper()
	dir := t.TempDir()
	tracker := outcome.NewTracker(store.NewOutcomeFile(filepath.Join(dir, "active.json")), nil)
	tracker.SetClock(func() time.Time { return t0 })
	coord := bootstrap.NewCoordinator(tracker, filepath.Join(dir, "completed.json"))
	engine := reputation.NewEngine(nil, nil, coord.CompletedForChannel)
	learning := tdlearn.NewService(nil, 0)
	return NewServer(":0", tracker, coord, engine, learning), tracker, engine, learning
}

func track(t *testing.T, tracker *outcome.Tracker, address string) *outcome.SignalOutcome {
	t.Helper()
	o, err := tracker.Track(outcome.TrackParams{
		MessageID:      "msg-" + address,
		ChannelName:    "alpha-calls",
		Address:        address,
		Symbol:         "TKN",
		Chain:          "ethereum",
		EntryPrice:     1.0,
		EntryTimestamp: t0,
		MarketTier:     roi.TierSmall,
	})
	require.NoError(t, err)
	return o
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s, _, _, _ := newServer(t)
	rec := get(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetOutcome(t *testing.T) {
	s, tracker, _, _ := newServer(t)
	track(t, tracker, "0xabc")

	rec := get(t, s, "/v1/outcomes/0xabc")
	require.Equal(t, http.StatusOK, rec.Code)

	var o outcome.SignalOutcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o))
	assert.Equal(t, "0xabc", o.Address)
	assert.Equal(t, 1.0, o.EntryPrice)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/v1/outcomes/0xmissing").Code)
}

func TestListActiveOutcomes(t *testing.T) {
	s, tracker, _, _ := newServer(t)
	track(t, tracker, "0xaaa")
	track(t, tracker, "0xbbb")

	rec := get(t, s, "/v1/outcomes")
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []report.PerformanceData
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	assert.Len(t, rows, 2)
}

func TestGetReputation(t *testing.T) {
	s, tracker, engine, _ := newServer(t)
	track(t, tracker, "0xabc")
	tracker.Complete("0xabc", outcome.ReasonManual)
	completed, _ := tracker.Get("0xabc")
	engine.HandleCompletion(&completed)

	rec := get(t, s, "/v1/reputation/alpha-calls")
	require.Equal(t, http.StatusOK, rec.Code)

	var rep reputation.ChannelReputation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, "alpha-calls", rep.ChannelName)
	assert.Equal(t, 1, rep.TotalSignals)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/v1/reputation/unknown").Code)
}

func TestGetPrediction(t *testing.T) {
	s, tracker, _, learning := newServer(t)
	track(t, tracker, "0xabc")
	tracker.Complete("0xabc", outcome.ReasonManual)
	completed, _ := tracker.Get("0xabc")
	learning.RecordOutcome(&completed)

	rec := get(t, s, "/v1/predictions/alpha-calls/0xabc")
	require.Equal(t, http.StatusOK, rec.Code)

	var p tdlearn.Prediction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "alpha-calls", p.ChannelName)
	assert.Greater(t, p.Blended, 0.0)
}
