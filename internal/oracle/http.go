package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// HTTPOracle queries a remote price service over its JSON API. A 404 from
// the service means the token is unknown and maps to the no-data result.
type HTTPOracle struct {
	baseURL string
	client  *http.Client
}

// NewHTTPOracle creates a client for the price service at baseURL.
func NewHTTPOracle(baseURL string) *HTTPOracle {
	return &HTTPOracle{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (h *HTTPOracle) GetCurrentPrice(ctx context.Context, address, chain string) (*PriceData, error) {
	var pd PriceData
	ok, err := h.get(ctx, fmt.Sprintf("/v1/price/%s/%s", url.PathEscape(chain), url.PathEscape(address)), nil, &pd)
	if err != nil || !ok {
		return nil, err
	}
	return &pd, nil
}

func (h *HTTPOracle) GetHistoricalPriceNear(ctx context.Context, symbol string, ts time.Time, address, chain string) (*PriceData, error) {
	q := url.Values{
		"symbol": {symbol},
		"at":     {strconv.FormatInt(ts.Unix(), 10)},
	}
	var pd PriceData
	ok, err := h.get(ctx, fmt.Sprintf("/v1/history/%s/%s", url.PathEscape(chain), url.PathEscape(address)), q, &pd)
	if err != nil || !ok {
		return nil, err
	}
	return &pd, nil
}

func (h *HTTPOracle) GetForwardOHLCWithATH(ctx context.Context, symbol string, start time.Time, windowDays int, address, chain string) (*ForwardOHLC, error) {
	q := url.Values{
		"symbol": {symbol},
		"start":  {strconv.FormatInt(start.Unix(), 10)},
		"days":   {strconv.Itoa(windowDays)},
	}
	var ohlc ForwardOHLC
	ok, err := h.get(ctx, fmt.Sprintf("/v1/ohlc/%s/%s", url.PathEscape(chain), url.PathEscape(address)), q, &ohlc)
	if err != nil || !ok {
		return nil, err
	}
	return &ohlc, nil
}

func (h *HTTPOracle) get(ctx context.Context, path string, q url.Values, v any) (bool, error) {
	u := h.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("price service: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("price service: unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return false, fmt.Errorf("price service: decode: %w", err)
	}
	return true, nil
}
