package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"strconv"
)

// MarketChartParams selects the series returned by GetMarketChart.
type MarketChartParams struct {
	// ID is the canonical coin id, e.g. "bitcoin".
	ID string
	// VsCurrency is the quote currency, e.g. "usd". Defaults to usd.
	VsCurrency string
	// Days is the window size counted back from now. Defaults to 1.
	Days int
}

// MarketChart is the decoded market chart payload. Each point is an
// [epoch_ms, value] pair exactly as sent on the wire.
type MarketChart struct {
	Prices [][2]json.Number `json:"prices"`
}

// GetMarketChart retrieves the historical price series for one coin:
// GET /coins/<id>/market_chart?vs_currency=<c>&days=<n>.
func (c *CoinGeckoAPIClient) GetMarketChart(ctx context.Context, params MarketChartParams, opts ...CoinGeckoAPIClientOption) (*MarketChart, error) {
	var override = &CoinGeckoAPIClient{
		baseURL:    c.baseURL,
		httpClient: c.httpClient,
		header:     c.header.Clone(),
		query:      c.query,
	}
	for _, opt := range opts {
		opt(override)
	}

	if params.ID == "" {
		return nil, fmt.Errorf("market chart with no id: %w", ErrBadRequest)
	}
	if params.VsCurrency == "" {
		params.VsCurrency = "usd"
	}
	if params.Days <= 0 {
		params.Days = 1
	}

	query := maps.Clone(override.query)
	query.Set("vs_currency", params.VsCurrency)
	query.Set("days", strconv.Itoa(params.Days))

	endpoint := fmt.Sprintf("%s/coins/%s/market_chart?%s", override.baseURL, url.PathEscape(params.ID), query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header = override.header

	res, err := override.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		break

	case http.StatusBadRequest:
		return nil, fmt.Errorf("id=%s days=%d: %w", params.ID, params.Days, ErrBadRequest)

	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrUnauthorized

	case http.StatusNotFound:
		return nil, fmt.Errorf("id=%s: %w", params.ID, ErrNotFound)

	case http.StatusTooManyRequests:
		return nil, ErrRateLimited

	default:
		return nil, fmt.Errorf("unexpected status code: %d", res.StatusCode)
	}

	var body MarketChart
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("market chart: %v: %w", err, ErrDecode)
	}
	return &body, nil
}
