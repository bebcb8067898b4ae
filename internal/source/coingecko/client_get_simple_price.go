package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"strings"
)

// SimplePriceParams selects the ids and quote currencies for GetSimplePrice.
type SimplePriceParams struct {
	// IDs are the canonical coin ids, e.g. ["bitcoin", "ethereum"].
	IDs []string
	// VsCurrencies are the quote currencies, e.g. ["usd"]. Defaults to usd.
	VsCurrencies []string
}

// SimplePrice maps coin id -> quote currency -> price.
type SimplePrice map[string]map[string]json.Number

// GetSimplePrice retrieves current prices for a whole batch of coin ids in
// one call: GET /simple/price?ids=<comma-list>&vs_currencies=<comma-list>.
// Ids the API does not know are simply absent from the result.
func (c *CoinGeckoAPIClient) GetSimplePrice(ctx context.Context, params SimplePriceParams, opts ...CoinGeckoAPIClientOption) (SimplePrice, error) {
	var override = &CoinGeckoAPIClient{
		baseURL:    c.baseURL,
		httpClient: c.httpClient,
		header:     c.header.Clone(),
		query:      c.query,
	}
	for _, opt := range opts {
		opt(override)
	}

	if len(params.IDs) == 0 {
		return nil, fmt.Errorf("simple price with no ids: %w", ErrBadRequest)
	}
	if len(params.VsCurrencies) == 0 {
		params.VsCurrencies = []string{"usd"}
	}

	query := maps.Clone(override.query)
	query.Set("ids", strings.Join(params.IDs, ","))
	query.Set("vs_currencies", strings.Join(params.VsCurrencies, ","))

	url := fmt.Sprintf("%s/simple/price?%s", override.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
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
		return nil, fmt.Errorf("ids=%s: %w", strings.Join(params.IDs, ","), ErrBadRequest)

	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrUnauthorized

	case http.StatusNotFound:
		return nil, ErrNotFound

	case http.StatusTooManyRequests:
		return nil, ErrRateLimited

	default:
		return nil, fmt.Errorf("unexpected status code: %d", res.StatusCode)
	}

	var body SimplePrice
	dec := json.NewDecoder(res.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("simple price: %v: %w", err, ErrDecode)
	}
	return body, nil
}
