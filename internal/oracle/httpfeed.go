// Package oracle provides price feeds used to lock and close rounds.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/updownbet/updown/internal/domain"
)

// PriceDecimals is the fixed-point precision of oracle prices: int64 values
// carry 8 decimal places, so $65,123.45 is 6_512_345_000_000.
const PriceDecimals = 8

// HTTPFeed fetches spot prices from a REST ticker endpoint shaped like
// Binance's /api/v3/ticker/price: GET ?symbol=BTCUSDT returning
// {"symbol":"BTCUSDT","price":"65123.45000000"}.
type HTTPFeed struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPFeed creates a feed against the given base URL, e.g.
// "https://api.binance.com".
func NewHTTPFeed(baseURL string, timeout time.Duration) *HTTPFeed {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPFeed{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type tickerResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// LatestPrice fetches the current spot price for a symbol. The decimal price
// string is converted to fixed-point int64 minor units without going through
// floating point, and the observation is stamped with the local receive time.
func (f *HTTPFeed) LatestPrice(ctx context.Context, symbol string) (domain.Quote, error) {
	endpoint := f.baseURL + "/api/v3/ticker/price?symbol=" + url.QueryEscape(symbol)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("oracle: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("oracle: fetch %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return domain.Quote{}, fmt.Errorf("oracle: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Quote{}, fmt.Errorf("oracle: fetch %s: HTTP %d: %s", symbol, resp.StatusCode, string(body))
	}

	var ticker tickerResponse
	if err := json.Unmarshal(body, &ticker); err != nil {
		return domain.Quote{}, fmt.Errorf("oracle: decode ticker: %w", err)
	}

	price, err := ParsePrice(ticker.Price)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("oracle: %s: %w", symbol, err)
	}

	return domain.Quote{Price: price, ObservedAt: time.Now()}, nil
}

// ParsePrice converts a decimal price string to fixed-point int64 with
// PriceDecimals places. Extra fractional digits are truncated.
func ParsePrice(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("parse price: empty")
	}

	neg := false
	if s[0] == '+' || s[0] == '-' {
		neg = s[0] == '-'
		s = s[1:]
	}

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("parse price %q: no digits", s)
	}
	if len(frac) > PriceDecimals {
		frac = frac[:PriceDecimals]
	}

	// Overflow must be caught before the multiply: a wrapped value can land
	// positive and would otherwise pass as a plausible price.
	const maxBeforeDigit = (math.MaxInt64 - 9) / 10

	var v int64
	for _, c := range whole {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("parse price %q: bad digit", s)
		}
		if v > maxBeforeDigit {
			return 0, fmt.Errorf("parse price %q: overflow", s)
		}
		v = v*10 + int64(c-'0')
	}
	for _, c := range frac {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("parse price %q: bad digit", s)
		}
		if v > maxBeforeDigit {
			return 0, fmt.Errorf("parse price %q: overflow", s)
		}
		v = v*10 + int64(c-'0')
	}
	for i := len(frac); i < PriceDecimals; i++ {
		if v > math.MaxInt64/10 {
			return 0, fmt.Errorf("parse price %q: overflow", s)
		}
		v *= 10
	}

	if neg {
		v = -v
	}
	return v, nil
}

// Compile-time interface check.
var _ domain.PriceOracle = (*HTTPFeed)(nil)
