// Package quotes fetches daily and intraday close series and caches them
// briefly so concurrent jobs share one upstream call per query.
package quotes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"bsewatch/internal/model"
)

// ErrEmptySeries means the upstream answered but carried no usable closes.
var ErrEmptySeries = errors.New("quotes: empty series")

const (
	DefaultChartURL = "https://query1.finance.yahoo.com"
	browserUA       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// Source produces a close series for (symbol, range, interval).
type Source interface {
	Fetch(ctx context.Context, symbol, rng, interval string) (*model.Series, error)
}

// ChartClient reads the v8 chart endpoint.
type ChartClient struct {
	baseURL string
	http    *http.Client
}

func NewChartClient(baseURL string, timeout time.Duration) *ChartClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultChartURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ChartClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type chartPayload struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*decimal.Decimal `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (c *ChartClient) Fetch(ctx context.Context, symbol, rng, interval string) (*model.Series, error) {
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(symbol),
		url.Values{"range": {rng}, "interval": {interval}}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chart %s: %w", symbol, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("chart %s: http %d", symbol, resp.StatusCode)
	}

	var p chartPayload
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("chart %s: decode: %w", symbol, err)
	}
	if p.Chart.Error != nil {
		return nil, fmt.Errorf("chart %s: %s: %s", symbol, p.Chart.Error.Code, p.Chart.Error.Description)
	}
	return buildSeries(symbol, rng, interval, p)
}

// buildSeries pairs timestamps with closes, dropping null closes.
func buildSeries(symbol, rng, interval string, p chartPayload) (*model.Series, error) {
	if len(p.Chart.Result) == 0 || len(p.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, ErrEmptySeries
	}
	r := p.Chart.Result[0]
	closes := r.Indicators.Quote[0].Close
	n := min(len(closes), len(r.Timestamp))

	s := &model.Series{Symbol: symbol, Range: rng, Interval: interval, Samples: make([]model.Sample, 0, n)}
	for i := 0; i < n; i++ {
		if closes[i] == nil {
			continue
		}
		s.Samples = append(s.Samples, model.Sample{At: time.Unix(r.Timestamp[i], 0).UTC(), Close: *closes[i]})
	}
	if len(s.Samples) == 0 {
		return nil, ErrEmptySeries
	}
	return s, nil
}
