// Package disclosure fetches corporate announcements from the exchange feed,
// renders them into digests and downloads their attachments.
package disclosure

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"bsewatch/internal/market"
	"bsewatch/internal/model"
	"bsewatch/internal/observability/metrics"
	logx "bsewatch/pkg/logx"
)

const (
	DefaultFeedURL       = "https://api.bseindia.com/BseIndiaAPI/api/AnnGetData/w"
	DefaultAttachmentURL = "https://www.bseindia.com/xml-data/corpfiling/AttachLive/"

	// LookbackWindow is the fixed upstream query range. Callers narrow it with since.
	LookbackWindow = 7 * 24 * time.Hour

	browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	referer   = "https://www.bseindia.com/"
)

// Source is what the batch handlers consume.
type Source interface {
	Fetch(ctx context.Context, exchangeCode string, since time.Time) []model.Disclosure
}

// Fetcher queries the announcements feed for one scrip at a time.
type Fetcher struct {
	url     string
	http    *http.Client
	now     func() time.Time
	log     logx.Logger
	metrics *metrics.Metrics
}

type FetcherOption func(*Fetcher)

func WithFetcherClock(now func() time.Time) FetcherOption { return func(f *Fetcher) { f.now = now } }
func WithFetcherLogger(log logx.Logger) FetcherOption     { return func(f *Fetcher) { f.log = log } }
func WithFetcherMetrics(m *metrics.Metrics) FetcherOption { return func(f *Fetcher) { f.metrics = m } }

func NewFetcher(feedURL string, timeout time.Duration, opts ...FetcherOption) *Fetcher {
	if strings.TrimSpace(feedURL) == "" {
		feedURL = DefaultFeedURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	f := &Fetcher{
		url:  feedURL,
		http: &http.Client{Timeout: timeout},
		now:  time.Now,
		log:  logx.Nop(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

type feedPayload struct {
	Table []map[string]any `json:"Table"`
}

// Fetch never fails: transport and decode errors yield an empty result, and
// rows without an id, attachment or parseable time are dropped.
func (f *Fetcher) Fetch(ctx context.Context, exchangeCode string, since time.Time) []model.Disclosure {
	rows, err := f.query(ctx, exchangeCode)
	if err != nil {
		f.metrics.FetchError("disclosure")
		f.log.Warn("disclosure fetch failed", logx.String("code", exchangeCode), logx.Err(err))
		return []model.Disclosure{}
	}

	out := make([]model.Disclosure, 0, len(rows))
	for _, row := range rows {
		d, ok := parseRow(exchangeCode, row)
		if !ok || d.Time.Before(since) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func (f *Fetcher) query(ctx context.Context, code string) ([]map[string]any, error) {
	now := f.now().In(market.IST)
	q := url.Values{
		"strCat":      {"-1"},
		"strPrevDate": {now.Add(-LookbackWindow).Format("20060102")},
		"strToDate":   {now.Format("20060102")},
		"strScrip":    {code},
		"strSearch":   {"P"},
		"strType":     {"C"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	setFeedHeaders(req)

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}
	var p feedPayload
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return p.Table, nil
}

func setFeedHeaders(req *http.Request) {
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("Referer", referer)
}

func parseRow(code string, row map[string]any) (model.Disclosure, bool) {
	id := field(row, "NEWSID")
	att := field(row, "ATTACHMENTNAME")
	if id == "" || att == "" {
		return model.Disclosure{}, false
	}
	raw := field(row, "NEWS_DT")
	if raw == "" {
		raw = field(row, "DissemDT")
	}
	ts, ok := ParseTimestamp(raw)
	if !ok {
		return model.Disclosure{}, false
	}
	headline := field(row, "NEWSSUB")
	if headline == "" {
		headline = field(row, "HEADLINE")
	}
	if headline == "" {
		headline = "N/A"
	}
	return model.Disclosure{
		ID:             id,
		ExchangeCode:   code,
		Headline:       headline,
		AttachmentName: att,
		Time:           ts,
	}, true
}

// field stringifies a loosely typed feed value; numbers keep their integer form.
func field(row map[string]any, key string) string {
	switch v := row[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case bool:
		if v {
			return "true"
		}
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
