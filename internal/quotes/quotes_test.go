package quotes

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bsewatch/internal/model"
)

const chartOK = `{"chart":{"result":[{"meta":{},"timestamp":[1700000000,1700000060,1700000120],
"indicators":{"quote":[{"close":[101.5,null,102.25]}]}}],"error":null}}`

func TestChartClient_Fetch(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v8/finance/chart/RELIANCE.NS" {
			t.Errorf("path=%s", r.URL.Path)
		}
		if r.URL.Query().Get("range") != "1d" || r.URL.Query().Get("interval") != "1m" {
			t.Errorf("query=%s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(chartOK))
	}))
	defer srv.Close()

	c := NewChartClient(srv.URL, time.Second)
	s, err := c.Fetch(context.Background(), "RELIANCE.NS", "1d", "1m")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("null close should be dropped, got %d samples", s.Len())
	}
	last, _ := s.Last()
	if !last.Close.Equal(decimal.RequireFromString("102.25")) || last.At.Unix() != 1700000120 {
		t.Fatalf("last=%+v", last)
	}
}

func TestChartClient_Errors(t *testing.T) {
	t.Parallel()
	cases := map[string]struct {
		status int
		body   string
		empty  bool
	}{
		"http error":    {status: 500, body: "oops"},
		"bad json":      {status: 200, body: "{"},
		"api error":     {status: 200, body: `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data"}}}`},
		"no result":     {status: 200, body: `{"chart":{"result":[]}}`, empty: true},
		"all null":      {status: 200, body: `{"chart":{"result":[{"timestamp":[1],"indicators":{"quote":[{"close":[null]}]}}]}}`, empty: true},
		"no timestamps": {status: 200, body: `{"chart":{"result":[{"indicators":{"quote":[{"close":[1]}]}}]}}`, empty: true},
	}
	for name, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		}))
		_, err := NewChartClient(srv.URL, time.Second).Fetch(context.Background(), "X", "1d", "1m")
		srv.Close()
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if tc.empty != errors.Is(err, ErrEmptySeries) {
			t.Fatalf("%s: ErrEmptySeries mismatch: %v", name, err)
		}
	}
}

type fakeSource struct {
	calls atomic.Int32
	delay time.Duration
	fail  atomic.Bool
}

func (f *fakeSource) Fetch(ctx context.Context, symbol, rng, interval string) (*model.Series, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fail.Load() {
		return nil, errors.New("upstream down")
	}
	return &model.Series{Symbol: symbol, Range: rng, Interval: interval,
		Samples: []model.Sample{{At: time.Unix(1, 0), Close: decimal.NewFromInt(10)}}}, nil
}

func TestCache_TTLAndKeying(t *testing.T) {
	t.Parallel()
	src := &fakeSource{}
	now := time.Unix(1_000, 0)
	c := NewCache(src, WithTTL(60*time.Second), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	if _, ok := c.Get(ctx, "A", "1d", "1m"); !ok {
		t.Fatalf("first get should succeed")
	}
	c.Get(ctx, "A", "1d", "1m")
	if got := src.calls.Load(); got != 1 {
		t.Fatalf("fresh entry should be served from cache, calls=%d", got)
	}

	c.Get(ctx, "A", "5d", "1d")
	if got := src.calls.Load(); got != 2 {
		t.Fatalf("different tuple is a different key, calls=%d", got)
	}

	now = now.Add(60 * time.Second) // age == TTL is stale
	c.Get(ctx, "A", "1d", "1m")
	if got := src.calls.Load(); got != 3 {
		t.Fatalf("stale entry should refetch, calls=%d", got)
	}
}

func TestCache_FailuresAreNotCached(t *testing.T) {
	t.Parallel()
	src := &fakeSource{}
	src.fail.Store(true)
	c := NewCache(src)
	ctx := context.Background()

	if _, ok := c.Get(ctx, "A", "1d", "1m"); ok {
		t.Fatalf("failure should be absent")
	}
	if _, ok := c.Get(ctx, "A", "1d", "1m"); ok {
		t.Fatalf("failure should be absent")
	}
	if got := src.calls.Load(); got != 2 {
		t.Fatalf("each call after a failure retries upstream, calls=%d", got)
	}
	if c.Len() != 0 {
		t.Fatalf("absence must not be cached")
	}

	src.fail.Store(false)
	if _, ok := c.Get(ctx, "A", "1d", "1m"); !ok {
		t.Fatalf("recovery should succeed")
	}
}

func TestCache_SingleFlight(t *testing.T) {
	t.Parallel()
	src := &fakeSource{delay: 50 * time.Millisecond}
	c := NewCache(src)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := c.Get(context.Background(), "A", "1y", "1d"); !ok {
				t.Errorf("get failed")
			}
		}()
	}
	wg.Wait()
	if got := src.calls.Load(); got != 1 {
		t.Fatalf("concurrent misses should share one fetch, calls=%d", got)
	}
}

func TestParseSymbolCSV(t *testing.T) {
	t.Parallel()
	in := "\uFEFFCompany,BSE Code,NSE Code,Yahoo Symbol\n" +
		"Reliance,500325,RELIANCE,RELIANCE.NS\n" +
		"TCS,532540.0,TCS,TCS.NS\n" +
		"Empty,500001,,\n" +
		"Dup,500325,X,OTHER.NS\n"
	tab, err := ParseSymbolCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s, ok := tab.Lookup("500325"); !ok || s != "RELIANCE.NS" {
		t.Fatalf("500325 -> %q %v", s, ok)
	}
	if s, ok := tab.Lookup(" 532540 "); !ok || s != "TCS.NS" {
		t.Fatalf("532540 -> %q %v", s, ok)
	}
	if _, ok := tab.Lookup("500001"); ok {
		t.Fatalf("empty symbol should not resolve")
	}

	if _, err := ParseSymbolCSV(strings.NewReader("a,b\n1,2\n")); err == nil {
		t.Fatalf("missing columns should error")
	}
}

func TestCSVSymbols_LoadOnceAndRetry(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "symbols.csv")
	src := NewCSVSymbols(path)
	if _, err := src.Resolve(context.Background()); err == nil {
		t.Fatalf("missing file should error")
	}
	if err := os.WriteFile(path, []byte("BSE Code,Yahoo Symbol\n500325,RELIANCE.NS\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	tab, err := src.Resolve(context.Background())
	if err != nil {
		t.Fatalf("retry after failure should load: %v", err)
	}
	_ = os.Remove(path)
	tab2, err := src.Resolve(context.Background())
	if err != nil || len(tab2) != len(tab) {
		t.Fatalf("table should be cached after success: %v", err)
	}
}
