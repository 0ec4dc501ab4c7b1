package disclosure

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bsewatch/internal/market"
	"bsewatch/internal/model"
	logx "bsewatch/pkg/logx"
)

func TestParseTimestamp(t *testing.T) {
	t.Parallel()
	ist := func(y int, mo time.Month, d, h, mi, s int) time.Time {
		return time.Date(y, mo, d, h, mi, s, 0, market.IST)
	}
	cases := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"05 Mar 2024 02:15:30 PM", ist(2024, 3, 5, 14, 15, 30), true},
		{"5 MAR 2024 09:01:00 AM", ist(2024, 3, 5, 9, 1, 0), true},
		{"2024-03-05 02:15 PM", ist(2024, 3, 5, 14, 15, 0), true},
		{"2024-03-05T14:15:30", ist(2024, 3, 5, 14, 15, 30), true},
		{"2024-03-05T14:15:30.123", ist(2024, 3, 5, 14, 15, 30).Add(123 * time.Millisecond), true},
		{"2024-03-05T08:45:30Z", ist(2024, 3, 5, 14, 15, 30), true},
		{"2024-03-05T14:15:30.5+00:00", ist(2024, 3, 5, 14, 15, 30), true},
		{"yesterday", time.Time{}, false},
		{"", time.Time{}, false},
	}
	for _, tc := range cases {
		got, ok := ParseTimestamp(tc.in)
		if ok != tc.ok {
			t.Fatalf("%q: ok=%v want %v", tc.in, ok, tc.ok)
		}
		if ok && !got.Equal(tc.want) {
			t.Fatalf("%q: got %v want %v", tc.in, got, tc.want)
		}
		if ok && got.Location() != market.IST {
			t.Fatalf("%q: result should be in IST, got %v", tc.in, got.Location())
		}
	}
}

const feedBody = `{"Table":[
 {"NEWSID":"N1","ATTACHMENTNAME":"a.pdf","NEWS_DT":"2024-03-05T14:15:30.17","NEWSSUB":"Board meeting"},
 {"NEWSID":"N2","ATTACHMENTNAME":"b.pdf","DissemDT":"05 Mar 2024 10:00:00 AM","HEADLINE":"Results"},
 {"NEWSID":"N3","ATTACHMENTNAME":"","NEWS_DT":"2024-03-05T14:15:30"},
 {"NEWSID":"N4","ATTACHMENTNAME":"d.pdf","NEWS_DT":"garbage"},
 {"NEWSID":"N5","ATTACHMENTNAME":"e.pdf","NEWS_DT":"2024-02-01T10:00:00"},
 {"NEWSID":12345,"ATTACHMENTNAME":"f.pdf","NEWS_DT":"2024-03-05T11:00:00"}
]}`

func TestFetcher_FiltersAndNormalizes(t *testing.T) {
	t.Parallel()
	var gotQuery, gotUA, gotRef string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotUA = r.Header.Get("User-Agent")
		gotRef = r.Header.Get("Referer")
		_, _ = w.Write([]byte(feedBody))
	}))
	defer srv.Close()

	now := time.Date(2024, 3, 5, 18, 0, 0, 0, market.IST)
	f := NewFetcher(srv.URL, time.Second, WithFetcherClock(func() time.Time { return now }))
	since := now.Add(-24 * time.Hour)

	got := f.Fetch(context.Background(), "500325", since)
	require.Len(t, got, 3)
	require.Equal(t, "N1", got[0].ID)
	require.Equal(t, "Board meeting", got[0].Headline)
	require.Equal(t, "500325", got[0].ExchangeCode)
	require.Equal(t, "Results", got[1].Headline)
	require.Equal(t, "12345", got[2].ID)
	require.Equal(t, "N/A", got[2].Headline)

	require.Contains(t, gotQuery, "strScrip=500325")
	require.Contains(t, gotQuery, "strPrevDate=20240227")
	require.Contains(t, gotQuery, "strToDate=20240305")
	require.Contains(t, gotQuery, "strCat=-1")
	require.Contains(t, gotUA, "Mozilla/5.0")
	require.Equal(t, "https://www.bseindia.com/", gotRef)
}

func TestFetcher_TotalContract(t *testing.T) {
	t.Parallel()
	for name, h := range map[string]http.HandlerFunc{
		"500":      func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) },
		"bad json": func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("<html>")) },
		"no table": func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"Table":null}`)) },
	} {
		srv := httptest.NewServer(h)
		got := NewFetcher(srv.URL, time.Second).Fetch(context.Background(), "1", time.Time{})
		srv.Close()
		if got == nil || len(got) != 0 {
			t.Fatalf("%s: want empty non-nil slice, got %#v", name, got)
		}
	}

	got := NewFetcher("http://127.0.0.1:1", 200*time.Millisecond).Fetch(context.Background(), "1", time.Time{})
	if len(got) != 0 {
		t.Fatalf("unreachable upstream should yield nothing")
	}
}

func TestConsolidate(t *testing.T) {
	t.Parallel()
	at := func(d, h int) time.Time { return time.Date(2024, 3, d, h, 0, 0, 0, market.IST) }
	var ds []model.Disclosure
	ds = append(ds,
		model.Disclosure{ID: "a1", ExchangeCode: "A", Headline: "old A", Time: at(1, 10)},
		model.Disclosure{ID: "b1", ExchangeCode: "B", Headline: "B <new>", Time: at(5, 10)},
	)
	for i := 0; i < 6; i++ {
		ds = append(ds, model.Disclosure{ID: "a" + string(rune('2'+i)), ExchangeCode: "A", Headline: "A news", Time: at(2, 9+i)})
	}
	names := map[string]string{"A": "Alpha & Co"}
	now := time.Date(2024, 3, 5, 18, 30, 0, 0, market.IST)

	dg := Consolidate(ds, names, now)
	lines := strings.Split(dg.Text, "\n")
	require.Equal(t, "📰 BSE Announcements", lines[0])
	require.Equal(t, "🕐 2024-03-05 18:30:00 IST", lines[1])
	require.Equal(t, "", lines[2])
	require.Equal(t, "• B", lines[3], "group with the newest item comes first")
	require.Equal(t, "  - 05-03 10:00 — B &lt;new&gt;", lines[4])
	require.Equal(t, "", lines[5])
	require.Equal(t, "• Alpha &amp; Co", lines[6])
	require.Equal(t, "  - 02-03 14:00 — A news", lines[7])
	require.Len(t, lines, 7+MaxLinesPerInstrument, "A group is capped and text is trimmed")
	require.False(t, strings.HasSuffix(dg.Text, "\n"))

	require.Len(t, dg.Items, len(ds), "every disclosure is still delivered")
	require.Equal(t, "a1", dg.Items[0].ID, "items keep input order")
	require.Equal(t, "Company: Alpha &amp; Co\nAnnouncement: old A\nDate: 01-03-2024 10:00 IST", dg.Items[0].Caption)
	require.Equal(t, "B", dg.Items[1].Name)

	require.True(t, Consolidate(nil, nil, now).Empty())
}

func TestAttachmentClient(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		switch r.URL.Path {
		case "/flaky.pdf":
			if n == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte("%PDF-1.4"))
		case "/empty.pdf":
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewAttachmentClient(AttachmentConfig{BaseURL: srv.URL, Timeout: time.Second, Attempts: 3, RetryInitial: time.Millisecond}, logx.Nop(), nil)
	doc, err := c.Fetch(context.Background(), "flaky.pdf")
	require.NoError(t, err)
	require.Equal(t, "application/pdf", doc.MIME)
	require.Equal(t, "flaky.pdf", doc.Name)
	require.Equal(t, []byte("%PDF-1.4"), doc.Data)

	hits.Store(0)
	_, err = c.Fetch(context.Background(), "missing.pdf")
	require.Error(t, err)
	require.EqualValues(t, 1, hits.Load(), "4xx is not retried")

	_, err = c.Fetch(context.Background(), "empty.pdf")
	require.Error(t, err)

	single := NewAttachmentClient(AttachmentConfig{BaseURL: srv.URL, Attempts: 1}, logx.Nop(), nil)
	hits.Store(0)
	_, err = single.Fetch(context.Background(), "flaky.pdf")
	require.Error(t, err, "one attempt means the 502 is final")
}
