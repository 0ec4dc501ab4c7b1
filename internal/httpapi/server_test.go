package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"bsewatch/internal/batch"
	"bsewatch/internal/model"
	"bsewatch/internal/observability/metrics"
	"bsewatch/internal/storage"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeRunner struct {
	mu   sync.Mutex
	reqs []batch.Request
	res  batch.Result
	err  error
}

func (f *fakeRunner) Run(ctx context.Context, req batch.Request) (batch.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	res := f.res
	res.Job = req.Job
	return res, f.err
}

func do(t *testing.T, h http.Handler, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestCronAuthAndRouting(t *testing.T) {
	t.Parallel()
	r := &fakeRunner{res: batch.Result{RunID: "r1", Processed: 2, Skipped: 1, NotificationsSent: 3}}
	s := New("secret", Deps{Runner: r})

	cases := []struct {
		name   string
		method string
		target string
		status int
	}{
		{"missing key", http.MethodGet, "/cron/bse_announcements", http.StatusForbidden},
		{"wrong key", http.MethodGet, "/cron/bse_announcements?key=nope", http.StatusForbidden},
		{"unknown job", http.MethodGet, "/cron/nightly?key=secret", http.StatusNotFound},
		{"get", http.MethodGet, "/cron/bse_announcements?key=secret&hours_back=6", http.StatusOK},
		{"post", http.MethodPost, "/cron/evening_summary?key=secret&force=true", http.StatusOK},
	}
	for _, tc := range cases {
		rec, _ := do(t, s.Handler(), tc.method, tc.target)
		if rec.Code != tc.status {
			t.Fatalf("%s: status=%d want %d body=%s", tc.name, rec.Code, tc.status, rec.Body.String())
		}
	}

	require.Len(t, r.reqs, 2)
	require.Equal(t, batch.Request{Job: batch.JobAnnouncements, HoursBack: 6}, r.reqs[0])
	require.Equal(t, batch.Request{Job: batch.JobEveningSummary, Force: true}, r.reqs[1])
}

func TestCronResultShape(t *testing.T) {
	t.Parallel()
	r := &fakeRunner{res: batch.Result{RunID: "r1", Processed: 2, Skipped: 1, NotificationsSent: 3, Recipients: 4}}
	s := New("secret", Deps{Runner: r})

	rec, body := do(t, s.Handler(), http.MethodGet, "/cron/hourly_spike_alerts?key=secret&hours_back=abc")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, body["ok"])
	require.Equal(t, "r1", body["run_id"])
	require.EqualValues(t, 2, body["users_processed"])
	require.EqualValues(t, 1, body["users_skipped"])
	require.EqualValues(t, 3, body["notifications_sent"])
	require.Equal(t, []any{}, body["errors"])
	require.Zero(t, r.reqs[0].HoursBack)
}

func TestCronConfigurationError(t *testing.T) {
	t.Parallel()
	r := &fakeRunner{err: errors.New("wrapped: " + batch.ErrNotConfigured.Error())}
	s := New("secret", Deps{Runner: r})

	rec, body := do(t, s.Handler(), http.MethodGet, "/cron/bse_announcements?key=secret")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, false, body["ok"])
	require.Contains(t, body["error"], "not configured")
}

func TestEmptyKeyRejectsEverything(t *testing.T) {
	t.Parallel()
	s := New("", Deps{Runner: &fakeRunner{}})
	rec, _ := do(t, s.Handler(), http.MethodGet, "/cron/bse_announcements?key=")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status=%d", rec.Code)
	}

	s.SetKey("k2")
	rec, _ = do(t, s.Handler(), http.MethodGet, "/cron/bse_announcements?key=k2")
	if rec.Code != http.StatusOK {
		t.Fatalf("status after SetKey=%d", rec.Code)
	}
}

func TestRunsGroupsNewestFirst(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	for i, e := range []model.RunLogEntry{
		{RunID: "a", Job: batch.JobAnnouncements, SubscriberID: "u1", Processed: true, NotificationsSent: 1, RecipientCount: 2},
		{RunID: "a", Job: batch.JobAnnouncements, SubscriberID: "u2", Processed: false},
		{RunID: "b", Job: batch.JobEveningSummary, SubscriberID: "u1", Processed: true, NotificationsSent: 1, RecipientCount: 2},
	} {
		e.RunAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, st.AppendRun(ctx, e))
	}
	s := New("secret", Deps{Runs: st})

	rec, _ := do(t, s.Handler(), http.MethodGet, "/runs?key=nope")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = do(t, s.Handler(), http.MethodGet, "/runs?key=secret")
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		OK   bool             `json:"ok"`
		Runs []batch.RunGroup `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.True(t, out.OK)
	require.Len(t, out.Runs, 2)
	require.Equal(t, "b", out.Runs[0].RunID)
	require.Equal(t, 2, out.Runs[1].TotalUsers)
	require.Equal(t, 1, out.Runs[1].ProcessedUsers)
	require.Equal(t, 1, out.Runs[1].SkippedUsers)

	rec, _ = do(t, s.Handler(), http.MethodGet, "/runs?key=secret&limit=1")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Runs, 1)
}

type brokenStore struct{}

func (brokenStore) Ping(context.Context) error { return errors.New("db down") }

func TestHealth(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	s := New("", Deps{Store: storage.NewMemory(), Now: func() time.Time { return now }})
	rec, body := do(t, s.Handler(), http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "connected", body["storage"])

	s = New("", Deps{Store: brokenStore{}})
	_, body = do(t, s.Handler(), http.MethodGet, "/health")
	require.Equal(t, "degraded", body["status"])
	require.Contains(t, body["storage"], "db down")
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	m := metrics.New()
	m.Send("digest", true)
	s := New("", Deps{Metrics: m})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "bsewatch_") {
		t.Fatalf("status=%d body=%.200s", rec.Code, rec.Body.String())
	}
}

func TestPprofBehindKey(t *testing.T) {
	t.Parallel()
	s := New("secret", Deps{Pprof: true})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/goroutine?debug=1", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/goroutine?debug=1&key=secret", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "goroutine")
}
