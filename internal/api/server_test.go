package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/market-radar/internal/clock"
	"github.com/JakeFAU/market-radar/internal/evaluation"
	"github.com/JakeFAU/market-radar/internal/ingest"
	"github.com/JakeFAU/market-radar/internal/radar"
	"github.com/JakeFAU/market-radar/internal/storage/memory"
)

var testNow = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func TestServer_Ingest_ReturnsReport(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		query string
		want  int
	}{
		{name: "default", query: "", want: 20},
		{name: "explicit", query: "?limit=5", want: 5},
		{name: "clamped", query: "?limit=1000", want: 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ing := &fakeIngester{report: ingest.Report{
				Run:      radar.Run{ID: "run-1", Status: radar.RunSuccess},
				Entities: []radar.Entity{{ID: "e-1", URL: "https://acme.dev/"}},
				Failures: []ingest.RecordFailure{},
			}}
			s := newTestServer(t, func(d *Deps) { d.Ingester = ing })

			rec := do(s, http.MethodPost, "/v1/ingest"+tc.query, nil)
			require.Equal(t, http.StatusOK, rec.Code)
			require.Equal(t, tc.want, ing.lastLimit())

			var body struct {
				Run      radar.Run      `json:"run"`
				Entities []radar.Entity `json:"entities"`
				Failures []any          `json:"failures"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, "run-1", body.Run.ID)
			require.Len(t, body.Entities, 1)
			require.NotNil(t, body.Failures)
		})
	}
}

func TestServer_Ingest_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		query string
		err   error
		code  int
	}{
		{name: "non numeric limit", query: "?limit=abc", code: http.StatusBadRequest},
		{name: "zero limit", query: "?limit=0", code: http.StatusBadRequest},
		{name: "in progress", err: radar.ErrIngestInProgress, code: http.StatusConflict},
		{name: "aborted", err: errors.New("resolve identities: db down"), code: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ing := &fakeIngester{err: tc.err}
			s := newTestServer(t, func(d *Deps) { d.Ingester = ing })
			rec := do(s, http.MethodPost, "/v1/ingest"+tc.query, nil)
			require.Equal(t, tc.code, rec.Code)
			require.Contains(t, rec.Body.String(), "error")
		})
	}
}

func TestServer_ListEntities(t *testing.T) {
	t.Parallel()

	store := memory.NewEntityStore()
	seed(t, store, "low", "https://low.dev/", 40)
	seed(t, store, "high", "https://high.dev/", 90)
	s := newTestServer(t, func(d *Deps) { d.Entities = store })

	rec := do(s, http.MethodGet, "/v1/entities", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Entities []radar.Entity `json:"entities"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Entities, 2)
	require.Equal(t, "high", body.Entities[0].ID)

	rec = do(s, http.MethodGet, "/v1/entities?sort=score&limit=1&offset=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Entities, 1)
	require.Equal(t, "low", body.Entities[0].ID)

	rec = do(s, http.MethodGet, "/v1/entities?sort=hype", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(s, http.MethodGet, "/v1/entities?offset=-1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GetEntity(t *testing.T) {
	t.Parallel()

	store := memory.NewEntityStore()
	seed(t, store, "e-1", "https://acme.dev/", 70)
	s := newTestServer(t, func(d *Deps) { d.Entities = store })

	rec := do(s, http.MethodGet, "/v1/entities/e-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"url":"https://acme.dev/"`)

	rec = do(s, http.MethodGet, "/v1/entities/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_EvaluateAndListEvaluations(t *testing.T) {
	t.Parallel()

	store := memory.NewEntityStore()
	seed(t, store, "e-1", "https://acme.dev/", 70)
	svc := evaluation.NewService(store, evaluation.Fallback{Model: "deepseek-chat"}, nil, "", clock.NewManual(testNow), nil)
	s := newTestServer(t, func(d *Deps) {
		d.Entities = store
		d.Evaluations = svc
	})

	for want := 1; want <= 2; want++ {
		rec := do(s, http.MethodPost, "/v1/entities/e-1/evaluate", nil)
		require.Equal(t, http.StatusCreated, rec.Code)
		var body struct {
			Evaluation radar.Evaluation `json:"evaluation"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, want, body.Evaluation.Version)
	}

	rec := do(s, http.MethodPost, "/v1/entities/e-1/evaluate?full=true", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), "full_evaluation")

	rec = do(s, http.MethodGet, "/v1/entities/e-1/evaluations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Evaluations []radar.Evaluation `json:"evaluations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Evaluations, 3)
	for i, ev := range list.Evaluations {
		require.Equal(t, i+1, ev.Version)
	}

	require.Equal(t, http.StatusNotFound, do(s, http.MethodPost, "/v1/entities/missing/evaluate", nil).Code)
	require.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/v1/entities/missing/evaluations", nil).Code)
	require.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/v1/entities/e-1/evaluate?full=maybe", nil).Code)
}

func TestServer_Runs(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	require.Equal(t, http.StatusServiceUnavailable, do(s, http.MethodGet, "/v1/runs", nil).Code)
	require.Equal(t, http.StatusServiceUnavailable, do(s, http.MethodGet, "/v1/runs/r-1", nil).Code)

	store := memory.NewEntityStore()
	require.NoError(t, store.SaveRun(context.Background(), radar.Run{ID: "r-1", Limit: 20, Status: radar.RunSuccess, StartedAt: testNow}))
	require.NoError(t, store.SaveRun(context.Background(), radar.Run{ID: "r-2", Limit: 20, Status: radar.RunPartial, StartedAt: testNow.Add(time.Hour)}))
	s = newTestServer(t, func(d *Deps) { d.Runs = store })

	rec := do(s, http.MethodGet, "/v1/runs?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Runs []radar.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 2)
	require.Equal(t, "r-2", body.Runs[0].ID)

	require.Equal(t, http.StatusOK, do(s, http.MethodGet, "/v1/runs/r-1", nil).Code)
	require.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/v1/runs/missing", nil).Code)
	require.Equal(t, http.StatusBadRequest, do(s, http.MethodGet, "/v1/runs?limit=x", nil).Code)
}

func TestServer_HealthAndReadiness(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	require.Equal(t, http.StatusOK, do(s, http.MethodGet, "/healthz", nil).Code)
	require.Equal(t, http.StatusOK, do(s, http.MethodGet, "/readyz", nil).Code)

	s = newTestServer(t, func(d *Deps) { d.Entities = downStore{memory.NewEntityStore()} })
	require.Equal(t, http.StatusServiceUnavailable, do(s, http.MethodGet, "/readyz", nil).Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	do(s, http.MethodGet, "/healthz", nil)
	rec := do(s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "radar_http_requests_total")
}

func TestServer_RecoversFromPanics(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, func(d *Deps) { d.Ingester = panicIngester{} })
	rec := do(s, http.MethodPost, "/v1/ingest", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal server error")
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
}

// --- helpers/fakes ---

type fakeIngester struct {
	mu     sync.Mutex
	limits []int
	report ingest.Report
	err    error
}

func (f *fakeIngester) Ingest(_ context.Context, limit int) (ingest.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits = append(f.limits, limit)
	return f.report, f.err
}

func (f *fakeIngester) lastLimit() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.limits) == 0 {
		return 0
	}
	return f.limits[len(f.limits)-1]
}

type panicIngester struct{}

func (panicIngester) Ingest(context.Context, int) (ingest.Report, error) {
	panic("ingester exploded")
}

type downStore struct {
	*memory.EntityStore
}

func (downStore) Ping(context.Context) error {
	return errors.New("connection refused")
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}

func seed(t *testing.T, store *memory.EntityStore, id, url string, score int) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), radar.Entity{
		ID:        id,
		URL:       url,
		Title:     id,
		FirstSeen: testNow,
		LastSeen:  testNow,
		SeenCount: 1,
		Analysis:  &radar.Analysis{Score: score},
	}))
}

func newTestServer(t *testing.T, mutate func(*Deps), opts ...func(*Options)) *Server {
	t.Helper()
	store := memory.NewEntityStore()
	deps := Deps{
		Ingester:    &fakeIngester{},
		Entities:    store,
		Evaluations: evaluation.NewService(store, evaluation.Fallback{}, nil, "", clock.NewManual(testNow), nil),
	}
	if mutate != nil {
		mutate(&deps)
	}
	o := Options{
		CORSOrigins:        []string{"http://localhost:3000"},
		RequestTimeout:     5 * time.Second,
		DefaultIngestLimit: 20,
		MaxIngestLimit:     100,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return NewServer(deps, o, zap.NewNop())
}

func do(s *Server, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

type slowIngester struct {
	delay time.Duration
}

func (s slowIngester) Ingest(_ context.Context, limit int) (ingest.Report, error) {
	time.Sleep(s.delay)
	return ingest.Report{Run: radar.Run{ID: "run-slow", Limit: limit, Status: radar.RunSuccess}}, nil
}

type slowEvaluations struct {
	delay time.Duration
}

func (s slowEvaluations) Request(context.Context, string, bool) (radar.Evaluation, error) {
	time.Sleep(s.delay)
	return radar.Evaluation{Version: 1, OverallScore: 70, CreatedAt: testNow}, nil
}

func (s slowEvaluations) List(ctx context.Context, _ string) ([]radar.Evaluation, error) {
	select {
	case <-time.After(s.delay):
		return []radar.Evaluation{}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestServer_LongRunningRoutesOutliveRequestTimeout(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, func(d *Deps) {
		d.Ingester = slowIngester{delay: 150 * time.Millisecond}
		d.Evaluations = slowEvaluations{delay: 150 * time.Millisecond}
	}, func(o *Options) { o.RequestTimeout = 50 * time.Millisecond })

	rec := do(s, http.MethodPost, "/v1/ingest", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Run radar.Run `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "run-slow", body.Run.ID)
	require.Equal(t, radar.RunSuccess, body.Run.Status)

	rec = do(s, http.MethodPost, "/v1/entities/e1/evaluate?full=true", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Read routes keep the request timeout.
	rec = do(s, http.MethodGet, "/v1/entities/e1/evaluations", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
