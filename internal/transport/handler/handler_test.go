package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/trunov/heroproxy/internal/cache"
	"github.com/trunov/heroproxy/internal/entities"
	"github.com/trunov/heroproxy/internal/fetcher"
	"github.com/trunov/heroproxy/internal/queue"
	use_case "github.com/trunov/heroproxy/internal/use-case"
)

type fakeUseCase struct {
	reply use_case.Reply
	err   error
	calls []entities.ImageParams
}

func (f *fakeUseCase) Process(_ context.Context, p entities.ImageParams) (use_case.Reply, error) {
	f.calls = append(f.calls, p)
	return f.reply, f.err
}

func (f *fakeUseCase) Format() entities.Format { return entities.FormatWebP }

type fakeStats struct{}

func (fakeStats) Stats() cache.Stats {
	return cache.Stats{Hits: 3, Misses: 1, UsedBytes: 2048, CapacityBytes: 1 << 20, Entries: 2}
}

type fakeQueue struct{}

func (fakeQueue) Queued() int64      { return 4 }
func (fakeQueue) QueueCapacity() int { return 1000 }
func (fakeQueue) Workers() int       { return 8 }

func newTestHandler(uc *fakeUseCase) http.Handler {
	l := logrus.New()
	l.SetOutput(io.Discard)
	h := New(uc, fakeStats{}, fakeQueue{}, logrus.NewEntry(l))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.Proxy)
	mux.HandleFunc("OPTIONS /", h.Preflight)
	mux.HandleFunc("GET /stats", h.Stats)
	mux.HandleFunc("GET /healthz", h.Health)
	return CORS(mux)
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestProxy_Sentinel(t *testing.T) {
	uc := &fakeUseCase{}
	h := newTestHandler(uc)

	for _, target := range []string{"/", "/?url=", "/?url=%20%20", "/?l=40"} {
		rec := do(t, h, http.MethodGet, target)
		if rec.Code != http.StatusOK || rec.Body.String() != Sentinel {
			t.Errorf("GET %s = %d %q, want 200 %q", target, rec.Code, rec.Body.String(), Sentinel)
		}
		if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Errorf("GET %s missing CORS header", target)
		}
	}
	if len(uc.calls) != 0 {
		t.Errorf("use case called %d times for sentinel requests", len(uc.calls))
	}
}

func TestProxy_Params(t *testing.T) {
	tests := []struct {
		query     string
		quality   int
		keepColor bool
	}{
		{"url=https://a.test/x.jpg", 80, false},
		{"url=https://a.test/x.jpg&l=30", 30, false},
		{"url=https://a.test/x.jpg&l=abc", 80, false},
		{"url=https://a.test/x.jpg&l=250", 100, false},
		{"url=https://a.test/x.jpg&l=-5", 0, false},
		{"url=https://a.test/x.jpg&bw=0", 80, true},
		{"url=https://a.test/x.jpg&bw=1", 80, false},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			uc := &fakeUseCase{reply: use_case.Reply{Data: []byte("x")}}
			do(t, newTestHandler(uc), http.MethodGet, "/?"+tt.query)

			if len(uc.calls) != 1 {
				t.Fatalf("use case called %d times, want 1", len(uc.calls))
			}
			got := uc.calls[0]
			if got.URL != "https://a.test/x.jpg" || got.Quality != tt.quality || got.KeepColor != tt.keepColor {
				t.Errorf("params = %+v, want quality=%d keepColor=%v", got, tt.quality, tt.keepColor)
			}
		})
	}
}

func TestProxy_MissAndHitHeaders(t *testing.T) {
	body := []byte("RIFF....WEBP")

	uc := &fakeUseCase{reply: use_case.Reply{Data: body, OriginalSize: 100}}
	rec := do(t, newTestHandler(uc), http.MethodGet, "/?url=https://a.test/photos/cat.jpg?size=2")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	want := map[string]string{
		"Content-Type":        "image/webp",
		"Content-Length":      fmt.Sprint(len(body)),
		"Content-Disposition": `inline; filename="cat.webp"`,
		"X-Cache":             "MISS",
		"X-Original-Size":     "100",
		"X-Bytes-Saved":       fmt.Sprint(100 - len(body)),
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if rec.Body.String() != string(body) {
		t.Errorf("body = %q", rec.Body.String())
	}

	uc.reply = use_case.Reply{Data: body, Cached: true}
	rec = do(t, newTestHandler(uc), http.MethodGet, "/?url=https://a.test/photos/cat.jpg")
	if got := rec.Header().Get("X-Cache"); got != "HIT" {
		t.Errorf("X-Cache = %q, want HIT", got)
	}
	if got := rec.Header().Get("X-Original-Size"); got != "" {
		t.Errorf("X-Original-Size on a hit = %q, want empty", got)
	}
}

func TestProxy_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{"malformed", fmt.Errorf("%w: bad", use_case.ErrMalformed), http.StatusOK, Sentinel},
		{"relative url", fmt.Errorf("fetch x: %w", fetcher.ErrInvalidURL), http.StatusOK, Sentinel},
		{"queue full", queue.ErrQueueFull, http.StatusInternalServerError, "queue full"},
		{"pool closed", fmt.Errorf("submit: %w", queue.ErrPoolClosed), http.StatusInternalServerError, queue.ErrPoolClosed.Error()},
		{
			"upstream 404",
			fmt.Errorf("fetch x: %w", &fetcher.StatusError{Code: http.StatusNotFound}),
			http.StatusNotFound,
			"error fetching image: 404 Not Found",
		},
		{"codec", errors.New("transcode: boom"), http.StatusInternalServerError, "transcode: boom"},
		{"abandoned", use_case.ErrAbandoned, http.StatusInternalServerError, use_case.ErrAbandoned.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uc := &fakeUseCase{err: tt.err}
			rec := do(t, newTestHandler(uc), http.MethodGet, "/?url=https://a.test/x.jpg")

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
			if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
				t.Error("missing CORS header on error response")
			}
		})
	}
}

func TestPreflight(t *testing.T) {
	uc := &fakeUseCase{}
	rec := do(t, newTestHandler(uc), http.MethodOptions, "/anything")

	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Errorf("OPTIONS = %d with %d bytes, want 200 and empty", rec.Code, rec.Body.Len())
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got == "" {
		t.Error("missing Access-Control-Allow-Methods")
	}
	if len(uc.calls) != 0 {
		t.Error("preflight reached the use case")
	}
}

func TestStatsAndHealth(t *testing.T) {
	h := newTestHandler(&fakeUseCase{})

	rec := do(t, h, http.MethodGet, "/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("/stats status = %d", rec.Code)
	}
	var st StatsResponse
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("decode /stats: %v", err)
	}
	if st.Hits != 3 || st.Misses != 1 || st.HitRatio != 0.75 || st.QueuedJobs != 4 || st.Workers != 8 {
		t.Errorf("unexpected stats %+v", st)
	}
	if st.Used != "2.0 KiB" || st.Format != "webp" {
		t.Errorf("used=%q format=%q", st.Used, st.Format)
	}

	rec = do(t, h, http.MethodGet, "/healthz")
	var health HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&health); err != nil || health.Status != "healthy" {
		t.Errorf("/healthz = %q (%v)", rec.Body.String(), err)
	}
}
