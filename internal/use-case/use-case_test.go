package use_case

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/trunov/heroproxy/internal/cache"
	"github.com/trunov/heroproxy/internal/config"
	"github.com/trunov/heroproxy/internal/entities"
	"github.com/trunov/heroproxy/internal/fetcher"
	"github.com/trunov/heroproxy/internal/queue"
)

type fakeQueue struct {
	mu      sync.Mutex
	submits int

	gate    chan struct{}
	err     error
	abandon bool
	result  func(entities.Job) queue.Result
}

func (q *fakeQueue) Submit(job entities.Job) (<-chan queue.Result, error) {
	q.mu.Lock()
	q.submits++
	q.mu.Unlock()

	if q.err != nil {
		return nil, q.err
	}

	ch := make(chan queue.Result, 1)
	go func() {
		if q.gate != nil {
			<-q.gate
		}
		if !q.abandon {
			ch <- q.result(job)
		}
		close(ch)
	}()
	return ch, nil
}

func (q *fakeQueue) Submits() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.submits
}

func encodeURL(job entities.Job) queue.Result {
	return queue.Result{Data: []byte("img:" + job.Key()), OriginalSize: 1000}
}

func newTestUseCase(t *testing.T, q Queue, coalesce bool) (*useCase, *cache.Cache) {
	t.Helper()

	c, err := cache.New(cache.Options{CapacityBytes: 1 << 20})
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	t.Cleanup(c.Close)

	l := logrus.New()
	l.SetOutput(io.Discard)

	uc, err := New(c, q, config.ProxyConfig{Format: "webp", Coalesce: coalesce}, logrus.NewEntry(l))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return uc, c
}

func params(url string) entities.ImageParams {
	return entities.ImageParams{URL: url, Quality: entities.DefaultQuality}
}

func TestNew_BadFormat(t *testing.T) {
	c, _ := cache.New(cache.Options{CapacityBytes: 10})
	defer c.Close()
	if _, err := New(c, &fakeQueue{}, config.ProxyConfig{Format: "gif"}, logrus.NewEntry(logrus.New())); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestProcess_MissThenHit(t *testing.T) {
	q := &fakeQueue{result: encodeURL}
	uc, c := newTestUseCase(t, q, true)
	ctx := context.Background()

	first, err := uc.Process(ctx, params("https://example.com/a.jpg"))
	if err != nil {
		t.Fatalf("first Process: %v", err)
	}
	if first.Cached {
		t.Error("first request reported as cached")
	}
	if first.OriginalSize != 1000 {
		t.Errorf("OriginalSize = %d, want 1000", first.OriginalSize)
	}

	second, err := uc.Process(ctx, params("https://example.com/a.jpg"))
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if !second.Cached {
		t.Error("second request not served from cache")
	}
	if string(first.Data) != string(second.Data) {
		t.Errorf("cached bytes differ: %q vs %q", first.Data, second.Data)
	}

	st := c.Stats()
	if st.Hits != 1 || st.Misses != 1 {
		t.Errorf("hits=%d misses=%d, want 1 and 1", st.Hits, st.Misses)
	}
	if q.Submits() != 1 {
		t.Errorf("submits = %d, want 1", q.Submits())
	}
}

func TestProcess_DistinctParamsDistinctEntries(t *testing.T) {
	q := &fakeQueue{result: encodeURL}
	uc, c := newTestUseCase(t, q, true)
	ctx := context.Background()

	reqs := []entities.ImageParams{
		{URL: "https://example.com/a.jpg", Quality: 80},
		{URL: "https://example.com/a.jpg", Quality: 40},
		{URL: "https://example.com/a.jpg", Quality: 80, KeepColor: true},
		{URL: "https://example.com/b.jpg", Quality: 80},
	}
	for _, p := range reqs {
		if _, err := uc.Process(ctx, p); err != nil {
			t.Fatalf("Process(%+v): %v", p, err)
		}
	}

	if q.Submits() != len(reqs) {
		t.Errorf("submits = %d, want %d", q.Submits(), len(reqs))
	}
	if st := c.Stats(); st.Entries != len(reqs) || st.Misses != uint64(len(reqs)) {
		t.Errorf("entries=%d misses=%d, want %d", st.Entries, st.Misses, len(reqs))
	}
}

func TestProcess_Malformed(t *testing.T) {
	q := &fakeQueue{result: encodeURL}
	uc, c := newTestUseCase(t, q, true)

	tests := []struct {
		name   string
		params entities.ImageParams
	}{
		{"empty url", entities.ImageParams{Quality: 80}},
		{"bad escape", entities.ImageParams{URL: "http://example.com/%zz", Quality: 80}},
		{"quality too high", entities.ImageParams{URL: "https://example.com/a.jpg", Quality: 101}},
		{"quality negative", entities.ImageParams{URL: "https://example.com/a.jpg", Quality: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := uc.Process(context.Background(), tt.params)
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("err = %v, want ErrMalformed", err)
			}
		})
	}

	if st := c.Stats(); st.Hits+st.Misses != 0 {
		t.Errorf("malformed requests were counted: %+v", st)
	}
	if q.Submits() != 0 {
		t.Errorf("submits = %d, want 0", q.Submits())
	}
}

func TestProcess_ErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		queue      *fakeQueue
		wantErr    error
		wantMisses uint64
	}{
		{
			name:    "queue full",
			queue:   &fakeQueue{err: queue.ErrQueueFull},
			wantErr: queue.ErrQueueFull,
		},
		{
			name:    "pool closed",
			queue:   &fakeQueue{err: queue.ErrPoolClosed},
			wantErr: queue.ErrPoolClosed,
		},
		{
			name: "invalid url from fetcher",
			queue: &fakeQueue{result: func(entities.Job) queue.Result {
				return queue.Result{Err: fmt.Errorf("fetch x: %w", fetcher.ErrInvalidURL)}
			}},
			wantErr: fetcher.ErrInvalidURL,
		},
		{
			name: "codec failure",
			queue: &fakeQueue{result: func(entities.Job) queue.Result {
				return queue.Result{Err: errors.New("decode failed")}
			}},
			wantMisses: 1,
		},
		{
			name:       "abandoned",
			queue:      &fakeQueue{abandon: true},
			wantErr:    ErrAbandoned,
			wantMisses: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uc, c := newTestUseCase(t, tt.queue, true)

			_, err := uc.Process(context.Background(), params("https://example.com/a.jpg"))
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}

			st := c.Stats()
			if st.Hits != 0 || st.Misses != tt.wantMisses {
				t.Errorf("hits=%d misses=%d, want 0 and %d", st.Hits, st.Misses, tt.wantMisses)
			}
			if st.Entries != 0 {
				t.Errorf("failed job left %d cache entries", st.Entries)
			}
		})
	}
}

func TestProcess_UpstreamStatusIsAMiss(t *testing.T) {
	q := &fakeQueue{result: func(j entities.Job) queue.Result {
		return queue.Result{Err: fmt.Errorf("fetch: %w", &fetcher.StatusError{Code: http.StatusNotFound, URL: j.SourceURL})}
	}}
	uc, c := newTestUseCase(t, q, false)

	_, err := uc.Process(context.Background(), params("https://example.com/gone.jpg"))
	var se *fetcher.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Fatalf("err = %v, want StatusError 404", err)
	}
	if st := c.Stats(); st.Misses != 1 {
		t.Errorf("misses = %d, want 1", st.Misses)
	}
}

// hammer fires n identical requests at once and waits for all of them.
func hammer(t *testing.T, uc *useCase, q *fakeQueue, n int) [][]byte {
	t.Helper()

	var (
		ready sync.WaitGroup
		done  sync.WaitGroup
		start = make(chan struct{})
		out   = make([][]byte, n)
		errs  = make([]error, n)
	)
	for i := 0; i < n; i++ {
		ready.Add(1)
		done.Add(1)
		go func(i int) {
			defer done.Done()
			ready.Done()
			<-start
			r, err := uc.Process(context.Background(), params("https://example.com/hot.jpg"))
			out[i], errs[i] = r.Data, err
		}(i)
	}

	ready.Wait()
	close(start)
	time.Sleep(50 * time.Millisecond)
	close(q.gate)
	done.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	return out
}

func TestProcess_ConcurrentIdenticalMissesCoalesce(t *testing.T) {
	const n = 1000
	q := &fakeQueue{gate: make(chan struct{}), result: encodeURL}
	uc, c := newTestUseCase(t, q, true)

	out := hammer(t, uc, q, n)

	if q.Submits() != 1 {
		t.Errorf("submits = %d, want 1", q.Submits())
	}
	for i := 1; i < n; i++ {
		if string(out[i]) != string(out[0]) {
			t.Fatalf("request %d got different bytes", i)
		}
	}
	st := c.Stats()
	if st.Hits+st.Misses != n {
		t.Errorf("hits+misses = %d, want %d", st.Hits+st.Misses, n)
	}
	if st.Misses == 0 {
		t.Error("no request was counted as a miss")
	}
}

func TestProcess_WithoutCoalescingEveryMissSubmits(t *testing.T) {
	q := &fakeQueue{gate: make(chan struct{}), result: encodeURL}
	uc, c := newTestUseCase(t, q, false)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := uc.Process(context.Background(), params("https://example.com/hot.jpg")); err != nil {
				t.Error(err)
			}
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for q.Submits() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(q.gate)
	wg.Wait()

	if q.Submits() != 2 {
		t.Fatalf("submits = %d, want 2 for two concurrent misses", q.Submits())
	}
	if st := c.Stats(); st.Misses != 2 || st.Hits != 0 {
		t.Errorf("hits=%d misses=%d, want 0 and 2", st.Hits, st.Misses)
	}
}

func TestProcess_WithoutCoalescingCountsStayConsistent(t *testing.T) {
	const n = 1000
	q := &fakeQueue{gate: make(chan struct{}), result: encodeURL}
	uc, c := newTestUseCase(t, q, false)

	hammer(t, uc, q, n)

	if s := q.Submits(); s < 1 || s > n {
		t.Errorf("submits = %d, want between 1 and %d", s, n)
	}
	st := c.Stats()
	if st.Hits+st.Misses != n {
		t.Errorf("hits+misses = %d, want %d", st.Hits+st.Misses, n)
	}
	if st.Misses != uint64(q.Submits()) {
		t.Errorf("misses = %d, submits = %d, want equal", st.Misses, q.Submits())
	}
}

func TestProcess_HitsPlusMissesExcludesMalformed(t *testing.T) {
	q := &fakeQueue{result: encodeURL}
	uc, c := newTestUseCase(t, q, true)

	var total, malformed int
	for i := 0; i < 200; i++ {
		p := params(fmt.Sprintf("https://example.com/%d.jpg", i%17))
		if i%7 == 0 {
			p.URL = ""
			malformed++
		}
		total++
		_, _ = uc.Process(context.Background(), p)
	}

	st := c.Stats()
	if got, want := st.Hits+st.Misses, uint64(total-malformed); got != want {
		t.Errorf("hits+misses = %d, want %d", got, want)
	}
	if st.Misses != uint64(q.Submits()) {
		t.Errorf("misses = %d, submits = %d", st.Misses, q.Submits())
	}
}
