package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"github.com/trunov/heroproxy/internal/config"
	"github.com/trunov/heroproxy/internal/entities"
)

const DefaultQueueSize = 1000

var ErrJobPanic = errors.New("transcoding job panicked")

type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type Transcoder interface {
	Transcode(data []byte, opts entities.EncodeOptions) ([]byte, error)
}

// Pool runs a fixed number of workers over a bounded FIFO queue. Workers
// keep no state between jobs.
type Pool struct {
	cfg     config.WorkerConfig
	tasks   chan task
	fetcher Fetcher
	conv    Transcoder
	log     *logrus.Entry

	queued atomic.Int64

	mu      sync.RWMutex
	started bool
	closed  bool
	wg      sync.WaitGroup
}

func NewPool(cfg config.WorkerConfig, fetcher Fetcher, conv Transcoder, log *logrus.Entry) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	return &Pool{
		cfg:     cfg,
		tasks:   make(chan task, cfg.QueueSize),
		fetcher: fetcher,
		conv:    conv,
		log:     log.WithField("component", "worker-pool"),
	}
}

func (p *Pool) Workers() int { return p.cfg.Workers }

// Start launches the workers. ctx is handed to every fetch; cancelling it
// makes pending fetches fail fast but does not stop the workers, Close does.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	p.log.Infof("starting workers=%d queue=%d", p.cfg.Workers, cap(p.tasks))
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Close stops accepting jobs and waits for the queued ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.closed = true
	close(p.tasks)
	started := p.started
	p.mu.Unlock()

	if !started {
		// nobody will ever run these; release their waiters
		for t := range p.tasks {
			close(t.reply)
			p.queued.Add(-1)
		}
	}

	p.wg.Wait()
	p.log.Info("all workers stopped")
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	log := p.log.WithField("worker", id)
	log.Debug("worker started")

	for t := range p.tasks {
		started := time.Now()
		res := p.process(ctx, t.job)

		t.reply <- res
		close(t.reply)

		left := p.queued.Add(-1)
		entry := log.WithFields(logrus.Fields{
			"job_id": t.job.ID,
			"queued": left,
			"took":   time.Since(started).Round(time.Millisecond),
		})
		if res.Err != nil {
			entry.WithError(res.Err).Warn("job failed")
		} else {
			entry.WithField("bytes", len(res.Data)).Debug("job done")
		}
	}

	log.Debug("worker stopped")
}

func (p *Pool) process(ctx context.Context, job entities.Job) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: %v", ErrJobPanic, r)
			sentry.CaptureException(err)
			p.log.WithField("job_id", job.ID).WithError(err).Error("recovered from panic")
			res = Result{Err: err}
		}
	}()

	orig, err := p.fetcher.Fetch(ctx, job.SourceURL)
	if err != nil {
		return Result{Err: fmt.Errorf("fetch %s: %w", job.SourceURL, err)}
	}

	out, err := p.conv.Transcode(orig, job.Options())
	if err != nil {
		return Result{Err: fmt.Errorf("transcode: %w", err)}
	}

	return Result{Data: out, OriginalSize: len(orig)}
}
