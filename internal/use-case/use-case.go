package use_case

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/getsentry/sentry-go"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/trunov/heroproxy/internal/config"
	"github.com/trunov/heroproxy/internal/entities"
	"github.com/trunov/heroproxy/internal/fetcher"
	"github.com/trunov/heroproxy/internal/queue"
)

var (
	ErrMalformed = errors.New("malformed request")
	// ErrAbandoned means the reply channel was closed before a worker
	// produced a result.
	ErrAbandoned = errors.New("job abandoned without result")
)

type Cache interface {
	Lookup(key string) ([]byte, bool)
	Insert(key string, data []byte) error
	RecordHit()
	RecordMiss()
}

type Queue interface {
	Submit(job entities.Job) (<-chan queue.Result, error)
}

// Reply is a transcoded image ready to send. Data is shared with the cache
// and must not be modified.
type Reply struct {
	Data         []byte
	Cached       bool
	OriginalSize int
}

type useCase struct {
	cache     Cache
	queue     Queue
	format    entities.Format
	flights   *singleflight.Group
	validator *validator.Validate
	log       *logrus.Entry
}

func New(cache Cache, q Queue, cfg config.ProxyConfig, log *logrus.Entry) (*useCase, error) {
	format, err := entities.ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}

	uc := &useCase{
		cache:     cache,
		queue:     q,
		format:    format,
		validator: validator.New(),
		log:       log.WithField("component", "coordinator"),
	}
	if cfg.Coalesce {
		uc.flights = &singleflight.Group{}
	}

	return uc, nil
}

func (c *useCase) Format() entities.Format { return c.format }

// Process serves one proxy request: from the cache when possible, otherwise
// through the worker pool. Every request that reaches a lookup is counted
// once as a hit or a miss, except those rejected before any work ran.
func (c *useCase) Process(ctx context.Context, params entities.ImageParams) (Reply, error) {
	if err := c.validate(params); err != nil {
		return Reply{}, err
	}

	job := entities.NewJob(uuid.NewString(), params, c.format)
	key := job.Key()

	if data, ok := c.cache.Lookup(key); ok {
		c.cache.RecordHit()
		return Reply{Data: data, Cached: true}, nil
	}

	var (
		reply Reply
		err   error
	)
	if c.flights != nil {
		var v any
		v, err, _ = c.flights.Do(key, func() (any, error) {
			// an earlier flight may have filled the entry since our lookup
			if data, ok := c.cache.Lookup(key); ok {
				return Reply{Data: data, Cached: true}, nil
			}
			return c.compute(ctx, job)
		})
		reply, _ = v.(Reply)
	} else {
		reply, err = c.compute(ctx, job)
	}

	c.count(reply, err)
	return reply, err
}

func (c *useCase) validate(params entities.ImageParams) error {
	if err := c.validator.Struct(params); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if _, err := url.Parse(params.URL); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func (c *useCase) compute(ctx context.Context, job entities.Job) (Reply, error) {
	log := c.log.WithFields(logrus.Fields{"job_id": job.ID, "key": job.Key()})

	pending, err := c.queue.Submit(job)
	if err != nil {
		log.WithError(err).Warn("job rejected")
		return Reply{}, err
	}

	res, ok := <-pending
	if !ok {
		err := fmt.Errorf("%w: %s", ErrAbandoned, job.ID)
		hub := sentry.GetHubFromContext(ctx)
		if hub == nil {
			hub = sentry.CurrentHub()
		}
		hub.CaptureException(err)
		log.WithError(err).Error("no result for job")
		return Reply{}, err
	}
	if res.Err != nil {
		return Reply{}, res.Err
	}

	if err := c.cache.Insert(job.Key(), res.Data); err != nil {
		log.WithError(err).WithField("bytes", len(res.Data)).Info("result not cached")
	}

	return Reply{Data: res.Data, OriginalSize: res.OriginalSize}, nil
}

func (c *useCase) count(reply Reply, err error) {
	switch {
	case err == nil && reply.Cached:
		c.cache.RecordHit()
	case err == nil:
		c.cache.RecordMiss()
	case errors.Is(err, queue.ErrQueueFull),
		errors.Is(err, queue.ErrPoolClosed),
		errors.Is(err, fetcher.ErrInvalidURL):
		// rejected before any transcoding, not a cache decision
	default:
		c.cache.RecordMiss()
	}
}
