package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/trunov/heroproxy/internal/cache"
	"github.com/trunov/heroproxy/internal/entities"
	"github.com/trunov/heroproxy/internal/fetcher"
	"github.com/trunov/heroproxy/internal/queue"
	use_case "github.com/trunov/heroproxy/internal/use-case"
)

type UseCase interface {
	Process(ctx context.Context, params entities.ImageParams) (use_case.Reply, error)
	Format() entities.Format
}

type StatsSource interface {
	Stats() cache.Stats
}

type QueueSource interface {
	Queued() int64
	QueueCapacity() int
	Workers() int
}

type Handler struct {
	useCase UseCase
	stats   StatsSource
	queue   QueueSource
	log     *logrus.Entry
}

func New(useCase UseCase, stats StatsSource, queue QueueSource, log *logrus.Entry) *Handler {
	return &Handler{
		useCase: useCase,
		stats:   stats,
		queue:   queue,
		log:     log.WithField("component", "http"),
	}
}

// Proxy handles GET /?url=&l=&bw=.
func (h *Handler) Proxy(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	params := entities.ImageParams{
		URL:       strings.TrimSpace(q.Get("url")),
		Quality:   clamp(parseIntDefault(q.Get("l"), entities.DefaultQuality), 0, 100),
		KeepColor: q.Get("bw") == "0",
	}
	if params.URL == "" {
		writeText(w, Sentinel, http.StatusOK)
		return
	}

	reply, err := h.useCase.Process(r.Context(), params)
	if err != nil {
		h.writeProcessError(w, r, params, err)
		return
	}

	format := h.useCase.Format()
	hdr := w.Header()
	hdr.Set("Content-Type", format.MIMEType())
	hdr.Set("Content-Length", strconv.Itoa(len(reply.Data)))
	hdr.Set(headerDisposition, `inline; filename="`+format.Filename(params.URL)+`"`)
	if reply.Cached {
		hdr.Set(headerCache, "HIT")
	} else {
		hdr.Set(headerCache, "MISS")
		if reply.OriginalSize > 0 {
			hdr.Set(headerOriginalSize, strconv.Itoa(reply.OriginalSize))
			hdr.Set(headerBytesSaved, strconv.Itoa(max(reply.OriginalSize-len(reply.Data), 0)))
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(reply.Data)
}

func (h *Handler) writeProcessError(w http.ResponseWriter, r *http.Request, params entities.ImageParams, err error) {
	log := h.log.WithFields(logrus.Fields{
		"request_id": middleware.GetReqID(r.Context()),
		"url":        params.URL,
	}).WithError(err)

	var statusErr *fetcher.StatusError
	switch {
	case errors.Is(err, use_case.ErrMalformed), errors.Is(err, fetcher.ErrInvalidURL):
		log.Debug("unusable url, answering with sentinel")
		writeText(w, Sentinel, http.StatusOK)
	case errors.Is(err, queue.ErrQueueFull):
		log.Warn("rejected")
		writeText(w, queue.ErrQueueFull.Error(), http.StatusInternalServerError)
	case errors.Is(err, queue.ErrPoolClosed):
		log.Warn("rejected during shutdown")
		writeText(w, queue.ErrPoolClosed.Error(), http.StatusInternalServerError)
	case errors.As(err, &statusErr):
		log.Info("upstream error")
		writeText(w, statusErr.Error(), statusErr.Code)
	default:
		log.Error("processing failed")
		writeText(w, err.Error(), http.StatusInternalServerError)
	}
}

// Preflight answers CORS preflight requests; the headers come from CORS.
func (h *Handler) Preflight(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, HealthResponse{Status: "healthy"}, http.StatusOK)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st := h.stats.Stats()

	writeJSON(w, StatsResponse{
		Hits:          st.Hits,
		Misses:        st.Misses,
		HitRatio:      st.HitRatio(),
		Evictions:     st.Evictions,
		Expirations:   st.Expirations,
		Entries:       st.Entries,
		UsedBytes:     st.UsedBytes,
		CapacityBytes: st.CapacityBytes,
		Used:          humanize.IBytes(uint64(st.UsedBytes)),
		Capacity:      humanize.IBytes(uint64(st.CapacityBytes)),
		QueuedJobs:    h.queue.Queued(),
		QueueCapacity: h.queue.QueueCapacity(),
		Workers:       h.queue.Workers(),
		Format:        h.useCase.Format().String(),
	}, http.StatusOK)
}

func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
}
