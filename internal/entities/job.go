package entities

import (
	"strconv"
	"strings"
)

const (
	DefaultQuality = 80
	// LosslessQuality is the lowest quality that switches encoders with a
	// lossless mode into it.
	LosslessQuality = 95
)

// ImageParams is what a proxy request asks for.
type ImageParams struct {
	URL       string `validate:"required"`
	Quality   int    `validate:"gte=0,lte=100"`
	KeepColor bool
}

// EncodeOptions drive a single transcode.
type EncodeOptions struct {
	Quality   int
	KeepColor bool
	Format    Format
}

// Lossless reports whether the requested quality selects lossless encoding.
func (o EncodeOptions) Lossless() bool { return o.Quality >= LosslessQuality }

// Job is one unit of work for the worker pool. It is never mutated after
// creation and is consumed by exactly one worker.
type Job struct {
	ID        string
	SourceURL string
	Quality   int
	KeepColor bool
	Format    Format
}

func NewJob(id string, params ImageParams, format Format) Job {
	return Job{
		ID:        id,
		SourceURL: params.URL,
		Quality:   params.Quality,
		KeepColor: params.KeepColor,
		Format:    format,
	}
}

func (j Job) Options() EncodeOptions {
	return EncodeOptions{Quality: j.Quality, KeepColor: j.KeepColor, Format: j.Format}
}

// Key is the cache key of the job. The ID is not part of it, so two jobs
// asking for the same output share an entry.
func (j Job) Key() string {
	color := "bw"
	if j.KeepColor {
		color = "color"
	}

	var b strings.Builder
	b.Grow(len(j.SourceURL) + 20)
	b.WriteString(j.Format.Extension())
	b.WriteString(":q")
	b.WriteString(strconv.Itoa(j.Quality))
	b.WriteByte(':')
	b.WriteString(color)
	b.WriteByte(':')
	b.WriteString(j.SourceURL)
	return b.String()
}
