package handler

// Sentinel is the body the Bandwidth Hero extension expects from a proxy
// that is alive but was not given an image to work on.
const Sentinel = "bandwidth-hero-proxy"

const (
	headerCache        = "X-Cache"
	headerOriginalSize = "X-Original-Size"
	headerBytesSaved   = "X-Bytes-Saved"
	headerDisposition  = "Content-Disposition"
)

type StatsResponse struct {
	Hits          uint64  `json:"hits"`
	Misses        uint64  `json:"misses"`
	HitRatio      float64 `json:"hit_ratio"`
	Evictions     uint64  `json:"evictions"`
	Expirations   uint64  `json:"expirations"`
	Entries       int     `json:"entries"`
	UsedBytes     int64   `json:"used_bytes"`
	CapacityBytes int64   `json:"capacity_bytes"`
	Used          string  `json:"used"`
	Capacity      string  `json:"capacity"`
	QueuedJobs    int64   `json:"queued_jobs"`
	QueueCapacity int     `json:"queue_capacity"`
	Workers       int     `json:"workers"`
	Format        string  `json:"format"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
