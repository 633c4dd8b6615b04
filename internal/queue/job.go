package queue

import "github.com/trunov/heroproxy/internal/entities"

// Result is what a worker hands back for one job: the encoded bytes or the
// error that stopped it.
type Result struct {
	Data         []byte
	OriginalSize int
	Err          error
}

// task pairs a job with the one-shot channel its submitter waits on. The
// worker that dequeues it writes exactly one Result and closes the channel.
type task struct {
	job   entities.Job
	reply chan Result
}
