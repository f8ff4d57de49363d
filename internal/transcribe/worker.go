package transcribe

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrWorkerClosed is returned for requests submitted after Close.
var ErrWorkerClosed = errors.New("transcribe: worker closed")

// Request is one unit of work for a Worker. WAV takes precedence over Samples.
type Request struct {
	ID      string
	WAV     []byte
	Samples []float32
}

// Response carries the outcome of a Request.
type Response struct {
	ID     string
	Result Result
	Err    error
}

// Observer receives worker events, e.g. for metrics.
type Observer interface {
	QueueDepth(n int)
	Observe(res Result, err error)
}

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	QueueSize int // default 16
	Observer  Observer
	Logger    *slog.Logger
}

type job struct {
	ctx   context.Context
	req   Request
	reply chan Response
}

// Worker owns a Pipeline and runs every request on a single goroutine, so
// the engine never sees concurrent calls.
type Worker struct {
	pipeline *Pipeline
	obs      Observer
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan job
	done   chan struct{}
}

// NewWorker starts the worker goroutine. Call Close to stop it.
func NewWorker(p *Pipeline, opts WorkerOptions) *Worker {
	size := opts.QueueSize
	if size <= 0 {
		size = 16
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	w := &Worker{
		pipeline: p,
		obs:      opts.Observer,
		logger:   logger,
		jobs:     make(chan job, size),
		done:     make(chan struct{}),
	}
	go w.run()
	return w
}

// Submit queues req and returns a channel that receives exactly one Response.
// A request without an ID is assigned one.
func (w *Worker) Submit(ctx context.Context, req Request) <-chan Response {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	reply := make(chan Response, 1)

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		reply <- Response{ID: req.ID, Err: ErrWorkerClosed}
		return reply
	}

	select {
	case w.jobs <- job{ctx: ctx, req: req, reply: reply}:
		w.queueDepth()
	case <-ctx.Done():
		reply <- Response{ID: req.ID, Err: ctx.Err()}
	}
	return reply
}

// Transcribe submits req and waits for its response.
func (w *Worker) Transcribe(ctx context.Context, req Request) Response {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	select {
	case resp := <-w.Submit(ctx, req):
		return resp
	case <-ctx.Done():
		return Response{ID: req.ID, Err: ctx.Err()}
	}
}

// Close stops accepting requests, finishes the queued ones and waits for the
// worker goroutine to exit. It does not close the pipeline.
func (w *Worker) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.jobs)
	}
	w.mu.Unlock()
	<-w.done
}

func (w *Worker) run() {
	defer close(w.done)
	for j := range w.jobs {
		w.queueDepth()
		j.reply <- w.handle(j)
	}
}

func (w *Worker) handle(j job) Response {
	if err := j.ctx.Err(); err != nil {
		return Response{ID: j.req.ID, Err: err}
	}

	start := time.Now()
	var (
		res Result
		err error
	)
	if j.req.WAV != nil {
		res, err = w.pipeline.TranscribeWAV(j.ctx, j.req.WAV)
	} else {
		res, err = w.pipeline.TranscribeSamples(j.ctx, j.req.Samples)
	}

	if w.obs != nil {
		w.obs.Observe(res, err)
	}
	if err != nil {
		w.logger.Warn("transcription failed", "id", j.req.ID, "error", err)
	} else {
		w.logger.Info("transcription complete", "id", j.req.ID, "tokens", res.Generated, "stop", res.Stop, "elapsed", time.Since(start))
	}
	return Response{ID: j.req.ID, Result: res, Err: err}
}

func (w *Worker) queueDepth() {
	if w.obs != nil {
		w.obs.QueueDepth(len(w.jobs))
	}
}
