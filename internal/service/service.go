// Package service answers transcription requests over NATS.
//
// A request is a NATS message whose body is a WAV file; the reply is a JSON
// Reply. Instances subscribe in a queue group so several processes can
// share one subject.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/chaz8081/gostt-whisper/internal/transcribe"
)

// HeaderRequestID carries an optional caller-chosen request ID.
const HeaderRequestID = "Gostt-Request-Id"

// Reply is the JSON body sent back for every request.
type Reply struct {
	ID        string  `json:"id"`
	Text      string  `json:"text"`
	Tokens    []int64 `json:"tokens,omitempty"`
	Generated int     `json:"generated"`
	Stop      string  `json:"stop,omitempty"`
	ElapsedMS int64   `json:"elapsed_ms"`
	Error     string  `json:"error,omitempty"`
	Kind      string  `json:"kind,omitempty"`
}

// Options configures a Service.
type Options struct {
	Subject        string
	Queue          string
	RequestTimeout time.Duration // zero means no per-request deadline
	Logger         *slog.Logger
}

// Service feeds NATS requests into a transcribe.Worker.
type Service struct {
	conn   *nats.Conn
	worker *transcribe.Worker
	opts   Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	sub    *nats.Subscription

	// mu orders wg.Add in handle against wg.Wait in Close.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Connect dials the NATS servers in url (comma separated).
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	if url == "" {
		return nil, errors.New("service: no NATS url configured")
	}
	conn, err := nats.Connect(url,
		nats.Name("gostt-whisper"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("reconnected to NATS", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("service: connect to nats: %w", err)
	}
	logger.Info("connected to NATS", "url", conn.ConnectedUrl())
	return conn, nil
}

// New returns a Service; call Start to subscribe.
func New(parent context.Context, conn *nats.Conn, worker *transcribe.Worker, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		conn:   conn,
		worker: worker,
		opts:   opts,
		logger: logger.With("subject", opts.Subject),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the request subject.
func (s *Service) Start() error {
	if s.opts.Subject == "" {
		return errors.New("service: subject is required")
	}
	var (
		sub *nats.Subscription
		err error
	)
	if s.opts.Queue != "" {
		sub, err = s.conn.QueueSubscribe(s.opts.Subject, s.opts.Queue, s.handle)
	} else {
		sub, err = s.conn.Subscribe(s.opts.Subject, s.handle)
	}
	if err != nil {
		return fmt.Errorf("service: subscribe %s: %w", s.opts.Subject, err)
	}
	if err := s.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("service: flush subscription: %w", err)
	}
	s.sub = sub
	s.logger.Info("listening for transcription requests", "queue", s.opts.Queue)
	return nil
}

// Close stops taking new messages, cancels in-flight requests and waits
// for their replies to be sent.
func (s *Service) Close() {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

func (s *Service) handle(msg *nats.Msg) {
	id := msg.Header.Get(HeaderRequestID)
	wav := msg.Data

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.respond(msg, replyFor(transcribe.Response{ID: id, Err: transcribe.ErrWorkerClosed}))
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		ctx := s.ctx
		if s.opts.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
			defer cancel()
		}

		resp := s.worker.Transcribe(ctx, transcribe.Request{ID: id, WAV: wav})
		s.respond(msg, replyFor(resp))
	}()
}

func (s *Service) respond(msg *nats.Msg, r Reply) {
	if msg.Reply == "" {
		s.logger.Debug("request has no reply subject, dropping result", "id", r.ID)
		return
	}
	data, err := json.Marshal(r)
	if err != nil {
		s.logger.Warn("failed to marshal reply", "id", r.ID, "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to send reply", "id", r.ID, "error", err)
	}
}

func replyFor(resp transcribe.Response) Reply {
	r := Reply{
		ID:        resp.ID,
		Text:      resp.Result.Text,
		Tokens:    resp.Result.Tokens,
		Generated: resp.Result.Generated,
		Stop:      string(resp.Result.Stop),
		ElapsedMS: resp.Result.Elapsed.Milliseconds(),
	}
	if resp.Err != nil {
		r.Error = resp.Err.Error()
		r.Kind = transcribe.ErrorKind(resp.Err)
	}
	return r
}
