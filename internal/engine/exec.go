// Package engine runs an inference engine as a long-lived child process
// that speaks length-prefixed msgpack frames over stdin/stdout.
package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/chaz8081/gostt-whisper/internal/transcribe"
)

// ErrClosed is returned by calls on a closed or broken engine process.
var ErrClosed = errors.New("engine: process closed")

// Options configures an engine process.
type Options struct {
	// Command is the full command line, parsed with shell quoting rules.
	Command string
	// Env is appended to the current environment.
	Env    []string
	Dir    string
	Logger *slog.Logger
	// CloseTimeout bounds how long Close waits for a clean exit. Default 5s.
	CloseTimeout time.Duration
}

// Exec is an engine backed by a child process. Calls are serialized on the
// pipe; a call cancelled mid-flight kills the process because its decoder
// state can no longer be trusted.
type Exec struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	out     *os.File
	stdout  *bufio.Reader
	logger  *slog.Logger
	timeout time.Duration
	exited  chan struct{}

	mu     sync.Mutex
	broken error
}

// CachedExec is an Exec whose process also supports the cached decode
// protocol.
type CachedExec struct {
	*Exec
}

var (
	_ transcribe.Engine        = (*Exec)(nil)
	_ transcribe.CachedDecoder = (*CachedExec)(nil)
)

// Start launches the engine process and performs the hello handshake. The
// returned engine implements transcribe.CachedDecoder when the process
// reports support for it.
func Start(ctx context.Context, opts Options) (transcribe.Engine, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	args, err := parser.Parse(opts.Command)
	if err != nil {
		return nil, fmt.Errorf("engine: parse command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine: command is empty")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.CloseTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Env = append(os.Environ(), opts.Env...)
	cmd.Dir = opts.Dir

	// stdout and stderr use pipes owned here rather than StdoutPipe, so
	// cmd.Wait never closes a pipe a frame read is still using.
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("engine: stdin pipe: %w", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("engine: stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, fmt.Errorf("engine: stderr pipe: %w", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	err = cmd.Start()
	outW.Close()
	errW.Close()
	if err != nil {
		outR.Close()
		errR.Close()
		return nil, fmt.Errorf("engine: start %q: %w", args[0], err)
	}

	e := &Exec{
		cmd:     cmd,
		stdin:   stdin,
		out:     outR,
		stdout:  bufio.NewReader(outR),
		logger:  logger.With("engine", args[0], "pid", cmd.Process.Pid),
		timeout: timeout,
		exited:  make(chan struct{}),
	}
	go e.forwardStderr(errR)
	go e.wait()

	resp, err := e.call(ctx, Request{Op: OpHello})
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("engine: handshake: %w", err)
	}
	e.logger.Info("engine process started", "cached", resp.Cached)
	if resp.Cached {
		return &CachedExec{Exec: e}, nil
	}
	return e, nil
}

func (e *Exec) forwardStderr(r io.ReadCloser) {
	defer r.Close()
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		e.logger.Debug("engine stderr", "line", sc.Text())
	}
}

func (e *Exec) wait() {
	err := e.cmd.Wait()
	e.logger.Debug("engine process exited", "error", err)
	close(e.exited)
}

// call performs one request/response exchange.
func (e *Exec) call(ctx context.Context, req Request) (Response, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.broken != nil {
		return Response{}, e.broken
	}
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	type result struct {
		resp Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		var r result
		if r.err = WriteFrame(e.stdin, req); r.err == nil {
			r.err = ReadFrame(e.stdout, &r.resp)
		}
		done <- r
	}()

	select {
	case r := <-done:
		if r.err != nil {
			e.broken = fmt.Errorf("%w: %v", ErrClosed, r.err)
			return Response{}, r.err
		}
		if !r.resp.OK {
			return Response{}, fmt.Errorf("engine: %s: %s", req.Op, r.resp.Error)
		}
		return r.resp, nil
	case <-ctx.Done():
		e.broken = fmt.Errorf("%w: cancelled during %s", ErrClosed, req.Op)
		e.kill()
		<-done
		return Response{}, ctx.Err()
	}
}

func (e *Exec) kill() {
	if e.cmd.Process != nil {
		_ = e.cmd.Process.Kill()
	}
}

// Encode runs the encoder on a feature tensor.
func (e *Exec) Encode(ctx context.Context, features transcribe.Tensor) (transcribe.Tensor, error) {
	resp, err := e.call(ctx, Request{Op: OpEncoder, Shape: features.Shape, Data: features.Data})
	if err != nil {
		return transcribe.Tensor{}, err
	}
	return transcribe.Tensor{Shape: resp.Shape, Data: resp.Data}, nil
}

// DecodeStep runs the decoder over the full token history.
func (e *Exec) DecodeStep(ctx context.Context, tokens []int64, hidden transcribe.Tensor) (transcribe.Tensor, error) {
	resp, err := e.call(ctx, Request{Op: OpDecoder, Tokens: tokens, Shape: hidden.Shape, Data: hidden.Data})
	if err != nil {
		return transcribe.Tensor{}, err
	}
	return transcribe.Tensor{Shape: resp.Shape, Data: resp.Data}, nil
}

// DecodeCached feeds a single token at cachePosition.
func (c *CachedExec) DecodeCached(ctx context.Context, token int64, hidden transcribe.Tensor, cachePosition int64) (transcribe.Tensor, error) {
	resp, err := c.call(ctx, Request{
		Op:            OpDecoderCached,
		Tokens:        []int64{token},
		Shape:         hidden.Shape,
		Data:          hidden.Data,
		CachePosition: cachePosition,
	})
	if err != nil {
		return transcribe.Tensor{}, err
	}
	return transcribe.Tensor{Shape: resp.Shape, Data: resp.Data}, nil
}

// StartTokenID returns the model's start-of-transcript token.
func (e *Exec) StartTokenID(ctx context.Context) (int64, error) {
	resp, err := e.call(ctx, Request{Op: OpStartToken})
	return resp.Value, err
}

// EOSID returns the model's end-of-transcript token.
func (e *Exec) EOSID(ctx context.Context) (int64, error) {
	resp, err := e.call(ctx, Request{Op: OpEOS})
	return resp.Value, err
}

// VocabSize returns the length of the decoder's logits row.
func (e *Exec) VocabSize(ctx context.Context) (int, error) {
	resp, err := e.call(ctx, Request{Op: OpVocabSize})
	return int(resp.Value), err
}

// Close closes the process's stdin and waits for it to exit, killing it
// after CloseTimeout.
func (e *Exec) Close() error {
	e.mu.Lock()
	if e.broken == nil {
		e.broken = ErrClosed
	}
	e.mu.Unlock()

	if err := e.stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		e.logger.Debug("closing engine stdin", "error", err)
	}

	select {
	case <-e.exited:
	case <-time.After(e.timeout):
		e.logger.Warn("engine process did not exit, killing it", "timeout", e.timeout)
		e.kill()
		<-e.exited
	}

	// Calls hold mu until their frame read returns, so none is in flight.
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.out.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("engine: close stdout: %w", err)
	}
	return nil
}
