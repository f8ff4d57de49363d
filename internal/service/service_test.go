package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/chaz8081/gostt-whisper/internal/audio"
	"github.com/chaz8081/gostt-whisper/internal/transcribe"
)

const (
	fakeStart = 11
	fakeEOS   = 10
	fakeVocab = 12
)

// scriptEngine emits script then EOS, one token per step.
type scriptEngine struct {
	script []int64
}

func (e *scriptEngine) Encode(ctx context.Context, f transcribe.Tensor) (transcribe.Tensor, error) {
	return transcribe.Tensor{Shape: []int64{1, 1, 1}, Data: []float32{0}}, nil
}

func (e *scriptEngine) DecodeStep(ctx context.Context, tokens []int64, h transcribe.Tensor) (transcribe.Tensor, error) {
	id := int64(fakeEOS)
	if step := len(tokens) - 1; step < len(e.script) {
		id = e.script[step]
	}
	logits := make([]float32, fakeVocab)
	logits[id] = 1
	return transcribe.Tensor{Shape: []int64{1, 1, fakeVocab}, Data: logits}, nil
}

func (e *scriptEngine) StartTokenID(context.Context) (int64, error) { return fakeStart, nil }
func (e *scriptEngine) EOSID(context.Context) (int64, error)        { return fakeEOS, nil }
func (e *scriptEngine) VocabSize(context.Context) (int, error)      { return fakeVocab, nil }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	conn    *nats.Conn
	subject string
}

func startService(t *testing.T) harness {
	t.Helper()
	logger := quietLogger()

	srv, err := StartEmbedded("127.0.0.1", -1, logger)
	if err != nil {
		t.Fatalf("StartEmbedded: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	vocab := transcribe.NewVocabulary(map[int64]string{3: "ĠGood", 4: "Ġmorning"})
	p, err := transcribe.NewPipeline(&scriptEngine{script: []int64{3, 4}}, vocab, transcribe.PipelineOptions{
		Decode: transcribe.DecodeOptions{MaxTokens: 8},
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	w := transcribe.NewWorker(p, transcribe.WorkerOptions{Logger: logger})
	t.Cleanup(w.Close)

	serverConn, err := Connect(srv.ClientURL(), logger)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(serverConn.Close)

	svc := New(context.Background(), serverConn, w, Options{
		Subject:        "test.transcribe",
		Queue:          "gostt",
		RequestTimeout: 5 * time.Second,
		Logger:         logger,
	})
	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(svc.Close)

	client, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(client.Close)
	return harness{conn: client, subject: "test.transcribe"}
}

func request(t *testing.T, h harness, msg *nats.Msg) Reply {
	t.Helper()
	msg.Subject = h.subject
	resp, err := h.conn.RequestMsg(msg, 5*time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var r Reply
	if err := json.Unmarshal(resp.Data, &r); err != nil {
		t.Fatalf("decode reply %q: %v", resp.Data, err)
	}
	return r
}

func TestServiceTranscribes(t *testing.T) {
	h := startService(t)

	wav, err := audio.EncodeWAV(make([]byte, 3200), 16000)
	if err != nil {
		t.Fatal(err)
	}
	msg := nats.NewMsg(h.subject)
	msg.Data = wav
	msg.Header.Set(HeaderRequestID, "req-1")

	r := request(t, h, msg)
	if r.Error != "" {
		t.Fatalf("reply error = %q (%s)", r.Error, r.Kind)
	}
	if r.ID != "req-1" {
		t.Errorf("id = %q, want req-1", r.ID)
	}
	if r.Text != "Good morning" {
		t.Errorf("text = %q, want %q", r.Text, "Good morning")
	}
	if !slices.Equal(r.Tokens, []int64{fakeStart, 3, 4, fakeEOS}) {
		t.Errorf("tokens = %v", r.Tokens)
	}
	if r.Stop != string(transcribe.StopEOS) || r.Generated != 3 {
		t.Errorf("stop/generated = %q/%d", r.Stop, r.Generated)
	}
}

func TestServiceAssignsID(t *testing.T) {
	h := startService(t)

	wav, _ := audio.EncodeWAV(make([]byte, 320), 16000)
	r := request(t, h, &nats.Msg{Data: wav})
	if r.ID == "" {
		t.Error("reply should carry a generated id")
	}
}

func TestServiceMalformedWAV(t *testing.T) {
	h := startService(t)

	r := request(t, h, &nats.Msg{Data: []byte("definitely not a wav file, just text")})
	if r.Kind != transcribe.KindMalformedContainer {
		t.Errorf("kind = %q, want %q (error %q)", r.Kind, transcribe.KindMalformedContainer, r.Error)
	}
	if r.Text != "" {
		t.Errorf("text = %q, want empty", r.Text)
	}
}

func TestServiceClosedRejectsRequests(t *testing.T) {
	logger := quietLogger()
	srv, err := StartEmbedded("127.0.0.1", -1, logger)
	if err != nil {
		t.Fatalf("StartEmbedded: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	conn, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(conn.Close)

	// A nil worker panics if a request is ever dispatched to it.
	svc := New(context.Background(), conn, nil, Options{Subject: "test.closed", Logger: logger})
	svc.Close()

	inbox := nats.NewInbox()
	replies, err := conn.SubscribeSync(inbox)
	if err != nil {
		t.Fatal(err)
	}
	msg := nats.NewMsg("test.closed")
	msg.Reply = inbox
	msg.Header.Set(HeaderRequestID, "late")
	msg.Sub = replies
	svc.handle(msg)

	got, err := replies.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("no reply for request after Close: %v", err)
	}
	var r Reply
	if err := json.Unmarshal(got.Data, &r); err != nil {
		t.Fatal(err)
	}
	if r.ID != "late" || r.Kind != transcribe.KindClosed {
		t.Errorf("reply = %+v, want id late and kind %q", r, transcribe.KindClosed)
	}
}

func TestStartRequiresSubject(t *testing.T) {
	svc := New(context.Background(), nil, nil, Options{})
	if err := svc.Start(); err == nil {
		t.Error("Start without a subject should error")
	}
}

func TestConnectRequiresURL(t *testing.T) {
	if _, err := Connect("", quietLogger()); err == nil {
		t.Error("Connect with empty url should error")
	}
}
