package engine

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// maxFrameSize bounds a single frame; encoder outputs for large models stay
// well below it.
const maxFrameSize = 256 << 20

// Operations understood by an engine process.
const (
	OpHello         = "hello"
	OpEncoder       = "encoder"
	OpDecoder       = "decoder"
	OpDecoderCached = "decoder_cached"
	OpStartToken    = "start_token"
	OpEOS           = "eos"
	OpVocabSize     = "vocab_size"
)

// Request is one frame sent to the engine process.
type Request struct {
	Op            string    `msgpack:"op"`
	Tokens        []int64   `msgpack:"tokens,omitempty"`
	Shape         []int64   `msgpack:"shape,omitempty"`
	Data          []float32 `msgpack:"data,omitempty"`
	CachePosition int64     `msgpack:"cache_position"`
}

// Response is one frame read back from the engine process.
type Response struct {
	OK     bool      `msgpack:"ok"`
	Error  string    `msgpack:"error,omitempty"`
	Shape  []int64   `msgpack:"shape,omitempty"`
	Data   []float32 `msgpack:"data,omitempty"`
	Value  int64     `msgpack:"value"`
	Cached bool      `msgpack:"cached"`
}

// WriteFrame writes v as a little-endian u32 length followed by its msgpack body.
func WriteFrame(w io.Writer, v any) error {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("engine: encode frame: %w", err)
	}
	if len(body) > maxFrameSize {
		return fmt.Errorf("engine: frame of %d bytes exceeds limit", len(body))
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("engine: write frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("engine: write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed msgpack frame into v.
func ReadFrame(r io.Reader, v any) error {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return fmt.Errorf("engine: read frame header: %w", err)
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > maxFrameSize {
		return fmt.Errorf("engine: frame of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("engine: read frame body: %w", err)
	}
	if err := msgpack.Unmarshal(body, v); err != nil {
		return fmt.Errorf("engine: decode frame: %w", err)
	}
	return nil
}
