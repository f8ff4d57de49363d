package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WAVHeaderSize is the size of the canonical PCM WAV header.
const WAVHeaderSize = 44

// ErrMalformedContainer is returned when a WAV buffer does not match the
// canonical mono PCM16 layout.
var ErrMalformedContainer = errors.New("malformed wav container")

// wavHeader mirrors the canonical 44-byte RIFF/WAVE header, little-endian.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // 36 + data size
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// EncodeWAV wraps raw PCM16LE mono samples in a canonical WAV container.
func EncodeWAV(pcm16le []byte, sampleRate int) ([]byte, error) {
	if len(pcm16le)%2 != 0 {
		return nil, fmt.Errorf("audio: encode wav: pcm length %d is not a multiple of 2", len(pcm16le))
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: encode wav: sample rate must be positive, got %d", sampleRate)
	}

	dataSize := uint32(len(pcm16le))
	h := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * 2,
		BlockAlign:    2,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	out := make([]byte, WAVHeaderSize, WAVHeaderSize+len(pcm16le))
	putHeader(out, &h)
	return append(out, pcm16le...), nil
}

// DecodeWAV validates a canonical mono PCM16 WAV buffer and returns its
// sample data and sample rate. Bytes past the declared data size are ignored.
func DecodeWAV(wav []byte) ([]byte, int, error) {
	if len(wav) < WAVHeaderSize {
		return nil, 0, fmt.Errorf("%w: need at least %d bytes, got %d", ErrMalformedContainer, WAVHeaderSize, len(wav))
	}

	h := readHeader(wav)

	switch {
	case string(h.ChunkID[:]) != "RIFF":
		return nil, 0, fmt.Errorf("%w: missing RIFF marker", ErrMalformedContainer)
	case string(h.Format[:]) != "WAVE":
		return nil, 0, fmt.Errorf("%w: missing WAVE marker", ErrMalformedContainer)
	case string(h.Subchunk1ID[:]) != "fmt ":
		return nil, 0, fmt.Errorf("%w: missing fmt chunk", ErrMalformedContainer)
	case string(h.Subchunk2ID[:]) != "data":
		return nil, 0, fmt.Errorf("%w: missing data chunk at offset 36", ErrMalformedContainer)
	case h.AudioFormat != 1:
		return nil, 0, fmt.Errorf("%w: audio format %d, want PCM (1)", ErrMalformedContainer, h.AudioFormat)
	case h.BitsPerSample != 16:
		return nil, 0, fmt.Errorf("%w: %d bits per sample, want 16", ErrMalformedContainer, h.BitsPerSample)
	case h.NumChannels != 1:
		return nil, 0, fmt.Errorf("%w: %d channels, want mono", ErrMalformedContainer, h.NumChannels)
	case h.SampleRate == 0:
		return nil, 0, fmt.Errorf("%w: sample rate is 0", ErrMalformedContainer)
	}

	payload := wav[WAVHeaderSize:]
	if uint64(h.Subchunk2Size) > uint64(len(payload)) {
		return nil, 0, fmt.Errorf("%w: data size %d exceeds payload of %d bytes", ErrMalformedContainer, h.Subchunk2Size, len(payload))
	}

	pcm := make([]byte, h.Subchunk2Size&^1)
	copy(pcm, payload)
	return pcm, int(h.SampleRate), nil
}

func putHeader(b []byte, h *wavHeader) {
	le := binary.LittleEndian
	copy(b[0:4], h.ChunkID[:])
	le.PutUint32(b[4:8], h.ChunkSize)
	copy(b[8:12], h.Format[:])
	copy(b[12:16], h.Subchunk1ID[:])
	le.PutUint32(b[16:20], h.Subchunk1Size)
	le.PutUint16(b[20:22], h.AudioFormat)
	le.PutUint16(b[22:24], h.NumChannels)
	le.PutUint32(b[24:28], h.SampleRate)
	le.PutUint32(b[28:32], h.ByteRate)
	le.PutUint16(b[32:34], h.BlockAlign)
	le.PutUint16(b[34:36], h.BitsPerSample)
	copy(b[36:40], h.Subchunk2ID[:])
	le.PutUint32(b[40:44], h.Subchunk2Size)
}

func readHeader(b []byte) wavHeader {
	le := binary.LittleEndian
	var h wavHeader
	copy(h.ChunkID[:], b[0:4])
	h.ChunkSize = le.Uint32(b[4:8])
	copy(h.Format[:], b[8:12])
	copy(h.Subchunk1ID[:], b[12:16])
	h.Subchunk1Size = le.Uint32(b[16:20])
	h.AudioFormat = le.Uint16(b[20:22])
	h.NumChannels = le.Uint16(b[22:24])
	h.SampleRate = le.Uint32(b[24:28])
	h.ByteRate = le.Uint32(b[28:32])
	h.BlockAlign = le.Uint16(b[32:34])
	h.BitsPerSample = le.Uint16(b[34:36])
	copy(h.Subchunk2ID[:], b[36:40])
	h.Subchunk2Size = le.Uint32(b[40:44])
	return h
}
