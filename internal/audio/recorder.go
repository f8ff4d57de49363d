package audio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// pcmBuffer accumulates raw PCM16LE chunks written by the capture thread.
type pcmBuffer struct {
	mu   sync.Mutex
	data []byte
}

func (b *pcmBuffer) write(chunk []byte) {
	b.mu.Lock()
	b.data = append(b.data, chunk...)
	b.mu.Unlock()
}

func (b *pcmBuffer) reset() {
	b.mu.Lock()
	b.data = b.data[:0]
	b.mu.Unlock()
}

// drain returns a copy of the buffered bytes and empties the buffer.
func (b *pcmBuffer) drain() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.data))
	copy(out, b.data)
	b.data = b.data[:0]
	return out
}

// captureDevice is the part of *malgo.Device the recorder drives.
type captureDevice interface {
	Start() error
	Uninit()
}

// Recorder captures signed 16-bit mono audio from the default microphone.
type Recorder struct {
	ctx        *malgo.AllocatedContext
	sampleRate uint32
	channels   uint32
	open       func() (captureDevice, error)

	// mu is held for all of Start, so a concurrent Stop or Close always
	// sees the device Start created.
	mu        sync.Mutex
	device    captureDevice
	recording bool

	buf pcmBuffer
}

// NewRecorder creates a new audio recorder. Call Close() when done.
func NewRecorder(sampleRate, channels uint32) (*Recorder, error) {
	if sampleRate == 0 || channels == 0 {
		return nil, fmt.Errorf("audio: recorder: sample rate and channels must be positive")
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("audio: initializing audio context: %w", err)
	}

	r := &Recorder{
		ctx:        ctx,
		sampleRate: sampleRate,
		channels:   channels,
	}
	r.open = r.openMalgo
	return r, nil
}

func (r *Recorder) openMalgo() (captureDevice, error) {
	deviceCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceCfg.Capture.Format = malgo.FormatS16
	deviceCfg.Capture.Channels = r.channels
	deviceCfg.SampleRate = r.sampleRate

	device, err := malgo.InitDevice(r.ctx.Context, deviceCfg, malgo.DeviceCallbacks{
		Data: r.onData,
	})
	if err != nil {
		return nil, err
	}
	return device, nil
}

// SampleRate returns the capture sample rate in Hz.
func (r *Recorder) SampleRate() int { return int(r.sampleRate) }

// Start begins capturing audio from the default microphone.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		return fmt.Errorf("audio: already recording")
	}
	r.buf.reset()

	device, err := r.open()
	if err != nil {
		return fmt.Errorf("audio: initializing capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("audio: starting capture device: %w", err)
	}

	r.device = device
	r.recording = true
	return nil
}

// Stop tears down the capture device and returns everything recorded since
// Start as PCM16LE bytes. Multi-channel captures are downmixed to mono.
// Stop without a preceding Start returns nil.
func (r *Recorder) Stop() []byte {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return nil
	}
	device := r.device
	r.device = nil
	r.recording = false
	r.mu.Unlock()

	// Uninit waits for an in-flight callback, so no writes race the drain.
	if device != nil {
		device.Uninit()
	}

	pcm := r.buf.drain()
	if r.channels > 1 {
		pcm = downmixPCM16(pcm, int(r.channels))
	}
	return pcm
}

// IsRecording returns whether the recorder is currently capturing audio.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Close releases all audio resources.
func (r *Recorder) Close() error {
	r.mu.Lock()
	device := r.device
	r.device = nil
	r.recording = false
	r.mu.Unlock()

	if device != nil {
		device.Uninit()
	}

	if r.ctx != nil {
		if err := r.ctx.Uninit(); err != nil {
			return fmt.Errorf("audio: uninitializing audio context: %w", err)
		}
		r.ctx.Free()
		r.ctx = nil
	}
	return nil
}

// onData is the malgo callback invoked on the capture thread.
func (r *Recorder) onData(_, pSample []byte, frameCount uint32) {
	n := int(frameCount * r.channels * 2)
	if n > len(pSample) {
		n = len(pSample)
	}
	r.buf.write(pSample[:n])
}

// downmixPCM16 averages interleaved PCM16LE channels into mono.
func downmixPCM16(pcm []byte, channels int) []byte {
	samples := PCM16ToFloat32(pcm)
	frames := len(samples) / channels
	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		mono[i] = sum / float32(channels)
	}
	return Float32ToPCM16(mono)
}
