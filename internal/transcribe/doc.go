// Package transcribe turns audio into text with a Whisper-style
// encoder/decoder model driven through an injected inference Engine.
//
// The package provides:
//   - Pipeline: features, encoder, greedy decode and text reconstruction
//   - Worker: serializes all engine calls onto one goroutine
//   - Vocabulary: id -> piece table and text cleanup
package transcribe
