// Command gostt-whisper transcribes speech with a Whisper-style
// encoder/decoder served by an external inference engine process.
//
// Usage:
//
//	gostt-whisper [--config path] <command> [args]
//
// Commands:
//
//	transcribe  - transcribe a WAV file (or stdin) to text
//	record      - capture from the microphone and transcribe
//	mel         - print log-mel feature statistics for a WAV file
//	serve       - answer transcription requests over NATS
//	models      - download model assets
//	config      - manage the config file
//	version     - print the version
package main

import (
	"os"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
