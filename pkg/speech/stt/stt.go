// Package stt adapts an external speech-to-text service to a single
// one-shot transcription call per utterance.
package stt

import "context"

// Encoding names the audio sample encoding of a transcription request.
type Encoding string

const EncodingLinear16 Encoding = "LINEAR16"

// Config describes the audio a Provider is being asked to transcribe.
// LanguageCode is a BCP-47 tag (e.g. "en-IN").
type Config struct {
	Encoding     Encoding
	SampleRateHz int
	LanguageCode string
}

// Result is the outcome of transcribing one utterance.
type Result struct {
	Text       string
	Confidence float64
}

// Provider transcribes a complete utterance of audio. It does not stream
// partial results: callers hand it the full utterance buffer and get back
// one Result.
type Provider interface {
	Transcribe(ctx context.Context, audio []byte, cfg Config) (Result, error)
}
