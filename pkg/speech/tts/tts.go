// Package tts adapts an external text-to-speech service to a single
// one-shot synthesis call per reply.
package tts

import "context"

// Voice describes the speaking voice a Synthesize call should use.
// LanguageCode is a BCP-47 tag (e.g. "en-IN"); SpeakingRate is a multiplier
// around 1.0.
type Voice struct {
	LanguageCode string
	VoiceName    string
	Gender       string
	SpeakingRate float64
}

// Provider synthesizes spoken audio for a complete reply text.
type Provider interface {
	Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error)
}
