// Package turn orchestrates one voice or text turn: recognise (audio
// only), persist the user message, resolve an answer, synthesise speech,
// persist the assistant message, and report the outcome for framing by the
// Session Manager. See pkg/gateway/live/protocol for the reply frame
// shapes the Outcome below maps onto.
package turn

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aurora-labs/voxgate/pkg/query"
	"github.com/aurora-labs/voxgate/pkg/speech/stt"
	"github.com/aurora-labs/voxgate/pkg/speech/tts"
	"github.com/aurora-labs/voxgate/pkg/store"
)

// Deadlines bounds how long each external phase may run. Exceeding one is
// treated as that phase's failure.
type Deadlines struct {
	STT   time.Duration
	Query time.Duration
	TTS   time.Duration
	Store time.Duration
}

// DefaultDeadlines matches the recommendation: STT 15s, Query 20s, TTS
// 15s, Store 5s.
func DefaultDeadlines() Deadlines {
	return Deadlines{
		STT:   15 * time.Second,
		Query: 20 * time.Second,
		TTS:   15 * time.Second,
		Store: 5 * time.Second,
	}
}

// Input is one turn's request: either Audio (a complete WAV capture) or
// Text, never both.
type Input struct {
	ChatID string
	UserID string
	Audio  []byte
	Text   string
}

func (in Input) isAudio() bool { return len(in.Audio) > 0 }

// Reason enumerates the non-success speech_response reasons.
type Reason string

const (
	ReasonNoSpeech      Reason = "no_speech"
	ReasonSTTFailed     Reason = "stt_failed"
	ReasonPersistFailed Reason = "persist_failed"
)

// SpeechResponse mirrors protocol.ServerSpeechResponse without importing
// the wire-framing package, keeping the pipeline independently testable.
type SpeechResponse struct {
	Success       bool
	Transcription string
	TextResponse  string
	Intent        string
	Confidence    float64
	Reason        Reason
}

// Outcome is everything the Session Manager needs to frame replies for one
// turn. AudioContent is nil when synthesis failed or was skipped.
type Outcome struct {
	Speech       SpeechResponse
	AudioContent []byte
	// PersistLoggedFailure records a step-5 (assistant persist) failure
	// that must be logged but never surfaced to the client.
	PersistLoggedFailure error
}

// Pipeline wires the four external adapters together. STT, TTS, Resolver,
// Store and Deadlines are required; a nil Logger falls back to
// slog.Default, and Idempotency is optional.
type Pipeline struct {
	STT       stt.Provider
	TTS       tts.Provider
	Resolver  query.Resolver
	Store     store.Store
	Deadlines Deadlines
	Logger    *slog.Logger

	// Voice selects the TTS provider's voice for every synthesis call. It
	// is shared across all connections, matching the Pipeline itself.
	Voice tts.Voice

	// STTConfig describes the audio format every recognise call hands to
	// the STT provider. It is shared across all connections.
	STTConfig stt.Config

	// Idempotency guards message persistence against duplicate writes on
	// retry. It is optional: nil disables the guard and every append goes
	// straight to Store, relying solely on Store's own uniqueness
	// constraint on message id.
	Idempotency *store.RedisIdempotency
}

// Run executes the ordered phases described in the turn pipeline
// component design: recognise, persist user message, resolve, synthesise,
// persist assistant message, then report replies in order.
func (p *Pipeline) Run(ctx context.Context, in Input) Outcome {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	transcript := in.Text
	if in.isAudio() {
		result, ok, outcome := p.recognise(ctx, logger, in)
		if !ok {
			return outcome
		}
		transcript = result
	}

	if ok, outcome := p.persistUser(ctx, logger, in.ChatID, transcript); !ok {
		return outcome
	}

	answer, err := p.resolve(ctx, in.UserID, transcript)
	if err != nil {
		return p.onResolveFailure(ctx, logger, in.ChatID, transcript)
	}

	audio := p.synthesise(ctx, logger, in.ChatID, answer.Text)

	persistFailure := p.persistAssistant(ctx, logger, in.ChatID, answer.Text)

	return Outcome{
		Speech: SpeechResponse{
			Success:       true,
			Transcription: transcript,
			TextResponse:  answer.Text,
			Intent:        answer.Intent,
			Confidence:    answer.Confidence,
		},
		AudioContent:         audio,
		PersistLoggedFailure: persistFailure,
	}
}

func (p *Pipeline) recognise(ctx context.Context, logger *slog.Logger, in Input) (string, bool, Outcome) {
	sttCtx, cancel := context.WithTimeout(ctx, p.Deadlines.STT)
	defer cancel()

	result, err := p.STT.Transcribe(sttCtx, in.Audio, p.STTConfig)
	if err != nil {
		logger.Warn("turn: stt failed", "chat_id", in.ChatID, "error", err)
		return "", false, Outcome{Speech: SpeechResponse{Success: false, Reason: ReasonSTTFailed}}
	}
	if result.Text == "" {
		return "", false, Outcome{Speech: SpeechResponse{Success: false, Reason: ReasonNoSpeech}}
	}
	return result.Text, true, Outcome{}
}

func (p *Pipeline) persistUser(ctx context.Context, logger *slog.Logger, chatID, transcript string) (bool, Outcome) {
	if err := p.appendMessage(ctx, logger, chatID, store.RoleUser, transcript); err != nil {
		logger.Error("turn: persist user message failed", "chat_id", chatID, "error", err)
		return false, Outcome{Speech: SpeechResponse{Success: false, Reason: ReasonPersistFailed}}
	}
	return true, Outcome{}
}

// appendMessage persists one message under a fresh server-assigned id,
// retrying once on failure with that same id. Idempotency, when
// configured, short-circuits the retry ahead of Store: a claim already
// held for the id means the first attempt's write may well have landed
// despite the error it returned, so the retry is skipped and Store's own
// uniqueness constraint on message id remains the final word.
func (p *Pipeline) appendMessage(ctx context.Context, logger *slog.Logger, chatID string, role store.Role, text string) error {
	messageID := uuid.NewString()

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if p.Idempotency != nil {
			claimed, err := p.Idempotency.Claim(ctx, messageID)
			if err != nil {
				logger.Warn("turn: idempotency claim failed, proceeding without guard", "chat_id", chatID, "message_id", messageID, "error", err)
			} else if !claimed {
				return nil
			}
		}

		storeCtx, cancel := context.WithTimeout(ctx, p.Deadlines.Store)
		_, lastErr = p.Store.AppendMessage(storeCtx, chatID, messageID, role, text)
		cancel()
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (p *Pipeline) resolve(ctx context.Context, userID, transcript string) (query.Answer, error) {
	queryCtx, cancel := context.WithTimeout(ctx, p.Deadlines.Query)
	defer cancel()
	return p.Resolver.Resolve(queryCtx, userID, transcript)
}

// onResolveFailure implements step 3's failure branch: persist a canned
// apology as the assistant message and still report success to the
// client, skipping synthesis entirely.
func (p *Pipeline) onResolveFailure(ctx context.Context, logger *slog.Logger, chatID, transcript string) Outcome {
	const canned = "I'm sorry, I couldn't understand your query"

	if err := p.appendMessage(ctx, logger, chatID, store.RoleAssistant, canned); err != nil {
		logger.Error("turn: persist canned apology failed", "chat_id", chatID, "error", err)
	}

	return Outcome{Speech: SpeechResponse{
		Success:       true,
		Transcription: transcript,
		TextResponse:  canned,
	}}
}

func (p *Pipeline) synthesise(ctx context.Context, logger *slog.Logger, chatID, answerText string) []byte {
	ttsCtx, cancel := context.WithTimeout(ctx, p.Deadlines.TTS)
	defer cancel()

	audio, err := p.TTS.Synthesize(ttsCtx, answerText, p.Voice)
	if err != nil {
		logger.Warn("turn: tts failed", "chat_id", chatID, "error", err)
		return nil
	}
	return audio
}

// persistAssistant implements step 5: a failure here is logged but never
// surfaced to the client, since the client already has its answer.
func (p *Pipeline) persistAssistant(ctx context.Context, logger *slog.Logger, chatID, answerText string) error {
	err := p.appendMessage(ctx, logger, chatID, store.RoleAssistant, answerText)
	if err != nil {
		logger.Error("turn: persist assistant message failed (transcript now inconsistent)", "chat_id", chatID, "error", err)
	}
	return err
}
