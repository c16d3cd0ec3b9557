package turn

import (
	"context"
	"errors"
	"testing"

	"github.com/aurora-labs/voxgate/pkg/query"
	"github.com/aurora-labs/voxgate/pkg/speech/stt"
	"github.com/aurora-labs/voxgate/pkg/speech/tts"
	"github.com/aurora-labs/voxgate/pkg/store"
)

func newPipeline(s stt.Provider, t tts.Provider, r query.Resolver, st store.Store) *Pipeline {
	return &Pipeline{
		STT:       s,
		TTS:       t,
		Resolver:  r,
		Store:     st,
		Deadlines: DefaultDeadlines(),
	}
}

func TestPipeline_Run_TextHappyPath(t *testing.T) {
	memStore := store.NewMemoryStore()
	session, _ := memStore.CreateSession(context.Background(), "user_1", "T")

	p := newPipeline(
		&stt.FakeProvider{},
		&tts.FakeProvider{Audio: []byte("audio-bytes")},
		&query.FakeResolver{Answer: query.Answer{Text: "hi there"}},
		memStore,
	)

	out := p.Run(t.Context(), Input{ChatID: session.ID, UserID: "user_1", Text: "hello"})

	if !out.Speech.Success {
		t.Fatalf("Speech.Success = false, want true")
	}
	if out.Speech.Transcription != "hello" {
		t.Errorf("Transcription = %q, want %q", out.Speech.Transcription, "hello")
	}
	if out.Speech.TextResponse != "hi there" {
		t.Errorf("TextResponse = %q, want %q", out.Speech.TextResponse, "hi there")
	}
	if string(out.AudioContent) != "audio-bytes" {
		t.Errorf("AudioContent = %q, want %q", out.AudioContent, "audio-bytes")
	}

	msgs, _ := memStore.ListMessages(t.Context(), session.ID)
	if len(msgs) != 2 {
		t.Fatalf("ListMessages() returned %d messages, want 2 (user + assistant)", len(msgs))
	}
	if msgs[0].Role != store.RoleUser || msgs[1].Role != store.RoleAssistant {
		t.Errorf("message order = %v,%v want user,assistant", msgs[0].Role, msgs[1].Role)
	}
}

func TestPipeline_Run_VoiceHappyPath(t *testing.T) {
	memStore := store.NewMemoryStore()
	session, _ := memStore.CreateSession(context.Background(), "user_1", "T")

	p := newPipeline(
		&stt.FakeProvider{Result: stt.Result{Text: "what time is it"}},
		&tts.FakeProvider{Audio: []byte("audio")},
		&query.FakeResolver{Answer: query.Answer{Text: "it's 3pm", Intent: "TIME_QUERY"}},
		memStore,
	)

	out := p.Run(t.Context(), Input{ChatID: session.ID, UserID: "user_1", Audio: []byte("wav-bytes")})

	if out.Speech.Transcription != "what time is it" {
		t.Errorf("Transcription = %q, want %q", out.Speech.Transcription, "what time is it")
	}
	if out.Speech.Intent != "TIME_QUERY" {
		t.Errorf("Intent = %q, want TIME_QUERY", out.Speech.Intent)
	}
}

func TestPipeline_Run_EmptyAudio_NoSpeech(t *testing.T) {
	memStore := store.NewMemoryStore()
	session, _ := memStore.CreateSession(context.Background(), "user_1", "T")

	p := newPipeline(
		&stt.FakeProvider{Result: stt.Result{Text: ""}},
		&tts.FakeProvider{},
		&query.FakeResolver{},
		memStore,
	)

	out := p.Run(t.Context(), Input{ChatID: session.ID, UserID: "user_1", Audio: []byte("silence")})

	if out.Speech.Success {
		t.Fatalf("Speech.Success = true, want false")
	}
	if out.Speech.Reason != ReasonNoSpeech {
		t.Errorf("Reason = %q, want %q", out.Speech.Reason, ReasonNoSpeech)
	}

	msgs, _ := memStore.ListMessages(t.Context(), session.ID)
	if len(msgs) != 0 {
		t.Errorf("ListMessages() returned %d messages, want 0 (no_speech must not persist)", len(msgs))
	}
}

func TestPipeline_Run_STTFailure(t *testing.T) {
	memStore := store.NewMemoryStore()
	session, _ := memStore.CreateSession(context.Background(), "user_1", "T")

	p := newPipeline(
		&stt.FakeProvider{Err: errors.New("upstream unavailable")},
		&tts.FakeProvider{},
		&query.FakeResolver{},
		memStore,
	)

	out := p.Run(t.Context(), Input{ChatID: session.ID, UserID: "user_1", Audio: []byte("wav")})

	if out.Speech.Success {
		t.Fatalf("Speech.Success = true, want false")
	}
	if out.Speech.Reason != ReasonSTTFailed {
		t.Errorf("Reason = %q, want %q", out.Speech.Reason, ReasonSTTFailed)
	}
}

func TestPipeline_Run_TTSFailure_StillPersistsBothMessages(t *testing.T) {
	memStore := store.NewMemoryStore()
	session, _ := memStore.CreateSession(context.Background(), "user_1", "T")

	p := newPipeline(
		&stt.FakeProvider{},
		&tts.FakeProvider{Err: errors.New("tts down")},
		&query.FakeResolver{Answer: query.Answer{Text: "here's your answer"}},
		memStore,
	)

	out := p.Run(t.Context(), Input{ChatID: session.ID, UserID: "user_1", Text: "hello"})

	if !out.Speech.Success {
		t.Fatalf("Speech.Success = false, want true")
	}
	if out.Speech.TextResponse != "here's your answer" {
		t.Errorf("TextResponse = %q, want %q", out.Speech.TextResponse, "here's your answer")
	}
	if out.AudioContent != nil {
		t.Errorf("AudioContent = %v, want nil (no audio_content frame on tts failure)", out.AudioContent)
	}

	msgs, _ := memStore.ListMessages(t.Context(), session.ID)
	if len(msgs) != 2 {
		t.Fatalf("ListMessages() returned %d messages, want 2", len(msgs))
	}
}

func TestPipeline_Run_ResolveFailure_PersistsCannedApology(t *testing.T) {
	memStore := store.NewMemoryStore()
	session, _ := memStore.CreateSession(context.Background(), "user_1", "T")

	p := newPipeline(
		&stt.FakeProvider{},
		&tts.FakeProvider{Audio: []byte("should not be called")},
		&query.FakeResolver{Err: errors.New("resolver down")},
		memStore,
	)

	out := p.Run(t.Context(), Input{ChatID: session.ID, UserID: "user_1", Text: "hello"})

	if !out.Speech.Success {
		t.Fatalf("Speech.Success = false, want true (resolve failure still reports success with canned text)")
	}
	if out.Speech.TextResponse != "I'm sorry, I couldn't understand your query" {
		t.Errorf("TextResponse = %q, want the canned apology", out.Speech.TextResponse)
	}
	if out.AudioContent != nil {
		t.Errorf("AudioContent = %v, want nil (tts skipped on resolve failure)", out.AudioContent)
	}

	msgs, _ := memStore.ListMessages(t.Context(), session.ID)
	if len(msgs) != 2 || msgs[1].Role != store.RoleAssistant {
		t.Fatalf("expected user + canned assistant message to be persisted, got %+v", msgs)
	}
}

func TestPipeline_Run_PersistUserFailure_SkipsResolver(t *testing.T) {
	resolver := &countingResolver{}
	p := newPipeline(
		&stt.FakeProvider{},
		&tts.FakeProvider{},
		resolver,
		&failingAppendStore{MemoryStore: store.NewMemoryStore()},
	)

	out := p.Run(t.Context(), Input{ChatID: "chat-1", UserID: "user_1", Text: "hello"})

	if out.Speech.Success {
		t.Fatalf("Speech.Success = true, want false")
	}
	if out.Speech.Reason != ReasonPersistFailed {
		t.Errorf("Reason = %q, want %q", out.Speech.Reason, ReasonPersistFailed)
	}
	if resolver.calls != 0 {
		t.Errorf("resolver was called %d times, want 0 (must not call resolver after persist failure)", resolver.calls)
	}
}

type countingResolver struct {
	calls int
}

func (c *countingResolver) Resolve(_ context.Context, _, _ string) (query.Answer, error) {
	c.calls++
	return query.Answer{Text: "answer"}, nil
}

type failingAppendStore struct {
	*store.MemoryStore
}

func (f *failingAppendStore) AppendMessage(_ context.Context, _, _ string, _ store.Role, _ string) (store.Message, error) {
	return store.Message{}, errors.New("write failed")
}
