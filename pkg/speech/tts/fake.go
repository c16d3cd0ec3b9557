package tts

import "context"

// FakeProvider is a hand-rolled test double returning canned audio bytes,
// or Err if set.
type FakeProvider struct {
	Audio []byte
	Err   error
}

func (f *FakeProvider) Synthesize(_ context.Context, _ string, _ Voice) ([]byte, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Audio, nil
}
