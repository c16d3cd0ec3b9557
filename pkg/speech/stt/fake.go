package stt

import "context"

// FakeProvider is a hand-rolled test double returning a canned result, or
// Err if set.
type FakeProvider struct {
	Result Result
	Err    error
}

func (f *FakeProvider) Transcribe(_ context.Context, _ []byte, _ Config) (Result, error) {
	if f.Err != nil {
		return Result{}, f.Err
	}
	return f.Result, nil
}
