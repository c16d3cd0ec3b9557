package query

import "context"

// FakeResolver is a hand-rolled test double returning a canned answer, or
// Err if set.
type FakeResolver struct {
	Answer Answer
	Err    error
}

func (f *FakeResolver) Resolve(_ context.Context, _, _ string) (Answer, error) {
	if f.Err != nil {
		return Answer{}, f.Err
	}
	return f.Answer, nil
}
