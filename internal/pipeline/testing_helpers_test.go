package pipeline

import (
	"context"

	"github.com/connexus-ai/ragbox-backend/internal/config"
	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// fakeCaller is the shared Caller test double for every pipeline stage
// test in this package: it returns a fixed response (optionally erroring)
// and records the last prompt it was asked to answer.
type fakeCaller struct {
	text       string
	err        error
	lastPrompt string
	lastTask   config.TaskName
	calls      int
}

func (f *fakeCaller) Call(ctx context.Context, task config.TaskName, messages []model.Message) (CallResult, error) {
	f.calls++
	f.lastTask = task
	if len(messages) > 0 {
		f.lastPrompt = messages[len(messages)-1].Content
	}
	return CallResult{Text: f.text}, f.err
}

// fakeStreamCaller extends fakeCaller with a canned token stream for
// AnswerGenerator tests.
type fakeStreamCaller struct {
	fakeCaller
	tokens    []string
	streamErr error
}

func (f *fakeStreamCaller) Stream(ctx context.Context, task config.TaskName, messages []model.Message) (<-chan string, <-chan error) {
	if len(messages) > 0 {
		f.lastPrompt = messages[len(messages)-1].Content
	}
	f.lastTask = task

	tokens := make(chan string, len(f.tokens))
	errs := make(chan error, 1)
	for _, tok := range f.tokens {
		tokens <- tok
	}
	close(tokens)
	if f.streamErr != nil {
		errs <- f.streamErr
	}
	close(errs)
	return tokens, errs
}

func msg(role model.Role, content string) model.Message {
	return model.Message{Role: role, Content: content}
}
