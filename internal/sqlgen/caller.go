package sqlgen

import (
	"context"

	"github.com/connexus-ai/ragbox-backend/internal/config"
	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// Caller is the narrow LLMCaller surface SQLPath's sub-stages depend on,
// mirroring pipeline.Caller so this package stays decoupled from the
// pipeline package (sqlgen is a leaf collaborator the controller calls
// into, not the other way around).
type Caller interface {
	Call(ctx context.Context, task config.TaskName, messages []model.Message) (CallResult, error)
}

// CallResult mirrors llm.CallResult.
type CallResult struct {
	Text string
}
