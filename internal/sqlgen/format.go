package sqlgen

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/connexus-ai/ragbox-backend/internal/config"
	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// Formatter turns a bounded row set into a natural-language
// answer, the SQL-path equivalent of RetrievalPath's context window: raw
// rows never reach AnswerGenerator directly, only prose built from them.
type Formatter struct {
	caller Caller
}

// NewFormatter creates a Formatter.
func NewFormatter(caller Caller) *Formatter {
	return &Formatter{caller: caller}
}

// Format summarizes result in response to question.
func (f *Formatter) Format(ctx context.Context, question string, result model.SQLResult) (string, error) {
	prompt, err := buildFormattingPrompt(question, result)
	if err != nil {
		return "", fmt.Errorf("sqlgen.Formatter.Format: %w", err)
	}
	callResult, err := f.caller.Call(ctx, config.TaskResultFormatting, []model.Message{{Role: model.RoleUser, Content: prompt}})
	if err != nil {
		return "", fmt.Errorf("sqlgen.Formatter.Format: %w", err)
	}
	return callResult.Text, nil
}

func buildFormattingPrompt(question string, result model.SQLResult) (string, error) {
	if len(result.Rows) == 0 {
		return fmt.Sprintf("The query for \"%s\" returned no rows. State plainly that no matching records were found.", question), nil
	}

	encoded, err := json.Marshal(result.Rows)
	if err != nil {
		return "", fmt.Errorf("encode rows: %w", err)
	}

	truncNote := ""
	if result.Truncated {
		truncNote = "\nNote: results were truncated at the row cap; mention that the answer covers only a partial set.\n"
	}

	return fmt.Sprintf(`Turn the following query result rows into a clear natural-language answer
to the question. Do not invent values not present in the rows.%s

Question: %s
Columns: %v
Rows (JSON): %s`, truncNote, question, result.Columns, string(encoded)), nil
}
