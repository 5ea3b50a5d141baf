package sqlgen

import (
	"context"
	"fmt"
	"strings"

	"github.com/connexus-ai/ragbox-backend/internal/config"
	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// QueryClassifier assigns the utterance one of the five
// QueryType buckets so downstream entity extraction and SQL generation can
// specialize their prompts, and so HISTORY queries can be routed to the
// fixed aggregation path instead of free-form generation.
type QueryClassifier struct {
	caller Caller
}

// NewQueryClassifier creates a QueryClassifier.
func NewQueryClassifier(caller Caller) *QueryClassifier {
	return &QueryClassifier{caller: caller}
}

// Classify returns the query's QueryType.
func (c *QueryClassifier) Classify(ctx context.Context, question string) (model.QueryType, error) {
	prompt := buildClassifyPrompt(question)
	result, err := c.caller.Call(ctx, config.TaskSQLQueryClassify, []model.Message{{Role: model.RoleUser, Content: prompt}})
	if err != nil {
		return "", fmt.Errorf("sqlgen.QueryClassifier.Classify: %w", err)
	}
	return parseQueryType(result.Text), nil
}

func buildClassifyPrompt(question string) string {
	return fmt.Sprintf(`Classify the following dealership data question into exactly one category:
AGGREGATION (counts, sums, averages, grouping)
FILTERING (a list matching some criteria)
COMPARISON (contrasting two or more entities)
HISTORY (the full record for a single identified vehicle or customer, e.g. "show me everything about VIN ...")
SEMANTIC (not really a structured data question)

Respond with exactly one of: AGGREGATION, FILTERING, COMPARISON, HISTORY, SEMANTIC.

Question: %s`, question)
}

func parseQueryType(raw string) model.QueryType {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(model.QueryAggregation):
		return model.QueryAggregation
	case string(model.QueryFiltering):
		return model.QueryFiltering
	case string(model.QueryComparison):
		return model.QueryComparison
	case string(model.QueryHistory):
		return model.QueryHistory
	default:
		return model.QuerySemantic
	}
}
