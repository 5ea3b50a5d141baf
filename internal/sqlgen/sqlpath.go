package sqlgen

import (
	"context"
	"fmt"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// runner is the narrow Executor surface SQLPath depends on, narrowed to an
// interface so tests can substitute a fake instead of a live pool.
type runner interface {
	Execute(ctx context.Context, sql string, args ...any) (model.SQLResult, error)
}

// SQLPath composes the classify -> extract -> generate -> validate ->
// execute -> format chain. HISTORY-classified queries skip generate and
// validate entirely, running the fixed historyQueryTemplate instead.
type SQLPath struct {
	classifier *QueryClassifier
	extractor  *EntityExtractor
	generator  *Generator
	executor   runner
	formatter  *Formatter
}

// NewSQLPath creates a SQLPath.
func NewSQLPath(classifier *QueryClassifier, extractor *EntityExtractor, generator *Generator, executor *Executor, formatter *Formatter) *SQLPath {
	return &SQLPath{classifier: classifier, extractor: extractor, generator: generator, executor: executor, formatter: formatter}
}

// Output is SQLPath's result: the natural-language answer plus the plan
// that produced it, so the controller can log/cache both.
type Output struct {
	Plan   model.SQLPlan
	Result model.SQLResult
	Answer string
}

// Run executes the full SQL path for a single dealership-scoped request.
func (p *SQLPath) Run(ctx context.Context, question, dealershipID string) (Output, error) {
	queryType, err := p.classifier.Classify(ctx, question)
	if err != nil {
		return Output{}, fmt.Errorf("sqlgen.SQLPath.Run: classify: %w", err)
	}

	entities, err := p.extractor.Extract(ctx, question)
	if err != nil {
		return Output{}, fmt.Errorf("sqlgen.SQLPath.Run: extract: %w", err)
	}

	if queryType == model.QueryHistory {
		return p.runHistory(ctx, question, dealershipID, entities)
	}

	generatedSQL, err := p.generator.Generate(ctx, question, queryType, entities)
	if err != nil {
		return Output{}, fmt.Errorf("sqlgen.SQLPath.Run: generate: %w", err)
	}

	validator := NewValidator(dealershipID)
	securedSQL, err := validator.ValidateAndSecure(generatedSQL)
	if err != nil {
		return Output{}, fmt.Errorf("sqlgen.SQLPath.Run: %w", err)
	}

	result, err := p.executor.Execute(ctx, securedSQL)
	if err != nil {
		return Output{}, fmt.Errorf("sqlgen.SQLPath.Run: execute: %w", err)
	}

	answer, err := p.formatter.Format(ctx, question, result)
	if err != nil {
		return Output{}, fmt.Errorf("sqlgen.SQLPath.Run: format: %w", err)
	}

	return Output{
		Plan:   model.SQLPlan{QueryType: queryType, Entities: entities, GeneratedSQL: securedSQL, ValidationOK: true},
		Result: result,
		Answer: answer,
	}, nil
}

func (p *SQLPath) runHistory(ctx context.Context, question, dealershipID string, entities map[string]string) (Output, error) {
	vin, ok := entities["vin"]
	if !ok || vin == "" {
		return Output{}, fmt.Errorf("sqlgen.SQLPath.Run: %w: HISTORY query without a resolvable VIN", ErrSQLInvalid)
	}

	result, err := p.executor.Execute(ctx, historyQueryTemplate, vin, dealershipID)
	if err != nil {
		return Output{}, fmt.Errorf("sqlgen.SQLPath.Run: history execute: %w", err)
	}

	answer, err := p.formatter.Format(ctx, question, result)
	if err != nil {
		return Output{}, fmt.Errorf("sqlgen.SQLPath.Run: history format: %w", err)
	}

	return Output{
		Plan:   model.SQLPlan{QueryType: model.QueryHistory, Entities: entities, GeneratedSQL: historyQueryTemplate, ValidationOK: true},
		Result: result,
		Answer: answer,
	}, nil
}
