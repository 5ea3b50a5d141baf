package config

import "fmt"

// TaskName identifies a pipeline stage that requires an LLM call. Each task
// is bound to exactly one model configuration by ConfigRegistry.
type TaskName string

const (
	TaskDomainClassification TaskName = "domain_classification"
	TaskAnswerThinking       TaskName = "answer_thinking"
	TaskAnswerNonThinking    TaskName = "answer_non_thinking"
	TaskReformulation        TaskName = "reformulation"
	TaskCompression          TaskName = "compression"
	TaskFormatDetection      TaskName = "format_detection"
	TaskEntityExtraction     TaskName = "entity_extraction"
	TaskSQLGeneration        TaskName = "sql_generation"
	TaskResultFormatting     TaskName = "result_formatting"
	// TaskSQLQueryClassify is SQLPath's first sub-stage: classifying the
	// utterance into one of the five query_types before entity extraction.
	TaskSQLQueryClassify TaskName = "sql_query_classify"
	// TaskSQLEntityExtraction is SQLPath's second sub-stage: pulling VIN,
	// dealership, date range, vehicle model, and claim type out of the
	// utterance for the SQL generation prompt. Distinct from
	// TaskEntityExtraction (the first-class conversational entities).
	TaskSQLEntityExtraction TaskName = "sql_entity_extraction"
	// TaskContextSelection backs ContextSelector: TOPIC_SWITCH/DATA_REQUEST/
	// META_OP/CONTINUATION plus how many prior turns to carry forward.
	TaskContextSelection TaskName = "context_selection"
	// TaskCitationCheck backs the thinking-mode citation-need check run in
	// the controller's parallel phase.
	TaskCitationCheck TaskName = "citation_check"
	// TaskKeywordExtraction backs the thinking-mode keyword extraction run
	// in the controller's parallel phase.
	TaskKeywordExtraction TaskName = "keyword_extraction"
)

// ModelConfig is the {provider, model, temperature, max_tokens} tuple
// ConfigRegistry resolves for a given task.
type ModelConfig struct {
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int
}

// ConfigRegistry is a total lookup from task name to model configuration.
// It is built once at startup and never mutated: every task the pipeline can
// invoke must have an entry, or NewConfigRegistry fails fast rather than let
// an unknown task surface as a runtime ConfigMissing error deep in a request.
type ConfigRegistry struct {
	tasks map[TaskName]ModelConfig
}

// requiredTasks is the fixed set of tasks the pipeline is allowed to invoke.
// ConfigRegistry rejects any entry outside this set and requires every
// member of it to be present, keeping the lookup genuinely total.
var requiredTasks = []TaskName{
	TaskDomainClassification,
	TaskAnswerThinking,
	TaskAnswerNonThinking,
	TaskReformulation,
	TaskCompression,
	TaskFormatDetection,
	TaskEntityExtraction,
	TaskSQLGeneration,
	TaskResultFormatting,
	TaskSQLQueryClassify,
	TaskSQLEntityExtraction,
	TaskContextSelection,
	TaskCitationCheck,
	TaskKeywordExtraction,
}

// NewConfigRegistry builds a registry from an explicit task->model map.
// Every required task must be present; unknown tasks are rejected outright.
func NewConfigRegistry(tasks map[TaskName]ModelConfig) (*ConfigRegistry, error) {
	for _, t := range requiredTasks {
		if _, ok := tasks[t]; !ok {
			return nil, fmt.Errorf("config.NewConfigRegistry: missing model config for task %q", t)
		}
	}
	for t := range tasks {
		if !containsTask(requiredTasks, t) {
			return nil, fmt.Errorf("config.NewConfigRegistry: unknown task %q", t)
		}
	}

	cp := make(map[TaskName]ModelConfig, len(tasks))
	for k, v := range tasks {
		cp[k] = v
	}
	return &ConfigRegistry{tasks: cp}, nil
}

// DefaultConfigRegistry returns the registry RAGBox's dealership deployment
// ships with: Gemini for reasoning-heavy tasks, the non-thinking Flash variant
// for latency-sensitive classification/extraction tasks.
func DefaultConfigRegistry() (*ConfigRegistry, error) {
	return NewConfigRegistry(map[TaskName]ModelConfig{
		TaskDomainClassification: {Provider: "vertexai", Model: "gemini-2.0-flash", Temperature: 0.0, MaxTokens: 64},
		TaskAnswerThinking:       {Provider: "vertexai", Model: "gemini-3-pro-preview", Temperature: 0.2, MaxTokens: 2048},
		TaskAnswerNonThinking:    {Provider: "vertexai", Model: "gemini-2.0-flash", Temperature: 0.2, MaxTokens: 1024},
		TaskReformulation:        {Provider: "vertexai", Model: "gemini-2.0-flash", Temperature: 0.0, MaxTokens: 128},
		TaskCompression:          {Provider: "vertexai", Model: "gemini-2.0-flash", Temperature: 0.0, MaxTokens: 512},
		TaskFormatDetection:      {Provider: "vertexai", Model: "gemini-2.0-flash", Temperature: 0.0, MaxTokens: 32},
		TaskEntityExtraction:     {Provider: "vertexai", Model: "gemini-2.0-flash", Temperature: 0.0, MaxTokens: 256},
		TaskSQLGeneration:        {Provider: "vertexai", Model: "gemini-3-pro-preview", Temperature: 0.0, MaxTokens: 512},
		TaskResultFormatting:     {Provider: "vertexai", Model: "gemini-2.0-flash", Temperature: 0.1, MaxTokens: 512},
		TaskSQLQueryClassify:     {Provider: "vertexai", Model: "gemini-2.0-flash", Temperature: 0.0, MaxTokens: 32},
		TaskSQLEntityExtraction:  {Provider: "vertexai", Model: "gemini-2.0-flash", Temperature: 0.0, MaxTokens: 128},
		TaskContextSelection:     {Provider: "vertexai", Model: "gemini-2.0-flash", Temperature: 0.0, MaxTokens: 48},
		TaskCitationCheck:        {Provider: "vertexai", Model: "gemini-2.0-flash", Temperature: 0.0, MaxTokens: 16},
		TaskKeywordExtraction:    {Provider: "vertexai", Model: "gemini-2.0-flash", Temperature: 0.0, MaxTokens: 64},
	})
}

// Lookup resolves the model configuration bound to task. Lookup is total
// over the required task set: an unrecognized task always returns an error
// rather than a zero-value ModelConfig, so callers cannot silently proceed
// with an unconfigured provider/model pair.
func (r *ConfigRegistry) Lookup(task TaskName) (ModelConfig, error) {
	mc, ok := r.tasks[task]
	if !ok {
		return ModelConfig{}, fmt.Errorf("config.ConfigRegistry.Lookup: %w: no model configured for task %q", ErrConfigMissing, task)
	}
	return mc, nil
}

func containsTask(list []TaskName, t TaskName) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}
