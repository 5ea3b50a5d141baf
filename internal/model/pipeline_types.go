package model

import "time"

// Role identifies the speaker of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversation turn held in session memory.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// RequestMode is the caller-selected mode passed to the pipeline entry
// point: conversational and thinking both run the retrieval path and differ
// only in AnswerGenerator's depth; structured runs the SQL path instead of
// retrieval.
type RequestMode string

const (
	ModeConversational RequestMode = "conversational"
	ModeThinking       RequestMode = "thinking"
	ModeStructured     RequestMode = "structured"
)

// Classification is the sum type DomainClassifier returns.
type Classification string

const (
	InDomain    Classification = "in_domain"
	OutOfDomain Classification = "out_of_domain"
	SmallTalk   Classification = "small_talk"
)

// ClassificationResult is the output of DomainClassifier.
type ClassificationResult struct {
	Classification Classification `json:"classification"`
	Reason         string         `json:"reason,omitempty"`
}

// ContextAction is the sum type ContextSelector chooses between.
type ContextAction string

const (
	TopicSwitch  ContextAction = "TOPIC_SWITCH"
	DataRequest  ContextAction = "DATA_REQUEST"
	MetaOp       ContextAction = "META_OP"
	Continuation ContextAction = "CONTINUATION"
)

// ContextDecision is the output of ContextSelector.
type ContextDecision struct {
	Action            ContextAction `json:"action"`
	MessagesToInclude int           `json:"messagesToInclude"`
}

// IntentKind is the sum type IntentClassifier chooses between.
type IntentKind string

const (
	Standalone       IntentKind = "standalone"
	ContextDependent IntentKind = "context_dependent"
)

// IntentResult is the output of IntentClassifier.
type IntentResult struct {
	Kind IntentKind `json:"kind"`
}

// EntityQueryType tags how many entities EntityRouter found.
type EntityQueryType string

const (
	EntityNone   EntityQueryType = "none"
	EntitySingle EntityQueryType = "single"
	EntityMulti  EntityQueryType = "multi"
)

// Entity is a single first-class entity detected in the utterance.
type Entity struct {
	Name string `json:"name"`
	Kind string `json:"kind"` // e.g. "customer", "vin"
}

// EntitySet is the output of EntityRouter.
type EntitySet struct {
	Entities  []Entity        `json:"entities"`
	QueryType EntityQueryType `json:"queryType"`
}

// FormatDirective is the output of FormatDetector. A zero value means absent.
type FormatDirective struct {
	Present   bool   `json:"present"`
	Directive string `json:"directive,omitempty"`
}

// RetrievedBlock is a single ranked passage returned by RetrievalPath.
type RetrievedBlock struct {
	BlockID  string            `json:"blockId"`
	Text     string            `json:"text"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// RetrievalResult is the output of RetrievalPath.
type RetrievalResult struct {
	Blocks      []RetrievedBlock `json:"blocks"`
	ContextText string           `json:"contextText"`
	Citations   []string         `json:"citations"`
}

// QueryType is the sum type SQLPath's classify stage assigns.
type QueryType string

const (
	QueryAggregation QueryType = "AGGREGATION"
	QueryFiltering   QueryType = "FILTERING"
	QueryComparison  QueryType = "COMPARISON"
	QueryHistory     QueryType = "HISTORY"
	QuerySemantic    QueryType = "SEMANTIC"
)

// SQLPlan is the output of SQLPath's generate and validate stages.
type SQLPlan struct {
	QueryType    QueryType         `json:"queryType"`
	Entities     map[string]string `json:"entities"`
	GeneratedSQL string            `json:"generatedSql"`
	ValidationOK bool              `json:"validationOk"`
}

// SQLResult is the output of SQLPath's execute stage: the bounded row set
// plus whether the row cap truncated it.
type SQLResult struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	Truncated bool             `json:"truncated"`
}

// CacheEntry is a single SemanticCache record.
type CacheEntry struct {
	SessionID      string    `json:"sessionId"`
	QueryEmbedding []float32 `json:"-"`
	CanonicalQuery string    `json:"canonicalQuery"`
	Response       string    `json:"response"`
	CreatedAt      time.Time `json:"createdAt"`
}
