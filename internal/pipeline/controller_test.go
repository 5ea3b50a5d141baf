package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/connexus-ai/ragbox-backend/internal/config"
	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/sqlgen"
	"github.com/connexus-ai/ragbox-backend/internal/vectorindex"
)

// routedCaller is a Caller/StreamCaller test double that returns a
// different canned response per task, so a single Controller wiring can
// exercise every classifier/extractor stage without a live provider.
type routedCaller struct {
	byTask    map[config.TaskName]string
	seqByTask map[config.TaskName][]string
	errTask   map[config.TaskName]error
	tokens    []string

	mu    sync.Mutex
	calls map[config.TaskName]int
}

func (r *routedCaller) Call(ctx context.Context, task config.TaskName, messages []model.Message) (CallResult, error) {
	r.mu.Lock()
	if r.calls == nil {
		r.calls = map[config.TaskName]int{}
	}
	idx := r.calls[task]
	r.calls[task]++
	r.mu.Unlock()

	if err, ok := r.errTask[task]; ok {
		return CallResult{}, err
	}
	if seq, ok := r.seqByTask[task]; ok && len(seq) > 0 {
		if idx >= len(seq) {
			idx = len(seq) - 1
		}
		return CallResult{Text: seq[idx]}, nil
	}
	return CallResult{Text: r.byTask[task]}, nil
}

func (r *routedCaller) callCount(task config.TaskName) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[task]
}

func (r *routedCaller) Stream(ctx context.Context, task config.TaskName, messages []model.Message) (<-chan string, <-chan error) {
	tokens := make(chan string, len(r.tokens))
	errs := make(chan error, 1)
	for _, t := range r.tokens {
		tokens <- t
	}
	close(tokens)
	close(errs)
	return tokens, errs
}

// fakeSessionStore is an in-memory sessionStore test double.
type fakeSessionStore struct {
	history map[string][]model.Message
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{history: map[string][]model.Message{}}
}

func (f *fakeSessionStore) Append(ctx context.Context, sessionID string, role model.Role, content string) error {
	f.history[sessionID] = append(f.history[sessionID], model.Message{Role: role, Content: content})
	return nil
}

func (f *fakeSessionStore) History(ctx context.Context, sessionID string) ([]model.Message, error) {
	return f.history[sessionID], nil
}

// fakeResponseCache is an in-memory responseCache test double: exact-match
// on canonicalQuery stands in for a real cosine-similarity lookup, since
// these tests never populate more than one near-duplicate query.
type fakeResponseCache struct {
	bySession map[string]model.CacheEntry
}

func newFakeResponseCache() *fakeResponseCache {
	return &fakeResponseCache{bySession: map[string]model.CacheEntry{}}
}

func (f *fakeResponseCache) Get(sessionID string, queryEmbedding []float32) (model.CacheEntry, bool) {
	entry, ok := f.bySession[sessionID]
	return entry, ok
}

func (f *fakeResponseCache) Set(sessionID string, queryEmbedding []float32, canonicalQuery, response string) {
	f.bySession[sessionID] = model.CacheEntry{SessionID: sessionID, CanonicalQuery: canonicalQuery, Response: response}
}

// fakeSQLRunner is an SQLRunner test double for mode=structured requests.
type fakeSQLRunner struct {
	out sqlgen.Output
	err error
}

func (f *fakeSQLRunner) Run(ctx context.Context, question, dealershipID string) (sqlgen.Output, error) {
	return f.out, f.err
}

// fakeDirectFetcher is a directFetcher test double recording how often the
// direct-entity short-circuit fired.
type fakeDirectFetcher struct {
	calls  int
	result model.RetrievalResult
	err    error
}

func (f *fakeDirectFetcher) Fetch(ctx context.Context, company, source string, entity model.Entity) (model.RetrievalResult, error) {
	f.calls++
	return f.result, f.err
}

// countingIndex counts Search invocations so tests can assert whether the
// vector path ran at all.
type countingIndex struct {
	searches int
}

func (c *countingIndex) Search(ctx context.Context, company, source string, queryEmbedding []float32, topK int, filters map[string]string) ([]vectorindex.Candidate, error) {
	c.searches++
	return nil, nil
}

// buildTestController wires a Controller entirely from in-process fakes,
// so the full DOMAIN -> PARALLEL_PREP -> RETRIEVE/DIRECT_ENTITY ->
// GENERATE state machine runs without any live collaborator.
func buildTestController(caller *routedCaller, mem *fakeSessionStore, cache *fakeResponseCache, sql SQLRunner, direct directFetcher, index vectorindex.VectorIndex, sources []string) *Controller {
	embedder := &fakeEmbedder{vec: []float32{0.1, 0.2, 0.3}}
	retrieval := NewRetrievalPath(embedder, index, nil, 20, 10)

	return NewController(
		mem, cache, embedder,
		NewDomainClassifier(caller, "Haval dealership service records", []string{"chat_logs"}),
		NewContextSelector(caller),
		NewIntentClassifier(),
		NewHistoryCompressor(caller),
		NewQueryReformulator(caller),
		NewEntityRouter(caller),
		NewFormatDetector(caller),
		NewCitationChecker(caller),
		NewKeywordExtractor(caller),
		retrieval,
		direct,
		sql,
		NewAnswerGenerator(caller),
		nil, // metrics optional
		4,
		sources,
		"dealership-1",
	)
}

func newTestController(caller *routedCaller, mem *fakeSessionStore, cache *fakeResponseCache, sql SQLRunner) *Controller {
	return buildTestController(caller, mem, cache, sql, nil, vectorindex.NewInMemoryIndex(), nil)
}

func baseCaller() *routedCaller {
	return &routedCaller{
		byTask: map[config.TaskName]string{
			config.TaskDomainClassification: "in_domain",
			config.TaskEntityExtraction:     `{"entities":[]}`,
		},
		tokens: []string{"brake ", "issues ", "are ", "common."},
	}
}

func drain(tokens <-chan string, errs <-chan error) (string, error) {
	text := ""
	for tok := range tokens {
		text += tok
	}
	return text, <-errs
}

func TestController_FreshSession_GeneratesAndAppendsHistory(t *testing.T) {
	caller := baseCaller()
	mem := newFakeSessionStore()
	cache := newFakeResponseCache()
	c := newTestController(caller, mem, cache, nil)

	tokens, errs := c.Answer(context.Background(), "What are common H6 brake issues?", "sess-1", model.ModeConversational, "chat_logs", nil)
	answer, err := drain(tokens, errs)
	if err != nil {
		t.Fatalf("Answer() error: %v", err)
	}
	if answer != "brake issues are common." {
		t.Errorf("answer = %q", answer)
	}

	history := mem.history["sess-1"]
	if len(history) != 2 {
		t.Fatalf("len(history) = %d, want 2 (user + assistant)", len(history))
	}
	if history[0].Role != model.RoleUser || history[1].Role != model.RoleAssistant {
		t.Errorf("history = %+v, want user then assistant", history)
	}

	if _, hit := cache.Get("sess-1", []float32{0.1, 0.2, 0.3}); !hit {
		t.Error("expected the completed answer to be written to the semantic cache")
	}
}

func TestController_OutOfDomain_RefusesWithoutCaching(t *testing.T) {
	caller := baseCaller()
	caller.byTask[config.TaskDomainClassification] = "out_of_domain"
	mem := newFakeSessionStore()
	cache := newFakeResponseCache()
	c := newTestController(caller, mem, cache, nil)

	tokens, errs := c.Answer(context.Background(), "What's the weather in Karachi?", "sess-2", model.ModeConversational, "chat_logs", nil)
	answer, err := drain(tokens, errs)
	if err != nil {
		t.Fatalf("Answer() error: %v", err)
	}
	if answer != OutOfDomainRefusal {
		t.Errorf("answer = %q, want the canned refusal", answer)
	}

	if len(mem.history["sess-2"]) != 2 {
		t.Fatalf("expected history appended even on refusal, got %+v", mem.history["sess-2"])
	}
	if _, hit := cache.Get("sess-2", []float32{0.1, 0.2, 0.3}); hit {
		t.Error("out-of-domain refusals must never be cached")
	}
}

func TestController_CacheHit_SkipsGenerationAndAppendsBothTurns(t *testing.T) {
	caller := baseCaller()
	mem := newFakeSessionStore()
	cache := newFakeResponseCache()
	cache.bySession["sess-3"] = model.CacheEntry{SessionID: "sess-3", Response: "cached H6 brake answer"}
	c := newTestController(caller, mem, cache, nil)

	tokens, errs := c.Answer(context.Background(), "How much is the H6?", "sess-3", model.ModeConversational, "chat_logs", nil)
	answer, err := drain(tokens, errs)
	if err != nil {
		t.Fatalf("Answer() error: %v", err)
	}
	if answer != "cached H6 brake answer" {
		t.Errorf("answer = %q, want cached response", answer)
	}
	if caller.byTask[config.TaskDomainClassification] == "" {
		t.Fatal("test setup broken")
	}
	if len(mem.history["sess-3"]) != 2 {
		t.Fatalf("expected both turns appended on cache hit, got %+v", mem.history["sess-3"])
	}
}

func TestController_StructuredMode_DelegatesToSQLPath(t *testing.T) {
	caller := baseCaller()
	mem := newFakeSessionStore()
	cache := newFakeResponseCache()
	sql := &fakeSQLRunner{out: sqlgen.Output{Answer: "There were 12 tyre claims in December."}}
	c := newTestController(caller, mem, cache, sql)

	tokens, errs := c.Answer(context.Background(), "How many tyre complaints in December?", "sess-4", model.ModeStructured, "warranty_claims", nil)
	_, err := drain(tokens, errs)
	if err != nil {
		t.Fatalf("Answer() error: %v", err)
	}
}

func TestController_SQLPathError_IsFatalAndUncached(t *testing.T) {
	caller := baseCaller()
	mem := newFakeSessionStore()
	cache := newFakeResponseCache()
	sql := &fakeSQLRunner{err: errors.New("boom")}
	c := newTestController(caller, mem, cache, sql)

	tokens, errs := c.Answer(context.Background(), "Delete all warranty claims", "sess-5", model.ModeStructured, "warranty_claims", nil)
	_, err := drain(tokens, errs)
	if err == nil {
		t.Fatal("expected SQL pipeline error to propagate")
	}
	if _, hit := cache.Get("sess-5", []float32{0.1, 0.2, 0.3}); hit {
		t.Error("a failed request must not write to the cache")
	}
}

func TestController_NoSessionID_BypassesMemoryAndCache(t *testing.T) {
	caller := baseCaller()
	mem := newFakeSessionStore()
	cache := newFakeResponseCache()
	c := newTestController(caller, mem, cache, nil)

	tokens, errs := c.Answer(context.Background(), "What are common H6 brake issues?", "", model.ModeConversational, "chat_logs", nil)
	_, err := drain(tokens, errs)
	if err != nil {
		t.Fatalf("Answer() error: %v", err)
	}
	if len(mem.history) != 0 {
		t.Errorf("expected no history writes without a session id, got %+v", mem.history)
	}
	if len(cache.bySession) != 0 {
		t.Errorf("expected no cache writes without a session id, got %+v", cache.bySession)
	}
}

// A provider failure on a parallel-phase task must substitute a safe
// default and continue: a FormatDetector failure must not fail the request.
func TestController_ParallelTaskProviderError_SubstitutesSafeDefault(t *testing.T) {
	caller := baseCaller()
	caller.errTask = map[config.TaskName]error{
		config.TaskFormatDetection: errors.New("provider unavailable"),
	}
	mem := newFakeSessionStore()
	cache := newFakeResponseCache()
	c := newTestController(caller, mem, cache, nil)

	tokens, errs := c.Answer(context.Background(), "Give me a one-line summary of common H6 brake issues", "sess-6", model.ModeConversational, "chat_logs", nil)
	answer, err := drain(tokens, errs)
	if err != nil {
		t.Fatalf("Answer() error: %v, want the format-detection failure to degrade to a safe default", err)
	}
	if answer == "" {
		t.Error("expected generation to still produce an answer")
	}
}

// Entity extraction is suppressed entirely for META_OP decisions, not just
// defaulted on failure. A caller configured to error on entity extraction
// must never be called for a META_OP turn.
func TestController_MetaOp_SuppressesEntityExtraction(t *testing.T) {
	caller := baseCaller()
	caller.errTask = map[config.TaskName]error{
		config.TaskEntityExtraction: errors.New("entity extraction must not run for META_OP"),
	}
	mem := newFakeSessionStore()
	mem.history["sess-7"] = []model.Message{
		{Role: model.RoleUser, Content: "What brake issues are common on the H6?"},
		{Role: model.RoleAssistant, Content: "brake issues are common."},
	}
	cache := newFakeResponseCache()
	c := newTestController(caller, mem, cache, nil)

	tokens, errs := c.Answer(context.Background(), "Summarize that for me", "sess-7", model.ModeConversational, "chat_logs", nil)
	_, err := drain(tokens, errs)
	if err != nil {
		t.Fatalf("Answer() error: %v", err)
	}
	if n := caller.callCount(config.TaskEntityExtraction); n != 0 {
		t.Errorf("entity extraction called %d times for a META_OP turn, want 0", n)
	}
}

// An anaphoric follow-up's entity only becomes explicit once
// QueryReformulator materializes it from history, so entity extraction must
// run again on the reformulated query, and a single-entity recheck hit must
// still take the direct path instead of vector retrieval.
func TestController_EntityRecheck_RunsAfterReformulation(t *testing.T) {
	caller := baseCaller()
	caller.byTask[config.TaskContextSelection] = "CONTINUATION"
	caller.byTask[config.TaskCompression] = "the H6's rear brake caliper"
	caller.byTask[config.TaskReformulation] = "What's the warranty on VIN123's rear brake caliper?"
	caller.seqByTask = map[config.TaskName][]string{
		config.TaskEntityExtraction: {
			`{"entities":[]}`,
			`{"entities":[{"name":"VIN123","kind":"vin"}]}`,
		},
	}
	mem := newFakeSessionStore()
	mem.history["sess-8"] = []model.Message{
		{Role: model.RoleUser, Content: "What brake issues are common on the H6?"},
		{Role: model.RoleAssistant, Content: "VIN123's rear brake caliper sticks under warranty."},
	}
	cache := newFakeResponseCache()
	index := &countingIndex{}
	direct := &fakeDirectFetcher{result: model.RetrievalResult{
		Blocks:      []model.RetrievedBlock{{BlockID: "vin123-1", Text: "VIN123: caliper replaced under warranty claim WC-88."}},
		ContextText: "[1] VIN123: caliper replaced under warranty claim WC-88.",
	}}
	c := buildTestController(caller, mem, cache, nil, direct, index, []string{"chat_logs"})

	tokens, errs := c.Answer(context.Background(), "What's the warranty on it?", "sess-8", model.ModeConversational, "chat_logs", nil)
	_, err := drain(tokens, errs)
	if err != nil {
		t.Fatalf("Answer() error: %v", err)
	}
	if n := caller.callCount(config.TaskEntityExtraction); n != 2 {
		t.Errorf("entity extraction called %d times, want 2 (initial + post-reformulation recheck)", n)
	}
	if direct.calls != 1 {
		t.Errorf("direct fetch called %d times after the recheck promoted a single entity, want 1", direct.calls)
	}
	if index.searches != 0 {
		t.Errorf("vector search ran %d times on the direct-entity path, want 0", index.searches)
	}
}

// A single-entity hit on a source that supports keyed lookup must take the
// direct path: one keyed fetch, no embed/search/rerank, and the final
// generation call is the only LLM call after the prep phase.
func TestController_DirectEntity_SkipsRetrievalPath(t *testing.T) {
	caller := baseCaller()
	caller.byTask[config.TaskEntityExtraction] = `{"entities":[{"name":"Jordan Lee","kind":"customer"}]}`
	mem := newFakeSessionStore()
	cache := newFakeResponseCache()
	index := &countingIndex{}
	direct := &fakeDirectFetcher{result: model.RetrievalResult{
		Blocks:      []model.RetrievedBlock{{BlockID: "cust-7", Text: "Jordan Lee: 3 service visits, 1 open tyre claim."}},
		ContextText: "[1] Jordan Lee: 3 service visits, 1 open tyre claim.",
	}}
	c := buildTestController(caller, mem, cache, nil, direct, index, []string{"chat_logs"})

	tokens, errs := c.Answer(context.Background(), "Show Jordan Lee's complaint records", "sess-12", model.ModeConversational, "chat_logs", nil)
	answer, err := drain(tokens, errs)
	if err != nil {
		t.Fatalf("Answer() error: %v", err)
	}
	if answer == "" {
		t.Fatal("expected a generated answer")
	}
	if direct.calls != 1 {
		t.Errorf("direct fetch called %d times, want 1", direct.calls)
	}
	if index.searches != 0 {
		t.Errorf("vector search ran %d times on the direct-entity path, want 0", index.searches)
	}
}

// A TOPIC_SWITCH decision must skip compression and reformulation even
// when the utterance itself carries anaphora that would otherwise classify
// it as context-dependent.
func TestController_TopicSwitch_SkipsCompressionAndReformulation(t *testing.T) {
	caller := baseCaller()
	mem := newFakeSessionStore()
	mem.history["sess-11"] = []model.Message{
		{Role: model.RoleUser, Content: "What brake issues are common on the H6?"},
		{Role: model.RoleAssistant, Content: "brake issues are common."},
	}
	cache := newFakeResponseCache()
	c := newTestController(caller, mem, cache, nil)

	// "never mind" trips the topic-switch heuristic; "that" alone would
	// have made the intent rule say context-dependent.
	tokens, errs := c.Answer(context.Background(), "never mind that, are Jolion brake pads the same part?", "sess-11", model.ModeConversational, "chat_logs", nil)
	_, err := drain(tokens, errs)
	if err != nil {
		t.Fatalf("Answer() error: %v", err)
	}
	if n := caller.callCount(config.TaskReformulation); n != 0 {
		t.Errorf("reformulation called %d times after a topic switch, want 0", n)
	}
	if n := caller.callCount(config.TaskCompression); n != 0 {
		t.Errorf("compression called %d times after a topic switch, want 0", n)
	}
}

// A validator rejection must produce an in-band, polite response, not a
// fatal error, and must never be cached.
func TestController_SQLInvalid_RespondsPolitelyWithoutCaching(t *testing.T) {
	caller := baseCaller()
	mem := newFakeSessionStore()
	cache := newFakeResponseCache()
	sql := &fakeSQLRunner{err: fmt.Errorf("validator: %w", sqlgen.ErrSQLInvalid)}
	c := newTestController(caller, mem, cache, sql)

	tokens, errs := c.Answer(context.Background(), "How many widgets were sold by the unicorn?", "sess-9", model.ModeStructured, "warranty_claims", nil)
	answer, err := drain(tokens, errs)
	if err != nil {
		t.Fatalf("Answer() error: %v, want a polite in-band refusal instead", err)
	}
	if answer != NewSQLInvalidError(nil).Suggestion {
		t.Errorf("answer = %q, want the SQLInvalid suggestion", answer)
	}
	if _, hit := cache.Get("sess-9", []float32{0.1, 0.2, 0.3}); hit {
		t.Error("an SQLInvalid response must never be cached")
	}
}

// A row/time-cap overflow must produce a narrowing suggestion in-band,
// mirroring the validator-rejection test above.
func TestController_SQLCapacity_RespondsWithNarrowingSuggestionWithoutCaching(t *testing.T) {
	caller := baseCaller()
	mem := newFakeSessionStore()
	cache := newFakeResponseCache()
	sql := &fakeSQLRunner{err: fmt.Errorf("executor: %w", sqlgen.ErrSQLCapacity)}
	c := newTestController(caller, mem, cache, sql)

	tokens, errs := c.Answer(context.Background(), "List every service record ever filed", "sess-10", model.ModeStructured, "warranty_claims", nil)
	answer, err := drain(tokens, errs)
	if err != nil {
		t.Fatalf("Answer() error: %v, want a narrowing suggestion instead", err)
	}
	if answer != NewSQLCapacityError(nil).Suggestion {
		t.Errorf("answer = %q, want the SQLCapacity suggestion", answer)
	}
	if _, hit := cache.Get("sess-10", []float32{0.1, 0.2, 0.3}); hit {
		t.Error("an SQLCapacity response must never be cached")
	}
}
