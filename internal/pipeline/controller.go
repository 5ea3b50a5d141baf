package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/parallel"
	"github.com/connexus-ai/ragbox-backend/internal/sqlgen"
)

// sessionStore is the narrow SessionMemory surface the controller depends
// on, narrowed to an interface (satisfied by *memory.SessionMemory) so
// tests substitute a fake store instead of a live Redis connection.
type sessionStore interface {
	Append(ctx context.Context, sessionID string, role model.Role, content string) error
	History(ctx context.Context, sessionID string) ([]model.Message, error)
}

// responseCache is the narrow SemanticCache surface the controller depends
// on, satisfied by *cache.SemanticCache.
type responseCache interface {
	Get(sessionID string, queryEmbedding []float32) (model.CacheEntry, bool)
	Set(sessionID string, queryEmbedding []float32, canonicalQuery, response string)
}

// terminalState labels feed Metrics.RequestsTotal; kept to a single
// low-cardinality label set.
const (
	terminalCacheHit    = "cache_hit"
	terminalOutOfDomain = "out_of_domain"
	terminalSmallTalk   = "small_talk"
	terminalGenerated   = "generated"
	terminalSQLRefused  = "sql_refused"
	terminalError       = "error"
)

// Parallel-phase task names, used as parallel.Run's map keys and echoed in
// the structured log each task's result produces.
const (
	taskEntities  = "entities"
	taskFormat    = "format"
	taskCitations = "citations"
	taskKeywords  = "keywords"
)

// Embedder is reused from retrieval_path.go: both RetrievalPath and the
// controller's own cache lookups need a single-query embedding call.

// SQLRunner is the narrow SQLPath surface the controller depends on.
type SQLRunner interface {
	Run(ctx context.Context, question, dealershipID string) (sqlgen.Output, error)
}

// directFetcher is the narrow DirectEntityPath surface the controller
// depends on: a keyed fetch of one entity's records that bypasses vector
// retrieval entirely.
type directFetcher interface {
	Fetch(ctx context.Context, company, source string, entity model.Entity) (model.RetrievalResult, error)
}

// Controller owns every per-request collaborator and drives the pipeline's
// state machine: cache check, domain classification, context selection, the
// parallel prep phase, then one of the retrieval, direct-entity, or SQL
// branches before generation.
type Controller struct {
	memory      sessionStore
	cache       responseCache
	embedder    Embedder
	domain      *DomainClassifier
	context     *ContextSelector
	intent      *IntentClassifier
	compressor  *HistoryCompressor
	reformulate *QueryReformulator
	entities    *EntityRouter
	format      *FormatDetector
	citation    *CitationChecker
	keywords    *KeywordExtractor
	retrieval   *RetrievalPath
	direct      directFetcher
	sql         SQLRunner
	generator   *AnswerGenerator
	metrics     *Metrics

	sessionWindow       int
	directEntitySources map[string]bool
	dealershipID        string

	// confidenceFloor is the optional self-critique gate. Zero disables
	// it, which is the default.
	confidenceFloor float64
}

// WithConfidenceFloor enables the self-critique confidence floor: answers
// generated over a non-empty context (retrieval, direct-entity or SQL
// result) whose EstimateConfidence falls below floor get a
// low-confidence caveat appended. floor <= 0 disables the feature, which is
// the default for a freshly constructed Controller.
func (c *Controller) WithConfidenceFloor(floor float64) *Controller {
	c.confidenceFloor = floor
	return c
}

// NewController creates a Controller. directEntitySources lists the source
// names EntityRouter's single-entity hit is allowed to short-circuit
// straight to DIRECT_ENTITY for; direct may be nil when no source supports
// keyed lookup, which disables the short-circuit outright.
func NewController(
	mem sessionStore,
	sc responseCache,
	embedder Embedder,
	domain *DomainClassifier,
	ctxSel *ContextSelector,
	intent *IntentClassifier,
	compressor *HistoryCompressor,
	reformulate *QueryReformulator,
	entities *EntityRouter,
	format *FormatDetector,
	citation *CitationChecker,
	keywords *KeywordExtractor,
	retrieval *RetrievalPath,
	direct directFetcher,
	sql SQLRunner,
	generator *AnswerGenerator,
	metrics *Metrics,
	sessionWindow int,
	directEntitySources []string,
	dealershipID string,
) *Controller {
	sources := make(map[string]bool, len(directEntitySources))
	for _, s := range directEntitySources {
		sources[s] = true
	}
	return &Controller{
		memory: mem, cache: sc, embedder: embedder,
		domain: domain, context: ctxSel, intent: intent,
		compressor: compressor, reformulate: reformulate, entities: entities,
		format: format, citation: citation, keywords: keywords,
		retrieval: retrieval, direct: direct, sql: sql, generator: generator, metrics: metrics,
		sessionWindow: sessionWindow, directEntitySources: sources, dealershipID: dealershipID,
	}
}

// prepResult is everything PARALLEL_PREP computes for a single request.
type prepResult struct {
	intent          model.IntentResult
	contextDecision model.ContextDecision
	entitySet       model.EntitySet
	formatDirective model.FormatDirective
	citationsNeeded bool
	keywords        []string
}

// Answer is the pipeline entry point. If sessionID is empty, memory and
// cache are bypassed entirely. The returned
// channels stream the answer's tokens; the error channel closes once after
// either an error or the stream (and any cache/history bookkeeping) has
// completed.
func (c *Controller) Answer(ctx context.Context, question, sessionID string, mode model.RequestMode, source string, filters map[string]string) (<-chan string, <-chan error) {
	tokens := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(tokens)
		defer close(errs)
		if err := c.run(ctx, question, sessionID, mode, source, filters, tokens); err != nil {
			errs <- err
		}
	}()

	return tokens, errs
}

func (c *Controller) run(ctx context.Context, question, sessionID string, mode model.RequestMode, source string, filters map[string]string, out chan<- string) (err error) {
	start := time.Now()
	terminal := terminalGenerated
	defer func() {
		if err != nil {
			terminal = terminalError
		}
		c.recordTerminal(terminal, time.Since(start))
	}()

	hasSession := sessionID != ""

	var history []model.Message
	if hasSession {
		h, err := c.memory.History(ctx, sessionID)
		if err != nil {
			// MemoryUnavailable: degrade to history-less mode rather than fail.
			c.logStage(ctx, "cache_check", "memory_unavailable", "session_id", sessionID, "error", err)
			history = nil
		} else {
			history = h
		}
	}

	// CACHE_CHECK
	if hasSession {
		queryEmbedding, err := c.embedder.Embed(ctx, question)
		if err == nil {
			if entry, hit := c.cache.Get(sessionID, queryEmbedding); hit {
				c.recordCacheHit(true)
				terminal = terminalCacheHit
				c.logStage(ctx, "cache_check", "hit", "session_id", sessionID)
				return c.finishFromCache(ctx, sessionID, question, entry.Response, out)
			}
			c.recordCacheHit(false)
		}
	}

	// DOMAIN
	classification, err := c.domain.Classify(ctx, question, history)
	if err != nil {
		return fmt.Errorf("pipeline.Controller.run: domain classify: %w", err)
	}
	c.logStage(ctx, "domain", "classified", "session_id", sessionID, "classification", classification.Classification)

	if classification.Classification == model.OutOfDomain {
		c.recordOOD()
		terminal = terminalOutOfDomain
		c.logStage(ctx, "ood_shortcircuit", "refused", "session_id", sessionID)
		return c.finishTerminal(ctx, sessionID, question, OutOfDomainRefusal, history, false, out)
	}

	if classification.Classification == model.SmallTalk {
		terminal = terminalSmallTalk
		answer, genErr := c.generateSmallTalk(ctx, question)
		if genErr != nil {
			return fmt.Errorf("pipeline.Controller.run: small talk generate: %w", genErr)
		}
		return c.finishTerminal(ctx, sessionID, question, answer, history, true, out)
	}

	// CONTEXT_SELECT runs as a sequential prefilter ahead of the parallel
	// phase: its decision gates whether entity extraction runs at all, so
	// it must be known before the parallel fan-out is built.
	contextDecision := c.selectContext(ctx, question, history)

	// PARALLEL_PREP
	prep := c.runPrep(ctx, question, contextDecision, mode, source)
	c.logStage(ctx, "parallel_prep", "completed", "session_id", sessionID,
		"intent", prep.intent.Kind, "context_action", prep.contextDecision.Action, "entity_query_type", prep.entitySet.QueryType)

	// A decision to carry no prior turns forward means the utterance is
	// handled as standalone no matter what the intent rule said: there is
	// nothing to compress or reformulate against.
	if prep.contextDecision.Action == model.TopicSwitch || prep.contextDecision.MessagesToInclude == 0 {
		prep.intent = model.IntentResult{Kind: model.Standalone}
	}

	genInput := GenerateInput{
		Mode:     answerModeFor(mode),
		Question: question,
		Format:   prep.formatDirective,
	}
	if mode == model.ModeThinking {
		genInput.CitationsNeeded = prep.citationsNeeded
		genInput.Keywords = prep.keywords
	}
	if prep.contextDecision.Action == model.MetaOp {
		if last, ok := lastAssistantTurn(history); ok {
			genInput.LastAssistantTurn = last.Content
		}
	}

	switch {
	case mode == model.ModeStructured:
		c.logStage(ctx, "sql_pipeline", "started", "session_id", sessionID)
		sqlOut, sqlErr := c.sql.Run(ctx, question, c.dealershipID)
		if sqlErr != nil {
			if errors.Is(sqlErr, sqlgen.ErrSQLInvalid) {
				terminal = terminalSQLRefused
				if c.metrics != nil {
					c.metrics.SQLRejects.Inc()
				}
				c.logStage(ctx, "sql_pipeline", "sql_invalid", "session_id", sessionID, "error", sqlErr)
				return c.finishTerminal(ctx, sessionID, question, NewSQLInvalidError(sqlErr).Suggestion, history, false, out)
			}
			if errors.Is(sqlErr, sqlgen.ErrSQLCapacity) {
				terminal = terminalSQLRefused
				c.logStage(ctx, "sql_pipeline", "sql_capacity", "session_id", sessionID, "error", sqlErr)
				return c.finishTerminal(ctx, sessionID, question, NewSQLCapacityError(sqlErr).Suggestion, history, false, out)
			}
			return fmt.Errorf("pipeline.Controller.run: sql pipeline: %w", sqlErr)
		}
		genInput.ContextText = sqlOut.Answer

	default:
		retrievalQuery := question
		directEntity := c.canShortCircuit(prep.entitySet, source)

		if !directEntity && prep.intent.Kind == model.ContextDependent && prep.contextDecision.Action != model.TopicSwitch {
			compressed := ""
			if last, ok := lastAssistantTurn(history); ok {
				compressed, err = c.compressor.Compress(ctx, question, last.Content)
				if err != nil {
					return fmt.Errorf("pipeline.Controller.run: compress: %w", err)
				}
			}
			// A REFORMULATE failure falls back to the original question
			// instead of failing the request.
			reformulated, reformErr := c.reformulate.Reformulate(ctx, question, compressed, source, prep.intent.Kind)
			if reformErr != nil {
				c.logStage(ctx, "reformulate", "provider_error_fallback", "session_id", sessionID, "error", reformErr)
			} else {
				retrievalQuery = reformulated
			}

			// ENTITY_RECHECK: the reformulated query may materialize an
			// entity that was only anaphoric ("it", "that one") in the
			// original question. Suppressed for META_OP for the same
			// reason the initial extraction is.
			if prep.contextDecision.Action != model.MetaOp {
				recheck, recheckErr := c.entities.Extract(ctx, retrievalQuery, source)
				if recheckErr != nil {
					c.logStage(ctx, "entity_recheck", "provider_error_safe_default", "session_id", sessionID, "error", recheckErr)
				} else {
					prep.entitySet = recheck
					directEntity = c.canShortCircuit(recheck, source)
					c.logStage(ctx, "entity_recheck", "completed", "session_id", sessionID, "entity_query_type", recheck.QueryType)
				}
			}
		}

		genInput.Question = retrievalQuery

		var result model.RetrievalResult
		if directEntity {
			// DIRECT_ENTITY: one keyed fetch, no embed/search/rerank. The
			// generation call below is the only LLM call left.
			entity := prep.entitySet.Entities[0]
			c.logStage(ctx, "direct_entity", "short_circuit", "session_id", sessionID, "entity", entity.Name, "kind", entity.Kind)
			result, err = c.direct.Fetch(ctx, c.dealershipID, source, entity)
			if err != nil {
				return fmt.Errorf("pipeline.Controller.run: direct entity fetch: %w", err)
			}
		} else {
			result, err = c.retrieval.Retrieve(ctx, retrievalQuery, c.dealershipID, source, filters)
			if err != nil {
				return fmt.Errorf("pipeline.Controller.run: retrieve: %w", err)
			}
		}
		genInput.ContextText = result.ContextText
		genInput.RetrievalEmpty = len(result.Blocks) == 0
	}

	c.logStage(ctx, "generate", "started", "session_id", sessionID)
	return c.generateAndFinish(ctx, sessionID, question, genInput, history, out)
}

// selectContext runs CONTEXT_SELECT. A history-less request never reaches
// the LLM at all: there is no history to weigh a follow-up against. A
// provider failure here degrades to CONTINUATION (the pipeline's least
// disruptive default) rather than failing the request.
func (c *Controller) selectContext(ctx context.Context, question string, history []model.Message) model.ContextDecision {
	if len(history) == 0 {
		return model.ContextDecision{Action: model.Continuation, MessagesToInclude: 0}
	}
	decision, err := c.context.Select(ctx, question, history, c.sessionWindow)
	if err != nil {
		c.logStage(ctx, "context_select", "provider_error_safe_default", "error", err)
		return model.ContextDecision{Action: model.Continuation, MessagesToInclude: 0}
	}
	return decision
}

// runPrep dispatches the always-on and mode-gated parallel-phase stages
// through parallel.Run, so the LLM-backed tasks fan out and the request's
// wall time is the max of their individual latencies rather than the sum.
// IntentClassifier is a pure in-process rule and runs inline; it needs no
// goroutine of its own.
//
// EntityRouter is suppressed entirely for META_OP decisions. Any task's
// provider failure is downgraded to a safe default (entities=empty,
// format=absent, citations-needed=true, keywords=empty) instead of failing
// the request.
func (c *Controller) runPrep(ctx context.Context, question string, contextDecision model.ContextDecision, mode model.RequestMode, source string) prepResult {
	prep := prepResult{
		intent:          c.intent.Classify(question),
		contextDecision: contextDecision,
	}

	tasks := map[string]parallel.Task{
		taskFormat: func() (any, error) {
			return c.format.Detect(ctx, question)
		},
	}
	if contextDecision.Action != model.MetaOp {
		tasks[taskEntities] = func() (any, error) {
			return c.entities.Extract(ctx, question, source)
		}
	}
	if mode == model.ModeThinking {
		tasks[taskCitations] = func() (any, error) {
			return c.citation.Check(ctx, question)
		}
		tasks[taskKeywords] = func() (any, error) {
			return c.keywords.Extract(ctx, question)
		}
	}

	results := parallel.Run(tasks)

	if r, ok := results[taskEntities]; ok {
		if r.Err != nil {
			c.logStage(ctx, "entity_extract", "provider_error_safe_default", "error", r.Err)
			prep.entitySet = model.EntitySet{QueryType: model.EntityNone}
		} else {
			prep.entitySet = r.Value.(model.EntitySet)
		}
	} else {
		// Suppressed for META_OP: no entity-bearing data request is in play.
		prep.entitySet = model.EntitySet{QueryType: model.EntityNone}
	}

	if r := results[taskFormat]; r.Err != nil {
		c.logStage(ctx, "format_detect", "provider_error_safe_default", "error", r.Err)
		prep.formatDirective = model.FormatDirective{}
	} else {
		prep.formatDirective = r.Value.(model.FormatDirective)
	}

	if mode == model.ModeThinking {
		if r := results[taskCitations]; r.Err != nil {
			c.logStage(ctx, "citation_check", "provider_error_safe_default", "error", r.Err)
			prep.citationsNeeded = true
		} else {
			prep.citationsNeeded = r.Value.(bool)
		}

		if r := results[taskKeywords]; r.Err != nil {
			c.logStage(ctx, "keyword_extract", "provider_error_safe_default", "error", r.Err)
			prep.keywords = nil
		} else {
			prep.keywords = r.Value.([]string)
		}
	}

	return prep
}

// logStage emits a single structured event per pipeline transition, in the
// same "[TAG] short phrase" slog convention the cache package uses.
func (c *Controller) logStage(ctx context.Context, stage, event string, kv ...any) {
	args := make([]any, 0, len(kv)+4)
	args = append(args, "stage", stage, "event", event)
	args = append(args, kv...)
	slog.InfoContext(ctx, "[PIPELINE] stage transition", args...)
}

func (c *Controller) generateSmallTalk(ctx context.Context, question string) (string, error) {
	tokens, errs := c.generator.Stream(ctx, GenerateInput{
		Mode:     NonThinking,
		Question: question,
	})
	return CollectStream(tokens, errs)
}

// generateAndFinish runs GENERATE, then CACHE_STORE and HISTORY_APPEND. A
// GENERATE error is fatal: no cache write happens and history retains only
// the user's turn.
func (c *Controller) generateAndFinish(ctx context.Context, sessionID, question string, in GenerateInput, history []model.Message, out chan<- string) error {
	if sessionID != "" {
		// MemoryUnavailable: proceed without history persistence rather than fail the request.
		_ = c.memory.Append(ctx, sessionID, model.RoleUser, question)
	}

	tokens, errs := c.generator.Stream(ctx, in)
	var sb strings.Builder
	for tok := range tokens {
		sb.WriteString(tok)
		out <- tok
	}
	if err := <-errs; err != nil {
		return fmt.Errorf("pipeline.Controller.generateAndFinish: generate: %w", err)
	}
	answer := sb.String()

	if c.confidenceFloor > 0 && !in.RetrievalEmpty && in.ContextText != "" {
		if EstimateConfidence(answer, in.ContextText) < c.confidenceFloor {
			caveat := "\n\n(This answer may not be fully grounded in the retrieved records; please verify.)"
			out <- caveat
			answer += caveat
		}
	}

	if sessionID != "" {
		if err := c.memory.Append(ctx, sessionID, model.RoleAssistant, answer); err == nil {
			if embedding, embedErr := c.embedder.Embed(ctx, question); embedErr == nil {
				c.cache.Set(sessionID, embedding, question, answer)
			}
		}
	}
	return nil
}

// finishTerminal handles OOD_SHORTCIRCUIT and the small-talk template path:
// both append the full turn to history but OOD never writes to cache.
func (c *Controller) finishTerminal(ctx context.Context, sessionID, question, answer string, history []model.Message, cacheable bool, out chan<- string) error {
	out <- answer
	if sessionID == "" {
		return nil
	}
	_ = c.memory.Append(ctx, sessionID, model.RoleUser, question)
	_ = c.memory.Append(ctx, sessionID, model.RoleAssistant, answer)
	if cacheable {
		if embedding, err := c.embedder.Embed(ctx, question); err == nil {
			c.cache.Set(sessionID, embedding, question, answer)
		}
	}
	return nil
}

// finishFromCache implements CACHE_CHECK's hit transition: the user turn
// was not yet appended when the cache was consulted, so both turns are
// appended here before returning the cached text.
func (c *Controller) finishFromCache(ctx context.Context, sessionID, question, answer string, out chan<- string) error {
	out <- answer
	_ = c.memory.Append(ctx, sessionID, model.RoleUser, question)
	_ = c.memory.Append(ctx, sessionID, model.RoleAssistant, answer)
	return nil
}

func (c *Controller) recordTerminal(state string, elapsed time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.RequestsTotal.WithLabelValues(state).Inc()
	c.metrics.StageLatency.WithLabelValues("total").Observe(elapsed.Seconds())
}

func (c *Controller) recordCacheHit(hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.CacheHits.Inc()
	} else {
		c.metrics.CacheMisses.Inc()
	}
}

func (c *Controller) recordOOD() {
	if c.metrics != nil {
		c.metrics.DomainOOD.Inc()
	}
}

func answerModeFor(mode model.RequestMode) AnswerMode {
	if mode == model.ModeThinking {
		return Thinking
	}
	return NonThinking
}

// canShortCircuit reports whether a single-entity hit may take the
// direct-entity path: the source must opt in and a direct fetcher must be
// wired.
func (c *Controller) canShortCircuit(set model.EntitySet, source string) bool {
	return c.direct != nil &&
		set.QueryType == model.EntitySingle &&
		len(set.Entities) > 0 &&
		c.directEntitySources[source]
}
