// pipelinedemo is a minimal wiring entry point exercising
// pipeline.Controller.Answer end-to-end. Unlike a production deployment
// (which points LLMCaller at the Vertex AI/BYOLLM providers, RetrievalPath
// at a pgvector-backed index, and SessionMemory at Redis), this binary
// wires every collaborator to a self-contained, in-process stand-in so the
// full state machine runs without external credentials or infrastructure.
//
// Usage:
//
//	go run ./cmd/pipelinedemo "What brake issues are common on the H6?"
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/connexus-ai/ragbox-backend/internal/cache"
	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/pipeline"
	"github.com/connexus-ai/ragbox-backend/internal/vectorindex"
)

const (
	dealershipID      = "demo-dealership"
	source            = "chat_logs"
	sessionID         = "demo-session"
	defaultSessionCap = 4
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	question := strings.Join(os.Args[1:], " ")
	if question == "" {
		question = "What are common brake issues on the Haval H6?"
	}

	caller := newDemoCaller()

	index := vectorindex.NewInMemoryIndex()
	seedCorpus(index)

	embedCache := cache.NewEmbeddingCache(10 * time.Minute)
	defer embedCache.Stop()
	embedder := cache.NewCachingEmbedder(caller, embedCache, dealershipID)

	retrieval := pipeline.NewRetrievalPath(embedder, index, nil, 20, 10)

	responseCache := cache.NewSemanticCache(1*time.Hour, 0.96)
	defer responseCache.Stop()

	controller := pipeline.NewController(
		newDemoSessionStore(),
		responseCache,
		embedder,
		pipeline.NewDomainClassifier(caller, "Haval dealership service records", []string{source}),
		pipeline.NewContextSelector(caller),
		pipeline.NewIntentClassifier(),
		pipeline.NewHistoryCompressor(caller),
		pipeline.NewQueryReformulator(caller),
		pipeline.NewEntityRouter(caller),
		pipeline.NewFormatDetector(caller),
		pipeline.NewCitationChecker(caller),
		pipeline.NewKeywordExtractor(caller),
		retrieval,
		pipeline.NewDirectEntityPath(index, 10),
		nil, // no SQLRunner wired in this demo: conversational mode only
		pipeline.NewAnswerGenerator(caller),
		nil, // metrics optional
		defaultSessionCap,
		[]string{source},
		dealershipID,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("asking", "question", question)
	tokens, errs := controller.Answer(ctx, question, sessionID, model.ModeConversational, source, nil)

	out := bufio.NewWriter(os.Stdout)
	for tok := range tokens {
		out.WriteString(tok)
		out.Flush()
	}
	fmt.Fprintln(os.Stdout)

	if err := <-errs; err != nil {
		logger.Error("pipeline run failed", "error", err)
		os.Exit(1)
	}
}

// seedCorpus adds a handful of sample passages so retrieval has something
// to find. A real deployment populates the index out-of-band via the
// corpus ingestion path, which is out of scope for this system.
func seedCorpus(index *vectorindex.InMemoryIndex) {
	passages := []struct{ id, text string }{
		{"blk-1", "Haval H6 2022-2023 model years show a recurring complaint of brake pad squeal under 10,000 km, traced to a supplier batch of semi-metallic pads. Dealer bulletin TSB-2023-04 recommends replacement with the revised ceramic-compound pad part number."},
		{"blk-2", "Warranty claims for the H6's rear brake caliper sticking are covered under the 5-year/100,000 km powertrain-adjacent warranty when the vehicle has full service history."},
		{"blk-3", "Routine service intervals for the H6 call for brake fluid replacement every 40,000 km or 2 years, whichever comes first, per the owner's manual torque and fluid spec table."},
		{"blk-4", "The Jolion's infotainment unit occasionally drops Bluetooth pairing after a firmware update; a factory reset of the head unit resolves it in most reported cases."},
	}
	for i, p := range passages {
		index.Add(dealershipID, source, vectorindex.Candidate{
			BlockID:  p.id,
			Text:     p.text,
			Metadata: map[string]string{},
		}, bagOfWordsVector(p.text, i))
	}
}
