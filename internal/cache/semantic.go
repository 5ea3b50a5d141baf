package cache

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// SemanticCache is a session-scoped, embedding-keyed cache: a query
// hits the cache only if it falls within the same session and its
// embedding's cosine similarity to a cached query meets the configured
// threshold. It generalizes an exact-hash TTL map into an approximate,
// per-session similarity lookup.
type SemanticCache struct {
	mu        sync.RWMutex
	bySession map[string][]*semanticEntry
	ttl       time.Duration
	threshold float64
	stopCh    chan struct{}
}

type semanticEntry struct {
	embedding []float32
	entry     model.CacheEntry
	expiresAt time.Time
}

// NewSemanticCache creates a SemanticCache with the given TTL and
// cosine-similarity threshold, and starts its background eviction loop.
func NewSemanticCache(ttl time.Duration, threshold float64) *SemanticCache {
	c := &SemanticCache{
		bySession: make(map[string][]*semanticEntry),
		ttl:       ttl,
		threshold: threshold,
		stopCh:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Get returns the cached entry for sessionID whose embedding is the closest
// cosine match to queryEmbedding, if that match clears the threshold and
// has not expired.
func (c *SemanticCache) Get(sessionID string, queryEmbedding []float32) (model.CacheEntry, bool) {
	c.mu.RLock()
	candidates := c.bySession[sessionID]
	c.mu.RUnlock()

	now := time.Now()
	var best *semanticEntry
	var bestScore float64

	for _, cand := range candidates {
		if now.After(cand.expiresAt) {
			continue
		}
		score := cosineSimilarity(queryEmbedding, cand.embedding)
		if score >= c.threshold && score > bestScore {
			best = cand
			bestScore = score
		}
	}

	if best == nil {
		return model.CacheEntry{}, false
	}

	slog.Info("[CACHE] semantic hit",
		"session_id", sessionID,
		"similarity", bestScore,
		"age_ms", time.Since(best.entry.CreatedAt).Milliseconds(),
	)
	return best.entry, true
}

// Set stores a response keyed by its session and query embedding.
func (c *SemanticCache) Set(sessionID string, queryEmbedding []float32, canonicalQuery, response string) {
	now := time.Now()
	e := &semanticEntry{
		embedding: queryEmbedding,
		entry: model.CacheEntry{
			SessionID:      sessionID,
			QueryEmbedding: queryEmbedding,
			CanonicalQuery: canonicalQuery,
			Response:       response,
			CreatedAt:      now,
		},
		expiresAt: now.Add(c.ttl),
	}

	c.mu.Lock()
	c.bySession[sessionID] = append(c.bySession[sessionID], e)
	c.mu.Unlock()

	slog.Info("[CACHE] semantic set", "session_id", sessionID, "ttl_s", int(c.ttl.Seconds()))
}

// InvalidateSession drops every cached entry for a session, e.g. on explicit
// session reset.
func (c *SemanticCache) InvalidateSession(sessionID string) {
	c.mu.Lock()
	delete(c.bySession, sessionID)
	c.mu.Unlock()
}

// Len returns the total number of cached entries across all sessions.
func (c *SemanticCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, entries := range c.bySession {
		n += len(entries)
	}
	return n
}

// Stop halts the background eviction goroutine.
func (c *SemanticCache) Stop() {
	close(c.stopCh)
}

// cleanup evicts expired entries on a 5-minute ticker.
func (c *SemanticCache) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			removed := 0
			for sessionID, entries := range c.bySession {
				kept := entries[:0]
				for _, e := range entries {
					if now.After(e.expiresAt) {
						removed++
						continue
					}
					kept = append(kept, e)
				}
				if len(kept) == 0 {
					delete(c.bySession, sessionID)
				} else {
					c.bySession[sessionID] = kept
				}
			}
			c.mu.Unlock()
			if removed > 0 {
				slog.Info("[CACHE] semantic cleanup", "removed", removed)
			}
		case <-c.stopCh:
			return
		}
	}
}

// cosineSimilarity returns the cosine similarity of a and b, or 0 if either
// vector is empty or their dimensions disagree.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
