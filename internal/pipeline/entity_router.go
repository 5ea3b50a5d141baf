package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/connexus-ai/ragbox-backend/internal/config"
	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// EntityRouter extracts first-class entities (e.g. customer names, VINs)
// relevant to the active source, and tags the query as none/single/multi so
// the controller can decide whether to short-circuit to a direct-entity
// lookup path.
type EntityRouter struct {
	caller Caller
}

// NewEntityRouter creates an EntityRouter.
func NewEntityRouter(caller Caller) *EntityRouter {
	return &EntityRouter{caller: caller}
}

// entityExtractionJSON is the wire shape the entity_extraction task is
// prompted to return.
type entityExtractionJSON struct {
	Entities []struct {
		Name string `json:"name"`
		Kind string `json:"kind"`
	} `json:"entities"`
}

// Extract detects entities in question for source. Returns an empty
// EntitySet (QueryType none) for sources with no first-class entities.
func (r *EntityRouter) Extract(ctx context.Context, question, source string) (model.EntitySet, error) {
	prompt := buildEntityExtractionPrompt(question, source)
	result, err := r.caller.Call(ctx, config.TaskEntityExtraction, []model.Message{{Role: model.RoleUser, Content: prompt}})
	if err != nil {
		return model.EntitySet{}, fmt.Errorf("pipeline.EntityRouter.Extract: %w", err)
	}

	entities := parseEntities(result.Text)
	return model.EntitySet{Entities: entities, QueryType: classifyEntityCount(len(entities))}, nil
}

func buildEntityExtractionPrompt(question, source string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Extract first-class named entities (e.g. customer names) relevant to the %q source from this message. ", source)
	sb.WriteString("Tolerate typos and abbreviations. Return strict JSON of the shape ")
	sb.WriteString(`{"entities":[{"name":"...","kind":"customer"}]}` + ". Return an empty list if none.\n\n")
	fmt.Fprintf(&sb, "Message: %s\n", question)
	return sb.String()
}

func parseEntities(text string) []model.Entity {
	cleaned := stripCodeFence(text)
	var parsed entityExtractionJSON
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil
	}
	entities := make([]model.Entity, 0, len(parsed.Entities))
	for _, e := range parsed.Entities {
		if e.Name == "" {
			continue
		}
		entities = append(entities, model.Entity{Name: e.Name, Kind: e.Kind})
	}
	return entities
}

func classifyEntityCount(n int) model.EntityQueryType {
	switch {
	case n == 0:
		return model.EntityNone
	case n == 1:
		return model.EntitySingle
	default:
		return model.EntityMulti
	}
}

func stripCodeFence(text string) string {
	cleaned := strings.TrimSpace(text)
	if !strings.HasPrefix(cleaned, "```") {
		return cleaned
	}
	lines := strings.Split(cleaned, "\n")
	if len(lines) < 3 {
		return cleaned
	}
	return strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
}
