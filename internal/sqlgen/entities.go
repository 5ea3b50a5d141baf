package sqlgen

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/connexus-ai/ragbox-backend/internal/config"
	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// EntityExtractor pulls the structured identifiers a
// generated query needs to filter on: VIN, dealership, date range, vehicle
// model, claim type. It is deliberately tolerant of typos and partial
// matches (e.g. a 16-character VIN fragment), leaving exactness to the
// validator and the generated WHERE clause, not to this extraction step.
type EntityExtractor struct {
	caller Caller
}

// NewEntityExtractor creates an EntityExtractor.
func NewEntityExtractor(caller Caller) *EntityExtractor {
	return &EntityExtractor{caller: caller}
}

type sqlEntitiesJSON struct {
	VIN          string `json:"vin"`
	Dealership   string `json:"dealership"`
	DateFrom     string `json:"dateFrom"`
	DateTo       string `json:"dateTo"`
	VehicleModel string `json:"vehicleModel"`
	ClaimType    string `json:"claimType"`
}

// Extract returns a flat map of non-empty entity values keyed by kind, fed
// to the SQL generator prompt as a grounding block.
func (e *EntityExtractor) Extract(ctx context.Context, question string) (map[string]string, error) {
	prompt := buildEntityExtractionPromptSQL(question)
	result, err := e.caller.Call(ctx, config.TaskSQLEntityExtraction, []model.Message{{Role: model.RoleUser, Content: prompt}})
	if err != nil {
		return nil, fmt.Errorf("sqlgen.EntityExtractor.Extract: %w", err)
	}

	var parsed sqlEntitiesJSON
	clean := stripCodeFenceSQL(result.Text)
	if err := json.Unmarshal([]byte(clean), &parsed); err != nil {
		return map[string]string{}, nil
	}

	entities := map[string]string{}
	if parsed.VIN != "" {
		entities["vin"] = strings.ToUpper(strings.TrimSpace(parsed.VIN))
	}
	if parsed.Dealership != "" {
		entities["dealership"] = strings.TrimSpace(parsed.Dealership)
	}
	if parsed.DateFrom != "" {
		entities["dateFrom"] = strings.TrimSpace(parsed.DateFrom)
	}
	if parsed.DateTo != "" {
		entities["dateTo"] = strings.TrimSpace(parsed.DateTo)
	}
	if parsed.VehicleModel != "" {
		entities["vehicleModel"] = strings.TrimSpace(parsed.VehicleModel)
	}
	if parsed.ClaimType != "" {
		entities["claimType"] = strings.TrimSpace(parsed.ClaimType)
	}
	return entities, nil
}

func buildEntityExtractionPromptSQL(question string) string {
	return fmt.Sprintf(`Extract any of the following entities present in the question, tolerating minor
typos or abbreviations. Omit fields that are absent. Respond with only JSON:
{"vin": "...", "dealership": "...", "dateFrom": "YYYY-MM-DD", "dateTo": "YYYY-MM-DD", "vehicleModel": "...", "claimType": "..."}

Question: %s`, question)
}

func stripCodeFenceSQL(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
