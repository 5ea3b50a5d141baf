package sqlgen

import (
	"context"
	"fmt"
	"strings"

	"github.com/connexus-ai/ragbox-backend/internal/config"
	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// schemaDescription is the read surface the generator is allowed to
// reference, mirrored 1:1 from validator.go's allowedTables so the model
// never invents a table the validator will then reject.
const schemaDescription = `
vehicles(id, vin, dealership_id, model, year, purchase_date, customer_id)
warranty_claims(id, vehicle_id, dealership_id, claim_type, filed_date, status, amount)
customers(id, dealership_id, name, email, phone)
dealerships(id, name, region)
service_history(id, vehicle_id, dealership_id, service_date, description, mileage)
`

// Generator turns a classified query type plus extracted
// entities into a single candidate SELECT statement. It never writes the
// tenant scope itself (injectDealershipScope in the validator does that),
// so a prompt-injected query cannot widen its own visibility.
type Generator struct {
	caller Caller
}

// NewGenerator creates a Generator.
func NewGenerator(caller Caller) *Generator {
	return &Generator{caller: caller}
}

// Generate produces a candidate SQL string. Callers must still run it
// through Validator.ValidateAndSecure before execution.
func (g *Generator) Generate(ctx context.Context, question string, queryType model.QueryType, entities map[string]string) (string, error) {
	prompt := buildGenerationPrompt(question, queryType, entities)
	result, err := g.caller.Call(ctx, config.TaskSQLGeneration, []model.Message{{Role: model.RoleUser, Content: prompt}})
	if err != nil {
		return "", fmt.Errorf("sqlgen.Generator.Generate: %w", err)
	}
	return stripSQLFence(result.Text), nil
}

func buildGenerationPrompt(question string, queryType model.QueryType, entities map[string]string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Schema:\n%s\n", schemaDescription)
	fmt.Fprintf(&sb, "Query type: %s\n", queryType)
	if len(entities) > 0 {
		sb.WriteString("Known entities:\n")
		for k, v := range entities {
			fmt.Fprintf(&sb, "- %s: %s\n", k, v)
		}
	}
	sb.WriteString(`
Write exactly one read-only PostgreSQL SELECT statement answering the question below.
Do not include a dealership_id condition; it is injected automatically.
Do not write anything other than the SQL statement itself: no explanation, no markdown fence.
`)
	fmt.Fprintf(&sb, "\nQuestion: %s\n", question)
	return sb.String()
}

func stripSQLFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```sql")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
