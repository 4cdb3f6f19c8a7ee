package suggest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"data-cleaning-service/internal/models"
	"data-cleaning-service/internal/table"
)

// Generator is a text-generation collaborator.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Agent delegates suggestion to a Generator. Replies are checked for shape
// only; operation names are not validated against the registry.
type Agent struct {
	gen        Generator
	operations []string
}

// NewAgent creates an Agent that advertises operations in its prompt.
func NewAgent(gen Generator, operations []string) *Agent {
	return &Agent{gen: gen, operations: operations}
}

const agentPrompt = `You are a data cleaning assistant. Given profiling statistics for a tabular
dataset, propose an ordered list of cleaning operations.
Available operations: %s.
Every operation takes its target column in params.column unless it works on the
whole table. Reply with JSON only: {"suggestions": [{"operation": "...", "params": {...}}]}`

func (a *Agent) Suggest(ctx context.Context, prof models.ProfilingResult, _ *table.Table) ([]models.Suggestion, error) {
	payload, err := json.Marshal(prof)
	if err != nil {
		return nil, fmt.Errorf("encode profiling: %w", err)
	}
	reply, err := a.gen.Generate(ctx, fmt.Sprintf(agentPrompt, strings.Join(a.operations, ", ")), string(payload))
	if err != nil {
		return nil, fmt.Errorf("generate suggestions: %w", err)
	}
	return ParseReply(reply)
}

// ParseReply decodes a JSON array of suggestions, or an object holding one
// under "suggestions". Markdown code fences around the JSON are ignored.
func ParseReply(reply string) ([]models.Suggestion, error) {
	body := strings.TrimSpace(reply)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	}

	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidSuggestion, err)
	}
	if obj, ok := doc.(map[string]any); ok {
		doc = obj["suggestions"]
	}
	items, ok := doc.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected a list of suggestions", models.ErrInvalidSuggestion)
	}

	out := make([]models.Suggestion, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: item %d is not an object", models.ErrInvalidSuggestion, i)
		}
		op, _ := obj["operation"].(string)
		if op == "" {
			return nil, fmt.Errorf("%w: item %d has no operation", models.ErrInvalidSuggestion, i)
		}
		params := map[string]any{}
		switch p := obj["params"].(type) {
		case nil:
		case map[string]any:
			params = p
		default:
			return nil, fmt.Errorf("%w: item %d params is not an object", models.ErrInvalidSuggestion, i)
		}
		out = append(out, models.Suggestion{Operation: op, Params: params})
	}
	return out, nil
}
