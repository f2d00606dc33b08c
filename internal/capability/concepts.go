package capability

import (
	"context"
	"fmt"
	"strings"

	"github.com/cimlabs/alchemist/internal/dispatch"
	"github.com/cimlabs/alchemist/internal/providers"
)

// Concepts explains and catalogs architecture concepts through the model.
type Concepts struct {
	Provider providers.ModelProvider
}

// NewConcepts creates the concept capability.
func NewConcepts(p providers.ModelProvider) *Concepts {
	return &Concepts{Provider: p}
}

// Explain handles explain_concept.
func (c *Concepts) Explain(ctx context.Context, body map[string]any) (map[string]any, error) {
	concept, _ := body["concept"].(string)

	prompt := fmt.Sprintf(
		"Explain the CIM concept %q in detail, including its purpose, "+
			"how it fits into the overall architecture, and provide examples.",
		concept)
	explanation, err := c.Provider.Generate(ctx, prompt)
	if err != nil {
		return nil, dispatch.NewError(dispatch.KindHandlerFailure, true, "model generation failed: %v", err)
	}

	return map[string]any{
		"concept":          concept,
		"explanation":      explanation,
		"related_concepts": relatedFor(concept),
		"examples":         examplesFor(concept),
	}, nil
}

// List handles list_concepts.
func (c *Concepts) List(ctx context.Context, body map[string]any) (map[string]any, error) {
	return map[string]any{
		"concepts": conceptNames,
		"total":    len(conceptNames),
	}, nil
}

// FindSimilar handles find_similar_concepts.
func (c *Concepts) FindSimilar(ctx context.Context, body map[string]any) (map[string]any, error) {
	concept, _ := body["concept"].(string)
	return map[string]any{
		"concept": concept,
		"similar": similarFor(concept),
	}, nil
}

// AnalyzePattern handles analyze_pattern.
func (c *Concepts) AnalyzePattern(ctx context.Context, body map[string]any) (map[string]any, error) {
	patternType, _ := body["pattern_type"].(string)
	if patternType == "" {
		patternType = "general"
	}
	code, _ := body["code"].(string)

	prompt := fmt.Sprintf(
		"Analyze this %s pattern in the context of CIM architecture:\n\n%s\n\n"+
			"Identify strengths, potential issues, and suggest improvements as a bulleted list.",
		patternType, code)
	analysis, err := c.Provider.Generate(ctx, prompt)
	if err != nil {
		return nil, dispatch.NewError(dispatch.KindHandlerFailure, true, "model generation failed: %v", err)
	}

	return map[string]any{
		"pattern_type":    patternType,
		"analysis":        analysis,
		"recommendations": parseRecommendations(analysis),
	}, nil
}

// parseRecommendations pulls bullet lines out of a model response,
// falling back to standing advice when the model produced none.
func parseRecommendations(response string) []string {
	var recs []string
	for _, line := range strings.Split(response, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") {
			recs = append(recs, strings.TrimSpace(trimmed[2:]))
		}
	}
	if len(recs) == 0 {
		return []string{
			"Consider using event sourcing for state changes",
			"Ensure proper separation between commands and queries",
			"Add appropriate error handling",
		}
	}
	return recs
}
