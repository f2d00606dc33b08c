package capability

import (
	"context"

	"github.com/cimlabs/alchemist/internal/dispatch"
	"github.com/cimlabs/alchemist/internal/providers"
	"github.com/cimlabs/alchemist/internal/session"
)

// Registry bundles the capabilities and exposes the dispatch handler table.
type Registry struct {
	Concepts   *Concepts
	Visualizer *Visualizer
	Workflows  *Workflows
	Dialog     *Dialog
}

// NewRegistry wires every capability against the shared provider and
// session manager.
func NewRegistry(p providers.ModelProvider, sessions *session.Manager, agentID string) *Registry {
	return &Registry{
		Concepts:   NewConcepts(p),
		Visualizer: NewVisualizer(p),
		Workflows:  NewWorkflows(),
		Dialog:     NewDialog(sessions, p, agentID),
	}
}

// Handlers returns the closed operation table for the dispatcher.
func (r *Registry) Handlers() map[dispatch.Op]dispatch.Handler {
	return map[dispatch.Op]dispatch.Handler{
		dispatch.OpExplainConcept:        r.Concepts.Explain,
		dispatch.OpVisualizeArchitecture: r.Visualizer.Visualize,
		dispatch.OpGuideWorkflow:         r.Workflows.Guide,
		dispatch.OpAnalyzePattern:        r.Concepts.AnalyzePattern,
		dispatch.OpListConcepts:          r.Concepts.List,
		dispatch.OpFindSimilarConcepts:   r.Concepts.FindSimilar,
		dispatch.OpGetDialogHistory:      r.Dialog.History,
		dispatch.OpGetWorkflowStatus:     r.Workflows.Status,
		dispatch.OpGetCapabilities:       r.capabilities,
	}
}

// capabilities handles get_capabilities with a static advertisement.
func (r *Registry) capabilities(ctx context.Context, body map[string]any) (map[string]any, error) {
	info := r.Concepts.Provider.Info()
	return map[string]any{
		"commands": []string{
			"explain_concept",
			"visualize_architecture",
			"guide_workflow",
			"analyze_pattern",
		},
		"queries": []string{
			"list_concepts",
			"find_similar_concepts",
			"get_dialog_history",
			"get_workflow_status",
			"get_capabilities",
		},
		"model": map[string]any{
			"provider": info.Provider,
			"model":    info.Model,
		},
		"dialog": true,
	}, nil
}
