package capability

import (
	"context"
	"fmt"

	"github.com/cimlabs/alchemist/internal/dispatch"
	"github.com/cimlabs/alchemist/internal/providers"
)

// Visualizer renders textual architecture diagrams for
// visualize_architecture commands.
type Visualizer struct {
	Provider providers.ModelProvider
}

// NewVisualizer creates the visualization capability.
func NewVisualizer(p providers.ModelProvider) *Visualizer {
	return &Visualizer{Provider: p}
}

// Visualize handles visualize_architecture. Scope defaults to "overview";
// unknown scopes fall back to the overview diagram rather than failing,
// since the command is advisory.
func (v *Visualizer) Visualize(ctx context.Context, body map[string]any) (map[string]any, error) {
	scope, _ := body["scope"].(string)
	if scope == "" {
		scope = "overview"
	}

	diagram := diagramFor(scope)

	prompt := fmt.Sprintf(
		"Describe the %s view of a CIM (Composable Information Machine) system "+
			"in two or three sentences, suitable as a caption for an ASCII diagram.",
		scope)
	description, err := v.Provider.Generate(ctx, prompt)
	if err != nil {
		return nil, dispatch.NewError(dispatch.KindHandlerFailure, true, "model generation failed: %v", err)
	}

	return map[string]any{
		"scope":       scope,
		"diagram":     diagram,
		"description": description,
		"format":      "ascii",
	}, nil
}

func diagramFor(scope string) string {
	switch scope {
	case "domains":
		return domainsDiagram
	case "events":
		return eventsDiagram
	default:
		return overviewDiagram
	}
}

const overviewDiagram = `+---------------------------------------------+
|                CIM Architecture             |
+---------------------------------------------+
|  Presentation   |  Bevy ECS / egui          |
+-----------------+---------------------------+
|  Application    |  Command & Query Handlers |
+-----------------+---------------------------+
|  Domain         |  Aggregates, Events       |
+-----------------+---------------------------+
|  Infrastructure |  Message Bus, Event Store |
+-----------------+---------------------------+`

const domainsDiagram = `  graph ----- workflow
    |            |
  person ----- agent
    |            |
  location --- dialog
       (bounded contexts,
        events cross borders)`

const eventsDiagram = `command --> [aggregate] --> event --> [event store]
                               |
                               +--> [projection] --> query model
                               |
                               +--> [message bus] --> subscribers`
