package capability

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cimlabs/alchemist/internal/dispatch"
)

type workflowTemplate struct {
	name  string
	steps []string
}

// workflowTemplates is the closed set of guided workflows. guide_workflow
// with any other workflow_type is a payload error.
var workflowTemplates = map[string]workflowTemplate{
	"create_agent": {
		name: "Create a new agent",
		steps: []string{
			"Define the agent's capabilities and operations",
			"Choose the bus subjects the agent listens on",
			"Implement command and query handlers",
			"Wire a model provider and health reporting",
			"Deploy and verify with a health query",
		},
	},
	"implement_domain": {
		name: "Implement a new domain",
		steps: []string{
			"Model the bounded context and its ubiquitous language",
			"Define aggregates, value objects, and domain events",
			"Implement command handlers with invariant checks",
			"Add projections for the query side",
			"Write event-sourced tests against the aggregate",
		},
	},
	"add_event": {
		name: "Add a domain event",
		steps: []string{
			"Name the event in past tense within its domain",
			"Define the event payload as immutable data",
			"Emit the event from the owning aggregate",
			"Update projections that consume the event",
			"Version the event schema if it already shipped",
		},
	},
}

type workflowRun struct {
	id           string
	workflowType string
	currentStep  int
	startedAt    time.Time
	lastAdvance  time.Time
}

// Workflows tracks in-flight guided workflows. Runs live for the process
// lifetime only, matching dialog sessions.
type Workflows struct {
	mu   sync.Mutex
	runs map[string]*workflowRun
	now  func() time.Time
}

// NewWorkflows creates the workflow capability.
func NewWorkflows() *Workflows {
	return &Workflows{
		runs: make(map[string]*workflowRun),
		now:  time.Now,
	}
}

// Guide handles guide_workflow. Passing a workflow_id advances an
// existing run to its next step; omitting it starts a new run.
func (w *Workflows) Guide(ctx context.Context, body map[string]any) (map[string]any, error) {
	workflowType, _ := body["workflow_type"].(string)
	tpl, ok := workflowTemplates[workflowType]
	if !ok {
		return nil, dispatch.NewError(dispatch.KindInvalidPayload, false, "unknown workflow_type %q", workflowType)
	}

	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()

	var run *workflowRun
	if id, _ := body["workflow_id"].(string); id != "" {
		run, ok = w.runs[id]
		if !ok {
			return nil, dispatch.NewError(dispatch.KindInvalidPayload, false, "unknown workflow_id %q", id)
		}
		if run.currentStep < len(tpl.steps)-1 {
			run.currentStep++
		}
		run.lastAdvance = now
	} else {
		run = &workflowRun{
			id:           uuid.NewString(),
			workflowType: workflowType,
			startedAt:    now,
			lastAdvance:  now,
		}
		w.runs[run.id] = run
	}

	return w.statusLocked(run, tpl), nil
}

// Status handles get_workflow_status.
func (w *Workflows) Status(ctx context.Context, body map[string]any) (map[string]any, error) {
	id, _ := body["workflow_id"].(string)

	w.mu.Lock()
	defer w.mu.Unlock()

	run, ok := w.runs[id]
	if !ok {
		return nil, dispatch.NewError(dispatch.KindSessionNotFound, false, "workflow %q not found", id)
	}
	return w.statusLocked(run, workflowTemplates[run.workflowType]), nil
}

// statusLocked builds the wire payload for a run. Caller holds w.mu.
func (w *Workflows) statusLocked(run *workflowRun, tpl workflowTemplate) map[string]any {
	total := len(tpl.steps)
	done := run.currentStep
	completed := run.currentStep >= total-1

	progress := 0
	if total > 0 {
		progress = done * 100 / total
	}
	if completed {
		progress = 100
	}

	return map[string]any{
		"workflow_id":   run.id,
		"workflow_type": run.workflowType,
		"name":          tpl.name,
		"current_step":  run.currentStep + 1,
		"total_steps":   total,
		"step":          tpl.steps[run.currentStep],
		"steps":         tpl.steps,
		"progress":      progress,
		"completed":     completed,
		"started_at":    run.startedAt.UTC().Format(time.RFC3339),
	}
}
