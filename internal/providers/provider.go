// Package providers defines the language-model provider interface and
// the HTTP backends implementing it.
package providers

import "context"

// Message is one turn of model context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ModelInfo identifies a provider and model.
type ModelInfo struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// ModelProvider is the interface capability handlers generate text
// through. Implementations must honor ctx cancellation; callers bound
// wall-clock time, not the provider.
type ModelProvider interface {
	// Generate completes a single prompt with no conversation context.
	Generate(ctx context.Context, prompt string) (string, error)

	// GenerateWithContext completes prompt as the next user turn after
	// the given history (system prompt included by the caller).
	GenerateWithContext(ctx context.Context, prompt string, history []Message) (string, error)

	// HealthCheck reports whether the backing service is reachable.
	HealthCheck(ctx context.Context) error

	// Info returns the provider and model identifiers.
	Info() ModelInfo
}
