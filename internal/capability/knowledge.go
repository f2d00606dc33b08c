// Package capability implements the agent's domain collaborators:
// concept explanation, architecture visualization, workflow guidance,
// and dialog turns. Handlers receive decoded payloads and never touch
// the bus directly.
package capability

// conceptNames is the catalog answered by list_concepts.
var conceptNames = []string{
	"Event Sourcing",
	"CQRS",
	"Domain-Driven Design",
	"Entity Component System",
	"Conceptual Spaces",
	"Graph Workflows",
	"NATS Messaging",
	"CID Chains",
	"Aggregate",
	"Value Object",
	"Domain Event",
	"Command Handler",
	"Query Handler",
	"Projection",
	"Bounded Context",
}

var relatedConcepts = map[string][]string{
	"Event Sourcing":       {"CQRS", "Event Store", "Domain Events"},
	"Domain-Driven Design": {"Bounded Context", "Aggregate", "Ubiquitous Language"},
}

var conceptExamples = map[string][]string{
	"Event Sourcing": {
		"GraphEvent::NodeAdded in the graph domain",
		"PersonEvent::ContactAdded in the person domain",
	},
}

var similarConcepts = map[string][]string{
	"Event Sourcing":       {"Event Store", "Event Stream", "CQRS"},
	"Domain-Driven Design": {"Bounded Context", "Aggregate", "Value Object"},
	"Graph Workflows":      {"Workflow Engine", "Process Automation", "Visual Programming"},
}

// systemPrompt sets the assistant's persona for dialog turns.
const systemPrompt = "You are the Alchemist, an AI assistant specialized in helping users " +
	"understand and work with the Composable Information Machine (CIM) architecture. " +
	"Your expertise includes event-driven architecture with event sourcing and CQRS, " +
	"Domain-Driven Design principles and patterns, Entity Component Systems, " +
	"graph-based workflows, conceptual spaces for semantic understanding, and " +
	"NATS messaging in distributed systems. Provide clear, accurate explanations, " +
	"use examples from real codebases when relevant, and always be helpful, " +
	"precise, and educational in your responses."

func relatedFor(concept string) []string {
	if r, ok := relatedConcepts[concept]; ok {
		return r
	}
	return []string{}
}

func examplesFor(concept string) []string {
	if e, ok := conceptExamples[concept]; ok {
		return e
	}
	return []string{}
}

func similarFor(concept string) []string {
	if s, ok := similarConcepts[concept]; ok {
		return s
	}
	return []string{}
}
