package bus

import (
	"strings"

	"github.com/google/uuid"
)

// Subjects builds the hierarchical subject names used by the agent.
// Patterns use "*" as the trailing wildcard, which the transports map to
// their native pattern syntax.
type Subjects struct {
	Prefix       string
	DialogPrefix string
}

// NewSubjects returns the subject layout for the given prefixes.
func NewSubjects(prefix, dialogPrefix string) Subjects {
	return Subjects{Prefix: prefix, DialogPrefix: dialogPrefix}
}

// Commands is the subscription pattern covering all command subjects.
func (s Subjects) Commands() string { return s.Prefix + ".commands.*" }

// CommandFor is the subject a specific command type is published on.
func (s Subjects) CommandFor(commandType string) string {
	return s.Prefix + ".commands." + commandType
}

// Queries is the subscription pattern covering all query subjects.
func (s Subjects) Queries() string { return s.Prefix + ".queries.*" }

// QueryFor is the subject a specific query type is published on.
func (s Subjects) QueryFor(queryType string) string {
	return s.Prefix + ".queries." + queryType
}

// Events is the subscription pattern covering all event subjects.
func (s Subjects) Events() string { return s.Prefix + ".events.*" }

// EventFor is the subject a specific event type is published on.
func (s Subjects) EventFor(eventType string) string {
	return s.Prefix + ".events." + eventType
}

// ErrorEvents is the subject failed-command events are published on.
func (s Subjects) ErrorEvents() string { return s.Prefix + ".events.error" }

// Health is the request-reply health check subject.
func (s Subjects) Health() string { return s.Prefix + ".health" }

// Dialogs is the subscription pattern covering all dialog sessions.
func (s Subjects) Dialogs() string { return s.DialogPrefix + ".*" }

// DialogFor is the subject for a specific session.
func (s Subjects) DialogFor(sessionID string) string {
	return s.DialogPrefix + "." + sessionID
}

// DialogSession extracts the session id from a dialog subject. Returns ""
// when the subject does not belong to the dialog prefix.
func (s Subjects) DialogSession(subject string) string {
	rest, ok := strings.CutPrefix(subject, s.DialogPrefix+".")
	if !ok {
		return ""
	}
	return rest
}

// NewInbox returns a unique reply subject for request-reply correlation.
func (s Subjects) NewInbox() string {
	return s.Prefix + ".replies." + uuid.NewString()
}
