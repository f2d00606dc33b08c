package capability

import (
	"context"
	"log"
	"time"

	"github.com/cimlabs/alchemist/internal/dispatch"
	"github.com/cimlabs/alchemist/internal/providers"
	"github.com/cimlabs/alchemist/internal/session"
)

// Dialog runs conversational turns over the session manager. It records
// the user message, builds the model context from recent history, and
// records the assistant reply on success.
type Dialog struct {
	Sessions *session.Manager
	Provider providers.ModelProvider
	AgentID  string
}

// NewDialog creates the dialog capability.
func NewDialog(sessions *session.Manager, p providers.ModelProvider, agentID string) *Dialog {
	return &Dialog{Sessions: sessions, Provider: p, AgentID: agentID}
}

// Respond implements dispatch.DialogHandler.
func (d *Dialog) Respond(ctx context.Context, sessionID, sender, content string, metadata map[string]any) (string, error) {
	if created := d.Sessions.GetOrCreate(sessionID); created {
		log.Printf("[Dialog] new session %s", sessionID)
	}

	if err := d.Sessions.Append(sessionID, sender, content); err != nil {
		return "", err
	}

	entries, err := d.Sessions.Context(sessionID)
	if err != nil {
		return "", err
	}

	// The user turn just appended becomes the prompt; everything before
	// it is prior context.
	if len(entries) > 0 {
		entries = entries[:len(entries)-1]
	}
	history := make([]providers.Message, 0, len(entries)+1)
	history = append(history, providers.Message{Role: "system", Content: systemPrompt})
	for _, e := range entries {
		history = append(history, providers.Message{Role: roleFor(e.Sender, d.AgentID), Content: e.Content})
	}

	reply, err := d.Provider.GenerateWithContext(ctx, content, history)
	if err != nil {
		return "", dispatch.NewError(dispatch.KindHandlerFailure, true, "model generation failed: %v", err)
	}

	if err := d.Sessions.Append(sessionID, d.AgentID, reply); err != nil {
		// Session expired mid-turn; the reply still goes out.
		log.Printf("[Dialog] could not record reply for session %s: %v", sessionID, err)
	}
	return reply, nil
}

// History handles get_dialog_history.
func (d *Dialog) History(ctx context.Context, body map[string]any) (map[string]any, error) {
	id, _ := body["dialog_id"].(string)

	entries, err := d.Sessions.History(id)
	if err != nil {
		return nil, err
	}

	messages := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		messages = append(messages, map[string]any{
			"sender":    e.Sender,
			"content":   e.Content,
			"timestamp": e.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	return map[string]any{
		"dialog_id": id,
		"messages":  messages,
		"count":     len(messages),
	}, nil
}

func roleFor(sender, agentID string) string {
	if sender == agentID {
		return "assistant"
	}
	return "user"
}
