package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllama_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "vicuna", body["model"])
		assert.Equal(t, false, body["stream"])
		json.NewEncoder(w).Encode(map[string]any{"response": "Event Sourcing stores state as events."})
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, "vicuna", 0)
	out, err := o.Generate(context.Background(), "Explain Event Sourcing")
	require.NoError(t, err)
	assert.Equal(t, "Event Sourcing stores state as events.", out)
}

func TestOllama_GenerateWithContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		var body struct {
			Messages []Message `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Messages, 3)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, "user", body.Messages[2].Role)
		assert.Equal(t, "and CQRS?", body.Messages[2].Content)
		json.NewEncoder(w).Encode(map[string]any{
			"message": Message{Role: "assistant", Content: "CQRS splits reads from writes."},
		})
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, "vicuna", 0)
	history := []Message{
		{Role: "system", Content: "You are the Alchemist."},
		{Role: "assistant", Content: "Happy to help."},
	}
	out, err := o.GenerateWithContext(context.Background(), "and CQRS?", history)
	require.NoError(t, err)
	assert.Equal(t, "CQRS splits reads from writes.", out)
}

func TestOllama_HealthCheck(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	o := NewOllama(healthy.URL, "vicuna", 0)
	assert.NoError(t, o.HealthCheck(context.Background()))

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	o = NewOllama(broken.URL, "vicuna", 0)
	assert.Error(t, o.HealthCheck(context.Background()))
}

func TestOllama_GenerateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, "vicuna", 0)
	_, err := o.Generate(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 500")
}
