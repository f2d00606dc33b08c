// Package config handles configuration loading, saving, and schema definition.
package config

// Config is the top-level alchemist configuration.
// Uses json tags in camelCase to match the JSON config file format.
type Config struct {
	Identity IdentityConfig `json:"identity"`
	Bus      BusConfig      `json:"bus"`
	Model    ModelConfig    `json:"model"`
	Dialog   DialogConfig   `json:"dialog"`
	Service  ServiceConfig  `json:"service"`
}

// IdentityConfig names this agent instance on the bus.
type IdentityConfig struct {
	AgentID string `json:"agentId"`
	Version string `json:"version,omitempty"`
}

// BusConfig holds message bus connection settings.
type BusConfig struct {
	URL           string      `json:"url"`
	Password      string      `json:"password,omitempty"`
	DB            int         `json:"db,omitempty"`
	SubjectPrefix string      `json:"subjectPrefix"`
	DialogPrefix  string      `json:"dialogPrefix"`
	Retry         RetryConfig `json:"retry"`

	// DedupWindowSec bounds how long recently seen envelope ids are
	// remembered for duplicate suppression.
	DedupWindowSec int `json:"dedupWindowSec"`
}

// RetryConfig shapes the reconnect backoff schedule.
type RetryConfig struct {
	MaxAttempts    int     `json:"maxAttempts"`
	InitialDelayMS int     `json:"initialDelayMs"`
	MaxDelaySec    int     `json:"maxDelaySec"`
	Multiplier     float64 `json:"multiplier"`
}

// ModelConfig holds language model provider settings.
type ModelConfig struct {
	BaseURL    string `json:"baseUrl"`
	Model      string `json:"model"`
	TimeoutSec int    `json:"timeoutSec,omitempty"`
}

// DialogConfig bounds dialog session memory.
type DialogConfig struct {
	MaxHistory        int `json:"maxHistory"`
	ContextWindow     int `json:"contextWindow"`
	SessionTimeoutSec int `json:"sessionTimeoutSec"`
	SweepIntervalSec  int `json:"sweepIntervalSec,omitempty"`
}

// ServiceConfig holds runtime settings for the agent process.
type ServiceConfig struct {
	MetricsAddr       string `json:"metricsAddr,omitempty"`
	HandlerTimeoutSec int    `json:"handlerTimeoutSec,omitempty"`
	HealthProbeSec    int    `json:"healthProbeSec,omitempty"`
}

// DefaultConfig returns the built-in defaults. Load starts from these so
// a partial config file only overrides what it names.
func DefaultConfig() Config {
	return Config{
		Identity: IdentityConfig{
			AgentID: "alchemist",
			Version: "0.3.0",
		},
		Bus: BusConfig{
			URL:           "localhost:6379",
			SubjectPrefix: "cim.agent.alchemist",
			DialogPrefix:  "cim.dialog.alchemist",
			Retry: RetryConfig{
				MaxAttempts:    5,
				InitialDelayMS: 100,
				MaxDelaySec:    30,
				Multiplier:     2.0,
			},
			DedupWindowSec: 120,
		},
		Model: ModelConfig{
			BaseURL:    "http://localhost:11434",
			Model:      "vicuna",
			TimeoutSec: 30,
		},
		Dialog: DialogConfig{
			MaxHistory:        100,
			ContextWindow:     10,
			SessionTimeoutSec: 3600,
			SweepIntervalSec:  60,
		},
		Service: ServiceConfig{
			MetricsAddr:       "127.0.0.1:9464",
			HandlerTimeoutSec: 30,
			HealthProbeSec:    30,
		},
	}
}
