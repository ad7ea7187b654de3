package config

import "fmt"

// HandlerConfig tunes the action handlers.
type HandlerConfig struct {
	// Follow-up depth cap
	MaxThoughtDepth int `yaml:"max_thought_depth" json:"max_thought_depth"`

	// Active observe fetch cap
	ObserveMessageLimit int `yaml:"observe_message_limit" json:"observe_message_limit"`

	// Serialized recall payload size before truncation
	RecallMaxPayload int `yaml:"recall_max_payload" json:"recall_max_payload"`

	// Search/list limit when a recall names none
	RecallDefaultLimit int `yaml:"recall_default_limit" json:"recall_default_limit"`

	// Concurrent recall queries issued by an active observe
	ObserveRecallWorkers int `yaml:"observe_recall_workers" json:"observe_recall_workers"`
}

// DefaultHandlerConfig returns the default handler configuration.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		MaxThoughtDepth:      7,
		ObserveMessageLimit:  50,
		RecallMaxPayload:     10000,
		RecallDefaultLimit:   10,
		ObserveRecallWorkers: 4,
	}
}

// Validate checks that handler limits are within acceptable ranges.
func (c HandlerConfig) Validate() error {
	if c.MaxThoughtDepth < 1 {
		return fmt.Errorf("handlers.max_thought_depth must be >= 1")
	}
	if c.ObserveMessageLimit < 1 {
		return fmt.Errorf("handlers.observe_message_limit must be >= 1")
	}
	if c.RecallMaxPayload < 100 {
		return fmt.Errorf("handlers.recall_max_payload must be >= 100")
	}
	if c.RecallDefaultLimit < 1 {
		return fmt.Errorf("handlers.recall_default_limit must be >= 1")
	}
	if c.ObserveRecallWorkers < 1 {
		return fmt.Errorf("handlers.observe_recall_workers must be >= 1")
	}
	return nil
}
