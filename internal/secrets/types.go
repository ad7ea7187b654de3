// Package secrets detects sensitive values in incoming text, stores them
// encrypted at rest, and controls when handlers may see their plaintext.
package secrets

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"actcore/internal/types"
)

var (
	// ErrRateLimited is returned when an accessor exceeds its retrieval window.
	ErrRateLimited = errors.New("secret access rate limit exceeded")
	// ErrNotFound is returned for unknown secret ids.
	ErrNotFound = errors.New("secret not found")
)

// Sensitivity tiers a secret.
type Sensitivity string

const (
	SensitivityLow      Sensitivity = "LOW"
	SensitivityMedium   Sensitivity = "MEDIUM"
	SensitivityHigh     Sensitivity = "HIGH"
	SensitivityCritical Sensitivity = "CRITICAL"
)

// ParseSensitivity accepts any casing.
func ParseSensitivity(s string) (Sensitivity, error) {
	sens := Sensitivity(strings.ToUpper(strings.TrimSpace(s)))
	switch sens {
	case SensitivityLow, SensitivityMedium, SensitivityHigh, SensitivityCritical:
		return sens, nil
	}
	return "", fmt.Errorf("unknown sensitivity %q", s)
}

// DefaultPolicy returns the action types allowed to auto-decapsulate a
// secret of the given sensitivity. CRITICAL secrets never auto-decapsulate.
func DefaultPolicy(s Sensitivity) []types.ActionType {
	switch s {
	case SensitivityHigh:
		return []types.ActionType{types.ActionTool}
	case SensitivityMedium:
		return []types.ActionType{types.ActionTool, types.ActionSpeak}
	case SensitivityLow:
		return []types.ActionType{types.ActionTool, types.ActionSpeak, types.ActionMemorize}
	}
	return []types.ActionType{}
}

// AccessAction is recorded in the access log.
type AccessAction string

const (
	AccessStore   AccessAction = "STORE"
	AccessView    AccessAction = "VIEW"
	AccessDecrypt AccessAction = "DECRYPT"
	AccessDelete  AccessAction = "DELETE"
	AccessRotate  AccessAction = "ROTATE"
)

// DetectedSecret is a sensitive value found in text, before storage.
type DetectedSecret struct {
	ID              string
	OriginalValue   string
	ReplacementText string
	Pattern         string
	Description     string
	Sensitivity     Sensitivity
	ContextHint     string
}

// SecretInfo is secret metadata without key material.
type SecretInfo struct {
	ID                 string             `json:"secret_id"`
	Description        string             `json:"description"`
	Sensitivity        Sensitivity        `json:"sensitivity"`
	DetectedPattern    string             `json:"detected_pattern"`
	ContextHint        string             `json:"context_hint,omitempty"`
	SourceID           string             `json:"source_id,omitempty"`
	AutoDecapsulateFor []types.ActionType `json:"auto_decapsulate_for"`
	ManualAccessOnly   bool               `json:"manual_access_only"`
	CreatedAt          time.Time          `json:"created_at"`
	LastAccessed       *time.Time         `json:"last_accessed,omitempty"`
	AccessCount        int                `json:"access_count"`
}

// Allows reports whether action may auto-decapsulate this secret.
func (i SecretInfo) Allows(action types.ActionType) bool {
	if i.ManualAccessOnly || i.Sensitivity == SensitivityCritical {
		return false
	}
	for _, a := range i.AutoDecapsulateFor {
		if a == action {
			return true
		}
	}
	return false
}

// SecretRecord is a stored secret including its ciphertext.
type SecretRecord struct {
	SecretInfo
	EncryptedValue []byte `json:"-"`
	Salt           []byte `json:"-"`
	Nonce          []byte `json:"-"`
	KeyRef         string `json:"key_ref"`
}

// AccessLogEntry is one append-only access log row.
type AccessLogEntry struct {
	ID            int64        `json:"id"`
	SecretID      string       `json:"secret_id"`
	Action        AccessAction `json:"action"`
	Accessor      string       `json:"accessor"`
	Purpose       string       `json:"purpose"`
	Timestamp     time.Time    `json:"timestamp"`
	Success       bool         `json:"success"`
	FailureReason string       `json:"failure_reason,omitempty"`
}

// ListFilter narrows List. Empty fields match everything.
type ListFilter struct {
	Sensitivity Sensitivity
	Pattern     string
}

// Stats summarizes the store.
type Stats struct {
	Total         int                 `json:"total"`
	BySensitivity map[Sensitivity]int `json:"by_sensitivity"`
	AccessLogSize int                 `json:"access_log_size"`
	FailedAccess  int                 `json:"failed_access"`
	KeyRef        string              `json:"key_ref"`
}
