package secrets

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"actcore/internal/logging"
	"actcore/internal/types"
)

var referencePattern = regexp.MustCompile(`\{SECRET:([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}):([^}]*)\}`)

// Reference formats the opaque placeholder that replaces a secret in text.
func Reference(id, description string) string {
	return fmt.Sprintf("{SECRET:%s:%s}", id, description)
}

// ParseReferences returns the secret ids referenced in text.
func ParseReferences(text string) []string {
	var ids []string
	for _, m := range referencePattern.FindAllStringSubmatch(text, -1) {
		ids = append(ids, m[1])
	}
	return ids
}

// Service ties detection, storage and policy-gated decapsulation together.
type Service struct {
	store    *Store
	detector *Detector
}

// NewService creates a secrets service. A nil detector uses the defaults.
func NewService(store *Store, detector *Detector) *Service {
	if detector == nil {
		detector = NewDetector()
	}
	return &Service{store: store, detector: detector}
}

// Store returns the underlying store.
func (s *Service) Store() *Store {
	return s.store
}

// ProcessIncomingText stores every secret found in text and returns the
// text with each secret replaced by its reference.
func (s *Service) ProcessIncomingText(ctx context.Context, text, sourceID string) (string, []SecretInfo, error) {
	filtered, detected := s.detector.Filter(text)
	if len(detected) == 0 {
		return text, nil, nil
	}

	stored := make([]SecretInfo, 0, len(detected))
	for _, d := range detected {
		rec, err := s.store.StoreSecret(ctx, d, sourceID)
		if err != nil {
			return "", nil, fmt.Errorf("failed to store detected %s: %w", d.Pattern, err)
		}
		stored = append(stored, rec.SecretInfo)
	}
	logging.Secrets("Detected and stored %d secrets from %s", len(stored), sourceID)
	return filtered, stored, nil
}

// DecapsulateParameters returns a copy of params in which every secret
// reference that action may see is replaced with plaintext. References the
// policy does not allow stay opaque. Each unwrap is a rate-limited,
// logged DECRYPT access by accessor. On error the returned map still
// holds every replacement that succeeded.
func (s *Service) DecapsulateParameters(ctx context.Context, action types.ActionType, params map[string]any, accessor string) (map[string]any, error) {
	if params == nil {
		return nil, nil
	}
	var errs []error
	out, _ := s.walk(ctx, action, params, accessor, &errs).(map[string]any)
	return out, errors.Join(errs...)
}

func (s *Service) walk(ctx context.Context, action types.ActionType, v any, accessor string, errs *[]error) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = s.walk(ctx, action, item, accessor, errs)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = s.walk(ctx, action, item, accessor, errs)
		}
		return out
	case string:
		return s.decapsulateString(ctx, action, val, accessor, errs)
	}
	return v
}

func (s *Service) decapsulateString(ctx context.Context, action types.ActionType, text, accessor string, errs *[]error) string {
	if !referencePattern.MatchString(text) {
		return text
	}
	return referencePattern.ReplaceAllStringFunc(text, func(ref string) string {
		id := referencePattern.FindStringSubmatch(ref)[1]

		info, err := s.store.Info(ctx, id)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("secret %s: %w", id, err))
			return ref
		}
		if !info.Allows(action) {
			logging.SecretsDebug("Secret %s (%s) not decapsulated for %s", id, info.Sensitivity, action)
			return ref
		}

		rec, err := s.store.Retrieve(ctx, id, accessor, "auto-decapsulate for "+string(action), true)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("secret %s: %w", id, err))
			return ref
		}
		plaintext, ok := s.store.DecryptSecretValue(rec)
		if !ok {
			*errs = append(*errs, fmt.Errorf("secret %s: decryption failed", id))
			return ref
		}
		return plaintext
	})
}

var _ types.SecretsDecapsulator = (*Service)(nil)
