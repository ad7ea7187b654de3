package secrets

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/google/uuid"
)

// Pattern is one detection rule.
type Pattern struct {
	Name        string
	Description string
	Regex       *regexp.Regexp
	Sensitivity Sensitivity
}

// DefaultPatterns returns the built-in detection rules. When a regex has a
// capture group, only the group is treated as the secret.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{
			Name:        "private_key",
			Description: "Private Key",
			Regex:       regexp.MustCompile(`-----BEGIN (?:RSA |EC |OPENSSH |DSA )?PRIVATE KEY-----[\s\S]+?-----END (?:RSA |EC |OPENSSH |DSA )?PRIVATE KEY-----`),
			Sensitivity: SensitivityCritical,
		},
		{
			Name:        "aws_access_key",
			Description: "AWS Access Key",
			Regex:       regexp.MustCompile(`\b(AKIA[0-9A-Z]{16})\b`),
			Sensitivity: SensitivityCritical,
		},
		{
			Name:        "credit_card",
			Description: "Credit Card Number",
			Regex:       regexp.MustCompile(`\b((?:\d{4}[ -]?){3}\d{4})\b`),
			Sensitivity: SensitivityCritical,
		},
		{
			Name:        "github_token",
			Description: "GitHub Token",
			Regex:       regexp.MustCompile(`\b(gh[pousr]_[A-Za-z0-9]{36,})\b`),
			Sensitivity: SensitivityHigh,
		},
		{
			Name:        "connection_string",
			Description: "Database Connection String",
			Regex:       regexp.MustCompile(`\b((?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis)://[^\s:/@]+:[^\s@]+@[^\s]+)`),
			Sensitivity: SensitivityHigh,
		},
		{
			Name:        "bearer_token",
			Description: "Bearer Token",
			Regex:       regexp.MustCompile(`(?i)\bbearer\s+([A-Za-z0-9\-._~+/]{20,}=*)`),
			Sensitivity: SensitivityHigh,
		},
		{
			Name:        "api_key",
			Description: "API Key",
			Regex:       regexp.MustCompile(`(?i)\b(?:api[_-]?key|apikey)\s*[:=]\s*["']?([A-Za-z0-9_\-]{16,})`),
			Sensitivity: SensitivityHigh,
		},
		{
			Name:        "password",
			Description: "Password",
			Regex:       regexp.MustCompile(`(?i)\b(?:password|passwd|pwd)\s*[:=]\s*["']?([^\s"']{6,})`),
			Sensitivity: SensitivityHigh,
		},
	}
}

// Detector finds secrets in free text.
type Detector struct {
	patterns []Pattern
}

// NewDetector creates a detector with the default rules plus extra.
func NewDetector(extra ...Pattern) *Detector {
	return &Detector{patterns: append(DefaultPatterns(), extra...)}
}

// AddPattern registers a custom detection rule.
func (d *Detector) AddPattern(name, description, expr string, sens Sensitivity) error {
	re, err := regexp.Compile(expr)
	if err != nil {
		return fmt.Errorf("invalid pattern %s: %w", name, err)
	}
	d.patterns = append(d.patterns, Pattern{Name: name, Description: description, Regex: re, Sensitivity: sens})
	return nil
}

// Patterns returns the active rules.
func (d *Detector) Patterns() []Pattern {
	return d.patterns
}

// match is a detected secret located in the source text.
type match struct {
	start, end int
	secret     DetectedSecret
}

// Detect returns every secret found in text, in order of appearance.
// Overlapping matches keep the earlier rule.
func (d *Detector) Detect(text string) []DetectedSecret {
	matches := d.locate(text)
	out := make([]DetectedSecret, len(matches))
	for i, m := range matches {
		out[i] = m.secret
	}
	return out
}

// Filter replaces every detected secret in text with its reference.
func (d *Detector) Filter(text string) (string, []DetectedSecret) {
	matches := d.locate(text)
	if len(matches) == 0 {
		return text, nil
	}

	var out []byte
	last := 0
	secrets := make([]DetectedSecret, len(matches))
	for i, m := range matches {
		out = append(out, text[last:m.start]...)
		out = append(out, m.secret.ReplacementText...)
		last = m.end
		secrets[i] = m.secret
	}
	out = append(out, text[last:]...)
	return string(out), secrets
}

func (d *Detector) locate(text string) []match {
	var found []match
	for _, p := range d.patterns {
		for _, idx := range p.Regex.FindAllStringSubmatchIndex(text, -1) {
			start, end := idx[0], idx[1]
			if len(idx) >= 4 && idx[2] >= 0 {
				start, end = idx[2], idx[3]
			}
			if overlaps(found, start, end) {
				continue
			}
			id := uuid.New().String()
			found = append(found, match{
				start: start,
				end:   end,
				secret: DetectedSecret{
					ID:              id,
					OriginalValue:   text[start:end],
					ReplacementText: Reference(id, p.Description),
					Pattern:         p.Name,
					Description:     p.Description,
					Sensitivity:     p.Sensitivity,
					ContextHint:     contextHint(text, start, end),
				},
			})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].start < found[j].start })
	return found
}

func overlaps(found []match, start, end int) bool {
	for _, m := range found {
		if start < m.end && m.start < end {
			return true
		}
	}
	return false
}

// contextHint keeps a little surrounding text with the secret itself removed.
func contextHint(text string, start, end int) string {
	const span = 20
	from := start - span
	if from < 0 {
		from = 0
	}
	to := end + span
	if to > len(text) {
		to = len(text)
	}
	return text[from:start] + "[REDACTED]" + text[end:to]
}
