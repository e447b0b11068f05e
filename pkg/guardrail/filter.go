package guardrail

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sundesk/sundesk/internal/config"
	"github.com/sundesk/sundesk/internal/observability"
)

// Direction distinguishes text arriving from the user from text leaving
// toward the user.
type Direction string

const (
	// Inbound is user-authored text entering the orchestrator
	Inbound Direction = "inbound"
	// Outbound is agent-authored text leaving toward the user
	Outbound Direction = "outbound"
)

// Verdict is the policy decision for a piece of text
type Verdict string

const (
	// VerdictAllow passes the text through unchanged
	VerdictAllow Verdict = "allow"
	// VerdictBlock rejects the text entirely
	VerdictBlock Verdict = "block"
	// VerdictRedact passes a scrubbed form of the text
	VerdictRedact Verdict = "redact"
)

// Decision is the outcome of one guardrail check
type Decision struct {
	Verdict Verdict
	// Reason is set for block decisions
	Reason string
	// Text is the redacted form for redact decisions
	Text string
}

// Filter checks text against configured keywords and patterns. It is a
// pure function of its input; callers own trace emission.
type Filter struct {
	enabled  bool
	keywords []string
	blocked  []*regexp.Regexp
	redact   []*regexp.Regexp
}

// New creates a new guardrail filter
func New(cfg config.GuardrailConfig) (*Filter, error) {
	blocked := make([]*regexp.Regexp, 0, len(cfg.BlockedPatterns))
	for _, p := range cfg.BlockedPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid blocked pattern %s: %w", p, err)
		}
		blocked = append(blocked, re)
	}

	redact := make([]*regexp.Regexp, 0, len(cfg.RedactPatterns))
	for _, p := range cfg.RedactPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redact pattern %s: %w", p, err)
		}
		redact = append(redact, re)
	}

	return &Filter{
		enabled:  cfg.Enabled,
		keywords: cfg.BlockedKeywords,
		blocked:  blocked,
		redact:   redact,
	}, nil
}

// Check classifies text for the given direction
func (f *Filter) Check(text string, direction Direction) Decision {
	decision := f.classify(text)
	observability.RecordGuardrailDecision(string(direction), string(decision.Verdict))
	return decision
}

func (f *Filter) classify(text string) Decision {
	if !f.enabled {
		return Decision{Verdict: VerdictAllow}
	}

	normalized := strings.ToLower(text)
	for _, kw := range f.keywords {
		if strings.Contains(normalized, strings.ToLower(kw)) {
			return Decision{
				Verdict: VerdictBlock,
				Reason:  fmt.Sprintf("contains blocked keyword: %s", kw),
			}
		}
	}
	for i, re := range f.blocked {
		if re.MatchString(text) {
			return Decision{
				Verdict: VerdictBlock,
				Reason:  fmt.Sprintf("matches blocked pattern #%d", i+1),
			}
		}
	}

	redacted := text
	hit := false
	for _, re := range f.redact {
		if re.MatchString(redacted) {
			redacted = re.ReplaceAllString(redacted, "[REDACTED]")
			hit = true
		}
	}
	if hit {
		return Decision{Verdict: VerdictRedact, Text: redacted}
	}

	return Decision{Verdict: VerdictAllow}
}
