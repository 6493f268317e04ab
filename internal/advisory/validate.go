package advisory

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/adgmcheck/internal/finding"
)

// injectionPattern catches model output that echoes instructions planted in
// a document. Legal wording such as "act as director" or "overrides clause 4"
// must still pass.
var injectionPattern = regexp.MustCompile(
	`(?i)(ignore\s+(previous|all|above)|system\s*prompt|you\s+are\s+now|` +
		`act\s+as\s+(an?\s+)?(\w+\s+)?(ai|assistant|language\s+model|chatbot)\b|pretend\s+(to\s+be|you)|` +
		`forget\s+(everything|all)|override\s+(your|the|all|previous)\s+(instructions|rules)|` +
		`new\s+instructions)`,
)

// Pre-compiled patterns for pulling JSON out of model output.
var (
	codeBlockRe     = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")
	jsonObjectRe    = regexp.MustCompile(`(?s)\{.*\}`)
	jsonArrayRe     = regexp.MustCompile(`(?s)\[.*\]`)
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

const (
	minDescription   = 3
	maxDescription   = 500
	maxSuggestion    = 1000
	truncationSuffix = "..."
)

type rawFinding struct {
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Suggestion  string `json:"suggestion"`
}

// ParseResponse decodes a model answer into validated findings. It accepts
// {"issues": [...]} or a bare list, optionally fenced in a code block, and
// tolerates trailing commas. Findings that fail ValidateFinding are dropped.
// Output that holds no JSON at all is an ErrAnalysisFailed.
func ParseResponse(text string) ([]Finding, error) {
	raw := extractJSON(stripCodeBlock(text))
	if raw == "" {
		return nil, fmt.Errorf("%w: no json in response: %s", ErrAnalysisFailed, truncate(text, 200))
	}

	var items []rawFinding
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return nil, fmt.Errorf("%w: parse issues json: %v", ErrAnalysisFailed, err)
		}
	} else {
		var envelope struct {
			Issues []rawFinding `json:"issues"`
		}
		if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
			return nil, fmt.Errorf("%w: parse issues json: %v", ErrAnalysisFailed, err)
		}
		items = envelope.Issues
	}

	out := make([]Finding, 0, len(items))
	for _, it := range items {
		sev, err := finding.ParseSeverity(it.Severity)
		if err != nil {
			continue
		}
		f := Finding{
			Description: strings.TrimSpace(it.Description),
			Severity:    sev,
			Suggestion:  strings.TrimSpace(it.Suggestion),
		}
		if ValidateFinding(&f) {
			out = append(out, f)
		}
	}
	return out, nil
}

// ValidateFinding checks a finding for validity. Returns true if valid.
// Over-long suggestions are truncated rather than rejected.
func ValidateFinding(f *Finding) bool {
	if f == nil {
		return false
	}
	n := utf8.RuneCountInString(strings.TrimSpace(f.Description))
	if n < minDescription || n > maxDescription {
		return false
	}
	if !f.Severity.Valid() {
		return false
	}
	if injectionPattern.MatchString(f.Description) || injectionPattern.MatchString(f.Suggestion) {
		return false
	}
	if utf8.RuneCountInString(f.Suggestion) > maxSuggestion {
		f.Suggestion = string([]rune(f.Suggestion)[:maxSuggestion]) + truncationSuffix
	}
	return true
}

func stripCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if m := codeBlockRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}

// extractJSON returns the outermost object or list in s, whichever starts
// first, with trailing commas removed.
func extractJSON(s string) string {
	obj := jsonObjectRe.FindStringIndex(s)
	arr := jsonArrayRe.FindStringIndex(s)
	var loc []int
	switch {
	case obj != nil && (arr == nil || obj[0] < arr[0]):
		loc = obj
	case arr != nil:
		loc = arr
	default:
		return ""
	}
	return trailingCommaRe.ReplaceAllString(s[loc[0]:loc[1]], "$1")
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + truncationSuffix
}
