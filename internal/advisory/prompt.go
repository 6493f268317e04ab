package advisory

import (
	"fmt"
	"strings"
)

const SystemPrompt = `You review clauses of legal documents filed in the Abu Dhabi Global Market (ADGM) for compliance with ADGM regulations. You assist a reviewer; you do not certify compliance.`

const CritiquePrompt = `Review the clause below against the ADGM reference passages. Report only concrete problems the passages support: wrong jurisdiction, missing mandatory content, conflicts with the cited regulation, or wording too vague to be enforceable.

Return a JSON object with a single field "issues", a list of objects with these fields:

- "description": what is wrong, in one sentence (string, max 300 chars)
- "severity": one of "Critical", "High", "Medium", "Low"
- "suggestion": replacement wording or the fix to apply (string)

Rules:
- Do not repeat the clause text back
- Do not raise issues the reference passages do not support
- Return {"issues": []} if the clause has no problems

Respond with ONLY the JSON object, no other text.`

// maxPassageChars bounds each evidence passage quoted into a prompt.
const maxPassageChars = 1200

// BuildPrompt renders the user prompt for req: instructions, document
// context, numbered reference passages, then the clause.
func BuildPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString(CritiquePrompt)
	sb.WriteString("\n\n---\n")
	if req.DocumentType != "" {
		sb.WriteString(fmt.Sprintf("Document type: %s\n", req.DocumentType))
	}
	if loc := req.Location.String(); loc != "" {
		sb.WriteString(fmt.Sprintf("Location: %s\n", loc))
	}
	sb.WriteString("---\n")
	if len(req.Evidence) == 0 {
		sb.WriteString("Reference passages: none available\n")
	} else {
		sb.WriteString("Reference passages:\n")
		for i, p := range req.Evidence {
			sb.WriteString(fmt.Sprintf("[%d] (%s) %s\n", i+1, p.CorpusDocID, truncate(strings.TrimSpace(p.Text), maxPassageChars)))
		}
	}
	sb.WriteString("---\nClause:\n")
	sb.WriteString(strings.TrimSpace(req.ClauseText))
	return sb.String()
}
