package parser

import (
	"regexp"
	"strings"

	"github.com/dgallion1/adgmcheck/internal/doctree"
)

// signatureWindow is how many trailing clauses of a section are inspected.
const signatureWindow = 6

// One pattern per signal kind: marker, name, title, date.
var signatureSignals = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(signed|signature|executed by|for and on behalf of)\b|_{4,}|\bby:\s`),
	regexp.MustCompile(`(?i)\b(full\s+)?name\s*:`),
	regexp.MustCompile(`(?i)\b(title|designation|capacity|position)\s*:|\b(director|authori[sz]ed signatory|company secretary|chairman|chairperson)\b`),
	regexp.MustCompile(`(?i)\bdate(d)?\s*:|\b\d{1,2}[/.-]\d{1,2}[/.-]\d{2,4}\b|\b\d{1,2}(st|nd|rd|th)?\s+(january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{4}\b`),
}

var signatureMarker = signatureSignals[0]

// DetectSignature reports whether any section ends with a signature block:
// at least two distinct kinds of signature signal (marker, name, title,
// date) among the heading and trailing clauses of one section.
func DetectSignature(tree *doctree.DocTree) bool {
	found := false
	tree.Walk(func(s *doctree.Section, _ []string) {
		if found {
			return
		}
		clauses := s.Clauses
		if len(clauses) > signatureWindow {
			clauses = clauses[len(clauses)-signatureWindow:]
		}
		lines := []string{s.Heading}
		for _, c := range clauses {
			lines = append(lines, c.Text)
		}
		found = signatureKinds(strings.Join(lines, "\n")) >= 2
	})
	return found
}

// HasSignatureMarker reports whether text mentions signing at all.
func HasSignatureMarker(text string) bool {
	return signatureMarker.MatchString(text)
}

func signatureKinds(text string) int {
	n := 0
	for _, sig := range signatureSignals {
		if sig.MatchString(text) {
			n++
		}
	}
	return n
}
