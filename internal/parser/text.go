package parser

import (
	"bufio"
	"io"
	"regexp"
	"strings"
	"unicode"

	"github.com/dgallion1/adgmcheck/internal/doctree"
)

// TextParser handles plain text files. Headings are inferred from numbering,
// ARTICLE/SECTION markers and all-caps lines; pipe or tab separated blocks become tables.
type TextParser struct{}

func (p *TextParser) Parse(r io.Reader, filename string) (*doctree.DocTree, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	b := doctree.NewBuilder(baseTitle(filename))
	buildText(b, lines, 0)
	return b.Tree(), nil
}

var (
	markerHeading   = regexp.MustCompile(`(?i)^(article|section|part|schedule|chapter|annex)\s+([0-9]+|[ivxlc]+)\b`)
	numberedHeading = regexp.MustCompile(`^(\d+(?:\.\d+)*)\.?\s+([A-Z][^.;:]{0,80})$`)
	labelHeading    = regexp.MustCompile(`^[A-Z][A-Za-z0-9 ,/&'()-]{1,60}:$`)
	tableSeparator  = regexp.MustCompile(`^[\s|:+-]+$`)
)

// buildText feeds blank-line separated blocks of lines into b.
func buildText(b *doctree.Builder, lines []string, page int) {
	var block []string
	flush := func() {
		if len(block) > 0 {
			addBlock(b, block, page)
			block = nil
		}
	}
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		block = append(block, strings.TrimRight(line, " \t\r"))
	}
	flush()
}

func addBlock(b *doctree.Builder, block []string, page int) {
	if rows, ok := tableRows(block); ok {
		b.Table(rows)
		return
	}

	var para []string
	flushPara := func() {
		if len(para) > 0 {
			b.Paragraph(strings.Join(para, "\n"), page)
			para = nil
		}
	}
	for i, line := range block {
		trimmed := strings.TrimSpace(line)
		if level := headingLevel(trimmed); level > 0 {
			flushPara()
			b.Heading(level, trimmed)
			continue
		}
		// A numbered line inside a block starts a new clause.
		if i > 0 && len(para) > 0 && doctree.ClauseRef(trimmed) != "" {
			flushPara()
		}
		para = append(para, trimmed)
	}
	flushPara()
}

// headingLevel returns the inferred heading level of a single line, or 0.
func headingLevel(line string) int {
	if len(line) > 100 {
		return 0
	}
	if markerHeading.MatchString(line) {
		return 1
	}
	if m := numberedHeading.FindStringSubmatch(line); m != nil && len(strings.Fields(m[2])) <= 6 {
		return strings.Count(m[1], ".") + 1
	}
	if isAllCaps(line) {
		return 1
	}
	if labelHeading.MatchString(line) && len(strings.Fields(line)) <= 6 {
		return 2
	}
	return 0
}

func isAllCaps(line string) bool {
	if strings.ContainsAny(line, ":_") {
		return false
	}
	letters := 0
	for _, r := range line {
		if unicode.IsLetter(r) {
			if unicode.IsLower(r) {
				return false
			}
			letters++
		}
	}
	return letters >= 4 && len(strings.Fields(line)) <= 12
}

// tableRows splits a block into cells when every line is pipe or tab delimited.
func tableRows(block []string) ([][]string, bool) {
	if len(block) < 2 {
		return nil, false
	}
	sep := ""
	switch {
	case allContain(block, "|"):
		sep = "|"
	case allContain(block, "\t"):
		sep = "\t"
	default:
		return nil, false
	}
	var rows [][]string
	for _, line := range block {
		if sep == "|" && tableSeparator.MatchString(line) {
			continue
		}
		line = strings.TrimSpace(line)
		if sep == "|" {
			line = strings.TrimSuffix(strings.TrimPrefix(line, "|"), "|")
		}
		var cells []string
		for _, c := range strings.Split(line, sep) {
			cells = append(cells, strings.TrimSpace(c))
		}
		rows = append(rows, cells)
	}
	return rows, true
}

func allContain(lines []string, sep string) bool {
	for _, l := range lines {
		if !strings.Contains(l, sep) {
			return false
		}
	}
	return true
}
