package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/dgallion1/adgmcheck/internal/doctree"
)

// CSVParser handles CSV files such as registers exported from a spreadsheet.
// The file becomes one table, plus one section of "header: value" row summaries
// so clause-level checks can see the content.
type CSVParser struct{}

func (p *CSVParser) Parse(r io.Reader, filename string) (*doctree.DocTree, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	title := baseTitle(filename)
	b := doctree.NewBuilder(title)
	if len(records) == 0 {
		return b.Tree(), nil
	}
	b.Table(records)

	// First row is headers.
	headers := records[0]
	b.Heading(1, title)
	for _, row := range records[1:] {
		var text strings.Builder
		for j, cell := range row {
			if j > 0 {
				text.WriteString(", ")
			}
			if j < len(headers) {
				text.WriteString(headers[j] + ": " + cell)
			} else {
				text.WriteString(cell)
			}
		}
		b.Paragraph(text.String(), 0)
	}
	return b.Tree(), nil
}
