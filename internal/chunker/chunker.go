package chunker

import (
	"strings"

	"github.com/dgallion1/adgmcheck/internal/doctree"
)

// Config sizes chunks in estimated tokens.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	MinChunk     int // Smaller chunks are dropped
}

// DefaultConfig suits long-form regulations and guidance.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    1500,
		ChunkOverlap: 200,
		MinChunk:     100,
	}
}

// ChunkTree walks a DocTree and produces structure-aware chunks. Each
// section's clauses are chunked together under the section's heading path.
func ChunkTree(tree *doctree.DocTree, cfg Config) []doctree.Chunk {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1500
	}
	if cfg.ChunkOverlap <= 0 {
		cfg.ChunkOverlap = 200
	}
	if cfg.MinChunk <= 0 {
		cfg.MinChunk = 100
	}

	var chunks []doctree.Chunk
	tree.Walk(func(s *doctree.Section, path []string) {
		text, first, last := sectionText(s)
		if text == "" {
			return
		}
		bc := breadcrumb(path)

		parts := []string{text}
		if EstimateTokens(text) > cfg.ChunkSize {
			parts = splitText(text, cfg.ChunkSize, cfg.ChunkOverlap)
		}
		for _, part := range parts {
			if EstimateTokens(part) < cfg.MinChunk {
				continue
			}
			chunks = append(chunks, doctree.Chunk{
				Text:       part,
				Index:      len(chunks),
				Breadcrumb: copyBreadcrumb(bc),
				PageStart:  first,
				PageEnd:    last,
			})
		}
	})

	return chunks
}

// sectionText joins a section's clauses as paragraphs and reports the page
// span they came from.
func sectionText(s *doctree.Section) (string, int, int) {
	var paras []string
	first, last := 0, 0
	for _, c := range s.Clauses {
		t := strings.TrimSpace(c.Text)
		if t == "" {
			continue
		}
		paras = append(paras, t)
		if c.Page > 0 {
			if first == 0 {
				first = c.Page
			}
			last = c.Page
		}
	}
	return strings.Join(paras, "\n\n"), first, last
}

// breadcrumb drops the empty headings of untitled preamble sections.
func breadcrumb(path []string) []string {
	var out []string
	for _, h := range path {
		if h != "" {
			out = append(out, h)
		}
	}
	return out
}

// splitText packs paragraphs into chunks of about target tokens. Paragraphs
// that are too large on their own are packed sentence by sentence.
func splitText(text string, target, overlap int) []string {
	var out []string
	var pending []string
	flush := func() {
		if len(pending) > 0 {
			out = append(out, pack(pending, "\n\n", target, overlap)...)
			pending = nil
		}
	}
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if EstimateTokens(para) > target {
			flush()
			out = append(out, pack(splitSentences(para), " ", target, overlap)...)
			continue
		}
		pending = append(pending, para)
	}
	flush()
	return out
}

// pack greedily joins units with sep until the next one would pass target.
// Each new chunk opens with the trailing overlap tokens of the previous one.
func pack(units []string, sep string, target, overlap int) []string {
	var out []string
	var b strings.Builder
	tokens := 0
	for _, u := range units {
		n := EstimateTokens(u)
		if tokens > 0 && tokens+n > target {
			prev := b.String()
			out = append(out, prev)
			b.Reset()
			tokens = 0
			if tail := tailWords(prev, overlap); tail != "" {
				b.WriteString(tail)
				tokens = EstimateTokens(tail)
			}
		}
		if b.Len() > 0 {
			b.WriteString(sep)
		}
		b.WriteString(u)
		tokens += n
	}
	if tokens > 0 {
		out = append(out, b.String())
	}
	return out
}

// Abbreviations common in legislation that end in a period mid-sentence.
var abbreviations = map[string]bool{
	"art.": true, "no.": true, "reg.": true, "regs.": true, "sec.": true,
	"s.": true, "cl.": true, "para.": true, "e.g.": true, "i.e.": true,
	"ltd.": true, "co.": true, "inc.": true, "pjsc.": true, "vs.": true,
}

// splitSentences splits on terminal punctuation followed by a space, except
// after a known abbreviation.
func splitSentences(text string) []string {
	var out []string
	words := strings.Fields(text)
	start := 0
	for i, w := range words {
		last := w[len(w)-1]
		if last != '.' && last != '!' && last != '?' {
			continue
		}
		if last == '.' && abbreviations[strings.ToLower(w)] {
			continue
		}
		out = append(out, strings.Join(words[start:i+1], " "))
		start = i + 1
	}
	if start < len(words) {
		out = append(out, strings.Join(words[start:], " "))
	}
	return out
}

// tailWords returns roughly the last tokens worth of text, or "" when text
// is no longer than that.
func tailWords(text string, tokens int) string {
	words := strings.Fields(text)
	n := wordsForTokens(tokens)
	if n <= 0 || len(words) <= n {
		return ""
	}
	return strings.Join(words[len(words)-n:], " ")
}

func copyBreadcrumb(bc []string) []string {
	if len(bc) == 0 {
		return nil
	}
	out := make([]string, len(bc))
	copy(out, bc)
	return out
}
