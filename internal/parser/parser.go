package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dgallion1/adgmcheck/internal/doctree"
)

// ErrUnparsable marks a document whose bytes could not be turned into structured content.
var ErrUnparsable = errors.New("unparsable document")

// Parser converts raw document bytes into a DocTree.
type Parser interface {
	Parse(r io.Reader, filename string) (*doctree.DocTree, error)
}

// Options tune format-specific behaviour.
type Options struct {
	PDFFallbackPdftotext bool
}

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".csv":      true,
	".html":     true,
	".htm":      true,
	".pdf":      true,
	".docx":     true,
}

// ForFile returns the appropriate parser for a filename.
func ForFile(filename string, opts Options) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt":
		return &TextParser{}, nil
	case ".md", ".markdown":
		return &MarkdownParser{}, nil
	case ".csv":
		return &CSVParser{}, nil
	case ".html", ".htm":
		return &HTMLParser{}, nil
	case ".pdf":
		return &PDFParser{FallbackPdftotext: opts.PDFFallbackPdftotext}, nil
	case ".docx":
		return &DOCXParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported file extension: %q", ext)
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return SupportedExtensions[ext]
}

// Extract parses data into structured content and flags signature blocks.
// Every failure wraps ErrUnparsable.
func Extract(data []byte, filename string, opts Options) (*doctree.DocTree, error) {
	p, err := ForFile(filename, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnparsable, filename, err)
	}
	tree, err := parseSafely(p, data, filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnparsable, filename, err)
	}
	tree.SignatureBlock = DetectSignature(tree)
	return tree, nil
}

// parseSafely converts parser panics on malformed containers into errors.
func parseSafely(p Parser, data []byte, filename string) (tree *doctree.DocTree, err error) {
	defer func() {
		if r := recover(); r != nil {
			tree, err = nil, fmt.Errorf("parser panic: %v", r)
		}
	}()
	return p.Parse(bytes.NewReader(data), filename)
}

func baseTitle(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
