package retrieval

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/tmc/langchaingo/llms/ollama"
)

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	Model   string
	BaseURL string // Ollama server URL
}

// OllamaEmbedder embeds text through a local Ollama server.
type OllamaEmbedder struct {
	model string
	llm   *ollama.LLM
}

// NewOllamaEmbedder connects an embedder to the configured server.
func NewOllamaEmbedder(cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text:latest"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	llm, err := ollama.New(ollama.WithModel(cfg.Model), ollama.WithServerURL(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("initialize ollama embedder: %w", err)
	}
	return &OllamaEmbedder{model: cfg.Model, llm: llm}, nil
}

func (e *OllamaEmbedder) Model() string { return e.model }

func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := e.llm.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	return vecs, nil
}

// HashEmbedder maps text to a fixed-size bag-of-words vector using feature
// hashing. It needs no model server, so offline runs and tests can build and
// query an index with it.
type HashEmbedder struct {
	Dim int
}

// HashModel is the model name recorded for hash-embedded indexes.
const HashModel = "feature-hash-v1"

func (e HashEmbedder) Model() string { return fmt.Sprintf("%s/%d", HashModel, e.dim()) }

func (e HashEmbedder) dim() int {
	if e.Dim <= 0 {
		return 256
	}
	return e.Dim
}

func (e HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e HashEmbedder) vector(text string) []float32 {
	dim := e.dim()
	v := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if len(w) < 2 {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(w))
		sum := h.Sum32()
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		v[int(sum>>1)%dim] += sign
	}
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	if s > 0 {
		n := float32(math.Sqrt(s))
		for i := range v {
			v[i] /= n
		}
	}
	return v
}
