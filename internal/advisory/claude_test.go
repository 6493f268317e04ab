package advisory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/dgallion1/adgmcheck/internal/finding"
	"github.com/dgallion1/adgmcheck/internal/retrieval"
)

func sampleRequest() Request {
	return Request{
		DocumentID:   "aoa.docx",
		DocumentType: "Articles of Association",
		Location:     finding.Location{Section: "3. Governing Law", Clause: "3.1", Position: 4},
		ClauseText:   "Any dispute shall be referred to the Dubai Courts.",
		Evidence: []retrieval.Passage{
			{CorpusDocID: "companies-regs-art6", Text: "The ADGM Courts have jurisdiction.", Similarity: 0.91},
		},
	}
}

func TestClaudeCritic_Critique(t *testing.T) {
	var gotReq anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{
				"type": "text",
				"text": `{"issues":[{"description":"Disputes go to Dubai Courts, not ADGM Courts.","severity":"High","suggestion":"Refer disputes to the ADGM Courts."}]}`,
			}},
		})
	}))
	defer srv.Close()

	c := NewClaudeCritic("test-key", "claude-test").WithBaseURL(srv.URL)
	defer c.Close()

	got, err := c.Critique(context.Background(), sampleRequest())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, finding.High, got[0].Severity)

	assert.Equal(t, "claude-test", gotReq.Model)
	assert.Equal(t, SystemPrompt, gotReq.System)
	require.Len(t, gotReq.Messages, 1)
	prompt := gotReq.Messages[0].Content
	assert.Contains(t, prompt, "Dubai Courts")
	assert.Contains(t, prompt, "[1] (companies-regs-art6)")
	assert.Contains(t, prompt, "3. Governing Law / 3.1")
}

func TestClaudeCritic_RetryableStatus(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusBadGateway} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":{"type":"overloaded","message":"busy"}}`))
		}))
		c := NewClaudeCritic("k", "m").WithBaseURL(srv.URL)
		_, err := c.Critique(context.Background(), sampleRequest())
		srv.Close()

		require.Error(t, err)
		assert.True(t, IsRetryable(err), "status %d should be retryable", status)
	}
}

func TestClaudeCritic_ClientErrorNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewClaudeCritic("k", "m").WithBaseURL(srv.URL).Critique(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
}

func TestClaudeCritic_EmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":[]}`))
	}))
	defer srv.Close()

	_, err := NewClaudeCritic("k", "m").WithBaseURL(srv.URL).Critique(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, ErrAnalysisFailed)
}

type fakeModel struct {
	reply    string
	err      error
	messages []llms.MessageContent
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return m.reply, m.err
}

func TestModelCritic_Critique(t *testing.T) {
	model := &fakeModel{reply: `{"issues":[{"description":"Clause names the wrong court.","severity":"critical","suggestion":"Name the ADGM Courts."}]}`}
	c := NewModelCritic(model, OllamaConfig{Model: "fake"})

	got, err := c.Critique(context.Background(), sampleRequest())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, finding.Critical, got[0].Severity)
	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)

	model.err = errors.New("connection refused")
	_, err = c.Critique(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "connection refused"))
}

func TestBuildPrompt_NoEvidence(t *testing.T) {
	req := sampleRequest()
	req.Evidence = nil
	assert.Contains(t, BuildPrompt(req), "Reference passages: none available")
}
