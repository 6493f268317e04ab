package retrieval

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CorpusClient fetches published index snapshots from the corpus service.
type CorpusClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewCorpusClient(baseURL, apiKey string) *CorpusClient {
	return &CorpusClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

// FetchSnapshot downloads the snapshot at GET /snapshots/{version}.
// An empty version fetches the latest.
func (c *CorpusClient) FetchSnapshot(ctx context.Context, version string) (Snapshot, error) {
	if version == "" {
		version = "latest"
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/snapshots/"+version, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return Snapshot{}, fmt.Errorf("%w: snapshot %s not found", ErrIndexUnavailable, version)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Snapshot{}, fmt.Errorf("fetch snapshot %s: status %d: %s", version, resp.StatusCode, string(respBody))
	}
	return ReadSnapshot(resp.Body)
}

// Close releases idle connections.
func (c *CorpusClient) Close() {
	c.httpClient.CloseIdleConnections()
}
