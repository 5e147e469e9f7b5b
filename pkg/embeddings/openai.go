package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/factweave/factweave/pkg/apperror"
	"github.com/factweave/factweave/pkg/logger"
)

// OpenAIConfig configures the OpenAI-compatible embedding client.
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	RerankModel string
	Timeout     time.Duration
}

// OpenAIClient generates embeddings through an OpenAI-compatible endpoint.
// Rerank goes through the backend's /rerank REST operation, which has no SDK
// surface.
type OpenAIClient struct {
	client openai.Client
	http   *http.Client
	cfg    OpenAIConfig
	log    *slog.Logger
}

// NewOpenAIClient creates an embedding client against cfg.BaseURL.
func NewOpenAIClient(cfg OpenAIConfig, log *slog.Logger) *OpenAIClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithHTTPClient(httpClient),
	)

	return &OpenAIClient{
		client: client,
		http:   httpClient,
		cfg:    cfg,
		log:    log.With(logger.Scope("embeddings")),
	}
}

// EmbedQuery generates an embedding for a single query.
func (c *OpenAIClient) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, err := c.EmbedDocuments(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, apperror.ErrEmbeddingFailure.WithMessage("empty embedding response")
	}
	return vectors[0], nil
}

// EmbedDocuments generates embeddings for multiple documents in one batch.
func (c *OpenAIClient) EmbedDocuments(ctx context.Context, documents []string) ([][]float32, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(c.cfg.Model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: documents,
		},
	})
	if err != nil {
		return nil, apperror.ErrEmbeddingFailure.WithInternal(err)
	}
	if len(resp.Data) != len(documents) {
		return nil, apperror.ErrEmbeddingFailure.WithMessage(
			fmt.Sprintf("expected %d embeddings, got %d", len(documents), len(resp.Data)))
	}

	vectors := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		vectors[int(d.Index)] = vec
	}
	return vectors, nil
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank scores documents against the query via the /rerank endpoint and
// returns them sorted by score descending.
func (c *OpenAIClient) Rerank(ctx context.Context, query string, documents []string) ([]RankedDoc, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(rerankRequest{
		Model:     c.cfg.RerankModel,
		Query:     query,
		Documents: documents,
	})
	if err != nil {
		return nil, err
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/rerank"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperror.ErrEmbeddingFailure.WithMessage("rerank request failed").WithInternal(err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperror.ErrEmbeddingFailure.WithMessage("rerank response read failed").WithInternal(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperror.ErrEmbeddingFailure.WithMessage(
			fmt.Sprintf("rerank returned status %d", resp.StatusCode))
	}

	var parsed rerankResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, apperror.ErrEmbeddingFailure.WithMessage("rerank response parse failed").WithInternal(err)
	}

	ranked := make([]RankedDoc, len(parsed.Results))
	for i, r := range parsed.Results {
		ranked[i] = RankedDoc{Index: r.Index, Score: r.RelevanceScore}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	return ranked, nil
}
