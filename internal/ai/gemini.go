// Package ai provides the embedding and text-generation providers backed by
// Gemini, behind small interfaces so the data layer can be tested with fakes.
package ai

import (
	"context"
	"fmt"

	"github.com/widgetbase/server/internal/models"
	"google.golang.org/genai"
)

const (
	embeddingModel  = "gemini-embedding-001"
	generationModel = "gemini-2.5-flash-lite"
)

// Gemini implements batch embedding at a fixed output dimension and prompt
// completion. One client is shared process-wide.
type Gemini struct {
	client *genai.Client
	dim    int32
}

func NewGemini(ctx context.Context, apiKey string, dim int) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Gemini{client: client, dim: int32(dim)}, nil
}

// EmbedBatch embeds all texts in a single provider call and returns one
// vector per input, in order.
func (g *Gemini) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	dim := g.dim
	res, err := g.client.Models.EmbedContent(ctx, embeddingModel, contents,
		&genai.EmbedContentConfig{OutputDimensionality: &dim})
	if err != nil {
		return nil, &models.UpstreamError{Op: "embed", Err: err}
	}

	vectors := make([][]float32, 0, len(res.Embeddings))
	for _, e := range res.Embeddings {
		vectors = append(vectors, e.Values)
	}
	return vectors, nil
}

// Generate completes a prompt with the generation model.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	res, err := g.client.Models.GenerateContent(ctx, generationModel, genai.Text(prompt), nil)
	if err != nil {
		return "", &models.UpstreamError{Op: "generate", Err: err}
	}
	return res.Text(), nil
}
