package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GenAIEmbedder generates embeddings using Google's Gemini API.
type GenAIEmbedder struct {
	client   *genai.Client
	model    string
	taskType string
	dims     int
}

// NewGenAIEmbedder creates a Gemini embedder. baseURL is optional.
func NewGenAIEmbedder(ctx context.Context, apiKey, model, taskType, baseURL string, dims int) (*GenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIEmbedder{
		client:   client,
		model:    model,
		taskType: genaiTaskType(taskType),
		dims:     dims,
	}, nil
}

// genaiTaskType maps a configured task type onto the values the API accepts.
// Questions are embedded as retrieval queries unless configured otherwise.
func genaiTaskType(taskType string) string {
	switch taskType {
	case "SEMANTIC_SIMILARITY", "CLASSIFICATION", "CLUSTERING",
		"RETRIEVAL_DOCUMENT", "RETRIEVAL_QUERY", "QUESTION_ANSWERING", "FACT_VERIFICATION":
		return taskType
	default:
		return "RETRIEVAL_QUERY"
	}
}

// Embed uses the native batch support of EmbedContent.
func (e *GenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	cfg := &genai.EmbedContentConfig{TaskType: e.taskType}
	if e.dims > 0 {
		d := int32(e.dims)
		cfg.OutputDimensionality = &d
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}

	vecs := make([][]float64, 0, len(result.Embeddings))
	for _, emb := range result.Embeddings {
		if emb == nil {
			vecs = append(vecs, nil)
			continue
		}
		vecs = append(vecs, toFloat64(emb.Values))
	}
	if err := checkBatch(vecs, len(texts), e.dims); err != nil {
		return nil, err
	}
	return vecs, nil
}

// Dimension returns the requested output dimensionality, 0 for the model default.
func (e *GenAIEmbedder) Dimension() int { return e.dims }
