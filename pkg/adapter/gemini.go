package adapter

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// Gemini computes embeddings with the Gemini embedding API
type Gemini struct {
	client         *genai.Client
	embeddingModel string
	dimensions     int32
	taskType       string
}

type geminiConfig struct {
	projectID      string
	location       string
	apiKey         string
	embeddingModel string
	dimensions     int32
	taskType       string
}

type GeminiOption func(*geminiConfig)

// WithVertexAI uses the Vertex AI backend of the given project and location
func WithVertexAI(projectID, location string) GeminiOption {
	return func(cfg *geminiConfig) {
		cfg.projectID = projectID
		cfg.location = location
	}
}

// WithAPIKey uses the Gemini Developer API with an API key
func WithAPIKey(apiKey string) GeminiOption {
	return func(cfg *geminiConfig) {
		cfg.apiKey = apiKey
	}
}

func WithEmbeddingModel(model string) GeminiOption {
	return func(cfg *geminiConfig) {
		cfg.embeddingModel = model
	}
}

// WithDimensions sets the output dimensionality of embedding vectors
func WithDimensions(n int) GeminiOption {
	return func(cfg *geminiConfig) {
		cfg.dimensions = int32(n)
	}
}

// WithTaskType sets the embedding task type, e.g. SEMANTIC_SIMILARITY
func WithTaskType(taskType string) GeminiOption {
	return func(cfg *geminiConfig) {
		cfg.taskType = taskType
	}
}

func NewGemini(ctx context.Context, opts ...GeminiOption) (*Gemini, error) {
	cfg := &geminiConfig{
		embeddingModel: "gemini-embedding-001",
		dimensions:     768,
		taskType:       "SEMANTIC_SIMILARITY",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	clientCfg := &genai.ClientConfig{}
	switch {
	case cfg.apiKey != "":
		clientCfg.APIKey = cfg.apiKey
		clientCfg.Backend = genai.BackendGeminiAPI
	case cfg.projectID != "":
		clientCfg.Project = cfg.projectID
		clientCfg.Location = cfg.location
		clientCfg.Backend = genai.BackendVertexAI
	default:
		return nil, goerr.New("either API key or Vertex AI project is required for Gemini")
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}

	return &Gemini{
		client:         client,
		embeddingModel: cfg.embeddingModel,
		dimensions:     cfg.dimensions,
		taskType:       cfg.taskType,
	}, nil
}

func (g *Gemini) Dimensions() int {
	return int(g.dimensions)
}

func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	dim := g.dimensions
	resp, err := g.client.Models.EmbedContent(ctx, g.embeddingModel, genai.Text(text), &genai.EmbedContentConfig{
		TaskType:             g.taskType,
		OutputDimensionality: &dim,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed content", goerr.V("model", g.embeddingModel))
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, goerr.New("no embedding returned", goerr.V("model", g.embeddingModel))
	}

	// truncated outputs of gemini-embedding-001 are not normalized
	values := resp.Embeddings[0].Values
	normalize(values)
	return values, nil
}
