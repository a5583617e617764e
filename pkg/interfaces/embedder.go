package interfaces

import "context"

// Embedder converts text into a fixed length vector
type Embedder interface {
	// Embed returns the embedding of text
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the vector length, 0 if unknown until the first call
	Dimensions() int
}

// Admission decides whether a new memory may be stored
type Admission interface {
	Evaluate(ctx context.Context, input *AdmissionInput) (*AdmissionResult, error)
}

// AdmissionInput is the document evaluated by an admission policy
type AdmissionInput struct {
	Content    string         `json:"content"`
	Collection string         `json:"collection"`
	Tags       []string       `json:"tags"`
	UserID     string         `json:"user_id"`
	Metadata   map[string]any `json:"metadata"`
}

// AdmissionResult is the decision of an admission policy
type AdmissionResult struct {
	Deny []string `json:"deny"`
	Tags []string `json:"tags"`
}
