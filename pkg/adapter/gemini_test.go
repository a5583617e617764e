package adapter_test

import (
	"context"
	"os"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mnemo/pkg/adapter"
	"github.com/m-mizutani/mnemo/pkg/index"
)

func TestGeminiEmbed(t *testing.T) {
	projectID := os.Getenv("TEST_GEMINI_PROJECT")
	if projectID == "" {
		t.Skip("TEST_GEMINI_PROJECT is not set")
	}

	ctx := context.Background()
	client, err := adapter.NewGemini(ctx,
		adapter.WithVertexAI(projectID, "us-central1"),
		adapter.WithDimensions(256),
	)
	gt.NoError(t, err)
	gt.Equal(t, client.Dimensions(), 256)

	cat1, err := client.Embed(ctx, "A cat is sleeping on the sofa")
	gt.NoError(t, err)
	gt.A(t, cat1).Length(256)

	cat2, err := client.Embed(ctx, "The kitten naps on the couch")
	gt.NoError(t, err)
	stock, err := client.Embed(ctx, "Quarterly revenue grew by eight percent")
	gt.NoError(t, err)

	gt.True(t, index.Cosine(cat1, cat2) > index.Cosine(cat1, stock))
}

func TestNewGeminiRequiresCredential(t *testing.T) {
	_, err := adapter.NewGemini(context.Background())
	gt.Error(t, err)
}
