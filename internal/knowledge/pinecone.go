package knowledge

import (
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/vectorstores/pinecone"
)

// PineconeConfig configures the production knowledge store.
type PineconeConfig struct {
	APIKey         string
	Host           string
	Namespace      string
	OpenAIAPIKey   string
	EmbeddingModel string
}

// NewPineconeStore builds a Pinecone vector store with OpenAI embeddings.
func NewPineconeStore(cfg PineconeConfig) (pinecone.Store, error) {
	if cfg.APIKey == "" || cfg.Host == "" {
		return pinecone.Store{}, errors.New("pinecone api key and host are required")
	}

	opts := []openai.Option{openai.WithToken(cfg.OpenAIAPIKey)}
	if cfg.EmbeddingModel != "" {
		opts = append(opts, openai.WithEmbeddingModel(cfg.EmbeddingModel))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return pinecone.Store{}, fmt.Errorf("failed to create embedding client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return pinecone.Store{}, fmt.Errorf("failed to create embedder: %w", err)
	}

	storeOpts := []pinecone.Option{
		pinecone.WithHost(cfg.Host),
		pinecone.WithEmbedder(embedder),
		pinecone.WithAPIKey(cfg.APIKey),
	}
	if cfg.Namespace != "" {
		storeOpts = append(storeOpts, pinecone.WithNameSpace(cfg.Namespace))
	}

	store, err := pinecone.New(storeOpts...)
	if err != nil {
		return pinecone.Store{}, fmt.Errorf("failed to create pinecone store: %w", err)
	}
	return store, nil
}
