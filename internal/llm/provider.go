package llm

import "context"

// Provider abstracts a single LLM vendor (OpenAI, Anthropic).
type Provider interface {
	ChatCompletionStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error)
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error)
	Name() string
}

// Gateway routes requests across configured providers with fallback and
// retry. The chat stream it returns is finite and one-shot: once consumed it
// cannot be replayed, a new request is required.
type Gateway interface {
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error)
	Embed(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error)
}

// Message is a single role-tagged chat turn.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

type ChatRequest struct {
	Provider    string    `json:"provider,omitempty"`
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// StreamChunk is one fragment of a streaming completion. A chunk with Done
// set closes the stream; Error, when non-nil, reports abnormal termination.
type StreamChunk struct {
	Content string `json:"content,omitempty"`
	Done    bool   `json:"done"`
	Error   error  `json:"-"`
}

type EmbeddingRequest struct {
	Provider string   `json:"provider,omitempty"`
	Model    string   `json:"model"`
	Input    []string `json:"input"`
}

type EmbeddingResponse struct {
	Provider   string      `json:"provider"`
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
	Tokens     int         `json:"tokens"`
}
