package ai

import "context"

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Embedder maps text into the fixed-dimension vector space of one model
// identity. Build-time and query-time embeddings must come from the same
// ModelID or retrieval silently degrades.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ModelID() string
}

// Generator turns an assembled prompt into response text. Output may vary
// between calls by design (sampling).
type Generator interface {
	Complete(ctx context.Context, messages []ChatMessage) (string, error)
}

// Streamer is the incremental counterpart of Generator: onChunk receives
// each delta as it arrives and the full concatenated response is returned
// at the end.
type Streamer interface {
	StreamComplete(ctx context.Context, messages []ChatMessage, onChunk func(chunk string) error) (string, error)
}
