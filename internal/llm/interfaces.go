package llm

import "context"

// TextGenerator is the interface for plain LLM text completion.
// Providers without native structured output implement only this and are
// adapted with TextStructuredGenerator.
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GetModel() string
}

// StructuredRequest is a single schema-constrained generation request.
type StructuredRequest struct {
	// Name identifies the response shape ("ProposedGroups", "ParentChoice").
	Name string
	// Instructions is the system-level task description.
	Instructions string
	// Prompt is the user-level input.
	Prompt string
	// Schema is the JSON schema the response must satisfy, see GenerateSchema.
	Schema map[string]any
	// MaxOutputTokens overrides the client default when positive.
	MaxOutputTokens int
}

// StructuredGenerator produces a JSON document matching req.Schema and
// decodes it into out. Errors are classified with the package sentinels
// (ErrTimeout, ErrMalformedOutput, ErrRateLimited, ErrCircuitOpen,
// ErrTransport) so callers can use errors.Is.
type StructuredGenerator interface {
	GenerateStructured(ctx context.Context, req StructuredRequest, out any) error
	GetModel() string
}

// Embedder generates vector embeddings, one per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	GetModel() string
}
