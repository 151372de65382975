package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// TextStructuredGenerator adapts a plain TextGenerator to StructuredGenerator
// by appending the schema to the prompt and extracting JSON from the reply.
type TextStructuredGenerator struct {
	gen TextGenerator
}

// NewTextStructuredGenerator wraps gen.
func NewTextStructuredGenerator(gen TextGenerator) *TextStructuredGenerator {
	return &TextStructuredGenerator{gen: gen}
}

// GenerateStructured implements StructuredGenerator.
func (t *TextStructuredGenerator) GenerateStructured(ctx context.Context, req StructuredRequest, out any) error {
	prompt, err := schemaPrompt(req)
	if err != nil {
		return err
	}
	text, err := t.gen.Complete(ctx, prompt)
	if err != nil {
		return err
	}
	return DecodeStructured(text, out)
}

// GetModel returns the wrapped generator's model.
func (t *TextStructuredGenerator) GetModel() string {
	return t.gen.GetModel()
}

func schemaPrompt(req StructuredRequest) (string, error) {
	schema, err := json.MarshalIndent(req.Schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal schema: %w", err)
	}

	var b strings.Builder
	if req.Instructions != "" {
		b.WriteString(req.Instructions)
		b.WriteString("\n\n")
	}
	b.WriteString(req.Prompt)
	b.WriteString("\n\nOUTPUT: ONLY valid JSON. NO markdown. NO code blocks.\n")
	b.WriteString("Your response MUST be a single JSON object matching this schema:\n")
	b.Write(schema)
	b.WriteString("\n")
	return b.String(), nil
}

var _ StructuredGenerator = (*TextStructuredGenerator)(nil)
