package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// GroupProposalResponse is the structured answer to ProposeGroupsPrompt.
type GroupProposalResponse struct {
	Groups []GroupResponse `json:"groups" jsonschema_description:"Higher-level groups that together cover every input cluster"`
}

// GroupResponse is one proposed parent group.
type GroupResponse struct {
	Name        string `json:"name" jsonschema_description:"Short imperative label of at most ten words"`
	Description string `json:"description" jsonschema_description:"Two sentences in the past tense describing what the group covers"`
}

// ParentChoiceResponse is the structured answer to ResolveParentPrompt.
type ParentChoiceResponse struct {
	Reasoning  string `json:"reasoning" jsonschema_description:"Brief reasoning about which group fits best"`
	ParentName string `json:"parent_name" jsonschema_description:"The chosen group name copied exactly from the list"`
}

// ParentSynthesisResponse is the structured answer to SynthesizeParentPrompt.
type ParentSynthesisResponse struct {
	Name        string `json:"name" jsonschema_description:"Short imperative label of at most ten words"`
	Description string `json:"description" jsonschema_description:"Two sentences in the past tense summarizing the children"`
}

// Schemas for the engine's structured calls.
var (
	GroupProposalSchema   = GenerateSchema[GroupProposalResponse]()
	ParentChoiceSchema    = GenerateSchema[ParentChoiceResponse]()
	ParentSynthesisSchema = GenerateSchema[ParentSynthesisResponse]()
)

// extractJSON extracts the first valid JSON object from a string that may contain extra text.
// This handles cases where LLMs add explanations before/after the JSON despite instructions.
func extractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text
	}

	// Find the matching closing brace, ignoring braces inside strings.
	braceCount := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		char := text[i]

		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}

		if !inString {
			switch char {
			case '{':
				braceCount++
			case '}':
				braceCount--
				if braceCount == 0 {
					return text[start : i+1]
				}
			}
		}
	}

	return text
}

// DecodeStructured decodes model output into out. The fast path accepts the
// text as-is; otherwise the first balanced JSON object is extracted. Any
// failure is reported as ErrMalformedOutput.
func DecodeStructured(text string, out any) error {
	s := strings.TrimSpace(text)
	if s == "" {
		return fmt.Errorf("%w: empty output", ErrMalformedOutput)
	}

	if err := json.Unmarshal([]byte(s), out); err == nil {
		return nil
	}

	sub := extractJSON(s)
	if err := json.Unmarshal([]byte(sub), out); err != nil {
		return fmt.Errorf("%w: %v (len=%d)", ErrMalformedOutput, err, len(s))
	}
	return nil
}
