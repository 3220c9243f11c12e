package services

import (
	"encoding/json"
	"strings"
)

type envelopeChoice struct {
	Content *string `json:"content"`
	Message *struct {
		Content *string `json:"content"`
	} `json:"message"`
}

// envelope covers both the vendor shape {code,msg,data:{choices}} and the
// chat-completions shape {choices:[{message:{content}}]}.
type envelope struct {
	Choices []envelopeChoice `json:"choices"`
	Data    *struct {
		Choices []envelopeChoice `json:"choices"`
	} `json:"data"`
}

// UnwrapEnvelope returns the text content of the first choice when raw is
// a structured API envelope.
func UnwrapEnvelope(raw []byte) (string, bool) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", false
	}

	choices := env.Choices
	if len(choices) == 0 && env.Data != nil {
		choices = env.Data.Choices
	}
	if len(choices) == 0 {
		return "", false
	}

	first := choices[0]
	switch {
	case first.Content != nil:
		return *first.Content, true
	case first.Message != nil && first.Message.Content != nil:
		return *first.Message.Content, true
	default:
		return "", false
	}
}

// ExtractJSON pulls the most plausible JSON payload out of model output.
// Order: envelope content, then the span from the first '[' or '{' to the
// last matching closer, then the input unchanged.
func ExtractJSON(input string) string {
	if content, ok := UnwrapEnvelope([]byte(input)); ok {
		return extractSpan(content)
	}
	return extractSpan(input)
}

func extractSpan(input string) string {
	start := strings.IndexAny(input, "[{")
	if start < 0 {
		return input
	}

	closer := byte('}')
	if input[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(input, closer)
	if end <= start {
		return input
	}
	return input[start : end+1]
}

// CleanFences strips markdown code fences and surrounding whitespace.
// Applying it twice yields the same result as applying it once.
func CleanFences(input string) string {
	result := strings.ReplaceAll(input, "```json", "")
	result = strings.ReplaceAll(result, "```", "")
	return strings.TrimSpace(result)
}
