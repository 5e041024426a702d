package usage

// Usage is the canonical token accounting shape. TotalTokens is always the
// sum of the two counted fields, never a value reported by a provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Normalize converts any usage shape a backend may return into the canonical
// form. Missing or non-numeric fields count as zero. Providers disagree on
// field names, so both the OpenAI-style and the input/output-style keys are
// accepted.
func Normalize(raw map[string]any) Usage {
	prompt := firstCount(raw, "prompt_tokens", "input_tokens")
	completion := firstCount(raw, "completion_tokens", "output_tokens")
	return Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// Add sums two usage snapshots, recomputing the total.
func Add(left, right Usage) Usage {
	prompt := left.PromptTokens + right.PromptTokens
	completion := left.CompletionTokens + right.CompletionTokens
	return Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

func firstCount(raw map[string]any, keys ...string) int {
	for _, key := range keys {
		value, exists := raw[key]
		if !exists {
			continue
		}
		if count, ok := asCount(value); ok {
			return count
		}
	}
	return 0
}

func asCount(value any) (int, bool) {
	switch typed := value.(type) {
	case int:
		return typed, true
	case int64:
		return int(typed), true
	case float64:
		return int(typed), true
	default:
		return 0, false
	}
}
