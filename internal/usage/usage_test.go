package usage

import "testing"

func TestNormalizeOpenAIKeys(t *testing.T) {
	u := Normalize(map[string]any{
		"prompt_tokens":     float64(12),
		"completion_tokens": float64(30),
		"total_tokens":      float64(999), // provider total is never trusted
	})
	if u.PromptTokens != 12 || u.CompletionTokens != 30 {
		t.Fatalf("unexpected counts: %+v", u)
	}
	if u.TotalTokens != 42 {
		t.Fatalf("total must be recomputed, got %d", u.TotalTokens)
	}
}

func TestNormalizeAnthropicKeys(t *testing.T) {
	u := Normalize(map[string]any{
		"input_tokens":  float64(7),
		"output_tokens": float64(3),
	})
	if u.PromptTokens != 7 || u.CompletionTokens != 3 || u.TotalTokens != 10 {
		t.Fatalf("unexpected usage: %+v", u)
	}
}

func TestNormalizeMissingOrMalformed(t *testing.T) {
	if u := Normalize(nil); u.TotalTokens != 0 {
		t.Fatalf("nil usage must normalize to zero, got %+v", u)
	}
	u := Normalize(map[string]any{
		"prompt_tokens":     "not-a-number",
		"completion_tokens": float64(5),
	})
	if u.PromptTokens != 0 || u.CompletionTokens != 5 || u.TotalTokens != 5 {
		t.Fatalf("malformed field must count as zero, got %+v", u)
	}
}

func TestAdd(t *testing.T) {
	sum := Add(
		Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		Usage{PromptTokens: 20, CompletionTokens: 7, TotalTokens: 27},
	)
	if sum.PromptTokens != 30 || sum.CompletionTokens != 12 || sum.TotalTokens != 42 {
		t.Fatalf("unexpected sum: %+v", sum)
	}
}
