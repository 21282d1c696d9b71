package llm

import "testing"

func TestUsageFromInfo(t *testing.T) {
	tests := []struct {
		name string
		info map[string]any
		want TokenUsage
	}{
		{"anthropic style", map[string]any{"InputTokens": 120, "OutputTokens": 45}, TokenUsage{120, 45}},
		{"openai style", map[string]any{"PromptTokens": 80, "CompletionTokens": 30}, TokenUsage{80, 30}},
		{"json floats", map[string]any{"prompt_tokens": float64(10), "completion_tokens": float64(5)}, TokenUsage{10, 5}},
		{"missing usage", map[string]any{"FinishReason": "stop"}, TokenUsage{}},
		{"nil info", nil, TokenUsage{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := usageFromInfo(tt.info)
			if got != tt.want {
				t.Errorf("usageFromInfo() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
