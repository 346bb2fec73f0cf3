package catalog

import "testing"

func TestEstimateSize(t *testing.T) {
	tests := []struct {
		name string
		want int64
	}{
		{"llama-7b-chat", 41 * gib / 10},
		{"llama3.1:8b", 41 * gib / 10},
		{"qwen2.5:0.5b", 2 * gib / 5},
		{"tinyllama-1.1b", 4 * gib / 5},
		{"gemma2:2b", 19 * gib / 10},
		{"vicuna-13b", 37 * gib / 5},
		{"yi:34b", 19 * gib},
		{"llama3.3:70b", 40 * gib},
		{"qwen2.5:72b", 40 * gib},
		{"orca-mini", 19 * gib / 10},
		{"tinyllama", 7 * gib / 10},
		{"smollm", 2 * gib / 5},
		{"phi3:mini", 11 * gib / 5},
		// No parameter token, no family match: 7B class.
		{"mystery-model", defaultEstimate},
		{"", defaultEstimate},
	}
	for _, tt := range tests {
		if got := EstimateSize(tt.name); got != tt.want {
			t.Errorf("EstimateSize(%q) = %d, want %d", tt.name, got, tt.want)
		}
	}
}
