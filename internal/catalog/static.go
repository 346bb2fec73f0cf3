package catalog

import "github.com/parley-ai/parley/internal/domain"

// staticCatalog is the curated offline fallback shown when every
// registry endpoint is unreachable. Sizes are typical q4 downloads.
func staticCatalog() []domain.ModelDescriptor {
	return []domain.ModelDescriptor{
		{Name: "llama3.2", SizeBytes: 2_019_393_189, Tags: []string{"chat", "small"}},
		{Name: "llama3.2:1b", SizeBytes: 1_321_098_329, Tags: []string{"chat", "tiny"}},
		{Name: "llama3.1:8b", SizeBytes: 4_661_224_676, Tags: []string{"chat"}},
		{Name: "mistral:7b", SizeBytes: 4_113_301_824, Tags: []string{"chat"}},
		{Name: "qwen2.5:7b", SizeBytes: 4_683_087_332, Tags: []string{"chat"}},
		{Name: "qwen2.5:0.5b", SizeBytes: 397_821_319, Tags: []string{"chat", "tiny"}},
		{Name: "gemma2:2b", SizeBytes: 1_629_518_495, Tags: []string{"chat", "small"}},
		{Name: "gemma2:9b", SizeBytes: 5_443_152_417, Tags: []string{"chat"}},
		{Name: "phi3:mini", SizeBytes: 2_176_178_913, Tags: []string{"chat", "small"}},
		{Name: "tinyllama", SizeBytes: 637_700_138, Tags: []string{"chat", "tiny"}},
		{Name: "orca-mini", SizeBytes: 2_039_393_189, Tags: []string{"chat", "small"}},
		{Name: "codellama:7b", SizeBytes: 3_825_910_662, Tags: []string{"code"}},
		{Name: "deepseek-coder:6.7b", SizeBytes: 3_827_834_503, Tags: []string{"code"}},
		{Name: "llama3.3:70b", SizeBytes: 42_520_413_916, Tags: []string{"chat", "large"}},
	}
}
