package catalog

import (
	"regexp"
	"strings"
)

const gib = 1 << 30

// paramPattern matches a parameter-count token in a model name, e.g.
// "7b" in "llama-7b-chat" or "0.5b" in "qwen:0.5b".
var paramPattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)b`)

// paramClasses maps a parameter-count token to a typical quantized
// download size, based on observed q4 GGUF sizes.
var paramClasses = []struct {
	tokens []string
	bytes  int64
}{
	{[]string{"0.5b"}, 2 * gib / 5},               // ~0.4 GiB
	{[]string{"1b", "1.1b", "1.5b"}, 4 * gib / 5}, // ~0.8 GiB
	{[]string{"2b", "3b"}, 19 * gib / 10},         // ~1.9 GiB
	{[]string{"7b", "8b"}, 41 * gib / 10},         // ~4.1 GiB
	{[]string{"13b", "14b"}, 37 * gib / 5},        // ~7.4 GiB
	{[]string{"30b", "34b"}, 19 * gib},
	{[]string{"70b", "72b"}, 40 * gib},
}

// familyOverrides covers models whose names carry no parameter token.
var familyOverrides = map[string]int64{
	"orca-mini": 19 * gib / 10,
	"tinyllama": 7 * gib / 10,
	"smollm":    2 * gib / 5,
	"phi":       11 * gib / 5,
}

// defaultEstimate is the 7B class, the most common model size.
const defaultEstimate = 41 * gib / 10

// EstimateSize guesses the download size of a model from its name when
// the registry omits one. Always returns a positive value; unmatched
// names fall back to the 7B class.
func EstimateSize(name string) int64 {
	lower := strings.ToLower(name)

	if m := paramPattern.FindStringSubmatch(lower); m != nil {
		token := strings.ToLower(m[0])
		for _, class := range paramClasses {
			for _, t := range class.tokens {
				if token == t {
					return class.bytes
				}
			}
		}
	}

	for family, size := range familyOverrides {
		if strings.Contains(lower, family) {
			return size
		}
	}

	return defaultEstimate
}
