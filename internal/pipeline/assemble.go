package pipeline

import (
	"sort"
	"strings"
)

// ChunkResult is the text recognized for one chunk window.
type ChunkResult struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Assemble orders results by index and returns their texts and the newline-joined transcript.
func Assemble(results []ChunkResult) ([]string, string) {
	ordered := make([]ChunkResult, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	texts := make([]string, len(ordered))
	for i, r := range ordered {
		texts[i] = r.Text
	}
	return texts, strings.Join(texts, "\n")
}
