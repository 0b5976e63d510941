package rag

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"github.com/ledgerchat/ledgerchat/internal/knowledge"
)

// The BPE dictionaries ship with the binary; the default loader would
// download them over the network on first use.
var loaderOnce sync.Once

// ContextBudget bounds the retrieved context by a token count, using a
// real tokenizer rather than a character heuristic.
type ContextBudget struct {
	enc       *tiktoken.Tiktoken
	maxTokens int
}

// NewContextBudget creates a budget of maxTokens using the cl100k_base
// encoding.
func NewContextBudget(maxTokens int) (*ContextBudget, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}
	return &ContextBudget{enc: enc, maxTokens: maxTokens}, nil
}

// Count returns the token count of s.
func (b *ContextBudget) Count(s string) int {
	return len(b.enc.Encode(s, nil, nil))
}

// Fit drops the lowest-similarity chunks until the remainder fits the
// budget. The surviving chunks keep their original order so document
// text stays coherent.
func (b *ContextBudget) Fit(results []knowledge.Result) []knowledge.Result {
	total := 0
	for _, r := range results {
		total += b.Count(r.Content)
	}
	if total <= b.maxTokens {
		return results
	}

	// Rank positions by similarity ascending; drop from the bottom.
	order := make([]int, len(results))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return results[order[i]].Similarity < results[order[j]].Similarity
	})

	dropped := make([]bool, len(results))
	for _, idx := range order {
		if total <= b.maxTokens {
			break
		}
		total -= b.Count(results[idx].Content)
		dropped[idx] = true
	}

	kept := make([]knowledge.Result, 0, len(results))
	for i, r := range results {
		if !dropped[i] {
			kept = append(kept, r)
		}
	}
	return kept
}
