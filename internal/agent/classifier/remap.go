package classifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/ledgerchat/ledgerchat/internal/prompts"
)

// remapType forces an arbitrary model label onto the valid type set.
// The cascade: exact match, keyword match, one model call, then
// nearest valid type by label length. It always returns a valid type.
func (a *Agent) remapType(ctx context.Context, label string) string {
	if t := normalizeLabel(label); t != "" {
		return t
	}

	if t := a.remapLLM(ctx, label); t != "" {
		a.logger.Debug("remapped label via model", "label", label, "doc_type", t)
		return t
	}

	t := nearestByLength(label)
	a.logger.Warn("remapped label by length", "label", label, "doc_type", t)
	return t
}

// normalizeLabel resolves a label by exact then keyword match, or ""
// when neither applies.
func normalizeLabel(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		return ""
	}

	for _, t := range validTypes {
		if label == t {
			return t
		}
	}

	switch {
	case strings.Contains(label, "invoice"), strings.Contains(label, "bill"):
		return TypeInvoice
	case strings.Contains(label, "loan"), strings.Contains(label, "mortgage"), strings.Contains(label, "credit"):
		return TypeLoan
	case strings.Contains(label, "bank"), strings.Contains(label, "statement"):
		return TypeBankStatement
	}
	return ""
}

func (a *Agent) remapLLM(ctx context.Context, label string) string {
	tpl, err := a.prompts.Get(ctx, prompts.NameClassifyRemap)
	if err != nil {
		return ""
	}

	response, err := genkit.Generate(ctx, a.g,
		ai.WithModelName(a.model),
		ai.WithPrompt(fmt.Sprintf(tpl, label)),
	)
	if err != nil {
		return ""
	}
	return normalizeLabel(response.Text())
}

// nearestByLength picks the valid type whose name length is closest to
// the label's, first declared wins ties. A crude last resort that
// still yields a deterministic, valid type.
func nearestByLength(label string) string {
	best := validTypes[0]
	bestDiff := -1
	for _, t := range validTypes {
		diff := len(label) - len(t)
		if diff < 0 {
			diff = -diff
		}
		if bestDiff < 0 || diff < bestDiff {
			best = t
			bestDiff = diff
		}
	}
	return best
}
