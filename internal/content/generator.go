// generator.go -- prompt selection and tweet text generation.
package content

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
)

// Category is a named topic/style bucket used to select a prompt template.
type Category string

const (
	Educational    Category = "educational"
	Decentralized  Category = "decentralized"
	Shitposting    Category = "shitposting"
	Sustainability Category = "sustainability"
	Franchise      Category = "franchise"
)

// DefaultCategory is the deterministic fallback for unknown categories.
const DefaultCategory = Educational

// MaxTweetLength is the platform's character limit.
const MaxTweetLength = 280

// persona is the fixed system instruction sent with every completion.
const persona = "You are a witty, authentic voice for an innovative urban farming company. " +
	"You write engaging tweets that mix humor, technical knowledge, and bold statements about agriculture."

// maxCompletionTokens bounds the model output; a tweet never needs more.
const maxCompletionTokens = 100

// prompts maps each category to its prompt variants. When a category has more
// than one variant, Generate picks one uniformly at random.
var prompts = map[Category][]string{
	Educational: {
		"Write a spicy, engaging tweet about aeroponic farming innovation. Be bold and authentic, avoid corporate speak. Include modern farming tech details.",
		"Write a sharp, surprising tweet teaching one concrete fact about vertical farming yields or grow-light efficiency. No hashtag spam, no corporate speak.",
	},
	Decentralized: {
		"Write a bold tweet about decentralized, community-run food production beating centralized supply chains. Keep it grounded in real urban farming practice.",
		"Write a punchy tweet on why neighborhood-scale aeroponic farms make food systems resilient. Concrete, a little contrarian, no buzzword soup.",
	},
	Shitposting: {
		"Write an unhinged but affectionate shitpost about life at an urban farming startup. Lowercase energy welcome. Still recognizably about farming tech.",
		"Write a deadpan joke tweet comparing houseplant owners to industrial aeroponics operators. Short, dry, no explanation.",
	},
	Sustainability: {
		"Generate a tweet about sustainable urban farming. Mix humor with deep knowledge, emphasize tech innovation and environmental impact.",
	},
	Franchise: {
		"Create a tweet about City Farmers franchise opportunities. Focus on the underdog story and potential for local impact. Be authentic and inspiring.",
	},
}

// ParseCategory maps a request string to a known Category.
// Unknown values fall back to DefaultCategory, deterministically.
func ParseCategory(s string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := prompts[c]; ok {
		return c
	}
	return DefaultCategory
}

// Completer issues one LLM completion request. Satisfied by *llm.Client.
type Completer interface {
	Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error)
}

// Generator builds prompts, calls the completion API, and cleans the result
// into a postable tweet.
type Generator struct {
	llm Completer

	// pick selects a variant index in [0,n). Overridable in tests;
	// defaults to uniform random.
	pick func(n int) int
}

// NewGenerator returns a Generator backed by the given completion client.
func NewGenerator(llm Completer) *Generator {
	return &Generator{llm: llm, pick: rand.Intn}
}

// Generate produces tweet text for the given category. Unknown categories
// fall back to DefaultCategory. The completion output is cleaned
// (preamble stripping, whitespace and quote normalization) and truncated to
// the platform limit. Completion errors are surfaced unchanged -- a failed
// generation aborts the post attempt rather than publishing blank content.
func (g *Generator) Generate(ctx context.Context, category Category) (string, error) {
	variants, ok := prompts[category]
	if !ok {
		variants = prompts[DefaultCategory]
	}
	prompt := variants[0]
	if len(variants) > 1 {
		prompt = variants[g.pick(len(variants))]
	}

	raw, err := g.llm.Complete(ctx, persona, prompt, maxCompletionTokens)
	if err != nil {
		return "", fmt.Errorf("generating %s content: %w", category, err)
	}

	text := Truncate(normalize(stripPreamble(raw)), MaxTweetLength)
	return text, nil
}

// preamblePrefixes are known AI introductions the model sometimes emits despite
// the persona instruction. Matched case-insensitively as exact prefixes only,
// so legitimate tweets that merely resemble one are left alone.
var preamblePrefixes = []string{
	"here's a tweet",
	"here is a tweet",
	"here's your tweet",
	"here's that tweet",
	"sure, here's",
	"sure! here's",
	"as the narrator",
	"as a witty voice",
	"as requested",
}

// stripPreamble removes a known introductory phrase from the start of s.
// After an exact (case-insensitive) prefix match, the text is cut at the first
// delimiter -- colon, dash, or sentence/line boundary -- following the matched
// prefix. If no delimiter follows, s is returned unchanged: better to keep a
// stray preamble than to amputate real content.
func stripPreamble(s string) string {
	trimmed := strings.TrimSpace(s)
	lower := strings.ToLower(trimmed)
	for _, prefix := range preamblePrefixes {
		if !strings.HasPrefix(lower, prefix) {
			continue
		}
		rest := trimmed[len(prefix):]
		if i := strings.IndexAny(rest, ":-.\n"); i >= 0 {
			return strings.TrimSpace(rest[i+1:])
		}
		return trimmed
	}
	return trimmed
}

// normalize collapses embedded line breaks and whitespace runs to single
// spaces and replaces curly quotes with their ASCII forms.
func normalize(s string) string {
	s = strings.NewReplacer(
		"“", `"`, // left double quote
		"”", `"`, // right double quote
		"‘", "'", // left single quote
		"’", "'", // right single quote
	).Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// Truncate enforces the character limit. Text that already fits is returned
// untouched, with no truncation marker. Otherwise the text is cut at the last
// whitespace boundary before the limit -- never mid-word -- any trailing
// period is removed, and an ellipsis is appended. The result, ellipsis
// included, never exceeds limit characters.
func Truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}

	// Reserve one rune for the ellipsis.
	cut := string(runes[:limit-1])
	if i := strings.LastIndexAny(cut, " \t"); i > 0 {
		cut = cut[:i]
	}
	cut = strings.TrimRight(strings.TrimSpace(cut), ".")
	return cut + "…"
}
