package segment

import (
	"regexp"
	"strings"
)

// NoContentText is the placeholder synthesized for sections that carry a
// heading but no body. Every selected section produces at least one
// chunk.
const NoContentText = "This section has no content."

var sentenceBoundary = regexp.MustCompile(`[.!?]\s+`)

// SplitSentences splits text on sentence boundaries: a '.', '!' or '?'
// followed by whitespace. Trailing text without terminal punctuation is
// kept as a final sentence.
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var out []string
	start := 0
	for _, loc := range sentenceBoundary.FindAllStringIndex(text, -1) {
		end := loc[0] + 1
		if s := strings.TrimSpace(text[start:end]); s != "" {
			out = append(out, s)
		}
		start = loc[1]
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

// EstimateTokens approximates a tokenizer count without loading one:
// whichever is larger of the word count and one token per four
// characters.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	approx := len(text) / 4
	if words > approx {
		return words
	}
	return approx
}

// Chunk accumulates sentences into chunks bounded by both a character
// budget and an estimated token budget. A single sentence that alone
// exceeds a budget is hard-split into fixed-size substrings.
func Chunk(text string, maxChars, maxTokens int) []string {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []string
	var current []string

	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))
			current = nil
		}
	}

	for _, sentence := range sentences {
		if exceedsBudget(sentence, maxChars, maxTokens) {
			flush()
			chunks = append(chunks, hardSplit(sentence, maxChars)...)
			continue
		}
		candidate := strings.Join(append(append([]string(nil), current...), sentence), " ")
		if len(current) > 0 && exceedsBudget(candidate, maxChars, maxTokens) {
			flush()
		}
		current = append(current, sentence)
	}
	flush()
	return chunks
}

// ChunkSection chunks one flattened section's content, substituting the
// placeholder when the section has no body.
func ChunkSection(fs FlatSection, maxChars, maxTokens int) []string {
	if strings.TrimSpace(fs.Content) == "" {
		return []string{NoContentText}
	}
	return Chunk(fs.Content, maxChars, maxTokens)
}

func exceedsBudget(text string, maxChars, maxTokens int) bool {
	if maxChars > 0 && len(text) > maxChars {
		return true
	}
	if maxTokens > 0 && EstimateTokens(text) > maxTokens {
		return true
	}
	return false
}

func hardSplit(text string, maxChars int) []string {
	if maxChars <= 0 {
		return []string{text}
	}
	runes := []rune(text)
	var out []string
	for len(runes) > maxChars {
		out = append(out, string(runes[:maxChars]))
		runes = runes[maxChars:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}
