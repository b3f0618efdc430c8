package tasks

import (
	"regexp"
	"strings"
)

// span is a half-open [From, To) index pair into a snippet's code, the
// same precomputed-range shape spec.md §4.A calls for.
type span struct {
	From, To int
}

// snippet is one corpus entry, annotated once at package init with its
// word and outer bracket spans. Non-whitespace offsets and inner bracket
// spans are computed from the code each time a task is drawn.
type snippet struct {
	id      string
	code    string
	words   []span
	parens  []span
	curlies []span
	brackets []span
}

var wordPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// rawCorpus holds the source text for each snippet before blank-line
// stripping and annotation. Kept small and varied: a mix of braces,
// parens, brackets and identifiers so every deletion strategy has
// material to work with across the set.
var rawCorpus = []struct {
	id   string
	code string
}{
	{
		id: "go-max",
		code: `func maxOf(a, b int) int {
	if a > b {
		return a
	}
	return b
}`,
	},
	{
		id: "go-sum-slice",
		code: `func sum(values []int) int {
	total := 0
	for _, v := range values {
		total += v
	}
	return total
}`,
	},
	{
		id: "js-debounce",
		code: `function debounce(fn, wait) {
	let timer = null;
	return function (...args) {
		clearTimeout(timer);
		timer = setTimeout(() => fn(...args), wait);
	};
}`,
	},
	{
		id: "py-fib",
		code: `def fib(n):
    a, b = 0, 1
    for _ in range(n):
        a, b = b, a + b
    return a`,
	},
	{
		id: "go-map-lookup",
		code: `func lookup(table map[string]int, key string) (int, bool) {
	value, ok := table[key]
	return value, ok
}`,
	},
}

// corpus is the compiled, annotated corpus built once at init.
var corpus []snippet

func init() {
	corpus = make([]snippet, 0, len(rawCorpus))
	for _, raw := range rawCorpus {
		code := stripBlankLines(raw.code)
		corpus = append(corpus, snippet{
			id:       raw.id,
			code:     code,
			words:    findWordSpans(code),
			parens:   findBracketSpans(code, '(', ')'),
			curlies:  findBracketSpans(code, '{', '}'),
			brackets: findBracketSpans(code, '[', ']'),
		})
	}
}

// stripBlankLines removes lines that are empty or whitespace-only, the
// same normalization spec.md §4.A requires before offsets are computed.
func stripBlankLines(code string) string {
	lines := strings.Split(code, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func findWordSpans(code string) []span {
	matches := wordPattern.FindAllStringIndex(code, -1)
	spans := make([]span, 0, len(matches))
	for _, m := range matches {
		spans = append(spans, span{From: m[0], To: m[1]})
	}
	return spans
}

// findBracketSpans returns the outer [open, close+1) span for every
// balanced open/close pair in the snippet, matched with a simple stack so
// nested pairs are each reported individually.
func findBracketSpans(code string, open, close byte) []span {
	var stack []int
	var spans []span

	for i := 0; i < len(code); i++ {
		switch code[i] {
		case open:
			stack = append(stack, i)
		case close:
			if len(stack) == 0 {
				continue
			}
			start := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			spans = append(spans, span{From: start, To: i + 1})
		}
	}

	return spans
}

// nonWhitespaceOffsets returns the byte offset of every rune in code that
// is not a whitespace character.
func nonWhitespaceOffsets(code string) []int {
	offsets := make([]int, 0, len(code))
	for i, r := range code {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			offsets = append(offsets, i)
		}
	}
	return offsets
}

// hasNonWhitespace reports whether the half-open span [from, to) contains
// at least one non-whitespace byte, the guard spec.md §4.A requires for
// INNER_* strategies.
func hasNonWhitespace(code string, s span) bool {
	for i := s.From; i < s.To && i < len(code); i++ {
		c := code[i]
		if c != ' ' && c != '\t' && c != '\n' && c != '\r' {
			return true
		}
	}
	return false
}
