// Package filter decides whether an entry's text is security-relevant.
//
// Two matchers run in order: a word-boundary regexp pass over the curated
// keyword list, then a co-occurrence pass for ambiguous terms whose pair
// must appear within a sliding token window. The first hit wins; matching
// is a pure function of the normalized text and the loaded tables.
package filter

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/osintops/threatpipe/internal/core/domain"
	"github.com/osintops/threatpipe/internal/platform/observability"
)

const defaultCoocWindow = 15

type baseRule struct {
	keyword string
	re      *regexp.Regexp
}

// Matcher holds the compiled keyword tables. Loaded once at startup,
// immutable and safe for concurrent use afterwards.
type Matcher struct {
	base   []baseRule
	cooc   []coocRule
	window int
}

// Options configures table loading.
type Options struct {
	// KeywordsFile overrides the embedded base list: one keyword per line,
	// '#' comments allowed.
	KeywordsFile string
	// CoocWindow is the sliding window in tokens (default 15).
	CoocWindow int
}

// Load compiles the matcher tables.
func Load(opts Options) (*Matcher, error) {
	keywords := defaultBaseKeywords

	if opts.KeywordsFile != "" {
		loaded, err := readKeywordsFile(opts.KeywordsFile)
		if err != nil {
			return nil, fmt.Errorf("load keywords: %w", err)
		}

		keywords = loaded
	}

	window := opts.CoocWindow
	if window <= 0 {
		window = defaultCoocWindow
	}

	m := &Matcher{
		base:   make([]baseRule, 0, len(keywords)),
		cooc:   defaultCoocRules,
		window: window,
	}

	for _, kw := range keywords {
		kw = Normalize(kw)
		if kw == "" {
			continue
		}

		re, err := regexp.Compile(`\b` + regexp.QuoteMeta(kw) + `\b`)
		if err != nil {
			return nil, fmt.Errorf("compile keyword %q: %w", kw, err)
		}

		m.base = append(m.base, baseRule{keyword: kw, re: re})
	}

	return m, nil
}

func readKeywordsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var keywords []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		keywords = append(keywords, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return keywords, nil
}

// Match returns the first keyword match for the normalized text blob, or
// nil when the entry is not security-relevant. Base matches win over
// co-occurrence matches; within each table, insertion order decides.
func (m *Matcher) Match(textBlob string) *domain.KeywordMatch {
	if textBlob == "" {
		observability.FilterMatches.WithLabelValues("miss").Inc()
		return nil
	}

	for _, rule := range m.base {
		if rule.re.MatchString(textBlob) {
			observability.FilterMatches.WithLabelValues(string(domain.MatchBase)).Inc()

			return &domain.KeywordMatch{
				Keyword:   rule.keyword,
				MatchType: domain.MatchBase,
				Rule:      rule.keyword,
			}
		}
	}

	tokens := strings.Fields(textBlob)

	for _, rule := range m.cooc {
		if m.cooccurs(tokens, rule.A, rule.B) {
			observability.FilterMatches.WithLabelValues(string(domain.MatchCooccurrence)).Inc()

			return &domain.KeywordMatch{
				Keyword:   rule.A,
				MatchType: domain.MatchCooccurrence,
				Rule:      rule.Rule(),
			}
		}
	}

	observability.FilterMatches.WithLabelValues("miss").Inc()

	return nil
}

// cooccurs reports whether tokens a and b both occur within the window, in
// either order. Tokens are compared after stripping trailing punctuation.
func (m *Matcher) cooccurs(tokens []string, a, b string) bool {
	var posA, posB []int

	for i, tok := range tokens {
		switch strings.TrimFunc(tok, isTokenPunct) {
		case a:
			posA = append(posA, i)
		case b:
			posB = append(posB, i)
		}
	}

	if len(posA) == 0 || len(posB) == 0 {
		return false
	}

	for _, i := range posA {
		for _, j := range posB {
			d := i - j
			if d < 0 {
				d = -d
			}

			if d <= m.window {
				return true
			}
		}
	}

	return false
}

func isTokenPunct(r rune) bool {
	return r == '.' || r == ',' || r == ';' || r == ':' || r == '!' ||
		r == '?' || r == '"' || r == '\'' || r == ')' || r == '('
}
