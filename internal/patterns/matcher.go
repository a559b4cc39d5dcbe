// Package patterns classifies terminal output lines into categories using
// configurable regular expressions.
package patterns

import (
	"regexp"
	"sort"

	"tame/internal/config"
	logx "tame/pkg/logx"
)

// Built-in category names.
const (
	CategoryError      = "error"
	CategoryPrompt     = "prompt"
	CategoryWeakPrompt = "weak_prompt"
	CategoryCompletion = "completion"
	CategoryProgress   = "progress"
)

// scanOrder decides which category wins when a line matches several.
// weak_prompt follows prompt so explicit prompts take precedence.
var scanOrder = []string{CategoryError, CategoryPrompt, CategoryWeakPrompt, CategoryCompletion, CategoryProgress}

// Match describes the first pattern that matched a line.
type Match struct {
	Category string
	// PatternIndex is the position in the category's input list. Entries
	// dropped because they failed to compile leave gaps.
	PatternIndex int
	MatchedText  string
	Line         string
}

type compiled struct {
	index int
	re    *regexp.Regexp
}

type category struct {
	name     string
	patterns []compiled
}

// Matcher is immutable after New and safe for concurrent use.
type Matcher struct {
	ordered []category
}

// New compiles every pattern case-insensitively. Patterns that don't compile
// are skipped with a warning; the rest keep their original index.
func New(raw map[string][]string, log logx.Logger) *Matcher {
	byName := make(map[string]category, len(raw))
	for name, list := range raw {
		cat := category{name: name}
		for i, p := range list {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				log.Warn("skipping invalid pattern",
					logx.String("category", name),
					logx.Int("index", i),
					logx.String("pattern", p),
					logx.Err(err),
				)
				continue
			}
			cat.patterns = append(cat.patterns, compiled{index: i, re: re})
		}
		byName[name] = cat
	}

	m := &Matcher{}
	for _, name := range scanOrder {
		if cat, ok := byName[name]; ok {
			m.ordered = append(m.ordered, cat)
			delete(byName, name)
		}
	}
	extras := make([]string, 0, len(byName))
	for name := range byName {
		extras = append(extras, name)
	}
	sort.Strings(extras)
	for _, name := range extras {
		m.ordered = append(m.ordered, byName[name])
	}
	return m
}

// Scan returns the first match in scan order: the built-in categories
// first, then any other categories by name.
func (m *Matcher) Scan(line string) (Match, bool) {
	if m == nil {
		return Match{}, false
	}
	for _, cat := range m.ordered {
		for _, p := range cat.patterns {
			loc := p.re.FindStringIndex(line)
			if loc == nil {
				continue
			}
			return Match{
				Category:     cat.name,
				PatternIndex: p.index,
				MatchedText:  line[loc[0]:loc[1]],
				Line:         line,
			}, true
		}
	}
	return Match{}, false
}

// Categories lists category names in scan order.
func (m *Matcher) Categories() []string {
	out := make([]string, 0, len(m.ordered))
	for _, c := range m.ordered {
		out = append(out, c.name)
	}
	return out
}

// FromDocument builds matcher input from the patterns section of a config
// document. For each category mapping, regexes (plus shell_regexes when
// shell is set) feed the category. Only prompt has a weak tier:
// prompt.weak_regexes feed weak_prompt, and weak_regexes under any other
// category are ignored. Scalar entries such as idle_prompt_timeout are ignored.
func FromDocument(doc config.Document, shell bool) map[string][]string {
	root, ok := config.Lookup(doc, "patterns", nil).(map[string]any)
	if !ok {
		return map[string][]string{}
	}
	out := make(map[string][]string, len(root))
	for name, v := range root {
		cat, ok := v.(map[string]any)
		if !ok {
			continue
		}
		list := stringList(cat["regexes"])
		if shell {
			list = append(list, stringList(cat["shell_regexes"])...)
		}
		out[name] = list
		if name != CategoryPrompt {
			continue
		}
		if weak := stringList(cat["weak_regexes"]); len(weak) > 0 {
			out[CategoryWeakPrompt] = weak
		}
	}
	return out
}

func stringList(v any) []string {
	switch x := v.(type) {
	case []string:
		return append([]string(nil), x...)
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
