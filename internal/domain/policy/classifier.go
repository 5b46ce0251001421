package policy

import (
	"regexp"
	"strings"

	"ai-request-queue/internal/domain/model"
)

// Rule is a pure predicate over normalized prompt text.
type Rule func(text string) bool

// RuleSet maps a group of rules to the category it selects.
type RuleSet struct {
	Category model.Category
	Rules    []Rule
}

func (rs RuleSet) Match(text string) bool {
	for _, r := range rs.Rules {
		if r(text) {
			return true
		}
	}
	return false
}

func matches(patterns ...string) []Rule {
	rules := make([]Rule, 0, len(patterns))
	for _, p := range patterns {
		re := regexp.MustCompile(p)
		rules = append(rules, re.MatchString)
	}
	return rules
}

// Order matters: the first matching set wins.
var defaultRuleSets = []RuleSet{
	{
		Category: model.CategoryFileSystem,
		Rules: matches(
			`\b(list|show|find|search|browse|open|locate|scan)\b.*\b(files?|folders?|director(y|ies)|downloads|desktop|documents)\b`,
			`\bwhat('?s| is) in (my|the|this)\b.*\b(folder|directory|downloads|desktop)\b`,
			`\b(ls|dir|tree)\b\s+[~./\w]`,
			`(^|\s)(~|\.{1,2})?/[\w.-]+/`,
		),
	},
	{
		Category: model.CategoryMemory,
		Rules: matches(
			`\b(remember|recall|memori[sz]e|don'?t forget)\b`,
			`\b(earlier|previously|last time)\b`,
			`\bprevious (conversation|chat|message|question|answer|session)s?\b`,
			`\b(you|i|we) (said|told|mentioned|discussed)\b`,
			`\b(store|save|keep) (this|that|it)\b`,
		),
	},
	{
		Category: model.CategoryComplex,
		Rules: matches(
			`\b(analy[sz]e|analysis|evaluate|evaluation|assess|compare|critique|review)\b`,
			`\b(architecture|algorithm|design pattern|optimi[sz]e|refactor|complexity|trade-?offs?)\b`,
			`\b\w+\b.+\band then\b.+\b\w+\b`,
			`\bfirst\b.+\bthen\b`,
			`\bstep[- ]by[- ]step\b`,
		),
	},
}

// Classifier resolves a prompt to a workload category.
type Classifier struct {
	sets []RuleSet
}

func NewClassifier() *Classifier {
	return &Classifier{sets: defaultRuleSets}
}

// NewClassifierWithRules builds a classifier over a custom ordered rule list.
func NewClassifierWithRules(sets []RuleSet) *Classifier {
	return &Classifier{sets: sets}
}

// Classify is deterministic in its input; blank text is the default category.
func (c *Classifier) Classify(prompt string) model.Category {
	text := Normalize(prompt)
	if text == "" {
		return model.CategoryDefault
	}
	for _, rs := range c.sets {
		if rs.Match(text) {
			return rs.Category
		}
	}
	return model.CategorySimple
}

// ClassifyRecord handles records that could not be parsed.
func (c *Classifier) ClassifyRecord(r *model.Record) model.Category {
	if r == nil {
		return model.CategoryDefault
	}
	return c.Classify(r.Prompt)
}

// Normalize lowercases and collapses whitespace.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
