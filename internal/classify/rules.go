package classify

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"changelabel/internal/domain"

	"gopkg.in/yaml.v3"
)

var (
	defaultDependencyMarkers    = []string{"dependabot", "bump", "update dependencies"}
	defaultDocumentationMarkers = []string{"docs", "documentation", "readme", "comment"}
	defaultRefactorMarkers      = []string{"refactor", "clean up", "simplify", "reorganize"}
	defaultCIBuildMarkers       = []string{"ci ", "github actions", "build", "test"}
)

// Kept conservative: only clear bug signals in the title.
var bugFixPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bfix(es|ed)?\s+(bug|issue|#\d+)`),
	regexp.MustCompile(`\b(bug|issue)\s*fix`),
	regexp.MustCompile(`^fix:`),
	regexp.MustCompile(`\bsegfault\b`),
	regexp.MustCompile(`\bcrash\b`),
	regexp.MustCompile(`\bmemory leak\b`),
}

// Rules is the ordered rule classifier. Groups are always evaluated in the
// same order: dependency, documentation, bug fix, refactor, CI/build.
type Rules struct {
	dependency    []string
	documentation []string
	refactor      []string
	ciBuild       []string
}

func DefaultRules() *Rules {
	return &Rules{
		dependency:    append([]string(nil), defaultDependencyMarkers...),
		documentation: append([]string(nil), defaultDocumentationMarkers...),
		refactor:      append([]string(nil), defaultRefactorMarkers...),
		ciBuild:       append([]string(nil), defaultCIBuildMarkers...),
	}
}

// Classify returns a rule match or defers to the model classifier. Only the
// title is inspected; the body is accepted so callers pass the whole record.
func (r *Rules) Classify(title, body string) domain.Decision {
	t := strings.ToLower(title)

	if containsAny(t, r.dependency) {
		return domain.RuleMatch(domain.LabelDependencyUpdate)
	}

	// "fix docs" corrects documentation, it does not add any.
	if containsAny(t, r.documentation) && !strings.Contains(t, "fix") {
		return domain.RuleMatch(domain.LabelDocumentation)
	}

	for _, re := range bugFixPatterns {
		if re.MatchString(t) {
			return domain.RuleMatch(domain.LabelBugFix)
		}
	}

	if containsAny(t, r.refactor) {
		return domain.RuleMatch(domain.LabelRefactor)
	}

	if containsAny(t, r.ciBuild) {
		return domain.RuleMatch(domain.LabelCIBuild)
	}

	return domain.Deferred()
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// RulesGlossary adds marker phrases to rule groups from a YAML file:
//
//	terms:
//	  - phrase: renovate
//	    label: dependency_update
type RulesGlossary struct {
	Terms []GlossaryTerm `yaml:"terms"`
}

type GlossaryTerm struct {
	Phrase string `yaml:"phrase"`
	Label  string `yaml:"label"`
}

func LoadRulesGlossary(path string) (*RulesGlossary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules glossary: %w", err)
	}
	var g RulesGlossary
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse rules glossary yaml: %w", err)
	}
	return &g, nil
}

// LoadRules returns the default rules extended by the glossary at path, or
// the defaults alone when path is empty.
func LoadRules(path string) (*Rules, error) {
	rules := DefaultRules()
	if strings.TrimSpace(path) == "" {
		return rules, nil
	}
	g, err := LoadRulesGlossary(path)
	if err != nil {
		return nil, err
	}
	if err := rules.Extend(g); err != nil {
		return nil, fmt.Errorf("rules glossary %s: %w", path, err)
	}
	return rules, nil
}

// Extend appends glossary phrases to their rule groups. Bug-fix detection
// stays regex-only, so bug_fix terms are rejected.
func (r *Rules) Extend(g *RulesGlossary) error {
	if g == nil {
		return nil
	}
	for _, term := range g.Terms {
		phrase := normalizePhrase(term.Phrase)
		if phrase == "" {
			continue
		}
		label, ok := domain.ParseRuleLabel(term.Label)
		if !ok {
			return fmt.Errorf("unknown rule label %q for phrase %q", term.Label, term.Phrase)
		}
		switch label {
		case domain.LabelDependencyUpdate:
			r.dependency = appendUnique(r.dependency, phrase)
		case domain.LabelDocumentation:
			r.documentation = appendUnique(r.documentation, phrase)
		case domain.LabelRefactor:
			r.refactor = appendUnique(r.refactor, phrase)
		case domain.LabelCIBuild:
			r.ciBuild = appendUnique(r.ciBuild, phrase)
		default:
			return fmt.Errorf("label %q cannot be extended by phrase", label)
		}
	}
	return nil
}

// Keeps a trailing space so markers like "ci " stay word-ish.
func normalizePhrase(s string) string {
	return strings.ToLower(strings.TrimLeft(s, " \t"))
}

func appendUnique(list []string, phrase string) []string {
	for _, p := range list {
		if p == phrase {
			return list
		}
	}
	return append(list, phrase)
}
