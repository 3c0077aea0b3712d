package domain

import "strings"

// Label is a category from one of two closed sets. The rule classifier and the
// model classifier use different taxonomies; Taxonomy reports which one a label
// belongs to. "refactor" exists in both.
type Label string

// Model taxonomy.
const (
	LabelFeature  Label = "feature"
	LabelFix      Label = "fix"
	LabelRefactor Label = "refactor"
	LabelDocs     Label = "docs"
	LabelTest     Label = "test"
	LabelOther    Label = "other"
)

// Rule taxonomy.
const (
	LabelDependencyUpdate Label = "dependency_update"
	LabelDocumentation    Label = "documentation"
	LabelBugFix           Label = "bug_fix"
	LabelCIBuild          Label = "ci_build"
)

const (
	TaxonomyModel = "model"
	TaxonomyRule  = "rule"
)

var ModelLabels = []Label{LabelFeature, LabelFix, LabelRefactor, LabelDocs, LabelTest, LabelOther}

var RuleLabels = []Label{LabelDependencyUpdate, LabelDocumentation, LabelBugFix, LabelRefactor, LabelCIBuild}

func ParseModelLabel(s string) (Label, bool) {
	return parseIn(s, ModelLabels)
}

func ParseRuleLabel(s string) (Label, bool) {
	return parseIn(s, RuleLabels)
}

func parseIn(s string, set []Label) (Label, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, l := range set {
		if string(l) == s {
			return l, true
		}
	}
	return "", false
}

// Taxonomy returns TaxonomyRule or TaxonomyModel for a known label, or "" when
// the label is in neither set. Shared labels are reported as model labels
// unless the method says otherwise.
func (l Label) Taxonomy(m Method) string {
	_, inModel := ParseModelLabel(string(l))
	_, inRule := ParseRuleLabel(string(l))
	switch {
	case inModel && inRule:
		if m == MethodRegex {
			return TaxonomyRule
		}
		return TaxonomyModel
	case inRule:
		return TaxonomyRule
	case inModel:
		return TaxonomyModel
	}
	return ""
}

// Method records which strategy produced a result.
type Method string

const (
	MethodCache Method = "cache"
	MethodRegex Method = "regex"
	MethodLLM   Method = "llm"
)

// ClassificationResult is the outcome of classifying one change record.
// Confidence is nil for rule matches.
type ClassificationResult struct {
	Label      Label
	Confidence *float64
	Rationale  string
}

func Confidence(v float64) *float64 {
	return &v
}

// Decision is what the rule classifier returns: either a rule match carrying a
// label, or a deferral to the model classifier.
type Decision struct {
	label   Label
	matched bool
}

func RuleMatch(l Label) Decision {
	return Decision{label: l, matched: true}
}

func Deferred() Decision {
	return Decision{}
}

// Label returns the matched label and true, or "" and false when deferred.
func (d Decision) Label() (Label, bool) {
	return d.label, d.matched
}

func (d Decision) Deferred() bool {
	return !d.matched
}
