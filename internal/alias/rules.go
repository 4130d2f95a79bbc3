// =============================================================================
// Blood Test Parser - Name Folding Rules
// =============================================================================
//
// OCR misreads test names in predictable ways: "Sod1um", "P0tassium",
// "Bili.Total". Instead of fuzzy matching, the standardizer applies an
// enumerated chain of rewrite rules to BOTH the alias keys and the raw token,
// and compares the folded forms.
//
// RULE TYPES:
//   - "lowercase"         : Convert to lowercase
//   - "trim"              : Remove leading and trailing whitespace
//   - "collapse_spaces"   : Replace whitespace runs with one space
//   - "remove_spaces"     : Drop all whitespace
//   - "strip_punctuation" : Drop everything that is not a letter, digit or space
//   - "replace"           : Replace Find with Value
//   - "regex_replace"     : Replace regex Find with Value
//
// The chain is configurable (name_rules in config.yaml); DefaultRules is used
// when none is configured.
//
// =============================================================================

package alias

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/ginjaninja78/blood-test-parser/internal/config"
)

// DefaultRules returns the built-in OCR folding chain.
func DefaultRules() []config.NameRule {
	return []config.NameRule{
		{Type: "lowercase"},
		{Type: "replace", Find: "|", Value: "l"},
		{Type: "strip_punctuation"},
		{Type: "replace", Find: "0", Value: "o"},
		{Type: "replace", Find: "1", Value: "l"},
		{Type: "replace", Find: "i", Value: "l"},
		{Type: "replace", Find: "5", Value: "s"},
		{Type: "remove_spaces"},
	}
}

// Folder applies a compiled rule chain.
type Folder struct {
	steps []func(string) string
}

// NewFolder compiles a rule chain. Unknown rule types and bad regular
// expressions are configuration errors.
func NewFolder(rules []config.NameRule) (*Folder, error) {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	f := &Folder{}
	for i, rule := range rules {
		step, err := compileRule(rule)
		if err != nil {
			return nil, fmt.Errorf("name rule %d (%s): %w", i+1, rule.Type, err)
		}
		f.steps = append(f.steps, step)
	}
	return f, nil
}

// Fold rewrites s through every rule in order.
func (f *Folder) Fold(s string) string {
	for _, step := range f.steps {
		s = step(s)
	}
	return s
}

func compileRule(rule config.NameRule) (func(string) string, error) {
	switch rule.Type {
	case "lowercase":
		return strings.ToLower, nil

	case "trim":
		return strings.TrimSpace, nil

	case "collapse_spaces":
		return collapseSpaces, nil

	case "remove_spaces":
		return func(s string) string {
			return strings.Map(func(r rune) rune {
				if unicode.IsSpace(r) {
					return -1
				}
				return r
			}, s)
		}, nil

	case "strip_punctuation":
		return func(s string) string {
			return strings.Map(func(r rune) rune {
				if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
					return r
				}
				return -1
			}, s)
		}, nil

	case "replace":
		if rule.Find == "" {
			return nil, fmt.Errorf("replace needs a non-empty find")
		}
		find, value := rule.Find, rule.Value
		return func(s string) string {
			return strings.ReplaceAll(s, find, value)
		}, nil

	case "regex_replace":
		if rule.Find == "" {
			return nil, fmt.Errorf("regex_replace needs a non-empty find")
		}
		re, err := regexp.Compile(rule.Find)
		if err != nil {
			return nil, fmt.Errorf("invalid regex pattern: %w", err)
		}
		value := rule.Value
		return func(s string) string {
			return re.ReplaceAllString(s, value)
		}, nil

	default:
		return nil, fmt.Errorf("unknown rule type")
	}
}

// exactKey is the step-1 key: case and whitespace insensitive.
func exactKey(s string) string {
	return collapseSpaces(strings.ToLower(s))
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
