package analyzer

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/ludo-technologies/sentinel/internal/rules"
)

// Naming conventions understood by the rename suggestions
const (
	ConventionPascalCase = "PascalCase"
	ConventionCamelCase  = "camelCase"
	ConventionSnakeCase  = "snake_case"
)

// suggestFixes returns the suggested fixes for an issue, most specific first
func suggestFixes(is issue) []string {
	def := is.def
	switch def.Kind {
	case rules.KindNaming:
		if is.subject == "" {
			return nil
		}
		convention := def.Convention
		if convention == "" {
			convention = ConventionSnakeCase
			if def.Target == rules.TargetStruct {
				convention = ConventionPascalCase
			}
		}
		var out []string
		for _, candidate := range []string{
			renameTo(is.subject, convention),
			renameTo(is.subject, ConventionPascalCase),
			renameTo(is.subject, ConventionSnakeCase),
			renameTo(is.subject, ConventionCamelCase),
		} {
			if candidate == "" || candidate == is.subject || !def.Pattern.MatchString(candidate) {
				continue
			}
			s := fmt.Sprintf("rename '%s' to '%s'", is.subject, candidate)
			if !containsString(out, s) {
				out = append(out, s)
			}
		}
		return out

	case rules.KindTypeHints:
		return []string{fmt.Sprintf("add a type annotation to '%s'", is.subject)}

	case rules.KindUnsafeFunctions:
		return []string{
			fmt.Sprintf("replace '%s' with a safe alternative", is.subject),
			fmt.Sprintf("validate every input that reaches '%s'", is.subject),
		}

	case rules.KindOwnership:
		if len(is.hint) == 1 {
			return []string{fmt.Sprintf("annotate '%s' with '%s'", is.subject, is.hint[0])}
		}
		return []string{fmt.Sprintf("annotate '%s' with one of %s", is.subject, strings.Join(is.hint, ", "))}

	case rules.KindResourceLifetime:
		if is.double {
			return []string{fmt.Sprintf("release '%s' before acquiring it again", is.subject)}
		}
		return []string{
			fmt.Sprintf("release '%s' on every path", is.subject),
			fmt.Sprintf("return '%s' to hand ownership to the caller", is.subject),
		}

	case rules.KindUnreachableCode:
		return []string{
			"remove the unreachable statements",
			fmt.Sprintf("check the control flow of '%s' before the dead code", is.subject),
		}

	case rules.KindComplexity:
		return []string{
			fmt.Sprintf("split '%s' into smaller functions", is.subject),
			"replace nested conditionals with early returns",
		}

	case rules.KindLineLength:
		return []string{fmt.Sprintf("wrap the line to at most %d characters", def.MaxLineLength)}
	}
	return nil
}

// renameTo rewrites an identifier into a naming convention
func renameTo(name, convention string) string {
	words := splitWords(name)
	if len(words) == 0 {
		return ""
	}
	var b strings.Builder
	switch convention {
	case ConventionPascalCase, ConventionCamelCase:
		for i, w := range words {
			if i == 0 && convention == ConventionCamelCase {
				b.WriteString(w)
				continue
			}
			r := []rune(w)
			r[0] = unicode.ToUpper(r[0])
			b.WriteString(string(r))
		}
	case ConventionSnakeCase:
		b.WriteString(strings.Join(words, "_"))
	default:
		return ""
	}
	return b.String()
}

// splitWords breaks an identifier on underscores and case changes into
// lowercase words
func splitWords(name string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	runes := []rune(name)
	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || r == '$':
			flush()
		case unicode.IsUpper(r):
			// a new word starts at an upper-case rune unless it continues an acronym
			if len(cur) > 0 && (!unicode.IsUpper(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				flush()
			}
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return words
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
