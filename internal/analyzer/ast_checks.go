package analyzer

import (
	"context"
	"fmt"
	"strings"

	"github.com/ludo-technologies/sentinel/internal/parser"
	"github.com/ludo-technologies/sentinel/internal/rules"
)

// checkAST evaluates one AST-category check against a parsed tree
func checkAST(ctx context.Context, def *rules.CheckDefinition, root *parser.Node, emit func(issue)) error {
	switch def.Kind {
	case rules.KindNaming:
		checkNaming(def, root, emit)
	case rules.KindTypeHints:
		checkTypeHints(def, root, emit)
	case rules.KindUnsafeFunctions:
		checkUnsafeCalls(def, root, emit)
	case rules.KindOwnership:
		checkOwnership(def, root, emit)
	case rules.KindResourceLifetime:
		return checkResourceLifetime(ctx, def, root, emit)
	case rules.KindUnreachableCode:
		return checkUnreachableCode(ctx, def, root, emit)
	case rules.KindComplexity:
		return checkComplexity(ctx, def, root, emit)
	default:
		return fmt.Errorf("kind '%s' has no AST evaluation", def.Kind)
	}
	return nil
}

func checkNaming(def *rules.CheckDefinition, root *parser.Node, emit func(issue)) {
	kind := parser.KindFunction
	noun := "function"
	if def.Target == rules.TargetStruct {
		kind = parser.KindStruct
		noun = "struct"
	}

	root.Walk(func(n *parser.Node) bool {
		if n.Kind != kind {
			return true
		}
		name := n.Name()
		if name == "" || def.Pattern.MatchString(name) {
			return true
		}
		emit(issue{
			def:     def,
			span:    n.Span,
			subject: name,
			message: messageOr(def, fmt.Sprintf("%s name '%s' does not match pattern %s", noun, name, def.Pattern)),
		})
		return true
	})
}

func checkTypeHints(def *rules.CheckDefinition, root *parser.Node, emit func(issue)) {
	for _, fn := range root.Functions() {
		for _, p := range fn.Children {
			if p.Kind != parser.KindParam || p.HasAttr(parser.AttrImplicit) {
				continue
			}
			name := p.Name()
			if name == "" || p.Attr(parser.AttrType) != "" {
				continue
			}
			emit(issue{
				def:     def,
				span:    p.Span,
				subject: name,
				message: messageOr(def, fmt.Sprintf("parameter '%s' of '%s' has no type annotation", name, resolveFunctionName(fn))),
			})
		}
	}
}

func checkUnsafeCalls(def *rules.CheckDefinition, root *parser.Node, emit func(issue)) {
	root.Walk(func(n *parser.Node) bool {
		if n.Kind != parser.KindCall {
			return true
		}
		name := n.Name()
		if name == "" {
			name = parser.LastSegment(n.Attr(parser.AttrCallee))
		}
		if name != "" && def.IsDenied(name) {
			emit(issue{
				def:     def,
				span:    n.Span,
				subject: name,
				message: messageOr(def, fmt.Sprintf("call to unsafe function '%s'", name)),
			})
		}
		return true
	})
}

// checkOwnership looks up the required annotation tokens on every
// explicit parameter. In any mode a parameter carrying none of the tokens
// is one finding; in all mode each missing token is one finding.
func checkOwnership(def *rules.CheckDefinition, root *parser.Node, emit func(issue)) {
	required := def.RequiredAnnotations
	for _, fn := range root.Functions() {
		fnName := resolveFunctionName(fn)
		for _, p := range fn.Children {
			if p.Kind != parser.KindParam || p.HasAttr(parser.AttrImplicit) {
				continue
			}
			have := make(map[string]bool)
			for _, a := range p.Annotations() {
				have[a] = true
			}
			var missing []string
			for _, tok := range required {
				if !have[tok] {
					missing = append(missing, tok)
				}
			}
			present := len(required) - len(missing)

			if def.AnnotationMatch == rules.MatchAll {
				// unannotated params are only reported when enforcement is on
				if len(missing) == 0 || (present == 0 && !def.EnforceAnnotations) {
					continue
				}
				for _, tok := range missing {
					msg := fmt.Sprintf("parameter '%s' of '%s' is missing annotation '%s'", p.Name(), fnName, tok)
					if def.Message != "" {
						msg = fmt.Sprintf("%s: '%s'", def.Message, tok)
					}
					emit(issue{
						def:     def,
						span:    p.Span,
						subject: p.Name(),
						hint:    []string{tok},
						message: msg,
					})
				}
				continue
			}

			if present > 0 || !def.EnforceAnnotations {
				continue
			}
			emit(issue{
				def:     def,
				span:    p.Span,
				subject: p.Name(),
				hint:    required,
				message: messageOr(def, fmt.Sprintf("parameter '%s' of '%s' has none of the annotations %s",
					p.Name(), fnName, strings.Join(required, ", "))),
			})
		}
	}
}

func messageOr(def *rules.CheckDefinition, fallback string) string {
	if def.Message != "" {
		return def.Message
	}
	return fallback
}
