package analyzer

import (
	"context"
	"fmt"

	"github.com/ludo-technologies/sentinel/domain"
	"github.com/ludo-technologies/sentinel/internal/config"
	"github.com/ludo-technologies/sentinel/internal/parser"
	"github.com/ludo-technologies/sentinel/internal/rules"
)

// ComplexityResult holds cyclomatic complexity metrics for a function
type ComplexityResult struct {
	Complexity        int
	Edges             int
	Nodes             int
	FunctionName      string
	Span              domain.Span
	NestingDepth      int
	IfStatements      int
	LoopStatements    int
	ExceptionHandlers int
	RiskLevel         domain.RiskLevel
}

func (cr *ComplexityResult) String() string {
	return fmt.Sprintf("Function: %s, Complexity: %d, Risk: %s",
		cr.FunctionName, cr.Complexity, cr.RiskLevel)
}

// Metrics converts the result to its reported form
func (cr *ComplexityResult) Metrics() domain.FunctionMetrics {
	lines := 0
	if cr.Span.EndLine >= cr.Span.StartLine && cr.Span.StartLine > 0 {
		lines = cr.Span.EndLine - cr.Span.StartLine + 1
	}
	return domain.FunctionMetrics{
		Name:              cr.FunctionName,
		Span:              cr.Span,
		Complexity:        cr.Complexity,
		Nodes:             cr.Nodes,
		Edges:             cr.Edges,
		NestingDepth:      cr.NestingDepth,
		IfStatements:      cr.IfStatements,
		LoopStatements:    cr.LoopStatements,
		ExceptionHandlers: cr.ExceptionHandlers,
		Lines:             lines,
		Risk:              cr.RiskLevel,
	}
}

var defaultMetricsConfig = config.MetricsConfig{
	LowThreshold:    config.DefaultLowThreshold,
	MediumThreshold: config.DefaultMediumThreshold,
}

// CalculateComplexity computes McCabe cyclomatic complexity for a CFG using default thresholds
func CalculateComplexity(c *CFG) *ComplexityResult {
	return CalculateComplexityWithConfig(c, &defaultMetricsConfig)
}

// CalculateComplexityWithConfig computes McCabe cyclomatic complexity using
// the given thresholds. Complexity is one plus the decision points reachable
// in the graph: every branch condition and every exception handler. Finally
// clauses are inlined once per exit path, so a condition is counted once no
// matter how many blocks test it. Edges and Nodes cover the reachable blocks
// and their non-exception edges.
func CalculateComplexityWithConfig(c *CFG, mc *config.MetricsConfig) *ComplexityResult {
	if c == nil {
		return &ComplexityResult{
			Complexity: 0,
			RiskLevel:  domain.RiskLow,
		}
	}

	result := &ComplexityResult{FunctionName: c.Name}
	if c.Function != nil {
		result.Span = c.Function.Span
		result.NestingDepth = CalculateNestingDepth(c.Function)
	}

	type decision struct {
		cond  *parser.Node
		block int
	}
	seen := make(map[decision]bool)
	reachable := c.Reachable()
	for id, b := range c.Blocks {
		if !reachable[id] {
			continue
		}
		result.Nodes++
		if b.Label == LabelCatchBlock {
			result.ExceptionHandlers++
		}
		for _, e := range b.Succs {
			if e.Type == EdgeException {
				continue
			}
			if reachable[e.To] {
				result.Edges++
			}
			if e.Type != EdgeCondTrue {
				continue
			}
			key := decision{cond: e.Cond}
			if e.Cond == nil {
				key.block = id
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			if b.Label == LabelLoopHeader {
				result.LoopStatements++
			} else {
				result.IfStatements++
			}
		}
	}

	result.Complexity = 1 + result.IfStatements + result.LoopStatements + result.ExceptionHandlers
	result.RiskLevel = determineRiskLevel(result.Complexity, mc)
	return result
}

func determineRiskLevel(complexity int, mc *config.MetricsConfig) domain.RiskLevel {
	if complexity > mc.MediumThreshold {
		return domain.RiskHigh
	} else if complexity > mc.LowThreshold {
		return domain.RiskMedium
	}
	return domain.RiskLow
}

// CalculateNestingDepth calculates the maximum nesting depth of control
// structures in a function. Nested functions start their own count.
func CalculateNestingDepth(node *parser.Node) int {
	if node == nil {
		return 0
	}

	var depth func(n *parser.Node) int
	depth = func(n *parser.Node) int {
		deepest := 0
		for _, child := range n.Children {
			if child.Kind == parser.KindFunction {
				continue
			}
			d := depth(child)
			if isControlStructure(child) {
				d++
			}
			if d > deepest {
				deepest = d
			}
		}
		return deepest
	}
	return depth(node)
}

func isControlStructure(node *parser.Node) bool {
	switch node.Kind {
	case parser.KindIf, parser.KindLoop, parser.KindTry, parser.KindWith:
		return true
	}
	return false
}

// ComplexityAnalyzer analyzes complexity for multiple functions
type ComplexityAnalyzer struct {
	cfg *config.MetricsConfig
}

func NewComplexityAnalyzer(cfg *config.MetricsConfig) *ComplexityAnalyzer {
	if cfg == nil {
		cfg = &defaultMetricsConfig
	}
	return &ComplexityAnalyzer{cfg: cfg}
}

func (ca *ComplexityAnalyzer) AnalyzeFile(ast *parser.Node) ([]*ComplexityResult, error) {
	if ast == nil {
		return nil, fmt.Errorf("AST is nil")
	}

	cfgs, err := BuildAll(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build CFGs: %w", err)
	}

	var results []*ComplexityResult
	for _, cfg := range cfgs {
		results = append(results, CalculateComplexityWithConfig(cfg, ca.cfg))
	}
	return results, nil
}

// checkComplexity reports every function whose complexity exceeds the
// check's limit
func checkComplexity(ctx context.Context, def *rules.CheckDefinition, root *parser.Node, emit func(issue)) error {
	limit := def.MaxComplexity
	if limit <= 0 {
		limit = rules.DefaultMaxComplexity
	}
	cfgs, err := BuildAll(root)
	if err != nil {
		return err
	}
	for _, c := range cfgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		result := CalculateComplexity(c)
		if result.Complexity <= limit {
			continue
		}
		emit(issue{
			def:     def,
			span:    result.Span,
			subject: c.Name,
			message: messageOr(def, fmt.Sprintf("function '%s' has cyclomatic complexity %d, above the limit of %d",
				c.Name, result.Complexity, limit)),
		})
	}
	return nil
}
