package analyzer

import (
	"context"
	"fmt"
	"sort"

	"github.com/ludo-technologies/sentinel/internal/parser"
	"github.com/ludo-technologies/sentinel/internal/rules"
)

// ReachabilityResult partitions the blocks of one graph by whether control
// can reach them from Entry
type ReachabilityResult struct {
	Reachable        []bool
	TotalBlocks      int
	ReachableCount   int
	UnreachableCount int
}

// AnalyzeReachability marks every block reachable from the graph's entry
func AnalyzeReachability(c *CFG) *ReachabilityResult {
	result := &ReachabilityResult{}
	if c == nil || len(c.Blocks) == 0 {
		return result
	}
	result.Reachable = c.Reachable()
	result.TotalBlocks = len(c.Blocks)
	for _, ok := range result.Reachable {
		if ok {
			result.ReachableCount++
		} else {
			result.UnreachableCount++
		}
	}
	return result
}

// HasUnreachableCode reports whether any unreachable block holds a statement
func (r *ReachabilityResult) HasUnreachableCode(c *CFG) bool {
	return len(r.DeadRegions(c)) > 0
}

// DeadRegions returns the first statement of each region of code that no
// path from Entry executes, in source order. A region starts at an
// unreachable block without predecessors, which the builder creates after
// return, throw, break and continue. Statements that also appear in a
// reachable block, such as inlined finally clauses, are never reported.
func (r *ReachabilityResult) DeadRegions(c *CFG) []*parser.Node {
	if r.UnreachableCount == 0 {
		return nil
	}

	live := make(map[*parser.Node]bool)
	for id, b := range c.Blocks {
		if r.Reachable[id] {
			for _, stmt := range b.Statements {
				live[stmt] = true
			}
		}
	}

	seen := make(map[*parser.Node]bool)
	var out []*parser.Node
	for id, b := range c.Blocks {
		if r.Reachable[id] || len(b.Preds) > 0 {
			continue
		}
		first := r.firstStatement(c, id, live)
		if first != nil && !seen[first] {
			seen[first] = true
			out = append(out, first)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Span, out[j].Span
		if a.StartLine != b.StartLine {
			return a.StartLine < b.StartLine
		}
		return a.StartCol < b.StartCol
	})
	return out
}

// firstStatement walks the unreachable blocks reachable from root and
// returns the earliest statement in source order
func (r *ReachabilityResult) firstStatement(c *CFG, root int, live map[*parser.Node]bool) *parser.Node {
	var first *parser.Node
	visited := map[int]bool{root: true}
	stack := []int{root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, stmt := range c.Blocks[id].Statements {
			if live[stmt] {
				continue
			}
			if first == nil || before(stmt, first) {
				first = stmt
			}
		}
		for _, e := range c.Blocks[id].Succs {
			if !r.Reachable[e.To] && !visited[e.To] {
				visited[e.To] = true
				stack = append(stack, e.To)
			}
		}
	}
	return first
}

func before(a, b *parser.Node) bool {
	if a.Span.StartLine != b.Span.StartLine {
		return a.Span.StartLine < b.Span.StartLine
	}
	return a.Span.StartCol < b.Span.StartCol
}

// checkUnreachableCode reports one finding per dead region of every function
func checkUnreachableCode(ctx context.Context, def *rules.CheckDefinition, root *parser.Node, emit func(issue)) error {
	cfgs, err := BuildAll(root)
	if err != nil {
		return err
	}
	for _, c := range cfgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, stmt := range AnalyzeReachability(c).DeadRegions(c) {
			emit(issue{
				def:     def,
				span:    stmt.Span,
				subject: c.Name,
				message: messageOr(def, fmt.Sprintf("unreachable code in '%s'", c.Name)),
			})
		}
	}
	return nil
}
