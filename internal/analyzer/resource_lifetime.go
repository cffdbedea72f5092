package analyzer

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ludo-technologies/sentinel/domain"
	"github.com/ludo-technologies/sentinel/internal/parser"
	"github.com/ludo-technologies/sentinel/internal/rules"
)

// ResourceState is the per-variable lifetime state
type ResourceState uint8

const (
	Unacquired ResourceState = iota
	Acquired
	Released
)

// String returns the state name
func (s ResourceState) String() string {
	switch s {
	case Acquired:
		return "acquired"
	case Released:
		return "released"
	}
	return "unacquired"
}

// maxFixpointRounds bounds the dataflow iteration per block
const maxFixpointRounds = 64

// resourceVar is what the analysis knows about one variable at a point
type resourceVar struct {
	State     ResourceState
	Site      domain.Span
	Category  string
	Companion string
}

// flowState maps variable names to their state; absent means Unacquired
type flowState map[string]resourceVar

func (s flowState) clone() flowState {
	out := make(flowState, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

func (s flowState) equal(o flowState) bool {
	if len(s) != len(o) {
		return false
	}
	for k, v := range s {
		if ov, ok := o[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// joinStates merges predecessor states: Acquired if any predecessor holds the
// resource, Released only if every predecessor released it, else Unacquired
func joinStates(preds []flowState) flowState {
	out := make(flowState)
	if len(preds) == 0 {
		return out
	}
	names := make(map[string]bool)
	for _, p := range preds {
		for name := range p {
			names[name] = true
		}
	}
	for name := range names {
		var acquired *resourceVar
		released := 0
		var any resourceVar
		for _, p := range preds {
			v, ok := p[name]
			if !ok {
				continue
			}
			any = v
			switch v.State {
			case Acquired:
				if acquired == nil || spanBefore(v.Site, acquired.Site) {
					vv := v
					acquired = &vv
				}
			case Released:
				released++
			}
		}
		switch {
		case acquired != nil:
			out[name] = *acquired
		case released == len(preds):
			out[name] = any
		default:
			any.State = Unacquired
			out[name] = any
		}
	}
	return out
}

func spanBefore(a, b domain.Span) bool {
	if a.StartLine != b.StartLine {
		return a.StartLine < b.StartLine
	}
	return a.StartCol < b.StartCol
}

// resourceEvent is a leak or double acquisition found by the analysis
type resourceEvent struct {
	Variable string
	Category string
	Site     domain.Span
	Terminal domain.Span
	Double   bool
}

// ResourceAnalyzer tracks acquire/release pairs through a CFG
type ResourceAnalyzer struct {
	acquire map[string]string
	release map[string]map[string]bool
}

// NewResourceAnalyzer builds the token lookup of a resource_lifetime check
func NewResourceAnalyzer(def *rules.CheckDefinition) *ResourceAnalyzer {
	a := &ResourceAnalyzer{
		acquire: make(map[string]string),
		release: make(map[string]map[string]bool),
	}
	for _, category := range def.ResourceCategories() {
		tokens := def.Resources[category]
		for _, name := range tokens.Acquire {
			if _, ok := a.acquire[name]; !ok {
				a.acquire[name] = category
			}
		}
		set := make(map[string]bool, len(tokens.Release))
		for _, name := range tokens.Release {
			set[name] = true
		}
		a.release[category] = set
	}
	return a
}

// Analyze runs the dataflow over one function graph
func (a *ResourceAnalyzer) Analyze(ctx context.Context, cfg *CFG) ([]resourceEvent, error) {
	order := cfg.ReversePostOrder()
	in := make([]flowState, len(cfg.Blocks))
	out := make([]flowState, len(cfg.Blocks))
	visited := make([]bool, len(cfg.Blocks))

	for round := 0; ; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		changed := false
		for _, id := range order {
			state := a.blockInput(cfg, id, out, visited)
			in[id] = state
			next := a.transfer(cfg.Block(id), state.clone(), nil)
			if !visited[id] || !next.equal(out[id]) {
				visited[id] = true
				out[id] = next
				changed = true
			}
		}
		if !changed || round >= maxFixpointRounds {
			break
		}
	}

	var events []resourceEvent
	seen := make(map[string]bool)
	report := func(ev resourceEvent) {
		key := fmt.Sprintf("%s@%d:%d", ev.Variable, ev.Site.StartLine, ev.Site.StartCol)
		if !seen[key] {
			seen[key] = true
			events = append(events, ev)
		}
	}
	for _, id := range order {
		a.transfer(cfg.Block(id), in[id].clone(), report)
	}

	// every edge into Exit with a resource still held is a leak
	for _, e := range cfg.Block(cfg.Exit).Preds {
		if !visited[e.From] {
			continue
		}
		terminal := terminalSpan(cfg, e.From)
		held := out[e.From]
		names := make([]string, 0, len(held))
		for name, v := range held {
			if v.State == Acquired {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		for _, name := range names {
			v := held[name]
			events = append(events, resourceEvent{
				Variable: name,
				Category: v.Category,
				Site:     v.Site,
				Terminal: terminal,
			})
		}
	}
	return events, nil
}

// blockInput joins the refined outputs of visited predecessors
func (a *ResourceAnalyzer) blockInput(cfg *CFG, id int, out []flowState, visited []bool) flowState {
	if id == cfg.Entry {
		return make(flowState)
	}
	var preds []flowState
	for _, e := range cfg.Block(id).Preds {
		if !visited[e.From] {
			continue
		}
		preds = append(preds, refineEdge(e, out[e.From]))
	}
	return joinStates(preds)
}

// terminalSpan locates where a path into Exit ends
func terminalSpan(cfg *CFG, id int) domain.Span {
	if last := cfg.Block(id).LastStatement(); last != nil {
		return last.Span
	}
	fn := cfg.Function.Span
	return domain.Span{File: fn.File, StartLine: fn.EndLine, StartCol: fn.EndCol, EndLine: fn.EndLine, EndCol: fn.EndCol}
}

// transfer applies the statements of a block in order
func (a *ResourceAnalyzer) transfer(block *BasicBlock, state flowState, report func(resourceEvent)) flowState {
	for _, stmt := range block.Statements {
		a.applyStatement(stmt, state, report)
	}
	return state
}

func (a *ResourceAnalyzer) applyStatement(stmt *parser.Node, state flowState, report func(resourceEvent)) {
	// releases anywhere in the statement, including inside an assignment value
	forEachCall(stmt, func(call *parser.Node) {
		a.applyRelease(call, state)
	})

	// declarations wrap their initializers in a statement node
	forEachAssign(stmt, func(assign *parser.Node) {
		a.applyAssign(assign, state, report)
	})

	if stmt.Kind == parser.KindReturn {
		for _, name := range returnedNames(stmt.Attr(parser.AttrText)) {
			if v, ok := state[name]; ok && v.State == Acquired {
				// ownership moves to the caller
				v.State = Released
				state[name] = v
			}
		}
	}
}

func (a *ResourceAnalyzer) applyRelease(call *parser.Node, state flowState) {
	name := call.Name()
	if name == "" {
		name = parser.LastSegment(call.Attr(parser.AttrCallee))
	}
	subjects := []string{call.Attr(parser.AttrReceiver)}
	if args := call.Attr(parser.AttrArgs); args != "" {
		subjects = append(subjects, strings.TrimSpace(strings.Split(args, ",")[0]))
	}
	for _, subject := range subjects {
		subject = strings.TrimSuffix(strings.TrimPrefix(subject, "&"), "^")
		v, ok := state[subject]
		if !ok || v.State == Released {
			continue
		}
		if a.release[v.Category][name] {
			v.State = Released
			state[subject] = v
		}
	}
}

func (a *ResourceAnalyzer) applyAssign(stmt *parser.Node, state flowState, report func(resourceEvent)) {
	target := stmt.Attr(parser.AttrTarget)
	if target == "" || !isLocalName(target) {
		return
	}

	var acquireCall *parser.Node
	category := ""
	forEachCall(stmt, func(call *parser.Node) {
		if acquireCall != nil {
			return
		}
		name := call.Name()
		if name == "" {
			name = parser.LastSegment(call.Attr(parser.AttrCallee))
		}
		if c, ok := a.acquire[name]; ok {
			acquireCall, category = call, c
		}
	})
	if acquireCall == nil {
		return
	}

	if prev, ok := state[target]; ok && prev.State == Acquired && report != nil {
		report(resourceEvent{
			Variable: target,
			Category: category,
			Site:     acquireCall.Span,
			Terminal: prev.Site,
			Double:   true,
		})
	}
	state[target] = resourceVar{
		State:     Acquired,
		Site:      acquireCall.Span,
		Category:  category,
		Companion: stmt.Attr(parser.AttrCompanion),
	}
}

// forEachCall visits call nodes of a statement without entering nested functions
func forEachCall(n *parser.Node, visit func(*parser.Node)) {
	n.Walk(func(c *parser.Node) bool {
		if c.Kind == parser.KindFunction {
			return false
		}
		if c.Kind == parser.KindCall {
			visit(c)
		}
		return true
	})
}

// forEachAssign visits the outermost assignments of a statement without
// entering nested functions
func forEachAssign(n *parser.Node, visit func(*parser.Node)) {
	n.Walk(func(c *parser.Node) bool {
		switch c.Kind {
		case parser.KindFunction:
			return false
		case parser.KindAssign:
			visit(c)
			return false
		}
		return true
	})
}

// isLocalName reports whether an assignment target is a plain variable.
// Fields and index expressions hand the resource to another owner.
func isLocalName(target string) bool {
	for i := 0; i < len(target); i++ {
		c := target[i]
		if !(c == '_' || c == '$' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c >= 0x80) {
			return false
		}
	}
	return target != "" && target != "_"
}

// returnedNames extracts the bare names a return statement hands back
func returnedNames(text string) []string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "return")
	text = strings.TrimSuffix(strings.TrimSpace(text), ";")
	text = strings.Trim(strings.TrimSpace(text), "()")
	if text == "" {
		return nil
	}
	var names []string
	for _, part := range strings.Split(text, ",") {
		part = strings.TrimSpace(part)
		part = strings.TrimSuffix(part, "^")
		part = strings.TrimPrefix(part, "move ")
		if isLocalName(part) {
			names = append(names, part)
		}
	}
	return names
}

var (
	nilLiteral  = `(?:nil|None|NULL|null|undefined|nullptr)`
	reEqNil     = regexp.MustCompile(`^\(?\s*([\w$]+)\s*(?:==|===|is)\s*` + nilLiteral + `\s*\)?$`)
	reNeNil     = regexp.MustCompile(`^\(?\s*([\w$]+)\s*(?:!=|!==|is\s+not)\s*` + nilLiteral + `\s*\)?$`)
	reNilEq     = regexp.MustCompile(`^\(?\s*` + nilLiteral + `\s*(?:==|===)\s*([\w$]+)\s*\)?$`)
	reNilNe     = regexp.MustCompile(`^\(?\s*` + nilLiteral + `\s*(?:!=|!==)\s*([\w$]+)\s*\)?$`)
	reNot       = regexp.MustCompile(`^\(?\s*(?:!|not\s+)\s*([\w$]+)\s*\)?$`)
	reBareIdent = regexp.MustCompile(`^\(?\s*([\w$]+)\s*\)?$`)

	// (fp = fopen(p, "r")) tests the assigned variable
	reEmbeddedAssign = regexp.MustCompile(`\(\s*([\w$]+)\s*=[^=()]*(?:\([^()]*\)[^()]*)*\)`)
)

// refineEdge narrows the state along a branch: on the side where the
// acquisition failed (the variable is nil, or its companion error is set)
// nothing is held
func refineEdge(e Edge, state flowState) flowState {
	if e.Cond == nil || (e.Type != EdgeCondTrue && e.Type != EdgeCondFalse) || len(state) == 0 {
		return state
	}
	text := strings.TrimSpace(e.Cond.Attr(parser.AttrText))
	if text == "" {
		return state
	}
	text = reEmbeddedAssign.ReplaceAllString(text, "$1")

	// name is "nil" on the true branch when nilOnTrue
	var name string
	nilOnTrue := false
	if m := reEqNil.FindStringSubmatch(text); m != nil {
		name, nilOnTrue = m[1], true
	} else if m := reNilEq.FindStringSubmatch(text); m != nil {
		name, nilOnTrue = m[1], true
	} else if m := reNeNil.FindStringSubmatch(text); m != nil {
		name = m[1]
	} else if m := reNilNe.FindStringSubmatch(text); m != nil {
		name = m[1]
	} else if m := reNot.FindStringSubmatch(text); m != nil {
		name, nilOnTrue = m[1], true
	} else if m := reBareIdent.FindStringSubmatch(text); m != nil {
		name = m[1]
	} else {
		return state
	}

	nilBranch := (e.Type == EdgeCondTrue) == nilOnTrue
	refined := state
	copied := false
	for v, rv := range state {
		if rv.State != Acquired {
			continue
		}
		failed := false
		switch {
		case v == name:
			failed = nilBranch
		case rv.Companion != "" && rv.Companion == name:
			// the companion error is non-nil exactly when the acquisition failed
			failed = !nilBranch
		}
		if !failed {
			continue
		}
		if !copied {
			refined = state.clone()
			copied = true
		}
		rv.State = Unacquired
		refined[v] = rv
	}
	return refined
}

// checkResourceLifetime builds a graph per function and analyzes them concurrently
func checkResourceLifetime(ctx context.Context, def *rules.CheckDefinition, root *parser.Node, emit func(issue)) error {
	cfgs, err := BuildAll(root)
	if err != nil {
		return err
	}
	analyzer := NewResourceAnalyzer(def)

	results := make([][]resourceEvent, len(cfgs))
	g, gctx := errgroup.WithContext(ctx)
	for i, cfg := range cfgs {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("analyzing '%s' panicked: %v", cfg.Name, r)
				}
			}()
			events, err := analyzer.Analyze(gctx, cfg)
			if err != nil {
				return err
			}
			results[i] = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, events := range results {
		fnName := cfgs[i].Name
		for _, ev := range events {
			if ev.Double {
				emit(issue{
					def:     def,
					span:    ev.Site,
					subject: ev.Variable,
					double:  true,
					message: fmt.Sprintf("%s resource '%s' in '%s' is acquired again at line %d while still held from line %d",
						ev.Category, ev.Variable, fnName, ev.Site.StartLine, ev.Terminal.StartLine),
					related: []domain.Span{ev.Terminal},
				})
				continue
			}
			emit(issue{
				def:     def,
				span:    ev.Site,
				subject: ev.Variable,
				message: fmt.Sprintf("%s resource '%s' acquired in '%s' is not released on the path ending at line %d",
					ev.Category, ev.Variable, fnName, ev.Terminal.StartLine),
				related: []domain.Span{ev.Terminal},
			})
		}
	}
	return nil
}
