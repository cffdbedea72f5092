package analyzer

import (
	"context"
	"testing"

	"github.com/ludo-technologies/sentinel/domain"
	"github.com/ludo-technologies/sentinel/internal/parser"
)

// Helpers building generic trees the way extractors emit them

func spanAt(line int) domain.Span {
	return domain.Span{StartLine: line, StartCol: 1, EndLine: line, EndCol: 2}
}

func roleBlock(role string, children ...*parser.Node) *parser.Node {
	n := parser.NewNode(parser.KindBlock, domain.Span{})
	n.SetAttr(parser.AttrRole, role)
	for _, c := range children {
		n.AddChild(c)
	}
	return n
}

func condNode(line int, text string) *parser.Node {
	n := parser.NewNode(parser.KindExpr, spanAt(line))
	n.SetAttr(parser.AttrRole, parser.RoleCond)
	n.SetAttr(parser.AttrText, text)
	return n
}

func stmtNode(line int) *parser.Node {
	return parser.NewNode(parser.KindStmt, spanAt(line))
}

func fnNode(name string, line int, body ...*parser.Node) *parser.Node {
	n := parser.NewNode(parser.KindFunction, spanAt(line))
	n.SetAttr(parser.AttrName, name)
	n.AddChild(roleBlock(parser.RoleBody, body...))
	return n
}

func ifNode(line int, cond string, then []*parser.Node, els []*parser.Node) *parser.Node {
	n := parser.NewNode(parser.KindIf, spanAt(line))
	n.AddChild(condNode(line, cond))
	n.AddChild(roleBlock(parser.RoleThen, then...))
	if els != nil {
		n.AddChild(roleBlock(parser.RoleElse, els...))
	}
	return n
}

func loopNode(line int, cond string, body ...*parser.Node) *parser.Node {
	n := parser.NewNode(parser.KindLoop, spanAt(line))
	n.AddChild(condNode(line, cond))
	n.AddChild(roleBlock(parser.RoleBody, body...))
	return n
}

func tryNode(line int, body []*parser.Node, handlers [][]*parser.Node, finally []*parser.Node) *parser.Node {
	n := parser.NewNode(parser.KindTry, spanAt(line))
	n.AddChild(roleBlock(parser.RoleBody, body...))
	for _, h := range handlers {
		n.AddChild(roleBlock(parser.RoleHandler, h...))
	}
	if finally != nil {
		n.AddChild(roleBlock(parser.RoleFinally, finally...))
	}
	return n
}

func jumpNode(kind string, line int, text string) *parser.Node {
	n := parser.NewNode(kind, spanAt(line))
	n.SetAttr(parser.AttrText, text)
	return n
}

func callNode(line int, callee, receiver, args string) *parser.Node {
	n := parser.NewNode(parser.KindCall, spanAt(line))
	n.SetAttr(parser.AttrCallee, callee)
	n.SetAttr(parser.AttrName, parser.LastSegment(callee))
	n.SetAttr(parser.AttrReceiver, receiver)
	n.SetAttr(parser.AttrArgs, args)
	return n
}

func assignNode(line int, target string, value *parser.Node) *parser.Node {
	n := parser.NewNode(parser.KindAssign, spanAt(line))
	n.SetAttr(parser.AttrTarget, target)
	n.AddChild(value)
	return n
}

// parseSource runs the configured extractor of a language over src
func parseSource(t *testing.T, language, backend, src string) *parser.Node {
	t.Helper()
	e, err := parser.NewExtractor(language, backend)
	if err != nil {
		t.Fatalf("NewExtractor(%s, %s): %v", language, backend, err)
	}
	root, err := e.Extract(context.Background(), "test."+language, []byte(src))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	return root
}

func buildCFG(t *testing.T, fn *parser.Node) *CFG {
	t.Helper()
	cfg, err := NewCFGBuilder().Build(fn)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return cfg
}

func blocksLabeled(cfg *CFG, label string) []int {
	var out []int
	for _, b := range cfg.Blocks {
		if b.Label == label {
			out = append(out, b.ID)
		}
	}
	return out
}

func edgesOfType(cfg *CFG, t EdgeType) []Edge {
	var out []Edge
	for _, b := range cfg.Blocks {
		for _, e := range b.Succs {
			if e.Type == t {
				out = append(out, e)
			}
		}
	}
	return out
}

func TestCFGBuilder_Build_InvalidInput(t *testing.T) {
	builder := NewCFGBuilder()

	if cfg, err := builder.Build(nil); err == nil || cfg != nil {
		t.Error("Build(nil) should fail")
	}
	if _, err := builder.Build(stmtNode(1)); err == nil {
		t.Error("Build of a non-function node should fail")
	}
}

func TestCFGBuilder_StraightLine(t *testing.T) {
	cfg := buildCFG(t, fnNode("simple", 1, stmtNode(2), stmtNode(3)))

	if cfg.Name != "simple" {
		t.Errorf("Name = %q", cfg.Name)
	}
	bodies := blocksLabeled(cfg, "func_body")
	if len(bodies) != 1 {
		t.Fatalf("expected one body block, got %v", bodies)
	}
	body := cfg.Block(bodies[0])
	if len(body.Statements) != 2 {
		t.Errorf("expected 2 statements in body, got %d", len(body.Statements))
	}
	if !cfg.HasEdge(cfg.Entry, body.ID) || !cfg.HasEdge(body.ID, cfg.Exit) {
		t.Error("body should sit between entry and exit")
	}
}

func TestCFGBuilder_IfElse(t *testing.T) {
	fn := fnNode("branch", 1,
		ifNode(2, "x > 0", []*parser.Node{stmtNode(3)}, []*parser.Node{stmtNode(5)}),
		stmtNode(6),
	)
	cfg := buildCFG(t, fn)

	then := blocksLabeled(cfg, LabelIfThen)
	els := blocksLabeled(cfg, LabelIfElse)
	merge := blocksLabeled(cfg, LabelIfMerge)
	if len(then) != 1 || len(els) != 1 || len(merge) != 1 {
		t.Fatalf("expected then/else/merge blocks, got %d/%d/%d", len(then), len(els), len(merge))
	}

	trueEdges := edgesOfType(cfg, EdgeCondTrue)
	falseEdges := edgesOfType(cfg, EdgeCondFalse)
	if len(trueEdges) != 1 || trueEdges[0].To != then[0] {
		t.Errorf("true edge should enter then block: %+v", trueEdges)
	}
	if len(falseEdges) != 1 || falseEdges[0].To != els[0] {
		t.Errorf("false edge should enter else block: %+v", falseEdges)
	}
	if trueEdges[0].Cond == nil || trueEdges[0].Cond.Attr(parser.AttrText) != "x > 0" {
		t.Error("branch edges should carry the condition")
	}

	if !cfg.HasEdge(then[0], merge[0]) || !cfg.HasEdge(els[0], merge[0]) {
		t.Error("both branches should flow into merge")
	}
	if len(cfg.Block(merge[0]).Statements) != 1 {
		t.Error("statement after the if belongs to merge")
	}
}

func TestCFGBuilder_IfWithoutElse(t *testing.T) {
	cfg := buildCFG(t, fnNode("f", 1, ifNode(2, "ok", []*parser.Node{stmtNode(3)}, nil)))

	merge := blocksLabeled(cfg, LabelIfMerge)
	falseEdges := edgesOfType(cfg, EdgeCondFalse)
	if len(falseEdges) != 1 || falseEdges[0].To != merge[0] {
		t.Errorf("false edge should go straight to merge: %+v", falseEdges)
	}
	if len(blocksLabeled(cfg, LabelIfElse)) != 0 {
		t.Error("no else block expected")
	}
}

func TestCFGBuilder_EarlyReturn(t *testing.T) {
	fn := fnNode("early", 1,
		ifNode(2, "bad", []*parser.Node{jumpNode(parser.KindReturn, 3, "return None")}, nil),
		stmtNode(4),
	)
	cfg := buildCFG(t, fn)

	returns := edgesOfType(cfg, EdgeReturn)
	if len(returns) != 1 {
		t.Fatalf("expected one return edge, got %d", len(returns))
	}
	then := blocksLabeled(cfg, LabelIfThen)[0]
	if returns[0].From != then || returns[0].To != cfg.Exit {
		t.Errorf("return edge should leave the then block for exit: %+v", returns[0])
	}

	unreachable := blocksLabeled(cfg, LabelUnreachable)
	if len(unreachable) != 1 {
		t.Fatalf("expected an unreachable block after return, got %v", unreachable)
	}
	reach := cfg.Reachable()
	if reach[unreachable[0]] {
		t.Error("code after return should be unreachable")
	}
}

func TestCFGBuilder_LoopWithBreakAndContinue(t *testing.T) {
	fn := fnNode("loop", 1,
		loopNode(2, "i < n",
			ifNode(3, "skip", []*parser.Node{jumpNode(parser.KindContinue, 4, "")}, nil),
			ifNode(5, "done", []*parser.Node{jumpNode(parser.KindBreak, 6, "")}, nil),
			stmtNode(7),
		),
	)
	cfg := buildCFG(t, fn)

	header := blocksLabeled(cfg, LabelLoopHeader)
	exit := blocksLabeled(cfg, LabelLoopExit)
	if len(header) != 1 || len(exit) != 1 {
		t.Fatalf("expected loop header and exit blocks")
	}

	if e := edgesOfType(cfg, EdgeContinue); len(e) != 1 || e[0].To != header[0] {
		t.Errorf("continue should jump to header: %+v", e)
	}
	if e := edgesOfType(cfg, EdgeBreak); len(e) != 1 || e[0].To != exit[0] {
		t.Errorf("break should jump to loop exit: %+v", e)
	}
	if e := edgesOfType(cfg, EdgeLoop); len(e) != 1 || e[0].To != header[0] {
		t.Errorf("body should loop back to header: %+v", e)
	}
	if !cfg.HasEdge(exit[0], cfg.Exit) {
		t.Error("loop exit should flow to function exit")
	}
}

func TestCFGBuilder_TryExcept(t *testing.T) {
	fn := fnNode("guarded", 1,
		tryNode(2,
			[]*parser.Node{stmtNode(3)},
			[][]*parser.Node{{stmtNode(5)}, {stmtNode(7)}},
			nil),
		stmtNode(8),
	)
	cfg := buildCFG(t, fn)

	tryBlock := blocksLabeled(cfg, LabelTryBlock)
	handlers := blocksLabeled(cfg, LabelCatchBlock)
	merge := blocksLabeled(cfg, LabelTryMerge)
	if len(tryBlock) != 1 || len(handlers) != 2 || len(merge) != 1 {
		t.Fatalf("unexpected block layout: try=%v handlers=%v merge=%v", tryBlock, handlers, merge)
	}
	for _, h := range handlers {
		if !cfg.HasEdge(tryBlock[0], h) {
			t.Errorf("try block should have an exception edge to handler %d", h)
		}
		if !cfg.HasEdge(h, merge[0]) {
			t.Errorf("handler %d should flow into merge", h)
		}
	}
	if len(edgesOfType(cfg, EdgeException)) != 2 {
		t.Error("expected one exception edge per handler")
	}
}

func TestCFGBuilder_ReturnRunsFinally(t *testing.T) {
	fn := fnNode("cleanup", 1,
		tryNode(2,
			[]*parser.Node{jumpNode(parser.KindReturn, 3, "return x")},
			nil,
			[]*parser.Node{stmtNode(5)}),
	)
	cfg := buildCFG(t, fn)

	finals := blocksLabeled(cfg, LabelFinallyBlock)
	// inlined before the return, unwinding an exception, and on the fall-through path
	if len(finals) != 3 {
		t.Fatalf("expected 3 finally blocks, got %d", len(finals))
	}

	returns := edgesOfType(cfg, EdgeReturn)
	if len(returns) != 1 {
		t.Fatalf("expected one return edge, got %d", len(returns))
	}
	from := cfg.Block(returns[0].From)
	if from.Label != LabelFinallyBlock {
		t.Errorf("return should leave through the finally copy, left from %q", from.Label)
	}
	if from.LastStatement() == nil || from.LastStatement().Span.StartLine != 5 {
		t.Error("finally copy should hold the finally statements")
	}
}

func TestCFGBuilder_ThrowWithoutHandler(t *testing.T) {
	fn := fnNode("fail", 1, jumpNode(parser.KindThrow, 2, "raise ValueError()"))
	cfg := buildCFG(t, fn)

	exc := edgesOfType(cfg, EdgeException)
	if len(exc) != 1 || exc[0].To != cfg.Exit {
		t.Errorf("uncaught throw should reach exit by an exception edge: %+v", exc)
	}
}

func TestCFGBuilder_ThrowInsideTryReachesHandler(t *testing.T) {
	fn := fnNode("f", 1,
		tryNode(2,
			[]*parser.Node{jumpNode(parser.KindThrow, 3, "raise E()")},
			[][]*parser.Node{{stmtNode(5)}},
			nil),
	)
	cfg := buildCFG(t, fn)

	handler := blocksLabeled(cfg, LabelCatchBlock)[0]
	for _, e := range edgesOfType(cfg, EdgeException) {
		if e.To == cfg.Exit {
			t.Error("a caught throw must not reach exit directly")
		}
	}
	found := false
	for _, e := range cfg.Block(handler).Preds {
		if e.Type == EdgeException && cfg.Block(e.From).LastStatement() != nil &&
			cfg.Block(e.From).LastStatement().Kind == parser.KindThrow {
			found = true
		}
	}
	if !found {
		t.Error("throw should connect to the handler")
	}
}

func TestCFGBuilder_TryStatementsRaise(t *testing.T) {
	fn := fnNode("f", 1,
		tryNode(2,
			[]*parser.Node{stmtNode(3), stmtNode(4)},
			[][]*parser.Node{{stmtNode(6)}},
			nil),
	)
	cfg := buildCFG(t, fn)

	handler := cfg.Block(blocksLabeled(cfg, LabelCatchBlock)[0])
	// the handler sees the state before each statement of the body
	var before []int
	for _, e := range handler.Preds {
		if e.Type != EdgeException {
			t.Errorf("unexpected %s edge into the handler", e.Type)
			continue
		}
		line := 0
		if last := cfg.Block(e.From).LastStatement(); last != nil {
			line = last.Span.StartLine
		}
		before = append(before, line)
	}
	if len(before) != 2 || before[0] != 0 || before[1] != 3 {
		t.Errorf("handler entered after lines %v, want [0 3]", before)
	}
	if len(blocksLabeled(cfg, LabelTryBlock)) != 1 {
		t.Error("expected a single try entry block")
	}
}

func TestCFGBuilder_TryFinallyExceptionLeavesFunction(t *testing.T) {
	fn := fnNode("f", 1,
		tryNode(2, []*parser.Node{stmtNode(3)}, nil, []*parser.Node{stmtNode(5)}),
		stmtNode(6),
	)
	cfg := buildCFG(t, fn)

	var unwinding []Edge
	for _, e := range edgesOfType(cfg, EdgeException) {
		if e.To == cfg.Exit {
			unwinding = append(unwinding, e)
		}
	}
	if len(unwinding) != 1 {
		t.Fatalf("expected one exception edge into exit, got %+v", unwinding)
	}
	from := cfg.Block(unwinding[0].From)
	if from.Label != LabelFinallyBlock || from.LastStatement().Span.StartLine != 5 {
		t.Errorf("exception should leave through the finally copy, left from %q", from.Label)
	}

	merge := cfg.Block(blocksLabeled(cfg, LabelTryMerge)[0])
	for _, e := range merge.Preds {
		if e.Type != EdgeNormal || e.From == from.ID {
			t.Errorf("only normal completion reaches the statement after the try: %+v", e)
		}
	}
}

func TestCFGBuilder_NestedFinallyRethrowsToOuterHandler(t *testing.T) {
	inner := tryNode(3, []*parser.Node{stmtNode(4)}, nil, []*parser.Node{stmtNode(6)})
	fn := fnNode("f", 1,
		tryNode(2, []*parser.Node{inner}, [][]*parser.Node{{stmtNode(8)}}, nil),
	)
	cfg := buildCFG(t, fn)

	handler := blocksLabeled(cfg, LabelCatchBlock)[0]
	found := false
	for _, e := range cfg.Block(handler).Preds {
		from := cfg.Block(e.From)
		if from.Label == LabelFinallyBlock && e.Type == EdgeException {
			found = true
		}
	}
	if !found {
		t.Error("the inner finally should rethrow into the outer handler")
	}
	for _, e := range edgesOfType(cfg, EdgeException) {
		if e.To == cfg.Exit {
			t.Error("a caught exception must not reach exit")
		}
	}
}

func TestBuildAll_NestedFunctions(t *testing.T) {
	inner := fnNode("inner", 3, stmtNode(4))
	outer := fnNode("outer", 1, stmtNode(2), inner, stmtNode(5))
	anon := parser.NewNode(parser.KindFunction, spanAt(9))
	anon.AddChild(roleBlock(parser.RoleBody, stmtNode(10)))

	root := parser.NewNode(parser.KindModule, domain.Span{})
	root.AddChild(outer)
	root.AddChild(anon)

	cfgs, err := BuildAll(root)
	if err != nil {
		t.Fatalf("BuildAll: %v", err)
	}
	if len(cfgs) != 3 {
		t.Fatalf("expected 3 graphs, got %d", len(cfgs))
	}
	names := []string{cfgs[0].Name, cfgs[1].Name, cfgs[2].Name}
	want := []string{"outer", "inner", "anonymous_9"}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("graph %d name = %q, want %q", i, names[i], want[i])
		}
	}

	body := cfgs[0].Block(blocksLabeled(cfgs[0], "func_body")[0])
	if len(body.Statements) != 2 {
		t.Errorf("nested function should not be part of the outer graph, got %d statements", len(body.Statements))
	}

	if _, err := BuildAll(nil); err == nil {
		t.Error("BuildAll(nil) should fail")
	}
}

func TestCFGBuilder_FromPython(t *testing.T) {
	src := `def read(path):
    f = open(path)
    if not f.readable():
        return None
    data = f.read()
    f.close()
    return data
`
	root := parseSource(t, "python", parser.ParserTreeSitter, src)
	cfgs, err := BuildAll(root)
	if err != nil {
		t.Fatalf("BuildAll: %v", err)
	}
	if len(cfgs) != 1 || cfgs[0].Name != "read" {
		t.Fatalf("expected one graph for read, got %v", cfgs)
	}
	if n := len(edgesOfType(cfgs[0], EdgeReturn)); n != 2 {
		t.Errorf("expected 2 return edges, got %d", n)
	}
	if len(blocksLabeled(cfgs[0], LabelIfThen)) != 1 {
		t.Error("expected the if statement to produce a then block")
	}
}
