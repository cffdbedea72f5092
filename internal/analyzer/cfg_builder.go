package analyzer

import (
	"fmt"

	"github.com/ludo-technologies/sentinel/internal/parser"
)

// Block label constants
const (
	LabelEntry       = "ENTRY"
	LabelExit        = "EXIT"
	LabelUnreachable = "unreachable"

	LabelIfThen  = "if_then"
	LabelIfElse  = "if_else"
	LabelIfMerge = "if_merge"

	// Loop-related labels
	LabelLoopHeader = "loop_header"
	LabelLoopBody   = "loop_body"
	LabelLoopExit   = "loop_exit"

	// Exception-related labels
	LabelTryBlock     = "try_block"
	LabelTryBody      = "try_body"
	LabelCatchBlock   = "catch_block"
	LabelFinallyBlock = "finally_block"
	LabelTryMerge     = "try_merge"
)

// loopContext tracks the context of a loop for break/continue handling
type loopContext struct {
	header int
	exit   int
}

// exceptionContext tracks the context of a try statement. handlers is
// empty for try/finally; finally is nil without a finally clause. unwind is
// the copy of the finally clause an escaping exception runs, -1 until used.
type exceptionContext struct {
	handlers []int
	finally  *parser.Node
	unwind   int
}

// CFGBuilder builds control flow graphs from generic AST nodes
type CFGBuilder struct {
	cfg            *CFG
	current        int
	loopStack      []loopContext
	exceptionStack []exceptionContext
}

// NewCFGBuilder creates a new CFG builder
func NewCFGBuilder() *CFGBuilder {
	return &CFGBuilder{}
}

// Build constructs the CFG of one function node. Nested functions are not
// part of the graph; BuildAll builds them separately.
func (b *CFGBuilder) Build(fn *parser.Node) (*CFG, error) {
	if fn == nil {
		return nil, fmt.Errorf("cannot build CFG from nil node")
	}
	if fn.Kind != parser.KindFunction {
		return nil, fmt.Errorf("cannot build CFG from %s node", fn.Kind)
	}

	b.cfg = NewCFG(resolveFunctionName(fn))
	b.cfg.Function = fn
	b.loopStack = b.loopStack[:0]
	b.exceptionStack = b.exceptionStack[:0]

	b.current = b.cfg.NewBlock("func_body")
	b.cfg.Connect(b.cfg.Entry, b.current, EdgeNormal)

	if body := fn.ChildByRole(parser.RoleBody); body != nil {
		b.processStatements(body.Children)
	}

	// Connect current block to exit if not already connected
	if !b.cfg.HasEdge(b.current, b.cfg.Exit) {
		b.cfg.Connect(b.current, b.cfg.Exit, EdgeNormal)
	}
	return b.cfg, nil
}

// resolveFunctionName returns the name of a function node, or a generated name
// based on its source location if it is anonymous.
func resolveFunctionName(node *parser.Node) string {
	if name := node.Name(); name != "" {
		return name
	}
	return fmt.Sprintf("anonymous_%d", node.Span.StartLine)
}

// BuildAll builds one CFG per function in the tree, nested functions
// included, in source order
func BuildAll(root *parser.Node) ([]*CFG, error) {
	if root == nil {
		return nil, fmt.Errorf("cannot build CFGs from nil node")
	}
	var cfgs []*CFG
	for _, fn := range root.Functions() {
		cfg, err := NewCFGBuilder().Build(fn)
		if err != nil {
			return nil, err
		}
		cfgs = append(cfgs, cfg)
	}
	return cfgs, nil
}

func (b *CFGBuilder) processStatements(stmts []*parser.Node) {
	for _, stmt := range stmts {
		b.processStatement(stmt)
	}
}

// processStatement processes a single statement node
func (b *CFGBuilder) processStatement(node *parser.Node) {
	if node == nil {
		return
	}

	switch node.Kind {
	case parser.KindBlock, parser.KindFunction, parser.KindStruct:
	default:
		b.raisePoint()
	}

	switch node.Kind {
	case parser.KindIf:
		b.buildIf(node)
	case parser.KindLoop:
		b.buildLoop(node)
	case parser.KindTry:
		b.buildTry(node)
	case parser.KindWith:
		b.buildWith(node)
	case parser.KindReturn:
		b.buildReturn(node)
	case parser.KindThrow:
		b.buildThrow(node)
	case parser.KindBreak:
		b.buildBreak(node)
	case parser.KindContinue:
		b.buildContinue(node)
	case parser.KindBlock:
		// plain blocks (loop else, Go if initializers) run in sequence
		b.processStatements(node.Children)
	case parser.KindFunction, parser.KindStruct:
		// nested declarations get their own graphs
	default:
		b.cfg.Block(b.current).AddStatement(node)
	}
}

// buildIf builds CFG for if statement
func (b *CFGBuilder) buildIf(node *parser.Node) {
	cond := node.ChildByRole(parser.RoleCond)
	test := b.current
	b.cfg.Block(test).AddStatement(cond)

	thenBlock := b.cfg.NewBlock(LabelIfThen)
	mergeBlock := b.cfg.NewBlock(LabelIfMerge)

	// Connect current to then (true branch)
	b.cfg.ConnectCond(test, thenBlock, EdgeCondTrue, cond)
	b.current = thenBlock
	if then := node.ChildByRole(parser.RoleThen); then != nil {
		b.processStatements(then.Children)
	}
	b.cfg.Connect(b.current, mergeBlock, EdgeNormal)

	// Process else branch if exists
	if els := node.ChildByRole(parser.RoleElse); els != nil {
		elseBlock := b.cfg.NewBlock(LabelIfElse)
		b.cfg.ConnectCond(test, elseBlock, EdgeCondFalse, cond)
		b.current = elseBlock
		b.processStatements(els.Children)
		b.cfg.Connect(b.current, mergeBlock, EdgeNormal)
	} else {
		// No else - connect directly to merge
		b.cfg.ConnectCond(test, mergeBlock, EdgeCondFalse, cond)
	}

	b.current = mergeBlock
}

// buildLoop builds CFG for while/for loops: header, body, exit
func (b *CFGBuilder) buildLoop(node *parser.Node) {
	header := b.cfg.NewBlock(LabelLoopHeader)
	body := b.cfg.NewBlock(LabelLoopBody)
	exit := b.cfg.NewBlock(LabelLoopExit)

	// Connect current to header
	b.cfg.Connect(b.current, header, EdgeNormal)

	cond := node.ChildByRole(parser.RoleCond)
	b.cfg.Block(header).AddStatement(cond)

	// Connect header to body and exit
	b.cfg.ConnectCond(header, body, EdgeCondTrue, cond)
	b.cfg.ConnectCond(header, exit, EdgeCondFalse, cond)

	b.loopStack = append(b.loopStack, loopContext{header: header, exit: exit})

	// Process body and connect back to header
	b.current = body
	if bodyNode := node.ChildByRole(parser.RoleBody); bodyNode != nil {
		b.processStatements(bodyNode.Children)
	}
	b.cfg.Connect(b.current, header, EdgeLoop)

	b.loopStack = b.loopStack[:len(b.loopStack)-1]
	b.current = exit
}

// buildTry builds CFG for try/except/finally. Every statement of the body
// may raise, so the handlers are entered from the state before each one.
func (b *CFGBuilder) buildTry(node *parser.Node) {
	tryBlock := b.cfg.NewBlock(LabelTryBlock)
	b.cfg.Connect(b.current, tryBlock, EdgeNormal)

	handlerNodes := node.ChildrenByRole(parser.RoleHandler)
	finallyNode := node.ChildByRole(parser.RoleFinally)

	ctx := exceptionContext{finally: finallyNode, unwind: -1}
	for range handlerNodes {
		ctx.handlers = append(ctx.handlers, b.cfg.NewBlock(LabelCatchBlock))
	}
	for _, h := range ctx.handlers {
		b.cfg.Connect(tryBlock, h, EdgeException)
	}

	// Process try body with the handlers in scope
	b.exceptionStack = append(b.exceptionStack, ctx)
	b.current = tryBlock
	if body := node.ChildByRole(parser.RoleBody); body != nil {
		b.processStatements(body.Children)
	}
	ends := []int{b.current}

	// Handlers run with only the finally clause in scope
	b.exceptionStack[len(b.exceptionStack)-1].handlers = nil
	for i, h := range handlerNodes {
		b.current = ctx.handlers[i]
		b.processStatements(h.Children)
		ends = append(ends, b.current)
	}
	b.exceptionStack = b.exceptionStack[:len(b.exceptionStack)-1]

	merge := b.cfg.NewBlock(LabelTryMerge)
	if finallyNode == nil {
		for _, end := range ends {
			b.cfg.Connect(end, merge, EdgeNormal)
		}
		b.current = merge
		return
	}

	finallyBlock := b.cfg.NewBlock(LabelFinallyBlock)
	for _, end := range ends {
		b.cfg.Connect(end, finallyBlock, EdgeNormal)
	}
	b.current = finallyBlock
	b.processStatements(finallyNode.Children)
	b.cfg.Connect(b.current, merge, EdgeNormal)
	b.current = merge
}

// raisePoint lets an exception escape before the next statement runs. The
// current block is closed so the edge carries the state reached so far.
// Outside a try statement implicit exceptions are not modeled.
func (b *CFGBuilder) raisePoint() {
	targets := b.exceptionTargets(len(b.exceptionStack))
	if len(targets) == 0 {
		return
	}
	for _, t := range targets {
		if !b.cfg.HasEdge(b.current, t) {
			b.cfg.Connect(b.current, t, EdgeException)
		}
	}
	next := b.cfg.NewBlock(LabelTryBody)
	b.cfg.Connect(b.current, next, EdgeNormal)
	b.current = next
}

// exceptionTargets resolves where an exception raised with the contexts
// below depth in scope goes: the nearest handlers, or the unwinding copy of
// the nearest finally clause. Nil means it leaves the function.
func (b *CFGBuilder) exceptionTargets(depth int) []int {
	for i := depth - 1; i >= 0; i-- {
		ctx := b.exceptionStack[i]
		if len(ctx.handlers) > 0 {
			return ctx.handlers
		}
		if ctx.finally != nil {
			return []int{b.unwindBlock(i)}
		}
	}
	return nil
}

// unwindBlock returns the finally copy of stack index i that runs while an
// exception propagates, building it on first use. The copy rethrows to the
// outer contexts when it completes.
func (b *CFGBuilder) unwindBlock(i int) int {
	if id := b.exceptionStack[i].unwind; id >= 0 {
		return id
	}
	block := b.cfg.NewBlock(LabelFinallyBlock)
	b.exceptionStack[i].unwind = block

	savedCurrent, saved := b.current, b.exceptionStack
	b.current = block
	b.exceptionStack = saved[:i:i]
	b.processStatements(saved[i].finally.Children)
	b.rethrow()
	b.current, b.exceptionStack = savedCurrent, saved
	return block
}

// rethrow connects the current block to wherever an exception goes next
func (b *CFGBuilder) rethrow() {
	targets := b.exceptionTargets(len(b.exceptionStack))
	if len(targets) == 0 {
		b.cfg.Connect(b.current, b.cfg.Exit, EdgeException)
		return
	}
	for _, t := range targets {
		b.cfg.Connect(b.current, t, EdgeException)
	}
}

// buildWith adds the with header and runs the body in sequence
func (b *CFGBuilder) buildWith(node *parser.Node) {
	b.cfg.Block(b.current).AddStatement(node.ChildByRole(parser.RoleCond))
	if body := node.ChildByRole(parser.RoleBody); body != nil {
		b.processStatements(body.Children)
	}
}

// buildReturn builds CFG for return statement. Enclosing finally clauses
// run before the function is left.
func (b *CFGBuilder) buildReturn(node *parser.Node) {
	b.cfg.Block(b.current).AddStatement(node)
	b.leaveThroughFinally(len(b.exceptionStack))
	b.cfg.Connect(b.current, b.cfg.Exit, EdgeReturn)

	// Create unreachable block for code after return
	b.current = b.cfg.NewBlock(LabelUnreachable)
}

// buildThrow builds CFG for throw statement
func (b *CFGBuilder) buildThrow(node *parser.Node) {
	b.cfg.Block(b.current).AddStatement(node)

	// Connect to the nearest handlers, or unwind through finally clauses
	b.rethrow()

	// Create unreachable block for code after throw
	b.current = b.cfg.NewBlock(LabelUnreachable)
}

// buildBreak builds CFG for break statement
func (b *CFGBuilder) buildBreak(node *parser.Node) {
	b.cfg.Block(b.current).AddStatement(node)
	if len(b.loopStack) > 0 {
		b.cfg.Connect(b.current, b.loopStack[len(b.loopStack)-1].exit, EdgeBreak)
	}
	b.current = b.cfg.NewBlock(LabelUnreachable)
}

// buildContinue builds CFG for continue statement
func (b *CFGBuilder) buildContinue(node *parser.Node) {
	b.cfg.Block(b.current).AddStatement(node)
	if len(b.loopStack) > 0 {
		b.cfg.Connect(b.current, b.loopStack[len(b.loopStack)-1].header, EdgeContinue)
	}
	b.current = b.cfg.NewBlock(LabelUnreachable)
}

// leaveThroughFinally inlines every finally clause below depth, innermost first
func (b *CFGBuilder) leaveThroughFinally(depth int) {
	for i := depth - 1; i >= 0; i-- {
		b.runFinally(i)
	}
}

// runFinally inlines a copy of the finally clause at stack index i with
// only the outer contexts in scope
func (b *CFGBuilder) runFinally(i int) {
	finally := b.exceptionStack[i].finally
	if finally == nil {
		return
	}
	block := b.cfg.NewBlock(LabelFinallyBlock)
	b.cfg.Connect(b.current, block, EdgeNormal)
	b.current = block

	saved := b.exceptionStack
	b.exceptionStack = saved[:i:i]
	b.processStatements(finally.Children)
	b.exceptionStack = saved
}
