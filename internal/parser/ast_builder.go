package parser

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/ludo-technologies/sentinel/domain"
)

const (
	maxAttrTextLen   = 200
	cancelCheckEvery = 512
	maxModifierDepth = 4
)

// ASTBuilder builds the generic AST from a tree-sitter CST
type ASTBuilder struct {
	filename  string
	source    []byte
	spec      *grammarSpec
	ctx       context.Context
	visited   int
	cancelled bool
}

// NewASTBuilder creates a new AST builder
func NewASTBuilder(ctx context.Context, filename string, source []byte, spec *grammarSpec) *ASTBuilder {
	return &ASTBuilder{
		filename: filename,
		source:   source,
		spec:     spec,
		ctx:      ctx,
	}
}

// Build builds the AST from a tree-sitter node
func (b *ASTBuilder) Build(tsNode *sitter.Node) (*Node, error) {
	if tsNode == nil {
		return nil, nil
	}

	node := b.buildNode(tsNode)
	if b.cancelled {
		return nil, errExtractCancelled
	}
	if node != nil && node.Kind != KindModule {
		module := NewNode(KindModule, b.getSpan(tsNode))
		module.AddChild(node)
		node = module
	}
	return node, nil
}

// buildNode converts a tree-sitter node to a generic node
func (b *ASTBuilder) buildNode(tsNode *sitter.Node) *Node {
	if tsNode == nil || b.cancelled {
		return nil
	}

	b.visited++
	if b.visited%cancelCheckEvery == 0 && b.ctx.Err() != nil {
		b.cancelled = true
		return nil
	}

	nodeType := tsNode.Type()
	if !tsNode.IsNamed() || b.spec.skipped[nodeType] {
		return nil
	}

	s := b.spec
	switch {
	case s.modules[nodeType]:
		return b.buildContainer(tsNode, KindModule)
	case s.functions[nodeType]:
		return b.buildFunction(tsNode)
	case s.structs[nodeType]:
		return b.buildStruct(tsNode)
	case s.blocks[nodeType]:
		return b.buildContainer(tsNode, KindBlock)
	case s.ifs[nodeType]:
		return b.buildIf(tsNode)
	case s.loops[nodeType]:
		return b.buildLoop(tsNode)
	case s.tries[nodeType]:
		return b.buildTry(tsNode)
	case s.withs[nodeType]:
		return b.buildWith(tsNode)
	case s.returns[nodeType]:
		return b.buildJump(tsNode, KindReturn)
	case s.throws[nodeType]:
		return b.buildJump(tsNode, KindThrow)
	case s.breaks[nodeType]:
		return b.buildJump(tsNode, KindBreak)
	case s.continues[nodeType]:
		return b.buildJump(tsNode, KindContinue)
	case s.decls[nodeType]:
		return b.buildContainer(tsNode, KindStmt)
	case s.assigns[nodeType]:
		return b.buildAssign(tsNode)
	case s.calls[nodeType]:
		return b.buildCall(tsNode)
	case s.exprStmts[nodeType]:
		return b.buildExpressionStatement(tsNode)
	case s.idents[nodeType]:
		node := NewNode(KindIdent, b.getSpan(tsNode))
		node.SetAttr(AttrName, tsNode.Content(b.source))
		return node
	default:
		return b.buildGenericNode(tsNode)
	}
}

// buildContainer builds a node whose children are its named children
func (b *ASTBuilder) buildContainer(tsNode *sitter.Node, kind string) *Node {
	node := NewNode(kind, b.getSpan(tsNode))
	for i := 0; i < int(tsNode.NamedChildCount()); i++ {
		node.AddChild(b.buildNode(tsNode.NamedChild(i)))
	}
	return node
}

// buildFunction builds a function node with params and body
func (b *ASTBuilder) buildFunction(tsNode *sitter.Node) *Node {
	node := NewNode(KindFunction, b.getSpan(tsNode))

	paramsNode := b.getChildByFieldName(tsNode, "parameters")
	if paramsNode == nil {
		paramsNode = b.getChildByFieldName(tsNode, "parameter")
	}

	if nameNode := b.getChildByFieldName(tsNode, "name"); nameNode != nil {
		node.SetAttr(AttrName, nameNode.Content(b.source))
	} else if declarator := b.getChildByFieldName(tsNode, "declarator"); declarator != nil {
		// C: the name and parameters live in a (possibly pointer-wrapped) function_declarator
		for declarator != nil && declarator.Type() != "function_declarator" {
			declarator = b.getChildByFieldName(declarator, "declarator")
		}
		if declarator != nil {
			if ident := b.firstIdentifier(b.getChildByFieldName(declarator, "declarator")); ident != nil {
				node.SetAttr(AttrName, ident.Content(b.source))
			}
			paramsNode = b.getChildByFieldName(declarator, "parameters")
		}
	}

	for _, field := range []string{"return_type", "result", "type"} {
		if rt := b.getChildByFieldName(tsNode, field); rt != nil {
			node.SetAttr(AttrReturnType, b.compactText(rt))
			break
		}
	}

	var names []string
	if receiver := b.getChildByFieldName(tsNode, "receiver"); receiver != nil {
		for _, p := range b.buildParameters(receiver, true) {
			node.AddChild(p)
		}
	}
	if paramsNode != nil {
		for _, p := range b.buildParameters(paramsNode, false) {
			names = append(names, p.Name())
			node.AddChild(p)
		}
	}
	node.SetAttr(AttrParams, strings.Join(names, ","))

	if bodyNode := b.getChildByFieldName(tsNode, "body"); bodyNode != nil {
		node.AddChild(b.blockOf(bodyNode, RoleBody))
	}

	return node
}

// buildParameters builds param nodes from a parameter list
func (b *ASTBuilder) buildParameters(paramsNode *sitter.Node, receiver bool) []*Node {
	// Single unparenthesized parameter (arrow functions)
	if b.spec.idents[paramsNode.Type()] {
		return b.buildParam(paramsNode, 0, receiver)
	}

	var params []*Node
	index := 0
	for i := 0; i < int(paramsNode.NamedChildCount()); i++ {
		child := paramsNode.NamedChild(i)
		if child == nil || !b.spec.params[child.Type()] {
			continue
		}
		built := b.buildParam(child, index, receiver)
		params = append(params, built...)
		index += len(built)
	}
	return params
}

// buildParam builds one or more param nodes (Go allows "a, b int")
func (b *ASTBuilder) buildParam(tsNode *sitter.Node, index int, receiver bool) []*Node {
	var names []string
	for i := 0; i < int(tsNode.ChildCount()); i++ {
		if tsNode.FieldNameForChild(i) == "name" {
			names = append(names, tsNode.Child(i).Content(b.source))
		}
	}
	if len(names) == 0 {
		switch {
		case tsNode.Type() == "self_parameter":
			names = []string{"self"}
		case b.spec.idents[tsNode.Type()]:
			names = []string{tsNode.Content(b.source)}
		default:
			var target *sitter.Node
			for _, field := range []string{"pattern", "declarator", "left"} {
				if target = b.getChildByFieldName(tsNode, field); target != nil {
					break
				}
			}
			if target == nil {
				target = tsNode
			}
			if ident := b.firstIdentifier(target); ident != nil {
				names = []string{ident.Content(b.source)}
			} else {
				names = []string{""}
			}
		}
	}

	typeText := ""
	if typeNode := b.getChildByFieldName(tsNode, "type"); typeNode != nil {
		typeText = strings.TrimSpace(strings.TrimPrefix(b.compactText(typeNode), ":"))
	}
	annotations := b.collectModifiers(tsNode)

	out := make([]*Node, 0, len(names))
	for i, name := range names {
		param := NewNode(KindParam, b.getSpan(tsNode))
		param.SetAttr(AttrName, name)
		param.SetAttr(AttrType, typeText)
		param.SetAttr(AttrAnnotations, strings.Join(annotations, " "))
		implicit := receiver || tsNode.Type() == "self_parameter"
		if !implicit && b.spec.implicitFn != nil {
			implicit = b.spec.implicitFn(index+i, name)
		}
		if implicit {
			param.SetAttr(AttrImplicit, "true")
		}
		out = append(out, param)
	}
	return out
}

// collectModifiers gathers ownership and qualifier tokens from a parameter
func (b *ASTBuilder) collectModifiers(tsNode *sitter.Node) []string {
	seen := make(map[string]bool)
	var tokens []string
	add := func(tok string) {
		if tok != "" && !seen[tok] {
			seen[tok] = true
			tokens = append(tokens, tok)
		}
	}

	var visit func(n *sitter.Node, depth int)
	visit = func(n *sitter.Node, depth int) {
		if n == nil || depth > maxModifierDepth {
			return
		}
		switch t := n.Type(); {
		case b.spec.modifiers[t]:
			add(strings.TrimSpace(n.Content(b.source)))
		case t == "reference_type" || t == "reference_pattern":
			add("ref")
		case t == "pointer_declarator" || t == "abstract_pointer_declarator":
			add("ptr")
		case t == "self_parameter" && strings.Contains(n.Content(b.source), "&"):
			add("ref")
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			visit(n.Child(i), depth+1)
		}
	}
	visit(tsNode, 0)
	return tokens
}

// buildStruct builds a struct/class declaration node
func (b *ASTBuilder) buildStruct(tsNode *sitter.Node) *Node {
	switch tsNode.Type() {
	case "type_spec":
		// Go: only struct type specs are struct declarations
		if typeNode := b.getChildByFieldName(tsNode, "type"); typeNode == nil || typeNode.Type() != "struct_type" {
			return b.buildGenericNode(tsNode)
		}
	case "struct_specifier":
		// C: "struct foo *p" references a struct without declaring it
		if b.getChildByFieldName(tsNode, "body") == nil {
			return b.buildGenericNode(tsNode)
		}
	}

	node := NewNode(KindStruct, b.getSpan(tsNode))
	if nameNode := b.getChildByFieldName(tsNode, "name"); nameNode != nil {
		node.SetAttr(AttrName, nameNode.Content(b.source))
	}
	if bodyNode := b.getChildByFieldName(tsNode, "body"); bodyNode != nil {
		node.AddChild(b.blockOf(bodyNode, RoleBody))
	}
	return node
}

// buildIf builds an if node: cond, then block, optional else block
func (b *ASTBuilder) buildIf(tsNode *sitter.Node) *Node {
	node := NewNode(KindIf, b.getSpan(tsNode))
	node.AddChild(b.condOf(b.getChildByFieldName(tsNode, "condition"), tsNode))
	node.AddChild(b.blockOf(b.getChildByFieldName(tsNode, "consequence"), RoleThen))
	node.AddChild(b.buildElse(b.getChildrenByFieldName(tsNode, "alternative")))

	// Go: "if v, err := f(); err != nil" runs the initializer before the condition
	if init := b.getChildByFieldName(tsNode, "initializer"); init != nil {
		wrapper := NewNode(KindBlock, b.getSpan(tsNode))
		wrapper.AddChild(b.buildNode(init))
		wrapper.AddChild(node)
		return wrapper
	}
	return node
}

// buildElse folds elif/else clauses into a nested else block
func (b *ASTBuilder) buildElse(alternatives []*sitter.Node) *Node {
	if len(alternatives) == 0 {
		return nil
	}

	first := alternatives[0]
	switch first.Type() {
	case "elif_clause":
		elif := NewNode(KindIf, b.getSpan(first))
		elif.AddChild(b.condOf(b.getChildByFieldName(first, "condition"), first))
		elif.AddChild(b.blockOf(b.getChildByFieldName(first, "consequence"), RoleThen))
		elif.AddChild(b.buildElse(alternatives[1:]))
		block := NewNode(KindBlock, elif.Span)
		block.AddChild(elif)
		block.SetAttr(AttrRole, RoleElse)
		return block
	case "else_clause":
		return b.blockOf(b.clauseBody(first), RoleElse)
	default:
		return b.blockOf(first, RoleElse)
	}
}

// buildLoop builds a loop node: optional cond header and body block
func (b *ASTBuilder) buildLoop(tsNode *sitter.Node) *Node {
	node := NewNode(KindLoop, b.getSpan(tsNode))
	node.SetAttr(AttrLoop, tsNode.Type())

	bodyNode := b.getChildByFieldName(tsNode, "body")
	var header *sitter.Node
	for _, field := range []string{"condition", "right", "value"} {
		if header = b.getChildByFieldName(tsNode, field); header != nil {
			break
		}
	}
	if header == nil {
		for i := 0; i < int(tsNode.NamedChildCount()); i++ {
			child := tsNode.NamedChild(i)
			if child != nil && !sameNode(child, bodyNode) && !b.spec.skipped[child.Type()] {
				header = child
				break
			}
		}
	}
	if header != nil {
		node.AddChild(b.condOf(header, tsNode))
	}
	node.AddChild(b.blockOf(bodyNode, RoleBody))
	return node
}

// buildTry builds a try node: body, handler blocks, optional finally block
func (b *ASTBuilder) buildTry(tsNode *sitter.Node) *Node {
	node := NewNode(KindTry, b.getSpan(tsNode))
	body := b.blockOf(b.getChildByFieldName(tsNode, "body"), RoleBody)
	if body == nil {
		body = NewNode(KindBlock, node.Span)
		body.SetAttr(AttrRole, RoleBody)
	}
	node.AddChild(body)

	for i := 0; i < int(tsNode.NamedChildCount()); i++ {
		child := tsNode.NamedChild(i)
		if child == nil {
			continue
		}
		switch t := child.Type(); {
		case b.spec.handlers[t]:
			handler := b.blockOf(b.clauseBody(child), RoleHandler)
			if handler == nil {
				handler = NewNode(KindBlock, b.getSpan(child))
				handler.SetAttr(AttrRole, RoleHandler)
			}
			node.AddChild(handler)
		case b.spec.finallies[t]:
			node.AddChild(b.blockOf(b.clauseBody(child), RoleFinally))
		case t == "else_clause":
			// try/else runs after the body when nothing was raised
			if extra := b.blockOf(b.clauseBody(child), RoleBody); extra != nil {
				body.Children = append(body.Children, extra.Children...)
			}
		}
	}
	return node
}

// buildWith builds a context-manager block; its header never acquires
func (b *ASTBuilder) buildWith(tsNode *sitter.Node) *Node {
	node := NewNode(KindWith, b.getSpan(tsNode))
	bodyNode := b.getChildByFieldName(tsNode, "body")
	for i := 0; i < int(tsNode.NamedChildCount()); i++ {
		child := tsNode.NamedChild(i)
		if child != nil && !sameNode(child, bodyNode) {
			node.AddChild(b.condOf(child, tsNode))
			break
		}
	}
	node.AddChild(b.blockOf(bodyNode, RoleBody))
	return node
}

// buildJump builds return/throw/break/continue
func (b *ASTBuilder) buildJump(tsNode *sitter.Node, kind string) *Node {
	node := b.buildContainer(tsNode, kind)
	if kind == KindReturn || kind == KindThrow {
		node.SetAttr(AttrText, b.compactText(tsNode))
	}
	return node
}

// buildAssign builds an assignment or initialized declaration
func (b *ASTBuilder) buildAssign(tsNode *sitter.Node) *Node {
	node := NewNode(KindAssign, b.getSpan(tsNode))

	var target *sitter.Node
	for _, field := range []string{"left", "name", "pattern", "declarator"} {
		if target = b.getChildByFieldName(tsNode, field); target != nil {
			break
		}
	}
	if target != nil {
		node.SetAttr(AttrTarget, b.targetName(target))
		if isListType(target.Type()) && target.NamedChildCount() > 1 {
			node.SetAttr(AttrCompanion, b.targetName(target.NamedChild(1)))
		}
	}

	for _, field := range []string{"right", "value"} {
		if value := b.getChildByFieldName(tsNode, field); value != nil {
			node.AddChild(b.buildNode(value))
			break
		}
	}
	return node
}

func sameNode(a, b *sitter.Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}

func isListType(t string) bool {
	return t == "expression_list" || t == "pattern_list" || t == "tuple_pattern"
}

// targetName resolves the variable an assignment binds
func (b *ASTBuilder) targetName(tsNode *sitter.Node) string {
	if tsNode == nil {
		return ""
	}
	t := tsNode.Type()
	switch {
	case b.spec.idents[t]:
		return tsNode.Content(b.source)
	case isListType(t):
		if tsNode.NamedChildCount() > 0 {
			return b.targetName(tsNode.NamedChild(0))
		}
		return ""
	case t == "attribute" || t == "member_expression" || t == "selector_expression" || t == "field_expression":
		return b.compactText(tsNode)
	}
	if ident := b.firstIdentifier(tsNode); ident != nil {
		return ident.Content(b.source)
	}
	return ""
}

// buildCall builds a call node with callee, receiver and argument names
func (b *ASTBuilder) buildCall(tsNode *sitter.Node) *Node {
	node := NewNode(KindCall, b.getSpan(tsNode))

	var fn *sitter.Node
	for _, field := range []string{"function", "macro", "constructor"} {
		if fn = b.getChildByFieldName(tsNode, field); fn != nil {
			break
		}
	}
	if fn != nil {
		callee := b.compactText(fn)
		node.SetAttr(AttrCallee, callee)
		node.SetAttr(AttrName, LastSegment(callee))
		for _, field := range []string{"object", "operand", "argument", "value", "path"} {
			if recv := b.getChildByFieldName(fn, field); recv != nil {
				node.SetAttr(AttrReceiver, b.compactText(recv))
				break
			}
		}
		if !b.spec.idents[fn.Type()] {
			node.AddChild(b.buildNode(fn))
		}
	}

	if args := b.getChildByFieldName(tsNode, "arguments"); args != nil && args.Type() != "token_tree" {
		var names []string
		for i := 0; i < int(args.NamedChildCount()); i++ {
			arg := args.NamedChild(i)
			if arg == nil || b.spec.skipped[arg.Type()] {
				continue
			}
			if b.spec.idents[arg.Type()] {
				names = append(names, arg.Content(b.source))
			} else {
				names = append(names, "_")
				node.AddChild(b.buildNode(arg))
			}
		}
		node.SetAttr(AttrArgs, strings.Join(names, ","))
	}
	return node
}

// buildExpressionStatement unwraps single-statement wrappers
func (b *ASTBuilder) buildExpressionStatement(tsNode *sitter.Node) *Node {
	node := b.buildContainer(tsNode, KindStmt)
	if len(node.Children) == 1 {
		child := node.Children[0]
		if child.Kind != KindExpr && child.Kind != KindIdent {
			return child
		}
	}
	return node
}

// buildGenericNode keeps the structure of unknown nodes, collapsing
// single-child chains and dropping childless leaves
func (b *ASTBuilder) buildGenericNode(tsNode *sitter.Node) *Node {
	node := b.buildContainer(tsNode, KindExpr)
	switch len(node.Children) {
	case 0:
		return nil
	case 1:
		return node.Children[0]
	}
	return node
}

// condOf builds a header expression with the cond role and its source text
func (b *ASTBuilder) condOf(tsNode *sitter.Node, owner *sitter.Node) *Node {
	if tsNode == nil {
		return nil
	}
	node := b.buildNode(tsNode)
	if node == nil {
		node = NewNode(KindExpr, b.getSpan(tsNode))
	} else if node.Kind != KindExpr {
		wrapped := NewNode(KindExpr, node.Span)
		wrapped.AddChild(node)
		node = wrapped
	}
	node.SetAttr(AttrRole, RoleCond)
	node.SetAttr(AttrText, b.compactText(tsNode))
	return node
}

// blockOf builds tsNode as a block with the given role, wrapping non-blocks
func (b *ASTBuilder) blockOf(tsNode *sitter.Node, role string) *Node {
	if tsNode == nil {
		return nil
	}
	node := b.buildNode(tsNode)
	if node == nil {
		node = NewNode(KindBlock, b.getSpan(tsNode))
	} else if node.Kind != KindBlock {
		block := NewNode(KindBlock, node.Span)
		block.AddChild(node)
		node = block
	}
	node.SetAttr(AttrRole, role)
	return node
}

// clauseBody finds the statement body of an else/except/catch/finally clause
func (b *ASTBuilder) clauseBody(tsNode *sitter.Node) *sitter.Node {
	if body := b.getChildByFieldName(tsNode, "body"); body != nil {
		return body
	}
	for i := int(tsNode.NamedChildCount()) - 1; i >= 0; i-- {
		child := tsNode.NamedChild(i)
		if child != nil && b.spec.blocks[child.Type()] {
			return child
		}
	}
	if tsNode.NamedChildCount() == 1 {
		return tsNode.NamedChild(0)
	}
	return nil
}

// firstIdentifier returns the first identifier in document order
func (b *ASTBuilder) firstIdentifier(tsNode *sitter.Node) *sitter.Node {
	if tsNode == nil {
		return nil
	}
	if b.spec.idents[tsNode.Type()] {
		return tsNode
	}
	for i := 0; i < int(tsNode.NamedChildCount()); i++ {
		if found := b.firstIdentifier(tsNode.NamedChild(i)); found != nil {
			return found
		}
	}
	return nil
}

// getSpan converts tree-sitter positions (0-based) to a 1-based span
func (b *ASTBuilder) getSpan(tsNode *sitter.Node) domain.Span {
	start, end := tsNode.StartPoint(), tsNode.EndPoint()
	return domain.Span{
		File:        b.filename,
		StartLine:   int(start.Row) + 1,
		StartCol:    int(start.Column) + 1,
		EndLine:     int(end.Row) + 1,
		EndCol:      int(end.Column) + 1,
		StartOffset: int(tsNode.StartByte()),
		EndOffset:   int(tsNode.EndByte()),
	}
}

// getChildByFieldName gets a child node by field name
func (b *ASTBuilder) getChildByFieldName(tsNode *sitter.Node, fieldName string) *sitter.Node {
	if tsNode == nil {
		return nil
	}
	return tsNode.ChildByFieldName(fieldName)
}

// getChildrenByFieldName returns every child stored under a repeated field
func (b *ASTBuilder) getChildrenByFieldName(tsNode *sitter.Node, fieldName string) []*sitter.Node {
	var out []*sitter.Node
	for i := 0; i < int(tsNode.ChildCount()); i++ {
		if tsNode.FieldNameForChild(i) == fieldName {
			out = append(out, tsNode.Child(i))
		}
	}
	return out
}

// compactText returns the node source with whitespace collapsed
func (b *ASTBuilder) compactText(tsNode *sitter.Node) string {
	text := strings.Join(strings.Fields(tsNode.Content(b.source)), " ")
	if len(text) > maxAttrTextLen {
		text = text[:maxAttrTextLen]
	}
	return text
}

// LastSegment returns the final name of a dotted/scoped callee
// ("os.Open" -> "Open", "File::open" -> "open", "p->close" -> "close").
func LastSegment(callee string) string {
	cut := -1
	for _, sep := range []string{".", "::", "->"} {
		if i := strings.LastIndex(callee, sep); i >= 0 && i+len(sep) > cut {
			cut = i + len(sep)
		}
	}
	if cut >= 0 {
		callee = callee[cut:]
	}
	return strings.TrimSuffix(strings.TrimSpace(callee), "!")
}
