package parser

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ludo-technologies/sentinel/domain"
)

const (
	outlineTabWidth    = 8
	outlineCancelEvery = 256
)

var (
	outlineCallPattern  = regexp.MustCompile(`[A-Za-z_][\w\.]*\s*\(`)
	outlineIdentPattern = regexp.MustCompile(`^[A-Za-z_]\w*$`)

	outlineHeaders = newSet("if", "elif", "else", "while", "for", "try", "except", "finally",
		"with", "def", "fn", "struct", "class", "trait")
	outlineKeywords = newSet("if", "elif", "while", "for", "not", "and", "or", "in", "is",
		"return", "raise", "with", "as", "lambda", "assert", "del", "yield", "await")
	outlineDeclarators = newSet("var", "let", "alias")
)

// OutlineExtractor recovers the generic tree from indentation for
// Python-like languages that have no tree-sitter grammar (Mojo).
// Statements are logical lines: bracketed and backslash continuations are joined.
type OutlineExtractor struct {
	language string
}

// NewOutlineExtractor creates an indentation-based extractor
func NewOutlineExtractor(language string) *OutlineExtractor {
	return &OutlineExtractor{language: language}
}

// Language returns the configured language name
func (e *OutlineExtractor) Language() string {
	return e.language
}

// Capabilities returns the attributes the outline extractor supplies
func (e *OutlineExtractor) Capabilities() []string {
	return []string{AttrName, AttrType, AttrAnnotations, AttrCallee, AttrReceiver, AttrArgs, AttrTarget, CapabilityCFG}
}

// Extract parses src into a module node
func (e *OutlineExtractor) Extract(ctx context.Context, path string, src []byte) (*Node, error) {
	p := &outlineParser{
		ctx:        ctx,
		path:       path,
		lineStarts: lineStarts(src),
	}
	p.lines = p.logicalLines(src)

	module := NewNode(KindModule, p.span(0, len(src)))
	if len(p.lines) == 0 {
		return module, nil
	}
	if first := p.lines[0]; first.indent != 0 {
		return nil, p.syntaxError(first, "unexpected indent")
	}
	stmts, err := p.parseStatements(0, -1)
	if err != nil {
		return nil, err
	}
	for _, s := range stmts {
		module.AddChild(s)
	}
	return module, nil
}

// outlineLine is one logical line with comments removed
type outlineLine struct {
	text    string
	offsets []int // source offset of every byte of text
	indent  int
}

func (l outlineLine) slice(from, to int) outlineLine {
	return outlineLine{text: l.text[from:to], offsets: l.offsets[from:to], indent: l.indent}
}

func (l outlineLine) trimmed() outlineLine {
	start, end := 0, len(l.text)
	for start < end && isSpace(l.text[start]) {
		start++
	}
	for end > start && isSpace(l.text[end-1]) {
		end--
	}
	return l.slice(start, end)
}

func (l outlineLine) firstWord() string {
	end := 0
	for end < len(l.text) && isWordByte(l.text[end]) {
		end++
	}
	return l.text[:end]
}

type outlineParser struct {
	ctx        context.Context
	path       string
	lineStarts []int
	lines      []outlineLine
	pos        int
	steps      int
}

func lineStarts(src []byte) []int {
	starts := []int{0}
	for i, c := range src {
		if c == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// logicalLines splits src into logical lines, joining open brackets,
// triple-quoted strings and backslash continuations
func (p *outlineParser) logicalLines(src []byte) []outlineLine {
	var (
		out      []outlineLine
		buf      []byte
		offs     []int
		started  bool
		depth    int
		quote    byte
		triple   bool
		atLineBO = true
		indent   int
	)

	flush := func() {
		cur := outlineLine{text: string(buf), offsets: offs, indent: indent}
		if l := cur.trimmed(); l.text != "" {
			out = append(out, l)
		}
		buf, offs = nil, nil
		started = false
		depth = 0
	}
	add := func(c byte, off int) {
		buf = append(buf, c)
		offs = append(offs, off)
	}

	for i := 0; i < len(src); i++ {
		c := src[i]

		if atLineBO {
			atLineBO = false
			if !started {
				indent = 0
				for i < len(src) && (src[i] == ' ' || src[i] == '\t') {
					if src[i] == '\t' {
						indent += outlineTabWidth - indent%outlineTabWidth
					} else {
						indent++
					}
					i++
				}
				if i >= len(src) {
					break
				}
				c = src[i]
			}
		}

		if quote != 0 {
			switch {
			case c == '\\' && i+1 < len(src) && src[i+1] != '\n':
				add(c, i)
				i++
				add(src[i], i)
				continue
			case c == quote && (!triple || (i+2 < len(src) && src[i+1] == quote && src[i+2] == quote)):
				if triple {
					add(c, i)
					add(c, i+1)
					i += 2
				}
				quote, triple = 0, false
				add(c, i)
				continue
			case c == '\n':
				if !triple {
					// unterminated single-line string
					quote = 0
					flush()
				} else {
					add(' ', i)
				}
				atLineBO = true
				continue
			}
			add(c, i)
			continue
		}

		switch c {
		case '#':
			for i+1 < len(src) && src[i+1] != '\n' {
				i++
			}
			continue
		case '"', '\'':
			quote = c
			started = true
			if i+2 < len(src) && src[i+1] == c && src[i+2] == c {
				triple = true
				add(c, i)
				add(c, i+1)
				i += 2
			}
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			if depth > 0 {
				depth--
			}
		case '\\':
			if i+1 < len(src) && src[i+1] == '\n' {
				add(' ', i)
				i++
				atLineBO = true
				started = true
				continue
			}
		case '\r':
			continue
		case '\n':
			atLineBO = true
			if depth > 0 {
				add(' ', i)
				continue
			}
			flush()
			continue
		}
		if !isSpace(c) {
			started = true
		}
		add(c, i)
	}
	flush()
	return out
}

func (p *outlineParser) tick() error {
	p.steps++
	if p.steps%outlineCancelEvery == 0 && p.ctx.Err() != nil {
		return errExtractCancelled
	}
	return nil
}

// parseStatements parses consecutive statements at indent until a dedent
func (p *outlineParser) parseStatements(indent, parentIndent int) ([]*Node, error) {
	var stmts []*Node
	for p.pos < len(p.lines) {
		l := p.lines[p.pos]
		if l.indent < indent {
			if l.indent > parentIndent {
				return nil, p.syntaxError(l, "unindent does not match any outer indentation level")
			}
			break
		}
		if l.indent > indent {
			return nil, p.syntaxError(l, "unexpected indent")
		}
		if err := p.tick(); err != nil {
			return nil, err
		}
		stmt, err := p.parseStatement(l)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt...)
	}
	return stmts, nil
}

// parseSuite parses the body following a header line
func (p *outlineParser) parseSuite(header outlineLine, inline outlineLine, role string) (*Node, error) {
	block := NewNode(KindBlock, p.lineSpan(header))
	block.SetAttr(AttrRole, role)

	if inline.text != "" {
		stmt, err := p.parseSimple(inline)
		if err != nil {
			return nil, err
		}
		for _, s := range stmt {
			block.AddChild(s)
		}
		block.Span = p.lineSpan(inline)
		return block, nil
	}

	if p.pos >= len(p.lines) || p.lines[p.pos].indent <= header.indent {
		return nil, p.syntaxError(header, "expected an indented block")
	}
	stmts, err := p.parseStatements(p.lines[p.pos].indent, header.indent)
	if err != nil {
		return nil, err
	}
	for _, s := range stmts {
		block.AddChild(s)
	}
	if len(stmts) > 0 {
		block.Span = spanUnion(stmts[0].Span, stmts[len(stmts)-1].Span)
	}
	return block, nil
}

// splitHeader splits "kw head: inline" at the first top-level colon
func (p *outlineParser) splitHeader(l outlineLine) (head, inline outlineLine, err error) {
	colon := topLevelIndex(l.text, ':')
	if colon < 0 {
		return head, inline, p.syntaxError(l, fmt.Sprintf("expected ':' after '%s'", l.firstWord()))
	}
	kw := len(l.firstWord())
	head = l.slice(kw, colon).trimmed()
	inline = l.slice(colon+1, len(l.text)).trimmed()
	return head, inline, nil
}

// nextClause reports whether the next line continues the current compound statement
func (p *outlineParser) nextClause(indent int, keywords ...string) (outlineLine, string, bool) {
	if p.pos >= len(p.lines) {
		return outlineLine{}, "", false
	}
	l := p.lines[p.pos]
	if l.indent != indent {
		return outlineLine{}, "", false
	}
	kw := l.firstWord()
	for _, k := range keywords {
		if kw == k {
			return l, kw, true
		}
	}
	return outlineLine{}, "", false
}

func (p *outlineParser) parseStatement(l outlineLine) ([]*Node, error) {
	p.pos++
	kw := l.firstWord()
	if !outlineHeaders[kw] {
		return p.parseSimple(l)
	}

	head, inline, err := p.splitHeader(l)
	if err != nil {
		return nil, err
	}

	switch kw {
	case "fn", "def":
		fn, err := p.parseFunction(l, head, inline)
		return single(fn), err
	case "struct", "class", "trait":
		node := NewNode(KindStruct, p.lineSpan(l))
		node.SetAttr(AttrName, leadingIdent(head.text))
		body, err := p.parseSuite(l, inline, RoleBody)
		if err != nil {
			return nil, err
		}
		node.AddChild(body)
		node.Span = spanUnion(node.Span, body.Span)
		return single(node), nil
	case "if":
		node, err := p.parseIf(l, head, inline)
		return single(node), err
	case "while", "for":
		return p.parseLoop(l, kw, head, inline)
	case "try":
		node, err := p.parseTry(l, inline)
		return single(node), err
	case "with":
		node := NewNode(KindWith, p.lineSpan(l))
		node.AddChild(p.cond(head))
		body, err := p.parseSuite(l, inline, RoleBody)
		if err != nil {
			return nil, err
		}
		node.AddChild(body)
		node.Span = spanUnion(node.Span, body.Span)
		return single(node), nil
	}
	return nil, p.syntaxError(l, fmt.Sprintf("unexpected '%s'", kw))
}

func single(n *Node) []*Node {
	if n == nil {
		return nil
	}
	return []*Node{n}
}

func (p *outlineParser) parseIf(l, head, inline outlineLine) (*Node, error) {
	node := NewNode(KindIf, p.lineSpan(l))
	node.AddChild(p.cond(head))
	then, err := p.parseSuite(l, inline, RoleThen)
	if err != nil {
		return nil, err
	}
	node.AddChild(then)
	node.Span = spanUnion(node.Span, then.Span)

	next, kw, ok := p.nextClause(l.indent, "elif", "else")
	if !ok {
		return node, nil
	}
	p.pos++
	nextHead, nextInline, err := p.splitHeader(next)
	if err != nil {
		return nil, err
	}

	var alt *Node
	if kw == "elif" {
		elif, err := p.parseIf(next, nextHead, nextInline)
		if err != nil {
			return nil, err
		}
		alt = NewNode(KindBlock, elif.Span)
		alt.SetAttr(AttrRole, RoleElse)
		alt.AddChild(elif)
	} else {
		if alt, err = p.parseSuite(next, nextInline, RoleElse); err != nil {
			return nil, err
		}
	}
	node.AddChild(alt)
	node.Span = spanUnion(node.Span, alt.Span)
	return node, nil
}

// parseLoop builds a loop; a loop-else body runs after the loop and is
// emitted as following statements
func (p *outlineParser) parseLoop(l outlineLine, kw string, head, inline outlineLine) ([]*Node, error) {
	node := NewNode(KindLoop, p.lineSpan(l))
	node.SetAttr(AttrLoop, kw)
	node.AddChild(p.cond(head))
	body, err := p.parseSuite(l, inline, RoleBody)
	if err != nil {
		return nil, err
	}
	node.AddChild(body)
	node.Span = spanUnion(node.Span, body.Span)

	out := []*Node{node}
	if next, _, ok := p.nextClause(l.indent, "else"); ok {
		p.pos++
		_, elseInline, err := p.splitHeader(next)
		if err != nil {
			return nil, err
		}
		elseBody, err := p.parseSuite(next, elseInline, "")
		if err != nil {
			return nil, err
		}
		out = append(out, elseBody.Children...)
	}
	return out, nil
}

func (p *outlineParser) parseTry(l, inline outlineLine) (*Node, error) {
	node := NewNode(KindTry, p.lineSpan(l))
	body, err := p.parseSuite(l, inline, RoleBody)
	if err != nil {
		return nil, err
	}
	node.AddChild(body)
	node.Span = spanUnion(node.Span, body.Span)

	clauses := 0
	for {
		next, kw, ok := p.nextClause(l.indent, "except", "finally", "else")
		if !ok {
			break
		}
		p.pos++
		_, clauseInline, err := p.splitHeader(next)
		if err != nil {
			return nil, err
		}
		role := RoleHandler
		switch kw {
		case "finally":
			role = RoleFinally
		case "else":
			role = RoleBody
		}
		clause, err := p.parseSuite(next, clauseInline, role)
		if err != nil {
			return nil, err
		}
		if kw == "else" {
			body.Children = append(body.Children, clause.Children...)
		} else {
			node.AddChild(clause)
			clauses++
		}
		node.Span = spanUnion(node.Span, clause.Span)
		if kw == "finally" {
			break
		}
	}
	if clauses == 0 {
		return nil, p.syntaxError(l, "expected 'except' or 'finally' block")
	}
	return node, nil
}

// parseFunction parses "fn name[params](args) raises -> T"
func (p *outlineParser) parseFunction(l, head, inline outlineLine) (*Node, error) {
	node := NewNode(KindFunction, p.lineSpan(l))
	name := leadingIdent(head.text)
	node.SetAttr(AttrName, name)

	rest := head.slice(len(name), len(head.text))
	if strings.HasPrefix(rest.text, "[") {
		end := matchBracket(rest.text, 0)
		if end >= len(rest.text) {
			return nil, p.syntaxError(l, "unclosed '[' in function declaration")
		}
		rest = rest.slice(end+1, len(rest.text))
	}
	rest = rest.trimmed()
	if !strings.HasPrefix(rest.text, "(") {
		return nil, p.syntaxError(l, "expected '(' in function declaration")
	}
	closeParen := matchBracket(rest.text, 0)
	if closeParen >= len(rest.text) {
		return nil, p.syntaxError(l, "unclosed '(' in function declaration")
	}
	params := rest.slice(1, closeParen)
	tail := strings.TrimSpace(rest.text[closeParen+1:])

	if i := strings.Index(tail, "->"); i >= 0 {
		ret := strings.TrimSpace(tail[i+2:])
		ret = strings.TrimSpace(strings.TrimSuffix(ret, "raises"))
		node.SetAttr(AttrReturnType, compact(ret))
	}

	var names []string
	index := 0
	for _, r := range splitTopLevel(params.text, ',') {
		param := p.parseParam(params.slice(r[0], r[1]).trimmed(), index)
		if param == nil {
			continue
		}
		names = append(names, param.Name())
		node.AddChild(param)
		index++
	}
	node.SetAttr(AttrParams, strings.Join(names, ","))

	body, err := p.parseSuite(l, inline, RoleBody)
	if err != nil {
		return nil, err
	}
	node.AddChild(body)
	node.Span = spanUnion(node.Span, body.Span)
	return node, nil
}

// parseParam parses "[annotations...] name[: type][ = default]"
func (p *outlineParser) parseParam(l outlineLine, index int) *Node {
	text := l.text
	if text == "" || text == "/" || text == "*" {
		return nil
	}
	if eq := topLevelIndex(text, '='); eq >= 0 {
		text = strings.TrimSpace(text[:eq])
	}
	typeText := ""
	if colon := topLevelIndex(text, ':'); colon >= 0 {
		typeText = compact(text[colon+1:])
		text = strings.TrimSpace(text[:colon])
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	name := strings.TrimLeft(words[len(words)-1], "*")

	param := NewNode(KindParam, p.lineSpan(l))
	param.SetAttr(AttrName, name)
	param.SetAttr(AttrType, typeText)
	param.SetAttr(AttrAnnotations, strings.Join(words[:len(words)-1], " "))
	if index == 0 && (name == "self" || name == "cls") {
		param.SetAttr(AttrImplicit, "true")
	}
	return param
}

// parseSimple parses a one-line statement
func (p *outlineParser) parseSimple(l outlineLine) ([]*Node, error) {
	kw := l.firstWord()
	switch kw {
	case "pass":
		return nil, nil
	case "break":
		return single(NewNode(KindBreak, p.lineSpan(l))), nil
	case "continue":
		return single(NewNode(KindContinue, p.lineSpan(l))), nil
	case "return", "raise":
		kind := KindReturn
		if kw == "raise" {
			kind = KindThrow
		}
		node := NewNode(kind, p.lineSpan(l))
		node.SetAttr(AttrText, compact(l.text))
		for _, c := range p.calls(l.slice(len(kw), len(l.text))) {
			node.AddChild(c)
		}
		return single(node), nil
	case "elif", "else", "except", "finally":
		return nil, p.syntaxError(l, fmt.Sprintf("unexpected '%s'", kw))
	case "import", "from":
		return nil, nil
	}
	if strings.HasPrefix(l.text, "@") || isStringLiteral(l.text) {
		return nil, nil
	}

	if eq := assignIndex(l.text); eq >= 0 {
		return single(p.parseAssign(l, eq)), nil
	}

	calls := p.calls(l)
	if outlineDeclarators[kw] || len(calls) != 1 || calls[0].Span.StartOffset != l.offsets[0] {
		node := NewNode(KindStmt, p.lineSpan(l))
		for _, c := range calls {
			node.AddChild(c)
		}
		return single(node), nil
	}
	return calls, nil
}

func (p *outlineParser) parseAssign(l outlineLine, eq int) *Node {
	node := NewNode(KindAssign, p.lineSpan(l))
	left := strings.TrimSpace(l.text[:eq])
	if w := firstField(left); outlineDeclarators[w] {
		left = strings.TrimSpace(left[len(w):])
	}
	if colon := topLevelIndex(left, ':'); colon >= 0 {
		left = strings.TrimSpace(left[:colon])
	}
	left = strings.Trim(left, "()")
	parts := strings.Split(left, ",")
	node.SetAttr(AttrTarget, strings.TrimSpace(parts[0]))
	if len(parts) > 1 {
		node.SetAttr(AttrCompanion, strings.TrimSpace(parts[1]))
	}
	for _, c := range p.calls(l.slice(eq+1, len(l.text))) {
		node.AddChild(c)
	}
	return node
}

// cond builds a header expression node with its calls as children
func (p *outlineParser) cond(l outlineLine) *Node {
	node := NewNode(KindExpr, p.lineSpan(l))
	node.SetAttr(AttrRole, RoleCond)
	node.SetAttr(AttrText, compact(l.text))
	for _, c := range p.calls(l) {
		node.AddChild(c)
	}
	return node
}

// calls finds call expressions in l, nesting calls found in arguments
func (p *outlineParser) calls(l outlineLine) []*Node {
	var out []*Node
	inString := stringMask(l.text)
	i := 0
	for i < len(l.text) {
		loc := outlineCallPattern.FindStringIndex(l.text[i:])
		if loc == nil {
			break
		}
		start, open := i+loc[0], i+loc[1]-1
		if inString[start] || (start > 0 && isWordByte(l.text[start-1])) {
			i = start + 1
			for i < len(l.text) && (isWordByte(l.text[i]) || l.text[i] == '.') {
				i++
			}
			continue
		}
		callee := strings.TrimSpace(l.text[start:open])
		closeParen := matchBracket(l.text, open)
		if outlineKeywords[callee] {
			i = open + 1
			continue
		}

		end := closeParen + 1
		if end > len(l.text) {
			end = len(l.text)
		}
		call := NewNode(KindCall, p.lineSpan(l.slice(start, end)))
		call.SetAttr(AttrCallee, callee)
		call.SetAttr(AttrName, LastSegment(callee))
		if dot := strings.LastIndex(callee, "."); dot > 0 {
			call.SetAttr(AttrReceiver, callee[:dot])
		}

		{
			args := l.slice(open+1, closeParen)
			var names []string
			for _, r := range splitTopLevel(args.text, ',') {
				arg := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(args.text[r[0]:r[1]]), "^"))
				switch {
				case arg == "":
				case outlineIdentPattern.MatchString(arg):
					names = append(names, arg)
				default:
					names = append(names, "_")
				}
			}
			call.SetAttr(AttrArgs, strings.Join(names, ","))
			for _, nested := range p.calls(args) {
				call.AddChild(nested)
			}
		}
		out = append(out, call)
		i = end
	}
	return out
}

func (p *outlineParser) syntaxError(l outlineLine, msg string) *SyntaxError {
	line, col := 1, 1
	if len(l.offsets) > 0 {
		line, col = p.position(l.offsets[0])
	}
	return &SyntaxError{Line: line, Col: col, Message: msg}
}

func (p *outlineParser) position(offset int) (int, int) {
	i := sort.Search(len(p.lineStarts), func(i int) bool { return p.lineStarts[i] > offset }) - 1
	if i < 0 {
		i = 0
	}
	return i + 1, offset - p.lineStarts[i] + 1
}

func (p *outlineParser) span(start, end int) domain.Span {
	sl, sc := p.position(start)
	el, ec := p.position(end)
	return domain.Span{
		File:        p.path,
		StartLine:   sl,
		StartCol:    sc,
		EndLine:     el,
		EndCol:      ec,
		StartOffset: start,
		EndOffset:   end,
	}
}

func (p *outlineParser) lineSpan(l outlineLine) domain.Span {
	if len(l.offsets) == 0 {
		return domain.Span{File: p.path, StartLine: 1, StartCol: 1, EndLine: 1, EndCol: 1}
	}
	return p.span(l.offsets[0], l.offsets[len(l.offsets)-1]+1)
}

func spanUnion(a, b domain.Span) domain.Span {
	out := a
	if b.EndOffset > a.EndOffset {
		out.EndLine, out.EndCol, out.EndOffset = b.EndLine, b.EndCol, b.EndOffset
	}
	return out
}

// topLevelIndex returns the first index of c outside brackets and strings
func topLevelIndex(text string, c byte) int {
	depth := 0
	inString := stringMask(text)
	for i := 0; i < len(text); i++ {
		if inString[i] {
			continue
		}
		switch text[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case c:
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitTopLevel returns [start, end) ranges of sep-separated parts
func splitTopLevel(text string, sep byte) [][2]int {
	var out [][2]int
	depth, start := 0, 0
	inString := stringMask(text)
	for i := 0; i < len(text); i++ {
		if inString[i] {
			continue
		}
		switch text[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case sep:
			if depth == 0 {
				out = append(out, [2]int{start, i})
				start = i + 1
			}
		}
	}
	if strings.TrimSpace(text[start:]) != "" {
		out = append(out, [2]int{start, len(text)})
	}
	return out
}

// assignIndex finds a top-level plain "=" (not ==, <=, +=, ...)
func assignIndex(text string) int {
	depth := 0
	inString := stringMask(text)
	for i := 0; i < len(text); i++ {
		if inString[i] {
			continue
		}
		switch text[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case '=':
			if depth != 0 {
				continue
			}
			if i+1 < len(text) && text[i+1] == '=' {
				i++
				continue
			}
			if i > 0 && strings.IndexByte("=!<>+-*/%&|^@:~", text[i-1]) >= 0 {
				continue
			}
			return i
		}
	}
	return -1
}

// matchBracket returns the index of the bracket closing text[open], or
// len(text) when it is unbalanced
func matchBracket(text string, open int) int {
	depth := 0
	inString := stringMask(text)
	for i := open; i < len(text); i++ {
		if inString[i] {
			continue
		}
		switch text[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return len(text)
}

// stringMask marks bytes inside string literals, quotes included
func stringMask(text string) []bool {
	mask := make([]bool, len(text)+1)
	var quote byte
	for i := 0; i < len(text); i++ {
		c := text[i]
		if quote != 0 {
			mask[i] = true
			if c == '\\' && i+1 < len(text) {
				mask[i+1] = true
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		if c == '"' || c == '\'' {
			quote = c
			mask[i] = true
		}
	}
	return mask
}

func isStringLiteral(text string) bool {
	if text == "" || (text[0] != '"' && text[0] != '\'') {
		return false
	}
	mask := stringMask(text)
	for i := 0; i < len(text); i++ {
		if !mask[i] {
			return false
		}
	}
	return true
}

func leadingIdent(text string) string {
	end := 0
	for end < len(text) && isWordByte(text[end]) {
		end++
	}
	return text[:end]
}

func firstField(text string) string {
	if fields := strings.Fields(text); len(fields) > 0 {
		return fields[0]
	}
	return ""
}

func compact(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > maxAttrTextLen {
		text = text[:maxAttrTextLen]
	}
	return text
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}
