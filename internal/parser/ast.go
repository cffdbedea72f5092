package parser

import (
	"fmt"
	"strings"

	"github.com/ludo-technologies/sentinel/domain"
)

// Generic node kinds emitted by every extractor
const (
	KindModule   = "module"
	KindFunction = "function"
	KindStruct   = "struct"
	KindParam    = "param"
	KindBlock    = "block"
	KindIf       = "if"
	KindLoop     = "loop"
	KindTry      = "try"
	KindWith     = "with"
	KindReturn   = "return"
	KindThrow    = "throw"
	KindBreak    = "break"
	KindContinue = "continue"
	KindAssign   = "assign"
	KindCall     = "call"
	KindStmt     = "stmt"
	KindIdent    = "ident"
	KindExpr     = "expr"
)

// Attribute keys
const (
	AttrName        = "name"
	AttrParams      = "params"
	AttrType        = "type"
	AttrReturnType  = "return_type"
	AttrAnnotations = "annotations"
	AttrCallee      = "callee"
	AttrReceiver    = "receiver"
	AttrArgs        = "args"
	AttrTarget      = "target"
	AttrCompanion   = "companion"
	AttrRole        = "role"
	AttrLoop        = "loop"
	AttrImplicit    = "implicit"
	AttrText        = "text"
)

// Structural roles of block children
const (
	RoleCond    = "cond"
	RoleThen    = "then"
	RoleElse    = "else"
	RoleBody    = "body"
	RoleHandler = "handler"
	RoleFinally = "finally"
)

// CapabilityCFG marks extractors whose trees carry control-flow kinds
// (if, loop, try, return, throw) faithfully enough to build a CFG.
const CapabilityCFG = "cfg"

// Node is the generic AST node. Language extractors emit only this shape.
type Node struct {
	Kind     string            `json:"k"`
	Span     domain.Span       `json:"s"`
	Children []*Node           `json:"c,omitempty"`
	Attrs    map[string]string `json:"a,omitempty"`
}

// NewNode creates a node of the given kind
func NewNode(kind string, span domain.Span) *Node {
	return &Node{Kind: kind, Span: span}
}

// AddChild appends a child, ignoring nil
func (n *Node) AddChild(child *Node) {
	if child == nil {
		return
	}
	n.Children = append(n.Children, child)
}

// SetAttr sets an attribute, skipping empty values
func (n *Node) SetAttr(key, value string) {
	if value == "" {
		return
	}
	if n.Attrs == nil {
		n.Attrs = make(map[string]string)
	}
	n.Attrs[key] = value
}

// Attr returns an attribute or ""
func (n *Node) Attr(key string) string {
	if n == nil || n.Attrs == nil {
		return ""
	}
	return n.Attrs[key]
}

// HasAttr reports whether the attribute is present
func (n *Node) HasAttr(key string) bool {
	if n == nil || n.Attrs == nil {
		return false
	}
	_, ok := n.Attrs[key]
	return ok
}

// Name is shorthand for Attr(AttrName)
func (n *Node) Name() string {
	return n.Attr(AttrName)
}

// Annotations returns the space-separated annotation tokens
func (n *Node) Annotations() []string {
	return strings.Fields(n.Attr(AttrAnnotations))
}

// Role is shorthand for Attr(AttrRole)
func (n *Node) Role() string {
	return n.Attr(AttrRole)
}

// ChildByRole returns the first child with the given role
func (n *Node) ChildByRole(role string) *Node {
	for _, c := range n.Children {
		if c.Role() == role {
			return c
		}
	}
	return nil
}

// ChildrenByRole returns every child with the given role
func (n *Node) ChildrenByRole(role string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Role() == role {
			out = append(out, c)
		}
	}
	return out
}

// Walk traverses the tree depth-first and calls visitor for each node.
// If the visitor returns false, the children of that node are skipped.
func (n *Node) Walk(visitor func(*Node) bool) {
	if n == nil {
		return
	}
	if !visitor(n) {
		return
	}
	for _, child := range n.Children {
		child.Walk(visitor)
	}
}

// Functions returns every function node in the tree, outermost first
func (n *Node) Functions() []*Node {
	var out []*Node
	n.Walk(func(c *Node) bool {
		if c.Kind == KindFunction {
			out = append(out, c)
		}
		return true
	})
	return out
}

// String returns a string representation of the node
func (n *Node) String() string {
	if name := n.Name(); name != "" {
		return fmt.Sprintf("%s(%s) at %s", n.Kind, name, n.Span)
	}
	return fmt.Sprintf("%s at %s", n.Kind, n.Span)
}

// IsFunction returns true if the node is a function
func (n *Node) IsFunction() bool {
	return n.Kind == KindFunction
}

// IsJump returns true for statements that leave the current block
func (n *Node) IsJump() bool {
	switch n.Kind {
	case KindReturn, KindThrow, KindBreak, KindContinue:
		return true
	}
	return false
}

// CountNodes returns the number of nodes in the tree
func (n *Node) CountNodes() int {
	count := 0
	n.Walk(func(*Node) bool {
		count++
		return true
	})
	return count
}
