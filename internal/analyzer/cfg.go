package analyzer

import (
	"fmt"

	"github.com/ludo-technologies/sentinel/internal/parser"
)

// EdgeType represents the type of edge between basic blocks
type EdgeType int

const (
	// EdgeNormal represents normal sequential flow
	EdgeNormal EdgeType = iota
	// EdgeCondTrue represents conditional true branch
	EdgeCondTrue
	// EdgeCondFalse represents conditional false branch
	EdgeCondFalse
	// EdgeException represents exception flow
	EdgeException
	// EdgeLoop represents loop back edge
	EdgeLoop
	// EdgeBreak represents break statement flow
	EdgeBreak
	// EdgeContinue represents continue statement flow
	EdgeContinue
	// EdgeReturn represents an early return
	EdgeReturn
)

// String returns the string representation of EdgeType
func (e EdgeType) String() string {
	switch e {
	case EdgeNormal:
		return "normal"
	case EdgeCondTrue:
		return "true"
	case EdgeCondFalse:
		return "false"
	case EdgeException:
		return "exception"
	case EdgeLoop:
		return "loop"
	case EdgeBreak:
		return "break"
	case EdgeContinue:
		return "continue"
	case EdgeReturn:
		return "return"
	}
	return "unknown"
}

// Edge connects two blocks by index. Cond holds the branch condition on
// EdgeCondTrue and EdgeCondFalse edges.
type Edge struct {
	From int
	To   int
	Type EdgeType
	Cond *parser.Node
}

// BasicBlock is a straight-line run of statements
type BasicBlock struct {
	ID         int
	Label      string
	Statements []*parser.Node
	Succs      []Edge
	Preds      []Edge
}

// AddStatement appends a statement, ignoring nil
func (b *BasicBlock) AddStatement(stmt *parser.Node) {
	if stmt != nil {
		b.Statements = append(b.Statements, stmt)
	}
}

// IsEmpty reports whether the block holds no statements
func (b *BasicBlock) IsEmpty() bool {
	return len(b.Statements) == 0
}

// LastStatement returns the final statement or nil
func (b *BasicBlock) LastStatement() *parser.Node {
	if len(b.Statements) == 0 {
		return nil
	}
	return b.Statements[len(b.Statements)-1]
}

// CFG is a per-function control flow graph. Blocks live in an arena and
// edges refer to them by index; Entry and Exit are indexes into Blocks.
type CFG struct {
	Name     string
	Function *parser.Node
	Blocks   []*BasicBlock
	Entry    int
	Exit     int
}

// NewCFG creates a graph holding only the entry and exit blocks
func NewCFG(name string) *CFG {
	c := &CFG{Name: name}
	c.Entry = c.NewBlock(LabelEntry)
	c.Exit = c.NewBlock(LabelExit)
	return c
}

// NewBlock appends an empty block and returns its index
func (c *CFG) NewBlock(label string) int {
	id := len(c.Blocks)
	c.Blocks = append(c.Blocks, &BasicBlock{ID: id, Label: label})
	return id
}

// Block returns the block at index id
func (c *CFG) Block(id int) *BasicBlock {
	return c.Blocks[id]
}

// Connect adds an edge from one block to another
func (c *CFG) Connect(from, to int, t EdgeType) {
	c.ConnectCond(from, to, t, nil)
}

// ConnectCond adds an edge carrying its branch condition
func (c *CFG) ConnectCond(from, to int, t EdgeType, cond *parser.Node) {
	e := Edge{From: from, To: to, Type: t, Cond: cond}
	c.Blocks[from].Succs = append(c.Blocks[from].Succs, e)
	c.Blocks[to].Preds = append(c.Blocks[to].Preds, e)
}

// HasEdge reports whether from already flows into to
func (c *CFG) HasEdge(from, to int) bool {
	for _, e := range c.Blocks[from].Succs {
		if e.To == to {
			return true
		}
	}
	return false
}

// Reachable marks the blocks reachable from Entry
func (c *CFG) Reachable() []bool {
	seen := make([]bool, len(c.Blocks))
	stack := []int{c.Entry}
	seen[c.Entry] = true
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range c.Blocks[id].Succs {
			if !seen[e.To] {
				seen[e.To] = true
				stack = append(stack, e.To)
			}
		}
	}
	return seen
}

// ReversePostOrder returns the reachable blocks in reverse postorder from Entry
func (c *CFG) ReversePostOrder() []int {
	visited := make([]bool, len(c.Blocks))
	post := make([]int, 0, len(c.Blocks))

	type frame struct {
		id   int
		next int
	}
	stack := []frame{{id: c.Entry}}
	visited[c.Entry] = true
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		succs := c.Blocks[top.id].Succs
		if top.next < len(succs) {
			to := succs[top.next].To
			top.next++
			if !visited[to] {
				visited[to] = true
				stack = append(stack, frame{id: to})
			}
			continue
		}
		post = append(post, top.id)
		stack = stack[:len(stack)-1]
	}

	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}

// String returns a compact description for debugging
func (c *CFG) String() string {
	edges := 0
	for _, b := range c.Blocks {
		edges += len(b.Succs)
	}
	return fmt.Sprintf("CFG(%s: %d blocks, %d edges)", c.Name, len(c.Blocks), edges)
}
