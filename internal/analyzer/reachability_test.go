package analyzer

import (
	"testing"

	"github.com/ludo-technologies/sentinel/domain"
	"github.com/ludo-technologies/sentinel/internal/parser"
	"github.com/ludo-technologies/sentinel/internal/testutil"
)

func TestAnalyzeReachability_NilCFG(t *testing.T) {
	result := AnalyzeReachability(nil)
	if result.TotalBlocks != 0 || result.ReachableCount != 0 || result.UnreachableCount != 0 {
		t.Errorf("nil graph should be empty, got %+v", result)
	}
	if result.HasUnreachableCode(nil) {
		t.Error("nil graph has no dead code")
	}
}

func TestAnalyzeReachability_Counts(t *testing.T) {
	cfg := buildCFG(t, fnNode("f", 1, stmtNode(2), jumpNode(parser.KindReturn, 3, "return")))
	result := AnalyzeReachability(cfg)

	if result.TotalBlocks != len(cfg.Blocks) {
		t.Errorf("TotalBlocks = %d, want %d", result.TotalBlocks, len(cfg.Blocks))
	}
	if result.ReachableCount+result.UnreachableCount != result.TotalBlocks {
		t.Errorf("counts do not add up: %+v", result)
	}
	if result.UnreachableCount == 0 {
		t.Error("the block opened after return should be unreachable")
	}
	if result.HasUnreachableCode(cfg) {
		t.Error("an empty block after the final return is not dead code")
	}
}

func TestDeadRegions(t *testing.T) {
	tests := []struct {
		name  string
		body  []*parser.Node
		lines []int
	}{
		{
			name:  "no jumps",
			body:  []*parser.Node{stmtNode(2), stmtNode(3)},
			lines: nil,
		},
		{
			name: "after return",
			body: []*parser.Node{
				stmtNode(2),
				jumpNode(parser.KindReturn, 3, "return"),
				stmtNode(4),
				stmtNode(5),
			},
			lines: []int{4},
		},
		{
			name: "after if where both branches leave",
			body: []*parser.Node{
				ifNode(2, "x",
					[]*parser.Node{jumpNode(parser.KindReturn, 3, "return 1")},
					[]*parser.Node{jumpNode(parser.KindThrow, 5, "raise err")}),
				stmtNode(6),
			},
			lines: []int{6},
		},
		{
			name: "one branch leaves",
			body: []*parser.Node{
				ifNode(2, "x", []*parser.Node{jumpNode(parser.KindReturn, 3, "return 1")}, nil),
				stmtNode(4),
			},
			lines: nil,
		},
		{
			name: "after break inside loop",
			body: []*parser.Node{
				loopNode(2, "running", jumpNode(parser.KindBreak, 3, "break"), stmtNode(4)),
				stmtNode(5),
			},
			lines: []int{4},
		},
		{
			name: "two separate regions",
			body: []*parser.Node{
				loopNode(2, "running", jumpNode(parser.KindContinue, 3, "continue"), stmtNode(4)),
				jumpNode(parser.KindReturn, 5, "return"),
				stmtNode(6),
			},
			lines: []int{4, 6},
		},
		{
			name: "dead statement inside try still runs finally",
			body: []*parser.Node{
				tryNode(2,
					[]*parser.Node{jumpNode(parser.KindReturn, 3, "return"), stmtNode(4)},
					nil,
					[]*parser.Node{stmtNode(6)}),
				stmtNode(7),
			},
			lines: []int{4},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := buildCFG(t, fnNode("f", 1, tt.body...))
			regions := AnalyzeReachability(cfg).DeadRegions(cfg)

			var got []int
			for _, n := range regions {
				got = append(got, n.Span.StartLine)
			}
			if len(got) != len(tt.lines) {
				t.Fatalf("dead regions at %v, want %v", got, tt.lines)
			}
			for i := range got {
				if got[i] != tt.lines[i] {
					t.Errorf("region %d at line %d, want %d", i, got[i], tt.lines[i])
				}
			}
		})
	}
}

func TestUnreachableCodeCheck(t *testing.T) {
	py := `def early(x):
    return x
    print(x)

def fine(x):
    if x:
        return 1
    return 2
`
	root := testutil.CreateTestAST(t, "python", parser.ParserTreeSitter, py)
	if n := testutil.CountNodesOfKind(root, parser.KindReturn); n != 3 {
		t.Fatalf("expected 3 returns, got %d", n)
	}
	early := buildCFG(t, testutil.FindFunctionInAST(root, "early"))
	if !AnalyzeReachability(early).HasUnreachableCode(early) {
		t.Error("early should contain dead code")
	}

	issues := runAST(t, defaultCheck(t, "python", "unreachable_code"), root)
	if len(issues) != 1 {
		t.Fatalf("expected 1 dead region, got %+v", issues)
	}
	if issues[0].span.StartLine != 3 || issues[0].subject != "early" {
		t.Errorf("unexpected issue %+v", issues[0])
	}
	if issues[0].def.Severity != domain.SeverityMedium {
		t.Errorf("severity = %s", issues[0].def.Severity)
	}

	goSrc := `package main

func stop() error {
	return nil
	panic("never")
}
`
	issues = runAST(t, defaultCheck(t, "go", "unreachable_code"), testutil.CreateTestAST(t, "go", parser.ParserTreeSitter, goSrc))
	if len(issues) != 1 || issues[0].span.StartLine != 5 {
		t.Fatalf("expected the panic on line 5, got %+v", issues)
	}
}
