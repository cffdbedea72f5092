package domain

import (
	"sort"
	"time"
)

// RiskLevel grades a function's cyclomatic complexity
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// AllRiskLevels lists the levels from least to most risky
var AllRiskLevels = []RiskLevel{RiskLow, RiskMedium, RiskHigh}

// LineCounts splits the lines of a file. Blank and comment-only lines are
// not code; Total is their sum with Code.
type LineCounts struct {
	Total   int `json:"total" yaml:"total"`
	Code    int `json:"code" yaml:"code"`
	Comment int `json:"comment" yaml:"comment"`
	Blank   int `json:"blank" yaml:"blank"`
}

// Add accumulates other into c
func (c *LineCounts) Add(other LineCounts) {
	c.Total += other.Total
	c.Code += other.Code
	c.Comment += other.Comment
	c.Blank += other.Blank
}

// FunctionMetrics holds the control-flow metrics of one function
type FunctionMetrics struct {
	Name              string    `json:"name" yaml:"name"`
	Span              Span      `json:"span" yaml:"span"`
	Complexity        int       `json:"complexity" yaml:"complexity"`
	Nodes             int       `json:"nodes" yaml:"nodes"`
	Edges             int       `json:"edges" yaml:"edges"`
	NestingDepth      int       `json:"nesting_depth" yaml:"nesting_depth"`
	IfStatements      int       `json:"if_statements" yaml:"if_statements"`
	LoopStatements    int       `json:"loop_statements" yaml:"loop_statements"`
	ExceptionHandlers int       `json:"exception_handlers" yaml:"exception_handlers"`
	Lines             int       `json:"lines" yaml:"lines"`
	Risk              RiskLevel `json:"risk" yaml:"risk"`
}

// FileMetrics holds the metrics of one file
type FileMetrics struct {
	Path          string            `json:"path" yaml:"path"`
	Language      string            `json:"language,omitempty" yaml:"language,omitempty"`
	Lines         LineCounts        `json:"lines" yaml:"lines"`
	Functions     []FunctionMetrics `json:"functions,omitempty" yaml:"functions,omitempty"`
	FromCache     bool              `json:"from_cache,omitempty" yaml:"from_cache,omitempty"`
	ParseFailed   bool              `json:"parse_failed,omitempty" yaml:"parse_failed,omitempty"`
	ParseTimedOut bool              `json:"parse_timeout,omitempty" yaml:"parse_timeout,omitempty"`
	Skipped       bool              `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	SkipReason    string            `json:"skip_reason,omitempty" yaml:"skip_reason,omitempty"`
}

// MaxComplexity returns the highest function complexity of the file, or 0
func (f *FileMetrics) MaxComplexity() int {
	highest := 0
	for _, fn := range f.Functions {
		if fn.Complexity > highest {
			highest = fn.Complexity
		}
	}
	return highest
}

// MetricsTotals aggregates file metrics over a directory or a whole run
type MetricsTotals struct {
	Files             int               `json:"files" yaml:"files"`
	FilesSkipped      int               `json:"files_skipped" yaml:"files_skipped"`
	Functions         int               `json:"functions" yaml:"functions"`
	Lines             LineCounts        `json:"lines" yaml:"lines"`
	TotalComplexity   int               `json:"total_complexity" yaml:"total_complexity"`
	MaxComplexity     int               `json:"max_complexity" yaml:"max_complexity"`
	AverageComplexity float64           `json:"average_complexity" yaml:"average_complexity"`
	ByRisk            map[RiskLevel]int `json:"by_risk" yaml:"by_risk"`
}

// NewMetricsTotals returns totals with an initialized risk map
func NewMetricsTotals() MetricsTotals {
	return MetricsTotals{ByRisk: make(map[RiskLevel]int)}
}

// Add folds one file into the totals
func (t *MetricsTotals) Add(f FileMetrics) {
	if t.ByRisk == nil {
		t.ByRisk = make(map[RiskLevel]int)
	}
	if f.Skipped {
		t.FilesSkipped++
		return
	}
	t.Files++
	t.Lines.Add(f.Lines)
	for _, fn := range f.Functions {
		t.Functions++
		t.TotalComplexity += fn.Complexity
		t.ByRisk[fn.Risk]++
		if fn.Complexity > t.MaxComplexity {
			t.MaxComplexity = fn.Complexity
		}
	}
	if t.Functions > 0 {
		t.AverageComplexity = float64(t.TotalComplexity) / float64(t.Functions)
	}
}

// DirectoryMetrics is the aggregate of the files directly inside one directory
type DirectoryMetrics struct {
	Path   string        `json:"path" yaml:"path"`
	Totals MetricsTotals `json:"totals" yaml:"totals"`
}

// MetricsReport is the result of one metrics run
type MetricsReport struct {
	Target      string             `json:"target" yaml:"target"`
	GeneratedAt time.Time          `json:"generated_at" yaml:"generated_at"`
	ConfigHash  string             `json:"config_hash" yaml:"config_hash"`
	Files       []FileMetrics      `json:"files" yaml:"files"`
	Directories []DirectoryMetrics `json:"directories,omitempty" yaml:"directories,omitempty"`
	Totals      *MetricsTotals     `json:"totals,omitempty" yaml:"totals,omitempty"`
}

// SortFileMetrics orders files by path
func SortFileMetrics(files []FileMetrics) {
	sort.SliceStable(files, func(i, j int) bool { return files[i].Path < files[j].Path })
}
