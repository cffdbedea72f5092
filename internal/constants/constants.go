package constants

// Tool name and related constants
const (
	// ToolName is the name of this tool
	ToolName = "sentinel"

	// ConfigFileName is the default config file name
	ConfigFileName = "sentinel.yaml"

	// StateDirName holds the cache and the findings database
	StateDirName = ".sentinel"
)

// Exit codes of the analyze command
const (
	ExitClean    = 0
	ExitFindings = 1
	ExitError    = 2
)

// Cache namespaces under cache.directory
const (
	CacheDirAST     = "ast"
	CacheDirResults = "results"
)

// API routes served by `sentinel serve`
const (
	RouteHealth   = "/health"
	RouteAPI      = "/api/v1"
	RouteAnalyze  = "/analyze"
	RouteFindings = "/findings"
	RouteSessions = "/sessions"
)
