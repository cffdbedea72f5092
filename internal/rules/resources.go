package rules

import "github.com/ludo-technologies/sentinel/internal/config"

// ResourceTokens lists the call names that acquire and release one resource category
type ResourceTokens = config.ResourceTokens

// DefaultResourceTokens returns the built-in token table. Names are matched
// against the last segment of a callee, so os.Open matches "Open".
func DefaultResourceTokens() map[string]ResourceTokens {
	return map[string]ResourceTokens{
		"file": {
			Acquire: []string{"open", "fopen", "Open", "OpenFile", "Create", "CreateTemp", "openSync", "createReadStream", "createWriteStream"},
			Release: []string{"close", "fclose", "Close", "closeSync", "end", "destroy"},
		},
		"memory": {
			Acquire: []string{"malloc", "calloc", "realloc", "strdup", "alloc", "allocate"},
			Release: []string{"free", "dealloc", "deallocate", "free_memory"},
		},
		"network": {
			Acquire: []string{"socket", "connect", "create_connection", "urlopen", "Dial", "DialTimeout", "DialContext", "Listen", "createConnection"},
			Release: []string{"close", "Close", "shutdown", "disconnect", "destroy", "end"},
		},
	}
}

// resolveResources builds the tracked category table of one check: the
// configured override for a category wins over the built-in entry
func resolveResources(track []string, overrides map[string]ResourceTokens) map[string]ResourceTokens {
	defaults := DefaultResourceTokens()
	out := make(map[string]ResourceTokens, len(track))
	for _, category := range track {
		tokens, ok := overrides[category]
		if !ok {
			tokens = defaults[category]
		}
		if len(tokens.Acquire) == 0 || len(tokens.Release) == 0 {
			continue
		}
		out[category] = ResourceTokens{
			Acquire: append([]string(nil), tokens.Acquire...),
			Release: append([]string(nil), tokens.Release...),
		}
	}
	return out
}
