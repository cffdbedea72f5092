package parser

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/ludo-technologies/sentinel/internal/cache"
)

// TreeStore is the cache a CachingExtractor keeps serialized trees in
type TreeStore interface {
	GetOrLoad(ctx context.Context, key, contentHash string, load func(context.Context) ([]byte, error)) ([]byte, bool, error)
	Delete(key string)
}

// CachingExtractor serves trees from a TreeStore keyed by content hash and
// language, delegating to the wrapped extractor on a miss
type CachingExtractor struct {
	inner  Extractor
	store  TreeStore
	logger *zap.Logger
}

// NewCachingExtractor wraps inner with the tree cache
func NewCachingExtractor(inner Extractor, store TreeStore, logger *zap.Logger) *CachingExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachingExtractor{inner: inner, store: store, logger: logger}
}

// Language returns the wrapped extractor's language
func (c *CachingExtractor) Language() string {
	return c.inner.Language()
}

// Capabilities returns the wrapped extractor's capabilities
func (c *CachingExtractor) Capabilities() []string {
	return c.inner.Capabilities()
}

// Extract returns the cached tree for src or parses it. A payload that no
// longer decodes is dropped and the file is parsed again.
func (c *CachingExtractor) Extract(ctx context.Context, path string, src []byte) (*Node, error) {
	hash := cache.HashContent(src)
	key := TreeCacheKey(hash, c.inner.Language())

	var parsed *Node
	payload, hit, err := c.store.GetOrLoad(ctx, key, hash, func(ctx context.Context) ([]byte, error) {
		node, err := c.inner.Extract(ctx, path, src)
		if err != nil {
			return nil, err
		}
		parsed = node
		return json.Marshal(node)
	})
	if err != nil {
		return nil, err
	}
	if parsed != nil {
		return parsed, nil
	}

	var node Node
	if err := json.Unmarshal(payload, &node); err != nil {
		c.logger.Debug("dropping undecodable cached tree", zap.String("path", path), zap.Error(err))
		c.store.Delete(key)
		return c.inner.Extract(ctx, path, src)
	}
	if hit {
		c.logger.Debug("tree cache hit", zap.String("path", path))
	}
	// identical content may have been cached under another path
	node.Walk(func(n *Node) bool {
		n.Span.File = path
		return true
	})
	return &node, nil
}

// TreeCacheKey builds the tree cache key for a content hash and language
func TreeCacheKey(contentHash, language string) string {
	return "ast:" + language + ":" + contentHash
}
