package interpreter

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"mailaudit/backend/internal/cache"
	"mailaudit/backend/internal/domain"
)

// QueryInterpreter 与 service.QueryInterpreter 签名一致
type QueryInterpreter interface {
	Interpret(ctx context.Context, rawText string) (domain.SearchParameters, error)
}

// CachedInterpreter 缓存解析结果，相同查询在有效期内不再调用语言模型
//
// 只缓存成功的解析结果，失败总是透传。
type CachedInterpreter struct {
	inner QueryInterpreter
	cache *cache.LocalCache[domain.SearchParameters]
	log   *zap.Logger
}

// NewCached 用本地缓存包装解析器
func NewCached(inner QueryInterpreter, c *cache.LocalCache[domain.SearchParameters], log *zap.Logger) *CachedInterpreter {
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedInterpreter{inner: inner, cache: c, log: log.Named("interpreter_cache")}
}

// Interpret 命中缓存时直接返回
func (c *CachedInterpreter) Interpret(ctx context.Context, rawText string) (domain.SearchParameters, error) {
	key := cacheKey(rawText)
	if params, ok := c.cache.Get(key); ok {
		c.log.Debug("interpretation cache hit", zap.String("query", rawText))
		return params, nil
	}

	params, err := c.inner.Interpret(ctx, rawText)
	if err != nil {
		return params, err
	}

	c.cache.Set(key, params)
	return params, nil
}

// cacheKey 小写并折叠空白
func cacheKey(rawText string) string {
	return strings.Join(strings.Fields(strings.ToLower(rawText)), " ")
}
