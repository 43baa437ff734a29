package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

const (
	responseMetaKey  = "response_meta"
	requestStartKey  = "request_start"
	cacheHitKey      = "cache_hit"
	processingTimeMs = "processing_time_ms"
	cacheHeader      = "X-Cache"
)

// WithResponseMeta stamps the request start so handlers can report processing time.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(requestStartKey, time.Now())
		c.Set(responseMetaKey, map[string]interface{}{})
		c.Next()
	}
}

// SetCacheHit flags whether the payload came from the report cache and mirrors it in X-Cache.
func SetCacheHit(c *gin.Context, hit bool) {
	ensureMeta(c)[cacheHitKey] = hit
	if hit {
		c.Header(cacheHeader, "HIT")
	} else {
		c.Header(cacheHeader, "MISS")
	}
}

// ExtractMeta returns the metadata collected so far with processing_time_ms measured now.
// The request start comes from WithResponseMeta, or from since when the middleware is absent.
func ExtractMeta(c *gin.Context, since ...time.Time) map[string]interface{} {
	if c == nil {
		return nil
	}
	meta := ensureMeta(c)
	start, ok := c.Get(requestStartKey)
	switch {
	case len(since) > 0 && !since[0].IsZero():
		meta[processingTimeMs] = time.Since(since[0]).Milliseconds()
	case ok:
		meta[processingTimeMs] = time.Since(start.(time.Time)).Milliseconds()
	}
	return meta
}

func ensureMeta(c *gin.Context) map[string]interface{} {
	if meta, exists := c.Get(responseMetaKey); exists {
		if typed, ok := meta.(map[string]interface{}); ok {
			return typed
		}
	}
	meta := make(map[string]interface{})
	c.Set(responseMetaKey, meta)
	return meta
}
