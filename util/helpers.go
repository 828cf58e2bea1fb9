package util

import (
	"context"

	"github.com/gin-gonic/gin"
)

const GinContextKey string = "GinContextKey"

// GinContextFromContext retrieves a gin.Context previously stored in the
// request context via the GinContextToContext middleware, or nil if the
// context never passed through the middleware.
func GinContextFromContext(ctx context.Context) *gin.Context {
	if ctx == nil {
		return nil
	}

	// If the context is a gin context, return it
	if gc, ok := ctx.(*gin.Context); ok {
		return gc
	}

	gc, _ := ctx.Value(GinContextKey).(*gin.Context)
	return gc
}

// MapKeys returns the keys of a map in unspecified order.
func MapKeys[K comparable, V any](m map[K]V) []K {
	out := make([]K, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
