package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"svc-steward.io/steward/internal/domain"
)

type contextKey string

const (
	// RequestIDHeader is the HTTP header for request tracing.
	RequestIDHeader = "X-Request-ID"

	ctxKeyRequestID contextKey = "request_id"
	ctxKeyCaller    contextKey = "caller"
	ctxKeyUsername  contextKey = "username"
)

// RequestID injects a unique request ID into the context and response header.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(RequestIDHeader)
		if rid == "" {
			id, _ := uuid.NewV7()
			rid = id.String()
		}
		c.Set(string(ctxKeyRequestID), rid)
		c.Writer.Header().Set(RequestIDHeader, rid)
		c.Request = c.Request.WithContext(
			context.WithValue(c.Request.Context(), ctxKeyRequestID, rid),
		)
		c.Next()
	}
}

// GetRequestID extracts request ID from context.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRequestID).(string); ok {
		return v
	}
	return ""
}

// SetUserContext stores the authenticated caller identity in context.
func SetUserContext(ctx context.Context, caller domain.UserContext, username string) context.Context {
	ctx = context.WithValue(ctx, ctxKeyCaller, caller)
	ctx = context.WithValue(ctx, ctxKeyUsername, username)
	return ctx
}

// GetUserContext extracts the caller identity from context. The zero value
// means the request was not authenticated.
func GetUserContext(ctx context.Context) domain.UserContext {
	if v, ok := ctx.Value(ctxKeyCaller).(domain.UserContext); ok {
		return v
	}
	return domain.UserContext{}
}

// GetUserID extracts the caller's user ID from context.
func GetUserID(ctx context.Context) string {
	return GetUserContext(ctx).UserID
}

// GetUsername extracts the caller's login name from context.
func GetUsername(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyUsername).(string); ok {
		return v
	}
	return ""
}
