package httpx

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MikeMC777/storefront/internal/logging"
)

const HeaderRequestID = "X-Request-ID"

func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(HeaderRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set("rid", rid)
		c.Writer.Header().Set(HeaderRequestID, rid)
		c.Next()
	}
}

// RID returns the request id set by RequestID.
func RID(c *gin.Context) string {
	return c.GetString("rid")
}

func Logger(l *zap.Logger) gin.HandlerFunc {
	log := logging.OrNop(l).Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("rid", RID(c)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("dur", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			log.Error("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}

// Recovery turns panics into a 500 with the standard error body.
func Recovery(l *zap.Logger) gin.HandlerFunc {
	log := logging.OrNop(l).Named("http")
	return gin.CustomRecovery(func(c *gin.Context, rec any) {
		log.Error("panic", zap.String("rid", RID(c)), zap.Any("panic", rec), zap.Stack("stack"))
		Error(c, http.StatusInternalServerError, "internal_error", "internal server error")
	})
}

// Error writes {"error": code, "message": msg, "request_id": rid} and aborts.
func Error(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": msg, "request_id": RID(c)})
}
