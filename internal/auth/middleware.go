package auth

import (
	"context"
	"net/http"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MikeMC777/storefront/internal/logging"
	"github.com/MikeMC777/storefront/internal/user"
)

const (
	ctxUserID = "uid"
	ctxUser   = "user"
)

type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Provisioner maps a verified identity to a local user. *user.Service satisfies it.
type Provisioner interface {
	Provision(ctx context.Context, p user.Profile) (*user.User, error)
}

// Middleware rejects requests without a valid bearer token and stores the
// caller's user id on the context.
func Middleware(v TokenVerifier, users Provisioner, l *zap.Logger) gin.HandlerFunc {
	log := logging.OrNop(l).Named("auth")
	return func(c *gin.Context) {
		token, ok := bearer(c.GetHeader("Authorization"))
		if !ok {
			abort(c, "missing bearer token")
			return
		}

		tok, err := v.VerifyIDToken(c.Request.Context(), token)
		if err != nil || tok == nil || tok.UID == "" {
			log.Info("token rejected", zap.Error(err))
			abort(c, "invalid or expired token")
			return
		}

		u, err := users.Provision(c.Request.Context(), ProfileFromToken(tok))
		if err != nil {
			log.Error("provision user", zap.String("uid", tok.UID), zap.Error(err))
			rid, _ := c.Get("rid")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "internal_error", "message": "could not load user", "request_id": rid,
			})
			return
		}

		c.Set(ctxUserID, u.ID)
		c.Set(ctxUser, u)
		c.Next()
	}
}

// ProfileFromToken reads the standard Firebase claims.
func ProfileFromToken(tok *firebaseauth.Token) user.Profile {
	claim := func(k string) string {
		s, _ := tok.Claims[k].(string)
		return strings.TrimSpace(s)
	}
	return user.Profile{
		UID:     tok.UID,
		Email:   claim("email"),
		Name:    claim("name"),
		Picture: claim("picture"),
	}
}

// UserID returns the authenticated user's id, or "" outside the middleware.
func UserID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

// SetUserID is for tests and trusted internal callers.
func SetUserID(c *gin.Context, id string) {
	c.Set(ctxUserID, id)
}

func bearer(h string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func abort(c *gin.Context, msg string) {
	rid, _ := c.Get("rid")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": "unauthenticated", "message": msg, "request_id": rid,
	})
}
