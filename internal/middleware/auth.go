package middleware

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/repo-tracker/pkg/auth"
	apperrors "github.com/jwalitptl/repo-tracker/pkg/errors"
	"github.com/jwalitptl/repo-tracker/pkg/httputil"
)

const (
	HeaderCronSecret = "X-Cron-Secret"
	ContextUserID    = "user_id"
	ContextUserEmail = "user_email"
)

var (
	errMissingCredentials = errors.New("missing credentials")
	errInvalidCredentials = errors.New("invalid credentials")
)

type AuthMiddleware struct {
	tokens     auth.JWTService
	cronSecret []byte
}

func NewAuthMiddleware(tokens auth.JWTService, cronSecret string) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, cronSecret: []byte(cronSecret)}
}

func bearerToken(c *gin.Context) (string, bool) {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// Authenticate verifies the bearer token and sets the user in context.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			httputil.RespondWithError(c, apperrors.Unauthorized(errMissingCredentials))
			return
		}

		claims, err := m.tokens.ValidateToken(raw)
		if err != nil {
			httputil.RespondWithError(c, apperrors.Unauthorized(err))
			return
		}
		userID, err := claims.UserID()
		if err != nil {
			httputil.RespondWithError(c, apperrors.Unauthorized(err))
			return
		}

		c.Set(ContextUserID, userID)
		c.Set(ContextUserEmail, claims.Email)
		c.Next()
	}
}

// CronAuth admits requests carrying the shared secret either as a bearer
// token or in X-Cron-Secret; a match in either header is enough. An unset
// secret rejects everything.
func (m *AuthMiddleware) CronAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		bearer, _ := bearerToken(c)
		if !m.cronSecretMatches(bearer) && !m.cronSecretMatches(c.GetHeader(HeaderCronSecret)) {
			httputil.RespondWithError(c, apperrors.Unauthorized(errInvalidCredentials))
			return
		}
		c.Next()
	}
}

func (m *AuthMiddleware) cronSecretMatches(given string) bool {
	if len(m.cronSecret) == 0 || given == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(given), m.cronSecret) == 1
}

// UserID returns the authenticated user set by Authenticate.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// UserEmail returns the email claim, which may be empty.
func UserEmail(c *gin.Context) string {
	return c.GetString(ContextUserEmail)
}
