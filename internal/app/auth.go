package app

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"calendar-service/internal/config"
	"calendar-service/internal/logging"
)

const (
	actorKey   = "actor_id"
	contextKey = "context_id"
)

// Claims are the JWT claims accepted by the API. The subject is the actor's
// user id.
type Claims struct {
	ContextID int64 `json:"cid"`
	jwt.RegisteredClaims
}

type principal struct {
	actor     int64
	contextID int64
}

// parseStaticTokens reads token=actor:context entries. Malformed entries are
// skipped.
func parseStaticTokens(entries []string) map[string]principal {
	out := make(map[string]principal, len(entries))
	for _, e := range entries {
		token, ids, ok := strings.Cut(e, "=")
		if !ok {
			logging.Warn().Msg("static token without actor, ignored")
			continue
		}
		a, cid, ok := strings.Cut(ids, ":")
		if !ok {
			continue
		}
		actor, err1 := strconv.ParseInt(a, 10, 64)
		contextID, err2 := strconv.ParseInt(cid, 10, 64)
		if err1 != nil || err2 != nil || actor <= 0 || contextID <= 0 {
			continue
		}
		out[strings.TrimSpace(token)] = principal{actor: actor, contextID: contextID}
	}
	return out
}

// AuthMiddleware accepts an HMAC signed JWT or one of the static tokens and
// stores the caller's actor and context id.
func AuthMiddleware(cfg config.AuthConfig) gin.HandlerFunc {
	staticTokens := parseStaticTokens(cfg.Tokens())
	jwtSecret := strings.TrimSpace(cfg.JWTSecret)

	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}
		parts := strings.Fields(auth)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		tokenStr := parts[1]

		if jwtSecret != "" {
			if p, err := parseJWT(tokenStr, jwtSecret); err == nil {
				authenticate(c, p)
				return
			}
		}

		if p, ok := staticTokens[tokenStr]; ok {
			authenticate(c, p)
			return
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
	}
}

func parseJWT(tokenStr, secret string) (principal, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenMalformed
		}
		return []byte(secret), nil
	}, jwt.WithLeeway(5*time.Second))
	if err != nil {
		return principal{}, err
	}
	actor, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || actor <= 0 || claims.ContextID <= 0 {
		return principal{}, jwt.ErrTokenInvalidClaims
	}
	return principal{actor: actor, contextID: claims.ContextID}, nil
}

func authenticate(c *gin.Context, p principal) {
	c.Set(actorKey, p.actor)
	c.Set(contextKey, p.contextID)
	ctx := logging.WithFields(c.Request.Context(), logging.Fields{ActorID: p.actor, ContextID: p.contextID})
	c.Request = c.Request.WithContext(ctx)
	c.Next()
}

// identity returns the authenticated actor and context id.
func identity(c *gin.Context) (actor, contextID int64) {
	return c.GetInt64(actorKey), c.GetInt64(contextKey)
}
