// Package auth resolves the calling user from a bearer JWT and guards admin routes.
// Issuing tokens for real sessions happens elsewhere; IssueToken exists for tools and tests.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/david/grant-tracker/internal/config"
)

type contextKey string

const UserIDKey contextKey = "user_id"

const AdminHeader = "X-Admin-Secret"

type Authenticator struct {
	jwtSecret   []byte
	adminSecret string
}

func NewAuthenticator(cfg config.AuthConfig) (*Authenticator, error) {
	jwtSecret, err := secretOrEphemeral(cfg.JWTSecret, "JWT_SECRET")
	if err != nil {
		return nil, err
	}
	adminSecret, err := secretOrEphemeral(cfg.AdminSecret, "ADMIN_SECRET")
	if err != nil {
		return nil, err
	}
	return &Authenticator{jwtSecret: []byte(jwtSecret), adminSecret: adminSecret}, nil
}

// IssueToken signs an HS256 token whose subject is the user id.
func (a *Authenticator) IssueToken(userID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return token.SignedString(a.jwtSecret)
}

func bearer(c echo.Context) (string, bool) {
	h := c.Request().Header.Get("Authorization")
	parts := strings.Split(h, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// Middleware resolves the caller from an HS256 bearer token and stores the user id on the context.
func (a *Authenticator) Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw, ok := bearer(c)
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "Missing or malformed Authorization header")
		}
		userID, err := a.subject(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
		}
		c.Set(string(UserIDKey), userID)
		return next(c)
	}
}

func (a *Authenticator) subject(raw string) (uuid.UUID, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("token subject: %w", err)
	}
	return id, nil
}

// AdminMiddleware accepts the admin secret in X-Admin-Secret or as a bearer token.
func (a *Authenticator) AdminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if a.isAdminSecret(c.Request().Header.Get(AdminHeader)) {
			return next(c)
		}
		if tok, ok := bearer(c); ok && a.isAdminSecret(tok) {
			return next(c)
		}
		return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized admin access")
	}
}

func (a *Authenticator) isAdminSecret(v string) bool {
	return v != "" && subtle.ConstantTimeCompare([]byte(v), []byte(a.adminSecret)) == 1
}

// GetUserIDFromContext returns the id stored by Middleware.
func GetUserIDFromContext(c echo.Context) (uuid.UUID, error) {
	id, ok := c.Get(string(UserIDKey)).(uuid.UUID)
	if !ok {
		return uuid.Nil, errors.New("user ID not found in context")
	}
	return id, nil
}
