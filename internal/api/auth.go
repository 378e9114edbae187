// auth.go - JWT login and owner resolution
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/Kiwi1009/interview-to-quote/internal/config"
)

// AnonymousOwner owns every case while authentication is off.
const AnonymousOwner = "anonymous"

const ownerKey = "owner"

// Claims represents the JWT claims
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// GenerateToken signs an HS256 token for username.
func GenerateToken(username string, cfg config.SecurityConfig) (string, time.Time, error) {
	hours := cfg.TokenExpireHours
	if hours <= 0 {
		hours = 24
	}
	expiresAt := time.Now().Add(time.Duration(hours) * time.Hour)
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// AuthMiddleware resolves the case owner of a request. With authentication
// off every request acts as AnonymousOwner.
func AuthMiddleware(cfg config.SecurityConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !cfg.RequireAuth {
				c.Set(ownerKey, AnonymousOwner)
				return next(c)
			}

			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				return NewUnauthorizedError("Authorization header required")
			}
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				return NewUnauthorizedError("Invalid authorization header format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
				return []byte(cfg.JWTSecret), nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid || claims.Username == "" {
				return NewUnauthorizedError("Invalid or expired token")
			}

			c.Set(ownerKey, claims.Username)
			return next(c)
		}
	}
}

// Owner returns the owner resolved by AuthMiddleware.
func Owner(c echo.Context) string {
	if owner, ok := c.Get(ownerKey).(string); ok && owner != "" {
		return owner
	}
	return AnonymousOwner
}

// AuthHandlerImpl implements the AuthHandler interface
type AuthHandlerImpl struct {
	cfg config.SecurityConfig
}

// NewAuthHandler creates a login handler backed by the configured users.
func NewAuthHandler(cfg config.SecurityConfig) AuthHandler {
	return &AuthHandlerImpl{cfg: cfg}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
}

// HandleLogin exchanges configured credentials for a token
func (h *AuthHandlerImpl) HandleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if strings.TrimSpace(req.Username) == "" {
		return NewValidationError("username")
	}
	if !h.cfg.RequireAuth {
		return NewBadRequestError("authentication is disabled", nil)
	}

	ok := false
	for _, u := range h.cfg.Users {
		if u.Username == req.Username &&
			subtle.ConstantTimeCompare([]byte(u.Password), []byte(req.Password)) == 1 {
			ok = true
			break
		}
	}
	if !ok {
		return NewUnauthorizedError("invalid username or password")
	}

	token, expiresAt, err := GenerateToken(req.Username, h.cfg)
	if err != nil {
		return NewInternalError("failed to sign token", err)
	}
	return c.JSON(http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt, Username: req.Username})
}
