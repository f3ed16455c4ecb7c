// Package middleware provides authentication, logging, tracing and metrics middleware.
package middleware

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken is returned when no bearer token is present.
	ErrMissingToken = errors.New("authorization required")
	// ErrInvalidToken is returned for unparsable, expired or badly signed tokens.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrInvalidSubject is returned when the token carries no usable subject.
	ErrInvalidSubject = errors.New("invalid subject claim")
)

// BearerToken extracts the token from an "Authorization: Bearer <token>" header value.
func BearerToken(header string) string {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

// ParseUserToken validates an HS256 token and returns its subject as the user id.
func ParseUserToken(secret, tokenString string) (string, error) {
	if tokenString == "" {
		return "", ErrMissingToken
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return "", ErrInvalidSubject
	}
	return sub, nil
}

// SignUserToken issues an HS256 token for userID. Used by tooling and tests.
func SignUserToken(secret, userID string, claims jwt.MapClaims) (string, error) {
	if claims == nil {
		claims = jwt.MapClaims{}
	}
	claims["sub"] = userID
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// AuthRequired enforces a valid user token. The token is read from the
// Authorization header, or from the token query parameter on websocket paths.
func AuthRequired(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := BearerToken(c.Get("Authorization"))
		if tokenString == "" && strings.HasPrefix(c.Path(), "/api/ws") {
			tokenString = c.Query("token")
		}

		userID, err := ParseUserToken(secret, tokenString)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": err.Error(),
				"code":  "UNAUTHORIZED",
			})
		}

		c.Locals("userID", userID)
		c.SetUserContext(WithUserID(c.UserContext(), userID))

		return c.Next()
	}
}

// InternalTokenRequired protects operator endpoints with a shared token sent
// in the X-Internal-Token header. An empty configured token rejects every call.
func InternalTokenRequired(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		got := c.Get("X-Internal-Token")
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid internal token",
				"code":  "UNAUTHORIZED",
			})
		}
		return c.Next()
	}
}
