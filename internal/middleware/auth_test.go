package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-12345678901234567890123456789012"

func TestAuthRequired(t *testing.T) {
	app := fiber.New()
	app.Get("/test", AuthRequired(testSecret), func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"userID": c.Locals("userID")})
	})

	generateToken := func(userID string, exp time.Duration) string {
		s, err := SignUserToken(testSecret, userID, jwt.MapClaims{"exp": time.Now().Add(exp).Unix()})
		require.NoError(t, err)
		return s
	}

	wrongKey, err := SignUserToken("another-secret-key-000000000000000000", "user-1", nil)
	require.NoError(t, err)

	tests := []struct {
		name           string
		authHeader     string
		expectedStatus int
		expectedUserID string
	}{
		{"Happy Path", "Bearer " + generateToken("0b7c1c1e-user", time.Hour), http.StatusOK, "0b7c1c1e-user"},
		{"Missing Header", "", http.StatusUnauthorized, ""},
		{"Invalid Format", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, ""},
		{"Malformed Token", "Bearer malformed.token.here", http.StatusUnauthorized, ""},
		{"Expired Token", "Bearer " + generateToken("user-1", -time.Hour), http.StatusUnauthorized, ""},
		{"Wrong Key", "Bearer " + wrongKey, http.StatusUnauthorized, ""},
		{"Empty Subject", "Bearer " + generateToken("", time.Hour), http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus == http.StatusOK {
				var body map[string]string
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.Equal(t, tt.expectedUserID, body["userID"])
			}
		})
	}
}

func TestAuthRequired_WebsocketQueryToken(t *testing.T) {
	app := fiber.New()
	app.Get("/api/ws/posts", AuthRequired(testSecret), func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("userID").(string))
	})
	app.Get("/api/posts", AuthRequired(testSecret), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	token, err := SignUserToken(testSecret, "user-ws", nil)
	require.NoError(t, err)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/ws/posts?token="+token, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Query tokens are only honored on websocket paths.
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/posts?token="+token, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestInternalTokenRequired(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		sent       string
		want       int
	}{
		{"matching token", "s3cret", "s3cret", http.StatusOK},
		{"wrong token", "s3cret", "nope", http.StatusUnauthorized},
		{"missing header", "s3cret", "", http.StatusUnauthorized},
		{"unconfigured rejects all", "", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Post("/internal", InternalTokenRequired(tt.configured), func(c *fiber.Ctx) error {
				return c.SendStatus(fiber.StatusOK)
			})

			req := httptest.NewRequest(http.MethodPost, "/internal", nil)
			if tt.sent != "" {
				req.Header.Set("X-Internal-Token", tt.sent)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Empty(t, BearerToken("bearer abc"))
	assert.Empty(t, BearerToken("Bearer"))
	assert.Empty(t, BearerToken(""))
}
