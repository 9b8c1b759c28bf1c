package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/rakhadjo/studygroup-api/internal/middleware"
)

const testSecret = "unit-test-secret"

func newProtectedApp(t *testing.T) (*fiber.App, *uuid.UUID) {
	t.Helper()
	var seen uuid.UUID
	app := fiber.New()
	app.Get("/", middleware.JWTProtected(testSecret), func(c *fiber.Ctx) error {
		if id, ok := c.Locals("user_id").(uuid.UUID); ok {
			seen = id
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app, &seen
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func perform(t *testing.T, app *fiber.App, headers map[string]string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestJWTProtectedBindsUserID(t *testing.T) {
	app, seen := newProtectedApp(t)
	userID := uuid.New()
	token := signToken(t, jwt.MapClaims{
		"sub": userID.String(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	resp := perform(t, app, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	require.Equal(t, userID, *seen)
}

func TestJWTProtectedRejectsMissingHeader(t *testing.T) {
	app, _ := newProtectedApp(t)

	resp := perform(t, app, nil)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestJWTProtectedRejectsBadSignature(t *testing.T) {
	app, _ := newProtectedApp(t)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": uuid.NewString()})
	signed, err := token.SignedString([]byte("wrong-secret"))
	require.NoError(t, err)

	resp := perform(t, app, map[string]string{"Authorization": "Bearer " + signed})
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestJWTProtectedRejectsNonUUIDSubject(t *testing.T) {
	app, _ := newProtectedApp(t)
	token := signToken(t, jwt.MapClaims{"sub": "42"})

	resp := perform(t, app, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
