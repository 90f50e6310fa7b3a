package middlewares

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	t_token "chat_sync_service/pkg/token"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp() *fiber.App {
	app := fiber.New()
	app.Get("/me", JWTMiddleware(), func(c *fiber.Ctx) error {
		return c.SendString(c.Locals(TokenMemberID).(string) + "|" + c.Locals(TokenDisplayName).(string))
	})
	return app
}

func TestJWTMiddleware(t *testing.T) {
	jwt, err := t_token.GenerateJWT("u1", string(t_token.RoleMember), "Ann", "test")
	require.NoError(t, err)

	tests := []struct {
		name     string
		request  func() *http.Request
		wantCode int
		wantBody string
	}{
		{
			name:     "query token",
			request:  func() *http.Request { return httptest.NewRequest(http.MethodGet, "/me?auth="+jwt, nil) },
			wantCode: http.StatusOK,
			wantBody: "u1|Ann",
		},
		{
			name: "cookie token",
			request: func() *http.Request {
				req := httptest.NewRequest(http.MethodGet, "/me", nil)
				req.AddCookie(&http.Cookie{Name: CookieToken, Value: jwt})
				return req
			},
			wantCode: http.StatusOK,
			wantBody: "u1|Ann",
		},
		{
			name: "bearer header",
			request: func() *http.Request {
				req := httptest.NewRequest(http.MethodGet, "/me", nil)
				req.Header.Set(fiber.HeaderAuthorization, "Bearer "+jwt)
				return req
			},
			wantCode: http.StatusOK,
			wantBody: "u1|Ann",
		},
		{
			name:     "missing token",
			request:  func() *http.Request { return httptest.NewRequest(http.MethodGet, "/me", nil) },
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "garbage token",
			request:  func() *http.Request { return httptest.NewRequest(http.MethodGet, "/me?auth=nope", nil) },
			wantCode: http.StatusUnauthorized,
		},
	}

	app := newTestApp()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := app.Test(tt.request())
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, resp.StatusCode)
			if tt.wantBody != "" {
				body, _ := io.ReadAll(resp.Body)
				assert.Equal(t, tt.wantBody, string(body))
			}
		})
	}
}

func TestJWTMiddleware_ParserFailure(t *testing.T) {
	// 備份原始 ParseJWTFunc
	original := t_token.ParseJWTFunc
	defer func() { t_token.ParseJWTFunc = original }()

	t_token.ParseJWTFunc = func(string) (*t_token.Claims, error) {
		return nil, errors.New("expired")
	}

	resp, err := newTestApp().Test(httptest.NewRequest(http.MethodGet, "/me?auth=anything", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
