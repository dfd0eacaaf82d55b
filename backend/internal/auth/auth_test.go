package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndParseAccessToken(t *testing.T) {
	v := NewVerifier("test-secret")
	token, exp, err := v.SignAccessToken(7, "parent", time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)

	claims, err := v.ParseAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), claims.UserID)
	assert.Equal(t, "parent", claims.Username)
}

func TestParseRejectsForeignSecretAndExpiredTokens(t *testing.T) {
	token, _, err := NewVerifier("other").SignAccessToken(1, "x", time.Hour)
	require.NoError(t, err)
	_, err = NewVerifier("test-secret").ParseAccessToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	v := NewVerifier("test-secret")
	expired, _, err := v.SignAccessToken(1, "x", -time.Minute)
	require.NoError(t, err)
	_, err = v.ParseAccessToken(expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestParseRejectsRefreshTokens(t *testing.T) {
	v := NewVerifier("test-secret")
	claims := &Claims{UserID: 1, Type: "refresh", RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = v.ParseAccessToken(token)
	assert.ErrorIs(t, err, ErrWrongTokenType)
}

func newRouter(v *Verifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(v))
	r.GET("/who", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": c.GetUint64("userId")})
	})
	return r
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier("test-secret")
	token, _, err := v.SignAccessToken(42, "kid", time.Hour)
	require.NoError(t, err)
	r := newRouter(v)

	cases := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{"missing token", "", "", http.StatusUnauthorized},
		{"bearer header", "Bearer " + token, "", http.StatusOK},
		{"lowercase bearer", "bearer " + token, "", http.StatusOK},
		{"query token", "", "?token=" + token, http.StatusOK},
		{"garbage", "Bearer nope", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/who"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestMiddlewareDisabledWithoutVerifier(t *testing.T) {
	w := httptest.NewRecorder()
	newRouter(nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/who", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
