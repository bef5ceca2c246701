package httpmw

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newAuthRouter(token string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", TokenAuth(token), func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestTokenAuth(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		url    string
		header string
		want   int
	}{
		{name: "disabled", token: "", url: "/ws", want: http.StatusOK},
		{name: "missing", token: "s3cret", url: "/ws", want: http.StatusUnauthorized},
		{name: "query", token: "s3cret", url: "/ws?token=s3cret", want: http.StatusOK},
		{name: "bearer", token: "s3cret", url: "/ws", header: "Bearer s3cret", want: http.StatusOK},
		{name: "wrong bearer", token: "s3cret", url: "/ws?token=s3cret", header: "Bearer nope", want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			newAuthRouter(tt.token).ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
