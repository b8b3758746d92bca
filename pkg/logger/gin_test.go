package logger

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestMiddlewareInjectsRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Middleware(New("local")))
	var got *slog.Logger
	r.GET("/ping", func(c *gin.Context) {
		got = FromGin(c)
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if got == nil {
		t.Fatalf("expected request-scoped logger")
	}
	if w.Header().Get(headerRequestID) == "" {
		t.Fatalf("expected request id header to be set")
	}
}

func TestFromGinFallsBackToDefault(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if FromGin(c) != slog.Default() {
		t.Fatalf("expected default logger without middleware")
	}
}
