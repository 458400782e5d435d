package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func TestRequestLoggerOmitsQueryAndEscalatesLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	r := gin.New()
	r.Use(RequestLogger(logger), RequestMetricsMiddleware("relay-test"))
	r.GET("/login", func(c *gin.Context) { c.String(http.StatusUnauthorized, "no") })

	req := httptest.NewRequest(http.MethodGet, "/login?token=secret", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	out := buf.String()
	if strings.Contains(out, "secret") {
		t.Fatalf("token leaked into access log: %s", out)
	}
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, `"path":"/login"`) {
		t.Fatalf("unexpected access line: %s", out)
	}

	buf.Reset()
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if !strings.Contains(buf.String(), `"path":"unmatched"`) {
		t.Fatalf("expected unmatched path label, got %s", buf.String())
	}
}
