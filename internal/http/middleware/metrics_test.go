package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RouteLabels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics())
	r.GET("/communities/:cid/cases/:ref", func(c *gin.Context) { c.String(http.StatusOK, "case") })
	r.POST("/communities/:cid/cases/:ref/expire", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	const route = "/communities/:cid/cases/:ref"
	baseOK := testutil.ToFloat64(httpReqs.WithLabelValues("GET", route, "200"))
	base404 := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "unmatched", "404"))

	for _, p := range []string{"/communities/1/cases/W1", "/communities/2/cases/17"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, p, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s -> %d", p, w.Code)
		}
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/communities/1/nope", nil))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/communities/1/cases/5/expire", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("POST expire -> %d", w.Code)
	}

	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", route, "200")); got != baseOK+2 {
		t.Fatalf("route counter = %v; want %v (ids must not become labels)", got, baseOK+2)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "unmatched", "404")); got != base404+1 {
		t.Fatalf("unmatched counter = %v; want %v", got, base404+1)
	}
	if inFlight := testutil.ToFloat64(httpInflight); inFlight != 0 {
		t.Fatalf("in-flight = %v; want 0", inFlight)
	}
}
