package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/memohai/warden/internal/handlers"
)

type panicking struct{}

func (panicking) Register(e *echo.Echo) {
	e.GET("/boom", func(echo.Context) error { panic("boom") })
}

func TestServerRoutes(t *testing.T) {
	t.Parallel()

	srv := NewServer(nil, "", handlers.NewPingHandler(nil), nil, panicking{})
	if srv.addr != ":8080" {
		t.Fatalf("unexpected default addr %q", srv.addr)
	}

	cases := []struct {
		method string
		path   string
		want   int
	}{
		{method: http.MethodGet, path: "/ping", want: http.StatusOK},
		{method: http.MethodHead, path: "/health", want: http.StatusOK},
		{method: http.MethodGet, path: "/boom", want: http.StatusInternalServerError},
		{method: http.MethodGet, path: "/missing", want: http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != tc.want {
			t.Fatalf("%s %s: want %d got %d", tc.method, tc.path, tc.want, rec.Code)
		}
	}
}
