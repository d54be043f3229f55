package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// serveWithRequestID runs one request through RequestIDMiddleware. The handler
// reports the context value so the test can compare it with the header.
func serveWithRequestID(req *http.Request) (*httptest.ResponseRecorder, string) {
	var contextID string
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) {
		contextID = c.GetString(RequestIDKey)
		c.Status(http.StatusOK)
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w, contextID
}

func TestRequestIDMiddleware_MintsValidUUID(t *testing.T) {
	w, _ := serveWithRequestID(httptest.NewRequest(http.MethodGet, "/", nil))

	id := w.Header().Get(RequestIDHeader)
	if id == "" {
		t.Fatal("expected X-Request-ID response header to be set")
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("generated request ID %q is not a UUID: %v", id, err)
	}
}

func TestRequestIDMiddleware_ReusesUpstreamID(t *testing.T) {
	const upstreamID = "gw-7f3a2b"

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, upstreamID)
	w, contextID := serveWithRequestID(req)

	if got := w.Header().Get(RequestIDHeader); got != upstreamID {
		t.Errorf("response X-Request-ID = %q, want %q", got, upstreamID)
	}
	if contextID != upstreamID {
		t.Errorf("context request ID = %q, want %q", contextID, upstreamID)
	}
}

func TestRequestIDMiddleware_ContextMatchesHeader(t *testing.T) {
	w, contextID := serveWithRequestID(httptest.NewRequest(http.MethodGet, "/", nil))

	if contextID == "" {
		t.Fatal("request ID was not stored in gin.Context under RequestIDKey")
	}
	if headerID := w.Header().Get(RequestIDHeader); headerID != contextID {
		t.Errorf("header ID %q does not match context ID %q", headerID, contextID)
	}
}

func TestRequestIDMiddleware_UniquePerRequest(t *testing.T) {
	seen := make(map[string]struct{}, 10)
	for i := 0; i < 10; i++ {
		w, _ := serveWithRequestID(httptest.NewRequest(http.MethodGet, "/", nil))
		id := w.Header().Get(RequestIDHeader)
		if _, dup := seen[id]; dup {
			t.Errorf("duplicate request ID %q on iteration %d", id, i)
		}
		seen[id] = struct{}{}
	}
}
