package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactBodyAdmin(t *testing.T) {
	body := []byte(`{"account":"0x1","private_key":"0xdead","nested":{"api_key":"k","amount":"5"},"list":[{"signature":"s"}]}`)
	out := redactBody("/v1/admin/devnet/fund", body)

	var data map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &data))
	assert.Equal(t, "***", data["private_key"])
	assert.Equal(t, "0x1", data["account"])

	nested := data["nested"].(map[string]any)
	assert.Equal(t, "***", nested["api_key"])
	assert.Equal(t, "5", nested["amount"])

	list := data["list"].([]any)
	assert.Equal(t, "***", list[0].(map[string]any)["signature"])
}

func TestRedactBodyNonSensitivePath(t *testing.T) {
	body := []byte(`{"ok":true}`)
	assert.Equal(t, string(body), redactBody("/health", body))
}

func TestRedactBodyInvalidJSON(t *testing.T) {
	assert.Equal(t, "[redacted]", redactBody("/v1/tenants", []byte("not-json")))
}

func TestRedactBodyTruncates(t *testing.T) {
	out := redactBody("/health", []byte(strings.Repeat("a", maxLoggedBody+10)))
	assert.True(t, strings.HasSuffix(out, "...(truncated)"))
	assert.Len(t, out, maxLoggedBody+len("...(truncated)"))
}

func TestRequestLogMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogMiddleware())

	var seen *RequestLog
	r.POST("/v1/tenants", func(c *gin.Context) {
		// body must still be readable after the middleware
		var body map[string]any
		require.NoError(t, c.ShouldBindJSON(&body))
		AddLogContext(c, "tenant", body["name"])
		val, _ := c.Get(ContextRequestLog)
		seen = val.(*RequestLog)
		c.JSON(http.StatusCreated, gin.H{"name": body["name"]})
	})

	t.Run("generates request id", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/tenants", strings.NewReader(`{"name":"acme"}`))
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
		require.NotNil(t, seen)
		assert.Equal(t, "acme", seen.Context["tenant"])
		assert.Equal(t, http.StatusCreated, seen.StatusCode)
	})

	t.Run("keeps caller request id", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/tenants", strings.NewReader(`{"name":"acme"}`))
		req.Header.Set(HeaderRequestID, "req-1")
		r.ServeHTTP(w, req)
		assert.Equal(t, "req-1", w.Header().Get(HeaderRequestID))
	})
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(201))
	assert.Equal(t, "4xx", statusClass(409))
	assert.Equal(t, "5xx", statusClass(502))
}
