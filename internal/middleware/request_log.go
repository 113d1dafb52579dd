package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/settlus/settlegate/internal/pkg/logger"
)

const (
	HeaderRequestID   = "X-Request-ID"
	ContextRequestLog = "request_log"
)

// maxLoggedBody 超出部分截断
const maxLoggedBody = 4096

// RequestLog 是一次 API 调用的访问记录
type RequestLog struct {
	ID           string
	Method       string
	Path         string
	IP           string
	Account      string
	StatusCode   int
	LatencyMs    int64
	RequestBody  string
	ResponseBody string
	Context      map[string]any
}

// bodyLogWriter 包装 ResponseWriter 以捕获响应体
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w bodyLogWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func RequestLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader(HeaderRequestID)
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Header(HeaderRequestID, reqID)

		// 1. 读取请求体 (并写回以便后续 Bind 使用)
		var reqBodyBytes []byte
		if c.Request.Body != nil {
			reqBodyBytes, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(reqBodyBytes))
		}

		// 2. 初始化访问记录并存入 Context, Handler 可以往 Context 字段里塞额外信息
		entry := &RequestLog{
			ID:      reqID,
			Method:  c.Request.Method,
			Path:    c.Request.URL.Path,
			IP:      c.ClientIP(),
			Context: make(map[string]any),
		}
		c.Set(ContextRequestLog, entry)

		// 3. 包装 ResponseWriter 以捕获响应
		blw := &bodyLogWriter{body: bytes.NewBufferString(""), ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		if account, ok := AccountFrom(c); ok {
			entry.Account = account.Address.Hex()
		}
		entry.RequestBody = redactBody(c.Request.URL.Path, reqBodyBytes)
		entry.StatusCode = c.Writer.Status()
		entry.ResponseBody = redactBody(c.Request.URL.Path, blw.body.Bytes())
		entry.LatencyMs = time.Since(start).Milliseconds()

		attrs := []any{
			"request_id", entry.ID,
			"method", entry.Method,
			"path", entry.Path,
			"ip", entry.IP,
			"account", entry.Account,
			"status", entry.StatusCode,
			"latency_ms", entry.LatencyMs,
			"request_body", entry.RequestBody,
			"response_body", entry.ResponseBody,
		}
		if len(entry.Context) > 0 {
			attrs = append(attrs, slog.Any("context", entry.Context))
		}
		logger.Info("api request", attrs...)
	}
}

// AddLogContext 辅助函数：允许 Handler 向访问记录添加业务上下文
func AddLogContext(c *gin.Context, key string, value any) {
	if val, exists := c.Get(ContextRequestLog); exists {
		if entry, ok := val.(*RequestLog); ok {
			entry.Context[key] = value
		}
	}
}

func redactBody(path string, body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if !isSensitivePath(path) {
		return truncate(string(body))
	}
	redacted, ok := redactJSON(body)
	if !ok {
		return "[redacted]"
	}
	return truncate(string(redacted))
}

func truncate(s string) string {
	if len(s) <= maxLoggedBody {
		return s
	}
	return s[:maxLoggedBody] + "...(truncated)"
}

func isSensitivePath(path string) bool {
	switch {
	case strings.HasPrefix(path, "/v1/admin"):
		return true
	case strings.HasPrefix(path, "/v1/tenants"):
		return true
	default:
		return false
	}
}

func redactJSON(body []byte) ([]byte, bool) {
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, false
	}
	redactValue(&data)
	out, err := json.Marshal(data)
	if err != nil {
		return nil, false
	}
	return out, true
}

func redactValue(v *any) {
	switch raw := (*v).(type) {
	case map[string]any:
		for key, val := range raw {
			if isSensitiveKey(key) {
				raw[key] = "***"
				continue
			}
			vv := val
			redactValue(&vv)
			raw[key] = vv
		}
	case []any:
		for i, val := range raw {
			vv := val
			redactValue(&vv)
			raw[i] = vv
		}
	}
}

func isSensitiveKey(key string) bool {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "api_key",
		"admin_key",
		"private_key",
		"operator_key",
		"signature",
		"webhook_url":
		return true
	default:
		return false
	}
}
