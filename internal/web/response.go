package web

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appLog "timetable/internal/log"
)

const (
	apiVersion      = "v1"
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	RequestID string    `json:"requestId"`
}

// APIResponse is the envelope of every JSON answer.
type APIResponse struct {
	Data     any      `json:"data"`
	Errors   []string `json:"errors"`
	Metadata Metadata `json:"metadata"`
}

func newResponse(c *gin.Context, data any, errs []string) APIResponse {
	if errs == nil {
		errs = []string{}
	}
	return APIResponse{
		Data:   data,
		Errors: errs,
		Metadata: Metadata{
			Timestamp: time.Now().UTC(),
			Version:   apiVersion,
			RequestID: requestID(c),
		},
	}
}

func writeData(c *gin.Context, status int, data any) {
	writeJSON(c, status, newResponse(c, data, nil))
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, newResponse(c, nil, []string{msg}))
}

func abortWithError(c *gin.Context, status int, msg string) {
	writeError(c, status, msg)
	c.Abort()
}

func writeJSON(c *gin.Context, status int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		appLog.Error("failed to encode JSON response", err, "path", c.FullPath())
		c.Data(http.StatusInternalServerError, "application/json; charset=utf-8",
			[]byte(`{"data":null,"errors":["internal error"]}`))
		return
	}
	c.Data(status, "application/json; charset=utf-8", body)
}

// requestIDMiddleware tags each request with an id, reusing a well-formed
// incoming X-Request-ID.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.New().String()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	if id := c.GetString(requestIDKey); id != "" {
		return id
	}
	return uuid.New().String()
}

// logMiddleware writes one line per request through the app logger.
func logMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		kv := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"took", time.Since(start),
			"request_id", c.GetString(requestIDKey),
		}
		switch {
		case status >= http.StatusInternalServerError:
			appLog.Warn("http request failed", kv...)
		case c.Request.URL.Path == "/health":
			appLog.Debug("http request", kv...)
		default:
			appLog.Info("http request", kv...)
		}
	}
}
