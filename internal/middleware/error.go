package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/settlus/settlegate/internal/pkg/apperrors"
	"github.com/settlus/settlegate/internal/pkg/logger"
)

// ErrorHandler renders the last error a handler pushed with c.Error as
// {code, message, suggestion}. A handler that already wrote a body keeps it;
// the error is only logged.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		appErr := toAppError(c.Errors.Last())

		logFields := []any{
			"method", c.Request.Method,
			"route", c.FullPath(),
			"code", appErr.Type,
			"client_ip", c.ClientIP(),
		}
		if tenant := c.Param("name"); tenant != "" {
			logFields = append(logFields, "tenant", tenant)
		}
		if reqID := c.Writer.Header().Get(HeaderRequestID); reqID != "" {
			logFields = append(logFields, "request_id", reqID)
		}

		if appErr.HTTPStatus >= 500 {
			logger.LogError(c.Request.Context(), appErr, "request failed", logFields...)
		} else {
			logger.Warn(appErr.Message, logFields...)
		}

		if c.Writer.Written() {
			return
		}
		c.AbortWithStatusJSON(appErr.HTTPStatus, appErr)
	}
}

func toAppError(e *gin.Error) *apperrors.AppError {
	var appErr *apperrors.AppError
	if errors.As(e.Err, &appErr) {
		return appErr
	}
	// 参数绑定失败属于调用方错误
	if e.IsType(gin.ErrorTypeBind) {
		return apperrors.New(apperrors.ErrInvalidRequest, e.Err.Error(), e.Err)
	}
	return apperrors.Wrap(e.Err)
}
