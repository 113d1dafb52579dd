package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/settlus/settlegate/internal/middleware"
	"github.com/settlus/settlegate/internal/model"
	"github.com/settlus/settlegate/internal/pkg/apperrors"
	"github.com/settlus/settlegate/internal/service"
)

type SettleHandler struct {
	svc *service.TenantService
}

func NewSettleHandler(svc *service.TenantService) *SettleHandler {
	return &SettleHandler{svc: svc}
}

// SettleTenant drains one tenant. A halted settlement still returns the
// partial result alongside the error code.
func (h *SettleHandler) SettleTenant(c *gin.Context) {
	var req model.SettleRequest
	if !bindOptional(c, &req) {
		return
	}
	res, err := h.svc.Settle(c.Request.Context(), middleware.Caller(c), c.Param("name"), req)
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) && appErr.Type == apperrors.ErrTransferFailed {
			c.JSON(appErr.HTTPStatus, gin.H{
				"code":       appErr.Type,
				"message":    appErr.Message,
				"suggestion": appErr.Suggestion,
				"result":     res,
			})
			return
		}
		c.Error(err)
		return
	}
	middleware.AddLogContext(c, "settled", res.Settled)
	c.JSON(http.StatusOK, res)
}

func (h *SettleHandler) SettleAll(c *gin.Context) {
	var req model.SettleAllRequest
	if !bindOptional(c, &req) {
		return
	}
	report, err := h.svc.SettleAll(c.Request.Context(), middleware.Caller(c), req)
	if err != nil {
		c.Error(err)
		return
	}
	middleware.AddLogContext(c, "settled", report.Settled)
	middleware.AddLogContext(c, "failed", report.Failed)
	c.JSON(http.StatusOK, report)
}

func (h *SettleHandler) Required(c *gin.Context) {
	names, err := h.svc.SettleRequired(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenants": names})
}

// bindOptional accepts an empty body as the zero request.
func bindOptional(c *gin.Context, req any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(req); err != nil && !errors.Is(err, io.EOF) {
		c.Error(apperrors.New(apperrors.ErrInvalidRequest, err.Error(), err))
		return false
	}
	return true
}
