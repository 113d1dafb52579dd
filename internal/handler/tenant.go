package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/settlus/settlegate/internal/middleware"
	"github.com/settlus/settlegate/internal/model"
	"github.com/settlus/settlegate/internal/pkg/apperrors"
	"github.com/settlus/settlegate/internal/service"
)

type TenantHandler struct {
	svc *service.TenantService
}

func NewTenantHandler(svc *service.TenantService) *TenantHandler {
	return &TenantHandler{svc: svc}
}

func (h *TenantHandler) Create(c *gin.Context) {
	var req model.CreateTenantRequest
	if !bind(c, &req) {
		return
	}
	tenant, err := h.svc.Create(c.Request.Context(), middleware.Caller(c), req)
	if err != nil {
		c.Error(err)
		return
	}
	middleware.AddLogContext(c, "tenant", tenant.Name)
	c.JSON(http.StatusCreated, tenant)
}

func (h *TenantHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.List(c.Request.Context()))
}

func (h *TenantHandler) Get(c *gin.Context) {
	tenant, err := h.svc.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, tenant)
}

func (h *TenantHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), middleware.Caller(c), c.Param("name")); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *TenantHandler) SetPayoutPeriod(c *gin.Context) {
	var req model.PayoutPeriodRequest
	if !bind(c, &req) {
		return
	}
	if err := h.svc.SetPayoutPeriod(c.Request.Context(), middleware.Caller(c), c.Param("name"), req); err != nil {
		c.Error(err)
		return
	}
	h.Get(c)
}

func (h *TenantHandler) SetCurrency(c *gin.Context) {
	var req model.CurrencyRequest
	if !bind(c, &req) {
		return
	}
	if err := h.svc.SetCurrency(c.Request.Context(), middleware.Caller(c), c.Param("name"), req); err != nil {
		c.Error(err)
		return
	}
	h.Get(c)
}

func (h *TenantHandler) AddRecorder(c *gin.Context) {
	if err := h.svc.AddRecorder(c.Request.Context(), middleware.Caller(c), c.Param("name"), c.Param("account")); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "granted"})
}

func (h *TenantHandler) RemoveRecorder(c *gin.Context) {
	if err := h.svc.RemoveRecorder(c.Request.Context(), middleware.Caller(c), c.Param("name"), c.Param("account")); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

func (h *TenantHandler) Mint(c *gin.Context) {
	var req model.MintRequest
	if !bind(c, &req) {
		return
	}
	if err := h.svc.Mint(c.Request.Context(), middleware.Caller(c), c.Param("name"), req); err != nil {
		c.Error(err)
		return
	}
	h.Get(c)
}

func (h *TenantHandler) Record(c *gin.Context) {
	var req model.RecordRequest
	if !bind(c, &req) {
		return
	}
	rec, err := h.svc.Record(c.Request.Context(), middleware.Caller(c), c.Param("name"), req)
	if err != nil {
		c.Error(err)
		return
	}
	middleware.AddLogContext(c, "index", rec.Index)
	c.JSON(http.StatusCreated, rec)
}

func (h *TenantHandler) Records(c *gin.Context) {
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		c.Error(err)
		return
	}
	limit, err := queryInt(c, "limit", 100)
	if err != nil {
		c.Error(err)
		return
	}
	if offset < 0 || limit < 0 {
		c.Error(apperrors.NewInvalidRequest("offset and limit must not be negative"))
		return
	}
	page, err := h.svc.Records(c.Request.Context(), c.Param("name"), offset, limit)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *TenantHandler) GetRecord(c *gin.Context) {
	rec, err := h.svc.GetRecord(c.Request.Context(), c.Param("name"), c.Param("request_id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *TenantHandler) Cancel(c *gin.Context) {
	name, requestID := c.Param("name"), c.Param("request_id")
	if err := h.svc.Cancel(c.Request.Context(), middleware.Caller(c), name, requestID); err != nil {
		c.Error(err)
		return
	}
	h.GetRecord(c)
}

func (h *TenantHandler) ResolvePayout(c *gin.Context) {
	var req model.ResolvePayoutRequest
	if !bind(c, &req) {
		return
	}
	name, requestID := c.Param("name"), c.Param("request_id")
	if err := h.svc.ResolvePayout(c.Request.Context(), middleware.Caller(c), name, requestID, req); err != nil {
		c.Error(err)
		return
	}
	h.GetRecord(c)
}

// bind decodes the JSON body and reports binding errors as INVALID_REQUEST.
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.Error(apperrors.New(apperrors.ErrInvalidRequest, err.Error(), err))
		return false
	}
	return true
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.NewInvalidRequest(key + " must be an integer")
	}
	return v, nil
}
