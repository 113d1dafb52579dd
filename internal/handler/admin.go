package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/settlus/settlegate/internal/chain"
	"github.com/settlus/settlegate/internal/middleware"
	"github.com/settlus/settlegate/internal/model"
	"github.com/settlus/settlegate/internal/pkg/apperrors"
	"github.com/settlus/settlegate/internal/service"
)

type AdminHandler struct {
	svc *service.TenantService
	mem *chain.Memory // nil unless chain.mode=memory
}

func NewAdminHandler(svc *service.TenantService, mem *chain.Memory) *AdminHandler {
	return &AdminHandler{svc: svc, mem: mem}
}

func (h *AdminHandler) Settlers(c *gin.Context) {
	m := h.svc.Manager()
	settlers := m.Settlers()
	out := make([]string, 0, len(settlers))
	for _, s := range settlers {
		out = append(out, s.Hex())
	}
	c.JSON(http.StatusOK, gin.H{"owner": m.Owner().Hex(), "settlers": out})
}

func (h *AdminHandler) GrantSettler(c *gin.Context) {
	if err := h.svc.GrantSettler(c.Request.Context(), middleware.Caller(c), c.Param("account")); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "granted"})
}

func (h *AdminHandler) RevokeSettler(c *gin.Context) {
	if err := h.svc.RevokeSettler(c.Request.Context(), middleware.Caller(c), c.Param("account")); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

// Fund 仅用于内存链 (devnet)
func (h *AdminHandler) Fund(c *gin.Context) {
	if !h.devnet(c) {
		return
	}
	var req model.FundRequest
	if !bind(c, &req) {
		return
	}
	account, err := service.ParseAddress("account", req.Account)
	if err != nil {
		c.Error(err)
		return
	}
	amount, err := service.ParseAmount("amount", req.Amount)
	if err != nil {
		c.Error(err)
		return
	}
	token, err := service.ParseOptionalAddress("token", req.Token)
	if err != nil {
		c.Error(err)
		return
	}

	if req.Token == "" {
		h.mem.Fund(account, amount)
		bal, _ := h.mem.NativeBalance(c.Request.Context(), account)
		c.JSON(http.StatusOK, gin.H{"account": account.Hex(), "balance": bal.String()})
		return
	}
	if err := h.mem.MintToken(token, account, amount); err != nil {
		c.Error(apperrors.New(apperrors.ErrInvalidRequest, err.Error(), err))
		return
	}
	bal, _ := h.mem.TokenBalance(c.Request.Context(), token, account)
	c.JSON(http.StatusOK, gin.H{"account": account.Hex(), "token": token.Hex(), "balance": bal.String()})
}

// NFT mints the token to owner, or moves it when it already exists.
func (h *AdminHandler) NFT(c *gin.Context) {
	if !h.devnet(c) {
		return
	}
	var req model.NFTRequest
	if !bind(c, &req) {
		return
	}
	contract, err := service.ParseAddress("contract", req.Contract)
	if err != nil {
		c.Error(err)
		return
	}
	owner, err := service.ParseAddress("owner", req.Owner)
	if err != nil {
		c.Error(err)
		return
	}
	tokenID, err := service.ParseAmount("token_id", req.TokenID)
	if err != nil {
		c.Error(err)
		return
	}

	ctx := c.Request.Context()
	if _, err := h.mem.OwnerOf(ctx, contract, tokenID); err == nil {
		if err := h.mem.TransferNFT(contract, tokenID, owner); err != nil {
			c.Error(err)
			return
		}
	} else {
		h.mem.MintNFT(contract, tokenID, owner)
	}
	c.JSON(http.StatusOK, gin.H{"contract": contract.Hex(), "token_id": tokenID.String(), "owner": owner.Hex()})
}

func (h *AdminHandler) Tokens(c *gin.Context) {
	if !h.devnet(c) {
		return
	}
	c.JSON(http.StatusOK, h.mem.Tokens())
}

func (h *AdminHandler) devnet(c *gin.Context) bool {
	if h.mem == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "devnet endpoints require chain.mode=memory"})
		return false
	}
	return true
}
