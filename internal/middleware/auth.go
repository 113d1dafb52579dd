package middleware

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/settlus/settlegate/internal/config"
	"github.com/settlus/settlegate/internal/pkg/apperrors"
	"github.com/settlus/settlegate/internal/service"
)

const (
	HeaderAPIKey      = "X-Api-Key"
	ContextAccountKey = "account"
)

// anonymous 仅在 require_api_key=false 时使用, 零地址没有任何角色
var anonymous = &service.Account{Name: "anonymous"}

func AuthMiddleware(cfg *config.Config, dir *service.AccountDirectory) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader(HeaderAPIKey)
		if apiKey == "" {
			if cfg != nil && !cfg.Auth.RequireAPIKey {
				c.Set(ContextAccountKey, anonymous)
				c.Next()
				return
			}
			abortWith(c, apperrors.New(apperrors.ErrAuthFailed, "missing "+HeaderAPIKey, nil))
			return
		}

		account, ok := dir.ByAPIKey(apiKey)
		if !ok {
			abortWith(c, apperrors.New(apperrors.ErrAuthFailed, "unknown API key", nil))
			return
		}

		// 将调用方账户存入上下文
		c.Set(ContextAccountKey, account)
		c.Next()
	}
}

// AccountFrom returns the authenticated account of the request.
func AccountFrom(c *gin.Context) (*service.Account, bool) {
	val, exists := c.Get(ContextAccountKey)
	if !exists {
		return nil, false
	}
	account, ok := val.(*service.Account)
	return account, ok
}

// Caller is the on-chain identity of the request, the zero address when
// the request is anonymous.
func Caller(c *gin.Context) common.Address {
	if account, ok := AccountFrom(c); ok {
		return account.Address
	}
	return common.Address{}
}
