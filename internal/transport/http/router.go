package http

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/birdworks/escrow-service/internal/config"
	"github.com/birdworks/escrow-service/internal/service"
)

// Services bundles the handlers' dependencies.
type Services struct {
	Wallet      *service.WalletService
	Jobs        *service.JobService
	Chats       *service.ChatService
	Withdrawals *service.WithdrawalService
}

func NewRouter(svcs Services, rl config.RateLimitConfig, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(LoggingMiddleware(log))
	r.Use(RateLimitMiddleware(rl.RPS, rl.Burst))
	RegisterHandlers(r, svcs)
	return r
}
