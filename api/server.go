package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kelsoko1/terminal1-sub005/internal/dse"
	"github.com/kelsoko1/terminal1-sub005/internal/marketdata"
	"github.com/kelsoko1/terminal1-sub005/internal/portfolio"
	"github.com/kelsoko1/terminal1-sub005/internal/trading"
)

// Server represents the REST API server.
type Server struct {
	router     *gin.Engine
	logger     *zap.Logger
	trading    trading.TradingService
	portfolios portfolio.PortfolioService
	marketdata *marketdata.Service
	feed       *dse.FeedClient
	validator  *validator.Validate
}

// NewServer creates an API server with injected services. The feed
// client may be nil; subscription endpoints then return 503.
func NewServer(
	logger *zap.Logger,
	tradingSvc trading.TradingService,
	portfolioSvc portfolio.PortfolioService,
	marketdataSvc *marketdata.Service,
	feed *dse.FeedClient,
) *Server {
	server := &Server{
		logger:     logger,
		trading:    tradingSvc,
		portfolios: portfolioSvc,
		marketdata: marketdataSvc,
		feed:       feed,
		validator:  validator.New(),
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	server.router = router
	server.registerRoutes()
	return server
}

// Router returns the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start runs the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting API server", zap.String("addr", addr))
	return s.router.Run(addr)
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		orders := v1.Group("/orders")
		{
			orders.POST("", s.placeOrder)
			orders.GET("", s.listOrders)
			orders.GET("/:id", s.getOrder)
			orders.POST("/:id/cancel", s.cancelOrder)
		}

		pf := v1.Group("/portfolio")
		{
			pf.GET("", s.getPortfolio)
			pf.GET("/holdings", s.getHoldings)
		}
		v1.GET("/transactions", s.getTransactions)

		market := v1.Group("/market")
		{
			market.GET("/prices", s.getMarketPrices)
			market.GET("/price/:symbol", s.getMarketPrice)
			market.POST("/subscribe/:symbol", s.subscribe)
			market.DELETE("/subscribe/:symbol", s.unsubscribe)
		}
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	status := gin.H{"status": "ok"}
	if s.feed != nil {
		switch s.feed.State() {
		case dse.StateConnected:
			status["feed"] = "connected"
		case dse.StateConnecting:
			status["feed"] = "connecting"
		default:
			status["feed"] = "disconnected"
		}
	}
	c.JSON(http.StatusOK, status)
}
