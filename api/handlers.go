package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kelsoko1/terminal1-sub005/internal/dse"
	"github.com/kelsoko1/terminal1-sub005/internal/marketdata"
	"github.com/kelsoko1/terminal1-sub005/internal/portfolio"
	"github.com/kelsoko1/terminal1-sub005/internal/trading"
	"github.com/kelsoko1/terminal1-sub005/pkg/models"
)

// currentUser resolves the caller identity from the X-User-ID header.
// Full authentication lives in front of this service; an absent or
// malformed header is rejected here.
func (s *Server) currentUser(c *gin.Context) (uuid.UUID, bool) {
	raw := c.GetHeader("X-User-ID")
	if raw == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user id"})
		return uuid.Nil, false
	}
	return id, true
}

// writeError maps domain errors onto HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	var exchErr *dse.ExchangeError
	switch {
	case errors.Is(err, portfolio.ErrInsufficientFunds),
		errors.Is(err, portfolio.ErrInsufficientShares):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, trading.ErrInvalidOrder),
		errors.Is(err, trading.ErrNoMarketPrice):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, trading.ErrOrderNotFound),
		errors.Is(err, portfolio.ErrPortfolioNotFound),
		errors.Is(err, marketdata.ErrPriceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, trading.ErrOrderNotCancellable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &exchErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		s.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (s *Server) placeOrder(c *gin.Context) {
	userID, ok := s.currentUser(c)
	if !ok {
		return
	}

	var req models.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.validator.Struct(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := s.trading.PlaceOrder(c.Request.Context(), userID, &req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (s *Server) cancelOrder(c *gin.Context) {
	userID, ok := s.currentUser(c)
	if !ok {
		return
	}
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	if err := s.trading.CancelOrder(c.Request.Context(), userID, orderID); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (s *Server) getOrder(c *gin.Context) {
	userID, ok := s.currentUser(c)
	if !ok {
		return
	}
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	order, err := s.trading.GetOrder(c.Request.Context(), userID, orderID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) listOrders(c *gin.Context) {
	userID, ok := s.currentUser(c)
	if !ok {
		return
	}

	var filter models.OrderFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.validator.Struct(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	orders, total, err := s.trading.ListOrders(c.Request.Context(), userID, &filter, limit, offset)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "total": total})
}

func (s *Server) getPortfolio(c *gin.Context) {
	userID, ok := s.currentUser(c)
	if !ok {
		return
	}
	p, err := s.portfolios.GetPortfolio(c.Request.Context(), userID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) getHoldings(c *gin.Context) {
	userID, ok := s.currentUser(c)
	if !ok {
		return
	}
	holdings, err := s.portfolios.GetHoldings(c.Request.Context(), userID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"holdings": holdings})
}

func (s *Server) getTransactions(c *gin.Context) {
	userID, ok := s.currentUser(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	txs, total, err := s.portfolios.GetTransactions(c.Request.Context(), userID, limit, offset)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs, "total": total})
}

func (s *Server) getMarketPrices(c *gin.Context) {
	prices, err := s.marketdata.GetMarketPrices(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"prices": prices})
}

func (s *Server) getMarketPrice(c *gin.Context) {
	price, err := s.marketdata.GetMarketPrice(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, price)
}

func (s *Server) subscribe(c *gin.Context) {
	if s.feed == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "feed not available"})
		return
	}
	symbol := c.Param("symbol")
	if err := s.feed.Subscribe(c.Request.Context(), symbol); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscribed": symbol})
}

func (s *Server) unsubscribe(c *gin.Context) {
	if s.feed == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "feed not available"})
		return
	}
	symbol := c.Param("symbol")
	if err := s.feed.Unsubscribe(c.Request.Context(), symbol); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unsubscribed": symbol})
}
