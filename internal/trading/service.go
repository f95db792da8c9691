package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/kelsoko1/terminal1-sub005/internal/dse"
	"github.com/kelsoko1/terminal1-sub005/internal/portfolio"
	"github.com/kelsoko1/terminal1-sub005/internal/settlement"
	"github.com/kelsoko1/terminal1-sub005/pkg/metrics"
	"github.com/kelsoko1/terminal1-sub005/pkg/models"
)

// Exchange acknowledgement statuses the lifecycle manager understands.
const (
	ackExecuted = "executed"
	ackAccepted = "accepted"
	ackRejected = "rejected"
)

// OrderUpdate is an execution report arriving over the real-time feed.
type OrderUpdate struct {
	ExchangeRef   string          `json:"order_id"`
	ClientOrderID string          `json:"client_order_id"`
	Status        string          `json:"status"`
	FillPrice     decimal.Decimal `json:"fill_price"`
	FillQuantity  decimal.Decimal `json:"fill_quantity"`
}

// TradingService defines order lifecycle operations for dependency
// injection.
type TradingService interface {
	PlaceOrder(ctx context.Context, userID uuid.UUID, req *models.OrderRequest) (*models.Order, error)
	CancelOrder(ctx context.Context, userID, orderID uuid.UUID) error
	GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error)
	ListOrders(ctx context.Context, userID uuid.UUID, filter *models.OrderFilter, limit, offset int) ([]*models.Order, int64, error)
	HandleOrderUpdate(ctx context.Context, upd OrderUpdate) error
}

// Service implements TradingService. Orders move pending -> executed |
// cancelled | rejected; an order only reaches executed after its fill
// has settled into the portfolio.
type Service struct {
	logger     *zap.Logger
	db         *gorm.DB
	gateway    dse.GatewayClient
	portfolios portfolio.PortfolioService
	validator  *Validator
	publisher  *settlement.Publisher
	commission decimal.Decimal
}

// NewService creates a trading service.
func NewService(
	logger *zap.Logger,
	db *gorm.DB,
	gateway dse.GatewayClient,
	portfolios portfolio.PortfolioService,
	validator *Validator,
	publisher *settlement.Publisher,
	commissionRate decimal.Decimal,
) (TradingService, error) {
	if gateway == nil {
		return nil, fmt.Errorf("gateway client is required")
	}
	return &Service{
		logger:     logger,
		db:         db,
		gateway:    gateway,
		portfolios: portfolios,
		validator:  validator,
		publisher:  publisher,
		commission: commissionRate,
	}, nil
}

// PlaceOrder validates, persists and submits an order. Validation
// failures leave no order record behind.
func (s *Service) PlaceOrder(ctx context.Context, userID uuid.UUID, req *models.OrderRequest) (*models.Order, error) {
	refPrice, err := s.validator.Validate(ctx, userID, req)
	if err != nil {
		metrics.OrdersRejected.WithLabelValues("validation").Inc()
		return nil, err
	}

	now := time.Now()
	order := &models.Order{
		ID:          uuid.New(),
		UserID:      userID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Type:        req.Type,
		Price:       req.Price,
		Quantity:    req.Quantity,
		TimeInForce: req.TimeInForce,
		Status:      models.OrderStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(order).Error; err != nil {
		return nil, fmt.Errorf("failed to persist order: %w", err)
	}

	ack, err := s.gateway.SubmitOrder(ctx, order)
	if err != nil {
		metrics.OrdersRejected.WithLabelValues("gateway").Inc()
		s.transition(ctx, order, models.OrderStatusRejected)
		return nil, err
	}
	metrics.OrdersPlaced.WithLabelValues(order.Side).Inc()

	order.ExchangeRef = ack.OrderID
	if err := s.db.WithContext(ctx).Model(order).Update("exchange_ref", ack.OrderID).Error; err != nil {
		s.logger.Error("failed to record exchange ref",
			zap.String("order_id", order.ID.String()), zap.Error(err))
	}

	switch ack.Status {
	case ackExecuted:
		fillPrice := ack.FillPrice
		if fillPrice.IsZero() {
			fillPrice = refPrice
		}
		fillQty := ack.FillQuantity
		if fillQty.IsZero() {
			fillQty = order.Quantity
		}
		if err := s.settle(ctx, order, fillPrice, fillQty); err != nil {
			return nil, err
		}
	case ackRejected:
		s.transition(ctx, order, models.OrderStatusRejected)
		return nil, fmt.Errorf("order rejected by exchange: %s", ack.OrderID)
	default:
		// Accepted but not yet filled; the execution report arrives on
		// the real-time feed and is handled by HandleOrderUpdate.
	}

	return order, nil
}

// CancelOrder forwards a cancel to the gateway and sets the local
// record to cancelled. The local state changes even when the gateway
// call fails; the failure is still surfaced to the caller.
func (s *Service) CancelOrder(ctx context.Context, userID, orderID uuid.UUID) error {
	order, err := s.GetOrder(ctx, userID, orderID)
	if err != nil {
		return err
	}
	if order.Status != models.OrderStatusPending {
		return ErrOrderNotCancellable
	}

	ref := order.ExchangeRef
	if ref == "" {
		ref = order.ID.String()
	}
	gwErr := s.gateway.CancelOrder(ctx, ref)

	s.transition(ctx, order, models.OrderStatusCancelled)

	if gwErr != nil {
		s.logger.Warn("gateway cancel failed, local order cancelled anyway",
			zap.String("order_id", order.ID.String()), zap.Error(gwErr))
		return gwErr
	}
	return nil
}

// GetOrder returns a single order scoped to its owner.
func (s *Service) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", orderID, userID).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find order: %w", err)
	}
	return &order, nil
}

// ListOrders returns the user's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, userID uuid.UUID, filter *models.OrderFilter, limit, offset int) ([]*models.Order, int64, error) {
	if limit <= 0 {
		limit = 20
	}
	q := s.db.WithContext(ctx).Model(&models.Order{}).Where("user_id = ?", userID)
	if filter != nil {
		if filter.Symbol != "" {
			q = q.Where("symbol = ?", filter.Symbol)
		}
		if filter.Status != "" {
			q = q.Where("status = ?", filter.Status)
		}
		if filter.Side != "" {
			q = q.Where("side = ?", filter.Side)
		}
	}

	var count int64
	if err := q.Count(&count).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}
	var orders []*models.Order
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&orders).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to find orders: %w", err)
	}
	return orders, count, nil
}

// HandleOrderUpdate applies an execution report from the real-time
// feed. Terminal orders are left untouched, so replays are harmless.
func (s *Service) HandleOrderUpdate(ctx context.Context, upd OrderUpdate) error {
	order, err := s.findByRef(ctx, upd)
	if err != nil {
		return err
	}
	if order.Status != models.OrderStatusPending {
		return nil
	}

	switch upd.Status {
	case ackExecuted:
		fillPrice := upd.FillPrice
		if fillPrice.IsZero() {
			fillPrice = order.Price
		}
		fillQty := upd.FillQuantity
		if fillQty.IsZero() {
			fillQty = order.Quantity
		}
		return s.settle(ctx, order, fillPrice, fillQty)
	case "cancelled":
		s.transition(ctx, order, models.OrderStatusCancelled)
	case ackRejected:
		s.transition(ctx, order, models.OrderStatusRejected)
	default:
		s.logger.Debug("ignoring order update",
			zap.String("order_id", order.ID.String()),
			zap.String("status", upd.Status))
	}
	return nil
}

func (s *Service) findByRef(ctx context.Context, upd OrderUpdate) (*models.Order, error) {
	var order models.Order
	if upd.ClientOrderID != "" {
		if id, err := uuid.Parse(upd.ClientOrderID); err == nil {
			err := s.db.WithContext(ctx).Where("id = ?", id).First(&order).Error
			if err == nil {
				return &order, nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("failed to find order: %w", err)
			}
		}
	}
	err := s.db.WithContext(ctx).Where("exchange_ref = ?", upd.ExchangeRef).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find order: %w", err)
	}
	return &order, nil
}

// settle applies the fill to the portfolio and only then marks the
// order executed. If settlement fails the order stays pending and the
// failure is surfaced; the exchange-confirmed trade is never hidden
// behind an executed status it did not earn.
func (s *Service) settle(ctx context.Context, order *models.Order, price, quantity decimal.Decimal) error {
	fill := portfolio.Fill{
		OrderID:  order.ID,
		UserID:   order.UserID,
		Symbol:   order.Symbol,
		Side:     order.Side,
		Quantity: quantity,
		Price:    price,
	}
	if err := s.portfolios.ApplyFill(ctx, fill); err != nil {
		metrics.SettlementFailures.Inc()
		s.logger.Error("settlement failed for confirmed fill, order left pending",
			zap.String("order_id", order.ID.String()),
			zap.String("symbol", order.Symbol),
			zap.Error(err))
		return fmt.Errorf("failed to settle fill for order %s: %w", order.ID, err)
	}

	now := time.Now()
	order.Status = models.OrderStatusExecuted
	order.ExecutedAt = &now
	order.UpdatedAt = now
	if err := s.db.WithContext(ctx).Model(order).Updates(map[string]interface{}{
		"status":      models.OrderStatusExecuted,
		"executed_at": now,
		"updated_at":  now,
	}).Error; err != nil {
		s.logger.Error("failed to mark order executed",
			zap.String("order_id", order.ID.String()), zap.Error(err))
	}

	ev := settlement.FillEvent{
		OrderID:    order.ID.String(),
		UserID:     order.UserID.String(),
		Symbol:     order.Symbol,
		Side:       order.Side,
		Quantity:   quantity.String(),
		Price:      price.String(),
		Commission: quantity.Mul(price).Mul(s.commission).String(),
		SettledAt:  now,
	}
	if err := s.publisher.PublishFill(ctx, ev); err != nil {
		// Best effort; the ledger row is the source of truth.
		s.logger.Warn("fill event not published",
			zap.String("order_id", order.ID.String()), zap.Error(err))
	}
	return nil
}

func (s *Service) transition(ctx context.Context, order *models.Order, status string) {
	order.Status = status
	order.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Model(order).Updates(map[string]interface{}{
		"status":     status,
		"updated_at": order.UpdatedAt,
	}).Error; err != nil {
		s.logger.Error("failed to update order status",
			zap.String("order_id", order.ID.String()),
			zap.String("status", status),
			zap.Error(err))
	}
}
