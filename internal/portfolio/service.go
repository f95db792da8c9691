package portfolio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/kelsoko1/terminal1-sub005/pkg/metrics"
	"github.com/kelsoko1/terminal1-sub005/pkg/models"
)

// Fill describes one executed fill to be settled into a portfolio.
type Fill struct {
	OrderID  uuid.UUID
	UserID   uuid.UUID
	Symbol   string
	Side     string
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

// PortfolioService defines portfolio and holdings operations for
// dependency injection.
type PortfolioService interface {
	CreatePortfolio(ctx context.Context, userID uuid.UUID, openingCash decimal.Decimal) (*models.Portfolio, error)
	GetPortfolio(ctx context.Context, userID uuid.UUID) (*models.Portfolio, error)
	Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error
	GetHoldings(ctx context.Context, userID uuid.UUID) ([]*models.Holding, error)
	GetHolding(ctx context.Context, userID uuid.UUID, symbol string) (*models.Holding, error)
	GetTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Transaction, int64, error)
	ApplyFill(ctx context.Context, fill Fill) error
}

// Service implements PortfolioService over gorm.
type Service struct {
	logger     *zap.Logger
	db         *gorm.DB
	commission decimal.Decimal // flat rate, e.g. 0.002
}

// NewService creates a portfolio service charging the given flat
// commission rate on every fill.
func NewService(logger *zap.Logger, db *gorm.DB, commissionRate decimal.Decimal) (PortfolioService, error) {
	if commissionRate.IsNegative() {
		return nil, fmt.Errorf("commission rate must not be negative")
	}
	return &Service{logger: logger, db: db, commission: commissionRate}, nil
}

// CreatePortfolio creates a portfolio with an opening cash balance.
func (s *Service) CreatePortfolio(ctx context.Context, userID uuid.UUID, openingCash decimal.Decimal) (*models.Portfolio, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Portfolio{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check portfolio: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("portfolio already exists for user %s", userID)
	}

	p := &models.Portfolio{
		ID:          uuid.New(),
		UserID:      userID,
		CashBalance: openingCash,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, fmt.Errorf("failed to create portfolio: %w", err)
	}
	return p, nil
}

// GetPortfolio returns the user's portfolio.
func (s *Service) GetPortfolio(ctx context.Context, userID uuid.UUID) (*models.Portfolio, error) {
	var p models.Portfolio
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPortfolioNotFound
		}
		return nil, fmt.Errorf("failed to find portfolio: %w", err)
	}
	return &p, nil
}

// Deposit credits cash to the user's portfolio and records a ledger row.
func (s *Service) Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("deposit amount must be positive")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p models.Portfolio
		if err := tx.Where("user_id = ?", userID).First(&p).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPortfolioNotFound
			}
			return fmt.Errorf("failed to find portfolio: %w", err)
		}
		p.CashBalance = p.CashBalance.Add(amount)
		p.UpdatedAt = time.Now()
		if err := tx.Save(&p).Error; err != nil {
			return fmt.Errorf("failed to update cash balance: %w", err)
		}
		return nil
	})
}

// GetHoldings returns all holdings for the user, including positions
// that have been sold down to zero.
func (s *Service) GetHoldings(ctx context.Context, userID uuid.UUID) ([]*models.Holding, error) {
	p, err := s.GetPortfolio(ctx, userID)
	if err != nil {
		return nil, err
	}
	var holdings []*models.Holding
	if err := s.db.WithContext(ctx).Where("portfolio_id = ?", p.ID).Order("symbol").Find(&holdings).Error; err != nil {
		return nil, fmt.Errorf("failed to find holdings: %w", err)
	}
	return holdings, nil
}

// GetHolding returns the user's holding in one security, or nil when
// the user never held it.
func (s *Service) GetHolding(ctx context.Context, userID uuid.UUID, symbol string) (*models.Holding, error) {
	p, err := s.GetPortfolio(ctx, userID)
	if err != nil {
		return nil, err
	}
	var h models.Holding
	if err := s.db.WithContext(ctx).Where("portfolio_id = ? AND symbol = ?", p.ID, symbol).First(&h).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find holding: %w", err)
	}
	return &h, nil
}

// GetTransactions returns the user's ledger entries, newest first.
func (s *Service) GetTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Transaction, int64, error) {
	if limit <= 0 {
		limit = 20
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Transaction{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	var txs []*models.Transaction
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC").Limit(limit).Offset(offset).Find(&txs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to find transactions: %w", err)
	}
	return txs, count, nil
}

// ApplyFill settles one fill: holding quantity and average price, cash
// balance, the trade ledger row, and the commission ledger row all move
// in a single database transaction. A failure anywhere rolls back
// everything, so a confirmed exchange fill can never be half-applied.
func (s *Service) ApplyFill(ctx context.Context, fill Fill) error {
	if !fill.Quantity.IsPositive() || !fill.Price.IsPositive() {
		return fmt.Errorf("fill quantity and price must be positive")
	}

	gross := fill.Quantity.Mul(fill.Price)
	commission := gross.Mul(s.commission)
	now := time.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p models.Portfolio
		if err := tx.Where("user_id = ?", fill.UserID).First(&p).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPortfolioNotFound
			}
			return fmt.Errorf("failed to find portfolio: %w", err)
		}

		var h models.Holding
		err := tx.Where("portfolio_id = ? AND symbol = ?", p.ID, fill.Symbol).First(&h).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			h = models.Holding{
				ID:           uuid.New(),
				PortfolioID:  p.ID,
				Symbol:       fill.Symbol,
				Quantity:     decimal.Zero,
				AveragePrice: decimal.Zero,
				CreatedAt:    now,
			}
			if err := tx.Create(&h).Error; err != nil {
				return fmt.Errorf("failed to create holding: %w", err)
			}
		} else if err != nil {
			return fmt.Errorf("failed to find holding: %w", err)
		}

		ledgerType := models.TransactionBuy
		switch fill.Side {
		case models.SideBuy:
			// Weighted average cost across the old position and the fill.
			newQty := h.Quantity.Add(fill.Quantity)
			h.AveragePrice = h.AveragePrice.Mul(h.Quantity).Add(gross).Div(newQty)
			h.Quantity = newQty
			p.CashBalance = p.CashBalance.Sub(gross)
		case models.SideSell:
			if h.Quantity.LessThan(fill.Quantity) {
				return ErrInsufficientShares
			}
			// Average price is left untouched; the row survives at zero.
			h.Quantity = h.Quantity.Sub(fill.Quantity)
			p.CashBalance = p.CashBalance.Add(gross)
			ledgerType = models.TransactionSell
		default:
			return fmt.Errorf("unknown fill side %q", fill.Side)
		}

		p.CashBalance = p.CashBalance.Sub(commission)
		h.UpdatedAt = now
		p.UpdatedAt = now

		if err := tx.Save(&h).Error; err != nil {
			return fmt.Errorf("failed to update holding: %w", err)
		}
		if err := tx.Save(&p).Error; err != nil {
			return fmt.Errorf("failed to update cash balance: %w", err)
		}

		trade := models.Transaction{
			ID:        uuid.New(),
			UserID:    fill.UserID,
			OrderID:   fill.OrderID,
			Symbol:    fill.Symbol,
			Type:      ledgerType,
			Quantity:  fill.Quantity,
			Price:     fill.Price,
			Amount:    gross,
			CreatedAt: now,
		}
		if err := tx.Create(&trade).Error; err != nil {
			return fmt.Errorf("failed to record trade: %w", err)
		}

		fee := models.Transaction{
			ID:        uuid.New(),
			UserID:    fill.UserID,
			OrderID:   fill.OrderID,
			Symbol:    fill.Symbol,
			Type:      models.TransactionCommission,
			Quantity:  fill.Quantity,
			Price:     fill.Price,
			Amount:    commission,
			CreatedAt: now,
		}
		if err := tx.Create(&fee).Error; err != nil {
			return fmt.Errorf("failed to record commission: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	metrics.FillsSettled.WithLabelValues(fill.Side).Inc()
	s.logger.Info("fill settled",
		zap.String("user_id", fill.UserID.String()),
		zap.String("symbol", fill.Symbol),
		zap.String("side", fill.Side),
		zap.String("quantity", fill.Quantity.String()),
		zap.String("price", fill.Price.String()))
	return nil
}
