// Package marketdata dispatches real-time feed messages to the
// persistence layer and serves last-trade prices.
package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kelsoko1/terminal1-sub005/internal/dse"
	"github.com/kelsoko1/terminal1-sub005/internal/trading"
	"github.com/kelsoko1/terminal1-sub005/pkg/models"
)

const lastPriceKeyPrefix = "dse:last_price:"

// ErrPriceNotFound is returned when no last trade price is known.
var ErrPriceNotFound = errors.New("price not found")

// Service consumes feed messages and writes them through to the
// database, with a redis cache in front of last-trade prices.
type Service struct {
	logger  *zap.Logger
	db      *gorm.DB
	cache   *redis.Client // optional
	trading trading.TradingService
}

// NewService creates a market data service. The redis client and the
// trading service may be nil; price caching and order-update dispatch
// are skipped respectively.
func NewService(logger *zap.Logger, db *gorm.DB, cache *redis.Client, tradingSvc trading.TradingService) *Service {
	return &Service{logger: logger, db: db, cache: cache, trading: tradingSvc}
}

// SetTradingService wires the order-update consumer after construction.
// The trading service needs this service as its price source, so the
// two are linked in this order during startup, before Run is called.
func (s *Service) SetTradingService(tradingSvc trading.TradingService) {
	s.trading = tradingSvc
}

// Run consumes messages until the channel closes or the context ends.
func (s *Service) Run(ctx context.Context, msgs <-chan dse.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			s.Dispatch(ctx, msg)
		}
	}
}

// Dispatch routes one feed message by its type tag.
func (s *Service) Dispatch(ctx context.Context, msg dse.Message) {
	var err error
	switch msg.Type {
	case dse.MsgPriceUpdate:
		err = s.handlePrice(ctx, msg.Data)
	case dse.MsgOrderUpdate:
		err = s.handleOrder(ctx, msg.Data)
	case dse.MsgMarketIndexUpdate:
		err = s.handleIndex(ctx, msg.Data)
	case dse.MsgNewsUpdate:
		err = s.handleNews(ctx, msg.Data)
	default:
		s.logger.Debug("unknown feed message type", zap.String("type", msg.Type))
		return
	}
	if err != nil {
		s.logger.Error("feed message handling failed",
			zap.String("type", msg.Type), zap.Error(err))
	}
}

type priceUpdate struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Change decimal.Decimal `json:"change"`
	Volume decimal.Decimal `json:"volume"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
}

func (s *Service) handlePrice(ctx context.Context, data json.RawMessage) error {
	var upd priceUpdate
	if err := json.Unmarshal(data, &upd); err != nil {
		return fmt.Errorf("invalid price update: %w", err)
	}
	if upd.Symbol == "" {
		return fmt.Errorf("price update without symbol")
	}

	price := models.MarketPrice{
		Symbol:    upd.Symbol,
		Price:     upd.Price,
		Change:    upd.Change,
		Volume:    upd.Volume,
		High:      upd.High,
		Low:       upd.Low,
		UpdatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&price).Error; err != nil {
		return fmt.Errorf("failed to upsert market price: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, lastPriceKeyPrefix+upd.Symbol, upd.Price.String(), 0).Err(); err != nil {
			s.logger.Warn("price cache write failed",
				zap.String("symbol", upd.Symbol), zap.Error(err))
		}
	}
	return nil
}

func (s *Service) handleOrder(ctx context.Context, data json.RawMessage) error {
	if s.trading == nil {
		return nil
	}
	var upd trading.OrderUpdate
	if err := json.Unmarshal(data, &upd); err != nil {
		return fmt.Errorf("invalid order update: %w", err)
	}
	err := s.trading.HandleOrderUpdate(ctx, upd)
	if errors.Is(err, trading.ErrOrderNotFound) {
		// The feed carries the whole venue; most orders are not ours.
		return nil
	}
	return err
}

type indexUpdate struct {
	Name   string          `json:"name"`
	Value  decimal.Decimal `json:"value"`
	Change decimal.Decimal `json:"change"`
}

func (s *Service) handleIndex(ctx context.Context, data json.RawMessage) error {
	var upd indexUpdate
	if err := json.Unmarshal(data, &upd); err != nil {
		return fmt.Errorf("invalid index update: %w", err)
	}
	if upd.Name == "" {
		return fmt.Errorf("index update without name")
	}
	idx := models.MarketIndex{
		Name:      upd.Name,
		Value:     upd.Value,
		Change:    upd.Change,
		UpdatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&idx).Error; err != nil {
		return fmt.Errorf("failed to upsert market index: %w", err)
	}
	return nil
}

type newsUpdate struct {
	Symbol      string    `json:"symbol"`
	Headline    string    `json:"headline"`
	Body        string    `json:"body"`
	PublishedAt time.Time `json:"published_at"`
}

func (s *Service) handleNews(ctx context.Context, data json.RawMessage) error {
	var upd newsUpdate
	if err := json.Unmarshal(data, &upd); err != nil {
		return fmt.Errorf("invalid news update: %w", err)
	}
	item := models.NewsItem{
		ID:          uuid.New(),
		Symbol:      upd.Symbol,
		Headline:    upd.Headline,
		Body:        upd.Body,
		PublishedAt: upd.PublishedAt,
		CreatedAt:   time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&item).Error; err != nil {
		return fmt.Errorf("failed to store news item: %w", err)
	}
	return nil
}

// LastTradePrice returns the most recent price for the symbol, from
// the cache when possible, the database otherwise.
func (s *Service) LastTradePrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if s.cache != nil {
		val, err := s.cache.Get(ctx, lastPriceKeyPrefix+symbol).Result()
		if err == nil {
			if d, derr := decimal.NewFromString(val); derr == nil {
				return d, nil
			}
		} else if err != redis.Nil {
			s.logger.Warn("price cache read failed",
				zap.String("symbol", symbol), zap.Error(err))
		}
	}

	var price models.MarketPrice
	err := s.db.WithContext(ctx).Where("symbol = ?", symbol).First(&price).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, ErrPriceNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to find market price: %w", err)
	}
	return price.Price, nil
}

// GetMarketPrices returns all known market prices.
func (s *Service) GetMarketPrices(ctx context.Context) ([]*models.MarketPrice, error) {
	var prices []*models.MarketPrice
	if err := s.db.WithContext(ctx).Order("symbol").Find(&prices).Error; err != nil {
		return nil, fmt.Errorf("failed to find market prices: %w", err)
	}
	return prices, nil
}

// GetMarketPrice returns the latest price row for one symbol.
func (s *Service) GetMarketPrice(ctx context.Context, symbol string) (*models.MarketPrice, error) {
	var price models.MarketPrice
	err := s.db.WithContext(ctx).Where("symbol = ?", symbol).First(&price).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPriceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find market price: %w", err)
	}
	return &price, nil
}
