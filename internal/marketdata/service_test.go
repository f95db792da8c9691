package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kelsoko1/terminal1-sub005/internal/dse"
	"github.com/kelsoko1/terminal1-sub005/internal/trading"
	"github.com/kelsoko1/terminal1-sub005/pkg/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.MarketPrice{}, &models.MarketIndex{}, &models.NewsItem{},
	))
	return db
}

type fakeTrading struct {
	updates []trading.OrderUpdate
	err     error
}

func (f *fakeTrading) PlaceOrder(ctx context.Context, userID uuid.UUID, req *models.OrderRequest) (*models.Order, error) {
	return nil, nil
}

func (f *fakeTrading) CancelOrder(ctx context.Context, userID, orderID uuid.UUID) error {
	return nil
}

func (f *fakeTrading) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	return nil, nil
}

func (f *fakeTrading) ListOrders(ctx context.Context, userID uuid.UUID, filter *models.OrderFilter, limit, offset int) ([]*models.Order, int64, error) {
	return nil, 0, nil
}

func (f *fakeTrading) HandleOrderUpdate(ctx context.Context, upd trading.OrderUpdate) error {
	f.updates = append(f.updates, upd)
	return f.err
}

func rawMsg(t *testing.T, typ string, data interface{}) dse.Message {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return dse.Message{Type: typ, Data: raw}
}

func TestDispatch_PriceUpdate(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(zap.NewNop(), db, nil, nil)
	ctx := context.Background()

	svc.Dispatch(ctx, rawMsg(t, dse.MsgPriceUpdate, map[string]string{
		"symbol": "CRDB", "price": "520", "change": "20", "volume": "100000", "high": "530", "low": "498",
	}))

	price, err := svc.GetMarketPrice(ctx, "CRDB")
	require.NoError(t, err)
	require.True(t, price.Price.Equal(decimal.RequireFromString("520")))
	require.True(t, price.High.Equal(decimal.RequireFromString("530")))

	// A later update for the same symbol replaces the row.
	svc.Dispatch(ctx, rawMsg(t, dse.MsgPriceUpdate, map[string]string{
		"symbol": "CRDB", "price": "525",
	}))
	last, err := svc.LastTradePrice(ctx, "CRDB")
	require.NoError(t, err)
	require.True(t, last.Equal(decimal.RequireFromString("525")))

	var count int64
	require.NoError(t, db.Model(&models.MarketPrice{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestDispatch_OrderUpdateRoutedToTrading(t *testing.T) {
	db := newTestDB(t)
	ft := &fakeTrading{}
	svc := NewService(zap.NewNop(), db, nil, ft)

	svc.Dispatch(context.Background(), rawMsg(t, dse.MsgOrderUpdate, map[string]string{
		"order_id": "DSE-9", "status": "executed", "fill_price": "500", "fill_quantity": "10",
	}))

	require.Len(t, ft.updates, 1)
	require.Equal(t, "DSE-9", ft.updates[0].ExchangeRef)
	require.Equal(t, "executed", ft.updates[0].Status)
	require.True(t, ft.updates[0].FillPrice.Equal(decimal.RequireFromString("500")))
}

func TestSetTradingService_WiresOrderUpdates(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(zap.NewNop(), db, nil, nil)

	// Before wiring, order updates are dropped.
	svc.Dispatch(context.Background(), rawMsg(t, dse.MsgOrderUpdate, map[string]string{
		"order_id": "DSE-1", "status": "executed",
	}))

	ft := &fakeTrading{}
	svc.SetTradingService(ft)
	svc.Dispatch(context.Background(), rawMsg(t, dse.MsgOrderUpdate, map[string]string{
		"order_id": "DSE-2", "status": "executed",
	}))

	require.Len(t, ft.updates, 1)
	require.Equal(t, "DSE-2", ft.updates[0].ExchangeRef)
}

func TestDispatch_OrderUpdateForUnknownOrderIgnored(t *testing.T) {
	db := newTestDB(t)
	ft := &fakeTrading{err: trading.ErrOrderNotFound}
	svc := NewService(zap.NewNop(), db, nil, ft)

	// Must not blow up; the venue feed carries everyone's orders.
	svc.Dispatch(context.Background(), rawMsg(t, dse.MsgOrderUpdate, map[string]string{
		"order_id": "DSE-OTHER", "status": "executed",
	}))
	require.Len(t, ft.updates, 1)
}

func TestDispatch_IndexUpdate(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(zap.NewNop(), db, nil, nil)

	svc.Dispatch(context.Background(), rawMsg(t, dse.MsgMarketIndexUpdate, map[string]string{
		"name": "DSEI", "value": "2150.44", "change": "12.3",
	}))

	var idx models.MarketIndex
	require.NoError(t, db.First(&idx, "name = ?", "DSEI").Error)
	require.True(t, idx.Value.Equal(decimal.RequireFromString("2150.44")))
}

func TestDispatch_NewsUpdate(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(zap.NewNop(), db, nil, nil)

	svc.Dispatch(context.Background(), rawMsg(t, dse.MsgNewsUpdate, map[string]interface{}{
		"symbol":       "CRDB",
		"headline":     "Dividend announced",
		"body":         "The board approved a dividend.",
		"published_at": time.Now().UTC().Format(time.RFC3339),
	}))

	var item models.NewsItem
	require.NoError(t, db.First(&item, "symbol = ?", "CRDB").Error)
	require.Equal(t, "Dividend announced", item.Headline)
}

func TestDispatch_MalformedPayload(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(zap.NewNop(), db, nil, nil)

	// Must log and move on, not panic.
	svc.Dispatch(context.Background(), dse.Message{Type: dse.MsgPriceUpdate, Data: []byte(`{"price": []}`)})
	svc.Dispatch(context.Background(), dse.Message{Type: "SOMETHING_ELSE", Data: []byte(`{}`)})

	var count int64
	require.NoError(t, db.Model(&models.MarketPrice{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestLastTradePrice_NotFound(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(zap.NewNop(), db, nil, nil)

	_, err := svc.LastTradePrice(context.Background(), "NOPE")
	require.ErrorIs(t, err, ErrPriceNotFound)
}

func TestRun_ConsumesUntilChannelCloses(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(zap.NewNop(), db, nil, nil)

	msgs := make(chan dse.Message, 2)
	msgs <- rawMsg(t, dse.MsgPriceUpdate, map[string]string{"symbol": "TBL", "price": "9000"})
	close(msgs)

	done := make(chan struct{})
	go func() {
		svc.Run(context.Background(), msgs)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after channel close")
	}

	last, err := svc.LastTradePrice(context.Background(), "TBL")
	require.NoError(t, err)
	require.True(t, last.Equal(decimal.RequireFromString("9000")))
}
