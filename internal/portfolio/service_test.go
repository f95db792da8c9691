package portfolio

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

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
		&models.Order{}, &models.Portfolio{}, &models.Holding{}, &models.Transaction{},
	))
	return db
}

func newTestService(t *testing.T) (PortfolioService, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	svc, err := NewService(zap.NewNop(), db, decimal.RequireFromString("0.002"))
	require.NoError(t, err)
	return svc, db
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestApplyFill_BuyDeductsCashAndCommission(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := svc.CreatePortfolio(ctx, userID, dec("1000000"))
	require.NoError(t, err)

	err = svc.ApplyFill(ctx, Fill{
		OrderID:  uuid.New(),
		UserID:   userID,
		Symbol:   "CRDB",
		Side:     models.SideBuy,
		Quantity: dec("100"),
		Price:    dec("5000"),
	})
	require.NoError(t, err)

	p, err := svc.GetPortfolio(ctx, userID)
	require.NoError(t, err)
	// 1,000,000 - 500,000 - 1,000 commission
	require.True(t, p.CashBalance.Equal(dec("499000")), "cash = %s", p.CashBalance)

	h, err := svc.GetHolding(ctx, userID, "CRDB")
	require.NoError(t, err)
	require.NotNil(t, h)
	require.True(t, h.Quantity.Equal(dec("100")))
	require.True(t, h.AveragePrice.Equal(dec("5000")))
}

func TestApplyFill_WeightedAveragePrice(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := svc.CreatePortfolio(ctx, userID, dec("10000000"))
	require.NoError(t, err)

	require.NoError(t, svc.ApplyFill(ctx, Fill{
		OrderID: uuid.New(), UserID: userID, Symbol: "TBL",
		Side: models.SideBuy, Quantity: dec("200"), Price: dec("10000"),
	}))
	require.NoError(t, svc.ApplyFill(ctx, Fill{
		OrderID: uuid.New(), UserID: userID, Symbol: "TBL",
		Side: models.SideBuy, Quantity: dec("100"), Price: dec("13000"),
	}))

	h, err := svc.GetHolding(ctx, userID, "TBL")
	require.NoError(t, err)
	// (10000*200 + 13000*100) / 300 = 11000 exactly
	require.True(t, h.AveragePrice.Equal(dec("11000")), "avg = %s", h.AveragePrice)
	require.True(t, h.Quantity.Equal(dec("300")))
}

func TestApplyFill_SellCreditsCashKeepsZeroHolding(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := svc.CreatePortfolio(ctx, userID, dec("1000000"))
	require.NoError(t, err)

	require.NoError(t, svc.ApplyFill(ctx, Fill{
		OrderID: uuid.New(), UserID: userID, Symbol: "NMB",
		Side: models.SideBuy, Quantity: dec("50"), Price: dec("4000"),
	}))
	require.NoError(t, svc.ApplyFill(ctx, Fill{
		OrderID: uuid.New(), UserID: userID, Symbol: "NMB",
		Side: models.SideSell, Quantity: dec("50"), Price: dec("4200"),
	}))

	p, err := svc.GetPortfolio(ctx, userID)
	require.NoError(t, err)
	// 1,000,000 - 200,000 - 400 + 210,000 - 420
	require.True(t, p.CashBalance.Equal(dec("1009180")), "cash = %s", p.CashBalance)

	// The holding row survives at zero quantity.
	h, err := svc.GetHolding(ctx, userID, "NMB")
	require.NoError(t, err)
	require.NotNil(t, h)
	require.True(t, h.Quantity.IsZero())
	require.True(t, h.AveragePrice.Equal(dec("4000")))
}

func TestApplyFill_SellInsufficientSharesRollsBack(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := svc.CreatePortfolio(ctx, userID, dec("500000"))
	require.NoError(t, err)

	err = svc.ApplyFill(ctx, Fill{
		OrderID: uuid.New(), UserID: userID, Symbol: "CRDB",
		Side: models.SideSell, Quantity: dec("10"), Price: dec("500"),
	})
	require.ErrorIs(t, err, ErrInsufficientShares)

	// Nothing moved: cash untouched, no ledger rows.
	p, err := svc.GetPortfolio(ctx, userID)
	require.NoError(t, err)
	require.True(t, p.CashBalance.Equal(dec("500000")))

	var count int64
	require.NoError(t, db.Model(&models.Transaction{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestApplyFill_LedgerRows(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	orderID := uuid.New()

	_, err := svc.CreatePortfolio(ctx, userID, dec("1000000"))
	require.NoError(t, err)

	require.NoError(t, svc.ApplyFill(ctx, Fill{
		OrderID: orderID, UserID: userID, Symbol: "CRDB",
		Side: models.SideBuy, Quantity: dec("100"), Price: dec("5000"),
	}))

	txs, total, err := svc.GetTransactions(ctx, userID, 10, 0)
	require.NoError(t, err)
	require.EqualValues(t, 2, total)

	byType := map[string]*models.Transaction{}
	for _, tx := range txs {
		byType[tx.Type] = tx
	}
	require.Contains(t, byType, models.TransactionBuy)
	require.Contains(t, byType, models.TransactionCommission)
	require.True(t, byType[models.TransactionBuy].Amount.Equal(dec("500000")))
	require.True(t, byType[models.TransactionCommission].Amount.Equal(dec("1000")))
	require.Equal(t, orderID, byType[models.TransactionBuy].OrderID)
}

func TestApplyFill_NoPortfolio(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.ApplyFill(context.Background(), Fill{
		OrderID: uuid.New(), UserID: uuid.New(), Symbol: "CRDB",
		Side: models.SideBuy, Quantity: dec("1"), Price: dec("100"),
	})
	require.ErrorIs(t, err, ErrPortfolioNotFound)
}

func TestDeposit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := svc.CreatePortfolio(ctx, userID, dec("0"))
	require.NoError(t, err)
	require.NoError(t, svc.Deposit(ctx, userID, dec("2500")))

	p, err := svc.GetPortfolio(ctx, userID)
	require.NoError(t, err)
	require.True(t, p.CashBalance.Equal(dec("2500")))

	require.Error(t, svc.Deposit(ctx, userID, dec("-5")))
}

func TestCreatePortfolio_Duplicate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := svc.CreatePortfolio(ctx, userID, dec("100"))
	require.NoError(t, err)
	_, err = svc.CreatePortfolio(ctx, userID, dec("100"))
	require.Error(t, err)
}
