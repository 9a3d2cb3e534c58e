// 文件: pkg/binary/engine_test.go
// 结算引擎集成测试 (需要本地 MySQL)
//
// 重点验证恰好一次结算: 重复结算返回 ErrAlreadySettled，
// 余额与审计日志都不再变化

package binary

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"hbx.com/pkg/audit"
	"hbx.com/pkg/marketdata"
	"hbx.com/pkg/stream"
	"hbx.com/pkg/wallet"
)

// =============================================================================
// 测试配置
// =============================================================================

const (
	testDSN    = "root:123456@tcp(127.0.0.1:3307)/hbx_test?charset=utf8mb4&parseTime=True&loc=Local"
	testSymbol = "TESTBTC_USDT"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(mysql.Open(testDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Skipf("mysql not available: %v", err)
	}

	require.NoError(t, db.AutoMigrate(
		&wallet.Wallet{}, &wallet.JournalEntry{}, &Wager{}, &audit.Entry{},
	))
	return db
}

func cleanupTestData(db *gorm.DB, userIDs ...int64) {
	db.Exec("DELETE FROM wallets WHERE user_id IN ?", userIDs)
	db.Exec("DELETE FROM wallet_journals WHERE user_id IN ?", userIDs)
	var wagerIDs []int64
	db.Model(&Wager{}).Where("user_id IN ?", userIDs).Pluck("wager_id", &wagerIDs)
	db.Exec("DELETE FROM wagers WHERE user_id IN ?", userIDs)
	if len(wagerIDs) > 0 {
		db.Exec("DELETE FROM settlement_audit_logs WHERE wager_id IN ?", wagerIDs)
	}
}

// newTestEngine 内存价格源 + 空事件总线
func newTestEngine(t *testing.T) (*SettlementEngine, *wallet.Repo, *marketdata.MemoryProvider, *gorm.DB) {
	db := setupTestDB(t)
	wallets := wallet.NewRepo(db)
	prices := marketdata.NewMemoryProvider()
	engine := NewSettlementEngine(wallets, prices, stream.NewNoopBus(), "USDT")
	return engine, wallets, prices, db
}

func fund(t *testing.T, wallets *wallet.Repo, userID, amount int64) {
	_, _, err := wallets.Deposit(context.Background(), userID, "USDT", amount,
		"test_deposit_"+time.Now().Format("150405.000000"))
	require.NoError(t, err)
}

// =============================================================================
// 下注
// =============================================================================

func TestPlaceWager_LocksStake(t *testing.T) {
	engine, wallets, prices, db := newTestEngine(t)
	userID := int64(9101)
	cleanupTestData(db, userID)
	defer cleanupTestData(db, userID)

	fund(t, wallets, userID, 1000*wallet.Precision)
	prices.SetPrice(testSymbol, 50_000*wallet.Precision)

	w, err := engine.PlaceWager(context.Background(), &PlaceWagerRequest{
		UserID:     userID,
		Symbol:     testSymbol,
		Direction:  DirectionUp,
		Stake:      100 * wallet.Precision,
		PayoutRate: 85,
		EndTime:    time.Now().Add(time.Hour).UnixMilli(),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, w.Status)
	// 未指定 strike 时取当前最新价
	assert.Equal(t, int64(50_000*wallet.Precision), w.StrikePrice)

	// 本金从可用转入冻结
	bal, err := wallets.Get(context.Background(), userID, "USDT")
	require.NoError(t, err)
	assert.Equal(t, int64(900*wallet.Precision), bal.Available)
	assert.Equal(t, int64(100*wallet.Precision), bal.Locked)
}

func TestPlaceWager_InsufficientBalance(t *testing.T) {
	engine, wallets, prices, db := newTestEngine(t)
	userID := int64(9102)
	cleanupTestData(db, userID)
	defer cleanupTestData(db, userID)

	fund(t, wallets, userID, 50*wallet.Precision)
	prices.SetPrice(testSymbol, 50_000*wallet.Precision)

	_, err := engine.PlaceWager(context.Background(), &PlaceWagerRequest{
		UserID:     userID,
		Symbol:     testSymbol,
		Direction:  DirectionDown,
		Stake:      100 * wallet.Precision,
		PayoutRate: 85,
		EndTime:    time.Now().Add(time.Hour).UnixMilli(),
	})
	require.ErrorIs(t, err, wallet.ErrInsufficientBalance)

	// 下注失败不留半成品: 余额原样，无期权单
	bal, err := wallets.Get(context.Background(), userID, "USDT")
	require.NoError(t, err)
	assert.Equal(t, int64(50*wallet.Precision), bal.Available)
	assert.Equal(t, int64(0), bal.Locked)

	var count int64
	db.Model(&Wager{}).Where("user_id = ?", userID).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestPlaceWager_Validation(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	base := PlaceWagerRequest{
		UserID:     9103,
		Symbol:     testSymbol,
		Direction:  DirectionUp,
		Stake:      100 * wallet.Precision,
		PayoutRate: 85,
		EndTime:    time.Now().Add(time.Hour).UnixMilli(),
	}

	mutations := []func(*PlaceWagerRequest){
		func(r *PlaceWagerRequest) { r.Stake = 0 },
		func(r *PlaceWagerRequest) { r.Stake = -1 },
		func(r *PlaceWagerRequest) { r.Direction = 0 },
		func(r *PlaceWagerRequest) { r.Symbol = "" },
		func(r *PlaceWagerRequest) { r.PayoutRate = 0 },
		func(r *PlaceWagerRequest) { r.PayoutRate = maxPayoutRate + 1 },
		func(r *PlaceWagerRequest) { r.EndTime = time.Now().Add(-time.Minute).UnixMilli() },
	}

	for i, mutate := range mutations {
		req := base
		mutate(&req)
		_, err := engine.PlaceWager(context.Background(), &req)
		assert.ErrorIs(t, err, ErrInvalidWager, "case %d", i)
	}
}

// =============================================================================
// 结算
// =============================================================================

func TestSettle_WinPaysStakePlusProfit(t *testing.T) {
	engine, wallets, prices, db := newTestEngine(t)
	userID := int64(9104)
	cleanupTestData(db, userID)
	defer cleanupTestData(db, userID)

	fund(t, wallets, userID, 1000*wallet.Precision)
	prices.SetPrice(testSymbol, 50_000*wallet.Precision)

	w, err := engine.PlaceWager(context.Background(), &PlaceWagerRequest{
		UserID:     userID,
		Symbol:     testSymbol,
		Direction:  DirectionUp,
		Stake:      100 * wallet.Precision,
		PayoutRate: 85,
		EndTime:    time.Now().Add(time.Hour).UnixMilli(),
	})
	require.NoError(t, err)

	res, err := engine.Settle(context.Background(), &SettleRequest{
		WagerID:    w.WagerID,
		FinalPrice: 55_000 * wallet.Precision,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusWin, res.Wager.Status)
	// 返回值就是结算后的可用余额
	assert.Equal(t, int64(1085*wallet.Precision), res.NewAvailable)

	// 900 可用 + 派彩 185 = 1085，冻结清零
	bal, err := wallets.Get(context.Background(), userID, "USDT")
	require.NoError(t, err)
	assert.Equal(t, int64(1085*wallet.Precision), bal.Available)
	assert.Equal(t, int64(0), bal.Locked)

	// 恰好一条审计，自动结算 admin_id 为空
	entries, err := audit.NewRepo(db).ListByWager(context.Background(), w.WagerID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "WIN", entries[0].Outcome)
	assert.True(t, entries[0].IsAutomatic())
}

func TestSettle_LossForfeitsStake(t *testing.T) {
	engine, wallets, prices, db := newTestEngine(t)
	userID := int64(9105)
	cleanupTestData(db, userID)
	defer cleanupTestData(db, userID)

	fund(t, wallets, userID, 1000*wallet.Precision)
	prices.SetPrice(testSymbol, 50_000*wallet.Precision)

	w, err := engine.PlaceWager(context.Background(), &PlaceWagerRequest{
		UserID:     userID,
		Symbol:     testSymbol,
		Direction:  DirectionUp,
		Stake:      100 * wallet.Precision,
		PayoutRate: 85,
		EndTime:    time.Now().Add(time.Hour).UnixMilli(),
	})
	require.NoError(t, err)

	// 平盘算输
	res, err := engine.Settle(context.Background(), &SettleRequest{
		WagerID:    w.WagerID,
		FinalPrice: 50_000 * wallet.Precision,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusLoss, res.Wager.Status)
	assert.Equal(t, int64(900*wallet.Precision), res.NewAvailable)

	bal, err := wallets.Get(context.Background(), userID, "USDT")
	require.NoError(t, err)
	assert.Equal(t, int64(900*wallet.Precision), bal.Available)
	assert.Equal(t, int64(0), bal.Locked)
}

func TestSettle_ExactlyOnce(t *testing.T) {
	engine, wallets, prices, db := newTestEngine(t)
	userID := int64(9106)
	cleanupTestData(db, userID)
	defer cleanupTestData(db, userID)

	fund(t, wallets, userID, 1000*wallet.Precision)
	prices.SetPrice(testSymbol, 50_000*wallet.Precision)

	w, err := engine.PlaceWager(context.Background(), &PlaceWagerRequest{
		UserID:     userID,
		Symbol:     testSymbol,
		Direction:  DirectionUp,
		Stake:      100 * wallet.Precision,
		PayoutRate: 85,
		EndTime:    time.Now().Add(time.Hour).UnixMilli(),
	})
	require.NoError(t, err)

	_, err = engine.Settle(context.Background(), &SettleRequest{
		WagerID:    w.WagerID,
		FinalPrice: 55_000 * wallet.Precision,
	})
	require.NoError(t, err)

	balAfterFirst, err := wallets.Get(context.Background(), userID, "USDT")
	require.NoError(t, err)

	// 第二次结算: 拒绝，且不产生任何变更
	_, err = engine.Settle(context.Background(), &SettleRequest{
		WagerID:    w.WagerID,
		FinalPrice: 40_000 * wallet.Precision, // 换个价也不行
	})
	require.ErrorIs(t, err, ErrAlreadySettled)

	balAfterSecond, err := wallets.Get(context.Background(), userID, "USDT")
	require.NoError(t, err)
	assert.Equal(t, balAfterFirst.Available, balAfterSecond.Available)
	assert.Equal(t, balAfterFirst.Locked, balAfterSecond.Locked)

	count, err := audit.NewRepo(db).CountByWager(context.Background(), w.WagerID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSettle_ManualRequiresRationale(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	adminID := int64(1)
	_, err := engine.Settle(context.Background(), &SettleRequest{
		WagerID:    12345,
		FinalPrice: 55_000 * wallet.Precision,
		AdminID:    &adminID,
	})
	require.ErrorIs(t, err, ErrRationaleRequired)
}

func TestSettle_ManualOverridesRule(t *testing.T) {
	engine, wallets, prices, db := newTestEngine(t)
	userID := int64(9107)
	cleanupTestData(db, userID)
	defer cleanupTestData(db, userID)

	fund(t, wallets, userID, 1000*wallet.Precision)
	prices.SetPrice(testSymbol, 50_000*wallet.Precision)

	w, err := engine.PlaceWager(context.Background(), &PlaceWagerRequest{
		UserID:     userID,
		Symbol:     testSymbol,
		Direction:  DirectionUp,
		Stake:      100 * wallet.Precision,
		PayoutRate: 85,
		EndTime:    time.Now().Add(time.Hour).UnixMilli(),
	})
	require.NoError(t, err)

	// 按规则该判 LOSS (到期价更低)，管理员裁定 WIN
	adminID := int64(7)
	docURL := "https://ops.example.com/incident/42"
	res, err := engine.Settle(context.Background(), &SettleRequest{
		WagerID:          w.WagerID,
		FinalPrice:       45_000 * wallet.Precision,
		Outcome:          StatusWin,
		Rationale:        "feed outage during expiry window, honoring user position",
		AdminID:          &adminID,
		SupportingDocURL: &docURL,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusWin, res.Wager.Status)

	entries, err := audit.NewRepo(db).ListByWager(context.Background(), w.WagerID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].AdminID)
	assert.Equal(t, adminID, *entries[0].AdminID)
	require.NotNil(t, entries[0].SupportingDocURL)
	assert.Equal(t, docURL, *entries[0].SupportingDocURL)
}

func TestSettle_NotFound(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	_, err := engine.Settle(context.Background(), &SettleRequest{
		WagerID:    -999,
		FinalPrice: 1,
	})
	require.ErrorIs(t, err, ErrWagerNotFound)
}

// =============================================================================
// 到期扫描
// =============================================================================

func TestSweepExpired(t *testing.T) {
	engine, wallets, prices, db := newTestEngine(t)
	userID := int64(9108)
	cleanupTestData(db, userID)
	defer cleanupTestData(db, userID)

	fund(t, wallets, userID, 1000*wallet.Precision)
	prices.SetPrice(testSymbol, 50_000*wallet.Precision)

	w, err := engine.PlaceWager(context.Background(), &PlaceWagerRequest{
		UserID:     userID,
		Symbol:     testSymbol,
		Direction:  DirectionUp,
		Stake:      100 * wallet.Precision,
		PayoutRate: 85,
		EndTime:    time.Now().Add(50 * time.Millisecond).UnixMilli(),
	})
	require.NoError(t, err)

	// 到期前扫描: 不结算
	ids, err := engine.SweepExpired(context.Background(), time.Now().UnixMilli())
	require.NoError(t, err)
	assert.NotContains(t, ids, w.WagerID)

	time.Sleep(60 * time.Millisecond)
	prices.SetPrice(testSymbol, 56_000*wallet.Precision)

	ids, err = engine.SweepExpired(context.Background(), time.Now().UnixMilli())
	require.NoError(t, err)
	assert.Contains(t, ids, w.WagerID)

	settled, err := engine.GetWager(context.Background(), w.WagerID)
	require.NoError(t, err)
	assert.Equal(t, StatusWin, settled.Status)

	// 再扫一遍: 幂等，不再出现
	ids, err = engine.SweepExpired(context.Background(), time.Now().UnixMilli())
	require.NoError(t, err)
	assert.NotContains(t, ids, w.WagerID)
}

func TestSweepExpired_PriceUnavailable(t *testing.T) {
	engine, wallets, prices, db := newTestEngine(t)
	userID := int64(9109)
	cleanupTestData(db, userID)
	defer cleanupTestData(db, userID)

	fund(t, wallets, userID, 1000*wallet.Precision)
	prices.SetPrice(testSymbol, 50_000*wallet.Precision)

	w, err := engine.PlaceWager(context.Background(), &PlaceWagerRequest{
		UserID:     userID,
		Symbol:     testSymbol,
		Direction:  DirectionUp,
		Stake:      100 * wallet.Precision,
		PayoutRate: 85,
		EndTime:    time.Now().Add(30 * time.Millisecond).UnixMilli(),
	})
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)
	prices.Clear(testSymbol)

	// 无价可依: 跳过，单保持 OPEN，下一轮再试
	ids, err := engine.SweepExpired(context.Background(), time.Now().UnixMilli())
	require.NoError(t, err)
	assert.NotContains(t, ids, w.WagerID)

	still, err := engine.GetWager(context.Background(), w.WagerID)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, still.Status)
}

// =============================================================================
// 并发结算
// =============================================================================

// 到期扫描和人工裁定同时抢同一张单: 恰好一方提交，
// 另一方拿到 ErrAlreadySettled (或被扫描静默跳过)，审计日志只有一条
func TestSettle_ConcurrentSweepAndManual(t *testing.T) {
	engine, wallets, prices, db := newTestEngine(t)
	userID := int64(9110)
	cleanupTestData(db, userID)
	defer cleanupTestData(db, userID)

	fund(t, wallets, userID, 1000*wallet.Precision)
	prices.SetPrice(testSymbol, 50_000*wallet.Precision)

	w, err := engine.PlaceWager(context.Background(), &PlaceWagerRequest{
		UserID:     userID,
		Symbol:     testSymbol,
		Direction:  DirectionUp,
		Stake:      100 * wallet.Precision,
		PayoutRate: 85,
		EndTime:    time.Now().Add(time.Hour).UnixMilli(),
	})
	require.NoError(t, err)

	// 到期价更低: 扫描按规则判 LOSS，人工裁定 WIN
	prices.SetPrice(testSymbol, 45_000*wallet.Precision)
	adminID := int64(7)

	var (
		wg        sync.WaitGroup
		sweptIDs  []int64
		sweepErr  error
		manualErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		// 扫描视角里这张单已到期
		sweptIDs, sweepErr = engine.SweepExpired(context.Background(),
			time.Now().Add(2*time.Hour).UnixMilli())
	}()
	go func() {
		defer wg.Done()
		_, manualErr = engine.Settle(context.Background(), &SettleRequest{
			WagerID:    w.WagerID,
			FinalPrice: 45_000 * wallet.Precision,
			Outcome:    StatusWin,
			Rationale:  "feed dispute resolved in user's favor",
			AdminID:    &adminID,
		})
	}()
	wg.Wait()

	require.NoError(t, sweepErr)

	// 恰好一方赢得结算权
	sweepWon := false
	for _, id := range sweptIDs {
		if id == w.WagerID {
			sweepWon = true
		}
	}
	if sweepWon {
		require.ErrorIs(t, manualErr, ErrAlreadySettled)
	} else {
		require.NoError(t, manualErr)
	}

	settled, err := engine.GetWager(context.Background(), w.WagerID)
	require.NoError(t, err)
	require.NotEqual(t, StatusOpen, settled.Status)
	require.NotNil(t, settled.SettledAt)

	// 余额与审计和胜出方一致: 本金只被扣一次，赔付至多一次
	bal, err := wallets.Get(context.Background(), userID, "USDT")
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal.Locked)
	if settled.Status == StatusWin {
		assert.Equal(t, int64(1085*wallet.Precision), bal.Available)
	} else {
		assert.Equal(t, int64(900*wallet.Precision), bal.Available)
	}

	count, err := audit.NewRepo(db).CountByWager(context.Background(), w.WagerID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
