// 文件: pkg/binary/engine.go
// 二元期权结算引擎 - 下注与恰好一次结算
//
// 结算的核心约束: 每张期权单只结算一次。实现是事务内守卫:
// 锁行 → 复核 status == OPEN → 翻转 + 资金划转 + 审计行，同一事务提交。
// 自动扫描和管理员裁定并发到达时，后提交的一方看到非 OPEN 状态
// 原样返回 ErrAlreadySettled，不产生任何第二次变更。
//
// 行锁内不做外部 I/O: 到期价在进事务前取好。

package binary

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"hbx.com/pkg/audit"
	"hbx.com/pkg/ident"
	"hbx.com/pkg/marketdata"
	"hbx.com/pkg/stream"
	"hbx.com/pkg/wallet"
)

// 一次扫描最多处理的到期单数，剩余的留给下一轮
const (
	sweepBatchSize = 500

	// maxPayoutRate 赔付率上限 (百分比)，防止畸形参数把赔付额推到溢出
	maxPayoutRate = 10_000
)

// =============================================================================
// SettlementEngine - 结算引擎
// =============================================================================

type SettlementEngine struct {
	wallets     *wallet.Repo
	prices      marketdata.PriceProvider
	bus         *stream.Bus
	settleAsset string // 本金与赔付的币种
}

func NewSettlementEngine(wallets *wallet.Repo, prices marketdata.PriceProvider, bus *stream.Bus, settleAsset string) *SettlementEngine {
	if settleAsset == "" {
		settleAsset = "USDT"
	}
	return &SettlementEngine{
		wallets:     wallets,
		prices:      prices,
		bus:         bus,
		settleAsset: settleAsset,
	}
}

// =============================================================================
// 下注
// =============================================================================

type PlaceWagerRequest struct {
	UserID      int64
	Symbol      string // 定价标的，如 BTC_USDT
	Direction   Direction
	Stake       int64 // 定点数 (×1e8)
	StrikePrice int64 // 0 表示按当前最新价开仓
	PayoutRate  int64 // 百分比
	EndTime     int64 // 到期时刻 (毫秒)
}

func (r *PlaceWagerRequest) validate(nowMs int64) error {
	if r.Stake <= 0 {
		return fmt.Errorf("%w: stake must be positive", ErrInvalidWager)
	}
	if r.Direction != DirectionUp && r.Direction != DirectionDown {
		return fmt.Errorf("%w: direction must be UP or DOWN", ErrInvalidWager)
	}
	if r.Symbol == "" {
		return fmt.Errorf("%w: symbol required", ErrInvalidWager)
	}
	if r.PayoutRate <= 0 {
		return fmt.Errorf("%w: payout rate must be positive", ErrInvalidWager)
	}
	if r.PayoutRate > maxPayoutRate {
		return fmt.Errorf("%w: payout rate exceeds %d", ErrInvalidWager, maxPayoutRate)
	}
	if r.EndTime <= nowMs {
		return fmt.Errorf("%w: end time must be in the future", ErrInvalidWager)
	}
	return nil
}

// PlaceWager 下注: 冻结本金 + 落单，一个事务
// 余额不足时整体失败，不留半成品
func (e *SettlementEngine) PlaceWager(ctx context.Context, req *PlaceWagerRequest) (*Wager, error) {
	nowMs := time.Now().UnixMilli()
	if err := req.validate(nowMs); err != nil {
		return nil, err
	}

	strike := req.StrikePrice
	if strike == 0 {
		p, err := e.prices.LastPrice(ctx, req.Symbol)
		if err != nil {
			return nil, err
		}
		strike = p
	}

	w := &Wager{
		WagerID:     ident.GenerateID(),
		UserID:      req.UserID,
		Symbol:      req.Symbol,
		Direction:   req.Direction,
		Stake:       req.Stake,
		StrikePrice: strike,
		PayoutRate:  req.PayoutRate,
		Status:      StatusOpen,
		EndTime:     req.EndTime,
		CreatedAt:   nowMs,
	}

	var (
		balance *wallet.Wallet
		journal *wallet.JournalEntry
	)
	err := e.wallets.Transaction(ctx, func(tx *wallet.Repo) error {
		var err error
		balance, journal, err = tx.Reserve(ctx, req.UserID, e.settleAsset, req.Stake,
			wallet.BizTypeWager, strconv.FormatInt(w.WagerID, 10))
		if err != nil {
			return err
		}
		return tx.DB().WithContext(ctx).Create(w).Error
	})
	if err != nil {
		return nil, err
	}

	e.bus.WagerPlaced(w.WagerID, w.UserID, w.Symbol)
	e.bus.BalanceChanged(balance)
	e.bus.Journal(journal)

	log.Printf("[Binary] wager placed: wager_id=%d, user_id=%d, symbol=%s, direction=%s, stake=%d, strike=%d",
		w.WagerID, w.UserID, w.Symbol, w.Direction, w.Stake, w.StrikePrice)
	return w, nil
}

// =============================================================================
// 结算
// =============================================================================

// SettleRequest 结算请求
// AdminID 为 nil 表示自动结算; 非 nil 表示管理员人工裁定，必须填理由。
// Outcome 为零值时按 FinalPrice 对 strike 的规则判定，
// 管理员可显式给出 Outcome 覆盖规则 (争议裁定)。
type SettleRequest struct {
	WagerID    int64
	FinalPrice int64
	Outcome    Status
	Rationale  string

	AdminID          *int64
	SupportingDocURL *string
}

// SettleResult 结算结果
type SettleResult struct {
	Wager        *Wager
	NewAvailable int64 // 结算币种的最新可用余额
}

// Settle 恰好一次结算
// 已结算的单返回 ErrAlreadySettled，余额和审计都不再变化
func (e *SettlementEngine) Settle(ctx context.Context, req *SettleRequest) (*SettleResult, error) {
	if req.AdminID != nil && req.Rationale == "" {
		return nil, ErrRationaleRequired
	}

	var (
		settled  *Wager
		balances []*wallet.Wallet
		journals []*wallet.JournalEntry
		payout   int64
	)

	err := e.wallets.Transaction(ctx, func(tx *wallet.Repo) error {
		var w Wager
		err := tx.DB().WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("wager_id = ?", req.WagerID).
			First(&w).Error
		if err == gorm.ErrRecordNotFound {
			return ErrWagerNotFound
		}
		if err != nil {
			return err
		}

		// 守卫: OPEN 是唯一可结算状态
		if w.Status != StatusOpen {
			return ErrAlreadySettled
		}

		outcome := req.Outcome
		if outcome == 0 {
			outcome = ResolveOutcome(w.Direction, req.FinalPrice, w.StrikePrice)
		}
		if outcome != StatusWin && outcome != StatusLoss {
			return fmt.Errorf("%w: illegal outcome %d", ErrInvalidWager, outcome)
		}

		bizID := strconv.FormatInt(w.WagerID, 10)

		// 本金出冻结
		bal, j, err := tx.DebitLocked(ctx, w.UserID, e.settleAsset, w.Stake, wallet.BizTypeWager, bizID)
		if err != nil {
			return err
		}
		balances, journals = append(balances, bal), append(journals, j)

		// 赢单派彩: 本金 + 收益
		if outcome == StatusWin {
			payout = w.Payout()
			bal, j, err = tx.CreditAvailable(ctx, w.UserID, e.settleAsset, payout, wallet.BizTypeWager, bizID)
			if err != nil {
				return err
			}
			balances, journals = append(balances, bal), append(journals, j)
		}

		now := time.Now()
		w.Status = outcome
		w.FinalPrice = req.FinalPrice
		w.SettledAt = &now
		err = tx.DB().WithContext(ctx).Model(&Wager{}).
			Where("wager_id = ?", w.WagerID).
			Updates(map[string]any{
				"status":      w.Status,
				"final_price": w.FinalPrice,
				"settled_at":  w.SettledAt,
			}).Error
		if err != nil {
			return err
		}

		// 审计行与翻转同事务，每次提交成功的结算恰好一行
		rationale := req.Rationale
		if rationale == "" {
			rationale = fmt.Sprintf("auto settlement at expiry: final=%d, strike=%d", req.FinalPrice, w.StrikePrice)
		}
		entry := &audit.Entry{
			WagerID:          w.WagerID,
			Outcome:          outcome.String(),
			FinalPrice:       req.FinalPrice,
			Rationale:        rationale,
			AdminID:          req.AdminID,
			SupportingDocURL: req.SupportingDocURL,
		}
		if err := audit.NewRepo(tx.DB()).Insert(ctx, entry); err != nil {
			return err
		}

		settled = &w
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.bus.WagerSettled(settled.WagerID, settled.UserID, settled.Symbol,
		settled.Status.String(), settled.FinalPrice, payout, req.AdminID)
	for _, b := range balances {
		e.bus.BalanceChanged(b)
	}
	for _, j := range journals {
		e.bus.Journal(j)
	}

	log.Printf("[Binary] wager settled: wager_id=%d, outcome=%s, final=%d, payout=%d, manual=%v",
		settled.WagerID, settled.Status, settled.FinalPrice, payout, req.AdminID != nil)
	return &SettleResult{
		Wager:        settled,
		NewAvailable: balances[len(balances)-1].Available,
	}, nil
}

// =============================================================================
// 到期扫描
// =============================================================================

// SweepExpired 结算所有已到期的 OPEN 单，返回本轮成功结算的单号
// 候选集是普通读，真正的判定在 Settle 的锁内守卫里做:
// 扫描期间被管理员抢先裁定的单会以 ErrAlreadySettled 静默跳过
func (e *SettlementEngine) SweepExpired(ctx context.Context, nowMs int64) ([]int64, error) {
	var candidates []*Wager
	err := e.wallets.DB().WithContext(ctx).
		Where("status = ? AND end_time <= ?", StatusOpen, nowMs).
		Order("end_time ASC").
		Limit(sweepBatchSize).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	// 到期价进事务前取好，同标的只取一次
	finals := make(map[string]int64)
	settledIDs := make([]int64, 0, len(candidates))

	for _, w := range candidates {
		final, ok := finals[w.Symbol]
		if !ok {
			var err error
			final, err = e.prices.FinalPrice(ctx, w.Symbol)
			if errors.Is(err, marketdata.ErrPriceUnavailable) {
				log.Printf("[Binary] sweep: price unavailable, skip: symbol=%s, wager_id=%d", w.Symbol, w.WagerID)
				continue
			}
			if err != nil {
				return settledIDs, err
			}
			finals[w.Symbol] = final
		}

		_, err := e.Settle(ctx, &SettleRequest{WagerID: w.WagerID, FinalPrice: final})
		if errors.Is(err, ErrAlreadySettled) {
			continue
		}
		if err != nil {
			log.Printf("[Binary] sweep: settle failed: wager_id=%d, err=%v", w.WagerID, err)
			continue
		}
		settledIDs = append(settledIDs, w.WagerID)
	}

	if len(settledIDs) > 0 {
		log.Printf("[Binary] sweep done: candidates=%d, settled=%d", len(candidates), len(settledIDs))
	}
	return settledIDs, nil
}

// =============================================================================
// 查询
// =============================================================================

// GetWager 按单号查询
func (e *SettlementEngine) GetWager(ctx context.Context, wagerID int64) (*Wager, error) {
	var w Wager
	err := e.wallets.DB().WithContext(ctx).
		Where("wager_id = ?", wagerID).
		First(&w).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrWagerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ListByUser 用户的期权单 (时间倒序)
func (e *SettlementEngine) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*Wager, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	var wagers []*Wager
	err := e.wallets.DB().WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&wagers).Error
	return wagers, err
}
