// 文件: pkg/spot/placement.go
// 原子下单 - 校验 → 冻结资金 → 落单，一个事务
//
// 流程:
// 1. 入参校验 (不碰任何余额)
// 2. 符号解析成内部 pair ID (模糊匹配只发生在这里)
// 3. 市价买单先取参考价 (进事务前，不在行锁内做外部 I/O)
// 4. 事务内: 锁钱包行 → 冻结 → 写订单行
// 5. 提交后发布事件 + pair dirty 信号，撮合由 worker 串行触发

package spot

import (
	"context"
	"fmt"
	"strconv"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"hbx.com/pkg/ident"
	"hbx.com/pkg/marketdata"
	"hbx.com/pkg/pair"
	"hbx.com/pkg/stream"
	"hbx.com/pkg/wallet"
)

// =============================================================================
// PlacementService - 下单服务
// =============================================================================

type PlacementService struct {
	wallets  *wallet.Repo
	resolver *pair.Resolver
	pairs    pair.Repository
	prices   marketdata.PriceProvider
	bus      *stream.Bus
}

func NewPlacementService(
	wallets *wallet.Repo,
	pairs pair.Repository,
	prices marketdata.PriceProvider,
	bus *stream.Bus,
) *PlacementService {
	return &PlacementService{
		wallets:  wallets,
		resolver: pair.NewResolver(pairs),
		pairs:    pairs,
		prices:   prices,
		bus:      bus,
	}
}

// PlaceOrderRequest 下单请求
// 身份由外层认证中间件校验后传入
type PlaceOrderRequest struct {
	UserID       int64
	Symbol       string
	Side         Side
	OrderType    OrderType
	Price        int64 // 限价/止损限价必填，市价忽略
	Amount       int64
	TriggerPrice int64 // 止损限价必填
}

// PlaceOrder 下单
// 返回新订单的 OrderID
func (s *PlacementService) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (int64, error) {
	// 1. 校验，失败时不碰任何余额/订单
	if err := validatePlaceOrder(&req); err != nil {
		return 0, err
	}

	// 2. 符号 → 内部交易对
	p, err := s.resolver.Resolve(ctx, req.Symbol)
	if err != nil {
		return 0, err
	}
	if !p.IsTrading() {
		return 0, pair.ErrPairDisabled
	}

	// 3. 计算冻结额
	// 买单冻结报价资产 price×amount，卖单冻结基础资产 amount
	// 市价买单没有自己的价格，用事务外取的参考价预估，
	// 成交后的差额随完全成交/撤单解冻
	reserveAsset, reserveAmt, err := s.reservation(ctx, p, &req)
	if err != nil {
		return 0, err
	}

	orderID := ident.GenerateID()
	now := nowMilli()
	order := &Order{
		OrderID:         orderID,
		UserID:          req.UserID,
		PairID:          p.ID,
		Side:            req.Side,
		OrderType:       req.OrderType,
		Price:           req.Price,
		TriggerPrice:    req.TriggerPrice,
		Triggered:       req.OrderType != OrderTypeStopLimit,
		Amount:          req.Amount,
		Status:          StatusOpen,
		LockedRemaining: reserveAmt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	// 4. 一个事务: 锁钱包行 → 冻结 → 落单
	var (
		updated *wallet.Wallet
		journal *wallet.JournalEntry
	)
	err = s.wallets.Transaction(ctx, func(tx *wallet.Repo) error {
		w, e, err := tx.Reserve(ctx, req.UserID, reserveAsset, reserveAmt,
			wallet.BizTypeOrder, strconv.FormatInt(orderID, 10))
		if err != nil {
			return err
		}
		updated, journal = w, e
		return tx.DB().WithContext(ctx).Create(order).Error
	})
	if err != nil {
		return 0, err
	}

	// 5. 提交后发布
	s.bus.OrderPlaced(orderID, req.UserID, p.ID, order.Status.String())
	s.bus.BalanceChanged(updated)
	s.bus.Journal(journal)
	s.bus.PairDirty(p.ID)

	return orderID, nil
}

// reservation 计算冻结的资产与金额
func (s *PlacementService) reservation(ctx context.Context, p *pair.Pair, req *PlaceOrderRequest) (string, int64, error) {
	if req.Side == SideSell {
		return p.Base, req.Amount, nil
	}

	price := req.Price
	if req.OrderType == OrderTypeMarket {
		ref, err := s.prices.LastPrice(ctx, p.Symbol)
		if err != nil {
			return "", 0, fmt.Errorf("market buy needs a reference price: %w", err)
		}
		price = ref
	}
	cost := QuoteCost(price, req.Amount)
	// price×amount 向下取整后为 0 的单子冻结不了任何报价资产，直接拒掉
	if cost <= 0 {
		return "", 0, fmt.Errorf("%w: order value rounds to zero", ErrValidation)
	}
	return p.Quote, cost, nil
}

func validatePlaceOrder(req *PlaceOrderRequest) error {
	if req.UserID <= 0 {
		return fmt.Errorf("%w: user id", ErrValidation)
	}
	if req.Side != SideBuy && req.Side != SideSell {
		return fmt.Errorf("%w: side", ErrValidation)
	}
	if req.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}

	switch req.OrderType {
	case OrderTypeLimit:
		if req.Price <= 0 {
			return fmt.Errorf("%w: price must be positive", ErrValidation)
		}
	case OrderTypeStopLimit:
		if req.Price <= 0 {
			return fmt.Errorf("%w: price must be positive", ErrValidation)
		}
		if req.TriggerPrice <= 0 {
			return fmt.Errorf("%w: trigger price must be positive", ErrValidation)
		}
	case OrderTypeMarket:
		// 市价单忽略价格入参
		req.Price = 0
		req.TriggerPrice = 0
	default:
		return fmt.Errorf("%w: order type", ErrValidation)
	}
	return nil
}

// =============================================================================
// 撤单
// =============================================================================

// CancelOrder 撤单，返回解冻金额
// open 解冻全部剩余冻结，partial 解冻未成交部分，filled 不可撤
func (s *PlacementService) CancelOrder(ctx context.Context, orderID, userID int64) (int64, error) {
	// 交易对信息 (资产符号) 事务外取好
	peek, err := s.getOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}
	p, err := s.pairs.GetByID(ctx, peek.PairID)
	if err != nil {
		return 0, err
	}

	var (
		released int64
		updated  *wallet.Wallet
		journal  *wallet.JournalEntry
	)
	err = s.wallets.Transaction(ctx, func(tx *wallet.Repo) error {
		// 锁订单行再核对状态，避免与撮合竞争
		var o Order
		err := tx.DB().WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("order_id = ?", orderID).
			First(&o).Error
		if err == gorm.ErrRecordNotFound {
			return ErrOrderNotFound
		}
		if err != nil {
			return err
		}

		if o.UserID != userID {
			return ErrNotOwner
		}
		switch o.Status {
		case StatusFilled:
			return ErrAlreadyFilled
		case StatusCancelled:
			return ErrAlreadyCancelled
		}

		released = o.LockedRemaining
		if released > 0 {
			asset := p.Quote
			if o.Side == SideSell {
				asset = p.Base
			}
			w, e, err := tx.Release(ctx, o.UserID, asset, released,
				wallet.BizTypeOrder, strconv.FormatInt(orderID, 10))
			if err != nil {
				return err
			}
			updated, journal = w, e
		}

		return tx.DB().WithContext(ctx).Model(&Order{}).
			Where("order_id = ?", orderID).
			Updates(map[string]any{
				"status":           StatusCancelled,
				"locked_remaining": 0,
				"updated_at":       nowMilli(),
			}).Error
	})
	if err != nil {
		return 0, err
	}

	s.bus.OrderCancelled(orderID, userID, p.ID)
	s.bus.BalanceChanged(updated)
	s.bus.Journal(journal)
	s.bus.PairDirty(p.ID)

	return released, nil
}

// =============================================================================
// 查询
// =============================================================================

func (s *PlacementService) getOrder(ctx context.Context, orderID int64) (*Order, error) {
	var o Order
	err := s.wallets.DB().WithContext(ctx).
		Where("order_id = ?", orderID).
		First(&o).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// GetOrder 查询订单
func (s *PlacementService) GetOrder(ctx context.Context, orderID int64) (*Order, error) {
	return s.getOrder(ctx, orderID)
}

// GetActiveOrders 查询用户在盘订单
func (s *PlacementService) GetActiveOrders(ctx context.Context, userID int64) ([]*Order, error) {
	var orders []*Order
	err := s.wallets.DB().WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, []OrderStatus{StatusOpen, StatusPartial}).
		Order("created_at DESC").
		Find(&orders).Error
	return orders, err
}
