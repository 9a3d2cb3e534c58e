// 文件: cmd/engined/main.go
// 交易引擎进程 - 组装全部组件并常驻运行
//
// 数据流:
//   下单/下注  → 事务提交 → NATS 事件 + pair.dirty
//   pair.dirty → 队列订阅 → MatchWorker 串行撮合
//   price.updated → 止损单触发 + 行情缓存
//   cron       → 到期扫描 → 二元期权自动结算
//   流水/结算  → Kafka 下游落仓

package main

import (
	"context"
	"log"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"hbx.com/pkg/audit"
	"hbx.com/pkg/authz"
	"hbx.com/pkg/binary"
	"hbx.com/pkg/config"
	"hbx.com/pkg/ident"
	"hbx.com/pkg/marketdata"
	"hbx.com/pkg/pair"
	"hbx.com/pkg/spot"
	"hbx.com/pkg/stream"
	"hbx.com/pkg/wallet"
)

func main() {
	cfg := config.Load()

	if err := ident.InitSnowflake(cfg.NodeID); err != nil {
		log.Fatalf("[Engined] snowflake init failed: %v", err)
	}

	// ======================== 基础设施 ========================

	db, err := gorm.Open(mysql.Open(cfg.MySQLDSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		log.Fatalf("[Engined] mysql connect failed: %v", err)
	}
	if err := db.AutoMigrate(
		&wallet.Wallet{}, &wallet.JournalEntry{},
		&pair.Pair{},
		&spot.Order{}, &spot.Execution{},
		&binary.Wager{},
		&audit.Entry{},
		&authz.UserRole{},
	); err != nil {
		log.Fatalf("[Engined] migrate failed: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	nc, err := stream.ConnectNats(cfg.NatsURL)
	if err != nil {
		log.Fatalf("[Engined] nats connect failed: %v", err)
	}
	defer nc.Close()

	var kafka *stream.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err = stream.NewKafkaProducer(stream.DefaultKafkaConfig(cfg.KafkaBrokers))
		if err != nil {
			log.Fatalf("[Engined] kafka connect failed: %v", err)
		}
		defer kafka.Close()
	} else {
		log.Println("[Engined] kafka disabled (KAFKA_BROKERS empty)")
	}

	bus := stream.NewBus(nc, kafka)

	// ======================== 领域服务 ========================

	wallets := wallet.NewRepo(db)
	pairs := pair.NewCachedRepository(pair.NewMySQLRepository(db), rdb)
	prices := marketdata.NewRedisProvider(rdb)

	placement := spot.NewPlacementService(wallets, pairs, prices, bus)
	matcher := spot.NewMatchEngine(wallets, pairs, bus)
	worker := spot.NewMatchWorker(matcher)
	settlement := binary.NewSettlementEngine(wallets, prices, bus, cfg.SettleAsset)
	admins := authz.NewService(db, rdb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ======================== 事件订阅 ========================

	worker.Start(ctx)
	defer worker.Stop()

	// pair.dirty 走队列订阅: 多实例部署时同一信号只有一个实例消费，
	// 配合 worker 单 goroutine，同一交易对的撮合全局串行
	err = nc.SubscribeQueue(stream.SubjectPairDirty, "match-engine", func(_ string, data []byte) error {
		ev, err := stream.Decode[stream.PairDirtyEvent](data)
		if err != nil {
			return err
		}
		worker.Notify(ev.PairID)
		return nil
	})
	if err != nil {
		log.Fatalf("[Engined] subscribe pair.dirty failed: %v", err)
	}

	// =================== API 网关投递的请求 ===================

	subscribeQueue(nc, stream.SubjectOrderSubmit, func(data []byte) error {
		req, err := stream.Decode[spot.PlaceOrderRequest](data)
		if err != nil {
			return err
		}
		_, err = placement.PlaceOrder(ctx, *req)
		return err
	})

	subscribeQueue(nc, stream.SubjectOrderCancel, func(data []byte) error {
		type cancelReq struct {
			OrderID int64 `json:"order_id"`
			UserID  int64 `json:"user_id"`
		}
		req, err := stream.Decode[cancelReq](data)
		if err != nil {
			return err
		}
		_, err = placement.CancelOrder(ctx, req.OrderID, req.UserID)
		return err
	})

	subscribeQueue(nc, stream.SubjectWagerSubmit, func(data []byte) error {
		req, err := stream.Decode[binary.PlaceWagerRequest](data)
		if err != nil {
			return err
		}
		_, err = settlement.PlaceWager(ctx, req)
		return err
	})

	// 人工裁定: 先鉴权再结算，结果覆盖价格规则
	subscribeQueue(nc, stream.SubjectWagerRule, func(data []byte) error {
		type ruleReq struct {
			AdminID          int64   `json:"admin_id"`
			WagerID          int64   `json:"wager_id"`
			FinalPrice       int64   `json:"final_price"`
			Outcome          string  `json:"outcome"` // 空串按价格规则判定
			Rationale        string  `json:"rationale"`
			SupportingDocURL *string `json:"supporting_doc_url"`
		}
		req, err := stream.Decode[ruleReq](data)
		if err != nil {
			return err
		}
		if err := admins.RequireAdmin(ctx, req.AdminID); err != nil {
			return err
		}
		outcome, ok := binary.ParseOutcome(req.Outcome)
		if !ok {
			return binary.ErrInvalidWager
		}
		_, err = settlement.Settle(ctx, &binary.SettleRequest{
			WagerID:          req.WagerID,
			FinalPrice:       req.FinalPrice,
			Outcome:          outcome,
			Rationale:        req.Rationale,
			AdminID:          &req.AdminID,
			SupportingDocURL: req.SupportingDocURL,
		})
		return err
	})

	// 最新价: 缓存 + 止损单触发
	err = nc.Subscribe(func(_ string, data []byte) error {
		ev, err := stream.Decode[stream.PriceEvent](data)
		if err != nil {
			return err
		}
		if err := prices.SetLastPrice(ctx, ev.Symbol, ev.Price); err != nil {
			log.Printf("[Engined] price cache failed: symbol=%s, err=%v", ev.Symbol, err)
		}
		p, err := pairs.GetBySymbol(ctx, ev.Symbol)
		if errors.Is(err, pair.ErrPairNotFound) {
			return nil // 纯期权标的，无现货盘
		}
		if err != nil {
			return err
		}
		_, err = matcher.TriggerStops(ctx, p.ID, ev.Price)
		return err
	}, stream.SubjectPriceUpdated)
	if err != nil {
		log.Fatalf("[Engined] subscribe price.updated failed: %v", err)
	}

	// ======================== 到期扫描 ========================

	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.SweepCron, func() {
		if _, err := settlement.SweepExpired(ctx, time.Now().UnixMilli()); err != nil {
			log.Printf("[Engined] sweep failed: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("[Engined] invalid sweep cron %q: %v", cfg.SweepCron, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	log.Printf("[Engined] started: node_id=%d, settle_asset=%s, sweep=%s",
		cfg.NodeID, cfg.SettleAsset, cfg.SweepCron)

	// ======================== 优雅退出 ========================

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("[Engined] shutting down: signal=%v", sig)
}

// subscribeQueue 队列订阅请求类 subject，失败直接退出进程
// 业务错误 (余额不足/重复结算等) 由 NatsConn 记日志，不中断订阅
func subscribeQueue(nc *stream.NatsConn, subject string, handler func(data []byte) error) {
	err := nc.SubscribeQueue(subject, "match-engine", func(_ string, data []byte) error {
		return handler(data)
	})
	if err != nil {
		log.Fatalf("[Engined] subscribe %s failed: %v", subject, err)
	}
}
