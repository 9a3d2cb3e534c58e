// 文件: pkg/config/config.go
// 环境变量配置
// 使用开源库: github.com/joho/godotenv
//
// 优先级: 进程环境变量 > .env 文件 > 默认值

package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	MySQLDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	NatsURL      string
	KafkaBrokers []string // 空表示关闭 Kafka 管道

	NodeID      int64  // 雪花算法节点 ID (0-1023)
	SettleAsset string // 二元期权结算币种
	SweepCron   string // 到期扫描调度表达式
}

// Load 加载配置，.env 不存在时静默跳过
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[Config] .env load failed: %v", err)
		}
	}

	return &Config{
		MySQLDSN: getEnv("MYSQL_DSN",
			"root:123456@tcp(127.0.0.1:3306)/hbx?charset=utf8mb4&parseTime=True&loc=Local"),

		RedisAddr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		NatsURL:      getEnv("NATS_URL", "nats://127.0.0.1:4222"),
		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "")),

		NodeID:      int64(getEnvInt("NODE_ID", 0)),
		SettleAsset: getEnv("SETTLE_ASSET", "USDT"),
		SweepCron:   getEnv("SWEEP_CRON", "@every 10s"),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[Config] invalid int for %s=%q, using default %d", key, v, def)
		return def
	}
	return n
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
