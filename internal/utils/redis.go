package utils

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"urbaninfra/internal/logger"
)

// OpenRedis：使用地址与密码打开 Redis 客户端；地址为空返回 nil
func OpenRedis(addr, pass string) *redis.Client {
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: addr, Password: pass})
}

// 文档注释：从环境变量打开 Redis 客户端并 ping
// 背景：分析结果的会话存储可选 Redis；未配置 REDIS_HOST/REDIS_ADDR 时返回 nil，由调用方回退到内存存储
// 约束：REDIS_DB 解析失败时回退到 0；ping 失败时关闭客户端并返回 nil
func OpenRedisFromEnv(ctx context.Context) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		host := os.Getenv("REDIS_HOST")
		if host == "" {
			logger.L().Info("redis_disabled")
			return nil
		}
		port := os.Getenv("REDIS_PORT")
		if port == "" {
			port = "6379"
		}
		addr = host + ":" + port
	}
	db := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, _ := strconv.Atoi(v); n >= 0 {
			db = n
		}
	}
	rc := redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("REDIS_PASS"), DB: db})
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rc.Ping(pctx).Err(); err != nil {
		logger.L().Error("redis_ping_error", "addr", addr, "err", err)
		_ = rc.Close()
		return nil
	}
	logger.L().Info("redis_ping_ok", "addr", addr, "db", db)
	return rc
}
