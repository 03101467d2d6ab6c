// 包 utils：PostgreSQL / Redis / TLS 连接工具，统一环境变量读取
package utils

import (
	"context"
	"database/sql"
	"os"
	"strconv"
	"time"

	_ "github.com/lib/pq"

	"urbaninfra/internal/logger"
)

// PostgresConfigured：是否显式配置了数据库（PG_HOST 或 PG_DSN）
func PostgresConfigured() bool {
	return os.Getenv("PG_DSN") != "" || os.Getenv("PG_HOST") != ""
}

// BuildPostgresDSNFromEnv：PG_DSN 优先，否则由 PG_* 拼装
func BuildPostgresDSNFromEnv() string {
	if dsn := os.Getenv("PG_DSN"); dsn != "" {
		return dsn
	}
	host := os.Getenv("PG_HOST")
	if host == "" {
		host = "localhost"
	}
	port := os.Getenv("PG_PORT")
	if port == "" {
		port = "5432"
	}
	user := os.Getenv("PG_USER")
	if user == "" {
		user = "postgres"
	}
	pass := os.Getenv("PG_PASSWORD")
	db := os.Getenv("PG_DB")
	if db == "" {
		db = "urbaninfra"
	}
	ssl := os.Getenv("PG_SSLMODE")
	if ssl == "" {
		ssl = "disable"
	}
	dsn := "postgres://" + user
	if pass != "" {
		dsn += ":" + pass
	}
	dsn += "@" + host + ":" + port + "/" + db + "?sslmode=" + ssl
	return dsn
}

// 文档注释：打开连接池并做一次带超时的 ping
// 背景：人口表只在启动时读取一次，连接池不需要很大
// 约束：PG_MAX_OPEN_CONNS / PG_MAX_IDLE_CONNS 解析失败时使用默认 8 / 4
func OpenPostgresFromEnv(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("postgres", BuildPostgresDSNFromEnv())
	if err != nil {
		return nil, err
	}
	maxOpen, maxIdle := 8, 4
	if v := os.Getenv("PG_MAX_OPEN_CONNS"); v != "" {
		if n, e := strconv.Atoi(v); e == nil && n > 0 {
			maxOpen = n
		}
	}
	if v := os.Getenv("PG_MAX_IDLE_CONNS"); v != "" {
		if n, e := strconv.Atoi(v); e == nil && n >= 0 {
			maxIdle = n
		}
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.L().Debug("db_open_ok", "max_open", maxOpen, "max_idle", maxIdle)
	return db, nil
}
