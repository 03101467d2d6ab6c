package migrate

import (
	"context"
	"database/sql"

	"urbaninfra/internal/logger"
)

// 背景：首次运行自动创建人口表与索引，保障后续导入与查询
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；仅创建最小必需结构
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ward_population (
            id SERIAL PRIMARY KEY,
            name TEXT NOT NULL,
            canonical_key TEXT NOT NULL,
            population BIGINT NOT NULL,
            source TEXT NOT NULL DEFAULT '',
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uniq_ward_population_name ON ward_population(name)`,
		`CREATE INDEX IF NOT EXISTS idx_ward_population_key ON ward_population(canonical_key)`,
	}
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
